package btree

import (
	"fmt"
	"testing"

	"github.com/EntglDb/blite/document"
	"github.com/EntglDb/blite/storage"
)

func newTestEngine(t *testing.T) *storage.StorageEngine {
	t.Helper()
	e, err := storage.OpenEngineInMemory(storage.DefaultPageSize)
	if err != nil {
		t.Fatalf("open engine: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func loc(page uint32, slot uint16) document.DocumentLocation {
	return document.DocumentLocation{PageID: page, SlotIndex: slot}
}

func TestBTreeInsertAndLookup(t *testing.T) {
	e := newTestEngine(t)
	txn, _ := e.Begin()
	bt, err := New(e, txn)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	if err := bt.Insert(txn, document.EncodeString("alice"), loc(1, 0)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := bt.Insert(txn, document.EncodeString("bob"), loc(1, 1)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	e.Commit(txn)

	txn2, _ := e.Begin()
	got, err := bt.Lookup(txn2, document.EncodeString("alice"))
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if len(got) != 1 || got[0] != loc(1, 0) {
		t.Fatalf("expected [loc(1,0)], got %v", got)
	}

	miss, err := bt.Lookup(txn2, document.EncodeString("carol"))
	if err != nil {
		t.Fatalf("lookup miss: %v", err)
	}
	if len(miss) != 0 {
		t.Fatalf("expected no match for absent key, got %v", miss)
	}
}

func TestBTreeDuplicateKeysAllowed(t *testing.T) {
	e := newTestEngine(t)
	txn, _ := e.Begin()
	bt, _ := New(e, txn)

	key := document.EncodeString("dup")
	bt.Insert(txn, key, loc(1, 0))
	bt.Insert(txn, key, loc(1, 1))
	e.Commit(txn)

	txn2, _ := e.Begin()
	got, err := bt.Lookup(txn2, key)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 locations for shared key, got %d", len(got))
	}
}

func TestBTreeRangeScanOrdering(t *testing.T) {
	e := newTestEngine(t)
	txn, _ := e.Begin()
	bt, _ := New(e, txn)

	words := []string{"mango", "apple", "cherry", "banana", "date"}
	for i, w := range words {
		if err := bt.Insert(txn, document.EncodeString(w), loc(1, uint16(i))); err != nil {
			t.Fatalf("insert %s: %v", w, err)
		}
	}
	e.Commit(txn)

	txn2, _ := e.Begin()
	entries, err := bt.RangeScan(txn2, nil, nil)
	if err != nil {
		t.Fatalf("range scan: %v", err)
	}
	if len(entries) != len(words) {
		t.Fatalf("expected %d entries, got %d", len(words), len(entries))
	}
	for i := 1; i < len(entries); i++ {
		if entries[i-1].Key.Compare(entries[i].Key) > 0 {
			t.Fatalf("entries out of order at %d: %v then %v", i, entries[i-1].Key, entries[i].Key)
		}
	}
}

func TestBTreeRangeScanBounds(t *testing.T) {
	e := newTestEngine(t)
	txn, _ := e.Begin()
	bt, _ := New(e, txn)

	for i := 0; i < 10; i++ {
		bt.Insert(txn, document.EncodeInt64(int64(i)), loc(1, uint16(i)))
	}
	e.Commit(txn)

	txn2, _ := e.Begin()
	entries, err := bt.RangeScan(txn2, document.EncodeInt64(3), document.EncodeInt64(6))
	if err != nil {
		t.Fatalf("range scan: %v", err)
	}
	if len(entries) != 4 {
		t.Fatalf("expected 4 entries in [3,6], got %d", len(entries))
	}
}

func TestBTreeSplitsAcrossManyInserts(t *testing.T) {
	e := newTestEngine(t)
	txn, _ := e.Begin()
	bt, _ := New(e, txn)

	const n = 500
	for i := 0; i < n; i++ {
		key := document.EncodeString(fmt.Sprintf("key-%05d", i))
		if err := bt.Insert(txn, key, loc(uint32(i/100)+1, uint16(i%100))); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}
	e.Commit(txn)

	txn2, _ := e.Begin()
	entries, err := bt.RangeScan(txn2, nil, nil)
	if err != nil {
		t.Fatalf("range scan: %v", err)
	}
	if len(entries) != n {
		t.Fatalf("expected %d entries after splits, got %d", n, len(entries))
	}
	for i := 1; i < len(entries); i++ {
		if entries[i-1].Key.Compare(entries[i].Key) >= 0 {
			t.Fatalf("entries not strictly increasing at %d", i)
		}
	}

	got, err := bt.Lookup(txn2, document.EncodeString("key-00250"))
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected to find key-00250 after many splits, got %v", got)
	}
}

func TestBTreeRemove(t *testing.T) {
	e := newTestEngine(t)
	txn, _ := e.Begin()
	bt, _ := New(e, txn)

	key := document.EncodeString("removeme")
	bt.Insert(txn, key, loc(1, 0))
	e.Commit(txn)

	txn2, _ := e.Begin()
	if err := bt.Remove(txn2, key, loc(1, 0)); err != nil {
		t.Fatalf("remove: %v", err)
	}
	e.Commit(txn2)

	txn3, _ := e.Begin()
	got, err := bt.Lookup(txn3, key)
	if err != nil {
		t.Fatalf("lookup after remove: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no match after remove, got %v", got)
	}
}

func TestBTreeOpenReattachesToExistingRoot(t *testing.T) {
	e := newTestEngine(t)
	txn, _ := e.Begin()
	bt, _ := New(e, txn)
	bt.Insert(txn, document.EncodeString("persisted"), loc(2, 3))
	e.Commit(txn)

	reattached := Open(e, bt.RootPageID)
	txn2, _ := e.Begin()
	got, err := reattached.Lookup(txn2, document.EncodeString("persisted"))
	if err != nil {
		t.Fatalf("lookup via reattached tree: %v", err)
	}
	if len(got) != 1 || got[0] != loc(2, 3) {
		t.Fatalf("expected [loc(2,3)], got %v", got)
	}
}
