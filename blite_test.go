package blite

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/EntglDb/blite/document"
	"github.com/EntglDb/blite/mapper"
	"github.com/EntglDb/blite/storage"
)

func newDoc(fields map[string]interface{}) *document.Document {
	d := document.New()
	for k, v := range fields {
		d.Set(k, v)
	}
	return d
}

func TestOpenMemoryCreatesCollectionAndListsIt(t *testing.T) {
	e, err := OpenMemory(Config{})
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer e.Close()

	txnID, err := e.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	col, err := OpenCollection[*document.Document](e, txnID, "people", mapper.DocumentMapper{})
	if err != nil {
		t.Fatalf("OpenCollection: %v", err)
	}
	if _, err := col.Insert(txnID, newDoc(map[string]interface{}{"name": "ann"})); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	SaveCollection(e, col)
	if err := e.Commit(txnID); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if !e.HasCollection("people") {
		t.Fatal("expected people to be registered")
	}
	names := e.Collections()
	if len(names) != 1 || names[0] != "people" {
		t.Fatalf("got %v", names)
	}
}

func TestEngineRoundTripsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.blite")

	e, err := Open(path, Config{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	txnID, err := e.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	col, err := OpenCollection[*document.Document](e, txnID, "people", mapper.DocumentMapper{})
	if err != nil {
		t.Fatalf("OpenCollection: %v", err)
	}
	id, err := col.Insert(txnID, newDoc(map[string]interface{}{"name": "ann"}))
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	SaveCollection(e, col)
	if err := e.Commit(txnID); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := e.Checkpoint(); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	e2, err := Open(path, Config{})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer e2.Close()

	if !e2.HasCollection("people") {
		t.Fatal("expected people to survive reopen")
	}

	txnID2, err := e2.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	col2, err := OpenCollection[*document.Document](e2, txnID2, "people", mapper.DocumentMapper{})
	if err != nil {
		t.Fatalf("OpenCollection: %v", err)
	}
	found, ok, err := col2.FindByID(txnID2, id)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if !ok {
		t.Fatal("expected the document to survive reopen")
	}
	name, _ := found.Get("name")
	if name != "ann" {
		t.Fatalf("got name %v", name)
	}
	e2.Rollback(txnID2)
}

func TestDropCollectionRemovesIt(t *testing.T) {
	e, err := OpenMemory(Config{})
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer e.Close()

	txnID, err := e.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	col, err := OpenCollection[*document.Document](e, txnID, "people", mapper.DocumentMapper{})
	if err != nil {
		t.Fatalf("OpenCollection: %v", err)
	}
	SaveCollection(e, col)
	if err := e.Commit(txnID); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if err := e.DropCollection("people"); err != nil {
		t.Fatalf("DropCollection: %v", err)
	}
	if e.HasCollection("people") {
		t.Fatal("expected people to be gone")
	}
	if err := e.DropCollection("people"); err == nil {
		t.Fatal("expected an error dropping an already-dropped collection")
	}
}

func TestOpenRejectsMismatchedPageSizeOnReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.blite")

	e, err := Open(path, Config{PageSize: storage.DefaultPageSize})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	_, err = Open(path, Config{PageSize: storage.DefaultPageSize * 2})
	if !errors.Is(err, ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
}

func TestStatsHitRateWithNoLookups(t *testing.T) {
	e, err := OpenMemory(Config{})
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer e.Close()

	stats := e.Stats()
	if stats.HitRate() != 0 {
		t.Fatalf("expected a zero hit rate with no lookups, got %v", stats.HitRate())
	}
}
