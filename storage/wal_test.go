package storage

import (
	"os"
	"path/filepath"
	"testing"
)

func tempWALDBPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "test.blite")
}

func TestWALCreateAndClose(t *testing.T) {
	dbPath := tempWALDBPath(t)
	walPath := dbPath + ".wal"

	wal, err := OpenWALFile(dbPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if wal.RecordCount() != 0 {
		t.Errorf("expected 0 records, got %d", wal.RecordCount())
	}
	if err := wal.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := os.Stat(walPath); os.IsNotExist(err) {
		t.Error("WAL file should exist")
	}
}

func TestWALCommittedWritesSurviveReload(t *testing.T) {
	dbPath := tempWALDBPath(t)

	wal, err := OpenWALFile(dbPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	pageData := make([]byte, DefaultPageSize)
	copy(pageData[0:5], []byte("HELLO"))

	if _, err := wal.Begin(1); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := wal.Write(1, 1, pageData); err != nil {
		t.Fatalf("write 1: %v", err)
	}
	if _, err := wal.Write(1, 2, pageData); err != nil {
		t.Fatalf("write 2: %v", err)
	}
	if err := wal.Commit(1); err != nil {
		t.Fatalf("commit: %v", err)
	}
	wal.Close()

	wal2, err := OpenWALFile(dbPath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer wal2.Close()

	committed := wal2.CommittedPageWrites()
	if len(committed) != 2 {
		t.Fatalf("expected 2 committed page writes, got %d", len(committed))
	}
	if committed[0].PageID != 1 || committed[1].PageID != 2 {
		t.Errorf("unexpected page ids: %d, %d", committed[0].PageID, committed[1].PageID)
	}
	if string(committed[0].Data[0:5]) != "HELLO" {
		t.Errorf("expected HELLO, got %s", committed[0].Data[0:5])
	}
}

func TestWALUncommittedWritesIgnored(t *testing.T) {
	dbPath := tempWALDBPath(t)
	wal, err := OpenWALFile(dbPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	pageData := make([]byte, DefaultPageSize)
	wal.Begin(1)
	wal.Write(1, 1, pageData)
	wal.Write(1, 2, pageData)

	if committed := wal.CommittedPageWrites(); len(committed) != 0 {
		t.Errorf("expected 0 committed writes, got %d", len(committed))
	}
	wal.Close()

	wal2, err := OpenWALFile(dbPath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer wal2.Close()
	if committed := wal2.CommittedPageWrites(); len(committed) != 0 {
		t.Errorf("expected 0 committed writes after reload, got %d", len(committed))
	}
}

func TestWALAbortDiscardsWrites(t *testing.T) {
	dbPath := tempWALDBPath(t)
	wal, err := OpenWALFile(dbPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer wal.Close()

	pageData := make([]byte, DefaultPageSize)
	wal.Begin(1)
	wal.Write(1, 1, pageData)
	if err := wal.Abort(1); err != nil {
		t.Fatalf("abort: %v", err)
	}

	if committed := wal.CommittedPageWrites(); len(committed) != 0 {
		t.Errorf("expected 0 committed writes after abort, got %d", len(committed))
	}
}

func TestWALTruncate(t *testing.T) {
	dbPath := tempWALDBPath(t)
	wal, err := OpenWALFile(dbPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer wal.Close()

	pageData := make([]byte, DefaultPageSize)
	wal.Begin(1)
	wal.Write(1, 1, pageData)
	wal.Commit(1)

	if wal.RecordCount() != 3 {
		t.Errorf("expected 3 records, got %d", wal.RecordCount())
	}
	if err := wal.Truncate(); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	if wal.RecordCount() != 0 {
		t.Errorf("expected 0 records after truncate, got %d", wal.RecordCount())
	}

	wal.Begin(2)
	wal.Write(2, 5, pageData)
	wal.Commit(2)
	if wal.RecordCount() != 3 {
		t.Errorf("expected 3 records after new transaction, got %d", wal.RecordCount())
	}
}

func TestWALCorruptRecordStopsReplay(t *testing.T) {
	dbPath := tempWALDBPath(t)
	wal, err := OpenWALFile(dbPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	pageData := make([]byte, DefaultPageSize)
	copy(pageData[0:4], []byte("TEST"))
	wal.Begin(1)
	wal.Write(1, 1, pageData)
	wal.Commit(1)
	wal.Close()

	walPath := dbPath + ".wal"
	f, err := os.OpenFile(walPath, os.O_RDWR, 0644)
	if err != nil {
		t.Fatalf("open wal file: %v", err)
	}
	corruptOffset := int64(walHeaderSize + walRecordHeaderSize + 10)
	f.WriteAt([]byte{0xFF}, corruptOffset)
	f.Close()

	wal2, err := OpenWALFile(dbPath)
	if err != nil {
		t.Fatalf("reopen after corruption: %v", err)
	}
	defer wal2.Close()

	if wal2.RecordCount() != 1 {
		t.Errorf("expected 1 record after corruption (the Begin record before the corrupted Write survives), got %d", wal2.RecordCount())
	}
}

func TestWALMultipleTransactionsInterleave(t *testing.T) {
	dbPath := tempWALDBPath(t)
	wal, err := OpenWALFile(dbPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer wal.Close()

	pageData := make([]byte, DefaultPageSize)

	wal.Begin(1)
	wal.Write(1, 1, pageData)
	wal.Commit(1)

	wal.Begin(2)
	wal.Write(2, 1, pageData)
	wal.Write(2, 2, pageData)
	wal.Commit(2)

	wal.Begin(3)
	wal.Write(3, 3, pageData)
	// txn 3 left uncommitted

	committed := wal.CommittedPageWrites()
	if len(committed) != 3 {
		t.Fatalf("expected 3 committed writes, got %d", len(committed))
	}
	for _, c := range committed {
		if c.PageID == 3 {
			t.Error("page 3 belongs to an uncommitted transaction and must be excluded")
		}
	}
}
