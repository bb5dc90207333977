package storage

import (
	"errors"
	"path/filepath"
	"testing"
)

func tempPageFilePath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "test.blite")
}

func TestPageFileCreateAndReopen(t *testing.T) {
	path := tempPageFilePath(t)

	pf, err := Open(path, DefaultPageSize)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if pf.PageSize() != DefaultPageSize {
		t.Errorf("expected page size %d, got %d", DefaultPageSize, pf.PageSize())
	}
	if pf.PageCount() != 1 {
		t.Errorf("expected 1 page (header) on create, got %d", pf.PageCount())
	}
	if err := pf.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	pf2, err := Open(path, 0)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer pf2.Close()
	if pf2.PageSize() != DefaultPageSize {
		t.Errorf("expected reloaded page size %d, got %d", DefaultPageSize, pf2.PageSize())
	}
}

func TestPageFileRejectsBadPageSize(t *testing.T) {
	path := tempPageFilePath(t)
	if _, err := Open(path, 100); err == nil {
		t.Error("expected non-power-of-two page size to be rejected")
	}
}

func TestPageFileReopenRejectsMismatchedPageSize(t *testing.T) {
	path := tempPageFilePath(t)

	pf, err := Open(path, DefaultPageSize)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := pf.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if _, err := Open(path, DefaultPageSize*2); !errors.Is(err, ErrPageSizeMismatch) {
		t.Fatalf("expected ErrPageSizeMismatch, got %v", err)
	}

	// A zero page size means "whatever the file already has" and must
	// still open cleanly.
	pf2, err := Open(path, 0)
	if err != nil {
		t.Fatalf("reopen with unspecified page size: %v", err)
	}
	defer pf2.Close()
	if pf2.PageSize() != DefaultPageSize {
		t.Errorf("expected the file's own page size %d, got %d", DefaultPageSize, pf2.PageSize())
	}
}

func TestPageFileAllocateWriteRead(t *testing.T) {
	pf, err := OpenMemory(DefaultPageSize)
	if err != nil {
		t.Fatalf("open memory: %v", err)
	}
	defer pf.Close()

	p, err := pf.AllocatePage(PageTypeData)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	slot, ok := p.Insert([]byte("payload"), 0)
	if !ok {
		t.Fatal("insert failed")
	}
	if err := pf.WritePage(p); err != nil {
		t.Fatalf("write: %v", err)
	}

	reread, err := pf.ReadPage(p.PageID())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	data, _, ok := reread.Read(slot)
	if !ok || string(data) != "payload" {
		t.Fatalf("expected 'payload', got %q", data)
	}
}

func TestPageFileFreeListReuse(t *testing.T) {
	pf, err := OpenMemory(DefaultPageSize)
	if err != nil {
		t.Fatalf("open memory: %v", err)
	}
	defer pf.Close()

	p1, _ := pf.AllocatePage(PageTypeData)
	id1 := p1.PageID()
	if err := pf.FreePage(id1); err != nil {
		t.Fatalf("free: %v", err)
	}

	countBefore := pf.PageCount()
	p2, err := pf.AllocatePage(PageTypeData)
	if err != nil {
		t.Fatalf("reallocate: %v", err)
	}
	if p2.PageID() != id1 {
		t.Errorf("expected freed page %d to be reused, got %d", id1, p2.PageID())
	}
	if pf.PageCount() != countBefore {
		t.Errorf("reusing a freed page must not grow page count")
	}
}

func TestPageFileReadOnlyRejectsWrites(t *testing.T) {
	path := tempPageFilePath(t)
	pf, err := Open(path, DefaultPageSize)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	pf.Close()

	ro, err := OpenReadOnly(path)
	if err != nil {
		t.Fatalf("open read-only: %v", err)
	}
	defer ro.Close()

	if _, err := ro.AllocatePage(PageTypeData); err != ErrReadOnly {
		t.Errorf("expected ErrReadOnly, got %v", err)
	}
}

func TestPageFileCatalogRootPersists(t *testing.T) {
	path := tempPageFilePath(t)
	pf, err := Open(path, DefaultPageSize)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := pf.SetCatalogRoot(42); err != nil {
		t.Fatalf("set catalog root: %v", err)
	}
	pf.Close()

	pf2, err := Open(path, 0)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer pf2.Close()
	if pf2.CatalogRoot() != 42 {
		t.Errorf("expected catalog root 42, got %d", pf2.CatalogRoot())
	}
}
