package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync"
)

// fileHeaderSize is the fixed 32-byte page-0 header (spec §6):
//
//	[0:4]   magic ("BLIT")
//	[4:8]   version uint32
//	[8:12]  page_size uint32
//	[12:16] page_count uint32
//	[16:20] free_list_head uint32 (0 = empty)
//	[20:24] catalog_root_page uint32
//	[24:32] reserved
const fileHeaderSize = 32

var fileMagic = [4]byte{'B', 'L', 'I', 'T'}

const fileFormatVersion = 1

// ErrReadOnly is returned when a write is attempted against a read-only PageFile.
var ErrReadOnly = errors.New("storage: database is read-only")

// ErrPageSizeMismatch is returned by Open when the caller-supplied page
// size disagrees with the page size already recorded in an existing
// file's header (spec §4.1: "Open on an existing file requires
// page_size to match the header"). blite.Open translates it into
// ErrSchemaMismatch.
var ErrPageSizeMismatch = errors.New("storage: page size does not match file header")

// DefaultPageSize matches the teacher's fixed page size; BLite allows any
// power of two between 4 KiB and 64 KiB (spec §3).
const DefaultPageSize = 4096

// MinPageSize and MaxPageSize bound the configurable page size (spec §3).
const (
	MinPageSize = 4 * 1024
	MaxPageSize = 64 * 1024
)

// PageFile owns the single on-disk paged file: header, page I/O, geometric
// growth and free-page reuse. It has no notion of collections or
// transactions — those live one level up in StorageEngine/BufferManager.
type PageFile struct {
	mu   sync.RWMutex
	file StorageFile
	path string
	lock *fileLock

	pageSize      uint32
	pageCount     uint32
	freeListHead  uint32
	catalogRoot   uint32
	readOnly      bool

	cache *lruCache
}

// Open opens or creates a page file on disk at path, with an OS-level
// advisory lock to fail fast against accidental multi-process access
// (storage is explicitly single-process; see filelock_*.go).
func Open(path string, pageSize uint32) (*PageFile, error) {
	return open(path, pageSize, false)
}

// OpenReadOnly opens an existing page file, rejecting all writes.
func OpenReadOnly(path string) (*PageFile, error) {
	return open(path, 0, true)
}

func open(path string, pageSize uint32, readOnly bool) (*PageFile, error) {
	lock, err := lockFile(path)
	if err != nil {
		return nil, err
	}

	flags := os.O_RDWR | os.O_CREATE
	if readOnly {
		flags = os.O_RDONLY
	}
	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		lock.unlock()
		return nil, fmt.Errorf("storage: cannot open file: %w", err)
	}

	pf, err := openOn(f, path, pageSize, readOnly)
	if err != nil {
		f.Close()
		lock.unlock()
		return nil, err
	}
	pf.lock = lock
	return pf, nil
}

// OpenMemory creates an entirely in-memory PageFile — no lock, no
// WAL sibling file, used for ":memory:" engines and unit tests.
func OpenMemory(pageSize uint32) (*PageFile, error) {
	return openOn(NewMemFile(), ":memory:", pageSize, false)
}

func openOn(file StorageFile, path string, pageSize uint32, readOnly bool) (*PageFile, error) {
	pf := &PageFile{
		file:     file,
		path:     path,
		readOnly: readOnly,
		cache:    newLRUCache(1024),
	}

	info, err := file.Stat()
	if err != nil {
		return nil, err
	}

	if info.Size() == 0 {
		if readOnly {
			return nil, errors.New("storage: cannot create database in read-only mode")
		}
		if pageSize == 0 {
			pageSize = DefaultPageSize
		}
		if pageSize < MinPageSize || pageSize > MaxPageSize || pageSize&(pageSize-1) != 0 {
			return nil, fmt.Errorf("storage: page size %d must be a power of two between %d and %d", pageSize, MinPageSize, MaxPageSize)
		}
		pf.pageSize = pageSize
		pf.pageCount = 1 // page 0 is the header/meta page
		if err := pf.flushHeader(); err != nil {
			return nil, err
		}
	} else {
		if err := pf.loadHeader(); err != nil {
			return nil, err
		}
		if pageSize != 0 && pageSize != pf.pageSize {
			return nil, fmt.Errorf("storage: %w: file has page_size=%d, got %d", ErrPageSizeMismatch, pf.pageSize, pageSize)
		}
	}
	return pf, nil
}

// Close flushes the header and closes the backing file, releasing the
// advisory lock if one was taken.
func (pf *PageFile) Close() error {
	pf.mu.Lock()
	defer pf.mu.Unlock()
	if !pf.readOnly {
		if err := pf.flushHeader(); err != nil {
			return err
		}
		if err := pf.file.Sync(); err != nil {
			return err
		}
	}
	err := pf.file.Close()
	if pf.lock != nil {
		pf.lock.unlock()
	}
	return err
}

// PageSize returns the configured page size.
func (pf *PageFile) PageSize() uint32 {
	pf.mu.RLock()
	defer pf.mu.RUnlock()
	return pf.pageSize
}

// PageCount returns the total number of pages, including page 0.
func (pf *PageFile) PageCount() uint32 {
	pf.mu.RLock()
	defer pf.mu.RUnlock()
	return pf.pageCount
}

// CatalogRoot returns the page id of the collection/index catalog page,
// or 0 if it has not been allocated yet.
func (pf *PageFile) CatalogRoot() uint32 {
	pf.mu.RLock()
	defer pf.mu.RUnlock()
	return pf.catalogRoot
}

// SetCatalogRoot persists the catalog's root page id into the file header.
func (pf *PageFile) SetCatalogRoot(pageID uint32) error {
	pf.mu.Lock()
	defer pf.mu.Unlock()
	pf.catalogRoot = pageID
	return pf.flushHeader()
}

func (pf *PageFile) IsReadOnly() bool { return pf.readOnly }

// ReadPage reads a page by id, through the LRU cache.
func (pf *PageFile) ReadPage(id uint32) (*Page, error) {
	pf.mu.RLock()
	defer pf.mu.RUnlock()
	return pf.readPageLocked(id)
}

func (pf *PageFile) readPageLocked(id uint32) (*Page, error) {
	if id >= pf.pageCount {
		return nil, fmt.Errorf("storage: page %d out of range (total=%d)", id, pf.pageCount)
	}
	if data, ok := pf.cache.get(id); ok {
		return WrapPage(data), nil
	}
	buf := make([]byte, pf.pageSize)
	if _, err := pf.file.ReadAt(buf, int64(id)*int64(pf.pageSize)); err != nil {
		return nil, fmt.Errorf("storage: read page %d: %w", id, err)
	}
	pf.cache.put(id, buf)
	return WrapPage(buf), nil
}

// WritePage persists a page's current bytes at its own page id.
func (pf *PageFile) WritePage(p *Page) error {
	if pf.readOnly {
		return ErrReadOnly
	}
	pf.mu.Lock()
	defer pf.mu.Unlock()
	return pf.writePageLocked(p)
}

func (pf *PageFile) writePageLocked(p *Page) error {
	id := p.PageID()
	if id >= pf.pageCount {
		return fmt.Errorf("storage: page %d out of range (total=%d)", id, pf.pageCount)
	}
	if _, err := pf.file.WriteAt(p.Data, int64(id)*int64(pf.pageSize)); err != nil {
		return err
	}
	pf.cache.put(id, p.Data)
	return nil
}

// AllocatePage reuses a page from the free list if one exists (spec §4.6),
// else grows the file by one page, geometrically extending the backing
// store ahead of need when the file is small.
func (pf *PageFile) AllocatePage(ptype PageType) (*Page, error) {
	if pf.readOnly {
		return nil, ErrReadOnly
	}
	pf.mu.Lock()
	defer pf.mu.Unlock()

	if pf.freeListHead != 0 {
		id := pf.freeListHead
		reused, err := pf.readPageLocked(id)
		if err != nil {
			return nil, err
		}
		pf.freeListHead = reused.NextOverflowPage()
		page := NewPage(pf.pageSize, id, ptype)
		if err := pf.writePageLocked(page); err != nil {
			return nil, err
		}
		if err := pf.flushHeader(); err != nil {
			return nil, err
		}
		return page, nil
	}

	id := pf.pageCount
	pf.pageCount++
	if err := pf.growTo(int64(pf.pageCount) * int64(pf.pageSize)); err != nil {
		pf.pageCount--
		return nil, err
	}
	page := NewPage(pf.pageSize, id, ptype)
	if err := pf.writePageLocked(page); err != nil {
		pf.pageCount--
		return nil, err
	}
	if err := pf.flushHeader(); err != nil {
		return nil, err
	}
	return page, nil
}

// growTo geometrically extends the backing store when it needs to grow
// past its current allocated size, halving the number of future grow
// calls for append-heavy workloads.
func (pf *PageFile) growTo(minSize int64) error {
	info, err := pf.file.Stat()
	if err != nil {
		return err
	}
	if info.Size() >= minSize {
		return nil
	}
	target := info.Size() * 2
	if target < minSize {
		target = minSize
	}
	return pf.file.Truncate(target)
}

// FreePage links a page onto the free list for reuse by a later
// AllocatePage (spec §4.6); the page's own NextOverflowPage field is
// repurposed as the free-list "next" pointer while it's on the list.
func (pf *PageFile) FreePage(id uint32) error {
	if pf.readOnly {
		return ErrReadOnly
	}
	pf.mu.Lock()
	defer pf.mu.Unlock()

	page, err := pf.readPageLocked(id)
	if err != nil {
		return err
	}
	page.SetPageType(PageTypeFree)
	page.SetNextOverflowPage(pf.freeListHead)
	if err := pf.writePageLocked(page); err != nil {
		return err
	}
	pf.freeListHead = id
	return pf.flushHeader()
}

// Sync fsyncs the backing file.
func (pf *PageFile) Sync() error {
	pf.mu.Lock()
	defer pf.mu.Unlock()
	return pf.file.Sync()
}

// InvalidateCache drops every cached page, forcing subsequent reads to hit
// disk — used after recovery writes replayed pages to the file.
func (pf *PageFile) InvalidateCache() {
	pf.cache.clear()
}

// CacheStats reports cumulative LRU hit/miss counters.
func (pf *PageFile) CacheStats() (hits, misses uint64, size, capacity int) {
	return pf.cache.stats()
}

func (pf *PageFile) flushHeader() error {
	var hdr [fileHeaderSize]byte
	copy(hdr[0:4], fileMagic[:])
	binary.LittleEndian.PutUint32(hdr[4:8], fileFormatVersion)
	binary.LittleEndian.PutUint32(hdr[8:12], pf.pageSize)
	binary.LittleEndian.PutUint32(hdr[12:16], pf.pageCount)
	binary.LittleEndian.PutUint32(hdr[16:20], pf.freeListHead)
	binary.LittleEndian.PutUint32(hdr[20:24], pf.catalogRoot)
	_, err := pf.file.WriteAt(hdr[:], 0)
	return err
}

func (pf *PageFile) loadHeader() error {
	var hdr [fileHeaderSize]byte
	if _, err := pf.file.ReadAt(hdr[:], 0); err != nil {
		return fmt.Errorf("storage: read file header: %w", err)
	}
	if hdr[0] != fileMagic[0] || hdr[1] != fileMagic[1] || hdr[2] != fileMagic[2] || hdr[3] != fileMagic[3] {
		return errors.New("storage: invalid file magic")
	}
	version := binary.LittleEndian.Uint32(hdr[4:8])
	if version != fileFormatVersion {
		return fmt.Errorf("storage: unsupported file version %d", version)
	}
	pf.pageSize = binary.LittleEndian.Uint32(hdr[8:12])
	pf.pageCount = binary.LittleEndian.Uint32(hdr[12:16])
	pf.freeListHead = binary.LittleEndian.Uint32(hdr[16:20])
	pf.catalogRoot = binary.LittleEndian.Uint32(hdr[20:24])
	return nil
}
