package storage

import (
	"fmt"
	"sync"
)

// StorageEngine is the façade combining PageFile, WAL and
// BufferManager into the transaction state machine the rest of BLite
// builds on (spec §4): Begin/AllocatePage/ReadPage/WritePage/Commit/
// Rollback, plus Checkpoint and crash Recover.
//
// Writes are staged per-transaction in the BufferManager and logged to
// the WAL as they happen. Commit fsyncs the WAL commit record and moves
// the transaction's pages into the BufferManager's committed tier —
// the PageFile itself is untouched until Checkpoint (or engine
// teardown) drains that tier. This is what makes Recover necessary: a
// crash after the WAL commit fsync but before the next checkpoint must
// replay the committed writes from the log.
type StorageEngine struct {
	pf  *PageFile
	wal *WAL
	buf *BufferManager

	mu        sync.Mutex
	nextTxnID uint64
}

// OpenEngine opens (or creates) a durable, on-disk storage engine.
func OpenEngine(path string, pageSize uint32) (*StorageEngine, error) {
	pf, err := Open(path, pageSize)
	if err != nil {
		return nil, err
	}
	wal, err := OpenWALFile(path)
	if err != nil {
		pf.Close()
		return nil, err
	}
	e := &StorageEngine{pf: pf, wal: wal, buf: NewBufferManager()}
	if err := e.recover(); err != nil {
		wal.Close()
		pf.Close()
		return nil, err
	}
	return e, nil
}

// OpenEngineInMemory opens a storage engine with no backing file and no
// WAL sibling file — used for ":memory:" engines and unit tests (spec
// §1.1 engine modes).
func OpenEngineInMemory(pageSize uint32) (*StorageEngine, error) {
	pf, err := OpenMemory(pageSize)
	if err != nil {
		return nil, err
	}
	walFile := NewMemFile()
	wal, err := OpenWAL(walFile, ":memory:.wal")
	if err != nil {
		return nil, err
	}
	return &StorageEngine{pf: pf, wal: wal, buf: NewBufferManager()}, nil
}

// OpenEngineReadOnly opens an existing page file for reads only; the
// PageFile itself rejects any write (ErrReadOnly). No WAL replay is
// attempted, mirroring the teacher's OpenPagerReadOnly: a read-only open
// assumes the file was already cleanly checkpointed by its writer.
func OpenEngineReadOnly(path string) (*StorageEngine, error) {
	pf, err := OpenReadOnly(path)
	if err != nil {
		return nil, err
	}
	wal, err := OpenWALFile(path)
	if err != nil {
		pf.Close()
		return nil, err
	}
	return &StorageEngine{pf: pf, wal: wal, buf: NewBufferManager()}, nil
}

// Close checkpoints the committed buffer (spec §2: "checkpoint of
// committed buffer on engine close" is part of scoped-resource teardown)
// and closes the WAL and page file.
func (e *StorageEngine) Close() error {
	e.mu.Lock()
	err := e.flushCommitted()
	e.mu.Unlock()
	if err != nil {
		return err
	}
	if err := e.wal.Close(); err != nil {
		return err
	}
	return e.pf.Close()
}

// PageSize returns the engine's configured page size.
func (e *StorageEngine) PageSize() uint32 { return e.pf.PageSize() }

// Begin starts a new transaction and returns its id.
func (e *StorageEngine) Begin() (uint64, error) {
	e.mu.Lock()
	e.nextTxnID++
	txnID := e.nextTxnID
	e.mu.Unlock()

	if _, err := e.wal.Begin(txnID); err != nil {
		return 0, err
	}
	e.buf.Begin(txnID)
	return txnID, nil
}

// ReadPage returns txnID's own staged version of a page if it wrote one
// (read-your-own-writes), else the committed-but-not-yet-checkpointed
// version if one exists, else the last checkpointed version on disk —
// BLite's read-committed snapshot (spec §4.3/§5, no true multi-version
// chains).
func (e *StorageEngine) ReadPage(txnID uint64, pageID uint32) (*Page, error) {
	if p, ok := e.buf.Read(txnID, pageID); ok {
		return p, nil
	}
	if p, ok := e.buf.ReadCommitted(pageID); ok {
		return p, nil
	}
	return e.pf.ReadPage(pageID)
}

// AllocatePage grabs a fresh page (reused from the free list or grown),
// stamps it with txnID, stages it for commit, and logs it to the WAL.
func (e *StorageEngine) AllocatePage(txnID uint64, ptype PageType) (*Page, error) {
	p, err := e.pf.AllocatePage(ptype)
	if err != nil {
		return nil, err
	}
	p.SetTxnID(txnID)
	e.buf.Stage(txnID, p, true)
	if _, err := e.wal.Write(txnID, p.PageID(), p.Data); err != nil {
		return nil, err
	}
	return p, nil
}

// FreePage links pageID onto the page file's free list for reuse by a
// later AllocatePage. Unlike WritePage it is not staged behind txnID: a
// freed page is immediately available to any future allocator, matching
// the page file's single free-list-head bookkeeping.
func (e *StorageEngine) FreePage(txnID uint64, pageID uint32) error {
	return e.pf.FreePage(pageID)
}

// WritePage stages a page modification under txnID and logs its
// after-image to the WAL; the change is not visible to other
// transactions until Commit.
func (e *StorageEngine) WritePage(txnID uint64, p *Page) error {
	p.SetTxnID(txnID)
	e.buf.Stage(txnID, p, false)
	_, err := e.wal.Write(txnID, p.PageID(), p.Data)
	return err
}

// Commit durably records the transaction (WAL fsync) and then moves its
// staged pages into the committed-but-not-yet-checkpointed buffer tier.
// The page file is *not* touched on commit (spec §4.4) — only Checkpoint
// (or engine teardown) writes committed pages through to disk. Commit
// takes e.mu so that a concurrent Checkpoint (spec §4.4: "runs under a
// dedicated lock that excludes concurrent commits") can't drain
// committedPages mid-commit and lose a page this commit is about to add.
func (e *StorageEngine) Commit(txnID uint64) error {
	if err := e.wal.Commit(txnID); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.buf.CommitTxn(txnID)
	return nil
}

// Rollback discards a transaction's staged writes and frees any pages it
// allocated, without ever having touched the page file.
func (e *StorageEngine) Rollback(txnID uint64) error {
	for _, id := range e.buf.NewPageIDs(txnID) {
		if err := e.pf.FreePage(id); err != nil {
			return err
		}
	}
	if err := e.wal.Abort(txnID); err != nil {
		return err
	}
	e.buf.Clear(txnID)
	return nil
}

// Checkpoint writes every committed-but-not-yet-checkpointed page to the
// page file, fsyncs it, clears the committed buffer, and truncates the
// WAL (spec §4.4) — runs under e.mu so it excludes concurrent commits.
func (e *StorageEngine) Checkpoint() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.flushCommitted()
}

// flushCommitted drains BufferManager's committed-pages tier into the
// PageFile and truncates the WAL. Shared by Checkpoint and Close, both
// of which must persist committed writes before the in-memory buffer
// that held them goes away.
func (e *StorageEngine) flushCommitted() error {
	for _, p := range e.buf.CommittedPages() {
		if err := e.pf.WritePage(p); err != nil {
			return fmt.Errorf("storage: checkpoint apply page %d: %w", p.PageID(), err)
		}
	}
	if err := e.pf.Sync(); err != nil {
		return err
	}
	for _, p := range e.buf.CommittedPages() {
		e.buf.ClearCommittedPage(p.PageID())
	}
	return e.wal.Truncate()
}

// recover replays any WAL-committed writes that were not yet applied to
// the page file when the engine last closed (a crash after a WAL commit
// fsync but before the next Checkpoint or Close wrote those pages).
func (e *StorageEngine) recover() error {
	records := e.wal.CommittedPageWrites()
	if len(records) == 0 {
		return nil
	}
	for _, rec := range records {
		p := WrapPage(rec.Data)
		if err := e.pf.WritePage(p); err != nil {
			return fmt.Errorf("storage: recovery apply page %d: %w", rec.PageID, err)
		}
	}
	e.pf.InvalidateCache()
	if err := e.pf.Sync(); err != nil {
		return err
	}
	return e.wal.Truncate()
}

// CacheStats exposes the page cache's cumulative hit/miss counters.
func (e *StorageEngine) CacheStats() (hits, misses uint64, size, capacity int) {
	return e.pf.CacheStats()
}

// CatalogRoot and SetCatalogRoot proxy to the page file's file header so
// the index/collection catalog can find its root page across reopens.
func (e *StorageEngine) CatalogRoot() uint32            { return e.pf.CatalogRoot() }
func (e *StorageEngine) SetCatalogRoot(id uint32) error { return e.pf.SetCatalogRoot(id) }
