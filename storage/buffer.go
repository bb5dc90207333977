package storage

import "sync"

// BufferManager maintains the two in-memory maps spec §4.3 names: each
// transaction's uncommitted page writes (read-your-own-writes), and the
// committed-but-not-yet-checkpointed pages every reader sees once a
// transaction commits. The PageFile itself is untouched by commit —
// only Checkpoint (or engine teardown) drains committedPages into it.
// Generalized from the teacher's single-active-transaction
// txUndoLog/txNewPages maps in pager.go into concurrent per-TxnID maps
// plus a shared committed tier, since BLite allows multiple concurrent
// transactions under a single-writer/multi-reader discipline enforced
// by concurrency.CollectionLock.
type BufferManager struct {
	mu sync.RWMutex

	// txnPages holds, per active transaction, the pages it has written
	// but not yet committed.
	txnPages map[uint64]map[uint32]*Page

	// txnNewPages marks pages allocated during a transaction, so a
	// rollback can free them instead of restoring a before-image.
	txnNewPages map[uint64]map[uint32]bool

	// committedPages holds pages from committed transactions that have
	// not yet been written to the PageFile — spec §4.3's committed_pages.
	committedPages map[uint32]*Page
}

// NewBufferManager creates an empty buffer manager.
func NewBufferManager() *BufferManager {
	return &BufferManager{
		txnPages:       make(map[uint64]map[uint32]*Page),
		txnNewPages:    make(map[uint64]map[uint32]bool),
		committedPages: make(map[uint32]*Page),
	}
}

// Begin registers a new transaction's write set.
func (bm *BufferManager) Begin(txnID uint64) {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	bm.txnPages[txnID] = make(map[uint32]*Page)
	bm.txnNewPages[txnID] = make(map[uint32]bool)
}

// Stage records a page write under txnID, not yet visible to other
// transactions.
func (bm *BufferManager) Stage(txnID uint64, p *Page, isNew bool) {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	pages := bm.txnPages[txnID]
	if pages == nil {
		pages = make(map[uint32]*Page)
		bm.txnPages[txnID] = pages
	}
	pages[p.PageID()] = p
	if isNew {
		if bm.txnNewPages[txnID] == nil {
			bm.txnNewPages[txnID] = make(map[uint32]bool)
		}
		bm.txnNewPages[txnID][p.PageID()] = true
	}
}

// Read returns txnID's own staged version of a page, implementing
// read-your-own-writes; ok is false when txnID has not touched this page.
func (bm *BufferManager) Read(txnID uint64, pageID uint32) (*Page, bool) {
	bm.mu.RLock()
	defer bm.mu.RUnlock()
	pages := bm.txnPages[txnID]
	if pages == nil {
		return nil, false
	}
	p, ok := pages[pageID]
	return p, ok
}

// ReadCommitted returns the committed-but-not-yet-checkpointed version of
// a page, the second tier of spec §4.3's read order (after a
// transaction's own writes, before the PageFile).
func (bm *BufferManager) ReadCommitted(pageID uint32) (*Page, bool) {
	bm.mu.RLock()
	defer bm.mu.RUnlock()
	p, ok := bm.committedPages[pageID]
	return p, ok
}

// NewPageIDs returns the page ids txnID allocated, for Rollback to free.
func (bm *BufferManager) NewPageIDs(txnID uint64) []uint32 {
	bm.mu.RLock()
	defer bm.mu.RUnlock()
	news := bm.txnNewPages[txnID]
	out := make([]uint32, 0, len(news))
	for id := range news {
		out = append(out, id)
	}
	return out
}

// CommitTxn moves txnID's staged pages into committedPages (last writer
// wins per page, spec §4.3) and discards its write set. The PageFile is
// not touched here — only Checkpoint drains committedPages into it.
func (bm *BufferManager) CommitTxn(txnID uint64) {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	for pageID, p := range bm.txnPages[txnID] {
		bm.committedPages[pageID] = p
	}
	delete(bm.txnPages, txnID)
	delete(bm.txnNewPages, txnID)
}

// Clear discards a transaction's write set after a rollback, without
// touching committedPages.
func (bm *BufferManager) Clear(txnID uint64) {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	delete(bm.txnPages, txnID)
	delete(bm.txnNewPages, txnID)
}

// CommittedPages returns every page waiting to be checkpointed into the
// PageFile.
func (bm *BufferManager) CommittedPages() []*Page {
	bm.mu.RLock()
	defer bm.mu.RUnlock()
	out := make([]*Page, 0, len(bm.committedPages))
	for _, p := range bm.committedPages {
		out = append(out, p)
	}
	return out
}

// ClearCommittedPage removes a page from committedPages once the
// checkpoint path has durably written it to the PageFile.
func (bm *BufferManager) ClearCommittedPage(pageID uint32) {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	delete(bm.committedPages, pageID)
}
