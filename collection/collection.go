// Package collection implements BLite's typed document collection: the
// insert/find/update/delete surface over a primary B+Tree index and a
// chain of slotted data pages, with secondary index maintenance and
// overflow-chain storage for oversized documents (spec §4.7).
package collection

import (
	"errors"
	"fmt"

	"github.com/EntglDb/blite/btree"
	"github.com/EntglDb/blite/concurrency"
	"github.com/EntglDb/blite/document"
	"github.com/EntglDb/blite/index"
	"github.com/EntglDb/blite/mapper"
	"github.com/EntglDb/blite/storage"
	"github.com/klauspost/compress/snappy"
)

// ErrNotFound is returned by mutation paths that require an existing id.
var ErrNotFound = errors.New("collection: document not found")

// ErrUniqueViolation is returned by Insert when the id already exists.
var ErrUniqueViolation = errors.New("collection: unique violation")

// overflowReserve is the per-page margin subtracted from PageSize to
// decide whether a serialized document needs an overflow chain (spec
// §3: "exceeds page_size - 128 bytes").
const overflowReserve = 128

// bulkBatchSize is the independent-serialize-batch size for InsertBulk
// (spec §4.7: "batches of fixed size (≈50)").
const bulkBatchSize = 50

// Collection is a typed document store over one StorageEngine.
type Collection[T any] struct {
	engine  *storage.StorageEngine
	name    string
	mapper  mapper.Mapper[T]
	pool    *mapper.Pool
	primary *btree.BTree
	indexes *index.Manager
	lock    *concurrency.CollectionLock

	firstDataPage  uint32
	schemaVersions []mapper.SchemaVersion
}

// New creates an empty collection with a fresh primary index, comparing
// the mapper's current schema against none (so it is recorded as
// version 1).
func New[T any](engine *storage.StorageEngine, txnID uint64, name string, m mapper.Mapper[T]) (*Collection[T], error) {
	primary, err := btree.New(engine, txnID)
	if err != nil {
		return nil, err
	}
	c := &Collection[T]{
		engine:  engine,
		name:    name,
		mapper:  m,
		pool:    mapper.NewPool(),
		primary: primary,
		indexes: index.NewManager(engine),
		lock:    concurrency.NewCollectionLock(concurrency.LockPolicyWait),
	}
	c.schemaVersions = []mapper.SchemaVersion{{Version: 1, Hash: m.GetSchema().Hash()}}
	return c, nil
}

// Open reattaches a collection from its persisted catalog entry (spec
// §4.7 "Schema versioning": compares the mapper's current schema against
// the latest persisted one, appending a new version if they differ).
func Open[T any](engine *storage.StorageEngine, meta *CollectionMeta, m mapper.Mapper[T]) *Collection[T] {
	c := &Collection[T]{
		engine:         engine,
		name:           meta.Name,
		mapper:         m,
		pool:           mapper.NewPool(),
		primary:        btree.Open(engine, meta.PrimaryRootPage),
		indexes:        index.NewManager(engine),
		lock:           concurrency.NewCollectionLock(concurrency.LockPolicyWait),
		firstDataPage:  meta.FirstDataPage,
		schemaVersions: meta.SchemaVersions,
	}
	for _, desc := range meta.Indexes {
		c.indexes.OpenIndex(desc)
	}

	currentHash := m.GetSchema().Hash()
	if len(c.schemaVersions) == 0 || c.schemaVersions[len(c.schemaVersions)-1].Hash != currentHash {
		c.schemaVersions = append(c.schemaVersions, mapper.SchemaVersion{
			Version: int32(len(c.schemaVersions) + 1),
			Hash:    currentHash,
		})
	}
	return c
}

// Meta snapshots the collection's catalog entry for persistence.
func (c *Collection[T]) Meta() *CollectionMeta {
	descs := c.indexes.Indexes()
	indexMetas := make([]index.Descriptor, 0, len(descs))
	for _, idx := range descs {
		indexMetas = append(indexMetas, idx.Descriptor)
	}
	return &CollectionMeta{
		Name:            c.name,
		PrimaryRootPage: c.primary.RootPageID,
		FirstDataPage:   c.firstDataPage,
		SchemaVersions:  c.schemaVersions,
		Indexes:         indexMetas,
	}
}

func (c *Collection[T]) Name() string { return c.name }

// ---------- raw record placement ----------

func (c *Collection[T]) storeData(data []byte) ([]byte, uint32) {
	compressed := snappy.Encode(nil, data)
	if len(compressed) < len(data) {
		return compressed, storage.SlotCompressed
	}
	return data, 0
}

func decompress(data []byte, flags uint32) ([]byte, error) {
	if flags&storage.SlotCompressed == 0 {
		return data, nil
	}
	out, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, fmt.Errorf("collection: snappy decode: %w", err)
	}
	return out, nil
}

// insertRaw places storeData (already compressed) into the collection's
// data-page chain, or into an overflow chain when it doesn't fit inline,
// grounded on storage/pager.go's InsertRecordAtomic/insertOverflowRecord
// walk-the-chain-then-allocate pattern.
func (c *Collection[T]) insertRaw(txnID uint64, data []byte, flags uint32) (document.DocumentLocation, error) {
	threshold := int(c.engine.PageSize()) - overflowReserve
	if len(data) > threshold {
		// Overflow chains are read back without decompression, so they
		// always hold the uncompressed payload.
		raw, err := decompress(data, flags)
		if err != nil {
			return document.DocumentLocation{}, err
		}
		return c.insertOverflow(txnID, raw)
	}

	pageID := c.firstDataPage
	var lastPageID uint32
	for pageID != 0 {
		page, err := c.engine.ReadPage(txnID, pageID)
		if err != nil {
			return document.DocumentLocation{}, err
		}
		if slot, ok := page.Insert(data, flags); ok {
			if err := c.engine.WritePage(txnID, page); err != nil {
				return document.DocumentLocation{}, err
			}
			return document.DocumentLocation{PageID: pageID, SlotIndex: slot}, nil
		}
		lastPageID = pageID
		pageID = page.NextOverflowPage()
	}

	newPage, err := c.engine.AllocatePage(txnID, storage.PageTypeData)
	if err != nil {
		return document.DocumentLocation{}, err
	}
	if lastPageID != 0 {
		prev, err := c.engine.ReadPage(txnID, lastPageID)
		if err != nil {
			return document.DocumentLocation{}, err
		}
		prev.SetNextOverflowPage(newPage.PageID())
		if err := c.engine.WritePage(txnID, prev); err != nil {
			return document.DocumentLocation{}, err
		}
	} else {
		c.firstDataPage = newPage.PageID()
	}
	slot, ok := newPage.Insert(data, flags)
	if !ok {
		return document.DocumentLocation{}, fmt.Errorf("collection: record too large for a single page")
	}
	if err := c.engine.WritePage(txnID, newPage); err != nil {
		return document.DocumentLocation{}, err
	}
	return document.DocumentLocation{PageID: newPage.PageID(), SlotIndex: slot}, nil
}

// insertOverflow writes data into a chain of overflow pages and records
// only the 8-byte [total_len][first_overflow_page] pointer in the
// collection's data-page chain (spec §3), grounded on
// storage/pager.go's insertOverflowRecord.
func (c *Collection[T]) insertOverflow(txnID uint64, data []byte) (document.DocumentLocation, error) {
	chunkCap := storage.OverflowChunkCapacity(c.engine.PageSize())
	var firstOverflowID uint32
	var prevPage *storage.Page
	offset := 0
	for offset < len(data) {
		ovPage, err := c.engine.AllocatePage(txnID, storage.PageTypeOverflow)
		if err != nil {
			return document.DocumentLocation{}, err
		}
		end := offset + chunkCap
		if end > len(data) {
			end = len(data)
		}
		ovPage.WriteOverflowChunk(data[offset:end])
		if prevPage != nil {
			prevPage.SetNextOverflowPage(ovPage.PageID())
			if err := c.engine.WritePage(txnID, prevPage); err != nil {
				return document.DocumentLocation{}, err
			}
		}
		if firstOverflowID == 0 {
			firstOverflowID = ovPage.PageID()
		}
		if err := c.engine.WritePage(txnID, ovPage); err != nil {
			return document.DocumentLocation{}, err
		}
		prevPage = ovPage
		offset = end
	}

	prefix := storage.EncodeOverflowPrefix(int32(len(data)), firstOverflowID)
	return c.insertPointer(txnID, prefix)
}

func (c *Collection[T]) insertPointer(txnID uint64, prefix []byte) (document.DocumentLocation, error) {
	pageID := c.firstDataPage
	var lastPageID uint32
	for pageID != 0 {
		page, err := c.engine.ReadPage(txnID, pageID)
		if err != nil {
			return document.DocumentLocation{}, err
		}
		if slot, ok := page.Insert(prefix, storage.SlotHasOverflow); ok {
			if err := c.engine.WritePage(txnID, page); err != nil {
				return document.DocumentLocation{}, err
			}
			return document.DocumentLocation{PageID: pageID, SlotIndex: slot}, nil
		}
		lastPageID = pageID
		pageID = page.NextOverflowPage()
	}
	newPage, err := c.engine.AllocatePage(txnID, storage.PageTypeData)
	if err != nil {
		return document.DocumentLocation{}, err
	}
	if lastPageID != 0 {
		prev, err := c.engine.ReadPage(txnID, lastPageID)
		if err != nil {
			return document.DocumentLocation{}, err
		}
		prev.SetNextOverflowPage(newPage.PageID())
		if err := c.engine.WritePage(txnID, prev); err != nil {
			return document.DocumentLocation{}, err
		}
	} else {
		c.firstDataPage = newPage.PageID()
	}
	slot, ok := newPage.Insert(prefix, storage.SlotHasOverflow)
	if !ok {
		return document.DocumentLocation{}, fmt.Errorf("collection: cannot write overflow pointer")
	}
	if err := c.engine.WritePage(txnID, newPage); err != nil {
		return document.DocumentLocation{}, err
	}
	return document.DocumentLocation{PageID: newPage.PageID(), SlotIndex: slot}, nil
}

// readOverflow reassembles a document whose primary slot only carried an
// overflow pointer, grounded on storage/pager.go's ReadOverflowData.
func (c *Collection[T]) readOverflow(txnID uint64, totalLen int32, firstPage uint32) ([]byte, error) {
	chunkCap := storage.OverflowChunkCapacity(c.engine.PageSize())
	result := make([]byte, 0, totalLen)
	remaining := int(totalLen)
	pageID := firstPage
	for pageID != 0 && remaining > 0 {
		page, err := c.engine.ReadPage(txnID, pageID)
		if err != nil {
			return nil, err
		}
		n := remaining
		if n > chunkCap {
			n = chunkCap
		}
		result = append(result, page.ReadOverflowChunk(n)...)
		remaining -= n
		pageID = page.NextOverflowPage()
	}
	return result, nil
}

func (c *Collection[T]) freeOverflowChain(txnID uint64, firstPage uint32) error {
	pageID := firstPage
	for pageID != 0 {
		page, err := c.engine.ReadPage(txnID, pageID)
		if err != nil {
			return err
		}
		next := page.NextOverflowPage()
		if err := c.engine.FreePage(txnID, pageID); err != nil {
			return err
		}
		pageID = next
	}
	return nil
}

// readLocation loads and decodes the document stored at loc, following
// an overflow pointer if the slot carries one.
func (c *Collection[T]) readLocation(txnID uint64, loc document.DocumentLocation) (T, bool, error) {
	var zero T
	page, err := c.engine.ReadPage(txnID, loc.PageID)
	if err != nil {
		return zero, false, err
	}
	if loc.SlotIndex >= page.SlotCount() || page.IsDeleted(loc.SlotIndex) {
		return zero, false, nil
	}
	payload, flags, ok := page.Read(loc.SlotIndex)
	if !ok {
		return zero, false, nil
	}
	var raw []byte
	if flags&storage.SlotHasOverflow != 0 {
		totalLen, firstOverflow := storage.DecodeOverflowPrefix(payload)
		raw, err = c.readOverflow(txnID, totalLen, firstOverflow)
		if err != nil {
			return zero, false, err
		}
	} else {
		raw, err = decompress(payload, flags)
		if err != nil {
			return zero, false, err
		}
	}
	entity, err := c.mapper.Deserialize(raw)
	if err != nil {
		return zero, false, err
	}
	return entity, true, nil
}

// ---------- public API (spec §4.7) ----------

// Insert stores entity under a fresh id if the mapper reports none set
// (an empty IndexKey), otherwise under the entity's own id, failing on a
// primary-key collision.
func (c *Collection[T]) Insert(txnID uint64, entity T) (document.IndexKey, error) {
	if err := c.lock.Acquire(c.name); err != nil {
		return nil, err
	}
	defer c.lock.Release()
	return c.insertLocked(txnID, entity)
}

func (c *Collection[T]) insertLocked(txnID uint64, entity T) (document.IndexKey, error) {
	id := c.mapper.GetID(entity)
	if len(id) == 0 {
		id = document.EncodeObjectID(document.NewObjectID())
		entity = c.mapper.SetID(entity, id)
	} else if existing, err := c.primary.Lookup(txnID, id); err != nil {
		return nil, err
	} else if len(existing) > 0 {
		return nil, ErrUniqueViolation
	}

	project := func(keyPath string) (document.IndexKey, error) {
		return c.mapper.ToIndexKey(entity, keyPath)
	}

	// Every unique secondary index is checked before anything is written
	// (data page, primary index) so a violation here can never leave a
	// partial insert behind (spec invariant 8).
	if err := c.indexes.CheckUnique(txnID, project); err != nil {
		return nil, translateUniqueViolation(err)
	}

	data, release, err := mapper.Serialize[T](c.mapper, entity, c.pool)
	if err != nil {
		return nil, err
	}
	defer release()

	stored, flags := c.storeData(data)
	loc, err := c.insertRaw(txnID, stored, flags)
	if err != nil {
		return nil, err
	}
	if err := c.primary.Insert(txnID, id, loc); err != nil {
		return nil, err
	}

	if err := c.indexes.InsertIntoAll(txnID, project, loc); err != nil {
		return nil, translateUniqueViolation(err)
	}
	return id, nil
}

// translateUniqueViolation maps an index.ErrUniqueViolation (or any error
// wrapping it) onto collection.ErrUniqueViolation, so callers can
// errors.Is against one sentinel regardless of which layer detected the
// collision; every other error passes through unchanged.
func translateUniqueViolation(err error) error {
	if errors.Is(err, index.ErrUniqueViolation) {
		return fmt.Errorf("%w: %s", ErrUniqueViolation, err)
	}
	return err
}

// InsertBulk inserts entities in fixed-size batches (spec §4.7), failing
// fast on the first error. Every batch runs inside the caller's txnID and
// nothing is committed here; documents inserted before the failure stay
// in that transaction until the caller commits or rolls it back.
func (c *Collection[T]) InsertBulk(txnID uint64, entities []T) ([]document.IndexKey, error) {
	if err := c.lock.Acquire(c.name); err != nil {
		return nil, err
	}
	defer c.lock.Release()

	ids := make([]document.IndexKey, 0, len(entities))
	for start := 0; start < len(entities); start += bulkBatchSize {
		end := start + bulkBatchSize
		if end > len(entities) {
			end = len(entities)
		}
		for _, entity := range entities[start:end] {
			id, err := c.insertLocked(txnID, entity)
			if err != nil {
				return ids, err
			}
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// FindByID looks up a single entity by its primary key.
func (c *Collection[T]) FindByID(txnID uint64, id document.IndexKey) (T, bool, error) {
	var zero T
	locs, err := c.primary.Lookup(txnID, id)
	if err != nil {
		return zero, false, err
	}
	if len(locs) == 0 {
		return zero, false, nil
	}
	return c.readLocation(txnID, locs[0])
}

// FindAll materializes every entity in primary-key order.
func (c *Collection[T]) FindAll(txnID uint64) ([]T, error) {
	var out []T
	err := c.Each(txnID, func(entity T) (bool, error) {
		out = append(out, entity)
		return true, nil
	})
	return out, err
}

// Each streams entities in primary-key order, stopping early when visit
// returns ok=false or an error.
func (c *Collection[T]) Each(txnID uint64, visit func(T) (bool, error)) error {
	entries, err := c.primary.AllEntries(txnID)
	if err != nil {
		return err
	}
	for _, e := range entries {
		entity, ok, err := c.readLocation(txnID, e.Loc)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		cont, err := visit(entity)
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
	}
	return nil
}

// Count returns the number of live documents.
func (c *Collection[T]) Count(txnID uint64) (int, error) {
	entries, err := c.primary.AllEntries(txnID)
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

// Scan evaluates predicate against each document's raw decompressed
// bytes without deserializing through the mapper, for callers (the
// query package) that compile predicates directly over the wire
// format.
func (c *Collection[T]) Scan(txnID uint64, predicate func(raw []byte) bool) ([]document.IndexKey, error) {
	entries, err := c.primary.AllEntries(txnID)
	if err != nil {
		return nil, err
	}
	var matches []document.IndexKey
	for _, e := range entries {
		page, err := c.engine.ReadPage(txnID, e.Loc.PageID)
		if err != nil {
			return nil, err
		}
		if e.Loc.SlotIndex >= page.SlotCount() || page.IsDeleted(e.Loc.SlotIndex) {
			continue
		}
		payload, flags, ok := page.Read(e.Loc.SlotIndex)
		if !ok {
			continue
		}
		var raw []byte
		if flags&storage.SlotHasOverflow != 0 {
			totalLen, firstOverflow := storage.DecodeOverflowPrefix(payload)
			raw, err = c.readOverflow(txnID, totalLen, firstOverflow)
		} else {
			raw, err = decompress(payload, flags)
		}
		if err != nil {
			return nil, err
		}
		if predicate(raw) {
			matches = append(matches, e.Key)
		}
	}
	return matches, nil
}

// Update replaces the entity stored under id, in place when the new
// serialization fits the existing slot and it isn't an overflow record,
// relocating otherwise (spec invariant 6, grounded on the teacher's
// UpdateRecordAtomic).
func (c *Collection[T]) Update(txnID uint64, id document.IndexKey, entity T) error {
	if err := c.lock.Acquire(c.name); err != nil {
		return err
	}
	defer c.lock.Release()

	locs, err := c.primary.Lookup(txnID, id)
	if err != nil {
		return err
	}
	if len(locs) == 0 {
		return ErrNotFound
	}
	oldLoc := locs[0]

	oldEntity, ok, err := c.readLocation(txnID, oldLoc)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}

	entity = c.mapper.SetID(entity, id)
	data, release, err := mapper.Serialize[T](c.mapper, entity, c.pool)
	if err != nil {
		return err
	}
	defer release()
	stored, flags := c.storeData(data)

	newLoc := oldLoc
	page, err := c.engine.ReadPage(txnID, oldLoc.PageID)
	if err != nil {
		return err
	}
	_, oldFlags, _ := page.Read(oldLoc.SlotIndex)
	relocated := false
	if oldFlags&storage.SlotHasOverflow != 0 || flags&storage.SlotHasOverflow != 0 ||
		!page.UpdateInPlace(oldLoc.SlotIndex, stored, flags) {
		if oldFlags&storage.SlotHasOverflow != 0 {
			oldPayload, _, _ := page.Read(oldLoc.SlotIndex)
			_, firstOverflow := storage.DecodeOverflowPrefix(oldPayload)
			if err := c.freeOverflowChain(txnID, firstOverflow); err != nil {
				return err
			}
		}
		page.Delete(oldLoc.SlotIndex)
		if err := c.engine.WritePage(txnID, page); err != nil {
			return err
		}
		newLoc, err = c.insertRaw(txnID, stored, flags)
		if err != nil {
			return err
		}
		relocated = true
	} else if err := c.engine.WritePage(txnID, page); err != nil {
		return err
	}

	if relocated {
		if err := c.primary.Remove(txnID, id, oldLoc); err != nil {
			return err
		}
		if err := c.primary.Insert(txnID, id, newLoc); err != nil {
			return err
		}
	}

	oldProject := func(keyPath string) (document.IndexKey, error) {
		return c.mapper.ToIndexKey(oldEntity, keyPath)
	}
	newProject := func(keyPath string) (document.IndexKey, error) {
		return c.mapper.ToIndexKey(entity, keyPath)
	}
	return c.indexes.UpdateInAll(txnID, oldProject, newProject, oldLoc, newLoc)
}

// Delete removes the document stored under id, freeing its overflow
// chain (if any) and pruning it from every secondary index.
func (c *Collection[T]) Delete(txnID uint64, id document.IndexKey) error {
	if err := c.lock.Acquire(c.name); err != nil {
		return err
	}
	defer c.lock.Release()

	locs, err := c.primary.Lookup(txnID, id)
	if err != nil {
		return err
	}
	if len(locs) == 0 {
		return ErrNotFound
	}
	loc := locs[0]

	entity, ok, err := c.readLocation(txnID, loc)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}

	page, err := c.engine.ReadPage(txnID, loc.PageID)
	if err != nil {
		return err
	}
	payload, flags, _ := page.Read(loc.SlotIndex)
	if flags&storage.SlotHasOverflow != 0 {
		_, firstOverflow := storage.DecodeOverflowPrefix(payload)
		if err := c.freeOverflowChain(txnID, firstOverflow); err != nil {
			return err
		}
	}
	page.Delete(loc.SlotIndex)
	if err := c.engine.WritePage(txnID, page); err != nil {
		return err
	}

	if err := c.primary.Remove(txnID, id, loc); err != nil {
		return err
	}

	project := func(keyPath string) (document.IndexKey, error) {
		return c.mapper.ToIndexKey(entity, keyPath)
	}
	return c.indexes.DeleteFromAll(txnID, project, loc)
}

// ---------- secondary index management ----------

// CreateIndex builds a new secondary index over keyPath, rejecting the
// call if one with the same name already exists.
func (c *Collection[T]) CreateIndex(txnID uint64, name, keyPath string, unique bool) error {
	if err := c.lock.Acquire(c.name); err != nil {
		return err
	}
	defer c.lock.Release()

	if c.indexes.GetIndex(name) != nil {
		return fmt.Errorf("collection: index %q already exists", name)
	}
	if _, err := c.indexes.CreateIndex(txnID, name, keyPath, unique); err != nil {
		return err
	}
	return c.indexes.Rebuild(txnID, name, c.primary, func(loc document.DocumentLocation) (document.IndexKey, error) {
		entity, ok, err := c.readLocation(txnID, loc)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("collection: stale location")
		}
		return c.mapper.ToIndexKey(entity, keyPath)
	})
}

// EnsureIndex is CreateIndex's idempotent form: a no-op if the named
// index already exists.
func (c *Collection[T]) EnsureIndex(txnID uint64, name, keyPath string, unique bool) error {
	if c.indexes.GetIndex(name) != nil {
		return nil
	}
	return c.CreateIndex(txnID, name, keyPath, unique)
}

// DropIndex removes a secondary index by name.
func (c *Collection[T]) DropIndex(name string) error {
	if err := c.lock.Acquire(c.name); err != nil {
		return err
	}
	defer c.lock.Release()
	return c.indexes.DropIndex(name)
}

// GetIndexes lists the collection's secondary index descriptors.
func (c *Collection[T]) GetIndexes() []index.Descriptor {
	var out []index.Descriptor
	for _, idx := range c.indexes.Indexes() {
		out = append(out, idx.Descriptor)
	}
	return out
}

// QueryIndex range-scans a named secondary index and resolves each
// matching location back to its entity.
func (c *Collection[T]) QueryIndex(txnID uint64, name string, min, max document.IndexKey, ascending bool) ([]T, error) {
	idx := c.indexes.GetIndex(name)
	if idx == nil {
		return nil, fmt.Errorf("collection: no such index %q", name)
	}
	entries, err := idx.RangeScan(txnID, min, max, ascending)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(entries))
	for _, e := range entries {
		entity, ok, err := c.readLocation(txnID, e.Loc)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, entity)
		}
	}
	return out, nil
}

// ---------- compaction ----------

// relocatedEntity pairs a live primary-key entry with the value read from
// its pre-compaction location, so Compact can reinsert it into a fresh
// page chain and then repoint the primary index.
type relocatedEntity[T any] struct {
	key    document.IndexKey
	oldLoc document.DocumentLocation
	value  T
}

// Compact reclaims space left behind by deletes: every live document is
// read, the old data-page chain (and any overflow chains it still
// references) is freed, and a fresh chain is built holding only live
// records. The primary index is repointed at each record's new location,
// and every secondary index is rebuilt since every location changes.
// Compact is never run automatically — a caller invokes it explicitly,
// the same policy the storage engine's own Checkpoint follows for the
// WAL. Grounded on storage/pager.go's VacuumCollection. It returns the
// number of deleted slots reclaimed, or 0 (with no work done) if the
// chain held none.
func (c *Collection[T]) Compact(txnID uint64) (int, error) {
	if err := c.lock.Acquire(c.name); err != nil {
		return 0, err
	}
	defer c.lock.Release()

	entries, err := c.primary.AllEntries(txnID)
	if err != nil {
		return 0, err
	}

	var oldPages []uint32
	reclaimed := 0
	for pageID := c.firstDataPage; pageID != 0; {
		page, err := c.engine.ReadPage(txnID, pageID)
		if err != nil {
			return 0, err
		}
		oldPages = append(oldPages, pageID)
		for slot := uint16(0); slot < page.SlotCount(); slot++ {
			if page.IsDeleted(slot) {
				reclaimed++
			}
		}
		pageID = page.NextOverflowPage()
	}
	if reclaimed == 0 {
		return 0, nil
	}

	live := make([]relocatedEntity[T], 0, len(entries))
	for _, e := range entries {
		page, err := c.engine.ReadPage(txnID, e.Loc.PageID)
		if err != nil {
			return 0, err
		}
		value, ok, err := c.readLocation(txnID, e.Loc)
		if err != nil {
			return 0, err
		}
		if !ok {
			continue
		}
		if payload, flags, ok := page.Read(e.Loc.SlotIndex); ok && flags&storage.SlotHasOverflow != 0 {
			_, firstOverflow := storage.DecodeOverflowPrefix(payload)
			if err := c.freeOverflowChain(txnID, firstOverflow); err != nil {
				return 0, err
			}
		}
		live = append(live, relocatedEntity[T]{key: e.Key, oldLoc: e.Loc, value: value})
	}

	c.firstDataPage = 0
	for _, ent := range live {
		data, release, err := mapper.Serialize[T](c.mapper, ent.value, c.pool)
		if err != nil {
			return 0, err
		}
		stored, flags := c.storeData(data)
		newLoc, err := c.insertRaw(txnID, stored, flags)
		release()
		if err != nil {
			return 0, err
		}
		if err := c.primary.Remove(txnID, ent.key, ent.oldLoc); err != nil {
			return 0, err
		}
		if err := c.primary.Insert(txnID, ent.key, newLoc); err != nil {
			return 0, err
		}
	}

	for _, pageID := range oldPages {
		if err := c.engine.FreePage(txnID, pageID); err != nil {
			return 0, err
		}
	}

	for _, idx := range c.indexes.Indexes() {
		name, keyPath, unique := idx.Descriptor.Name, idx.Descriptor.KeyPath, idx.Descriptor.Unique
		if err := c.indexes.DropIndex(name); err != nil {
			return 0, err
		}
		if _, err := c.indexes.CreateIndex(txnID, name, keyPath, unique); err != nil {
			return 0, err
		}
		if err := c.indexes.Rebuild(txnID, name, c.primary, func(loc document.DocumentLocation) (document.IndexKey, error) {
			entity, ok, err := c.readLocation(txnID, loc)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, fmt.Errorf("collection: stale location")
			}
			return c.mapper.ToIndexKey(entity, keyPath)
		}); err != nil {
			return 0, err
		}
	}

	return reclaimed, nil
}
