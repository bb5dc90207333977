// Package btree implements BLite's persistent B+Tree: one node per page,
// leaves chained left-to-right for ordered range scans, keys ordered by
// document.IndexKey.Compare (spec §3/§4.3).
package btree

import (
	"sort"

	"github.com/EntglDb/blite/document"
	"github.com/EntglDb/blite/storage"
)

// Node layout lives past the common 24-byte page header (storage.Page),
// mirroring the teacher's index/btree.go offsets but widened to BLite's
// IndexKey/DocumentLocation types instead of string keys and uint64 row ids.
const (
	nodeTypeOff  = storage.DataPageHeaderSize // byte: 0=internal, 1=leaf
	numKeysOff   = nodeTypeOff + 1            // uint16
	nextLeafOff  = numKeysOff + 2             // uint32, leaf only
	leafDataOff  = nextLeafOff + 4
	internalDataOff = numKeysOff + 2

	nodeTypeInternal = byte(0)
	nodeTypeLeaf     = byte(1)
)

func maxLeafPayload(pageSize uint32) int     { return int(pageSize) - leafDataOff }
func maxInternalPayload(pageSize uint32) int { return int(pageSize) - internalDataOff }

// Entry is a (key, location) pair stored in a leaf page.
type Entry struct {
	Key document.IndexKey
	Loc document.DocumentLocation
}

// internalNode is a loaded internal node: len(children) == len(keys)+1.
type internalNode struct {
	keys     []document.IndexKey
	children []uint32
}

// BTree is a B+Tree index addressed through a storage.StorageEngine, so
// every read/write is scoped to a transaction (spec §5 read-committed
// snapshot + read-your-own-writes).
type BTree struct {
	RootPageID uint32
	engine     *storage.StorageEngine
}

// New allocates a fresh B+Tree with a single empty leaf as its root.
func New(engine *storage.StorageEngine, txnID uint64) (*BTree, error) {
	page, err := engine.AllocatePage(txnID, storage.PageTypeIndex)
	if err != nil {
		return nil, err
	}
	page.Data[nodeTypeOff] = nodeTypeLeaf
	putUint16(page.Data, numKeysOff, 0)
	putUint32(page.Data, nextLeafOff, 0)
	if err := engine.WritePage(txnID, page); err != nil {
		return nil, err
	}
	return &BTree{RootPageID: page.PageID(), engine: engine}, nil
}

// Open reattaches to an existing B+Tree given its persisted root page id.
func Open(engine *storage.StorageEngine, rootPageID uint32) *BTree {
	return &BTree{RootPageID: rootPageID, engine: engine}
}

// ---------- node codec ----------

func readLeafEntries(pageSize uint32, data []byte) []Entry {
	num := getUint16(data, numKeysOff)
	off := leafDataOff
	entries := make([]Entry, 0, num)
	for i := 0; i < int(num); i++ {
		if off+2 > int(pageSize) {
			break
		}
		kl := int(getUint16(data, off))
		off += 2
		if off+kl+document.LocationSize > int(pageSize) {
			break
		}
		key := make(document.IndexKey, kl)
		copy(key, data[off:off+kl])
		off += kl
		loc := document.DecodeLocation(data[off : off+document.LocationSize])
		off += document.LocationSize
		entries = append(entries, Entry{Key: key, Loc: loc})
	}
	return entries
}

func readLeafNext(data []byte) uint32 { return getUint32(data, nextLeafOff) }

func writeLeafNode(page *storage.Page, entries []Entry, nextLeaf uint32) {
	page.Data[nodeTypeOff] = nodeTypeLeaf
	putUint16(page.Data, numKeysOff, uint16(len(entries)))
	putUint32(page.Data, nextLeafOff, nextLeaf)
	off := leafDataOff
	for _, e := range entries {
		putUint16(page.Data, off, uint16(len(e.Key)))
		off += 2
		copy(page.Data[off:], e.Key)
		off += len(e.Key)
		enc := e.Loc.Encode()
		copy(page.Data[off:], enc[:])
		off += document.LocationSize
	}
}

func readInternalNode(data []byte) internalNode {
	numKeys := getUint16(data, numKeysOff)
	off := internalDataOff
	node := internalNode{
		keys:     make([]document.IndexKey, 0, numKeys),
		children: make([]uint32, 0, numKeys+1),
	}
	node.children = append(node.children, getUint32(data, off))
	off += 4
	for i := 0; i < int(numKeys); i++ {
		kl := int(getUint16(data, off))
		off += 2
		key := make(document.IndexKey, kl)
		copy(key, data[off:off+kl])
		off += kl
		node.children = append(node.children, getUint32(data, off))
		off += 4
		node.keys = append(node.keys, key)
	}
	return node
}

func writeInternalNode(page *storage.Page, node internalNode) {
	page.Data[nodeTypeOff] = nodeTypeInternal
	putUint16(page.Data, numKeysOff, uint16(len(node.keys)))
	off := internalDataOff
	putUint32(page.Data, off, node.children[0])
	off += 4
	for i, key := range node.keys {
		putUint16(page.Data, off, uint16(len(key)))
		off += 2
		copy(page.Data[off:], key)
		off += len(key)
		putUint32(page.Data, off, node.children[i+1])
		off += 4
	}
}

func leafEntriesSize(entries []Entry) int {
	s := 0
	for _, e := range entries {
		s += 2 + len(e.Key) + document.LocationSize
	}
	return s
}

func internalNodeSize(node internalNode) int {
	s := 4
	for _, k := range node.keys {
		s += 2 + len(k) + 4
	}
	return s
}

// ---------- search ----------

func (bt *BTree) findLeaf(txnID uint64, key document.IndexKey) (*storage.Page, error) {
	pageID := bt.RootPageID
	for {
		page, err := bt.engine.ReadPage(txnID, pageID)
		if err != nil {
			return nil, err
		}
		if page.Data[nodeTypeOff] == nodeTypeLeaf {
			return page, nil
		}
		node := readInternalNode(page.Data)
		idx := sort.Search(len(node.keys), func(i int) bool {
			return node.keys[i].Compare(key) > 0
		})
		pageID = node.children[idx]
	}
}

func (bt *BTree) findLeftmostLeaf(txnID uint64) (*storage.Page, error) {
	pageID := bt.RootPageID
	for {
		page, err := bt.engine.ReadPage(txnID, pageID)
		if err != nil {
			return nil, err
		}
		if page.Data[nodeTypeOff] == nodeTypeLeaf {
			return page, nil
		}
		node := readInternalNode(page.Data)
		pageID = node.children[0]
	}
}

// Lookup returns every document location indexed under key (spec §4.3
// point query; a unique index will have at most one).
func (bt *BTree) Lookup(txnID uint64, key document.IndexKey) ([]document.DocumentLocation, error) {
	page, err := bt.findLeaf(txnID, key)
	if err != nil {
		return nil, err
	}
	var result []document.DocumentLocation
	for {
		entries := readLeafEntries(bt.engine.PageSize(), page.Data)
		for _, e := range entries {
			c := e.Key.Compare(key)
			if c == 0 {
				result = append(result, e.Loc)
			} else if c > 0 {
				return result, nil
			}
		}
		next := readLeafNext(page.Data)
		if next == 0 {
			break
		}
		page, err = bt.engine.ReadPage(txnID, next)
		if err != nil {
			return nil, err
		}
	}
	return result, nil
}

// RangeScan returns every (key, location) pair with minKey <= key <= maxKey,
// in ascending key order; a nil bound is open on that side.
func (bt *BTree) RangeScan(txnID uint64, minKey, maxKey document.IndexKey) ([]Entry, error) {
	var page *storage.Page
	var err error
	if minKey != nil {
		page, err = bt.findLeaf(txnID, minKey)
	} else {
		page, err = bt.findLeftmostLeaf(txnID)
	}
	if err != nil {
		return nil, err
	}
	var result []Entry
	for {
		entries := readLeafEntries(bt.engine.PageSize(), page.Data)
		for _, e := range entries {
			if minKey != nil && e.Key.Compare(minKey) < 0 {
				continue
			}
			if maxKey != nil && e.Key.Compare(maxKey) > 0 {
				return result, nil
			}
			result = append(result, e)
		}
		next := readLeafNext(page.Data)
		if next == 0 {
			break
		}
		page, err = bt.engine.ReadPage(txnID, next)
		if err != nil {
			return nil, err
		}
	}
	return result, nil
}

// ---------- insert ----------

type splitResult struct {
	key       document.IndexKey
	newPageID uint32
}

// Insert adds a (key, location) entry, splitting leaves/internal nodes
// bottom-up on overflow (spec §4.3 invariant: tree stays balanced after
// every insert).
func (bt *BTree) Insert(txnID uint64, key document.IndexKey, loc document.DocumentLocation) error {
	split, err := bt.insertRecursive(txnID, bt.RootPageID, key, loc)
	if err != nil {
		return err
	}
	if split != nil {
		newRoot, err := bt.engine.AllocatePage(txnID, storage.PageTypeIndex)
		if err != nil {
			return err
		}
		writeInternalNode(newRoot, internalNode{
			keys:     []document.IndexKey{split.key},
			children: []uint32{bt.RootPageID, split.newPageID},
		})
		if err := bt.engine.WritePage(txnID, newRoot); err != nil {
			return err
		}
		bt.RootPageID = newRoot.PageID()
	}
	return nil
}

func (bt *BTree) insertRecursive(txnID uint64, pageID uint32, key document.IndexKey, loc document.DocumentLocation) (*splitResult, error) {
	page, err := bt.engine.ReadPage(txnID, pageID)
	if err != nil {
		return nil, err
	}
	if page.Data[nodeTypeOff] == nodeTypeLeaf {
		return bt.insertIntoLeaf(txnID, page, key, loc)
	}
	node := readInternalNode(page.Data)
	idx := sort.Search(len(node.keys), func(i int) bool {
		return node.keys[i].Compare(key) > 0
	})
	childSplit, err := bt.insertRecursive(txnID, node.children[idx], key, loc)
	if err != nil {
		return nil, err
	}
	if childSplit == nil {
		return nil, nil
	}
	return bt.insertIntoInternal(txnID, page, node, idx, childSplit)
}

func (bt *BTree) insertIntoLeaf(txnID uint64, page *storage.Page, key document.IndexKey, loc document.DocumentLocation) (*splitResult, error) {
	entries := readLeafEntries(bt.engine.PageSize(), page.Data)
	nextLeaf := readLeafNext(page.Data)

	pos := sort.Search(len(entries), func(i int) bool {
		return entries[i].Key.Compare(key) >= 0
	})
	entries = append(entries, Entry{})
	copy(entries[pos+1:], entries[pos:])
	entries[pos] = Entry{Key: key, Loc: loc}

	if leafEntriesSize(entries) <= maxLeafPayload(bt.engine.PageSize()) {
		writeLeafNode(page, entries, nextLeaf)
		return nil, bt.engine.WritePage(txnID, page)
	}

	mid := len(entries) / 2
	leftEntries := append([]Entry(nil), entries[:mid]...)
	rightEntries := append([]Entry(nil), entries[mid:]...)

	newPage, err := bt.engine.AllocatePage(txnID, storage.PageTypeIndex)
	if err != nil {
		return nil, err
	}
	writeLeafNode(newPage, rightEntries, nextLeaf)
	if err := bt.engine.WritePage(txnID, newPage); err != nil {
		return nil, err
	}

	writeLeafNode(page, leftEntries, newPage.PageID())
	if err := bt.engine.WritePage(txnID, page); err != nil {
		return nil, err
	}

	return &splitResult{key: rightEntries[0].Key, newPageID: newPage.PageID()}, nil
}

func (bt *BTree) insertIntoInternal(txnID uint64, page *storage.Page, node internalNode, childIdx int, split *splitResult) (*splitResult, error) {
	node.keys = append(node.keys, nil)
	copy(node.keys[childIdx+1:], node.keys[childIdx:])
	node.keys[childIdx] = split.key

	node.children = append(node.children, 0)
	copy(node.children[childIdx+2:], node.children[childIdx+1:])
	node.children[childIdx+1] = split.newPageID

	if internalNodeSize(node) <= maxInternalPayload(bt.engine.PageSize()) {
		writeInternalNode(page, node)
		return nil, bt.engine.WritePage(txnID, page)
	}

	mid := len(node.keys) / 2
	pushUpKey := node.keys[mid]

	left := internalNode{
		keys:     append([]document.IndexKey(nil), node.keys[:mid]...),
		children: append([]uint32(nil), node.children[:mid+1]...),
	}
	right := internalNode{
		keys:     append([]document.IndexKey(nil), node.keys[mid+1:]...),
		children: append([]uint32(nil), node.children[mid+1:]...),
	}

	newPage, err := bt.engine.AllocatePage(txnID, storage.PageTypeIndex)
	if err != nil {
		return nil, err
	}
	writeInternalNode(newPage, right)
	if err := bt.engine.WritePage(txnID, newPage); err != nil {
		return nil, err
	}

	writeInternalNode(page, left)
	if err := bt.engine.WritePage(txnID, page); err != nil {
		return nil, err
	}

	return &splitResult{key: pushUpKey, newPageID: newPage.PageID()}, nil
}

// ---------- remove ----------

// Remove deletes a (key, location) entry from its leaf. Leaves are never
// rebalanced or merged after a delete (spec §9 open question, resolved in
// DESIGN.md), and emptied leaf space is not reclaimed; Collection.Compact
// frees data pages only, not B+Tree pages.
func (bt *BTree) Remove(txnID uint64, key document.IndexKey, loc document.DocumentLocation) error {
	page, err := bt.findLeaf(txnID, key)
	if err != nil {
		return err
	}
	entries := readLeafEntries(bt.engine.PageSize(), page.Data)
	nextLeaf := readLeafNext(page.Data)
	for i, e := range entries {
		if e.Key.Compare(key) == 0 && e.Loc == loc {
			entries = append(entries[:i], entries[i+1:]...)
			writeLeafNode(page, entries, nextLeaf)
			return bt.engine.WritePage(txnID, page)
		}
	}
	return nil
}

// AllEntries walks every leaf in order; used by tests and Compact.
func (bt *BTree) AllEntries(txnID uint64) ([]Entry, error) {
	return bt.RangeScan(txnID, nil, nil)
}

func getUint16(b []byte, off int) uint16 {
	return uint16(b[off]) | uint16(b[off+1])<<8
}
func putUint16(b []byte, off int, v uint16) {
	b[off] = byte(v)
	b[off+1] = byte(v >> 8)
}
func getUint32(b []byte, off int) uint32 {
	return uint32(b[off]) | uint32(b[off+1])<<8 | uint32(b[off+2])<<16 | uint32(b[off+3])<<24
}
func putUint32(b []byte, off int, v uint32) {
	b[off] = byte(v)
	b[off+1] = byte(v >> 8)
	b[off+2] = byte(v >> 16)
	b[off+3] = byte(v >> 24)
}
