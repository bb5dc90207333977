// Package index implements BLite's secondary index catalog: one Manager
// per collection, each entry backed by a btree.BTree.
package index

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/EntglDb/blite/btree"
	"github.com/EntglDb/blite/document"
	"github.com/EntglDb/blite/storage"
)

// ErrUniqueViolation is returned (wrapped with the offending index name)
// when a unique index already holds an entry for a projected key. The
// collection package recognizes it via errors.Is and re-exports it as
// collection.ErrUniqueViolation so callers never need to import index
// directly to detect the condition.
var ErrUniqueViolation = errors.New("index: unique violation")

// Descriptor is the persisted identity of one secondary index: its name,
// the key path it projects from a document, whether duplicate keys are
// rejected, and the root page of its B+Tree.
type Descriptor struct {
	Name       string
	KeyPath    string
	Unique     bool
	RootPageID uint32
}

// Index wraps one B+Tree with the descriptor that names it.
type Index struct {
	Descriptor Descriptor
	tree       *btree.BTree
	mu         sync.RWMutex
}

// RootPageID returns the on-disk root of the underlying B+Tree, for
// persisting the descriptor in the collection catalog.
func (idx *Index) RootPageID() uint32 { return idx.tree.RootPageID }

func (idx *Index) Add(txnID uint64, key document.IndexKey, loc document.DocumentLocation) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.Descriptor.Unique {
		existing, err := idx.tree.Lookup(txnID, key)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return fmt.Errorf("%w: index %q", ErrUniqueViolation, idx.Descriptor.Name)
		}
	}
	return idx.tree.Insert(txnID, key, loc)
}

func (idx *Index) Remove(txnID uint64, key document.IndexKey, loc document.DocumentLocation) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.tree.Remove(txnID, key, loc)
}

func (idx *Index) Lookup(txnID uint64, key document.IndexKey) ([]document.DocumentLocation, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.tree.Lookup(txnID, key)
}

func (idx *Index) RangeScan(txnID uint64, min, max document.IndexKey, ascending bool) ([]btree.Entry, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	entries, err := idx.tree.RangeScan(txnID, min, max)
	if err != nil {
		return nil, err
	}
	if !ascending {
		for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
			entries[i], entries[j] = entries[j], entries[i]
		}
	}
	return entries, nil
}

// KeyProjector extracts the IndexKey an entity contributes for a given
// key path; supplied by the collection package, which alone knows how to
// run a typed mapper over the entity.
type KeyProjector func(keyPath string) (document.IndexKey, error)

// Manager owns every secondary index for a single collection and fans out
// document events to each of them (spec §4.8).
type Manager struct {
	mu      sync.RWMutex
	engine  *storage.StorageEngine
	indexes map[string]*Index
}

func NewManager(engine *storage.StorageEngine) *Manager {
	return &Manager{engine: engine, indexes: make(map[string]*Index)}
}

// CreateIndex allocates a new empty B+Tree and registers it under name.
func (m *Manager) CreateIndex(txnID uint64, name, keyPath string, unique bool) (*Index, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.indexes[name]; exists {
		return nil, fmt.Errorf("index: %q already exists", name)
	}
	tree, err := btree.New(m.engine, txnID)
	if err != nil {
		return nil, err
	}
	idx := &Index{Descriptor: Descriptor{Name: name, KeyPath: keyPath, Unique: unique, RootPageID: tree.RootPageID}, tree: tree}
	m.indexes[name] = idx
	return idx, nil
}

// OpenIndex reattaches to an index whose descriptor was loaded from the
// collection catalog (at engine open time).
func (m *Manager) OpenIndex(desc Descriptor) *Index {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := &Index{Descriptor: desc, tree: btree.Open(m.engine, desc.RootPageID)}
	m.indexes[desc.Name] = idx
	return idx
}

// DropIndex removes an index from the catalog. The underlying B+Tree
// pages are abandoned and never freed, Compact included, matching the
// B+Tree's own no-rebalance-on-delete policy.
func (m *Manager) DropIndex(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.indexes[name]; !exists {
		return fmt.Errorf("index: %q not found", name)
	}
	delete(m.indexes, name)
	return nil
}

func (m *Manager) GetIndex(name string) *Index {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.indexes[name]
}

// Indexes returns every registered index descriptor, for persistence and
// for get_indexes().
func (m *Manager) Indexes() []*Index {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]*Index, 0, len(m.indexes))
	for _, idx := range m.indexes {
		result = append(result, idx)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Descriptor.Name < result[j].Descriptor.Name })
	return result
}

// CheckUnique verifies, for every unique index, that no existing entry
// already carries the key the entity would project — without writing
// anything. Called before any data or primary-index write so a later
// violation can never leave a partial insert behind (spec invariant 8).
func (m *Manager) CheckUnique(txnID uint64, project KeyProjector) error {
	for _, idx := range m.Indexes() {
		if !idx.Descriptor.Unique {
			continue
		}
		key, err := project(idx.Descriptor.KeyPath)
		if err != nil {
			return err
		}
		existing, err := idx.Lookup(txnID, key)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return fmt.Errorf("%w: index %q", ErrUniqueViolation, idx.Descriptor.Name)
		}
	}
	return nil
}

// InsertIntoAll projects and inserts loc into every registered index.
func (m *Manager) InsertIntoAll(txnID uint64, project KeyProjector, loc document.DocumentLocation) error {
	for _, idx := range m.Indexes() {
		key, err := project(idx.Descriptor.KeyPath)
		if err != nil {
			return err
		}
		if err := idx.Add(txnID, key, loc); err != nil {
			return err
		}
	}
	return nil
}

// UpdateInAll re-points every index from oldLoc to newLoc. If an index's
// projected key is unchanged between the old and new entity, the index
// is left untouched.
func (m *Manager) UpdateInAll(txnID uint64, oldProject, newProject KeyProjector, oldLoc, newLoc document.DocumentLocation) error {
	for _, idx := range m.Indexes() {
		oldKey, err := oldProject(idx.Descriptor.KeyPath)
		if err != nil {
			return err
		}
		newKey, err := newProject(idx.Descriptor.KeyPath)
		if err != nil {
			return err
		}
		if oldKey.Compare(newKey) == 0 {
			continue
		}
		if err := idx.Remove(txnID, oldKey, oldLoc); err != nil {
			return err
		}
		if err := idx.Add(txnID, newKey, newLoc); err != nil {
			return err
		}
	}
	return nil
}

// DeleteFromAll removes loc from every registered index.
func (m *Manager) DeleteFromAll(txnID uint64, project KeyProjector, loc document.DocumentLocation) error {
	for _, idx := range m.Indexes() {
		key, err := project(idx.Descriptor.KeyPath)
		if err != nil {
			return err
		}
		if err := idx.Remove(txnID, key, loc); err != nil {
			return err
		}
	}
	return nil
}

// Rebuild scans every (key, location) currently in the primary index and
// inserts the keyPath-projected key into a freshly created index, per
// spec §4.8: failed entities are skipped rather than aborting the whole
// rebuild.
func (m *Manager) Rebuild(txnID uint64, name string, primary *btree.BTree, project func(loc document.DocumentLocation) (document.IndexKey, error)) error {
	idx := m.GetIndex(name)
	if idx == nil {
		return fmt.Errorf("index: %q not found", name)
	}
	entries, err := primary.AllEntries(txnID)
	if err != nil {
		return err
	}
	for _, e := range entries {
		key, err := project(e.Loc)
		if err != nil {
			continue
		}
		if err := idx.Add(txnID, key, e.Loc); err != nil {
			continue
		}
	}
	return nil
}
