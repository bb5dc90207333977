// Package blite is the embedded single-process document database
// described by spec §1: one Engine per open database file (or in-memory
// instance), a persisted collection catalog, and typed collections
// layered on top via mapper.Mapper[T] (spec §1/§4.7/§9).
package blite

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/EntglDb/blite/collection"
	"github.com/EntglDb/blite/mapper"
	"github.com/EntglDb/blite/storage"
)

// Sentinel errors for the sub-kinds named in spec §7. Where a lower
// package already owns the concrete condition (collection.ErrNotFound,
// collection.ErrUniqueViolation, mapper.ErrDocumentTooLarge), that
// error is what callers actually see — these root aliases exist so a
// caller can errors.Is against the vocabulary spec §7 names without
// reaching into a subpackage, and so Engine's own checks (schema drift,
// transaction misuse, unsupported query shapes) have a home.
var (
	ErrIo                      = errors.New("blite: i/o error")
	ErrCorrupted               = errors.New("blite: corrupted database")
	ErrUniqueViolation         = collection.ErrUniqueViolation
	ErrDocumentTooLarge        = mapper.ErrDocumentTooLarge
	ErrInvalidTransactionState = errors.New("blite: invalid transaction state")
	ErrSchemaMismatch          = errors.New("blite: schema mismatch")
	ErrParseError              = errors.New("blite: parse error")
	ErrUnsupportedQuery        = errors.New("blite: unsupported query")
)

// Config configures Open (spec §6: "no environment variables are part
// of the core contract" — every knob is passed explicitly here).
type Config struct {
	// PageSize is the on-disk page size for a new database file. Zero
	// falls back to storage.DefaultPageSize. When reopening an existing
	// file, a non-zero PageSize must match the page size recorded in
	// that file's header, or Open fails with ErrSchemaMismatch (spec
	// §4.1); zero accepts whatever page size the file already has.
	PageSize uint32

	// InitialSize is accepted but not used: Open pre-allocates no pages,
	// whatever its value.
	InitialSize uint32

	// ReadOnly opens the database file rejecting all writes.
	ReadOnly bool

	// Logger receives Engine's open and checkpoint-complete messages;
	// WAL replay itself is not logged. Nil disables logging entirely —
	// Engine never logs on its own otherwise.
	Logger *log.Logger
}

// Engine is BLite's database handle: one StorageEngine plus the
// collection catalog persisted alongside it.
type Engine struct {
	mu      sync.Mutex
	storage *storage.StorageEngine
	catalog *collection.Catalog
	logger  *log.Logger
}

// Open opens or creates a database file at path. cfg.PageSize is passed
// through unresolved (zero included): storage.OpenEngine only falls back
// to storage.DefaultPageSize when creating a new file, and validates a
// non-zero PageSize against an existing file's header otherwise.
func Open(path string, cfg Config) (*Engine, error) {
	var se *storage.StorageEngine
	var err error
	if cfg.ReadOnly {
		se, err = storage.OpenEngineReadOnly(path)
	} else {
		se, err = storage.OpenEngine(path, cfg.PageSize)
	}
	if err != nil {
		if errors.Is(err, storage.ErrPageSizeMismatch) {
			return nil, fmt.Errorf("%w: %s", ErrSchemaMismatch, err)
		}
		return nil, fmt.Errorf("blite: open %s: %w", path, err)
	}
	return newEngine(se, cfg.Logger)
}

// OpenMemory opens an entirely in-memory database with no backing file
// and no WAL sibling file (spec §1.1 engine modes) — used for fast unit
// tests and ephemeral sessions.
func OpenMemory(cfg Config) (*Engine, error) {
	pageSize := cfg.PageSize
	if pageSize == 0 {
		pageSize = storage.DefaultPageSize
	}
	se, err := storage.OpenEngineInMemory(pageSize)
	if err != nil {
		return nil, fmt.Errorf("blite: open memory engine: %w", err)
	}
	return newEngine(se, cfg.Logger)
}

func newEngine(se *storage.StorageEngine, logger *log.Logger) (*Engine, error) {
	e := &Engine{storage: se, logger: logger}

	txnID, err := se.Begin()
	if err != nil {
		se.Close()
		return nil, fmt.Errorf("blite: begin catalog load: %w", err)
	}
	cat, err := collection.LoadCatalog(se, txnID, se.CatalogRoot())
	if err != nil {
		se.Rollback(txnID)
		se.Close()
		return nil, fmt.Errorf("blite: load catalog: %w", err)
	}
	if err := se.Commit(txnID); err != nil {
		se.Close()
		return nil, fmt.Errorf("blite: commit catalog load: %w", err)
	}
	e.catalog = cat
	e.logf("blite: opened database, %d collection(s)", len(cat.Collections))
	return e, nil
}

func (e *Engine) logf(format string, args ...interface{}) {
	if e.logger != nil {
		e.logger.Printf(format, args...)
	}
}

// Begin starts a new transaction, returning the transaction id every
// collection operation on this Engine is threaded through.
func (e *Engine) Begin() (uint64, error) {
	return e.storage.Begin()
}

// Commit finalizes a transaction's writes.
func (e *Engine) Commit(txnID uint64) error {
	return e.storage.Commit(txnID)
}

// Rollback discards a transaction's writes.
func (e *Engine) Rollback(txnID uint64) error {
	return e.storage.Rollback(txnID)
}

// Collections returns the names of every collection in the catalog.
func (e *Engine) Collections() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	names := make([]string, 0, len(e.catalog.Collections))
	for name := range e.catalog.Collections {
		names = append(names, name)
	}
	return names
}

// HasCollection reports whether name is already registered.
func (e *Engine) HasCollection(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.catalog.Collections[name]
	return ok
}

// persistCatalogLocked writes the in-memory catalog to a fresh meta
// page chain and updates the page file's catalog root pointer. Callers
// hold e.mu.
func (e *Engine) persistCatalogLocked() error {
	txnID, err := e.storage.Begin()
	if err != nil {
		return err
	}
	root, err := collection.SaveCatalog(e.storage, txnID, e.catalog)
	if err != nil {
		e.storage.Rollback(txnID)
		return err
	}
	if err := e.storage.Commit(txnID); err != nil {
		return err
	}
	return e.storage.SetCatalogRoot(root)
}

// Checkpoint persists the collection catalog and then fsyncs the page
// file and truncates the WAL (spec §4 Checkpoint), now that every
// committed write is durable in the page file itself.
func (e *Engine) Checkpoint() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.persistCatalogLocked(); err != nil {
		return fmt.Errorf("blite: checkpoint: persist catalog: %w", err)
	}
	if err := e.storage.Checkpoint(); err != nil {
		return fmt.Errorf("blite: checkpoint: %w", err)
	}
	e.logf("blite: checkpoint complete")
	return nil
}

// Close persists the catalog and closes the underlying storage engine,
// which checkpoints the WAL: committed pages are written to the page
// file and the WAL is truncated.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.persistCatalogLocked(); err != nil {
		return fmt.Errorf("blite: close: persist catalog: %w", err)
	}
	return e.storage.Close()
}

// Stats reports page-cache effectiveness, mirroring the teacher's
// CacheStats/CacheHitRate (spec §3 supplement: useful for the host
// application, not required by any invariant).
type Stats struct {
	CacheHits     uint64
	CacheMisses   uint64
	CacheSize     int
	CacheCapacity int
}

// HitRate returns the cache hit rate in [0,1], or 0 if there have been
// no lookups yet.
func (s Stats) HitRate() float64 {
	total := s.CacheHits + s.CacheMisses
	if total == 0 {
		return 0
	}
	return float64(s.CacheHits) / float64(total)
}

// Stats snapshots the page cache's cumulative counters.
func (e *Engine) Stats() Stats {
	hits, misses, size, capacity := e.storage.CacheStats()
	return Stats{CacheHits: hits, CacheMisses: misses, CacheSize: size, CacheCapacity: capacity}
}

// OpenCollection attaches (creating if necessary) a typed collection
// named name. This is a package-level generic function rather than an
// Engine method because Go forbids a method from introducing its own
// type parameter beyond the receiver's — Engine itself cannot hold a
// heterogeneous registry of Collection[T] for differing T, only the
// catalog's untyped CollectionMeta entries. Callers must pass the same
// mapper.Mapper[T] consistently for a given collection name.
func OpenCollection[T any](e *Engine, txnID uint64, name string, m mapper.Mapper[T]) (*collection.Collection[T], error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if meta, ok := e.catalog.Collections[name]; ok {
		return collection.Open[T](e.storage, meta, m), nil
	}
	col, err := collection.New[T](e.storage, txnID, name, m)
	if err != nil {
		return nil, fmt.Errorf("blite: create collection %s: %w", name, err)
	}
	e.catalog.Collections[name] = col.Meta()
	return col, nil
}

// SaveCollection refreshes the catalog's entry for col — its primary
// B+Tree root, first data page, schema-version history and secondary
// index descriptors change as col is mutated, so this must be called
// before Checkpoint/Close to avoid
// reopening a stale primary root on the next Open.
func SaveCollection[T any](e *Engine, col *collection.Collection[T]) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.catalog.Collections[col.Name()] = col.Meta()
}

// DropCollection removes name's catalog entry. It does not reclaim the
// collection's data/index pages — compaction of dropped collections is
// left to a future vacuum pass, the same open question the collection
// package's own Compact entry point addresses for live collections.
func (e *Engine) DropCollection(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.catalog.Collections[name]; !ok {
		return fmt.Errorf("blite: drop collection %s: %w", name, collection.ErrNotFound)
	}
	delete(e.catalog.Collections, name)
	return nil
}
