// Package mapper defines the fixed contract a host type must satisfy to
// be stored in a BLite collection, and the buffer pool collections
// serialize through (spec §1/§4.7/§9 "dynamic reflection").
package mapper

import (
	"errors"
	"fmt"

	"github.com/EntglDb/blite/document"
)

// ErrDocumentTooLarge is returned when an entity does not fit in the
// largest pooled buffer tier.
var ErrDocumentTooLarge = errors.New("mapper: document too large")

// SchemaVersion identifies one persisted shape of a collection's
// documents: an incrementing version number plus a structural hash used
// to detect drift between the in-memory mapper and what was last
// persisted.
type SchemaVersion struct {
	Version int32
	Hash    uint64
}

// Schema names and orders every field this type's mapper may write,
// paired with the wire type it serializes to. Two schemas with the same
// field names, types and order hash identically.
type Schema struct {
	Fields []SchemaField
}

// SchemaField is one named, typed member of a Schema.
type SchemaField struct {
	Name string
	Type document.ElementType
}

// Hash folds the schema into a single comparable value (FNV-1a over the
// ordered field name/type pairs) so collections can detect a schema
// change without storing the full field list twice.
func (s Schema) Hash() uint64 {
	const (
		offset64 = 14695981039346656037
		prime64  = 1099511628211
	)
	h := uint64(offset64)
	for _, f := range s.Fields {
		for i := 0; i < len(f.Name); i++ {
			h ^= uint64(f.Name[i])
			h *= prime64
		}
		h ^= uint64(f.Type)
		h *= prime64
	}
	return h
}

// VersionField names the "_v" schema-version field. Serialize does not
// append it, and no code in this module writes or reads it; a document
// carries a _v field only if its Mapper emits one itself.
const VersionField = "_v"

// Mapper is the capability object a host type supplies so BLite's
// storage core never needs runtime reflection (spec §1/§9). A
// DocumentCollection[T] is constructed with exactly one Mapper[T] and
// uses it for every serialize/deserialize/index-key/id operation.
type Mapper[T any] interface {
	// Serialize writes entity into buf (drawn from Pool, sized for a
	// retry ladder) and returns the number of bytes written, or an error
	// if the encoding does not fit — the caller retries with a larger
	// buffer tier.
	Serialize(entity T, buf []byte) (int, error)

	// Deserialize reconstructs an entity from previously serialized
	// bytes (the document's on-disk envelope, overflow chain already
	// reassembled by the caller).
	Deserialize(data []byte) (T, error)

	// GetID extracts the entity's primary key as a document.IndexKey.
	GetID(entity T) document.IndexKey

	// SetID returns a copy of entity with its primary key set to id;
	// used when BLite assigns a fresh ObjectID/Guid on insert.
	SetID(entity T, id document.IndexKey) T

	// ToIndexKey projects a named field path of entity into its
	// document.IndexKey form, for secondary index maintenance.
	ToIndexKey(entity T, keyPath string) (document.IndexKey, error)

	// UsedKeys lists every field name this mapper may emit, for schema
	// comparison and projection/query planning.
	UsedKeys() []string

	// GetSchema returns the mapper's current in-memory schema.
	GetSchema() Schema
}

// Serialize runs m.Serialize against the pooled buffer ladder (spec
// §4.7), retrying at the next size tier on overflow and returning
// ErrDocumentTooLarge once the largest tier is exhausted. The returned
// slice is a reference into the pool; the caller must call the returned
// release function once done with it, typically after copying it into a
// page.
func Serialize[T any](m Mapper[T], entity T, pool *Pool) ([]byte, func(), error) {
	buf, tier, ok := pool.Get()
	for {
		if !ok {
			return nil, nil, ErrDocumentTooLarge
		}
		n, err := m.Serialize(entity, buf)
		if err == nil {
			return buf[:n], func() { pool.Put(tier, buf) }, nil
		}
		pool.Put(tier, buf)
		if !errors.Is(err, ErrBufferTooSmall) {
			return nil, nil, fmt.Errorf("mapper: serialize: %w", err)
		}
		buf, tier, ok = pool.Next(tier)
	}
}

// ErrBufferTooSmall is the sentinel a Mapper[T].Serialize implementation
// returns to request the next larger pooled buffer tier.
var ErrBufferTooSmall = errors.New("mapper: buffer too small")
