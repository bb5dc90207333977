package mapper

import (
	"testing"

	"github.com/EntglDb/blite/document"
)

type testEntity struct {
	ID   document.IndexKey
	Name string
}

// growingMapper simulates a Serialize that only fits once the buffer
// reaches a given size, exercising the tier-retry ladder.
type growingMapper struct {
	neededSize int
}

func (g growingMapper) Serialize(e testEntity, buf []byte) (int, error) {
	if len(buf) < g.neededSize {
		return 0, ErrBufferTooSmall
	}
	copy(buf, e.Name)
	return len(e.Name), nil
}

func (g growingMapper) Deserialize(data []byte) (testEntity, error) {
	return testEntity{Name: string(data)}, nil
}

func (g growingMapper) GetID(e testEntity) document.IndexKey { return e.ID }
func (g growingMapper) SetID(e testEntity, id document.IndexKey) testEntity {
	e.ID = id
	return e
}
func (g growingMapper) ToIndexKey(e testEntity, keyPath string) (document.IndexKey, error) {
	if keyPath == "name" {
		return document.EncodeString(e.Name), nil
	}
	return e.ID, nil
}
func (g growingMapper) UsedKeys() []string { return []string{"id", "name"} }
func (g growingMapper) GetSchema() Schema {
	return Schema{Fields: []SchemaField{
		{Name: "id", Type: document.TypeObjectID},
		{Name: "name", Type: document.TypeString},
	}}
}

func TestSerializeFitsFirstTier(t *testing.T) {
	pool := NewPool()
	m := growingMapper{neededSize: 10}
	data, release, err := Serialize[testEntity](m, testEntity{Name: "hi"}, pool)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	defer release()
	if string(data) != "hi" {
		t.Fatalf("expected 'hi', got %q", data)
	}
}

func TestSerializeRetriesNextTier(t *testing.T) {
	pool := NewPool()
	m := growingMapper{neededSize: PoolTierSizes[0] + 1}
	data, release, err := Serialize[testEntity](m, testEntity{Name: "overflow"}, pool)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	defer release()
	if string(data) != "overflow" {
		t.Fatalf("expected 'overflow', got %q", data)
	}
}

func TestSerializeTooLargeFails(t *testing.T) {
	pool := NewPool()
	m := growingMapper{neededSize: PoolTierSizes[len(PoolTierSizes)-1] + 1}
	_, _, err := Serialize[testEntity](m, testEntity{Name: "x"}, pool)
	if err != ErrDocumentTooLarge {
		t.Fatalf("expected ErrDocumentTooLarge, got %v", err)
	}
}

func TestSchemaHashStableForSameFields(t *testing.T) {
	s1 := Schema{Fields: []SchemaField{{Name: "a", Type: document.TypeInt32}, {Name: "b", Type: document.TypeString}}}
	s2 := Schema{Fields: []SchemaField{{Name: "a", Type: document.TypeInt32}, {Name: "b", Type: document.TypeString}}}
	if s1.Hash() != s2.Hash() {
		t.Error("expected identical schemas to hash identically")
	}
}

func TestSchemaHashDiffersOnFieldOrder(t *testing.T) {
	s1 := Schema{Fields: []SchemaField{{Name: "a", Type: document.TypeInt32}, {Name: "b", Type: document.TypeString}}}
	s2 := Schema{Fields: []SchemaField{{Name: "b", Type: document.TypeString}, {Name: "a", Type: document.TypeInt32}}}
	if s1.Hash() == s2.Hash() {
		t.Error("expected reordered fields to hash differently")
	}
}

func TestToIndexKeyProjection(t *testing.T) {
	m := growingMapper{}
	e := testEntity{Name: "carol"}
	key, err := m.ToIndexKey(e, "name")
	if err != nil {
		t.Fatalf("to index key: %v", err)
	}
	if key.Compare(document.EncodeString("carol")) != 0 {
		t.Errorf("expected projected key to equal EncodeString(%q)", e.Name)
	}
}
