package mapper

import (
	"strings"

	"github.com/EntglDb/blite/document"
)

// idField is the document field BLite reserves for the primary key when
// a collection stores schemaless documents directly (spec §3's identity
// generation rules apply to this field).
const idField = "_id"

// DocumentMapper is the Mapper[*document.Document] BLite uses for
// dynamic-schema collections: entities are raw document.Document
// values, as produced by the BLQL filter path (spec §4.9) rather than a
// host-language struct. It never compresses field names into a
// KeyDict, since a schemaless collection has no single dictionary to
// intern against.
type DocumentMapper struct{}

func (DocumentMapper) Serialize(d *document.Document, buf []byte) (int, error) {
	encoded, err := document.Encode(d, nil)
	if err != nil {
		return 0, err
	}
	if len(buf) < len(encoded) {
		return 0, ErrBufferTooSmall
	}
	copy(buf, encoded)
	return len(encoded), nil
}

func (DocumentMapper) Deserialize(data []byte) (*document.Document, error) {
	return document.Decode(data, nil)
}

func (DocumentMapper) GetID(d *document.Document) document.IndexKey {
	v, ok := d.Get(idField)
	if !ok {
		return nil
	}
	return document.EncodeValue(v)
}

func (DocumentMapper) SetID(d *document.Document, id document.IndexKey) *document.Document {
	if len(id) == document.ObjectIDLen {
		var oid document.ObjectID
		copy(oid[:], id)
		d.Set(idField, oid)
	} else {
		d.Set(idField, string(id))
	}
	return d
}

func (DocumentMapper) ToIndexKey(d *document.Document, keyPath string) (document.IndexKey, error) {
	v, ok := d.GetPath(strings.Split(keyPath, "."))
	if !ok {
		return nil, nil
	}
	return document.EncodeValue(v), nil
}

func (DocumentMapper) UsedKeys() []string {
	return nil
}

func (DocumentMapper) GetSchema() Schema {
	return Schema{}
}
