// Package document implements the BSON-subset document envelope BLite
// stores on disk: a length-prefixed sequence of typed, named elements
// terminated by a zero byte (spec §6).
package document

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"
)

// ElementType tags the wire type of a document field. Values match the
// BSON subset listed in spec §6.
type ElementType byte

const (
	TypeDouble     ElementType = 0x01
	TypeString     ElementType = 0x02
	TypeDocument   ElementType = 0x03
	TypeArray      ElementType = 0x04
	TypeBinary     ElementType = 0x05
	TypeObjectID   ElementType = 0x07
	TypeBoolean    ElementType = 0x08
	TypeDateTime   ElementType = 0x09
	TypeNull       ElementType = 0x0A
	TypeInt32      ElementType = 0x10
	TypeInt64      ElementType = 0x12
	TypeDecimal128 ElementType = 0x13
)

// typeOrder gives the BSON total order across types used by BLQL
// comparisons (spec §4.9): null < bool < numeric < string < ObjectId <
// DateTime < binary < document < array.
func typeOrder(t ElementType) int {
	switch t {
	case TypeNull:
		return 0
	case TypeBoolean:
		return 1
	case TypeInt32, TypeInt64, TypeDouble, TypeDecimal128:
		return 2
	case TypeString:
		return 3
	case TypeObjectID:
		return 4
	case TypeDateTime:
		return 5
	case TypeBinary:
		return 6
	case TypeDocument:
		return 7
	case TypeArray:
		return 8
	default:
		return 9
	}
}

// Decimal128 is a minimal placeholder representation: BLite stores the
// value as two little-endian 64-bit words, Lo first, and never interprets it
// arithmetically — full Decimal128 arithmetic is outside this spec's
// scope, only the wire shape is required.
type Decimal128 struct {
	Hi, Lo uint64
}

// Binary is an opaque byte payload tagged with a subtype, mirroring
// BSON's binary element.
type Binary struct {
	Subtype byte
	Data    []byte
}

// Field is one named, typed element of a Document.
type Field struct {
	Name  string
	Type  ElementType
	Value interface{} // see InferType for the Go-type mapping
}

// Document is an ordered sequence of fields. Field order is preserved on
// encode/decode because BLQL projections and index-key extraction expect
// document order to be stable for a given input.
type Document struct {
	Fields []Field
}

// New creates an empty document.
func New() *Document {
	return &Document{}
}

// Set adds or replaces a named field, inferring its wire type from v.
func (d *Document) Set(name string, v interface{}) {
	t, val := InferType(v)
	for i := range d.Fields {
		if d.Fields[i].Name == name {
			d.Fields[i].Type, d.Fields[i].Value = t, val
			return
		}
	}
	d.Fields = append(d.Fields, Field{Name: name, Type: t, Value: val})
}

// Get returns a top-level field's value.
func (d *Document) Get(name string) (interface{}, bool) {
	for _, f := range d.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return nil, false
}

// GetPath resolves a dotted path through nested documents, e.g. "a.b.c".
func (d *Document) GetPath(path []string) (interface{}, bool) {
	if len(path) == 0 {
		return nil, false
	}
	v, ok := d.Get(path[0])
	if !ok {
		return nil, false
	}
	if len(path) == 1 {
		return v, true
	}
	sub, ok := v.(*Document)
	if !ok {
		return nil, false
	}
	return sub.GetPath(path[1:])
}

// SetPath sets a dotted path, creating intermediate sub-documents.
func (d *Document) SetPath(path []string, v interface{}) {
	if len(path) == 0 {
		return
	}
	if len(path) == 1 {
		d.Set(path[0], v)
		return
	}
	cur, ok := d.Get(path[0])
	sub, ok2 := cur.(*Document)
	if !ok || !ok2 {
		sub = New()
		d.Set(path[0], sub)
	}
	sub.SetPath(path[1:], v)
}

// InferType maps a Go value to its wire ElementType and canonical
// in-memory representation.
func InferType(v interface{}) (ElementType, interface{}) {
	switch x := v.(type) {
	case nil:
		return TypeNull, nil
	case bool:
		return TypeBoolean, x
	case int32:
		return TypeInt32, x
	case int:
		return TypeInt64, int64(x)
	case int64:
		return TypeInt64, x
	case float64:
		return TypeDouble, x
	case string:
		return TypeString, x
	case time.Time:
		return TypeDateTime, x
	case ObjectID:
		return TypeObjectID, x
	case Binary:
		return TypeBinary, x
	case Decimal128:
		return TypeDecimal128, x
	case *Document:
		return TypeDocument, x
	case []interface{}:
		return TypeArray, x
	default:
		return TypeNull, nil
	}
}

// ---------- wire encode/decode ----------

// KeyDict maps field names to compressed 16-bit ids. Encode/Decode accept
// a nil dict, in which case every field name is written verbatim (raw
// cstring form).
type KeyDict struct {
	toID   map[string]uint16
	toName map[uint16]string
}

// NewKeyDict creates an empty dictionary.
func NewKeyDict() *KeyDict {
	return &KeyDict{toID: make(map[string]uint16), toName: make(map[uint16]string)}
}

// Intern assigns (or returns the existing) compressed id for a name.
func (kd *KeyDict) Intern(name string) uint16 {
	if id, ok := kd.toID[name]; ok {
		return id
	}
	id := uint16(len(kd.toID))
	kd.toID[name] = id
	kd.toName[id] = name
	return id
}

// Name resolves a compressed id back to its field name.
func (kd *KeyDict) Name(id uint16) (string, bool) {
	n, ok := kd.toName[id]
	return n, ok
}

const (
	nameFormRaw        byte = 0
	nameFormCompressed byte = 1
)

// Encode serializes the document into a newly allocated byte slice and
// returns it. If dict is non-nil, field names are written as
// compressed keys and interned into dict as a side effect.
func Encode(d *Document, dict *KeyDict) ([]byte, error) {
	body, err := encodeFields(d.Fields, dict)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 4+len(body)+1)
	binary.LittleEndian.PutUint32(out, uint32(len(out)))
	copy(out[4:], body)
	out[len(out)-1] = 0x00
	return out, nil
}

func encodeFields(fields []Field, dict *KeyDict) ([]byte, error) {
	buf := make([]byte, 0, 64)
	for _, f := range fields {
		buf = append(buf, byte(f.Type))
		if dict != nil {
			id := dict.Intern(f.Name)
			buf = append(buf, nameFormCompressed)
			var idb [2]byte
			binary.LittleEndian.PutUint16(idb[:], id)
			buf = append(buf, idb[:]...)
		} else {
			buf = append(buf, nameFormRaw)
			buf = append(buf, []byte(f.Name)...)
			buf = append(buf, 0x00)
		}
		vb, err := encodeValue(f.Type, f.Value, dict)
		if err != nil {
			return nil, err
		}
		buf = append(buf, vb...)
	}
	return buf, nil
}

// Decode reads a document previously written by Encode. dict must be
// the same dictionary used at encode time whenever compressed keys were
// used; an unresolvable compressed key yields an error.
func Decode(data []byte, dict *KeyDict) (*Document, error) {
	if len(data) < 5 {
		return nil, errors.New("document: buffer too short")
	}
	total := binary.LittleEndian.Uint32(data)
	if int(total) > len(data) {
		return nil, fmt.Errorf("document: declared length %d exceeds buffer %d", total, len(data))
	}
	body := data[4 : total-1]
	doc := New()
	off := 0
	for off < len(body) {
		if off+1 > len(body) {
			return nil, errors.New("document: truncated element type")
		}
		t := ElementType(body[off])
		off++
		if off+1 > len(body) {
			return nil, errors.New("document: truncated name form")
		}
		form := body[off]
		off++
		var name string
		switch form {
		case nameFormRaw:
			end := off
			for end < len(body) && body[end] != 0 {
				end++
			}
			if end >= len(body) {
				return nil, errors.New("document: unterminated field name")
			}
			name = string(body[off:end])
			off = end + 1
		case nameFormCompressed:
			if off+2 > len(body) {
				return nil, errors.New("document: truncated compressed key")
			}
			id := binary.LittleEndian.Uint16(body[off:])
			off += 2
			if dict == nil {
				return nil, errors.New("document: compressed key with no dictionary")
			}
			n, ok := dict.Name(id)
			if !ok {
				return nil, fmt.Errorf("document: unknown compressed key %d", id)
			}
			name = n
		default:
			return nil, fmt.Errorf("document: bad name form %d", form)
		}
		val, n, err := decodeValue(t, body[off:], dict)
		if err != nil {
			return nil, err
		}
		off += n
		doc.Fields = append(doc.Fields, Field{Name: name, Type: t, Value: val})
	}
	return doc, nil
}

func encodeValue(t ElementType, v interface{}, dict *KeyDict) ([]byte, error) {
	switch t {
	case TypeNull:
		return nil, nil
	case TypeBoolean:
		if v.(bool) {
			return []byte{1}, nil
		}
		return []byte{0}, nil
	case TypeInt32:
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], uint32(v.(int32)))
		return b[:], nil
	case TypeInt64:
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], uint64(v.(int64)))
		return b[:], nil
	case TypeDouble:
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], math.Float64bits(v.(float64)))
		return b[:], nil
	case TypeDecimal128:
		dec := v.(Decimal128)
		var b [16]byte
		binary.LittleEndian.PutUint64(b[0:], dec.Lo)
		binary.LittleEndian.PutUint64(b[8:], dec.Hi)
		return b[:], nil
	case TypeString:
		s := v.(string)
		b := make([]byte, 4+len(s)+1)
		binary.LittleEndian.PutUint32(b, uint32(len(s)+1))
		copy(b[4:], s)
		return b, nil
	case TypeObjectID:
		oid := v.(ObjectID)
		return oid[:], nil
	case TypeDateTime:
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], uint64(v.(time.Time).UnixMilli()))
		return b[:], nil
	case TypeBinary:
		bin := v.(Binary)
		b := make([]byte, 5+len(bin.Data))
		binary.LittleEndian.PutUint32(b, uint32(len(bin.Data)))
		b[4] = bin.Subtype
		copy(b[5:], bin.Data)
		return b, nil
	case TypeDocument:
		sub := v.(*Document)
		enc, err := Encode(sub, dict)
		if err != nil {
			return nil, err
		}
		return enc, nil
	case TypeArray:
		arr := v.([]interface{})
		body := make([]byte, 0, 32)
		var cnt [2]byte
		binary.LittleEndian.PutUint16(cnt[:], uint16(len(arr)))
		body = append(body, cnt[:]...)
		for _, elem := range arr {
			et, ev := InferType(elem)
			body = append(body, byte(et))
			eb, err := encodeValue(et, ev, dict)
			if err != nil {
				return nil, err
			}
			body = append(body, eb...)
		}
		out := make([]byte, 4+len(body))
		binary.LittleEndian.PutUint32(out, uint32(len(body)))
		copy(out[4:], body)
		return out, nil
	default:
		return nil, fmt.Errorf("document: unknown element type %#x", t)
	}
}

func decodeValue(t ElementType, data []byte, dict *KeyDict) (interface{}, int, error) {
	switch t {
	case TypeNull:
		return nil, 0, nil
	case TypeBoolean:
		if len(data) < 1 {
			return nil, 0, errors.New("document: short bool")
		}
		return data[0] != 0, 1, nil
	case TypeInt32:
		if len(data) < 4 {
			return nil, 0, errors.New("document: short int32")
		}
		return int32(binary.LittleEndian.Uint32(data)), 4, nil
	case TypeInt64:
		if len(data) < 8 {
			return nil, 0, errors.New("document: short int64")
		}
		return int64(binary.LittleEndian.Uint64(data)), 8, nil
	case TypeDouble:
		if len(data) < 8 {
			return nil, 0, errors.New("document: short double")
		}
		return math.Float64frombits(binary.LittleEndian.Uint64(data)), 8, nil
	case TypeDecimal128:
		if len(data) < 16 {
			return nil, 0, errors.New("document: short decimal128")
		}
		return Decimal128{Lo: binary.LittleEndian.Uint64(data[0:]), Hi: binary.LittleEndian.Uint64(data[8:])}, 16, nil
	case TypeString:
		if len(data) < 4 {
			return nil, 0, errors.New("document: short string length")
		}
		n := int(binary.LittleEndian.Uint32(data))
		if len(data) < 4+n || n < 1 {
			return nil, 0, errors.New("document: short string body")
		}
		return string(data[4 : 4+n-1]), 4 + n, nil
	case TypeObjectID:
		if len(data) < ObjectIDLen {
			return nil, 0, errors.New("document: short objectid")
		}
		var oid ObjectID
		copy(oid[:], data[:ObjectIDLen])
		return oid, ObjectIDLen, nil
	case TypeDateTime:
		if len(data) < 8 {
			return nil, 0, errors.New("document: short datetime")
		}
		ms := int64(binary.LittleEndian.Uint64(data))
		return time.UnixMilli(ms).UTC(), 8, nil
	case TypeBinary:
		if len(data) < 5 {
			return nil, 0, errors.New("document: short binary header")
		}
		n := int(binary.LittleEndian.Uint32(data))
		if len(data) < 5+n {
			return nil, 0, errors.New("document: short binary body")
		}
		buf := make([]byte, n)
		copy(buf, data[5:5+n])
		return Binary{Subtype: data[4], Data: buf}, 5 + n, nil
	case TypeDocument:
		if len(data) < 4 {
			return nil, 0, errors.New("document: short nested length")
		}
		n := int(binary.LittleEndian.Uint32(data))
		if len(data) < n {
			return nil, 0, errors.New("document: short nested body")
		}
		sub, err := Decode(data[:n], dict)
		if err != nil {
			return nil, 0, err
		}
		return sub, n, nil
	case TypeArray:
		if len(data) < 4 {
			return nil, 0, errors.New("document: short array length")
		}
		n := int(binary.LittleEndian.Uint32(data))
		if len(data) < 4+n {
			return nil, 0, errors.New("document: short array body")
		}
		body := data[4 : 4+n]
		if len(body) < 2 {
			return []interface{}{}, 4 + n, nil
		}
		count := int(binary.LittleEndian.Uint16(body))
		off := 2
		arr := make([]interface{}, 0, count)
		for i := 0; i < count; i++ {
			if off >= len(body) {
				return nil, 0, errors.New("document: truncated array element")
			}
			et := ElementType(body[off])
			off++
			ev, m, err := decodeValue(et, body[off:], dict)
			if err != nil {
				return nil, 0, err
			}
			off += m
			arr = append(arr, ev)
		}
		return arr, 4 + n, nil
	default:
		return nil, 0, fmt.Errorf("document: unknown element type %#x", t)
	}
}
