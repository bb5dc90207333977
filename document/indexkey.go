package document

import (
	"bytes"
	"encoding/binary"
	"math"
	"time"

	"github.com/google/uuid"
)

// IndexKey is a variable-length byte string with total order by unsigned
// lexicographic compare, tie-broken by length (spec §3). Every B+Tree key
// in BLite is an IndexKey.
type IndexKey []byte

// Compare returns -1, 0, or 1 per the spec's ordering rule.
func (k IndexKey) Compare(other IndexKey) int {
	n := len(k)
	if len(other) < n {
		n = len(other)
	}
	if c := bytes.Compare(k[:n], other[:n]); c != 0 {
		return c
	}
	switch {
	case len(k) < len(other):
		return -1
	case len(k) > len(other):
		return 1
	default:
		return 0
	}
}

// MinKey sorts before every encoded value.
func MinKey() IndexKey { return IndexKey{} }

// MaxKey sorts after every encoded value the encoders below can produce.
func MaxKey() IndexKey {
	k := make(IndexKey, 32)
	for i := range k {
		k[i] = 0xFF
	}
	return k
}

// EncodeObjectID yields the key form of an ObjectID: its 12 raw bytes.
func EncodeObjectID(id ObjectID) IndexKey {
	k := make(IndexKey, ObjectIDLen)
	copy(k, id[:])
	return k
}

// EncodeInt64 encodes a signed integer so unsigned lexicographic order
// matches numeric order: big-endian two's complement with the sign bit
// flipped.
func EncodeInt64(v int64) IndexKey {
	u := uint64(v) ^ (1 << 63)
	k := make(IndexKey, 8)
	binary.BigEndian.PutUint64(k, u)
	return k
}

// EncodeInt32 encodes a 32-bit signed integer with the same sign-flip
// scheme, widened to 8 bytes so int32 and int64 keys interleave correctly
// when a field's stored width varies across documents.
func EncodeInt32(v int32) IndexKey {
	return EncodeInt64(int64(v))
}

// EncodeFloat64 encodes a double so that ordering matches numeric order.
// IEEE-754 bit patterns already order correctly for same-signed values;
// flipping the sign bit for non-negatives and all bits for negatives
// makes cross-sign comparisons correct too.
func EncodeFloat64(v float64) IndexKey {
	bits := math.Float64bits(v)
	if bits&(1<<63) != 0 {
		bits = ^bits
	} else {
		bits |= 1 << 63
	}
	k := make(IndexKey, 8)
	binary.BigEndian.PutUint64(k, bits)
	return k
}

// EncodeString encodes a string key as its raw UTF-8 bytes.
func EncodeString(s string) IndexKey {
	return IndexKey(s)
}

// EncodeBool encodes a boolean as a single byte.
func EncodeBool(b bool) IndexKey {
	if b {
		return IndexKey{1}
	}
	return IndexKey{0}
}

// EncodeGUID encodes a github.com/google/uuid UUID as its 16 raw bytes.
func EncodeGUID(id uuid.UUID) IndexKey {
	k := make(IndexKey, 16)
	copy(k, id[:])
	return k
}

// EncodeDateTime encodes a timestamp as milliseconds since epoch using
// the same sign-flipped scheme as EncodeInt64, so chronological order
// matches key order.
func EncodeDateTime(unixMilli int64) IndexKey {
	return EncodeInt64(unixMilli)
}

// IncrementLastByte returns the smallest key greater than every key with
// prefix p — used by the optimizer to turn string.startsWith("p") into a
// half-open range [p, p').
func IncrementLastByte(p IndexKey) IndexKey {
	out := make(IndexKey, len(p))
	copy(out, p)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i] < 0xFF {
			out[i]++
			return out[:i+1]
		}
	}
	// p was all 0xFF bytes: there is no finite successor, so the caller's
	// upper bound should be treated as unbounded (MaxKey).
	return MaxKey()
}

// EncodeValue encodes an arbitrary BLite value (as produced by
// InferType) to its IndexKey form, used both for primary-key encoding
// and for projecting a secondary-index key out of a document field.
// Binary, Decimal128, document and array values have no key form and
// encode as MinKey.
func EncodeValue(v interface{}) IndexKey {
	switch x := v.(type) {
	case nil:
		return MinKey()
	case bool:
		return EncodeBool(x)
	case int32:
		return EncodeInt32(x)
	case int:
		return EncodeInt64(int64(x))
	case int64:
		return EncodeInt64(x)
	case float64:
		return EncodeFloat64(x)
	case string:
		return EncodeString(x)
	case ObjectID:
		return EncodeObjectID(x)
	case uuid.UUID:
		return EncodeGUID(x)
	case time.Time:
		return EncodeDateTime(x.UnixMilli())
	default:
		return MinKey()
	}
}
