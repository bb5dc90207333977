package document

import "encoding/binary"

// DocumentLocation identifies a slot on a data page (spec §3).
type DocumentLocation struct {
	PageID    uint32
	SlotIndex uint16
}

// LocationSize is the encoded size of a DocumentLocation in a B+Tree leaf
// entry (spec §3: "location:6B").
const LocationSize = 6

// Encode writes the location in its 6-byte on-disk form.
func (l DocumentLocation) Encode() [LocationSize]byte {
	var b [LocationSize]byte
	binary.LittleEndian.PutUint32(b[0:4], l.PageID)
	binary.LittleEndian.PutUint16(b[4:6], l.SlotIndex)
	return b
}

// DecodeLocation reads a location from its 6-byte on-disk form.
func DecodeLocation(b []byte) DocumentLocation {
	return DocumentLocation{
		PageID:    binary.LittleEndian.Uint32(b[0:4]),
		SlotIndex: binary.LittleEndian.Uint16(b[4:6]),
	}
}

// IsZero reports whether this is the zero location (never a valid slot,
// since slot 0 on page 0 is the file header).
func (l DocumentLocation) IsZero() bool {
	return l.PageID == 0 && l.SlotIndex == 0
}
