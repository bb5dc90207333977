package storage

import "encoding/binary"

// PageType identifies what a page on disk holds.
type PageType byte

const (
	PageTypeFree     PageType = 0
	PageTypeData     PageType = 1
	PageTypeIndex    PageType = 2
	PageTypeOverflow PageType = 3
	PageTypeMeta     PageType = 4
)

// Slot flag bits (spec §3).
const (
	SlotDeleted     uint32 = 1 << 0
	SlotHasOverflow uint32 = 1 << 1
	SlotCompressed  uint32 = 1 << 2
)

// DataPageHeaderSize is the 24-byte fixed header every data/index/
// overflow page carries (spec §3):
//
//	[0:4]   page_id            uint32
//	[4]     page_type          byte
//	[5:7]   slot_count         uint16
//	[7:9]   free_space_start   uint16  (end of the slot directory)
//	[9:11]  free_space_end     uint16  (start of the payload region)
//	[11:15] next_overflow_page uint32
//	[15:23] txn_id             uint64
//	[23]    reserved
const DataPageHeaderSize = 24

// SlotEntrySize is the 8-byte slot directory entry (spec §3):
// [offset:u16][length:u16][flags:u32].
const SlotEntrySize = 8

// Page is a fixed-size slotted page buffer. The slot directory grows
// upward from DataPageHeaderSize; payloads grow downward from the end of
// the buffer (spec §4.5, invariant 2: a page never compacts itself in place).
type Page struct {
	Size uint32
	Data []byte
}

// NewPage allocates a zeroed page of the given size, stamped with id and type.
func NewPage(size uint32, id uint32, ptype PageType) *Page {
	p := &Page{Size: size, Data: make([]byte, size)}
	p.SetPageID(id)
	p.SetPageType(ptype)
	p.setFreeSpaceStart(DataPageHeaderSize)
	p.setFreeSpaceEnd(uint16(size))
	return p
}

// WrapPage adapts an existing byte buffer (e.g. just read off disk) as a Page.
func WrapPage(data []byte) *Page {
	return &Page{Size: uint32(len(data)), Data: data}
}

func (p *Page) PageID() uint32      { return binary.LittleEndian.Uint32(p.Data[0:4]) }
func (p *Page) SetPageID(id uint32) { binary.LittleEndian.PutUint32(p.Data[0:4], id) }

func (p *Page) PageType() PageType     { return PageType(p.Data[4]) }
func (p *Page) SetPageType(t PageType) { p.Data[4] = byte(t) }

func (p *Page) SlotCount() uint16     { return binary.LittleEndian.Uint16(p.Data[5:7]) }
func (p *Page) setSlotCount(n uint16) { binary.LittleEndian.PutUint16(p.Data[5:7], n) }

func (p *Page) freeSpaceStart() uint16     { return binary.LittleEndian.Uint16(p.Data[7:9]) }
func (p *Page) setFreeSpaceStart(v uint16) { binary.LittleEndian.PutUint16(p.Data[7:9], v) }

func (p *Page) freeSpaceEnd() uint16     { return binary.LittleEndian.Uint16(p.Data[9:11]) }
func (p *Page) setFreeSpaceEnd(v uint16) { binary.LittleEndian.PutUint16(p.Data[9:11], v) }

// NextOverflowPage chains overflow pages together (§3); unused (zero) on
// ordinary data pages.
func (p *Page) NextOverflowPage() uint32      { return binary.LittleEndian.Uint32(p.Data[11:15]) }
func (p *Page) SetNextOverflowPage(id uint32) { binary.LittleEndian.PutUint32(p.Data[11:15], id) }

func (p *Page) TxnID() uint64      { return binary.LittleEndian.Uint64(p.Data[15:23]) }
func (p *Page) SetTxnID(id uint64) { binary.LittleEndian.PutUint64(p.Data[15:23], id) }

// Available returns the free space between the slot directory and the
// payload region (invariant: available = free_space_end - free_space_start).
func (p *Page) Available() int {
	return int(p.freeSpaceEnd()) - int(p.freeSpaceStart())
}

func slotOffset(i uint16) int { return DataPageHeaderSize + int(i)*SlotEntrySize }

func (p *Page) readSlotEntry(i uint16) (offset, length uint16, flags uint32) {
	o := slotOffset(i)
	offset = binary.LittleEndian.Uint16(p.Data[o : o+2])
	length = binary.LittleEndian.Uint16(p.Data[o+2 : o+4])
	flags = binary.LittleEndian.Uint32(p.Data[o+4 : o+8])
	return
}

func (p *Page) writeSlotEntry(i uint16, offset, length uint16, flags uint32) {
	o := slotOffset(i)
	binary.LittleEndian.PutUint16(p.Data[o:o+2], offset)
	binary.LittleEndian.PutUint16(p.Data[o+2:o+4], length)
	binary.LittleEndian.PutUint32(p.Data[o+4:o+8], flags)
}

// findFreeSlot returns the index of a Deleted slot big enough to reuse, if any.
func (p *Page) findFreeSlot(need int) (uint16, bool) {
	for i := uint16(0); i < p.SlotCount(); i++ {
		_, length, flags := p.readSlotEntry(i)
		if flags&SlotDeleted != 0 && int(length) >= need {
			return i, true
		}
	}
	return 0, false
}

// Insert writes payload into the page, reusing a same-size-or-larger
// Deleted slot when one exists, and returns the slot index used. Returns
// ok=false when there isn't enough room (caller must try another page).
func (p *Page) Insert(payload []byte, flags uint32) (slot uint16, ok bool) {
	l := len(payload)
	if reuse, found := p.findFreeSlot(l); found {
		offset, _, _ := p.readSlotEntry(reuse)
		copy(p.Data[offset:int(offset)+l], payload)
		p.writeSlotEntry(reuse, offset, uint16(l), flags)
		return reuse, true
	}
	if p.Available() < l+SlotEntrySize {
		return 0, false
	}
	newEnd := p.freeSpaceEnd() - uint16(l)
	copy(p.Data[newEnd:int(newEnd)+l], payload)
	idx := p.SlotCount()
	p.writeSlotEntry(idx, newEnd, uint16(l), flags)
	p.setSlotCount(idx + 1)
	p.setFreeSpaceStart(p.freeSpaceStart() + SlotEntrySize)
	p.setFreeSpaceEnd(newEnd)
	return idx, true
}

// Read returns a slot's raw payload and flags. ok is false if the slot
// index is out of range.
func (p *Page) Read(slot uint16) (payload []byte, flags uint32, ok bool) {
	if slot >= p.SlotCount() {
		return nil, 0, false
	}
	offset, length, flags := p.readSlotEntry(slot)
	return p.Data[offset : int(offset)+int(length)], flags, true
}

// Delete marks a slot Deleted without compacting the page (invariant 2);
// reclaiming the dead space is the collection's Compact's job, run
// out-of-band.
func (p *Page) Delete(slot uint16) {
	if slot >= p.SlotCount() {
		return
	}
	offset, length, flags := p.readSlotEntry(slot)
	p.writeSlotEntry(slot, offset, length, flags|SlotDeleted)
}

// UpdateInPlace overwrites a slot's payload when it fits within the
// existing slot length (spec §4.5, invariant 6); the tail of a shrunk
// payload is left dead. Returns false when newLen > old length or the
// slot carries HasOverflow — the caller must relocate instead.
func (p *Page) UpdateInPlace(slot uint16, payload []byte, flags uint32) bool {
	if slot >= p.SlotCount() {
		return false
	}
	offset, oldLen, oldFlags := p.readSlotEntry(slot)
	if oldFlags&SlotHasOverflow != 0 {
		return false
	}
	if len(payload) > int(oldLen) {
		return false
	}
	copy(p.Data[offset:int(offset)+len(payload)], payload)
	p.writeSlotEntry(slot, offset, uint16(len(payload)), flags)
	return true
}

// IsDeleted reports a slot's Deleted flag.
func (p *Page) IsDeleted(slot uint16) bool {
	_, _, flags := p.readSlotEntry(slot)
	return flags&SlotDeleted != 0
}

// Flags returns just a slot's flag word.
func (p *Page) Flags(slot uint16) uint32 {
	_, _, flags := p.readSlotEntry(slot)
	return flags
}

// ---------- overflow primary-slot payload prefix ----------

// OverflowPrefixSize is the [total_len:i32][first_overflow_page:u32]
// prefix written at the start of a primary slot's payload when
// HasOverflow is set (spec §3/§6).
const OverflowPrefixSize = 8

// EncodeOverflowPrefix builds the 8-byte prefix for a primary overflow slot.
func EncodeOverflowPrefix(totalLen int32, firstOverflowPage uint32) []byte {
	b := make([]byte, OverflowPrefixSize)
	binary.LittleEndian.PutUint32(b[0:4], uint32(totalLen))
	binary.LittleEndian.PutUint32(b[4:8], firstOverflowPage)
	return b
}

// DecodeOverflowPrefix reads the total length and first overflow page id
// back out of a primary overflow slot's payload.
func DecodeOverflowPrefix(b []byte) (totalLen int32, firstOverflowPage uint32) {
	return int32(binary.LittleEndian.Uint32(b[0:4])), binary.LittleEndian.Uint32(b[4:8])
}

// OverflowChunkCapacity is how many raw bytes a single overflow page
// holds after its 24-byte header.
func OverflowChunkCapacity(pageSize uint32) int {
	return int(pageSize) - DataPageHeaderSize
}

// WriteOverflowChunk stores a raw chunk starting right after the header.
func (p *Page) WriteOverflowChunk(chunk []byte) {
	copy(p.Data[DataPageHeaderSize:], chunk)
}

// ReadOverflowChunk reads up to length bytes of raw chunk data.
func (p *Page) ReadOverflowChunk(length int) []byte {
	cap := OverflowChunkCapacity(p.Size)
	if length > cap {
		length = cap
	}
	out := make([]byte, length)
	copy(out, p.Data[DataPageHeaderSize:])
	return out
}
