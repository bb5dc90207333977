package collection

import (
	"encoding/binary"
	"sort"

	"github.com/EntglDb/blite/index"
	"github.com/EntglDb/blite/mapper"
	"github.com/EntglDb/blite/storage"
)

// CollectionMeta is one collection's persisted catalog entry (spec §3
// "Catalog").
type CollectionMeta struct {
	Name            string
	PrimaryRootPage uint32
	FirstDataPage   uint32
	SchemaVersions  []mapper.SchemaVersion
	Indexes         []index.Descriptor
}

// Catalog is the whole-database collection registry, persisted as a
// chain of meta pages rooted at StorageEngine.CatalogRoot(). Encoding
// follows the teacher's manual length-prefixed binary.LittleEndian
// layout in storage/pager.go's flushMeta/loadMetaPage, generalized from
// a flat collection/index-def/view-def triple to collections that each
// own their own schema-version list and secondary index descriptors.
type Catalog struct {
	Collections map[string]*CollectionMeta
}

func NewCatalog() *Catalog {
	return &Catalog{Collections: make(map[string]*CollectionMeta)}
}

func (c *Catalog) Encode() []byte {
	buf := make([]byte, 0, 256)
	var tmp2 [2]byte
	var tmp4 [4]byte
	var tmp8 [8]byte

	putStr := func(s string) {
		binary.LittleEndian.PutUint16(tmp2[:], uint16(len(s)))
		buf = append(buf, tmp2[:]...)
		buf = append(buf, s...)
	}
	putU16 := func(v uint16) {
		binary.LittleEndian.PutUint16(tmp2[:], v)
		buf = append(buf, tmp2[:]...)
	}
	putU32 := func(v uint32) {
		binary.LittleEndian.PutUint32(tmp4[:], v)
		buf = append(buf, tmp4[:]...)
	}
	putU64 := func(v uint64) {
		binary.LittleEndian.PutUint64(tmp8[:], v)
		buf = append(buf, tmp8[:]...)
	}

	names := make([]string, 0, len(c.Collections))
	for name := range c.Collections {
		names = append(names, name)
	}
	sort.Strings(names)

	putU16(uint16(len(names)))
	for _, name := range names {
		meta := c.Collections[name]
		putStr(meta.Name)
		putU32(meta.PrimaryRootPage)
		putU32(meta.FirstDataPage)

		putU16(uint16(len(meta.SchemaVersions)))
		for _, sv := range meta.SchemaVersions {
			putU32(uint32(sv.Version))
			putU64(sv.Hash)
		}

		putU16(uint16(len(meta.Indexes)))
		for _, idx := range meta.Indexes {
			putStr(idx.Name)
			putStr(idx.KeyPath)
			if idx.Unique {
				buf = append(buf, 1)
			} else {
				buf = append(buf, 0)
			}
			putU32(idx.RootPageID)
		}
	}
	return buf
}

// DecodeCatalog is the inverse of Encode.
func DecodeCatalog(data []byte) *Catalog {
	cat := NewCatalog()
	off := 0
	readU16 := func() uint16 {
		v := binary.LittleEndian.Uint16(data[off:])
		off += 2
		return v
	}
	readU32 := func() uint32 {
		v := binary.LittleEndian.Uint32(data[off:])
		off += 4
		return v
	}
	readU64 := func() uint64 {
		v := binary.LittleEndian.Uint64(data[off:])
		off += 8
		return v
	}
	readStr := func() string {
		n := int(readU16())
		s := string(data[off : off+n])
		off += n
		return s
	}

	if off+2 > len(data) {
		return cat
	}
	numColl := int(readU16())
	for i := 0; i < numColl; i++ {
		meta := &CollectionMeta{}
		meta.Name = readStr()
		meta.PrimaryRootPage = readU32()
		meta.FirstDataPage = readU32()

		numSchemas := int(readU16())
		for j := 0; j < numSchemas; j++ {
			meta.SchemaVersions = append(meta.SchemaVersions, mapper.SchemaVersion{
				Version: int32(readU32()),
				Hash:    readU64(),
			})
		}

		numIdx := int(readU16())
		for j := 0; j < numIdx; j++ {
			var desc index.Descriptor
			desc.Name = readStr()
			desc.KeyPath = readStr()
			desc.Unique = data[off] != 0
			off++
			desc.RootPageID = readU32()
			meta.Indexes = append(meta.Indexes, desc)
		}
		cat.Collections[meta.Name] = meta
	}
	return cat
}

// SaveCatalog writes the catalog as a chain of PageTypeMeta pages linked
// by NextOverflowPage, mirroring how a document's overflow chain is
// written (storage/page.go's WriteOverflowChunk / the teacher's
// insertOverflowRecord), and returns the chain's first page id to store
// as StorageEngine's catalog root.
func SaveCatalog(engine *storage.StorageEngine, txnID uint64, cat *Catalog) (uint32, error) {
	body := cat.Encode()
	total := 4 + len(body)
	full := make([]byte, total)
	binary.LittleEndian.PutUint32(full, uint32(total))
	copy(full[4:], body)

	chunkCap := storage.OverflowChunkCapacity(engine.PageSize())
	var firstID uint32
	var prevPage *storage.Page
	offset := 0
	for {
		page, err := engine.AllocatePage(txnID, storage.PageTypeMeta)
		if err != nil {
			return 0, err
		}
		end := offset + chunkCap
		if end > len(full) {
			end = len(full)
		}
		page.WriteOverflowChunk(full[offset:end])
		if prevPage != nil {
			prevPage.SetNextOverflowPage(page.PageID())
			if err := engine.WritePage(txnID, prevPage); err != nil {
				return 0, err
			}
		}
		if firstID == 0 {
			firstID = page.PageID()
		}
		if err := engine.WritePage(txnID, page); err != nil {
			return 0, err
		}
		prevPage = page
		offset = end
		if offset >= len(full) {
			break
		}
	}
	return firstID, nil
}

// LoadCatalog reads the catalog chain rooted at rootPageID. A zero root
// (a brand-new database) yields an empty catalog.
func LoadCatalog(engine *storage.StorageEngine, txnID uint64, rootPageID uint32) (*Catalog, error) {
	if rootPageID == 0 {
		return NewCatalog(), nil
	}
	chunkCap := storage.OverflowChunkCapacity(engine.PageSize())
	var all []byte
	remaining := -1
	pageID := rootPageID
	for pageID != 0 {
		page, err := engine.ReadPage(txnID, pageID)
		if err != nil {
			return nil, err
		}
		all = append(all, page.ReadOverflowChunk(chunkCap)...)
		if remaining < 0 && len(all) >= 4 {
			remaining = int(binary.LittleEndian.Uint32(all[0:4]))
		}
		if remaining >= 0 && len(all) >= remaining {
			all = all[:remaining]
			break
		}
		pageID = page.NextOverflowPage()
	}
	if len(all) < 4 {
		return NewCatalog(), nil
	}
	return DecodeCatalog(all[4:]), nil
}
