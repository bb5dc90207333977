package storage

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"sync"
)

// WALRecordType identifies the kind of entry recorded in the write-ahead log.
type WALRecordType byte

const (
	WALBegin  WALRecordType = 1
	WALWrite  WALRecordType = 2
	WALCommit WALRecordType = 3
	WALAbort  WALRecordType = 4
)

// walHeaderSize is the fixed WAL file header: magic + version + reserved.
const walHeaderSize = 16

var walMagic = [4]byte{'B', 'W', 'A', 'L'}

// maxWALRecordSize bounds a single page write record at 100 MiB (spec §4.2):
// a record larger than this indicates a corrupt length field rather than a
// legitimate write, since no single page or overflow chunk is ever that big.
const maxWALRecordSize = 100 * 1024 * 1024

// walRecordHeaderSize is [LSN:8][Type:1][TxnID:8][PageID:4][DataLen:4].
const walRecordHeaderSize = 8 + 1 + 8 + 4 + 4
const walRecordCRCSize = 4

// WALRecord is one entry in the log: a transaction lifecycle marker
// (Begin/Commit/Abort) or a page after-image (Write).
type WALRecord struct {
	LSN    uint64
	Type   WALRecordType
	TxnID  uint64
	PageID uint32
	Data   []byte
}

// WAL implements explicit per-transaction Begin/Write/Commit/Abort framing
// over a StorageFile, with CRC32 integrity per record and truncate-at-
// first-malformed-record replay (spec §4.2/§6).
type WAL struct {
	mu        sync.Mutex
	file      StorageFile
	path      string
	size      int64
	nextLSN   uint64
	records   []WALRecord
	commitLSN uint64
}

// OpenWAL opens or creates a WAL over an arbitrary StorageFile (a real
// *os.File wrapper or an in-memory buffer).
func OpenWAL(file StorageFile, path string) (*WAL, error) {
	w := &WAL{file: file, path: path, nextLSN: 1}

	info, err := file.Stat()
	if err != nil {
		return nil, err
	}
	w.size = info.Size()

	if w.size == 0 {
		if err := w.writeHeader(); err != nil {
			return nil, err
		}
	} else {
		if err := w.readHeader(); err != nil {
			return nil, err
		}
		if err := w.loadRecords(); err != nil {
			return nil, err
		}
	}
	return w, nil
}

// OpenWALFile opens the on-disk WAL sibling of a database file (dbPath+".wal").
func OpenWALFile(dbPath string) (*WAL, error) {
	walPath := dbPath + ".wal"
	f, err := os.OpenFile(walPath, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("wal: cannot open file: %w", err)
	}
	w, err := OpenWAL(f, walPath)
	if err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

// Close closes the underlying storage file.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}

// Begin logs the start of a transaction.
func (w *WAL) Begin(txnID uint64) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.appendLocked(WALRecord{Type: WALBegin, TxnID: txnID})
}

// Write logs a page's after-image under the given transaction.
func (w *WAL) Write(txnID uint64, pageID uint32, afterImage []byte) (uint64, error) {
	if len(afterImage) > maxWALRecordSize {
		return 0, fmt.Errorf("wal: record for page %d exceeds %d bytes", pageID, maxWALRecordSize)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	data := make([]byte, len(afterImage))
	copy(data, afterImage)
	return w.appendLocked(WALRecord{Type: WALWrite, TxnID: txnID, PageID: pageID, Data: data})
}

// Commit logs a commit marker and fsyncs — the moment the transaction's
// writes become durable.
func (w *WAL) Commit(txnID uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	lsn, err := w.appendLocked(WALRecord{Type: WALCommit, TxnID: txnID})
	if err != nil {
		return err
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("wal: fsync commit: %w", err)
	}
	w.commitLSN = lsn
	return nil
}

// Abort logs an abort marker; the transaction's Write records are
// discarded by CommittedPageWrites/replay without needing to undo them
// in place, since they were never applied to the data file.
func (w *WAL) Abort(txnID uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err := w.appendLocked(WALRecord{Type: WALAbort, TxnID: txnID})
	return err
}

// Sync forces an fsync without writing a marker.
func (w *WAL) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Sync()
}

// CommittedPageWrites returns every WALWrite record belonging to a
// transaction that reached a Commit marker, in chronological order.
// Used by recovery.
func (w *WAL) CommittedPageWrites() []WALRecord {
	w.mu.Lock()
	defer w.mu.Unlock()

	pending := make(map[uint64][]WALRecord)
	var committed []WALRecord
	for _, r := range w.records {
		switch r.Type {
		case WALBegin:
			pending[r.TxnID] = nil
		case WALWrite:
			pending[r.TxnID] = append(pending[r.TxnID], r)
		case WALCommit:
			committed = append(committed, pending[r.TxnID]...)
			delete(pending, r.TxnID)
		case WALAbort:
			delete(pending, r.TxnID)
		}
	}
	return committed
}

// Truncate empties the WAL after a successful checkpoint, rewriting just
// the header.
func (w *WAL) Truncate() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.file.Truncate(walHeaderSize); err != nil {
		return fmt.Errorf("wal: truncate: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("wal: fsync after truncate: %w", err)
	}
	w.size = walHeaderSize
	w.records = nil
	w.commitLSN = 0
	return nil
}

// RecordCount reports the number of records currently in the WAL.
func (w *WAL) RecordCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.records)
}

// --- internals ---

func (w *WAL) writeHeader() error {
	var hdr [walHeaderSize]byte
	copy(hdr[0:4], walMagic[:])
	binary.LittleEndian.PutUint32(hdr[4:8], 1)
	if _, err := w.file.WriteAt(hdr[:], 0); err != nil {
		return err
	}
	w.size = walHeaderSize
	return nil
}

func (w *WAL) readHeader() error {
	var hdr [walHeaderSize]byte
	if _, err := w.file.ReadAt(hdr[:], 0); err != nil {
		return fmt.Errorf("wal: read header: %w", err)
	}
	if hdr[0] != walMagic[0] || hdr[1] != walMagic[1] || hdr[2] != walMagic[2] || hdr[3] != walMagic[3] {
		return fmt.Errorf("wal: invalid magic number")
	}
	version := binary.LittleEndian.Uint32(hdr[4:8])
	if version != 1 {
		return fmt.Errorf("wal: unsupported version %d", version)
	}
	return nil
}

func (w *WAL) appendLocked(rec WALRecord) (uint64, error) {
	lsn := w.nextLSN
	w.nextLSN++
	rec.LSN = lsn

	dataLen := len(rec.Data)
	totalSize := walRecordHeaderSize + dataLen + walRecordCRCSize
	buf := make([]byte, totalSize)

	off := 0
	binary.LittleEndian.PutUint64(buf[off:], rec.LSN)
	off += 8
	buf[off] = byte(rec.Type)
	off++
	binary.LittleEndian.PutUint64(buf[off:], rec.TxnID)
	off += 8
	binary.LittleEndian.PutUint32(buf[off:], rec.PageID)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], uint32(dataLen))
	off += 4
	if dataLen > 0 {
		copy(buf[off:], rec.Data)
		off += dataLen
	}
	crc := crc32.ChecksumIEEE(buf[:off])
	binary.LittleEndian.PutUint32(buf[off:], crc)

	if _, err := w.file.WriteAt(buf, w.size); err != nil {
		return 0, fmt.Errorf("wal: write record: %w", err)
	}
	w.size += int64(len(buf))
	w.records = append(w.records, rec)
	return lsn, nil
}

func (w *WAL) loadRecords() error {
	w.records = nil

	offset := int64(walHeaderSize)
	hdrBuf := make([]byte, walRecordHeaderSize)

	for {
		n, err := w.file.ReadAt(hdrBuf, offset)
		if (err == io.EOF && n < walRecordHeaderSize) || (err == nil && n < walRecordHeaderSize) {
			break
		}
		if err != nil && err != io.EOF {
			return fmt.Errorf("wal: read record header at offset %d: %w", offset, err)
		}

		lsn := binary.LittleEndian.Uint64(hdrBuf[0:8])
		rtype := WALRecordType(hdrBuf[8])
		txnID := binary.LittleEndian.Uint64(hdrBuf[9:17])
		pageID := binary.LittleEndian.Uint32(hdrBuf[17:21])
		dataLen := binary.LittleEndian.Uint32(hdrBuf[21:25])

		if int64(dataLen) > maxWALRecordSize {
			break // malformed length field — stop replay here (crash-safe truncation)
		}

		remaining := int(dataLen) + walRecordCRCSize
		dataBuf := make([]byte, remaining)
		n, err = w.file.ReadAt(dataBuf, offset+int64(walRecordHeaderSize))
		if n < remaining {
			break // incomplete record (crash mid-write) — stop here
		}
		if err != nil && err != io.EOF {
			return fmt.Errorf("wal: read record data at offset %d: %w", offset, err)
		}

		crcOffset := int(dataLen)
		storedCRC := binary.LittleEndian.Uint32(dataBuf[crcOffset:])

		fullBuf := make([]byte, walRecordHeaderSize+int(dataLen))
		copy(fullBuf, hdrBuf)
		copy(fullBuf[walRecordHeaderSize:], dataBuf[:dataLen])
		if storedCRC != crc32.ChecksumIEEE(fullBuf) {
			break // corrupt record — stop here
		}

		var data []byte
		if dataLen > 0 {
			data = make([]byte, dataLen)
			copy(data, dataBuf[:dataLen])
		}

		w.records = append(w.records, WALRecord{
			LSN: lsn, Type: rtype, TxnID: txnID, PageID: pageID, Data: data,
		})
		if lsn >= w.nextLSN {
			w.nextLSN = lsn + 1
		}
		if rtype == WALCommit && lsn > w.commitLSN {
			w.commitLSN = lsn
		}

		offset += int64(walRecordHeaderSize) + int64(remaining)
	}

	w.size = offset
	return nil
}
