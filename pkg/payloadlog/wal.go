// Package payloadlog implements the durable id->JSON payload store of spec
// §4.2: an append-only write-ahead log of Store/Delete records plus
// periodic snapshots, with CRC-verified recovery. Grounded on the WAL
// record/header/fsync shape common across the pack's own WAL
// implementations (other_examples' wal-writer.go and walCheckpoint.go) and
// on the teacher's append-then-index ordering discipline (pkg/core/
// store.go writes durably before updating any in-memory structure).
package payloadlog

import (
	"encoding/binary"
	"hash/crc32"
	"io"
	"os"
	"sync"

	"github.com/velesdb/velesdb/internal/guard"
	"github.com/velesdb/velesdb/internal/obslog"
	"github.com/velesdb/velesdb/internal/verror"
)

const (
	markerStore  byte = 0x01
	markerDelete byte = 0x02
)

// WAL is the single-writer, many-reader append-only log described in spec
// §4.2/§5: "single writer and many readers via pread-style offset reads."
type WAL struct {
	mu     sync.Mutex
	file   *os.File
	offset int64
	logger obslog.Logger
}

// openWAL opens (creating if absent) the WAL file at path, appending from
// its current end-of-file.
func openWAL(path string, logger obslog.Logger) (*WAL, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, verror.Wrap("payloadlog.openWAL", verror.KindIO, err)
	}
	g := guard.New(func() { f.Close() })
	defer g.Close()

	off, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, verror.Wrap("payloadlog.openWAL", verror.KindIO, err)
	}
	g.Disarm()
	return &WAL{file: f, offset: off, logger: obslog.OrNop(logger)}, nil
}

// AppendStore serializes and appends a Store(id, len, crc32, payload)
// record, per spec §4.2's little-endian layout, and fsyncs before
// returning — the write path never reports success before durability.
func (w *WAL) AppendStore(id uint64, payload []byte) (offset int64, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	crc := crc32.ChecksumIEEE(payload)
	record := make([]byte, 1+8+4+4+len(payload))
	record[0] = markerStore
	binary.LittleEndian.PutUint64(record[1:9], id)
	binary.LittleEndian.PutUint32(record[9:13], uint32(len(payload)))
	binary.LittleEndian.PutUint32(record[13:17], crc)
	copy(record[17:], payload)

	payloadStart := w.offset + 17
	if _, err := w.file.Write(record); err != nil {
		return 0, verror.Wrap("payloadlog.AppendStore", verror.KindIO, err)
	}
	if err := w.file.Sync(); err != nil {
		return 0, verror.Wrap("payloadlog.AppendStore", verror.KindIO, err)
	}
	w.offset += int64(len(record))
	return payloadStart, nil
}

// AppendDelete appends a Delete(id) record and fsyncs.
func (w *WAL) AppendDelete(id uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	record := make([]byte, 1+8)
	record[0] = markerDelete
	binary.LittleEndian.PutUint64(record[1:9], id)

	if _, err := w.file.Write(record); err != nil {
		return verror.Wrap("payloadlog.AppendDelete", verror.KindIO, err)
	}
	if err := w.file.Sync(); err != nil {
		return verror.Wrap("payloadlog.AppendDelete", verror.KindIO, err)
	}
	w.offset += int64(len(record))
	return nil
}

// ReadPayload reads a payload of length n starting at byte offset off,
// using a pread-style offset read so it never disturbs the writer's
// append position (spec §5).
func (w *WAL) ReadPayload(off int64, n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := w.file.ReadAt(buf, off); err != nil {
		return nil, verror.Wrap("payloadlog.ReadPayload", verror.KindIO, err)
	}
	return buf, nil
}

// Offset returns the current append position, used as a snapshot's wal_pos.
func (w *WAL) Offset() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.offset
}

// TruncateTo truncates the live log back to pos and moves the append
// position there. Store.Flush does not call it.
func (w *WAL) TruncateTo(pos int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.file.Truncate(pos); err != nil {
		return verror.Wrap("payloadlog.TruncateTo", verror.KindIO, err)
	}
	if _, err := w.file.Seek(pos, io.SeekStart); err != nil {
		return verror.Wrap("payloadlog.TruncateTo", verror.KindIO, err)
	}
	w.offset = pos
	return nil
}

// Close closes the underlying file handle.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}

