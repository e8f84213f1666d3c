package payloadlog

import (
	"encoding/binary"
	"hash/crc32"
	"io"
	"os"

	"github.com/velesdb/velesdb/internal/verror"
)

// index maps a live id to the file offset of its payload bytes within the
// WAL. It is the sole in-memory authority after recovery, per spec §4.2.
type index map[uint64]entry

type entry struct {
	offset int64
	length int
}

// replay implements the recovery protocol of spec §4.2: read records from
// replayStart; a marker-boundary EOF ends replay cleanly (a torn tail is
// tolerated there); an EOF or CRC mismatch mid-record is fatal CorruptLog;
// an unknown marker is fatal CorruptLog.
func replay(f *os.File, replayStart int64, idx index) error {
	if _, err := f.Seek(replayStart, io.SeekStart); err != nil {
		return verror.Wrap("payloadlog.replay", verror.KindIO, err)
	}

	for {
		marker, err := readByte(f)
		if err == io.EOF {
			return nil // clean torn tail at a record boundary
		}
		if err != nil {
			return verror.Wrap("payloadlog.replay", verror.KindIO, err)
		}

		switch marker {
		case markerStore:
			if err := replayStore(f, idx); err != nil {
				return err
			}
		case markerDelete:
			var id uint64
			if err := binaryReadFull(f, 8, func(b []byte) { id = binary.LittleEndian.Uint64(b) }); err != nil {
				return verror.Wrap("payloadlog.replay", verror.KindCorruptLog, err)
			}
			delete(idx, id)
		default:
			return verror.New("payloadlog.replay", verror.KindCorruptLog, "unknown WAL record marker")
		}
	}
}

func replayStore(f *os.File, idx index) error {
	var id uint64
	var length uint32
	var crc uint32

	if err := binaryReadFull(f, 8, func(b []byte) { id = binary.LittleEndian.Uint64(b) }); err != nil {
		return verror.Wrap("payloadlog.replay", verror.KindCorruptLog, err)
	}
	if err := binaryReadFull(f, 4, func(b []byte) { length = binary.LittleEndian.Uint32(b) }); err != nil {
		return verror.Wrap("payloadlog.replay", verror.KindCorruptLog, err)
	}
	if err := binaryReadFull(f, 4, func(b []byte) { crc = binary.LittleEndian.Uint32(b) }); err != nil {
		return verror.Wrap("payloadlog.replay", verror.KindCorruptLog, err)
	}

	payloadStart, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		return verror.Wrap("payloadlog.replay", verror.KindIO, err)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(f, payload); err != nil {
		return verror.Wrap("payloadlog.replay", verror.KindCorruptLog, err)
	}
	if crc32.ChecksumIEEE(payload) != crc {
		return verror.New("payloadlog.replay", verror.KindCorruptLog, "CRC mismatch in Store record")
	}

	idx[id] = entry{offset: payloadStart, length: int(length)}
	return nil
}

func readByte(f *os.File) (byte, error) {
	var b [1]byte
	n, err := f.Read(b[:])
	if n == 0 && err != nil {
		return 0, err
	}
	return b[0], nil
}

func binaryReadFull(f *os.File, n int, assign func([]byte)) error {
	buf := make([]byte, n)
	if _, err := io.ReadFull(f, buf); err != nil {
		return err
	}
	assign(buf)
	return nil
}
