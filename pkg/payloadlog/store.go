package payloadlog

import (
	"path/filepath"
	"sync"

	"github.com/velesdb/velesdb/internal/obslog"
	"github.com/velesdb/velesdb/internal/verror"
)

const snapshotFileName = "payload.snapshot"

// Store ties the WAL, the optional on-disk snapshot, and the in-memory
// id->offset index together into the durable payload store of spec §4.2.
// All public methods are safe for concurrent use.
type Store struct {
	mu  sync.RWMutex
	wal *WAL
	idx index
	dir string
}

// Open performs the spec §4.2 recovery protocol:
//  1. If a snapshot exists and its CRC verifies, load its map and set
//     replay_start = wal_pos.
//  2. Otherwise replay_start = 0.
//  3. Open the WAL, seek to replay_start, and replay records with
//     torn-tail tolerance.
//  4. After replay, the index is authoritative.
func Open(dir string, logger obslog.Logger) (*Store, error) {
	logger = obslog.OrNop(logger)
	walPath := filepath.Join(dir, "payload.wal")
	snapPath := filepath.Join(dir, snapshotFileName)

	replayStart, idx, ok, err := LoadSnapshot(snapPath)
	if err != nil {
		return nil, err
	}
	if !ok {
		replayStart = 0
		idx = make(index)
	}

	w, err := openWAL(walPath, logger)
	if err != nil {
		return nil, err
	}
	if err := replay(w.file, replayStart, idx); err != nil {
		w.Close()
		return nil, err
	}
	logger.Info("payloadlog: recovered", "entries", len(idx), "replay_start", replayStart)

	return &Store{wal: w, idx: idx, dir: dir}, nil
}

// Put durably appends a Store record and updates the in-memory index only
// after the append (and its fsync) has returned, per the teacher's
// append-then-index discipline.
func (s *Store) Put(id uint64, payload []byte) error {
	off, err := s.wal.AppendStore(id, payload)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.idx[id] = entry{offset: off, length: len(payload)}
	s.mu.Unlock()
	return nil
}

// Delete durably appends a Delete record and removes id from the index.
func (s *Store) Delete(id uint64) error {
	if err := s.wal.AppendDelete(id); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.idx, id)
	s.mu.Unlock()
	return nil
}

// Get returns the payload for id, or a NotFound error if it is absent or
// has been deleted.
func (s *Store) Get(id uint64) ([]byte, error) {
	s.mu.RLock()
	e, ok := s.idx[id]
	s.mu.RUnlock()
	if !ok {
		return nil, verror.NotFound("payloadlog.Get", "payload", id)
	}
	return s.wal.ReadPayload(e.offset, e.length)
}

// Contains reports whether id currently has a live payload.
func (s *Store) Contains(id uint64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.idx[id]
	return ok
}

// Len returns the number of live entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.idx)
}

// Flush writes a new snapshot covering every record appended so far, with
// the current WAL offset as its wal_pos, so recovery replays only records
// appended after it. The live WAL is left untouched: the snapshot's
// offsets point into it.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	walPos := s.wal.Offset()
	snapshot := make(index, len(s.idx))
	for id, e := range s.idx {
		snapshot[id] = e
	}
	if err := SaveSnapshot(filepath.Join(s.dir, snapshotFileName), walPos, snapshot); err != nil {
		return err
	}
	return nil
}

// Close closes the underlying WAL file handle.
func (s *Store) Close() error {
	return s.wal.Close()
}

// Each calls fn with every live id, stopping early if fn returns false. It
// is the iteration primitive a sequential scan plan needs; payloadlog has
// no other concept of "all ids" since the WAL itself is append-only.
func (s *Store) Each(fn func(id uint64) bool) {
	s.mu.RLock()
	ids := make([]uint64, 0, len(s.idx))
	for id := range s.idx {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	for _, id := range ids {
		if !fn(id) {
			return
		}
	}
}
