// Package store is the append-only event log. A bounded in-memory ring
// serves all queries; when a data directory is configured every event is
// additionally journaled to bbolt for post-incident review across restarts.
package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/sentinel/pkg/log"
	"github.com/cuemby/sentinel/pkg/types"
)

const journalFile = "sentinel.db"

var eventsBucket = []byte("events")

// Store assigns ids and retains the most recent events. Ids start at 1 and
// are strictly increasing; eviction is silent and oldest-first, and the
// total-appended counter never decreases.
type Store struct {
	mu       sync.RWMutex
	capacity int
	events   []types.Event // contiguous ids, oldest first
	nextID   uint64
	total    uint64

	journal *bolt.DB
	logger  zerolog.Logger
}

// Open builds a store. dataDir == "" disables the journal.
func Open(capacity int, dataDir string) (*Store, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("store capacity must be positive, got %d", capacity)
	}
	s := &Store{
		capacity: capacity,
		nextID:   1,
		logger:   log.WithComponent("store"),
	}
	if dataDir != "" {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		db, err := bolt.Open(filepath.Join(dataDir, journalFile), 0o600, &bolt.Options{Timeout: time.Second})
		if err != nil {
			return nil, fmt.Errorf("open journal: %w", err)
		}
		if err := db.Update(func(tx *bolt.Tx) error {
			_, err := tx.CreateBucketIfNotExists(eventsBucket)
			return err
		}); err != nil {
			db.Close()
			return nil, fmt.Errorf("init journal: %w", err)
		}
		s.journal = db
	}
	return s, nil
}

// Close releases the journal if one is open.
func (s *Store) Close() error {
	if s.journal != nil {
		return s.journal.Close()
	}
	return nil
}

// Append assigns the next id and stores the event, evicting the oldest
// entry past capacity. The stored copy is returned.
func (s *Store) Append(ev types.Event) types.Event {
	s.mu.Lock()
	ev.ID = s.nextID
	s.nextID++
	s.total++
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	s.events = append(s.events, ev)
	if len(s.events) > s.capacity {
		s.events = s.events[1:]
	}
	s.mu.Unlock()

	if s.journal != nil {
		if err := s.journalWrite(ev); err != nil {
			s.logger.Warn().Err(err).Uint64("id", ev.ID).Msg("journal write failed")
		}
	}
	return ev
}

func (s *Store) journalWrite(ev types.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return s.journal.Update(func(tx *bolt.Tx) error {
		var key [8]byte
		binary.BigEndian.PutUint64(key[:], ev.ID)
		return tx.Bucket(eventsBucket).Put(key[:], data)
	})
}

// Total returns the number of events ever appended.
func (s *Store) Total() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.total
}

// Bounds returns the oldest and newest retained ids, zero when empty.
func (s *Store) Bounds() (oldest, newest uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.events) == 0 {
		return 0, 0
	}
	return s.events[0].ID, s.events[len(s.events)-1].ID
}

// Range returns up to limit events with id >= fromID, ascending. Ids below
// the ring are silently absent; callers resync from what remains.
func (s *Store) Range(fromID uint64, limit int) []types.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.events) == 0 || limit <= 0 {
		return nil
	}
	first := s.events[0].ID
	idx := 0
	if fromID > first {
		idx = int(fromID - first)
	}
	if idx >= len(s.events) {
		return nil
	}
	end := idx + limit
	if end > len(s.events) {
		end = len(s.events)
	}
	out := make([]types.Event, end-idx)
	copy(out, s.events[idx:end])
	return out
}

// Recent returns the newest limit events, oldest first.
func (s *Store) Recent(limit int) []types.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		return nil
	}
	start := len(s.events) - limit
	if start < 0 {
		start = 0
	}
	out := make([]types.Event, len(s.events)-start)
	copy(out, s.events[start:])
	return out
}

// Since returns events with timestamps in [from, to), oldest first.
func (s *Store) Since(from, to time.Time) []types.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []types.Event
	for _, ev := range s.events {
		if ev.Timestamp.Before(from) || !ev.Timestamp.Before(to) {
			continue
		}
		out = append(out, ev)
	}
	return out
}

// ByKind returns the newest limit events matching any of the kinds, oldest
// first. keep filters further when non-nil.
func (s *Store) ByKind(limit int, keep func(types.Event) bool, kinds ...types.EventKind) []types.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		return nil
	}
	match := make(map[types.EventKind]struct{}, len(kinds))
	for _, k := range kinds {
		match[k] = struct{}{}
	}
	var out []types.Event
	for i := len(s.events) - 1; i >= 0 && len(out) < limit; i-- {
		ev := s.events[i]
		if _, ok := match[ev.Kind]; !ok {
			continue
		}
		if keep != nil && !keep(ev) {
			continue
		}
		out = append(out, ev)
	}
	// Reverse into chronological order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}
