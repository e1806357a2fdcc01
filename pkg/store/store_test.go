package store

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/sentinel/pkg/types"
)

func obsEvent(cycle uint64) types.Event {
	return types.Event{
		Cycle:       cycle,
		Kind:        types.EventObservation,
		Observation: &types.ObservationEvent{OraclePrice: 2000},
	}
}

func TestAppendAssignsMonotonicIDs(t *testing.T) {
	s, err := Open(100, "")
	require.NoError(t, err)
	defer s.Close()

	for i := uint64(1); i <= 10; i++ {
		ev := s.Append(obsEvent(i))
		assert.Equal(t, i, ev.ID)
		assert.False(t, ev.Timestamp.IsZero())
	}
	assert.Equal(t, uint64(10), s.Total())
}

func TestEvictionKeepsTotalMonotone(t *testing.T) {
	s, err := Open(5, "")
	require.NoError(t, err)
	defer s.Close()

	for i := uint64(1); i <= 6; i++ {
		s.Append(obsEvent(i))
	}

	oldest, newest := s.Bounds()
	assert.Equal(t, uint64(2), oldest, "oldest id evicted")
	assert.Equal(t, uint64(6), newest)
	assert.Equal(t, uint64(6), s.Total(), "total counter unaffected by eviction")
}

func TestRange(t *testing.T) {
	s, err := Open(100, "")
	require.NoError(t, err)
	defer s.Close()

	for i := uint64(1); i <= 20; i++ {
		s.Append(obsEvent(i))
	}

	events := s.Range(5, 3)
	require.Len(t, events, 3)
	assert.Equal(t, uint64(5), events[0].ID)
	assert.Equal(t, uint64(7), events[2].ID)

	assert.Nil(t, s.Range(21, 10))
	assert.Len(t, s.Range(0, 100), 20)
}

func TestRangeAfterEviction(t *testing.T) {
	s, err := Open(5, "")
	require.NoError(t, err)
	defer s.Close()

	for i := uint64(1); i <= 10; i++ {
		s.Append(obsEvent(i))
	}

	// Ids 1-5 are gone; a resync from 1 starts at the ring's oldest.
	events := s.Range(1, 100)
	require.Len(t, events, 5)
	assert.Equal(t, uint64(6), events[0].ID)
}

func TestRecent(t *testing.T) {
	s, err := Open(100, "")
	require.NoError(t, err)
	defer s.Close()

	for i := uint64(1); i <= 10; i++ {
		s.Append(obsEvent(i))
	}

	events := s.Recent(3)
	require.Len(t, events, 3)
	assert.Equal(t, uint64(8), events[0].ID)
	assert.Equal(t, uint64(10), events[2].ID)
}

func TestByKind(t *testing.T) {
	s, err := Open(100, "")
	require.NoError(t, err)
	defer s.Close()

	s.Append(obsEvent(1))
	s.Append(types.Event{Kind: types.EventReasoning, Reasoning: &types.ReasoningEvent{
		Classification: types.ClassFlashLoanAttack, Confidence: 0.9, Source: types.SourceLLM,
	}})
	s.Append(types.Event{Kind: types.EventReasoning, Reasoning: &types.ReasoningEvent{
		Classification: types.ClassNatural, Source: types.SourceDedupSkip,
	}})
	s.Append(types.Event{Kind: types.EventAction, Action: &types.ActionEvent{
		Action: types.ActionPauseAMM, Success: true,
	}})

	actions := s.ByKind(10, nil, types.EventAction)
	require.Len(t, actions, 1)
	assert.Equal(t, types.ActionPauseAMM, actions[0].Action.Action)

	threats := s.ByKind(10, func(ev types.Event) bool {
		return ev.Reasoning.Classification != types.ClassNatural
	}, types.EventReasoning)
	require.Len(t, threats, 1)
	assert.Equal(t, types.ClassFlashLoanAttack, threats[0].Reasoning.Classification)
}

func TestSince(t *testing.T) {
	s, err := Open(100, "")
	require.NoError(t, err)
	defer s.Close()

	now := time.Now().UTC()
	old := obsEvent(1)
	old.Timestamp = now.Add(-2 * time.Hour)
	s.Append(old)
	fresh := obsEvent(2)
	fresh.Timestamp = now
	s.Append(fresh)

	events := s.Since(now.Add(-time.Hour), now.Add(time.Hour))
	require.Len(t, events, 1)
	assert.Equal(t, uint64(2), events[0].Cycle)
}

func TestJournalPersistsEvents(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(100, dir)
	require.NoError(t, err)

	s.Append(obsEvent(1))
	s.Append(obsEvent(2))
	require.NoError(t, s.Close())

	db, err := bolt.Open(dir+"/"+journalFile, 0o600, nil)
	require.NoError(t, err)
	defer db.Close()

	err = db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(eventsBucket)
		require.NotNil(t, b)
		var key [8]byte
		binary.BigEndian.PutUint64(key[:], 2)
		assert.NotNil(t, b.Get(key[:]))
		assert.Equal(t, 2, b.Stats().KeyN)
		return nil
	})
	require.NoError(t, err)
}
