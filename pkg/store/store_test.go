package store

import (
	"context"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Pr4shant/Deduction-Engine/pkg/core/types"
)

func sampleState() types.State {
	ts := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return types.State{
		Transcript: []types.TranscriptEntry{
			{ID: "t1", Role: types.RoleSubject, Text: "I was home all night.", Timestamp: ts},
		},
		Deductions: []types.Deduction{{
			ID:          "d1",
			Title:       "Gaze Pattern",
			Probability: 40,
			Status:      types.StatusUncertain,
			History:     []types.ProbabilityPoint{{Timestamp: ts, Value: 75}, {Timestamp: ts.Add(time.Second), Value: 40}},
			Evidence:    []string{"blinked"},
			CreatedAt:   ts,
			UpdatedAt:   ts.Add(time.Second),
		}},
		LastObservation: "gaze was a reflex",
		SavedAt:         ts,
	}
}

func TestStateKey(t *testing.T) {
	assert.Equal(t, "deduction-engine/state/v10", StateKey)
}

func TestBadgerStore_RoundTrip(t *testing.T) {
	s, err := Open(InMemoryConfig())
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, got, "fresh store has no state")

	want := sampleState()
	require.NoError(t, s.Save(ctx, want))

	got, err = s.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, types.StateVersion, got.Version)
	assert.Equal(t, want.LastObservation, got.LastObservation)
	assert.Equal(t, want.Transcript, got.Transcript)
	require.Len(t, got.Deductions, 1)
	assert.Equal(t, want.Deductions[0].History, got.Deductions[0].History)

	require.NoError(t, s.Clear(ctx))
	got, err = s.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestBadgerStore_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.GCInterval = time.Hour

	s, err := Open(cfg)
	require.NoError(t, err)
	require.NoError(t, s.Save(context.Background(), sampleState()))
	require.NoError(t, s.Close())
	require.NoError(t, s.Close(), "second close is a no-op")

	s2, err := Open(cfg)
	require.NoError(t, err)
	defer s2.Close()
	got, err := s2.Load(context.Background())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Gaze Pattern", got.Deductions[0].Title)
}

func TestBadgerStore_IgnoresOtherVersionsAndGarbage(t *testing.T) {
	s, err := Open(InMemoryConfig())
	require.NoError(t, err)
	defer s.Close()

	for _, raw := range []string{`{"version":9,"last_observation":"old"}`, `not json`} {
		require.NoError(t, s.db.Update(func(txn *badger.Txn) error {
			return txn.Set([]byte(StateKey), []byte(raw))
		}))
		got, err := s.Load(context.Background())
		require.NoError(t, err)
		assert.Nil(t, got, raw)
	}
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "path is required")
}

func TestBadgerStore_CancelledContext(t *testing.T) {
	s, err := Open(InMemoryConfig())
	require.NoError(t, err)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Save(ctx, sampleState()), context.Canceled)
	_, err = s.Load(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemoryStore(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	got, err := m.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, m.Save(ctx, sampleState()))
	got, err = m.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "gaze was a reflex", got.LastObservation)
	assert.Equal(t, 1, m.Saves())

	require.NoError(t, m.Clear(ctx))
	got, err = m.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)
}
