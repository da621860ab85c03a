// Package store persists the engine state between runs.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/Pr4shant/Deduction-Engine/pkg/core/types"
)

// StateKey is the key the persisted record lives under.
var StateKey = fmt.Sprintf("deduction-engine/state/v%d", types.StateVersion)

// Store loads and saves the persisted record. Load returns nil without an
// error when nothing has been saved yet.
type Store interface {
	Load(ctx context.Context) (*types.State, error)
	Save(ctx context.Context, st types.State) error
	Clear(ctx context.Context) error
}

func encodeState(st types.State) ([]byte, error) {
	st.Version = types.StateVersion
	data, err := json.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("encode state: %w", err)
	}
	return data, nil
}

func decodeState(data []byte) (*types.State, error) {
	var st types.State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	if st.Version != types.StateVersion {
		return nil, nil
	}
	return &st, nil
}

// MemoryStore keeps the encoded record in memory.
type MemoryStore struct {
	mu    sync.Mutex
	data  []byte
	saves int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Load(context.Context) (*types.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		return nil, nil
	}
	return decodeState(m.data)
}

func (m *MemoryStore) Save(_ context.Context, st types.State) error {
	data, err := encodeState(st)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.data = data
	m.saves++
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Clear(context.Context) error {
	m.mu.Lock()
	m.data = nil
	m.mu.Unlock()
	return nil
}

// Saves returns how many times Save succeeded.
func (m *MemoryStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}
