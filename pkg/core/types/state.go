package types

import "time"

// StateVersion is bumped whenever the persisted layout changes.
const StateVersion = 10

// DefaultObservation is the last observation of a fresh engine.
const DefaultObservation = "SYSTEM INITIALIZED."

// State is the persisted record. Transient flags (connection state, audit
// in progress) are never part of it.
type State struct {
	Version         int               `json:"version"`
	Transcript      []TranscriptEntry `json:"transcript"`
	Deductions      []Deduction       `json:"deductions"`
	LastObservation string            `json:"last_observation"`
	SavedAt         time.Time         `json:"saved_at"`
}
