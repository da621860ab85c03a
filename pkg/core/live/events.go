package live

import (
	"github.com/Pr4shant/Deduction-Engine/pkg/core/types"
)

// Event is the interface for all engine events.
type Event interface {
	// EventType returns the event type string for serialization.
	EventType() string
}

// StateChangedEvent is emitted when the session state changes.
type StateChangedEvent struct {
	From SessionState `json:"from"`
	To   SessionState `json:"to"`
	// Err is set when To is StateError.
	Err error `json:"-"`
}

func (e *StateChangedEvent) EventType() string { return "state.changed" }

// DeductionChangedEvent is emitted after every ledger mutation.
type DeductionChangedEvent struct {
	Change    string          `json:"change"`
	Source    string          `json:"source"`
	Deduction types.Deduction `json:"deduction"`
}

func (e *DeductionChangedEvent) EventType() string { return "deduction.changed" }

// TranscriptAppendedEvent is emitted for every stored transcript fragment.
type TranscriptAppendedEvent struct {
	Entry types.TranscriptEntry `json:"entry"`
}

func (e *TranscriptAppendedEvent) EventType() string { return "transcript.appended" }

// AuditCompletedEvent is emitted after an audit batch was applied or skipped.
type AuditCompletedEvent struct {
	Summary string `json:"summary,omitempty"`
	Applied int    `json:"applied"`
	Missed  int    `json:"missed"`
	Skipped bool   `json:"skipped,omitempty"`
}

func (e *AuditCompletedEvent) EventType() string { return "audit.completed" }

// AuditFailedEvent is emitted when an audit errored or its batch was discarded.
type AuditFailedEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *AuditFailedEvent) EventType() string { return "audit.failed" }
