package types

import (
	"strings"
	"time"
)

// Role identifies the speaker of a transcript entry.
type Role string

const (
	// RoleObserver is the reasoning service speaking.
	RoleObserver Role = "observer"
	// RoleSubject is the person being observed.
	RoleSubject Role = "subject"
)

// Label returns the upper-case tag used in audit prompts.
func (r Role) Label() string {
	return strings.ToUpper(string(r))
}

// TranscriptEntry is one fragment of the live transcript.
type TranscriptEntry struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}
