package types

import (
	"math"
	"strings"
	"time"
)

// Status is the verification state of a deduction.
type Status string

const (
	StatusUncertain Status = "UNCERTAIN"
	StatusProven    Status = "PROVEN"
	StatusRefuted   Status = "REFUTED"
)

// ParseStatus normalizes s to a known Status.
func ParseStatus(s string) (Status, bool) {
	switch Status(strings.ToUpper(strings.TrimSpace(s))) {
	case StatusUncertain:
		return StatusUncertain, true
	case StatusProven:
		return StatusProven, true
	case StatusRefuted:
		return StatusRefuted, true
	default:
		return "", false
	}
}

// Terminal reports whether s is PROVEN or REFUTED.
func (s Status) Terminal() bool {
	return s == StatusProven || s == StatusRefuted
}

// TerminalProbability returns the pinned probability for a terminal status.
func (s Status) TerminalProbability() (float64, bool) {
	switch s {
	case StatusProven:
		return 100, true
	case StatusRefuted:
		return 0, true
	default:
		return 0, false
	}
}

// ProbabilityPoint is one entry of a deduction's history.
type ProbabilityPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// Deduction is a tracked hypothesis.
type Deduction struct {
	ID          string             `json:"id"`
	Title       string             `json:"title"`
	Description string             `json:"description"`
	Probability float64            `json:"probability"`
	Status      Status             `json:"status"`
	History     []ProbabilityPoint `json:"history"`
	Evidence    []string           `json:"evidence"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

// Clone returns a deep copy of d.
func (d Deduction) Clone() Deduction {
	out := d
	out.History = append([]ProbabilityPoint(nil), d.History...)
	out.Evidence = append([]string(nil), d.Evidence...)
	return out
}

// LastEvidence returns up to n of the most recent evidence strings.
func (d Deduction) LastEvidence(n int) []string {
	if n <= 0 || len(d.Evidence) == 0 {
		return nil
	}
	if n > len(d.Evidence) {
		n = len(d.Evidence)
	}
	return append([]string(nil), d.Evidence[len(d.Evidence)-n:]...)
}

// ClampProbability bounds p to [0,100]. NaN maps to 0.
func ClampProbability(p float64) float64 {
	if p < 0 || math.IsNaN(p) {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
