package audit

import (
	"encoding/json"
	"strings"

	"github.com/Pr4shant/Deduction-Engine/pkg/core/types"
)

// Instruction is the system instruction of the audit model.
const Instruction = `You are the reconciliation pass of a deduction engine.

You receive the recent transcript of a live observation session, the current ledger of hypotheses and, when available, a still frame of the subject.

1. Re-read the whole transcript against the ledger.
2. Revise probabilities the live observer got wrong and settle hypotheses the evidence now decides.
3. Open new hypotheses that only become visible across several moments of the session.
4. Answer with a single JSON object and nothing else: "updates" is an array of {"type", "args"} where type is record_deduction, update_probability or verify_deduction with the same arguments as the live tools, and "auditSummary" is a short technical summary of what changed.`

const (
	DefaultTranscriptWindow = 80
	evidenceInView          = 2
)

// LedgerEntry is the condensed view of a deduction sent to the auditor.
type LedgerEntry struct {
	ID          string       `json:"id"`
	Title       string       `json:"title"`
	Status      types.Status `json:"status"`
	Probability float64      `json:"prob"`
	Evidence    []string     `json:"evidence"`
}

// Request is the input of one audit.
type Request struct {
	Transcript []types.TranscriptEntry
	Ledger     []LedgerEntry
	// Frame is an optional JPEG still of the subject.
	Frame []byte
}

// NewLedgerView condenses deductions, keeping ledger order.
func NewLedgerView(ds []types.Deduction) []LedgerEntry {
	out := make([]LedgerEntry, 0, len(ds))
	for _, d := range ds {
		ev := d.LastEvidence(evidenceInView)
		if ev == nil {
			ev = []string{}
		}
		out = append(out, LedgerEntry{
			ID:          d.ID,
			Title:       d.Title,
			Status:      d.Status,
			Probability: d.Probability,
			Evidence:    ev,
		})
	}
	return out
}

// Prompt renders the textual part of the request.
func (r Request) Prompt() string {
	var b strings.Builder
	b.WriteString("TRANSCRIPT:\n")
	for _, e := range r.Transcript {
		b.WriteString("[")
		b.WriteString(e.Role.Label())
		b.WriteString("]: ")
		b.WriteString(e.Text)
		b.WriteString("\n")
	}
	b.WriteString("\nLEDGER:\n")
	view := r.Ledger
	if view == nil {
		view = []LedgerEntry{}
	}
	raw, _ := json.MarshalIndent(view, "", "  ")
	b.Write(raw)
	return b.String()
}
