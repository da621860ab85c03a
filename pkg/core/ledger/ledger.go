// Package ledger holds the authoritative store of deductions.
//
// The Ledger is the only writer of Deduction fields. Record, Revise and
// Finalize each run under one mutex acquisition, so concurrent producers
// (the live session and the periodic audit) never interleave their
// read-modify-write sequences. Terminal deductions stay pinned at 100 or 0
// whatever order the two sources deliver their updates in.
package ledger

import (
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Pr4shant/Deduction-Engine/pkg/core"
	"github.com/Pr4shant/Deduction-Engine/pkg/core/types"
)

const (
	DefaultTitle       = "Logical Vector"
	DefaultDescription = "Synthesizing deep variables..."
	DefaultProbability = 50.0
)

// Source identifies which producer issued an update.
type Source string

const (
	SourceStream Source = "stream"
	SourceAudit  Source = "audit"
	SourceUser   Source = "user"
)

// ChangeKind describes a ledger mutation.
type ChangeKind string

const (
	ChangeRecorded  ChangeKind = "recorded"
	ChangeRevised   ChangeKind = "revised"
	ChangeFinalized ChangeKind = "finalized"
	ChangeReset     ChangeKind = "reset"
	ChangeRestored  ChangeKind = "restored"
)

// Change is delivered to subscribers after every successful mutation.
// Deduction is the zero value for reset and restore.
type Change struct {
	Kind      ChangeKind
	Source    Source
	Deduction types.Deduction
}

// Options configures a Ledger.
type Options struct {
	// Now defaults to time.Now.
	Now func() time.Time
	// NewID defaults to uuid.NewString.
	NewID func() string
	// MergeDuplicateTitles makes Record revise an existing deduction with the
	// same (case-insensitive) title instead of creating a second one.
	MergeDuplicateTitles bool
	Logger               *slog.Logger
}

// Stats summarizes the ledger.
type Stats struct {
	Total           int     `json:"total"`
	Uncertain       int     `json:"uncertain"`
	Proven          int     `json:"proven"`
	Refuted         int     `json:"refuted"`
	MeanProbability float64 `json:"mean_probability"`
}

// Ledger is a concurrency-safe map of deductions.
type Ledger struct {
	mu    sync.RWMutex
	byID  map[string]*types.Deduction
	order []string // newest first

	now    func() time.Time
	newID  func() string
	merge  bool
	logger *slog.Logger

	subMu   sync.Mutex
	subs    map[int]func(Change)
	nextSub int

	// pending is guarded by mu; changes are queued in mutation order and
	// drained by one goroutine at a time under deliverMu.
	pending   []Change
	deliverMu sync.Mutex
}

// New creates an empty Ledger.
func New(opts Options) *Ledger {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Ledger{
		byID:   make(map[string]*types.Deduction),
		now:    opts.Now,
		newID:  opts.NewID,
		merge:  opts.MergeDuplicateTitles,
		logger: opts.Logger,
		subs:   make(map[int]func(Change)),
	}
}

// Record creates a new UNCERTAIN deduction. It always succeeds.
func (l *Ledger) Record(u RecordUpdate) types.Deduction {
	d, _ := l.record(SourceUser, u)
	return d
}

func (l *Ledger) record(source Source, u RecordUpdate) (types.Deduction, ChangeKind) {
	title := strings.TrimSpace(u.Title)
	if title == "" {
		title = DefaultTitle
	}
	desc := strings.TrimSpace(u.Description)
	hasProb := u.Probability != nil && !math.IsNaN(*u.Probability)
	prob := DefaultProbability
	if hasProb {
		prob = types.ClampProbability(*u.Probability)
	}

	l.mu.Lock()
	if l.merge {
		if existing := l.findTitleLocked(title); existing != nil {
			if !hasProb {
				prob = existing.Probability
			}
			reasons := append([]string{}, u.Evidence...)
			if desc != "" && desc != existing.Description {
				reasons = append(reasons, desc)
			}
			l.reviseLocked(existing, prob, reasons...)
			out := existing.Clone()
			l.queueLocked(Change{Kind: ChangeRevised, Source: source, Deduction: out})
			l.mu.Unlock()
			l.deliver()
			return out, ChangeRevised
		}
	}

	if desc == "" {
		desc = DefaultDescription
	}
	now := l.now()
	d := &types.Deduction{
		ID:          l.newID(),
		Title:       title,
		Description: desc,
		Probability: prob,
		Status:      types.StatusUncertain,
		History:     []types.ProbabilityPoint{{Timestamp: now, Value: prob}},
		Evidence:    addEvidence(nil, u.Evidence...),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	l.byID[d.ID] = d
	l.order = append([]string{d.ID}, l.order...)
	out := d.Clone()
	l.queueLocked(Change{Kind: ChangeRecorded, Source: source, Deduction: out})
	l.mu.Unlock()

	l.deliver()
	return out, ChangeRecorded
}

// Revise sets a new probability on the deduction matching u.Ref. A terminal
// deduction keeps its pinned probability but still gains the reasoning.
func (l *Ledger) Revise(u ReviseUpdate) (types.Deduction, error) {
	return l.revise(SourceUser, u)
}

func (l *Ledger) revise(source Source, u ReviseUpdate) (types.Deduction, error) {
	if math.IsNaN(u.Probability) {
		return types.Deduction{}, core.NewInvalidRequestErrorWithParam("new_probability must be a number", "new_probability")
	}
	l.mu.Lock()
	d := l.resolveLocked(u.Ref)
	if d == nil {
		l.mu.Unlock()
		return types.Deduction{}, core.NewResolutionError(u.Ref)
	}
	l.reviseLocked(d, types.ClampProbability(u.Probability), u.Reasoning)
	out := d.Clone()
	l.queueLocked(Change{Kind: ChangeRevised, Source: source, Deduction: out})
	l.mu.Unlock()

	l.deliver()
	return out, nil
}

func (l *Ledger) reviseLocked(d *types.Deduction, prob float64, reasons ...string) {
	if pinned, terminal := d.Status.TerminalProbability(); terminal {
		prob = pinned
	}
	d.Probability = prob
	l.touchLocked(d)
	d.Evidence = addEvidence(d.Evidence, reasons...)
}

// Finalize moves the deduction matching u.Ref to PROVEN or REFUTED. The first
// finalize wins; later calls only append history and evidence.
func (l *Ledger) Finalize(u FinalizeUpdate) (types.Deduction, error) {
	return l.finalize(SourceUser, u)
}

func (l *Ledger) finalize(source Source, u FinalizeUpdate) (types.Deduction, error) {
	if !u.Status.Terminal() {
		return types.Deduction{}, core.NewInvalidRequestErrorWithParam("status must be PROVEN or REFUTED", "status")
	}
	l.mu.Lock()
	d := l.resolveLocked(u.Ref)
	if d == nil {
		l.mu.Unlock()
		return types.Deduction{}, core.NewResolutionError(u.Ref)
	}
	if d.Status.Terminal() {
		if d.Status != u.Status {
			l.logger.Warn("ignoring status flip on terminal deduction",
				"id", d.ID, "status", d.Status, "requested", u.Status, "source", source)
		}
	} else {
		d.Status = u.Status
	}
	d.Probability, _ = d.Status.TerminalProbability()
	l.touchLocked(d)
	d.Evidence = addEvidence(d.Evidence, u.Reasoning)
	out := d.Clone()
	l.queueLocked(Change{Kind: ChangeFinalized, Source: source, Deduction: out})
	l.mu.Unlock()

	l.deliver()
	return out, nil
}

// touchLocked appends a history point for the current probability. The
// timestamp never precedes the previous point.
func (l *Ledger) touchLocked(d *types.Deduction) {
	now := l.now()
	if n := len(d.History); n > 0 && now.Before(d.History[n-1].Timestamp) {
		now = d.History[n-1].Timestamp
	}
	d.History = append(d.History, types.ProbabilityPoint{Timestamp: now, Value: d.Probability})
	d.UpdatedAt = now
}

func (l *Ledger) resolveLocked(ref string) *types.Deduction {
	i := resolveIndex(ref, len(l.order), func(i int) (string, string) {
		d := l.byID[l.order[i]]
		return d.ID, d.Title
	})
	if i < 0 {
		return nil
	}
	return l.byID[l.order[i]]
}

func (l *Ledger) findTitleLocked(title string) *types.Deduction {
	for _, id := range l.order {
		if d := l.byID[id]; strings.EqualFold(d.Title, title) {
			return d
		}
	}
	return nil
}

// Snapshot returns deep copies of all deductions, newest first.
func (l *Ledger) Snapshot() []types.Deduction {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]types.Deduction, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.byID[id].Clone())
	}
	return out
}

// Get returns a copy of the deduction with the given id.
func (l *Ledger) Get(id string) (types.Deduction, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	d, ok := l.byID[id]
	if !ok {
		return types.Deduction{}, false
	}
	return d.Clone(), true
}

// Len returns the number of deductions.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.order)
}

// Stats counts deductions per status.
func (l *Ledger) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var s Stats
	var sum float64
	for _, id := range l.order {
		d := l.byID[id]
		s.Total++
		sum += d.Probability
		switch d.Status {
		case types.StatusProven:
			s.Proven++
		case types.StatusRefuted:
			s.Refuted++
		default:
			s.Uncertain++
		}
	}
	if s.Total > 0 {
		s.MeanProbability = sum / float64(s.Total)
	}
	return s
}

// Reset clears the whole ledger.
func (l *Ledger) Reset() {
	l.mu.Lock()
	l.byID = make(map[string]*types.Deduction)
	l.order = nil
	l.queueLocked(Change{Kind: ChangeReset, Source: SourceUser})
	l.mu.Unlock()
	l.deliver()
}

// Restore replaces the ledger with persisted entries, given newest first.
// Entries with an empty history get a single point at their current value.
func (l *Ledger) Restore(entries []types.Deduction) {
	byID := make(map[string]*types.Deduction, len(entries))
	order := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.ID == "" {
			continue
		}
		if _, dup := byID[e.ID]; dup {
			continue
		}
		d := e.Clone()
		if d.Status == "" {
			d.Status = types.StatusUncertain
		}
		if pinned, terminal := d.Status.TerminalProbability(); terminal {
			d.Probability = pinned
		}
		if n := len(d.History); n == 0 || d.History[n-1].Value != d.Probability {
			ts := d.UpdatedAt
			if n > 0 && ts.Before(d.History[n-1].Timestamp) {
				ts = d.History[n-1].Timestamp
			}
			d.History = append(d.History, types.ProbabilityPoint{Timestamp: ts, Value: d.Probability})
		}
		byID[d.ID] = &d
		order = append(order, d.ID)
	}

	l.mu.Lock()
	l.byID = byID
	l.order = order
	l.queueLocked(Change{Kind: ChangeRestored, Source: SourceUser})
	l.mu.Unlock()
	l.deliver()
}

// Subscribe registers fn for change notifications. Changes arrive in the
// order the mutations happened, after the ledger lock is released, so fn may
// read the ledger but must not mutate it. The returned func unsubscribes.
func (l *Ledger) Subscribe(fn func(Change)) func() {
	l.subMu.Lock()
	defer l.subMu.Unlock()
	id := l.nextSub
	l.nextSub++
	l.subs[id] = fn
	return func() {
		l.subMu.Lock()
		defer l.subMu.Unlock()
		delete(l.subs, id)
	}
}

func (l *Ledger) queueLocked(c Change) {
	l.pending = append(l.pending, c)
}

// deliver drains queued changes. A mutation returns only once its own change
// has been handed to every subscriber.
func (l *Ledger) deliver() {
	l.deliverMu.Lock()
	defer l.deliverMu.Unlock()
	for {
		l.mu.Lock()
		batch := l.pending
		l.pending = nil
		l.mu.Unlock()
		if len(batch) == 0 {
			return
		}
		for _, c := range batch {
			l.notify(c)
		}
	}
}

func (l *Ledger) notify(c Change) {
	l.subMu.Lock()
	fns := make([]func(Change), 0, len(l.subs))
	for _, fn := range l.subs {
		fns = append(fns, fn)
	}
	l.subMu.Unlock()
	for _, fn := range fns {
		fn(c)
	}
}

// addEvidence appends the non-empty, not yet present items of add.
func addEvidence(list []string, add ...string) []string {
	for _, item := range add {
		item = strings.TrimSpace(item)
		if item == "" || containsString(list, item) {
			continue
		}
		list = append(list, item)
	}
	return list
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
