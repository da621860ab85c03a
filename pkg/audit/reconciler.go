// Package audit periodically reconciles the deduction ledger against the
// accumulated transcript using a slower, deeper model.
package audit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Pr4shant/Deduction-Engine/pkg/core"
	"github.com/Pr4shant/Deduction-Engine/pkg/core/ledger"
	"github.com/Pr4shant/Deduction-Engine/pkg/core/live"
	"github.com/Pr4shant/Deduction-Engine/pkg/core/types"
)

const (
	DefaultInterval      = 60 * time.Second
	DefaultMinTranscript = 3
	DefaultTimeout       = 90 * time.Second
)

// Ledger is the part of the deduction ledger the reconciler reads and writes.
type Ledger interface {
	Snapshot() []types.Deduction
	Apply(source ledger.Source, u ledger.Update) ledger.Outcome
}

// Transcript is the part of the transcript log the reconciler reads.
type Transcript interface {
	Len() int
	Recent(n int) []types.TranscriptEntry
}

// StillCapturer grabs a full-resolution frame for the audit.
type StillCapturer interface {
	Capture(ctx context.Context, quality int) ([]byte, error)
}

// Options configures a Reconciler.
type Options struct {
	// MinTranscript is the transcript length below which audits are skipped.
	MinTranscript int
	// Window is the number of most recent transcript entries sent.
	Window int
	// Timeout bounds a single audit call.
	Timeout time.Duration
	// Stills is optional.
	Stills StillCapturer
	// OnReport is called after every audit that was skipped, completed or
	// failed. Triggers dropped as in flight are not reported.
	OnReport func(Report, error)
	// OnDropped is called for every trigger refused because an audit was
	// already running.
	OnDropped func()
	Logger    *slog.Logger
	Now       func() time.Time
}

// Report describes one audit.
type Report struct {
	Skipped    bool
	Summary    string
	Applied    int
	Unresolved int
	Outcomes   []ledger.Outcome
	Duration   time.Duration
}

// Reconciler runs audits one at a time.
type Reconciler struct {
	ledger     Ledger
	transcript Transcript
	auditor    Auditor
	opts       Options

	inFlight atomic.Bool
	wg       sync.WaitGroup
}

// NewReconciler wires a reconciler.
func NewReconciler(l Ledger, t Transcript, a Auditor, opts Options) *Reconciler {
	if opts.MinTranscript <= 0 {
		opts.MinTranscript = DefaultMinTranscript
	}
	if opts.Window <= 0 {
		opts.Window = DefaultTranscriptWindow
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Reconciler{ledger: l, transcript: t, auditor: a, opts: opts}
}

// InFlight reports whether an audit is running.
func (r *Reconciler) InFlight() bool {
	return r.inFlight.Load()
}

// Trigger runs one audit. A trigger while another audit is running is
// dropped with an audit_in_flight error. A malformed batch leaves the ledger
// untouched.
func (r *Reconciler) Trigger(ctx context.Context) (Report, error) {
	if !r.inFlight.CompareAndSwap(false, true) {
		r.dropped()
		return Report{}, core.NewAuditInFlightError()
	}
	defer r.inFlight.Store(false)

	if n := r.transcript.Len(); n < r.opts.MinTranscript {
		r.opts.Logger.Debug("audit skipped", "transcript", n, "min", r.opts.MinTranscript)
		report := Report{Skipped: true}
		if r.opts.OnReport != nil {
			r.opts.OnReport(report, nil)
		}
		return report, nil
	}

	start := r.opts.Now()
	report, err := r.run(ctx)
	report.Duration = r.opts.Now().Sub(start)
	if err != nil {
		r.opts.Logger.Warn("audit failed", "error", err, "duration", report.Duration)
	} else {
		r.opts.Logger.Info("audit applied",
			"applied", report.Applied, "unresolved", report.Unresolved, "duration", report.Duration)
	}
	if r.opts.OnReport != nil {
		r.opts.OnReport(report, err)
	}
	return report, err
}

func (r *Reconciler) run(ctx context.Context) (Report, error) {
	ctx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	req := Request{
		Transcript: r.transcript.Recent(r.opts.Window),
		Ledger:     NewLedgerView(r.ledger.Snapshot()),
	}
	if r.opts.Stills != nil {
		frame, err := r.opts.Stills.Capture(ctx, live.StillQuality)
		if err != nil {
			r.opts.Logger.Debug("audit without still frame", "error", err)
		} else {
			req.Frame = frame
		}
	}

	res, err := r.auditor.Audit(ctx, req)
	if err != nil {
		return Report{}, err
	}

	report := Report{Summary: res.Summary, Outcomes: make([]ledger.Outcome, 0, len(res.Updates))}
	for _, u := range res.Updates {
		out := r.ledger.Apply(ledger.SourceAudit, u)
		report.Outcomes = append(report.Outcomes, out)
		switch out.Result {
		case ledger.ResultApplied:
			report.Applied++
		case ledger.ResultUnresolved:
			report.Unresolved++
			r.opts.Logger.Info("audit update unresolved", "type", out.Kind, "error", out.Err)
		}
	}
	return report, nil
}

func (r *Reconciler) dropped() {
	if r.opts.OnDropped != nil {
		r.opts.OnDropped()
	}
}

// Run starts an audit every interval until ctx is cancelled. Audits run
// detached from ctx: one already started when ctx ends still completes and
// applies its batch. Wait blocks until they are done.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if r.InFlight() {
				r.opts.Logger.Debug("audit tick dropped", "reason", "in flight")
				r.dropped()
				continue
			}
			r.Go(context.WithoutCancel(ctx))
		}
	}
}

// Go starts Trigger in the background.
func (r *Reconciler) Go(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if _, err := r.Trigger(ctx); core.IsType(err, core.ErrAuditInFlight) {
			r.opts.Logger.Debug("audit dropped", "reason", "in flight")
		}
	}()
}

// Wait blocks until every audit started by Run or Go has returned.
func (r *Reconciler) Wait() {
	r.wg.Wait()
}
