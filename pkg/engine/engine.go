// Package engine ties the deduction ledger, the transcript, the live session
// and the audit reconciler together behind one small surface.
//
// The engine owns the session state machine:
//
//	Disconnected -> Connecting -> Open -> Closing -> Disconnected
//	Connecting/Open -> Error (transport failure, no automatic reconnect)
//
// While Open, an errgroup runs the event dispatcher, the frame sampler, the
// audio encoder and the audit ticker. Audits started by the ticker run
// detached, so Disconnect never waits for one.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Pr4shant/Deduction-Engine/pkg/audit"
	"github.com/Pr4shant/Deduction-Engine/pkg/core"
	"github.com/Pr4shant/Deduction-Engine/pkg/core/ledger"
	"github.com/Pr4shant/Deduction-Engine/pkg/core/live"
	"github.com/Pr4shant/Deduction-Engine/pkg/core/transcript"
	"github.com/Pr4shant/Deduction-Engine/pkg/core/types"
	"github.com/Pr4shant/Deduction-Engine/pkg/metrics"
	"github.com/Pr4shant/Deduction-Engine/pkg/store"
)

const (
	DefaultDisconnectTimeout = 5 * time.Second
	DefaultPersistDebounce   = 500 * time.Millisecond
	saveTimeout              = 5 * time.Second
)

// Deps are the collaborators of an Engine. All are optional except that
// Connect needs a Dialer and at least one of Audio and Frames, and RunAudit
// needs an Auditor.
type Deps struct {
	Dialer  Dialer
	Auditor audit.Auditor
	Store   store.Store
	Audio   live.AudioSource
	Frames  live.FrameSource
	// Output plays the backend's speech. Nil discards it.
	Output  live.Output
	Clock   live.Clock
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Options tunes an Engine. Zero values take package defaults.
type Options struct {
	TranscriptCapacity   int
	MergeDuplicateTitles bool

	AuditInterval      time.Duration
	AuditTimeout       time.Duration
	AuditMinTranscript int
	AuditWindow        int

	FrameInterval time.Duration
	FrameMaxWidth int
	FrameQuality  int

	DisconnectTimeout time.Duration
	// PersistDebounce delays saves after a change; 0 uses the default.
	PersistDebounce time.Duration

	Now   func() time.Time
	NewID func() string
}

// Snapshot is a consistent copy of the engine's observable state.
type Snapshot struct {
	State           live.SessionState       `json:"state"`
	Err             string                  `json:"error,omitempty"`
	Deductions      []types.Deduction       `json:"deductions"`
	Transcript      []types.TranscriptEntry `json:"transcript"`
	LastObservation string                  `json:"last_observation"`
	Auditing        bool                    `json:"auditing"`
	Stats           ledger.Stats            `json:"stats"`
}

// Engine is safe for concurrent use.
type Engine struct {
	deps   Deps
	opts   Options
	logger *slog.Logger

	ledger     *ledger.Ledger
	transcript *transcript.Log
	reconciler *audit.Reconciler
	scheduler  *live.Scheduler
	stills     *live.FrameSampler

	mu              sync.Mutex
	state           live.SessionState
	stateErr        error
	gen             uint64
	session         Session
	cancel          context.CancelFunc
	tasksDone       chan struct{}
	openedAt        time.Time
	lastObservation string
	closed          bool

	subMu   sync.Mutex
	subs    map[int]func(live.Event)
	nextSub int

	persist   *persister
	unsubs    []func()
	closeOnce sync.Once
}

// New builds an engine and restores any persisted state from deps.Store.
func New(ctx context.Context, deps Deps, opts Options) (*Engine, error) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if opts.DisconnectTimeout <= 0 {
		opts.DisconnectTimeout = DefaultDisconnectTimeout
	}
	if opts.PersistDebounce <= 0 {
		opts.PersistDebounce = DefaultPersistDebounce
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	e := &Engine{
		deps:   deps,
		opts:   opts,
		logger: deps.Logger,
		ledger: ledger.New(ledger.Options{
			Now:                  opts.Now,
			NewID:                opts.NewID,
			MergeDuplicateTitles: opts.MergeDuplicateTitles,
			Logger:               deps.Logger,
		}),
		transcript: transcript.New(transcript.Options{
			Capacity: opts.TranscriptCapacity,
			Now:      opts.Now,
			NewID:    opts.NewID,
		}),
		lastObservation: types.DefaultObservation,
		subs:            make(map[int]func(live.Event)),
	}

	if deps.Output != nil {
		e.scheduler = live.NewScheduler(deps.Output, live.SchedulerOptions{Clock: deps.Clock, Logger: deps.Logger})
	}
	if deps.Frames != nil {
		e.stills = live.NewFrameSampler(deps.Frames, nil, e.frameOptions())
	}
	if deps.Auditor != nil {
		ropts := audit.Options{
			MinTranscript: opts.AuditMinTranscript,
			Window:        opts.AuditWindow,
			Timeout:       opts.AuditTimeout,
			OnReport:      e.onAuditReport,
			OnDropped:     func() { deps.Metrics.RecordAudit("dropped", 0, 0, 0) },
			Logger:        deps.Logger,
			Now:           opts.Now,
		}
		if e.stills != nil {
			ropts.Stills = e.stills
		}
		e.reconciler = audit.NewReconciler(e.ledger, e.transcript, deps.Auditor, ropts)
	}

	if deps.Store != nil {
		if err := e.restore(ctx); err != nil {
			return nil, err
		}
		e.persist = newPersister(deps.Store, opts.PersistDebounce, e.persistedState, deps.Logger)
	}

	e.unsubs = append(e.unsubs,
		e.ledger.Subscribe(e.onLedgerChange),
		e.transcript.Subscribe(e.onTranscript),
	)
	return e, nil
}

func (e *Engine) restore(ctx context.Context) error {
	st, err := e.deps.Store.Load(ctx)
	if err != nil {
		return fmt.Errorf("restore state: %w", err)
	}
	if st == nil {
		return nil
	}
	e.ledger.Restore(st.Deductions)
	e.transcript.Restore(st.Transcript)
	if st.LastObservation != "" {
		e.lastObservation = st.LastObservation
	}
	e.logger.Info("state restored",
		"deductions", e.ledger.Len(), "transcript", e.transcript.Len(), "saved_at", st.SavedAt)
	return nil
}

func (e *Engine) persistedState() types.State {
	e.mu.Lock()
	obs := e.lastObservation
	e.mu.Unlock()
	return types.State{
		Version:         types.StateVersion,
		Transcript:      e.transcript.All(),
		Deductions:      e.ledger.Snapshot(),
		LastObservation: obs,
		SavedAt:         e.opts.Now(),
	}
}

func (e *Engine) frameOptions() live.FrameSamplerOptions {
	return live.FrameSamplerOptions{
		Interval: e.opts.FrameInterval,
		MaxWidth: e.opts.FrameMaxWidth,
		Quality:  e.opts.FrameQuality,
		Logger:   e.logger,
	}
}

// Ledger exposes the ledger for direct manual updates.
func (e *Engine) Ledger() *ledger.Ledger {
	return e.ledger
}

// State returns the session state and, in StateError, its cause.
func (e *Engine) State() (live.SessionState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state, e.stateErr
}

// Snapshot returns the current state. Deductions are newest first and the
// transcript oldest first.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	s := Snapshot{State: e.state, LastObservation: e.lastObservation}
	if e.stateErr != nil {
		s.Err = e.stateErr.Error()
	}
	e.mu.Unlock()
	s.Deductions = e.ledger.Snapshot()
	s.Transcript = e.transcript.All()
	s.Stats = e.ledger.Stats()
	s.Auditing = e.reconciler != nil && e.reconciler.InFlight()
	return s
}

// Subscribe registers fn for every engine event. Events are delivered on
// the goroutine that caused them, outside engine locks. The returned func
// unsubscribes.
func (e *Engine) Subscribe(fn func(live.Event)) func() {
	e.subMu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = fn
	e.subMu.Unlock()
	return func() {
		e.subMu.Lock()
		delete(e.subs, id)
		e.subMu.Unlock()
	}
}

func (e *Engine) emit(ev live.Event) {
	if ev == nil {
		return
	}
	e.subMu.Lock()
	fns := make([]func(live.Event), 0, len(e.subs))
	for _, fn := range e.subs {
		fns = append(fns, fn)
	}
	e.subMu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

// setStateLocked changes state and returns the event to emit once e.mu is
// released.
func (e *Engine) setStateLocked(to live.SessionState, err error) live.Event {
	from := e.state
	e.state = to
	e.stateErr = err
	if from == to && err == nil {
		return nil
	}
	e.logger.Info("session state changed", "from", from, "to", to, "error", err)
	return &live.StateChangedEvent{From: from, To: to, Err: err}
}

// Connect dials the live session and starts streaming. It is a no-op while
// Connecting or Open and allowed again after an Error.
func (e *Engine) Connect(ctx context.Context) error {
	e.mu.Lock()
	switch {
	case e.closed:
		e.mu.Unlock()
		return core.NewInvalidRequestError("engine is closed")
	case e.state.Active():
		e.mu.Unlock()
		return nil
	case e.state == live.StateClosing:
		e.mu.Unlock()
		return core.NewInvalidRequestError("disconnect in progress")
	case e.deps.Audio == nil && e.deps.Frames == nil:
		e.mu.Unlock()
		return core.NewCaptureError("no audio or video source configured")
	case e.deps.Dialer == nil:
		e.mu.Unlock()
		return core.NewInvalidRequestError("no live dialer configured")
	}
	dialCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	e.gen++
	gen := e.gen
	e.cancel = cancel
	ev := e.setStateLocked(live.StateConnecting, nil)
	e.mu.Unlock()
	e.emit(ev)

	sess, err := e.deps.Dialer.Dial(dialCtx)

	e.mu.Lock()
	if e.gen != gen || e.state != live.StateConnecting {
		// Disconnect won the race.
		e.mu.Unlock()
		if sess != nil {
			_ = sess.Close()
		}
		return fmt.Errorf("connect aborted: %w", context.Canceled)
	}
	if err != nil {
		if !core.IsType(err, core.ErrTransport) && !core.IsType(err, core.ErrInvalidRequest) {
			err = core.NewTransportError("live session handshake failed", err)
		}
		ev := e.setStateLocked(live.StateError, err)
		e.cancel = nil
		e.mu.Unlock()
		e.deps.Metrics.RecordError(errorType(err))
		e.emit(ev)
		return err
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	e.session = sess
	e.cancel = runCancel
	e.tasksDone = done
	e.openedAt = e.opts.Now()
	ev = e.setStateLocked(live.StateOpen, nil)
	e.mu.Unlock()

	e.deps.Metrics.RecordLiveSessionStart()
	e.emit(ev)
	e.startCapture()
	e.startTasks(runCtx, sess, done)
	return nil
}

// captures returns the configured sources that hold a capture device.
func (e *Engine) captures() []live.Capture {
	var out []live.Capture
	if c, ok := e.deps.Audio.(live.Capture); ok {
		out = append(out, c)
	}
	if c, ok := e.deps.Frames.(live.Capture); ok {
		out = append(out, c)
	}
	return out
}

func (e *Engine) startCapture() {
	for _, c := range e.captures() {
		if err := c.StartCapture(); err != nil {
			e.logger.Warn("start capture", "error", err)
			e.deps.Metrics.RecordError(errorType(err))
		}
	}
}

// stopCapture releases capture devices so nothing accumulates between
// sessions.
func (e *Engine) stopCapture() {
	for _, c := range e.captures() {
		if err := c.StopCapture(); err != nil {
			e.logger.Warn("stop capture", "error", err)
		}
	}
}

func (e *Engine) startTasks(ctx context.Context, sess Session, done chan struct{}) {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return e.dispatch(gctx, sess) })

	if e.deps.Frames != nil {
		opts := e.frameOptions()
		opts.OnSent = func(int) { e.deps.Metrics.RecordFrameSent() }
		opts.OnError = func(err error) { e.deps.Metrics.RecordError(string(core.ErrCapture)) }
		sampler := live.NewFrameSampler(e.deps.Frames, sess.SendImage, opts)
		g.Go(func() error { return sampler.Run(gctx) })
	}

	if e.deps.Audio != nil {
		mime := live.InputAudioConfig().MIMEType()
		send := func(ctx context.Context, pcm []byte) error {
			if err := sess.SendAudio(ctx, pcm, mime); err != nil {
				return err
			}
			e.deps.Metrics.RecordLiveAudio("in", len(pcm))
			return nil
		}
		encoder := live.NewAudioEncoder(e.deps.Audio, send, live.AudioEncoderOptions{
			OnLevel: e.deps.Metrics.RecordInputLevel,
			OnError: func(error) { e.deps.Metrics.RecordError(string(core.ErrCapture)) },
			Logger:  e.logger,
		})
		g.Go(func() error { return encoder.Run(gctx) })
	}

	if e.reconciler != nil {
		g.Go(func() error { return e.reconciler.Run(gctx, e.opts.AuditInterval) })
	}

	go func() {
		defer close(done)
		if err := g.Wait(); err != nil {
			e.logger.Debug("session tasks stopped", "error", err)
		}
	}()
}

// dispatch routes session events until the session ends or ctx is
// cancelled. A session that ends on its own moves the engine to Error.
func (e *Engine) dispatch(ctx context.Context, sess Session) error {
	events := sess.Events()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				err := sess.Err()
				if err == nil {
					err = core.NewTransportError("live session ended", nil)
				}
				e.fail(sess, err)
				return err
			}
			e.handle(ctx, sess, ev)
		}
	}
}

// fail moves an open session to Error. It runs inside the task group and
// therefore never waits for it.
func (e *Engine) fail(sess Session, err error) {
	e.mu.Lock()
	if e.session != sess || e.state != live.StateOpen {
		e.mu.Unlock()
		return
	}
	cancel := e.cancel
	openedAt := e.openedAt
	e.session = nil
	e.cancel = nil
	ev := e.setStateLocked(live.StateError, err)
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	_ = sess.Close()
	e.stopCapture()
	if e.scheduler != nil {
		e.scheduler.Reset()
	}
	e.deps.Metrics.RecordError(errorType(err))
	e.deps.Metrics.RecordLiveSessionEnd("error", e.opts.Now().Sub(openedAt))
	e.emit(ev)
}

// Disconnect stops streaming and closes the session. It is valid from every
// state, waits at most DisconnectTimeout for the session tasks and never
// waits for an in-flight audit.
func (e *Engine) Disconnect() error {
	e.mu.Lock()
	switch e.state {
	case live.StateDisconnected, live.StateClosing:
		e.mu.Unlock()
		return nil
	case live.StateConnecting, live.StateError:
		e.gen++
		cancel := e.cancel
		e.cancel = nil
		ev := e.setStateLocked(live.StateDisconnected, nil)
		e.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		e.emit(ev)
		return nil
	}

	sess := e.session
	cancel := e.cancel
	done := e.tasksDone
	openedAt := e.openedAt
	e.session = nil
	e.cancel = nil
	ev := e.setStateLocked(live.StateClosing, nil)
	e.mu.Unlock()
	e.emit(ev)

	cancel()
	var closeErr error
	if sess != nil {
		closeErr = sess.Close()
	}
	e.stopCapture()
	if e.scheduler != nil {
		e.scheduler.Reset()
	}

	timer := time.NewTimer(e.opts.DisconnectTimeout)
	select {
	case <-done:
		timer.Stop()
	case <-timer.C:
		e.logger.Warn("session tasks did not stop in time", "timeout", e.opts.DisconnectTimeout)
	}

	e.mu.Lock()
	ev = e.setStateLocked(live.StateDisconnected, nil)
	e.mu.Unlock()
	e.deps.Metrics.RecordLiveSessionEnd("disconnected", e.opts.Now().Sub(openedAt))
	e.emit(ev)

	if closeErr != nil {
		e.logger.Debug("close live session", "error", closeErr)
	}
	return nil
}

// RunAudit runs one audit now, whatever the session state. A call while
// another audit is running fails with an audit_in_flight error.
func (e *Engine) RunAudit(ctx context.Context) (audit.Report, error) {
	if e.reconciler == nil {
		return audit.Report{}, core.NewInvalidRequestError("no auditor configured")
	}
	return e.reconciler.Trigger(ctx)
}

// Reset clears the ledger, the transcript and the last observation.
func (e *Engine) Reset() {
	e.ledger.Reset()
	e.transcript.Reset()
	e.mu.Lock()
	e.lastObservation = types.DefaultObservation
	e.mu.Unlock()
	e.schedulePersist()
}

// LastObservation returns the most recent audit summary.
func (e *Engine) LastObservation() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastObservation
}

// Close disconnects, gives in-flight audits up to DisconnectTimeout to
// finish and flushes pending persistence.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		_ = e.Disconnect()
		e.mu.Lock()
		e.closed = true
		e.mu.Unlock()

		if e.reconciler != nil {
			waited := make(chan struct{})
			go func() {
				e.reconciler.Wait()
				close(waited)
			}()
			select {
			case <-waited:
			case <-time.After(e.opts.DisconnectTimeout):
				e.logger.Warn("closing with an audit still running")
			}
		}

		for _, unsub := range e.unsubs {
			unsub()
		}
		if e.persist != nil {
			err = e.persist.Close()
		}
	})
	return err
}

func (e *Engine) schedulePersist() {
	if e.persist != nil {
		e.persist.Touch()
	}
}

func (e *Engine) onLedgerChange(c ledger.Change) {
	e.schedulePersist()
	if c.Kind == ledger.ChangeReset || c.Kind == ledger.ChangeRestored {
		return
	}
	e.emit(&live.DeductionChangedEvent{
		Change:    string(c.Kind),
		Source:    string(c.Source),
		Deduction: c.Deduction,
	})
}

func (e *Engine) onTranscript(entry types.TranscriptEntry) {
	e.schedulePersist()
	e.emit(&live.TranscriptAppendedEvent{Entry: entry})
}

func (e *Engine) onAuditReport(r audit.Report, err error) {
	m := e.deps.Metrics
	if err != nil {
		m.RecordAudit("failed", r.Duration, 0, 0)
		m.RecordError(errorType(err))
		var coreErr *core.Error
		code := string(core.ErrTransport)
		msg := err.Error()
		if errors.As(err, &coreErr) {
			code = string(coreErr.Type)
			msg = coreErr.Message
		}
		e.emit(&live.AuditFailedEvent{Code: code, Message: msg})
		return
	}
	if r.Skipped {
		m.RecordAudit("skipped", 0, 0, 0)
		e.emit(&live.AuditCompletedEvent{Skipped: true})
		return
	}

	m.RecordAudit("applied", r.Duration, r.Applied, r.Unresolved)
	for i := 0; i < r.Unresolved; i++ {
		m.RecordResolutionMiss(string(ledger.SourceAudit))
	}
	if r.Summary != "" {
		e.mu.Lock()
		e.lastObservation = r.Summary
		e.mu.Unlock()
		e.schedulePersist()
	}
	e.emit(&live.AuditCompletedEvent{Summary: r.Summary, Applied: r.Applied, Missed: r.Unresolved})
}

func errorType(err error) string {
	var coreErr *core.Error
	if errors.As(err, &coreErr) {
		return string(coreErr.Type)
	}
	return "unknown"
}
