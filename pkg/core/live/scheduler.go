package live

import (
	"log/slog"
	"sync"
	"time"
)

// Clock reports the current position of the playback timeline.
type Clock interface {
	Now() time.Duration
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Duration

func (f ClockFunc) Now() time.Duration { return f() }

// MonotonicClock measures the timeline from its creation using the
// monotonic reading of time.Now.
type MonotonicClock struct {
	origin time.Time
}

// NewMonotonicClock starts a timeline at zero.
func NewMonotonicClock() *MonotonicClock {
	return &MonotonicClock{origin: time.Now()}
}

func (c *MonotonicClock) Now() time.Duration {
	return time.Since(c.origin)
}

// Output plays a PCM chunk starting at a timeline position.
type Output interface {
	PlayAt(start time.Duration, pcm []byte) error
}

// Flusher is implemented by outputs that can drop queued audio.
type Flusher interface {
	Flush()
}

// SchedulerOptions configures a Scheduler.
type SchedulerOptions struct {
	// Clock defaults to a MonotonicClock.
	Clock Clock
	// Format of enqueued chunks. Default: OutputAudioConfig.
	Format AudioConfig
	Logger *slog.Logger
}

// Scheduler assigns back-to-back start times to incoming audio chunks so
// consecutive chunks play without gaps or overlap. A chunk that arrives after
// the previous one has finished starts immediately.
type Scheduler struct {
	mu     sync.Mutex
	clock  Clock
	out    Output
	format AudioConfig
	cursor time.Duration
	logger *slog.Logger
}

// NewScheduler creates a Scheduler feeding out. out may be nil when only
// Schedule is used.
func NewScheduler(out Output, opts SchedulerOptions) *Scheduler {
	if opts.Clock == nil {
		opts.Clock = NewMonotonicClock()
	}
	if opts.Format.SampleRate == 0 {
		opts.Format = OutputAudioConfig()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Scheduler{
		clock:  opts.Clock,
		out:    out,
		format: opts.Format,
		cursor: opts.Clock.Now(),
		logger: opts.Logger,
	}
}

// Schedule reserves d on the timeline and returns the start position.
func (s *Scheduler) Schedule(d time.Duration) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scheduleLocked(d)
}

func (s *Scheduler) scheduleLocked(d time.Duration) time.Duration {
	start := max(s.cursor, s.clock.Now())
	s.cursor = start + d
	return start
}

// Enqueue schedules pcm and hands it to the output. Chunks reach the output
// in the order Enqueue is called.
func (s *Scheduler) Enqueue(pcm []byte) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	start := s.scheduleLocked(s.format.Duration(len(pcm)))
	if s.out == nil {
		return start, nil
	}
	if err := s.out.PlayAt(start, pcm); err != nil {
		s.logger.Warn("audio playback failed", "start", start, "bytes", len(pcm), "error", err)
		return start, err
	}
	return start, nil
}

// Reset re-anchors the cursor at the current clock and flushes the output.
func (s *Scheduler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursor = s.clock.Now()
	if f, ok := s.out.(Flusher); ok {
		f.Flush()
	}
}

// Cursor returns the end of the last scheduled chunk.
func (s *Scheduler) Cursor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}
