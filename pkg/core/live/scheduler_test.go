package live

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Duration
}

func (c *fakeClock) Now() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(d time.Duration) {
	c.mu.Lock()
	c.now = d
	c.mu.Unlock()
}

type recordingOutput struct {
	starts  []time.Duration
	flushes int
	err     error
}

func (o *recordingOutput) PlayAt(start time.Duration, pcm []byte) error {
	o.starts = append(o.starts, start)
	return o.err
}

func (o *recordingOutput) Flush() { o.flushes++ }

func TestScheduler_GaplessStarts(t *testing.T) {
	t.Parallel()
	clock := &fakeClock{}
	s := NewScheduler(nil, SchedulerOptions{Clock: clock})

	var starts []time.Duration
	for _, now := range []time.Duration{0, 0, 5 * time.Second} {
		clock.Set(now)
		starts = append(starts, s.Schedule(time.Second))
	}

	want := []time.Duration{0, time.Second, 5 * time.Second}
	for i := range want {
		if starts[i] != want[i] {
			t.Fatalf("starts = %v, want %v", starts, want)
		}
	}
	if s.Cursor() != 6*time.Second {
		t.Fatalf("Cursor() = %v, want 6s", s.Cursor())
	}
}

func TestScheduler_NoOverlapUnderArbitraryClock(t *testing.T) {
	t.Parallel()
	clock := &fakeClock{}
	s := NewScheduler(nil, SchedulerOptions{Clock: clock})

	nows := []time.Duration{0, 300, 100, 2000, 2100, 2100, 9000}
	durations := []time.Duration{500, 500, 250, 10, 1000, 40, 5}
	var prevEnd time.Duration
	for i, now := range nows {
		clock.Set(now * time.Millisecond)
		d := durations[i] * time.Millisecond
		start := s.Schedule(d)
		if start < prevEnd {
			t.Fatalf("chunk %d starts at %v before previous end %v", i, start, prevEnd)
		}
		if start < clock.Now() {
			t.Fatalf("chunk %d starts in the past", i)
		}
		prevEnd = start + d
	}
}

func TestScheduler_EnqueueUsesFormatDuration(t *testing.T) {
	t.Parallel()
	clock := &fakeClock{}
	out := &recordingOutput{}
	s := NewScheduler(out, SchedulerOptions{Clock: clock})

	chunk := make([]byte, OutputAudioConfig().BytesForDuration(250*time.Millisecond))
	for i := 0; i < 3; i++ {
		if _, err := s.Enqueue(chunk); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	want := []time.Duration{0, 250 * time.Millisecond, 500 * time.Millisecond}
	for i := range want {
		if out.starts[i] != want[i] {
			t.Fatalf("starts = %v, want %v", out.starts, want)
		}
	}
}

func TestScheduler_ResetReanchorsAndFlushes(t *testing.T) {
	t.Parallel()
	clock := &fakeClock{}
	out := &recordingOutput{}
	s := NewScheduler(out, SchedulerOptions{Clock: clock})

	s.Schedule(10 * time.Second)
	clock.Set(2 * time.Second)
	s.Reset()

	if out.flushes != 1 {
		t.Fatalf("flushes = %d, want 1", out.flushes)
	}
	if start := s.Schedule(time.Second); start != 2*time.Second {
		t.Fatalf("start after reset = %v, want 2s", start)
	}
}

func TestScheduler_EnqueueReportsOutputError(t *testing.T) {
	t.Parallel()
	out := &recordingOutput{err: errors.New("device gone")}
	s := NewScheduler(out, SchedulerOptions{Clock: &fakeClock{}})
	if _, err := s.Enqueue(make([]byte, 480)); err == nil {
		t.Fatal("Enqueue() error = nil, want output error")
	}
}
