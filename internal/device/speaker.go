package device

import (
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/Pr4shant/Deduction-Engine/pkg/core/live"
)

// Speaker plays scheduled PCM through the default output device.
//
// The player pulls continuously, emitting silence when nothing is queued, so
// the number of bytes consumed is a sample-accurate playback clock. Speaker
// implements live.Output, live.Flusher and live.Clock.
type Speaker struct {
	ctx    *oto.Context
	player *oto.Player
	tl     *timeline
}

// OpenSpeaker starts playback at the live output format.
func OpenSpeaker() (*Speaker, error) {
	format := live.OutputAudioConfig()
	otoCtx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   format.SampleRate,
		ChannelCount: format.Channels,
		Format:       oto.FormatSignedInt16LE,
		// ~100ms at 24kHz mono 16-bit
		BufferSize: 100 * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("init speaker: %w", err)
	}
	<-ready

	s := &Speaker{ctx: otoCtx, tl: newTimeline(format)}
	s.player = otoCtx.NewPlayer(s.tl)
	s.player.Play()
	return s, nil
}

// PlayAt queues pcm to start at the given timeline position.
func (s *Speaker) PlayAt(start time.Duration, pcm []byte) error {
	return s.tl.PlayAt(start, pcm)
}

// Flush drops everything queued but not yet played.
func (s *Speaker) Flush() { s.tl.Flush() }

// Now is the playback position.
func (s *Speaker) Now() time.Duration { return s.tl.Now() }

// Close stops playback.
func (s *Speaker) Close() error {
	s.tl.Close()
	return s.player.Close()
}

// timeline is the io.Reader handed to the player. Position 0 is the first
// byte ever read.
type timeline struct {
	format live.AudioConfig

	mu     sync.Mutex
	played int64
	queue  []byte
	closed bool
}

func newTimeline(format live.AudioConfig) *timeline {
	return &timeline{format: format}
}

func (t *timeline) PlayAt(start time.Duration, pcm []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return fmt.Errorf("speaker closed")
	}
	end := t.played + int64(len(t.queue))
	if gap := int64(t.format.BytesForDuration(start)) - end; gap > 0 {
		t.queue = append(t.queue, make([]byte, gap)...)
	}
	t.queue = append(t.queue, pcm...)
	return nil
}

func (t *timeline) Flush() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.queue = t.queue[:0]
}

func (t *timeline) Now() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.format.Duration(int(t.played))
}

// Read never blocks; missing audio is filled with silence.
func (t *timeline) Read(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := copy(p, t.queue)
	t.queue = t.queue[n:]
	clear(p[n:])
	t.played += int64(len(p))
	return len(p), nil
}

func (t *timeline) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.queue = nil
}
