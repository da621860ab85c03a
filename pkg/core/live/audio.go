package live

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"time"
)

// EncodePCM16 converts float samples in [-1, 1] to 16-bit signed
// little-endian PCM. Out-of-range samples are clamped.
func EncodePCM16(samples []float32) []byte {
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		if math.IsNaN(float64(s)) {
			s = 0
		}
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		var v int16
		if s < 0 {
			v = int16(s * 32768)
		} else {
			v = int16(s * 32767)
		}
		pcm[i*2] = byte(v)
		pcm[i*2+1] = byte(uint16(v) >> 8)
	}
	return pcm
}

// CalculateRMSEnergy computes the root-mean-square energy of PCM audio.
// Input is assumed to be 16-bit signed little-endian PCM.
// Returns a value between 0.0 and 1.0.
func CalculateRMSEnergy(pcm []byte) float64 {
	samples := len(pcm) / 2
	if samples == 0 {
		return 0
	}

	var sum float64
	for i := 0; i < len(pcm)-1; i += 2 {
		sample := int16(pcm[i]) | int16(pcm[i+1])<<8
		normalized := float64(sample) / 32768.0
		sum += normalized * normalized
	}

	return math.Sqrt(sum / float64(samples))
}

// SendFunc forwards one encoded media chunk to the live session.
type SendFunc func(ctx context.Context, data []byte) error

// AudioSource yields blocks of mono float samples at the input sample rate.
// ReadBlock returns io.EOF when the source is exhausted.
type AudioSource interface {
	ReadBlock(ctx context.Context) ([]float32, error)
}

// Capture is implemented by sources backed by a device that should only run
// while a session is open. StopCapture discards anything captured so far.
type Capture interface {
	StartCapture() error
	StopCapture() error
}

// AudioEncoderOptions configures an AudioEncoder.
type AudioEncoderOptions struct {
	// OnLevel receives the RMS energy of every encoded block.
	OnLevel func(rms float64)
	// OnError receives capture and send failures.
	OnError func(err error)
	// RetryDelay is the pause after a failed read. Default: 100ms.
	RetryDelay time.Duration
	Logger     *slog.Logger
}

// AudioEncoder pulls blocks from an AudioSource, converts them to PCM16 and
// sends each one as it arrives. Nothing is buffered beyond the current block.
type AudioEncoder struct {
	src  AudioSource
	send SendFunc
	opts AudioEncoderOptions
}

// NewAudioEncoder creates an encoder from src to send.
func NewAudioEncoder(src AudioSource, send SendFunc, opts AudioEncoderOptions) *AudioEncoder {
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 100 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &AudioEncoder{src: src, send: send, opts: opts}
}

// Run encodes until ctx is cancelled or the source reports io.EOF.
func (e *AudioEncoder) Run(ctx context.Context) error {
	for {
		block, err := e.src.ReadBlock(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, io.EOF) {
			e.opts.Logger.Debug("audio source exhausted")
			return nil
		}
		if err != nil {
			e.fail("audio capture failed", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(e.opts.RetryDelay):
			}
			continue
		}
		if len(block) == 0 {
			continue
		}

		pcm := EncodePCM16(block)
		if e.opts.OnLevel != nil {
			e.opts.OnLevel(CalculateRMSEnergy(pcm))
		}
		if err := e.send(ctx, pcm); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			e.fail("audio send failed", err)
		}
	}
}

func (e *AudioEncoder) fail(msg string, err error) {
	e.opts.Logger.Warn(msg, "error", err)
	if e.opts.OnError != nil {
		e.opts.OnError(err)
	}
}
