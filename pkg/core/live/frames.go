package live

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/jpeg"
	"log/slog"
	"time"

	"golang.org/x/image/draw"
)

// ErrNoFrame is returned by a FrameSource that has nothing to offer yet.
// The sampler skips the tick without logging.
var ErrNoFrame = errors.New("live: no frame available")

// FrameSource yields the current video frame.
type FrameSource interface {
	Frame(ctx context.Context) (image.Image, error)
}

const (
	DefaultFrameInterval = time.Second
	DefaultFrameMaxWidth = 1280
	DefaultFrameQuality  = 50
	// StillQuality is used for the one-off frame attached to an audit.
	StillQuality = 90
)

// FrameSamplerOptions configures a FrameSampler.
type FrameSamplerOptions struct {
	Interval time.Duration
	// MaxWidth bounds the streamed frame width; 0 keeps the default.
	MaxWidth int
	// Quality is the streamed JPEG quality in [1,100].
	Quality int
	// OnSent is called with the size of every frame handed to the session.
	OnSent  func(bytes int)
	OnError func(err error)
	Logger  *slog.Logger
}

// FrameSampler periodically grabs a frame, downsamples it and streams it as
// JPEG.
type FrameSampler struct {
	src  FrameSource
	send SendFunc
	opts FrameSamplerOptions
}

// NewFrameSampler creates a sampler from src to send. send may be nil when
// the sampler is only used for Capture.
func NewFrameSampler(src FrameSource, send SendFunc, opts FrameSamplerOptions) *FrameSampler {
	if opts.Interval <= 0 {
		opts.Interval = DefaultFrameInterval
	}
	if opts.MaxWidth <= 0 {
		opts.MaxWidth = DefaultFrameMaxWidth
	}
	if opts.Quality <= 0 || opts.Quality > 100 {
		opts.Quality = DefaultFrameQuality
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &FrameSampler{src: src, send: send, opts: opts}
}

// Run samples one frame per interval until ctx is cancelled. Failed captures
// are skipped; the next tick tries again.
func (f *FrameSampler) Run(ctx context.Context) error {
	ticker := time.NewTicker(f.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := f.Tick(ctx); err != nil && ctx.Err() == nil {
				f.opts.Logger.Warn("frame sample failed", "error", err)
				if f.opts.OnError != nil {
					f.opts.OnError(err)
				}
			}
		}
	}
}

// Tick captures, encodes and sends a single frame. ErrNoFrame is not an error.
func (f *FrameSampler) Tick(ctx context.Context) error {
	img, err := f.src.Frame(ctx)
	if errors.Is(err, ErrNoFrame) {
		return nil
	}
	if err != nil {
		return err
	}
	data, err := EncodeJPEG(img, f.opts.MaxWidth, f.opts.Quality)
	if err != nil {
		return err
	}
	if f.send == nil {
		return nil
	}
	if err := f.send(ctx, data); err != nil {
		return err
	}
	if f.opts.OnSent != nil {
		f.opts.OnSent(len(data))
	}
	return nil
}

// Capture grabs one full-resolution frame encoded at quality.
func (f *FrameSampler) Capture(ctx context.Context, quality int) ([]byte, error) {
	img, err := f.src.Frame(ctx)
	if err != nil {
		return nil, err
	}
	return EncodeJPEG(img, 0, quality)
}

// EncodeJPEG encodes img, first scaling it down to maxWidth when it is wider.
// maxWidth <= 0 keeps the original size.
func EncodeJPEG(img image.Image, maxWidth, quality int) ([]byte, error) {
	if img == nil {
		return nil, ErrNoFrame
	}
	img = Downscale(img, maxWidth)
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Downscale returns img scaled to maxWidth, preserving the aspect ratio.
func Downscale(img image.Image, maxWidth int) image.Image {
	b := img.Bounds()
	if maxWidth <= 0 || b.Dx() <= maxWidth {
		return img
	}
	h := max(1, b.Dy()*maxWidth/b.Dx())
	dst := image.NewRGBA(image.Rect(0, 0, maxWidth, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}
