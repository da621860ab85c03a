package live

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"testing"
)

type stubFrames struct {
	img image.Image
	err error
}

func (s stubFrames) Frame(context.Context) (image.Image, error) { return s.img, s.err }

func solid(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 40, B: 40, A: 255})
		}
	}
	return img
}

func decodeSize(t *testing.T, data []byte) (int, int) {
	t.Helper()
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("DecodeConfig: %v", err)
	}
	return cfg.Width, cfg.Height
}

func TestDownscale(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		w, h     int
		maxWidth int
		wantW    int
		wantH    int
	}{
		{name: "narrow kept", w: 640, h: 480, maxWidth: 1280, wantW: 640, wantH: 480},
		{name: "wide scaled", w: 2560, h: 1440, maxWidth: 1280, wantW: 1280, wantH: 720},
		{name: "no limit", w: 2560, h: 1440, maxWidth: 0, wantW: 2560, wantH: 1440},
		{name: "flat strip", w: 4000, h: 1, maxWidth: 100, wantW: 100, wantH: 1},
	}
	for _, tt := range tests {
		got := Downscale(solid(tt.w, tt.h), tt.maxWidth).Bounds()
		if got.Dx() != tt.wantW || got.Dy() != tt.wantH {
			t.Errorf("%s: got %dx%d, want %dx%d", tt.name, got.Dx(), got.Dy(), tt.wantW, tt.wantH)
		}
	}
}

func TestFrameSampler_TickSendsDownscaledJPEG(t *testing.T) {
	t.Parallel()
	var sent [][]byte
	var sizes []int
	f := NewFrameSampler(stubFrames{img: solid(200, 100)}, func(_ context.Context, data []byte) error {
		sent = append(sent, data)
		return nil
	}, FrameSamplerOptions{MaxWidth: 100, OnSent: func(n int) { sizes = append(sizes, n) }})

	if err := f.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if len(sent) != 1 || sizes[0] != len(sent[0]) {
		t.Fatalf("sent %d frames, sizes %v", len(sent), sizes)
	}
	if w, h := decodeSize(t, sent[0]); w != 100 || h != 50 {
		t.Fatalf("frame size = %dx%d, want 100x50", w, h)
	}
}

func TestFrameSampler_SkipsMissingFrame(t *testing.T) {
	t.Parallel()
	calls := 0
	f := NewFrameSampler(stubFrames{err: ErrNoFrame}, func(context.Context, []byte) error {
		calls++
		return nil
	}, FrameSamplerOptions{})

	if err := f.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if calls != 0 {
		t.Fatalf("send called %d times", calls)
	}

	boom := errors.New("camera unplugged")
	f = NewFrameSampler(stubFrames{err: boom}, nil, FrameSamplerOptions{})
	if err := f.Tick(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("Tick err = %v, want %v", err, boom)
	}
}

func TestFrameSampler_CaptureKeepsFullResolution(t *testing.T) {
	t.Parallel()
	f := NewFrameSampler(stubFrames{img: solid(1600, 900)}, nil, FrameSamplerOptions{})
	data, err := f.Capture(context.Background(), StillQuality)
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if w, h := decodeSize(t, data); w != 1600 || h != 900 {
		t.Fatalf("still size = %dx%d, want 1600x900", w, h)
	}
}
