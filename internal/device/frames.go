package device

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io/fs"
	"os"
	"sync"
	"time"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/Pr4shant/Deduction-Engine/pkg/core"
	"github.com/Pr4shant/Deduction-Engine/pkg/core/live"
)

// FileFrames serves the image at Path as the current video frame. An external
// capture tool is expected to overwrite the file; it is decoded again only
// when its size or modification time changes.
type FileFrames struct {
	Path string

	mu      sync.Mutex
	modTime time.Time
	size    int64
	img     image.Image
}

// NewFileFrames returns a frame source reading path.
func NewFileFrames(path string) *FileFrames {
	return &FileFrames{Path: path}
}

// Frame implements live.FrameSource. A missing file yields live.ErrNoFrame.
func (f *FileFrames) Frame(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	info, err := os.Stat(f.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, live.ErrNoFrame
	}
	if err != nil {
		return nil, core.NewCaptureError(fmt.Sprintf("stat frame: %v", err))
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.img != nil && info.ModTime().Equal(f.modTime) && info.Size() == f.size {
		return f.img, nil
	}

	file, err := os.Open(f.Path)
	if err != nil {
		return nil, core.NewCaptureError(fmt.Sprintf("open frame: %v", err))
	}
	defer file.Close()
	img, _, err := image.Decode(file)
	if err != nil {
		// Usually a partially written file; try again next tick.
		return nil, live.ErrNoFrame
	}
	f.img, f.modTime, f.size = img, info.ModTime(), info.Size()
	return img, nil
}
