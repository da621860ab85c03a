// Package device binds the engine's capture and playback interfaces to the
// local microphone, speaker and a frame file.
package device

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/Pr4shant/Deduction-Engine/pkg/core"
	"github.com/Pr4shant/Deduction-Engine/pkg/core/live"
)

// DefaultBlockDuration is the amount of audio handed out per ReadBlock.
const DefaultBlockDuration = 100 * time.Millisecond

// maxBuffered bounds unread audio. Older samples are dropped first.
const maxBuffered = time.Second

// Microphone captures mono 16-bit audio at the live input rate and yields it
// as float blocks. It implements live.AudioSource and live.Capture; samples
// only accumulate between StartCapture and StopCapture.
type Microphone struct {
	malgoCtx *malgo.AllocatedContext
	device   *malgo.Device

	blockBytes int
	maxBytes   int

	mu        sync.Mutex
	buf       []byte
	capturing bool
	closed    bool
	notify    chan struct{}
}

// OpenMicrophone opens the default capture device. Capture begins with
// StartCapture.
func OpenMicrophone(block time.Duration) (*Microphone, error) {
	if block <= 0 {
		block = DefaultBlockDuration
	}
	format := live.InputAudioConfig()

	cfg := malgo.ContextConfig{}
	cfg.ThreadPriority = malgo.ThreadPriorityRealtime
	malgoCtx, err := malgo.InitContext(nil, cfg, nil)
	if err != nil {
		return nil, core.NewCaptureError(fmt.Sprintf("init audio context: %v", err))
	}

	m := &Microphone{
		malgoCtx:   malgoCtx,
		blockBytes: blockBytes(format, block),
		maxBytes:   max(blockBytes(format, block), format.BytesForDuration(maxBuffered)),
		buf:        make([]byte, 0, format.BytesPerSecond()),
		notify:     make(chan struct{}, 1),
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(format.Channels)
	deviceConfig.SampleRate = uint32(format.SampleRate)
	deviceConfig.PeriodSizeInMilliseconds = 20

	device, err := malgo.InitDevice(malgoCtx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) { m.push(input) },
	})
	if err != nil {
		m.freeContext()
		return nil, core.NewCaptureError(fmt.Sprintf("init microphone: %v", err))
	}
	m.device = device
	return m, nil
}

// StartCapture starts the device with an empty buffer.
func (m *Microphone) StartCapture() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return core.NewCaptureError("microphone is closed")
	}
	if m.capturing {
		m.mu.Unlock()
		return nil
	}
	m.buf = m.buf[:0]
	m.capturing = true
	m.mu.Unlock()

	if m.device == nil {
		return nil
	}
	if err := m.device.Start(); err != nil {
		m.mu.Lock()
		m.capturing = false
		m.mu.Unlock()
		return core.NewCaptureError(fmt.Sprintf("start microphone: %v", err))
	}
	return nil
}

// StopCapture stops the device and drops unread audio.
func (m *Microphone) StopCapture() error {
	m.mu.Lock()
	if !m.capturing {
		m.mu.Unlock()
		return nil
	}
	m.capturing = false
	m.buf = m.buf[:0]
	m.mu.Unlock()

	if m.device == nil {
		return nil
	}
	if err := m.device.Stop(); err != nil {
		return core.NewCaptureError(fmt.Sprintf("stop microphone: %v", err))
	}
	return nil
}

func blockBytes(format live.AudioConfig, block time.Duration) int {
	return max(format.Channels*format.BitsPerSample/8, format.BytesForDuration(block))
}

func (m *Microphone) push(pcm []byte) {
	m.mu.Lock()
	if !m.capturing || m.closed {
		m.mu.Unlock()
		return
	}
	m.buf = append(m.buf, pcm...)
	if m.maxBytes > 0 && len(m.buf) > m.maxBytes {
		drop := len(m.buf) - m.maxBytes
		drop += drop % 2
		m.buf = append(m.buf[:0], m.buf[drop:]...)
	}
	m.mu.Unlock()
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

// ReadBlock waits for a full block of samples. It returns io.EOF once the
// microphone is closed and drained.
func (m *Microphone) ReadBlock(ctx context.Context) ([]float32, error) {
	for {
		m.mu.Lock()
		if len(m.buf) >= m.blockBytes {
			block := DecodePCM16(m.buf[:m.blockBytes])
			m.buf = append(m.buf[:0], m.buf[m.blockBytes:]...)
			m.mu.Unlock()
			return block, nil
		}
		closed := m.closed
		m.mu.Unlock()
		if closed {
			return nil, io.EOF
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-m.notify:
		}
	}
}

// Close stops capture and releases the device.
func (m *Microphone) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	wasCapturing := m.capturing
	m.closed = true
	m.capturing = false
	m.buf = nil
	m.mu.Unlock()
	select {
	case m.notify <- struct{}{}:
	default:
	}

	var err error
	if m.device != nil {
		if wasCapturing {
			err = m.device.Stop()
		}
		m.device.Uninit()
	}
	m.freeContext()
	return err
}

func (m *Microphone) freeContext() {
	if m.malgoCtx == nil {
		return
	}
	_ = m.malgoCtx.Uninit()
	m.malgoCtx.Free()
}

// DecodePCM16 converts little-endian signed 16-bit samples to floats in
// [-1, 1). A trailing odd byte is ignored.
func DecodePCM16(pcm []byte) []float32 {
	out := make([]float32, len(pcm)/2)
	for i := range out {
		s := int16(binary.LittleEndian.Uint16(pcm[2*i:]))
		out[i] = float32(s) / 32768
	}
	return out
}
