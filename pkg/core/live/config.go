package live

import (
	"fmt"
	"time"
)

// SessionState is the connection state of the engine.
type SessionState int

const (
	// StateDisconnected is the initial and final state.
	StateDisconnected SessionState = iota
	// StateConnecting covers dialing and the setup handshake.
	StateConnecting
	// StateOpen means media is streaming and tool calls are dispatched.
	StateOpen
	// StateClosing is the teardown window of Disconnect.
	StateClosing
	// StateError is entered on a handshake or transport failure.
	StateError
)

// String returns a human-readable state name.
func (s SessionState) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateOpen:
		return "OPEN"
	case StateClosing:
		return "CLOSING"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// MarshalText encodes the state by name.
func (s SessionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Active reports whether a session is being established or is running.
func (s SessionState) Active() bool {
	return s == StateConnecting || s == StateOpen
}

// AudioConfig specifies audio format parameters.
type AudioConfig struct {
	// SampleRate in Hz.
	SampleRate int `json:"sample_rate"`

	// Channels: 1 for mono, 2 for stereo.
	Channels int `json:"channels"`

	// BitsPerSample: 16 for PCM.
	BitsPerSample int `json:"bits_per_sample"`
}

// InputAudioConfig is the microphone format streamed to the backend.
func InputAudioConfig() AudioConfig {
	return AudioConfig{SampleRate: 16000, Channels: 1, BitsPerSample: 16}
}

// OutputAudioConfig is the synthesized speech format returned by the backend.
func OutputAudioConfig() AudioConfig {
	return AudioConfig{SampleRate: 24000, Channels: 1, BitsPerSample: 16}
}

// MIMEType returns the raw PCM mime type with its rate parameter.
func (c AudioConfig) MIMEType() string {
	return fmt.Sprintf("audio/pcm;rate=%d", c.SampleRate)
}

// BytesPerSecond returns the audio byte rate.
func (c AudioConfig) BytesPerSecond() int {
	return c.SampleRate * c.Channels * (c.BitsPerSample / 8)
}

// Duration returns the playback length of the given byte count.
func (c AudioConfig) Duration(bytes int) time.Duration {
	bps := c.BytesPerSecond()
	if bps == 0 {
		return 0
	}
	return time.Duration(bytes) * time.Second / time.Duration(bps)
}

// BytesForDuration returns the byte count for d, aligned to whole frames.
func (c AudioConfig) BytesForDuration(d time.Duration) int {
	frame := c.Channels * (c.BitsPerSample / 8)
	if frame == 0 {
		return 0
	}
	samples := int(time.Duration(c.SampleRate) * d / time.Second)
	return samples * frame
}
