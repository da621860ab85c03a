// Package live holds the real-time media plumbing shared by the engine and
// the device adapters.
//
// # Components
//
//   - Scheduler: assigns gapless start times to synthesized speech chunks
//   - AudioEncoder: converts microphone blocks to PCM16 and streams them
//   - FrameSampler: samples, downsamples and JPEG-encodes video frames
//   - SessionState and Event: the engine's connection state and event stream
//
// # Data Flow
//
//	Microphone → AudioEncoder (PCM16, 16 kHz) ──┐
//	                                             ├─→ live session
//	Camera → FrameSampler (JPEG, 1 fps) ────────┘
//
//	Speaker ← Output ← Scheduler ← audio chunks (PCM16, 24 kHz)
//
// # State Machine
//
//	DISCONNECTED → CONNECTING → OPEN → CLOSING → DISCONNECTED
//	                    │         │
//	                    └─────────┴──→ ERROR
//
// The scheduler is re-anchored whenever the backend reports that the speaker
// was interrupted and whenever the session ends.
package live
