// Package client is the websocket transport of a live observation session.
package client

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Pr4shant/Deduction-Engine/pkg/core"
	"github.com/Pr4shant/Deduction-Engine/pkg/core/types"
	"github.com/Pr4shant/Deduction-Engine/pkg/live/protocol"
)

const (
	DefaultHandshakeTimeout = 15 * time.Second
	defaultEventBuffer      = 256
	closeWriteTimeout       = 2 * time.Second
)

// Options configures Dial.
type Options struct {
	// Endpoint defaults to protocol.DefaultEndpoint.
	Endpoint string
	APIKey   string
	Setup    protocol.SetupOptions
	// HandshakeTimeout bounds dialing plus the setup exchange.
	HandshakeTimeout time.Duration
	Dialer           *websocket.Dialer
	Header           http.Header
	EventBuffer      int
	Logger           *slog.Logger
}

// Event is a decoded server event, delivered by Session.Events.
type Event interface {
	liveEventType() string
}

// TranscriptEvent carries a transcription fragment of either speaker.
type TranscriptEvent struct {
	Role types.Role
	Text string
}

func (e TranscriptEvent) liveEventType() string { return "transcript" }

// ToolCall is one function invocation requested by the backend.
type ToolCall struct {
	ID   string
	Name string
	Args map[string]any
}

type ToolCallEvent struct {
	Calls []ToolCall
}

func (e ToolCallEvent) liveEventType() string { return "tool_call" }

// AudioEvent is one chunk of synthesized speech.
type AudioEvent struct {
	Data     []byte
	MIMEType string
}

func (e AudioEvent) liveEventType() string { return "audio" }

// InterruptedEvent means the backend stopped speaking mid-turn; queued
// playback should be dropped.
type InterruptedEvent struct{}

func (e InterruptedEvent) liveEventType() string { return "interrupted" }

type TurnCompleteEvent struct{}

func (e TurnCompleteEvent) liveEventType() string { return "turn_complete" }

// GoAwayEvent announces that the backend will close the session soon.
type GoAwayEvent struct {
	TimeLeft string
}

func (e GoAwayEvent) liveEventType() string { return "go_away" }

type ToolCancelEvent struct {
	IDs []string
}

func (e ToolCancelEvent) liveEventType() string { return "tool_cancel" }

// Session is an established live websocket session.
type Session struct {
	conn   *websocket.Conn
	logger *slog.Logger

	events  chan Event
	done    chan struct{}
	closing chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool

	errMu sync.Mutex
	err   error
}

// Dial connects, sends the setup frame and waits for the backend to confirm
// it. Any failure is a transport error.
func Dial(ctx context.Context, opts Options) (*Session, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, core.NewInvalidRequestErrorWithParam("api key is required", "api_key")
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = defaultEventBuffer
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	wsURL, err := endpointURL(opts.Endpoint, opts.APIKey)
	if err != nil {
		return nil, err
	}

	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	dialCtx, cancel := context.WithTimeout(ctx, opts.HandshakeTimeout)
	defer cancel()

	conn, resp, err := dialer.DialContext(dialCtx, wsURL, opts.Header)
	if err != nil {
		if resp != nil {
			return nil, core.NewTransportError(fmt.Sprintf("websocket dial failed (status %d)", resp.StatusCode), err)
		}
		return nil, core.NewTransportError("websocket dial failed", err)
	}

	if err := conn.WriteJSON(protocol.NewSetup(opts.Setup)); err != nil {
		_ = conn.Close()
		return nil, core.NewTransportError("send setup", err)
	}

	deadline := time.Now().Add(opts.HandshakeTimeout)
	if d, ok := dialCtx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetReadDeadline(deadline)
	_, payload, err := conn.ReadMessage()
	if err != nil {
		_ = conn.Close()
		return nil, core.NewTransportError("read setup confirmation", err)
	}
	_ = conn.SetReadDeadline(time.Time{})

	first, err := protocol.DecodeServerMessage(payload)
	if err != nil {
		_ = conn.Close()
		return nil, core.NewTransportError("decode setup confirmation", err)
	}
	switch {
	case first.SetupComplete != nil:
	case first.Error != nil:
		_ = conn.Close()
		return nil, &core.Error{
			Type:    core.ErrTransport,
			Message: strings.TrimSpace(first.Error.Message),
			Code:    strings.TrimSpace(first.Error.Status),
		}
	default:
		_ = conn.Close()
		return nil, core.NewTransportError("unexpected first frame before setupComplete", nil)
	}

	s := &Session{
		conn:    conn,
		logger:  opts.Logger,
		events:  make(chan Event, opts.EventBuffer),
		done:    make(chan struct{}),
		closing: make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

func endpointURL(endpoint, apiKey string) (string, error) {
	if strings.TrimSpace(endpoint) == "" {
		endpoint = protocol.DefaultEndpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", core.NewInvalidRequestErrorWithParam(fmt.Sprintf("invalid endpoint: %v", err), "endpoint")
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", core.NewInvalidRequestErrorWithParam(fmt.Sprintf("unsupported endpoint scheme %q", u.Scheme), "endpoint")
	}
	q := u.Query()
	q.Set("key", apiKey)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Events yields decoded server events. The channel is closed when the
// session ends; Err then reports why.
func (s *Session) Events() <-chan Event {
	if s == nil {
		return nil
	}
	return s.events
}

// Done is closed once the read loop has exited.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// SendAudio streams one PCM16 chunk.
func (s *Session) SendAudio(ctx context.Context, pcm []byte, mimeType string) error {
	return s.sendJSON(ctx, protocol.NewAudioInput(pcm, mimeType))
}

// SendImage streams one JPEG frame.
func (s *Session) SendImage(ctx context.Context, jpeg []byte) error {
	return s.sendJSON(ctx, protocol.NewImageInput(jpeg))
}

// SendToolResponses acknowledges a batch of tool calls.
func (s *Session) SendToolResponses(ctx context.Context, results []protocol.FunctionResult) error {
	if len(results) == 0 {
		return nil
	}
	return s.sendJSON(ctx, protocol.NewToolResponse(results))
}

func (s *Session) sendJSON(ctx context.Context, v any) error {
	if s == nil {
		return core.NewInvalidRequestError("session must not be nil")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.closed.Load() {
		return core.NewTransportError("live session is closed", nil)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if d, ok := ctx.Deadline(); ok {
		_ = s.conn.SetWriteDeadline(d)
		defer s.conn.SetWriteDeadline(time.Time{})
	}
	if err := s.conn.WriteJSON(v); err != nil {
		return core.NewTransportError("write frame", err)
	}
	return nil
}

// Close closes the websocket and waits for the read loop to exit.
func (s *Session) Close() error {
	if s == nil {
		return nil
	}
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.closing)
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(closeWriteTimeout))
		s.writeMu.Unlock()
		_ = s.conn.Close()
	})
	<-s.done
	return nil
}

// Err returns the terminal session error, nil after a local Close.
func (s *Session) Err() error {
	if s == nil {
		return nil
	}
	<-s.done
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *Session) setErr(err error) {
	if err == nil {
		return
	}
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *Session) readLoop() {
	defer close(s.done)
	defer close(s.events)

	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			if s.closed.Load() {
				return
			}
			s.setErr(core.NewTransportError("live connection lost", err))
			return
		}
		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}

		msg, err := protocol.DecodeServerMessage(data)
		if err != nil {
			s.logger.Warn("dropping undecodable live frame", "error", err, "bytes", len(data))
			continue
		}
		if msg.Error != nil {
			s.setErr(&core.Error{
				Type:    core.ErrTransport,
				Message: strings.TrimSpace(msg.Error.Message),
				Code:    strings.TrimSpace(msg.Error.Status),
			})
			return
		}
		for _, ev := range translate(msg) {
			if !s.emit(ev) {
				return
			}
		}
	}
}

// emit blocks until the consumer takes ev or the session is closed.
func (s *Session) emit(ev Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.closing:
		return false
	}
}

// translate flattens one server frame into events in wire order.
func translate(msg protocol.ServerMessage) []Event {
	var out []Event
	if c := msg.ServerContent; c != nil {
		if t := c.InputTranscription; t != nil && t.Text != "" {
			out = append(out, TranscriptEvent{Role: types.RoleSubject, Text: t.Text})
		}
		if t := c.OutputTranscription; t != nil && t.Text != "" {
			out = append(out, TranscriptEvent{Role: types.RoleObserver, Text: t.Text})
		}
		for _, chunk := range c.AudioChunks() {
			out = append(out, AudioEvent{Data: chunk.Data, MIMEType: chunk.MIMEType})
		}
		if c.Interrupted {
			out = append(out, InterruptedEvent{})
		}
		if c.TurnComplete {
			out = append(out, TurnCompleteEvent{})
		}
	}
	if tc := msg.ToolCall; tc != nil {
		calls := make([]ToolCall, 0, len(tc.FunctionCalls))
		for _, fc := range tc.FunctionCalls {
			calls = append(calls, ToolCall{ID: fc.ID, Name: fc.Name, Args: fc.Args})
		}
		out = append(out, ToolCallEvent{Calls: calls})
	}
	if c := msg.ToolCallCancellation; c != nil {
		out = append(out, ToolCancelEvent{IDs: c.IDs})
	}
	if g := msg.GoAway; g != nil {
		out = append(out, GoAwayEvent{TimeLeft: g.TimeLeft})
	}
	return out
}
