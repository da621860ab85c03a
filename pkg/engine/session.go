package engine

import (
	"context"

	"github.com/Pr4shant/Deduction-Engine/pkg/live/client"
	"github.com/Pr4shant/Deduction-Engine/pkg/live/protocol"
)

// Session is an established live session. *client.Session implements it.
type Session interface {
	Events() <-chan client.Event
	SendAudio(ctx context.Context, pcm []byte, mimeType string) error
	SendImage(ctx context.Context, jpeg []byte) error
	SendToolResponses(ctx context.Context, results []protocol.FunctionResult) error
	Close() error
	// Err is the terminal error once Events is closed; nil after Close.
	Err() error
}

// Dialer opens live sessions.
type Dialer interface {
	Dial(ctx context.Context) (Session, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context) (Session, error)

func (f DialerFunc) Dial(ctx context.Context) (Session, error) { return f(ctx) }

// ClientDialer dials the websocket backend. Setup defaults to the observer
// instruction and the ledger tools when left empty.
type ClientDialer struct {
	Options client.Options
}

func (d ClientDialer) Dial(ctx context.Context) (Session, error) {
	opts := d.Options
	if opts.Setup.SystemInstruction == "" {
		opts.Setup.SystemInstruction = protocol.ObserverInstruction
	}
	if opts.Setup.Tools == nil {
		opts.Setup.Tools = protocol.ToolDeclarations()
	}
	sess, err := client.Dial(ctx, opts)
	if err != nil {
		return nil, err
	}
	return sess, nil
}
