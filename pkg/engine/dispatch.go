package engine

import (
	"context"

	"github.com/Pr4shant/Deduction-Engine/pkg/core"
	"github.com/Pr4shant/Deduction-Engine/pkg/core/ledger"
	"github.com/Pr4shant/Deduction-Engine/pkg/live/client"
	"github.com/Pr4shant/Deduction-Engine/pkg/live/protocol"
)

func (e *Engine) handle(ctx context.Context, sess Session, ev client.Event) {
	switch ev := ev.(type) {
	case client.TranscriptEvent:
		e.transcript.Append(ev.Role, ev.Text)

	case client.ToolCallEvent:
		results := make([]protocol.FunctionResult, 0, len(ev.Calls))
		for _, call := range ev.Calls {
			out := e.applyCall(call)
			results = append(results, protocol.FunctionResult{ID: call.ID, Name: call.Name, Result: out.Ack()})
		}
		if err := sess.SendToolResponses(ctx, results); err != nil && ctx.Err() == nil {
			// The read loop reports a dead transport on its own.
			e.logger.Warn("tool response not sent", "calls", len(results), "error", err)
		}

	case client.AudioEvent:
		e.deps.Metrics.RecordLiveAudio("out", len(ev.Data))
		if e.scheduler != nil {
			_, _ = e.scheduler.Enqueue(ev.Data)
		}

	case client.InterruptedEvent:
		if e.scheduler != nil {
			e.scheduler.Reset()
		}

	case client.GoAwayEvent:
		e.logger.Warn("live backend closing soon", "time_left", ev.TimeLeft)

	case client.ToolCancelEvent:
		// Ledger updates are applied as they arrive and are not rolled back.
		e.logger.Debug("tool calls cancelled", "ids", ev.IDs)

	case client.TurnCompleteEvent:
	}
}

// applyCall validates and applies one tool call from the live session.
func (e *Engine) applyCall(call client.ToolCall) ledger.Outcome {
	var out ledger.Outcome
	u, err := ledger.ParseUpdate(call.Name, call.Args)
	if err != nil {
		out = ledger.Outcome{Kind: ledger.Kind(call.Name), Result: ledger.ResultInvalid, Err: err}
	} else {
		out = e.ledger.Apply(ledger.SourceStream, u)
	}

	e.deps.Metrics.RecordToolCall(call.Name, string(out.Result))
	switch out.Result {
	case ledger.ResultUnresolved:
		e.deps.Metrics.RecordResolutionMiss(string(ledger.SourceStream))
		e.logger.Info("tool call unresolved", "tool", call.Name, "error", out.Err)
	case ledger.ResultInvalid:
		e.deps.Metrics.RecordError(string(core.ErrInvalidRequest))
		e.logger.Warn("tool call rejected", "tool", call.Name, "error", out.Err)
	}
	return out
}
