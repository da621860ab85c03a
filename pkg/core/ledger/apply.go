package ledger

import (
	"fmt"

	"github.com/Pr4shant/Deduction-Engine/pkg/core"
	"github.com/Pr4shant/Deduction-Engine/pkg/core/types"
)

// Result classifies the outcome of Apply.
type Result string

const (
	ResultApplied    Result = "applied"
	ResultUnresolved Result = "unresolved"
	ResultInvalid    Result = "invalid"
)

// Outcome reports what Apply did.
type Outcome struct {
	Kind      Kind
	Result    Result
	Change    ChangeKind
	Deduction types.Deduction
	Err       error
}

// Ack is the acknowledgement payload sent back for a tool invocation.
func (o Outcome) Ack() string {
	switch o.Result {
	case ResultApplied:
		return "ok"
	case ResultUnresolved:
		return fmt.Sprintf("unresolved: %v", o.Err)
	default:
		return fmt.Sprintf("invalid: %v", o.Err)
	}
}

// Apply runs u against the ledger. The live session and the audit reconciler
// both go through here so they share one conflict policy.
func (l *Ledger) Apply(source Source, u Update) Outcome {
	switch v := u.(type) {
	case RecordUpdate:
		d, change := l.record(source, v)
		return Outcome{Kind: KindRecord, Result: ResultApplied, Change: change, Deduction: d}
	case ReviseUpdate:
		d, err := l.revise(source, v)
		return outcome(KindRevise, ChangeRevised, d, err)
	case FinalizeUpdate:
		d, err := l.finalize(source, v)
		return outcome(KindFinalize, ChangeFinalized, d, err)
	default:
		return Outcome{Result: ResultInvalid, Err: core.NewInvalidRequestError(fmt.Sprintf("unsupported update %T", u))}
	}
}

func outcome(kind Kind, change ChangeKind, d types.Deduction, err error) Outcome {
	switch {
	case err == nil:
		return Outcome{Kind: kind, Result: ResultApplied, Change: change, Deduction: d}
	case core.IsType(err, core.ErrResolution):
		return Outcome{Kind: kind, Result: ResultUnresolved, Err: err}
	default:
		return Outcome{Kind: kind, Result: ResultInvalid, Err: err}
	}
}
