package main

import (
	"fmt"
	"io"

	"github.com/Pr4shant/Deduction-Engine/pkg/core/live"
)

func printEvent(out io.Writer, ev live.Event) {
	switch ev := ev.(type) {
	case *live.StateChangedEvent:
		if ev.Err != nil {
			fmt.Fprintf(out, "-- %s: %v\n", ev.To, ev.Err)
			return
		}
		fmt.Fprintf(out, "-- %s\n", ev.To)
	case *live.TranscriptAppendedEvent:
		fmt.Fprintf(out, "%-8s %s\n", ev.Entry.Role.Label(), ev.Entry.Text)
	case *live.DeductionChangedEvent:
		d := ev.Deduction
		fmt.Fprintf(out, "   %-9s %-9s %3.0f%%  %s\n", ev.Change, d.Status, d.Probability, d.Title)
	case *live.AuditCompletedEvent:
		if ev.Skipped {
			fmt.Fprintln(out, "== audit skipped")
			return
		}
		fmt.Fprintf(out, "== audit: %s (%d applied, %d missed)\n", ev.Summary, ev.Applied, ev.Missed)
	case *live.AuditFailedEvent:
		fmt.Fprintf(out, "== audit failed: %s\n", ev.Message)
	}
}
