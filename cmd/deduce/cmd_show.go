package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/Pr4shant/Deduction-Engine/pkg/engine"
)

type showFlags struct {
	json       bool
	transcript int
}

func newShowCmd(a *app) *cobra.Command {
	var flags showFlags
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the saved ledger and recent transcript",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runShow(cmd.Context(), cmd.OutOrStdout(), flags)
		},
	}
	f := cmd.Flags()
	f.BoolVar(&flags.json, "json", false, "Print the snapshot as JSON")
	f.IntVar(&flags.transcript, "transcript", 10, "Number of transcript entries to print")
	return cmd
}

func (a *app) runShow(ctx context.Context, out io.Writer, flags showFlags) error {
	st, closeStore, err := a.deps.openStore(a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer closeStore()

	eng, err := engine.New(ctx, engine.Deps{Store: st, Logger: a.logger}, engineOptions(a.cfg))
	if err != nil {
		return err
	}
	defer eng.Close()
	snap := eng.Snapshot()

	if flags.json {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	}
	printSnapshot(out, snap, flags.transcript)
	return nil
}

func printSnapshot(out io.Writer, snap engine.Snapshot, transcript int) {
	s := snap.Stats
	fmt.Fprintf(out, "Observation: %s\n", snap.LastObservation)
	fmt.Fprintf(out, "Deductions:  %d (%d uncertain, %d proven, %d refuted, mean %.0f%%)\n",
		s.Total, s.Uncertain, s.Proven, s.Refuted, s.MeanProbability)
	for _, d := range snap.Deductions {
		fmt.Fprintf(out, "  [%-9s] %3.0f%%  %s", d.Status, d.Probability, d.Title)
		if len(d.Evidence) > 0 {
			fmt.Fprintf(out, "  (%d evidence)", len(d.Evidence))
		}
		fmt.Fprintln(out)
	}

	entries := snap.Transcript
	if transcript >= 0 && len(entries) > transcript {
		entries = entries[len(entries)-transcript:]
	}
	if len(entries) == 0 {
		return
	}
	fmt.Fprintf(out, "Transcript: (last %d of %d)\n", len(entries), len(snap.Transcript))
	for _, e := range entries {
		fmt.Fprintf(out, "  %s %-8s %s\n", e.Timestamp.Format("15:04:05"), e.Role.Label(), e.Text)
	}
}
