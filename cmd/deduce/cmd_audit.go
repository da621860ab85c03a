package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/Pr4shant/Deduction-Engine/pkg/engine"
)

func newAuditCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "audit",
		Short: "Run one audit over the saved transcript and ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runAudit(cmd.Context(), cmd.OutOrStdout())
		},
	}
}

func (a *app) runAudit(ctx context.Context, out io.Writer) error {
	if err := a.requireAPIKey(); err != nil {
		return err
	}
	st, closeStore, err := a.deps.openStore(a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer closeStore()

	auditor, err := a.deps.newAuditor(ctx, a.cfg)
	if err != nil {
		return fmt.Errorf("create auditor: %w", err)
	}
	eng, err := engine.New(ctx, engine.Deps{Auditor: auditor, Store: st, Logger: a.logger}, engineOptions(a.cfg))
	if err != nil {
		return err
	}

	report, err := eng.RunAudit(ctx)
	if closeErr := eng.Close(); closeErr != nil {
		a.logger.Warn("save state failed", "error", closeErr)
	}
	if err != nil {
		return fmt.Errorf("audit: %w", err)
	}

	if report.Skipped {
		fmt.Fprintf(out, "Audit skipped: the transcript has fewer than %d entries.\n", a.cfg.AuditMinTranscript)
		return nil
	}
	fmt.Fprintf(out, "Summary:    %s\n", report.Summary)
	fmt.Fprintf(out, "Applied:    %d\n", report.Applied)
	fmt.Fprintf(out, "Unresolved: %d\n", report.Unresolved)
	for _, o := range report.Outcomes {
		if o.Err != nil {
			fmt.Fprintf(out, "  %s: %s\n", o.Kind, o.Ack())
		}
	}
	return nil
}
