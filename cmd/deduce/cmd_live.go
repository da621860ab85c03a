package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Pr4shant/Deduction-Engine/pkg/core/live"
	"github.com/Pr4shant/Deduction-Engine/pkg/engine"
	"github.com/Pr4shant/Deduction-Engine/pkg/metrics"
)

func newLiveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "live",
		Short: "Start a live observation session",
		Long: "Streams the microphone and the frame file to the live backend and prints\n" +
			"ledger changes as they happen. Type 'a' to audit now, 'r' to reset the\n" +
			"ledger, 's' for a summary and 'q' to quit.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runLive(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

func (a *app) runLive(ctx context.Context, stdin io.Reader, out io.Writer) error {
	if err := a.requireAPIKey(); err != nil {
		return err
	}
	if a.deps.signalNotify == nil || a.deps.signalStop == nil {
		return errors.New("missing signal dependency")
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
	devs, err := a.deps.openDevices(a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("open devices: %w", err)
	}
	defer devs.Close()

	m := metrics.New("")
	eng, err := engine.New(ctx, engine.Deps{
		Dialer:  a.deps.newDialer(a.cfg, a.logger),
		Auditor: auditor,
		Store:   st,
		Audio:   devs.audio,
		Frames:  devs.frames,
		Output:  devs.output,
		Clock:   devs.clock,
		Metrics: m,
		Logger:  a.logger,
	}, engineOptions(a.cfg))
	if err != nil {
		return err
	}
	defer eng.Close()

	failed := make(chan error, 1)
	unsubscribe := eng.Subscribe(func(ev live.Event) {
		printEvent(out, ev)
		if sc, ok := ev.(*live.StateChangedEvent); ok && sc.To == live.StateError {
			select {
			case failed <- sc.Err:
			default:
			}
		}
	})
	defer unsubscribe()

	var metricsSrv *http.Server
	if a.cfg.MetricsAddr != "" {
		metricsSrv = buildMetricsServer(a.cfg.MetricsAddr, m)
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("metrics server failed", "addr", a.cfg.MetricsAddr, "error", err)
			}
		}()
		a.logger.Info("serving metrics", "addr", a.cfg.MetricsAddr)
	}

	sigCh := make(chan os.Signal, 1)
	a.deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer a.deps.signalStop(sigCh)

	if err := eng.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	quit := make(chan struct{})
	go readCommands(ctx, stdin, out, eng, quit)

	var runErr error
	select {
	case <-ctx.Done():
		runErr = ctx.Err()
	case sig := <-sigCh:
		a.logger.Info("shutdown signal received", "signal", sig.String())
	case <-quit:
	case err := <-failed:
		runErr = fmt.Errorf("live session failed: %w", err)
	}

	if err := eng.Disconnect(); err != nil {
		a.logger.Warn("disconnect failed", "error", err)
	}
	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	return runErr
}

func buildMetricsServer(addr string, m *metrics.Metrics) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// readCommands handles single-letter console commands until stdin closes.
func readCommands(ctx context.Context, stdin io.Reader, out io.Writer, eng *engine.Engine, quit chan<- struct{}) {
	scanner := bufio.NewScanner(stdin)
	for scanner.Scan() {
		switch strings.ToLower(strings.TrimSpace(scanner.Text())) {
		case "a", "audit":
			go func() {
				if _, err := eng.RunAudit(ctx); err != nil {
					fmt.Fprintf(out, "audit: %v\n", err)
				}
			}()
		case "r", "reset":
			eng.Reset()
			fmt.Fprintln(out, "ledger cleared")
		case "s", "show":
			printSnapshot(out, eng.Snapshot(), 5)
		case "q", "quit":
			close(quit)
			return
		case "":
		default:
			fmt.Fprintln(out, "commands: a(udit) r(eset) s(how) q(uit)")
		}
	}
}
