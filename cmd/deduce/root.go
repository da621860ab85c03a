package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Pr4shant/Deduction-Engine/internal/logging"
	"github.com/Pr4shant/Deduction-Engine/pkg/config"
	"github.com/Pr4shant/Deduction-Engine/pkg/engine"
)

// app is the state shared by every subcommand once the root has loaded
// configuration.
type app struct {
	deps   appDeps
	cfg    config.Config
	logger *slog.Logger

	configPath string
	logLevel   string
}

func newRootCmd(deps appDeps) *cobra.Command {
	a := &app{deps: deps}

	root := &cobra.Command{
		Use:   "deduce",
		Short: "Live deduction engine",
		Long: "deduce observes a subject through a live audio/video session, keeps a ledger\n" +
			"of probabilistic deductions and periodically audits it against the transcript.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
	}
	f := root.PersistentFlags()
	f.StringVar(&a.configPath, "config", "", "YAML config file (env vars override it)")
	f.StringVar(&a.logLevel, "log-level", "", "debug|info|warn|error (overrides DEDUCE_LOG_LEVEL)")

	root.AddCommand(newLiveCmd(a))
	root.AddCommand(newAuditCmd(a))
	root.AddCommand(newShowCmd(a))
	root.AddCommand(newResetCmd(a))
	return root
}

func (a *app) init(cmd *cobra.Command) error {
	if a.deps.loadDotenv != nil {
		if _, err := a.deps.loadDotenv(); err != nil {
			return err
		}
	}
	cfg, err := a.deps.loadConfig(a.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logging.Init(level, cfg.LogFormat, cmd.ErrOrStderr())

	a.cfg = cfg
	a.logger = logging.New("deduce")
	return nil
}

func (a *app) requireAPIKey() error {
	if a.cfg.APIKey == "" {
		return fmt.Errorf("an API key is required: set DEDUCE_API_KEY or GEMINI_API_KEY")
	}
	return nil
}

func engineOptions(cfg config.Config) engine.Options {
	return engine.Options{
		TranscriptCapacity:   cfg.TranscriptCapacity,
		MergeDuplicateTitles: cfg.MergeDuplicateTitles,
		AuditInterval:        cfg.AuditInterval,
		AuditTimeout:         cfg.AuditTimeout,
		AuditMinTranscript:   cfg.AuditMinTranscript,
		AuditWindow:          cfg.AuditTranscriptWindow,
		FrameInterval:        cfg.FrameInterval,
		FrameMaxWidth:        cfg.FrameMaxWidth,
		FrameQuality:         cfg.FrameQuality,
		DisconnectTimeout:    cfg.DisconnectTimeout,
		PersistDebounce:      cfg.PersistDebounce,
	}
}
