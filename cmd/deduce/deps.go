package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"

	"github.com/Pr4shant/Deduction-Engine/internal/device"
	"github.com/Pr4shant/Deduction-Engine/internal/dotenv"
	"github.com/Pr4shant/Deduction-Engine/pkg/audit"
	"github.com/Pr4shant/Deduction-Engine/pkg/config"
	"github.com/Pr4shant/Deduction-Engine/pkg/core/live"
	"github.com/Pr4shant/Deduction-Engine/pkg/engine"
	"github.com/Pr4shant/Deduction-Engine/pkg/live/client"
	"github.com/Pr4shant/Deduction-Engine/pkg/live/protocol"
	"github.com/Pr4shant/Deduction-Engine/pkg/store"
)

type appDeps struct {
	loadDotenv   func() (string, error)
	loadConfig   func(path string) (config.Config, error)
	openStore    func(config.Config, *slog.Logger) (store.Store, func() error, error)
	newAuditor   func(context.Context, config.Config) (audit.Auditor, error)
	newDialer    func(config.Config, *slog.Logger) engine.Dialer
	openDevices  func(config.Config, *slog.Logger) (*devices, error)
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
}

func defaultAppDeps() appDeps {
	return appDeps{
		loadDotenv:  dotenv.Load,
		loadConfig:  config.Load,
		openStore:   openBadgerStore,
		newAuditor:  newGeminiAuditor,
		newDialer:   newLiveDialer,
		openDevices: openLocalDevices,
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

func openBadgerStore(cfg config.Config, logger *slog.Logger) (store.Store, func() error, error) {
	bcfg := store.DefaultConfig(cfg.StorePath)
	if cfg.StoreInMemory {
		bcfg = store.InMemoryConfig()
	}
	bcfg.Logger = logger
	s, err := store.Open(bcfg)
	if err != nil {
		return nil, nil, err
	}
	return s, s.Close, nil
}

func newGeminiAuditor(ctx context.Context, cfg config.Config) (audit.Auditor, error) {
	return audit.NewGeminiAuditor(ctx, audit.GeminiOptions{
		APIKey:          cfg.APIKey,
		Model:           cfg.AuditModel,
		ThinkingBudget:  int32(cfg.AuditThinkingBudget),
		MaxOutputTokens: int32(cfg.AuditMaxOutputTokens),
	})
}

func newLiveDialer(cfg config.Config, logger *slog.Logger) engine.Dialer {
	return engine.ClientDialer{Options: client.Options{
		Endpoint: cfg.LiveEndpoint,
		APIKey:   cfg.APIKey,
		Setup: protocol.SetupOptions{
			Model: cfg.LiveModel,
			Voice: cfg.Voice,
		},
		HandshakeTimeout: cfg.HandshakeTimeout,
		Logger:           logger,
	}}
}

// devices is the set of local capture and playback endpoints. Nil fields are
// disabled.
type devices struct {
	audio   live.AudioSource
	frames  live.FrameSource
	output  live.Output
	clock   live.Clock
	closers []func() error
}

func (d *devices) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		errs = append(errs, d.closers[i]())
	}
	return errors.Join(errs...)
}

func openLocalDevices(cfg config.Config, logger *slog.Logger) (*devices, error) {
	d := &devices{}
	if cfg.Microphone {
		mic, err := device.OpenMicrophone(device.DefaultBlockDuration)
		if err != nil {
			return nil, err
		}
		d.audio = mic
		d.closers = append(d.closers, mic.Close)
	}
	if cfg.Speaker {
		spk, err := device.OpenSpeaker()
		if err != nil {
			// Observing works without playback.
			logger.Warn("speaker unavailable, discarding speech", "error", err)
		} else {
			d.output = spk
			d.clock = spk
			d.closers = append(d.closers, spk.Close)
		}
	}
	if cfg.FramePath != "" {
		d.frames = device.NewFileFrames(cfg.FramePath)
	}
	return d, nil
}
