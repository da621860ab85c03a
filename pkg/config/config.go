// Package config loads engine configuration from defaults, an optional YAML
// file and DEDUCE_* environment variables, in that order of precedence.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Pr4shant/Deduction-Engine/pkg/audit"
	"github.com/Pr4shant/Deduction-Engine/pkg/core/live"
	"github.com/Pr4shant/Deduction-Engine/pkg/core/transcript"
	"github.com/Pr4shant/Deduction-Engine/pkg/live/client"
	"github.com/Pr4shant/Deduction-Engine/pkg/live/protocol"
)

const (
	DefaultDisconnectTimeout = 5 * time.Second
	DefaultPersistDebounce   = 500 * time.Millisecond
	DefaultStorePath         = ".deduce/state"
)

type Config struct {
	// APIKey is never read from the YAML file.
	APIKey string `yaml:"-"`

	LiveEndpoint     string        `yaml:"live_endpoint"`
	LiveModel        string        `yaml:"live_model"`
	Voice            string        `yaml:"voice"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`

	AuditModel            string        `yaml:"audit_model"`
	AuditInterval         time.Duration `yaml:"audit_interval"`
	AuditTimeout          time.Duration `yaml:"audit_timeout"`
	AuditMinTranscript    int           `yaml:"audit_min_transcript"`
	AuditTranscriptWindow int           `yaml:"audit_transcript_window"`
	AuditThinkingBudget   int           `yaml:"audit_thinking_budget"`
	AuditMaxOutputTokens  int           `yaml:"audit_max_output_tokens"`

	TranscriptCapacity   int  `yaml:"transcript_capacity"`
	MergeDuplicateTitles bool `yaml:"merge_duplicate_titles"`

	FrameInterval time.Duration `yaml:"frame_interval"`
	FrameMaxWidth int           `yaml:"frame_max_width"`
	FrameQuality  int           `yaml:"frame_quality"`
	// FramePath is an image file re-read on every tick. Empty disables video.
	FramePath string `yaml:"frame_path"`
	// Microphone and Speaker toggle the audio devices.
	Microphone bool `yaml:"microphone"`
	Speaker    bool `yaml:"speaker"`

	DisconnectTimeout time.Duration `yaml:"disconnect_timeout"`
	PersistDebounce   time.Duration `yaml:"persist_debounce"`

	StorePath     string `yaml:"store_path"`
	StoreInMemory bool   `yaml:"store_in_memory"`

	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		LiveEndpoint:          protocol.DefaultEndpoint,
		LiveModel:             protocol.DefaultModel,
		Voice:                 protocol.DefaultVoice,
		HandshakeTimeout:      client.DefaultHandshakeTimeout,
		AuditModel:            audit.DefaultModel,
		AuditInterval:         audit.DefaultInterval,
		AuditTimeout:          audit.DefaultTimeout,
		AuditMinTranscript:    audit.DefaultMinTranscript,
		AuditTranscriptWindow: audit.DefaultTranscriptWindow,
		AuditThinkingBudget:   audit.DefaultThinkingBudget,
		AuditMaxOutputTokens:  audit.DefaultMaxOutputTokens,
		TranscriptCapacity:    transcript.DefaultCapacity,
		FrameInterval:         live.DefaultFrameInterval,
		FrameMaxWidth:         live.DefaultFrameMaxWidth,
		FrameQuality:          live.DefaultFrameQuality,
		Microphone:            true,
		Speaker:               true,
		DisconnectTimeout:     DefaultDisconnectTimeout,
		PersistDebounce:       DefaultPersistDebounce,
		StorePath:             DefaultStorePath,
		LogLevel:              "info",
		LogFormat:             "text",
	}
}

// Load builds the configuration. path may be empty.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.overlayFile(path); err != nil {
			return Config{}, err
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) overlayFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %q: %w", path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	// An empty file decodes to io.EOF.
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config %q: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.APIKey = envOr("DEDUCE_API_KEY", envOr("GEMINI_API_KEY", envOr("API_KEY", c.APIKey)))
	c.LiveEndpoint = envOr("DEDUCE_LIVE_ENDPOINT", c.LiveEndpoint)
	c.LiveModel = envOr("DEDUCE_LIVE_MODEL", c.LiveModel)
	c.Voice = envOr("DEDUCE_VOICE", c.Voice)
	c.HandshakeTimeout = envDurationOr("DEDUCE_HANDSHAKE_TIMEOUT", c.HandshakeTimeout)
	c.AuditModel = envOr("DEDUCE_AUDIT_MODEL", c.AuditModel)
	c.AuditInterval = envDurationOr("DEDUCE_AUDIT_INTERVAL", c.AuditInterval)
	c.AuditTimeout = envDurationOr("DEDUCE_AUDIT_TIMEOUT", c.AuditTimeout)
	c.AuditMinTranscript = envIntOr("DEDUCE_AUDIT_MIN_TRANSCRIPT", c.AuditMinTranscript)
	c.AuditTranscriptWindow = envIntOr("DEDUCE_AUDIT_TRANSCRIPT_WINDOW", c.AuditTranscriptWindow)
	c.AuditThinkingBudget = envIntOr("DEDUCE_AUDIT_THINKING_BUDGET", c.AuditThinkingBudget)
	c.AuditMaxOutputTokens = envIntOr("DEDUCE_AUDIT_MAX_OUTPUT_TOKENS", c.AuditMaxOutputTokens)
	c.TranscriptCapacity = envIntOr("DEDUCE_TRANSCRIPT_CAPACITY", c.TranscriptCapacity)
	c.MergeDuplicateTitles = envBoolOr("DEDUCE_MERGE_DUPLICATE_TITLES", c.MergeDuplicateTitles)
	c.FrameInterval = envDurationOr("DEDUCE_FRAME_INTERVAL", c.FrameInterval)
	c.FrameMaxWidth = envIntOr("DEDUCE_FRAME_MAX_WIDTH", c.FrameMaxWidth)
	c.FrameQuality = envIntOr("DEDUCE_FRAME_QUALITY", c.FrameQuality)
	c.FramePath = envOr("DEDUCE_FRAME_PATH", c.FramePath)
	c.Microphone = envBoolOr("DEDUCE_MICROPHONE", c.Microphone)
	c.Speaker = envBoolOr("DEDUCE_SPEAKER", c.Speaker)
	c.DisconnectTimeout = envDurationOr("DEDUCE_DISCONNECT_TIMEOUT", c.DisconnectTimeout)
	c.PersistDebounce = envDurationOr("DEDUCE_PERSIST_DEBOUNCE", c.PersistDebounce)
	c.StorePath = envOr("DEDUCE_STORE_PATH", c.StorePath)
	c.StoreInMemory = envBoolOr("DEDUCE_STORE_IN_MEMORY", c.StoreInMemory)
	c.MetricsAddr = envOr("DEDUCE_METRICS_ADDR", c.MetricsAddr)
	c.LogLevel = envOr("DEDUCE_LOG_LEVEL", c.LogLevel)
	c.LogFormat = envOr("DEDUCE_LOG_FORMAT", c.LogFormat)
}

// Validate checks ranges. A missing API key is not an error here; commands
// that talk to the backend check it themselves.
func (c Config) Validate() error {
	if c.HandshakeTimeout <= 0 {
		return fmt.Errorf("DEDUCE_HANDSHAKE_TIMEOUT must be > 0")
	}
	if c.AuditInterval <= 0 {
		return fmt.Errorf("DEDUCE_AUDIT_INTERVAL must be > 0")
	}
	if c.AuditTimeout <= 0 {
		return fmt.Errorf("DEDUCE_AUDIT_TIMEOUT must be > 0")
	}
	if c.AuditMinTranscript < 0 {
		return fmt.Errorf("DEDUCE_AUDIT_MIN_TRANSCRIPT must be >= 0")
	}
	if c.AuditTranscriptWindow <= 0 {
		return fmt.Errorf("DEDUCE_AUDIT_TRANSCRIPT_WINDOW must be > 0")
	}
	if c.TranscriptCapacity <= 0 {
		return fmt.Errorf("DEDUCE_TRANSCRIPT_CAPACITY must be > 0")
	}
	if c.AuditTranscriptWindow > c.TranscriptCapacity {
		return fmt.Errorf("DEDUCE_AUDIT_TRANSCRIPT_WINDOW must be <= DEDUCE_TRANSCRIPT_CAPACITY")
	}
	if c.FrameInterval <= 0 {
		return fmt.Errorf("DEDUCE_FRAME_INTERVAL must be > 0")
	}
	if c.FrameMaxWidth < 0 {
		return fmt.Errorf("DEDUCE_FRAME_MAX_WIDTH must be >= 0")
	}
	if c.FrameQuality < 1 || c.FrameQuality > 100 {
		return fmt.Errorf("DEDUCE_FRAME_QUALITY must be in [1,100]")
	}
	if c.DisconnectTimeout <= 0 {
		return fmt.Errorf("DEDUCE_DISCONNECT_TIMEOUT must be > 0")
	}
	if c.PersistDebounce < 0 {
		return fmt.Errorf("DEDUCE_PERSIST_DEBOUNCE must be >= 0")
	}
	if !c.StoreInMemory && strings.TrimSpace(c.StorePath) == "" {
		return fmt.Errorf("DEDUCE_STORE_PATH is required unless DEDUCE_STORE_IN_MEMORY is set")
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("DEDUCE_LOG_FORMAT must be one of text|json")
	}
	return nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envBoolOr(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	switch strings.ToLower(raw) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return def
	}
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}
