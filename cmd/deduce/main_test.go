package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Pr4shant/Deduction-Engine/pkg/audit"
	"github.com/Pr4shant/Deduction-Engine/pkg/config"
	"github.com/Pr4shant/Deduction-Engine/pkg/core"
	"github.com/Pr4shant/Deduction-Engine/pkg/core/types"
	"github.com/Pr4shant/Deduction-Engine/pkg/engine"
	"github.com/Pr4shant/Deduction-Engine/pkg/live/client"
	"github.com/Pr4shant/Deduction-Engine/pkg/live/protocol"
	"github.com/Pr4shant/Deduction-Engine/pkg/metrics"
	"github.com/Pr4shant/Deduction-Engine/pkg/store"
)

type stubSession struct {
	events    chan client.Event
	err       error
	closeOnce sync.Once
}

func (s *stubSession) Events() <-chan client.Event                     { return s.events }
func (s *stubSession) SendAudio(context.Context, []byte, string) error { return nil }
func (s *stubSession) SendImage(context.Context, []byte) error         { return nil }
func (s *stubSession) Err() error                                      { return s.err }
func (s *stubSession) SendToolResponses(context.Context, []protocol.FunctionResult) error {
	return nil
}

func (s *stubSession) Close() error {
	s.closeOnce.Do(func() { close(s.events) })
	return nil
}

type idleAudio struct{}

func (idleAudio) ReadBlock(ctx context.Context) ([]float32, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type noAuditor struct{}

func (noAuditor) Audit(context.Context, audit.Request) (*audit.Result, error) {
	return &audit.Result{Summary: "nothing new"}, nil
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.APIKey = "test-key"
	cfg.LogLevel = "error"
	return cfg
}

func testDeps(cfg config.Config, st store.Store, dial engine.DialerFunc) appDeps {
	return appDeps{
		loadConfig: func(string) (config.Config, error) { return cfg, nil },
		openStore: func(config.Config, *slog.Logger) (store.Store, func() error, error) {
			return st, func() error { return nil }, nil
		},
		newAuditor: func(context.Context, config.Config) (audit.Auditor, error) { return noAuditor{}, nil },
		newDialer:  func(config.Config, *slog.Logger) engine.Dialer { return dial },
		openDevices: func(config.Config, *slog.Logger) (*devices, error) {
			return &devices{audio: idleAudio{}}, nil
		},
		signalNotify: func(chan<- os.Signal, ...os.Signal) {},
		signalStop:   func(chan<- os.Signal) {},
	}
}

func seedStore(t *testing.T) *store.MemoryStore {
	t.Helper()
	st := store.NewMemoryStore()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	err := st.Save(context.Background(), types.State{
		Version: types.StateVersion,
		Deductions: []types.Deduction{
			{ID: "d2", Title: "Military Posture", Probability: 100, Status: types.StatusProven, CreatedAt: now, UpdatedAt: now},
			{ID: "d1", Title: "Recent Travel", Probability: 40, Status: types.StatusUncertain, Evidence: []string{"tan line"}, CreatedAt: now, UpdatedAt: now},
		},
		Transcript: []types.TranscriptEntry{
			{ID: "t1", Role: types.RoleSubject, Text: "I just got back.", Timestamp: now},
		},
		LastObservation: "Subject is guarded.",
		SavedAt:         now,
	})
	if err != nil {
		t.Fatal(err)
	}
	return st
}

func TestRunMain_ReturnsNonZeroWhenConfigLoadFails(t *testing.T) {
	t.Parallel()

	var stdout, stderr bytes.Buffer
	deps := testDeps(testConfig(), store.NewMemoryStore(), nil)
	deps.loadConfig = func(string) (config.Config, error) { return config.Config{}, errors.New("boom") }
	deps.openStore = func(config.Config, *slog.Logger) (store.Store, func() error, error) {
		t.Fatalf("openStore should not be called when config load fails")
		return nil, nil, nil
	}

	if code := runMain(context.Background(), []string{"show"}, strings.NewReader(""), &stdout, &stderr, deps); code != 1 {
		t.Fatalf("exitCode=%d, want 1", code)
	}
	if !strings.Contains(stderr.String(), "boom") {
		t.Fatalf("stderr=%q", stderr.String())
	}
}

func TestShow_PrintsSavedState(t *testing.T) {
	t.Parallel()

	var stdout, stderr bytes.Buffer
	code := runMain(context.Background(), []string{"show"}, strings.NewReader(""), &stdout, &stderr, testDeps(testConfig(), seedStore(t), nil))
	if code != 0 {
		t.Fatalf("exitCode=%d stderr=%s", code, stderr.String())
	}
	out := stdout.String()
	for _, want := range []string{
		"Observation: Subject is guarded.",
		"Deductions:  2 (1 uncertain, 1 proven, 0 refuted",
		"Military Posture",
		"Recent Travel  (1 evidence)",
		"SUBJECT  I just got back.",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestShow_JSON(t *testing.T) {
	t.Parallel()

	var stdout, stderr bytes.Buffer
	code := runMain(context.Background(), []string{"show", "--json"}, strings.NewReader(""), &stdout, &stderr, testDeps(testConfig(), seedStore(t), nil))
	if code != 0 {
		t.Fatalf("exitCode=%d stderr=%s", code, stderr.String())
	}
	var snap struct {
		State      string            `json:"state"`
		Deductions []types.Deduction `json:"deductions"`
	}
	if err := json.Unmarshal(stdout.Bytes(), &snap); err != nil {
		t.Fatalf("decode: %v\n%s", err, stdout.String())
	}
	if snap.State != "DISCONNECTED" || len(snap.Deductions) != 2 || snap.Deductions[0].ID != "d2" {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestReset_ClearsStore(t *testing.T) {
	t.Parallel()

	st := seedStore(t)
	var stdout, stderr bytes.Buffer
	if code := runMain(context.Background(), []string{"reset"}, strings.NewReader(""), &stdout, &stderr, testDeps(testConfig(), st, nil)); code != 0 {
		t.Fatalf("exitCode=%d stderr=%s", code, stderr.String())
	}
	saved, err := st.Load(context.Background())
	if err != nil || saved != nil {
		t.Fatalf("Load after reset = %+v, %v", saved, err)
	}
}

func TestLive_RequiresAPIKey(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.APIKey = ""
	var stdout, stderr bytes.Buffer
	code := runMain(context.Background(), []string{"live"}, strings.NewReader(""), &stdout, &stderr, testDeps(cfg, store.NewMemoryStore(), nil))
	if code != 1 || !strings.Contains(stderr.String(), "API key") {
		t.Fatalf("exitCode=%d stderr=%q", code, stderr.String())
	}
}

func TestLive_QuitFromConsole(t *testing.T) {
	t.Parallel()

	sess := &stubSession{events: make(chan client.Event)}
	dial := engine.DialerFunc(func(context.Context) (engine.Session, error) { return sess, nil })

	var stdout, stderr bytes.Buffer
	code := runMain(context.Background(), []string{"live"}, strings.NewReader("s\nq\n"), &stdout, &stderr, testDeps(testConfig(), seedStore(t), dial))
	if code != 0 {
		t.Fatalf("exitCode=%d stderr=%s", code, stderr.String())
	}
	out := stdout.String()
	for _, want := range []string{"-- CONNECTING", "-- OPEN", "Military Posture", "-- DISCONNECTED"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestLive_ExitsWhenSessionFails(t *testing.T) {
	t.Parallel()

	sess := &stubSession{
		events: make(chan client.Event),
		err:    core.NewTransportError("live connection lost", io.ErrUnexpectedEOF),
	}
	close(sess.events)
	sess.closeOnce.Do(func() {})
	dial := engine.DialerFunc(func(context.Context) (engine.Session, error) { return sess, nil })

	var stdout, stderr bytes.Buffer
	code := runMain(context.Background(), []string{"live"}, strings.NewReader(""), &stdout, &stderr, testDeps(testConfig(), store.NewMemoryStore(), dial))
	if code != 1 {
		t.Fatalf("exitCode=%d, want 1", code)
	}
	if !strings.Contains(stderr.String(), "live session failed") {
		t.Fatalf("stderr=%q", stderr.String())
	}
}

func TestBuildMetricsServer(t *testing.T) {
	t.Parallel()

	srv := buildMetricsServer("127.0.0.1:9464", metrics.New(""))
	if srv.Addr != "127.0.0.1:9464" || srv.ReadHeaderTimeout != 5*time.Second {
		t.Fatalf("server = %+v", srv)
	}

	ts := httptest.NewServer(srv.Handler)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "deduce_live_sessions_active") {
		t.Fatalf("status=%d body=%s", resp.StatusCode, body)
	}

	resp, err = http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status=%d", resp.StatusCode)
	}
}
