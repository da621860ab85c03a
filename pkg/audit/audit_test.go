package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"google.golang.org/genai"

	"github.com/Pr4shant/Deduction-Engine/pkg/core"
	"github.com/Pr4shant/Deduction-Engine/pkg/core/ledger"
	"github.com/Pr4shant/Deduction-Engine/pkg/core/transcript"
	"github.com/Pr4shant/Deduction-Engine/pkg/core/types"
)

type fakeGenerator struct {
	mu       sync.Mutex
	text     string
	err      error
	model    string
	contents []*genai.Content
	config   *genai.GenerateContentConfig
}

func (g *fakeGenerator) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.model, g.contents, g.config = model, contents, config
	if g.err != nil {
		return nil, g.err
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{{Text: g.text}}},
		}},
	}, nil
}

type auditorFunc func(ctx context.Context, req Request) (*Result, error)

func (f auditorFunc) Audit(ctx context.Context, req Request) (*Result, error) { return f(ctx, req) }

type stubStills struct {
	data []byte
	err  error
}

func (s stubStills) Capture(context.Context, int) ([]byte, error) { return s.data, s.err }

func seeded(t *testing.T, lines int) (*ledger.Ledger, *transcript.Log) {
	t.Helper()
	n := 0
	l := ledger.New(ledger.Options{NewID: func() string {
		n++
		return fmt.Sprintf("a%d", n)
	}})
	p := 75.0
	l.Record(ledger.RecordUpdate{Title: "Gaze Pattern", Probability: &p, Evidence: []string{"e1", "e2", "e3"}})
	log := transcript.New(transcript.Options{})
	for i := 0; i < lines; i++ {
		role := types.RoleSubject
		if i%2 == 1 {
			role = types.RoleObserver
		}
		log.Append(role, fmt.Sprintf("line %d", i))
	}
	return l, log
}

func TestDecodeResult(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		text        string
		wantUpdates int
		wantSummary string
		wantErr     bool
	}{
		{
			name:        "plain",
			text:        `{"updates":[{"type":"update_probability","args":{"id":"a1","new_probability":40,"reasoning":"x"}}],"auditSummary":" drift corrected "}`,
			wantUpdates: 1,
			wantSummary: "drift corrected",
		},
		{
			name:        "fenced",
			text:        "```json\n{\"updates\":[],\"auditSummary\":\"quiet\"}\n```",
			wantSummary: "quiet",
		},
		{
			name:        "fenced without language",
			text:        "```\n{\"updates\":[{\"type\":\"record_deduction\",\"args\":{}}],\"auditSummary\":\"\"}\n```",
			wantUpdates: 1,
		},
		{
			name:        "empty id with title",
			text:        `{"updates":[{"type":"update_probability","args":{"id":"","title":"Gaze","new_probability":10}}],"auditSummary":"s"}`,
			wantUpdates: 1,
			wantSummary: "s",
		},
		{name: "empty", text: "   ", wantErr: true},
		{name: "prose", text: "The subject seems calm.", wantErr: true},
		{
			name:    "one bad update rejects batch",
			text:    `{"updates":[{"type":"record_deduction","args":{"title":"ok"}},{"type":"verify_deduction","args":{"id":"a1","status":"MAYBE"}}],"auditSummary":"s"}`,
			wantErr: true,
		},
		{
			name:    "unknown type",
			text:    `{"updates":[{"type":"drop_table","args":{}}],"auditSummary":"s"}`,
			wantErr: true,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			res, err := DecodeResult(tc.text)
			if tc.wantErr {
				if !core.IsType(err, core.ErrMalformedAudit) {
					t.Fatalf("err = %v, want malformed audit", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeResult: %v", err)
			}
			if len(res.Updates) != tc.wantUpdates || res.Summary != tc.wantSummary {
				t.Fatalf("result = %+v", res)
			}
		})
	}
}

func TestRequestPrompt(t *testing.T) {
	t.Parallel()
	l, log := seeded(t, 2)

	req := Request{Transcript: log.Recent(80), Ledger: NewLedgerView(l.Snapshot())}
	prompt := req.Prompt()

	if !strings.HasPrefix(prompt, "TRANSCRIPT:\n[SUBJECT]: line 0\n[OBSERVER]: line 1\n") {
		t.Fatalf("prompt transcript section:\n%s", prompt)
	}
	if !strings.Contains(prompt, `"prob": 75`) || !strings.Contains(prompt, `"status": "UNCERTAIN"`) {
		t.Fatalf("prompt ledger section:\n%s", prompt)
	}
	if diff := cmp.Diff([]string{"e2", "e3"}, req.Ledger[0].Evidence); diff != "" {
		t.Fatalf("ledger view evidence (-want +got):\n%s", diff)
	}
}

func TestGeminiAuditor_BuildsRequest(t *testing.T) {
	t.Parallel()
	gen := &fakeGenerator{text: `{"updates":[{"type":"update_probability","args":{"id":"gaze","new_probability":40,"reasoning":"blinked"}}],"auditSummary":"ok"}`}
	a := newGeminiAuditor(gen, GeminiOptions{})

	res, err := a.Audit(context.Background(), Request{Frame: []byte{0xff, 0xd8}})
	if err != nil {
		t.Fatalf("Audit: %v", err)
	}
	if len(res.Updates) != 1 || res.Summary != "ok" {
		t.Fatalf("result = %+v", res)
	}
	if gen.model != DefaultModel {
		t.Fatalf("model = %q", gen.model)
	}
	if len(gen.contents) != 1 || len(gen.contents[0].Parts) != 2 || gen.contents[0].Parts[1].InlineData == nil {
		t.Fatalf("contents = %+v", gen.contents)
	}
	cfg := gen.config
	if cfg.ResponseMIMEType != "application/json" || cfg.ResponseSchema == nil || cfg.MaxOutputTokens != DefaultMaxOutputTokens {
		t.Fatalf("config = %+v", cfg)
	}
	if cfg.ThinkingConfig == nil || *cfg.ThinkingConfig.ThinkingBudget != DefaultThinkingBudget {
		t.Fatalf("thinking config = %+v", cfg.ThinkingConfig)
	}
}

func TestGeminiAuditor_TransportFailure(t *testing.T) {
	t.Parallel()
	a := newGeminiAuditor(&fakeGenerator{err: errors.New("503")}, GeminiOptions{})
	if _, err := a.Audit(context.Background(), Request{}); !core.IsType(err, core.ErrTransport) {
		t.Fatalf("err = %v, want transport error", err)
	}
}

func TestReconciler_SkipsShortTranscript(t *testing.T) {
	t.Parallel()
	l, log := seeded(t, 2)
	called := false
	r := NewReconciler(l, log, auditorFunc(func(context.Context, Request) (*Result, error) {
		called = true
		return &Result{}, nil
	}), Options{})

	report, err := r.Trigger(context.Background())
	if err != nil || !report.Skipped || called {
		t.Fatalf("report = %+v, err = %v, called = %v", report, err, called)
	}
	if r.InFlight() {
		t.Fatal("in-flight flag left set")
	}
}

func TestReconciler_AppliesBatch(t *testing.T) {
	t.Parallel()
	l, log := seeded(t, 5)
	var seen Request
	var reported []Report
	r := NewReconciler(l, log, auditorFunc(func(_ context.Context, req Request) (*Result, error) {
		seen = req
		return &Result{
			Summary: "gaze was a reflex",
			Updates: []ledger.Update{
				ledger.ReviseUpdate{Ref: "gaze", Probability: 20, Reasoning: "reflex"},
				ledger.FinalizeUpdate{Ref: "nomatch", Status: types.StatusProven},
				ledger.RecordUpdate{Title: "Rehearsed answers"},
			},
		}, nil
	}), Options{
		Window:   3,
		Stills:   stubStills{data: []byte{1, 2}},
		OnReport: func(rep Report, _ error) { reported = append(reported, rep) },
	})

	report, err := r.Trigger(context.Background())
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if report.Applied != 2 || report.Unresolved != 1 || report.Summary != "gaze was a reflex" {
		t.Fatalf("report = %+v", report)
	}
	if len(seen.Transcript) != 3 || seen.Transcript[0].Text != "line 2" || len(seen.Frame) != 2 {
		t.Fatalf("request = %+v", seen)
	}
	if len(reported) != 1 {
		t.Fatalf("OnReport called %d times", len(reported))
	}
	if d, _ := l.Get("a1"); d.Probability != 20 {
		t.Fatalf("gaze probability = %v", d.Probability)
	}
	if l.Len() != 2 {
		t.Fatalf("ledger len = %d", l.Len())
	}
}

func TestReconciler_MalformedBatchLeavesLedgerUntouched(t *testing.T) {
	t.Parallel()
	l, log := seeded(t, 4)
	before := l.Snapshot()
	gen := &fakeGenerator{text: `{"updates":[{"type":"update_probability","args":{"id":"a1","new_probability":5}},{"type":"update_probability","args":{"id":"a1","new_probability":"lots"}}],"auditSummary":"x"}`}
	r := NewReconciler(l, log, newGeminiAuditor(gen, GeminiOptions{}), Options{Stills: stubStills{err: errors.New("no camera")}})

	_, err := r.Trigger(context.Background())
	if !core.IsType(err, core.ErrMalformedAudit) {
		t.Fatalf("err = %v, want malformed audit", err)
	}
	if diff := cmp.Diff(before, l.Snapshot()); diff != "" {
		t.Fatalf("ledger changed (-before +after):\n%s", diff)
	}
	if r.InFlight() {
		t.Fatal("in-flight flag left set after failure")
	}
}

func TestReconciler_SingleFlight(t *testing.T) {
	t.Parallel()
	l, log := seeded(t, 4)
	started := make(chan struct{})
	release := make(chan struct{})
	calls := 0
	r := NewReconciler(l, log, auditorFunc(func(context.Context, Request) (*Result, error) {
		calls++
		close(started)
		<-release
		return &Result{}, nil
	}), Options{})

	done := make(chan error, 1)
	go func() {
		_, err := r.Trigger(context.Background())
		done <- err
	}()
	<-started

	if !r.InFlight() {
		t.Fatal("InFlight() = false during audit")
	}
	if _, err := r.Trigger(context.Background()); !core.IsType(err, core.ErrAuditInFlight) {
		t.Fatalf("concurrent trigger err = %v, want audit_in_flight", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first trigger: %v", err)
	}
	if calls != 1 {
		t.Fatalf("auditor called %d times", calls)
	}
	if r.InFlight() {
		t.Fatal("in-flight flag left set")
	}
}

func TestReconciler_RunOutlivesCancellation(t *testing.T) {
	t.Parallel()
	l, log := seeded(t, 4)
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	r := NewReconciler(l, log, auditorFunc(func(ctx context.Context, _ Request) (*Result, error) {
		started <- struct{}{}
		<-release
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return &Result{Updates: []ledger.Update{ledger.ReviseUpdate{Ref: "a1", Probability: 10}}}, nil
	}), Options{})

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- r.Run(ctx, 10*time.Millisecond) }()

	<-started
	cancel()
	if err := <-runDone; err != nil {
		t.Fatalf("Run: %v", err)
	}

	close(release)
	r.Wait()
	if d, _ := l.Get("a1"); d.Probability != 10 {
		t.Fatalf("audit started before cancel was not applied: %v", d.Probability)
	}
}
