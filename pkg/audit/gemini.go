package audit

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/Pr4shant/Deduction-Engine/pkg/core"
	"github.com/Pr4shant/Deduction-Engine/pkg/core/ledger"
	"github.com/Pr4shant/Deduction-Engine/pkg/live/protocol"
)

const (
	DefaultModel           = "gemini-3-pro-preview"
	DefaultThinkingBudget  = 4096
	DefaultMaxOutputTokens = 2048
)

// Auditor produces a validated batch of updates for a request.
type Auditor interface {
	Audit(ctx context.Context, req Request) (*Result, error)
}

// generator is the subset of genai.Models used here.
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiOptions configures a GeminiAuditor.
type GeminiOptions struct {
	APIKey          string
	Model           string
	ThinkingBudget  int32
	MaxOutputTokens int32
}

// GeminiAuditor runs audits through the Gemini generateContent API with a
// JSON response schema.
type GeminiAuditor struct {
	gen  generator
	opts GeminiOptions
}

// NewGeminiAuditor creates an auditor backed by the Gemini API.
func NewGeminiAuditor(ctx context.Context, opts GeminiOptions) (*GeminiAuditor, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, core.NewInvalidRequestErrorWithParam("api key is required", "api_key")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  opts.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return newGeminiAuditor(client.Models, opts), nil
}

func newGeminiAuditor(gen generator, opts GeminiOptions) *GeminiAuditor {
	if strings.TrimSpace(opts.Model) == "" {
		opts.Model = DefaultModel
	}
	if opts.ThinkingBudget <= 0 {
		opts.ThinkingBudget = DefaultThinkingBudget
	}
	if opts.MaxOutputTokens <= 0 {
		opts.MaxOutputTokens = DefaultMaxOutputTokens
	}
	return &GeminiAuditor{gen: gen, opts: opts}
}

// Audit sends the request and decodes the answer.
func (a *GeminiAuditor) Audit(ctx context.Context, req Request) (*Result, error) {
	parts := []*genai.Part{genai.NewPartFromText(req.Prompt())}
	if len(req.Frame) > 0 {
		parts = append(parts, genai.NewPartFromBytes(req.Frame, protocol.ImageMIMEType))
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	resp, err := a.gen.GenerateContent(ctx, a.opts.Model, contents, a.config())
	if err != nil {
		return nil, core.NewTransportError("audit request failed", err)
	}
	if resp == nil {
		return nil, core.NewMalformedAuditError("empty audit response", nil)
	}
	return DecodeResult(resp.Text())
}

func (a *GeminiAuditor) config() *genai.GenerateContentConfig {
	return &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(Instruction, genai.RoleUser),
		ResponseMIMEType:  "application/json",
		ResponseSchema:    ResponseSchema(),
		MaxOutputTokens:   a.opts.MaxOutputTokens,
		ThinkingConfig: &genai.ThinkingConfig{
			ThinkingBudget: genai.Ptr(a.opts.ThinkingBudget),
		},
	}
}

// ResponseSchema is the JSON schema the auditor must answer with.
func ResponseSchema() *genai.Schema {
	str := func() *genai.Schema { return &genai.Schema{Type: genai.TypeString} }
	num := func() *genai.Schema { return &genai.Schema{Type: genai.TypeNumber} }
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"updates": {
				Type: genai.TypeArray,
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"type": {
							Type:        genai.TypeString,
							Enum:        []string{ledger.ToolRecord, ledger.ToolRevise, ledger.ToolFinalize},
							Description: "Which ledger operation to apply",
						},
						"args": {
							Type: genai.TypeObject,
							Properties: map[string]*genai.Schema{
								"id":              str(),
								"title":           str(),
								"description":     str(),
								"probability":     num(),
								"new_probability": num(),
								"reasoning":       str(),
								"status":          str(),
								"final_reasoning": str(),
								"evidence":        {Type: genai.TypeArray, Items: str()},
							},
						},
					},
					Required: []string{"type", "args"},
				},
			},
			"auditSummary": {
				Type:        genai.TypeString,
				Description: "What the audit found in the transcript and the frame",
			},
		},
		Required: []string{"updates", "auditSummary"},
	}
}
