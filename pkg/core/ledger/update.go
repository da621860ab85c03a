package ledger

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/Pr4shant/Deduction-Engine/pkg/core"
	"github.com/Pr4shant/Deduction-Engine/pkg/core/types"
)

// Tool names shared by the streaming session and the audit batch.
const (
	ToolRecord   = "record_deduction"
	ToolRevise   = "update_probability"
	ToolFinalize = "verify_deduction"
)

// Kind identifies an Update variant.
type Kind string

const (
	KindRecord   Kind = ToolRecord
	KindRevise   Kind = ToolRevise
	KindFinalize Kind = ToolFinalize
)

// Update is a validated ledger operation. It is one of RecordUpdate,
// ReviseUpdate or FinalizeUpdate.
type Update interface {
	Kind() Kind
}

// RecordUpdate creates a deduction. Zero fields take ledger defaults.
type RecordUpdate struct {
	Title       string
	Description string
	Probability *float64
	Evidence    []string
}

func (RecordUpdate) Kind() Kind { return KindRecord }

// ReviseUpdate moves the probability of an existing deduction.
type ReviseUpdate struct {
	Ref         string
	Probability float64
	Reasoning   string
}

func (ReviseUpdate) Kind() Kind { return KindRevise }

// FinalizeUpdate sets a terminal status.
type FinalizeUpdate struct {
	Ref       string
	Status    types.Status
	Reasoning string
}

func (FinalizeUpdate) Kind() Kind { return KindFinalize }

// ParseUpdate converts a loosely typed tool invocation into an Update.
// Ill-typed fields are rejected for every kind; update_probability and
// verify_deduction additionally require their reference, value and status.
func ParseUpdate(name string, args map[string]any) (Update, error) {
	switch strings.TrimSpace(name) {
	case ToolRecord:
		return parseRecord(args)
	case ToolRevise:
		return parseRevise(args)
	case ToolFinalize:
		return parseFinalize(args)
	default:
		return nil, core.NewInvalidRequestErrorWithParam(fmt.Sprintf("unknown update type %q", name), "type")
	}
}

// ParseUpdateJSON is ParseUpdate for a raw JSON args object.
func ParseUpdateJSON(name string, raw json.RawMessage) (Update, error) {
	args := map[string]any{}
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, core.NewInvalidRequestErrorWithParam("args must be a JSON object", "args")
		}
	}
	return ParseUpdate(name, args)
}

func parseRecord(args map[string]any) (Update, error) {
	title, _, err := stringArg(args, "title")
	if err != nil {
		return nil, err
	}
	desc, _, err := stringArg(args, "description")
	if err != nil {
		return nil, err
	}
	prob, ok, err := numberArg(args, "probability")
	if err != nil {
		return nil, err
	}
	evidence, err := stringsArg(args, "evidence")
	if err != nil {
		return nil, err
	}
	u := RecordUpdate{Title: title, Description: desc, Evidence: evidence}
	if ok {
		u.Probability = &prob
	}
	return u, nil
}

func parseRevise(args map[string]any) (Update, error) {
	ref, err := refArg(args)
	if err != nil {
		return nil, err
	}
	prob, ok, err := numberArg(args, "new_probability", "probability")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, core.NewInvalidRequestErrorWithParam("new_probability is required", "new_probability")
	}
	reasoning, _, err := stringArg(args, "reasoning")
	if err != nil {
		return nil, err
	}
	return ReviseUpdate{Ref: ref, Probability: prob, Reasoning: reasoning}, nil
}

func parseFinalize(args map[string]any) (Update, error) {
	ref, err := refArg(args)
	if err != nil {
		return nil, err
	}
	raw, ok, err := stringArg(args, "status")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, core.NewInvalidRequestErrorWithParam("status is required", "status")
	}
	status, known := types.ParseStatus(raw)
	if !known || !status.Terminal() {
		return nil, core.NewInvalidRequestErrorWithParam(fmt.Sprintf("status must be PROVEN or REFUTED, got %q", raw), "status")
	}
	reasoning, _, err := stringArg(args, "final_reasoning", "reasoning")
	if err != nil {
		return nil, err
	}
	return FinalizeUpdate{Ref: ref, Status: status, Reasoning: reasoning}, nil
}

// refArg reads the deduction reference. Models use "id" per the tool schema
// but occasionally send the title instead, sometimes next to an empty id.
func refArg(args map[string]any) (string, error) {
	ref, ok, err := stringArg(args, "id", "ref", "title")
	if err != nil {
		return "", err
	}
	if !ok || ref == "" {
		return "", core.NewInvalidRequestErrorWithParam("id is required", "id")
	}
	return ref, nil
}

// lookup returns the first alias holding a value. Blank strings count as
// absent so a later alias can supply the field.
func lookup(args map[string]any, keys ...string) (string, any, bool) {
	for _, k := range keys {
		v, ok := args[k]
		if !ok || v == nil {
			continue
		}
		if s, isString := v.(string); isString && strings.TrimSpace(s) == "" {
			continue
		}
		return k, v, true
	}
	return "", nil, false
}

func stringArg(args map[string]any, keys ...string) (string, bool, error) {
	key, v, ok := lookup(args, keys...)
	if !ok {
		return "", false, nil
	}
	s, isString := v.(string)
	if !isString {
		return "", false, core.NewInvalidRequestErrorWithParam(fmt.Sprintf("%s must be a string", key), key)
	}
	s = strings.TrimSpace(s)
	return s, s != "", nil
}

func numberArg(args map[string]any, keys ...string) (float64, bool, error) {
	key, v, ok := lookup(args, keys...)
	if !ok {
		return 0, false, nil
	}
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false, core.NewInvalidRequestErrorWithParam(fmt.Sprintf("%s must be a number", key), key)
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(n), "%"), 64)
		if err != nil {
			return 0, false, core.NewInvalidRequestErrorWithParam(fmt.Sprintf("%s must be a number", key), key)
		}
		f = parsed
	default:
		return 0, false, core.NewInvalidRequestErrorWithParam(fmt.Sprintf("%s must be a number", key), key)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false, core.NewInvalidRequestErrorWithParam(fmt.Sprintf("%s must be finite", key), key)
	}
	return f, true, nil
}

func stringsArg(args map[string]any, key string) ([]string, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return nil, nil
	}
	switch list := v.(type) {
	case []string:
		return list, nil
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, isString := item.(string)
			if !isString {
				return nil, core.NewInvalidRequestErrorWithParam(fmt.Sprintf("%s must be an array of strings", key), key)
			}
			out = append(out, s)
		}
		return out, nil
	case string:
		return []string{list}, nil
	default:
		return nil, core.NewInvalidRequestErrorWithParam(fmt.Sprintf("%s must be an array of strings", key), key)
	}
}
