package audit

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Pr4shant/Deduction-Engine/pkg/core"
	"github.com/Pr4shant/Deduction-Engine/pkg/core/ledger"
)

// Result is a validated audit batch.
type Result struct {
	Updates []ledger.Update
	Summary string
}

type rawResult struct {
	Updates []struct {
		Type string          `json:"type"`
		Args json.RawMessage `json:"args"`
	} `json:"updates"`
	AuditSummary string `json:"auditSummary"`
}

// DecodeResult parses the auditor's JSON answer. Markdown code fences around
// the object are tolerated. A single undecodable or invalid update rejects
// the whole batch.
func DecodeResult(text string) (*Result, error) {
	body := stripFences(text)
	if body == "" {
		return nil, core.NewMalformedAuditError("empty audit response", nil)
	}
	var raw rawResult
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return nil, core.NewMalformedAuditError("audit response is not a JSON object", err)
	}
	res := &Result{
		Updates: make([]ledger.Update, 0, len(raw.Updates)),
		Summary: strings.TrimSpace(raw.AuditSummary),
	}
	for i, u := range raw.Updates {
		parsed, err := ledger.ParseUpdateJSON(u.Type, u.Args)
		if err != nil {
			return nil, core.NewMalformedAuditError(fmt.Sprintf("update %d (%s) rejected", i, u.Type), err)
		}
		res.Updates = append(res.Updates, parsed)
	}
	return res, nil
}

func stripFences(text string) string {
	s := strings.TrimSpace(text)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
