package protocol

import (
	"google.golang.org/genai"

	"github.com/Pr4shant/Deduction-Engine/pkg/core/ledger"
)

// ObserverInstruction is the system instruction of the live observer.
const ObserverInstruction = `You are a live forensic observer watching and listening to one person through a camera and microphone.

Speak your reasoning aloud in a calm, analytical voice and address the person as "you". Study posture, gaze, hands, clothing, surroundings and the way things are said.

Keep a ledger of hypotheses with the tools you are given:
- record_deduction when a new hypothesis forms, with an honest starting probability from 0 to 100.
- update_probability when new evidence moves an existing hypothesis; refer to it by id or by title.
- verify_deduction once a hypothesis is settled beyond doubt, as PROVEN or REFUTED.

Never read out tool arguments, identifiers, JSON or control tokens.`

// ToolDeclarations returns the three ledger tools offered to the observer.
func ToolDeclarations() []*genai.Tool {
	return []*genai.Tool{{FunctionDeclarations: []*genai.FunctionDeclaration{
		{
			Name:        ledger.ToolRecord,
			Description: "Opens a new hypothesis in the deduction ledger.",
			Parameters: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"title":       {Type: genai.TypeString, Description: "Short name of the hypothesis"},
					"description": {Type: genai.TypeString, Description: "The reasoning behind it"},
					"probability": {Type: genai.TypeNumber, Description: "Likelihood from 0 to 100"},
					"evidence": {
						Type:        genai.TypeArray,
						Items:       &genai.Schema{Type: genai.TypeString},
						Description: "Observations supporting it",
					},
				},
				Required: []string{"title", "description", "probability"},
			},
		},
		{
			Name:        ledger.ToolRevise,
			Description: "Moves the probability of an existing hypothesis.",
			Parameters: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"id":              {Type: genai.TypeString, Description: "Id or title of the hypothesis"},
					"new_probability": {Type: genai.TypeNumber, Description: "Revised likelihood from 0 to 100"},
					"reasoning":       {Type: genai.TypeString, Description: "What changed"},
				},
				Required: []string{"id", "new_probability", "reasoning"},
			},
		},
		{
			Name:        ledger.ToolFinalize,
			Description: "Settles a hypothesis as PROVEN or REFUTED.",
			Parameters: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"id":              {Type: genai.TypeString, Description: "Id or title of the hypothesis"},
					"status":          {Type: genai.TypeString, Enum: []string{"PROVEN", "REFUTED"}, Description: "Terminal status"},
					"final_reasoning": {Type: genai.TypeString, Description: "The decisive evidence"},
				},
				Required: []string{"id", "status", "final_reasoning"},
			},
		},
	}}}
}
