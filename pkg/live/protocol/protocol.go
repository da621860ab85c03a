// Package protocol defines the JSON frames exchanged with the bidirectional
// streaming backend.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

const (
	// DefaultEndpoint is the BidiGenerateContent websocket endpoint.
	DefaultEndpoint = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"
	// DefaultModel is the native-audio model used for live sessions.
	DefaultModel = "gemini-2.5-flash-native-audio-preview-12-2025"
	// DefaultVoice is the prebuilt voice of the observer.
	DefaultVoice = "Kore"

	ImageMIMEType = "image/jpeg"
)

type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badFrame(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_frame", Message: message, Param: param}
}

// Empty marshals as {} and enables a feature without options.
type Empty struct{}

type GenerationConfig struct {
	ResponseModalities []genai.Modality    `json:"responseModalities,omitempty"`
	SpeechConfig       *genai.SpeechConfig `json:"speechConfig,omitempty"`
}

type Setup struct {
	Model                    string            `json:"model"`
	GenerationConfig         *GenerationConfig `json:"generationConfig,omitempty"`
	SystemInstruction        *genai.Content    `json:"systemInstruction,omitempty"`
	Tools                    []*genai.Tool     `json:"tools,omitempty"`
	InputAudioTranscription  *Empty            `json:"inputAudioTranscription,omitempty"`
	OutputAudioTranscription *Empty            `json:"outputAudioTranscription,omitempty"`
}

// ClientSetup is the first frame of every session.
type ClientSetup struct {
	Setup Setup `json:"setup"`
}

type RealtimeInput struct {
	Audio *genai.Blob `json:"audio,omitempty"`
	Video *genai.Blob `json:"video,omitempty"`
}

type ClientRealtimeInput struct {
	RealtimeInput RealtimeInput `json:"realtimeInput"`
}

type ToolResponse struct {
	FunctionResponses []*genai.FunctionResponse `json:"functionResponses"`
}

type ClientToolResponse struct {
	ToolResponse ToolResponse `json:"toolResponse"`
}

// SetupOptions are the session parameters sent in ClientSetup.
type SetupOptions struct {
	Model             string
	Voice             string
	SystemInstruction string
	Tools             []*genai.Tool
}

// NewSetup builds the setup frame: audio responses in the given voice, both
// transcription directions enabled.
func NewSetup(opts SetupOptions) ClientSetup {
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = DefaultModel
	}
	if !strings.HasPrefix(model, "models/") {
		model = "models/" + model
	}
	voice := strings.TrimSpace(opts.Voice)
	if voice == "" {
		voice = DefaultVoice
	}
	setup := Setup{
		Model: model,
		GenerationConfig: &GenerationConfig{
			ResponseModalities: []genai.Modality{genai.ModalityAudio},
			SpeechConfig: &genai.SpeechConfig{
				VoiceConfig: &genai.VoiceConfig{
					PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: voice},
				},
			},
		},
		Tools:                    opts.Tools,
		InputAudioTranscription:  &Empty{},
		OutputAudioTranscription: &Empty{},
	}
	if s := strings.TrimSpace(opts.SystemInstruction); s != "" {
		setup.SystemInstruction = genai.NewContentFromText(s, genai.RoleUser)
	}
	return ClientSetup{Setup: setup}
}

// NewAudioInput wraps one PCM chunk.
func NewAudioInput(pcm []byte, mimeType string) ClientRealtimeInput {
	return ClientRealtimeInput{RealtimeInput: RealtimeInput{
		Audio: &genai.Blob{Data: pcm, MIMEType: mimeType},
	}}
}

// NewImageInput wraps one JPEG frame.
func NewImageInput(jpeg []byte) ClientRealtimeInput {
	return ClientRealtimeInput{RealtimeInput: RealtimeInput{
		Video: &genai.Blob{Data: jpeg, MIMEType: ImageMIMEType},
	}}
}

// FunctionResult is the acknowledgement of one tool call.
type FunctionResult struct {
	ID     string
	Name   string
	Result string
}

// NewToolResponse builds the acknowledgement frame for a batch of calls.
func NewToolResponse(results []FunctionResult) ClientToolResponse {
	out := make([]*genai.FunctionResponse, 0, len(results))
	for _, r := range results {
		out = append(out, &genai.FunctionResponse{
			ID:       r.ID,
			Name:     r.Name,
			Response: map[string]any{"result": r.Result},
		})
	}
	return ClientToolResponse{ToolResponse: ToolResponse{FunctionResponses: out}}
}

type Transcription struct {
	Text string `json:"text"`
}

type ServerContent struct {
	ModelTurn           *genai.Content `json:"modelTurn,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	GenerationComplete  bool           `json:"generationComplete,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
	InputTranscription  *Transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *Transcription `json:"outputTranscription,omitempty"`
}

type ToolCall struct {
	FunctionCalls []*genai.FunctionCall `json:"functionCalls"`
}

type ToolCallCancellation struct {
	IDs []string `json:"ids"`
}

type GoAway struct {
	TimeLeft string `json:"timeLeft,omitempty"`
}

type ServerError struct {
	Code    int    `json:"code,omitempty"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

// ServerMessage is any frame sent by the backend. Exactly one field is set
// for the frames this package understands; all nil means the frame is
// irrelevant to the engine (usage metadata, resumption handles).
type ServerMessage struct {
	SetupComplete        *Empty                `json:"setupComplete,omitempty"`
	ServerContent        *ServerContent        `json:"serverContent,omitempty"`
	ToolCall             *ToolCall             `json:"toolCall,omitempty"`
	ToolCallCancellation *ToolCallCancellation `json:"toolCallCancellation,omitempty"`
	GoAway               *GoAway               `json:"goAway,omitempty"`
	Error                *ServerError          `json:"error,omitempty"`
}

// DecodeServerMessage parses one server frame. Text and binary websocket
// frames carry the same JSON.
func DecodeServerMessage(data []byte) (ServerMessage, error) {
	var msg ServerMessage
	if len(strings.TrimSpace(string(data))) == 0 {
		return msg, badFrame("empty frame", "")
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, badFrame("invalid json frame", "")
	}
	if msg.ToolCall != nil {
		for i, call := range msg.ToolCall.FunctionCalls {
			if call == nil || strings.TrimSpace(call.Name) == "" {
				return msg, badFrame("toolCall.functionCalls[].name is required", fmt.Sprintf("functionCalls[%d].name", i))
			}
		}
	}
	return msg, nil
}

// AudioChunk is one inline audio part of a model turn.
type AudioChunk struct {
	Data     []byte
	MIMEType string
}

// AudioChunks returns the inline audio parts of the model turn, in order.
func (c *ServerContent) AudioChunks() []AudioChunk {
	if c == nil || c.ModelTurn == nil {
		return nil
	}
	var out []AudioChunk
	for _, p := range c.ModelTurn.Parts {
		if p == nil || p.InlineData == nil || len(p.InlineData.Data) == 0 {
			continue
		}
		if !strings.HasPrefix(p.InlineData.MIMEType, "audio/") {
			continue
		}
		out = append(out, AudioChunk{Data: p.InlineData.Data, MIMEType: p.InlineData.MIMEType})
	}
	return out
}
