package provider

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Google Gemini (generateContent)
// ---------------------------------------------------------------------------

func googleAuth(h http.Header, apiKey string) {
	h.Set("x-goog-api-key", apiKey)
}

// The model lives in the URL path, not the body. A "models/" prefix on the
// configured name is tolerated.
func geminiEndpoint(method string) func(string) string {
	return func(model string) string {
		return "/models/" + strings.TrimPrefix(model, "models/") + method
	}
}

// --- Request types ---

// geminiRequest is the generateContent body. Gemini nests text in
// contents[].parts[] and moves sampling parameters into generationConfig.
type geminiRequest struct {
	Contents          []geminiContent         `json:"contents"`
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
	Tools             []geminiTool            `json:"tools,omitempty"`
	ToolConfig        *geminiToolConfig       `json:"toolConfig,omitempty"`
}

// geminiContent is one turn. Role is "user", "model" or "function".
type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

// geminiPart holds exactly one of its fields.
type geminiPart struct {
	Text             string                  `json:"text,omitempty"`
	InlineData       *geminiInlineData       `json:"inline_data,omitempty"`
	FunctionCall     *geminiFunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *geminiFunctionResponse `json:"functionResponse,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiFunctionCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

type geminiFunctionResponse struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

type geminiGenerationConfig struct {
	Temperature      *float64 `json:"temperature,omitempty"`
	TopP             *float64 `json:"topP,omitempty"`
	MaxOutputTokens  *int     `json:"maxOutputTokens,omitempty"`
	ResponseMimeType string   `json:"responseMimeType,omitempty"`
}

type geminiTool struct {
	FunctionDeclarations []geminiFunctionDeclaration `json:"functionDeclarations"`
}

type geminiFunctionDeclaration struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type geminiToolConfig struct {
	FunctionCallingConfig geminiFunctionCallingConfig `json:"functionCallingConfig"`
}

type geminiFunctionCallingConfig struct {
	Mode                 string   `json:"mode"` // AUTO, NONE or ANY
	AllowedFunctionNames []string `json:"allowedFunctionNames,omitempty"`
}

// --- Response types ---

type geminiResponse struct {
	Name          string               `json:"name"`
	ResponseID    string               `json:"responseId"`
	ModelVersion  string               `json:"modelVersion"`
	Candidates    []geminiCandidate    `json:"candidates"`
	UsageMetadata *geminiUsageMetadata `json:"usageMetadata"`
}

type geminiCandidate struct {
	Index        int           `json:"index"`
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason"`
}

type geminiUsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
}

// ---------------------------------------------------------------------------
// Request translation
// ---------------------------------------------------------------------------

func geminiRole(r Role) string {
	switch r {
	case RoleAssistant:
		return "model"
	case RoleTool, RoleFunction:
		return "function"
	}
	return "user"
}

func translateGoogleChat(req *ChatRequest, _ string) (any, error) {
	gr := &geminiRequest{Contents: []geminiContent{}}

	// Gemini function responses are keyed by function name, not call id.
	callNames := make(map[string]string)

	var system []geminiPart
	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			system = append(system, geminiParts(msg.Content)...)
			continue

		case RoleTool, RoleFunction:
			name := msg.Name
			if name == "" {
				name = callNames[msg.ToolCallID]
			}
			gr.Contents = append(gr.Contents, geminiContent{
				Role: geminiRole(msg.Role),
				Parts: []geminiPart{{FunctionResponse: &geminiFunctionResponse{
					Name:     name,
					Response: map[string]any{"content": msg.Content.String()},
				}}},
			})
			continue
		}

		parts := geminiParts(msg.Content)
		for _, tc := range msg.ToolCalls {
			callNames[tc.ID] = tc.Function.Name
			var args map[string]any
			if tc.Function.Arguments != "" {
				if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
					return nil, invalidf("tool call %s arguments are not a JSON object", tc.ID)
				}
			}
			parts = append(parts, geminiPart{FunctionCall: &geminiFunctionCall{Name: tc.Function.Name, Args: args}})
		}
		gr.Contents = append(gr.Contents, geminiContent{Role: geminiRole(msg.Role), Parts: parts})
	}
	if len(system) > 0 {
		gr.SystemInstruction = &geminiContent{Parts: system}
	}

	cfg := &geminiGenerationConfig{
		Temperature:     req.Temperature,
		TopP:            req.TopP,
		MaxOutputTokens: req.MaxTokens,
	}
	if req.ResponseFormat != nil && req.ResponseFormat.Type == JSONObject.Type {
		cfg.ResponseMimeType = "application/json"
	}
	if *cfg != (geminiGenerationConfig{}) {
		gr.GenerationConfig = cfg
	}

	if len(req.Tools) > 0 {
		decls := make([]geminiFunctionDeclaration, 0, len(req.Tools))
		for _, t := range req.Tools {
			decls = append(decls, geminiFunctionDeclaration{
				Name:        t.Function.Name,
				Description: t.Function.Description,
				Parameters:  t.Function.Parameters,
			})
		}
		gr.Tools = []geminiTool{{FunctionDeclarations: decls}}

		if tc := req.ToolChoice; tc != nil {
			fc := geminiFunctionCallingConfig{Mode: "AUTO"}
			switch {
			case tc.Function != "":
				fc = geminiFunctionCallingConfig{Mode: "ANY", AllowedFunctionNames: []string{tc.Function}}
			case tc.Mode == "none":
				fc.Mode = "NONE"
			}
			gr.ToolConfig = &geminiToolConfig{FunctionCallingConfig: fc}
		}
	}
	return gr, nil
}

func geminiParts(c Content) []geminiPart {
	if !c.IsParts() {
		return []geminiPart{{Text: c.Text}}
	}
	parts := make([]geminiPart, 0, len(c.Parts))
	for _, p := range c.Parts {
		switch p.Type {
		case PartText:
			parts = append(parts, geminiPart{Text: p.Text})
		case PartImageURL:
			if p.ImageURL == nil {
				continue
			}
			mimeType, data, ok := splitDataURI(p.ImageURL.URL)
			if !ok {
				mimeType, data = guessImageType(p.ImageURL.URL), p.ImageURL.URL
			}
			parts = append(parts, geminiPart{InlineData: &geminiInlineData{MimeType: mimeType, Data: data}})
		}
	}
	return parts
}

// ---------------------------------------------------------------------------
// Response normalization
// ---------------------------------------------------------------------------

func geminiFinish(reason string) string {
	switch reason {
	case "STOP":
		return FinishStop
	case "MAX_TOKENS":
		return FinishLength
	case "SAFETY", "RECITATION", "BLOCKLIST", "PROHIBITED_CONTENT", "SPII":
		return FinishContentFilter
	}
	return reason
}

// geminiID prefers the vendor's identifiers and synthesises one otherwise.
func geminiID(gr *geminiResponse) string {
	switch {
	case gr.ResponseID != "":
		return gr.ResponseID
	case gr.Name != "":
		return gr.Name
	}
	return "gemini-" + uuid.NewString()
}

func geminiToolCall(fc *geminiFunctionCall) ToolCall {
	args, err := json.Marshal(fc.Args)
	if err != nil || fc.Args == nil {
		args = []byte("{}")
	}
	return ToolCall{
		ID:       "call_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24],
		Type:     "function",
		Function: FunctionCall{Name: fc.Name, Arguments: string(args)},
	}
}

func geminiUsage(m *geminiUsageMetadata) Usage {
	if m == nil {
		return Usage{}
	}
	return Usage{
		PromptTokens:     m.PromptTokenCount,
		CompletionTokens: m.CandidatesTokenCount,
	}.normalized()
}

func normalizeGoogleChat(body []byte, model string) (*ChatResponse, error) {
	var gr geminiResponse
	if err := json.Unmarshal(body, &gr); err != nil {
		return nil, fmt.Errorf("decoding gemini response: %w", err)
	}
	if gr.ModelVersion != "" {
		model = gr.ModelVersion
	}

	resp := &ChatResponse{
		ID:      geminiID(&gr),
		Object:  "chat.completion",
		Model:   model,
		Created: time.Now().Unix(),
		Choices: make([]Choice, 0, len(gr.Candidates)),
		Usage:   geminiUsage(gr.UsageMetadata),
	}
	for i, cand := range gr.Candidates {
		var text strings.Builder
		msg := Message{Role: RoleAssistant}
		for _, part := range cand.Content.Parts {
			if part.FunctionCall != nil {
				msg.ToolCalls = append(msg.ToolCalls, geminiToolCall(part.FunctionCall))
				continue
			}
			text.WriteString(part.Text)
		}
		msg.Content = TextContent(text.String())

		finish := geminiFinish(cand.FinishReason)
		if finish == FinishStop && len(msg.ToolCalls) > 0 {
			finish = FinishToolCalls
		}
		resp.Choices = append(resp.Choices, Choice{Index: i, Message: msg, FinishReason: finish})
	}
	return resp, nil
}

func googleChat() *chatAdapter {
	return &chatAdapter{
		endpoint:  geminiEndpoint(":generateContent"),
		translate: translateGoogleChat,
		normalize: normalizeGoogleChat,
	}
}

// ---------------------------------------------------------------------------
// Streaming
// ---------------------------------------------------------------------------

// With ?alt=sse every data line is a complete generateContent response
// holding only the newly generated parts. There is no [DONE]; the chunk
// whose candidate carries a finishReason is the last one.

type googleDecoder struct {
	id      string
	model   string
	created int64
	tools   int
}

func newGoogleDecoder(model string) chunkDecoder {
	d := &googleDecoder{model: model, created: time.Now().Unix()}
	return d.decode
}

// geminiStreamEvent catches the {"error":{...}} object Gemini sends when a
// stream fails after it started.
type geminiStreamEvent struct {
	geminiResponse
	Error *openAIErrorBody `json:"error,omitempty"`
}

func (d *googleDecoder) decode(data []byte) (*StreamChunk, bool, error) {
	var ev geminiStreamEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, false, &MalformedChunkError{Data: string(data), Err: err}
	}
	if ev.Error != nil && ev.Error.Message != "" {
		return nil, false, ev.Error.apiError(Google, 0)
	}
	gr := ev.geminiResponse
	if d.id == "" {
		d.id = geminiID(&gr)
	}
	if gr.ModelVersion != "" {
		d.model = gr.ModelVersion
	}

	chunk := &StreamChunk{
		ID:      d.id,
		Object:  "chat.completion.chunk",
		Model:   d.model,
		Created: d.created,
		Choices: make([]StreamChoice, 0, len(gr.Candidates)),
	}
	terminal := false
	for i, cand := range gr.Candidates {
		var delta Delta
		var text strings.Builder
		for _, part := range cand.Content.Parts {
			if part.FunctionCall == nil {
				text.WriteString(part.Text)
				continue
			}
			tc := geminiToolCall(part.FunctionCall)
			delta.ToolCalls = append(delta.ToolCalls, ToolCallDelta{
				Index:    d.tools,
				ID:       tc.ID,
				Type:     tc.Type,
				Function: &FunctionFragment{Name: tc.Function.Name, Arguments: tc.Function.Arguments},
			})
			d.tools++
		}
		delta.Content = text.String()

		choice := StreamChoice{Index: i, Delta: delta}
		if cand.FinishReason != "" {
			reason := geminiFinish(cand.FinishReason)
			if reason == FinishStop && d.tools > 0 {
				reason = FinishToolCalls
			}
			choice.FinishReason = &reason
			terminal = true
		}
		chunk.Choices = append(chunk.Choices, choice)
	}
	if terminal && gr.UsageMetadata != nil {
		u := geminiUsage(gr.UsageMetadata)
		chunk.Usage = &u
	}
	return chunk, terminal, nil
}

func googleStream() *streamAdapter {
	return &streamAdapter{
		endpoint:  geminiEndpoint(":streamGenerateContent?alt=sse"),
		translate: translateGoogleChat,
		decoder:   newGoogleDecoder,
	}
}
