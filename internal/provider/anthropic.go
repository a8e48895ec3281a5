package provider

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ---------------------------------------------------------------------------
// Anthropic Messages API
// ---------------------------------------------------------------------------

// anthropicAPIVersion pins the Messages API behavior. Anthropic versions its
// API with a date header rather than the URL path.
const anthropicAPIVersion = "2023-06-01"

// defaultMaxTokens is sent when the caller leaves max_tokens unset. The
// Messages API rejects requests without it.
const defaultMaxTokens = 1024

func anthropicAuth(h http.Header, apiKey string) {
	h.Set("x-api-key", apiKey)
	h.Set("anthropic-version", anthropicAPIVersion)
}

// --- Request types ---

// anthropicRequest is the body of POST /messages. Unlike the OpenAI shape,
// "system" is a top-level string and max_tokens is required.
type anthropicRequest struct {
	Model       string               `json:"model"`
	MaxTokens   int                  `json:"max_tokens"`
	System      string               `json:"system,omitempty"`
	Messages    []anthropicMessage   `json:"messages"`
	Temperature *float64             `json:"temperature,omitempty"`
	TopP        *float64             `json:"top_p,omitempty"`
	Stream      bool                 `json:"stream,omitempty"`
	Tools       []anthropicTool      `json:"tools,omitempty"`
	ToolChoice  *anthropicToolChoice `json:"tool_choice,omitempty"`
}

type anthropicMessage struct {
	Role    string           `json:"role"`
	Content []anthropicBlock `json:"content"`
}

// anthropicBlock is every content block shape in one struct: text, image,
// tool_use and tool_result. Only the fields for Type are populated.
type anthropicBlock struct {
	Type      string                `json:"type"`
	Text      string                `json:"text,omitempty"`
	Source    *anthropicImageSource `json:"source,omitempty"`
	ID        string                `json:"id,omitempty"`
	Name      string                `json:"name,omitempty"`
	Input     json.RawMessage       `json:"input,omitempty"`
	ToolUseID string                `json:"tool_use_id,omitempty"`
	Content   string                `json:"content,omitempty"`
}

// anthropicImageSource is either {type: base64, media_type, data} or
// {type: url, url}.
type anthropicImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema"`
}

type anthropicToolChoice struct {
	Type string `json:"type"` // auto, none, any or tool
	Name string `json:"name,omitempty"`
}

// --- Response types ---

type anthropicResponse struct {
	ID         string           `json:"id"`
	Model      string           `json:"model"`
	Content    []anthropicBlock `json:"content"`
	StopReason string           `json:"stop_reason"`
	Usage      anthropicUsage   `json:"usage"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ---------------------------------------------------------------------------
// Request translation
// ---------------------------------------------------------------------------

func translateAnthropicChat(req *ChatRequest, model string) (any, error) {
	ar := &anthropicRequest{
		Model:       model,
		MaxTokens:   defaultMaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stream:      req.Stream,
	}
	if req.MaxTokens != nil && *req.MaxTokens > 0 {
		ar.MaxTokens = *req.MaxTokens
	}

	var system []string
	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			system = append(system, msg.Content.String())

		case RoleTool:
			// Tool results ride on a user turn. Consecutive results share one
			// turn because the API requires roles to alternate.
			block := anthropicBlock{
				Type:      "tool_result",
				ToolUseID: msg.ToolCallID,
				Content:   msg.Content.String(),
			}
			if n := len(ar.Messages); n > 0 && ar.Messages[n-1].Role == string(RoleUser) {
				ar.Messages[n-1].Content = append(ar.Messages[n-1].Content, block)
				continue
			}
			ar.Messages = append(ar.Messages, anthropicMessage{
				Role:    string(RoleUser),
				Content: []anthropicBlock{block},
			})

		case RoleAssistant:
			blocks := anthropicContent(msg.Content)
			for _, tc := range msg.ToolCalls {
				blocks = append(blocks, anthropicBlock{
					Type:  "tool_use",
					ID:    tc.ID,
					Name:  tc.Function.Name,
					Input: toolInput(tc.Function.Arguments),
				})
			}
			ar.Messages = append(ar.Messages, anthropicMessage{Role: string(RoleAssistant), Content: blocks})

		default:
			// user and the legacy function role both become user turns.
			ar.Messages = append(ar.Messages, anthropicMessage{
				Role:    string(RoleUser),
				Content: anthropicContent(msg.Content),
			})
		}
	}
	if len(system) > 0 {
		ar.System = strings.Join(system, "\n")
	}

	for _, t := range req.Tools {
		schema := t.Function.Parameters
		if schema == nil {
			schema = map[string]any{"type": "object"}
		}
		ar.Tools = append(ar.Tools, anthropicTool{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			InputSchema: schema,
		})
	}
	if tc := req.ToolChoice; tc != nil && len(ar.Tools) > 0 {
		switch {
		case tc.Function != "":
			ar.ToolChoice = &anthropicToolChoice{Type: "tool", Name: tc.Function}
		case tc.Mode == "none":
			ar.ToolChoice = &anthropicToolChoice{Type: "none"}
		default:
			ar.ToolChoice = &anthropicToolChoice{Type: "auto"}
		}
	}
	return ar, nil
}

// anthropicContent converts message content into content blocks. Empty text
// is dropped since the API rejects empty text blocks.
func anthropicContent(c Content) []anthropicBlock {
	if !c.IsParts() {
		if c.Text == "" {
			return []anthropicBlock{}
		}
		return []anthropicBlock{{Type: "text", Text: c.Text}}
	}
	blocks := make([]anthropicBlock, 0, len(c.Parts))
	for _, p := range c.Parts {
		switch p.Type {
		case PartText:
			if p.Text != "" {
				blocks = append(blocks, anthropicBlock{Type: "text", Text: p.Text})
			}
		case PartImageURL:
			if p.ImageURL == nil {
				continue
			}
			src := &anthropicImageSource{Type: "url", URL: p.ImageURL.URL}
			if mediaType, data, ok := splitDataURI(p.ImageURL.URL); ok {
				src = &anthropicImageSource{Type: "base64", MediaType: mediaType, Data: data}
			}
			blocks = append(blocks, anthropicBlock{Type: "image", Source: src})
		}
	}
	return blocks
}

// toolInput returns the arguments as raw JSON, or an empty object when they
// are missing or not valid JSON.
func toolInput(args string) json.RawMessage {
	if args == "" || !json.Valid([]byte(args)) {
		return json.RawMessage("{}")
	}
	return json.RawMessage(args)
}

// ---------------------------------------------------------------------------
// Response normalization
// ---------------------------------------------------------------------------

func anthropicFinish(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence":
		return FinishStop
	case "max_tokens":
		return FinishLength
	case "tool_use":
		return FinishToolCalls
	}
	return reason
}

func normalizeAnthropicChat(body []byte, model string) (*ChatResponse, error) {
	var ar anthropicResponse
	if err := json.Unmarshal(body, &ar); err != nil {
		return nil, fmt.Errorf("decoding anthropic response: %w", err)
	}

	var text strings.Builder
	msg := Message{Role: RoleAssistant}
	for _, block := range ar.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			args := string(block.Input)
			if args == "" {
				args = "{}"
			}
			msg.ToolCalls = append(msg.ToolCalls, ToolCall{
				ID:       block.ID,
				Type:     "function",
				Function: FunctionCall{Name: block.Name, Arguments: args},
			})
		}
	}
	msg.Content = TextContent(text.String())

	if ar.Model == "" {
		ar.Model = model
	}
	return &ChatResponse{
		ID:      ar.ID,
		Object:  "chat.completion",
		Model:   ar.Model,
		Created: time.Now().Unix(),
		Choices: []Choice{{
			Index:        0,
			Message:      msg,
			FinishReason: anthropicFinish(ar.StopReason),
		}},
		Usage: Usage{
			PromptTokens:     ar.Usage.InputTokens,
			CompletionTokens: ar.Usage.OutputTokens,
		}.normalized(),
	}, nil
}

func anthropicChat() *chatAdapter {
	return &chatAdapter{
		endpoint:  fixed("/messages"),
		translate: translateAnthropicChat,
		normalize: normalizeAnthropicChat,
	}
}

// ---------------------------------------------------------------------------
// Streaming
// ---------------------------------------------------------------------------

// Anthropic sends named events, each with its own payload shape:
//
//	message_start        id, model, input token count
//	content_block_start  opens a text or tool_use block
//	content_block_delta  text_delta or input_json_delta fragment
//	message_delta        stop_reason and output token count
//	message_stop         end of stream
//	error                vendor error mid-stream
//
// Every payload repeats the event name in "type", so the data lines alone
// are enough to dispatch on.

type anthropicStreamEvent struct {
	Type         string                `json:"type"`
	Index        int                   `json:"index"`
	Message      *anthropicResponse    `json:"message,omitempty"`
	ContentBlock *anthropicBlock       `json:"content_block,omitempty"`
	Delta        *anthropicEventDelta  `json:"delta,omitempty"`
	Usage        *anthropicUsage       `json:"usage,omitempty"`
	Error        *anthropicStreamError `json:"error,omitempty"`
}

// anthropicEventDelta is the delta of content_block_delta (Type is
// text_delta or input_json_delta) and of message_delta (StopReason set).
type anthropicEventDelta struct {
	Type        string `json:"type,omitempty"`
	Text        string `json:"text,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
	StopReason  string `json:"stop_reason,omitempty"`
}

type anthropicStreamError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// anthropicDecoder holds what Anthropic spreads over several events.
type anthropicDecoder struct {
	id          string
	model       string
	created     int64
	inputTokens int

	// tool_use content block index -> tool call index in the deltas.
	tools map[int]int
}

func newAnthropicDecoder(model string) chunkDecoder {
	d := &anthropicDecoder{
		model:   model,
		created: time.Now().Unix(),
		tools:   make(map[int]int),
	}
	return d.decode
}

func (d *anthropicDecoder) chunk(delta Delta, finish *string) *StreamChunk {
	return &StreamChunk{
		ID:      d.id,
		Object:  "chat.completion.chunk",
		Model:   d.model,
		Created: d.created,
		Choices: []StreamChoice{{Index: 0, Delta: delta, FinishReason: finish}},
	}
}

func (d *anthropicDecoder) decode(data []byte) (*StreamChunk, bool, error) {
	var ev anthropicStreamEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, false, &MalformedChunkError{Data: string(data), Err: err}
	}

	switch ev.Type {
	case "message_start":
		if ev.Message != nil {
			d.id = ev.Message.ID
			if ev.Message.Model != "" {
				d.model = ev.Message.Model
			}
			d.inputTokens = ev.Message.Usage.InputTokens
		}
		return d.chunk(Delta{Role: RoleAssistant}, nil), false, nil

	case "content_block_start":
		if ev.ContentBlock == nil || ev.ContentBlock.Type != "tool_use" {
			return nil, false, nil
		}
		n := len(d.tools)
		d.tools[ev.Index] = n
		return d.chunk(Delta{ToolCalls: []ToolCallDelta{{
			Index:    n,
			ID:       ev.ContentBlock.ID,
			Type:     "function",
			Function: &FunctionFragment{Name: ev.ContentBlock.Name},
		}}}, nil), false, nil

	case "content_block_delta":
		if ev.Delta == nil {
			return nil, false, nil
		}
		switch ev.Delta.Type {
		case "text_delta":
			return d.chunk(Delta{Content: ev.Delta.Text}, nil), false, nil
		case "input_json_delta":
			n, ok := d.tools[ev.Index]
			if !ok {
				return nil, false, nil
			}
			return d.chunk(Delta{ToolCalls: []ToolCallDelta{{
				Index:    n,
				Function: &FunctionFragment{Arguments: ev.Delta.PartialJSON},
			}}}, nil), false, nil
		}
		return nil, false, nil

	case "message_delta":
		var finish *string
		if ev.Delta != nil && ev.Delta.StopReason != "" {
			reason := anthropicFinish(ev.Delta.StopReason)
			finish = &reason
		}
		c := d.chunk(Delta{}, finish)
		if ev.Usage != nil {
			c.Usage = &Usage{
				PromptTokens:     d.inputTokens,
				CompletionTokens: ev.Usage.OutputTokens,
				TotalTokens:      d.inputTokens + ev.Usage.OutputTokens,
			}
		}
		return c, false, nil

	case "message_stop":
		return nil, true, nil

	case "error":
		apiErr := &APIError{Provider: Anthropic, Message: "stream error"}
		if ev.Error != nil {
			apiErr.Type = ev.Error.Type
			apiErr.Message = ev.Error.Message
		}
		return nil, false, apiErr
	}

	// ping, content_block_stop and future event types carry nothing for us.
	return nil, false, nil
}

func anthropicStream() *streamAdapter {
	return &streamAdapter{
		endpoint:  fixed("/messages"),
		translate: translateAnthropicChat,
		decoder:   newAnthropicDecoder,
	}
}
