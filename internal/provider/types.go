package provider

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ---------------------------------------------------------------------------
// Canonical chat request
// ---------------------------------------------------------------------------

// Role is the author of a message in a conversation.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleFunction  Role = "function"
	RoleTool      Role = "tool"
)

// ChatRequest is the vendor-neutral chat completion request. Its JSON form
// is the OpenAI chat completions body, which is also what the HTTP API
// accepts, so the server can decode straight into it.
//
// The optional numeric fields are pointers so "not set" and "set to zero"
// stay distinguishable (temperature 0 is a legitimate value).
type ChatRequest struct {
	Model          string          `json:"model,omitempty"`
	Messages       []Message       `json:"messages"`
	Temperature    *float64        `json:"temperature,omitempty"`
	TopP           *float64        `json:"top_p,omitempty"`
	MaxTokens      *int            `json:"max_tokens,omitempty"`
	Stream         bool            `json:"stream,omitempty"`
	Tools          []Tool          `json:"tools,omitempty"`
	ToolChoice     *ToolChoice     `json:"tool_choice,omitempty"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
}

// Message is one turn of the conversation.
type Message struct {
	Role         Role          `json:"role"`
	Content      Content       `json:"content"`
	Name         string        `json:"name,omitempty"`
	FunctionCall *FunctionCall `json:"function_call,omitempty"`
	ToolCalls    []ToolCall    `json:"tool_calls,omitempty"`

	// ToolCallID is only meaningful on a RoleTool message and must reference
	// a ToolCall.ID emitted earlier by the assistant.
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// Content is either plain text or an ordered list of typed parts. On the
// wire it is a JSON string in the first case and a JSON array in the second.
type Content struct {
	Text  string
	Parts []ContentPart
}

// TextContent builds plain-text content.
func TextContent(text string) Content {
	return Content{Text: text}
}

// PartsContent builds structured content from the given parts.
func PartsContent(parts ...ContentPart) Content {
	if parts == nil {
		parts = []ContentPart{}
	}
	return Content{Parts: parts}
}

// IsParts reports whether the content is the structured (array) form.
func (c Content) IsParts() bool {
	return c.Parts != nil
}

// String flattens the content to text, joining the text parts.
func (c Content) String() string {
	if !c.IsParts() {
		return c.Text
	}
	var buf bytes.Buffer
	for _, p := range c.Parts {
		if p.Type == PartText {
			buf.WriteString(p.Text)
		}
	}
	return buf.String()
}

func (c Content) MarshalJSON() ([]byte, error) {
	if c.IsParts() {
		return json.Marshal(c.Parts)
	}
	return json.Marshal(c.Text)
}

func (c *Content) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*c = Content{}
		return nil
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = Content{Text: s}
		return nil
	case data[0] == '[':
		var parts []ContentPart
		if err := json.Unmarshal(data, &parts); err != nil {
			return err
		}
		*c = PartsContent(parts...)
		return nil
	default:
		return fmt.Errorf("message content must be a string or an array of parts")
	}
}

// PartType tags a ContentPart.
type PartType string

const (
	PartText     PartType = "text"
	PartImageURL PartType = "image_url"
)

// ContentPart is one element of structured message content.
type ContentPart struct {
	Type     PartType  `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// TextPart returns a text content part.
func TextPart(text string) ContentPart {
	return ContentPart{Type: PartText, Text: text}
}

// ImagePart returns an image reference part. detail may be empty.
func ImagePart(url, detail string) ContentPart {
	return ContentPart{Type: PartImageURL, ImageURL: &ImageURL{URL: url, Detail: detail}}
}

// ImageURL references an image by URL or data URI. Detail is one of
// "low", "high" or "auto".
type ImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

// FunctionCall is the legacy single function-call descriptor.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolCall is a tool invocation requested by the assistant.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"` // always "function"
	Function FunctionCall `json:"function"`
}

// Tool describes a function the model may call.
type Tool struct {
	Type     string       `json:"type"` // always "function"
	Function ToolFunction `json:"function"`
}

// ToolFunction is a named function with JSON-schema parameters.
type ToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// ToolChoice is "auto", "none", or a forced function. On the wire the first
// two are bare strings and the forced form is
// {"type":"function","function":{"name":...}}.
type ToolChoice struct {
	Mode     string // "auto" or "none"; ignored when Function is set
	Function string
}

var (
	ToolChoiceAuto = &ToolChoice{Mode: "auto"}
	ToolChoiceNone = &ToolChoice{Mode: "none"}
)

// ForceFunction returns a tool choice that forces the named function.
func ForceFunction(name string) *ToolChoice {
	return &ToolChoice{Function: name}
}

type forcedToolChoice struct {
	Type     string `json:"type"`
	Function struct {
		Name string `json:"name"`
	} `json:"function"`
}

func (t ToolChoice) MarshalJSON() ([]byte, error) {
	if t.Function != "" {
		var f forcedToolChoice
		f.Type = "function"
		f.Function.Name = t.Function
		return json.Marshal(f)
	}
	return json.Marshal(t.Mode)
}

func (t *ToolChoice) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var mode string
		if err := json.Unmarshal(data, &mode); err != nil {
			return err
		}
		*t = ToolChoice{Mode: mode}
		return nil
	}
	var f forcedToolChoice
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("decoding tool_choice: %w", err)
	}
	*t = ToolChoice{Function: f.Function.Name}
	return nil
}

// ResponseFormat asks for "json_object" or "text" output.
type ResponseFormat struct {
	Type string `json:"type"`
}

// JSONObject is the response format that requests a JSON object reply.
var JSONObject = &ResponseFormat{Type: "json_object"}

// ---------------------------------------------------------------------------
// Canonical chat response
// ---------------------------------------------------------------------------

// Finish reasons in the canonical closed set. Vendor reasons that have no
// canonical equivalent are passed through by name.
const (
	FinishStop          = "stop"
	FinishLength        = "length"
	FinishToolCalls     = "tool_calls"
	FinishContentFilter = "content_filter"
)

// ChatResponse is the canonical non-streaming chat completion result.
type ChatResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object,omitempty"`
	Model   string   `json:"model"`
	Created int64    `json:"created"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

// Choice is one generated alternative.
type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// Usage holds token counts. After normalization TotalTokens always equals
// PromptTokens + CompletionTokens.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func (u Usage) normalized() Usage {
	u.TotalTokens = u.PromptTokens + u.CompletionTokens
	return u
}

// ---------------------------------------------------------------------------
// Canonical stream chunk
// ---------------------------------------------------------------------------

// StreamChunk is one incremental fragment of a streamed chat response.
type StreamChunk struct {
	ID      string         `json:"id"`
	Object  string         `json:"object,omitempty"`
	Model   string         `json:"model"`
	Created int64          `json:"created"`
	Choices []StreamChoice `json:"choices"`

	// Usage is only present on the chunk that carries it (usually the last).
	Usage *Usage `json:"usage,omitempty"`
}

// StreamChoice carries a partial delta. FinishReason is nil until the
// final chunk of that choice, which serializes as JSON null.
type StreamChoice struct {
	Index        int     `json:"index"`
	Delta        Delta   `json:"delta"`
	FinishReason *string `json:"finish_reason"`
}

// Delta is the incremental part of a streamed message.
type Delta struct {
	Role      Role            `json:"role,omitempty"`
	Content   string          `json:"content,omitempty"`
	ToolCalls []ToolCallDelta `json:"tool_calls,omitempty"`
}

// ToolCallDelta is a fragment of a tool call. ID, Type and Function.Name
// arrive on the first fragment for an Index; later fragments append to
// Function.Arguments.
type ToolCallDelta struct {
	Index    int               `json:"index"`
	ID       string            `json:"id,omitempty"`
	Type     string            `json:"type,omitempty"`
	Function *FunctionFragment `json:"function,omitempty"`
}

// FunctionFragment is the function part of a ToolCallDelta.
type FunctionFragment struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// ---------------------------------------------------------------------------
// Canonical image generation
// ---------------------------------------------------------------------------

// ImageSize is one of the supported "WxH" sizes.
type ImageSize string

const (
	Size256x256   ImageSize = "256x256"
	Size512x512   ImageSize = "512x512"
	Size1024x1024 ImageSize = "1024x1024"
	Size1792x1024 ImageSize = "1792x1024"
	Size1024x1792 ImageSize = "1024x1792"
)

// Valid reports whether s is one of the enumerated sizes.
func (s ImageSize) Valid() bool {
	switch s {
	case Size256x256, Size512x512, Size1024x1024, Size1792x1024, Size1024x1792:
		return true
	}
	return false
}

// Image response formats.
const (
	ImageFormatURL    = "url"
	ImageFormatBase64 = "b64_json"
)

// ImageRequest is the canonical image generation request.
type ImageRequest struct {
	Prompt         string    `json:"prompt"`
	Model          string    `json:"model,omitempty"`
	N              int       `json:"n,omitempty"`
	Size           ImageSize `json:"size,omitempty"`
	Quality        string    `json:"quality,omitempty"` // "standard" or "hd"
	Style          string    `json:"style,omitempty"`   // "vivid" or "natural"
	ResponseFormat string    `json:"response_format,omitempty"`
}

// ImageResponse is the canonical image generation result.
type ImageResponse struct {
	Created int64         `json:"created"`
	Data    []ImageResult `json:"data"`
}

// ImageResult is one generated image. Error is set instead of URL/B64JSON
// when the vendor reports that this particular image failed.
type ImageResult struct {
	URL           string `json:"url,omitempty"`
	B64JSON       string `json:"b64_json,omitempty"`
	RevisedPrompt string `json:"revised_prompt,omitempty"`
	Error         string `json:"error,omitempty"`
}

// ---------------------------------------------------------------------------
// Canonical embeddings
// ---------------------------------------------------------------------------

// EmbeddingRequest is the canonical embedding request.
type EmbeddingRequest struct {
	Model          string         `json:"model,omitempty"`
	Input          EmbeddingInput `json:"input"`
	EncodingFormat string         `json:"encoding_format,omitempty"` // "float" or "base64"
	Dimensions     *int           `json:"dimensions,omitempty"`
	User           string         `json:"user,omitempty"`
}

// EmbeddingInput is one or more strings. It decodes from either a JSON
// string or an array of strings and always encodes as an array.
type EmbeddingInput []string

func (in *EmbeddingInput) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*in = EmbeddingInput{s}
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("embedding input must be a string or an array of strings: %w", err)
	}
	*in = list
	return nil
}

// EmbeddingResponse is the canonical embedding result.
type EmbeddingResponse struct {
	Object string         `json:"object"`
	Data   []Embedding    `json:"data"`
	Model  string         `json:"model"`
	Usage  EmbeddingUsage `json:"usage"`
}

// Embedding is one vector, positioned by Index in the request input. When
// the request asked for "base64" encoding the vendor returns the packed
// vector as a string, which lands in Base64 instead of Embedding.
type Embedding struct {
	Object    string    `json:"object"`
	Embedding []float64 `json:"embedding,omitempty"`
	Base64    string    `json:"-"`
	Index     int       `json:"index"`
}

func (e Embedding) MarshalJSON() ([]byte, error) {
	type plain Embedding
	if e.Base64 != "" {
		return json.Marshal(struct {
			Object    string `json:"object"`
			Embedding string `json:"embedding"`
			Index     int    `json:"index"`
		}{e.Object, e.Base64, e.Index})
	}
	return json.Marshal(plain(e))
}

func (e *Embedding) UnmarshalJSON(data []byte) error {
	var raw struct {
		Object    string          `json:"object"`
		Embedding json.RawMessage `json:"embedding"`
		Index     int             `json:"index"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*e = Embedding{Object: raw.Object, Index: raw.Index}
	vec := bytes.TrimSpace(raw.Embedding)
	if len(vec) > 0 && vec[0] == '"' {
		return json.Unmarshal(vec, &e.Base64)
	}
	if len(vec) == 0 || bytes.Equal(vec, []byte("null")) {
		return nil
	}
	return json.Unmarshal(vec, &e.Embedding)
}

// EmbeddingUsage is the token accounting for an embedding call.
type EmbeddingUsage struct {
	PromptTokens int `json:"prompt_tokens"`
	TotalTokens  int `json:"total_tokens"`
}
