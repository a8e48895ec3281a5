package provider

import (
	"encoding/json"
	"fmt"
)

// ---------------------------------------------------------------------------
// OpenAI-compatible adapters (openai, mistral, meta, local)
// ---------------------------------------------------------------------------

// These vendors speak the OpenAI wire format, which is also our canonical
// format, so translation is a field-for-field copy and normalization is a
// straight decode. The only per-vendor difference is which optional request
// fields the vendor accepts.

// chatFields selects the optional chat request fields a vendor accepts.
type chatFields uint8

const (
	fieldTools          chatFields = 1 << iota // tools and tool_choice
	fieldResponseFormat                        // response_format
)

var (
	openAIFields  = fieldTools | fieldResponseFormat
	mistralFields = fieldTools
	metaFields    chatFields
	localFields   = fieldTools
)

// openAIChatRequest is the chat completions body.
type openAIChatRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	Temperature    *float64        `json:"temperature,omitempty"`
	TopP           *float64        `json:"top_p,omitempty"`
	MaxTokens      *int            `json:"max_tokens,omitempty"`
	Stream         bool            `json:"stream,omitempty"`
	Tools          []Tool          `json:"tools,omitempty"`
	ToolChoice     *ToolChoice     `json:"tool_choice,omitempty"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
}

func translateOpenAIChat(fields chatFields) func(*ChatRequest, string) (any, error) {
	return func(req *ChatRequest, model string) (any, error) {
		out := &openAIChatRequest{
			Model:       model,
			Messages:    req.Messages,
			Temperature: req.Temperature,
			TopP:        req.TopP,
			MaxTokens:   req.MaxTokens,
			Stream:      req.Stream,
		}
		if fields&fieldTools != 0 {
			out.Tools = req.Tools
			out.ToolChoice = req.ToolChoice
		}
		if fields&fieldResponseFormat != 0 {
			out.ResponseFormat = req.ResponseFormat
		}
		return out, nil
	}
}

func normalizeOpenAIChat(body []byte, model string) (*ChatResponse, error) {
	var resp ChatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decoding chat response: %w", err)
	}
	if resp.Model == "" {
		resp.Model = model
	}
	resp.Usage = resp.Usage.normalized()
	return &resp, nil
}

func openAIChat(path string, fields chatFields) *chatAdapter {
	return &chatAdapter{
		endpoint:  fixed(path),
		translate: translateOpenAIChat(fields),
		normalize: normalizeOpenAIChat,
	}
}

// openAIStreamEvent lets a mid-stream {"error":{...}} object surface as a
// vendor error instead of an empty chunk.
type openAIStreamEvent struct {
	StreamChunk
	Error *openAIErrorBody `json:"error,omitempty"`
}

func decodeOpenAIChunk(data []byte) (*StreamChunk, bool, error) {
	var ev openAIStreamEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, false, &MalformedChunkError{Data: string(data), Err: err}
	}
	if ev.Error != nil && ev.Error.Message != "" {
		// Provider is filled in by the streaming driver.
		return nil, false, ev.Error.apiError("", 0)
	}
	chunk := ev.StreamChunk
	if chunk.Usage != nil {
		u := chunk.Usage.normalized()
		chunk.Usage = &u
	}
	return &chunk, false, nil
}

func openAIStream(path string, fields chatFields) *streamAdapter {
	return &streamAdapter{
		endpoint:  fixed(path),
		translate: translateOpenAIChat(fields),
		decoder:   func(string) chunkDecoder { return decodeOpenAIChunk },
	}
}

// ---------------------------------------------------------------------------
// Images
// ---------------------------------------------------------------------------

type openAIImageRequest struct {
	Model          string    `json:"model"`
	Prompt         string    `json:"prompt"`
	N              int       `json:"n"`
	Size           ImageSize `json:"size"`
	Quality        string    `json:"quality"`
	Style          string    `json:"style"`
	ResponseFormat string    `json:"response_format"`
}

func translateOpenAIImage(req *ImageRequest, model string) (any, error) {
	out := &openAIImageRequest{
		Model:          model,
		Prompt:         req.Prompt,
		N:              req.N,
		Size:           req.Size,
		Quality:        req.Quality,
		Style:          req.Style,
		ResponseFormat: req.ResponseFormat,
	}
	if out.N == 0 {
		out.N = 1
	}
	if out.Size == "" {
		out.Size = Size1024x1024
	}
	if out.Quality == "" {
		out.Quality = "standard"
	}
	if out.Style == "" {
		out.Style = "vivid"
	}
	if out.ResponseFormat == "" {
		out.ResponseFormat = ImageFormatURL
	}
	return out, nil
}

func normalizeOpenAIImage(body []byte) (*ImageResponse, error) {
	var resp ImageResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decoding image response: %w", err)
	}
	return &resp, nil
}

func openAIImages(path string) *imageAdapter {
	return &imageAdapter{
		endpoint:  fixed(path),
		translate: translateOpenAIImage,
		normalize: normalizeOpenAIImage,
	}
}

// ---------------------------------------------------------------------------
// Embeddings
// ---------------------------------------------------------------------------

// embedFields selects the optional embedding fields a vendor accepts.
type embedFields uint8

const (
	embedDimensions embedFields = 1 << iota
	embedUser
)

type openAIEmbeddingRequest struct {
	Model          string   `json:"model"`
	Input          []string `json:"input"`
	EncodingFormat string   `json:"encoding_format"`
	Dimensions     *int     `json:"dimensions,omitempty"`
	User           string   `json:"user,omitempty"`
}

func translateOpenAIEmbedding(fields embedFields) func(*EmbeddingRequest, string) (any, error) {
	return func(req *EmbeddingRequest, model string) (any, error) {
		out := &openAIEmbeddingRequest{
			Model:          model,
			Input:          req.Input,
			EncodingFormat: req.EncodingFormat,
		}
		if out.EncodingFormat == "" {
			out.EncodingFormat = "float"
		}
		if fields&embedDimensions != 0 {
			out.Dimensions = req.Dimensions
		}
		if fields&embedUser != 0 {
			out.User = req.User
		}
		return out, nil
	}
}

func normalizeOpenAIEmbedding(body []byte) (*EmbeddingResponse, error) {
	var resp EmbeddingResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decoding embedding response: %w", err)
	}
	return &resp, nil
}

func openAIEmbeddings(path string, fields embedFields) *embeddingAdapter {
	return &embeddingAdapter{
		endpoint:  fixed(path),
		translate: translateOpenAIEmbedding(fields),
		normalize: normalizeOpenAIEmbedding,
	}
}
