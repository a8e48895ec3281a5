// Package provider is the provider-agnostic AI gateway.
//
// Callers build canonical requests (ChatRequest, ImageRequest,
// EmbeddingRequest) and get canonical responses back. Underneath, a Client
// is bound to exactly one vendor and uses that vendor's adapter to pick the
// endpoint, translate the request into the vendor's JSON payload, and
// normalize the vendor's response (or streamed chunks) back into the
// canonical shape.
//
// The per-vendor knowledge lives in one table (registry) rather than in a
// switch at every call site: adding a provider means adding one entry and
// the functions it points at.
package provider

import (
	"net/http"
	"slices"
)

// ID identifies a vendor integration.
type ID string

const (
	OpenAI    ID = "openai"
	Anthropic ID = "anthropic"
	Meta      ID = "meta"
	Mistral   ID = "mistral"
	Google    ID = "google"
	Stability ID = "stability"
	Local     ID = "local"
)

// Operation is a gateway capability.
type Operation string

const (
	OpChat       Operation = "chat"
	OpChatStream Operation = "chat_stream"
	OpImage      Operation = "image"
	OpEmbedding  Operation = "embedding"
)

// ---------------------------------------------------------------------------
// Adapter table
// ---------------------------------------------------------------------------

// vendor is the immutable configuration of one provider. A nil adapter means
// the provider does not support that operation.
type vendor struct {
	id             ID
	baseURL        string
	defaultModel   string
	imageModel     string // default model for image generation, if different
	embeddingModel string // default model for embeddings, if different
	auth           func(h http.Header, apiKey string)

	chat      *chatAdapter
	stream    *streamAdapter
	image     *imageAdapter
	embedding *embeddingAdapter
}

// chatAdapter translates and normalizes non-streaming chat.
type chatAdapter struct {
	endpoint  func(model string) string
	translate func(req *ChatRequest, model string) (any, error)
	normalize func(body []byte, model string) (*ChatResponse, error)
}

// streamAdapter shares the chat translation but has its own endpoint and a
// stateful per-stream chunk decoder.
type streamAdapter struct {
	endpoint  func(model string) string
	translate func(req *ChatRequest, model string) (any, error)
	decoder   func(model string) chunkDecoder
}

// chunkDecoder turns one "data: " payload into a canonical chunk. A nil
// chunk means the event carried nothing to deliver. terminal reports that
// the provider has signalled the end of the stream.
type chunkDecoder func(data []byte) (chunk *StreamChunk, terminal bool, err error)

type imageAdapter struct {
	endpoint  func(model string) string
	translate func(req *ImageRequest, model string) (any, error)
	normalize func(body []byte) (*ImageResponse, error)
}

type embeddingAdapter struct {
	endpoint  func(model string) string
	translate func(req *EmbeddingRequest, model string) (any, error)
	normalize func(body []byte) (*EmbeddingResponse, error)
}

func fixed(path string) func(string) string {
	return func(string) string { return path }
}

func bearerAuth(h http.Header, apiKey string) {
	h.Set("Authorization", "Bearer "+apiKey)
}

func noAuth(http.Header, string) {}

// registry is read-only after package initialization.
var registry = map[ID]*vendor{
	OpenAI: {
		id:             OpenAI,
		baseURL:        "https://api.openai.com/v1",
		defaultModel:   "gpt-4o",
		imageModel:     "dall-e-3",
		embeddingModel: "text-embedding-3-small",
		auth:           bearerAuth,
		chat:           openAIChat("/chat/completions", openAIFields),
		stream:         openAIStream("/chat/completions", openAIFields),
		image:          openAIImages("/images/generations"),
		embedding:      openAIEmbeddings("/embeddings", embedDimensions|embedUser),
	},
	Anthropic: {
		id:           Anthropic,
		baseURL:      "https://api.anthropic.com/v1",
		defaultModel: "claude-3-opus-20240229",
		auth:         anthropicAuth,
		chat:         anthropicChat(),
		stream:       anthropicStream(),
	},
	Mistral: {
		id:             Mistral,
		baseURL:        "https://api.mistral.ai/v1",
		defaultModel:   "mistral-large-latest",
		embeddingModel: "mistral-embed",
		auth:           bearerAuth,
		chat:           openAIChat("/chat/completions", mistralFields),
		stream:         openAIStream("/chat/completions", mistralFields),
		embedding:      openAIEmbeddings("/embeddings", 0),
	},
	Google: {
		id:           Google,
		baseURL:      "https://generativelanguage.googleapis.com/v1beta",
		defaultModel: "gemini-1.5-pro",
		auth:         googleAuth,
		chat:         googleChat(),
		stream:       googleStream(),
	},
	Meta: {
		id:           Meta,
		baseURL:      "https://llama-api.meta.com/v1",
		defaultModel: "meta/llama-3-70b-instruct",
		auth:         bearerAuth,
		chat:         openAIChat("/chat/completions", metaFields),
		stream:       openAIStream("/chat/completions", metaFields),
	},
	Stability: {
		id:           Stability,
		baseURL:      "https://api.stability.ai/v1",
		defaultModel: "stable-diffusion-xl",
		auth:         bearerAuth,
		image:        stabilityImages(),
	},
	Local: {
		id:           Local,
		baseURL:      "http://localhost:8000",
		defaultModel: "local-model",
		auth:         noAuth,
		chat:         openAIChat("/v1/chat/completions", localFields),
		stream:       openAIStream("/v1/chat/completions", localFields),
		embedding:    openAIEmbeddings("/v1/embeddings", embedDimensions),
	},
}

func lookup(id ID) (*vendor, error) {
	s, ok := registry[id]
	if !ok {
		return nil, &ConfigError{Provider: id, Err: ErrUnknownProvider}
	}
	return s, nil
}

// IDs returns every registered provider identity in a stable order.
func IDs() []ID {
	ids := make([]ID, 0, len(registry))
	for id := range registry {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Parse converts a string into a provider ID, failing for unknown names.
func Parse(name string) (ID, error) {
	id := ID(name)
	if _, err := lookup(id); err != nil {
		return "", err
	}
	return id, nil
}

// Info is the public, static description of a provider.
type Info struct {
	ID           ID
	BaseURL      string
	DefaultModel string
	Operations   []Operation
}

// Describe returns the registry entry for id.
func Describe(id ID) (Info, error) {
	s, err := lookup(id)
	if err != nil {
		return Info{}, err
	}
	return Info{
		ID:           s.id,
		BaseURL:      s.baseURL,
		DefaultModel: s.defaultModel,
		Operations:   s.operations(),
	}, nil
}

// supports reports whether the provider implements op.
func (s *vendor) supports(op Operation) bool {
	switch op {
	case OpChat:
		return s.chat != nil
	case OpChatStream:
		return s.stream != nil
	case OpImage:
		return s.image != nil
	case OpEmbedding:
		return s.embedding != nil
	}
	return false
}

func (s *vendor) operations() []Operation {
	var ops []Operation
	for _, op := range []Operation{OpChat, OpChatStream, OpImage, OpEmbedding} {
		if s.supports(op) {
			ops = append(ops, op)
		}
	}
	return ops
}
