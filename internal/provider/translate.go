package provider

// The functions in this file expose the adapter table without a Client:
// no validation, no I/O. Model resolution uses the registry defaults.

// TranslateChat returns the payload provider id expects for req.
func TranslateChat(id ID, req *ChatRequest) (any, error) {
	s, err := lookup(id)
	if err != nil {
		return nil, err
	}
	if s.chat == nil {
		return nil, unsupported(id, OpChat)
	}
	return s.chat.translate(req, modelOr(req.Model, "", s.defaultModel))
}

// TranslateImage returns the image generation payload for provider id.
func TranslateImage(id ID, req *ImageRequest) (any, error) {
	s, err := lookup(id)
	if err != nil {
		return nil, err
	}
	if s.image == nil {
		return nil, unsupported(id, OpImage)
	}
	return s.image.translate(req, modelOr(req.Model, s.imageModel, s.defaultModel))
}

// TranslateEmbedding returns the embedding payload for provider id.
func TranslateEmbedding(id ID, req *EmbeddingRequest) (any, error) {
	s, err := lookup(id)
	if err != nil {
		return nil, err
	}
	if s.embedding == nil {
		return nil, unsupported(id, OpEmbedding)
	}
	return s.embedding.translate(req, modelOr(req.Model, s.embeddingModel, s.defaultModel))
}

// NormalizeChatResponse converts a vendor chat response body into the
// canonical shape. model fills in when the vendor omits it.
func NormalizeChatResponse(id ID, body []byte, model string) (*ChatResponse, error) {
	s, err := lookup(id)
	if err != nil {
		return nil, err
	}
	if s.chat == nil {
		return nil, unsupported(id, OpChat)
	}
	return s.chat.normalize(body, modelOr(model, "", s.defaultModel))
}

// NormalizeImageResponse converts a vendor image response body.
func NormalizeImageResponse(id ID, body []byte) (*ImageResponse, error) {
	s, err := lookup(id)
	if err != nil {
		return nil, err
	}
	if s.image == nil {
		return nil, unsupported(id, OpImage)
	}
	return s.image.normalize(body)
}

// NormalizeEmbeddingResponse converts a vendor embedding response body.
func NormalizeEmbeddingResponse(id ID, body []byte) (*EmbeddingResponse, error) {
	s, err := lookup(id)
	if err != nil {
		return nil, err
	}
	if s.embedding == nil {
		return nil, unsupported(id, OpEmbedding)
	}
	return s.embedding.normalize(body)
}

// ChunkDecoder converts the data payloads of one stream, in order, into
// canonical chunks. It is stateful and must not be shared between streams.
type ChunkDecoder struct {
	decode chunkDecoder
}

// NewChunkDecoder returns a decoder for one stream from provider id.
func NewChunkDecoder(id ID, model string) (*ChunkDecoder, error) {
	s, err := lookup(id)
	if err != nil {
		return nil, err
	}
	if s.stream == nil {
		return nil, unsupported(id, OpChatStream)
	}
	return &ChunkDecoder{decode: s.stream.decoder(modelOr(model, "", s.defaultModel))}, nil
}

// Decode converts one data payload. chunk is nil for events that carry
// nothing to deliver; terminal reports the vendor's end-of-stream signal.
// Invalid JSON yields a *MalformedChunkError.
func (d *ChunkDecoder) Decode(data []byte) (chunk *StreamChunk, terminal bool, err error) {
	return d.decode(data)
}

func modelOr(models ...string) string {
	for _, m := range models {
		if m != "" {
			return m
		}
	}
	return ""
}
