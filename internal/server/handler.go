package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/howard-nolan/cardforge/internal/provider"
	"github.com/howard-nolan/cardforge/internal/stream"
)

// handleHealth is a liveness probe that also lists the configured vendors.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"providers": s.configured(),
	})
}

func (s *Server) configured() []provider.ID {
	ids := []provider.ID{}
	for _, id := range provider.IDs() {
		if _, ok := s.deps.Providers[id]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}

type providerInfo struct {
	ID           provider.ID          `json:"id"`
	Default      bool                 `json:"default,omitempty"`
	DefaultModel string               `json:"default_model"`
	Operations   []provider.Operation `json:"operations"`
}

// handleListProviders handles GET /v1/providers.
func (s *Server) handleListProviders(w http.ResponseWriter, r *http.Request) {
	out := []providerInfo{}
	for _, id := range s.configured() {
		info, err := provider.Describe(id)
		if err != nil {
			continue
		}
		out = append(out, providerInfo{
			ID:           id,
			Default:      id == s.deps.DefaultProvider,
			DefaultModel: info.DefaultModel,
			Operations:   info.Operations,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"object": "list", "data": out})
}

// client picks the vendor for this request: the {provider} URL parameter
// if the route has one, otherwise the default provider.
func (s *Server) client(r *http.Request) (*provider.Client, error) {
	name := chi.URLParam(r, "provider")
	if name == "" {
		name = string(s.deps.DefaultProvider)
	}
	id, err := provider.Parse(name)
	if err != nil {
		return nil, err
	}
	c, ok := s.deps.Providers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s is not configured", provider.ErrUnknownProvider, id)
	}
	return c, nil
}

// handleChatCompletions handles POST /v1/chat/completions. The body is the
// OpenAI request shape; "stream": true switches the response to SSE.
func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req provider.ChatRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	c, err := s.client(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if req.Stream {
		// server.write_timeout bounds plain responses only. A stream lasts
		// as long as the vendor keeps sending.
		if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil {
			s.log.Debug("stream keeps the server write deadline", "error", err)
		}
		// r.Context() is cancelled when the client disconnects, which stops
		// the upstream read too.
		stats, err := stream.Write(w, c.ChatCompletionStream(r.Context(), &req))
		if err != nil {
			if !stats.Started {
				s.writeError(w, r, err)
				return
			}
			s.log.Warn("stream ended with error",
				"provider", c.Provider(), "chunks", stats.Chunks, "error", err)
		}
		return
	}

	resp, err := c.ChatCompletion(r.Context(), &req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if resp.Object == "" {
		resp.Object = "chat.completion"
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleImageGenerations handles POST /v1/images/generations.
func (s *Server) handleImageGenerations(w http.ResponseWriter, r *http.Request) {
	var req provider.ImageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	c, err := s.client(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp, err := c.GenerateImage(r.Context(), &req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleEmbeddings handles POST /v1/embeddings.
func (s *Server) handleEmbeddings(w http.ResponseWriter, r *http.Request) {
	var req provider.EmbeddingRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	c, err := s.client(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp, err := c.CreateEmbedding(r.Context(), &req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
