// Package stream relays canonical chat chunks to HTTP clients as
// OpenAI-compatible server-sent events.
package stream

import (
	"encoding/json"
	"fmt"
	"iter"
	"net/http"

	"github.com/howard-nolan/cardforge/internal/provider"
)

// ---------------------------------------------------------------------------
// Wire format
// ---------------------------------------------------------------------------

// Canonical chunks already have the chat.completion.chunk shape, so each
// one is marshalled as is:
//
//	data: {"id":"...","object":"chat.completion.chunk","choices":[{"delta":{"content":"Hi"}}]}
//
// A failure after the first event cannot change the status code any more.
// It is reported in-band as an error event and the [DONE] sentinel is
// withheld, which is how OpenAI clients detect a broken stream.

// sseError is the in-band error event.
type sseError struct {
	Error sseErrorBody `json:"error"`
}

type sseErrorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// Stats summarises what Write sent.
type Stats struct {
	// Started is true once the SSE headers went out. Before that, an error
	// can still be answered with a regular status code.
	Started bool
	Chunks  int
	Usage   *provider.Usage
}

// ---------------------------------------------------------------------------
// SSE writer
// ---------------------------------------------------------------------------

// Write ranges over chunks and writes each as an SSE event, flushing after
// every event so tokens reach the client as they arrive. Headers are only
// sent with the first chunk: an error from the first pull is returned with
// Stats.Started false and nothing written.
func Write(w http.ResponseWriter, chunks iter.Seq2[provider.StreamChunk, error]) (Stats, error) {
	var stats Stats

	// The concrete ResponseWriter from net/http implements Flusher; without
	// it events would sit in the buffer until the handler returns.
	flusher, ok := w.(http.Flusher)
	if !ok {
		return stats, fmt.Errorf("response writer does not support flushing (http.Flusher)")
	}

	start := func() {
		if stats.Started {
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		stats.Started = true
	}

	for chunk, err := range chunks {
		if err != nil {
			if stats.Started {
				writeEvent(w, sseError{Error: sseErrorBody{Message: err.Error(), Type: "stream_error"}})
				flusher.Flush()
			}
			return stats, err
		}

		start()
		if chunk.Object == "" {
			chunk.Object = "chat.completion.chunk"
		}
		if err := writeEvent(w, chunk); err != nil {
			return stats, err
		}
		flusher.Flush()

		stats.Chunks++
		if chunk.Usage != nil {
			stats.Usage = chunk.Usage
		}
	}

	start()
	if _, err := fmt.Fprint(w, "data: [DONE]\n\n"); err != nil {
		return stats, fmt.Errorf("writing SSE done marker: %w", err)
	}
	flusher.Flush()
	return stats, nil
}

// writeEvent writes v as one "data: {json}\n\n" event. The blank line ends
// the event.
func writeEvent(w http.ResponseWriter, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling SSE event: %w", err)
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
		return fmt.Errorf("writing SSE event: %w", err)
	}
	return nil
}
