package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	// maxSSELineSize bounds a single SSE line. bufio.Scanner's 64 KiB
	// default is too small for long tool-call arguments.
	maxSSELineSize = 1 << 20

	// maxErrorBodySize caps how much of a failed response is read.
	maxErrorBodySize = 64 << 10
)

// send POSTs payload as JSON and returns the response with an open body.
// Non-2xx responses are consumed, closed and turned into *APIError.
func (c *Client) send(ctx context.Context, endpoint string, payload any, accept string) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", accept)
	c.vendor.auth(httpReq.Header, c.apiKey)

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, c.transportError(ctx, err)
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		defer httpResp.Body.Close()
		return nil, readAPIError(c.vendor.id, httpResp)
	}
	return httpResp, nil
}

// doJSON performs a non-streaming call and returns the raw response body.
func (c *Client) doJSON(ctx context.Context, endpoint string, payload any) ([]byte, error) {
	httpResp, err := c.send(ctx, endpoint, payload, "application/json")
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, c.transportError(ctx, err)
	}
	return body, nil
}

// transportError classifies a network failure. A call that ran out of its
// timeout budget reports ErrTimeout rather than the raw deadline error.
func (c *Client) transportError(ctx context.Context, err error) error {
	if errors.Is(context.Cause(ctx), ErrTimeout) {
		err = ErrTimeout
	} else if ctxErr := ctx.Err(); ctxErr != nil {
		err = ctxErr
	}
	return &TransportError{Provider: c.vendor.id, Err: err}
}

// ---------------------------------------------------------------------------
// Vendor error envelopes
// ---------------------------------------------------------------------------

// openAIErrorBody is the object under "error" for OpenAI, Mistral and
// Anthropic, and (with status instead of type) for Google.
type openAIErrorBody struct {
	Message string          `json:"message"`
	Type    string          `json:"type"`
	Status  string          `json:"status"`
	Code    json.RawMessage `json:"code"`
}

func (b *openAIErrorBody) apiError(id ID, status int) *APIError {
	typ := b.Type
	if typ == "" {
		typ = b.Status
	}
	return &APIError{
		Provider:   id,
		StatusCode: status,
		Type:       typ,
		Code:       rawCode(b.Code),
		Message:    b.Message,
	}
}

// rawCode renders a code that some vendors send as a string and others as
// a number.
func rawCode(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// readAPIError builds an *APIError from a non-2xx response. It never fails:
// if the body is unreadable or not a known envelope, the message is the
// HTTP status text.
func readAPIError(id ID, resp *http.Response) *APIError {
	fallback := &APIError{
		Provider:   id,
		StatusCode: resp.StatusCode,
		Message:    http.StatusText(resp.StatusCode),
	}
	if fallback.Message == "" {
		fallback.Message = fmt.Sprintf("HTTP status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	if err != nil {
		return fallback
	}

	var env struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"` // Stability, some Mistral errors
		Name    string          `json:"name"`    // Stability
		Detail  string          `json:"detail"`  // FastAPI-style local servers
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return fallback
	}

	raw := bytes.TrimSpace(env.Error)
	switch {
	case len(raw) > 0 && raw[0] == '{':
		var detail openAIErrorBody
		if json.Unmarshal(raw, &detail) == nil && detail.Message != "" {
			return detail.apiError(id, resp.StatusCode)
		}
	case len(raw) > 0 && raw[0] == '"':
		var msg string
		if json.Unmarshal(raw, &msg) == nil && msg != "" {
			fallback.Message = msg
			return fallback
		}
	}
	switch {
	case env.Message != "":
		fallback.Message = env.Message
		fallback.Type = env.Name
	case env.Detail != "":
		fallback.Message = env.Detail
	}
	return fallback
}

// ---------------------------------------------------------------------------
// Server-sent events
// ---------------------------------------------------------------------------

// errDone is returned by sseReader.Next for the OpenAI [DONE] sentinel. A
// plain io.EOF means the body ended without it.
var errDone = errors.New("sse: done")

// sseReader yields the payload of each data line. Vendors frame chunks
// with or without the blank line between events, so every data line is a
// chunk of its own. Comment lines and other fields (event:, id:, retry:)
// are skipped.
type sseReader struct {
	scanner *bufio.Scanner
}

func newSSEReader(r io.Reader) *sseReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxSSELineSize)
	return &sseReader{scanner: scanner}
}

func (s *sseReader) Next() (string, error) {
	for s.scanner.Scan() {
		data, ok := strings.CutPrefix(s.scanner.Text(), "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "" {
			continue
		}
		if data == "[DONE]" {
			return "", errDone
		}
		return data, nil
	}
	if err := s.scanner.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}
