package provider

import (
	"context"
	"errors"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// Client calls one vendor. It is immutable after New and safe for
// concurrent use; every call is independent.
type Client struct {
	vendor       *vendor
	apiKey       string
	baseURL      string
	defaultModel string
	http         *http.Client
	logger       *slog.Logger
	timeout      time.Duration
	observer     Observer
}

// Option configures a Client.
type Option func(*Client)

// WithDefaultModel overrides the model used when a request leaves Model
// empty.
func WithDefaultModel(model string) Option {
	return func(c *Client) { c.defaultModel = model }
}

// WithBaseURL points the client at a different host, e.g. a self-hosted
// gateway or a test server.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(baseURL, "/") }
}

// WithHTTPClient replaces the pooled HTTP client from NewHTTPClient.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the logger used for stream diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithTimeout sets the default per-call timeout. Zero means no timeout
// beyond the caller's context.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithObserver registers a hook that sees every completed call.
func WithObserver(o Observer) Option {
	return func(c *Client) { c.observer = o }
}

// New returns a client bound to provider id. An identity outside the
// registry fails with a *ConfigError wrapping ErrUnknownProvider.
func New(id ID, apiKey string, opts ...Option) (*Client, error) {
	s, err := lookup(id)
	if err != nil {
		return nil, err
	}
	c := &Client{
		vendor:       s,
		apiKey:       apiKey,
		baseURL:      s.baseURL,
		defaultModel: s.defaultModel,
		logger:       slog.Default(),
		observer:     nopObserver{},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = NewHTTPClient()
	}
	return c, nil
}

// Provider returns the vendor this client is bound to.
func (c *Client) Provider() ID { return c.vendor.id }

// Supports reports whether the bound vendor implements op.
func (c *Client) Supports(op Operation) bool { return c.vendor.supports(op) }

// ---------------------------------------------------------------------------
// Per-call options
// ---------------------------------------------------------------------------

// CallOption adjusts a single call.
type CallOption func(*callConfig)

type callConfig struct {
	timeout time.Duration
}

// WithCallTimeout overrides the client's default timeout for one call. For
// streams the budget covers the whole stream, not just the first byte.
func WithCallTimeout(d time.Duration) CallOption {
	return func(cfg *callConfig) { cfg.timeout = d }
}

// callContext derives the context for one call. Expiry is recorded as
// ErrTimeout so it can be told apart from the caller cancelling.
func (c *Client) callContext(ctx context.Context, opts []CallOption) (context.Context, context.CancelFunc) {
	cfg := callConfig{timeout: c.timeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeoutCause(ctx, cfg.timeout, ErrTimeout)
}

// ---------------------------------------------------------------------------
// Model resolution
// ---------------------------------------------------------------------------

// Image and embedding calls prefer the vendor's dedicated default model;
// the client default only applies to vendors without one (stability).

func (c *Client) chatModel(requested string) string {
	return modelOr(requested, c.defaultModel)
}

func (c *Client) imageModel(requested string) string {
	return modelOr(requested, c.vendor.imageModel, c.defaultModel)
}

func (c *Client) embeddingModel(requested string) string {
	return modelOr(requested, c.vendor.embeddingModel, c.defaultModel)
}

// ---------------------------------------------------------------------------
// Non-streaming operations
// ---------------------------------------------------------------------------

// ChatCompletion sends a chat request and returns the complete response.
// req.Stream is ignored; use ChatCompletionStream for streaming.
func (c *Client) ChatCompletion(ctx context.Context, req *ChatRequest, opts ...CallOption) (resp *ChatResponse, err error) {
	call := c.begin(OpChat)
	defer func() { call.end(err) }()

	if c.vendor.chat == nil {
		return nil, unsupported(c.vendor.id, OpChat)
	}
	if err := validateChat(req); err != nil {
		return nil, err
	}
	call.model = c.chatModel(req.Model)

	r := *req
	r.Stream = false
	payload, err := c.vendor.chat.translate(&r, call.model)
	if err != nil {
		return nil, err
	}

	ctx, cancel := c.callContext(ctx, opts)
	defer cancel()
	body, err := c.doJSON(ctx, c.vendor.chat.endpoint(call.model), payload)
	if err != nil {
		return nil, err
	}
	resp, err = c.vendor.chat.normalize(body, call.model)
	if err != nil {
		return nil, err
	}
	call.usage = &resp.Usage
	return resp, nil
}

// GenerateImage creates images from a text prompt.
func (c *Client) GenerateImage(ctx context.Context, req *ImageRequest, opts ...CallOption) (resp *ImageResponse, err error) {
	call := c.begin(OpImage)
	defer func() { call.end(err) }()

	if c.vendor.image == nil {
		return nil, unsupported(c.vendor.id, OpImage)
	}
	if err := validateImage(req); err != nil {
		return nil, err
	}
	call.model = c.imageModel(req.Model)

	payload, err := c.vendor.image.translate(req, call.model)
	if err != nil {
		return nil, err
	}

	ctx, cancel := c.callContext(ctx, opts)
	defer cancel()
	body, err := c.doJSON(ctx, c.vendor.image.endpoint(call.model), payload)
	if err != nil {
		return nil, err
	}
	return c.vendor.image.normalize(body)
}

// CreateEmbedding returns one vector per input string.
func (c *Client) CreateEmbedding(ctx context.Context, req *EmbeddingRequest, opts ...CallOption) (resp *EmbeddingResponse, err error) {
	call := c.begin(OpEmbedding)
	defer func() { call.end(err) }()

	if c.vendor.embedding == nil {
		return nil, unsupported(c.vendor.id, OpEmbedding)
	}
	if err := validateEmbedding(req); err != nil {
		return nil, err
	}
	call.model = c.embeddingModel(req.Model)

	payload, err := c.vendor.embedding.translate(req, call.model)
	if err != nil {
		return nil, err
	}

	ctx, cancel := c.callContext(ctx, opts)
	defer cancel()
	body, err := c.doJSON(ctx, c.vendor.embedding.endpoint(call.model), payload)
	if err != nil {
		return nil, err
	}
	resp, err = c.vendor.embedding.normalize(body)
	if err != nil {
		return nil, err
	}
	call.usage = &Usage{PromptTokens: resp.Usage.PromptTokens, TotalTokens: resp.Usage.TotalTokens}
	return resp, nil
}

// ---------------------------------------------------------------------------
// Streaming
// ---------------------------------------------------------------------------

// ChatCompletionStream returns the streamed response as a sequence of
// canonical chunks. Nothing is sent until the caller starts ranging. A
// failure is delivered as the final (zero chunk, error) pair. Breaking out
// of the loop closes the connection. The sequence can be ranged over once.
//
//	for chunk, err := range client.ChatCompletionStream(ctx, req) {
//		if err != nil {
//			return err
//		}
//		fmt.Print(chunk.Choices[0].Delta.Content)
//	}
func (c *Client) ChatCompletionStream(ctx context.Context, req *ChatRequest, opts ...CallOption) iter.Seq2[StreamChunk, error] {
	var used atomic.Bool
	return func(yield func(StreamChunk, error) bool) {
		if used.Swap(true) {
			yield(StreamChunk{}, errors.New("stream already consumed"))
			return
		}
		err := c.stream(ctx, req, opts, func(chunk StreamChunk) bool {
			return yield(chunk, nil)
		})
		if err != nil {
			yield(StreamChunk{}, err)
		}
	}
}

// StreamChat streams a chat response into fn, one chunk at a time. A
// non-nil error from fn stops the stream and is returned as is.
func (c *Client) StreamChat(ctx context.Context, req *ChatRequest, fn func(StreamChunk) error, opts ...CallOption) error {
	var fnErr error
	err := c.stream(ctx, req, opts, func(chunk StreamChunk) bool {
		fnErr = fn(chunk)
		return fnErr == nil
	})
	if fnErr != nil {
		return fnErr
	}
	return err
}

// stream drives one streaming call. It returns nil when the vendor signals
// completion or emit asks to stop.
func (c *Client) stream(ctx context.Context, req *ChatRequest, opts []CallOption, emit func(StreamChunk) bool) (err error) {
	call := c.begin(OpChatStream)
	defer func() { call.end(err) }()

	if c.vendor.stream == nil {
		return unsupported(c.vendor.id, OpChatStream)
	}
	if err := validateChat(req); err != nil {
		return err
	}
	call.model = c.chatModel(req.Model)

	r := *req
	r.Stream = true
	payload, err := c.vendor.stream.translate(&r, call.model)
	if err != nil {
		return err
	}

	ctx, cancel := c.callContext(ctx, opts)
	defer cancel()
	httpResp, err := c.send(ctx, c.vendor.stream.endpoint(call.model), payload, "text/event-stream")
	if err != nil {
		return err
	}
	defer httpResp.Body.Close()

	decode := c.vendor.stream.decoder(call.model)
	events := newSSEReader(httpResp.Body)
	for {
		data, err := events.Next()
		switch {
		case errors.Is(err, errDone):
			return nil
		case errors.Is(err, io.EOF):
			return &TransportError{Provider: c.vendor.id, Err: ErrStreamTruncated}
		case err != nil:
			return c.transportError(ctx, err)
		}

		chunk, terminal, err := decode([]byte(data))
		if err != nil {
			var malformed *MalformedChunkError
			if errors.As(err, &malformed) {
				c.logger.Warn("skipping malformed stream chunk",
					"provider", c.vendor.id,
					"model", call.model,
					"error", err,
				)
				continue
			}
			var apiErr *APIError
			if errors.As(err, &apiErr) && apiErr.Provider == "" {
				apiErr.Provider = c.vendor.id
			}
			return err
		}

		if chunk != nil {
			if ctx.Err() != nil {
				return c.transportError(ctx, ctx.Err())
			}
			call.chunks++
			if chunk.Usage != nil {
				call.usage = chunk.Usage
			}
			if !emit(*chunk) {
				return nil
			}
		}
		if terminal {
			return nil
		}
	}
}
