package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/howard-nolan/cardforge/internal/card"
	"github.com/howard-nolan/cardforge/internal/metrics"
	"github.com/howard-nolan/cardforge/internal/objectstore"
	"github.com/howard-nolan/cardforge/internal/provider"
	"github.com/howard-nolan/cardforge/internal/store"
)

const designJSON = `{"businesscard_name":"Ada Classic","style":{"backgroundColor":"#112233","textColor":"#ffffff","primaryColor":"#ff0000"}}`

var pngBytes = []byte("\x89PNG fake image")

// openAIVendor imitates the OpenAI API closely enough for the gateway.
func openAIVendor(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /chat/completions", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		if body["stream"] == true {
			w.Header().Set("Content-Type", "text/event-stream")
			for _, piece := range []string{"Hel", "lo"} {
				fmt.Fprintf(w, "data: {\"id\":\"chatcmpl-1\",\"object\":\"chat.completion.chunk\",\"model\":\"gpt-4o\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", piece)
			}
			io.WriteString(w, `data: {"id":"chatcmpl-1","object":"chat.completion.chunk","model":"gpt-4o","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`+"\n\n")
			io.WriteString(w, "data: [DONE]\n\n")
			return
		}

		content := "Hello!"
		if rf, ok := body["response_format"].(map[string]any); ok && rf["type"] == "json_object" {
			content = designJSON
		}
		reply, _ := json.Marshal(content)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"id":"chatcmpl-1","object":"chat.completion","created":1700000000,"model":"gpt-4o",
			"choices":[{"index":0,"message":{"role":"assistant","content":%s},"finish_reason":"stop"}],
			"usage":{"prompt_tokens":9,"completion_tokens":3,"total_tokens":12}}`, reply)
	})
	mux.HandleFunc("POST /images/generations", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		if body["response_format"] == "b64_json" {
			fmt.Fprintf(w, `{"created":1700000000,"data":[{"b64_json":%q}]}`, base64.StdEncoding.EncodeToString(pngBytes))
			return
		}
		io.WriteString(w, `{"created":1700000000,"data":[{"url":"https://img.test/1.png","revised_prompt":"a cat"}]}`)
	})
	mux.HandleFunc("POST /embeddings", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"object":"list","model":"text-embedding-3-small",
			"data":[{"object":"embedding","index":0,"embedding":[0.25,-0.5]}],
			"usage":{"prompt_tokens":2,"total_tokens":2}}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// failingVendor answers every request with a rate limit error.
func failingVendor(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		io.WriteString(w, `{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// hangingVendor never answers; it returns once the caller gives up.
func hangingVendor(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)
	return srv
}

type testEnv struct {
	srv     *httptest.Server
	store   *store.Store
	metrics *metrics.Recorder
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	rec := metrics.New()

	newClient := func(id provider.ID, baseURL string, opts ...provider.Option) *provider.Client {
		opts = append(opts, provider.WithBaseURL(baseURL), provider.WithObserver(rec))
		c, err := provider.New(id, "sk-test", opts...)
		require.NoError(t, err)
		return c
	}
	openai := newClient(provider.OpenAI, openAIVendor(t).URL)
	clients := map[provider.ID]*provider.Client{
		provider.OpenAI:    openai,
		provider.Anthropic: newClient(provider.Anthropic, failingVendor(t).URL),
		provider.Mistral:   newClient(provider.Mistral, hangingVendor(t).URL, provider.WithTimeout(50*time.Millisecond)),
	}

	mr := miniredis.RunT(t)
	st := store.New(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { st.Close() })

	env := &testEnv{store: st, metrics: rec}

	// Public object URLs need the test server's address, so the server
	// starts first and the handler is mounted afterwards.
	mux := http.NewServeMux()
	env.srv = httptest.NewServer(mux)
	t.Cleanup(env.srv.Close)

	objects, err := objectstore.New(t.TempDir(), env.srv.URL+"/objects")
	require.NoError(t, err)

	mux.Handle("/", New(Deps{
		Providers:       clients,
		DefaultProvider: provider.OpenAI,
		Profiles:        st,
		Cards:           st,
		Service:         &card.Service{Profiles: st, Cards: st},
		Designer: &card.Designer{
			Chat:      openai,
			Images:    openai,
			Profiles:  st,
			Cards:     st,
			Objects:   objects,
			ImageSize: provider.Size1024x1024,
		},
		Objects: objects.Handler(),
		Metrics: rec.Handler(),
	}))
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, r)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func chatBody(stream bool) map[string]any {
	return map[string]any{
		"model":    "gpt-4o",
		"messages": []map[string]any{{"role": "user", "content": "hi"}},
		"stream":   stream,
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	resp, body := env.do(t, "GET", "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok","providers":["anthropic","mistral","openai"]}`, string(body))
}

func TestListProviders(t *testing.T) {
	env := newTestEnv(t)
	resp, body := env.do(t, "GET", "/v1/providers", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Data []providerInfo `json:"data"`
	}
	require.NoError(t, json.Unmarshal(body, &out))
	require.Len(t, out.Data, 3)
	assert.Equal(t, provider.OpenAI, out.Data[2].ID)
	assert.True(t, out.Data[2].Default)
	assert.Contains(t, out.Data[2].Operations, provider.OpImage)
	assert.NotContains(t, out.Data[0].Operations, provider.OpImage, "anthropic has no image generation")
}

func TestChatCompletions(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"/v1/chat/completions", "/v1/providers/openai/chat/completions"} {
		resp, body := env.do(t, "POST", path, chatBody(false))
		require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

		var got provider.ChatResponse
		require.NoError(t, json.Unmarshal(body, &got))
		assert.Equal(t, "chat.completion", got.Object)
		assert.Equal(t, "Hello!", got.Choices[0].Message.Content.String())
		assert.Equal(t, 12, got.Usage.TotalTokens)
	}
}

func TestChatCompletions_Stream(t *testing.T) {
	env := newTestEnv(t)
	resp, body := env.do(t, "POST", "/v1/chat/completions", chatBody(true))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	text := string(body)
	assert.Contains(t, text, `"content":"Hel"`)
	assert.Contains(t, text, `"finish_reason":"stop"`)
	assert.True(t, strings.HasSuffix(text, "data: [DONE]\n\n"))
}

func TestChatCompletions_StreamOutlivesWriteTimeout(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, piece := range []string{"a", "b", "c"} {
			time.Sleep(80 * time.Millisecond)
			fmt.Fprintf(w, "data: {\"id\":\"chatcmpl-1\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", piece)
			w.(http.Flusher).Flush()
		}
		io.WriteString(w, "data: [DONE]\n\n")
	}))
	t.Cleanup(slow.Close)

	c, err := provider.New(provider.OpenAI, "sk-test", provider.WithBaseURL(slow.URL))
	require.NoError(t, err)

	gateway := httptest.NewUnstartedServer(New(Deps{
		Providers:       map[provider.ID]*provider.Client{provider.OpenAI: c},
		DefaultProvider: provider.OpenAI,
	}))
	gateway.Config.WriteTimeout = 100 * time.Millisecond
	gateway.Start()
	t.Cleanup(gateway.Close)

	env := &testEnv{srv: gateway}
	resp, body := env.do(t, "POST", "/v1/chat/completions", chatBody(true))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	text := string(body)
	for _, piece := range []string{`"content":"a"`, `"content":"b"`, `"content":"c"`} {
		assert.Contains(t, text, piece)
	}
	assert.True(t, strings.HasSuffix(text, "data: [DONE]\n\n"))
}

func TestGatewayErrors(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name     string
		path     string
		body     any
		status   int
		wantType string
		wantMsg  string
	}{
		{"unknown provider", "/v1/providers/cohere/chat/completions", chatBody(false), 404, "not_found_error", "cohere"},
		{"provider not configured", "/v1/providers/google/chat/completions", chatBody(false), 404, "not_found_error", "not configured"},
		{"unsupported operation", "/v1/providers/anthropic/images/generations", map[string]any{"prompt": "cat"}, 400, "invalid_request_error", "image"},
		{"invalid request", "/v1/chat/completions", map[string]any{"messages": []any{}}, 400, "invalid_request_error", "message"},
		{"malformed body", "/v1/embeddings", "not an object", 400, "invalid_request_error", "invalid request body"},
		{"vendor error", "/v1/providers/anthropic/chat/completions", chatBody(false), 502, "provider_error", "slow down"},
		{"vendor error before streaming", "/v1/providers/anthropic/chat/completions", chatBody(true), 502, "provider_error", "slow down"},
		{"timeout", "/v1/providers/mistral/chat/completions", chatBody(false), 504, "timeout", "timed out"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := env.do(t, "POST", tt.path, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode, string(body))
			assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

			var got errorBody
			require.NoError(t, json.Unmarshal(body, &got))
			assert.Equal(t, tt.wantType, got.Error.Type)
			assert.Contains(t, strings.ToLower(got.Error.Message), tt.wantMsg)
		})
	}
}

func TestImagesAndEmbeddings(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, "POST", "/v1/images/generations", map[string]any{"prompt": "a cat"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var img provider.ImageResponse
	require.NoError(t, json.Unmarshal(body, &img))
	require.Len(t, img.Data, 1)
	assert.Equal(t, "https://img.test/1.png", img.Data[0].URL)

	resp, body = env.do(t, "POST", "/v1/embeddings", map[string]any{"input": "hello"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var emb provider.EmbeddingResponse
	require.NoError(t, json.Unmarshal(body, &emb))
	require.Len(t, emb.Data, 1)
	assert.Equal(t, []float64{0.25, -0.5}, emb.Data[0].Embedding)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, "POST", "/v1/chat/completions", chatBody(false))

	resp, body := env.do(t, "GET", "/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `cardforge_gateway_requests_total{operation="chat",outcome="ok",provider="openai"} 1`)
}

func TestCardLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// No profile yet.
	resp, _ := env.do(t, "GET", "/v1/users/u1/profile", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body := env.do(t, "PUT", "/v1/users/u1/profile", map[string]any{
		"full_name": "Ada Lovelace",
		"email":     "ada@test",
		"company":   "Analytical Engines",
		"website":   "engines.test",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	resp, body = env.do(t, "GET", "/v1/users/u1/profile", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var profile card.Profile
	require.NoError(t, json.Unmarshal(body, &profile))
	assert.Equal(t, "https://engines.test", profile.Website)
	assert.Equal(t, "ada_lovelace", profile.Username)

	// Generate a card through the designer and the fake vendor.
	resp, body = env.do(t, "POST", "/v1/users/u1/cards", map[string]any{"businesscard_name": "Ada", "style": "minimal"})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var created card.Card
	require.NoError(t, json.Unmarshal(body, &created))
	assert.Equal(t, "Ada Classic", created.Name)
	assert.Equal(t, "Analytical Engines", created.Company)
	assert.Equal(t, "#112233", created.Style.BackgroundColor)
	assert.Equal(t, env.srv.URL+"/objects/business-cards/u1/"+created.ID+".png", created.ImageURL)

	// The background image is served from the public URL.
	img, err := http.Get(created.ImageURL)
	require.NoError(t, err)
	data, _ := io.ReadAll(img.Body)
	img.Body.Close()
	assert.Equal(t, pngBytes, data)

	resp, body = env.do(t, "GET", "/v1/users/u1/cards", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list struct {
		Data []card.Card `json:"data"`
	}
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list.Data, 1)

	resp, body = env.do(t, "PATCH", "/v1/users/u1/cards/"+created.ID, map[string]any{
		"full_name": "Ada Lovelace",
		"company":   "Difference Engines",
		"website":   "difference.test",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	resp, body = env.do(t, "GET", "/v1/cards/"+created.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var page struct {
		card.Card
		Profile *card.Profile `json:"profile"`
	}
	require.NoError(t, json.Unmarshal(body, &page))
	assert.Equal(t, "Difference Engines", page.Company)
	assert.Equal(t, "https://difference.test", page.Website)
	require.NotNil(t, page.Profile)
	assert.Equal(t, "Difference Engines", page.Profile.Company)

	// Someone else cannot edit it.
	resp, _ = env.do(t, "PATCH", "/v1/users/u2/cards/"+created.ID, map[string]any{"company": "Hijack"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = env.do(t, "DELETE", "/v1/cards/"+created.ID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	_, err = env.store.GetCard(ctx, created.ID)
	assert.ErrorIs(t, err, card.ErrNotFound)

	resp, _ = env.do(t, "GET", "/v1/cards/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGenerateCard_Validation(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, "POST", "/v1/users/u1/cards", map[string]any{"businesscard_name": "Ada"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Valid request, but the user has no profile.
	resp, _ = env.do(t, "POST", "/v1/users/u1/cards", map[string]any{"businesscard_name": "Ada", "style": "bold"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = env.do(t, "PUT", "/v1/users/u1/profile", map[string]any{"full_name": "No Email"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
