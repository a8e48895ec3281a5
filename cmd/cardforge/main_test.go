package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/howard-nolan/cardforge/internal/config"
	"github.com/howard-nolan/cardforge/internal/provider"
)

// sseVendor streams "Hello world" in OpenAI format and records the request.
func sseVendor(t *testing.T, got *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(got))
		w.Header().Set("Content-Type", "text/event-stream")
		for _, piece := range []string{"Hello", " world"} {
			fmt.Fprintf(w, "data: {\"id\":\"c1\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", piece)
		}
		io.WriteString(w, "data: [DONE]\n\n")
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestChatCommand(t *testing.T) {
	var got map[string]any
	vendor := sseVendor(t, &got)
	path := writeConfig(t, fmt.Sprintf(`
providers:
  openai:
    api_key: sk-test
    base_url: %s
`, vendor.URL))

	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs([]string{"chat", "--config", path, "--model", "gpt-4o-mini", "--system", "be brief", "--temperature", "0.2", "say", "hello"})

	require.NoError(t, cmd.Execute(), errOut.String())
	assert.Equal(t, "Hello world\n", out.String())

	assert.Equal(t, "gpt-4o-mini", got["model"])
	assert.Equal(t, true, got["stream"])
	assert.Equal(t, 0.2, got["temperature"])
	messages, ok := got["messages"].([]any)
	require.True(t, ok)
	require.Len(t, messages, 2)
	assert.Equal(t, "say hello", messages[1].(map[string]any)["content"])
}

func TestChatCommand_UnconfiguredProvider(t *testing.T) {
	path := writeConfig(t, `
providers:
  openai:
    api_key: sk-test
`)
	cmd := newRootCmd()
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"chat", "--config", path, "--provider", "anthropic", "hi"})
	assert.ErrorContains(t, cmd.Execute(), `provider "anthropic" is not configured`)

	cmd = newRootCmd()
	cmd.SetArgs([]string{"chat", "--config", path, "--provider", "cohere", "hi"})
	assert.ErrorIs(t, cmd.Execute(), provider.ErrUnknownProvider)
}

func TestBuildClients(t *testing.T) {
	cfg := &config.Config{Providers: map[string]config.ProviderConfig{
		"openai":    {APIKey: "sk", DefaultModel: "gpt-4o-mini", Timeout: time.Second},
		"stability": {APIKey: "sk", BaseURL: "http://localhost:9999"},
	}}
	clients, err := buildClients(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
	require.NoError(t, err)
	require.Len(t, clients, 2)

	assert.True(t, clients[provider.OpenAI].Supports(provider.OpEmbedding))
	assert.True(t, clients[provider.Stability].Supports(provider.OpImage))
	assert.False(t, clients[provider.Stability].Supports(provider.OpChat))

	_, err = buildClients(&config.Config{Providers: map[string]config.ProviderConfig{"cohere": {}}}, slog.Default(), nil)
	assert.ErrorIs(t, err, provider.ErrUnknownProvider)
}
