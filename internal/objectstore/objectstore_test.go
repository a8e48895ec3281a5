package objectstore

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUploadAndServe(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, "http://localhost:8080/objects/")
	require.NoError(t, err)

	require.NoError(t, s.Upload(context.Background(), "business-cards", "u1/c1.png", []byte("png"), "image/png"))

	data, err := os.ReadFile(filepath.Join(dir, "business-cards", "u1", "c1.png"))
	require.NoError(t, err)
	assert.Equal(t, []byte("png"), data)

	assert.Equal(t, "http://localhost:8080/objects/business-cards/u1/c1.png", s.PublicURL("business-cards", "u1/c1.png"))

	srv := httptest.NewServer(http.StripPrefix("/objects", s.Handler()))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/objects/business-cards/u1/c1.png")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))

	listing, err := http.Get(srv.URL + "/objects/business-cards/u1/")
	require.NoError(t, err)
	listing.Body.Close()
	assert.Equal(t, http.StatusNotFound, listing.StatusCode)
}

func TestUpload_Overwrites(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, "http://x")
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Upload(ctx, "ns", "a.png", []byte("one"), "image/png"))
	require.NoError(t, s.Upload(ctx, "ns", "a.png", []byte("two"), "image/png"))

	data, err := os.ReadFile(filepath.Join(dir, "ns", "a.png"))
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))

	entries, err := os.ReadDir(filepath.Join(dir, "ns"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestUpload_RejectsEscapingPaths(t *testing.T) {
	s, err := New(t.TempDir(), "http://x")
	require.NoError(t, err)
	ctx := context.Background()

	for _, p := range []string{"../../etc/passwd", "", "a/../../../b.png"} {
		assert.Error(t, s.Upload(ctx, "ns", p, []byte("x"), "text/plain"), "path %q", p)
	}
	assert.Error(t, s.Upload(ctx, "", "a.png", []byte("x"), "image/png"))
}

func TestPublicURL_Escapes(t *testing.T) {
	s, err := New(t.TempDir(), "https://cdn.test/objects")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.test/objects/ns/my%20card.png", s.PublicURL("ns", "my card.png"))
}

func TestDelete(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, "http://x")
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Upload(ctx, "ns", "u1/a.png", []byte("png"), "image/png"))
	require.NoError(t, s.Delete(ctx, "ns", "u1/a.png"))

	_, err = os.Stat(filepath.Join(dir, "ns", "u1", "a.png"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	assert.NoError(t, s.Delete(ctx, "ns", "u1/a.png"), "missing object")
	assert.ErrorContains(t, s.Delete(ctx, "ns", "../../escape.png"), "invalid object path")
}
