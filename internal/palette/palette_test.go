package palette

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/gif"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testImage is 6x3 pixels: 6 red, 4 blue, 4 green, 2 white, 1 black, 1 grey.
func testImage() *image.RGBA {
	pixels := []color.RGBA{}
	add := func(c color.RGBA, n int) {
		for range n {
			pixels = append(pixels, c)
		}
	}
	add(color.RGBA{255, 0, 0, 255}, 6)
	add(color.RGBA{0, 0, 255, 255}, 4)
	add(color.RGBA{0, 255, 0, 255}, 4)
	add(color.RGBA{255, 255, 255, 255}, 2)
	add(color.RGBA{128, 128, 128, 255}, 1)
	add(color.RGBA{0, 0, 0, 255}, 1)

	img := image.NewRGBA(image.Rect(0, 0, 6, 3))
	for i, c := range pixels {
		img.SetRGBA(i%6, i/6, c)
	}
	return img
}

func encodePNG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, testImage()))
	return buf.Bytes()
}

var wantColors = []string{"#ff0000", "#0000ff", "#00ff00", "#ffffff", "#000000"}

func TestColors_HTTP(t *testing.T) {
	data := encodePNG(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/logo.png" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(data)
	}))
	defer srv.Close()

	e := New(srv.Client())
	got, err := e.Colors(context.Background(), srv.URL+"/logo.png")
	require.NoError(t, err)
	assert.Equal(t, wantColors, got)

	_, err = e.Colors(context.Background(), srv.URL+"/missing.png")
	assert.ErrorContains(t, err, "status 404")
}

func TestColors_DataURI(t *testing.T) {
	ref := "data:image/png;base64," + base64.StdEncoding.EncodeToString(encodePNG(t))
	got, err := New(nil).Colors(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, wantColors, got)
}

func TestColors_GIF(t *testing.T) {
	img := image.NewPaletted(image.Rect(0, 0, 2, 2), color.Palette{
		color.RGBA{0, 0, 0, 255}, color.RGBA{255, 255, 255, 255},
	})
	img.SetColorIndex(0, 0, 1)
	var buf bytes.Buffer
	require.NoError(t, gif.Encode(&buf, img, nil))

	ref := "data:image/gif;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
	got, err := New(nil).Colors(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, []string{"#000000", "#ffffff"}, got)
}

func TestColors_Errors(t *testing.T) {
	e := New(nil)
	ctx := context.Background()

	for ref, want := range map[string]string{
		"ftp://example.com/logo.png":     "unsupported image reference",
		"data:image/png,notbase64":       "not base64 encoded",
		"data:image/png;base64,!!!":      "decoding data URI",
		"data:text/plain;base64,aGVsbG8": "decoding",
	} {
		_, err := e.Colors(ctx, ref)
		assert.ErrorContains(t, err, want, ref)
	}
}

// withDimensions rewrites the IHDR of a PNG to declare width x height and
// fixes up the chunk checksum. The pixel data is left as is.
func withDimensions(t *testing.T, data []byte, width, height uint32) []byte {
	t.Helper()
	out := bytes.Clone(data)
	require.Equal(t, "IHDR", string(out[12:16]))
	binary.BigEndian.PutUint32(out[16:20], width)
	binary.BigEndian.PutUint32(out[20:24], height)
	binary.BigEndian.PutUint32(out[29:33], crc32.ChecksumIEEE(out[12:29]))
	return out
}

func TestColors_RejectsOversizedHeader(t *testing.T) {
	e := New(nil)
	ctx := context.Background()

	bomb := withDimensions(t, encodePNG(t), 100000, 100000)
	_, err := e.Colors(ctx, "data:image/png;base64,"+base64.StdEncoding.EncodeToString(bomb))
	assert.ErrorContains(t, err, "100000x100000 exceeds")

	cfg, err := png.DecodeConfig(bytes.NewReader(bomb))
	require.NoError(t, err, "header must still parse")
	assert.Equal(t, 100000, cfg.Width)

	// A single row past the limit is caught too.
	wide := withDimensions(t, encodePNG(t), maxPixels+1, 1)
	_, err = e.Colors(ctx, "data:image/png;base64,"+base64.StdEncoding.EncodeToString(wide))
	assert.ErrorContains(t, err, "exceeds")
}
