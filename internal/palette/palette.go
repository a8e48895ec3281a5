// Package palette finds the dominant colours of an image, used to match
// generated cards to a company logo.
package palette

import (
	"bytes"
	"cmp"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"  // register decoder
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/howard-nolan/cardforge/internal/card"
)

const (
	// maxImageBytes bounds how much of a remote image is read.
	maxImageBytes = 10 << 20
	// maxPixels bounds the decoded size. A small file can declare huge
	// dimensions, so the header is checked before decoding.
	maxPixels = 4096 * 4096
	// topColors is how many colours Colors returns.
	topColors = 5
)

// Extractor fetches images and counts their colours.
type Extractor struct {
	client *http.Client
}

var _ card.PaletteExtractor = (*Extractor)(nil)

// New returns an Extractor that fetches remote images with client, or
// http.DefaultClient when client is nil.
func New(client *http.Client) *Extractor {
	if client == nil {
		client = http.DefaultClient
	}
	return &Extractor{client: client}
}

// Colors returns up to five of the most frequent exact RGB colours in the
// image at ref, as lowercase #rrggbb, most frequent first. Ties are broken
// by hex order so the result is deterministic. ref is an http(s) URL or a
// base64 data URI.
func (e *Extractor) Colors(ctx context.Context, ref string) ([]string, error) {
	data, err := e.load(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("analyzing image: %w", err)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("analyzing image: decoding: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width > maxPixels/cfg.Height {
		return nil, fmt.Errorf("analyzing image: %dx%d exceeds %d pixels", cfg.Width, cfg.Height, maxPixels)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("analyzing image: decoding: %w", err)
	}
	return dominant(img, topColors), nil
}

func (e *Extractor) load(ctx context.Context, ref string) ([]byte, error) {
	if strings.HasPrefix(ref, "data:") {
		return decodeDataURI(ref)
	}

	u, err := url.Parse(ref)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("unsupported image reference %q", ref)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, err
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", ref, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching %s: status %d", ref, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", ref, err)
	}
	if len(data) > maxImageBytes {
		return nil, fmt.Errorf("image %s exceeds %d bytes", ref, maxImageBytes)
	}
	return data, nil
}

// decodeDataURI accepts data:[<mediatype>];base64,<data>.
func decodeDataURI(ref string) ([]byte, error) {
	meta, payload, ok := strings.Cut(strings.TrimPrefix(ref, "data:"), ",")
	if !ok || !strings.HasSuffix(meta, ";base64") {
		return nil, fmt.Errorf("data URI is not base64 encoded")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("decoding data URI: %w", err)
	}
	return data, nil
}

type colorCount struct {
	hex   string
	count int
}

// dominant counts every pixel's RGB value, ignoring alpha, and returns the
// n most frequent.
func dominant(img image.Image, n int) []string {
	counts := make(map[uint32]int)
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			counts[(r>>8)<<16|(g>>8)<<8|bl>>8]++
		}
	}

	ranked := make([]colorCount, 0, len(counts))
	for rgb, c := range counts {
		ranked = append(ranked, colorCount{hex: fmt.Sprintf("#%06x", rgb), count: c})
	}
	slices.SortFunc(ranked, func(a, b colorCount) int {
		if c := cmp.Compare(b.count, a.count); c != 0 {
			return c
		}
		return strings.Compare(a.hex, b.hex)
	})

	out := make([]string, 0, min(n, len(ranked)))
	for _, c := range ranked[:min(n, len(ranked))] {
		out = append(out, c.hex)
	}
	return out
}
