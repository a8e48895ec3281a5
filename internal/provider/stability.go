package provider

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ---------------------------------------------------------------------------
// Stability AI text-to-image
// ---------------------------------------------------------------------------

const (
	stabilityCFGScale    = 7.0
	stabilitySteps       = 30
	stabilityDefaultSide = 1024
)

type stabilityRequest struct {
	TextPrompts []stabilityPrompt `json:"text_prompts"`
	CFGScale    float64           `json:"cfg_scale"`
	Height      int               `json:"height"`
	Width       int               `json:"width"`
	Samples     int               `json:"samples"`
	Steps       int               `json:"steps"`
}

type stabilityPrompt struct {
	Text   string  `json:"text"`
	Weight float64 `json:"weight"`
}

type stabilityResponse struct {
	Artifacts []stabilityArtifact `json:"artifacts"`
}

type stabilityArtifact struct {
	Base64       string `json:"base64"`
	Seed         int64  `json:"seed"`
	FinishReason string `json:"finishReason"` // SUCCESS, ERROR or CONTENT_FILTERED
}

// parseImageSize reads "WxH". Each side falls back to 1024 on its own when
// missing or not a positive integer, so "x512" is 1024x512.
func parseImageSize(size ImageSize) (width, height int) {
	w, h, _ := strings.Cut(string(size), "x")
	return sideOrDefault(w), sideOrDefault(h)
}

func sideOrDefault(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n <= 0 {
		return stabilityDefaultSide
	}
	return n
}

func translateStabilityImage(req *ImageRequest, _ string) (any, error) {
	width, height := parseImageSize(req.Size)
	samples := req.N
	if samples <= 0 {
		samples = 1
	}
	return &stabilityRequest{
		TextPrompts: []stabilityPrompt{{Text: req.Prompt, Weight: 1}},
		CFGScale:    stabilityCFGScale,
		Height:      height,
		Width:       width,
		Samples:     samples,
		Steps:       stabilitySteps,
	}, nil
}

func normalizeStabilityImage(body []byte) (*ImageResponse, error) {
	var sr stabilityResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return nil, fmt.Errorf("decoding stability response: %w", err)
	}
	resp := &ImageResponse{
		Created: time.Now().Unix(),
		Data:    make([]ImageResult, 0, len(sr.Artifacts)),
	}
	for _, a := range sr.Artifacts {
		if a.FinishReason != "" && a.FinishReason != "SUCCESS" {
			resp.Data = append(resp.Data, ImageResult{
				Error: "image generation failed: " + strings.ToLower(a.FinishReason),
			})
			continue
		}
		var r ImageResult
		if a.Base64 != "" {
			r.URL = "data:image/png;base64," + a.Base64
			r.B64JSON = a.Base64
		}
		resp.Data = append(resp.Data, r)
	}
	return resp, nil
}

func stabilityImages() *imageAdapter {
	return &imageAdapter{
		endpoint: func(model string) string {
			return "/generation/" + model + "/text-to-image"
		},
		translate: translateStabilityImage,
		normalize: normalizeStabilityImage,
	}
}
