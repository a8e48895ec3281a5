package provider

import (
	"mime"
	"net/url"
	"path"
	"strings"
)

// splitDataURI splits "data:<mime>;base64,<payload>" into its MIME type and
// base64 payload. ok is false for anything that is not a base64 data URI.
func splitDataURI(ref string) (mimeType, data string, ok bool) {
	rest, found := strings.CutPrefix(ref, "data:")
	if !found {
		return "", "", false
	}
	meta, payload, found := strings.Cut(rest, ",")
	if !found {
		return "", "", false
	}
	mimeType, found = strings.CutSuffix(meta, ";base64")
	if !found {
		return "", "", false
	}
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	return mimeType, payload, true
}

// guessImageType derives an image MIME type from the file extension of a
// URL or path, falling back to image/jpeg.
func guessImageType(ref string) string {
	p := ref
	if u, err := url.Parse(ref); err == nil && u.Path != "" {
		p = u.Path
	}
	if t := mime.TypeByExtension(strings.ToLower(path.Ext(p))); strings.HasPrefix(t, "image/") {
		return t
	}
	return "image/jpeg"
}
