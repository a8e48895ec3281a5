package provider

import (
	"net"
	"net/http"
	"time"

	"golang.org/x/net/http2"
)

const (
	defaultDialTimeout     = 10 * time.Second
	defaultKeepAlive       = 30 * time.Second
	defaultIdleConnTimeout = 90 * time.Second
)

// NewHTTPClient returns the pooled HTTP client vendors are called through.
// It sets no overall Timeout: a streamed completion can legitimately stay
// open for minutes, so deadlines come from the per-call context instead.
func NewHTTPClient() *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: defaultDialTimeout, KeepAlive: defaultKeepAlive}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       defaultIdleConnTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: 2 * time.Minute,
	}
	// ConfigureTransport only fails when the transport was already set up
	// for HTTP/2, which cannot happen for a fresh one. Fall back to the
	// standard library's own negotiation regardless.
	if err := http2.ConfigureTransport(transport); err != nil {
		transport.ForceAttemptHTTP2 = true
	}
	return &http.Client{Transport: transport}
}
