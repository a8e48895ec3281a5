package provider

import "time"

// Observer sees every completed gateway call. Implementations must be safe
// for concurrent use; internal/metrics provides the Prometheus one.
type Observer interface {
	ObserveCall(CallInfo)
}

// CallInfo describes one finished call.
type CallInfo struct {
	Provider  ID
	Operation Operation
	Model     string
	Duration  time.Duration
	Err       error

	// Usage is nil when the vendor reported none (and always for images).
	Usage *Usage

	// Chunks counts delivered stream chunks; zero for non-streaming calls.
	Chunks int
}

type nopObserver struct{}

func (nopObserver) ObserveCall(CallInfo) {}

// callRecord accumulates a CallInfo while the call runs.
type callRecord struct {
	c      *Client
	op     Operation
	model  string
	start  time.Time
	usage  *Usage
	chunks int
}

func (c *Client) begin(op Operation) *callRecord {
	return &callRecord{c: c, op: op, start: time.Now()}
}

func (r *callRecord) end(err error) {
	r.c.observer.ObserveCall(CallInfo{
		Provider:  r.c.vendor.id,
		Operation: r.op,
		Model:     r.model,
		Duration:  time.Since(r.start),
		Err:       err,
		Usage:     r.usage,
		Chunks:    r.chunks,
	})
}
