// Package llm wraps the text-generation service behind a small
// request/response contract with a fixed error taxonomy.
package llm

import (
	"context"
	"errors"
)

// Error taxonomy. Callers classify failures with errors.Is.
var (
	// ErrAuth means the credential was absent or rejected.
	ErrAuth = errors.New("llm: authentication failed")
	// ErrUpstreamTimeout means a single call exceeded its deadline.
	ErrUpstreamTimeout = errors.New("llm: upstream timeout")
	// ErrUpstream covers every other failed or unusable response.
	ErrUpstream = errors.New("llm: upstream error")
)

// Request is one completion call.
type Request struct {
	// Stage names the pipeline stage issuing the call (metrics and logs only).
	Stage string
	// Subject is the period label or document the call is about, if any.
	Subject         string
	System          string
	User            string
	MaxOutputTokens int32
	// Temperature is optional; nil leaves the model default.
	Temperature *float32
}

// Client completes a prompt pair into text. Implementations do not retry.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Factory builds a Client for a caller-supplied credential.
type Factory func(ctx context.Context, apiKey string) (Client, error)

// ClientFunc adapts a function to the Client interface.
type ClientFunc func(ctx context.Context, req Request) (string, error)

// Complete implements Client.
func (f ClientFunc) Complete(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// Temperature returns a pointer for Request.Temperature.
func Temperature(v float32) *float32 {
	return &v
}

// Outcome labels an error for metrics.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrAuth):
		return "auth_error"
	case errors.Is(err, ErrUpstreamTimeout):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}
