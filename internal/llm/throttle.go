package llm

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// Gate paces outbound calls. Wait blocks until the next call may proceed or
// ctx is done.
type Gate interface {
	Wait(ctx context.Context) error
}

// GateFunc adapts a function to the Gate interface.
type GateFunc func(ctx context.Context) error

// Wait implements Gate.
func (f GateFunc) Wait(ctx context.Context) error { return f(ctx) }

type noGate struct{}

func (noGate) Wait(ctx context.Context) error { return ctx.Err() }

// NoGate never blocks.
var NoGate Gate = noGate{}

// NewGate returns a token-bucket gate admitting one call per interval with
// the given burst. A non-positive interval disables pacing.
func NewGate(every time.Duration, burst int) Gate {
	if every <= 0 {
		return NoGate
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Every(every), burst)
}

// NewPause returns a fixed-interval gate: every Wait sleeps for d, or returns
// early with ctx's error.
func NewPause(d time.Duration) Gate {
	if d <= 0 {
		return NoGate
	}
	return GateFunc(func(ctx context.Context) error {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-timer.C:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
}

// Throttled passes every call through a Gate before delegating.
type Throttled struct {
	next Client
	gate Gate
}

// NewThrottled wraps next with gate. A nil gate returns next unchanged.
func NewThrottled(next Client, gate Gate) Client {
	if gate == nil {
		return next
	}
	return &Throttled{next: next, gate: gate}
}

// Complete implements Client.
func (t *Throttled) Complete(ctx context.Context, req Request) (string, error) {
	if err := t.gate.Wait(ctx); err != nil {
		return "", fmt.Errorf("Throttled.Complete: waiting for rate gate: %w", err)
	}
	return t.next.Complete(ctx, req)
}

// Observer receives the outcome of every call.
type Observer func(stage, result string, duration time.Duration)

// Instrumented reports each call to an Observer.
type Instrumented struct {
	next    Client
	observe Observer
}

// NewInstrumented wraps next so that every call is reported to observe.
func NewInstrumented(next Client, observe Observer) Client {
	if observe == nil {
		return next
	}
	return &Instrumented{next: next, observe: observe}
}

// Complete implements Client.
func (i *Instrumented) Complete(ctx context.Context, req Request) (string, error) {
	start := time.Now()
	text, err := i.next.Complete(ctx, req)
	i.observe(req.Stage, Outcome(err), time.Since(start))
	return text, err
}

var (
	_ Client = (*Throttled)(nil)
	_ Client = (*Instrumented)(nil)
	_ Gate   = (*rate.Limiter)(nil)
)
