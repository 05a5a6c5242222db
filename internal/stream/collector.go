package stream

import (
	"sync"

	"github.com/dvloznov/statement-analyzer/internal/pipeline"
)

// Collector keeps pipeline events in memory.
type Collector struct {
	mu     sync.Mutex
	events []ProgressEvent
	final  *pipeline.ProcessingResult
	errMsg string
	closed bool

	// OnEvent, if set, is called after every progress event.
	OnEvent func(ProgressEvent)
}

// PeriodCompleted implements pipeline.ProgressEmitter.
func (c *Collector) PeriodCompleted(period string, record pipeline.PeriodRecord) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	ev := ProgressEvent{Month: period, Data: record}
	c.events = append(c.events, ev)
	onEvent := c.OnEvent
	c.mu.Unlock()

	if onEvent != nil {
		onEvent(ev)
	}
	return nil
}

// Final records the terminal result.
func (c *Collector) Final(result *pipeline.ProcessingResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.final = result
	c.closed = true
	return nil
}

// Error records the terminal error.
func (c *Collector) Error(message string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.errMsg = message
	c.closed = true
	return nil
}

// Events returns a copy of the progress events so far.
func (c *Collector) Events() []ProgressEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ProgressEvent, len(c.events))
	copy(out, c.events)
	return out
}

// Result returns the terminal result and error message, if any.
func (c *Collector) Result() (*pipeline.ProcessingResult, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.final, c.errMsg
}

var _ pipeline.ProgressEmitter = (*Collector)(nil)
