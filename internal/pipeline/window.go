package pipeline

import (
	"fmt"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

// Window is an optional inclusive date range. The zero value means no window.
type Window struct {
	Start string `json:"startDate,omitempty"`
	End   string `json:"endDate,omitempty"`
}

// IsZero reports whether no window is set.
func (w Window) IsZero() bool {
	return w.Start == "" && w.End == ""
}

// Validate checks that both bounds are given together as YYYY-MM-DD and that
// End is not before Start.
func (w Window) Validate() error {
	if w.IsZero() {
		return nil
	}
	if w.Start == "" || w.End == "" {
		return fmt.Errorf("%w: startDate and endDate must be given together", ErrInput)
	}
	start, err := time.Parse(dateLayout, w.Start)
	if err != nil {
		return fmt.Errorf("%w: startDate %q is not YYYY-MM-DD", ErrInput, w.Start)
	}
	end, err := time.Parse(dateLayout, w.End)
	if err != nil {
		return fmt.Errorf("%w: endDate %q is not YYYY-MM-DD", ErrInput, w.End)
	}
	if end.Before(start) {
		return fmt.Errorf("%w: endDate %s is before startDate %s", ErrInput, w.End, w.Start)
	}
	return nil
}

// Contains reports whether date falls inside the window. Dates that cannot be
// read as ISO dates are kept, since the model is told about the window and
// dates are passed through verbatim.
func (w Window) Contains(date string) bool {
	if w.IsZero() {
		return true
	}
	d, ok := parseISODate(date)
	if !ok {
		return true
	}
	start, err := time.Parse(dateLayout, w.Start)
	if err != nil {
		return true
	}
	end, err := time.Parse(dateLayout, w.End)
	if err != nil {
		return true
	}
	return !d.Before(start) && !d.After(end)
}

// describe renders the window for prompts.
func (w Window) describe() (string, string) {
	if w.IsZero() {
		return "the beginning of the statement", "the end of the statement"
	}
	return w.Start, w.End
}

func parseISODate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if len(s) < len(dateLayout) {
		return time.Time{}, false
	}
	d, err := time.Parse(dateLayout, s[:len(dateLayout)])
	if err != nil {
		return time.Time{}, false
	}
	return d, true
}
