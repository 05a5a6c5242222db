package pipeline

import "errors"

var (
	// ErrInput marks a request that is rejected before any model call.
	ErrInput = errors.New("pipeline: invalid input")

	// ErrVisualization marks a chart generation or validation failure. The
	// processor recovers from it by leaving visualization data absent.
	ErrVisualization = errors.New("pipeline: visualization failed")

	// ErrNoTransactions is returned when an operation needs at least one
	// transaction and none were supplied.
	ErrNoTransactions = errors.New("pipeline: no transactions")

	// ErrBudgetExceeded is returned when the overall run budget elapses.
	ErrBudgetExceeded = errors.New("pipeline: processing budget exceeded")

	// ErrMalformedResponse marks a model response that does not have the
	// required shape.
	ErrMalformedResponse = errors.New("pipeline: malformed model response")
)
