package fetch

import "errors"

// Typed fetch failures. Callers classify with errors.Is; the concrete error
// carries URL and cause context via wrapping.
var (
	ErrNetwork         = errors.New("network error")
	ErrTimeout         = errors.New("timeout")
	ErrBlockedByRobots = errors.New("blocked by robots")
	ErrNonHTML         = errors.New("non-html content")
	ErrTooLarge        = errors.New("page too large")
	ErrHTTPStatus      = errors.New("http error status")
)
