package fetch

import "fmt"

// RetrievalError reports a network or HTTP-level failure that persisted after
// the retry budget was exhausted. StatusCode is zero when the failure happened
// below the HTTP layer (DNS, timeout, connection reset).
type RetrievalError struct {
	URL        string
	StatusCode int
	Attempts   int
	Err        error
}

func (e *RetrievalError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("retrieval failed: %s: status %d after %d attempt(s): %v", e.URL, e.StatusCode, e.Attempts, e.Err)
	}
	return fmt.Sprintf("retrieval failed: %s: %d attempt(s): %v", e.URL, e.Attempts, e.Err)
}

func (e *RetrievalError) Unwrap() error { return e.Err }

// ParseError reports a response body that did not match the expected shape.
// It is returned instead of partial data.
type ParseError struct {
	URL    string
	Format string // "json", "csv", "rdb"
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s response: %s: %v", e.Format, e.URL, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
