package query

import "fmt"

// ValidationError reports a bad token or parameter at the API boundary.
// Surfaced as a 400 with the offending field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid parameter %q: %s", e.Field, e.Message)
}

// TimeoutError means the aggregation exceeded its wall-clock budget and the
// database query was aborted.
type TimeoutError struct {
	Elapsed string
}

func (e *TimeoutError) Error() string {
	return "aggregation timed out after " + e.Elapsed
}

// QueryExecutionError wraps a database failure during aggregation. The
// fingerprint identifies the compiled statement in logs; raw driver messages
// never reach API responses.
type QueryExecutionError struct {
	Fingerprint string
	Err         error
}

func (e *QueryExecutionError) Error() string {
	return fmt.Sprintf("aggregation failed (query %s)", e.Fingerprint)
}

func (e *QueryExecutionError) Unwrap() error { return e.Err }
