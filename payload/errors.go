package payload

import "fmt"

// ParseError: payload bytes do not decode. Recoverable for consumers,
// fatal for nobody.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string { return "payload parse: " + e.Reason }

func parseErrorf(format string, args ...interface{}) *ParseError {
	return &ParseError{Reason: fmt.Sprintf(format, args...)}
}

// InvalidMetricIndexError: out-of-bounds MetricAt access.
type InvalidMetricIndexError struct {
	Index int
	Count int
}

func (e *InvalidMetricIndexError) Error() string {
	return fmt.Sprintf("invalid metric index %d (payload has %d metrics)", e.Index, e.Count)
}

// CapacityError: serialized payload exceeds the bounded working buffer.
type CapacityError struct {
	Size  int
	Limit int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("serialized payload %d bytes exceeds limit %d", e.Size, e.Limit)
}

// UnrepresentableStringError: the string cannot survive a null-terminated
// representation. Interop constraint with C implementations of the
// protocol; surfaced as an error instead of silent truncation.
type UnrepresentableStringError struct {
	What string // "metric name", "string value", "uuid"
}

func (e *UnrepresentableStringError) Error() string {
	return "embedded NUL byte in " + e.What
}
