package model

// Status tags a stage result
type Status string

const (
	StatusOk       Status = "ok"
	StatusDegraded Status = "degraded"
	StatusFailed   Status = "failed"
)

// Outcome is a stage result tagged with how it was produced. A Degraded outcome
// still carries a usable Value; a Failed one does not.
type Outcome[T any] struct {
	Status Status
	Value  T
	Reason string
}

// Ok wraps a value produced normally
func Ok[T any](v T) Outcome[T] {
	return Outcome[T]{Status: StatusOk, Value: v}
}

// Degraded wraps a fallback value and the reason the primary path was not used
func Degraded[T any](v T, reason string) Outcome[T] {
	return Outcome[T]{Status: StatusDegraded, Value: v, Reason: reason}
}

// Failed records a stage failure with no usable value
func Failed[T any](reason string) Outcome[T] {
	return Outcome[T]{Status: StatusFailed, Reason: reason}
}

// IsOk reports whether the primary path produced the value
func (o Outcome[T]) IsOk() bool { return o.Status == StatusOk }

// IsFailed reports whether there is no usable value
func (o Outcome[T]) IsFailed() bool { return o.Status == StatusFailed }
