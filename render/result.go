package render

// State is the lifecycle of an asynchronously loaded value.
type State string

const (
	StatePending State = "pending"
	StateFailed  State = "failed"
	StateReady   State = "ready"
)

// Result holds a value that is either still loading, failed with a reason or
// ready. The zero Result is pending.
type Result[T any] struct {
	state  State
	value  T
	reason string
}

func Pending[T any]() Result[T] {
	return Result[T]{state: StatePending}
}

func Failed[T any](reason string) Result[T] {
	return Result[T]{state: StateFailed, reason: reason}
}

func Ready[T any](value T) Result[T] {
	return Result[T]{state: StateReady, value: value}
}

func (r Result[T]) State() State {
	if r.state == "" {
		return StatePending
	}
	return r.state
}

// Value returns the loaded value, or the zero value unless the result is ready.
func (r Result[T]) Value() T {
	if r.state != StateReady {
		var zero T
		return zero
	}
	return r.value
}

func (r Result[T]) Reason() string {
	return r.reason
}

func (r Result[T]) IsPending() bool {
	return r.State() == StatePending
}

func (r Result[T]) IsFailed() bool {
	return r.state == StateFailed
}

func (r Result[T]) IsReady() bool {
	return r.state == StateReady
}
