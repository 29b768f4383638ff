package rtdev

import "github.com/pkg/errors"

// An Outcome is the result of invoking a handler. Besides success and failure, a handler may
// decline to run in the context it was invoked from and ask to be invoked again from the other one.
type Outcome struct {
	n     int
	err   error
	retry bool
}

// Success returns a successful outcome with the given count.
func Success(n int) Outcome {
	return Outcome{n: n}
}

// Failure returns a failed outcome.
func Failure(err error) Outcome {
	if err == nil {
		err = errors.New("handler failed without an error")
	}
	return Outcome{err: err}
}

// RetryInOtherContext returns an outcome asking the framework to re-invoke the handler from the
// other execution context.
func RetryInOtherContext() Outcome {
	return Outcome{retry: true}
}

// Retry returns whether the handler asked to be retried from the other execution context.
func (o Outcome) Retry() bool {
	return o.retry
}

// Result returns the count and error of a non-retry outcome.
func (o Outcome) Result() (int, error) {
	return o.n, o.err
}
