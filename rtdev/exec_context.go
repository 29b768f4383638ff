package rtdev

import (
	"context"
)

// ExecContext is the scheduling context a handler is invoked from.
type ExecContext int

const (
	// NonRealTime is a general purpose context where blocking and allocation are allowed.
	NonRealTime ExecContext = iota
	// RealTime is a bounded-latency context.
	RealTime
)

func (ec ExecContext) String() string {
	switch ec {
	case RealTime:
		return "real-time"
	case NonRealTime:
		return "non-real-time"
	default:
		return "unknown"
	}
}

// Other returns the alternate execution context.
func (ec ExecContext) Other() ExecContext {
	if ec == RealTime {
		return NonRealTime
	}
	return RealTime
}

type execContextKeyType int

const execContextKeyID = execContextKeyType(iota)

// WithExecContext returns a new context that marks calls made with it as coming from ec.
func WithExecContext(ctx context.Context, ec ExecContext) context.Context {
	return context.WithValue(ctx, execContextKeyID, ec)
}

// ExecContextFrom returns the execution context attached to ctx, NonRealTime if there is none.
func ExecContextFrom(ctx context.Context) ExecContext {
	if ec, ok := ctx.Value(execContextKeyID).(ExecContext); ok {
		return ec
	}
	return NonRealTime
}
