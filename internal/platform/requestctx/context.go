package requestctx

import (
	"context"

	"go.uber.org/zap"
)

type ctxKey int

const (
	loggerKey ctxKey = iota
	traceKey
)

var nop = zap.NewNop()

// TraceInfo is the trace identity a request carries across layers.
type TraceInfo struct {
	TraceID string
	SpanID  string
	Sampled bool
}

// WithLogger attaches a request-scoped logger to the context.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		logger = nop
	}
	return context.WithValue(ctx, loggerKey, logger)
}

// Logger returns the request-scoped logger, or a no-op logger when none was
// attached.
func Logger(ctx context.Context) *zap.Logger {
	if ctx != nil {
		if logger, ok := ctx.Value(loggerKey).(*zap.Logger); ok && logger != nil {
			return logger
		}
	}
	return nop
}

// NoopLogger returns the shared no-op logger.
func NoopLogger() *zap.Logger { return nop }

// WithTrace attaches trace identity to the context.
func WithTrace(ctx context.Context, info TraceInfo) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, traceKey, info)
}

// Trace reports the trace identity attached to the context, if any.
func Trace(ctx context.Context) (TraceInfo, bool) {
	if ctx == nil {
		return TraceInfo{}, false
	}
	info, ok := ctx.Value(traceKey).(TraceInfo)
	return info, ok
}

// TraceID returns the attached trace id, or an empty string.
func TraceID(ctx context.Context) string {
	info, _ := Trace(ctx)
	return info.TraceID
}
