package logger

import (
	"context"

	"go.uber.org/zap"
)

type ctxKey string

const (
	requestIDKey ctxKey = "request_id"
	flowKey      ctxKey = "payment_flow"
)

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

func RequestIDFrom(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// WithFlow tags the context with the notification flow (redirect, webhook, checkout).
func WithFlow(ctx context.Context, flow string) context.Context {
	return context.WithValue(ctx, flowKey, flow)
}

func FlowFrom(ctx context.Context) string {
	if v, ok := ctx.Value(flowKey).(string); ok {
		return v
	}
	return ""
}

// FromCtx returns the global logger with request_id and flow attached when present.
func FromCtx(ctx context.Context) *zap.Logger {
	l := L()
	if reqID := RequestIDFrom(ctx); reqID != "" {
		l = l.With(zap.String("request_id", reqID))
	}
	if flow := FlowFrom(ctx); flow != "" {
		l = l.With(zap.String("flow", flow))
	}
	return l
}
