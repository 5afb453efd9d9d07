package ctxutil

import (
	"context"

	"github.com/google/uuid"
)

// Default returns context.Background() when ctx is nil.
func Default(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

type requestDataKey struct{}

// RequestData carries the authenticated caller identity through a request.
// Authentication itself happens upstream; every retrieval and graph query
// must filter on UserID before touching shared stores.
type RequestData struct {
	UserID uuid.UUID
}

func WithRequestData(ctx context.Context, rd *RequestData) context.Context {
	return context.WithValue(Default(ctx), requestDataKey{}, rd)
}

func GetRequestData(ctx context.Context) *RequestData {
	if ctx == nil {
		return nil
	}
	rd, _ := ctx.Value(requestDataKey{}).(*RequestData)
	return rd
}

type traceDataKey struct{}

// TraceData carries correlation ids for logs and response headers.
type TraceData struct {
	TraceID   string
	RequestID string
}

func WithTraceData(ctx context.Context, td *TraceData) context.Context {
	return context.WithValue(Default(ctx), traceDataKey{}, td)
}

func GetTraceData(ctx context.Context) *TraceData {
	if ctx == nil {
		return nil
	}
	td, _ := ctx.Value(traceDataKey{}).(*TraceData)
	return td
}
