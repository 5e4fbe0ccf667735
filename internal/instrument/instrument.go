package instrument

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Context keys
type ctxKey int

const (
	traceIDKey ctxKey = iota
	recorderKey
)

// Outcomes reported for operations and seed records.
const (
	OutcomeOK      = "ok"
	OutcomeDenied  = "denied"
	OutcomeInvalid = "invalid"
	OutcomeError   = "error"
	OutcomeCreated = "created"
	OutcomeUpdated = "updated"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)

// Recorder receives the engine's observability signals.
type Recorder interface {
	Operation(schema, op, outcome string, d time.Duration)
	AccessDenied(schema, op string)
	DanglingReference(schema, field, target string)
	ReferenceError(schema, field, target string)
	SeedRecord(target, outcome string)
	SchemaReload(ok bool)
	HTTPRequest(method, route string, status int, d time.Duration)
}

// newUUID generates a new UUID v4 string.
func newUUID() string {
	return uuid.New().String()
}

// Context helpers

// WithTraceID sets the trace ID in the context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// GetTraceID returns the trace ID from the context.
func GetTraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceIDKey).(string); ok {
		return v
	}
	return ""
}

// WithRecorder sets the recorder in the context.
func WithRecorder(ctx context.Context, r Recorder) context.Context {
	return context.WithValue(ctx, recorderKey, r)
}

// GetRecorder returns the recorder from the context,
// or a NoopRecorder if none is set.
func GetRecorder(ctx context.Context) Recorder {
	if v, ok := ctx.Value(recorderKey).(Recorder); ok {
		return v
	}
	return NoopRecorder{}
}
