package instrument

import "time"

// NoopRecorder discards all signals. Used when metrics are disabled and in tests.
type NoopRecorder struct{}

func (NoopRecorder) Operation(schema, op, outcome string, d time.Duration)         {}
func (NoopRecorder) AccessDenied(schema, op string)                                {}
func (NoopRecorder) DanglingReference(schema, field, target string)                {}
func (NoopRecorder) ReferenceError(schema, field, target string)                   {}
func (NoopRecorder) SeedRecord(target, outcome string)                             {}
func (NoopRecorder) SchemaReload(ok bool)                                          {}
func (NoopRecorder) HTTPRequest(method, route string, status int, d time.Duration) {}
