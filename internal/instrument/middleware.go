package instrument

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
)

// statusError is implemented by errors that carry their own HTTP status.
type statusError interface {
	error
	HTTPStatus() int
}

// Middleware returns a Fiber middleware that generates (or propagates) a trace
// ID, injects the recorder into the request context for downstream handlers,
// and records the request once it completes.
func Middleware(rec Recorder) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		// Get or generate trace ID from incoming header
		traceID := c.Get("X-Trace-ID")
		if traceID == "" {
			traceID = newUUID()
		}

		ctx := c.UserContext()
		ctx = WithTraceID(ctx, traceID)
		ctx = WithRecorder(ctx, rec)
		c.SetUserContext(ctx)
		c.Set("X-Trace-ID", traceID)

		err := c.Next()

		// Route path keeps label cardinality bounded (/api/:collection/:id).
		route := c.Route().Path
		status := c.Response().StatusCode()
		if err != nil {
			var fe *fiber.Error
			var se statusError
			switch {
			case errors.As(err, &se):
				status = se.HTTPStatus()
			case errors.As(err, &fe):
				status = fe.Code
			default:
				status = fiber.StatusInternalServerError
			}
		}
		rec.HTTPRequest(c.Method(), route, status, time.Since(start))
		return err
	}
}
