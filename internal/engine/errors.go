package engine

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"zervios-cms/internal/metadata"
	"zervios-cms/internal/store"
)

type AppError struct {
	Code    string        `json:"code"`
	Status  int           `json:"-"`
	Message string        `json:"message"`
	Details []ErrorDetail `json:"details,omitempty"`
}

type ErrorDetail struct {
	Field   string `json:"field,omitempty"`
	Rule    string `json:"rule,omitempty"`
	Message string `json:"message"`
}

func (e *AppError) Error() string {
	return e.Message
}

// HTTPStatus lets transport middleware read the status without importing engine.
func (e *AppError) HTTPStatus() int {
	return e.Status
}

type ErrorResponse struct {
	Error *AppError `json:"error"`
}

// Error codes carried in the response envelope.
const (
	CodeUnknownSchema   = "UNKNOWN_SCHEMA"
	CodeAccessDenied    = "ACCESS_DENIED"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeValidation      = "VALIDATION_FAILED"
	CodePayloadTooLarge = "PAYLOAD_TOO_LARGE"
	CodeNotFound        = "NOT_FOUND"
	CodeConflict        = "CONFLICT"
	CodeInvalidPayload  = "INVALID_PAYLOAD"
	CodeUnknownField    = "UNKNOWN_FIELD"
	CodeInternal        = "INTERNAL_ERROR"
)

func NewAppError(code string, status int, msg string) *AppError {
	return &AppError{Code: code, Status: status, Message: msg}
}

func NotFoundError(schema, id string) *AppError {
	return &AppError{
		Code:    CodeNotFound,
		Status:  404,
		Message: fmt.Sprintf("%s with id %s not found", schema, id),
	}
}

func UnknownSchemaError(slug string) *AppError {
	return &AppError{
		Code:    CodeUnknownSchema,
		Status:  404,
		Message: fmt.Sprintf("Unknown schema: %s", slug),
	}
}

func ValidationError(details []ErrorDetail) *AppError {
	return &AppError{
		Code:    CodeValidation,
		Status:  422,
		Message: "Validation failed",
		Details: details,
	}
}

func AccessDeniedError(schema string, op metadata.Operation) *AppError {
	return &AppError{
		Code:    CodeAccessDenied,
		Status:  403,
		Message: fmt.Sprintf("You are not allowed to %s %s", op, schema),
	}
}

func UnauthorizedError(msg string) *AppError {
	return &AppError{Code: CodeUnauthorized, Status: 401, Message: msg}
}

func PayloadTooLargeError(msg string) *AppError {
	return &AppError{Code: CodePayloadTooLarge, Status: 413, Message: msg}
}

func ConflictError(msg string) *AppError {
	return &AppError{Code: CodeConflict, Status: 409, Message: msg}
}

func InvalidPayloadError(msg string) *AppError {
	return &AppError{Code: CodeInvalidPayload, Status: 400, Message: msg}
}

// IsCode reports whether err is an *AppError with the given code.
func IsCode(err error, code string) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

// toAppError converts errors from the registry and the store into their
// request-time form. Unknown errors are returned unchanged.
func toAppError(schema, id string, err error) error {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	var unknown *metadata.UnknownSchemaError
	switch {
	case errors.As(err, &unknown):
		return UnknownSchemaError(unknown.Slug)
	case errors.Is(err, store.ErrNotFound):
		return NotFoundError(schema, id)
	case errors.Is(err, store.ErrUniqueViolation):
		return ConflictError(uniqueMessage(err))
	}
	return err
}

func uniqueMessage(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Detail != "" {
		return pgErr.Detail
	}
	return "A document with this value already exists"
}
