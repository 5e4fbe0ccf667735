package metadata

import (
	"errors"
	"fmt"
)

// ErrRegistryFrozen is returned when registering into a registry that is already serving.
var ErrRegistryFrozen = errors.New("registry is frozen")

// UnknownSchemaError is returned by Resolve for slugs that were never registered.
type UnknownSchemaError struct {
	Slug string
}

func (e *UnknownSchemaError) Error() string {
	return fmt.Sprintf("unknown schema: %s", e.Slug)
}

// DuplicateSlugError is returned when a collection or global reuses a slug.
// Collections and globals share one slug namespace.
type DuplicateSlugError struct {
	Slug string
}

func (e *DuplicateSlugError) Error() string {
	return fmt.Sprintf("duplicate schema slug: %s", e.Slug)
}

// InvalidFieldError describes a field definition that cannot be served.
type InvalidFieldError struct {
	Schema string
	Field  string
	Reason string
}

func (e *InvalidFieldError) Error() string {
	return fmt.Sprintf("invalid field %s.%s: %s", e.Schema, e.Field, e.Reason)
}
