package metadata

import "fmt"

// FieldType is the closed set of field kinds the engine knows how to validate,
// store and expand.
type FieldType string

const (
	FieldText         FieldType = "text"
	FieldTextarea     FieldType = "textarea"
	FieldEmail        FieldType = "email"
	FieldNumber       FieldType = "number"
	FieldSelect       FieldType = "select"
	FieldRelationship FieldType = "relationship"
	FieldUpload       FieldType = "upload"
	FieldArray        FieldType = "array"
)

// Valid reports whether t is one of the known field types.
func (t FieldType) Valid() bool {
	switch t {
	case FieldText, FieldTextarea, FieldEmail, FieldNumber, FieldSelect,
		FieldRelationship, FieldUpload, FieldArray:
		return true
	}
	return false
}

// IsReference is true for field types whose value points at another document.
func (t FieldType) IsReference() bool {
	return t == FieldRelationship || t == FieldUpload
}

// Option is one entry of a select field.
type Option struct {
	Label string `json:"label" yaml:"label"`
	Value string `json:"value" yaml:"value"`
}

type Field struct {
	Name       string    `json:"name" yaml:"name"`
	Type       FieldType `json:"type" yaml:"type"`
	Required   bool      `json:"required,omitempty" yaml:"required"`
	Unique     bool      `json:"unique,omitempty" yaml:"unique"`
	HasMany    bool      `json:"hasMany,omitempty" yaml:"hasMany"`
	RelationTo string    `json:"relationTo,omitempty" yaml:"relationTo"`
	Options    []Option  `json:"options,omitempty" yaml:"options"`
	Fields     []Field   `json:"fields,omitempty" yaml:"fields"` // element schema for array fields
	Hidden     bool      `json:"hidden,omitempty" yaml:"hidden"` // stored, never exposed or client-writable
	Restricted bool      `json:"restricted,omitempty" yaml:"restricted"` // only unscoped writers may change it
}

// HasOption reports whether v is one of the select options.
func (f *Field) HasOption(v string) bool {
	for _, o := range f.Options {
		if o.Value == v {
			return true
		}
	}
	return false
}

// GetField returns the element sub-field with the given name, or nil.
func (f *Field) GetField(name string) *Field {
	return findField(f.Fields, name)
}

// check verifies the definition-time constraints of a single field. Relation
// targets are only checked for presence here; their existence is checked when
// the registry is frozen.
func (f *Field) check(schema, path string) error {
	if f.Name == "" {
		return &InvalidFieldError{Schema: schema, Field: path, Reason: "name is required"}
	}
	if !f.Type.Valid() {
		return &InvalidFieldError{Schema: schema, Field: path, Reason: fmt.Sprintf("unknown type %q", f.Type)}
	}
	switch f.Type {
	case FieldRelationship, FieldUpload:
		if f.RelationTo == "" {
			return &InvalidFieldError{Schema: schema, Field: path, Reason: "relationTo is required for " + string(f.Type) + " fields"}
		}
	case FieldSelect:
		if len(f.Options) == 0 {
			return &InvalidFieldError{Schema: schema, Field: path, Reason: "select fields need at least one option"}
		}
		seen := make(map[string]bool, len(f.Options))
		for _, o := range f.Options {
			if seen[o.Value] {
				return &InvalidFieldError{Schema: schema, Field: path, Reason: fmt.Sprintf("duplicate option %q", o.Value)}
			}
			seen[o.Value] = true
		}
	case FieldArray:
		if len(f.Fields) == 0 {
			return &InvalidFieldError{Schema: schema, Field: path, Reason: "array fields need an element schema"}
		}
		if err := checkFields(schema, path+".", f.Fields); err != nil {
			return err
		}
	}
	if f.RelationTo != "" && !f.Type.IsReference() {
		return &InvalidFieldError{Schema: schema, Field: path, Reason: "relationTo is only allowed on relationship and upload fields"}
	}
	if len(f.Options) > 0 && f.Type != FieldSelect {
		return &InvalidFieldError{Schema: schema, Field: path, Reason: "options are only allowed on select fields"}
	}
	return nil
}

func checkFields(schema, prefix string, fields []Field) error {
	seen := make(map[string]bool, len(fields))
	for i := range fields {
		f := &fields[i]
		path := prefix + f.Name
		if seen[f.Name] {
			return &InvalidFieldError{Schema: schema, Field: path, Reason: "duplicate field name"}
		}
		seen[f.Name] = true
		if err := f.check(schema, path); err != nil {
			return err
		}
	}
	return nil
}

func findField(fields []Field, name string) *Field {
	for i := range fields {
		if fields[i].Name == name {
			return &fields[i]
		}
	}
	return nil
}

// walkReferences calls fn for every relationship/upload field, descending into
// array element schemas.
func walkReferences(prefix string, fields []Field, fn func(path string, f *Field)) {
	for i := range fields {
		f := &fields[i]
		switch {
		case f.Type.IsReference():
			fn(prefix+f.Name, f)
		case f.Type == FieldArray:
			walkReferences(prefix+f.Name+".", f.Fields, fn)
		}
	}
}
