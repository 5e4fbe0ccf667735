package engine

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strconv"

	"zervios-cms/internal/metadata"
	"zervios-cms/internal/store"
)

// Validation rule names reported in ErrorDetail.Rule.
const (
	RuleRequired = "required"
	RuleType     = "type"
	RuleEnum     = "enum"
	RuleFormat   = "format"
	RuleRelation = "relation"
	RuleUnknown  = "unknown"
	RuleRestricted = "restricted"
)

// arrayRowID is the optional client-supplied identifier of an array row.
const arrayRowID = "id"

// systemKeys are rendered on every document and ignored when a client sends
// them back at the top level.
var systemKeys = map[string]bool{"id": true, "createdAt": true, "updatedAt": true, "globalType": true}

// Validator checks client payloads against a schema definition and returns
// them in stored form. Reference targets are looked up through the store.
type Validator struct {
	store         store.Adapter
	maxUploadSize int64
}

func NewValidator(s store.Adapter, maxUploadSize int64) *Validator {
	return &Validator{store: s, maxUploadSize: maxUploadSize}
}

// CheckUploadSize fails with PAYLOAD_TOO_LARGE when size exceeds the limit.
func (v *Validator) CheckUploadSize(size int64) error {
	if v.maxUploadSize > 0 && size > v.maxUploadSize {
		return PayloadTooLargeError(fmt.Sprintf("File of %d bytes exceeds the limit of %d bytes", size, v.maxUploadSize))
	}
	return nil
}

// Validate overlays input on base and returns the merged document. Only the
// keys of input are type checked; required fields are checked on the merged
// result. A nil value in input clears the field. Errors of all fields are
// collected into one VALIDATION_FAILED error, except that an oversized upload
// reference fails with PAYLOAD_TOO_LARGE.
func (v *Validator) Validate(ctx context.Context, def *metadata.Definition, input, base map[string]any) (map[string]any, error) {
	w := &walk{v: v, ctx: ctx}
	out := w.object("", def.Fields, input, base)
	if w.err != nil {
		return nil, w.err
	}
	if w.tooLarge != nil {
		return nil, w.tooLarge
	}
	if len(w.details) > 0 {
		return nil, ValidationError(w.details)
	}
	return out, nil
}

// walk carries the state of one validation pass.
type walk struct {
	v        *Validator
	ctx      context.Context
	details  []ErrorDetail
	tooLarge error
	err      error
}

func (w *walk) fail(path, rule, msg string) {
	w.details = append(w.details, ErrorDetail{Field: path, Rule: rule, Message: msg})
}

func (w *walk) object(prefix string, fields []metadata.Field, input, base map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, val := range base {
		out[k] = val
	}
	for key, raw := range input {
		f := findVisible(fields, key)
		if f == nil {
			if prefix == "" && systemKeys[key] {
				continue
			}
			if prefix != "" && key == arrayRowID {
				if _, ok := raw.(string); ok {
					out[key] = raw
					continue
				}
			}
			w.fail(prefix+key, RuleUnknown, fmt.Sprintf("%s is not a field of this schema", key))
			continue
		}
		if raw == nil {
			delete(out, key)
			continue
		}
		if val, ok := w.value(prefix+key, f, raw); ok {
			out[key] = val
		}
	}
	for i := range fields {
		f := &fields[i]
		// a rejected non-empty input already carries its own detail
		if f.Required && !f.Hidden && isEmpty(out[f.Name]) && isEmpty(input[f.Name]) {
			w.fail(prefix+f.Name, RuleRequired, fmt.Sprintf("%s is required", f.Name))
		}
	}
	return out
}

func (w *walk) value(path string, f *metadata.Field, raw any) (any, bool) {
	switch f.Type {
	case metadata.FieldText, metadata.FieldTextarea:
		s, ok := raw.(string)
		if !ok {
			w.fail(path, RuleType, fmt.Sprintf("%s must be a string", f.Name))
		}
		return s, ok
	case metadata.FieldEmail:
		s, ok := raw.(string)
		if !ok {
			w.fail(path, RuleType, fmt.Sprintf("%s must be a string", f.Name))
			return nil, false
		}
		if s == "" {
			return s, true
		}
		addr, err := mail.ParseAddress(s)
		if err != nil || addr.Address != s {
			w.fail(path, RuleFormat, fmt.Sprintf("%s must be a valid email address", f.Name))
			return nil, false
		}
		return s, true
	case metadata.FieldNumber:
		n, ok := toNumber(raw)
		if !ok {
			w.fail(path, RuleType, fmt.Sprintf("%s must be a number", f.Name))
		}
		return n, ok
	case metadata.FieldSelect:
		if f.HasMany {
			return w.many(path, f, raw, w.option)
		}
		return w.option(path, f, raw)
	case metadata.FieldRelationship, metadata.FieldUpload:
		if f.HasMany {
			return w.many(path, f, raw, w.reference)
		}
		return w.reference(path, f, raw)
	case metadata.FieldArray:
		return w.array(path, f, raw)
	}
	w.fail(path, RuleType, fmt.Sprintf("%s has unsupported type %s", f.Name, f.Type))
	return nil, false
}

func (w *walk) many(path string, f *metadata.Field, raw any, one func(string, *metadata.Field, any) (any, bool)) (any, bool) {
	list, ok := asList(raw)
	if !ok {
		w.fail(path, RuleType, fmt.Sprintf("%s must be a list", f.Name))
		return nil, false
	}
	out := make([]any, 0, len(list))
	valid := true
	for i, item := range list {
		val, ok := one(path+"."+strconv.Itoa(i), f, item)
		if !ok {
			valid = false
			continue
		}
		out = append(out, val)
	}
	return out, valid
}

func (w *walk) option(path string, f *metadata.Field, raw any) (any, bool) {
	s, ok := raw.(string)
	if !ok {
		w.fail(path, RuleType, fmt.Sprintf("%s must be a string", f.Name))
		return nil, false
	}
	if !f.HasOption(s) {
		w.fail(path, RuleEnum, fmt.Sprintf("%q is not an option of %s", s, f.Name))
		return nil, false
	}
	return s, true
}

// reference accepts an id string or an object carrying id (and optionally a
// matching relationTo) and stores the normalized {"id", "relationTo"} form.
func (w *walk) reference(path string, f *metadata.Field, raw any) (any, bool) {
	var id string
	switch ref := raw.(type) {
	case string:
		id = ref
	case map[string]any:
		id, _ = ref["id"].(string)
		if rel, ok := ref["relationTo"]; ok && rel != f.RelationTo {
			w.fail(path, RuleRelation, fmt.Sprintf("%s must reference %s", f.Name, f.RelationTo))
			return nil, false
		}
	}
	if id == "" {
		w.fail(path, RuleType, fmt.Sprintf("%s must be a document id", f.Name))
		return nil, false
	}

	target, err := w.v.store.Get(w.ctx, f.RelationTo, id)
	if errors.Is(err, store.ErrNotFound) {
		w.fail(path, RuleRelation, fmt.Sprintf("%s %s does not exist", f.RelationTo, id))
		return nil, false
	}
	if err != nil {
		if w.err == nil {
			w.err = fmt.Errorf("resolve %s %s: %w", f.RelationTo, id, err)
		}
		return nil, false
	}
	if f.Type == metadata.FieldUpload && w.tooLarge == nil {
		if size, ok := toNumber(target.Fields["filesize"]); ok {
			w.tooLarge = w.v.CheckUploadSize(int64(size))
		}
	}
	return map[string]any{"id": id, "relationTo": f.RelationTo}, true
}

func (w *walk) array(path string, f *metadata.Field, raw any) (any, bool) {
	list, ok := asList(raw)
	if !ok {
		w.fail(path, RuleType, fmt.Sprintf("%s must be a list", f.Name))
		return nil, false
	}
	before := len(w.details)
	rows := make([]any, 0, len(list))
	for i, item := range list {
		rowPath := path + "." + strconv.Itoa(i)
		row, ok := item.(map[string]any)
		if !ok {
			w.fail(rowPath, RuleType, fmt.Sprintf("%s rows must be objects", f.Name))
			continue
		}
		rows = append(rows, w.object(rowPath+".", f.Fields, row, nil))
	}
	return rows, len(w.details) == before
}

func findVisible(fields []metadata.Field, name string) *metadata.Field {
	for i := range fields {
		if fields[i].Name == name && !fields[i].Hidden {
			return &fields[i]
		}
	}
	return nil
}

func isEmpty(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == ""
	case []any:
		return len(val) == 0
	}
	return false
}

func asList(v any) ([]any, bool) {
	switch list := v.(type) {
	case []any:
		return list, true
	case []string:
		out := make([]any, len(list))
		for i, s := range list {
			out[i] = s
		}
		return out, true
	case []map[string]any:
		out := make([]any, len(list))
		for i, m := range list {
			out[i] = m
		}
		return out, true
	}
	return nil, false
}

func toNumber(v any) (float64, bool) {
	if _, isString := v.(string); isString {
		return 0, false
	}
	return metadata.ToFloat(v)
}
