package engine

import (
	"context"
	"fmt"
	"reflect"

	"zervios-cms/internal/instrument"
	"zervios-cms/internal/metadata"
)

// Evaluate applies the schema's rule for op to the identity. An operation
// without a rule is denied; rules of one operation never stand in for another.
func Evaluate(s metadata.Schema, op metadata.Operation, id metadata.Identity) metadata.Decision {
	rule := s.Rule(op)
	if rule == nil {
		return metadata.Deny()
	}
	return rule(id)
}

// Authorize evaluates access and, when a candidate document is given, checks
// a scoped decision against it. The decision is returned so list queries can
// narrow themselves by its scope.
func Authorize(ctx context.Context, s metadata.Schema, op metadata.Operation, id metadata.Identity, candidate metadata.Lookup) (metadata.Decision, error) {
	slug := s.Def().Slug
	d := Evaluate(s, op, id)
	if !d.Allowed() || (candidate != nil && d.Kind == metadata.DecisionScoped && !metadata.MatchAll(d.Scope, candidate)) {
		instrument.GetRecorder(ctx).AccessDenied(slug, string(op))
		return metadata.Deny(), AccessDeniedError(slug, op)
	}
	return d, nil
}

// fieldsLookup exposes a payload that has no stored id yet.
func fieldsLookup(fields map[string]any) metadata.Lookup {
	return func(path string) (any, bool) {
		return metadata.LookupPath(fields, path)
	}
}

// GuardRestricted rejects a change to a restricted top-level field when the
// caller was only granted a scoped decision. Values equal to base pass, so a
// document can be sent back unchanged.
func GuardRestricted(ctx context.Context, s metadata.Schema, op metadata.Operation, d metadata.Decision, fields, base map[string]any) error {
	if d.Kind != metadata.DecisionScoped {
		return nil
	}
	def := s.Def()
	for i := range def.Fields {
		f := &def.Fields[i]
		if !f.Restricted {
			continue
		}
		next, present := fields[f.Name]
		prev, had := base[f.Name]
		if present == had && reflect.DeepEqual(next, prev) {
			continue
		}
		instrument.GetRecorder(ctx).AccessDenied(def.Slug, string(op))
		return &AppError{
			Code:    CodeAccessDenied,
			Status:  403,
			Message: fmt.Sprintf("You are not allowed to change %s.%s", def.Slug, f.Name),
			Details: []ErrorDetail{{Field: f.Name, Rule: RuleRestricted, Message: "only administrators may change this field"}},
		}
	}
	return nil
}
