package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"zervios-cms/internal/instrument"
	"zervios-cms/internal/metadata"
	"zervios-cms/internal/store"
)

// Resolver expands stored references into the documents they point at.
// Expansion is bounded by depth and by the chain of documents already being
// expanded, so cyclic relation graphs terminate. A reference whose target is
// gone becomes an unresolved marker and one that cannot be loaded stays a plain
// reference; neither fails the read.
type Resolver struct {
	store        store.Adapter
	logger       zerolog.Logger
	defaultDepth int
	maxDepth     int
	concurrency  int
}

func NewResolver(s store.Adapter, logger zerolog.Logger, defaultDepth, maxDepth, concurrency int) *Resolver {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Resolver{
		store:        s,
		logger:       logger,
		defaultDepth: defaultDepth,
		maxDepth:     maxDepth,
		concurrency:  concurrency,
	}
}

// Depth maps a requested depth to the effective one. A negative request
// selects the default; requests above the maximum are capped.
func (r *Resolver) Depth(requested int) int {
	if requested < 0 {
		requested = r.defaultDepth
	}
	if requested > r.maxDepth {
		return r.maxDepth
	}
	return requested
}

// Unresolved is the marker left in place of a reference whose target no
// longer exists.
func Unresolved(id, relationTo string) map[string]any {
	return map[string]any{"id": id, "relationTo": relationTo, "unresolved": true}
}

// IsUnresolved reports whether v is an unresolved marker.
func IsUnresolved(v any) bool {
	m, ok := v.(map[string]any)
	if !ok {
		return false
	}
	flag, _ := m["unresolved"].(bool)
	return flag
}

// Expand replaces the references of a presented document in place.
func (r *Resolver) Expand(ctx context.Context, reg *metadata.Registry, schema metadata.Schema, doc map[string]any, depth int, id metadata.Identity) error {
	if depth <= 0 {
		return nil
	}
	chain := map[string]bool{}
	if docID, ok := doc["id"].(string); ok && !schema.IsGlobal() {
		chain[refKey(schema.Def().Slug, docID)] = true
	}
	return r.expand(ctx, reg, schema.Def().Slug, schema.Def().Fields, doc, depth, chain, id)
}

// slot is one reference to resolve and the setter that writes the result back.
type slot struct {
	path  string
	field *metadata.Field
	ref   any
	set   func(any)
}

func (r *Resolver) expand(ctx context.Context, reg *metadata.Registry, schemaSlug string, fields []metadata.Field, doc map[string]any, depth int, chain map[string]bool, id metadata.Identity) error {
	var slots []slot
	collectSlots("", fields, doc, &slots)
	if len(slots) == 0 {
		return nil
	}

	results := make([]any, len(slots))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i := range slots {
		i := i
		g.Go(func() error {
			v, err := r.resolveOne(gctx, reg, schemaSlug, slots[i], depth, chain, id)
			if err != nil {
				return err
			}
			results[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for i, s := range slots {
		s.set(results[i])
	}
	return nil
}

func collectSlots(prefix string, fields []metadata.Field, doc map[string]any, slots *[]slot) {
	for i := range fields {
		f := &fields[i]
		val, ok := doc[f.Name]
		if !ok || val == nil {
			continue
		}
		path := prefix + f.Name
		switch {
		case f.Type.IsReference():
			if list, isList := val.([]any); isList {
				for j := range list {
					j := j
					*slots = append(*slots, slot{path: path, field: f, ref: list[j], set: func(v any) { list[j] = v }})
				}
				continue
			}
			name := f.Name
			*slots = append(*slots, slot{path: path, field: f, ref: val, set: func(v any) { doc[name] = v }})
		case f.Type == metadata.FieldArray:
			rows, _ := val.([]any)
			for _, row := range rows {
				if m, ok := row.(map[string]any); ok {
					collectSlots(path+".", f.Fields, m, slots)
				}
			}
		}
	}
}

func (r *Resolver) resolveOne(ctx context.Context, reg *metadata.Registry, schemaSlug string, s slot, depth int, chain map[string]bool, id metadata.Identity) (any, error) {
	refID, relationTo := splitRef(s.ref, s.field.RelationTo)
	if refID == "" {
		return s.ref, nil
	}
	key := refKey(relationTo, refID)
	if chain[key] {
		return reference(refID, relationTo), nil
	}

	target, err := reg.Collection(relationTo)
	if err != nil {
		return reference(refID, relationTo), nil
	}
	doc, err := r.store.Get(ctx, relationTo, refID)
	if errors.Is(err, store.ErrNotFound) {
		instrument.GetRecorder(ctx).DanglingReference(schemaSlug, s.path, relationTo)
		r.logger.Warn().
			Str("schema", schemaSlug).
			Str("field", s.path).
			Str("target", relationTo).
			Str("id", refID).
			Str("trace_id", instrument.GetTraceID(ctx)).
			Msg("dangling reference")
		return Unresolved(refID, relationTo), nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("expand %s.%s: %w", schemaSlug, s.path, ctx.Err())
		}
		// the reference stays as stored; siblings resolve on their own
		instrument.GetRecorder(ctx).ReferenceError(schemaSlug, s.path, relationTo)
		r.logger.Error().Err(err).
			Str("schema", schemaSlug).
			Str("field", s.path).
			Str("target", relationTo).
			Str("id", refID).
			Str("trace_id", instrument.GetTraceID(ctx)).
			Msg("reference lookup failed")
		return reference(refID, relationTo), nil
	}

	// unreadable targets stay references
	if d := Evaluate(target, metadata.OpRead, id); !d.Allowed() ||
		(d.Kind == metadata.DecisionScoped && !metadata.MatchAll(d.Scope, doc.Lookup)) {
		return reference(refID, relationTo), nil
	}

	presented := Present(&target.Definition, doc)
	if depth > 1 {
		next := make(map[string]bool, len(chain)+1)
		for k := range chain {
			next[k] = true
		}
		next[key] = true
		if err := r.expand(ctx, reg, relationTo, target.Fields, presented, depth-1, next, id); err != nil {
			return nil, err
		}
	}
	return presented, nil
}

func splitRef(v any, defaultTarget string) (string, string) {
	switch ref := v.(type) {
	case string:
		return ref, defaultTarget
	case map[string]any:
		id, _ := ref["id"].(string)
		rel, _ := ref["relationTo"].(string)
		if rel == "" {
			rel = defaultTarget
		}
		return id, rel
	}
	return "", defaultTarget
}

func reference(id, relationTo string) map[string]any {
	return map[string]any{"id": id, "relationTo": relationTo}
}

func refKey(collection, id string) string {
	return collection + "/" + id
}

// Present converts a stored document into its API form: visible fields plus
// id and timestamps. Hidden fields are dropped.
func Present(def *metadata.Definition, doc *store.Document) map[string]any {
	out := make(map[string]any, len(doc.Fields)+3)
	for k, v := range doc.Fields {
		if f := def.GetField(k); f != nil && f.Hidden {
			continue
		}
		out[k] = v
	}
	out["id"] = doc.ID
	out["createdAt"] = doc.CreatedAt.UTC().Format(time.RFC3339Nano)
	out["updatedAt"] = doc.UpdatedAt.UTC().Format(time.RFC3339Nano)
	return out
}
