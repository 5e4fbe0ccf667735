package engine

import (
	"context"
	"fmt"
	"time"

	"zervios-cms/internal/metadata"
	"zervios-cms/internal/store"
)

// globalCollection is the store collection holding a global's single document.
func globalCollection(slug string) string {
	return "_global_" + slug
}

func (s *Service) global(reg *metadata.Registry, slug string) (*metadata.Global, error) {
	g, err := reg.Global(slug)
	if err != nil {
		return nil, toAppError(slug, "", err)
	}
	return g, nil
}

func (s *Service) loadGlobal(ctx context.Context, slug string) (*store.Document, error) {
	docs, err := s.store.Query(ctx, globalCollection(slug), store.Query{Limit: 1})
	if err != nil {
		return nil, fmt.Errorf("load global %s: %w", slug, err)
	}
	if len(docs) == 0 {
		return nil, nil
	}
	return docs[0], nil
}

// presentGlobal drops the storage id. A global that was never written has no
// timestamps.
func presentGlobal(g *metadata.Global, doc *store.Document) map[string]any {
	if doc == nil {
		return map[string]any{"globalType": g.Slug}
	}
	out := Present(&g.Definition, doc)
	delete(out, "id")
	out["globalType"] = g.Slug
	return out
}

// GlobalInitialized reports whether a presented global has ever been written.
func GlobalInitialized(doc map[string]any) bool {
	_, ok := doc["updatedAt"]
	return ok
}

// GetGlobal reads a global. Reading one that was never written yields an
// empty document rather than an error.
func (s *Service) GetGlobal(ctx context.Context, id metadata.Identity, slug string, depth int) (doc map[string]any, err error) {
	start := time.Now()
	defer func() { s.observe(ctx, slug, metadata.OpRead, start, err) }()

	reg := s.Registry()
	g, err := s.global(reg, slug)
	if err != nil {
		return nil, err
	}
	if _, err := Authorize(ctx, g, metadata.OpRead, id, nil); err != nil {
		return nil, err
	}
	stored, err := s.loadGlobal(ctx, slug)
	if err != nil {
		return nil, err
	}
	if stored != nil {
		if _, err := Authorize(ctx, g, metadata.OpRead, id, stored.Lookup); err != nil {
			return nil, err
		}
	}
	out := presentGlobal(g, stored)
	if err := s.resolver.Expand(ctx, reg, g, out, s.resolver.Depth(depth), id); err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateGlobal merges input into the global, writing it on first use.
// Required fields are checked on the merged document.
func (s *Service) UpdateGlobal(ctx context.Context, id metadata.Identity, slug string, input map[string]any) (doc map[string]any, err error) {
	start := time.Now()
	defer func() { s.observe(ctx, slug, metadata.OpUpdate, start, err) }()

	reg := s.Registry()
	g, err := s.global(reg, slug)
	if err != nil {
		return nil, err
	}
	if _, err := Authorize(ctx, g, metadata.OpUpdate, id, nil); err != nil {
		return nil, err
	}

	s.globalMu.Lock()
	defer s.globalMu.Unlock()

	existing, err := s.loadGlobal(ctx, slug)
	if err != nil {
		return nil, err
	}
	var base map[string]any
	decision := Evaluate(g, metadata.OpUpdate, id)
	if existing != nil {
		if decision, err = Authorize(ctx, g, metadata.OpUpdate, id, existing.Lookup); err != nil {
			return nil, err
		}
		base = existing.Fields
	}
	fields, err := s.validator.Validate(ctx, &g.Definition, input, base)
	if err != nil {
		return nil, err
	}
	if err := GuardRestricted(ctx, g, metadata.OpUpdate, decision, fields, base); err != nil {
		return nil, err
	}

	var stored *store.Document
	if existing == nil {
		stored, err = s.store.Insert(ctx, globalCollection(slug), fields)
	} else {
		stored, err = s.store.Update(ctx, globalCollection(slug), existing.ID, fields)
	}
	if err != nil {
		return nil, toAppError(slug, "", fmt.Errorf("write global %s: %w", slug, err))
	}
	return presentGlobal(g, stored), nil
}
