package metadata

import (
	"fmt"
	"sort"
)

// Registry holds every collection and global keyed by slug. It is populated
// once, frozen, and read-only afterwards; reloads build a new Registry.
type Registry struct {
	collections map[string]*Collection
	globals     map[string]*Global
	order       []string
	frozen      bool
}

func NewRegistry() *Registry {
	return &Registry{
		collections: make(map[string]*Collection),
		globals:     make(map[string]*Global),
	}
}

// Registry lets a bare *Registry serve as a Source.
func (r *Registry) Registry() *Registry { return r }

// RegisterCollection adds a collection. Auth collections get their identity
// fields added here.
func (r *Registry) RegisterCollection(c *Collection) error {
	if err := r.checkRegister(&c.Definition); err != nil {
		return err
	}
	if c.Auth {
		c.Fields = withAuthFields(c.Fields)
	}
	if err := checkFields(c.Slug, "", c.Fields); err != nil {
		return err
	}
	r.collections[c.Slug] = c
	r.order = append(r.order, c.Slug)
	return nil
}

// RegisterGlobal adds a singleton schema.
func (r *Registry) RegisterGlobal(g *Global) error {
	if err := r.checkRegister(&g.Definition); err != nil {
		return err
	}
	if err := checkFields(g.Slug, "", g.Fields); err != nil {
		return err
	}
	r.globals[g.Slug] = g
	r.order = append(r.order, g.Slug)
	return nil
}

func (r *Registry) checkRegister(d *Definition) error {
	if r.frozen {
		return ErrRegistryFrozen
	}
	if d.Slug == "" {
		return &InvalidFieldError{Schema: "?", Field: "slug", Reason: "slug is required"}
	}
	if r.has(d.Slug) {
		return &DuplicateSlugError{Slug: d.Slug}
	}
	return nil
}

func (r *Registry) has(slug string) bool {
	_, isCollection := r.collections[slug]
	_, isGlobal := r.globals[slug]
	return isCollection || isGlobal
}

// Freeze checks cross-schema consistency (every reference target must be a
// registered collection) and makes the registry read-only.
func (r *Registry) Freeze() error {
	if r.frozen {
		return nil
	}
	for _, slug := range r.order {
		schema, _ := r.Resolve(slug)
		var firstErr error
		schema.Def().References(func(path string, f *Field) {
			if firstErr != nil {
				return
			}
			target, ok := r.collections[f.RelationTo]
			if !ok {
				firstErr = &InvalidFieldError{Schema: slug, Field: path,
					Reason: fmt.Sprintf("relationTo %q is not a registered collection", f.RelationTo)}
				return
			}
			if f.Type == FieldUpload && target.Upload == nil {
				firstErr = &InvalidFieldError{Schema: slug, Field: path,
					Reason: fmt.Sprintf("upload field targets %q which is not an upload collection", f.RelationTo)}
			}
		})
		if firstErr != nil {
			return firstErr
		}
	}
	r.frozen = true
	return nil
}

// Frozen reports whether the registry is serving.
func (r *Registry) Frozen() bool { return r.frozen }

// Resolve returns the collection or global registered under slug.
func (r *Registry) Resolve(slug string) (Schema, error) {
	if c, ok := r.collections[slug]; ok {
		return c, nil
	}
	if g, ok := r.globals[slug]; ok {
		return g, nil
	}
	return nil, &UnknownSchemaError{Slug: slug}
}

// Collection returns the collection with the given slug. Globals do not resolve here.
func (r *Registry) Collection(slug string) (*Collection, error) {
	if c, ok := r.collections[slug]; ok {
		return c, nil
	}
	return nil, &UnknownSchemaError{Slug: slug}
}

// Global returns the global with the given slug.
func (r *Registry) Global(slug string) (*Global, error) {
	if g, ok := r.globals[slug]; ok {
		return g, nil
	}
	return nil, &UnknownSchemaError{Slug: slug}
}

// Collections returns all collections in registration order.
func (r *Registry) Collections() []*Collection {
	out := make([]*Collection, 0, len(r.collections))
	for _, slug := range r.order {
		if c, ok := r.collections[slug]; ok {
			out = append(out, c)
		}
	}
	return out
}

// Globals returns all globals in registration order.
func (r *Registry) Globals() []*Global {
	out := make([]*Global, 0, len(r.globals))
	for _, slug := range r.order {
		if g, ok := r.globals[slug]; ok {
			out = append(out, g)
		}
	}
	return out
}

// Slugs returns every registered slug, sorted.
func (r *Registry) Slugs() []string {
	slugs := append([]string(nil), r.order...)
	sort.Strings(slugs)
	return slugs
}

// UniqueFields returns, per collection, the top-level fields declared unique.
func (r *Registry) UniqueFields() map[string][]string {
	out := make(map[string][]string)
	for _, c := range r.Collections() {
		for _, f := range c.Fields {
			if f.Unique {
				out[c.Slug] = append(out[c.Slug], f.Name)
			}
		}
	}
	return out
}
