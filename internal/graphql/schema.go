// Package graphql derives a read-only GraphQL schema from the registry. Every
// collection becomes an object type with a by-id query, a paginated list query
// and, for auth collections, a "me" query; every global becomes a singleton
// query. Relationship fields are typed as their target collection and are
// expanded by the engine to the requested depth.
package graphql

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"unicode"

	gql "github.com/graphql-go/graphql"
	"github.com/rs/zerolog"

	"zervios-cms/internal/engine"
	"zervios-cms/internal/metadata"
)

var nameRe = regexp.MustCompile(`^[_A-Za-z][_0-9A-Za-z]*$`)

type identityKey struct{}

// WithIdentity attaches the caller to the context resolvers run with.
func WithIdentity(ctx context.Context, id metadata.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

func identityFrom(ctx context.Context) metadata.Identity {
	if id, ok := ctx.Value(identityKey{}).(metadata.Identity); ok {
		return id
	}
	return metadata.Public
}

// TypeName converts a slug to its GraphQL type name ("blog-posts" -> "BlogPosts").
func TypeName(slug string) string {
	parts := strings.FieldsFunc(slug, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	var b strings.Builder
	for _, p := range parts {
		b.WriteString(strings.ToUpper(p[:1]))
		b.WriteString(p[1:])
	}
	return b.String()
}

type builder struct {
	svc     *engine.Service
	logger  zerolog.Logger
	reg     *metadata.Registry
	objects map[string]*gql.Object
	where   *gql.InputObject
}

// BuildSchema generates the schema for reg. Resolvers read through svc, so
// access rules and relationship expansion behave exactly as over REST.
func BuildSchema(reg *metadata.Registry, svc *engine.Service, logger zerolog.Logger) (gql.Schema, error) {
	b := &builder{
		svc:     svc,
		logger:  logger,
		reg:     reg,
		objects: make(map[string]*gql.Object),
		where: gql.NewInputObject(gql.InputObjectConfig{
			Name: "WhereCondition",
			Fields: gql.InputObjectConfigFieldMap{
				"field":    &gql.InputObjectFieldConfig{Type: gql.NewNonNull(gql.String)},
				"operator": &gql.InputObjectFieldConfig{Type: gql.String, DefaultValue: metadata.OpEquals},
				"value":    &gql.InputObjectFieldConfig{Type: gql.String},
			},
		}),
	}

	// Objects are created up front so relationship thunks can refer to any
	// collection, including their own.
	for _, c := range reg.Collections() {
		b.objects[c.Slug] = b.documentObject(c)
	}

	query := gql.Fields{}
	for _, c := range reg.Collections() {
		b.addCollectionQueries(query, c)
	}
	for _, g := range reg.Globals() {
		b.addGlobalQuery(query, g)
	}
	if len(query) == 0 {
		query["_empty"] = &gql.Field{Type: gql.Boolean}
	}

	return gql.NewSchema(gql.SchemaConfig{
		Query: gql.NewObject(gql.ObjectConfig{Name: "Query", Fields: query}),
	})
}

func (b *builder) documentObject(c *metadata.Collection) *gql.Object {
	name := TypeName(c.Slug)
	return gql.NewObject(gql.ObjectConfig{
		Name:        name,
		Description: c.Label,
		Fields: gql.FieldsThunk(func() gql.Fields {
			fields := gql.Fields{
				"id":         &gql.Field{Type: gql.NewNonNull(gql.ID)},
				"createdAt":  &gql.Field{Type: gql.String},
				"updatedAt":  &gql.Field{Type: gql.String},
				"unresolved": &gql.Field{Type: gql.Boolean, Description: "Set when the referenced document no longer exists."},
			}
			b.addFields(fields, name, c.VisibleFields())
			return fields
		}),
	})
}

func (b *builder) globalObject(g *metadata.Global) *gql.Object {
	name := TypeName(g.Slug)
	return gql.NewObject(gql.ObjectConfig{
		Name:        name,
		Description: g.Label,
		Fields: gql.FieldsThunk(func() gql.Fields {
			fields := gql.Fields{
				"globalType": &gql.Field{Type: gql.NewNonNull(gql.String)},
				"createdAt":  &gql.Field{Type: gql.String},
				"updatedAt":  &gql.Field{Type: gql.String},
			}
			b.addFields(fields, name, g.VisibleFields())
			return fields
		}),
	})
}

// addFields maps schema fields onto GraphQL fields. Declared fields win over
// the built-in ones of the same name.
func (b *builder) addFields(out gql.Fields, owner string, fields []metadata.Field) {
	for _, f := range fields {
		if !nameRe.MatchString(f.Name) || strings.HasPrefix(f.Name, "__") {
			b.logger.Warn().Str("type", owner).Str("field", f.Name).Msg("field name is not a valid GraphQL name, skipped")
			continue
		}
		out[f.Name] = b.field(owner, f)
	}
}

func (b *builder) field(owner string, f metadata.Field) *gql.Field {
	switch f.Type {
	case metadata.FieldNumber:
		return &gql.Field{Type: listOf(gql.Float, f.HasMany)}
	case metadata.FieldRelationship, metadata.FieldUpload:
		target, ok := b.objects[f.RelationTo]
		if !ok {
			return &gql.Field{Type: listOf(gql.ID, f.HasMany)}
		}
		return &gql.Field{Type: listOf(target, f.HasMany), Resolve: resolveReference}
	case metadata.FieldArray:
		name := owner + TypeName(f.Name)
		row := gql.NewObject(gql.ObjectConfig{
			Name: name,
			Fields: gql.FieldsThunk(func() gql.Fields {
				fields := gql.Fields{"id": &gql.Field{Type: gql.ID}}
				b.addFields(fields, name, f.Fields)
				return fields
			}),
		})
		return &gql.Field{Type: gql.NewList(row)}
	default:
		return &gql.Field{Type: listOf(gql.String, f.HasMany)}
	}
}

func listOf(t gql.Output, many bool) gql.Output {
	if many {
		return gql.NewList(t)
	}
	return t
}

// resolveReference presents a relationship value as an object. Expanded
// documents pass through; bare references expose only their id.
func resolveReference(p gql.ResolveParams) (any, error) {
	src, ok := p.Source.(map[string]any)
	if !ok {
		return nil, nil
	}
	switch v := src[p.Info.FieldName].(type) {
	case []any:
		out := make([]any, 0, len(v))
		for _, item := range v {
			out = append(out, asObject(item))
		}
		return out, nil
	default:
		return asObject(v), nil
	}
}

func asObject(v any) any {
	switch ref := v.(type) {
	case map[string]any:
		return ref
	case string:
		return map[string]any{"id": ref}
	}
	return nil
}

func (b *builder) addCollectionQueries(query gql.Fields, c *metadata.Collection) {
	slug := c.Slug
	name := TypeName(slug)
	obj := b.objects[slug]
	def := &c.Definition

	query[name] = &gql.Field{
		Type: obj,
		Args: gql.FieldConfigArgument{
			"id":    &gql.ArgumentConfig{Type: gql.NewNonNull(gql.ID)},
			"depth": &gql.ArgumentConfig{Type: gql.Int},
		},
		Resolve: func(p gql.ResolveParams) (any, error) {
			depth, err := depthArg(p)
			if err != nil {
				return nil, b.wrap(err)
			}
			id, _ := p.Args["id"].(string)
			doc, err := b.svc.FindByID(p.Context, identityFrom(p.Context), slug, id, depth)
			return doc, b.wrap(err)
		},
	}

	page := gql.NewObject(gql.ObjectConfig{
		Name: name + "Page",
		Fields: gql.Fields{
			"docs":       &gql.Field{Type: gql.NewNonNull(gql.NewList(obj))},
			"totalDocs":  &gql.Field{Type: gql.NewNonNull(gql.Int)},
			"limit":      &gql.Field{Type: gql.NewNonNull(gql.Int)},
			"page":       &gql.Field{Type: gql.NewNonNull(gql.Int)},
			"totalPages": &gql.Field{Type: gql.NewNonNull(gql.Int)},
		},
	})
	query["all"+name] = &gql.Field{
		Type: gql.NewNonNull(page),
		Args: gql.FieldConfigArgument{
			"where": &gql.ArgumentConfig{Type: gql.NewList(gql.NewNonNull(b.where))},
			"sort":  &gql.ArgumentConfig{Type: gql.String},
			"limit": &gql.ArgumentConfig{Type: gql.Int},
			"page":  &gql.ArgumentConfig{Type: gql.Int},
			"depth": &gql.ArgumentConfig{Type: gql.Int},
		},
		Resolve: func(p gql.ResolveParams) (any, error) {
			q, err := findQuery(def, p)
			if err != nil {
				return nil, b.wrap(err)
			}
			res, err := b.svc.Find(p.Context, identityFrom(p.Context), slug, q)
			if err != nil {
				return nil, b.wrap(err)
			}
			return map[string]any{
				"docs":       res.Docs,
				"totalDocs":  res.Total,
				"limit":      res.Limit,
				"page":       res.Page,
				"totalPages": res.TotalPages,
			}, nil
		},
	}

	if c.Auth {
		query["me"+name] = &gql.Field{
			Type: obj,
			Resolve: func(p gql.ResolveParams) (any, error) {
				doc, err := b.svc.Me(p.Context, identityFrom(p.Context), slug)
				if err != nil || doc == nil {
					return nil, b.wrap(err)
				}
				return doc, nil
			},
		}
	}
}

func (b *builder) addGlobalQuery(query gql.Fields, g *metadata.Global) {
	slug := g.Slug
	query[TypeName(slug)] = &gql.Field{
		Type: b.globalObject(g),
		Args: gql.FieldConfigArgument{
			"depth": &gql.ArgumentConfig{Type: gql.Int},
		},
		Resolve: func(p gql.ResolveParams) (any, error) {
			depth, err := depthArg(p)
			if err != nil {
				return nil, b.wrap(err)
			}
			doc, err := b.svc.GetGlobal(p.Context, identityFrom(p.Context), slug, depth)
			return doc, b.wrap(err)
		},
	}
}

func depthArg(p gql.ResolveParams) (int, error) {
	d, ok := p.Args["depth"].(int)
	if !ok {
		return -1, nil
	}
	if d < 0 {
		return 0, engine.InvalidPayloadError("depth must not be negative")
	}
	return d, nil
}

func findQuery(def *metadata.Definition, p gql.ResolveParams) (engine.FindQuery, error) {
	q := engine.FindQuery{Depth: -1}
	q.Sort, _ = p.Args["sort"].(string)
	q.Limit, _ = p.Args["limit"].(int)
	q.Page, _ = p.Args["page"].(int)
	if d, ok := p.Args["depth"].(int); ok {
		if d < 0 {
			return q, engine.InvalidPayloadError("depth must not be negative")
		}
		q.Depth = d
	}

	conds, _ := p.Args["where"].([]any)
	for _, raw := range conds {
		in, _ := raw.(map[string]any)
		field, _ := in["field"].(string)
		op, _ := in["operator"].(string)
		val, _ := in["value"].(string)
		if op == "" {
			op = metadata.OpEquals
		}
		cond, err := engine.BuildCondition(def, field, op, val)
		if err != nil {
			return q, err
		}
		q.Where = append(q.Where, cond)
	}
	return q, nil
}

// codedError carries the engine error code into the GraphQL error extensions.
type codedError struct {
	*engine.AppError
}

func (e codedError) Extensions() map[string]any {
	ext := map[string]any{"code": e.Code}
	if len(e.Details) > 0 {
		ext["details"] = e.Details
	}
	return ext
}

func (b *builder) wrap(err error) error {
	if err == nil {
		return nil
	}
	var appErr *engine.AppError
	if errors.As(err, &appErr) {
		return codedError{appErr}
	}
	b.logger.Error().Err(err).Msg("graphql resolver failed")
	return codedError{engine.NewAppError(engine.CodeInternal, 500, "Internal server error")}
}
