package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"zervios-cms/internal/metadata"
)

const selectColumns = "id, %s, created_at, updated_at"

// NewID returns a time-ordered document id.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func (s *Store) Insert(ctx context.Context, collection string, fields map[string]any) (*Document, error) {
	data, err := json.Marshal(nonNil(fields))
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	now := time.Now().UTC()
	doc := &Document{Collection: collection, ID: NewID(), CreatedAt: now, UpdatedAt: now}
	if doc.Fields, err = decodeFields(data); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}

	pb := s.Dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf("INSERT INTO _documents (collection, id, data, created_at, updated_at) VALUES (%s, %s, %s, %s, %s)",
		pb.Add(collection), pb.Add(doc.ID), s.Dialect.JSONParam(pb.Add(string(data))),
		pb.Add(s.Dialect.TimeParam(now)), pb.Add(s.Dialect.TimeParam(now)))
	if _, err := s.exec(ctx, sqlStr, pb.Params()...); err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *Store) Get(ctx context.Context, collection, id string) (*Document, error) {
	pb := s.Dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf("SELECT "+selectColumns+" FROM _documents WHERE collection = %s AND id = %s",
		s.Dialect.DataSelect(), pb.Add(collection), pb.Add(id))
	docs, err := s.queryDocuments(ctx, collection, sqlStr, pb.Params()...)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, ErrNotFound
	}
	return docs[0], nil
}

// Query answers q in SQL when every condition and sort key has an exact SQL
// form for the rows stored. Otherwise string equality is pushed down as a
// prefilter and Apply evaluates the full query on the candidates, so every
// adapter answers a Query identically.
func (s *Store) Query(ctx context.Context, collection string, q Query) ([]*Document, error) {
	docs, exact, err := s.queryExact(ctx, collection, q)
	if err != nil || exact {
		return docs, err
	}
	docs, err = s.candidates(ctx, collection, q.Where)
	if err != nil {
		return nil, err
	}
	return Apply(docs, q), nil
}

func (s *Store) Count(ctx context.Context, collection string, where []metadata.Condition) (int, error) {
	n, exact, err := s.countExact(ctx, collection, where)
	if err != nil || exact {
		return n, err
	}
	docs, err := s.candidates(ctx, collection, where)
	if err != nil {
		return 0, err
	}
	return len(Filter(docs, where)), nil
}

func (s *Store) candidates(ctx context.Context, collection string, where []metadata.Condition) ([]*Document, error) {
	pb := s.Dialect.NewParamBuilder()
	clauses := []string{"collection = " + pb.Add(collection)}
	for _, c := range where {
		if clause := s.prefilter(pb, c); clause != "" {
			clauses = append(clauses, clause)
		}
	}
	sqlStr := fmt.Sprintf("SELECT "+selectColumns+" FROM _documents WHERE %s ORDER BY created_at, id",
		s.Dialect.DataSelect(), strings.Join(clauses, " AND "))

	return s.queryDocuments(ctx, collection, sqlStr, pb.Params()...)
}

// prefilter returns a clause that keeps at least every row matching c, or ""
// when c cannot be expressed safely. Rows without a string at the path
// (arrays, numbers, references, paths through array rows) pass the prefilter
// and are decided by Apply.
func (s *Store) prefilter(pb ParamBuilder, c metadata.Condition) string {
	op, _ := metadata.NormalizeOperator(c.Operator)
	value, isString := c.Value.(string)
	if op != metadata.OpEquals || !isString {
		return ""
	}
	if c.Field == "id" {
		return "id = " + pb.Add(value)
	}
	path := strings.Split(c.Field, ".")
	for _, seg := range path {
		if !isIdent(seg) {
			return ""
		}
	}
	return fmt.Sprintf("(%s = %s OR NOT COALESCE(%s, FALSE))", s.Dialect.TextAt(path), pb.Add(value), s.Dialect.IsStringAt(path))
}

func (s *Store) Update(ctx context.Context, collection, id string, fields map[string]any) (*Document, error) {
	data, err := json.Marshal(nonNil(fields))
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	pb := s.Dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf("UPDATE _documents SET data = %s, updated_at = %s WHERE collection = %s AND id = %s",
		s.Dialect.JSONParam(pb.Add(string(data))), pb.Add(s.Dialect.TimeParam(time.Now().UTC())),
		pb.Add(collection), pb.Add(id))
	n, err := s.exec(ctx, sqlStr, pb.Params()...)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, ErrNotFound
	}
	return s.Get(ctx, collection, id)
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	pb := s.Dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf("DELETE FROM _documents WHERE collection = %s AND id = %s", pb.Add(collection), pb.Add(id))
	n, err := s.exec(ctx, sqlStr, pb.Params()...)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// EnsureUnique creates a partial unique index over one field of one collection.
func (s *Store) EnsureUnique(ctx context.Context, collection, field string) error {
	if !isSlug(collection) || !isIdent(field) {
		return fmt.Errorf("unique index %s.%s: unsupported name", collection, field)
	}
	if _, err := s.DB.ExecContext(ctx, s.Dialect.UniqueIndexSQL(collection, field)); err != nil {
		return fmt.Errorf("unique index %s.%s: %w", collection, field, MapError(s.Dialect, err))
	}
	return nil
}

func nonNil(fields map[string]any) map[string]any {
	if fields == nil {
		return map[string]any{}
	}
	return fields
}
