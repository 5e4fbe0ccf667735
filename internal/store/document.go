package store

import (
	"context"
	"sort"
	"strings"
	"time"

	"zervios-cms/internal/metadata"
)

// Document is one stored record. Fields never contain id or timestamps; those
// live on the struct and are reachable through Lookup as id, createdAt and
// updatedAt.
type Document struct {
	Collection string
	ID         string
	Fields     map[string]any
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Lookup resolves a dotted path for condition matching and sorting.
func (d *Document) Lookup(path string) (any, bool) {
	switch path {
	case "id":
		return d.ID, true
	case "createdAt":
		return d.CreatedAt.UTC().Format(time.RFC3339Nano), true
	case "updatedAt":
		return d.UpdatedAt.UTC().Format(time.RFC3339Nano), true
	}
	return metadata.LookupPath(d.Fields, path)
}

// SortField orders query results by a field path.
type SortField struct {
	Field string
	Desc  bool
}

// ParseSort reads "title", "-createdAt" or "a,-b".
func ParseSort(s string) []SortField {
	var out []SortField
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if strings.HasPrefix(part, "-") {
			out = append(out, SortField{Field: part[1:], Desc: true})
		} else {
			out = append(out, SortField{Field: strings.TrimPrefix(part, "+")})
		}
	}
	return out
}

// Query selects documents of one collection. A zero Limit means no limit.
type Query struct {
	Where  []metadata.Condition
	Sort   []SortField
	Limit  int
	Offset int
}

// Adapter is the storage contract the engine is written against.
type Adapter interface {
	Insert(ctx context.Context, collection string, fields map[string]any) (*Document, error)
	Get(ctx context.Context, collection, id string) (*Document, error)
	Query(ctx context.Context, collection string, q Query) ([]*Document, error)
	// Update replaces the stored fields of an existing document.
	Update(ctx context.Context, collection, id string, fields map[string]any) (*Document, error)
	Delete(ctx context.Context, collection, id string) error
}

// Counter is implemented by adapters that can count matches without paging.
type Counter interface {
	Count(ctx context.Context, collection string, where []metadata.Condition) (int, error)
}

// UniqueIndexer is implemented by adapters that can enforce unique fields.
type UniqueIndexer interface {
	EnsureUnique(ctx context.Context, collection, field string) error
}

// Backend is an adapter that owns resources.
type Backend interface {
	Adapter
	Counter
	UniqueIndexer
	Close()
}

// Apply filters, sorts and pages docs in memory. Documents are assumed to be
// in insertion order; sorting is stable.
func Apply(docs []*Document, q Query) []*Document {
	out := Filter(docs, q.Where)
	if len(q.Sort) > 0 {
		sort.SliceStable(out, func(i, j int) bool {
			for _, s := range q.Sort {
				c := compareField(out[i], out[j], s.Field)
				if c == 0 {
					continue
				}
				if s.Desc {
					return c > 0
				}
				return c < 0
			}
			return false
		})
	}
	if q.Offset > 0 {
		if q.Offset >= len(out) {
			return []*Document{}
		}
		out = out[q.Offset:]
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

// compareField orders two documents by one field. Timestamps compare
// chronologically; a missing value sorts before any value.
func compareField(x, y *Document, field string) int {
	switch field {
	case "createdAt":
		return x.CreatedAt.Compare(y.CreatedAt)
	case "updatedAt":
		return x.UpdatedAt.Compare(y.UpdatedAt)
	}
	a, okA := x.Lookup(field)
	b, okB := y.Lookup(field)
	switch {
	case !okA && !okB:
		return 0
	case !okA:
		return -1
	case !okB:
		return 1
	}
	return metadata.CompareValues(a, b)
}

// Filter keeps the documents matching every condition.
func Filter(docs []*Document, where []metadata.Condition) []*Document {
	out := make([]*Document, 0, len(docs))
	for _, d := range docs {
		if metadata.MatchAll(where, d.Lookup) {
			out = append(out, d)
		}
	}
	return out
}

// cloneFields deep-copies a field map through its JSON form so callers never
// share nested maps or slices with the store.
func cloneFields(fields map[string]any) (map[string]any, error) {
	if fields == nil {
		return map[string]any{}, nil
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	return decodeFields(data)
}

func decodeFields(data []byte) (map[string]any, error) {
	out := map[string]any{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
