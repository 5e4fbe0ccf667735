package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/btree"

	"zervios-cms/internal/metadata"
)

const btreeDegree = 16

func idLess(a, b *Document) bool {
	return a.ID < b.ID
}

// Memory is an in-process Backend. Documents are kept per collection in a
// B-Tree ordered by id; ids are time ordered, so iteration is insertion order.
type Memory struct {
	mu          sync.RWMutex
	collections map[string]*btree.BTreeG[*Document]
	unique      map[string]map[string]struct{}
}

func NewMemory() *Memory {
	return &Memory{
		collections: make(map[string]*btree.BTreeG[*Document]),
		unique:      make(map[string]map[string]struct{}),
	}
}

func (m *Memory) tree(collection string) *btree.BTreeG[*Document] {
	t, ok := m.collections[collection]
	if !ok {
		t = btree.NewG[*Document](btreeDegree, idLess)
		m.collections[collection] = t
	}
	return t
}

func (m *Memory) Insert(_ context.Context, collection string, fields map[string]any) (*Document, error) {
	cloned, err := cloneFields(fields)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	now := time.Now().UTC()
	doc := &Document{Collection: collection, ID: NewID(), Fields: cloned, CreatedAt: now, UpdatedAt: now}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkUnique(collection, doc); err != nil {
		return nil, err
	}
	m.tree(collection).ReplaceOrInsert(doc)
	return copyDocument(doc)
}

func (m *Memory) Get(_ context.Context, collection, id string) (*Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.collections[collection]
	if !ok {
		return nil, ErrNotFound
	}
	doc, found := t.Get(&Document{ID: id})
	if !found {
		return nil, ErrNotFound
	}
	return copyDocument(doc)
}

func (m *Memory) Query(_ context.Context, collection string, q Query) ([]*Document, error) {
	m.mu.RLock()
	matched := Apply(m.all(collection), q)
	m.mu.RUnlock()

	out := make([]*Document, 0, len(matched))
	for _, d := range matched {
		c, err := copyDocument(d)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (m *Memory) Count(_ context.Context, collection string, where []metadata.Condition) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(Filter(m.all(collection), where)), nil
}

func (m *Memory) all(collection string) []*Document {
	t, ok := m.collections[collection]
	if !ok {
		return nil
	}
	docs := make([]*Document, 0, t.Len())
	t.Ascend(func(d *Document) bool {
		docs = append(docs, d)
		return true
	})
	return docs
}

func (m *Memory) Update(_ context.Context, collection, id string, fields map[string]any) (*Document, error) {
	cloned, err := cloneFields(fields)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.collections[collection]
	if !ok {
		return nil, ErrNotFound
	}
	existing, found := t.Get(&Document{ID: id})
	if !found {
		return nil, ErrNotFound
	}
	next := &Document{
		Collection: collection,
		ID:         id,
		Fields:     cloned,
		CreatedAt:  existing.CreatedAt,
		UpdatedAt:  time.Now().UTC(),
	}
	if err := m.checkUnique(collection, next); err != nil {
		return nil, err
	}
	t.ReplaceOrInsert(next)
	return copyDocument(next)
}

func (m *Memory) Delete(_ context.Context, collection, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.collections[collection]
	if !ok {
		return ErrNotFound
	}
	if _, found := t.Delete(&Document{ID: id}); !found {
		return ErrNotFound
	}
	return nil
}

// EnsureUnique makes later writes fail with ErrUniqueViolation when another
// document of the collection holds the same value for field.
func (m *Memory) EnsureUnique(_ context.Context, collection, field string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	fields, ok := m.unique[collection]
	if !ok {
		fields = make(map[string]struct{})
		m.unique[collection] = fields
	}
	fields[field] = struct{}{}
	return nil
}

func (m *Memory) Close() {}

func (m *Memory) checkUnique(collection string, doc *Document) error {
	fields := m.unique[collection]
	if len(fields) == 0 {
		return nil
	}
	t := m.tree(collection)
	for field := range fields {
		want, ok := doc.Fields[field]
		if !ok || want == nil {
			continue
		}
		var clash bool
		t.Ascend(func(other *Document) bool {
			if other.ID == doc.ID {
				return true
			}
			if v, ok := other.Fields[field]; ok && fmt.Sprint(v) == fmt.Sprint(want) {
				clash = true
				return false
			}
			return true
		})
		if clash {
			return fmt.Errorf("%w: %s.%s", ErrUniqueViolation, collection, field)
		}
	}
	return nil
}

func copyDocument(d *Document) (*Document, error) {
	fields, err := cloneFields(d.Fields)
	if err != nil {
		return nil, fmt.Errorf("copy document %s: %w", d.ID, err)
	}
	c := *d
	c.Fields = fields
	return &c, nil
}
