package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"zervios-cms/internal/instrument"
	"zervios-cms/internal/metadata"
	"zervios-cms/internal/storage"
	"zervios-cms/internal/store"
)

// Options configures a Service.
type Options struct {
	MaxUploadSize int64
	DefaultDepth  int
	MaxDepth      int
	Concurrency   int
	PublicURL     string
}

// Service runs every document operation through access control, validation
// and the store. The REST handlers, the GraphQL surface and the seed
// orchestrator all call it; none of them talk to the store directly.
type Service struct {
	registry  metadata.Source
	store     store.Adapter
	files     storage.FileStorage
	validator *Validator
	resolver  *Resolver
	logger    zerolog.Logger
	publicURL string

	globalMu sync.Mutex
}

func NewService(reg metadata.Source, s store.Adapter, files storage.FileStorage, logger zerolog.Logger, opts Options) *Service {
	return &Service{
		registry:  reg,
		store:     s,
		files:     files,
		validator: NewValidator(s, opts.MaxUploadSize),
		resolver:  NewResolver(s, logger, opts.DefaultDepth, opts.MaxDepth, opts.Concurrency),
		logger:    logger,
		publicURL: strings.TrimSuffix(opts.PublicURL, "/"),
	}
}

// Registry returns the registry snapshot new operations run against.
func (s *Service) Registry() *metadata.Registry {
	return s.registry.Registry()
}

// Resolver exposes the relationship resolver for the query surfaces.
func (s *Service) Resolver() *Resolver {
	return s.resolver
}

// Validator exposes the field validator, used by the upload handler for size checks.
func (s *Service) Validator() *Validator {
	return s.validator
}

// EnsureIndexes asks the store to enforce every unique field of the registry.
// Stores without index support are skipped.
func (s *Service) EnsureIndexes(ctx context.Context) error {
	indexer, ok := s.store.(store.UniqueIndexer)
	if !ok {
		return nil
	}
	for collection, fields := range s.Registry().UniqueFields() {
		for _, field := range fields {
			if err := indexer.EnsureUnique(ctx, collection, field); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Service) collection(reg *metadata.Registry, slug string) (*metadata.Collection, error) {
	c, err := reg.Collection(slug)
	if err != nil {
		return nil, toAppError(slug, "", err)
	}
	return c, nil
}

// observe records the outcome of one operation.
func (s *Service) observe(ctx context.Context, slug string, op metadata.Operation, start time.Time, err error) {
	instrument.GetRecorder(ctx).Operation(slug, string(op), outcome(err), time.Since(start))
}

func outcome(err error) string {
	var appErr *AppError
	switch {
	case err == nil:
		return instrument.OutcomeOK
	case errors.As(err, &appErr) && (appErr.Code == CodeAccessDenied || appErr.Code == CodeUnauthorized):
		return instrument.OutcomeDenied
	case errors.As(err, &appErr) && appErr.Status < 500:
		return instrument.OutcomeInvalid
	}
	return instrument.OutcomeError
}

// Create validates input and inserts a new document.
func (s *Service) Create(ctx context.Context, id metadata.Identity, slug string, input map[string]any) (doc map[string]any, err error) {
	start := time.Now()
	defer func() { s.observe(ctx, slug, metadata.OpCreate, start, err) }()

	reg := s.Registry()
	c, err := s.collection(reg, slug)
	if err != nil {
		return nil, err
	}
	if _, err := Authorize(ctx, c, metadata.OpCreate, id, nil); err != nil {
		return nil, err
	}
	return s.insert(ctx, reg, c, id, input, nil)
}

// insert runs validation and the candidate scope check, then writes.
func (s *Service) insert(ctx context.Context, reg *metadata.Registry, c *metadata.Collection, id metadata.Identity, input, base map[string]any) (map[string]any, error) {
	input, hash, err := s.takePassword(c, input, true)
	if err != nil {
		return nil, err
	}
	fields, err := s.validator.Validate(ctx, &c.Definition, input, base)
	if err != nil {
		return nil, err
	}
	if hash != "" {
		fields[metadata.AuthHashField] = hash
	}
	decision, err := Authorize(ctx, c, metadata.OpCreate, id, fieldsLookup(fields))
	if err != nil {
		return nil, err
	}
	if err := GuardRestricted(ctx, c, metadata.OpCreate, decision, fields, base); err != nil {
		return nil, err
	}

	stored, err := s.store.Insert(ctx, c.Slug, fields)
	if err != nil {
		return nil, toAppError(c.Slug, "", fmt.Errorf("insert %s: %w", c.Slug, err))
	}
	s.logger.Debug().Str("collection", c.Slug).Str("id", stored.ID).Msg("document created")
	return Present(&c.Definition, stored), nil
}

// FindByID returns one document expanded to depth (negative selects the default).
func (s *Service) FindByID(ctx context.Context, id metadata.Identity, slug, docID string, depth int) (doc map[string]any, err error) {
	start := time.Now()
	defer func() { s.observe(ctx, slug, metadata.OpRead, start, err) }()

	reg := s.Registry()
	c, err := s.collection(reg, slug)
	if err != nil {
		return nil, err
	}
	if _, err := Authorize(ctx, c, metadata.OpRead, id, nil); err != nil {
		return nil, err
	}
	stored, err := s.store.Get(ctx, slug, docID)
	if err != nil {
		return nil, toAppError(slug, docID, err)
	}
	if _, err := Authorize(ctx, c, metadata.OpRead, id, stored.Lookup); err != nil {
		return nil, err
	}
	out := Present(&c.Definition, stored)
	if err := s.resolver.Expand(ctx, reg, c, out, s.resolver.Depth(depth), id); err != nil {
		return nil, err
	}
	return out, nil
}

// FindQuery is a list request. Page is 1-based; zero values select defaults.
type FindQuery struct {
	Where []metadata.Condition
	Sort  string
	Limit int
	Page  int
	Depth int
}

const (
	defaultLimit = 10
	maxLimit     = 100
)

// Page is one page of a list result.
type Page struct {
	Docs       []map[string]any `json:"docs"`
	Total      int              `json:"total"`
	Limit      int              `json:"limit"`
	Page       int              `json:"page"`
	TotalPages int              `json:"totalPages"`
}

// Find lists documents matching q. The caller's read scope is ANDed into the
// conditions.
func (s *Service) Find(ctx context.Context, id metadata.Identity, slug string, q FindQuery) (page *Page, err error) {
	start := time.Now()
	defer func() { s.observe(ctx, slug, metadata.OpRead, start, err) }()

	reg := s.Registry()
	c, err := s.collection(reg, slug)
	if err != nil {
		return nil, err
	}
	decision, err := Authorize(ctx, c, metadata.OpRead, id, nil)
	if err != nil {
		return nil, err
	}
	sort := store.ParseSort(q.Sort)
	if err := checkQueryFields(&c.Definition, q.Where, sort); err != nil {
		return nil, err
	}

	if q.Limit <= 0 {
		q.Limit = defaultLimit
	}
	if q.Limit > maxLimit {
		q.Limit = maxLimit
	}
	if q.Page <= 0 {
		q.Page = 1
	}
	where := append(append([]metadata.Condition{}, q.Where...), decision.Scope...)

	docs, err := s.store.Query(ctx, slug, store.Query{
		Where:  where,
		Sort:   sort,
		Limit:  q.Limit,
		Offset: (q.Page - 1) * q.Limit,
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", slug, err)
	}
	total, err := s.count(ctx, slug, where)
	if err != nil {
		return nil, fmt.Errorf("count %s: %w", slug, err)
	}

	page = &Page{
		Docs:       make([]map[string]any, 0, len(docs)),
		Total:      total,
		Limit:      q.Limit,
		Page:       q.Page,
		TotalPages: (total + q.Limit - 1) / q.Limit,
	}
	depth := s.resolver.Depth(q.Depth)
	for _, d := range docs {
		out := Present(&c.Definition, d)
		if err := s.resolver.Expand(ctx, reg, c, out, depth, id); err != nil {
			return nil, err
		}
		page.Docs = append(page.Docs, out)
	}
	return page, nil
}

func (s *Service) count(ctx context.Context, slug string, where []metadata.Condition) (int, error) {
	if counter, ok := s.store.(store.Counter); ok {
		return counter.Count(ctx, slug, where)
	}
	docs, err := s.store.Query(ctx, slug, store.Query{Where: where})
	if err != nil {
		return 0, err
	}
	return len(docs), nil
}

// checkQueryFields rejects conditions and sorts on hidden or unknown fields.
func checkQueryFields(def *metadata.Definition, where []metadata.Condition, sort []store.SortField) error {
	check := func(path string) error {
		root := strings.SplitN(path, ".", 2)[0]
		switch root {
		case "id", "createdAt", "updatedAt":
			return nil
		}
		if f := def.GetField(root); f == nil || f.Hidden {
			return NewAppError(CodeUnknownField, 400, fmt.Sprintf("Unknown field in query: %s", path))
		}
		return nil
	}
	for _, c := range where {
		if err := check(c.Field); err != nil {
			return err
		}
		if _, ok := metadata.NormalizeOperator(c.Operator); !ok {
			return InvalidPayloadError(fmt.Sprintf("Unknown operator: %s", c.Operator))
		}
	}
	for _, sf := range sort {
		if err := check(sf.Field); err != nil {
			return err
		}
	}
	return nil
}

// Update merges input into an existing document.
func (s *Service) Update(ctx context.Context, id metadata.Identity, slug, docID string, input map[string]any) (doc map[string]any, err error) {
	start := time.Now()
	defer func() { s.observe(ctx, slug, metadata.OpUpdate, start, err) }()

	reg := s.Registry()
	c, err := s.collection(reg, slug)
	if err != nil {
		return nil, err
	}
	if _, err := Authorize(ctx, c, metadata.OpUpdate, id, nil); err != nil {
		return nil, err
	}
	existing, err := s.store.Get(ctx, slug, docID)
	if err != nil {
		return nil, toAppError(slug, docID, err)
	}
	decision, err := Authorize(ctx, c, metadata.OpUpdate, id, existing.Lookup)
	if err != nil {
		return nil, err
	}

	input, hash, err := s.takePassword(c, input, false)
	if err != nil {
		return nil, err
	}
	fields, err := s.validator.Validate(ctx, &c.Definition, input, existing.Fields)
	if err != nil {
		return nil, err
	}
	if err := GuardRestricted(ctx, c, metadata.OpUpdate, decision, fields, existing.Fields); err != nil {
		return nil, err
	}
	if hash != "" {
		fields[metadata.AuthHashField] = hash
	}

	stored, err := s.store.Update(ctx, slug, docID, fields)
	if err != nil {
		return nil, toAppError(slug, docID, fmt.Errorf("update %s/%s: %w", slug, docID, err))
	}
	return Present(&c.Definition, stored), nil
}

// Delete removes a document and, for upload collections, its stored file.
func (s *Service) Delete(ctx context.Context, id metadata.Identity, slug, docID string) (doc map[string]any, err error) {
	start := time.Now()
	defer func() { s.observe(ctx, slug, metadata.OpDelete, start, err) }()

	reg := s.Registry()
	c, err := s.collection(reg, slug)
	if err != nil {
		return nil, err
	}
	if _, err := Authorize(ctx, c, metadata.OpDelete, id, nil); err != nil {
		return nil, err
	}
	existing, err := s.store.Get(ctx, slug, docID)
	if err != nil {
		return nil, toAppError(slug, docID, err)
	}
	if _, err := Authorize(ctx, c, metadata.OpDelete, id, existing.Lookup); err != nil {
		return nil, err
	}
	if err := s.store.Delete(ctx, slug, docID); err != nil {
		return nil, toAppError(slug, docID, fmt.Errorf("delete %s/%s: %w", slug, docID, err))
	}

	if c.Upload != nil {
		s.removeFile(ctx, existing)
	}
	return Present(&c.Definition, existing), nil
}

func (s *Service) removeFile(ctx context.Context, doc *store.Document) {
	key, _ := doc.Fields[FileKeyField].(string)
	if key == "" || s.files == nil {
		return
	}
	if err := s.files.Delete(ctx, key); err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.logger.Error().Err(err).Str("collection", doc.Collection).Str("key", key).Msg("remove upload file")
	}
}
