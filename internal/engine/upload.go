package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"zervios-cms/internal/metadata"
	"zervios-cms/internal/storage"
	"zervios-cms/internal/store"
)

// Fields an upload collection document carries about its file.
const (
	FileNameField = "filename"
	FileMimeField = "mimeType"
	FileSizeField = "filesize"
	FileURLField  = "url"
	FileKeyField  = "storageKey"
)

// File is an uploaded file on its way into storage.
type File struct {
	Name     string
	MimeType string
	Size     int64
	Content  io.Reader
}

// Upload stores a file and creates the document describing it. input carries
// the remaining client fields (alt text and the like).
func (s *Service) Upload(ctx context.Context, id metadata.Identity, slug string, file File, input map[string]any) (doc map[string]any, err error) {
	start := time.Now()
	defer func() { s.observe(ctx, slug, metadata.OpCreate, start, err) }()

	reg := s.Registry()
	c, err := s.collection(reg, slug)
	if err != nil {
		return nil, err
	}
	if c.Upload == nil {
		return nil, InvalidPayloadError(fmt.Sprintf("%s does not accept file uploads", slug))
	}
	if _, err := Authorize(ctx, c, metadata.OpCreate, id, nil); err != nil {
		return nil, err
	}
	if err := s.validator.CheckUploadSize(file.Size); err != nil {
		return nil, err
	}
	if !mimeAllowed(c.Upload.MimeTypes, file.MimeType) {
		return nil, ValidationError([]ErrorDetail{{Field: FileMimeField, Rule: RuleEnum,
			Message: fmt.Sprintf("%s files are not accepted", file.MimeType)}})
	}
	if s.files == nil {
		return nil, errors.New("no file storage configured")
	}

	key, err := s.files.Save(ctx, slug, store.NewID(), file.Name, file.Content)
	if err != nil {
		return nil, fmt.Errorf("save upload: %w", err)
	}
	base := map[string]any{
		FileNameField: file.Name,
		FileMimeField: file.MimeType,
		FileSizeField: float64(file.Size),
		FileURLField:  s.fileURL(slug, key),
		FileKeyField:  key,
	}
	rest := make(map[string]any, len(input))
	for k, v := range input {
		if _, managed := base[k]; !managed {
			rest[k] = v
		}
	}
	doc, err = s.insert(ctx, reg, c, id, rest, base)
	if err != nil {
		if delErr := s.files.Delete(ctx, key); delErr != nil {
			s.logger.Error().Err(delErr).Str("key", key).Msg("remove orphaned upload")
		}
		return nil, err
	}
	return doc, nil
}

func (s *Service) fileURL(slug, key string) string {
	return fmt.Sprintf("%s/api/%s/file/%s", s.publicURL, slug, key)
}

// OpenFile returns the content of an uploaded file if the caller may read
// the document that owns it.
func (s *Service) OpenFile(ctx context.Context, id metadata.Identity, slug, key string) (io.ReadCloser, map[string]any, error) {
	reg := s.Registry()
	c, err := s.collection(reg, slug)
	if err != nil {
		return nil, nil, err
	}
	decision, err := Authorize(ctx, c, metadata.OpRead, id, nil)
	if err != nil {
		return nil, nil, err
	}
	docs, err := s.store.Query(ctx, slug, store.Query{
		Where: append([]metadata.Condition{metadata.Eq(FileKeyField, key)}, decision.Scope...),
		Limit: 1,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("find file %s: %w", key, err)
	}
	if len(docs) == 0 || s.files == nil {
		return nil, nil, NotFoundError("file", key)
	}
	rc, err := s.files.Open(ctx, key)
	if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrInvalidKey) {
		return nil, nil, NotFoundError("file", key)
	}
	if err != nil {
		return nil, nil, err
	}
	return rc, Present(&c.Definition, docs[0]), nil
}

// mimeAllowed matches exact types and "type/*" wildcards. An empty list
// accepts everything.
func mimeAllowed(allowed []string, mimeType string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if a == mimeType {
			return true
		}
		if prefix, ok := strings.CutSuffix(a, "/*"); ok && strings.HasPrefix(mimeType, prefix+"/") {
			return true
		}
	}
	return false
}
