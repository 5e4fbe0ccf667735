package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"zervios-cms/internal/config"
)

// ErrNotFound is returned by Open for keys with no stored file.
var ErrNotFound = errors.New("file not found")

// ErrInvalidKey is returned for keys that escape the storage root.
var ErrInvalidKey = errors.New("invalid storage key")

// FileStorage abstracts file persistence for upload collections.
type FileStorage interface {
	// Save persists file content and returns the storage key (used for retrieval/deletion).
	Save(ctx context.Context, collection, fileID, filename string, reader io.Reader) (key string, err error)
	// Open returns a reader for the stored file.
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete removes the file from storage. Deleting a missing file is not an error.
	Delete(ctx context.Context, key string) error
}

// Open returns the file storage selected by cfg.Driver. Only "local" exists;
// an empty driver means local.
func Open(cfg config.StorageConfig) (FileStorage, error) {
	switch cfg.Driver {
	case "", "local":
		return NewLocalStorage(cfg.LocalPath), nil
	}
	return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
}
