package store

import (
	"context"
	"fmt"

	"zervios-cms/internal/config"
)

// Bootstrap creates the document table.
func (s *Store) Bootstrap(ctx context.Context) error {
	if _, err := s.DB.ExecContext(ctx, s.Dialect.DocumentTableSQL()); err != nil {
		return fmt.Errorf("bootstrap document table: %w", err)
	}
	return nil
}

// Open returns the backend selected by cfg.Driver, bootstrapped and ready.
func Open(ctx context.Context, cfg config.DatabaseConfig) (Backend, error) {
	if cfg.Driver == "memory" {
		return NewMemory(), nil
	}
	s, err := New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := s.Bootstrap(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}
