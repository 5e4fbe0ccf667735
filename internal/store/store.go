package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	jsoniter "github.com/json-iterator/go"
	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx as database/sql driver
	_ "modernc.org/sqlite"             // Register sqlite as database/sql driver

	"zervios-cms/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var ErrNotFound = errors.New("not found")
var ErrUniqueViolation = errors.New("unique constraint violation")

// Store is the SQL document store: every collection lives in one table keyed
// by (collection, id) with the fields as a JSON column.
type Store struct {
	DB      *sql.DB
	Dialect Dialect
}

// New opens the database named by cfg. An empty driver means postgres.
func New(ctx context.Context, cfg config.DatabaseConfig) (*Store, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = "postgres"
	}
	dialect := NewDialect(driver)
	if cfg.IsSQLite() {
		if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}

	db, err := sql.Open(dialect.DriverName(), cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect.Name(), err)
	}
	switch dialect.Name() {
	case "sqlite":
		// one writer; WAL lets readers proceed
		db.SetMaxOpenConns(1)
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable WAL: %w", err)
		}
	default:
		if cfg.PoolSize > 0 {
			db.SetMaxOpenConns(cfg.PoolSize)
		}
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", dialect.Name(), err)
	}
	return &Store{DB: db, Dialect: dialect}, nil
}

// Close closes the database connection.
func (s *Store) Close() {
	s.DB.Close()
}

func (s *Store) exec(ctx context.Context, sqlStr string, args ...any) (int64, error) {
	result, err := s.DB.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return 0, MapError(s.Dialect, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// queryDocuments runs a select yielding (id, data, created_at, updated_at).
func (s *Store) queryDocuments(ctx context.Context, collection, sqlStr string, args ...any) ([]*Document, error) {
	rows, err := s.DB.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		var (
			doc              = &Document{Collection: collection}
			data             []byte
			created, updated any
		)
		if err := rows.Scan(&doc.ID, &data, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan %s: %w", collection, err)
		}
		if doc.Fields, err = decodeFields(data); err != nil {
			return nil, fmt.Errorf("decode document %s: %w", doc.ID, err)
		}
		if doc.CreatedAt, err = scanTime(created); err != nil {
			return nil, fmt.Errorf("document %s created_at: %w", doc.ID, err)
		}
		if doc.UpdatedAt, err = scanTime(updated); err != nil {
			return nil, fmt.Errorf("document %s updated_at: %w", doc.ID, err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows %s: %w", collection, err)
	}
	return docs, nil
}

// MapError maps a database error to a well-known sentinel error using the store's dialect.
func MapError(dialect Dialect, err error) error {
	if err == nil {
		return nil
	}
	return dialect.MapError(err)
}

// scanTime accepts native timestamps (postgres) and the text layout sqlite stores.
func scanTime(v any) (time.Time, error) {
	switch val := v.(type) {
	case time.Time:
		return val.UTC(), nil
	case []byte:
		return parseTimestamp(string(val))
	case string:
		return parseTimestamp(val)
	default:
		return time.Time{}, fmt.Errorf("unexpected timestamp type %T", v)
	}
}

func parseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02 15:04:05", s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
