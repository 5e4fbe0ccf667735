package store

import (
	"fmt"
	"strings"
	"time"
)

// PostgresDialect implements Dialect for PostgreSQL via pgx/stdlib.
type PostgresDialect struct{}

func (d *PostgresDialect) Name() string       { return "postgres" }
func (d *PostgresDialect) DriverName() string { return "pgx" }

func (d *PostgresDialect) NewParamBuilder() ParamBuilder {
	return &pgParamBuilder{}
}

func (d *PostgresDialect) DocumentTableSQL() string {
	return pgDocumentTableSQL
}

func (d *PostgresDialect) DataSelect() string { return "data::text AS data" }

func (d *PostgresDialect) JSONParam(placeholder string) string {
	return placeholder + "::jsonb"
}

func (d *PostgresDialect) TimeParam(t time.Time) any { return t.UTC() }

func (d *PostgresDialect) TextAt(path []string) string {
	return fmt.Sprintf("(data #>> '{%s}')", strings.Join(path, ","))
}

func (d *PostgresDialect) IsStringAt(path []string) string {
	return fmt.Sprintf("(jsonb_typeof(data #> '{%s}') = 'string')", strings.Join(path, ","))
}

func pgPath(path []string) string {
	return "'{" + strings.Join(path, ",") + "}'"
}

func (d *PostgresDialect) IsTypeAt(path []string, kind string) string {
	return fmt.Sprintf("COALESCE(jsonb_typeof(data #> %s) = '%s', FALSE)", pgPath(path), kind)
}

func (d *PostgresDialect) AbsentAt(path []string) string {
	return fmt.Sprintf("((data #> %s) IS NULL)", pgPath(path))
}

func (d *PostgresDialect) NumberAt(path []string) string {
	p := pgPath(path)
	return fmt.Sprintf("(CASE WHEN jsonb_typeof(data #> %s) = 'number' THEN (data #>> %s)::double precision END)", p, p)
}

func (d *PostgresDialect) Bytewise(expr string) string { return expr + ` COLLATE "C"` }

func (d *PostgresDialect) NoLimit() string { return "ALL" }

func (d *PostgresDialect) UniqueIndexSQL(collection, field string) string {
	return fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS %s ON _documents ((data ->> '%s')) WHERE collection = '%s'",
		indexName(collection, field), field, collection)
}

func (d *PostgresDialect) MapError(err error) error {
	if err == nil {
		return nil
	}
	// Check for unique constraint violation via error string
	// With pgx/stdlib, the underlying error message includes the PG code
	errStr := err.Error()
	if strings.Contains(errStr, "23505") || strings.Contains(errStr, "unique constraint") || strings.Contains(errStr, "duplicate key") {
		return fmt.Errorf("%w: %w", ErrUniqueViolation, err)
	}
	return err
}

const pgDocumentTableSQL = `
CREATE TABLE IF NOT EXISTS _documents (
    collection  TEXT NOT NULL,
    id          TEXT NOT NULL,
    data        JSONB NOT NULL DEFAULT '{}',
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (collection, id)
);
CREATE INDEX IF NOT EXISTS idx_documents_created ON _documents (collection, created_at);
`
