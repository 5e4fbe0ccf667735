package store

import (
	"fmt"
	"strings"
	"time"
)

// SQLiteDialect implements Dialect for SQLite via modernc.org/sqlite.
type SQLiteDialect struct{}

func (d *SQLiteDialect) Name() string       { return "sqlite" }
func (d *SQLiteDialect) DriverName() string { return "sqlite" }

func (d *SQLiteDialect) NewParamBuilder() ParamBuilder {
	return &sqliteParamBuilder{}
}

func (d *SQLiteDialect) DocumentTableSQL() string {
	return sqliteDocumentTableSQL
}

func (d *SQLiteDialect) DataSelect() string { return "data" }

func (d *SQLiteDialect) JSONParam(placeholder string) string { return placeholder }

// Fixed-width fractional seconds keep text timestamps sortable.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func (d *SQLiteDialect) TimeParam(t time.Time) any {
	return t.UTC().Format(sqliteTimeLayout)
}

func jsonPath(path []string) string {
	return "$." + strings.Join(path, ".")
}

func (d *SQLiteDialect) TextAt(path []string) string {
	return fmt.Sprintf("json_extract(data, '%s')", jsonPath(path))
}

func (d *SQLiteDialect) IsStringAt(path []string) string {
	return fmt.Sprintf("(json_type(data, '%s') = 'text')", jsonPath(path))
}

var sqliteKinds = map[string]string{
	"string": "'text'",
	"number": "'integer', 'real'",
	"array":  "'array'",
	"object": "'object'",
	"null":   "'null'",
}

func (d *SQLiteDialect) IsTypeAt(path []string, kind string) string {
	return fmt.Sprintf("COALESCE(json_type(data, '%s') IN (%s), 0)", jsonPath(path), sqliteKinds[kind])
}

func (d *SQLiteDialect) AbsentAt(path []string) string {
	return fmt.Sprintf("(json_type(data, '%s') IS NULL)", jsonPath(path))
}

func (d *SQLiteDialect) NumberAt(path []string) string {
	p := jsonPath(path)
	return fmt.Sprintf("(CASE WHEN json_type(data, '%s') IN ('integer', 'real') THEN json_extract(data, '%s') END)", p, p)
}

// Bytewise is the identity: sqlite compares text with BINARY by default.
func (d *SQLiteDialect) Bytewise(expr string) string { return expr }

func (d *SQLiteDialect) NoLimit() string { return "-1" }

func (d *SQLiteDialect) UniqueIndexSQL(collection, field string) string {
	return fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS %s ON _documents (json_extract(data, '$.%s')) WHERE collection = '%s'",
		indexName(collection, field), field, collection)
}

func (d *SQLiteDialect) MapError(err error) error {
	if err == nil {
		return nil
	}
	errStr := err.Error()
	if strings.Contains(errStr, "UNIQUE constraint failed") || strings.Contains(errStr, "constraint failed: UNIQUE") {
		return fmt.Errorf("%w: %w", ErrUniqueViolation, err)
	}
	return err
}

const sqliteDocumentTableSQL = `
CREATE TABLE IF NOT EXISTS _documents (
    collection  TEXT NOT NULL,
    id          TEXT NOT NULL,
    data        TEXT NOT NULL DEFAULT '{}',
    created_at  TEXT NOT NULL,
    updated_at  TEXT NOT NULL,
    PRIMARY KEY (collection, id)
);
CREATE INDEX IF NOT EXISTS idx_documents_created ON _documents (collection, created_at);
`
