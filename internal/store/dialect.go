package store

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Dialect abstracts database-specific SQL generation and behavior.
type Dialect interface {
	// Name returns "postgres" or "sqlite".
	Name() string

	// DriverName returns the database/sql driver name ("pgx" or "sqlite").
	DriverName() string

	// NewParamBuilder creates a dialect-aware parameter builder.
	NewParamBuilder() ParamBuilder

	// DocumentTableSQL returns the DDL for the document table.
	DocumentTableSQL() string

	// DataSelect returns the select expression yielding the data column as JSON text.
	DataSelect() string

	// JSONParam wraps a placeholder bound to JSON text for the data column.
	JSONParam(placeholder string) string

	// TimeParam encodes a timestamp for the created_at/updated_at columns.
	TimeParam(t time.Time) any

	// TextAt returns an expression for the text value at path inside data.
	TextAt(path []string) string

	// IsStringAt returns a boolean expression that holds when the value at path is a JSON string.
	IsStringAt(path []string) string

	// IsTypeAt is IsStringAt generalised to the JSON kinds "string", "number",
	// "array", "object" and "null". It is never NULL.
	IsTypeAt(path []string, kind string) string

	// AbsentAt holds when path does not exist in data. JSON null is present.
	AbsentAt(path []string) string

	// NumberAt returns the numeric value at path, or NULL when it is not a number.
	NumberAt(path []string) string

	// Bytewise wraps a text expression so comparisons and ordering are by byte.
	Bytewise(expr string) string

	// NoLimit is the LIMIT operand meaning unbounded.
	NoLimit() string

	// UniqueIndexSQL returns a partial unique index on one field of one collection.
	UniqueIndexSQL(collection, field string) string

	// MapError inspects a driver error and returns a well-known sentinel error if applicable.
	MapError(err error) error
}

// ParamBuilder accumulates query parameters and generates dialect-specific placeholders.
type ParamBuilder interface {
	// Add appends a value and returns the placeholder string.
	Add(v any) string

	// Params returns all accumulated parameter values.
	Params() []any
}

// NewDialect creates a Dialect for the given driver name ("postgres" or "sqlite").
func NewDialect(driver string) Dialect {
	switch driver {
	case "sqlite":
		return &SQLiteDialect{}
	default:
		return &PostgresDialect{}
	}
}

// identifiers and slugs are interpolated into DDL and JSON paths, so both are
// restricted to a safe alphabet.
var (
	identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	slugRe  = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
)

func isIdent(s string) bool { return identRe.MatchString(s) }

func isSlug(s string) bool { return slugRe.MatchString(s) }

// indexName builds a stable index name for a unique field.
func indexName(collection, field string) string {
	return "uq_doc_" + strings.ReplaceAll(collection, "-", "_") + "_" + field
}

// --- PostgreSQL ParamBuilder ---

type pgParamBuilder struct {
	params []any
	n      int
}

func (p *pgParamBuilder) Add(v any) string {
	p.n++
	p.params = append(p.params, v)
	return fmt.Sprintf("$%d", p.n)
}

func (p *pgParamBuilder) Params() []any { return p.params }

// --- SQLite ParamBuilder ---

type sqliteParamBuilder struct {
	params []any
	n      int
}

func (p *sqliteParamBuilder) Add(v any) string {
	p.n++
	p.params = append(p.params, v)
	return fmt.Sprintf("?%d", p.n)
}

func (p *sqliteParamBuilder) Params() []any { return p.params }
