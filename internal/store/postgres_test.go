package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zervios-cms/internal/config"
)

func TestMapError_PG_UniqueViolation(t *testing.T) {
	dialect := &PostgresDialect{}
	pgErr := &pgconn.PgError{
		Code:           "23505",
		Message:        "duplicate key value violates unique constraint \"uq_doc_users_email\"",
		ConstraintName: "uq_doc_users_email",
		Detail:         "Key ((data ->> 'email'::text))=(admin@zervios.com) already exists.",
	}
	wrapped := fmt.Errorf("insert users: %w", pgErr)

	mapped := MapError(dialect, wrapped)
	require.ErrorIs(t, mapped, ErrUniqueViolation)

	var extracted *pgconn.PgError
	require.True(t, errors.As(mapped, &extracted))
	assert.Equal(t, "uq_doc_users_email", extracted.ConstraintName)
}

func TestMapError_PG_OtherError(t *testing.T) {
	err := fmt.Errorf("connection reset")
	mapped := MapError(&PostgresDialect{}, err)
	assert.NotErrorIs(t, mapped, ErrUniqueViolation)
	assert.Equal(t, err, mapped)
	assert.NoError(t, MapError(&PostgresDialect{}, nil))
}

func TestPostgresDialect_SQL(t *testing.T) {
	d := &PostgresDialect{}
	assert.Equal(t, "(data #>> '{socialLinks,platform}')", d.TextAt([]string{"socialLinks", "platform"}))
	assert.Equal(t, "(jsonb_typeof(data #> '{email}') = 'string')", d.IsStringAt([]string{"email"}))
	assert.Contains(t, d.UniqueIndexSQL("users", "email"), "uq_doc_users_email")
	assert.Contains(t, d.UniqueIndexSQL("users", "email"), "WHERE collection = 'users'")

	pb := d.NewParamBuilder()
	assert.Equal(t, "$1", pb.Add("a"))
	assert.Equal(t, "$2", pb.Add(2))
	assert.Equal(t, []any{"a", 2}, pb.Params())
}

// TestPostgres_Adapter runs against a live database when
// ZERVIOS_TEST_DATABASE_URI is set.
func TestPostgres_Adapter(t *testing.T) {
	uri := os.Getenv("ZERVIOS_TEST_DATABASE_URI")
	if uri == "" {
		t.Skip("ZERVIOS_TEST_DATABASE_URI not set")
	}
	ctx := context.Background()
	b, err := Open(ctx, config.DatabaseConfig{Driver: "postgres", URI: uri})
	require.NoError(t, err)
	t.Cleanup(b.Close)

	collection := "pgtest_" + NewID()[:8]
	doc, err := b.Insert(ctx, collection, map[string]any{"title": "hello", "views": float64(3)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Delete(ctx, collection, doc.ID) })

	got, err := b.Get(ctx, collection, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Fields["title"])

	updated, err := b.Update(ctx, collection, doc.ID, map[string]any{"title": "bye", "views": float64(4)})
	require.NoError(t, err)
	assert.Equal(t, "bye", updated.Fields["title"])

	require.NoError(t, b.Delete(ctx, collection, doc.ID))
	_, err = b.Get(ctx, collection, doc.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}
