package engine

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"zervios-cms/internal/collections"
	"zervios-cms/internal/metadata"
	"zervios-cms/internal/storage"
	"zervios-cms/internal/store"
)

const testMaxUpload = 5_000_000

var (
	admin  = metadata.Identity{ID: "admin-1", Collection: "users", Email: "admin@zervios.com", Roles: []string{"admin"}}
	editor = metadata.Identity{ID: "editor-1", Collection: "users", Email: "editor@zervios.com", Roles: []string{"editor"}}
)

// posts exercises relations to other collections and to itself.
func postsCollection() *metadata.Collection {
	return &metadata.Collection{
		Definition: metadata.Definition{
			Slug: "posts",
			Fields: []metadata.Field{
				{Name: "title", Type: metadata.FieldText, Required: true},
				{Name: "views", Type: metadata.FieldNumber},
				{Name: "author", Type: metadata.FieldRelationship, RelationTo: "users"},
				{Name: "related", Type: metadata.FieldRelationship, RelationTo: "posts", HasMany: true},
				{Name: "tags", Type: metadata.FieldSelect, HasMany: true, Options: []metadata.Option{
					{Label: "Go", Value: "go"},
					{Label: "CMS", Value: "cms"},
				}},
			},
		},
		Access: metadata.CollectionAccess{
			Create: metadata.LoggedIn(),
			Read:   metadata.Anyone(),
			Update: metadata.LoggedIn(),
			Delete: metadata.AdminOnly(),
		},
	}
}

// lockedCollection declares no rules at all.
func lockedCollection() *metadata.Collection {
	return &metadata.Collection{
		Definition: metadata.Definition{
			Slug:   "locked",
			Fields: []metadata.Field{{Name: "note", Type: metadata.FieldText}},
		},
	}
}

func testRegistry(t *testing.T) *metadata.Registry {
	t.Helper()
	reg := metadata.NewRegistry()
	require.NoError(t, collections.Register(reg))
	require.NoError(t, reg.RegisterCollection(postsCollection()))
	require.NoError(t, reg.RegisterCollection(lockedCollection()))
	require.NoError(t, reg.Freeze())
	return reg
}

// registeredUsers returns the users collection with its auth fields added.
func registeredUsers(t *testing.T) *metadata.Collection {
	t.Helper()
	users, err := testRegistry(t).Collection("users")
	require.NoError(t, err)
	return users
}

type fixture struct {
	svc   *Service
	store *store.Memory
	files *storage.LocalStorage
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := store.NewMemory()
	files := storage.NewLocalStorage(t.TempDir())
	svc := NewService(testRegistry(t), mem, files, zerolog.Nop(), Options{
		MaxUploadSize: testMaxUpload,
		DefaultDepth:  1,
		MaxDepth:      3,
		Concurrency:   4,
		PublicURL:     "http://localhost:3000/",
	})
	require.NoError(t, svc.EnsureIndexes(context.Background()))
	return &fixture{svc: svc, store: mem, files: files}
}

func (f *fixture) createMedia(t *testing.T, filename string, size float64) string {
	t.Helper()
	doc, err := f.svc.Create(context.Background(), admin, "media", map[string]any{
		"filename": filename,
		"mimeType": "image/png",
		"filesize": size,
	})
	require.NoError(t, err)
	return doc["id"].(string)
}

func (f *fixture) createUser(t *testing.T, email string, roles ...string) string {
	t.Helper()
	r := make([]any, len(roles))
	for i, role := range roles {
		r[i] = role
	}
	doc, err := f.svc.Create(context.Background(), admin, "users", map[string]any{
		"email":    email,
		"password": "correct-horse",
		"roles":    r,
	})
	require.NoError(t, err)
	return doc["id"].(string)
}

// appErr asserts err is an *AppError and returns it.
func appErr(t *testing.T, err error) *AppError {
	t.Helper()
	require.Error(t, err)
	ae, ok := err.(*AppError)
	require.Truef(t, ok, "expected *AppError, got %T: %v", err, err)
	return ae
}

func detailFields(ae *AppError) []string {
	var out []string
	for _, d := range ae.Details {
		out = append(out, d.Field)
	}
	return out
}
