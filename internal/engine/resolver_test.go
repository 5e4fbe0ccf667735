package engine

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zervios-cms/internal/instrument"
	"zervios-cms/internal/metadata"
	"zervios-cms/internal/store"
)

// danglingRecorder collects dangling reference signals.
type danglingRecorder struct {
	instrument.NoopRecorder
	mu    sync.Mutex
	paths []string
}

func (r *danglingRecorder) DanglingReference(schema, field, target string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, schema+"."+field+"->"+target)
}

func TestScenario_SettingsLogoFollowsMediaLifecycle(t *testing.T) {
	f := newFixture(t)
	rec := &danglingRecorder{}
	ctx := instrument.WithRecorder(context.Background(), rec)

	m1 := f.createMedia(t, "logo.png", 2048)
	_, err := f.svc.UpdateGlobal(ctx, admin, "settings", map[string]any{
		"siteName":        "ZerviOS",
		"siteDescription": "A modern CMS-powered platform",
		"logo":            m1,
	})
	require.NoError(t, err)

	settings, err := f.svc.GetGlobal(ctx, metadata.Public, "settings", -1)
	require.NoError(t, err)
	logo, ok := settings["logo"].(map[string]any)
	require.True(t, ok, "logo should be expanded, got %T", settings["logo"])
	assert.Equal(t, m1, logo["id"])
	assert.Equal(t, "logo.png", logo["filename"])
	assert.Equal(t, float64(2048), logo["filesize"])

	_, err = f.svc.Delete(ctx, admin, "media", m1)
	require.NoError(t, err)

	settings, err = f.svc.GetGlobal(ctx, metadata.Public, "settings", -1)
	require.NoError(t, err)
	assert.True(t, IsUnresolved(settings["logo"]))
	assert.Equal(t, Unresolved(m1, "media"), settings["logo"])
	assert.Equal(t, "ZerviOS", settings["siteName"])
	assert.Equal(t, []string{"settings.logo->media"}, rec.paths)
}

func TestResolver_DanglingReferenceDoesNotAbortSiblings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	logo := f.createMedia(t, "logo.png", 10)
	favicon := f.createMedia(t, "favicon.ico", 10)
	_, err := f.svc.UpdateGlobal(ctx, admin, "settings", map[string]any{
		"siteName":        "ZerviOS",
		"siteDescription": "A modern CMS-powered platform",
		"logo":            logo,
		"favicon":         favicon,
	})
	require.NoError(t, err)
	_, err = f.svc.Delete(ctx, admin, "media", logo)
	require.NoError(t, err)

	settings, err := f.svc.GetGlobal(ctx, metadata.Public, "settings", 1)
	require.NoError(t, err)
	assert.True(t, IsUnresolved(settings["logo"]))
	fav, ok := settings["favicon"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "favicon.ico", fav["filename"])
	assert.False(t, IsUnresolved(fav))
}

// flakyStore fails Get for one id and serves everything else from memory.
type flakyStore struct {
	*store.Memory
	failID string
}

func (s *flakyStore) Get(ctx context.Context, collection, id string) (*store.Document, error) {
	if id == s.failID {
		return nil, errors.New("connection reset")
	}
	return s.Memory.Get(ctx, collection, id)
}

// referenceErrorRecorder collects reference lookup failures.
type referenceErrorRecorder struct {
	instrument.NoopRecorder
	mu    sync.Mutex
	paths []string
}

func (r *referenceErrorRecorder) ReferenceError(schema, field, target string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, schema+"."+field+"->"+target)
}

func TestResolver_LookupErrorKeepsReferenceAndSiblings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	logo := f.createMedia(t, "logo.png", 10)
	favicon := f.createMedia(t, "favicon.ico", 10)
	_, err := f.svc.UpdateGlobal(ctx, admin, "settings", map[string]any{
		"siteName":        "ZerviOS",
		"siteDescription": "A modern CMS-powered platform",
		"logo":            logo,
		"favicon":         favicon,
	})
	require.NoError(t, err)

	flaky := &flakyStore{Memory: f.store, failID: favicon}
	svc := NewService(testRegistry(t), flaky, f.files, zerolog.Nop(), Options{DefaultDepth: 1, MaxDepth: 3, Concurrency: 4})
	rec := &referenceErrorRecorder{}

	settings, err := svc.GetGlobal(instrument.WithRecorder(ctx, rec), metadata.Public, "settings", 1)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"id": favicon, "relationTo": "media"}, settings["favicon"])
	assert.False(t, IsUnresolved(settings["favicon"]))
	logoDoc, ok := settings["logo"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "logo.png", logoDoc["filename"])
	assert.Equal(t, []string{"settings.favicon->media"}, rec.paths)
}

func TestResolver_DepthZeroKeepsReferences(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	logo := f.createMedia(t, "logo.png", 10)
	_, err := f.svc.UpdateGlobal(ctx, admin, "settings", map[string]any{
		"siteName":        "ZerviOS",
		"siteDescription": "d",
		"logo":            logo,
	})
	require.NoError(t, err)

	settings, err := f.svc.GetGlobal(ctx, metadata.Public, "settings", 0)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"id": logo, "relationTo": "media"}, settings["logo"])
}

func TestResolver_CyclesTerminate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.svc.Create(ctx, editor, "posts", map[string]any{"title": "A"})
	require.NoError(t, err)
	b, err := f.svc.Create(ctx, editor, "posts", map[string]any{"title": "B", "related": []any{a["id"]}})
	require.NoError(t, err)
	_, err = f.svc.Update(ctx, editor, "posts", a["id"].(string), map[string]any{"related": []any{b["id"]}})
	require.NoError(t, err)

	got, err := f.svc.FindByID(ctx, metadata.Public, "posts", a["id"].(string), 3)
	require.NoError(t, err)

	related := got["related"].([]any)
	require.Len(t, related, 1)
	bDoc := related[0].(map[string]any)
	assert.Equal(t, "B", bDoc["title"])

	// A is already being expanded, so B's link back stays a reference
	back := bDoc["related"].([]any)
	assert.Equal(t, map[string]any{"id": a["id"], "relationTo": "posts"}, back[0])
}

func TestResolver_DepthIsCapped(t *testing.T) {
	r := NewResolver(nil, zerolog.Nop(), 1, 3, 2)
	assert.Equal(t, 1, r.Depth(-1))
	assert.Equal(t, 0, r.Depth(0))
	assert.Equal(t, 2, r.Depth(2))
	assert.Equal(t, 3, r.Depth(10))
}

func TestResolver_UnreadableTargetStaysReference(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	author := f.createUser(t, "writer@zervios.com", "editor")

	post, err := f.svc.Create(ctx, editor, "posts", map[string]any{"title": "Hello", "author": author})
	require.NoError(t, err)

	public, err := f.svc.FindByID(ctx, metadata.Public, "posts", post["id"].(string), 1)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"id": author, "relationTo": "users"}, public["author"])

	asAdmin, err := f.svc.FindByID(ctx, admin, "posts", post["id"].(string), 1)
	require.NoError(t, err)
	expanded := asAdmin["author"].(map[string]any)
	assert.Equal(t, "writer@zervios.com", expanded["email"])
	assert.NotContains(t, expanded, "hash")
}
