package engine

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zervios-cms/internal/metadata"
	"zervios-cms/internal/store"
)

func TestService_WriteReadRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	input := map[string]any{
		"title":   "Launch",
		"views":   float64(3),
		"tags":    []any{"go", "cms"},
		"related": []any{},
	}
	created, err := f.svc.Create(ctx, editor, "posts", input)
	require.NoError(t, err)

	got, err := f.svc.FindByID(ctx, metadata.Public, "posts", created["id"].(string), 0)
	require.NoError(t, err)
	assert.Equal(t, created, got)
	for k, v := range input {
		assert.Equal(t, v, got[k], k)
	}
	assert.NotEmpty(t, got["createdAt"])
}

func TestService_NotFoundAndUnknownSchema(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.FindByID(ctx, admin, "posts", "missing", 0)
	ae := appErr(t, err)
	assert.Equal(t, CodeNotFound, ae.Code)
	assert.Equal(t, 404, ae.Status)

	_, err = f.svc.Find(ctx, admin, "pages", FindQuery{})
	assert.Equal(t, CodeUnknownSchema, appErr(t, err).Code)

	_, err = f.svc.GetGlobal(ctx, admin, "posts", 0)
	assert.Equal(t, CodeUnknownSchema, appErr(t, err).Code, "collections are not globals")
}

func TestService_UsersScopeNarrowsReads(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	self := f.createUser(t, "editor@zervios.com", "editor")
	other := f.createUser(t, "other@zervios.com", "editor")
	me := metadata.Identity{ID: self, Collection: "users", Roles: []string{"editor"}}

	page, err := f.svc.Find(ctx, me, "users", FindQuery{})
	require.NoError(t, err)
	require.Len(t, page.Docs, 1)
	assert.Equal(t, self, page.Docs[0]["id"])
	assert.Equal(t, 1, page.Total)

	_, err = f.svc.FindByID(ctx, me, "users", other, 0)
	assert.Equal(t, CodeAccessDenied, appErr(t, err).Code)

	_, err = f.svc.Update(ctx, me, "users", other, map[string]any{"name": "hijacked"})
	assert.Equal(t, CodeAccessDenied, appErr(t, err).Code)

	updated, err := f.svc.Update(ctx, me, "users", self, map[string]any{"name": "Ed"})
	require.NoError(t, err)
	assert.Equal(t, "Ed", updated["name"])

	all, err := f.svc.Find(ctx, admin, "users", FindQuery{})
	require.NoError(t, err)
	assert.Equal(t, 2, all.Total)
}

func TestService_SelfUpdateCannotChangeRoles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	self := f.createUser(t, "editor@zervios.com", "editor")
	me := metadata.Identity{ID: self, Collection: "users", Roles: []string{"editor"}}

	_, err := f.svc.Update(ctx, me, "users", self, map[string]any{"roles": []any{"admin"}})
	ae := appErr(t, err)
	assert.Equal(t, CodeAccessDenied, ae.Code)
	assert.Equal(t, []string{"roles"}, detailFields(ae))

	_, err = f.svc.Update(ctx, me, "users", self, map[string]any{"roles": nil})
	assert.Equal(t, CodeAccessDenied, appErr(t, err).Code)

	stored, err := f.svc.FindByID(ctx, admin, "users", self, 0)
	require.NoError(t, err)
	assert.Equal(t, []any{"editor"}, stored["roles"])

	// sending the current roles back is not a change
	updated, err := f.svc.Update(ctx, me, "users", self, map[string]any{"name": "Ed", "roles": []any{"editor"}})
	require.NoError(t, err)
	assert.Equal(t, "Ed", updated["name"])

	promoted, err := f.svc.Update(ctx, admin, "users", self, map[string]any{"roles": []any{"admin", "editor"}})
	require.NoError(t, err)
	assert.Equal(t, []any{"admin", "editor"}, promoted["roles"])
}

func TestService_UpdateIgnoresSystemKeys(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, err := f.svc.Create(ctx, editor, "posts", map[string]any{"title": "Launch", "tags": []any{"go"}})
	require.NoError(t, err)
	id := created["id"].(string)

	got, err := f.svc.FindByID(ctx, editor, "posts", id, 0)
	require.NoError(t, err)
	got["title"] = "Relaunch"

	updated, err := f.svc.Update(ctx, editor, "posts", id, got)
	require.NoError(t, err)
	assert.Equal(t, "Relaunch", updated["title"])
	assert.Equal(t, id, updated["id"])

	_, err = f.svc.Update(ctx, editor, "posts", id, map[string]any{"slug": "nope"})
	assert.Equal(t, []string{"slug"}, detailFields(appErr(t, err)))
}

func TestService_FindFiltersSortsAndPages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i, title := range []string{"Gamma", "Alpha", "Beta"} {
		_, err := f.svc.Create(ctx, editor, "posts", map[string]any{"title": title, "views": float64(i * 10)})
		require.NoError(t, err)
	}

	page, err := f.svc.Find(ctx, metadata.Public, "posts", FindQuery{Sort: "title", Limit: 2, Page: 2})
	require.NoError(t, err)
	require.Len(t, page.Docs, 1)
	assert.Equal(t, "Gamma", page.Docs[0]["title"])
	assert.Equal(t, 3, page.Total)
	assert.Equal(t, 2, page.TotalPages)

	page, err = f.svc.Find(ctx, metadata.Public, "posts", FindQuery{
		Where: []metadata.Condition{{Field: "views", Operator: metadata.OpGreaterThan, Value: float64(5)}},
		Sort:  "-views",
	})
	require.NoError(t, err)
	require.Len(t, page.Docs, 2)
	assert.Equal(t, "Beta", page.Docs[0]["title"])

	_, err = f.svc.Find(ctx, admin, "users", FindQuery{Where: []metadata.Condition{metadata.Eq("hash", "x")}})
	assert.Equal(t, CodeUnknownField, appErr(t, err).Code)
}

func TestService_PasswordsAreHashedAndHidden(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, admin, "users", map[string]any{"email": "nopass@zervios.com"})
	ae := appErr(t, err)
	assert.Equal(t, []string{PasswordField}, detailFields(ae))

	_, err = f.svc.Create(ctx, admin, "users", map[string]any{"email": "short@zervios.com", "password": "short"})
	assert.Equal(t, CodeValidation, appErr(t, err).Code)

	doc, err := f.svc.Create(ctx, admin, "users", map[string]any{
		"email":    "editor@zervios.com",
		"password": "correct-horse",
		"roles":    []any{"editor"},
	})
	require.NoError(t, err)
	assert.NotContains(t, doc, "hash")
	assert.NotContains(t, doc, PasswordField)

	stored, err := f.store.Get(ctx, "users", doc["id"].(string))
	require.NoError(t, err)
	hash, _ := stored.Fields["hash"].(string)
	assert.True(t, CheckPassword("correct-horse", hash))

	id, _, err := f.svc.Authenticate(ctx, "users", "editor@zervios.com", "correct-horse")
	require.NoError(t, err)
	assert.Equal(t, doc["id"], id.ID)
	assert.Equal(t, []string{"editor"}, id.Roles)
	assert.Equal(t, "users", id.Collection)

	_, _, err = f.svc.Authenticate(ctx, "users", "editor@zervios.com", "wrong-horse")
	assert.Equal(t, CodeUnauthorized, appErr(t, err).Code)
	_, _, err = f.svc.Authenticate(ctx, "users", "nobody@zervios.com", "correct-horse")
	assert.Equal(t, CodeUnauthorized, appErr(t, err).Code)

	// changing the password keeps the other fields
	_, err = f.svc.Update(ctx, admin, "users", doc["id"].(string), map[string]any{"password": "battery-staple"})
	require.NoError(t, err)
	_, _, err = f.svc.Authenticate(ctx, "users", "editor@zervios.com", "battery-staple")
	assert.NoError(t, err)
}

func TestService_PasswordRejectedOutsideAuthCollections(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Create(context.Background(), editor, "posts", map[string]any{"title": "t", "password": "correct-horse"})
	ae := appErr(t, err)
	assert.Equal(t, []string{PasswordField}, detailFields(ae))
}

func TestService_UniqueEmailConflict(t *testing.T) {
	f := newFixture(t)
	f.createUser(t, "admin@zervios.com", "admin")

	_, err := f.svc.Create(context.Background(), admin, "users", map[string]any{
		"email":    "admin@zervios.com",
		"password": "correct-horse",
	})
	ae := appErr(t, err)
	assert.Equal(t, CodeConflict, ae.Code)
	assert.Equal(t, 409, ae.Status)
}

func TestService_Me(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.createUser(t, "editor@zervios.com", "editor")

	doc, err := f.svc.Me(ctx, metadata.Identity{ID: id, Collection: "users"}, "users")
	require.NoError(t, err)
	assert.Equal(t, "editor@zervios.com", doc["email"])

	doc, err = f.svc.Me(ctx, metadata.Public, "users")
	require.NoError(t, err)
	assert.Nil(t, doc)
}

func TestService_Globals(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	empty, err := f.svc.GetGlobal(ctx, metadata.Public, "settings", 0)
	require.NoError(t, err)
	assert.False(t, GlobalInitialized(empty))
	assert.Equal(t, "settings", empty["globalType"])

	_, err = f.svc.UpdateGlobal(ctx, editor, "settings", map[string]any{"siteName": "x", "siteDescription": "y"})
	assert.Equal(t, CodeAccessDenied, appErr(t, err).Code)

	_, err = f.svc.UpdateGlobal(ctx, admin, "settings", map[string]any{"siteName": "ZerviOS"})
	assert.Equal(t, []string{"siteDescription"}, detailFields(appErr(t, err)))

	first, err := f.svc.UpdateGlobal(ctx, admin, "settings", map[string]any{
		"siteName":        "ZerviOS",
		"siteDescription": "A modern CMS-powered platform",
		"socialLinks": []any{
			map[string]any{"platform": "twitter", "url": "https://twitter.com/zervios"},
		},
	})
	require.NoError(t, err)
	assert.True(t, GlobalInitialized(first))
	assert.NotContains(t, first, "id")

	second, err := f.svc.UpdateGlobal(ctx, admin, "settings", map[string]any{"siteName": "ZerviOS 2"})
	require.NoError(t, err)
	assert.Equal(t, "ZerviOS 2", second["siteName"])
	assert.Equal(t, "A modern CMS-powered platform", second["siteDescription"])
	assert.Len(t, second["socialLinks"], 1)

	docs, err := f.store.Query(ctx, globalCollection("settings"), store.Query{})
	require.NoError(t, err)
	assert.Len(t, docs, 1, "a global is a single document")
}

func TestService_UploadStoresAndDeletesFile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	content := []byte("\x89PNG fake image")

	doc, err := f.svc.Upload(ctx, editor, "media", File{
		Name:     "logo.png",
		MimeType: "image/png",
		Size:     int64(len(content)),
		Content:  bytes.NewReader(content),
	}, map[string]any{"alt": "Logo", "storageKey": "users/other/file"})
	require.NoError(t, err)
	assert.Equal(t, "logo.png", doc["filename"])
	assert.Equal(t, float64(len(content)), doc["filesize"])
	assert.Equal(t, "Logo", doc["alt"])
	assert.NotContains(t, doc, "storageKey")

	stored, err := f.store.Get(ctx, "media", doc["id"].(string))
	require.NoError(t, err)
	key := stored.Fields["storageKey"].(string)
	assert.Contains(t, key, "media/")
	assert.Equal(t, "http://localhost:3000/api/media/file/"+key, doc["url"])

	rc, _, err := f.svc.OpenFile(ctx, metadata.Public, "media", key)
	require.NoError(t, err)
	got, _ := io.ReadAll(rc)
	rc.Close()
	assert.Equal(t, content, got)

	_, err = f.svc.Delete(ctx, admin, "media", doc["id"].(string))
	require.NoError(t, err)
	_, err = f.files.Open(ctx, key)
	assert.Error(t, err, "file should be removed with its document")
}

func TestService_UploadLimits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Upload(ctx, editor, "media", File{
		Name: "big.bin", MimeType: "application/octet-stream",
		Size: testMaxUpload + 1, Content: bytes.NewReader(nil),
	}, nil)
	assert.Equal(t, CodePayloadTooLarge, appErr(t, err).Code)

	_, err = f.svc.Upload(ctx, metadata.Public, "media", File{
		Name: "a.png", MimeType: "image/png", Size: 1, Content: bytes.NewReader([]byte("a")),
	}, nil)
	assert.Equal(t, CodeAccessDenied, appErr(t, err).Code)

	_, err = f.svc.Upload(ctx, editor, "posts", File{
		Name: "a.png", MimeType: "image/png", Size: 1, Content: bytes.NewReader([]byte("a")),
	}, nil)
	assert.Equal(t, CodeInvalidPayload, appErr(t, err).Code)
}

func TestMimeAllowed(t *testing.T) {
	assert.True(t, mimeAllowed(nil, "anything/at-all"))
	assert.True(t, mimeAllowed([]string{"image/*"}, "image/png"))
	assert.False(t, mimeAllowed([]string{"image/*"}, "imagex/png"))
	assert.True(t, mimeAllowed([]string{"application/pdf"}, "application/pdf"))
	assert.False(t, mimeAllowed([]string{"application/pdf"}, "text/plain"))
}
