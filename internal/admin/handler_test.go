package admin

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zervios-cms/internal/collections"
	"zervios-cms/internal/engine"
	"zervios-cms/internal/metadata"
)

func pagesCollection() *metadata.Collection {
	return &metadata.Collection{
		Definition: metadata.Definition{
			Slug:   "pages",
			Fields: []metadata.Field{{Name: "title", Type: metadata.FieldText, Required: true}},
		},
		Access: metadata.CollectionAccess{Read: metadata.Anyone()},
	}
}

func setup(t *testing.T, fail *bool, withPages *bool) (*fiber.App, *metadata.Holder) {
	t.Helper()
	build := func() (*metadata.Registry, error) {
		if *fail {
			return nil, errors.New("broken schema file")
		}
		reg := metadata.NewRegistry()
		if err := collections.Register(reg); err != nil {
			return nil, err
		}
		if *withPages {
			if err := reg.RegisterCollection(pagesCollection()); err != nil {
				return nil, err
			}
		}
		return reg, reg.Freeze()
	}
	holder, err := metadata.NewHolder(build, zerolog.Nop())
	require.NoError(t, err)

	app := fiber.New(fiber.Config{ErrorHandler: engine.ErrorHandler(zerolog.Nop())})
	guard := func(c *fiber.Ctx) error {
		if c.Get("X-Admin") != "yes" {
			return engine.UnauthorizedError("Authentication required")
		}
		return c.Next()
	}
	RegisterAdminRoutes(app.Group("/api"), NewHandler(holder, zerolog.Nop()), guard)
	return app, holder
}

func get(t *testing.T, app *fiber.App, method, path string, asAdmin bool) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if asAdmin {
		req.Header.Set("X-Admin", "yes")
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func TestListSchemas(t *testing.T) {
	fail, pages := false, false
	app, _ := setup(t, &fail, &pages)

	status, body := get(t, app, "GET", "/api/_admin/schemas", true)
	require.Equal(t, 200, status)
	data := body["data"].([]any)
	require.Len(t, data, 3)

	bySlug := map[string]map[string]any{}
	for _, item := range data {
		m := item.(map[string]any)
		bySlug[m["slug"].(string)] = m
	}
	assert.Equal(t, true, bySlug["users"]["auth"])
	assert.Equal(t, true, bySlug["media"]["upload"])
	assert.Equal(t, "global", bySlug["settings"]["kind"])
}

func TestGetSchema(t *testing.T) {
	fail, pages := false, false
	app, _ := setup(t, &fail, &pages)

	status, body := get(t, app, "GET", "/api/_admin/schemas/settings", true)
	require.Equal(t, 200, status)
	schema := body["data"].(map[string]any)["schema"].(map[string]any)
	assert.Equal(t, "settings", schema["slug"])
	assert.Len(t, schema["fields"], 5)

	status, body = get(t, app, "GET", "/api/_admin/schemas/nope", true)
	assert.Equal(t, 404, status)
	assert.Equal(t, engine.CodeUnknownSchema, body["error"].(map[string]any)["code"])
}

func TestReload(t *testing.T) {
	fail, pages := false, false
	app, holder := setup(t, &fail, &pages)

	pages = true
	status, body := get(t, app, "POST", "/api/_admin/reload", true)
	require.Equal(t, 200, status, body)
	assert.Contains(t, body["data"].(map[string]any)["schemas"], "pages")
	_, err := holder.Registry().Collection("pages")
	assert.NoError(t, err)

	fail = true
	status, _ = get(t, app, "POST", "/api/_admin/reload", true)
	assert.Equal(t, 422, status)
	_, err = holder.Registry().Collection("pages")
	assert.NoError(t, err, "failed reload keeps the serving registry")
}

func TestGuard(t *testing.T) {
	fail, pages := false, false
	app, _ := setup(t, &fail, &pages)

	status, _ := get(t, app, "GET", "/api/_admin/schemas", false)
	assert.Equal(t, 401, status)
	status, _ = get(t, app, "POST", "/api/_admin/reload", false)
	assert.Equal(t, 401, status)
}
