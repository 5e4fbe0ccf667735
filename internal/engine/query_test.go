package engine

import (
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zervios-cms/internal/collections"
	"zervios-cms/internal/metadata"
)

func TestParseWhereKey(t *testing.T) {
	tests := []struct {
		key   string
		field string
		op    string
		ok    bool
	}{
		{"where[title][equals]", "title", "equals", true},
		{"where[title]", "title", metadata.OpEquals, true},
		{"where[socialLinks.platform][in]", "socialLinks.platform", "in", true},
		{"where[]", "", "", false},
		{"where[a][b][c]", "", "", false},
		{"where[title", "", "", false},
		{"wherex[title]", "", "", false},
	}
	for _, tt := range tests {
		field, op, ok := parseWhereKey(tt.key)
		assert.Equal(t, tt.ok, ok, tt.key)
		if tt.ok {
			assert.Equal(t, tt.field, field, tt.key)
			assert.Equal(t, tt.op, op, tt.key)
		}
	}
}

func TestParseQueryParams(t *testing.T) {
	settings := collections.Settings()
	posts := postsCollection()

	var got FindQuery
	var parseErr error
	app := fiber.New()
	app.Get("/:collection", func(c *fiber.Ctx) error {
		def := &posts.Definition
		if c.Params("collection") == "settings" {
			def = &settings.Definition
		}
		got, parseErr = ParseQueryParams(c, def)
		return nil
	})

	_, err := app.Test(httptest.NewRequest("GET", "/posts?where[views][gte]=10&where[author]=u1&where[tags][in]=go,cms&sort=-views&page=3&limit=500&depth=2", nil), -1)
	require.NoError(t, err)
	require.NoError(t, parseErr)
	assert.ElementsMatch(t, []metadata.Condition{
		{Field: "views", Operator: metadata.OpGreaterThanEqual, Value: float64(10)},
		{Field: "author.id", Operator: metadata.OpEquals, Value: "u1"},
		{Field: "tags", Operator: metadata.OpIn, Value: []any{"go", "cms"}},
	}, got.Where)
	assert.Equal(t, "-views", got.Sort)
	assert.Equal(t, 3, got.Page)
	assert.Equal(t, maxLimit, got.Limit)
	assert.Equal(t, 2, got.Depth)

	_, err = app.Test(httptest.NewRequest("GET", "/settings?where[socialLinks.platform]=twitter", nil), -1)
	require.NoError(t, err)
	require.NoError(t, parseErr)
	assert.Equal(t, []metadata.Condition{metadata.Eq("socialLinks.platform", "twitter")}, got.Where)
	assert.Equal(t, -1, got.Depth, "no depth parameter selects the default")
	assert.Equal(t, defaultLimit, got.Limit)
}

func TestFieldAt(t *testing.T) {
	settings := collections.Settings()
	assert.Equal(t, "siteName", fieldAt(&settings.Definition, "siteName").Name)
	assert.Equal(t, "platform", fieldAt(&settings.Definition, "socialLinks.platform").Name)
	assert.Equal(t, "url", fieldAt(&settings.Definition, "socialLinks.0.url").Name)
	assert.Equal(t, "logo", fieldAt(&settings.Definition, "logo.id").Name)
	assert.Nil(t, fieldAt(&settings.Definition, "missing"))
}
