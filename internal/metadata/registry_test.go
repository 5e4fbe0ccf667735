package metadata

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mediaCollection() *Collection {
	return &Collection{
		Definition: Definition{Slug: "media", Fields: []Field{
			{Name: "filename", Type: FieldText},
			{Name: "alt", Type: FieldText},
		}},
		Upload: &UploadConfig{},
	}
}

func TestRegistry_RegisterAndResolve(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.RegisterCollection(mediaCollection()))
	require.NoError(t, reg.RegisterGlobal(&Global{Definition: Definition{Slug: "settings", Fields: []Field{
		{Name: "siteName", Type: FieldText, Required: true},
		{Name: "logo", Type: FieldUpload, RelationTo: "media"},
	}}}))
	require.NoError(t, reg.Freeze())

	s, err := reg.Resolve("media")
	require.NoError(t, err)
	assert.False(t, s.IsGlobal())

	s, err = reg.Resolve("settings")
	require.NoError(t, err)
	assert.True(t, s.IsGlobal())
	assert.Nil(t, s.Rule(OpCreate), "globals never carry a create rule")

	_, err = reg.Resolve("posts")
	var unknown *UnknownSchemaError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "posts", unknown.Slug)

	_, err = reg.Collection("settings")
	assert.ErrorAs(t, err, &unknown)
}

func TestRegistry_DuplicateSlugAcrossKinds(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.RegisterCollection(mediaCollection()))

	err := reg.RegisterGlobal(&Global{Definition: Definition{Slug: "media", Fields: []Field{{Name: "x", Type: FieldText}}}})
	var dup *DuplicateSlugError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "media", dup.Slug)
}

func TestRegistry_InvalidFields(t *testing.T) {
	cases := map[string][]Field{
		"missing relationTo":  {{Name: "author", Type: FieldRelationship}},
		"select no options":   {{Name: "kind", Type: FieldSelect}},
		"duplicate option":    {{Name: "kind", Type: FieldSelect, Options: []Option{{Value: "a"}, {Value: "a"}}}},
		"unknown type":        {{Name: "x", Type: "blob"}},
		"duplicate name":      {{Name: "x", Type: FieldText}, {Name: "x", Type: FieldNumber}},
		"empty array":         {{Name: "links", Type: FieldArray}},
		"bad nested":          {{Name: "links", Type: FieldArray, Fields: []Field{{Name: "icon", Type: FieldUpload}}}},
		"relationTo on text":  {{Name: "x", Type: FieldText, RelationTo: "media"}},
		"options on a number": {{Name: "x", Type: FieldNumber, Options: []Option{{Value: "1"}}}},
	}
	for name, fields := range cases {
		t.Run(name, func(t *testing.T) {
			reg := NewRegistry()
			err := reg.RegisterCollection(&Collection{Definition: Definition{Slug: "things", Fields: fields}})
			var invalid *InvalidFieldError
			require.ErrorAs(t, err, &invalid)
			assert.Equal(t, "things", invalid.Schema)
		})
	}
}

func TestRegistry_FreezeChecksRelationTargets(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.RegisterCollection(&Collection{Definition: Definition{Slug: "posts", Fields: []Field{
		{Name: "author", Type: FieldRelationship, RelationTo: "users"},
	}}}))

	err := reg.Freeze()
	var invalid *InvalidFieldError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "author", invalid.Field)
	assert.False(t, reg.Frozen())
}

func TestRegistry_FreezeRejectsUploadToPlainCollection(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.RegisterCollection(&Collection{Definition: Definition{Slug: "tags", Fields: []Field{{Name: "name", Type: FieldText}}}}))
	require.NoError(t, reg.RegisterGlobal(&Global{Definition: Definition{Slug: "settings", Fields: []Field{
		{Name: "social", Type: FieldArray, Fields: []Field{{Name: "icon", Type: FieldUpload, RelationTo: "tags"}}},
	}}}))

	err := reg.Freeze()
	var invalid *InvalidFieldError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "social.icon", invalid.Field)
}

func TestRegistry_FrozenRejectsRegistration(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Freeze())

	err := reg.RegisterCollection(mediaCollection())
	if !errors.Is(err, ErrRegistryFrozen) {
		t.Fatalf("expected ErrRegistryFrozen, got %v", err)
	}
}

func TestRegistry_AuthCollectionFields(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.RegisterCollection(&Collection{
		Definition: Definition{Slug: "users", Fields: []Field{{Name: "name", Type: FieldText}}},
		Auth:       true,
	}))
	users, err := reg.Collection("users")
	require.NoError(t, err)

	email := users.GetField(AuthEmailField)
	require.NotNil(t, email)
	assert.True(t, email.Required)
	assert.True(t, email.Unique)

	hash := users.GetField(AuthHashField)
	require.NotNil(t, hash)
	assert.True(t, hash.Hidden)

	for _, f := range users.VisibleFields() {
		assert.NotEqual(t, AuthHashField, f.Name)
	}
	assert.Equal(t, map[string][]string{"users": {"email"}}, reg.UniqueFields())
}

func TestRegistry_OrderAndSlugs(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.RegisterCollection(&Collection{Definition: Definition{Slug: "users", Fields: []Field{{Name: "name", Type: FieldText}}}}))
	require.NoError(t, reg.RegisterCollection(mediaCollection()))
	require.NoError(t, reg.RegisterGlobal(&Global{Definition: Definition{Slug: "footer", Fields: []Field{{Name: "text", Type: FieldText}}}}))

	cols := reg.Collections()
	require.Len(t, cols, 2)
	assert.Equal(t, "users", cols[0].Slug)
	assert.Equal(t, "media", cols[1].Slug)
	assert.Equal(t, []string{"footer", "media", "users"}, reg.Slugs())
}
