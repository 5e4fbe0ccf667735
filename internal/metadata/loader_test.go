package metadata

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const postsYAML = `
collections:
  - slug: posts
    fields:
      - {name: title, type: text, required: true}
      - name: status
        type: select
        options:
          - {label: Draft, value: draft}
          - {label: Published, value: published}
      - {name: owner, type: text}
    access:
      read: {preset: anyone}
      create: {authenticated: true}
      update:
        authenticated: true
        scope:
          - {field: owner, operator: equals, value: $identity.id}
      delete:
        expression: '"editor" in identity.roles'
globals:
  - slug: footer
    fields:
      - {name: text, type: textarea}
    access:
      read: {allow: true}
      update: {roles: [admin]}
`

func loadPosts(t *testing.T) *Registry {
	t.Helper()
	f, err := ParseSchemaFile([]byte(postsYAML))
	require.NoError(t, err)
	reg := NewRegistry()
	require.NoError(t, f.Register(reg))
	require.NoError(t, reg.Freeze())
	return reg
}

func TestSchemaFile_Register(t *testing.T) {
	reg := loadPosts(t)

	posts, err := reg.Collection("posts")
	require.NoError(t, err)
	assert.Equal(t, []string{"title", "status", "owner"}, posts.FieldNames())
	assert.True(t, posts.GetField("status").HasOption("published"))

	footer, err := reg.Global("footer")
	require.NoError(t, err)
	assert.Equal(t, FieldTextarea, footer.GetField("text").Type)
}

func TestSchemaFile_CompiledRules(t *testing.T) {
	reg := loadPosts(t)
	posts, _ := reg.Collection("posts")
	footer, _ := reg.Global("footer")

	alice := Identity{ID: "u1", Roles: []string{"user"}}
	editor := Identity{ID: "u2", Roles: []string{"editor"}}

	assert.True(t, posts.Access.Read(Public).Allowed())
	assert.False(t, posts.Access.Create(Public).Allowed())
	assert.True(t, posts.Access.Create(alice).Allowed())

	d := posts.Access.Update(alice)
	require.Equal(t, DecisionScoped, d.Kind)
	require.Len(t, d.Scope, 1)
	assert.Equal(t, "u1", d.Scope[0].Value)
	assert.False(t, posts.Access.Update(Public).Allowed())

	assert.False(t, posts.Access.Delete(alice).Allowed())
	assert.True(t, posts.Access.Delete(editor).Allowed())

	assert.True(t, footer.Access.Read(Public).Allowed())
	assert.False(t, footer.Access.Update(alice).Allowed())
	assert.True(t, footer.Access.Update(Identity{ID: "a", Roles: []string{"Admin"}}).Allowed())
}

func TestSchemaFile_OmittedRuleDenies(t *testing.T) {
	f, err := ParseSchemaFile([]byte(`
collections:
  - slug: notes
    fields: [{name: body, type: text}]
`))
	require.NoError(t, err)
	reg := NewRegistry()
	require.NoError(t, f.Register(reg))

	notes, _ := reg.Collection("notes")
	assert.Nil(t, notes.Access.Read)
}

func TestSchemaFile_Errors(t *testing.T) {
	cases := map[string]string{
		"bad expression": `
collections:
  - slug: a
    fields: [{name: x, type: text}]
    access:
      read: {expression: "identity.id =="}`,
		"unknown preset": `
collections:
  - slug: a
    fields: [{name: x, type: text}]
    access:
      read: {preset: everyone}`,
		"empty rule": `
collections:
  - slug: a
    fields: [{name: x, type: text}]
    access:
      read: {}`,
		"empty roles only": `
globals:
  - slug: g
    fields: [{name: x, type: text}]
    access:
      update: {roles: []}`,
		"global create": `
globals:
  - slug: g
    fields: [{name: x, type: text}]
    access:
      create: {allow: true}`,
	}
	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			f, err := ParseSchemaFile([]byte(src))
			require.NoError(t, err)
			assert.Error(t, f.Register(NewRegistry()))
		})
	}
}

func TestSchemaFile_EmptyRuleIsRejected(t *testing.T) {
	f, err := ParseSchemaFile([]byte(`
collections:
  - slug: notes
    fields: [{name: body, type: text}]
    access:
      read: {preset: anyone}
      update: {}
`))
	require.NoError(t, err)
	reg := NewRegistry()
	err = f.Register(reg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "notes update access")
	_, err = reg.Collection("notes")
	assert.Error(t, err, "a rejected file registers nothing")
}

func TestLoadSchemaFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schemas.yaml")
	require.NoError(t, os.WriteFile(path, []byte(postsYAML), 0o644))

	f, err := LoadSchemaFile(path)
	require.NoError(t, err)
	assert.Len(t, f.Collections, 1)
	assert.Len(t, f.Globals, 1)

	_, err = LoadSchemaFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
