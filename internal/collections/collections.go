// Package collections declares the built-in content model: the users auth
// collection, the media upload collection and the settings global.
package collections

import (
	"fmt"

	"zervios-cms/internal/metadata"
)

const (
	UsersSlug    = "users"
	MediaSlug    = "media"
	SettingsSlug = "settings"
)

func Users() *metadata.Collection {
	return &metadata.Collection{
		Definition: metadata.Definition{
			Slug:  UsersSlug,
			Label: "Users",
			Fields: []metadata.Field{
				{Name: "name", Type: metadata.FieldText},
				{Name: "roles", Type: metadata.FieldSelect, HasMany: true, Restricted: true, Options: []metadata.Option{
					{Label: "Admin", Value: "admin"},
					{Label: "Editor", Value: "editor"},
				}},
			},
		},
		Auth: true,
		Access: metadata.CollectionAccess{
			Create: metadata.AdminOnly(),
			Read:   metadata.AdminOrSelf(),
			Update: metadata.AdminOrSelf(),
			Delete: metadata.AdminOnly(),
		},
	}
}

func Media() *metadata.Collection {
	return &metadata.Collection{
		Definition: metadata.Definition{
			Slug:  MediaSlug,
			Label: "Media",
			Fields: []metadata.Field{
				{Name: "filename", Type: metadata.FieldText, Required: true},
				{Name: "mimeType", Type: metadata.FieldText},
				{Name: "filesize", Type: metadata.FieldNumber},
				{Name: "url", Type: metadata.FieldText},
				{Name: "storageKey", Type: metadata.FieldText, Hidden: true},
				{Name: "alt", Type: metadata.FieldText},
			},
		},
		Upload: &metadata.UploadConfig{},
		Access: metadata.CollectionAccess{
			Create: metadata.LoggedIn(),
			Read:   metadata.Anyone(),
			Update: metadata.LoggedIn(),
			Delete: metadata.AdminOnly(),
		},
	}
}

// Platforms offered for settings.socialLinks.
var Platforms = []metadata.Option{
	{Label: "Twitter", Value: "twitter"},
	{Label: "Facebook", Value: "facebook"},
	{Label: "Instagram", Value: "instagram"},
	{Label: "LinkedIn", Value: "linkedin"},
	{Label: "YouTube", Value: "youtube"},
}

// Settings is the site-wide singleton. Logo and favicon are optional so the
// global can be initialised before any media exists.
func Settings() *metadata.Global {
	return &metadata.Global{
		Definition: metadata.Definition{
			Slug:  SettingsSlug,
			Label: "Settings",
			Fields: []metadata.Field{
				{Name: "siteName", Type: metadata.FieldText, Required: true},
				{Name: "siteDescription", Type: metadata.FieldTextarea, Required: true},
				{Name: "logo", Type: metadata.FieldUpload, RelationTo: MediaSlug},
				{Name: "favicon", Type: metadata.FieldUpload, RelationTo: MediaSlug},
				{Name: "socialLinks", Type: metadata.FieldArray, Fields: []metadata.Field{
					{Name: "platform", Type: metadata.FieldSelect, Required: true, Options: Platforms},
					{Name: "url", Type: metadata.FieldText, Required: true},
				}},
			},
		},
		Access: metadata.GlobalAccess{
			Read:   metadata.Anyone(),
			Update: metadata.AdminOnly(),
		},
	}
}

// Register adds the built-in schemas to reg.
func Register(reg *metadata.Registry) error {
	for _, c := range []*metadata.Collection{Users(), Media()} {
		if err := reg.RegisterCollection(c); err != nil {
			return fmt.Errorf("register %s: %w", c.Slug, err)
		}
	}
	if err := reg.RegisterGlobal(Settings()); err != nil {
		return fmt.Errorf("register settings: %w", err)
	}
	return nil
}

// Builder returns a metadata.Builder producing the built-ins plus the schemas
// declared in the given files, frozen and ready to serve.
func Builder(files ...string) metadata.Builder {
	return func() (*metadata.Registry, error) {
		reg := metadata.NewRegistry()
		if err := Register(reg); err != nil {
			return nil, err
		}
		for _, path := range files {
			if path == "" {
				continue
			}
			f, err := metadata.LoadSchemaFile(path)
			if err != nil {
				return nil, err
			}
			if err := f.Register(reg); err != nil {
				return nil, fmt.Errorf("%s: %w", path, err)
			}
		}
		if err := reg.Freeze(); err != nil {
			return nil, err
		}
		return reg, nil
	}
}
