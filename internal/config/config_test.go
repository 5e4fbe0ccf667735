package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, int64(5000000), cfg.Upload.MaxFileSize)
	assert.Equal(t, 2*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, 1, cfg.Depth.Default)
	assert.Equal(t, 3, cfg.Depth.Max)
	assert.Equal(t, "admin@zervios.com", cfg.Seed.AdminEmail)
	assert.Empty(t, cfg.Auth.Secret)
	assert.Error(t, cfg.Validate(), "a missing secret must fail validation")
}

func TestLoad_LegacyEnvironment(t *testing.T) {
	t.Setenv("DATABASE_URI", "postgres://cms:cms@db:5432/cms")
	t.Setenv("PAYLOAD_SECRET", "s3cret")
	t.Setenv("PORT", "4000")
	t.Setenv("NEXT_PUBLIC_SITE_URL", "https://zervios.com, https://www.zervios.com")
	t.Setenv("ADMIN_PASSWORD", "from-env")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "postgres://cms:cms@db:5432/cms", cfg.Database.DSN())
	assert.Equal(t, "s3cret", cfg.Auth.Secret)
	assert.Equal(t, 4000, cfg.Server.Port)
	assert.Equal(t, []string{"https://zervios.com", "https://www.zervios.com"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "from-env", cfg.Seed.AdminPassword)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database:
  driver: sqlite
  path: /tmp/cms
  name: content
auth:
  secret: file-secret
depth:
  default: 2
  max: 1
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.Database.IsSQLite())
	assert.Equal(t, "/tmp/cms/content.db", cfg.Database.DSN())
	assert.Error(t, cfg.Validate(), "max depth below default depth")
}

func TestLoad_ExplicitMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate_StorageDriver(t *testing.T) {
	t.Setenv("PAYLOAD_SECRET", "s3cret")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "local", cfg.Storage.Driver)
	require.NoError(t, cfg.Validate())

	cfg.Storage.Driver = "s3"
	assert.ErrorContains(t, cfg.Validate(), `unsupported storage driver "s3"`)
}
