package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Upload   UploadConfig   `mapstructure:"upload"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Schema   SchemaConfig   `mapstructure:"schema"`
	Depth    DepthConfig    `mapstructure:"depth"`
	Seed     SeedConfig     `mapstructure:"seed"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

type ServerConfig struct {
	Port        int      `mapstructure:"port"`
	PublicURL   string   `mapstructure:"public_url"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"` // postgres, sqlite or memory
	URI      string `mapstructure:"uri"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	PoolSize int    `mapstructure:"pool_size"`
	Path     string `mapstructure:"path"` // directory for the SQLite database file
}

// DSN returns the driver-specific data source name.
func (d DatabaseConfig) DSN() string {
	if d.Driver == "sqlite" {
		return d.Path + "/" + d.Name + ".db"
	}
	if d.URI != "" {
		return d.URI
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

// IsSQLite returns true if the driver is sqlite.
func (d DatabaseConfig) IsSQLite() bool {
	return d.Driver == "sqlite"
}

type StorageConfig struct {
	Driver    string `mapstructure:"driver"`
	LocalPath string `mapstructure:"local_path"`
}

type UploadConfig struct {
	MaxFileSize int64 `mapstructure:"max_file_size"`
}

type AuthConfig struct {
	Secret   string        `mapstructure:"secret"`
	TokenTTL time.Duration `mapstructure:"token_ttl"`
}

type SchemaConfig struct {
	File  string `mapstructure:"file"`
	Watch bool   `mapstructure:"watch"`
}

// DepthConfig bounds relationship expansion.
type DepthConfig struct {
	Default     int `mapstructure:"default"`
	Max         int `mapstructure:"max"`
	Concurrency int `mapstructure:"concurrency"`
}

type SeedConfig struct {
	OnStart         bool   `mapstructure:"on_start"`
	AdminEmail      string `mapstructure:"admin_email"`
	AdminPassword   string `mapstructure:"admin_password"`
	SiteName        string `mapstructure:"site_name"`
	SiteDescription string `mapstructure:"site_description"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // console or json
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// envAliases binds the variable names of existing deployments.
var envAliases = map[string]string{
	"database.uri":        "DATABASE_URI",
	"auth.secret":         "PAYLOAD_SECRET",
	"server.port":         "PORT",
	"server.public_url":   "PAYLOAD_PUBLIC_SERVER_URL",
	"server.cors_origins": "NEXT_PUBLIC_SITE_URL",
	"seed.admin_email":    "ADMIN_EMAIL",
	"seed.admin_password": "ADMIN_PASSWORD",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 3000)
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "zervios")
	v.SetDefault("database.pool_size", 10)
	v.SetDefault("database.path", "./data")
	v.SetDefault("storage.driver", "local")
	v.SetDefault("storage.local_path", "./uploads")
	v.SetDefault("upload.max_file_size", 5000000)
	v.SetDefault("auth.token_ttl", "2h")
	v.SetDefault("schema.watch", false)
	v.SetDefault("depth.default", 1)
	v.SetDefault("depth.max", 3)
	v.SetDefault("depth.concurrency", 8)
	v.SetDefault("seed.on_start", true)
	v.SetDefault("seed.admin_email", "admin@zervios.com")
	v.SetDefault("seed.site_name", "ZerviOS")
	v.SetDefault("seed.site_description", "A modern CMS-powered platform")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

// Load reads .env, then app.yaml (from path, or the working directory when
// path is empty), then the environment. A missing app.yaml is not an error.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("app")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range envAliases {
		if err := v.BindEnv(key, strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Server.CORSOrigins = splitOrigins(cfg.Server.CORSOrigins)
	if cfg.Database.URI != "" && cfg.Database.Driver == "" {
		cfg.Database.Driver = "postgres"
	}
	return &cfg, nil
}

// Validate checks the settings required to serve requests.
func (c *Config) Validate() error {
	if c.Auth.Secret == "" {
		return errors.New("auth secret is not set (PAYLOAD_SECRET)")
	}
	switch c.Database.Driver {
	case "postgres", "sqlite", "memory":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	switch c.Storage.Driver {
	case "", "local":
	default:
		return fmt.Errorf("unsupported storage driver %q", c.Storage.Driver)
	}
	if c.Depth.Max < c.Depth.Default {
		return fmt.Errorf("depth.max (%d) is below depth.default (%d)", c.Depth.Max, c.Depth.Default)
	}
	return nil
}

// splitOrigins accepts both a YAML list and a comma separated env value.
func splitOrigins(in []string) []string {
	var out []string
	for _, item := range in {
		for _, o := range strings.Split(item, ",") {
			if o = strings.TrimSpace(o); o != "" {
				out = append(out, o)
			}
		}
	}
	return out
}
