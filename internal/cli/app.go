package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"

	"zervios-cms/internal/admin"
	"zervios-cms/internal/auth"
	"zervios-cms/internal/collections"
	"zervios-cms/internal/config"
	"zervios-cms/internal/engine"
	"zervios-cms/internal/graphql"
	"zervios-cms/internal/instrument"
	"zervios-cms/internal/metadata"
	"zervios-cms/internal/storage"
	"zervios-cms/internal/store"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// App holds the wired components shared by the serve and seed commands.
type App struct {
	Config   *config.Config
	Logger   zerolog.Logger
	Holder   *metadata.Holder
	Store    store.Backend
	Service  *engine.Service
	Recorder instrument.Recorder
	metrics  *instrument.Collector
}

// Bootstrap builds the registry, opens the store and assembles the engine.
// Schema definition errors abort here.
func Bootstrap(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*App, error) {
	holder, err := metadata.NewHolder(collections.Builder(cfg.Schema.File), logger)
	if err != nil {
		return nil, err
	}

	db, err := store.Open(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	logger.Info().Str("driver", cfg.Database.Driver).Msg("store ready")

	files, err := storage.Open(cfg.Storage)
	if err != nil {
		db.Close()
		return nil, err
	}

	svc := engine.NewService(holder, db, files, logger, engine.Options{
		MaxUploadSize: cfg.Upload.MaxFileSize,
		DefaultDepth:  cfg.Depth.Default,
		MaxDepth:      cfg.Depth.Max,
		Concurrency:   cfg.Depth.Concurrency,
		PublicURL:     cfg.Server.PublicURL,
	})
	if err := svc.EnsureIndexes(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure indexes: %w", err)
	}

	app := &App{Config: cfg, Logger: logger, Holder: holder, Store: db, Service: svc, Recorder: instrument.NoopRecorder{}}
	if cfg.Metrics.Enabled {
		app.metrics = instrument.NewCollector()
		app.Recorder = app.metrics
	}

	holder.OnChange(func(*metadata.Registry) {
		app.Recorder.SchemaReload(true)
		if err := svc.EnsureIndexes(context.Background()); err != nil {
			logger.Error().Err(err).Msg("ensure indexes after reload")
		}
	})
	holder.OnFailure(func(error) { app.Recorder.SchemaReload(false) })
	return app, nil
}

// Context returns ctx carrying the app's recorder.
func (a *App) Context(ctx context.Context) context.Context {
	return instrument.WithRecorder(ctx, a.Recorder)
}

func (a *App) Close() {
	a.Holder.Stop()
	a.Store.Close()
}

// Server builds the HTTP surface. Specific /api routes are registered before
// the generic /api/:collection routes so they win the match.
func (a *App) Server() *fiber.App {
	cfg := a.Config
	app := fiber.New(fiber.Config{
		AppName:               "zervios-cms",
		ErrorHandler:          engine.ErrorHandler(a.Logger),
		BodyLimit:             int(cfg.Upload.MaxFileSize) + 1<<20,
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		DisableStartupMessage: true,
	})

	app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	if a.Logger.GetLevel() <= zerolog.DebugLevel {
		app.Use(fiberlogger.New(fiberlogger.Config{
			Format: "${time} ${status} ${method} ${path} ${latency}\n",
		}))
	}
	app.Use(cors.New(corsConfig(cfg.Server.CORSOrigins)))
	app.Use(instrument.Middleware(a.Recorder))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	if a.metrics != nil {
		app.Get(cfg.Metrics.Path, adaptor.HTTPHandler(a.metrics.Handler()))
	}

	tokens := auth.NewTokens(cfg.Auth.Secret, cfg.Auth.TokenTTL)
	api := app.Group("/api", auth.Middleware(tokens))

	auth.RegisterAuthRoutes(api, auth.NewHandler(a.Service, tokens))
	admin.RegisterAdminRoutes(api, admin.NewHandler(a.Holder, a.Logger), auth.RequireAdmin())
	graphql.RegisterRoutes(api, graphql.NewHandler(a.Service, a.Logger))
	engine.RegisterDynamicRoutes(api, engine.NewHandler(a.Service, a.Logger))

	return app
}

func corsConfig(origins []string) cors.Config {
	if len(origins) == 0 {
		return cors.Config{AllowOrigins: "*"}
	}
	return cors.Config{
		AllowOrigins:     strings.Join(origins, ","),
		AllowCredentials: true,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
	}
}
