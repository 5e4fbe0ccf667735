package admin

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"zervios-cms/internal/engine"
	"zervios-cms/internal/metadata"
)

// Reloader rebuilds the schema registry. *metadata.Holder implements it.
type Reloader interface {
	metadata.Source
	Reload() error
}

type Handler struct {
	schemas Reloader
	logger  zerolog.Logger
}

func NewHandler(schemas Reloader, logger zerolog.Logger) *Handler {
	return &Handler{schemas: schemas, logger: logger}
}

// RegisterAdminRoutes mounts the admin endpoints under /_admin on the given
// router, behind the guard (normally auth.RequireAdmin).
func RegisterAdminRoutes(api fiber.Router, h *Handler, guard fiber.Handler) {
	admin := api.Group("/_admin", guard)

	admin.Get("/schemas", h.ListSchemas)
	admin.Get("/schemas/:slug", h.GetSchema)
	admin.Post("/reload", h.Reload)
}

type schemaSummary struct {
	Slug   string `json:"slug"`
	Label  string `json:"label,omitempty"`
	Kind   string `json:"kind"`
	Auth   bool   `json:"auth,omitempty"`
	Upload bool   `json:"upload,omitempty"`
	Fields int    `json:"fields"`
}

func (h *Handler) ListSchemas(c *fiber.Ctx) error {
	reg := h.schemas.Registry()
	out := []schemaSummary{}
	for _, col := range reg.Collections() {
		out = append(out, schemaSummary{
			Slug: col.Slug, Label: col.Label, Kind: "collection",
			Auth: col.Auth, Upload: col.Upload != nil, Fields: len(col.Fields),
		})
	}
	for _, g := range reg.Globals() {
		out = append(out, schemaSummary{Slug: g.Slug, Label: g.Label, Kind: "global", Fields: len(g.Fields)})
	}
	return c.JSON(fiber.Map{"data": out})
}

func (h *Handler) GetSchema(c *fiber.Ctx) error {
	slug := c.Params("slug")
	schema, err := h.schemas.Registry().Resolve(slug)
	if err != nil {
		return engine.UnknownSchemaError(slug)
	}
	kind := "collection"
	if schema.IsGlobal() {
		kind = "global"
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"kind": kind, "schema": schema}})
}

// Reload rebuilds the registry from its sources. On failure the current
// registry keeps serving and the error is returned to the caller.
func (h *Handler) Reload(c *fiber.Ctx) error {
	if err := h.schemas.Reload(); err != nil {
		return engine.NewAppError(engine.CodeValidation, fiber.StatusUnprocessableEntity, err.Error())
	}
	slugs := h.schemas.Registry().Slugs()
	h.logger.Info().Str("by", engine.IdentityFrom(c).ID).Int("schemas", len(slugs)).Msg("schemas reloaded via admin API")
	return c.JSON(fiber.Map{"data": fiber.Map{"schemas": slugs}})
}
