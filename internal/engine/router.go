package engine

import "github.com/gofiber/fiber/v2"

// RegisterDynamicRoutes mounts the generated REST surface on the /api group.
// Fixed routes (auth, admin, graphql) must be registered on the group first.
func RegisterDynamicRoutes(api fiber.Router, h *Handler) {
	api.Get("/globals/:slug", h.GetGlobal)
	api.Post("/globals/:slug", h.UpdateGlobal)

	api.Get("/:collection/file/*", h.ServeFile)

	api.Get("/:collection", h.List)
	api.Get("/:collection/:id", h.GetByID)
	api.Post("/:collection", h.Create)
	api.Patch("/:collection/:id", h.Update)
	api.Put("/:collection/:id", h.Update)
	api.Delete("/:collection/:id", h.Delete)
}
