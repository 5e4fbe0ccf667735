package graphql

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	gql "github.com/graphql-go/graphql"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"

	"zervios-cms/internal/engine"
	"zervios-cms/internal/metadata"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Handler serves /api/graphql. The generated schema is rebuilt whenever the
// service hands out a different registry.
type Handler struct {
	svc    *engine.Service
	logger zerolog.Logger

	mu     sync.Mutex
	built  *metadata.Registry
	schema gql.Schema
}

func NewHandler(svc *engine.Service, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// RegisterRoutes mounts the endpoint. It must be registered before the
// generic /:collection routes.
func RegisterRoutes(api fiber.Router, h *Handler) {
	api.Post("/graphql", h.Serve)
	api.Get("/graphql", h.Serve)
}

type request struct {
	Query         string         `json:"query"`
	Variables     map[string]any `json:"variables"`
	OperationName string         `json:"operationName"`
}

func (h *Handler) Serve(c *fiber.Ctx) error {
	var req request
	if c.Method() == fiber.MethodGet {
		req.Query = c.Query("query")
		req.OperationName = c.Query("operationName")
		if v := c.Query("variables"); v != "" {
			if err := json.UnmarshalFromString(v, &req.Variables); err != nil {
				return engine.InvalidPayloadError("variables must be a JSON object")
			}
		}
	} else if err := json.Unmarshal(c.Body(), &req); err != nil {
		return engine.InvalidPayloadError("Invalid GraphQL request body")
	}
	if req.Query == "" {
		return engine.InvalidPayloadError("query is required")
	}

	schema, err := h.schemaFor(h.svc.Registry())
	if err != nil {
		return err
	}
	result := gql.Do(gql.Params{
		Schema:         schema,
		RequestString:  req.Query,
		VariableValues: req.Variables,
		OperationName:  req.OperationName,
		Context:        WithIdentity(c.UserContext(), engine.IdentityFrom(c)),
	})
	return c.JSON(result)
}

func (h *Handler) schemaFor(reg *metadata.Registry) (gql.Schema, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.built == reg {
		return h.schema, nil
	}
	schema, err := BuildSchema(reg, h.svc, h.logger)
	if err != nil {
		h.logger.Error().Err(err).Msg("generate graphql schema")
		return gql.Schema{}, err
	}
	h.built, h.schema = reg, schema
	h.logger.Debug().Int("schemas", len(reg.Slugs())).Msg("graphql schema generated")
	return schema, nil
}
