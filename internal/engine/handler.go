package engine

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"

	"zervios-cms/internal/metadata"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// IdentityKey is the fiber.Ctx local holding the caller's metadata.Identity.
const IdentityKey = "identity"

// IdentityFrom returns the caller identity, or the public identity when no
// authentication ran.
func IdentityFrom(c *fiber.Ctx) metadata.Identity {
	id, _ := c.Locals(IdentityKey).(metadata.Identity)
	return id
}

type Handler struct {
	svc    *Service
	logger zerolog.Logger
}

func NewHandler(svc *Service, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// List handles GET /api/:collection
func (h *Handler) List(c *fiber.Ctx) error {
	slug := c.Params("collection")
	col, err := h.svc.collection(h.svc.Registry(), slug)
	if err != nil {
		return err
	}
	q, err := ParseQueryParams(c, &col.Definition)
	if err != nil {
		return err
	}

	page, err := h.svc.Find(c.UserContext(), IdentityFrom(c), slug, q)
	if err != nil {
		return err
	}
	return c.JSON(listResponse(page))
}

// listResponse renders a page in the paginated list shape clients of the
// REST surface expect.
func listResponse(page *Page) fiber.Map {
	docs := page.Docs
	if docs == nil {
		docs = []map[string]any{}
	}
	out := fiber.Map{
		"docs":        docs,
		"totalDocs":   page.Total,
		"limit":       page.Limit,
		"page":        page.Page,
		"totalPages":  page.TotalPages,
		"hasPrevPage": page.Page > 1,
		"hasNextPage": page.Page < page.TotalPages,
		"prevPage":    nil,
		"nextPage":    nil,
	}
	if page.Page > 1 {
		out["prevPage"] = page.Page - 1
	}
	if page.Page < page.TotalPages {
		out["nextPage"] = page.Page + 1
	}
	return out
}

// GetByID handles GET /api/:collection/:id
func (h *Handler) GetByID(c *fiber.Ctx) error {
	depth, err := ParseDepth(c)
	if err != nil {
		return err
	}
	doc, err := h.svc.FindByID(c.UserContext(), IdentityFrom(c), c.Params("collection"), c.Params("id"), depth)
	if err != nil {
		return err
	}
	return c.JSON(doc)
}

// Create handles POST /api/:collection. Multipart requests to upload
// collections carry the file in the "file" part.
func (h *Handler) Create(c *fiber.Ctx) error {
	if strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEMultipartForm) {
		return h.upload(c)
	}
	body, err := parseBody(c)
	if err != nil {
		return err
	}
	doc, err := h.svc.Create(c.UserContext(), IdentityFrom(c), c.Params("collection"), body)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"message": "Document created", "doc": doc})
}

// Update handles PATCH and PUT /api/:collection/:id. Both merge.
func (h *Handler) Update(c *fiber.Ctx) error {
	body, err := parseBody(c)
	if err != nil {
		return err
	}
	doc, err := h.svc.Update(c.UserContext(), IdentityFrom(c), c.Params("collection"), c.Params("id"), body)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"message": "Document updated", "doc": doc})
}

// Delete handles DELETE /api/:collection/:id
func (h *Handler) Delete(c *fiber.Ctx) error {
	doc, err := h.svc.Delete(c.UserContext(), IdentityFrom(c), c.Params("collection"), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"message": "Document deleted", "doc": doc})
}

// GetGlobal handles GET /api/globals/:slug. The global is the response body.
func (h *Handler) GetGlobal(c *fiber.Ctx) error {
	depth, err := ParseDepth(c)
	if err != nil {
		return err
	}
	doc, err := h.svc.GetGlobal(c.UserContext(), IdentityFrom(c), c.Params("slug"), depth)
	if err != nil {
		return err
	}
	return c.JSON(doc)
}

// UpdateGlobal handles POST /api/globals/:slug
func (h *Handler) UpdateGlobal(c *fiber.Ctx) error {
	body, err := parseBody(c)
	if err != nil {
		return err
	}
	doc, err := h.svc.UpdateGlobal(c.UserContext(), IdentityFrom(c), c.Params("slug"), body)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"message": "Global updated", "result": doc})
}

func parseBody(c *fiber.Ctx) (map[string]any, error) {
	var body map[string]any
	if len(c.Body()) == 0 {
		return nil, InvalidPayloadError("Request body is required")
	}
	if err := json.Unmarshal(c.Body(), &body); err != nil || body == nil {
		return nil, InvalidPayloadError("Request body must be a JSON object")
	}
	return body, nil
}

// ErrorHandler renders every error in the response envelope. Errors that are
// neither AppErrors nor fiber errors are logged and hidden behind a 500.
func ErrorHandler(logger zerolog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var appErr *AppError
		if errors.As(err, &appErr) {
			return respondError(c, appErr)
		}

		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			switch fiberErr.Code {
			case fiber.StatusNotFound:
				return respondError(c, NewAppError(CodeNotFound, fiberErr.Code, fiberErr.Message))
			case fiber.StatusRequestEntityTooLarge:
				return respondError(c, PayloadTooLargeError(fiberErr.Message))
			}
			if fiberErr.Code < 500 {
				return respondError(c, NewAppError(CodeInvalidPayload, fiberErr.Code, fiberErr.Message))
			}
		}

		logger.Error().Err(err).
			Str("method", c.Method()).
			Str("path", c.Path()).
			Str("trace_id", c.GetRespHeader("X-Trace-ID")).
			Msg("request failed")
		return respondError(c, NewAppError(CodeInternal, fiber.StatusInternalServerError, "Internal server error"))
	}
}

func respondError(c *fiber.Ctx, appErr *AppError) error {
	return c.Status(appErr.Status).JSON(ErrorResponse{Error: appErr})
}
