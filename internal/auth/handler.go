package auth

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"zervios-cms/internal/engine"
)

// Handler serves the login endpoints of auth collections.
type Handler struct {
	svc    *engine.Service
	tokens *Tokens
}

func NewHandler(svc *engine.Service, tokens *Tokens) *Handler {
	return &Handler{svc: svc, tokens: tokens}
}

type loginResponse struct {
	Token string         `json:"token"`
	Exp   int64          `json:"exp"`
	User  map[string]any `json:"user"`
}

// Login handles POST /api/:collection/login.
func (h *Handler) Login(c *fiber.Ctx) error {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.BodyParser(&body); err != nil {
		return engine.InvalidPayloadError("Invalid request body")
	}

	id, user, err := h.svc.Authenticate(c.UserContext(), c.Params("collection"), body.Email, body.Password)
	if err != nil {
		return err
	}
	token, exp, err := h.tokens.Issue(id)
	if err != nil {
		return err
	}
	h.setCookie(c, token, exp)
	return c.JSON(fiber.Map{"data": loginResponse{Token: token, Exp: exp.Unix(), User: user}})
}

// Me handles GET /api/:collection/me. Public callers get a null user.
func (h *Handler) Me(c *fiber.Ctx) error {
	user, err := h.svc.Me(c.UserContext(), engine.IdentityFrom(c), c.Params("collection"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"user": user}})
}

// Refresh handles POST /api/:collection/refresh-token: a valid token is
// exchanged for a fresh one carrying the user's current roles.
func (h *Handler) Refresh(c *fiber.Ctx) error {
	slug := c.Params("collection")
	id := engine.IdentityFrom(c)
	if !id.Authenticated() || id.Collection != slug {
		return engine.UnauthorizedError("Authentication required")
	}
	user, err := h.svc.Me(c.UserContext(), id, slug)
	if err != nil {
		return err
	}
	current := id
	current.Roles = nil
	if roles, ok := user["roles"].([]any); ok {
		for _, r := range roles {
			if s, ok := r.(string); ok {
				current.Roles = append(current.Roles, s)
			}
		}
	}
	token, exp, err := h.tokens.Issue(current)
	if err != nil {
		return err
	}
	h.setCookie(c, token, exp)
	return c.JSON(fiber.Map{"data": loginResponse{Token: token, Exp: exp.Unix(), User: user}})
}

// Logout handles POST /api/:collection/logout. Tokens are stateless, so only
// the cookie is cleared.
func (h *Handler) Logout(c *fiber.Ctx) error {
	c.ClearCookie(TokenCookie)
	return c.JSON(fiber.Map{"message": "Logged out"})
}

func (h *Handler) setCookie(c *fiber.Ctx, token string, exp time.Time) {
	c.Cookie(&fiber.Cookie{
		Name:     TokenCookie,
		Value:    token,
		Expires:  exp,
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
}

// RegisterAuthRoutes registers the auth routes on the /api group. They must
// come before the generic /:collection/:id routes.
func RegisterAuthRoutes(api fiber.Router, h *Handler) {
	api.Post("/:collection/login", h.Login)
	api.Post("/:collection/logout", h.Logout)
	api.Post("/:collection/refresh-token", h.Refresh)
	api.Get("/:collection/me", h.Me)
}
