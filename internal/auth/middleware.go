package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"zervios-cms/internal/engine"
	"zervios-cms/internal/metadata"
)

// TokenCookie is the cookie login sets for browser clients.
const TokenCookie = "zervios-token"

// Middleware resolves the caller identity. Requests without a token run as
// the public identity; a token that does not verify is rejected.
func Middleware(tokens *Tokens) fiber.Handler {
	return func(c *fiber.Ctx) error {
		raw, ok := bearer(c)
		if !ok {
			c.Locals(engine.IdentityKey, metadata.Public)
			return c.Next()
		}
		if raw == "" {
			return engine.UnauthorizedError("Invalid auth header format")
		}

		claims, err := tokens.Parse(raw)
		if err != nil {
			return engine.UnauthorizedError("Invalid or expired token")
		}
		c.Locals(engine.IdentityKey, claims.Identity())
		return c.Next()
	}
}

// bearer extracts the token from "Authorization: Bearer <t>", "JWT <t>" or
// the login cookie. ok is false when the request carries none of them.
func bearer(c *fiber.Ctx) (string, bool) {
	header := c.Get(fiber.HeaderAuthorization)
	if header == "" {
		if cookie := c.Cookies(TokenCookie); cookie != "" {
			return cookie, true
		}
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || (!strings.EqualFold(parts[0], "Bearer") && !strings.EqualFold(parts[0], "JWT")) {
		return "", true
	}
	return strings.TrimSpace(parts[1]), true
}

// RequireAdmin is a Fiber middleware that checks the caller has the admin role.
func RequireAdmin() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := engine.IdentityFrom(c)
		if !id.Authenticated() {
			return engine.UnauthorizedError("Authentication required")
		}
		if !id.IsAdmin() {
			return engine.NewAppError(engine.CodeAccessDenied, fiber.StatusForbidden, "Admin access required")
		}
		return c.Next()
	}
}
