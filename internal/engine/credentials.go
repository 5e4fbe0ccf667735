package engine

import (
	"context"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"zervios-cms/internal/metadata"
	"zervios-cms/internal/store"
)

// PasswordField is the write-only key auth collections accept for the password.
const PasswordField = "password"

const minPasswordLength = 8

// HashPassword hashes a plaintext password with bcrypt.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword compares a plaintext password against a bcrypt hash.
func CheckPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// takePassword removes the password key from input and returns its hash. On
// create an auth collection requires one. Non-auth collections keep input
// untouched, so a password key there fails validation as an unknown field.
func (s *Service) takePassword(c *metadata.Collection, input map[string]any, create bool) (map[string]any, string, error) {
	if !c.Auth {
		return input, "", nil
	}
	raw, present := input[PasswordField]
	rest := make(map[string]any, len(input))
	for k, v := range input {
		if k != PasswordField {
			rest[k] = v
		}
	}
	if !present || raw == nil {
		if create {
			return nil, "", ValidationError([]ErrorDetail{{Field: PasswordField, Rule: RuleRequired, Message: "password is required"}})
		}
		return rest, "", nil
	}
	password, ok := raw.(string)
	if !ok {
		return nil, "", ValidationError([]ErrorDetail{{Field: PasswordField, Rule: RuleType, Message: "password must be a string"}})
	}
	if len(password) < minPasswordLength {
		return nil, "", ValidationError([]ErrorDetail{{Field: PasswordField, Rule: RuleFormat,
			Message: fmt.Sprintf("password must be at least %d characters", minPasswordLength)}})
	}
	hash, err := HashPassword(password)
	if err != nil {
		return nil, "", err
	}
	return rest, hash, nil
}

// Authenticate checks credentials against an auth collection and returns the
// identity of the matching user. Every failure is the same UNAUTHORIZED error.
func (s *Service) Authenticate(ctx context.Context, slug, email, password string) (metadata.Identity, map[string]any, error) {
	invalid := UnauthorizedError("Invalid email or password")

	c, err := s.collection(s.Registry(), slug)
	if err != nil {
		return metadata.Public, nil, err
	}
	if !c.Auth {
		return metadata.Public, nil, NewAppError(CodeNotFound, 404, fmt.Sprintf("%s does not support login", slug))
	}
	if email == "" || password == "" {
		return metadata.Public, nil, UnauthorizedError("Email and password are required")
	}

	docs, err := s.store.Query(ctx, slug, store.Query{
		Where: []metadata.Condition{metadata.Eq(metadata.AuthEmailField, email)},
		Limit: 1,
	})
	if err != nil {
		return metadata.Public, nil, fmt.Errorf("find %s by email: %w", slug, err)
	}
	if len(docs) == 0 {
		return metadata.Public, nil, invalid
	}
	user := docs[0]
	hash, _ := user.Fields[metadata.AuthHashField].(string)
	if hash == "" || !CheckPassword(password, hash) {
		return metadata.Public, nil, invalid
	}
	return IdentityOf(slug, user), Present(&c.Definition, user), nil
}

// IdentityOf builds the identity snapshot of a user document.
func IdentityOf(slug string, user *store.Document) metadata.Identity {
	id := metadata.Identity{ID: user.ID, Collection: slug}
	id.Email, _ = user.Fields[metadata.AuthEmailField].(string)
	if roles, ok := user.Fields["roles"].([]any); ok {
		for _, r := range roles {
			if s, ok := r.(string); ok {
				id.Roles = append(id.Roles, s)
			}
		}
	}
	return id
}

// Me returns the caller's own user document, read through the normal read
// path. Public callers get nil.
func (s *Service) Me(ctx context.Context, id metadata.Identity, slug string) (map[string]any, error) {
	if !id.Authenticated() || id.Collection != slug {
		return nil, nil
	}
	return s.FindByID(ctx, id, slug, id.ID, 0)
}
