package metadata

import "strings"

// Identity is the caller snapshot passed into every engine operation. The zero
// value is the public (unauthenticated) caller.
type Identity struct {
	ID         string   `json:"id,omitempty"`
	Collection string   `json:"collection,omitempty"`
	Email      string   `json:"email,omitempty"`
	Roles      []string `json:"roles,omitempty"`
}

// Public is the identity of an unauthenticated caller.
var Public = Identity{}

// Authenticated reports whether the identity refers to a user document.
func (u Identity) Authenticated() bool {
	return u.ID != ""
}

// HasRole checks whether the identity carries a specific role.
func (u Identity) HasRole(role string) bool {
	for _, r := range u.Roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

// IsAdmin checks whether the identity has the admin role.
func (u Identity) IsAdmin() bool {
	return u.HasRole("admin")
}

// env is the view of the identity exposed to access rule expressions.
func (u Identity) env() map[string]any {
	roles := u.Roles
	if roles == nil {
		roles = []string{}
	}
	return map[string]any{
		"id":            u.ID,
		"email":         u.Email,
		"collection":    u.Collection,
		"roles":         roles,
		"authenticated": u.Authenticated(),
	}
}
