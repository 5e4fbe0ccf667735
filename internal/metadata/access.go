package metadata

// Operation is one of the four document operations gated by access rules.
type Operation string

const (
	OpCreate Operation = "create"
	OpRead   Operation = "read"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

type DecisionKind int

const (
	DecisionDeny DecisionKind = iota
	DecisionAllow
	DecisionScoped
)

// Decision is the result of applying an access rule to an identity. A scoped
// decision allows the operation only on documents matching Scope.
type Decision struct {
	Kind  DecisionKind
	Scope []Condition
}

func Allow() Decision { return Decision{Kind: DecisionAllow} }

func Deny() Decision { return Decision{Kind: DecisionDeny} }

// Scoped allows the operation on documents matching every condition.
func Scoped(conds ...Condition) Decision {
	return Decision{Kind: DecisionScoped, Scope: conds}
}

// Allowed is false only for an unconditional deny.
func (d Decision) Allowed() bool {
	return d.Kind != DecisionDeny
}

// AccessRule is a pure predicate over the caller identity.
type AccessRule func(id Identity) Decision

// CollectionAccess holds one rule per operation. A nil rule denies.
type CollectionAccess struct {
	Create AccessRule
	Read   AccessRule
	Update AccessRule
	Delete AccessRule
}

// GlobalAccess holds the rules of a singleton; globals are never created or deleted by callers.
type GlobalAccess struct {
	Read   AccessRule
	Update AccessRule
}

// Anyone allows every caller, including the public identity.
func Anyone() AccessRule {
	return func(Identity) Decision { return Allow() }
}

// Nobody denies every caller.
func Nobody() AccessRule {
	return func(Identity) Decision { return Deny() }
}

// LoggedIn allows any authenticated identity.
func LoggedIn() AccessRule {
	return func(id Identity) Decision {
		if id.Authenticated() {
			return Allow()
		}
		return Deny()
	}
}

// RoleIn allows identities holding at least one of the roles.
func RoleIn(roles ...string) AccessRule {
	return func(id Identity) Decision {
		for _, r := range roles {
			if id.HasRole(r) {
				return Allow()
			}
		}
		return Deny()
	}
}

// AdminOnly allows identities with the admin role.
func AdminOnly() AccessRule {
	return RoleIn("admin")
}

// AdminOrSelf allows admins everything and other authenticated users only
// their own document.
func AdminOrSelf() AccessRule {
	return func(id Identity) Decision {
		if id.IsAdmin() {
			return Allow()
		}
		if id.Authenticated() {
			return Scoped(Eq("id", id.ID))
		}
		return Deny()
	}
}
