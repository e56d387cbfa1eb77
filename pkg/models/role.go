package models

// Role is the caller's rank in the fixed authorization hierarchy.
// Access is granted iff the caller's rank is at least the required
// rank; unknown role strings rank as VIEWER.
type Role int

const (
	RoleViewer Role = iota
	RoleDeveloper
	RoleSecurityAnalyst
	RoleAdmin
)

var roleNames = map[Role]string{
	RoleViewer:          "VIEWER",
	RoleDeveloper:       "DEVELOPER",
	RoleSecurityAnalyst: "SECURITY_ANALYST",
	RoleAdmin:           "ADMIN",
}

func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return "VIEWER"
}

// ParseRole maps a stored role string to its ordinal. Anything
// unrecognized degrades to VIEWER rather than erroring.
func ParseRole(s string) Role {
	switch s {
	case "DEVELOPER":
		return RoleDeveloper
	case "SECURITY_ANALYST":
		return RoleSecurityAnalyst
	case "ADMIN":
		return RoleAdmin
	default:
		return RoleViewer
	}
}

// Allows reports whether a caller holding r may perform an operation
// gated at required.
func (r Role) Allows(required Role) bool {
	return r >= required
}
