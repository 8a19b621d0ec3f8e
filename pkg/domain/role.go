package domain

import dErrors "parley/pkg/domain-errors"

// Role is the authorization class of a principal.
// Invariant: the value must be one of the supported roles.
type Role string

const (
	RoleGuest     Role = "guest"
	RoleHost      Role = "host"
	RoleModerator Role = "moderator"
	RoleAdmin     Role = "admin"
)

var validRoles = map[Role]bool{
	RoleGuest:     true,
	RoleHost:      true,
	RoleModerator: true,
	RoleAdmin:     true,
}

// ParseRole constructs a Role from external input (token claims, request
// bodies, configuration). Returns CodeInvalidInput for unknown roles.
func ParseRole(s string) (Role, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "role cannot be empty")
	}
	r := Role(s)
	if !r.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid role")
	}
	return r, nil
}

func (r Role) IsValid() bool {
	return validRoles[r]
}

func (r Role) String() string {
	return string(r)
}

// IsStaff reports whether the role may act on other principals' records.
func (r Role) IsStaff() bool {
	return r == RoleAdmin || r == RoleModerator
}
