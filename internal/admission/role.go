package admission

import (
	"context"
	"errors"
	"strings"

	id "parley/pkg/domain"
)

// RoleGate restricts one critical method on a guarded path to an allow-list
// of roles.
type RoleGate struct {
	pathPrefix     string
	criticalMethod string
	allowed        map[id.Role]struct{}
}

func NewRoleGate(pathPrefix, criticalMethod string, allowed []id.Role) (*RoleGate, error) {
	if criticalMethod == "" {
		return nil, errors.New("critical method is required")
	}
	set := make(map[id.Role]struct{}, len(allowed))
	for _, r := range allowed {
		if !r.IsValid() {
			return nil, errors.New("invalid role in allow-list: " + string(r))
		}
		set[r] = struct{}{}
	}
	return &RoleGate{
		pathPrefix:     pathPrefix,
		criticalMethod: strings.ToUpper(criticalMethod),
		allowed:        set,
	}, nil
}

// Permit rejects the critical method for roles outside the allow-list.
func (g *RoleGate) Permit(role id.Role, method string) bool {
	if !strings.EqualFold(method, g.criticalMethod) {
		return true
	}
	_, ok := g.allowed[role]
	return ok
}

func (g *RoleGate) Intercept(_ context.Context, req *Request) error {
	if !matchesPrefix(req.Path, g.pathPrefix) || g.Permit(req.Role, req.Method) {
		return nil
	}
	return rejectRole()
}
