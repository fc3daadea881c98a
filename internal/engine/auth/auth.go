package auth

import (
	"fmt"
	"sort"

	"waveline/internal/config"
)

const (
	PermWaveRead     = "wave.read"
	PermWaveControl  = "wave.control"
	PermEntityRemove = "entity.remove"

	RoleAnonymous = "anonymous"
)

// ForbiddenError indicates missing permission.
type ForbiddenError struct {
	Permission string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("permission %s required", e.Permission)
}

// Service resolves role grants from the configured RBAC roles.
type Service struct {
	roles map[string][]string
}

func New(cfg *config.Config) Service {
	s := Service{roles: map[string][]string{}}
	if cfg == nil {
		return s
	}
	for id, role := range cfg.RBAC.Roles {
		s.roles[id] = append([]string(nil), role.Permissions...)
	}
	return s
}

// Permissions returns the sorted union of explicit grants and the grants of
// every known role. Unknown roles contribute nothing.
func (s Service) Permissions(roles, explicit []string) []string {
	set := map[string]struct{}{}
	for _, p := range explicit {
		if p != "" {
			set[p] = struct{}{}
		}
	}
	for _, r := range roles {
		for _, p := range s.roles[r] {
			set[p] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Require returns ForbiddenError unless perms contains perm.
func Require(perms []string, perm string) error {
	for _, p := range perms {
		if p == perm {
			return nil
		}
	}
	return ForbiddenError{Permission: perm}
}

func (s Service) HasRole(id string) bool {
	_, ok := s.roles[id]
	return ok
}
