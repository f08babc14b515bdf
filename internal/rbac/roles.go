package rbac

import (
	"errors"
	"fmt"
	"strings"
)

// Role is one of a closed set of variants with a total order.
// The numeric value is the rank used for hierarchical checks; keep it stable.
type Role uint8

const (
	RoleUnknown    Role = 0
	RoleReviewer   Role = 1
	RoleAdmin      Role = 2
	RoleSuperAdmin Role = 3
)

var ErrInvalidRole = errors.New("rbac: invalid role")

var roleNames = map[Role]string{
	RoleReviewer:   "reviewer",
	RoleAdmin:      "admin",
	RoleSuperAdmin: "superadmin",
}

// Roles lists every valid role, lowest rank first.
func Roles() []Role { return []Role{RoleReviewer, RoleAdmin, RoleSuperAdmin} }

func ParseRole(s string) (Role, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	for r, name := range roleNames {
		if name == v {
			return r, nil
		}
	}
	return RoleUnknown, fmt.Errorf("%w: %q", ErrInvalidRole, s)
}

func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return "unknown"
}

func (r Role) Valid() bool {
	_, ok := roleNames[r]
	return ok
}

func (r Role) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidRole, uint8(r))
	}
	return []byte(r.String()), nil
}

func (r *Role) UnmarshalText(b []byte) error {
	parsed, err := ParseRole(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

func IsSuperAdmin(r Role) bool { return r == RoleSuperAdmin }

// Satisfies reports whether actual meets a "minimum role" requirement.
// An unknown role on either side never satisfies.
func Satisfies(actual, required Role) bool {
	if !actual.Valid() || !required.Valid() {
		return false
	}
	return actual >= required
}
