package rbac

import (
	_ "embed"
	"errors"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var embeddedCatalog []byte

// SyncResolver answers permission checks without I/O. It is safe to call on
// every render of a UI affordance.
type SyncResolver interface {
	HasPermission(role Role, perm Permission) bool
}

// Registry is the set of permissions the system knows about.
type Registry struct {
	descriptions map[Permission]string
}

func (r *Registry) Known(p Permission) bool {
	_, ok := r.descriptions[p]
	return ok
}

func (r *Registry) Description(p Permission) string { return r.descriptions[p] }

// All returns every registered permission in lexical order.
func (r *Registry) All() []Permission {
	out := make([]Permission, 0, len(r.descriptions))
	for p := range r.descriptions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Validate checks shape and membership of every permission in perms.
func (r *Registry) Validate(perms ...Permission) error {
	var errs []error
	for _, p := range perms {
		if err := p.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		if !r.Known(p) {
			errs = append(errs, fmt.Errorf("%w: %q is not registered", ErrInvalidPermission, string(p)))
		}
	}
	return errors.Join(errs...)
}

// Catalog is the static default mapping from role to permissions. It is
// immutable after load and implements SyncResolver.
type Catalog struct {
	registry *Registry
	roles    map[Role]PermissionSet
}

type catalogDocument struct {
	Permissions map[string]string   `yaml:"permissions"`
	Roles       map[string][]string `yaml:"roles"`
}

// LoadDefaultCatalog parses the catalog compiled into the binary.
func LoadDefaultCatalog() (*Catalog, error) {
	return ParseCatalog(embeddedCatalog)
}

func ParseCatalog(data []byte) (*Catalog, error) {
	var doc catalogDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("rbac: parse catalog: %w", err)
	}

	reg := &Registry{descriptions: make(map[Permission]string, len(doc.Permissions))}
	var errs []error
	for key, desc := range doc.Permissions {
		p := Permission(key)
		if err := p.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		reg.descriptions[p] = desc
	}

	c := &Catalog{registry: reg, roles: make(map[Role]PermissionSet, len(doc.Roles))}
	for name, perms := range doc.Roles {
		role, err := ParseRole(name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		set := make(PermissionSet, len(perms))
		for _, raw := range perms {
			p := Permission(raw)
			if err := reg.Validate(p); err != nil {
				errs = append(errs, fmt.Errorf("role %s: %w", name, err))
				continue
			}
			if set.Has(p) {
				errs = append(errs, fmt.Errorf("role %s: duplicate permission %q", name, raw))
				continue
			}
			set[p] = struct{}{}
		}
		c.roles[role] = set
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("rbac: invalid catalog: %w", err)
	}
	return c, nil
}

func (c *Catalog) Registry() *Registry { return c.registry }

// HasPermission implements SyncResolver. superadmin short-circuits before any
// catalog lookup.
func (c *Catalog) HasPermission(role Role, perm Permission) bool {
	if IsSuperAdmin(role) {
		return true
	}
	set, ok := c.roles[role]
	if !ok {
		return false
	}
	return set.Has(perm)
}

// Permissions returns the effective default permissions of role. For
// superadmin this is the full registry.
func (c *Catalog) Permissions(role Role) []Permission {
	if IsSuperAdmin(role) {
		return c.registry.All()
	}
	return c.roles[role].Sorted()
}

// Entries returns the explicit per-role entries of the default catalog.
func (c *Catalog) Entries() map[Role][]Permission {
	out := make(map[Role][]Permission, len(c.roles))
	for r, set := range c.roles {
		out[r] = set.Sorted()
	}
	return out
}

// CheckRoutePermissions verifies at startup that every permission a
// route requires is registered and granted to at least one role through an
// explicit catalog entry.
func (c *Catalog) CheckRoutePermissions(perms ...Permission) error {
	var errs []error
	for _, p := range perms {
		if err := c.registry.Validate(p); err != nil {
			errs = append(errs, err)
			continue
		}
		granted := false
		for _, set := range c.roles {
			if set.Has(p) {
				granted = true
				break
			}
		}
		if !granted {
			errs = append(errs, fmt.Errorf("%w: %q is not granted to any role", ErrInvalidPermission, string(p)))
		}
	}
	return errors.Join(errs...)
}
