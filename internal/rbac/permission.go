package rbac

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
)

// Permission is a granular "<resource>.<verb>" grant. Validity is defined by
// registry membership, not by the type.
type Permission string

var ErrInvalidPermission = errors.New("rbac: invalid permission")

var permissionPattern = regexp.MustCompile(`^[a-z][a-z_]*\.[a-z][a-z_]*$`)

// Validate checks the shape only; use Registry.Known for membership.
func (p Permission) Validate() error {
	if !permissionPattern.MatchString(string(p)) {
		return fmt.Errorf("%w: %q", ErrInvalidPermission, string(p))
	}
	return nil
}

// PermissionSet is an unordered set of permissions.
type PermissionSet map[Permission]struct{}

func NewPermissionSet(perms ...Permission) PermissionSet {
	s := make(PermissionSet, len(perms))
	for _, p := range perms {
		s[p] = struct{}{}
	}
	return s
}

func (s PermissionSet) Has(p Permission) bool {
	_, ok := s[p]
	return ok
}

// Sorted returns the members in lexical order, for stable output.
func (s PermissionSet) Sorted() []Permission {
	out := make([]Permission, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
