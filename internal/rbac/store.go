package rbac

import (
	"context"
	"sync"
)

// OverrideStore is the persisted, administratively editable per-role
// permission catalog. When reachable and populated it is authoritative.
//
// RolePermissions returns (nil, false, nil) when the role has no entry.
type OverrideStore interface {
	RolePermissions(ctx context.Context, role Role) ([]Permission, bool, error)
	SetRolePermissions(ctx context.Context, role Role, perms []Permission, updatedBy string) error
	ListRolePermissions(ctx context.Context) (map[Role][]Permission, error)
}

// MemoryOverrideStore is an in-process OverrideStore for tests and local runs.
type MemoryOverrideStore struct {
	mu    sync.RWMutex
	roles map[Role][]Permission
	err   error
}

func NewMemoryOverrideStore() *MemoryOverrideStore {
	return &MemoryOverrideStore{roles: map[Role][]Permission{}}
}

// FailWith makes every subsequent call return err. Pass nil to recover.
func (s *MemoryOverrideStore) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *MemoryOverrideStore) RolePermissions(ctx context.Context, role Role) ([]Permission, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return nil, false, s.err
	}
	perms, ok := s.roles[role]
	if !ok {
		return nil, false, nil
	}
	out := make([]Permission, len(perms))
	copy(out, perms)
	return out, true, nil
}

func (s *MemoryOverrideStore) SetRolePermissions(ctx context.Context, role Role, perms []Permission, updatedBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	cp := make([]Permission, len(perms))
	copy(cp, perms)
	s.roles[role] = cp
	return nil
}

func (s *MemoryOverrideStore) ListRolePermissions(ctx context.Context) (map[Role][]Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return nil, s.err
	}
	out := make(map[Role][]Permission, len(s.roles))
	for r, perms := range s.roles {
		cp := make([]Permission, len(perms))
		copy(cp, perms)
		out[r] = cp
	}
	return out, nil
}

// SeedOverrides copies the default catalog into store for every role that has
// no persisted entry yet, so both catalogs agree at initial deploy. It returns
// the roles that were seeded.
func SeedOverrides(ctx context.Context, store OverrideStore, catalog *Catalog) ([]Role, error) {
	existing, err := store.ListRolePermissions(ctx)
	if err != nil {
		return nil, err
	}
	var seeded []Role
	for _, role := range Roles() {
		if IsSuperAdmin(role) {
			continue
		}
		if _, ok := existing[role]; ok {
			continue
		}
		if err := store.SetRolePermissions(ctx, role, catalog.Permissions(role), "system:seed"); err != nil {
			return seeded, err
		}
		seeded = append(seeded, role)
	}
	return seeded, nil
}
