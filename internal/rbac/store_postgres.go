package rbac

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// NOTE: This store assumes the role_permissions table exists:
//
//	CREATE TABLE role_permissions (
//	  role        TEXT PRIMARY KEY,
//	  permissions JSONB NOT NULL,
//	  updated_by  TEXT NOT NULL,
//	  updated_at  TIMESTAMPTZ NOT NULL
//	)

type PostgresOverrideStore struct {
	db    *sql.DB
	clock func() time.Time
}

func NewPostgresOverrideStore(db *sql.DB) *PostgresOverrideStore {
	return &PostgresOverrideStore{db: db, clock: time.Now}
}

func (s *PostgresOverrideStore) RolePermissions(ctx context.Context, role Role) ([]Permission, bool, error) {
	const q = `
SELECT permissions
FROM role_permissions
WHERE role = $1
`
	var raw []byte
	if err := s.db.QueryRowContext(ctx, q, role.String()).Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("rbac: load role permissions: %w", err)
	}
	perms, err := decodePermissions(raw)
	if err != nil {
		return nil, false, err
	}
	return perms, true, nil
}

func (s *PostgresOverrideStore) SetRolePermissions(ctx context.Context, role Role, perms []Permission, updatedBy string) error {
	const q = `
INSERT INTO role_permissions (role, permissions, updated_by, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (role)
DO UPDATE SET permissions = EXCLUDED.permissions,
              updated_by  = EXCLUDED.updated_by,
              updated_at  = EXCLUDED.updated_at
`
	if perms == nil {
		perms = []Permission{}
	}
	raw, err := json.Marshal(perms)
	if err != nil {
		return fmt.Errorf("rbac: encode permissions: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, q, role.String(), raw, updatedBy, s.clock().UTC()); err != nil {
		return fmt.Errorf("rbac: store role permissions: %w", err)
	}
	return nil
}

func (s *PostgresOverrideStore) ListRolePermissions(ctx context.Context) (map[Role][]Permission, error) {
	const q = `
SELECT role, permissions
FROM role_permissions
`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("rbac: list role permissions: %w", err)
	}
	defer rows.Close()

	out := map[Role][]Permission{}
	for rows.Next() {
		var name string
		var raw []byte
		if err := rows.Scan(&name, &raw); err != nil {
			return nil, err
		}
		role, err := ParseRole(name)
		if err != nil {
			// Rows for retired roles are ignored rather than failing the listing.
			continue
		}
		perms, err := decodePermissions(raw)
		if err != nil {
			return nil, err
		}
		out[role] = perms
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func decodePermissions(raw []byte) ([]Permission, error) {
	var perms []Permission
	if err := json.Unmarshal(raw, &perms); err != nil {
		return nil, fmt.Errorf("rbac: decode permissions: %w", err)
	}
	return perms, nil
}
