package httpapi

import (
	"errors"
	"fmt"

	"ats-platform/internal/audit"
	"ats-platform/internal/gate"
	"ats-platform/internal/rbac"

	"github.com/gin-gonic/gin"
)

type permissionView struct {
	Key         rbac.Permission `json:"key"`
	Description string          `json:"description"`
}

type permissionsResponse struct {
	Registry           []permissionView             `json:"registry"`
	Defaults           map[string][]rbac.Permission `json:"defaults"`
	Overrides          map[string][]rbac.Permission `json:"overrides"`
	OverridesAvailable bool                         `json:"overridesAvailable"`
}

func byRoleName(m map[rbac.Role][]rbac.Permission) map[string][]rbac.Permission {
	out := make(map[string][]rbac.Permission, len(m))
	for role, perms := range m {
		if perms == nil {
			perms = []rbac.Permission{}
		}
		out[role.String()] = perms
	}
	return out
}

// ListPermissions shows the registry, the default catalog and the persisted
// overrides side by side.
func (h *Handlers) ListPermissions(c *gin.Context) {
	cat := h.Resolver.Catalog()
	reg := cat.Registry()

	all := reg.All()
	registry := make([]permissionView, 0, len(all))
	for _, p := range all {
		registry = append(registry, permissionView{Key: p, Description: reg.Description(p)})
	}
	ov := h.Resolver.Overrides(c.Request.Context())

	ok(c, permissionsResponse{
		Registry:           registry,
		Defaults:           byRoleName(cat.Entries()),
		Overrides:          byRoleName(ov.Overrides),
		OverridesAvailable: ov.Available,
	})
}

type updatePermissionsRequest struct {
	Permissions []rbac.Permission `json:"permissions" binding:"required"`
}

type updatePermissionsResponse struct {
	Role        string            `json:"role"`
	Permissions []rbac.Permission `json:"permissions"`
}

// UpdateRolePermissions replaces the override set of :role. The audit entry
// is written only after the store accepted the change.
func (h *Handlers) UpdateRolePermissions(c *gin.Context) {
	role, err := rbac.ParseRole(c.Param("role"))
	if err != nil {
		badRequest(c, fmt.Sprintf("Unknown role %q", c.Param("role")))
		return
	}
	var req updatePermissionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "permissions must be a list")
		return
	}
	actor, _ := gate.IdentityFrom(c)
	ctx := c.Request.Context()

	before, after, err := h.Resolver.UpdateRolePermissions(ctx, role, req.Permissions, actor.Email)
	switch {
	case errors.Is(err, rbac.ErrInvalidPermission), errors.Is(err, rbac.ErrInvalidRole):
		badRequest(c, err.Error())
		return
	case errors.Is(err, rbac.ErrSuperAdminOverride):
		badRequest(c, "superadmin permissions cannot be changed")
		return
	case err != nil:
		h.logger(c).Error("update role permissions failed", "role", role.String(), "err", err)
		internalError(c)
		return
	}

	added, removed := diffPermissions(before, after)
	e := audit.EntryFromRequest(c, actor, audit.ActionPermissionUpdated,
		fmt.Sprintf("Updated permissions of role %s", role.String()))
	e.ResourceID = role.String()
	e.ResourceName = role.String()
	e.Changes = &audit.Changes{Before: before, After: after}
	e.Metadata = map[string]any{"added": added, "removed": removed}
	h.Recorder.Record(ctx, e)

	ok(c, updatePermissionsResponse{Role: role.String(), Permissions: after})
}

func diffPermissions(before, after []rbac.Permission) (added, removed []rbac.Permission) {
	b := rbac.NewPermissionSet(before...)
	a := rbac.NewPermissionSet(after...)
	added, removed = []rbac.Permission{}, []rbac.Permission{}
	for _, p := range after {
		if !b.Has(p) {
			added = append(added, p)
		}
	}
	for _, p := range before {
		if !a.Has(p) {
			removed = append(removed, p)
		}
	}
	return added, removed
}
