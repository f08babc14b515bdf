package httpapi

import (
	"net/http"

	"ats-platform/internal/gate"
	"ats-platform/internal/rbac"

	"github.com/gin-gonic/gin"
)

// Route is one API endpoint with what the gate must enforce for it.
// Public routes bypass the gate entirely.
type Route struct {
	Method  string
	Path    string
	Public  bool
	Need    gate.Requirement
	Handler gin.HandlerFunc
}

var superAdminOnly = gate.Requirement{Role: rbac.RoleSuperAdmin}

func (h *Handlers) Routes() []Route {
	return []Route{
		{Method: http.MethodPost, Path: "/api/auth/login", Public: true, Handler: h.Login},
		{Method: http.MethodPost, Path: "/api/auth/logout", Handler: h.Logout},
		{Method: http.MethodGet, Path: "/api/auth/me", Handler: h.Me},

		{Method: http.MethodGet, Path: "/api/permissions", Need: gate.Requirement{Permission: "permissions.view"}, Handler: h.ListPermissions},
		{Method: http.MethodPut, Path: "/api/permissions/:role", Need: gate.Requirement{Role: rbac.RoleAdmin, Permission: "permissions.edit"}, Handler: h.UpdateRolePermissions},

		{Method: http.MethodGet, Path: "/api/audit-logs", Need: superAdminOnly, Handler: h.ListAuditLogs},
		{Method: http.MethodGet, Path: "/api/audit-logs/stats", Need: superAdminOnly, Handler: h.AuditStats},
		{Method: http.MethodDelete, Path: "/api/audit-logs/cleanup", Need: superAdminOnly, Handler: h.CleanupAuditLogs},
		{Method: http.MethodGet, Path: "/api/audit-logs/:id", Need: superAdminOnly, Handler: h.GetAuditLog},
	}
}

// Requirements lists the gate requirement of every non-public route.
func Requirements(routes []Route) []gate.Requirement {
	out := make([]gate.Requirement, 0, len(routes))
	for _, rt := range routes {
		if !rt.Public {
			out = append(out, rt.Need)
		}
	}
	return out
}

// NewEngine returns a bare engine that only believes X-Forwarded-For from the
// listed proxies. With none, the client IP is always the TCP peer.
func NewEngine(trustedProxies []string) (*gin.Engine, error) {
	r := gin.New()
	if err := r.SetTrustedProxies(trustedProxies); err != nil {
		return nil, err
	}
	return r, nil
}

// Register mounts routes on r, each behind g unless public.
func Register(r gin.IRoutes, g *gate.Gate, routes []Route) {
	for _, rt := range routes {
		if rt.Public {
			r.Handle(rt.Method, rt.Path, rt.Handler)
			continue
		}
		r.Handle(rt.Method, rt.Path, g.Require(rt.Need), rt.Handler)
	}
}
