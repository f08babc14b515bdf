package httpapi

import (
	"errors"
	"net/http"
	"time"

	"ats-platform/internal/audit"
	"ats-platform/internal/auth"
	"ats-platform/internal/gate"
	"ats-platform/internal/rbac"

	"github.com/gin-gonic/gin"
)

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type loginResponse struct {
	User      userView  `json:"user"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Login verifies credentials and sets the session cookie.
func (h *Handlers) Login(c *gin.Context) {
	ctx := c.Request.Context()
	if h.Throttle != nil && !h.Throttle.Allow(ctx, "login:"+c.ClientIP()) {
		fail(c, http.StatusTooManyRequests, codeRateLimited, "Too many login attempts, try again later")
		return
	}

	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "email and password are required")
		return
	}

	u, err := auth.Authenticate(ctx, h.Users, req.Email, req.Password)
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		if u.ID != "" {
			e := audit.EntryFromRequest(c, u.Identity(), audit.ActionLoginFailed, "Failed login attempt")
			e.Severity = audit.SeverityWarning
			h.Recorder.Record(ctx, e)
		}
		fail(c, http.StatusUnauthorized, codeInvalidLogin, "Invalid email or password")
		return
	case errors.Is(err, auth.ErrInactiveUser):
		fail(c, http.StatusForbidden, codeInactiveUser, "This account has been deactivated")
		return
	case err != nil:
		h.logger(c).Error("login lookup failed", "err", err)
		internalError(c)
		return
	}

	id := u.Identity()
	token, expiresAt, err := h.Sessions.Issue(h.now(), id)
	if err != nil {
		h.logger(c).Error("session issue failed", "user_id", id.UserID, "err", err)
		internalError(c)
		return
	}
	auth.SetSessionCookie(c, token, h.SecureCookies)
	h.Recorder.Record(ctx, audit.EntryFromRequest(c, id, audit.ActionLogin, "User logged in"))

	ok(c, loginResponse{User: viewOf(id), ExpiresAt: expiresAt})
}

// Logout revokes the current session and clears the cookie.
func (h *Handlers) Logout(c *gin.Context) {
	id, found := gate.IdentityFrom(c)
	if !found {
		fail(c, http.StatusUnauthorized, string(gate.OutcomeUnauthorized), "Authentication required")
		return
	}
	ctx := c.Request.Context()
	if id.TokenID != "" && h.Revocations != nil {
		if err := h.Revocations.Revoke(ctx, id.TokenID, id.ExpiresAt); err != nil {
			h.logger(c).Error("session revoke failed", "user_id", id.UserID, "err", err)
			internalError(c)
			return
		}
	}
	auth.ClearSessionCookie(c, h.SecureCookies)
	h.Recorder.Record(ctx, audit.EntryFromRequest(c, id, audit.ActionLogout, "User logged out"))

	ok(c, gin.H{"loggedOut": true})
}

type meResponse struct {
	User        userView          `json:"user"`
	Permissions []rbac.Permission `json:"permissions"`
	ExpiresAt   time.Time         `json:"expiresAt"`
}

// Me returns the caller and the permissions the default catalog grants its
// role. Used for UI affordances only; routes re-check authoritatively.
func (h *Handlers) Me(c *gin.Context) {
	id, found := gate.IdentityFrom(c)
	if !found {
		fail(c, http.StatusUnauthorized, string(gate.OutcomeUnauthorized), "Authentication required")
		return
	}
	perms := h.Resolver.Catalog().Permissions(id.Role)
	if perms == nil {
		perms = []rbac.Permission{}
	}
	ok(c, meResponse{User: viewOf(id), Permissions: perms, ExpiresAt: id.ExpiresAt})
}
