package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"ats-platform/internal/audit"
	"ats-platform/internal/auth"
	"ats-platform/internal/gate"
	"ats-platform/internal/rbac"
	"ats-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Users       auth.UserStore
	Sessions    *auth.Manager
	Revocations auth.Revocations
	Throttle    auth.Throttle

	Resolver *rbac.Resolver
	Audit    *audit.Service
	Recorder *audit.Recorder

	// SecureCookies sets the Secure flag on the session cookie.
	SecureCookies bool
	// RetentionDays is the cleanup default when ?days is absent.
	RetentionDays int

	Log   *slog.Logger
	Clock func() time.Time
}

func (h *Handlers) now() time.Time {
	if h.Clock != nil {
		return h.Clock()
	}
	return time.Now()
}

func (h *Handlers) logger(c *gin.Context) *slog.Logger {
	return logger.FromOr(c.Request.Context(), h.Log)
}

type pagination struct {
	Page    int  `json:"page"`
	Limit   int  `json:"limit"`
	Total   int  `json:"total"`
	HasMore bool `json:"hasMore"`
}

type envelope struct {
	Success    bool        `json:"success"`
	Data       any         `json:"data"`
	Pagination *pagination `json:"pagination,omitempty"`
}

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, envelope{Success: true, Data: data})
}

func okPage(c *gin.Context, data any, p pagination) {
	c.JSON(http.StatusOK, envelope{Success: true, Data: data, Pagination: &p})
}

// Error codes for handler-level failures. Gate rejections use the gate
// outcome as code.
const (
	codeBadRequest   = "bad_request"
	codeInvalidLogin = "invalid_credentials"
	codeInactiveUser = "inactive_user"
	codeRateLimited  = "rate_limited"
	codeNotFound     = "not_found"
	codeInternal     = "internal_error"
)

func fail(c *gin.Context, status int, code, details string) {
	c.AbortWithStatusJSON(status, gate.ErrorBody{
		Error:   http.StatusText(status),
		Details: details,
		Code:    code,
	})
}

func badRequest(c *gin.Context, details string) {
	fail(c, http.StatusBadRequest, codeBadRequest, details)
}

func internalError(c *gin.Context) {
	fail(c, http.StatusInternalServerError, codeInternal, "")
}

type userView struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

func viewOf(id auth.Identity) userView {
	return userView{ID: id.UserID, Email: id.Email, Name: id.Name, Role: id.Role.String()}
}
