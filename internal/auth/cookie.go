package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const SessionCookieName = "session"

const authorizationHeader = "Authorization"
const bearerPrefix = "Bearer "

// SetSessionCookie writes the session token as an HttpOnly, SameSite=Lax
// cookie scoped to the whole site.
func SetSessionCookie(c *gin.Context, token string, secure bool) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(SessionCookieName, token, int(SessionTTL.Seconds()), "/", "", secure, true)
}

func ClearSessionCookie(c *gin.Context, secure bool) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(SessionCookieName, "", -1, "/", "", secure, true)
}

// TokenFromRequest returns the session token from the cookie, or from an
// Authorization bearer header when no cookie is present.
func TokenFromRequest(r *http.Request) string {
	if ck, err := r.Cookie(SessionCookieName); err == nil && ck.Value != "" {
		return ck.Value
	}
	raw := strings.TrimSpace(r.Header.Get(authorizationHeader))
	if strings.HasPrefix(raw, bearerPrefix) {
		return strings.TrimSpace(strings.TrimPrefix(raw, bearerPrefix))
	}
	return ""
}
