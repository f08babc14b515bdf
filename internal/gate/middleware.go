package gate

import (
	"ats-platform/internal/auth"

	"github.com/gin-gonic/gin"
)

const ginIdentityKey = "identity"

// Require adapts Decide to gin. Rejected requests are aborted with the JSON
// error body; allowed requests carry the identity on the request context.
func (g *Gate) Require(need Requirement) gin.HandlerFunc {
	return func(c *gin.Context) {
		d := g.Decide(c.Request.Context(), Request{
			Token:  auth.TokenFromRequest(c.Request),
			Method: c.Request.Method,
			Path:   c.Request.URL.Path,
		}, need)
		if !d.Allowed() {
			c.AbortWithStatusJSON(d.Status, d.Body())
			return
		}

		c.Request = c.Request.WithContext(auth.WithIdentity(c.Request.Context(), d.Identity))
		c.Set(ginIdentityKey, d.Identity)
		c.Next()
	}
}

// Authenticated only requires a valid session (plus the demo write policy).
func (g *Gate) Authenticated() gin.HandlerFunc {
	return g.Require(Requirement{})
}

// IdentityFrom returns the identity attached by Require.
func IdentityFrom(c *gin.Context) (auth.Identity, bool) {
	if v, ok := c.Get(ginIdentityKey); ok {
		if id, ok := v.(auth.Identity); ok {
			return id, true
		}
	}
	return auth.IdentityFrom(c.Request.Context())
}
