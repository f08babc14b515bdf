package audit

import (
	"unicode/utf8"

	"ats-platform/internal/auth"

	"github.com/gin-gonic/gin"
)

// EntryFromRequest starts an entry for action with the actor snapshot taken
// from id and the request context taken from c.
func EntryFromRequest(c *gin.Context, id auth.Identity, action Action, description string) Entry {
	return Entry{
		UserID:      id.UserID,
		UserEmail:   id.Email,
		UserName:    id.Name,
		UserRole:    id.Role,
		Action:      action,
		Resource:    action.Resource(),
		Description: description,
		Severity:    SeverityInfo,
		IPAddress:   c.ClientIP(),
		UserAgent:   truncate(c.Request.UserAgent(), 1000),
		Method:      c.Request.Method,
		URL:         truncate(c.Request.URL.RequestURI(), 2048),
	}
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
