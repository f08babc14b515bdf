package demo

import (
	"net/http"
	"strings"
)

const DefaultEmail = "demo@jadara.app"

// Error body returned for blocked demo writes. The wording is fixed.
const (
	ErrorMessage = "Demo Mode - Read Only"
	ErrorDetails = "This action is disabled in Demo Mode. Data modifications are not allowed."
)

// allowedWritePaths are the only write endpoints the demo account may call.
var allowedWritePaths = []string{
	"/api/auth/login",
	"/api/auth/logout",
	"/api/applicants/apply",
}

// Policy decides whether a request from the shared demo account must be
// refused. It holds no state besides the configured demo address.
type Policy struct {
	email string
}

func NewPolicy(email string) Policy {
	email = strings.TrimSpace(email)
	if email == "" {
		email = DefaultEmail
	}
	return Policy{email: email}
}

func (p Policy) Email() string { return p.email }

func (p Policy) IsDemo(email string) bool {
	email = strings.TrimSpace(email)
	if email == "" {
		return false
	}
	return strings.EqualFold(email, p.email)
}

func IsWriteMethod(method string) bool {
	switch strings.ToUpper(method) {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// IsAllowedWritePath matches an allow-list entry on a path segment boundary:
// "/api/applicants/apply" and "/api/applicants/apply/x" pass,
// "/api/applicants/apply-bulk-delete" does not.
func IsAllowedWritePath(path string) bool {
	p := strings.ToLower(path)
	for _, entry := range allowedWritePaths {
		if !strings.HasPrefix(p, entry) {
			continue
		}
		rest := p[len(entry):]
		if rest == "" || rest[0] == '/' {
			return true
		}
	}
	return false
}

// Blocks reports whether the request must be rejected with the demo error.
func (p Policy) Blocks(email, method, path string) bool {
	return p.IsDemo(email) && IsWriteMethod(method) && !IsAllowedWritePath(path)
}
