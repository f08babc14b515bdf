package audit

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"ats-platform/internal/auth"
	"ats-platform/internal/rbac"

	"github.com/gin-gonic/gin"
)

func TestEntryFromRequest(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPut, "/api/permissions/reviewer?x=1", nil)
	c.Request.RemoteAddr = "10.0.0.7:5123"
	c.Request.Header.Set("User-Agent", "test-agent")

	id := auth.Identity{UserID: "u-1", Email: "a@jadara.app", Name: "Amal", Role: rbac.RoleAdmin}
	e := EntryFromRequest(c, id, ActionPermissionUpdated, "Updated reviewer permissions")

	if e.UserID != "u-1" || e.UserEmail != "a@jadara.app" || e.UserName != "Amal" || e.UserRole != rbac.RoleAdmin {
		t.Fatalf("unexpected actor: %+v", e)
	}
	if e.Resource != ResourcePermission || e.Severity != SeverityInfo {
		t.Fatalf("unexpected resource/severity: %s %s", e.Resource, e.Severity)
	}
	if e.IPAddress != "10.0.0.7" || e.UserAgent != "test-agent" || e.Method != http.MethodPut || e.URL != "/api/permissions/reviewer?x=1" {
		t.Fatalf("unexpected request context: %+v", e)
	}
}

func TestEntryFromRequest_TruncatesOnRuneBoundary(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/api/audit-logs", nil)
	// 1 ASCII byte then two-byte runes, so byte 1000 lands mid-rune.
	c.Request.Header.Set("User-Agent", "x"+strings.Repeat("é", 600))

	e := EntryFromRequest(c, auth.Identity{UserID: "u-1"}, ActionLogin, "login")

	if !utf8.ValidString(e.UserAgent) {
		t.Fatalf("user agent is not valid UTF-8 after truncation")
	}
	if len(e.UserAgent) != 999 {
		t.Fatalf("expected 999 bytes, got %d", len(e.UserAgent))
	}
}

func TestTruncate(t *testing.T) {
	cases := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"abcdef", 3, "abc"},
		{"aé", 2, "a"},
		{"日本", 4, "日"},
		{"日本", 2, ""},
	}
	for _, tc := range cases {
		if got := truncate(tc.in, tc.n); got != tc.want {
			t.Fatalf("truncate(%q, %d) = %q, want %q", tc.in, tc.n, got, tc.want)
		}
	}
}
