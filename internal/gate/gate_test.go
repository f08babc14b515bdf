package gate

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"ats-platform/internal/auth"
	"ats-platform/internal/config"
	"ats-platform/internal/demo"
	"ats-platform/internal/rbac"
)

type fakeResolver struct {
	catalog    *rbac.Catalog
	authorized int
}

func (f *fakeResolver) Authorize(ctx context.Context, role rbac.Role, perm rbac.Permission) bool {
	f.authorized++
	return f.catalog.HasPermission(role, perm)
}

func (f *fakeResolver) SatisfiesRole(role, required rbac.Role) bool {
	return rbac.Satisfies(role, required)
}

type failingRevocations struct{}

func (failingRevocations) Revoke(ctx context.Context, tokenID string, until time.Time) error {
	return errors.New("redis down")
}

func (failingRevocations) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	return false, errors.New("redis down")
}

type fixture struct {
	gate     *Gate
	manager  *auth.Manager
	resolver *fakeResolver
	revoked  *auth.MemoryRevocations
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	m, err := auth.NewManager(config.AuthConfig{JWTSecret: "secret"})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	cat, err := rbac.LoadDefaultCatalog()
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	f := &fixture{
		manager:  m,
		resolver: &fakeResolver{catalog: cat},
		revoked:  auth.NewMemoryRevocations(),
		now:      time.Now(),
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.gate = New(m, f.revoked, demo.NewPolicy(demo.DefaultEmail), f.resolver, log)
	return f
}

func (f *fixture) token(t *testing.T, email string, role rbac.Role) string {
	t.Helper()
	tok, _, err := f.manager.Issue(f.now, auth.Identity{UserID: "u-" + role.String(), Email: email, Name: "Test", Role: role})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	return tok
}

func TestDecide_Unauthenticated(t *testing.T) {
	f := newFixture(t)
	d := f.gate.Decide(context.Background(), Request{Method: http.MethodGet, Path: "/api/jobs"}, Requirement{})
	if d.Outcome != OutcomeUnauthorized || d.Status != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %+v", d)
	}

	d = f.gate.Decide(context.Background(), Request{Token: "garbage", Method: http.MethodGet, Path: "/api/jobs"}, Requirement{})
	if d.Outcome != OutcomeUnauthorized {
		t.Fatalf("expected unauthorized for garbage token, got %s", d.Outcome)
	}
}

func TestDecide_ExpiredToken(t *testing.T) {
	f := newFixture(t)
	tok := f.token(t, "admin@jadara.app", rbac.RoleAdmin)
	f.gate.clock = func() time.Time { return f.now.Add(auth.SessionTTL + time.Hour) }

	d := f.gate.Decide(context.Background(), Request{Token: tok, Method: http.MethodGet, Path: "/api/jobs"}, Requirement{})
	if d.Outcome != OutcomeUnauthorized {
		t.Fatalf("expected expired token rejected, got %s", d.Outcome)
	}
}

func TestDecide_RevokedToken(t *testing.T) {
	f := newFixture(t)
	tok := f.token(t, "admin@jadara.app", rbac.RoleAdmin)
	claims, err := f.manager.Verify(tok, f.now)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := f.revoked.Revoke(context.Background(), claims.ID, claims.ExpiresAt.Time); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	d := f.gate.Decide(context.Background(), Request{Token: tok, Method: http.MethodGet, Path: "/api/auth/me"}, Requirement{})
	if d.Outcome != OutcomeUnauthorized {
		t.Fatalf("expected revoked token rejected, got %s", d.Outcome)
	}
}

func TestDecide_RevocationLookupFailureAllows(t *testing.T) {
	f := newFixture(t)
	f.gate.revocations = failingRevocations{}
	tok := f.token(t, "admin@jadara.app", rbac.RoleAdmin)

	d := f.gate.Decide(context.Background(), Request{Token: tok, Method: http.MethodGet, Path: "/api/auth/me"}, Requirement{})
	if !d.Allowed() {
		t.Fatalf("expected allowed when revocation store fails, got %s", d.Outcome)
	}
}

func TestDecide_DemoSuperAdminWriteBlocked(t *testing.T) {
	f := newFixture(t)
	tok := f.token(t, "Demo@Jadara.app", rbac.RoleSuperAdmin)

	d := f.gate.Decide(context.Background(), Request{Token: tok, Method: http.MethodDelete, Path: "/api/jobs/123"}, Requirement{Permission: "jobs.delete"})
	if d.Outcome != OutcomeDemoReadOnly || d.Status != http.StatusForbidden {
		t.Fatalf("expected demo block, got %+v", d)
	}
	if d.Error != "Demo Mode - Read Only" || d.Details != "This action is disabled in Demo Mode. Data modifications are not allowed." {
		t.Fatalf("unexpected demo body: %+v", d.Body())
	}
	if f.resolver.authorized != 0 {
		t.Fatalf("permission check must not run for demo writes")
	}
}

func TestDecide_DemoAllowedPaths(t *testing.T) {
	f := newFixture(t)
	tok := f.token(t, "demo@jadara.app", rbac.RoleSuperAdmin)
	ctx := context.Background()

	if d := f.gate.Decide(ctx, Request{Token: tok, Method: http.MethodPost, Path: "/api/applicants/apply"}, Requirement{}); !d.Allowed() {
		t.Fatalf("demo apply must pass, got %s", d.Outcome)
	}
	if d := f.gate.Decide(ctx, Request{Token: tok, Method: http.MethodGet, Path: "/api/jobs/123"}, Requirement{}); !d.Allowed() {
		t.Fatalf("demo read must pass, got %s", d.Outcome)
	}
	if d := f.gate.Decide(ctx, Request{Token: tok, Method: http.MethodPost, Path: "/api/applicants/apply-bulk-delete"}, Requirement{}); d.Outcome != OutcomeDemoReadOnly {
		t.Fatalf("look-alike path must be blocked, got %s", d.Outcome)
	}
}

func TestDecide_ForbiddenRole(t *testing.T) {
	f := newFixture(t)
	tok := f.token(t, "rev@jadara.app", rbac.RoleReviewer)

	d := f.gate.Decide(context.Background(), Request{Token: tok, Method: http.MethodPut, Path: "/api/permissions/reviewer"},
		Requirement{Role: rbac.RoleAdmin, Permission: "permissions.edit"})
	if d.Outcome != OutcomeForbiddenRole || d.Status != http.StatusForbidden {
		t.Fatalf("expected forbidden_role, got %+v", d)
	}
	if d.Details != "This action requires the admin role" {
		t.Fatalf("message must name the role, got %q", d.Details)
	}
	if f.resolver.authorized != 0 {
		t.Fatalf("permission check must not run after a role failure")
	}
}

func TestDecide_ForbiddenPermission(t *testing.T) {
	f := newFixture(t)
	tok := f.token(t, "admin@jadara.app", rbac.RoleAdmin)

	d := f.gate.Decide(context.Background(), Request{Token: tok, Method: http.MethodGet, Path: "/api/settings"}, Requirement{Permission: "settings.edit"})
	if d.Outcome != OutcomeForbiddenPermission {
		t.Fatalf("expected forbidden_permission, got %s", d.Outcome)
	}
	if d.Details != "Missing permission: settings.edit" {
		t.Fatalf("message must name the permission, got %q", d.Details)
	}
}

func TestDecide_Allowed(t *testing.T) {
	f := newFixture(t)
	tok := f.token(t, "admin@jadara.app", rbac.RoleAdmin)

	d := f.gate.Decide(context.Background(), Request{Token: tok, Method: http.MethodPut, Path: "/api/permissions/reviewer"},
		Requirement{Role: rbac.RoleAdmin, Permission: "permissions.edit"})
	if !d.Allowed() {
		t.Fatalf("expected allowed, got %+v", d)
	}
	if d.Identity.Email != "admin@jadara.app" || d.Identity.Role != rbac.RoleAdmin {
		t.Fatalf("unexpected identity: %+v", d.Identity)
	}
}

func TestPermissions(t *testing.T) {
	got := Permissions(Requirement{Role: rbac.RoleSuperAdmin}, Requirement{Permission: "jobs.view"})
	if len(got) != 1 || got[0] != "jobs.view" {
		t.Fatalf("unexpected permissions: %v", got)
	}
}
