package rbac

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
)

type countingStore struct {
	*MemoryOverrideStore
	reads atomic.Int32
}

func (s *countingStore) RolePermissions(ctx context.Context, role Role) ([]Permission, bool, error) {
	s.reads.Add(1)
	return s.MemoryOverrideStore.RolePermissions(ctx, role)
}

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newTestResolver(t *testing.T, store OverrideStore, cfg ResolverConfig) *Resolver {
	t.Helper()
	return NewResolver(mustDefaultCatalog(t), store, cfg, testLogger())
}

func TestAuthorize_SuperAdminSkipsStore(t *testing.T) {
	store := &countingStore{MemoryOverrideStore: NewMemoryOverrideStore()}
	r := newTestResolver(t, store, ResolverConfig{})

	if !r.Authorize(context.Background(), RoleSuperAdmin, "audit.cleanup") {
		t.Fatalf("superadmin must be authorized")
	}
	if store.reads.Load() != 0 {
		t.Fatalf("expected no store reads, got %d", store.reads.Load())
	}
}

func TestAuthorize_OverrideIsAuthoritative(t *testing.T) {
	store := NewMemoryOverrideStore()
	ctx := context.Background()
	// reviewer gains jobs.delete and loses jobs.view
	if err := store.SetRolePermissions(ctx, RoleReviewer, []Permission{"jobs.delete"}, "test"); err != nil {
		t.Fatalf("set: %v", err)
	}
	r := newTestResolver(t, store, ResolverConfig{})

	if !r.Authorize(ctx, RoleReviewer, "jobs.delete") {
		t.Fatalf("override grant ignored")
	}
	if r.Authorize(ctx, RoleReviewer, "jobs.view") {
		t.Fatalf("override revocation ignored")
	}
	// sync path still answers from the default catalog
	if !r.HasPermission(RoleReviewer, "jobs.view") || r.HasPermission(RoleReviewer, "jobs.delete") {
		t.Fatalf("sync resolver should not see overrides")
	}
}

func TestAuthorize_MissingEntryFallsBack(t *testing.T) {
	r := newTestResolver(t, NewMemoryOverrideStore(), ResolverConfig{})
	if !r.Authorize(context.Background(), RoleAdmin, "jobs.create") {
		t.Fatalf("expected default catalog grant")
	}
	if r.Authorize(context.Background(), RoleAdmin, "audit.view") {
		t.Fatalf("expected default catalog denial")
	}
}

func TestAuthorize_StoreErrorFallsBack(t *testing.T) {
	store := NewMemoryOverrideStore()
	store.FailWith(errors.New("connection refused"))
	r := newTestResolver(t, store, ResolverConfig{})

	if !r.Authorize(context.Background(), RoleReviewer, "jobs.view") {
		t.Fatalf("expected fallback grant")
	}
	if r.Authorize(context.Background(), RoleReviewer, "jobs.delete") {
		t.Fatalf("expected fallback denial")
	}
}

func TestAuthorize_BreakerOpensAndSkipsStore(t *testing.T) {
	store := &countingStore{MemoryOverrideStore: NewMemoryOverrideStore()}
	store.FailWith(errors.New("timeout"))
	r := newTestResolver(t, store, ResolverConfig{FailureThreshold: 2, OpenTimeout: time.Hour})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		r.Authorize(ctx, RoleReviewer, "jobs.view")
	}
	if got := store.reads.Load(); got != 2 {
		t.Fatalf("expected 2 reads before open, got %d", got)
	}

	for i := 0; i < 5; i++ {
		if !r.Authorize(ctx, RoleReviewer, "jobs.view") {
			t.Fatalf("open breaker must fall back to default catalog")
		}
	}
	if got := store.reads.Load(); got != 2 {
		t.Fatalf("open breaker must not touch the store, got %d reads", got)
	}
}

// cancellingStore cancels the caller mid-read and honours the context the
// way a database driver does.
type cancellingStore struct {
	*MemoryOverrideStore
	cancel context.CancelFunc
}

func (s *cancellingStore) RolePermissions(ctx context.Context, role Role) ([]Permission, bool, error) {
	if s.cancel != nil {
		s.cancel()
	}
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	return s.MemoryOverrideStore.RolePermissions(ctx, role)
}

func TestAuthorize_CallerCancellationDoesNotTripBreaker(t *testing.T) {
	store := &cancellingStore{MemoryOverrideStore: NewMemoryOverrideStore()}
	if err := store.SetRolePermissions(context.Background(), RoleReviewer, []Permission{"applicants.view"}, "test"); err != nil {
		t.Fatalf("set: %v", err)
	}
	r := newTestResolver(t, store, ResolverConfig{FailureThreshold: 2, OpenTimeout: time.Hour})

	for i := 0; i < 5; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if r.Authorize(ctx, RoleReviewer, "jobs.view") {
			t.Fatalf("cancelled request %d must not be granted", i+1)
		}
	}
	for i := 0; i < 5; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		store.cancel = cancel
		if r.Authorize(ctx, RoleReviewer, "jobs.view") {
			t.Fatalf("request cancelled mid-read %d must not be granted", i+1)
		}
	}
	store.cancel = nil

	if st := r.breaker.State(); st != gobreaker.StateClosed {
		t.Fatalf("breaker must stay closed, got %s", st)
	}
	ctx := context.Background()
	if r.Authorize(ctx, RoleReviewer, "jobs.view") {
		t.Fatalf("override revoking jobs.view must still apply")
	}
	if !r.Authorize(ctx, RoleReviewer, "applicants.view") {
		t.Fatalf("override grant must still apply")
	}
}

func TestAuthorize_NilStore(t *testing.T) {
	r := newTestResolver(t, nil, ResolverConfig{})
	if !r.Authorize(context.Background(), RoleReviewer, "comments.create") {
		t.Fatalf("expected default catalog grant")
	}
	if r.Authorize(context.Background(), RoleUnknown, "comments.create") {
		t.Fatalf("unknown role must be denied")
	}
}

func TestUpdateRolePermissions(t *testing.T) {
	store := NewMemoryOverrideStore()
	r := newTestResolver(t, store, ResolverConfig{})
	ctx := context.Background()

	before, after, err := r.UpdateRolePermissions(ctx, RoleReviewer, []Permission{"jobs.view", "jobs.view", "applicants.view"}, "u-1")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if len(before) != 7 {
		t.Fatalf("expected default reviewer set as before, got %v", before)
	}
	if len(after) != 2 || after[0] != "applicants.view" || after[1] != "jobs.view" {
		t.Fatalf("unexpected after: %v", after)
	}
	if r.Authorize(ctx, RoleReviewer, "comments.create") {
		t.Fatalf("override should now deny comments.create")
	}

	if _, _, err := r.UpdateRolePermissions(ctx, RoleSuperAdmin, nil, "u-1"); !errors.Is(err, ErrSuperAdminOverride) {
		t.Fatalf("expected ErrSuperAdminOverride, got %v", err)
	}
	if _, _, err := r.UpdateRolePermissions(ctx, RoleAdmin, []Permission{"jobs.nuke"}, "u-1"); !errors.Is(err, ErrInvalidPermission) {
		t.Fatalf("expected ErrInvalidPermission, got %v", err)
	}
}

func TestSeedOverrides_OnlyMissingRoles(t *testing.T) {
	store := NewMemoryOverrideStore()
	ctx := context.Background()
	if err := store.SetRolePermissions(ctx, RoleAdmin, []Permission{"jobs.view"}, "test"); err != nil {
		t.Fatalf("set: %v", err)
	}
	seeded, err := SeedOverrides(ctx, store, mustDefaultCatalog(t))
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if len(seeded) != 1 || seeded[0] != RoleReviewer {
		t.Fatalf("expected only reviewer seeded, got %v", seeded)
	}
	admin, _, _ := store.RolePermissions(ctx, RoleAdmin)
	if len(admin) != 1 {
		t.Fatalf("existing override must be kept, got %v", admin)
	}
	if _, found, _ := store.RolePermissions(ctx, RoleSuperAdmin); found {
		t.Fatalf("superadmin must never be seeded")
	}
}
