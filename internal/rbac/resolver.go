package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ats-platform/internal/metrics"

	gobreaker "github.com/sony/gobreaker/v2"
)

// AuthoritativeResolver answers permission checks against the persisted
// override catalog, falling back to the default catalog when the store has no
// entry or cannot be reached. It never returns an error to the caller.
type AuthoritativeResolver interface {
	Authorize(ctx context.Context, role Role, perm Permission) bool
	SatisfiesRole(role, required Role) bool
}

type ResolverConfig struct {
	// StoreTimeout bounds a single override read.
	StoreTimeout time.Duration
	// FailureThreshold is the number of consecutive store failures that open the breaker.
	FailureThreshold uint32
	// OpenTimeout is how long the breaker stays open before probing again.
	OpenTimeout time.Duration
	// HalfOpenRequests is the number of probes allowed while half-open.
	HalfOpenRequests uint32
}

func DefaultResolverConfig() ResolverConfig {
	return ResolverConfig{
		StoreTimeout:     2 * time.Second,
		FailureThreshold: 5,
		OpenTimeout:      30 * time.Second,
		HalfOpenRequests: 1,
	}
}

// Fallback reasons reported in ats_permission_store_fallbacks_total.
const (
	FallbackMissingEntry = "missing_entry"
	FallbackStoreError   = "store_error"
	FallbackBreakerOpen  = "breaker_open"
	FallbackNoStore      = "no_store"
)

var ErrSuperAdminOverride = errors.New("rbac: superadmin permissions cannot be overridden")

// errCallerGone marks a store read abandoned because the caller's context
// ended. It says nothing about store health and never trips the breaker.
var errCallerGone = errors.New("rbac: caller context done")

type overrideEntry struct {
	perms []Permission
	found bool
}

// Resolver implements AuthoritativeResolver on top of an OverrideStore.
type Resolver struct {
	catalog *Catalog
	store   OverrideStore
	breaker *gobreaker.CircuitBreaker[overrideEntry]
	timeout time.Duration
	log     *slog.Logger
}

func NewResolver(catalog *Catalog, store OverrideStore, cfg ResolverConfig, log *slog.Logger) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	def := DefaultResolverConfig()
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = def.StoreTimeout
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = def.OpenTimeout
	}
	if cfg.HalfOpenRequests == 0 {
		cfg.HalfOpenRequests = def.HalfOpenRequests
	}

	r := &Resolver{
		catalog: catalog,
		store:   store,
		timeout: cfg.StoreTimeout,
		log:     log,
	}
	r.breaker = gobreaker.NewCircuitBreaker[overrideEntry](gobreaker.Settings{
		Name:        "permission-override-store",
		MaxRequests: cfg.HalfOpenRequests,
		Timeout:     cfg.OpenTimeout,
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, errCallerGone)
		},
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("permission store breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
	return r
}

func (r *Resolver) Catalog() *Catalog { return r.catalog }

// HasPermission is the synchronous check against the default catalog.
func (r *Resolver) HasPermission(role Role, perm Permission) bool {
	return r.catalog.HasPermission(role, perm)
}

func (r *Resolver) SatisfiesRole(role, required Role) bool {
	return Satisfies(role, required)
}

func (r *Resolver) Authorize(ctx context.Context, role Role, perm Permission) bool {
	if IsSuperAdmin(role) {
		return true
	}
	if !role.Valid() {
		return false
	}

	entry, reason, err := r.lookup(ctx, role)
	if errors.Is(err, errCallerGone) {
		return false
	}
	if reason != "" {
		metrics.PermissionStoreFallbacks.WithLabelValues(reason).Inc()
		if err != nil {
			r.log.Warn("permission store unavailable, using default catalog",
				"role", role.String(),
				"permission", string(perm),
				"reason", reason,
				"err", err,
			)
		} else {
			r.log.Debug("no permission override, using default catalog",
				"role", role.String(),
				"permission", string(perm),
				"reason", reason,
			)
		}
		return r.catalog.HasPermission(role, perm)
	}

	for _, p := range entry.perms {
		if p == perm {
			return true
		}
	}
	return false
}

// EffectivePermissions returns the permissions role currently holds under the
// same resolution rules as Authorize.
func (r *Resolver) EffectivePermissions(ctx context.Context, role Role) []Permission {
	if IsSuperAdmin(role) || !role.Valid() {
		return r.catalog.Permissions(role)
	}
	entry, reason, err := r.lookup(ctx, role)
	if reason != "" || err != nil {
		return r.catalog.Permissions(role)
	}
	return NewPermissionSet(entry.perms...).Sorted()
}

// lookup returns a non-empty reason when the caller must fall back.
func (r *Resolver) lookup(ctx context.Context, role Role) (overrideEntry, string, error) {
	if r.store == nil {
		return overrideEntry{}, FallbackNoStore, nil
	}
	if err := ctx.Err(); err != nil {
		return overrideEntry{}, "", fmt.Errorf("%w: %w", errCallerGone, err)
	}
	entry, err := r.breaker.Execute(func() (overrideEntry, error) {
		cctx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()
		perms, found, err := r.store.RolePermissions(cctx, role)
		if err != nil {
			if cerr := ctx.Err(); cerr != nil {
				return overrideEntry{}, fmt.Errorf("%w: %w", errCallerGone, cerr)
			}
			return overrideEntry{}, err
		}
		return overrideEntry{perms: perms, found: found}, nil
	})
	switch {
	case errors.Is(err, errCallerGone):
		return overrideEntry{}, "", err
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return overrideEntry{}, FallbackBreakerOpen, err
	case err != nil:
		return overrideEntry{}, FallbackStoreError, err
	case !entry.found:
		return overrideEntry{}, FallbackMissingEntry, nil
	}
	return entry, "", nil
}

// RoleOverrides is the current state of the override catalog for display.
type RoleOverrides struct {
	Overrides map[Role][]Permission
	Available bool
}

// Overrides lists the persisted override catalog. Available is false when the
// store could not be read; the caller still gets an empty map.
func (r *Resolver) Overrides(ctx context.Context) RoleOverrides {
	if r.store == nil {
		return RoleOverrides{Overrides: map[Role][]Permission{}}
	}
	cctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	all, err := r.store.ListRolePermissions(cctx)
	if err != nil {
		r.log.Warn("list permission overrides failed", "err", err)
		return RoleOverrides{Overrides: map[Role][]Permission{}}
	}
	return RoleOverrides{Overrides: all, Available: true}
}

// UpdateRolePermissions replaces the override set of role and returns the
// effective permissions before the write, for change tracking. Store errors
// are returned; there is no fallback for writes.
func (r *Resolver) UpdateRolePermissions(ctx context.Context, role Role, perms []Permission, updatedBy string) ([]Permission, []Permission, error) {
	if !role.Valid() {
		return nil, nil, ErrInvalidRole
	}
	if IsSuperAdmin(role) {
		return nil, nil, ErrSuperAdminOverride
	}
	if err := r.catalog.Registry().Validate(perms...); err != nil {
		return nil, nil, err
	}
	if r.store == nil {
		return nil, nil, fmt.Errorf("rbac: override store not configured")
	}

	after := NewPermissionSet(perms...).Sorted()
	before := r.EffectivePermissions(ctx, role)

	cctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := r.store.SetRolePermissions(cctx, role, after, updatedBy); err != nil {
		return nil, nil, err
	}
	return before, after, nil
}
