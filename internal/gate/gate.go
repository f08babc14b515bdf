package gate

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"ats-platform/internal/auth"
	"ats-platform/internal/demo"
	"ats-platform/internal/metrics"
	"ats-platform/internal/rbac"
)

// Outcome is the stable reason string of a gate decision.
type Outcome string

const (
	OutcomeAllowed             Outcome = "allowed"
	OutcomeUnauthorized        Outcome = "unauthorized"
	OutcomeDemoReadOnly        Outcome = "demo_read_only"
	OutcomeForbiddenRole       Outcome = "forbidden_role"
	OutcomeForbiddenPermission Outcome = "forbidden_permission"
)

// Requirement is what a route demands beyond authentication. Zero fields
// mean "no requirement".
type Requirement struct {
	Role       rbac.Role
	Permission rbac.Permission
}

// Permissions returns the permissions named by reqs, for the startup
// catalog check.
func Permissions(reqs ...Requirement) []rbac.Permission {
	var out []rbac.Permission
	for _, r := range reqs {
		if r.Permission != "" {
			out = append(out, r.Permission)
		}
	}
	return out
}

// Request is the framework-free view of an inbound request.
type Request struct {
	Token  string
	Method string
	Path   string
}

type Decision struct {
	Outcome  Outcome
	Status   int
	Error    string
	Details  string
	Identity auth.Identity
}

func (d Decision) Allowed() bool { return d.Outcome == OutcomeAllowed }

// ErrorBody is the JSON shape of every rejected request.
type ErrorBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
	Code    string `json:"code"`
}

func (d Decision) Body() ErrorBody {
	return ErrorBody{Error: d.Error, Details: d.Details, Code: string(d.Outcome)}
}

// Verifier checks a session token. *auth.Manager satisfies it.
type Verifier interface {
	Verify(token string, now time.Time) (auth.Claims, error)
}

type Gate struct {
	verifier    Verifier
	revocations auth.Revocations
	demo        demo.Policy
	resolver    rbac.AuthoritativeResolver
	clock       func() time.Time
	log         *slog.Logger
}

func New(verifier Verifier, revocations auth.Revocations, policy demo.Policy, resolver rbac.AuthoritativeResolver, log *slog.Logger) *Gate {
	if log == nil {
		log = slog.Default()
	}
	return &Gate{
		verifier:    verifier,
		revocations: revocations,
		demo:        policy,
		resolver:    resolver,
		clock:       time.Now,
		log:         log,
	}
}

// Decide runs the request through authentication, the demo write policy, the
// role requirement and the permission requirement, in that order. The first
// failing stage determines the outcome.
func (g *Gate) Decide(ctx context.Context, req Request, need Requirement) Decision {
	d := g.decide(ctx, req, need)
	metrics.GateDecisions.WithLabelValues(string(d.Outcome)).Inc()
	g.log.Debug("gate decision",
		"outcome", string(d.Outcome),
		"method", req.Method,
		"path", req.Path,
		"user_id", d.Identity.UserID,
	)
	return d
}

func (g *Gate) decide(ctx context.Context, req Request, need Requirement) Decision {
	if req.Token == "" {
		return unauthorized("Authentication required")
	}
	claims, err := g.verifier.Verify(req.Token, g.clock())
	if err != nil {
		return unauthorized("Invalid or expired session")
	}
	id, err := claims.Identity()
	if err != nil {
		return unauthorized("Invalid or expired session")
	}
	if g.revoked(ctx, id.TokenID) {
		return unauthorized("Session has been revoked")
	}

	if g.demo.Blocks(id.Email, req.Method, req.Path) {
		return Decision{
			Outcome:  OutcomeDemoReadOnly,
			Status:   http.StatusForbidden,
			Error:    demo.ErrorMessage,
			Details:  demo.ErrorDetails,
			Identity: id,
		}
	}

	if need.Role != rbac.RoleUnknown && !g.resolver.SatisfiesRole(id.Role, need.Role) {
		return Decision{
			Outcome:  OutcomeForbiddenRole,
			Status:   http.StatusForbidden,
			Error:    "Forbidden",
			Details:  fmt.Sprintf("This action requires the %s role", need.Role),
			Identity: id,
		}
	}

	if need.Permission != "" && !g.resolver.Authorize(ctx, id.Role, need.Permission) {
		return Decision{
			Outcome:  OutcomeForbiddenPermission,
			Status:   http.StatusForbidden,
			Error:    "Forbidden",
			Details:  fmt.Sprintf("Missing permission: %s", need.Permission),
			Identity: id,
		}
	}

	return Decision{Outcome: OutcomeAllowed, Status: http.StatusOK, Identity: id}
}

// revoked treats a failed lookup as not revoked; the token signature and
// expiry have already been checked.
func (g *Gate) revoked(ctx context.Context, tokenID string) bool {
	if g.revocations == nil || tokenID == "" {
		return false
	}
	revoked, err := g.revocations.IsRevoked(ctx, tokenID)
	if err != nil {
		g.log.Warn("session revocation lookup failed", "err", err)
		return false
	}
	return revoked
}

func unauthorized(details string) Decision {
	return Decision{
		Outcome: OutcomeUnauthorized,
		Status:  http.StatusUnauthorized,
		Error:   "Unauthorized",
		Details: details,
	}
}
