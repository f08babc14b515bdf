package audit

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"ats-platform/internal/rbac"
)

// Entry is an immutable audit log record.
//
// Invariants:
// - Entries are never updated. They are only removed by retention.
// - Timestamp is always the server clock at append time.
// - Actor fields are a snapshot taken when the action happened.
type Entry struct {
	ID string `json:"id"`

	UserID    string    `json:"userId" validate:"required,max=128"`
	UserEmail string    `json:"userEmail" validate:"required,email,max=320"`
	UserName  string    `json:"userName" validate:"max=200"`
	UserRole  rbac.Role `json:"userRole" validate:"required"`

	Action       Action   `json:"action" validate:"required"`
	Resource     Resource `json:"resource"`
	ResourceID   string   `json:"resourceId,omitempty" validate:"max=128"`
	ResourceName string   `json:"resourceName,omitempty" validate:"max=500"`
	Description  string   `json:"description" validate:"required,max=2000"`

	Metadata map[string]any `json:"metadata,omitempty"`
	Changes  *Changes       `json:"changes,omitempty"`
	Severity Severity       `json:"severity" validate:"omitempty,oneof=info warning error critical"`

	IPAddress string `json:"ipAddress,omitempty" validate:"omitempty,ip"`
	UserAgent string `json:"userAgent,omitempty" validate:"max=1000"`
	Method    string `json:"method,omitempty" validate:"max=16"`
	URL       string `json:"url,omitempty" validate:"max=2048"`

	Timestamp time.Time `json:"timestamp"`
}

// Changes is the before/after pair of a mutation.
type Changes struct {
	Before any `json:"before,omitempty"`
	After  any `json:"after,omitempty"`
}

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityError, SeverityCritical:
		return true
	}
	return false
}

// Resource is the kind of object an action targets.
type Resource string

const (
	ResourceAuth       Resource = "auth"
	ResourceUser       Resource = "user"
	ResourceJob        Resource = "job"
	ResourceApplicant  Resource = "applicant"
	ResourceEvaluation Resource = "evaluation"
	ResourceInterview  Resource = "interview"
	ResourceComment    Resource = "comment"
	ResourceQuestion   Resource = "question"
	ResourceSettings   Resource = "settings"
	ResourcePermission Resource = "permission"
	ResourceAudit      Resource = "audit"
)

var resources = map[Resource]struct{}{
	ResourceAuth: {}, ResourceUser: {}, ResourceJob: {}, ResourceApplicant: {},
	ResourceEvaluation: {}, ResourceInterview: {}, ResourceComment: {},
	ResourceQuestion: {}, ResourceSettings: {}, ResourcePermission: {}, ResourceAudit: {},
}

func (r Resource) Valid() bool {
	_, ok := resources[r]
	return ok
}

// Action is a "<resource>.<verb_or_event>" string from a closed taxonomy.
type Action string

const (
	ActionLogin         Action = "auth.login"
	ActionLogout        Action = "auth.logout"
	ActionLoginFailed   Action = "auth.login_failed"
	ActionPasswordReset Action = "auth.password_reset"

	ActionUserCreated     Action = "user.created"
	ActionUserUpdated     Action = "user.updated"
	ActionUserDeleted     Action = "user.deleted"
	ActionUserRoleChanged Action = "user.role_changed"

	ActionJobCreated   Action = "job.created"
	ActionJobUpdated   Action = "job.updated"
	ActionJobDeleted   Action = "job.deleted"
	ActionJobPublished Action = "job.published"
	ActionJobArchived  Action = "job.archived"

	ActionApplicantCreated       Action = "applicant.created"
	ActionApplicantUpdated       Action = "applicant.updated"
	ActionApplicantDeleted       Action = "applicant.deleted"
	ActionApplicantStatusChanged Action = "applicant.status_changed"
	ActionApplicantExported      Action = "applicant.exported"

	ActionEvaluationCreated Action = "evaluation.created"
	ActionEvaluationUpdated Action = "evaluation.updated"
	ActionEvaluationDeleted Action = "evaluation.deleted"

	ActionInterviewScheduled Action = "interview.scheduled"
	ActionInterviewUpdated   Action = "interview.updated"
	ActionInterviewCancelled Action = "interview.cancelled"

	ActionCommentCreated Action = "comment.created"
	ActionCommentDeleted Action = "comment.deleted"

	ActionQuestionCreated Action = "question.created"
	ActionQuestionUpdated Action = "question.updated"
	ActionQuestionDeleted Action = "question.deleted"

	ActionSettingsUpdated   Action = "settings.updated"
	ActionPermissionUpdated Action = "permission.updated"
	ActionAuditCleanup      Action = "audit.cleanup"
)

var actions = map[Action]struct{}{}

func init() {
	for _, a := range []Action{
		ActionLogin, ActionLogout, ActionLoginFailed, ActionPasswordReset,
		ActionUserCreated, ActionUserUpdated, ActionUserDeleted, ActionUserRoleChanged,
		ActionJobCreated, ActionJobUpdated, ActionJobDeleted, ActionJobPublished, ActionJobArchived,
		ActionApplicantCreated, ActionApplicantUpdated, ActionApplicantDeleted,
		ActionApplicantStatusChanged, ActionApplicantExported,
		ActionEvaluationCreated, ActionEvaluationUpdated, ActionEvaluationDeleted,
		ActionInterviewScheduled, ActionInterviewUpdated, ActionInterviewCancelled,
		ActionCommentCreated, ActionCommentDeleted,
		ActionQuestionCreated, ActionQuestionUpdated, ActionQuestionDeleted,
		ActionSettingsUpdated, ActionPermissionUpdated, ActionAuditCleanup,
	} {
		if !a.Resource().Valid() {
			panic(fmt.Sprintf("audit: action %q has no known resource", a))
		}
		actions[a] = struct{}{}
	}
}

var (
	ErrUnknownAction = errors.New("audit: unknown action")
	ErrInvalidEntry  = errors.New("audit: invalid entry")
	ErrNotFound      = errors.New("audit: entry not found")
)

func (a Action) Known() bool {
	_, ok := actions[a]
	return ok
}

// Resource returns the resource prefix of the action.
func (a Action) Resource() Resource {
	prefix, _, _ := strings.Cut(string(a), ".")
	return Resource(prefix)
}

// ActionFromString parses s against the closed taxonomy.
func ActionFromString(s string) (Action, error) {
	a := Action(strings.TrimSpace(s))
	if !a.Known() {
		return "", fmt.Errorf("%w: %q", ErrUnknownAction, s)
	}
	return a, nil
}

// Actions returns the taxonomy, mainly for documentation endpoints and tests.
func Actions() []Action {
	out := make([]Action, 0, len(actions))
	for a := range actions {
		out = append(out, a)
	}
	return out
}

// Filter selects entries for List. Zero fields do not filter.
type Filter struct {
	UserID    string
	Action    Action
	Resource  Resource
	Severity  Severity
	UserRole  rbac.Role
	StartDate time.Time
	EndDate   time.Time
	Search    string

	Page  int
	Limit int
}

const (
	DefaultPage  = 1
	DefaultLimit = 50
	MaxLimit     = 100
)

// Normalize applies paging defaults and bounds.
func (f Filter) Normalize() Filter {
	if f.Page < 1 {
		f.Page = DefaultPage
	}
	if f.Limit < 1 {
		f.Limit = DefaultLimit
	}
	if f.Limit > MaxLimit {
		f.Limit = MaxLimit
	}
	// Page*Limit must fit in an int; past that every page is empty anyway.
	if f.Page > math.MaxInt/f.Limit {
		f.Page = math.MaxInt / f.Limit
	}
	f.Search = strings.TrimSpace(f.Search)
	return f
}

func (f Filter) Offset() int { return (f.Page - 1) * f.Limit }

type Page struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Page    int     `json:"page"`
	Limit   int     `json:"limit"`
	HasMore bool    `json:"hasMore"`
}

// Range bounds Stats. Zero ends are open.
type Range struct {
	Start time.Time
	End   time.Time
}

func (r Range) Contains(t time.Time) bool {
	if !r.Start.IsZero() && t.Before(r.Start) {
		return false
	}
	if !r.End.IsZero() && t.After(r.End) {
		return false
	}
	return true
}

// StatsQuery is what the repository needs to compute Stats.
type StatsQuery struct {
	Range         Range
	TimelineSince time.Time
	TopN          int
}

type ActionCount struct {
	Action Action `json:"action"`
	Count  int    `json:"count"`
}

type ResourceCount struct {
	Resource Resource `json:"resource"`
	Count    int      `json:"count"`
}

type UserCount struct {
	UserID    string `json:"userId"`
	UserEmail string `json:"userEmail"`
	UserName  string `json:"userName"`
	Count     int    `json:"count"`
}

type SeverityCount struct {
	Severity Severity `json:"severity"`
	Count    int      `json:"count"`
}

type DayCount struct {
	Date  string `json:"date"` // YYYY-MM-DD, UTC
	Count int    `json:"count"`
}

type Stats struct {
	Total      int             `json:"total"`
	ByAction   []ActionCount   `json:"byAction"`
	ByResource []ResourceCount `json:"byResource"`
	TopUsers   []UserCount     `json:"topUsers"`
	BySeverity []SeverityCount `json:"bySeverity"`
	Timeline   []DayCount      `json:"timeline"`
}

type PurgeResult struct {
	DeletedCount int64     `json:"deletedCount"`
	CutoffDate   time.Time `json:"cutoffDate"`
}
