package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"ats-platform/internal/rbac"

	"github.com/goccy/go-json"
)

// NOTE: This repository assumes the audit_logs table from internal/storage
// exists, with indexes on occurred_at, user_id, action, resource and severity.

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

const entryColumns = `id, user_id, user_email, user_name, user_role, action, resource,
resource_id, resource_name, description, metadata, changes, severity,
ip_address, user_agent, method, url, occurred_at`

func (r *PostgresRepo) Append(ctx context.Context, e Entry) error {
	const q = `
INSERT INTO audit_logs (` + entryColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
`
	metadata, err := encodeJSON(e.Metadata, len(e.Metadata) == 0)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	changes, err := encodeJSON(e.Changes, e.Changes == nil)
	if err != nil {
		return fmt.Errorf("encode changes: %w", err)
	}
	_, err = r.db.ExecContext(ctx, q,
		e.ID, e.UserID, e.UserEmail, e.UserName, e.UserRole.String(),
		string(e.Action), string(e.Resource), e.ResourceID, e.ResourceName, e.Description,
		metadata, changes, string(e.Severity),
		e.IPAddress, e.UserAgent, e.Method, e.URL, e.Timestamp,
	)
	return err
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (Entry, error) {
	q := `SELECT ` + entryColumns + ` FROM audit_logs WHERE id = $1`
	e, err := scanEntry(r.db.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, err
	}
	return e, nil
}

func (r *PostgresRepo) List(ctx context.Context, f Filter) ([]Entry, int, error) {
	where, args := buildWhere(f)

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_logs`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count audit logs: %w", err)
	}
	if total == 0 || f.Offset() >= total {
		return []Entry{}, total, nil
	}

	n := len(args)
	q := `SELECT ` + entryColumns + ` FROM audit_logs` + where +
		fmt.Sprintf(` ORDER BY occurred_at DESC, id DESC LIMIT $%d OFFSET $%d`, n+1, n+2)
	rows, err := r.db.QueryContext(ctx, q, append(args, f.Limit, f.Offset())...)
	if err != nil {
		return nil, 0, fmt.Errorf("list audit logs: %w", err)
	}
	defer rows.Close()

	out := make([]Entry, 0, f.Limit)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (r *PostgresRepo) Stats(ctx context.Context, q StatsQuery) (Stats, error) {
	where, args := buildWhere(Filter{StartDate: q.Range.Start, EndDate: q.Range.End})
	var st Stats

	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_logs`+where, args...).Scan(&st.Total); err != nil {
		return Stats{}, fmt.Errorf("count: %w", err)
	}

	limit := fmt.Sprintf(" LIMIT $%d", len(args)+1)
	topArgs := append(append([]any{}, args...), q.TopN)

	err := r.countBy(ctx, `SELECT action, COUNT(*) AS c FROM audit_logs`+where+
		` GROUP BY action ORDER BY c DESC, action`+limit, topArgs, func(key string, n int) {
		st.ByAction = append(st.ByAction, ActionCount{Action: Action(key), Count: n})
	})
	if err != nil {
		return Stats{}, fmt.Errorf("by action: %w", err)
	}

	err = r.countBy(ctx, `SELECT resource, COUNT(*) AS c FROM audit_logs`+where+
		` GROUP BY resource ORDER BY c DESC, resource`, args, func(key string, n int) {
		st.ByResource = append(st.ByResource, ResourceCount{Resource: Resource(key), Count: n})
	})
	if err != nil {
		return Stats{}, fmt.Errorf("by resource: %w", err)
	}

	err = r.countBy(ctx, `SELECT severity, COUNT(*) AS c FROM audit_logs`+where+
		` GROUP BY severity ORDER BY c DESC, severity`, args, func(key string, n int) {
		st.BySeverity = append(st.BySeverity, SeverityCount{Severity: Severity(key), Count: n})
	})
	if err != nil {
		return Stats{}, fmt.Errorf("by severity: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `
SELECT user_id,
       (array_agg(user_email ORDER BY occurred_at DESC))[1],
       (array_agg(user_name ORDER BY occurred_at DESC))[1],
       COUNT(*) AS c
FROM audit_logs`+where+`
GROUP BY user_id
ORDER BY c DESC, user_id`+limit, topArgs...)
	if err != nil {
		return Stats{}, fmt.Errorf("top users: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var uc UserCount
		if err := rows.Scan(&uc.UserID, &uc.UserEmail, &uc.UserName, &uc.Count); err != nil {
			return Stats{}, err
		}
		st.TopUsers = append(st.TopUsers, uc)
	}
	if err := rows.Err(); err != nil {
		return Stats{}, err
	}

	err = r.countBy(ctx, `
SELECT to_char(occurred_at AT TIME ZONE 'UTC', 'YYYY-MM-DD') AS day, COUNT(*) AS c
FROM audit_logs
WHERE occurred_at >= $1
GROUP BY day
ORDER BY day`, []any{q.TimelineSince}, func(key string, n int) {
		st.Timeline = append(st.Timeline, DayCount{Date: key, Count: n})
	})
	if err != nil {
		return Stats{}, fmt.Errorf("timeline: %w", err)
	}

	return st, nil
}

func (r *PostgresRepo) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM audit_logs WHERE occurred_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *PostgresRepo) countBy(ctx context.Context, q string, args []any, emit func(key string, n int)) error {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return err
		}
		emit(key, n)
	}
	return rows.Err()
}

func buildWhere(f Filter) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.UserID != "" {
		add("user_id = $%d", f.UserID)
	}
	if f.Action != "" {
		add("action = $%d", string(f.Action))
	}
	if f.Resource != "" {
		add("resource = $%d", string(f.Resource))
	}
	if f.Severity != "" {
		add("severity = $%d", string(f.Severity))
	}
	if f.UserRole != rbac.RoleUnknown {
		add("user_role = $%d", f.UserRole.String())
	}
	if !f.StartDate.IsZero() {
		add("occurred_at >= $%d", f.StartDate)
	}
	if !f.EndDate.IsZero() {
		add("occurred_at <= $%d", f.EndDate)
	}
	if f.Search != "" {
		args = append(args, "%"+escapeLike(f.Search)+"%")
		n := len(args)
		conds = append(conds, fmt.Sprintf(
			"(description ILIKE $%[1]d OR resource_name ILIKE $%[1]d OR user_email ILIKE $%[1]d OR user_name ILIKE $%[1]d)", n))
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string { return likeEscaper.Replace(s) }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (Entry, error) {
	var e Entry
	var role, action, resource, severity string
	var metadata, changes []byte
	err := row.Scan(
		&e.ID, &e.UserID, &e.UserEmail, &e.UserName, &role, &action, &resource,
		&e.ResourceID, &e.ResourceName, &e.Description, &metadata, &changes, &severity,
		&e.IPAddress, &e.UserAgent, &e.Method, &e.URL, &e.Timestamp,
	)
	if err != nil {
		return Entry{}, err
	}
	// Rows written by retired roles keep RoleUnknown rather than failing the read.
	e.UserRole, _ = rbac.ParseRole(role)
	e.Action = Action(action)
	e.Resource = Resource(resource)
	e.Severity = Severity(severity)
	e.Timestamp = e.Timestamp.UTC()

	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
			return Entry{}, fmt.Errorf("decode metadata of %s: %w", e.ID, err)
		}
	}
	if len(changes) > 0 {
		e.Changes = &Changes{}
		if err := json.Unmarshal(changes, e.Changes); err != nil {
			return Entry{}, fmt.Errorf("decode changes of %s: %w", e.ID, err)
		}
	}
	return e, nil
}

// encodeJSON returns nil (SQL NULL) when empty is true.
func encodeJSON(v any, empty bool) (any, error) {
	if empty {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return b, nil
}
