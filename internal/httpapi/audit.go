package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ats-platform/internal/audit"
	"ats-platform/internal/gate"
	"ats-platform/internal/metrics"
	"ats-platform/internal/rbac"

	"github.com/gin-gonic/gin"
)

const dateOnly = "2006-01-02"

// parseTime accepts RFC 3339 or a bare date. A bare end date covers the whole
// day.
func parseTime(raw string, endOfDay bool) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(dateOnly, raw)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", key)
	}
	return n, nil
}

func queryRange(c *gin.Context) (audit.Range, error) {
	start, err := parseTime(c.Query("startDate"), false)
	if err != nil {
		return audit.Range{}, errors.New("startDate must be RFC 3339 or YYYY-MM-DD")
	}
	end, err := parseTime(c.Query("endDate"), true)
	if err != nil {
		return audit.Range{}, errors.New("endDate must be RFC 3339 or YYYY-MM-DD")
	}
	if !start.IsZero() && !end.IsZero() && end.Before(start) {
		return audit.Range{}, errors.New("endDate is before startDate")
	}
	return audit.Range{Start: start, End: end}, nil
}

func filterFromQuery(c *gin.Context) (audit.Filter, error) {
	var f audit.Filter
	var err error
	if f.Page, err = queryInt(c, "page", audit.DefaultPage); err != nil {
		return f, err
	}
	if f.Limit, err = queryInt(c, "limit", audit.DefaultLimit); err != nil {
		return f, err
	}
	f.UserID = strings.TrimSpace(c.Query("userId"))
	f.Search = c.Query("search")

	if raw := c.Query("action"); raw != "" {
		if f.Action, err = audit.ActionFromString(raw); err != nil {
			return f, fmt.Errorf("unknown action %q", raw)
		}
	}
	if raw := c.Query("resource"); raw != "" {
		f.Resource = audit.Resource(raw)
		if !f.Resource.Valid() {
			return f, fmt.Errorf("unknown resource %q", raw)
		}
	}
	if raw := c.Query("severity"); raw != "" {
		f.Severity = audit.Severity(raw)
		if !f.Severity.Valid() {
			return f, fmt.Errorf("unknown severity %q", raw)
		}
	}
	if raw := c.Query("userRole"); raw != "" {
		if f.UserRole, err = rbac.ParseRole(raw); err != nil {
			return f, fmt.Errorf("unknown role %q", raw)
		}
	}
	r, err := queryRange(c)
	if err != nil {
		return f, err
	}
	f.StartDate, f.EndDate = r.Start, r.End
	return f, nil
}

// ListAuditLogs pages through entries, newest first.
func (h *Handlers) ListAuditLogs(c *gin.Context) {
	f, err := filterFromQuery(c)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	page, err := h.Audit.List(c.Request.Context(), f)
	if err != nil {
		if errors.Is(err, audit.ErrInvalidEntry) {
			badRequest(c, err.Error())
			return
		}
		h.logger(c).Error("list audit logs failed", "err", err)
		internalError(c)
		return
	}
	okPage(c, page.Entries, pagination{
		Page:    page.Page,
		Limit:   page.Limit,
		Total:   page.Total,
		HasMore: page.HasMore,
	})
}

func (h *Handlers) AuditStats(c *gin.Context) {
	r, err := queryRange(c)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	st, err := h.Audit.Stats(c.Request.Context(), r)
	if err != nil {
		h.logger(c).Error("audit stats failed", "err", err)
		internalError(c)
		return
	}
	ok(c, st)
}

func (h *Handlers) GetAuditLog(c *gin.Context) {
	e, err := h.Audit.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, audit.ErrNotFound) {
			fail(c, http.StatusNotFound, codeNotFound, "Audit log entry not found")
			return
		}
		h.logger(c).Error("get audit log failed", "id", c.Param("id"), "err", err)
		internalError(c)
		return
	}
	ok(c, e)
}

// CleanupAuditLogs purges entries older than ?days (default: the configured
// retention) and records the purge itself.
func (h *Handlers) CleanupAuditLogs(c *gin.Context) {
	def := h.RetentionDays
	if def < 1 {
		def = audit.DefaultRetentionDays
	}
	days, err := queryInt(c, "days", def)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	ctx := c.Request.Context()
	res, err := h.Audit.Purge(ctx, days)
	if err != nil {
		if errors.Is(err, audit.ErrInvalidEntry) {
			badRequest(c, "days must be at least 1")
			return
		}
		h.logger(c).Error("audit cleanup failed", "days", days, "err", err)
		internalError(c)
		return
	}
	metrics.AuditPurged.Add(float64(res.DeletedCount))

	actor, _ := gate.IdentityFrom(c)
	e := audit.EntryFromRequest(c, actor, audit.ActionAuditCleanup,
		fmt.Sprintf("Deleted %d audit log entries older than %d days", res.DeletedCount, days))
	e.Severity = audit.SeverityWarning
	e.Metadata = map[string]any{
		"days":         days,
		"deletedCount": res.DeletedCount,
		"cutoffDate":   res.CutoffDate.Format(time.RFC3339),
	}
	h.Recorder.Record(ctx, e)

	ok(c, res)
}
