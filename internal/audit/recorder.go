package audit

import (
	"context"
	"log/slog"

	"ats-platform/internal/metrics"
	"ats-platform/pkg/logger"
)

// Recorder is the best-effort entry point used by handlers after a mutation
// has committed. It never returns an error and never retries.
type Recorder struct {
	svc *Service
	log *slog.Logger
}

func NewRecorder(svc *Service, log *slog.Logger) *Recorder {
	if log == nil {
		log = slog.Default()
	}
	return &Recorder{svc: svc, log: log}
}

// Record stores e and reports whether it was written.
func (r *Recorder) Record(ctx context.Context, e Entry) bool {
	if r == nil || r.svc == nil {
		return false
	}
	if _, err := r.svc.Record(ctx, e); err != nil {
		metrics.AuditWriteFailures.Inc()
		logger.FromOr(ctx, r.log).Error("audit_write_failed",
			"action", string(e.Action),
			"user_id", e.UserID,
			"resource_id", e.ResourceID,
			"err", err,
		)
		return false
	}
	return true
}
