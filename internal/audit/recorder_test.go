package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"ats-platform/internal/metrics"
	"ats-platform/pkg/logger"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

type failingRepo struct{ MemoryRepo }

func (f *failingRepo) Append(ctx context.Context, e Entry) error {
	return errors.New("disk full")
}

func TestRecorder_SwallowsFailures(t *testing.T) {
	svc := NewService(&failingRepo{})
	rec := NewRecorder(svc, logger.Discard())

	before := testutil.ToFloat64(metrics.AuditWriteFailures)
	if rec.Record(context.Background(), sampleEntry(ActionJobCreated, "Created job")) {
		t.Fatalf("expected failed write reported")
	}
	if got := testutil.ToFloat64(metrics.AuditWriteFailures); got != before+1 {
		t.Fatalf("expected failure counter incremented, got %v -> %v", before, got)
	}

	// invalid entries are failures too, not panics
	if rec.Record(context.Background(), Entry{Action: "nope"}) {
		t.Fatalf("expected unknown action reported as failure")
	}
}

func TestRecorder_Writes(t *testing.T) {
	svc, repo := newTestService(nil)
	rec := NewRecorder(svc, logger.Discard())
	if !rec.Record(context.Background(), sampleEntry(ActionLogout, "Logged out")) {
		t.Fatalf("expected write")
	}
	if len(repo.Entries()) != 1 {
		t.Fatalf("expected 1 entry")
	}

	var nilRec *Recorder
	if nilRec.Record(context.Background(), sampleEntry(ActionLogout, "Logged out")) {
		t.Fatalf("nil recorder must be a no-op")
	}
}

type fakeLocker struct {
	ok       bool
	err      error
	released int
}

func (f *fakeLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	if f.err != nil || !f.ok {
		return nil, false, f.err
	}
	return func() { f.released++ }, true, nil
}

func TestJanitor_RunOnce(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	svc, repo := newTestService(&now)
	ctx := context.Background()

	old := sampleEntry(ActionJobUpdated, "old")
	old.ID, old.Resource, old.Severity = "old", ResourceJob, SeverityInfo
	old.Timestamp = now.AddDate(0, 0, -120)
	_ = repo.Append(ctx, old)

	held := &fakeLocker{ok: false}
	if NewJanitor(svc, held, 90, time.Hour, logger.Discard()).RunOnce(ctx) {
		t.Fatalf("janitor must skip when the lock is held elsewhere")
	}
	broken := &fakeLocker{err: errors.New("redis down")}
	if NewJanitor(svc, broken, 90, time.Hour, logger.Discard()).RunOnce(ctx) {
		t.Fatalf("janitor must skip when locking fails")
	}
	if len(repo.Entries()) != 1 {
		t.Fatalf("skipped runs must not purge")
	}

	free := &fakeLocker{ok: true}
	if !NewJanitor(svc, free, 90, time.Hour, logger.Discard()).RunOnce(ctx) {
		t.Fatalf("expected purge to run")
	}
	if len(repo.Entries()) != 0 || free.released != 1 {
		t.Fatalf("expected purge and lock release, entries=%d released=%d", len(repo.Entries()), free.released)
	}
}

func TestJanitor_RunStopsOnCancel(t *testing.T) {
	svc, _ := newTestService(nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewJanitor(svc, nil, 90, time.Minute, logger.Discard()).Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("janitor did not stop")
	}
}
