package audit

import (
	"context"
	"errors"
	"fmt"
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/oklog/ulid/v2"
)

// Repository is the persistence contract for audit entries.
//
// There is no Update method. DeleteBefore exists only for retention.
type Repository interface {
	Append(ctx context.Context, e Entry) error
	Get(ctx context.Context, id string) (Entry, error)
	// List returns the requested page (newest first) and the total match count.
	List(ctx context.Context, f Filter) ([]Entry, int, error)
	Stats(ctx context.Context, q StatsQuery) (Stats, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

const (
	DefaultRetentionDays = 90
	statsTopN            = 10
	timelineDays         = 30
)

// Service records and queries audit entries.
//
// Audit is internal-only: query endpoints are restricted to superadmin.
// Callers recording entries should go through Recorder, which never fails.
type Service struct {
	repo     Repository
	validate *validator.Validate
	clock    func() time.Time

	entropyMu sync.Mutex
	entropy   *ulid.MonotonicEntropy
}

func NewService(repo Repository) *Service {
	return &Service{
		repo:     repo,
		validate: validator.New(),
		clock:    time.Now,
		entropy:  ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0),
	}
}

func (s *Service) newID(now time.Time) string {
	s.entropyMu.Lock()
	defer s.entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(now), s.entropy).String()
}

// Record validates e, stamps the server time and an id, and appends it.
// A caller-supplied ID or Timestamp is ignored.
func (s *Service) Record(ctx context.Context, e Entry) (Entry, error) {
	if s.repo == nil {
		return Entry{}, errors.New("audit: repository not configured")
	}
	if !e.Action.Known() {
		return Entry{}, fmt.Errorf("%w: %q", ErrUnknownAction, string(e.Action))
	}
	if e.Resource == "" {
		e.Resource = e.Action.Resource()
	}
	if !e.Resource.Valid() {
		return Entry{}, fmt.Errorf("%w: unknown resource %q", ErrInvalidEntry, string(e.Resource))
	}
	if e.Severity == "" {
		e.Severity = SeverityInfo
	}
	if !e.UserRole.Valid() {
		return Entry{}, fmt.Errorf("%w: invalid user role", ErrInvalidEntry)
	}
	if err := s.validate.Struct(e); err != nil {
		return Entry{}, fmt.Errorf("%w: %w", ErrInvalidEntry, err)
	}

	now := s.clock().UTC()
	e.ID = s.newID(now)
	e.Timestamp = now
	if err := s.repo.Append(ctx, e); err != nil {
		return Entry{}, fmt.Errorf("audit: append: %w", err)
	}
	return e, nil
}

func (s *Service) Get(ctx context.Context, id string) (Entry, error) {
	if id == "" {
		return Entry{}, ErrNotFound
	}
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, f Filter) (Page, error) {
	f = f.Normalize()
	if f.Severity != "" && !f.Severity.Valid() {
		return Page{}, fmt.Errorf("%w: unknown severity %q", ErrInvalidEntry, string(f.Severity))
	}
	entries, total, err := s.repo.List(ctx, f)
	if err != nil {
		return Page{}, err
	}
	if entries == nil {
		entries = []Entry{}
	}
	return Page{
		Entries: entries,
		Total:   total,
		Page:    f.Page,
		Limit:   f.Limit,
		HasMore: f.Page*f.Limit < total,
	}, nil
}

// Stats aggregates over r. The timeline always covers the trailing 30 days,
// independent of r.
func (s *Service) Stats(ctx context.Context, r Range) (Stats, error) {
	now := s.clock().UTC()
	since := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, -(timelineDays - 1))
	st, err := s.repo.Stats(ctx, StatsQuery{Range: r, TimelineSince: since, TopN: statsTopN})
	if err != nil {
		return Stats{}, err
	}
	return nonNilStats(st), nil
}

// Purge deletes entries older than days. Running it twice is harmless.
func (s *Service) Purge(ctx context.Context, days int) (PurgeResult, error) {
	if days < 1 {
		return PurgeResult{}, fmt.Errorf("%w: days must be at least 1, got %d", ErrInvalidEntry, days)
	}
	cutoff := s.clock().UTC().AddDate(0, 0, -days)
	n, err := s.repo.DeleteBefore(ctx, cutoff)
	if err != nil {
		return PurgeResult{}, fmt.Errorf("audit: purge: %w", err)
	}
	return PurgeResult{DeletedCount: n, CutoffDate: cutoff}, nil
}

func nonNilStats(st Stats) Stats {
	if st.ByAction == nil {
		st.ByAction = []ActionCount{}
	}
	if st.ByResource == nil {
		st.ByResource = []ResourceCount{}
	}
	if st.TopUsers == nil {
		st.TopUsers = []UserCount{}
	}
	if st.BySeverity == nil {
		st.BySeverity = []SeverityCount{}
	}
	if st.Timeline == nil {
		st.Timeline = []DayCount{}
	}
	return st
}
