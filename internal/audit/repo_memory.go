package audit

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryRepo is a simple in-memory repository useful for tests and local runs.
// It is not intended for production use.
type MemoryRepo struct {
	mu      sync.RWMutex
	entries []Entry
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) Append(ctx context.Context, e Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return nil
}

func (r *MemoryRepo) Get(ctx context.Context, id string) (Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := range r.entries {
		if r.entries[i].ID == id {
			return r.entries[i], nil
		}
	}
	return Entry{}, ErrNotFound
}

func (r *MemoryRepo) List(ctx context.Context, f Filter) ([]Entry, int, error) {
	r.mu.RLock()
	matched := make([]Entry, 0)
	for i := range r.entries {
		if matchesFilter(&r.entries[i], &f) {
			matched = append(matched, r.entries[i])
		}
	}
	r.mu.RUnlock()

	sortNewestFirst(matched)
	total := len(matched)
	start := f.Offset()
	if start >= total {
		return []Entry{}, total, nil
	}
	end := start + f.Limit
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (r *MemoryRepo) Stats(ctx context.Context, q StatsQuery) (Stats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	byAction := map[Action]int{}
	byResource := map[Resource]int{}
	bySeverity := map[Severity]int{}
	byUser := map[string]*UserCount{}
	latest := map[string]time.Time{}
	byDay := map[string]int{}
	var st Stats

	for _, e := range r.entries {
		if !e.Timestamp.Before(q.TimelineSince) {
			byDay[e.Timestamp.UTC().Format(time.DateOnly)]++
		}
		if !q.Range.Contains(e.Timestamp) {
			continue
		}
		st.Total++
		byAction[e.Action]++
		byResource[e.Resource]++
		bySeverity[e.Severity]++

		uc, ok := byUser[e.UserID]
		if !ok {
			uc = &UserCount{UserID: e.UserID}
			byUser[e.UserID] = uc
		}
		uc.Count++
		if e.Timestamp.After(latest[e.UserID]) || !ok {
			latest[e.UserID] = e.Timestamp
			uc.UserEmail = e.UserEmail
			uc.UserName = e.UserName
		}
	}

	for a, n := range byAction {
		st.ByAction = append(st.ByAction, ActionCount{Action: a, Count: n})
	}
	sort.Slice(st.ByAction, func(i, j int) bool {
		if st.ByAction[i].Count != st.ByAction[j].Count {
			return st.ByAction[i].Count > st.ByAction[j].Count
		}
		return st.ByAction[i].Action < st.ByAction[j].Action
	})
	st.ByAction = topN(st.ByAction, q.TopN)

	for res, n := range byResource {
		st.ByResource = append(st.ByResource, ResourceCount{Resource: res, Count: n})
	}
	sort.Slice(st.ByResource, func(i, j int) bool {
		if st.ByResource[i].Count != st.ByResource[j].Count {
			return st.ByResource[i].Count > st.ByResource[j].Count
		}
		return st.ByResource[i].Resource < st.ByResource[j].Resource
	})

	for _, uc := range byUser {
		st.TopUsers = append(st.TopUsers, *uc)
	}
	sort.Slice(st.TopUsers, func(i, j int) bool {
		if st.TopUsers[i].Count != st.TopUsers[j].Count {
			return st.TopUsers[i].Count > st.TopUsers[j].Count
		}
		return st.TopUsers[i].UserID < st.TopUsers[j].UserID
	})
	st.TopUsers = topN(st.TopUsers, q.TopN)

	for sev, n := range bySeverity {
		st.BySeverity = append(st.BySeverity, SeverityCount{Severity: sev, Count: n})
	}
	sort.Slice(st.BySeverity, func(i, j int) bool {
		if st.BySeverity[i].Count != st.BySeverity[j].Count {
			return st.BySeverity[i].Count > st.BySeverity[j].Count
		}
		return st.BySeverity[i].Severity < st.BySeverity[j].Severity
	})

	for day, n := range byDay {
		st.Timeline = append(st.Timeline, DayCount{Date: day, Count: n})
	}
	sort.Slice(st.Timeline, func(i, j int) bool { return st.Timeline[i].Date < st.Timeline[j].Date })

	return st, nil
}

func (r *MemoryRepo) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.entries[:0]
	var deleted int64
	for _, e := range r.entries {
		if e.Timestamp.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	r.entries = kept
	return deleted, nil
}

// Entries returns a copy of every stored entry in append order.
func (r *MemoryRepo) Entries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

func matchesFilter(e *Entry, f *Filter) bool {
	if f.UserID != "" && e.UserID != f.UserID {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.Resource != "" && e.Resource != f.Resource {
		return false
	}
	if f.Severity != "" && e.Severity != f.Severity {
		return false
	}
	if f.UserRole != 0 && e.UserRole != f.UserRole {
		return false
	}
	if !f.StartDate.IsZero() && e.Timestamp.Before(f.StartDate) {
		return false
	}
	if !f.EndDate.IsZero() && e.Timestamp.After(f.EndDate) {
		return false
	}
	if f.Search != "" {
		q := strings.ToLower(f.Search)
		if !strings.Contains(strings.ToLower(e.Description), q) &&
			!strings.Contains(strings.ToLower(e.ResourceName), q) &&
			!strings.Contains(strings.ToLower(e.UserEmail), q) &&
			!strings.Contains(strings.ToLower(e.UserName), q) {
			return false
		}
	}
	return true
}

// sortNewestFirst orders by timestamp descending, then id descending so that
// entries recorded within the same instant keep their append order reversed.
func sortNewestFirst(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].Timestamp.Equal(entries[j].Timestamp) {
			return entries[i].Timestamp.After(entries[j].Timestamp)
		}
		return entries[i].ID > entries[j].ID
	})
}

func topN[T any](s []T, n int) []T {
	if n > 0 && len(s) > n {
		return s[:n]
	}
	return s
}
