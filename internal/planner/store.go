package planner

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"
)

// ListOptions pages a user's plans.
type ListOptions struct {
	Limit           int
	Offset          int
	IncludeArchived bool
}

// PlanStore persists weekly plans as whole aggregates. Every write is
// atomic: readers observe the plan before or after it, never in between.
type PlanStore interface {
	// Create fails with DuplicateIDError when plan.ID exists.
	Create(ctx context.Context, plan *WeeklyPlan) error
	GetByID(ctx context.Context, id string) (*WeeklyPlan, error)
	// GetByDate returns the most recently created non-archived plan of
	// userID whose week covers date. Archived plans are never returned.
	GetByDate(ctx context.Context, userID string, date time.Time) (*WeeklyPlan, error)
	// ReplaceDay swaps one day and the plan's variety score and bumps the
	// version. It fails with VersionConflictError when the stored version
	// differs from expectedVersion.
	ReplaceDay(ctx context.Context, id string, dayIndex int, day DailyPlan, varietyScore float64, expectedVersion int) error
	Archive(ctx context.Context, id string) error
	// Delete removes the plan with its days and meals.
	Delete(ctx context.Context, id string) error
	// ListByUser orders by start date then creation time, newest first.
	ListByUser(ctx context.Context, userID string, opts ListOptions) ([]WeeklyPlan, error)
}

// MemoryStore is a PlanStore kept in process memory. Plans are cloned on
// the way in and out.
type MemoryStore struct {
	mu    sync.RWMutex
	plans map[string]*WeeklyPlan
	now   func() time.Time
}

var _ PlanStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		plans: make(map[string]*WeeklyPlan),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) Create(ctx context.Context, plan *WeeklyPlan) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.plans[plan.ID]; ok {
		return &DuplicateIDError{PlanID: plan.ID}
	}
	stored := plan.Clone()
	now := s.now()
	stored.CreatedAt, stored.UpdatedAt = now, now
	if stored.Version == 0 {
		stored.Version = 1
	}
	s.plans[plan.ID] = stored
	plan.CreatedAt, plan.UpdatedAt, plan.Version = now, now, stored.Version
	return nil
}

func (s *MemoryStore) GetByID(ctx context.Context, id string) (*WeeklyPlan, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.plans[id]
	if !ok {
		return nil, &PlanNotFoundError{PlanID: id}
	}
	return p.Clone(), nil
}

func (s *MemoryStore) GetByDate(ctx context.Context, userID string, date time.Time) (*WeeklyPlan, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []*WeeklyPlan
	for _, p := range s.plans {
		if p.UserID == userID && !p.Archived && p.Covers(date) {
			matches = append(matches, p)
		}
	}
	if len(matches) == 0 {
		return nil, &PlanNotFoundError{UserID: userID, Date: DateOf(date).Format(time.DateOnly)}
	}
	slices.SortFunc(matches, func(a, b *WeeklyPlan) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return matches[0].Clone(), nil
}

func (s *MemoryStore) ReplaceDay(ctx context.Context, id string, dayIndex int, day DailyPlan, varietyScore float64, expectedVersion int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.plans[id]
	if !ok {
		return &PlanNotFoundError{PlanID: id}
	}
	if p.Version != expectedVersion {
		return &VersionConflictError{PlanID: id, Expected: expectedVersion, Actual: p.Version}
	}
	if dayIndex < 0 || dayIndex >= len(p.Days) {
		return &DayIndexOutOfRangeError{DayIndex: dayIndex}
	}
	next := p.Clone()
	next.Days[dayIndex] = day.clone()
	next.Days[dayIndex].DayIndex = dayIndex
	next.VarietyScore = varietyScore
	next.Version++
	next.UpdatedAt = s.now()
	s.plans[id] = next
	return nil
}

func (s *MemoryStore) Archive(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.plans[id]
	if !ok {
		return &PlanNotFoundError{PlanID: id}
	}
	p.Archived = true
	p.Version++
	p.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.plans[id]; !ok {
		return &PlanNotFoundError{PlanID: id}
	}
	delete(s.plans, id)
	return nil
}

func (s *MemoryStore) ListByUser(ctx context.Context, userID string, opts ListOptions) ([]WeeklyPlan, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []WeeklyPlan
	for _, p := range s.plans {
		if p.UserID != userID || (p.Archived && !opts.IncludeArchived) {
			continue
		}
		out = append(out, *p.Clone())
	}
	slices.SortFunc(out, func(a, b WeeklyPlan) int {
		if c := b.StartDate.Compare(a.StartDate); c != 0 {
			return c
		}
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return page(out, opts), nil
}

func page(plans []WeeklyPlan, opts ListOptions) []WeeklyPlan {
	if opts.Offset > 0 {
		if opts.Offset >= len(plans) {
			return []WeeklyPlan{}
		}
		plans = plans[opts.Offset:]
	}
	if opts.Limit > 0 && len(plans) > opts.Limit {
		plans = plans[:opts.Limit]
	}
	return plans
}
