package planner

import (
	"cmp"
	"context"
	"slices"
	"time"

	"prism-gtd/domain"
)

// Upcoming projects open tasks by due date across every list. Membership is
// recomputed from the store on each call and sort orders are never written.
type Upcoming struct {
	store domain.TaskReader
}

func NewUpcoming(store domain.TaskReader) *Upcoming { return &Upcoming{store: store} }

// Project returns the open, non-archived tasks of ownerID due at or before
// now plus horizonDays, overdue ones included.
func (u *Upcoming) Project(ctx context.Context, ownerID string, horizonDays int, now time.Time) ([]domain.TaskView, error) {
	if horizonDays < 0 {
		return nil, &domain.ValidationError{Field: "horizonDays", Reason: "must not be negative"}
	}
	cutoff := now.UTC().AddDate(0, 0, horizonDays)
	notArchived := false
	tasks, err := u.store.FindTasks(ctx, domain.TaskQuery{
		OwnerID:   ownerID,
		Status:    domain.StatusOpen,
		Archived:  &notArchived,
		DueBefore: &cutoff,
	})
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(tasks, compareByDue)
	return domain.Views(tasks), nil
}

// compareByDue orders by due date, then priority with unset priorities last,
// then id.
func compareByDue(a, b domain.Task) int {
	if c := compareTimes(a.DueDate, b.DueDate); c != 0 {
		return c
	}
	if c := comparePriority(a.Priority, b.Priority); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

func comparePriority(a, b domain.Priority) int {
	switch {
	case a == b:
		return 0
	case a == domain.NoPriority:
		return 1
	case b == domain.NoPriority:
		return -1
	}
	return cmp.Compare(a, b)
}

// compareTimes sorts nil after every set time.
func compareTimes(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}
	return a.Compare(*b)
}
