package planner

import (
	"cmp"
	"context"
	"slices"
	"time"

	"prism-gtd/domain"
)

// ViewRequest describes one view resolution.
type ViewRequest struct {
	OwnerID  string
	Selector domain.ViewSelector
	Filters  domain.Filters
	// HorizonDays applies to the upcoming selector only; zero means the default.
	HorizonDays int
}

// Resolver turns a selector plus filters into an ordered task sequence.
type Resolver struct {
	store    domain.TaskReader
	upcoming *Upcoming
	now      func() time.Time
}

func NewResolver(store domain.TaskReader, upcoming *Upcoming, now func() time.Time) *Resolver {
	if now == nil {
		now = time.Now
	}
	if upcoming == nil {
		upcoming = NewUpcoming(store)
	}
	return &Resolver{store: store, upcoming: upcoming, now: now}
}

// Resolve reads the current committed state for the request. The upcoming
// selector ignores the filters; its membership is fixed.
func (r *Resolver) Resolve(ctx context.Context, req ViewRequest) ([]domain.TaskView, error) {
	if req.OwnerID == "" {
		return nil, &domain.ValidationError{Field: "ownerId", Reason: "owner is required"}
	}
	sel := req.Selector
	if sel.Kind() == domain.SelectUpcoming {
		horizon := req.HorizonDays
		if horizon == 0 {
			horizon = domain.DefaultUpcomingHorizonDays
		}
		return r.upcoming.Project(ctx, req.OwnerID, horizon, r.now())
	}

	q, err := selectorQuery(req.OwnerID, sel)
	if err != nil {
		return nil, err
	}
	f := req.Filters
	if f.Status == "" {
		f.Status = domain.FilterOpen
	}
	if sel.Kind() == domain.SelectArchived {
		f.Archived = true
	}
	q = f.Query(q)

	tasks, err := r.store.FindTasks(ctx, q)
	if err != nil {
		return nil, err
	}
	// Adapters may narrow coarsely.
	tasks = slices.DeleteFunc(tasks, func(t domain.Task) bool { return !q.Matches(t) })

	if f.Archived {
		slices.SortStableFunc(tasks, compareByCompletion)
	} else {
		slices.SortStableFunc(tasks, compareBySortOrder)
	}
	return domain.Views(tasks), nil
}

func selectorQuery(ownerID string, sel domain.ViewSelector) (domain.TaskQuery, error) {
	q := domain.TaskQuery{OwnerID: ownerID}
	switch sel.Kind() {
	case domain.SelectAll, domain.SelectArchived:
	case domain.SelectList:
		if !sel.List().Valid() {
			return q, &domain.ValidationError{Field: "view", Reason: "unknown system list " + string(sel.List())}
		}
		q.List = sel.List()
	case domain.SelectLabel:
		if sel.ID() == "" {
			return q, &domain.ValidationError{Field: "id", Reason: "label view requires an id"}
		}
		q.LabelID = sel.ID()
	case domain.SelectProject:
		if sel.ID() == "" {
			return q, &domain.ValidationError{Field: "id", Reason: "project view requires an id"}
		}
		q.ProjectID = sel.ID()
	default:
		return q, &domain.ValidationError{Field: "view", Reason: "unsupported selector " + sel.String()}
	}
	return q, nil
}

func listRank(l domain.SystemList) int {
	for i, s := range domain.SystemLists {
		if s == l {
			return i
		}
	}
	return len(domain.SystemLists)
}

func compareBySortOrder(a, b domain.Task) int {
	if c := cmp.Compare(a.SortOrder, b.SortOrder); c != 0 {
		return c
	}
	if c := cmp.Compare(listRank(a.List), listRank(b.List)); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// compareByCompletion puts the most recently completed first.
func compareByCompletion(a, b domain.Task) int {
	switch {
	case a.CompletedAt == nil && b.CompletedAt == nil:
	case a.CompletedAt == nil:
		return 1
	case b.CompletedAt == nil:
		return -1
	default:
		if c := b.CompletedAt.Compare(*a.CompletedAt); c != 0 {
			return c
		}
	}
	return cmp.Compare(a.ID, b.ID)
}
