package planner

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"prism-gtd/domain"
)

// Publisher receives domain events after the mutation that produced them has
// been committed.
type Publisher interface {
	Publish(ctx context.Context, ev domain.Event) error
}

// Service is the entry point used by the API layer. It composes the ordering,
// lifecycle and view components over one task store.
type Service struct {
	store     domain.TaskStore
	orderer   *Orderer
	lifecycle *Lifecycle
	resolver  *Resolver
	publisher Publisher
	now       func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithPublisher sets the event sink.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

func New(store domain.TaskStore, opts ...Option) *Service {
	s := &Service{store: store, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	s.orderer = NewOrderer(store)
	s.lifecycle = NewLifecycle(store, s.now)
	s.resolver = NewResolver(store, NewUpcoming(store), s.now)
	return s
}

// ListRequest selects and pages a view.
type ListRequest struct {
	Selector    domain.ViewSelector
	Filters     domain.Filters
	Page        domain.Page
	HorizonDays int
}

// ListTasks resolves the view and returns the requested page together with
// the size of the whole sequence.
func (s *Service) ListTasks(ctx context.Context, ownerID string, req ListRequest) (domain.ListResult, error) {
	views, err := s.resolver.Resolve(ctx, ViewRequest{
		OwnerID:     ownerID,
		Selector:    req.Selector,
		Filters:     req.Filters,
		HorizonDays: req.HorizonDays,
	})
	if err != nil {
		return domain.ListResult{}, err
	}
	res := domain.ListResult{TotalCount: len(views)}
	start := req.Page.Offset
	if start < 0 {
		start = 0
	}
	if start > len(views) {
		start = len(views)
	}
	end := len(views)
	if req.Page.Limit > 0 && start+req.Page.Limit < end {
		end = start + req.Page.Limit
		res.NextOffset = end
	}
	res.Tasks = views[start:end]
	return res, nil
}

// CreateTask files a new task at the top of its list.
func (s *Service) CreateTask(ctx context.Context, ownerID string, f domain.NewTaskFields) (domain.TaskView, error) {
	t, err := domain.NewTask(ownerID, f, s.now())
	if err != nil {
		return domain.TaskView{}, err
	}
	err = s.store.Update(ctx, ownerID, func(tx domain.Tx) error {
		top, err := topSortOrder(ctx, tx, t.List)
		if err != nil {
			return err
		}
		t.SortOrder = top
		return tx.InsertTask(ctx, t)
	})
	if err != nil {
		return domain.TaskView{}, err
	}
	view := t.View()
	s.publish(ctx, ownerID, t.ID, domain.TaskCreated, view)
	return view, nil
}

// TaskPatch lists the fields to change. Nil fields are left untouched.
type TaskPatch struct {
	Name         *string
	Description  *string
	DueDate      *time.Time
	ClearDueDate bool
	Priority     *domain.Priority
	List         *domain.SystemList
	ProjectID    *string
	LabelIDs     []string
	SetLabels    bool
}

func (p TaskPatch) empty() bool {
	return p.Name == nil && p.Description == nil && p.DueDate == nil && !p.ClearDueDate &&
		p.Priority == nil && p.List == nil && p.ProjectID == nil && !p.SetLabels
}

func (p TaskPatch) validate() error {
	if p.empty() {
		return &domain.ValidationError{Reason: "no fields to update"}
	}
	if p.Name != nil && strings.TrimSpace(*p.Name) == "" {
		return &domain.ValidationError{Field: "name", Reason: "name is required"}
	}
	if p.Priority != nil && !p.Priority.Valid() {
		return &domain.ValidationError{Field: "priority", Reason: "priority must be between 1 and 4"}
	}
	if p.List != nil && !p.List.Valid() {
		return &domain.ValidationError{Field: "list", Reason: "unknown system list " + string(*p.List)}
	}
	if p.DueDate != nil && p.ClearDueDate {
		return &domain.ValidationError{Field: "dueDate", Reason: "cannot set and clear the due date"}
	}
	return nil
}

// UpdateTask edits task fields. Moving a task to another list places it at the
// top of that list within the same transaction.
func (s *Service) UpdateTask(ctx context.Context, ownerID, taskID string, p TaskPatch) (domain.TaskView, error) {
	if err := p.validate(); err != nil {
		return domain.TaskView{}, err
	}
	var out domain.Task
	err := s.store.Update(ctx, ownerID, func(tx domain.Tx) error {
		t, err := tx.GetTask(ctx, taskID)
		if err != nil {
			return err
		}
		if t == nil {
			return domain.ErrNotFound
		}
		if p.Name != nil {
			t.Name = strings.TrimSpace(*p.Name)
		}
		if p.Description != nil {
			t.Description = *p.Description
		}
		if p.DueDate != nil {
			due := p.DueDate.UTC()
			t.DueDate = &due
		}
		if p.ClearDueDate {
			t.DueDate = nil
		}
		if p.Priority != nil {
			t.Priority = *p.Priority
		}
		if p.ProjectID != nil {
			t.ProjectID = *p.ProjectID
		}
		if p.SetLabels {
			t.LabelIDs = domain.NormalizeLabels(p.LabelIDs)
		}
		if p.List != nil && *p.List != t.List {
			top, err := topSortOrder(ctx, tx, *p.List)
			if err != nil {
				return err
			}
			t.List = *p.List
			t.SortOrder = top
		}
		t.UpdatedAt = s.now().UTC()
		if err := tx.SaveTask(ctx, *t); err != nil {
			return err
		}
		out = *t
		return nil
	})
	if err != nil {
		return domain.TaskView{}, err
	}
	view := out.View()
	s.publish(ctx, ownerID, taskID, domain.TaskUpdated, view)
	return view, nil
}

// CompleteTask marks a task done and archived.
func (s *Service) CompleteTask(ctx context.Context, ownerID, taskID string) (domain.TaskView, error) {
	t, changed, err := s.lifecycle.complete(ctx, ownerID, taskID)
	if err != nil {
		return domain.TaskView{}, err
	}
	view := t.View()
	if changed {
		s.publish(ctx, ownerID, taskID, domain.TaskCompleted, view)
	}
	return view, nil
}

// ReopenTask returns a task to the top of its list.
func (s *Service) ReopenTask(ctx context.Context, ownerID, taskID string) (domain.TaskView, error) {
	t, changed, err := s.lifecycle.reopen(ctx, ownerID, taskID)
	if err != nil {
		return domain.TaskView{}, err
	}
	view := t.View()
	if changed {
		s.publish(ctx, ownerID, taskID, domain.TaskReopened, view)
	}
	return view, nil
}

// ReorderTasks applies a manual order to list atomically.
func (s *Service) ReorderTasks(ctx context.Context, ownerID string, list domain.SystemList, orderedIDs []string) error {
	if err := s.orderer.Reorder(ctx, ownerID, list, orderedIDs); err != nil {
		return err
	}
	s.publish(ctx, ownerID, string(list), domain.TasksReordered, domain.ReorderedEventData{
		List:    list,
		TaskIDs: append([]string(nil), orderedIDs...),
	})
	return nil
}

// InsertAtTop reports the position a task added to list now would take.
func (s *Service) InsertAtTop(ctx context.Context, ownerID string, list domain.SystemList) (int, error) {
	return s.orderer.InsertAtTop(ctx, ownerID, list)
}

func (s *Service) publish(ctx context.Context, ownerID, entityID, typ string, data any) {
	if s.publisher == nil {
		return
	}
	entityType := "task"
	if typ == domain.TasksReordered {
		entityType = "list"
	}
	ev := domain.Event{
		ID:         uuid.NewString(),
		EntityID:   entityID,
		EntityType: entityType,
		Type:       typ,
		UserID:     ownerID,
		Time:       s.now().UTC(),
		Data:       data,
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		log.WithFields(log.Fields{"owner": ownerID, "entity": entityID, "type": typ}).WithError(err).Warn("publish event failed")
	}
}
