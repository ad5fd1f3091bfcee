package planner

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"prism-gtd/domain"
)

// Lifecycle moves tasks between Open and Done+Archived.
type Lifecycle struct {
	store domain.TaskStore
	now   func() time.Time
}

func NewLifecycle(store domain.TaskStore, now func() time.Time) *Lifecycle {
	if now == nil {
		now = time.Now
	}
	return &Lifecycle{store: store, now: now}
}

// Complete marks the task done and archived. Completing a done task succeeds
// without touching it, so the first completion time is kept.
func (l *Lifecycle) Complete(ctx context.Context, ownerID, taskID string) (domain.TaskView, error) {
	t, _, err := l.complete(ctx, ownerID, taskID)
	if err != nil {
		return domain.TaskView{}, err
	}
	return t.View(), nil
}

// Reopen returns a done task to the top of the list it was filed in. Reopening
// an open task succeeds without touching it.
func (l *Lifecycle) Reopen(ctx context.Context, ownerID, taskID string) (domain.TaskView, error) {
	t, _, err := l.reopen(ctx, ownerID, taskID)
	if err != nil {
		return domain.TaskView{}, err
	}
	return t.View(), nil
}

func (l *Lifecycle) complete(ctx context.Context, ownerID, taskID string) (domain.Task, bool, error) {
	return l.transition(ctx, ownerID, taskID, func(tx domain.Tx, t *domain.Task) (bool, error) {
		if t.Status == domain.StatusDone {
			return false, nil
		}
		now := l.now().UTC()
		t.Status = domain.StatusDone
		t.Archived = true
		t.CompletedAt = &now
		t.UpdatedAt = now
		return true, nil
	})
}

func (l *Lifecycle) reopen(ctx context.Context, ownerID, taskID string) (domain.Task, bool, error) {
	return l.transition(ctx, ownerID, taskID, func(tx domain.Tx, t *domain.Task) (bool, error) {
		if t.Active() {
			return false, nil
		}
		top, err := topSortOrder(ctx, tx, t.List)
		if err != nil {
			return false, err
		}
		t.Status = domain.StatusOpen
		t.Archived = false
		t.CompletedAt = nil
		t.SortOrder = top
		t.UpdatedAt = l.now().UTC()
		return true, nil
	})
}

// transition loads the task, lets apply mutate it and saves it when apply
// reports a change.
func (l *Lifecycle) transition(ctx context.Context, ownerID, taskID string, apply func(domain.Tx, *domain.Task) (bool, error)) (domain.Task, bool, error) {
	var (
		out     domain.Task
		changed bool
	)
	err := l.store.Update(ctx, ownerID, func(tx domain.Tx) error {
		t, err := tx.GetTask(ctx, taskID)
		if err != nil {
			return err
		}
		if t == nil {
			return domain.ErrNotFound
		}
		changed, err = apply(tx, t)
		if err != nil {
			return err
		}
		if changed {
			if err := tx.SaveTask(ctx, *t); err != nil {
				return err
			}
		}
		out = *t
		return nil
	})
	if err != nil {
		return domain.Task{}, false, err
	}
	log.WithFields(log.Fields{
		"owner":   ownerID,
		"task":    taskID,
		"status":  out.Status,
		"list":    out.List,
		"changed": changed,
	}).Debug("task lifecycle transition")
	return out, changed, nil
}
