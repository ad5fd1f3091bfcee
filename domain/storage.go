package domain

import (
	"context"
	"time"
)

// TaskQuery selects tasks of one owner. Zero-valued fields do not constrain.
type TaskQuery struct {
	OwnerID   string
	List      SystemList
	LabelID   string
	ProjectID string
	Status    Status
	Archived  *bool
	// DueBefore keeps tasks with a due date at or before the instant.
	DueBefore *time.Time
}

// Matches reports whether t satisfies every constraint of q.
func (q TaskQuery) Matches(t Task) bool {
	if q.OwnerID != "" && t.OwnerID != q.OwnerID {
		return false
	}
	if q.List != "" && t.List != q.List {
		return false
	}
	if q.LabelID != "" && !t.HasLabel(q.LabelID) {
		return false
	}
	if q.ProjectID != "" && t.ProjectID != q.ProjectID {
		return false
	}
	if q.Status != "" && t.Status != q.Status {
		return false
	}
	if q.Archived != nil && t.Archived != *q.Archived {
		return false
	}
	if q.DueBefore != nil && (t.DueDate == nil || t.DueDate.After(*q.DueBefore)) {
		return false
	}
	return true
}

// TaskReader is the read side of the task record store.
type TaskReader interface {
	// GetTask returns nil and no error when the task is absent or owned by
	// someone else.
	GetTask(ctx context.Context, ownerID, taskID string) (*Task, error)
	FindTasks(ctx context.Context, q TaskQuery) ([]Task, error)
}

// Tx is a unit of work scoped to one owner. Writes are invisible outside the
// transaction until the enclosing Update returns without error.
type Tx interface {
	GetTask(ctx context.Context, taskID string) (*Task, error)
	FindTasks(ctx context.Context, q TaskQuery) ([]Task, error)
	// MinSortOrder returns the smallest sort order among every task filed in
	// list, archived ones included. ok is false when the list is empty.
	MinSortOrder(ctx context.Context, list SystemList) (lowest int, ok bool, err error)
	InsertTask(ctx context.Context, t Task) error
	SaveTask(ctx context.Context, t Task) error
}

// TaskStore is the task record store collaborator.
type TaskStore interface {
	TaskReader
	// Update runs fn in one transaction for ownerID. It commits when fn returns
	// nil and the context is still live; otherwise nothing is written.
	Update(ctx context.Context, ownerID string, fn func(tx Tx) error) error
}

// SettingsStore persists per-user settings.
type SettingsStore interface {
	GetSettings(ctx context.Context, ownerID string) (Settings, error)
	SaveSettings(ctx context.Context, ownerID string, s Settings) error
}
