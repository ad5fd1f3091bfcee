package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// SystemList is one of the stored workflow buckets a task is filed under.
type SystemList string

const (
	Inbox   SystemList = "inbox"
	Next    SystemList = "next"
	Someday SystemList = "someday"
)

// SystemLists lists every stored bucket in display order.
var SystemLists = []SystemList{Inbox, Next, Someday}

// ParseSystemList accepts a stored list name case-insensitively. "upcoming" is
// a computed view and is rejected.
func ParseSystemList(raw string) (SystemList, error) {
	switch l := SystemList(strings.ToLower(strings.TrimSpace(raw))); l {
	case Inbox, Next, Someday:
		return l, nil
	}
	return "", &ValidationError{Field: "list", Reason: "unknown system list " + quote(raw)}
}

// Valid reports whether l is a stored list.
func (l SystemList) Valid() bool {
	return l == Inbox || l == Next || l == Someday
}

// Status is the completion state of a task.
type Status string

const (
	StatusOpen Status = "open"
	StatusDone Status = "done"
)

// Priority is an optional ordinal between 1 (highest) and 4. Zero means unset.
type Priority int

const (
	NoPriority  Priority = 0
	MaxPriority Priority = 4
)

// Valid reports whether p is unset or within 1..4.
func (p Priority) Valid() bool {
	return p >= NoPriority && p <= MaxPriority
}

// Task is the stored record.
type Task struct {
	ID          string
	OwnerID     string
	Name        string
	Description string
	DueDate     *time.Time
	Priority    Priority
	Status      Status
	List        SystemList
	SortOrder   int
	ProjectID   string
	LabelIDs    []string
	Archived    bool
	CompletedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NewTaskFields carries the caller supplied attributes of a new task.
type NewTaskFields struct {
	Name        string
	Description string
	DueDate     *time.Time
	Priority    Priority
	List        SystemList
	ProjectID   string
	LabelIDs    []string
}

// NewTask builds an open, non-archived task. The sort order is left at zero;
// the caller must assign a top-of-list position before persisting it.
func NewTask(ownerID string, f NewTaskFields, now time.Time) (Task, error) {
	if ownerID == "" {
		return Task{}, &ValidationError{Field: "ownerId", Reason: "owner is required"}
	}
	name := strings.TrimSpace(f.Name)
	if name == "" {
		return Task{}, &ValidationError{Field: "name", Reason: "name is required"}
	}
	if !f.Priority.Valid() {
		return Task{}, &ValidationError{Field: "priority", Reason: "priority must be between 1 and 4"}
	}
	list := f.List
	if list == "" {
		list = Inbox
	}
	if !list.Valid() {
		return Task{}, &ValidationError{Field: "list", Reason: "unknown system list " + quote(string(list))}
	}
	now = now.UTC()
	return Task{
		ID:          uuid.NewString(),
		OwnerID:     ownerID,
		Name:        name,
		Description: f.Description,
		DueDate:     utcPtr(f.DueDate),
		Priority:    f.Priority,
		Status:      StatusOpen,
		List:        list,
		ProjectID:   f.ProjectID,
		LabelIDs:    normalizeLabels(f.LabelIDs),
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Clone returns a deep copy so callers can mutate it without aliasing.
func (t Task) Clone() Task {
	c := t
	c.DueDate = copyTime(t.DueDate)
	c.CompletedAt = copyTime(t.CompletedAt)
	if t.LabelIDs != nil {
		c.LabelIDs = append([]string(nil), t.LabelIDs...)
	}
	return c
}

// HasLabel reports whether the task carries labelID.
func (t Task) HasLabel(labelID string) bool {
	for _, l := range t.LabelIDs {
		if l == labelID {
			return true
		}
	}
	return false
}

// Active reports whether the task is open and not archived.
func (t Task) Active() bool {
	return t.Status == StatusOpen && !t.Archived
}

// TaskView is the read model returned to callers.
type TaskView struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	Priority    int        `json:"priority,omitempty"`
	Status      Status     `json:"status"`
	List        SystemList `json:"list"`
	SortOrder   int        `json:"sortOrder"`
	ProjectID   string     `json:"projectId,omitempty"`
	LabelIDs    []string   `json:"labelIds,omitempty"`
	Archived    bool       `json:"archived"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// View projects the task into its read model.
func (t Task) View() TaskView {
	c := t.Clone()
	return TaskView{
		ID:          c.ID,
		Name:        c.Name,
		Description: c.Description,
		DueDate:     c.DueDate,
		Priority:    int(c.Priority),
		Status:      c.Status,
		List:        c.List,
		SortOrder:   c.SortOrder,
		ProjectID:   c.ProjectID,
		LabelIDs:    c.LabelIDs,
		Archived:    c.Archived,
		CompletedAt: c.CompletedAt,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
}

// Views projects a slice of tasks.
func Views(tasks []Task) []TaskView {
	out := make([]TaskView, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.View())
	}
	return out
}

func normalizeLabels(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// NormalizeLabels trims, drops empties and removes duplicates, keeping order.
func NormalizeLabels(ids []string) []string { return normalizeLabels(ids) }

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

func quote(s string) string { return "\"" + s + "\"" }
