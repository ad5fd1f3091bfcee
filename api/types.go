package api

import (
	"context"

	"prism-gtd/domain"
	"prism-gtd/planner"
)

// TaskService is the task engine as seen by handlers.
type TaskService interface {
	ListTasks(ctx context.Context, ownerID string, req planner.ListRequest) (domain.ListResult, error)
	CreateTask(ctx context.Context, ownerID string, f domain.NewTaskFields) (domain.TaskView, error)
	UpdateTask(ctx context.Context, ownerID, taskID string, p planner.TaskPatch) (domain.TaskView, error)
	CompleteTask(ctx context.Context, ownerID, taskID string) (domain.TaskView, error)
	ReopenTask(ctx context.Context, ownerID, taskID string) (domain.TaskView, error)
	ReorderTasks(ctx context.Context, ownerID string, list domain.SystemList, orderedIDs []string) error
}

// Authenticator is implemented by types able to extract user IDs from headers.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

// Deduper prevents processing of duplicate requests.
type Deduper interface {
	// Add records the idempotency key and returns true if it was newly added.
	Add(ctx context.Context, userID, key string) (bool, error)
	// Remove deletes a previously added key, used when downstream processing fails.
	Remove(ctx context.Context, userID, key string) error
}

type tasksResponse struct {
	Tasks         []domain.TaskView `json:"tasks"`
	TotalCount    int               `json:"totalCount"`
	NextPageToken string            `json:"nextPageToken,omitempty"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Field  string `json:"field,omitempty"`
	TaskID string `json:"taskId,omitempty"`
}
