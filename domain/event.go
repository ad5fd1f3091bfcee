package domain

import "time"

const (
	TaskCreated    = "task-created"
	TaskUpdated    = "task-updated"
	TaskCompleted  = "task-completed"
	TaskReopened   = "task-reopened"
	TasksReordered = "tasks-reordered"
)

// Event is emitted after a mutation has been committed.
type Event struct {
	ID         string    `json:"id"`
	EntityID   string    `json:"entityId"`
	EntityType string    `json:"entityType"`
	Type       string    `json:"type"`
	UserID     string    `json:"userId"`
	Time       time.Time `json:"time"`
	Data       any       `json:"data,omitempty"`
}

// ReorderedEventData is the payload of TasksReordered.
type ReorderedEventData struct {
	List    SystemList `json:"list"`
	TaskIDs []string   `json:"taskIds"`
}
