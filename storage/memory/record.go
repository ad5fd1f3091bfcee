package memory

import (
	"time"

	"prism-gtd/domain"
)

type taskRecord struct {
	ID          string     `yaml:"id"`
	OwnerID     string     `yaml:"owner"`
	Name        string     `yaml:"name"`
	Description string     `yaml:"description,omitempty"`
	DueDate     *time.Time `yaml:"due,omitempty"`
	Priority    int        `yaml:"priority,omitempty"`
	Status      string     `yaml:"status"`
	List        string     `yaml:"list"`
	SortOrder   int        `yaml:"order"`
	ProjectID   string     `yaml:"project,omitempty"`
	LabelIDs    []string   `yaml:"labels,omitempty"`
	Archived    bool       `yaml:"archived"`
	CompletedAt *time.Time `yaml:"completed,omitempty"`
	CreatedAt   time.Time  `yaml:"created"`
	UpdatedAt   time.Time  `yaml:"updated"`
}

func recordOf(t domain.Task) taskRecord {
	c := t.Clone()
	return taskRecord{
		ID:          c.ID,
		OwnerID:     c.OwnerID,
		Name:        c.Name,
		Description: c.Description,
		DueDate:     c.DueDate,
		Priority:    int(c.Priority),
		Status:      string(c.Status),
		List:        string(c.List),
		SortOrder:   c.SortOrder,
		ProjectID:   c.ProjectID,
		LabelIDs:    c.LabelIDs,
		Archived:    c.Archived,
		CompletedAt: c.CompletedAt,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
}

func (r taskRecord) task() domain.Task {
	return domain.Task{
		ID:          r.ID,
		OwnerID:     r.OwnerID,
		Name:        r.Name,
		Description: r.Description,
		DueDate:     r.DueDate,
		Priority:    domain.Priority(r.Priority),
		Status:      domain.Status(r.Status),
		List:        domain.SystemList(r.List),
		SortOrder:   r.SortOrder,
		ProjectID:   r.ProjectID,
		LabelIDs:    r.LabelIDs,
		Archived:    r.Archived,
		CompletedAt: r.CompletedAt,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}
