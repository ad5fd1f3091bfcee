package tables

import (
	"encoding/json"
	"strings"
	"time"

	"prism-gtd/domain"
)

const (
	kindTask = "task"
	kindList = "list"

	// Fixed width UTC layout so string comparison in OData filters orders
	// instants correctly.
	timeLayout = "2006-01-02T15:04:05.000000000Z"
)

// entityKeys carries the table keys. The service sets Timestamp itself.
type entityKeys struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
}

// taskEntity is a task row. PartitionKey is the owner and RowKey the task id.
type taskEntity struct {
	entityKeys
	ETag        string `json:"odata.etag,omitempty"`
	Kind        string `json:"Kind"`
	Name        string `json:"Name"`
	Description string `json:"Description"`
	DueDate     string `json:"DueDate,omitempty"`
	Priority    int    `json:"Priority"`
	Status      string `json:"Status"`
	List        string `json:"List"`
	SortOrder   int    `json:"SortOrder"`
	ProjectID   string `json:"ProjectID,omitempty"`
	Labels      string `json:"Labels,omitempty"`
	Archived    bool   `json:"Archived"`
	CompletedAt string `json:"CompletedAt,omitempty"`
	CreatedAt   string `json:"CreatedAt"`
	UpdatedAt   string `json:"UpdatedAt"`
}

// listHead is one row per (owner, list). Every transaction that writes to a
// list bumps it under an ETag condition, which serializes writers of that list.
type listHead struct {
	entityKeys
	ETag    string `json:"odata.etag,omitempty"`
	Kind    string `json:"Kind"`
	Version int    `json:"Version"`
}

type settingsEntity struct {
	entityKeys
	UpcomingHorizonDays int `json:"UpcomingHorizonDays"`
	PageSize            int `json:"PageSize"`
}

func headRowKey(l domain.SystemList) string { return "~list~" + string(l) }

func encodeTask(t domain.Task) taskEntity {
	return taskEntity{
		entityKeys:  entityKeys{PartitionKey: t.OwnerID, RowKey: t.ID},
		Kind:        kindTask,
		Name:        t.Name,
		Description: t.Description,
		DueDate:     formatTime(t.DueDate),
		Priority:    int(t.Priority),
		Status:      string(t.Status),
		List:        string(t.List),
		SortOrder:   t.SortOrder,
		ProjectID:   t.ProjectID,
		Labels:      joinLabels(t.LabelIDs),
		Archived:    t.Archived,
		CompletedAt: formatTime(t.CompletedAt),
		CreatedAt:   t.CreatedAt.UTC().Format(timeLayout),
		UpdatedAt:   t.UpdatedAt.UTC().Format(timeLayout),
	}
}

func decodeTask(data []byte) (domain.Task, string, error) {
	var ent taskEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.Task{}, "", err
	}
	t := domain.Task{
		ID:          ent.RowKey,
		OwnerID:     ent.PartitionKey,
		Name:        ent.Name,
		Description: ent.Description,
		Priority:    domain.Priority(ent.Priority),
		Status:      domain.Status(ent.Status),
		List:        domain.SystemList(ent.List),
		SortOrder:   ent.SortOrder,
		ProjectID:   ent.ProjectID,
		LabelIDs:    splitLabels(ent.Labels),
		Archived:    ent.Archived,
	}
	var err error
	if t.DueDate, err = parseTime(ent.DueDate); err != nil {
		return domain.Task{}, "", err
	}
	if t.CompletedAt, err = parseTime(ent.CompletedAt); err != nil {
		return domain.Task{}, "", err
	}
	if ts, err := parseTime(ent.CreatedAt); err != nil {
		return domain.Task{}, "", err
	} else if ts != nil {
		t.CreatedAt = *ts
	}
	if ts, err := parseTime(ent.UpdatedAt); err != nil {
		return domain.Task{}, "", err
	} else if ts != nil {
		t.UpdatedAt = *ts
	}
	return t, ent.ETag, nil
}

func decodeSettings(data []byte) (domain.Settings, error) {
	var ent settingsEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.Settings{}, err
	}
	return domain.Settings{UpcomingHorizonDays: ent.UpcomingHorizonDays, PageSize: ent.PageSize}, nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil, err
	}
	t = t.UTC()
	return &t, nil
}

// Labels are stored as "|a|b|" so a single string property holds the set.
func joinLabels(ids []string) string {
	if len(ids) == 0 {
		return ""
	}
	return "|" + strings.Join(ids, "|") + "|"
}

func splitLabels(s string) []string {
	s = strings.Trim(s, "|")
	if s == "" {
		return nil
	}
	return strings.Split(s, "|")
}

// odataQuote escapes a literal for an OData filter.
func odataQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// taskFilter narrows a partition scan with the indexed parts of q. Label
// membership is checked client side.
func taskFilter(ownerID string, q domain.TaskQuery) string {
	parts := []string{
		"PartitionKey eq " + odataQuote(ownerID),
		"Kind eq " + odataQuote(kindTask),
	}
	if q.List != "" {
		parts = append(parts, "List eq "+odataQuote(string(q.List)))
	}
	if q.ProjectID != "" {
		parts = append(parts, "ProjectID eq "+odataQuote(q.ProjectID))
	}
	if q.Status != "" {
		parts = append(parts, "Status eq "+odataQuote(string(q.Status)))
	}
	if q.Archived != nil {
		if *q.Archived {
			parts = append(parts, "Archived eq true")
		} else {
			parts = append(parts, "Archived eq false")
		}
	}
	if q.DueBefore != nil {
		parts = append(parts, "DueDate le "+odataQuote(q.DueBefore.UTC().Format(timeLayout)))
	}
	return strings.Join(parts, " and ")
}
