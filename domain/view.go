package domain

import "strings"

// SelectorKind tags the variant held by a ViewSelector.
type SelectorKind int

const (
	// SelectAll is the zero selector: every task of the owner.
	SelectAll SelectorKind = iota
	SelectList
	SelectLabel
	SelectProject
	SelectArchived
	SelectUpcoming
)

func (k SelectorKind) String() string {
	switch k {
	case SelectAll:
		return "all"
	case SelectList:
		return "list"
	case SelectLabel:
		return "label"
	case SelectProject:
		return "project"
	case SelectArchived:
		return "archived"
	case SelectUpcoming:
		return "upcoming"
	}
	return "unknown"
}

// ViewSelector picks the task population a view is drawn from. Construct it
// with ListView, LabelView, ProjectView, ArchivedView or UpcomingView.
type ViewSelector struct {
	kind SelectorKind
	list SystemList
	id   string
}

func ListView(l SystemList) ViewSelector { return ViewSelector{kind: SelectList, list: l} }
func LabelView(id string) ViewSelector   { return ViewSelector{kind: SelectLabel, id: id} }
func ProjectView(id string) ViewSelector { return ViewSelector{kind: SelectProject, id: id} }
func ArchivedView() ViewSelector         { return ViewSelector{kind: SelectArchived} }
func UpcomingView() ViewSelector         { return ViewSelector{kind: SelectUpcoming} }

func (s ViewSelector) Kind() SelectorKind { return s.kind }

// List is set only for SelectList.
func (s ViewSelector) List() SystemList { return s.list }

// ID is the label or project id for SelectLabel and SelectProject.
func (s ViewSelector) ID() string { return s.id }

func (s ViewSelector) String() string {
	switch s.kind {
	case SelectList:
		return string(s.list)
	case SelectLabel, SelectProject:
		return s.kind.String() + ":" + s.id
	}
	return s.kind.String()
}

// ParseViewSelector maps the API view name (and id for label/project views)
// to a selector. An empty view selects every task.
func ParseViewSelector(view, id string) (ViewSelector, error) {
	v := strings.ToLower(strings.TrimSpace(view))
	id = strings.TrimSpace(id)
	switch v {
	case "", "all":
		return ViewSelector{}, nil
	case "upcoming":
		return UpcomingView(), nil
	case "archived":
		return ArchivedView(), nil
	case "label", "project":
		if id == "" {
			return ViewSelector{}, &ValidationError{Field: "id", Reason: v + " view requires an id"}
		}
		if v == "label" {
			return LabelView(id), nil
		}
		return ProjectView(id), nil
	}
	l, err := ParseSystemList(v)
	if err != nil {
		return ViewSelector{}, &ValidationError{Field: "view", Reason: "unknown view " + quote(view)}
	}
	return ListView(l), nil
}

// StatusFilter narrows a view by completion state.
type StatusFilter string

const (
	FilterOpen StatusFilter = "open"
	FilterDone StatusFilter = "done"
	FilterAll  StatusFilter = "all"
)

// ParseStatusFilter defaults to FilterOpen for empty input.
func ParseStatusFilter(raw string) (StatusFilter, error) {
	switch f := StatusFilter(strings.ToLower(strings.TrimSpace(raw))); f {
	case "":
		return FilterOpen, nil
	case FilterOpen, FilterDone, FilterAll:
		return f, nil
	}
	return "", &ValidationError{Field: "status", Reason: "unknown status filter " + quote(raw)}
}

// Filters are orthogonal to the selector. Archived takes precedence over
// Status: when set the result is exactly the archived set.
type Filters struct {
	Status StatusFilter
	// Archived false adds no archived constraint beyond what Status implies.
	Archived bool
}

// DefaultFilters selects open, non-archived tasks.
func DefaultFilters() Filters { return Filters{Status: FilterOpen} }

// Query narrows q according to the filters.
func (f Filters) Query(q TaskQuery) TaskQuery {
	if f.Archived {
		archived := true
		q.Archived = &archived
		q.Status = ""
		return q
	}
	switch f.Status {
	case FilterDone:
		q.Status = StatusDone
	case FilterAll:
		q.Status = ""
	default:
		q.Status = StatusOpen
		notArchived := false
		q.Archived = &notArchived
	}
	return q
}

// Page bounds a resolved sequence. A zero Limit means no bound.
type Page struct {
	Offset int
	Limit  int
}

// ListResult is a page of a resolved view.
type ListResult struct {
	Tasks      []TaskView `json:"tasks"`
	TotalCount int        `json:"totalCount"`
	NextOffset int        `json:"-"`
}
