package domain

import (
	"errors"
	"testing"
)

func TestParseViewSelector(t *testing.T) {
	cases := []struct {
		view, id string
		want     ViewSelector
	}{
		{"", "", ViewSelector{}},
		{"all", "", ViewSelector{}},
		{"Inbox", "", ListView(Inbox)},
		{"someday", "", ListView(Someday)},
		{"upcoming", "", UpcomingView()},
		{"archived", "", ArchivedView()},
		{"label", " work ", LabelView("work")},
		{"project", "p1", ProjectView("p1")},
	}
	for _, tc := range cases {
		got, err := ParseViewSelector(tc.view, tc.id)
		if err != nil {
			t.Fatalf("ParseViewSelector(%q, %q): %v", tc.view, tc.id, err)
		}
		if got != tc.want {
			t.Fatalf("ParseViewSelector(%q, %q) = %v, want %v", tc.view, tc.id, got, tc.want)
		}
	}

	for _, bad := range [][2]string{{"label", ""}, {"project", " "}, {"waiting", ""}} {
		if _, err := ParseViewSelector(bad[0], bad[1]); !errors.Is(err, ErrValidation) {
			t.Fatalf("ParseViewSelector(%q, %q) expected validation error, got %v", bad[0], bad[1], err)
		}
	}
}

func TestSelectorString(t *testing.T) {
	cases := map[string]ViewSelector{
		"all":        {},
		"next":       ListView(Next),
		"label:work": LabelView("work"),
		"project:p":  ProjectView("p"),
		"upcoming":   UpcomingView(),
		"archived":   ArchivedView(),
	}
	for want, sel := range cases {
		if got := sel.String(); got != want {
			t.Fatalf("String() = %q, want %q", got, want)
		}
	}
}

func TestParseStatusFilter(t *testing.T) {
	for raw, want := range map[string]StatusFilter{"": FilterOpen, "open": FilterOpen, "DONE": FilterDone, "all": FilterAll} {
		got, err := ParseStatusFilter(raw)
		if err != nil || got != want {
			t.Fatalf("ParseStatusFilter(%q) = %q, %v", raw, got, err)
		}
	}
	if _, err := ParseStatusFilter("pending"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestFiltersQuery(t *testing.T) {
	open := Task{OwnerID: "u", Status: StatusOpen}
	done := Task{OwnerID: "u", Status: StatusDone, Archived: true}
	// a done task that is not archived can only come from an older record
	doneVisible := Task{OwnerID: "u", Status: StatusDone}
	shelved := Task{OwnerID: "u", Status: StatusOpen, Archived: true}

	cases := []struct {
		name    string
		filters Filters
		want    []bool
	}{
		{"default", DefaultFilters(), []bool{true, false, false, false}},
		{"done", Filters{Status: FilterDone}, []bool{false, true, true, false}},
		{"all", Filters{Status: FilterAll}, []bool{true, true, true, true}},
		{"archived wins over status", Filters{Status: FilterOpen, Archived: true}, []bool{false, true, false, true}},
		{"not archived leaves done rows to status", Filters{Status: FilterDone, Archived: false}, []bool{false, true, true, false}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			q := tc.filters.Query(TaskQuery{OwnerID: "u"})
			for i, task := range []Task{open, done, doneVisible, shelved} {
				if got := q.Matches(task); got != tc.want[i] {
					t.Fatalf("task %d: Matches = %v, want %v", i, got, tc.want[i])
				}
			}
		})
	}
}
