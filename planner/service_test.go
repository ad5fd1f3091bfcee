package planner

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"prism-gtd/domain"
)

func TestSomedayTaskThroughUpcomingAndBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	someday := domain.ListView(domain.Someday)
	upcoming := func() []string { return f.view(t, "user", domain.UpcomingView(), domain.Filters{}) }

	task := f.create(t, "user", "learn piano", domain.Someday, nil)
	sibling := f.create(t, "user", "visit japan", domain.Someday, nil)
	sooner := f.create(t, "user", "dentist", domain.Inbox, datePtr(testNow.AddDate(0, 0, 1)))

	if slices.Contains(upcoming(), task.ID) {
		t.Fatalf("undated task should not be upcoming")
	}

	due := testNow.AddDate(0, 0, 5)
	if _, err := f.svc.UpdateTask(ctx, "user", task.ID, TaskPatch{DueDate: &due}); err != nil {
		t.Fatalf("set due date: %v", err)
	}
	if diff := cmp.Diff([]string{sooner.ID, task.ID}, upcoming()); diff != "" {
		t.Fatalf("upcoming after due date (-want +got):\n%s", diff)
	}

	if _, err := f.svc.CompleteTask(ctx, "user", task.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if slices.Contains(f.view(t, "user", someday, domain.DefaultFilters()), task.ID) {
		t.Fatalf("completed task still in someday")
	}
	if slices.Contains(upcoming(), task.ID) {
		t.Fatalf("completed task still upcoming")
	}

	reopened, err := f.svc.ReopenTask(ctx, "user", task.ID)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if reopened.DueDate == nil || !reopened.DueDate.Equal(due) {
		t.Fatalf("due date lost through lifecycle: %v", reopened.DueDate)
	}
	if diff := cmp.Diff([]string{task.ID, sibling.ID}, f.view(t, "user", someday, domain.DefaultFilters())); diff != "" {
		t.Fatalf("someday after reopen (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{sooner.ID, task.ID}, upcoming()); diff != "" {
		t.Fatalf("upcoming after reopen (-want +got):\n%s", diff)
	}
}

func TestUpdateTaskMovesToTopOfNewList(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.create(t, "user", "triage me", domain.Inbox, nil)
	existing := f.create(t, "user", "already next", domain.Next, nil)

	next := domain.Next
	moved, err := f.svc.UpdateTask(ctx, "user", task.ID, TaskPatch{List: &next})
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if moved.List != domain.Next || moved.SortOrder >= existing.SortOrder {
		t.Fatalf("expected move to top of next, got %+v", moved)
	}
	if got := f.view(t, "user", domain.ListView(domain.Inbox), domain.DefaultFilters()); len(got) != 0 {
		t.Fatalf("expected inbox empty after move, got %v", got)
	}

	// staying in the same list keeps the position
	same, err := f.svc.UpdateTask(ctx, "user", task.ID, TaskPatch{List: &next})
	if err != nil || same.SortOrder != moved.SortOrder {
		t.Fatalf("expected position kept, got %d (%v)", same.SortOrder, err)
	}
}

func TestUpdateTaskFields(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	due := testNow.AddDate(0, 0, 3)
	task, err := f.svc.CreateTask(ctx, "user", domain.NewTaskFields{Name: "draft", DueDate: &due, LabelIDs: []string{"a"}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	f.clock.Advance(time.Minute)
	name, desc, project := " final ", "notes", "p1"
	prio := domain.Priority(2)
	got, err := f.svc.UpdateTask(ctx, "user", task.ID, TaskPatch{
		Name:         &name,
		Description:  &desc,
		ClearDueDate: true,
		Priority:     &prio,
		ProjectID:    &project,
		LabelIDs:     []string{"b", "b", " "},
		SetLabels:    true,
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	want := task
	want.Name = "final"
	want.Description = "notes"
	want.DueDate = nil
	want.Priority = 2
	want.ProjectID = "p1"
	want.LabelIDs = []string{"b"}
	want.UpdatedAt = f.clock.Now()
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("updated task mismatch (-want +got):\n%s", diff)
	}
}

func TestUpdateTaskValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.create(t, "user", "x", domain.Inbox, nil)

	blank := "  "
	bad := domain.Priority(7)
	upcoming := domain.SystemList("upcoming")
	due := testNow
	for name, p := range map[string]TaskPatch{
		"empty":         {},
		"blank name":    {Name: &blank},
		"bad priority":  {Priority: &bad},
		"computed list": {List: &upcoming},
		"set and clear": {DueDate: &due, ClearDueDate: true},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.UpdateTask(ctx, "user", task.ID, p)
			expectValidation(t, err)
		})
	}

	title := "y"
	if _, err := f.svc.UpdateTask(ctx, "other", task.ID, TaskPatch{Name: &title}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for foreign task, got %v", err)
	}
}

func TestListTasksPaging(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	var ids []string
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		ids = append([]string{f.create(t, "user", name, domain.Inbox, nil).ID}, ids...)
	}

	cases := []struct {
		page     domain.Page
		want     []string
		nextOffs int
	}{
		{domain.Page{}, ids, 0},
		{domain.Page{Limit: 2}, ids[:2], 2},
		{domain.Page{Offset: 2, Limit: 2}, ids[2:4], 4},
		{domain.Page{Offset: 4, Limit: 2}, ids[4:], 0},
		{domain.Page{Offset: 9, Limit: 2}, []string{}, 0},
	}
	for _, tc := range cases {
		res, err := f.svc.ListTasks(ctx, "user", ListRequest{Page: tc.page})
		if err != nil {
			t.Fatalf("list %+v: %v", tc.page, err)
		}
		if res.TotalCount != len(ids) {
			t.Fatalf("total = %d, want %d", res.TotalCount, len(ids))
		}
		if diff := cmp.Diff(tc.want, viewIDs(res.Tasks)); diff != "" {
			t.Fatalf("page %+v mismatch (-want +got):\n%s", tc.page, diff)
		}
		if res.NextOffset != tc.nextOffs {
			t.Fatalf("page %+v next offset = %d, want %d", tc.page, res.NextOffset, tc.nextOffs)
		}
	}
}

func TestPublishFailureDoesNotFailMutation(t *testing.T) {
	f := newFixture(t)
	f.pub.err = errors.New("queue down")

	task := f.create(t, "user", "still saved", domain.Inbox, nil)
	stored, err := f.store.GetTask(context.Background(), "user", task.ID)
	if err != nil || stored == nil {
		t.Fatalf("expected task stored despite publish failure, got %v (%v)", stored, err)
	}
}

func TestEventsCarryOwnerAndTime(t *testing.T) {
	f := newFixture(t)
	task := f.create(t, "user", "x", domain.Inbox, nil)

	if len(f.pub.events) != 1 {
		t.Fatalf("expected one event, got %d", len(f.pub.events))
	}
	ev := f.pub.events[0]
	if ev.ID == "" || ev.UserID != "user" || ev.EntityID != task.ID || ev.EntityType != "task" || !ev.Time.Equal(testNow) {
		t.Fatalf("unexpected event envelope: %+v", ev)
	}
	if view, ok := ev.Data.(domain.TaskView); !ok || view.ID != task.ID {
		t.Fatalf("expected task view payload, got %#v", ev.Data)
	}
}
