package planner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"prism-gtd/domain"
	"prism-gtd/storage/memory"
)

var testNow = time.Date(2026, 2, 13, 9, 0, 0, 0, time.UTC)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, ev domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Type
	}
	return out
}

type fixture struct {
	svc   *Service
	store *memory.Store
	clock *fakeClock
	pub   *recordingPublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := &fakeClock{t: testNow}
	pub := &recordingPublisher{}
	store := memory.New()
	return &fixture{
		svc:   New(store, WithClock(clock.Now), WithPublisher(pub)),
		store: store,
		clock: clock,
		pub:   pub,
	}
}

func (f *fixture) create(t *testing.T, owner, name string, list domain.SystemList, due *time.Time) domain.TaskView {
	t.Helper()
	v, err := f.svc.CreateTask(context.Background(), owner, domain.NewTaskFields{Name: name, List: list, DueDate: due})
	if err != nil {
		t.Fatalf("create %s: %v", name, err)
	}
	return v
}

func (f *fixture) view(t *testing.T, owner string, sel domain.ViewSelector, filters domain.Filters) []string {
	t.Helper()
	res, err := f.svc.ListTasks(context.Background(), owner, ListRequest{Selector: sel, Filters: filters})
	if err != nil {
		t.Fatalf("list %s: %v", sel, err)
	}
	return viewIDs(res.Tasks)
}

// sortOrders snapshots the sort order of every task filed in list.
func (f *fixture) sortOrders(t *testing.T, owner string, list domain.SystemList) map[string]int {
	t.Helper()
	tasks, err := f.store.FindTasks(context.Background(), domain.TaskQuery{OwnerID: owner, List: list})
	if err != nil {
		t.Fatalf("find tasks: %v", err)
	}
	out := make(map[string]int, len(tasks))
	for _, task := range tasks {
		out[task.ID] = task.SortOrder
	}
	return out
}

func viewIDs(views []domain.TaskView) []string {
	out := make([]string, len(views))
	for i, v := range views {
		out[i] = v.ID
	}
	return out
}

func datePtr(t time.Time) *time.Time { return &t }

func expectValidation(t *testing.T, err error) *domain.ValidationError {
	t.Helper()
	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	return verr
}
