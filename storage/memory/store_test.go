package memory

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"prism-gtd/domain"
)

var testNow = time.Date(2026, 2, 13, 9, 0, 0, 0, time.UTC)

func newTask(t *testing.T, owner, name string, list domain.SystemList) domain.Task {
	t.Helper()
	task, err := domain.NewTask(owner, domain.NewTaskFields{Name: name, List: list, LabelIDs: []string{"l1"}}, testNow)
	if err != nil {
		t.Fatalf("new task: %v", err)
	}
	return task
}

func insert(t *testing.T, s *Store, tasks ...domain.Task) {
	t.Helper()
	ctx := context.Background()
	for _, task := range tasks {
		if err := s.Update(ctx, task.OwnerID, func(tx domain.Tx) error { return tx.InsertTask(ctx, task) }); err != nil {
			t.Fatalf("insert %s: %v", task.Name, err)
		}
	}
}

func TestUpdateCommitsAndReturnsCopies(t *testing.T) {
	s := New()
	ctx := context.Background()
	task := newTask(t, "user", "a", domain.Inbox)
	insert(t, s, task)

	got, err := s.GetTask(ctx, "user", task.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if diff := cmp.Diff(task, *got); diff != "" {
		t.Fatalf("stored task mismatch (-want +got):\n%s", diff)
	}
	got.LabelIDs[0] = "mutated"
	again, _ := s.GetTask(ctx, "user", task.ID)
	if again.LabelIDs[0] != "l1" {
		t.Fatalf("caller mutation leaked into the store")
	}

	if other, err := s.GetTask(ctx, "other", task.ID); err != nil || other != nil {
		t.Fatalf("expected nil for foreign owner, got %v (%v)", other, err)
	}
}

func TestUpdateRollsBackOnError(t *testing.T) {
	s := New()
	ctx := context.Background()
	task := newTask(t, "user", "a", domain.Inbox)
	insert(t, s, task)

	boom := errors.New("boom")
	err := s.Update(ctx, "user", func(tx domain.Tx) error {
		moved := task
		moved.SortOrder = 42
		if err := tx.SaveTask(ctx, moved); err != nil {
			return err
		}
		if err := tx.InsertTask(ctx, newTask(t, "user", "b", domain.Inbox)); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected callback error, got %v", err)
	}
	tasks, _ := s.FindTasks(ctx, domain.TaskQuery{OwnerID: "user"})
	if len(tasks) != 1 || tasks[0].SortOrder != 0 {
		t.Fatalf("expected no writes after rollback, got %+v", tasks)
	}
}

func TestUpdateDiscardsWritesOnCancel(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	task := newTask(t, "user", "a", domain.Inbox)

	err := s.Update(ctx, "user", func(tx domain.Tx) error {
		if err := tx.InsertTask(ctx, task); err != nil {
			return err
		}
		cancel()
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if got, _ := s.GetTask(context.Background(), "user", task.ID); got != nil {
		t.Fatalf("expected canceled transaction to write nothing")
	}
}

func TestTxSeesOwnWrites(t *testing.T) {
	s := New()
	ctx := context.Background()
	existing := newTask(t, "user", "a", domain.Next)
	insert(t, s, existing)

	err := s.Update(ctx, "user", func(tx domain.Tx) error {
		fresh := newTask(t, "user", "b", domain.Next)
		fresh.SortOrder = -5
		if err := tx.InsertTask(ctx, fresh); err != nil {
			return err
		}
		lowest, ok, err := tx.MinSortOrder(ctx, domain.Next)
		if err != nil {
			return err
		}
		if !ok || lowest != -5 {
			t.Fatalf("expected staged task in MinSortOrder, got %d %v", lowest, ok)
		}
		found, err := tx.FindTasks(ctx, domain.TaskQuery{List: domain.Next})
		if err != nil {
			return err
		}
		if len(found) != 2 {
			t.Fatalf("expected both tasks visible in tx, got %d", len(found))
		}
		if err := tx.InsertTask(ctx, fresh); !errors.Is(err, domain.ErrConcurrencyConflict) {
			t.Fatalf("expected duplicate insert to conflict, got %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
}

func TestTxOwnership(t *testing.T) {
	s := New()
	ctx := context.Background()
	theirs := newTask(t, "other", "x", domain.Inbox)
	insert(t, s, theirs)

	err := s.Update(ctx, "user", func(tx domain.Tx) error {
		if got, err := tx.GetTask(ctx, theirs.ID); err != nil || got != nil {
			t.Fatalf("expected foreign task hidden, got %v (%v)", got, err)
		}
		if _, ok, _ := tx.MinSortOrder(ctx, domain.Inbox); ok {
			t.Fatalf("expected foreign tasks excluded from MinSortOrder")
		}
		if err := tx.SaveTask(ctx, theirs); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound saving foreign task, got %v", err)
		}
		if err := tx.InsertTask(ctx, newTask(t, "other", "y", domain.Inbox)); err == nil {
			t.Fatalf("expected insert for another owner to fail")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
}

func TestFindTasksRequiresOwner(t *testing.T) {
	if _, err := New().FindTasks(context.Background(), domain.TaskQuery{}); err == nil {
		t.Fatalf("expected error for query without owner")
	}
	if err := New().Update(context.Background(), "", func(domain.Tx) error { return nil }); err == nil {
		t.Fatalf("expected error for update without owner")
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.yaml")
	ctx := context.Background()

	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	done := newTask(t, "user", "done", domain.Someday)
	due := testNow.Add(24 * time.Hour)
	done.DueDate = &due
	done.Status = domain.StatusDone
	done.Archived = true
	done.CompletedAt = &testNow
	open := newTask(t, "user", "open", domain.Inbox)
	insert(t, s, done, open)
	if err := s.SaveSettings(ctx, "user", domain.Settings{UpcomingHorizonDays: 7}); err != nil {
		t.Fatalf("save settings: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if !strings.Contains(string(data), "name: done") {
		t.Fatalf("expected yaml snapshot, got:\n%s", data)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	for _, want := range []domain.Task{done, open} {
		got, err := reopened.GetTask(ctx, "user", want.ID)
		if err != nil || got == nil {
			t.Fatalf("task %s missing after reopen (%v)", want.Name, err)
		}
		if diff := cmp.Diff(want, *got); diff != "" {
			t.Fatalf("task %s mismatch (-want +got):\n%s", want.Name, diff)
		}
	}
	st, err := reopened.GetSettings(ctx, "user")
	if err != nil || st.UpcomingHorizonDays != 7 {
		t.Fatalf("settings lost: %+v (%v)", st, err)
	}
}

func TestOpenRejectsCorruptSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.yaml")
	if err := os.WriteFile(path, []byte("tasks: [unterminated"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Open(path); err == nil {
		t.Fatalf("expected decode error")
	}
}
