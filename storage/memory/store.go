// Package memory is an in-process task store. It backs the test suites and
// local runs; with a data file it snapshots every commit to YAML.
package memory

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/gofrs/flock"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"prism-gtd/domain"
)

// Store keeps every task in memory. Update serializes writers with one mutex,
// so a transaction observes no concurrent commits.
type Store struct {
	mu       sync.RWMutex
	tasks    map[string]domain.Task
	settings map[string]domain.Settings

	path string
	lock *flock.Flock
}

// New returns an empty store without persistence.
func New() *Store {
	return &Store{
		tasks:    map[string]domain.Task{},
		settings: map[string]domain.Settings{},
	}
}

// Open loads the snapshot at path, if present, and persists every commit back
// to it. The file is guarded by a sibling lock file so two processes never
// write it at once.
func Open(path string) (*Store, error) {
	s := New()
	s.path = path
	s.lock = flock.New(path + ".lock")
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// GetTask returns a copy of the task or nil when absent or foreign.
func (s *Store) GetTask(ctx context.Context, ownerID, taskID string) (*domain.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[taskID]
	if !ok || t.OwnerID != ownerID {
		return nil, nil
	}
	c := t.Clone()
	return &c, nil
}

// FindTasks returns copies of the matching tasks ordered by id.
func (s *Store) FindTasks(ctx context.Context, q domain.TaskQuery) ([]domain.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if q.OwnerID == "" {
		return nil, errors.New("memory: query without owner")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return collect(s.tasks, nil, q), nil
}

// Update runs fn against a private overlay and merges it on success.
func (s *Store) Update(ctx context.Context, ownerID string, fn func(tx domain.Tx) error) error {
	if ownerID == "" {
		return errors.New("memory: update without owner")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{store: s, owner: ownerID, staged: map[string]domain.Task{}}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(tx.staged) == 0 {
		return nil
	}
	next := make(map[string]domain.Task, len(s.tasks)+len(tx.staged))
	for id, t := range s.tasks {
		next[id] = t
	}
	for id, t := range tx.staged {
		next[id] = t
	}
	if err := s.persist(next, s.settings); err != nil {
		return err
	}
	s.tasks = next
	return nil
}

// GetSettings returns stored settings or the zero value.
func (s *Store) GetSettings(ctx context.Context, ownerID string) (domain.Settings, error) {
	if err := ctx.Err(); err != nil {
		return domain.Settings{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings[ownerID], nil
}

func (s *Store) SaveSettings(ctx context.Context, ownerID string, st domain.Settings) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	next := make(map[string]domain.Settings, len(s.settings)+1)
	for k, v := range s.settings {
		next[k] = v
	}
	next[ownerID] = st
	if err := s.persist(s.tasks, next); err != nil {
		return err
	}
	s.settings = next
	return nil
}

func collect(base, staged map[string]domain.Task, q domain.TaskQuery) []domain.Task {
	out := []domain.Task{}
	for id, t := range base {
		if _, over := staged[id]; over {
			continue
		}
		if q.Matches(t) {
			out = append(out, t.Clone())
		}
	}
	for _, t := range staged {
		if q.Matches(t) {
			out = append(out, t.Clone())
		}
	}
	slices.SortFunc(out, func(a, b domain.Task) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

type memTx struct {
	store  *Store
	owner  string
	staged map[string]domain.Task
}

func (tx *memTx) lookup(id string) (domain.Task, bool) {
	if t, ok := tx.staged[id]; ok {
		return t, true
	}
	t, ok := tx.store.tasks[id]
	return t, ok
}

func (tx *memTx) GetTask(ctx context.Context, taskID string) (*domain.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t, ok := tx.lookup(taskID)
	if !ok || t.OwnerID != tx.owner {
		return nil, nil
	}
	c := t.Clone()
	return &c, nil
}

func (tx *memTx) FindTasks(ctx context.Context, q domain.TaskQuery) ([]domain.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q.OwnerID = tx.owner
	return collect(tx.store.tasks, tx.staged, q), nil
}

func (tx *memTx) MinSortOrder(ctx context.Context, list domain.SystemList) (int, bool, error) {
	tasks, err := tx.FindTasks(ctx, domain.TaskQuery{List: list})
	if err != nil || len(tasks) == 0 {
		return 0, false, err
	}
	lowest := tasks[0].SortOrder
	for _, t := range tasks[1:] {
		lowest = min(lowest, t.SortOrder)
	}
	return lowest, true, nil
}

func (tx *memTx) InsertTask(ctx context.Context, t domain.Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.OwnerID != tx.owner {
		return fmt.Errorf("memory: task %s owned by %q inserted in transaction of %q", t.ID, t.OwnerID, tx.owner)
	}
	if _, exists := tx.lookup(t.ID); exists {
		return fmt.Errorf("memory: task %s already exists: %w", t.ID, domain.ErrConcurrencyConflict)
	}
	tx.staged[t.ID] = t.Clone()
	return nil
}

func (tx *memTx) SaveTask(ctx context.Context, t domain.Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cur, ok := tx.lookup(t.ID)
	if !ok || cur.OwnerID != tx.owner || t.OwnerID != tx.owner {
		return domain.ErrNotFound
	}
	tx.staged[t.ID] = t.Clone()
	return nil
}

type snapshot struct {
	Tasks    []taskRecord               `yaml:"tasks"`
	Settings map[string]domain.Settings `yaml:"settings,omitempty"`
}

func (s *Store) load() error {
	if err := s.lock.RLock(); err != nil {
		return fmt.Errorf("memory: lock %s: %w", s.path, err)
	}
	defer s.lock.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	var snap snapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("memory: decode %s: %w", s.path, err)
	}
	for _, r := range snap.Tasks {
		t := r.task()
		s.tasks[t.ID] = t
	}
	for k, v := range snap.Settings {
		s.settings[k] = v
	}
	log.WithFields(log.Fields{"path": s.path, "tasks": len(s.tasks)}).Info("loaded task snapshot")
	return nil
}

func (s *Store) persist(tasks map[string]domain.Task, settings map[string]domain.Settings) error {
	if s.path == "" {
		return nil
	}
	snap := snapshot{Tasks: make([]taskRecord, 0, len(tasks)), Settings: settings}
	for _, t := range tasks {
		snap.Tasks = append(snap.Tasks, recordOf(t))
	}
	slices.SortFunc(snap.Tasks, func(a, b taskRecord) int { return cmp.Compare(a.ID, b.ID) })
	data, err := yaml.Marshal(snap)
	if err != nil {
		return err
	}

	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("memory: lock %s: %w", s.path, err)
	}
	defer s.lock.Unlock()

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}
