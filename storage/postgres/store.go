// Package postgres stores tasks in PostgreSQL. Writers of one owner are
// serialized with a transaction scoped advisory lock, and sort order
// uniqueness among the open tasks of a list is a deferred exclusion
// constraint checked at commit.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/lib/pq"
	log "github.com/sirupsen/logrus"

	"prism-gtd/domain"
)

const taskColumns = `t.id, t.owner_id, t.name, t.description, t.due_date, t.priority, t.status,
	t.system_list, t.sort_order, t.project_id, t.is_archived, t.completed_at, t.created_at, t.updated_at,
	COALESCE(ARRAY(SELECT l.label_id FROM task_labels l WHERE l.task_id = t.id ORDER BY l.label_id), '{}') AS label_ids`

var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is a domain.TaskStore and domain.SettingsStore over database/sql.
type Store struct {
	db *sql.DB
}

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	log.Info("connected to postgres")
	return New(db), nil
}

func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) GetTask(ctx context.Context, ownerID, taskID string) (*domain.Task, error) {
	return getTask(ctx, s.db, ownerID, taskID)
}

func (s *Store) FindTasks(ctx context.Context, q domain.TaskQuery) ([]domain.Task, error) {
	if q.OwnerID == "" {
		return nil, errors.New("postgres: query without owner")
	}
	return findTasks(ctx, s.db, q)
}

// Update runs fn inside one database transaction holding the owner's lock.
func (s *Store) Update(ctx context.Context, ownerID string, fn func(tx domain.Tx) error) (err error) {
	if ownerID == "" {
		return errors.New("postgres: update without owner")
	}
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = sqlTx.Rollback()
		}
	}()

	if _, err = sqlTx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, ownerID); err != nil {
		return err
	}
	if err = fn(&pgTx{q: sqlTx, owner: ownerID}); err != nil {
		return err
	}
	if err = ctx.Err(); err != nil {
		return err
	}
	if err = sqlTx.Commit(); err != nil {
		return translate(err)
	}
	return nil
}

func (s *Store) GetSettings(ctx context.Context, ownerID string) (domain.Settings, error) {
	query, args, err := psql.Select("upcoming_horizon_days", "page_size").
		From("user_settings").
		Where(squirrel.Eq{"owner_id": ownerID}).
		ToSql()
	if err != nil {
		return domain.Settings{}, err
	}
	var st domain.Settings
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&st.UpcomingHorizonDays, &st.PageSize)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Settings{}, nil
	}
	return st, err
}

func (s *Store) SaveSettings(ctx context.Context, ownerID string, st domain.Settings) error {
	query, args, err := psql.Insert("user_settings").
		Columns("owner_id", "upcoming_horizon_days", "page_size").
		Values(ownerID, st.UpcomingHorizonDays, st.PageSize).
		Suffix("ON CONFLICT (owner_id) DO UPDATE SET upcoming_horizon_days = EXCLUDED.upcoming_horizon_days, page_size = EXCLUDED.page_size").
		ToSql()
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, query, args...)
	return err
}

// selectTasks builds the task query. Every constraint of q is pushed down.
func selectTasks(q domain.TaskQuery) squirrel.SelectBuilder {
	b := psql.Select(taskColumns).From("tasks t").Where(squirrel.Eq{"t.owner_id": q.OwnerID})
	if q.List != "" {
		b = b.Where(squirrel.Eq{"t.system_list": string(q.List)})
	}
	if q.ProjectID != "" {
		b = b.Where(squirrel.Eq{"t.project_id": q.ProjectID})
	}
	if q.Status != "" {
		b = b.Where(squirrel.Eq{"t.status": string(q.Status)})
	}
	if q.Archived != nil {
		b = b.Where(squirrel.Eq{"t.is_archived": *q.Archived})
	}
	if q.DueBefore != nil {
		b = b.Where(squirrel.LtOrEq{"t.due_date": q.DueBefore.UTC()})
	}
	if q.LabelID != "" {
		b = b.Where("EXISTS (SELECT 1 FROM task_labels tl WHERE tl.task_id = t.id AND tl.label_id = ?)", q.LabelID)
	}
	return b.OrderBy("t.id")
}

func getTask(ctx context.Context, db querier, ownerID, taskID string) (*domain.Task, error) {
	query, args, err := psql.Select(taskColumns).
		From("tasks t").
		Where(squirrel.Eq{"t.id": taskID, "t.owner_id": ownerID}).
		ToSql()
	if err != nil {
		return nil, err
	}
	t, err := scanTask(db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func findTasks(ctx context.Context, db querier, q domain.TaskQuery) ([]domain.Task, error) {
	query, args, err := selectTasks(q).ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	tasks := []domain.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (domain.Task, error) {
	var (
		t         domain.Task
		due, done sql.NullTime
		project   sql.NullString
		priority  int
		status    string
		list      string
		labels    []string
		createdAt time.Time
		updatedAt time.Time
	)
	err := row.Scan(&t.ID, &t.OwnerID, &t.Name, &t.Description, &due, &priority, &status,
		&list, &t.SortOrder, &project, &t.Archived, &done, &createdAt, &updatedAt, pq.Array(&labels))
	if err != nil {
		return domain.Task{}, err
	}
	t.Priority = domain.Priority(priority)
	t.Status = domain.Status(status)
	t.List = domain.SystemList(list)
	t.ProjectID = project.String
	t.DueDate = utcTime(due)
	t.CompletedAt = utcTime(done)
	t.CreatedAt = createdAt.UTC()
	t.UpdatedAt = updatedAt.UTC()
	if len(labels) > 0 {
		t.LabelIDs = labels
	}
	return t, nil
}

func utcTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// translate maps constraint races to the domain conflict sentinel.
func translate(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505", "23P01", "40001", "40P01":
			return fmt.Errorf("%w: %s", domain.ErrConcurrencyConflict, pqErr.Message)
		}
	}
	return err
}
