package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Masterminds/squirrel"

	"prism-gtd/domain"
)

type pgTx struct {
	q     querier
	owner string
}

func (tx *pgTx) GetTask(ctx context.Context, taskID string) (*domain.Task, error) {
	return getTask(ctx, tx.q, tx.owner, taskID)
}

func (tx *pgTx) FindTasks(ctx context.Context, q domain.TaskQuery) ([]domain.Task, error) {
	q.OwnerID = tx.owner
	return findTasks(ctx, tx.q, q)
}

func (tx *pgTx) MinSortOrder(ctx context.Context, list domain.SystemList) (int, bool, error) {
	query, args, err := psql.Select("MIN(sort_order)").
		From("tasks").
		Where(squirrel.Eq{"owner_id": tx.owner, "system_list": string(list)}).
		ToSql()
	if err != nil {
		return 0, false, err
	}
	var lowest sql.NullInt64
	if err := tx.q.QueryRowContext(ctx, query, args...).Scan(&lowest); err != nil {
		return 0, false, err
	}
	return int(lowest.Int64), lowest.Valid, nil
}

func (tx *pgTx) InsertTask(ctx context.Context, t domain.Task) error {
	if t.OwnerID != tx.owner {
		return fmt.Errorf("postgres: task %s owned by %q inserted in transaction of %q", t.ID, t.OwnerID, tx.owner)
	}
	query, args, err := psql.Insert("tasks").
		Columns("id", "owner_id", "name", "description", "due_date", "priority", "status",
			"system_list", "sort_order", "project_id", "is_archived", "completed_at", "created_at", "updated_at").
		Values(t.ID, t.OwnerID, t.Name, t.Description, nullTime(t.DueDate), int(t.Priority), string(t.Status),
			string(t.List), t.SortOrder, nullString(t.ProjectID), t.Archived, nullTime(t.CompletedAt),
			t.CreatedAt.UTC(), t.UpdatedAt.UTC()).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := tx.q.ExecContext(ctx, query, args...); err != nil {
		return translate(err)
	}
	return tx.insertLabels(ctx, t.ID, t.LabelIDs)
}

func (tx *pgTx) SaveTask(ctx context.Context, t domain.Task) error {
	if t.OwnerID != tx.owner {
		return domain.ErrNotFound
	}
	query, args, err := psql.Update("tasks").
		Set("name", t.Name).
		Set("description", t.Description).
		Set("due_date", nullTime(t.DueDate)).
		Set("priority", int(t.Priority)).
		Set("status", string(t.Status)).
		Set("system_list", string(t.List)).
		Set("sort_order", t.SortOrder).
		Set("project_id", nullString(t.ProjectID)).
		Set("is_archived", t.Archived).
		Set("completed_at", nullTime(t.CompletedAt)).
		Set("updated_at", t.UpdatedAt.UTC()).
		Where(squirrel.Eq{"id": t.ID, "owner_id": tx.owner}).
		ToSql()
	if err != nil {
		return err
	}
	res, err := tx.q.ExecContext(ctx, query, args...)
	if err != nil {
		return translate(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}

	del, delArgs, err := psql.Delete("task_labels").Where(squirrel.Eq{"task_id": t.ID}).ToSql()
	if err != nil {
		return err
	}
	if _, err := tx.q.ExecContext(ctx, del, delArgs...); err != nil {
		return err
	}
	return tx.insertLabels(ctx, t.ID, t.LabelIDs)
}

func (tx *pgTx) insertLabels(ctx context.Context, taskID string, labels []string) error {
	if len(labels) == 0 {
		return nil
	}
	b := psql.Insert("task_labels").Columns("task_id", "label_id")
	for _, l := range labels {
		b = b.Values(taskID, l)
	}
	query, args, err := b.Suffix("ON CONFLICT DO NOTHING").ToSql()
	if err != nil {
		return err
	}
	_, err = tx.q.ExecContext(ctx, query, args...)
	return err
}
