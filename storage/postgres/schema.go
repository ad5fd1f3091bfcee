package postgres

import "context"

// schema is applied in order by Migrate. Every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS tasks (
	id           text PRIMARY KEY,
	owner_id     text NOT NULL,
	name         text NOT NULL CHECK (btrim(name) <> ''),
	description  text NOT NULL DEFAULT '',
	due_date     timestamptz,
	priority     smallint NOT NULL DEFAULT 0 CHECK (priority BETWEEN 0 AND 4),
	status       text NOT NULL CHECK (status IN ('open', 'done')),
	system_list  text NOT NULL CHECK (system_list IN ('inbox', 'next', 'someday')),
	sort_order   integer NOT NULL,
	project_id   text,
	is_archived  boolean NOT NULL DEFAULT false,
	completed_at timestamptz,
	created_at   timestamptz NOT NULL,
	updated_at   timestamptz NOT NULL,
	CONSTRAINT tasks_completed_at_matches_status CHECK ((status = 'done') = (completed_at IS NOT NULL)),
	CONSTRAINT tasks_archived_matches_status CHECK ((status = 'done') = is_archived)
)`,
	`CREATE INDEX IF NOT EXISTS tasks_owner_idx ON tasks (owner_id)`,
	// Sort orders are unique among open tasks of a list. A partial unique
	// index cannot be deferred, so an exclusion constraint carries it; its
	// index also serves list reads.
	`ALTER TABLE tasks DROP CONSTRAINT IF EXISTS tasks_list_sort_order_key`,
	`DROP INDEX IF EXISTS tasks_open_list_idx`,
	`DO $$
BEGIN
	IF NOT EXISTS (SELECT 1 FROM pg_constraint WHERE conname = 'tasks_open_sort_order_excl') THEN
		ALTER TABLE tasks ADD CONSTRAINT tasks_open_sort_order_excl
			EXCLUDE USING btree (owner_id WITH =, system_list WITH =, sort_order WITH =)
			WHERE (status = 'open' AND NOT is_archived)
			DEFERRABLE INITIALLY DEFERRED;
	END IF;
END
$$`,
	`CREATE INDEX IF NOT EXISTS tasks_project_idx ON tasks (owner_id, project_id) WHERE project_id IS NOT NULL`,
	`CREATE INDEX IF NOT EXISTS tasks_due_idx ON tasks (owner_id, due_date)
	WHERE due_date IS NOT NULL AND status = 'open' AND NOT is_archived`,
	`CREATE INDEX IF NOT EXISTS tasks_completed_idx ON tasks (owner_id, completed_at DESC) WHERE is_archived`,
	`CREATE TABLE IF NOT EXISTS task_labels (
	task_id  text NOT NULL REFERENCES tasks (id) ON DELETE CASCADE,
	label_id text NOT NULL,
	PRIMARY KEY (task_id, label_id)
)`,
	`CREATE INDEX IF NOT EXISTS task_labels_label_idx ON task_labels (label_id)`,
	`CREATE TABLE IF NOT EXISTS user_settings (
	owner_id              text PRIMARY KEY,
	upcoming_horizon_days integer NOT NULL DEFAULT 0,
	page_size             integer NOT NULL DEFAULT 0
)`,
}

// Migrate creates the tables and indexes the store relies on.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
