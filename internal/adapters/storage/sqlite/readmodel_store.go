package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hylla/strom/internal/readmodel"
)

// readModelSchema holds documents, checkpoints, the outbox and the inbox.
var readModelSchema = []string{
	`CREATE TABLE IF NOT EXISTS rm_projects (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		owner_id TEXT NOT NULL,
		task_board_id TEXT NOT NULL,
		total_members_count INTEGER NOT NULL DEFAULT 0,
		revision INTEGER NOT NULL,
		updated_at TEXT NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS rm_members (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		role TEXT NOT NULL,
		project_id TEXT NOT NULL DEFAULT '',
		revision INTEGER NOT NULL,
		updated_at TEXT NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_rm_members_project ON rm_members(project_id);`,
	`CREATE TABLE IF NOT EXISTS rm_tasks (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		assignee_id TEXT NOT NULL DEFAULT '',
		task_board_id TEXT NOT NULL DEFAULT '',
		revision INTEGER NOT NULL,
		updated_at TEXT NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_rm_tasks_assignee ON rm_tasks(assignee_id);`,
	`CREATE INDEX IF NOT EXISTS idx_rm_tasks_board ON rm_tasks(task_board_id);`,
	`CREATE TABLE IF NOT EXISTS rm_users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL,
		role TEXT NOT NULL,
		revision INTEGER NOT NULL,
		updated_at TEXT NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS checkpoints (
		subscription TEXT PRIMARY KEY,
		position INTEGER NOT NULL,
		updated_at TEXT NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS outbox (
		event_id TEXT PRIMARY KEY,
		topic TEXT NOT NULL,
		body BLOB NOT NULL,
		position INTEGER NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		last_error TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		last_attempt_at TEXT,
		published_at TEXT
	);`,
	`CREATE INDEX IF NOT EXISTS idx_outbox_pending ON outbox(published_at, position);`,
	`CREATE TABLE IF NOT EXISTS inbox (
		consumer TEXT NOT NULL,
		message_id TEXT NOT NULL,
		processed_at TEXT NOT NULL,
		PRIMARY KEY(consumer, message_id)
	);`,
}

// resetTables are cleared by Reset. The outbox and the inbox survive a rebuild:
// replayed public events hit the existing outbox rows and keep their publish state.
var resetTables = []string{"rm_projects", "rm_members", "rm_tasks", "rm_users", "checkpoints"}

// ReadModelStore is the sqlite read-model database.
type ReadModelStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenReadModelStore opens (and migrates) the read-model database at path.
func OpenReadModelStore(path string) (*ReadModelStore, error) {
	db, err := openDB(context.Background(), path, readModelSchema)
	if err != nil {
		return nil, err
	}
	return &ReadModelStore{db: db, now: time.Now}, nil
}

// Close closes the underlying database.
func (s *ReadModelStore) Close() error {
	return s.db.Close()
}

// WithinTx runs fn and stores the checkpoint in the same transaction.
func (s *ReadModelStore) WithinTx(ctx context.Context, subscription string, position uint64, fn func(readmodel.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin projection tx: %w", classify(err))
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&rmTx{tx: tx, now: s.now}); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO checkpoints(subscription, position, updated_at) VALUES(?, ?, ?)
		ON CONFLICT(subscription) DO UPDATE SET position = excluded.position, updated_at = excluded.updated_at
	`, subscription, int64(position), ts(s.now()))
	if err != nil {
		return fmt.Errorf("save checkpoint %s: %w", subscription, classify(err))
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit projection tx: %w", classify(err))
	}
	return nil
}

// Checkpoint returns the stored position of subscription, or 0 when none exists.
func (s *ReadModelStore) Checkpoint(ctx context.Context, subscription string) (uint64, error) {
	var position int64
	err := s.db.QueryRowContext(ctx, `SELECT position FROM checkpoints WHERE subscription = ?`, subscription).Scan(&position)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read checkpoint %s: %w", subscription, classify(err))
	}
	return uint64(position), nil
}

// Reset clears every document and checkpoint.
func (s *ReadModelStore) Reset(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reset tx: %w", classify(err))
	}
	defer func() { _ = tx.Rollback() }()
	for _, table := range resetTables {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
			return fmt.Errorf("reset %s: %w", table, classify(err))
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reset: %w", classify(err))
	}
	return nil
}

// GetProject returns one project document.
func (s *ReadModelStore) GetProject(ctx context.Context, id string) (readmodel.Project, error) {
	return getProject(ctx, s.db, id)
}

// GetMember returns one member document.
func (s *ReadModelStore) GetMember(ctx context.Context, id string) (readmodel.Member, error) {
	return getMember(ctx, s.db, id)
}

// GetTask returns one task document.
func (s *ReadModelStore) GetTask(ctx context.Context, id string) (readmodel.Task, error) {
	return getTask(ctx, s.db, id)
}

// GetUser returns one user document.
func (s *ReadModelStore) GetUser(ctx context.Context, id string) (readmodel.User, error) {
	return getUser(ctx, s.db, id)
}

// ListMembersByProject returns the members attached to a project.
func (s *ReadModelStore) ListMembersByProject(ctx context.Context, projectID string) ([]readmodel.Member, error) {
	rows, err := s.db.QueryContext(ctx, selectMembers+` WHERE project_id = ? ORDER BY id`, projectID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	out := make([]readmodel.Member, 0)
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ListTasksByAssignee returns the tasks currently assigned to assigneeID.
func (s *ReadModelStore) ListTasksByAssignee(ctx context.Context, assigneeID string) ([]readmodel.Task, error) {
	return s.listTasks(ctx, `assignee_id`, assigneeID)
}

// ListTasksByBoard returns the tasks on one board.
func (s *ReadModelStore) ListTasksByBoard(ctx context.Context, taskBoardID string) ([]readmodel.Task, error) {
	return s.listTasks(ctx, `task_board_id`, taskBoardID)
}

func (s *ReadModelStore) listTasks(ctx context.Context, column, value string) ([]readmodel.Task, error) {
	if value == "" {
		return []readmodel.Task{}, nil
	}
	rows, err := s.db.QueryContext(ctx, selectTasks+` WHERE `+column+` = ? ORDER BY id`, value)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	out := make([]readmodel.Task, 0)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// PendingOutbox returns unpublished messages in feed order.
func (s *ReadModelStore) PendingOutbox(ctx context.Context, limit int) ([]readmodel.OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, topic, body, position, attempts, last_error, created_at
		FROM outbox WHERE published_at IS NULL ORDER BY position ASC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("read outbox: %w", classify(err))
	}
	defer rows.Close()
	out := make([]readmodel.OutboxMessage, 0)
	for rows.Next() {
		var (
			msg       readmodel.OutboxMessage
			position  int64
			createdAt string
		)
		if err := rows.Scan(&msg.EventID, &msg.Topic, &msg.Body, &position, &msg.Attempts, &msg.LastError, &createdAt); err != nil {
			return nil, err
		}
		msg.Position = uint64(position)
		msg.CreatedAt = parseTS(createdAt)
		out = append(out, msg)
	}
	return out, rows.Err()
}

// CountPendingOutbox reports how many messages still wait for the relay.
func (s *ReadModelStore) CountPendingOutbox(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM outbox WHERE published_at IS NULL`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count outbox: %w", classify(err))
	}
	return n, nil
}

// RequeueOutbox returns every published message to the pending state so the
// relay sends it again.
func (s *ReadModelStore) RequeueOutbox(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE outbox SET published_at = NULL, last_error = '' WHERE published_at IS NOT NULL`)
	if err != nil {
		return 0, fmt.Errorf("requeue outbox: %w", classify(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("requeue outbox: %w", err)
	}
	return int(n), nil
}

// MarkOutboxPublished records a successful publish.
func (s *ReadModelStore) MarkOutboxPublished(ctx context.Context, eventID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE outbox SET published_at = ?, last_attempt_at = ?, attempts = attempts + 1, last_error = '' WHERE event_id = ?`, ts(at), ts(at), eventID)
	if err != nil {
		return fmt.Errorf("mark outbox published: %w", classify(err))
	}
	return requireRow(res)
}

// MarkOutboxFailed records a failed publish attempt; the row stays pending.
func (s *ReadModelStore) MarkOutboxFailed(ctx context.Context, eventID string, cause string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE outbox SET attempts = attempts + 1, last_error = ?, last_attempt_at = ? WHERE event_id = ?`, cause, ts(at), eventID)
	if err != nil {
		return fmt.Errorf("mark outbox failed: %w", classify(err))
	}
	return requireRow(res)
}

// Seen reports whether consumer already processed messageID.
func (s *ReadModelStore) Seen(ctx context.Context, consumer, messageID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM inbox WHERE consumer = ? AND message_id = ?`, consumer, messageID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read inbox: %w", classify(err))
	}
	return true, nil
}

// MarkProcessed records messageID as processed by consumer.
func (s *ReadModelStore) MarkProcessed(ctx context.Context, consumer, messageID string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO inbox(consumer, message_id, processed_at) VALUES(?, ?, ?) ON CONFLICT DO NOTHING`,
		consumer, messageID, ts(s.now()))
	if err != nil {
		return fmt.Errorf("write inbox: %w", classify(err))
	}
	return nil
}

func requireRow(res sql.Result) error {
	ok, err := affected(res)
	if err != nil {
		return err
	}
	if !ok {
		return readmodel.ErrNotFound
	}
	return nil
}

var (
	_ readmodel.Store  = (*ReadModelStore)(nil)
	_ readmodel.Reader = (*ReadModelStore)(nil)
	_ readmodel.Outbox = (*ReadModelStore)(nil)
)
