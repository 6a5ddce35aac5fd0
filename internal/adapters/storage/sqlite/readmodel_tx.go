package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hylla/strom/internal/readmodel"
)

// rmTx implements readmodel.Tx over one sql transaction.
type rmTx struct {
	tx  *sql.Tx
	now func() time.Time
}

var _ readmodel.Tx = (*rmTx)(nil)

const (
	selectProjects = `SELECT id, name, owner_id, task_board_id, total_members_count, revision, updated_at FROM rm_projects`
	selectMembers  = `SELECT id, user_id, role, project_id, revision, updated_at FROM rm_members`
	selectTasks    = `SELECT id, title, description, status, assignee_id, task_board_id, revision, updated_at FROM rm_tasks`
	selectUsers    = `SELECT id, email, role, revision, updated_at FROM rm_users`
)

// InsertProject inserts p unless a document with its id exists.
func (t *rmTx) InsertProject(ctx context.Context, p readmodel.Project) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO rm_projects(id, name, owner_id, task_board_id, total_members_count, revision, updated_at)
		VALUES(?, ?, ?, ?, ?, ?, ?) ON CONFLICT(id) DO NOTHING
	`, p.ID, p.Name, p.OwnerID, p.TaskBoardID, p.TotalMembersCount, int64(p.Revision), ts(p.UpdatedAt))
	return wrapWrite("insert project", err)
}

// GetProject reads one project inside the transaction.
func (t *rmTx) GetProject(ctx context.Context, id string) (readmodel.Project, error) {
	return getProject(ctx, t.tx, id)
}

// UpdateProject writes p when the stored revision equals expected.
func (t *rmTx) UpdateProject(ctx context.Context, p readmodel.Project, expected uint64) (bool, error) {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE rm_projects SET name = ?, owner_id = ?, task_board_id = ?, total_members_count = ?, revision = ?, updated_at = ?
		WHERE id = ? AND revision = ?
	`, p.Name, p.OwnerID, p.TaskBoardID, p.TotalMembersCount, int64(p.Revision), ts(p.UpdatedAt), p.ID, int64(expected))
	if err != nil {
		return false, wrapWrite("update project", err)
	}
	return affected(res)
}

// InsertMember inserts m unless a document with its id exists.
func (t *rmTx) InsertMember(ctx context.Context, m readmodel.Member) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO rm_members(id, user_id, role, project_id, revision, updated_at)
		VALUES(?, ?, ?, ?, ?, ?) ON CONFLICT(id) DO NOTHING
	`, m.ID, m.UserID, m.Role, m.ProjectID, int64(m.Revision), ts(m.UpdatedAt))
	return wrapWrite("insert member", err)
}

// GetMember reads one member inside the transaction.
func (t *rmTx) GetMember(ctx context.Context, id string) (readmodel.Member, error) {
	return getMember(ctx, t.tx, id)
}

// UpdateMember writes the member-stream fields of m when the stored revision equals expected.
func (t *rmTx) UpdateMember(ctx context.Context, m readmodel.Member, expected uint64) (bool, error) {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE rm_members SET user_id = ?, role = ?, revision = ?, updated_at = ?
		WHERE id = ? AND revision = ?
	`, m.UserID, m.Role, int64(m.Revision), ts(m.UpdatedAt), m.ID, int64(expected))
	if err != nil {
		return false, wrapWrite("update member", err)
	}
	return affected(res)
}

// SetMemberProject sets or clears the owning project of a member.
func (t *rmTx) SetMemberProject(ctx context.Context, memberID, projectID string, at time.Time) (bool, error) {
	res, err := t.tx.ExecContext(ctx, `UPDATE rm_members SET project_id = ?, updated_at = ? WHERE id = ?`, projectID, ts(at), memberID)
	if err != nil {
		return false, wrapWrite("set member project", err)
	}
	return affected(res)
}

// InsertTask inserts task unless a document with its id exists.
func (t *rmTx) InsertTask(ctx context.Context, task readmodel.Task) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO rm_tasks(id, title, description, status, assignee_id, task_board_id, revision, updated_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT(id) DO NOTHING
	`, task.ID, task.Title, task.Description, task.Status, task.AssigneeID, task.TaskBoardID, int64(task.Revision), ts(task.UpdatedAt))
	return wrapWrite("insert task", err)
}

// GetTask reads one task inside the transaction.
func (t *rmTx) GetTask(ctx context.Context, id string) (readmodel.Task, error) {
	return getTask(ctx, t.tx, id)
}

// UpdateTask writes the task-stream fields when the stored revision equals expected.
func (t *rmTx) UpdateTask(ctx context.Context, task readmodel.Task, expected uint64) (bool, error) {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE rm_tasks SET title = ?, description = ?, status = ?, assignee_id = ?, revision = ?, updated_at = ?
		WHERE id = ? AND revision = ?
	`, task.Title, task.Description, task.Status, task.AssigneeID, int64(task.Revision), ts(task.UpdatedAt), task.ID, int64(expected))
	if err != nil {
		return false, wrapWrite("update task", err)
	}
	return affected(res)
}

// SetTaskBoard sets or clears the board of a task.
func (t *rmTx) SetTaskBoard(ctx context.Context, taskID, taskBoardID string, at time.Time) (bool, error) {
	res, err := t.tx.ExecContext(ctx, `UPDATE rm_tasks SET task_board_id = ?, updated_at = ? WHERE id = ?`, taskBoardID, ts(at), taskID)
	if err != nil {
		return false, wrapWrite("set task board", err)
	}
	return affected(res)
}

// InsertUser inserts u unless a document with its id exists.
func (t *rmTx) InsertUser(ctx context.Context, u readmodel.User) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO rm_users(id, email, role, revision, updated_at)
		VALUES(?, ?, ?, ?, ?) ON CONFLICT(id) DO NOTHING
	`, u.ID, u.Email, u.Role, int64(u.Revision), ts(u.UpdatedAt))
	return wrapWrite("insert user", err)
}

// GetUser reads one user inside the transaction.
func (t *rmTx) GetUser(ctx context.Context, id string) (readmodel.User, error) {
	return getUser(ctx, t.tx, id)
}

// UpdateUser writes u when the stored revision equals expected.
func (t *rmTx) UpdateUser(ctx context.Context, u readmodel.User, expected uint64) (bool, error) {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE rm_users SET email = ?, role = ?, revision = ?, updated_at = ?
		WHERE id = ? AND revision = ?
	`, u.Email, u.Role, int64(u.Revision), ts(u.UpdatedAt), u.ID, int64(expected))
	if err != nil {
		return false, wrapWrite("update user", err)
	}
	return affected(res)
}

// EnqueueOutbox stores msg once per event id.
func (t *rmTx) EnqueueOutbox(ctx context.Context, msg readmodel.OutboxMessage) error {
	createdAt := msg.CreatedAt
	if createdAt.IsZero() {
		createdAt = t.now()
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO outbox(event_id, topic, body, position, created_at)
		VALUES(?, ?, ?, ?, ?) ON CONFLICT(event_id) DO NOTHING
	`, msg.EventID, msg.Topic, msg.Body, int64(msg.Position), ts(createdAt))
	return wrapWrite("enqueue outbox", err)
}

func wrapWrite(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, classify(err))
}

func getProject(ctx context.Context, q queryRower, id string) (readmodel.Project, error) {
	p, err := scanProject(q.QueryRowContext(ctx, selectProjects+` WHERE id = ?`, id))
	return p, translateNoRows(err)
}

func getMember(ctx context.Context, q queryRower, id string) (readmodel.Member, error) {
	m, err := scanMember(q.QueryRowContext(ctx, selectMembers+` WHERE id = ?`, id))
	return m, translateNoRows(err)
}

func getTask(ctx context.Context, q queryRower, id string) (readmodel.Task, error) {
	task, err := scanTask(q.QueryRowContext(ctx, selectTasks+` WHERE id = ?`, id))
	return task, translateNoRows(err)
}

func getUser(ctx context.Context, q queryRower, id string) (readmodel.User, error) {
	u, err := scanUser(q.QueryRowContext(ctx, selectUsers+` WHERE id = ?`, id))
	return u, translateNoRows(err)
}

// translateNoRows maps sql.ErrNoRows to readmodel.ErrNotFound.
func translateNoRows(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return readmodel.ErrNotFound
	default:
		return classify(err)
	}
}

func scanProject(s scanner) (readmodel.Project, error) {
	var (
		p         readmodel.Project
		revision  int64
		updatedAt string
	)
	if err := s.Scan(&p.ID, &p.Name, &p.OwnerID, &p.TaskBoardID, &p.TotalMembersCount, &revision, &updatedAt); err != nil {
		return readmodel.Project{}, err
	}
	p.Revision = uint64(revision)
	p.UpdatedAt = parseTS(updatedAt)
	return p, nil
}

func scanMember(s scanner) (readmodel.Member, error) {
	var (
		m         readmodel.Member
		revision  int64
		updatedAt string
	)
	if err := s.Scan(&m.ID, &m.UserID, &m.Role, &m.ProjectID, &revision, &updatedAt); err != nil {
		return readmodel.Member{}, err
	}
	m.Revision = uint64(revision)
	m.UpdatedAt = parseTS(updatedAt)
	return m, nil
}

func scanTask(s scanner) (readmodel.Task, error) {
	var (
		task      readmodel.Task
		revision  int64
		updatedAt string
	)
	if err := s.Scan(&task.ID, &task.Title, &task.Description, &task.Status, &task.AssigneeID, &task.TaskBoardID, &revision, &updatedAt); err != nil {
		return readmodel.Task{}, err
	}
	task.Revision = uint64(revision)
	task.UpdatedAt = parseTS(updatedAt)
	return task, nil
}

func scanUser(s scanner) (readmodel.User, error) {
	var (
		u         readmodel.User
		revision  int64
		updatedAt string
	)
	if err := s.Scan(&u.ID, &u.Email, &u.Role, &revision, &updatedAt); err != nil {
		return readmodel.User{}, err
	}
	u.Revision = uint64(revision)
	u.UpdatedAt = parseTS(updatedAt)
	return u, nil
}
