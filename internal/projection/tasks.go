package projection

import (
	"context"

	"github.com/hylla/strom/internal/domain"
	"github.com/hylla/strom/internal/readmodel"
)

// TaskView maintains task documents and their board placement.
type TaskView struct{}

// Name returns the projection name.
func (TaskView) Name() string { return "task-view" }

// Apply projects one task or task-board event.
func (TaskView) Apply(ctx context.Context, tx readmodel.Tx, event domain.RecordedEvent) error {
	at := event.Metadata.CreatedAt
	switch ev := event.Data.(type) {
	case domain.TaskCreated:
		return tx.InsertTask(ctx, readmodel.Task{
			ID:          ev.TaskID,
			Title:       ev.Title,
			Description: ev.Description,
			Status:      string(ev.Status),
			AssigneeID:  ev.AssigneeID,
			Revision:    event.Revision,
			UpdatedAt:   at,
		})
	case domain.TaskStatusChanged:
		return updateTask(ctx, tx, ev.TaskID, event, func(t *readmodel.Task) {
			t.Status = string(ev.Status)
		})
	case domain.TaskAssigneeChanged:
		return updateTask(ctx, tx, ev.TaskID, event, func(t *readmodel.Task) {
			t.AssigneeID = ev.AssigneeID
		})
	case domain.TaskAdded:
		ok, err := tx.SetTaskBoard(ctx, ev.TaskID, ev.TaskBoardID, at)
		return placed(ev.TaskID, ok, err)
	case domain.TaskRemoved:
		ok, err := tx.SetTaskBoard(ctx, ev.TaskID, "", at)
		return placed(ev.TaskID, ok, err)
	default:
		return nil
	}
}

func updateTask(ctx context.Context, tx readmodel.Tx, id string, event domain.RecordedEvent, mutate func(*readmodel.Task)) error {
	t, err := tx.GetTask(ctx, id)
	if err != nil {
		return notYet("task", id, err)
	}
	apply, err := step("task", id, t.Revision, event.Revision)
	if err != nil || !apply {
		return err
	}
	expected := t.Revision
	mutate(&t)
	t.Revision = event.Revision
	t.UpdatedAt = event.Metadata.CreatedAt
	ok, err := tx.UpdateTask(ctx, t, expected)
	return swapped("task", id, ok, err)
}

func placed(taskID string, ok bool, err error) error {
	if err != nil {
		return err
	}
	if !ok {
		return notYet("task", taskID, readmodel.ErrNotFound)
	}
	return nil
}
