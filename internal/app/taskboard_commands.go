package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hylla/strom/internal/domain"
)

func (s *Service) createTaskBoard(ctx context.Context, cmd domain.Command, in domain.CreateTaskBoard) error {
	created, err := domain.NewTaskBoardCreated(in.TaskBoardID)
	if err != nil {
		return err
	}
	return s.create(ctx, cmd, domain.TaskBoardStream(created.TaskBoardID), created)
}

// addNewTaskToTaskBoard writes the task stream and then the board stream.
// Same partial-write window as addMemberToProject.
func (s *Service) addNewTaskToTaskBoard(ctx context.Context, cmd domain.Command, in domain.AddNewTaskToTaskBoard) error {
	created, err := domain.NewTaskCreated(domain.TaskInput{
		TaskID:      in.TaskID,
		Title:       in.Title,
		Description: in.Description,
		Status:      in.Status,
		AssigneeID:  in.AssigneeID,
	})
	if err != nil {
		return err
	}
	taskStream := domain.TaskStream(created.TaskID)
	if err := s.create(ctx, cmd, taskStream, created); err != nil {
		return err
	}

	err = mutate(ctx, s, cmd, domain.TaskBoardStream(in.TaskBoardID), domain.FoldTaskBoard, func(b domain.TaskBoard) ([]domain.Payload, error) {
		return b.AddTask(created.TaskID)
	})
	if err != nil {
		return partialWrite(taskStream, err)
	}
	return nil
}

func (s *Service) removeTaskFromTaskBoard(ctx context.Context, cmd domain.Command, in domain.RemoveTaskFromTaskBoard) error {
	return mutate(ctx, s, cmd, domain.TaskBoardStream(in.TaskBoardID), domain.FoldTaskBoard, func(b domain.TaskBoard) ([]domain.Payload, error) {
		return b.RemoveTask(in.TaskID)
	})
}

func (s *Service) updateTaskStatus(ctx context.Context, cmd domain.Command, in domain.UpdateTaskStatus) error {
	if _, err := domain.ParseTaskStatus(in.Status); err != nil {
		return err
	}
	return mutate(ctx, s, cmd, domain.TaskStream(in.TaskID), domain.FoldTask, func(t domain.Task) ([]domain.Payload, error) {
		return t.ChangeStatus(in.Status)
	})
}

func (s *Service) updateTaskAssignee(ctx context.Context, cmd domain.Command, in domain.UpdateTaskAssignee) error {
	return mutate(ctx, s, cmd, domain.TaskStream(in.TaskID), domain.FoldTask, func(t domain.Task) ([]domain.Payload, error) {
		return t.ChangeAssignee(in.AssigneeID)
	})
}

// ReleaseMemberTasks detaches a removed member from each listed task. For every task
// still assigned to memberID it appends the status reset (when IN_PROGRESS) and the
// assignee clear in a single save at the version it read. Tasks that no longer name
// the member are skipped, so redelivery is harmless. Per-task failures are joined.
func (s *Service) ReleaseMemberTasks(ctx context.Context, causation domain.Command, memberID string, taskIDs []string) error {
	memberID = strings.TrimSpace(memberID)
	if memberID == "" {
		return fmt.Errorf("release member tasks: %w", errors.Join(domain.ErrInvalidPayload, domain.ErrInvalidID))
	}
	var errs []error
	for _, taskID := range taskIDs {
		err := mutate(ctx, s, causation, domain.TaskStream(taskID), domain.FoldTask, func(t domain.Task) ([]domain.Payload, error) {
			return t.ReleaseAssignee(memberID)
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("release task %s: %w", taskID, err))
		}
	}
	return errors.Join(errs...)
}
