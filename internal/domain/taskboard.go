package domain

import (
	"slices"
	"strings"
)

// TaskBoardCreated opens a task board stream.
type TaskBoardCreated struct {
	TaskBoardID string `json:"taskBoardId"`
}

// TaskAdded records that a task was placed on the board.
type TaskAdded struct {
	TaskBoardID string `json:"taskBoardId"`
	TaskID      string `json:"taskId"`
}

// TaskRemoved records that a task left the board.
type TaskRemoved struct {
	TaskBoardID string `json:"taskBoardId"`
	TaskID      string `json:"taskId"`
}

func (TaskBoardCreated) EventType() EventType { return EventTaskBoardCreated }
func (TaskAdded) EventType() EventType        { return EventTaskAdded }
func (TaskRemoved) EventType() EventType      { return EventTaskRemoved }

func (TaskBoardCreated) isPayload() {}
func (TaskAdded) isPayload()        {}
func (TaskRemoved) isPayload()      {}

// TaskBoard is the folded state of one task board stream.
type TaskBoard struct {
	ID      string
	TaskIDs []string
}

// Exists reports whether a creation event has been folded.
func (b TaskBoard) Exists() bool {
	return b.ID != ""
}

// HasTask reports whether taskID is on the board.
func (b TaskBoard) HasTask(taskID string) bool {
	return slices.Contains(b.TaskIDs, taskID)
}

// FoldTaskBoard rebuilds a task board from its stream.
func FoldTaskBoard(events []RecordedEvent) (TaskBoard, error) {
	return Fold(TaskBoard{}, events, applyTaskBoard)
}

func applyTaskBoard(b TaskBoard, payload Payload) (TaskBoard, error) {
	if created, ok := payload.(TaskBoardCreated); ok {
		if b.Exists() {
			return b, ErrAlreadyExists
		}
		return TaskBoard{ID: created.TaskBoardID, TaskIDs: []string{}}, nil
	}
	if !b.Exists() {
		return b, ErrNotFound
	}

	switch ev := payload.(type) {
	case TaskAdded:
		b.TaskIDs = append(slices.Clone(b.TaskIDs), ev.TaskID)
	case TaskRemoved:
		b.TaskIDs = slices.DeleteFunc(slices.Clone(b.TaskIDs), func(id string) bool {
			return id == ev.TaskID
		})
	default:
		return b, unknownEvent(payload)
	}
	return b, nil
}

// NewTaskBoardCreated validates a board creation request.
func NewTaskBoardCreated(taskBoardID string) (TaskBoardCreated, error) {
	taskBoardID = strings.TrimSpace(taskBoardID)
	if taskBoardID == "" {
		return TaskBoardCreated{}, invalidPayload(ErrInvalidID)
	}
	return TaskBoardCreated{TaskBoardID: taskBoardID}, nil
}

// AddTask decides the events for placing a task on the board.
func (b TaskBoard) AddTask(taskID string) ([]Payload, error) {
	if !b.Exists() {
		return nil, ErrNotFound
	}
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return nil, invalidPayload(ErrInvalidID)
	}
	if b.HasTask(taskID) {
		return nil, ErrAlreadyExists
	}
	return []Payload{TaskAdded{TaskBoardID: b.ID, TaskID: taskID}}, nil
}

// RemoveTask decides the events for taking a task off the board. Unknown tasks are a no-op.
func (b TaskBoard) RemoveTask(taskID string) ([]Payload, error) {
	if !b.Exists() {
		return nil, ErrNotFound
	}
	taskID = strings.TrimSpace(taskID)
	if !b.HasTask(taskID) {
		return nil, nil
	}
	return []Payload{TaskRemoved{TaskBoardID: b.ID, TaskID: taskID}}, nil
}
