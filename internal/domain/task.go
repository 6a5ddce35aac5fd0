package domain

import (
	"fmt"
	"slices"
	"strings"
)

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	TaskStatusTodo       TaskStatus = "TODO"
	TaskStatusInProgress TaskStatus = "IN_PROGRESS"
	TaskStatusDone       TaskStatus = "DONE"
)

var validTaskStatuses = []TaskStatus{TaskStatusTodo, TaskStatusInProgress, TaskStatusDone}

// ParseTaskStatus validates a raw status value.
func ParseTaskStatus(raw string) (TaskStatus, error) {
	status := TaskStatus(strings.TrimSpace(raw))
	if !slices.Contains(validTaskStatuses, status) {
		return "", invalidPayload(fmt.Errorf("%w: %q", ErrInvalidStatus, raw))
	}
	return status, nil
}

// TaskCreated opens a task stream.
type TaskCreated struct {
	TaskID      string     `json:"taskId"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      TaskStatus `json:"status"`
	AssigneeID  string     `json:"assigneeId,omitempty"`
}

// TaskStatusChanged records a new task status.
type TaskStatusChanged struct {
	TaskID string     `json:"taskId"`
	Status TaskStatus `json:"status"`
}

// TaskAssigneeChanged records a new assignee. An empty AssigneeID clears the assignee.
type TaskAssigneeChanged struct {
	TaskID     string `json:"taskId"`
	AssigneeID string `json:"assigneeId,omitempty"`
}

func (TaskCreated) EventType() EventType         { return EventTaskCreated }
func (TaskStatusChanged) EventType() EventType   { return EventTaskStatusChanged }
func (TaskAssigneeChanged) EventType() EventType { return EventTaskAssigneeChanged }

func (TaskCreated) isPayload()         {}
func (TaskStatusChanged) isPayload()   {}
func (TaskAssigneeChanged) isPayload() {}

// Task is the folded state of one task stream.
type Task struct {
	ID          string
	Title       string
	Description string
	Status      TaskStatus
	AssigneeID  string
}

// Exists reports whether a creation event has been folded.
func (t Task) Exists() bool {
	return t.ID != ""
}

// FoldTask rebuilds a task from its stream.
func FoldTask(events []RecordedEvent) (Task, error) {
	return Fold(Task{}, events, applyTask)
}

func applyTask(t Task, payload Payload) (Task, error) {
	if created, ok := payload.(TaskCreated); ok {
		if t.Exists() {
			return t, ErrAlreadyExists
		}
		return Task{
			ID:          created.TaskID,
			Title:       created.Title,
			Description: created.Description,
			Status:      created.Status,
			AssigneeID:  created.AssigneeID,
		}, nil
	}
	if !t.Exists() {
		return t, ErrNotFound
	}

	switch ev := payload.(type) {
	case TaskStatusChanged:
		t.Status = ev.Status
	case TaskAssigneeChanged:
		t.AssigneeID = ev.AssigneeID
	default:
		return t, unknownEvent(payload)
	}
	return t, nil
}

// TaskInput holds the values for a new task.
type TaskInput struct {
	TaskID      string
	Title       string
	Description string
	Status      string
	AssigneeID  string
}

// NewTaskCreated validates a task creation request.
func NewTaskCreated(in TaskInput) (TaskCreated, error) {
	in.TaskID = strings.TrimSpace(in.TaskID)
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	in.AssigneeID = strings.TrimSpace(in.AssigneeID)
	if in.TaskID == "" {
		return TaskCreated{}, invalidPayload(ErrInvalidID)
	}
	// "task-" + "board-x" would land in the stream of task board "x".
	if strings.HasPrefix(in.TaskID, reservedTaskIDPrefix) {
		return TaskCreated{}, invalidPayload(fmt.Errorf("%w: task id %q must not start with %q", ErrInvalidID, in.TaskID, reservedTaskIDPrefix))
	}
	if in.Title == "" {
		return TaskCreated{}, invalidPayload(ErrInvalidTitle)
	}
	status, err := ParseTaskStatus(in.Status)
	if err != nil {
		return TaskCreated{}, err
	}
	return TaskCreated{
		TaskID:      in.TaskID,
		Title:       in.Title,
		Description: in.Description,
		Status:      status,
		AssigneeID:  in.AssigneeID,
	}, nil
}

// ChangeStatus decides the events for a status update.
func (t Task) ChangeStatus(raw string) ([]Payload, error) {
	if !t.Exists() {
		return nil, ErrNotFound
	}
	status, err := ParseTaskStatus(raw)
	if err != nil {
		return nil, err
	}
	return []Payload{TaskStatusChanged{TaskID: t.ID, Status: status}}, nil
}

// ChangeAssignee decides the events for an assignee update. An empty id unassigns the task.
func (t Task) ChangeAssignee(assigneeID string) ([]Payload, error) {
	if !t.Exists() {
		return nil, ErrNotFound
	}
	return []Payload{TaskAssigneeChanged{TaskID: t.ID, AssigneeID: strings.TrimSpace(assigneeID)}}, nil
}

// ReleaseAssignee decides the events that detach a removed member from the task:
// an in-progress task goes back to TODO, then the assignee is cleared.
// It returns no events when the task is not assigned to memberID.
func (t Task) ReleaseAssignee(memberID string) ([]Payload, error) {
	if !t.Exists() {
		return nil, ErrNotFound
	}
	memberID = strings.TrimSpace(memberID)
	if memberID == "" || t.AssigneeID != memberID {
		return nil, nil
	}
	out := make([]Payload, 0, 2)
	if t.Status == TaskStatusInProgress {
		out = append(out, TaskStatusChanged{TaskID: t.ID, Status: TaskStatusTodo})
	}
	out = append(out, TaskAssigneeChanged{TaskID: t.ID})
	return out, nil
}
