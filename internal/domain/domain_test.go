package domain

import (
	"errors"
	"slices"
	"testing"
	"time"
)

// recorded wraps payloads as contiguous recorded events on one stream.
func recorded(stream string, payloads ...Payload) []RecordedEvent {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	out := make([]RecordedEvent, 0, len(payloads))
	for i, p := range payloads {
		out = append(out, RecordedEvent{
			Event:      NewEvent("e"+string(rune('a'+i)), p, now),
			StreamName: stream,
			Revision:   uint64(i),
			Position:   uint64(i + 1),
			RecordedAt: now,
		})
	}
	return out
}

func TestFoldEmptyReturnsInitialState(t *testing.T) {
	p, err := FoldProject(nil)
	if err != nil {
		t.Fatalf("FoldProject() error = %v", err)
	}
	if p.Exists() {
		t.Fatalf("expected empty project, got %#v", p)
	}
	task, err := FoldTask(nil)
	if err != nil {
		t.Fatalf("FoldTask() error = %v", err)
	}
	if task.Exists() {
		t.Fatalf("expected empty task, got %#v", task)
	}
}

func TestFoldProjectLifecycle(t *testing.T) {
	events := recorded("project-p1",
		ProjectCreated{ProjectID: "p1", Name: "Acme", OwnerID: "u1", TaskBoardID: "b1"},
		MemberAdded{ProjectID: "p1", MemberID: "m1"},
		MemberAdded{ProjectID: "p1", MemberID: "m2"},
		MemberRemoved{ProjectID: "p1", MemberID: "m1"},
		ProjectRenamed{ProjectID: "p1", Name: "Acme Corp"},
	)
	p, err := FoldProject(events)
	if err != nil {
		t.Fatalf("FoldProject() error = %v", err)
	}
	if p.Name != "Acme Corp" {
		t.Fatalf("name = %q, want Acme Corp", p.Name)
	}
	if !slices.Equal(p.MemberIDs, []string{"m2"}) {
		t.Fatalf("member ids = %#v, want [m2]", p.MemberIDs)
	}
	if p.OwnerID != "u1" || p.TaskBoardID != "b1" {
		t.Fatalf("unexpected owner/board %#v", p)
	}
}

func TestFoldStrictErrors(t *testing.T) {
	cases := []struct {
		name string
		fold func() error
		want error
	}{
		{
			name: "project event before creation",
			fold: func() error {
				_, err := FoldProject(recorded("project-p1", ProjectRenamed{ProjectID: "p1", Name: "x"}))
				return err
			},
			want: ErrNotFound,
		},
		{
			name: "project created twice",
			fold: func() error {
				_, err := FoldProject(recorded("project-p1",
					ProjectCreated{ProjectID: "p1", Name: "a", OwnerID: "u", TaskBoardID: "b"},
					ProjectCreated{ProjectID: "p1", Name: "a", OwnerID: "u", TaskBoardID: "b"},
				))
				return err
			},
			want: ErrAlreadyExists,
		},
		{
			name: "foreign event in project stream",
			fold: func() error {
				_, err := FoldProject(recorded("project-p1",
					ProjectCreated{ProjectID: "p1", Name: "a", OwnerID: "u", TaskBoardID: "b"},
					TaskAdded{TaskBoardID: "b", TaskID: "t"},
				))
				return err
			},
			want: ErrUnknownEventType,
		},
		{
			name: "member created twice",
			fold: func() error {
				_, err := FoldMember(recorded("member-m1",
					MemberCreated{MemberID: "m1", UserID: "u1", Role: "dev"},
					MemberCreated{MemberID: "m1", UserID: "u1", Role: "dev"},
				))
				return err
			},
			want: ErrAlreadyExists,
		},
		{
			name: "task board event before creation",
			fold: func() error {
				_, err := FoldTaskBoard(recorded("task-board-b1", TaskAdded{TaskBoardID: "b1", TaskID: "t1"}))
				return err
			},
			want: ErrNotFound,
		},
		{
			name: "task event before creation",
			fold: func() error {
				_, err := FoldTask(recorded("task-t1", TaskStatusChanged{TaskID: "t1", Status: TaskStatusDone}))
				return err
			},
			want: ErrNotFound,
		},
		{
			name: "user created twice",
			fold: func() error {
				_, err := FoldUser(recorded("user-u1",
					UserCreated{UserID: "u1", Email: "a@b.c", Role: "admin"},
					UserCreated{UserID: "u1", Email: "a@b.c", Role: "admin"},
				))
				return err
			},
			want: ErrAlreadyExists,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.fold()
			if !errors.Is(err, tc.want) {
				t.Fatalf("fold error = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestFoldTaskBoardRemovalKeepsOtherTasks(t *testing.T) {
	board, err := FoldTaskBoard(recorded("task-board-b1",
		TaskBoardCreated{TaskBoardID: "b1"},
		TaskAdded{TaskBoardID: "b1", TaskID: "t1"},
		TaskAdded{TaskBoardID: "b1", TaskID: "t2"},
		TaskAdded{TaskBoardID: "b1", TaskID: "t3"},
		TaskRemoved{TaskBoardID: "b1", TaskID: "t2"},
	))
	if err != nil {
		t.Fatalf("FoldTaskBoard() error = %v", err)
	}
	if !slices.Equal(board.TaskIDs, []string{"t1", "t3"}) {
		t.Fatalf("task ids = %#v, want [t1 t3]", board.TaskIDs)
	}
}

func TestProjectRemoveMemberNoOpForNonMember(t *testing.T) {
	p := Project{ID: "p1", Name: "Acme", MemberIDs: []string{"m1"}}
	events, err := p.RemoveMember("m9")
	if err != nil {
		t.Fatalf("RemoveMember() error = %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected no events, got %#v", events)
	}
	events, err = p.RemoveMember("m1")
	if err != nil {
		t.Fatalf("RemoveMember() error = %v", err)
	}
	if len(events) != 1 || events[0].EventType() != EventMemberRemoved {
		t.Fatalf("unexpected events %#v", events)
	}
}

func TestProjectDecisionsRequireExistingProject(t *testing.T) {
	var p Project
	if _, err := p.Rename("x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Rename() error = %v, want ErrNotFound", err)
	}
	if _, err := p.AddMember("m1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("AddMember() error = %v, want ErrNotFound", err)
	}
}

func TestNewProjectCreatedValidation(t *testing.T) {
	if _, err := NewProjectCreated("", "ok", "u1", "b1"); !errors.Is(err, ErrInvalidID) || !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("expected invalid id payload error, got %v", err)
	}
	if _, err := NewProjectCreated("p1", "   ", "u1", "b1"); !errors.Is(err, ErrInvalidName) {
		t.Fatalf("expected ErrInvalidName, got %v", err)
	}
	created, err := NewProjectCreated(" p1 ", " Acme ", "u1", "b1")
	if err != nil {
		t.Fatalf("NewProjectCreated() error = %v", err)
	}
	if created.ProjectID != "p1" || created.Name != "Acme" {
		t.Fatalf("unexpected trimmed values %#v", created)
	}
}

func TestTaskStatusValidation(t *testing.T) {
	task := Task{ID: "t1", Title: "x", Status: TaskStatusTodo}
	if _, err := task.ChangeStatus("BLOCKED"); !errors.Is(err, ErrInvalidPayload) || !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("ChangeStatus() error = %v, want invalid payload", err)
	}
	events, err := task.ChangeStatus("DONE")
	if err != nil {
		t.Fatalf("ChangeStatus() error = %v", err)
	}
	if got := events[0].(TaskStatusChanged).Status; got != TaskStatusDone {
		t.Fatalf("status = %q, want DONE", got)
	}
	if _, err := NewTaskCreated(TaskInput{TaskID: "t1", Title: "x", Status: "todo"}); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("NewTaskCreated() error = %v, want ErrInvalidStatus", err)
	}
}

func TestNewTaskCreatedRejectsBoardStreamCollision(t *testing.T) {
	if TaskStream("board-x") != TaskBoardStream("x") {
		t.Fatal("expected the task and board stream names to collide for this id")
	}
	_, err := NewTaskCreated(TaskInput{TaskID: "board-x", Title: "x", Status: "TODO"})
	if !errors.Is(err, ErrInvalidPayload) || !errors.Is(err, ErrInvalidID) {
		t.Fatalf("NewTaskCreated() error = %v, want invalid id", err)
	}
	if _, err := NewTaskCreated(TaskInput{TaskID: "boardx", Title: "x", Status: "TODO"}); err != nil {
		t.Fatalf("NewTaskCreated(boardx) error = %v", err)
	}
}

func TestTaskReleaseAssignee(t *testing.T) {
	cases := []struct {
		name      string
		task      Task
		memberID  string
		wantTypes []EventType
	}{
		{
			name:      "in progress task resets and clears",
			task:      Task{ID: "t1", Status: TaskStatusInProgress, AssigneeID: "m1"},
			memberID:  "m1",
			wantTypes: []EventType{EventTaskStatusChanged, EventTaskAssigneeChanged},
		},
		{
			name:      "done task only clears",
			task:      Task{ID: "t1", Status: TaskStatusDone, AssigneeID: "m1"},
			memberID:  "m1",
			wantTypes: []EventType{EventTaskAssigneeChanged},
		},
		{
			name:     "other assignee untouched",
			task:     Task{ID: "t1", Status: TaskStatusInProgress, AssigneeID: "m2"},
			memberID: "m1",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			events, err := tc.task.ReleaseAssignee(tc.memberID)
			if err != nil {
				t.Fatalf("ReleaseAssignee() error = %v", err)
			}
			got := make([]EventType, 0, len(events))
			for _, e := range events {
				got = append(got, e.EventType())
			}
			if !slices.Equal(got, tc.wantTypes) {
				t.Fatalf("event types = %v, want %v", got, tc.wantTypes)
			}
		})
	}
}

func TestNewUserCreatedValidation(t *testing.T) {
	if _, err := NewUserCreated("u1", "not-an-email", "admin", "hash"); !errors.Is(err, ErrInvalidEmail) {
		t.Fatalf("expected ErrInvalidEmail, got %v", err)
	}
	if _, err := NewUserCreated("u1", "a@example.com", " ", "hash"); !errors.Is(err, ErrInvalidRole) {
		t.Fatalf("expected ErrInvalidRole, got %v", err)
	}
}

func TestEventClassification(t *testing.T) {
	now := time.Now()
	e := NewEvent("e1", MemberAdded{ProjectID: "p1", MemberID: "m1"}, now)
	if !IsProjectEvent(e) || IsMemberEvent(e) {
		t.Fatalf("member-added should classify as project event")
	}
	e = NewEvent("e2", MemberCreated{MemberID: "m1", UserID: "u1", Role: "dev"}, now)
	if !IsMemberEvent(e) || IsProjectEvent(e) {
		t.Fatalf("member-created should classify as member event")
	}
	if !IsTaskEvent(NewEvent("e3", TaskCreated{TaskID: "t1"}, now)) {
		t.Fatalf("task-created should classify as task event")
	}
	if !IsTaskBoardEvent(NewEvent("e4", TaskBoardCreated{TaskBoardID: "b1"}, now)) {
		t.Fatalf("task-board-created should classify as task board event")
	}
	if !IsUserEvent(NewEvent("e5", UserRoleChanged{UserID: "u1", Role: "x"}, now)) {
		t.Fatalf("user-role-changed should classify as user event")
	}
}

func TestDecodePayloadRoundTrip(t *testing.T) {
	raw, err := EncodePayload(TaskCreated{TaskID: "t1", Title: "Write", Status: TaskStatusTodo, AssigneeID: "m1"})
	if err != nil {
		t.Fatalf("EncodePayload() error = %v", err)
	}
	decoded, err := DecodePayload(EventTaskCreated, raw)
	if err != nil {
		t.Fatalf("DecodePayload() error = %v", err)
	}
	created, ok := decoded.(TaskCreated)
	if !ok {
		t.Fatalf("decoded type = %T, want TaskCreated", decoded)
	}
	if created.AssigneeID != "m1" || created.Status != TaskStatusTodo {
		t.Fatalf("unexpected decoded payload %#v", created)
	}
	if _, err := DecodePayload("task-archived", raw); !errors.Is(err, ErrUnknownEventType) {
		t.Fatalf("DecodePayload() error = %v, want ErrUnknownEventType", err)
	}
}
