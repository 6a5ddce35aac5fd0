package common

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/hylla/strom/internal/adapters/storage/sqlite"
	"github.com/hylla/strom/internal/app"
	"github.com/hylla/strom/internal/domain"
	"github.com/hylla/strom/internal/projection"
	"github.com/hylla/strom/internal/readmodel"
)

type fixture struct {
	adapter *AppServiceAdapter
	runner  *projection.Runner
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	dir := t.TempDir()
	events, err := sqlite.OpenEventStore(filepath.Join(dir, "events.db"))
	if err != nil {
		t.Fatalf("OpenEventStore() error = %v", err)
	}
	t.Cleanup(func() { _ = events.Close() })
	models, err := sqlite.OpenReadModelStore(filepath.Join(dir, "readmodels.db"))
	if err != nil {
		t.Fatalf("OpenReadModelStore() error = %v", err)
	}
	t.Cleanup(func() { _ = models.Close() })

	n := 0
	svc := app.NewService(events, func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}, func() time.Time {
		return time.Date(2026, 2, 21, 12, 0, 0, 0, time.UTC)
	}, app.ServiceConfig{Hasher: app.NewBcryptHasher(4)})

	runner, err := projection.NewRunner(projection.Config{Subscription: "all"}, events, models, nil, nil,
		projection.ProjectView{}, projection.TaskView{}, projection.UserView{})
	if err != nil {
		t.Fatalf("NewRunner() error = %v", err)
	}
	return fixture{adapter: NewAppServiceAdapter(svc, models), runner: runner}
}

func (f fixture) dispatch(t *testing.T, raw string) CommandResult {
	t.Helper()
	res, err := f.adapter.DispatchCommand(context.Background(), []byte(raw))
	if err != nil {
		t.Fatalf("DispatchCommand(%s) error = %v", raw, err)
	}
	return res
}

func (f fixture) catchUp(t *testing.T) {
	t.Helper()
	if _, err := f.runner.CatchUp(context.Background()); err != nil {
		t.Fatalf("CatchUp() error = %v", err)
	}
}

const createProject = `{"type":"CreateProject","data":{"projectId":"p1","name":"Acme","ownerId":"u1","taskBoardId":"b1"}}`

func TestDispatchCommandAndQuery(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res := f.dispatch(t, createProject)
	if res.CommandID != "id-1" || res.Type != "CreateProject" || res.Status != "accepted" {
		t.Fatalf("unexpected result %#v", res)
	}
	f.dispatch(t, `{"id":"c2","type":"AddMemberToProject","data":{"projectId":"p1","memberId":"m1","userId":"u2","role":"dev"}}`)
	f.catchUp(t)

	project, err := f.adapter.GetProject(ctx, " p1 ")
	if err != nil {
		t.Fatalf("GetProject() error = %v", err)
	}
	if project.Name != "Acme" || project.TotalMembersCount != 1 {
		t.Fatalf("unexpected project %#v", project)
	}
	members, err := f.adapter.ListMembersByProject(ctx, "p1")
	if err != nil {
		t.Fatalf("ListMembersByProject() error = %v", err)
	}
	if len(members) != 1 || members[0].ID != "m1" {
		t.Fatalf("unexpected members %#v", members)
	}

	stream, err := f.adapter.ReadStream(ctx, domain.ProjectStream("p1"))
	if err != nil {
		t.Fatalf("ReadStream() error = %v", err)
	}
	if stream.Version != 1 || len(stream.Events) != 2 {
		t.Fatalf("unexpected stream %#v", stream)
	}
	if stream.Events[1].Type != string(domain.EventMemberAdded) || stream.Events[1].CausationID != "c2" {
		t.Fatalf("unexpected second event %#v", stream.Events[1])
	}
}

func TestDispatchCommandErrorMapping(t *testing.T) {
	f := newFixture(t)
	f.dispatch(t, createProject)
	f.dispatch(t, `{"type":"CreateUser","data":{"userId":"u1","password":"hunter22","email":"a@b.co","role":"admin"}}`)

	cases := []struct {
		name string
		raw  string
		want error
	}{
		{"duplicate create", createProject, ErrConflict},
		{"malformed json", `{"type":`, ErrInvalidRequest},
		{"unknown type", `{"type":"Teleport","data":{}}`, ErrInvalidRequest},
		{"unknown field", `{"type":"UpdateProjectName","data":{"projectId":"p1","name":"B","extra":1}}`, ErrInvalidRequest},
		{"missing stream", `{"type":"UpdateProjectName","data":{"projectId":"nope","name":"B"}}`, ErrNotFound},
		{"invalid status", `{"type":"UpdateTaskStatus","data":{"taskId":"t1","status":"LATER"}}`, ErrInvalidRequest},
		{"bad password", `{"type":"LoginUser","data":{"userId":"u1","password":"wrong"}}`, ErrUnauthorized},
		{"partial write", `{"type":"AddMemberToProject","data":{"projectId":"ghost","memberId":"m9","userId":"u9","role":"dev"}}`, ErrIndeterminate},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.adapter.DispatchCommand(context.Background(), []byte(tc.raw))
			if !errors.Is(err, tc.want) {
				t.Fatalf("DispatchCommand() error = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestQueryErrors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	if _, err := f.adapter.GetTask(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetTask() error = %v, want not found", err)
	}
	if _, err := f.adapter.GetUser(ctx, "  "); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("GetUser() error = %v, want invalid request", err)
	}
	if _, err := f.adapter.ReadStream(ctx, "project-none"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("ReadStream() error = %v, want not found", err)
	}
	var nilAdapter *AppServiceAdapter
	if _, err := nilAdapter.GetProject(ctx, "p1"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("GetProject(nil adapter) error = %v, want unavailable", err)
	}
}

func TestMapAppError(t *testing.T) {
	cases := []struct {
		in   error
		want error
	}{
		{fmt.Errorf("x: %w", app.ErrTransientStore), ErrUnavailable},
		{fmt.Errorf("x: %w", app.ErrAmbiguousAppend), ErrIndeterminate},
		{fmt.Errorf("x: %w", app.ErrVersionConflict), ErrConflict},
		{fmt.Errorf("x: %w", readmodel.ErrNotFound), ErrNotFound},
		{fmt.Errorf("x: %w", domain.ErrInvalidEmail), ErrInvalidRequest},
	}
	for _, tc := range cases {
		if got := mapAppError("op", tc.in); !errors.Is(got, tc.want) {
			t.Fatalf("mapAppError(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
	if mapAppError("op", nil) != nil {
		t.Fatal("expected nil passthrough")
	}
}
