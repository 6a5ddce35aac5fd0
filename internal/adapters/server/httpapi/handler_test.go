package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hylla/strom/internal/adapters/server/common"
	"github.com/hylla/strom/internal/app"
	"github.com/hylla/strom/internal/readmodel"
)

// stubCommands records dispatched bodies and returns a configured outcome.
type stubCommands struct {
	lastRaw string
	err     error
}

func (s *stubCommands) DispatchCommand(_ context.Context, raw []byte) (common.CommandResult, error) {
	s.lastRaw = string(raw)
	if s.err != nil {
		return common.CommandResult{}, s.err
	}
	return common.CommandResult{CommandID: "c1", Type: "CreateProject", Status: "accepted"}, nil
}

// stubQueries serves fixed documents and records the last id.
type stubQueries struct {
	lastID string
	err    error
}

func (s *stubQueries) GetProject(_ context.Context, id string) (readmodel.Project, error) {
	s.lastID = id
	return readmodel.Project{ID: id, Name: "Acme", TotalMembersCount: 2, Revision: 3}, s.err
}

func (s *stubQueries) GetMember(_ context.Context, id string) (readmodel.Member, error) {
	s.lastID = id
	return readmodel.Member{ID: id, Role: "dev"}, s.err
}

func (s *stubQueries) GetTask(_ context.Context, id string) (readmodel.Task, error) {
	s.lastID = id
	return readmodel.Task{ID: id, Status: "TODO"}, s.err
}

func (s *stubQueries) GetUser(_ context.Context, id string) (readmodel.User, error) {
	s.lastID = id
	return readmodel.User{ID: id, Email: "a@b.co"}, s.err
}

func (s *stubQueries) ListMembersByProject(_ context.Context, id string) ([]readmodel.Member, error) {
	s.lastID = id
	return []readmodel.Member{{ID: "m1", ProjectID: id}}, s.err
}

func (s *stubQueries) ListTasksByBoard(_ context.Context, id string) ([]readmodel.Task, error) {
	s.lastID = id
	return []readmodel.Task{{ID: "t1", TaskBoardID: id}}, s.err
}

func (s *stubQueries) ListTasksByAssignee(_ context.Context, id string) ([]readmodel.Task, error) {
	s.lastID = id
	return []readmodel.Task{{ID: "t2", AssigneeID: id}}, s.err
}

func (s *stubQueries) ReadStream(_ context.Context, name string) (common.Stream, error) {
	s.lastID = name
	return common.Stream{Name: name, Version: 0, Events: []common.StreamEvent{{ID: "e1", Type: "project-created"}}}, s.err
}

func serve(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) APIError {
	t.Helper()
	var env ErrorEnvelope
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	return env.Error
}

func TestHandlerDispatchAccepted(t *testing.T) {
	commands := &stubCommands{}
	h := NewHandler(commands, &stubQueries{})
	body := `{"type":"CreateProject","data":{"projectId":"p1"}}`

	rec := serve(h, http.MethodPost, "/commands", body)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var got common.CommandResult
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if got.CommandID != "c1" || got.Status != "accepted" {
		t.Fatalf("unexpected result %#v", got)
	}
	if commands.lastRaw != body {
		t.Fatalf("unexpected forwarded body %q", commands.lastRaw)
	}
}

func TestHandlerDispatchRejectsBadBodies(t *testing.T) {
	commands := &stubCommands{}
	h := NewHandler(commands, &stubQueries{})
	for _, body := range []string{"", "{", `{"type":"A"} {"type":"B"}`} {
		rec := serve(h, http.MethodPost, "/commands", body)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("body %q: expected 400, got %d", body, rec.Code)
		}
		if code := decodeError(t, rec).Code; code != "invalid_request" {
			t.Fatalf("body %q: unexpected code %q", body, code)
		}
	}
	if commands.lastRaw != "" {
		t.Fatalf("expected no dispatch, got %q", commands.lastRaw)
	}
}

func TestHandlerDispatchErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{errors.Join(common.ErrConflict, app.ErrVersionConflict), http.StatusConflict, "conflict"},
		{common.ErrNotFound, http.StatusNotFound, "not_found"},
		{common.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
		{common.ErrUnavailable, http.StatusServiceUnavailable, "service_unavailable"},
		{common.ErrIndeterminate, http.StatusInternalServerError, "indeterminate"},
		{errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		h := NewHandler(&stubCommands{err: fmt.Errorf("dispatch: %w", tc.err)}, &stubQueries{})
		rec := serve(h, http.MethodPost, "/commands", `{"type":"CreateProject"}`)
		if rec.Code != tc.status {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.status, rec.Code)
		}
		if code := decodeError(t, rec).Code; code != tc.code {
			t.Fatalf("%v: expected code %q, got %q", tc.err, tc.code, code)
		}
	}
}

func TestHandlerQueries(t *testing.T) {
	cases := []struct {
		path   string
		wantID string
		field  string
	}{
		{"/projects/p1", "p1", "name"},
		{"/projects/p1/members", "p1", "members"},
		{"/members/m1", "m1", "role"},
		{"/members/m1/tasks", "m1", "tasks"},
		{"/tasks/t1", "t1", "status"},
		{"/task-boards/b1/tasks", "b1", "tasks"},
		{"/users/u1", "u1", "email"},
		{"/streams/project-p1", "project-p1", "events"},
	}
	for _, tc := range cases {
		queries := &stubQueries{}
		rec := serve(NewHandler(&stubCommands{}, queries), http.MethodGet, tc.path, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d: %s", tc.path, rec.Code, rec.Body.String())
		}
		if queries.lastID != tc.wantID {
			t.Fatalf("%s: unexpected id %q", tc.path, queries.lastID)
		}
		var body map[string]any
		if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
			t.Fatalf("%s: Decode() error = %v", tc.path, err)
		}
		if _, ok := body[tc.field]; !ok {
			t.Fatalf("%s: expected field %q in %#v", tc.path, tc.field, body)
		}
	}
}

func TestHandlerQueryNotFound(t *testing.T) {
	h := NewHandler(&stubCommands{}, &stubQueries{err: fmt.Errorf("get: %w", common.ErrNotFound)})
	rec := serve(h, http.MethodGet, "/tasks/missing", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHandlerRoutingErrors(t *testing.T) {
	h := NewHandler(&stubCommands{}, &stubQueries{})

	rec := serve(h, http.MethodGet, "/commands", "")
	if rec.Code != http.StatusMethodNotAllowed || rec.Header().Get("Allow") != http.MethodPost {
		t.Fatalf("expected 405 with Allow POST, got %d %q", rec.Code, rec.Header().Get("Allow"))
	}
	rec = serve(h, http.MethodDelete, "/projects/p1", "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
	rec = serve(h, http.MethodGet, "/nowhere", "")
	if rec.Code != http.StatusNotFound || decodeError(t, rec).Code != "not_found" {
		t.Fatalf("expected 404 not_found, got %d", rec.Code)
	}
}

func TestHandlerWithoutServices(t *testing.T) {
	h := NewHandler(nil, nil)
	if rec := serve(h, http.MethodPost, "/commands", `{}`); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 for commands, got %d", rec.Code)
	}
	if rec := serve(h, http.MethodGet, "/projects/p1", ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 for queries, got %d", rec.Code)
	}
}
