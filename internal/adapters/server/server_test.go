package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hylla/strom/internal/adapters/server/common"
	"github.com/hylla/strom/internal/readmodel"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type stubQueries struct{}

func (stubQueries) GetProject(_ context.Context, id string) (readmodel.Project, error) {
	return readmodel.Project{ID: id, Name: "Acme"}, nil
}

func (stubQueries) GetMember(_ context.Context, id string) (readmodel.Member, error) {
	return readmodel.Member{ID: id}, nil
}

func (stubQueries) GetTask(_ context.Context, id string) (readmodel.Task, error) {
	return readmodel.Task{ID: id}, nil
}

func (stubQueries) GetUser(_ context.Context, id string) (readmodel.User, error) {
	return readmodel.User{ID: id}, nil
}

func (stubQueries) ListMembersByProject(context.Context, string) ([]readmodel.Member, error) {
	return nil, nil
}

func (stubQueries) ListTasksByBoard(context.Context, string) ([]readmodel.Task, error) {
	return nil, nil
}

func (stubQueries) ListTasksByAssignee(context.Context, string) ([]readmodel.Task, error) {
	return nil, nil
}

func (stubQueries) ReadStream(_ context.Context, name string) (common.Stream, error) {
	return common.Stream{}, errors.Join(common.ErrNotFound, errors.New(name))
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestNewHandlerRoutes(t *testing.T) {
	reg := prometheus.NewRegistry()
	hits := prometheus.NewCounter(prometheus.CounterOpts{Name: "strom_test_hits_total", Help: "test"})
	reg.MustRegister(hits)
	hits.Inc()

	h, cfg, err := NewHandler(Config{}, Dependencies{
		Queries: stubQueries{},
		Metrics: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	})
	if err != nil {
		t.Fatalf("NewHandler() error = %v", err)
	}
	if cfg.ServerName != "strom" || cfg.HTTPBind != defaultBindAddress {
		t.Fatalf("unexpected normalized config %#v", cfg)
	}

	if rec := get(t, h, "/healthz"); rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "ok") {
		t.Fatalf("healthz = %d %q", rec.Code, rec.Body.String())
	}
	if rec := get(t, h, "/metrics"); rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "strom_test_hits_total 1") {
		t.Fatalf("metrics = %d %q", rec.Code, rec.Body.String())
	}

	rec := get(t, h, "/api/v1/projects/p1")
	if rec.Code != http.StatusOK {
		t.Fatalf("api project = %d %q", rec.Code, rec.Body.String())
	}
	var project readmodel.Project
	if err := json.NewDecoder(rec.Body).Decode(&project); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if project.ID != "p1" {
		t.Fatalf("unexpected project %#v", project)
	}
	if rec := get(t, h, "/api/v1/streams/project-x"); rec.Code != http.StatusNotFound {
		t.Fatalf("missing stream = %d, want 404", rec.Code)
	}

	// Read-only deployments still mount the command route, which reports unavailable.
	post := httptest.NewRecorder()
	h.ServeHTTP(post, httptest.NewRequest(http.MethodPost, "/api/v1/commands", strings.NewReader(`{}`)))
	if post.Code != http.StatusServiceUnavailable {
		t.Fatalf("commands without service = %d, want 503", post.Code)
	}
}

func TestNewHandlerWithoutMetrics(t *testing.T) {
	h, _, err := NewHandler(Config{}, Dependencies{Queries: stubQueries{}})
	if err != nil {
		t.Fatalf("NewHandler() error = %v", err)
	}
	if rec := get(t, h, "/metrics"); rec.Code != http.StatusNotFound {
		t.Fatalf("metrics without handler = %d, want 404", rec.Code)
	}
}

func TestNewHandlerValidation(t *testing.T) {
	if _, _, err := NewHandler(Config{}, Dependencies{}); err == nil {
		t.Fatal("expected missing queries error")
	}
	cases := []Config{
		{APIEndpoint: "/x", MCPEndpoint: "x/"},
		{APIEndpoint: "/metrics"},
		{MCPEndpoint: "/healthz"},
	}
	for _, cfg := range cases {
		if _, _, err := NewHandler(cfg, Dependencies{Queries: stubQueries{}}); err == nil {
			t.Fatalf("NewHandler(%#v) error = nil, want error", cfg)
		}
	}
}

func TestNormalizeEndpoint(t *testing.T) {
	cases := map[string]string{
		"":          "/fallback",
		"/":         "/fallback",
		"api":       "/api",
		" /api/v2/": "/api/v2",
	}
	for in, want := range cases {
		if got := normalizeEndpoint(in, "/fallback"); got != want {
			t.Fatalf("normalizeEndpoint(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, Config{HTTPBind: "127.0.0.1:0"}, Dependencies{Queries: stubQueries{}})
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}

func TestRunReportsBindFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "busy")
	}))
	defer srv.Close()

	addr := strings.TrimPrefix(srv.URL, "http://")
	err := Run(context.Background(), Config{HTTPBind: addr}, Dependencies{Queries: stubQueries{}})
	if err == nil || !strings.Contains(err.Error(), "listen and serve") {
		t.Fatalf("Run() error = %v, want listen failure", err)
	}
}
