// Package httpapi provides the REST HTTP adapter for the server surfaces.
package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/hylla/strom/internal/adapters/server/common"
)

// maxRequestBodyBytes limits decoded JSON payload size for fail-closed request handling.
const maxRequestBodyBytes int64 = 1 << 20

// Handler serves the versioned API subrouter mounted under `/api/v1`.
type Handler struct {
	commands common.CommandService
	queries  common.QueryService
}

// APIError represents one structured API failure response.
type APIError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Hint    string         `json:"hint,omitempty"`
	Context map[string]any `json:"context,omitempty"`
}

// ErrorEnvelope wraps one structured API error.
type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

// NewHandler constructs one HTTP API adapter.
func NewHandler(commands common.CommandService, queries common.QueryService) *Handler {
	return &Handler{commands: commands, queries: queries}
}

// ServeHTTP routes one versioned API request to the matching handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	segments := splitPath(r.URL.Path)
	if len(segments) == 1 && segments[0] == "commands" {
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w, http.MethodPost)
			return
		}
		h.handleDispatch(w, r)
		return
	}

	route, ok := h.resolveQuery(segments)
	if !ok {
		writeJSONError(w, http.StatusNotFound, APIError{
			Code:    "not_found",
			Message: "endpoint not found",
		})
		return
	}
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, http.MethodGet)
		return
	}
	if h.queries == nil {
		writeJSONError(w, http.StatusServiceUnavailable, APIError{
			Code:    "service_unavailable",
			Message: "query service is not configured",
		})
		return
	}
	out, err := route(r)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// resolveQuery maps GET paths onto one query call.
func (h *Handler) resolveQuery(segments []string) (func(*http.Request) (any, error), bool) {
	switch {
	case len(segments) == 2 && segments[0] == "projects":
		return func(r *http.Request) (any, error) { return h.queries.GetProject(r.Context(), segments[1]) }, true
	case len(segments) == 3 && segments[0] == "projects" && segments[2] == "members":
		return func(r *http.Request) (any, error) {
			members, err := h.queries.ListMembersByProject(r.Context(), segments[1])
			return map[string]any{"members": members}, err
		}, true
	case len(segments) == 2 && segments[0] == "members":
		return func(r *http.Request) (any, error) { return h.queries.GetMember(r.Context(), segments[1]) }, true
	case len(segments) == 3 && segments[0] == "members" && segments[2] == "tasks":
		return func(r *http.Request) (any, error) {
			tasks, err := h.queries.ListTasksByAssignee(r.Context(), segments[1])
			return map[string]any{"tasks": tasks}, err
		}, true
	case len(segments) == 2 && segments[0] == "tasks":
		return func(r *http.Request) (any, error) { return h.queries.GetTask(r.Context(), segments[1]) }, true
	case len(segments) == 3 && segments[0] == "task-boards" && segments[2] == "tasks":
		return func(r *http.Request) (any, error) {
			tasks, err := h.queries.ListTasksByBoard(r.Context(), segments[1])
			return map[string]any{"tasks": tasks}, err
		}, true
	case len(segments) == 2 && segments[0] == "users":
		return func(r *http.Request) (any, error) { return h.queries.GetUser(r.Context(), segments[1]) }, true
	case len(segments) == 2 && segments[0] == "streams":
		return func(r *http.Request) (any, error) { return h.queries.ReadStream(r.Context(), segments[1]) }, true
	}
	return nil, false
}

// handleDispatch serves POST `/commands`.
func (h *Handler) handleDispatch(w http.ResponseWriter, r *http.Request) {
	if h.commands == nil {
		writeJSONError(w, http.StatusServiceUnavailable, APIError{
			Code:    "service_unavailable",
			Message: "command service is not configured",
		})
		return
	}
	raw, err := readBody(w, r)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	result, err := h.commands.DispatchCommand(r.Context(), raw)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, result)
}

// splitPath canonicalizes one request path into non-empty segments.
func splitPath(path string) []string {
	path = strings.Trim(strings.TrimSpace(path), "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// writeErrorFrom maps adapter errors into structured HTTP responses.
func writeErrorFrom(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
		writeJSONError(w, http.StatusInternalServerError, APIError{
			Code:    "internal_error",
			Message: "unknown error",
		})
	case errors.Is(err, common.ErrInvalidRequest):
		writeJSONError(w, http.StatusBadRequest, APIError{
			Code:    "invalid_request",
			Message: err.Error(),
		})
	case errors.Is(err, common.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, APIError{
			Code:    "not_found",
			Message: err.Error(),
		})
	case errors.Is(err, common.ErrConflict):
		writeJSONError(w, http.StatusConflict, APIError{
			Code:    "conflict",
			Message: err.Error(),
			Hint:    "Reload the stream and retry the command.",
		})
	case errors.Is(err, common.ErrUnauthorized):
		writeJSONError(w, http.StatusUnauthorized, APIError{
			Code:    "unauthorized",
			Message: err.Error(),
		})
	case errors.Is(err, common.ErrUnavailable):
		writeJSONError(w, http.StatusServiceUnavailable, APIError{
			Code:    "service_unavailable",
			Message: err.Error(),
		})
	case errors.Is(err, common.ErrIndeterminate):
		writeJSONError(w, http.StatusInternalServerError, APIError{
			Code:    "indeterminate",
			Message: err.Error(),
			Hint:    "Read the affected streams before retrying.",
		})
	default:
		writeJSONError(w, http.StatusInternalServerError, APIError{
			Code:    "internal_error",
			Message: err.Error(),
		})
	}
}

// writeMethodNotAllowed writes a structured 405 response with `Allow` headers.
func writeMethodNotAllowed(w http.ResponseWriter, methods ...string) {
	if len(methods) > 0 {
		w.Header().Set("Allow", strings.Join(methods, ", "))
	}
	writeJSONError(w, http.StatusMethodNotAllowed, APIError{
		Code:    "method_not_allowed",
		Message: "method not allowed",
	})
}

// writeJSONError writes one structured error envelope.
func writeJSONError(w http.ResponseWriter, statusCode int, apiErr APIError) {
	writeJSON(w, statusCode, ErrorEnvelope{Error: apiErr})
}

// writeJSON writes one JSON response envelope.
func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, fmt.Sprintf(`{"error":{"code":"encode_error","message":"%s"}}`, err.Error()), http.StatusInternalServerError)
	}
}

// readBody reads one bounded request body and rejects anything that is not a single JSON value.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	defer reader.Close()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read request body: %w", errors.Join(common.ErrInvalidRequest, err))
	}
	decoder := json.NewDecoder(bytes.NewReader(raw))
	var probe json.RawMessage
	if err := decoder.Decode(&probe); err != nil {
		return nil, fmt.Errorf("decode request body: %w", errors.Join(common.ErrInvalidRequest, err))
	}
	// Reject trailing payloads so malformed JSON bodies fail closed.
	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode request body: trailing content: %w", common.ErrInvalidRequest)
	}
	return probe, nil
}
