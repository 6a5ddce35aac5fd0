// Package common provides transport-agnostic server contracts used by HTTP and MCP adapters.
package common

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/hylla/strom/internal/readmodel"
)

// ErrInvalidRequest reports malformed transport input or a rejected command payload.
var ErrInvalidRequest = errors.New("invalid request")

// ErrNotFound reports missing transport-visible resources.
var ErrNotFound = errors.New("not found")

// ErrConflict reports a command that lost a concurrency race or targets an existing stream.
var ErrConflict = errors.New("conflict")

// ErrUnauthorized reports rejected credentials.
var ErrUnauthorized = errors.New("unauthorized")

// ErrUnavailable reports a backend that could not answer in time; the caller may retry.
var ErrUnavailable = errors.New("service unavailable")

// ErrIndeterminate reports a write whose outcome is unknown or only partly applied.
var ErrIndeterminate = errors.New("write outcome indeterminate")

// CommandResult acknowledges one handled command.
type CommandResult struct {
	CommandID string `json:"command_id"`
	Type      string `json:"type"`
	Status    string `json:"status"`
}

// StreamEvent is the transport shape of one stored event.
type StreamEvent struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Revision      uint64          `json:"revision"`
	Position      uint64          `json:"position"`
	Data          json.RawMessage `json:"data"`
	CreatedAt     time.Time       `json:"created_at"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	CausationID   string          `json:"causation_id,omitempty"`
	RecordedAt    time.Time       `json:"recorded_at"`
}

// Stream is the transport shape of one loaded stream.
type Stream struct {
	Name    string        `json:"name"`
	Version int64         `json:"version"`
	Events  []StreamEvent `json:"events"`
}

// CommandService handles raw command envelopes.
type CommandService interface {
	DispatchCommand(ctx context.Context, raw []byte) (CommandResult, error)
}

// QueryService reads projected documents and raw streams.
type QueryService interface {
	GetProject(ctx context.Context, id string) (readmodel.Project, error)
	GetMember(ctx context.Context, id string) (readmodel.Member, error)
	GetTask(ctx context.Context, id string) (readmodel.Task, error)
	GetUser(ctx context.Context, id string) (readmodel.User, error)
	ListMembersByProject(ctx context.Context, projectID string) ([]readmodel.Member, error)
	ListTasksByBoard(ctx context.Context, taskBoardID string) ([]readmodel.Task, error)
	ListTasksByAssignee(ctx context.Context, assigneeID string) ([]readmodel.Task, error)
	ReadStream(ctx context.Context, name string) (Stream, error)
}
