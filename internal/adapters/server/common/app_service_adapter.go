package common

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/hylla/strom/internal/app"
	"github.com/hylla/strom/internal/domain"
	"github.com/hylla/strom/internal/readmodel"
)

// Commands is the app-side surface the adapter drives.
type Commands interface {
	NewCommand(data domain.CommandPayload) domain.Command
	Handle(ctx context.Context, cmd domain.Command) error
	LoadStream(ctx context.Context, stream string) (app.LoadedStream, error)
}

// AppServiceAdapter maps transport contracts onto the command service and read models.
type AppServiceAdapter struct {
	service Commands
	reader  readmodel.Reader
}

var (
	_ CommandService = (*AppServiceAdapter)(nil)
	_ QueryService   = (*AppServiceAdapter)(nil)
)

// NewAppServiceAdapter builds one common adapter.
func NewAppServiceAdapter(service Commands, reader readmodel.Reader) *AppServiceAdapter {
	return &AppServiceAdapter{service: service, reader: reader}
}

// DispatchCommand decodes one command envelope and handles it. A missing
// envelope id is filled in so every event carries a causation id.
func (a *AppServiceAdapter) DispatchCommand(ctx context.Context, raw []byte) (CommandResult, error) {
	if a == nil || a.service == nil {
		return CommandResult{}, fmt.Errorf("app service adapter is not configured: %w", ErrUnavailable)
	}
	cmd, err := domain.DecodeCommand(raw)
	if err != nil {
		return CommandResult{}, mapAppError("decode command", err)
	}
	if cmd.ID == "" {
		fresh := a.service.NewCommand(cmd.Data)
		cmd.ID = fresh.ID
		if cmd.Metadata.CreatedAt.IsZero() {
			cmd.Metadata.CreatedAt = fresh.Metadata.CreatedAt
		}
	}
	if err := a.service.Handle(ctx, cmd); err != nil {
		return CommandResult{}, mapAppError(string(cmd.Type), err)
	}
	return CommandResult{CommandID: cmd.ID, Type: string(cmd.Type), Status: "accepted"}, nil
}

// GetProject returns one project document.
func (a *AppServiceAdapter) GetProject(ctx context.Context, id string) (readmodel.Project, error) {
	if err := a.requireReader(id); err != nil {
		return readmodel.Project{}, err
	}
	out, err := a.reader.GetProject(ctx, strings.TrimSpace(id))
	return out, mapAppError("get project", err)
}

// GetMember returns one member document.
func (a *AppServiceAdapter) GetMember(ctx context.Context, id string) (readmodel.Member, error) {
	if err := a.requireReader(id); err != nil {
		return readmodel.Member{}, err
	}
	out, err := a.reader.GetMember(ctx, strings.TrimSpace(id))
	return out, mapAppError("get member", err)
}

// GetTask returns one task document.
func (a *AppServiceAdapter) GetTask(ctx context.Context, id string) (readmodel.Task, error) {
	if err := a.requireReader(id); err != nil {
		return readmodel.Task{}, err
	}
	out, err := a.reader.GetTask(ctx, strings.TrimSpace(id))
	return out, mapAppError("get task", err)
}

// GetUser returns one user document.
func (a *AppServiceAdapter) GetUser(ctx context.Context, id string) (readmodel.User, error) {
	if err := a.requireReader(id); err != nil {
		return readmodel.User{}, err
	}
	out, err := a.reader.GetUser(ctx, strings.TrimSpace(id))
	return out, mapAppError("get user", err)
}

// ListMembersByProject lists the members attached to one project.
func (a *AppServiceAdapter) ListMembersByProject(ctx context.Context, projectID string) ([]readmodel.Member, error) {
	if err := a.requireReader(projectID); err != nil {
		return nil, err
	}
	out, err := a.reader.ListMembersByProject(ctx, strings.TrimSpace(projectID))
	return out, mapAppError("list members", err)
}

// ListTasksByBoard lists the tasks placed on one board.
func (a *AppServiceAdapter) ListTasksByBoard(ctx context.Context, taskBoardID string) ([]readmodel.Task, error) {
	if err := a.requireReader(taskBoardID); err != nil {
		return nil, err
	}
	out, err := a.reader.ListTasksByBoard(ctx, strings.TrimSpace(taskBoardID))
	return out, mapAppError("list tasks", err)
}

// ListTasksByAssignee lists the tasks assigned to one member.
func (a *AppServiceAdapter) ListTasksByAssignee(ctx context.Context, assigneeID string) ([]readmodel.Task, error) {
	if err := a.requireReader(assigneeID); err != nil {
		return nil, err
	}
	out, err := a.reader.ListTasksByAssignee(ctx, strings.TrimSpace(assigneeID))
	return out, mapAppError("list tasks", err)
}

// ReadStream returns every event of one stream in revision order.
func (a *AppServiceAdapter) ReadStream(ctx context.Context, name string) (Stream, error) {
	if a == nil || a.service == nil {
		return Stream{}, fmt.Errorf("app service adapter is not configured: %w", ErrUnavailable)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return Stream{}, fmt.Errorf("stream name is required: %w", ErrInvalidRequest)
	}
	loaded, err := a.service.LoadStream(ctx, name)
	if err != nil {
		return Stream{}, mapAppError("read stream", err)
	}
	if !loaded.Version.Exists() {
		return Stream{}, fmt.Errorf("read stream %s: %w", name, ErrNotFound)
	}
	out := Stream{Name: name, Version: int64(loaded.Version), Events: make([]StreamEvent, 0, len(loaded.Events))}
	for _, event := range loaded.Events {
		data := json.RawMessage("null")
		if event.Data != nil {
			encoded, err := domain.EncodePayload(event.Data)
			if err != nil {
				return Stream{}, fmt.Errorf("encode %s: %w", event.ID, err)
			}
			data = encoded
		}
		out.Events = append(out.Events, StreamEvent{
			ID:            event.ID,
			Type:          string(event.Type),
			Revision:      event.Revision,
			Position:      event.Position,
			Data:          data,
			CreatedAt:     event.Metadata.CreatedAt,
			CorrelationID: event.Metadata.CorrelationID,
			CausationID:   event.Metadata.CausationID,
			RecordedAt:    event.RecordedAt,
		})
	}
	return out, nil
}

func (a *AppServiceAdapter) requireReader(id string) error {
	if a == nil || a.reader == nil {
		return fmt.Errorf("read models are not configured: %w", ErrUnavailable)
	}
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("id is required: %w", ErrInvalidRequest)
	}
	return nil
}

// mapAppError maps app/domain errors into transport-layer error sentinels.
func mapAppError(operation string, err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, app.ErrPartialWrite), errors.Is(err, app.ErrAmbiguousAppend):
		return fmt.Errorf("%s: %w", operation, errors.Join(ErrIndeterminate, err))
	case errors.Is(err, app.ErrNotFound),
		errors.Is(err, domain.ErrNotFound),
		errors.Is(err, readmodel.ErrNotFound):
		return fmt.Errorf("%s: %w", operation, errors.Join(ErrNotFound, err))
	case errors.Is(err, domain.ErrAlreadyExists), errors.Is(err, app.ErrVersionConflict):
		return fmt.Errorf("%s: %w", operation, errors.Join(ErrConflict, err))
	case errors.Is(err, app.ErrInvalidCredentials):
		return fmt.Errorf("%s: %w", operation, errors.Join(ErrUnauthorized, err))
	case errors.Is(err, app.ErrTransientStore):
		return fmt.Errorf("%s: %w", operation, errors.Join(ErrUnavailable, err))
	case errors.Is(err, domain.ErrInvalidPayload),
		errors.Is(err, domain.ErrUnknownCommand),
		errors.Is(err, domain.ErrInvalidID),
		errors.Is(err, domain.ErrInvalidName),
		errors.Is(err, domain.ErrInvalidTitle),
		errors.Is(err, domain.ErrInvalidStatus),
		errors.Is(err, domain.ErrInvalidRole),
		errors.Is(err, domain.ErrInvalidEmail),
		errors.Is(err, domain.ErrInvalidPassword):
		return fmt.Errorf("%s: %w", operation, errors.Join(ErrInvalidRequest, err))
	default:
		return fmt.Errorf("%s: %w", operation, err)
	}
}
