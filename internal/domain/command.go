package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// CommandType is the stable discriminant of a command envelope.
type CommandType string

// Command type tags.
const (
	CommandCreateProject           CommandType = "CreateProject"
	CommandUpdateProjectName       CommandType = "UpdateProjectName"
	CommandAddMemberToProject      CommandType = "AddMemberToProject"
	CommandRemoveMemberFromProject CommandType = "RemoveMemberFromProject"
	CommandUpdateMemberRole        CommandType = "UpdateMemberRole"
	CommandCreateTaskBoard         CommandType = "CreateTaskBoard"
	CommandAddNewTaskToTaskBoard   CommandType = "AddNewTaskToTaskBoard"
	CommandRemoveTaskFromTaskBoard CommandType = "RemoveTaskFromTaskBoard"
	CommandUpdateTaskStatus        CommandType = "UpdateTaskStatus"
	CommandUpdateTaskAssignee      CommandType = "UpdateTaskAssignee"
	CommandCreateUser              CommandType = "CreateUser"
	CommandLoginUser               CommandType = "LoginUser"
	CommandUpdateUserRole          CommandType = "UpdateUserRole"
)

// CommandPayload is the closed set of command bodies.
type CommandPayload interface {
	CommandType() CommandType
	isCommand()
}

// Command is one request to change aggregate state.
type Command struct {
	ID       string
	Type     CommandType
	Data     CommandPayload
	Metadata Metadata
}

// NewCommand wraps one command payload in an envelope.
func NewCommand(id string, data CommandPayload, now time.Time) Command {
	cmd := Command{
		ID:       strings.TrimSpace(id),
		Data:     data,
		Metadata: Metadata{CreatedAt: now.UTC()},
	}
	if data != nil {
		cmd.Type = data.CommandType()
	}
	return cmd
}

// CreateProject asks for a new project stream.
type CreateProject struct {
	ProjectID   string `json:"projectId"`
	Name        string `json:"name"`
	OwnerID     string `json:"ownerId"`
	TaskBoardID string `json:"taskBoardId"`
}

// UpdateProjectName renames a project.
type UpdateProjectName struct {
	ProjectID string `json:"projectId"`
	Name      string `json:"name"`
}

// AddMemberToProject creates a member and attaches it to a project.
type AddMemberToProject struct {
	ProjectID string `json:"projectId"`
	MemberID  string `json:"memberId"`
	UserID    string `json:"userId"`
	Role      string `json:"role"`
}

// RemoveMemberFromProject detaches a member from a project.
type RemoveMemberFromProject struct {
	ProjectID string `json:"projectId"`
	MemberID  string `json:"memberId"`
}

// UpdateMemberRole changes a member role.
type UpdateMemberRole struct {
	MemberID string `json:"memberId"`
	Role     string `json:"role"`
}

// CreateTaskBoard asks for a new task board stream.
type CreateTaskBoard struct {
	TaskBoardID string `json:"taskBoardId"`
}

// AddNewTaskToTaskBoard creates a task and places it on a board.
type AddNewTaskToTaskBoard struct {
	TaskID      string `json:"taskId"`
	TaskBoardID string `json:"taskBoardId"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Status      string `json:"status"`
	AssigneeID  string `json:"assigneeId,omitempty"`
}

// RemoveTaskFromTaskBoard takes a task off a board.
type RemoveTaskFromTaskBoard struct {
	TaskBoardID string `json:"taskBoardId"`
	TaskID      string `json:"taskId"`
}

// UpdateTaskStatus changes a task status.
type UpdateTaskStatus struct {
	TaskID string `json:"taskId"`
	Status string `json:"status"`
}

// UpdateTaskAssignee changes or clears a task assignee.
type UpdateTaskAssignee struct {
	TaskID     string `json:"taskId"`
	AssigneeID string `json:"assigneeId,omitempty"`
}

// CreateUser registers a user. Password is plain text and is hashed before it is stored.
type CreateUser struct {
	UserID   string `json:"userId"`
	Password string `json:"password"`
	Email    string `json:"email"`
	Role     string `json:"role"`
}

// LoginUser checks a user's credentials without writing events.
type LoginUser struct {
	UserID   string `json:"userId"`
	Password string `json:"password"`
}

// UpdateUserRole changes a user role.
type UpdateUserRole struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
}

func (CreateProject) CommandType() CommandType           { return CommandCreateProject }
func (UpdateProjectName) CommandType() CommandType       { return CommandUpdateProjectName }
func (AddMemberToProject) CommandType() CommandType      { return CommandAddMemberToProject }
func (RemoveMemberFromProject) CommandType() CommandType { return CommandRemoveMemberFromProject }
func (UpdateMemberRole) CommandType() CommandType        { return CommandUpdateMemberRole }
func (CreateTaskBoard) CommandType() CommandType         { return CommandCreateTaskBoard }
func (AddNewTaskToTaskBoard) CommandType() CommandType   { return CommandAddNewTaskToTaskBoard }
func (RemoveTaskFromTaskBoard) CommandType() CommandType { return CommandRemoveTaskFromTaskBoard }
func (UpdateTaskStatus) CommandType() CommandType        { return CommandUpdateTaskStatus }
func (UpdateTaskAssignee) CommandType() CommandType      { return CommandUpdateTaskAssignee }
func (CreateUser) CommandType() CommandType              { return CommandCreateUser }
func (LoginUser) CommandType() CommandType               { return CommandLoginUser }
func (UpdateUserRole) CommandType() CommandType          { return CommandUpdateUserRole }

func (CreateProject) isCommand()           {}
func (UpdateProjectName) isCommand()       {}
func (AddMemberToProject) isCommand()      {}
func (RemoveMemberFromProject) isCommand() {}
func (UpdateMemberRole) isCommand()        {}
func (CreateTaskBoard) isCommand()         {}
func (AddNewTaskToTaskBoard) isCommand()   {}
func (RemoveTaskFromTaskBoard) isCommand() {}
func (UpdateTaskStatus) isCommand()        {}
func (UpdateTaskAssignee) isCommand()      {}
func (CreateUser) isCommand()              {}
func (LoginUser) isCommand()               {}
func (UpdateUserRole) isCommand()          {}

// CommandEnvelope is the wire shape of a command: {type, id, data, metadata}.
type CommandEnvelope struct {
	ID       string          `json:"id"`
	Type     CommandType     `json:"type"`
	Data     json.RawMessage `json:"data"`
	Metadata Metadata        `json:"metadata"`
}

// DecodeCommand decodes one wire envelope into a typed command.
func DecodeCommand(raw []byte) (Command, error) {
	var env CommandEnvelope
	decoder := json.NewDecoder(bytes.NewReader(raw))
	if err := decoder.Decode(&env); err != nil {
		return Command{}, invalidPayload(fmt.Errorf("decode command envelope: %w", err))
	}
	return env.Command()
}

// Command converts the wire envelope into a typed command.
func (env CommandEnvelope) Command() (Command, error) {
	var (
		data CommandPayload
		err  error
	)
	raw := []byte(env.Data)
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = []byte("{}")
	}
	switch env.Type {
	case CommandCreateProject:
		data, err = decodeStrict[CreateProject](raw)
	case CommandUpdateProjectName:
		data, err = decodeStrict[UpdateProjectName](raw)
	case CommandAddMemberToProject:
		data, err = decodeStrict[AddMemberToProject](raw)
	case CommandRemoveMemberFromProject:
		data, err = decodeStrict[RemoveMemberFromProject](raw)
	case CommandUpdateMemberRole:
		data, err = decodeStrict[UpdateMemberRole](raw)
	case CommandCreateTaskBoard:
		data, err = decodeStrict[CreateTaskBoard](raw)
	case CommandAddNewTaskToTaskBoard:
		data, err = decodeStrict[AddNewTaskToTaskBoard](raw)
	case CommandRemoveTaskFromTaskBoard:
		data, err = decodeStrict[RemoveTaskFromTaskBoard](raw)
	case CommandUpdateTaskStatus:
		data, err = decodeStrict[UpdateTaskStatus](raw)
	case CommandUpdateTaskAssignee:
		data, err = decodeStrict[UpdateTaskAssignee](raw)
	case CommandCreateUser:
		data, err = decodeStrict[CreateUser](raw)
	case CommandLoginUser:
		data, err = decodeStrict[LoginUser](raw)
	case CommandUpdateUserRole:
		data, err = decodeStrict[UpdateUserRole](raw)
	default:
		return Command{}, fmt.Errorf("%w: %q", ErrUnknownCommand, env.Type)
	}
	if err != nil {
		return Command{}, invalidPayload(fmt.Errorf("decode %s data: %w", env.Type, err))
	}
	return Command{
		ID:       strings.TrimSpace(env.ID),
		Type:     env.Type,
		Data:     data,
		Metadata: env.Metadata,
	}, nil
}

// decodeStrict decodes one command body and rejects unknown fields.
func decodeStrict[T any](raw []byte) (T, error) {
	var out T
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&out); err != nil {
		return out, err
	}
	return out, nil
}
