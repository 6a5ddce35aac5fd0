// Package readmodel defines the rebuildable query documents and the store ports
// that projections write through.
package readmodel

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound reports a missing document.
var ErrNotFound = errors.New("read model not found")

// Project is the denormalized project document.
type Project struct {
	ID                string    `json:"projectId"`
	Name              string    `json:"name"`
	OwnerID           string    `json:"ownerId"`
	TaskBoardID       string    `json:"taskBoardId"`
	TotalMembersCount int       `json:"totalMembersCount"`
	Revision          uint64    `json:"revision"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// Member is the member document. ProjectID is set while the member belongs to a project.
type Member struct {
	ID        string    `json:"memberId"`
	UserID    string    `json:"userId"`
	Role      string    `json:"role"`
	ProjectID string    `json:"projectId,omitempty"`
	Revision  uint64    `json:"revision"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Task is the task document. TaskBoardID is set while the task sits on a board.
type Task struct {
	ID          string    `json:"taskId"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Status      string    `json:"status"`
	AssigneeID  string    `json:"assigneeId,omitempty"`
	TaskBoardID string    `json:"taskBoardId,omitempty"`
	Revision    uint64    `json:"revision"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// User is the user document. The password hash is never projected.
type User struct {
	ID        string    `json:"userId"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	Revision  uint64    `json:"revision"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// OutboxMessage is one pending cross-service notification.
type OutboxMessage struct {
	EventID   string
	Topic     string
	Body      []byte
	Position  uint64
	Attempts  int
	LastError string
	CreatedAt time.Time
}

// Tx is the transactional write surface handed to projections. Insert* ignores
// an existing document. Update* writes only when the stored revision equals
// expected and reports whether a row changed.
type Tx interface {
	InsertProject(ctx context.Context, p Project) error
	GetProject(ctx context.Context, id string) (Project, error)
	UpdateProject(ctx context.Context, p Project, expected uint64) (bool, error)

	InsertMember(ctx context.Context, m Member) error
	GetMember(ctx context.Context, id string) (Member, error)
	UpdateMember(ctx context.Context, m Member, expected uint64) (bool, error)
	SetMemberProject(ctx context.Context, memberID, projectID string, at time.Time) (bool, error)

	InsertTask(ctx context.Context, t Task) error
	GetTask(ctx context.Context, id string) (Task, error)
	UpdateTask(ctx context.Context, t Task, expected uint64) (bool, error)
	SetTaskBoard(ctx context.Context, taskID, taskBoardID string, at time.Time) (bool, error)

	InsertUser(ctx context.Context, u User) error
	GetUser(ctx context.Context, id string) (User, error)
	UpdateUser(ctx context.Context, u User, expected uint64) (bool, error)

	EnqueueOutbox(ctx context.Context, msg OutboxMessage) error
}

// Store owns read-model transactions and subscription checkpoints.
type Store interface {
	// WithinTx runs fn in one transaction and, when fn succeeds, stores position
	// as the checkpoint of subscription before committing.
	WithinTx(ctx context.Context, subscription string, position uint64, fn func(Tx) error) error
	Checkpoint(ctx context.Context, subscription string) (uint64, error)
	// Reset clears every document and checkpoint so the feed can be replayed.
	Reset(ctx context.Context) error
}

// Reader answers read-model queries.
type Reader interface {
	GetProject(ctx context.Context, id string) (Project, error)
	GetMember(ctx context.Context, id string) (Member, error)
	GetTask(ctx context.Context, id string) (Task, error)
	GetUser(ctx context.Context, id string) (User, error)
	ListMembersByProject(ctx context.Context, projectID string) ([]Member, error)
	ListTasksByAssignee(ctx context.Context, assigneeID string) ([]Task, error)
	ListTasksByBoard(ctx context.Context, taskBoardID string) ([]Task, error)
}

// Outbox is the relay side of the notification outbox.
type Outbox interface {
	PendingOutbox(ctx context.Context, limit int) ([]OutboxMessage, error)
	MarkOutboxPublished(ctx context.Context, eventID string, at time.Time) error
	MarkOutboxFailed(ctx context.Context, eventID string, cause string, at time.Time) error
}
