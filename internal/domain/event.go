package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// EventType is the stable discriminant stored with every event.
type EventType string

// Event type tags. Tags are unique across all domains.
const (
	EventProjectCreated      EventType = "project-created"
	EventProjectRenamed      EventType = "project-renamed"
	EventMemberAdded         EventType = "member-added"
	EventMemberRemoved       EventType = "member-removed"
	EventMemberCreated       EventType = "member-created"
	EventMemberRoleChanged   EventType = "member-role-changed"
	EventTaskBoardCreated    EventType = "task-board-created"
	EventTaskAdded           EventType = "task-added"
	EventTaskRemoved         EventType = "task-removed"
	EventTaskCreated         EventType = "task-created"
	EventTaskStatusChanged   EventType = "task-status-changed"
	EventTaskAssigneeChanged EventType = "task-assignee-changed"
	EventUserCreated         EventType = "user-created"
	EventUserRoleChanged     EventType = "user-role-changed"
)

// Metadata carries envelope metadata stamped at construction time.
type Metadata struct {
	CreatedAt     time.Time `json:"creationTime"`
	CorrelationID string    `json:"correlationId,omitempty"`
	CausationID   string    `json:"causationId,omitempty"`
}

// Payload is the closed set of domain event bodies.
type Payload interface {
	EventType() EventType
	isPayload()
}

// Event is one immutable domain event before it is appended to a stream.
type Event struct {
	ID       string
	Type     EventType
	Data     Payload
	Metadata Metadata
}

// RecordedEvent is an event as returned by the stream store.
type RecordedEvent struct {
	Event
	StreamName string
	// Revision is the 0-based position inside StreamName.
	Revision uint64
	// Position is the store-wide position, strictly increasing across all streams.
	Position   uint64
	RecordedAt time.Time
}

// NewEvent wraps one payload in an envelope with the supplied identity and creation time.
func NewEvent(id string, data Payload, now time.Time) Event {
	return Event{
		ID:   strings.TrimSpace(id),
		Type: data.EventType(),
		Data: data,
		Metadata: Metadata{
			CreatedAt: now.UTC(),
		},
	}
}

// WithCausation links the event to the command or message that produced it.
func (e Event) WithCausation(correlationID, causationID string) Event {
	e.Metadata.CorrelationID = strings.TrimSpace(correlationID)
	e.Metadata.CausationID = strings.TrimSpace(causationID)
	return e
}

// DecodePayload decodes one stored event body by its type tag.
func DecodePayload(eventType EventType, raw []byte) (Payload, error) {
	var (
		payload Payload
		err     error
	)
	switch eventType {
	case EventProjectCreated:
		payload, err = decodeAs[ProjectCreated](raw)
	case EventProjectRenamed:
		payload, err = decodeAs[ProjectRenamed](raw)
	case EventMemberAdded:
		payload, err = decodeAs[MemberAdded](raw)
	case EventMemberRemoved:
		payload, err = decodeAs[MemberRemoved](raw)
	case EventMemberCreated:
		payload, err = decodeAs[MemberCreated](raw)
	case EventMemberRoleChanged:
		payload, err = decodeAs[MemberRoleChanged](raw)
	case EventTaskBoardCreated:
		payload, err = decodeAs[TaskBoardCreated](raw)
	case EventTaskAdded:
		payload, err = decodeAs[TaskAdded](raw)
	case EventTaskRemoved:
		payload, err = decodeAs[TaskRemoved](raw)
	case EventTaskCreated:
		payload, err = decodeAs[TaskCreated](raw)
	case EventTaskStatusChanged:
		payload, err = decodeAs[TaskStatusChanged](raw)
	case EventTaskAssigneeChanged:
		payload, err = decodeAs[TaskAssigneeChanged](raw)
	case EventUserCreated:
		payload, err = decodeAs[UserCreated](raw)
	case EventUserRoleChanged:
		payload, err = decodeAs[UserRoleChanged](raw)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, eventType)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", eventType, err)
	}
	return payload, nil
}

// EncodePayload encodes one event body for storage or publication.
func EncodePayload(data Payload) ([]byte, error) {
	if data == nil {
		return nil, fmt.Errorf("%w: nil payload", ErrInvalidPayload)
	}
	encoded, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", data.EventType(), err)
	}
	return encoded, nil
}

// decodeAs decodes raw JSON into one concrete payload value.
func decodeAs[T any](raw []byte) (T, error) {
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, err
	}
	return out, nil
}

// IsProjectEvent reports whether the event belongs to the project aggregate.
func IsProjectEvent(e Event) bool {
	switch e.Type {
	case EventProjectCreated, EventProjectRenamed, EventMemberAdded, EventMemberRemoved:
		return true
	}
	return false
}

// IsMemberEvent reports whether the event belongs to the member aggregate.
func IsMemberEvent(e Event) bool {
	return e.Type == EventMemberCreated || e.Type == EventMemberRoleChanged
}

// IsTaskBoardEvent reports whether the event belongs to the task board aggregate.
func IsTaskBoardEvent(e Event) bool {
	switch e.Type {
	case EventTaskBoardCreated, EventTaskAdded, EventTaskRemoved:
		return true
	}
	return false
}

// IsTaskEvent reports whether the event belongs to the task aggregate.
func IsTaskEvent(e Event) bool {
	switch e.Type {
	case EventTaskCreated, EventTaskStatusChanged, EventTaskAssigneeChanged:
		return true
	}
	return false
}

// IsUserEvent reports whether the event belongs to the user aggregate.
func IsUserEvent(e Event) bool {
	return e.Type == EventUserCreated || e.Type == EventUserRoleChanged
}
