package domain

import "fmt"

// StreamVersion is the revision of the last event in a stream.
type StreamVersion int64

// NoStream is the version of a stream that has never been written.
const NoStream StreamVersion = -1

// Exists reports whether the version names a written stream.
func (v StreamVersion) Exists() bool {
	return v >= 0
}

// Stream name prefixes, one per aggregate kind.
const (
	projectStreamPrefix   = "project-"
	memberStreamPrefix    = "member-"
	taskBoardStreamPrefix = "task-board-"
	taskStreamPrefix      = "task-"
	userStreamPrefix      = "user-"

	// reservedTaskIDPrefix is the part of the board prefix that follows the task prefix.
	reservedTaskIDPrefix = "board-"
)

// ProjectStream returns the stream name for one project.
func ProjectStream(projectID string) string { return projectStreamPrefix + projectID }

// MemberStream returns the stream name for one member.
func MemberStream(memberID string) string { return memberStreamPrefix + memberID }

// TaskBoardStream returns the stream name for one task board.
func TaskBoardStream(taskBoardID string) string { return taskBoardStreamPrefix + taskBoardID }

// TaskStream returns the stream name for one task.
func TaskStream(taskID string) string { return taskStreamPrefix + taskID }

// UserStream returns the stream name for one user.
func UserStream(userID string) string { return userStreamPrefix + userID }

// Fold reduces events over initial in revision order. The first apply error stops the fold.
func Fold[S any](initial S, events []RecordedEvent, apply func(S, Payload) (S, error)) (S, error) {
	state := initial
	for _, event := range events {
		next, err := apply(state, event.Data)
		if err != nil {
			return initial, fmt.Errorf("fold %s at revision %d (%s): %w", event.StreamName, event.Revision, event.Type, err)
		}
		state = next
	}
	return state, nil
}

// unknownEvent reports a payload that the folding aggregate does not own.
func unknownEvent(p Payload) error {
	if p == nil {
		return fmt.Errorf("%w: nil payload", ErrUnknownEventType)
	}
	return fmt.Errorf("%w: %q", ErrUnknownEventType, p.EventType())
}

// invalidPayload attaches ErrInvalidPayload to a field-level validation error.
func invalidPayload(err error) error {
	return fmt.Errorf("%w: %w", ErrInvalidPayload, err)
}
