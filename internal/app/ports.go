package app

import (
	"context"
	"fmt"

	"github.com/hylla/strom/internal/domain"
)

// EventStore is the append-only stream store used by command handlers.
type EventStore interface {
	// Save appends events to stream if its current version satisfies expected.
	// It returns the stream version after the append.
	Save(ctx context.Context, stream string, events []domain.Event, expected ExpectedVersion) (domain.StreamVersion, error)
	// Load returns every event of stream in revision order. A missing stream is not an error.
	Load(ctx context.Context, stream string) (LoadedStream, error)
}

// EventFeed exposes the store-wide ordered feed consumed by subscriptions.
type EventFeed interface {
	ReadAll(ctx context.Context, afterPosition uint64, limit int) ([]domain.RecordedEvent, error)
}

// LoadedStream is the result of loading one stream.
type LoadedStream struct {
	Events  []domain.RecordedEvent
	Version domain.StreamVersion
}

// PasswordHasher hashes and verifies user passwords.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(hash, password string) error
}

type expectation uint8

const (
	expectAny expectation = iota
	expectNoStream
	expectRevision
)

// ExpectedVersion is the optimistic-concurrency guard passed to Save.
type ExpectedVersion struct {
	kind     expectation
	revision domain.StreamVersion
}

// ExpectAny skips the version check.
func ExpectAny() ExpectedVersion {
	return ExpectedVersion{kind: expectAny}
}

// ExpectNoStream requires that the stream has never been written.
func ExpectNoStream() ExpectedVersion {
	return ExpectedVersion{kind: expectNoStream, revision: domain.NoStream}
}

// ExpectRevision requires the stream to be exactly at version v.
// Passing domain.NoStream is the same as ExpectNoStream.
func ExpectRevision(v domain.StreamVersion) ExpectedVersion {
	if !v.Exists() {
		return ExpectNoStream()
	}
	return ExpectedVersion{kind: expectRevision, revision: v}
}

// Check returns ErrVersionConflict when current does not satisfy the expectation.
func (e ExpectedVersion) Check(stream string, current domain.StreamVersion) error {
	switch e.kind {
	case expectAny:
		return nil
	case expectNoStream:
		if current.Exists() {
			return fmt.Errorf("%w: %s expected no stream, current %d", ErrVersionConflict, stream, current)
		}
		return nil
	default:
		if current != e.revision {
			return fmt.Errorf("%w: %s expected %d, current %d", ErrVersionConflict, stream, e.revision, current)
		}
		return nil
	}
}

// IsAny reports whether the expectation skips the version check.
func (e ExpectedVersion) IsAny() bool {
	return e.kind == expectAny
}

// String renders the expectation for logs.
func (e ExpectedVersion) String() string {
	switch e.kind {
	case expectAny:
		return "any"
	case expectNoStream:
		return "no_stream"
	default:
		return fmt.Sprintf("%d", e.revision)
	}
}
