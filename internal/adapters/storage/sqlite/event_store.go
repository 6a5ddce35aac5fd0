package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hylla/strom/internal/app"
	"github.com/hylla/strom/internal/domain"
)

// eventSchema is the append-only log. position orders the global feed.
var eventSchema = []string{
	`CREATE TABLE IF NOT EXISTS events (
		position INTEGER PRIMARY KEY AUTOINCREMENT,
		event_id TEXT NOT NULL UNIQUE,
		stream_name TEXT NOT NULL,
		revision INTEGER NOT NULL,
		event_type TEXT NOT NULL,
		data_json TEXT NOT NULL,
		created_at TEXT NOT NULL,
		correlation_id TEXT NOT NULL DEFAULT '',
		causation_id TEXT NOT NULL DEFAULT '',
		recorded_at TEXT NOT NULL,
		UNIQUE(stream_name, revision)
	);`,
	`CREATE INDEX IF NOT EXISTS idx_events_stream ON events(stream_name, revision);`,
}

// errRevisionTaken marks an append that lost the next revision to another
// writer before its transaction committed.
var errRevisionTaken = errors.New("revision taken by concurrent append")

// EventStore is the sqlite stream store.
type EventStore struct {
	db  *sql.DB
	now func() time.Time
	// beforeInsert runs inside the append tx once the version check passed.
	beforeInsert func(ctx context.Context, tx *sql.Tx, stream string, next domain.StreamVersion) error
}

// OpenEventStore opens (and migrates) the event log at path.
func OpenEventStore(path string) (*EventStore, error) {
	db, err := openDB(context.Background(), path, eventSchema)
	if err != nil {
		return nil, err
	}
	return &EventStore{db: db, now: time.Now}, nil
}

// Close closes the underlying database.
func (s *EventStore) Close() error {
	return s.db.Close()
}

// Save appends events to stream in one transaction after checking expected.
// Under ExpectAny an append that loses its revision to a concurrent writer is
// retried once against the fresh version; a second loss is ErrTransientStore.
func (s *EventStore) Save(ctx context.Context, stream string, events []domain.Event, expected app.ExpectedVersion) (domain.StreamVersion, error) {
	if strings.TrimSpace(stream) == "" {
		return domain.NoStream, errors.New("stream name is required")
	}
	version, err := s.append(ctx, stream, events, expected)
	if err == nil || !expected.IsAny() || !errors.Is(err, errRevisionTaken) {
		return version, err
	}
	version, err = s.append(ctx, stream, events, expected)
	if errors.Is(err, errRevisionTaken) {
		return domain.NoStream, fmt.Errorf("%w: %s kept moving during append: %v", app.ErrTransientStore, stream, err)
	}
	return version, err
}

func (s *EventStore) append(ctx context.Context, stream string, events []domain.Event, expected app.ExpectedVersion) (domain.StreamVersion, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.NoStream, fmt.Errorf("begin append tx: %w", classify(err))
	}
	defer func() { _ = tx.Rollback() }()

	current, err := streamVersion(ctx, tx, stream)
	if err != nil {
		return domain.NoStream, err
	}
	if err := expected.Check(stream, current); err != nil {
		return domain.NoStream, err
	}
	if len(events) == 0 {
		return current, nil
	}
	if s.beforeInsert != nil {
		if err := s.beforeInsert(ctx, tx, stream, current+1); err != nil {
			return domain.NoStream, err
		}
	}

	recordedAt := ts(s.now())
	next := current
	for _, event := range events {
		next++
		data, err := domain.EncodePayload(event.Data)
		if err != nil {
			return domain.NoStream, fmt.Errorf("encode %s: %w", event.Type, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO events(event_id, stream_name, revision, event_type, data_json, created_at, correlation_id, causation_id, recorded_at)
			VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, event.ID, stream, int64(next), string(event.Type), string(data), ts(event.Metadata.CreatedAt),
			event.Metadata.CorrelationID, event.Metadata.CausationID, recordedAt)
		switch {
		case err == nil:
		case isDuplicateEventID(err):
			// Most likely a retried envelope whose first append committed.
			return domain.NoStream, fmt.Errorf("%w: event %s already recorded", app.ErrAmbiguousAppend, event.ID)
		case isConstraintError(err):
			return domain.NoStream, fmt.Errorf("%w: %w: %s revision %d already written", app.ErrVersionConflict, errRevisionTaken, stream, next)
		case isSQLiteBusyError(err):
			return domain.NoStream, fmt.Errorf("append %s: %w", stream, errors.Join(errRevisionTaken, classify(err)))
		default:
			return domain.NoStream, fmt.Errorf("append %s: %w", stream, classify(err))
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.NoStream, fmt.Errorf("commit append: %w", classify(err))
	}
	return next, nil
}

// Load returns every event of stream in revision order.
func (s *EventStore) Load(ctx context.Context, stream string) (app.LoadedStream, error) {
	rows, err := s.db.QueryContext(ctx, selectEvents+` WHERE stream_name = ? ORDER BY revision ASC`, stream)
	if err != nil {
		return app.LoadedStream{}, fmt.Errorf("load %s: %w", stream, classify(err))
	}
	defer rows.Close()

	events, err := scanEvents(rows)
	if err != nil {
		return app.LoadedStream{}, fmt.Errorf("load %s: %w", stream, err)
	}
	version := domain.NoStream
	if n := len(events); n > 0 {
		version = domain.StreamVersion(events[n-1].Revision)
	}
	return app.LoadedStream{Events: events, Version: version}, nil
}

// ReadAll returns up to limit events with position greater than afterPosition.
func (s *EventStore) ReadAll(ctx context.Context, afterPosition uint64, limit int) ([]domain.RecordedEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, selectEvents+` WHERE position > ? ORDER BY position ASC LIMIT ?`, int64(afterPosition), limit)
	if err != nil {
		return nil, fmt.Errorf("read feed: %w", classify(err))
	}
	defer rows.Close()

	events, err := scanEvents(rows)
	if err != nil {
		return nil, fmt.Errorf("read feed: %w", err)
	}
	return events, nil
}

// HeadPosition returns the position of the newest event, or 0 for an empty log.
func (s *EventStore) HeadPosition(ctx context.Context) (uint64, error) {
	var head sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(position) FROM events`).Scan(&head); err != nil {
		return 0, fmt.Errorf("read head position: %w", classify(err))
	}
	return uint64(head.Int64), nil
}

const selectEvents = `SELECT position, event_id, stream_name, revision, event_type, data_json, created_at, correlation_id, causation_id, recorded_at FROM events`

func streamVersion(ctx context.Context, q queryRower, stream string) (domain.StreamVersion, error) {
	var rev sql.NullInt64
	if err := q.QueryRowContext(ctx, `SELECT MAX(revision) FROM events WHERE stream_name = ?`, stream).Scan(&rev); err != nil {
		return domain.NoStream, fmt.Errorf("read version %s: %w", stream, classify(err))
	}
	if !rev.Valid {
		return domain.NoStream, nil
	}
	return domain.StreamVersion(rev.Int64), nil
}

func scanEvents(rows *sql.Rows) ([]domain.RecordedEvent, error) {
	out := make([]domain.RecordedEvent, 0)
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, event)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return out, nil
}

// scanEvent decodes one row. Unknown event types keep Data nil so the feed
// can skip them; strict folders reject them.
func scanEvent(s scanner) (domain.RecordedEvent, error) {
	var (
		position   int64
		revision   int64
		eventType  string
		dataJSON   string
		createdAt  string
		recordedAt string
		out        domain.RecordedEvent
	)
	if err := s.Scan(&position, &out.ID, &out.StreamName, &revision, &eventType, &dataJSON, &createdAt,
		&out.Metadata.CorrelationID, &out.Metadata.CausationID, &recordedAt); err != nil {
		return domain.RecordedEvent{}, err
	}
	out.Position = uint64(position)
	out.Revision = uint64(revision)
	out.Type = domain.EventType(eventType)
	out.Metadata.CreatedAt = parseTS(createdAt)
	out.RecordedAt = parseTS(recordedAt)

	data, err := domain.DecodePayload(out.Type, []byte(dataJSON))
	switch {
	case errors.Is(err, domain.ErrUnknownEventType):
	case err != nil:
		return domain.RecordedEvent{}, fmt.Errorf("decode %s at %d: %w", eventType, position, err)
	default:
		out.Data = data
	}
	return out, nil
}

var (
	_ app.EventStore = (*EventStore)(nil)
	_ app.EventFeed  = (*EventStore)(nil)
)
