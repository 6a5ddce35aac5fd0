package notify

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hylla/strom/internal/adapters/storage/sqlite"
	"github.com/hylla/strom/internal/bus"
	"github.com/hylla/strom/internal/domain"
	"github.com/hylla/strom/internal/readmodel"
)

type fakePublisher struct {
	mu        sync.Mutex
	failFirst map[string]bool
	sent      []bus.Message
}

func (f *fakePublisher) Publish(_ context.Context, topic, id string, body []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFirst[id] {
		delete(f.failFirst, id)
		return errors.New("nats: no responders available for request")
	}
	f.sent = append(f.sent, bus.Message{ID: id, Topic: topic, Body: body})
	return nil
}

func openStore(t *testing.T) *sqlite.ReadModelStore {
	t.Helper()
	store, err := sqlite.OpenReadModelStore(filepath.Join(t.TempDir(), "readmodels.db"))
	if err != nil {
		t.Fatalf("OpenReadModelStore() error = %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

func recorded(id string, position uint64, payload domain.Payload) domain.RecordedEvent {
	return domain.RecordedEvent{
		Event:    domain.NewEvent(id, payload, time.Date(2026, 2, 21, 12, 0, 0, 0, time.UTC)),
		Position: position,
	}
}

func enqueue(t *testing.T, store *sqlite.ReadModelStore, events ...domain.RecordedEvent) {
	t.Helper()
	ctx := context.Background()
	p := NewOutboxProjection()
	for _, event := range events {
		err := store.WithinTx(ctx, "public-events", event.Position, func(tx readmodel.Tx) error {
			return p.Apply(ctx, tx, event)
		})
		if err != nil {
			t.Fatalf("WithinTx() error = %v", err)
		}
	}
}

func TestOutboxProjectionFiltersAllowList(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	created := recorded("e1", 1, domain.ProjectCreated{ProjectID: "p1", Name: "Acme", OwnerID: "u1", TaskBoardID: "b1"})
	enqueue(t, store,
		created,
		recorded("e2", 2, domain.ProjectRenamed{ProjectID: "p1", Name: "B"}),
		recorded("e3", 3, domain.MemberRemoved{ProjectID: "p1", MemberID: "m1"}),
		created,
	)

	pending, err := store.PendingOutbox(ctx, 10)
	if err != nil {
		t.Fatalf("PendingOutbox() error = %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 outbox rows, got %d", len(pending))
	}
	if pending[0].EventID != "e1" || pending[0].Topic != bus.TopicProjectCreated {
		t.Fatalf("unexpected first row %#v", pending[0])
	}
	payload, err := bus.DecodeEnvelope(pending[1].Body)
	if err != nil {
		t.Fatalf("DecodeEnvelope() error = %v", err)
	}
	if got, ok := payload.(domain.MemberRemoved); !ok || got.MemberID != "m1" {
		t.Fatalf("unexpected payload %#v", payload)
	}
}

func TestRelayKeepsFeedOrderAcrossFailedPublish(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	enqueue(t, store,
		recorded("e1", 1, domain.ProjectCreated{ProjectID: "p1", Name: "Acme", OwnerID: "u1", TaskBoardID: "b1"}),
		recorded("e2", 2, domain.MemberRemoved{ProjectID: "p1", MemberID: "m1"}),
	)
	pub := &fakePublisher{failFirst: map[string]bool{"e1": true}}
	relay, err := NewRelay(RelayConfig{BatchSize: 10}, store, pub, nil, nil)
	if err != nil {
		t.Fatalf("NewRelay() error = %v", err)
	}

	n, err := relay.Flush(ctx)
	if err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	// e2 must not overtake the failed e1.
	if n != 0 || len(pub.sent) != 0 {
		t.Fatalf("expected nothing published after e1 failed, got %d %#v", n, pub.sent)
	}
	pending, _ := store.PendingOutbox(ctx, 10)
	if len(pending) != 2 || pending[0].EventID != "e1" || pending[0].Attempts != 1 || pending[1].Attempts != 0 {
		t.Fatalf("expected e1 failed once and e2 untouched, got %#v", pending)
	}

	n, err = relay.Flush(ctx)
	if err != nil {
		t.Fatalf("Flush(retry) error = %v", err)
	}
	if n != 2 || len(pub.sent) != 2 || pub.sent[0].ID != "e1" || pub.sent[1].ID != "e2" {
		t.Fatalf("expected e1 then e2 published on retry, got %#v", pub.sent)
	}
	if pending, _ := store.PendingOutbox(ctx, 10); len(pending) != 0 {
		t.Fatalf("expected empty outbox, got %#v", pending)
	}
}

func TestRelayRunStopsOnCancel(t *testing.T) {
	store := openStore(t)
	relay, err := NewRelay(RelayConfig{Interval: time.Millisecond}, store, &fakePublisher{}, nil, nil)
	if err != nil {
		t.Fatalf("NewRelay() error = %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := relay.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
}
