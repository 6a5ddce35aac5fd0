package natsbus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hylla/strom/internal/bus"
	natsserver "github.com/nats-io/nats-server/v2/test"
)

func runServer(t *testing.T) string {
	t.Helper()
	opts := natsserver.DefaultTestOptions
	opts.Port = -1
	opts.JetStream = true
	opts.StoreDir = t.TempDir()
	srv := natsserver.RunServer(&opts)
	t.Cleanup(srv.Shutdown)
	return srv.ClientURL()
}

func connect(t *testing.T, url string) *Bus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	b, err := Connect(ctx, Config{URL: url, NakDelay: 10 * time.Millisecond}, nil, nil)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() {
		_ = b.Close()
	})
	return b
}

type collector struct {
	mu       sync.Mutex
	msgs     []bus.Message
	failOnce map[string]bool
	got      chan struct{}
}

func newCollector() *collector {
	return &collector{failOnce: map[string]bool{}, got: make(chan struct{}, 16)}
}

func (c *collector) handle(_ context.Context, msg bus.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failOnce[msg.ID] {
		delete(c.failOnce, msg.ID)
		return errors.New("not ready")
	}
	c.msgs = append(c.msgs, msg)
	c.got <- struct{}{}
	return nil
}

func (c *collector) wait(t *testing.T, n int) []bus.Message {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		c.mu.Lock()
		if len(c.msgs) >= n {
			out := append([]bus.Message(nil), c.msgs...)
			c.mu.Unlock()
			return out
		}
		c.mu.Unlock()
		select {
		case <-c.got:
		case <-deadline:
			t.Fatalf("timed out waiting for %d messages", n)
		}
	}
}

func subscribe(t *testing.T, b *Bus, topic, group string, handler bus.Handler) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- b.Subscribe(ctx, topic, group, handler)
	}()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Subscribe() error = %v", err)
		}
	})
}

func TestPublishDeduplicatesByMessageID(t *testing.T) {
	b := connect(t, runServer(t))
	ctx := context.Background()
	for range 3 {
		if err := b.Publish(ctx, bus.TopicProjectCreated, "e1", []byte(`{"n":1}`)); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
	}
	if err := b.Publish(ctx, bus.TopicProjectCreated, "e2", []byte(`{"n":2}`)); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	c := newCollector()
	subscribe(t, b, bus.TopicProjectCreated, "task-boards", c.handle)
	msgs := c.wait(t, 2)
	time.Sleep(100 * time.Millisecond)
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.msgs) != 2 {
		t.Fatalf("expected 2 deliveries after dedupe, got %d", len(c.msgs))
	}
	if msgs[0].ID != "e1" || msgs[1].ID != "e2" {
		t.Fatalf("unexpected ids %q %q", msgs[0].ID, msgs[1].ID)
	}
	if msgs[0].Topic != bus.TopicProjectCreated || string(msgs[0].Body) != `{"n":1}` {
		t.Fatalf("unexpected message %#v", msgs[0])
	}
}

func TestSubscribeRedeliversAfterHandlerError(t *testing.T) {
	b := connect(t, runServer(t))
	c := newCollector()
	c.failOnce["e1"] = true
	subscribe(t, b, bus.TopicMemberRemoved, "task-boards", c.handle)

	if err := b.Publish(context.Background(), bus.TopicMemberRemoved, "e1", []byte(`{}`)); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	msgs := c.wait(t, 1)
	if msgs[0].ID != "e1" {
		t.Fatalf("expected redelivered e1, got %#v", msgs[0])
	}
}

func TestSubscribeFiltersByTopic(t *testing.T) {
	b := connect(t, runServer(t))
	c := newCollector()
	subscribe(t, b, bus.TopicMemberRemoved, "task-boards", c.handle)

	ctx := context.Background()
	if err := b.Publish(ctx, bus.TopicProjectCreated, "p", []byte(`{}`)); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if err := b.Publish(ctx, bus.TopicMemberRemoved, "m", []byte(`{}`)); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	msgs := c.wait(t, 1)
	if msgs[0].ID != "m" {
		t.Fatalf("expected only member-removed delivery, got %#v", msgs)
	}
}

func TestStartEmbedded(t *testing.T) {
	srv, err := StartEmbedded(EmbeddedConfig{Port: -1, StoreDir: t.TempDir()})
	if err != nil {
		t.Fatalf("StartEmbedded() error = %v", err)
	}
	defer srv.Shutdown()
	b := connect(t, srv.ClientURL())
	if err := b.Publish(context.Background(), "ping", "x", nil); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
}

func TestStartEmbeddedRequiresStoreDir(t *testing.T) {
	if _, err := StartEmbedded(EmbeddedConfig{}); err == nil {
		t.Fatal("expected error without store dir")
	}
}

func TestConsumerName(t *testing.T) {
	if got := consumerName("task boards", "a.b*"); got != "task_boards_a_b_" {
		t.Fatalf("consumerName() = %q", got)
	}
}
