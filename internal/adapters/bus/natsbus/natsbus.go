// Package natsbus implements the bus ports on NATS JetStream.
package natsbus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hylla/strom/internal/bus"
	"github.com/hylla/strom/internal/telemetry"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Logger is the logging surface used by the bus.
type Logger interface {
	Debug(msg string, keyvals ...any)
	Info(msg string, keyvals ...any)
	Warn(msg string, keyvals ...any)
	Error(msg string, keyvals ...any)
}

// Config holds bus settings.
type Config struct {
	URL           string
	Stream        string
	SubjectPrefix string
	// DuplicateWindow bounds how long JetStream remembers message ids.
	DuplicateWindow time.Duration
	AckWait         time.Duration
	NakDelay        time.Duration
	ClientName      string
}

const (
	defaultStream          = "STROM_EVENTS"
	defaultSubjectPrefix   = "strom.events"
	defaultDuplicateWindow = 2 * time.Minute
	defaultAckWait         = 30 * time.Second
	defaultNakDelay        = time.Second
)

// Bus publishes and consumes through one JetStream stream.
type Bus struct {
	cfg     Config
	nc      *nats.Conn
	js      jetstream.JetStream
	logger  Logger
	metrics *telemetry.Metrics
}

var (
	_ bus.Publisher  = (*Bus)(nil)
	_ bus.Subscriber = (*Bus)(nil)
)

// Connect dials cfg.URL and ensures the event stream exists.
func Connect(ctx context.Context, cfg Config, logger Logger, metrics *telemetry.Metrics) (*Bus, error) {
	cfg = normalizeConfig(cfg)
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("nats url is required")
	}
	if logger == nil {
		logger = discardLogger{}
	}
	nc, err := nats.Connect(cfg.URL,
		nats.Name(cfg.ClientName),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "err", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("open jetstream: %w", err)
	}
	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       cfg.Stream,
		Subjects:   []string{cfg.SubjectPrefix + ".>"},
		Storage:    jetstream.FileStorage,
		Duplicates: cfg.DuplicateWindow,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure stream %s: %w", cfg.Stream, err)
	}
	logger.Info("nats bus connected", "url", nc.ConnectedUrl(), "stream", cfg.Stream)
	return &Bus{cfg: cfg, nc: nc, js: js, logger: logger, metrics: metrics}, nil
}

// Close drains the connection.
func (b *Bus) Close() error {
	if b == nil || b.nc == nil {
		return nil
	}
	return b.nc.Drain()
}

// Publish sends body on topic with id as the JetStream message id, so a
// re-publish of the same id inside the duplicate window is dropped by the server.
func (b *Bus) Publish(ctx context.Context, topic, id string, body []byte) error {
	ack, err := b.js.Publish(ctx, b.subject(topic), body, jetstream.WithMsgID(id))
	if err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	if ack.Duplicate {
		b.logger.Debug("duplicate publish suppressed", "topic", topic, "id", id)
	}
	return nil
}

// Subscribe binds a durable consumer named after group and topic and delivers
// until ctx is cancelled. Messages are acked only after handler returns nil.
func (b *Bus) Subscribe(ctx context.Context, topic, group string, handler bus.Handler) error {
	if handler == nil {
		return errors.New("handler is required")
	}
	durable := consumerName(group, topic)
	consumer, err := b.js.CreateOrUpdateConsumer(ctx, b.cfg.Stream, jetstream.ConsumerConfig{
		Durable:       durable,
		FilterSubject: b.subject(topic),
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverAllPolicy,
		AckWait:       b.cfg.AckWait,
		MaxDeliver:    -1,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", durable, err)
	}

	consumeCtx, err := consumer.Consume(func(msg jetstream.Msg) {
		b.deliver(ctx, topic, durable, msg, handler)
	})
	if err != nil {
		return fmt.Errorf("consume %s: %w", durable, err)
	}
	b.logger.Info("bus subscription started", "topic", topic, "consumer", durable)
	<-ctx.Done()
	consumeCtx.Stop()
	b.logger.Info("bus subscription stopped", "topic", topic, "consumer", durable)
	return nil
}

func (b *Bus) deliver(ctx context.Context, topic, durable string, msg jetstream.Msg, handler bus.Handler) {
	b.metrics.BusReceived(topic)
	id := msg.Headers().Get(nats.MsgIdHdr)
	if id == "" {
		if meta, err := msg.Metadata(); err == nil {
			id = fmt.Sprintf("%s:%d", meta.Stream, meta.Sequence.Stream)
		}
	}
	if err := handler(ctx, bus.Message{ID: id, Topic: topic, Body: msg.Data()}); err != nil {
		b.logger.Warn("bus handler failed, requesting redelivery", "topic", topic, "consumer", durable, "id", id, "err", err)
		if nakErr := msg.NakWithDelay(b.cfg.NakDelay); nakErr != nil {
			b.logger.Error("bus nak failed", "topic", topic, "id", id, "err", nakErr)
		}
		return
	}
	if err := msg.Ack(); err != nil {
		b.logger.Error("bus ack failed", "topic", topic, "id", id, "err", err)
	}
}

func (b *Bus) subject(topic string) string {
	return b.cfg.SubjectPrefix + "." + topic
}

// consumerName derives a durable name; JetStream rejects dots, wildcards and whitespace.
func consumerName(group, topic string) string {
	name := strings.TrimSpace(group) + "_" + strings.TrimSpace(topic)
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n':
			return '_'
		}
		return r
	}, name)
}

func normalizeConfig(cfg Config) Config {
	if strings.TrimSpace(cfg.Stream) == "" {
		cfg.Stream = defaultStream
	}
	cfg.SubjectPrefix = strings.Trim(strings.TrimSpace(cfg.SubjectPrefix), ".")
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = defaultSubjectPrefix
	}
	if cfg.DuplicateWindow <= 0 {
		cfg.DuplicateWindow = defaultDuplicateWindow
	}
	if cfg.AckWait <= 0 {
		cfg.AckWait = defaultAckWait
	}
	if cfg.NakDelay <= 0 {
		cfg.NakDelay = defaultNakDelay
	}
	if strings.TrimSpace(cfg.ClientName) == "" {
		cfg.ClientName = "strom"
	}
	return cfg
}

type discardLogger struct{}

func (discardLogger) Debug(string, ...any) {}
func (discardLogger) Info(string, ...any)  {}
func (discardLogger) Warn(string, ...any)  {}
func (discardLogger) Error(string, ...any) {}
