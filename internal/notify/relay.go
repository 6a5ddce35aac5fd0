package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hylla/strom/internal/bus"
	"github.com/hylla/strom/internal/readmodel"
	"github.com/hylla/strom/internal/telemetry"
)

// Logger is the logging surface used by the relay.
type Logger interface {
	Debug(msg string, keyvals ...any)
	Info(msg string, keyvals ...any)
	Warn(msg string, keyvals ...any)
	Error(msg string, keyvals ...any)
}

// RelayConfig holds relay settings.
type RelayConfig struct {
	Interval       time.Duration
	BatchSize      int
	PublishTimeout time.Duration
}

// Relay publishes pending outbox rows. A failed publish stays pending and is
// retried on the next tick; the bus deduplicates by event id.
type Relay struct {
	cfg     RelayConfig
	outbox  readmodel.Outbox
	pub     bus.Publisher
	logger  Logger
	metrics *telemetry.Metrics
	now     func() time.Time
}

// NewRelay constructs a relay.
func NewRelay(cfg RelayConfig, outbox readmodel.Outbox, pub bus.Publisher, logger Logger, metrics *telemetry.Metrics) (*Relay, error) {
	if outbox == nil || pub == nil {
		return nil, errors.New("outbox and publisher are required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = discardLogger{}
	}
	return &Relay{cfg: cfg, outbox: outbox, pub: pub, logger: logger, metrics: metrics, now: time.Now}, nil
}

// Run flushes on every tick until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	for {
		if _, err := r.Flush(ctx); err != nil && ctx.Err() == nil {
			r.logger.Warn("outbox flush failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Flush publishes one batch of pending rows in feed order and returns how many
// were published. The first failed publish ends the batch so later rows never
// overtake it.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	pending, err := r.outbox.PendingOutbox(ctx, r.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("read outbox: %w", err)
	}
	published := 0
	for _, msg := range pending {
		if err := r.publish(ctx, msg); err != nil {
			r.metrics.OutboxFailed(msg.Topic)
			r.logger.Warn("outbox publish failed",
				"event_id", msg.EventID, "topic", msg.Topic, "attempts", msg.Attempts+1, "err", err)
			if markErr := r.outbox.MarkOutboxFailed(ctx, msg.EventID, err.Error(), r.now()); markErr != nil {
				return published, fmt.Errorf("mark outbox failed %s: %w", msg.EventID, markErr)
			}
			return published, nil
		}
		if err := r.outbox.MarkOutboxPublished(ctx, msg.EventID, r.now()); err != nil {
			return published, fmt.Errorf("mark outbox published %s: %w", msg.EventID, err)
		}
		r.metrics.OutboxPublished(msg.Topic)
		r.logger.Debug("outbox published", "event_id", msg.EventID, "topic", msg.Topic)
		published++
	}
	return published, nil
}

func (r *Relay) publish(ctx context.Context, msg readmodel.OutboxMessage) error {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.PublishTimeout)
	defer cancel()
	return r.pub.Publish(ctx, msg.Topic, msg.EventID, msg.Body)
}

type discardLogger struct{}

func (discardLogger) Debug(string, ...any) {}
func (discardLogger) Info(string, ...any)  {}
func (discardLogger) Warn(string, ...any)  {}
func (discardLogger) Error(string, ...any) {}
