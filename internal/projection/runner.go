// Package projection turns the global event feed into read-model documents.
package projection

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hylla/strom/internal/app"
	"github.com/hylla/strom/internal/domain"
	"github.com/hylla/strom/internal/readmodel"
	"github.com/hylla/strom/internal/telemetry"
)

var (
	// ErrNotCaughtUp reports a target document that is missing or more than one revision behind.
	ErrNotCaughtUp = errors.New("read model not caught up")
	// ErrProjectionFailed stops a runner after an event exhausted its retries.
	ErrProjectionFailed = errors.New("projection failed")
)

// Logger is the logging surface used by runners.
type Logger interface {
	Debug(msg string, keyvals ...any)
	Info(msg string, keyvals ...any)
	Warn(msg string, keyvals ...any)
	Error(msg string, keyvals ...any)
}

// Projection applies one event to read models inside the runner's transaction.
// Implementations must be idempotent under redelivery.
type Projection interface {
	Name() string
	Apply(ctx context.Context, tx readmodel.Tx, event domain.RecordedEvent) error
}

// Config holds runner settings. Zero values take the defaults below.
type Config struct {
	Subscription   string
	BatchSize      int
	PollInterval   time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	ApplyTimeout   time.Duration
}

const (
	defaultBatchSize      = 100
	defaultPollInterval   = 500 * time.Millisecond
	defaultMaxAttempts    = 8
	defaultInitialBackoff = 25 * time.Millisecond
	defaultMaxBackoff     = 2 * time.Second
	defaultApplyTimeout   = 5 * time.Second
)

// Runner drives one named subscription.
type Runner struct {
	cfg         Config
	feed        app.EventFeed
	store       readmodel.Store
	projections []Projection
	logger      Logger
	metrics     *telemetry.Metrics
	sleep       func(context.Context, time.Duration) error
}

// NewRunner constructs a runner for cfg.Subscription.
func NewRunner(cfg Config, feed app.EventFeed, store readmodel.Store, logger Logger, metrics *telemetry.Metrics, projections ...Projection) (*Runner, error) {
	cfg.Subscription = strings.TrimSpace(cfg.Subscription)
	if cfg.Subscription == "" {
		return nil, errors.New("subscription name is required")
	}
	if feed == nil || store == nil {
		return nil, errors.New("feed and read-model store are required")
	}
	if len(projections) == 0 {
		return nil, fmt.Errorf("subscription %s has no projections", cfg.Subscription)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = defaultInitialBackoff
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = max(defaultMaxBackoff, cfg.InitialBackoff)
	}
	if cfg.ApplyTimeout <= 0 {
		cfg.ApplyTimeout = defaultApplyTimeout
	}
	if logger == nil {
		logger = discardLogger{}
	}
	return &Runner{
		cfg:         cfg,
		feed:        feed,
		store:       store,
		projections: projections,
		logger:      logger,
		metrics:     metrics,
		sleep:       sleepContext,
	}, nil
}

// Name returns the subscription name.
func (r *Runner) Name() string {
	return r.cfg.Subscription
}

// Run catches up and then polls the feed until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("subscription started", "subscription", r.cfg.Subscription, "projections", len(r.projections))
	for {
		if _, err := r.CatchUp(ctx); err != nil {
			switch {
			case ctx.Err() != nil:
				return nil
			case errors.Is(err, ErrProjectionFailed):
				return err
			case errors.Is(err, app.ErrTransientStore):
				r.logger.Warn("feed read failed, will retry", "subscription", r.cfg.Subscription, "err", err)
			default:
				return err
			}
		}
		if err := r.sleep(ctx, r.cfg.PollInterval); err != nil {
			r.logger.Info("subscription stopped", "subscription", r.cfg.Subscription)
			return nil
		}
	}
}

// CatchUp applies every event after the stored checkpoint and returns how many it processed.
func (r *Runner) CatchUp(ctx context.Context) (int, error) {
	position, err := r.store.Checkpoint(ctx, r.cfg.Subscription)
	if err != nil {
		return 0, fmt.Errorf("read checkpoint %s: %w", r.cfg.Subscription, err)
	}
	processed := 0
	for {
		batch, err := r.feed.ReadAll(ctx, position, r.cfg.BatchSize)
		if err != nil {
			return processed, fmt.Errorf("read feed after %d: %w", position, err)
		}
		for _, event := range batch {
			if err := r.handle(ctx, event); err != nil {
				return processed, err
			}
			position = event.Position
			processed++
		}
		if len(batch) < r.cfg.BatchSize {
			return processed, nil
		}
	}
}

// Reset clears the read models and checkpoints so the next CatchUp replays the feed.
func (r *Runner) Reset(ctx context.Context) error {
	if err := r.store.Reset(ctx); err != nil {
		return fmt.Errorf("reset read models: %w", err)
	}
	r.logger.Warn("read models reset", "subscription", r.cfg.Subscription)
	return nil
}

// handle applies one event with bounded retries. The checkpoint advances in the same
// transaction as the projection writes, so a crash replays the event rather than losing it.
func (r *Runner) handle(ctx context.Context, event domain.RecordedEvent) error {
	if event.Data == nil {
		r.logger.Warn("skipping unknown event type",
			"subscription", r.cfg.Subscription, "type", event.Type, "stream", event.StreamName, "position", event.Position)
		if err := r.store.WithinTx(ctx, r.cfg.Subscription, event.Position, func(readmodel.Tx) error { return nil }); err != nil {
			return fmt.Errorf("advance checkpoint past %d: %w", event.Position, err)
		}
		r.metrics.ProjectionSkipped(r.cfg.Subscription)
		return nil
	}

	backoff := r.cfg.InitialBackoff
	var lastErr error
	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		err := r.applyOnce(ctx, event)
		if err == nil {
			r.metrics.ProjectionApplied(r.cfg.Subscription, event.Position)
			r.logger.Debug("event projected",
				"subscription", r.cfg.Subscription, "type", event.Type, "stream", event.StreamName, "position", event.Position)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !retryable(err) {
			r.metrics.ProjectionFailed(r.cfg.Subscription)
			return fmt.Errorf("%w: %s at position %d (%s): %w", ErrProjectionFailed, r.cfg.Subscription, event.Position, event.Type, err)
		}
		lastErr = err
		r.metrics.ProjectionRetried(r.cfg.Subscription)
		r.logger.Debug("projection retry",
			"subscription", r.cfg.Subscription, "position", event.Position, "attempt", attempt, "backoff", backoff, "err", err)
		if attempt == r.cfg.MaxAttempts {
			break
		}
		if err := r.sleep(ctx, backoff); err != nil {
			return err
		}
		backoff = min(backoff*2, r.cfg.MaxBackoff)
	}
	r.metrics.ProjectionFailed(r.cfg.Subscription)
	r.logger.Error("projection retries exhausted",
		"subscription", r.cfg.Subscription, "position", event.Position, "type", event.Type, "err", lastErr)
	return fmt.Errorf("%w: %s at position %d (%s) after %d attempts: %w",
		ErrProjectionFailed, r.cfg.Subscription, event.Position, event.Type, r.cfg.MaxAttempts, lastErr)
}

func (r *Runner) applyOnce(ctx context.Context, event domain.RecordedEvent) error {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.ApplyTimeout)
	defer cancel()
	return r.store.WithinTx(ctx, r.cfg.Subscription, event.Position, func(tx readmodel.Tx) error {
		for _, p := range r.projections {
			if err := p.Apply(ctx, tx, event); err != nil {
				return fmt.Errorf("%s: %w", p.Name(), err)
			}
		}
		return nil
	})
}

// retryable reports the errors worth another attempt: ordering races and transient store failures.
func retryable(err error) bool {
	return errors.Is(err, ErrNotCaughtUp) ||
		errors.Is(err, app.ErrTransientStore) ||
		errors.Is(err, context.DeadlineExceeded)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type discardLogger struct{}

func (discardLogger) Debug(string, ...any) {}
func (discardLogger) Info(string, ...any)  {}
func (discardLogger) Warn(string, ...any)  {}
func (discardLogger) Error(string, ...any) {}
