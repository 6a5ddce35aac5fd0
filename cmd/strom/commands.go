package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hylla/strom/internal/adapters/bus/natsbus"
	"github.com/hylla/strom/internal/adapters/inbox/redisinbox"
	"github.com/hylla/strom/internal/adapters/server"
	"github.com/hylla/strom/internal/adapters/server/common"
	"github.com/hylla/strom/internal/adapters/storage/sqlite"
	"github.com/hylla/strom/internal/app"
	"github.com/hylla/strom/internal/config"
	"github.com/hylla/strom/internal/listener"
	"github.com/hylla/strom/internal/notify"
	"github.com/hylla/strom/internal/projection"
	"github.com/hylla/strom/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	var (
		httpBind    string
		busURL      string
		noListeners bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run projections, the outbox relay, listeners and the HTTP/MCP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := opts.resolve(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer env.close(cmd.ErrOrStderr())
			if v := strings.TrimSpace(httpBind); v != "" {
				env.cfg.Server.HTTPBind = v
			}
			if v := strings.TrimSpace(busURL); v != "" {
				env.cfg.Bus.URL = v
			}
			if noListeners {
				env.cfg.Bus.Listeners = false
			}
			return runServe(cmd.Context(), env)
		},
	}
	cmd.Flags().StringVar(&httpBind, "http", "", "HTTP bind address (overrides server.http_bind)")
	cmd.Flags().StringVar(&busURL, "bus-url", "", "NATS URL; empty starts an embedded server")
	cmd.Flags().BoolVar(&noListeners, "no-listeners", false, "do not consume bus topics")
	return cmd
}

func newRebuildCommand(opts *rootOptions) *cobra.Command {
	var republish bool
	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Reset read models and checkpoints, then replay the whole event feed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := opts.resolve(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer env.close(cmd.ErrOrStderr())
			return runRebuild(cmd.Context(), env, republish, cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&republish, "republish", false, "requeue already published public events so serve publishes them again")
	return cmd
}

func newDispatchCommand(opts *rootOptions) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Handle one command envelope read from a file or stdin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := opts.resolve(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer env.close(cmd.ErrOrStderr())
			env.logger.SetConsoleEnabled(false)

			in := cmd.InOrStdin()
			if file != "" && file != "-" {
				f, err := os.Open(file)
				if err != nil {
					return fmt.Errorf("open envelope: %w", err)
				}
				defer f.Close()
				in = f
			}
			raw, err := io.ReadAll(in)
			if err != nil {
				return fmt.Errorf("read envelope: %w", err)
			}
			return runDispatch(cmd.Context(), env, raw, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "-", "envelope JSON file, - for stdin")
	return cmd
}

// stores holds both sqlite databases for one command run.
type stores struct {
	events     *sqlite.EventStore
	readModels *sqlite.ReadModelStore
}

func openStores(env *runtimeEnv, withReadModels bool) (*stores, error) {
	env.logger.Info("opening event store", "db_path", env.cfg.Database.EventsPath)
	events, err := sqlite.OpenEventStore(env.cfg.Database.EventsPath)
	if err != nil {
		env.logger.Error("event store open failed", "db_path", env.cfg.Database.EventsPath, "err", err)
		return nil, fmt.Errorf("open event store: %w", err)
	}
	out := &stores{events: events}
	if !withReadModels {
		return out, nil
	}
	env.logger.Info("opening read-model store", "db_path", env.cfg.Database.ReadModelsPath)
	readModels, err := sqlite.OpenReadModelStore(env.cfg.Database.ReadModelsPath)
	if err != nil {
		_ = events.Close()
		env.logger.Error("read-model store open failed", "db_path", env.cfg.Database.ReadModelsPath, "err", err)
		return nil, fmt.Errorf("open read-model store: %w", err)
	}
	out.readModels = readModels
	return out, nil
}

func (s *stores) close(logger *runtimeLogger) {
	if s.readModels != nil {
		if err := s.readModels.Close(); err != nil {
			logger.Warn("read-model store close failed", "err", err)
		}
	}
	if err := s.events.Close(); err != nil {
		logger.Warn("event store close failed", "err", err)
	}
}

func newService(cfg config.Config, events *sqlite.EventStore) *app.Service {
	return app.NewService(events, uuid.NewString, time.Now, app.ServiceConfig{
		StoreTimeout: cfg.Store.TimeoutDuration(),
		Hasher:       app.NewBcryptHasher(cfg.Store.BcryptCost),
	})
}

// newRunners builds one runner per subscription. Each subscription keeps its own
// checkpoint so a failing view never stalls the others.
func newRunners(cfg config.Config, s *stores, logger *runtimeLogger, metrics *telemetry.Metrics) ([]*projection.Runner, error) {
	subscriptions := []struct {
		name string
		view projection.Projection
	}{
		{"projects", projection.ProjectView{}},
		{"task-boards", projection.TaskView{}},
		{"users", projection.UserView{}},
		{"public-events", notify.NewOutboxProjection()},
	}
	runners := make([]*projection.Runner, 0, len(subscriptions))
	for _, sub := range subscriptions {
		runner, err := projection.NewRunner(projection.Config{
			Subscription:   sub.name,
			BatchSize:      cfg.Projection.BatchSize,
			PollInterval:   cfg.Projection.PollIntervalDuration(),
			MaxAttempts:    cfg.Projection.MaxAttempts,
			InitialBackoff: cfg.Projection.InitialBackoffDuration(),
			MaxBackoff:     cfg.Projection.MaxBackoffDuration(),
			ApplyTimeout:   cfg.Store.TimeoutDuration(),
		}, s.events, s.readModels, logger.With("component", "projection"), metrics, sub.view)
		if err != nil {
			return nil, fmt.Errorf("configure subscription %s: %w", sub.name, err)
		}
		runners = append(runners, runner)
	}
	return runners, nil
}

// connectBus dials cfg.Bus.URL or, when it is empty, starts an embedded
// JetStream server beside the event store.
func connectBus(ctx context.Context, env *runtimeEnv, metrics *telemetry.Metrics) (*natsbus.Bus, func(), error) {
	url := strings.TrimSpace(env.cfg.Bus.URL)
	var embedded *natsbus.Embedded
	if url == "" {
		storeDir := filepath.Join(filepath.Dir(env.cfg.Database.EventsPath), "jetstream")
		var err error
		embedded, err = natsbus.StartEmbedded(natsbus.EmbeddedConfig{Host: "127.0.0.1", Port: -1, StoreDir: storeDir})
		if err != nil {
			return nil, nil, fmt.Errorf("start embedded bus: %w", err)
		}
		url = embedded.ClientURL()
		env.logger.Info("embedded bus started", "url", url, "store_dir", storeDir)
	}

	b, err := natsbus.Connect(ctx, natsbus.Config{
		URL:           url,
		Stream:        env.cfg.Bus.Stream,
		SubjectPrefix: env.cfg.Bus.SubjectPrefix,
		ClientName:    env.appName,
	}, env.logger.With("component", "bus"), metrics)
	if err != nil {
		if embedded != nil {
			embedded.Shutdown()
		}
		return nil, nil, fmt.Errorf("connect bus: %w", err)
	}
	stop := func() {
		if err := b.Close(); err != nil {
			env.logger.Warn("bus close failed", "err", err)
		}
		if embedded != nil {
			embedded.Shutdown()
		}
	}
	return b, stop, nil
}

// openInbox returns the configured dedupe store, or nil for the none backend.
func openInbox(ctx context.Context, cfg config.InboxConfig, readModels *sqlite.ReadModelStore) (listener.Inbox, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Backend {
	case config.InboxNone:
		return nil, noop, nil
	case config.InboxRedis:
		inbox, err := redisinbox.Dial(ctx, cfg.RedisAddr, cfg.TTLDuration())
		if err != nil {
			return nil, nil, fmt.Errorf("dial redis inbox: %w", err)
		}
		return inbox, inbox.Close, nil
	default:
		return readModels, noop, nil
	}
}

func runServe(ctx context.Context, env *runtimeEnv) error {
	logger := env.logger
	s, err := openStores(env, true)
	if err != nil {
		return err
	}
	defer s.close(logger)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := telemetry.NewMetrics(registry)

	svc := newService(env.cfg, s.events)
	runners, err := newRunners(env.cfg, s, logger, metrics)
	if err != nil {
		return err
	}

	eventBus, stopBus, err := connectBus(ctx, env, metrics)
	if err != nil {
		return err
	}
	defer stopBus()

	relay, err := notify.NewRelay(notify.RelayConfig{
		Interval:       env.cfg.Outbox.IntervalDuration(),
		BatchSize:      env.cfg.Outbox.BatchSize,
		PublishTimeout: env.cfg.Store.TimeoutDuration(),
	}, s.readModels, eventBus, logger.With("component", "relay"), metrics)
	if err != nil {
		return fmt.Errorf("configure outbox relay: %w", err)
	}

	adapter := common.NewAppServiceAdapter(svc, s.readModels)
	g, gctx := errgroup.WithContext(ctx)
	for _, runner := range runners {
		g.Go(func() error { return quietOnShutdown(gctx, runner.Run(gctx)) })
	}
	g.Go(func() error { return quietOnShutdown(gctx, relay.Run(gctx)) })

	if env.cfg.Bus.Listeners {
		inbox, closeInbox, err := openInbox(ctx, env.cfg.Inbox, s.readModels)
		if err != nil {
			return err
		}
		defer func() {
			if err := closeInbox(); err != nil {
				logger.Warn("inbox close failed", "err", err)
			}
		}()
		boards, err := listener.NewTaskBoards(svc, s.readModels, inbox, logger.With("component", "listener"), metrics)
		if err != nil {
			return fmt.Errorf("configure listeners: %w", err)
		}
		logger.Info("listeners enabled", "group", env.cfg.Bus.Group, "inbox", env.cfg.Inbox.Backend)
		g.Go(func() error { return quietOnShutdown(gctx, boards.Run(gctx, eventBus, env.cfg.Bus.Group)) })
	}

	g.Go(func() error {
		logger.Info("http server starting", "bind", env.cfg.Server.HTTPBind,
			"api", env.cfg.Server.APIEndpoint, "mcp", env.cfg.Server.MCPEndpoint)
		return server.Run(gctx, server.Config{
			HTTPBind:      env.cfg.Server.HTTPBind,
			APIEndpoint:   env.cfg.Server.APIEndpoint,
			MCPEndpoint:   env.cfg.Server.MCPEndpoint,
			ServerName:    env.appName,
			ServerVersion: version,
		}, server.Dependencies{
			Commands: adapter,
			Queries:  adapter,
			Metrics:  promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		})
	})

	if err := g.Wait(); err != nil {
		logger.Error("serve stopped with error", "err", err)
		return err
	}
	logger.Info("serve stopped")
	return nil
}

// runRebuild replays the whole feed into empty read models. The outbox keeps
// its publish state across the replay, so pending notifications stay pending
// and sent ones are not sent again unless republish is set.
func runRebuild(ctx context.Context, env *runtimeEnv, republish bool, out io.Writer) error {
	s, err := openStores(env, true)
	if err != nil {
		return err
	}
	defer s.close(env.logger)

	runners, err := newRunners(env.cfg, s, env.logger, nil)
	if err != nil {
		return err
	}
	// Every runner shares the store, so one reset clears all of them.
	if err := runners[0].Reset(ctx); err != nil {
		return err
	}
	for _, runner := range runners {
		n, err := runner.CatchUp(ctx)
		if err != nil {
			return fmt.Errorf("replay %s: %w", runner.Name(), err)
		}
		_, _ = fmt.Fprintf(out, "%s: %d events\n", runner.Name(), n)
	}
	if republish {
		requeued, err := s.readModels.RequeueOutbox(ctx)
		if err != nil {
			return err
		}
		env.logger.Info("outbox requeued", "rows", requeued)
		_, _ = fmt.Fprintf(out, "outbox: %d rows requeued\n", requeued)
	}
	pending, err := s.readModels.CountPendingOutbox(ctx)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "outbox: %d rows pending\n", pending)
	return nil
}

func runDispatch(ctx context.Context, env *runtimeEnv, raw []byte, out io.Writer) error {
	s, err := openStores(env, false)
	if err != nil {
		return err
	}
	defer s.close(env.logger)

	adapter := common.NewAppServiceAdapter(newService(env.cfg, s.events), nil)
	result, err := adapter.DispatchCommand(ctx, raw)
	if err != nil {
		env.logger.Error("command rejected", "err", err)
		return err
	}
	env.logger.Info("command accepted", "command_id", result.CommandID, "type", result.Type)
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

// quietOnShutdown drops errors raised after ctx was cancelled; the error that
// triggered the cancellation is already recorded by the errgroup.
func quietOnShutdown(ctx context.Context, err error) error {
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}
