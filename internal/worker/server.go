// Package worker wires the configured collaborators into a poll loop and
// runs it, optionally next to the operator API.
package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"orderflow/internal/api"
	"orderflow/internal/config"
	"orderflow/internal/domain"
	"orderflow/internal/infra/notify"
	"orderflow/internal/infra/process"
	"orderflow/internal/infra/redisstore"
	"orderflow/internal/infra/statefile"
	"orderflow/internal/infra/upstream"
	"orderflow/internal/pipeline"
	"orderflow/internal/ports"
	"orderflow/internal/usecase"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

type Config struct {
	Once   bool
	DryRun bool
	// Listen overrides API_ADDR when set.
	Listen string
}

// Run builds the poller from the environment and polls until SIGINT or
// SIGTERM, or after one cycle in Once mode.
func Run(appCfg *config.Config, cfg Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = log.Logger.WithContext(ctx)

	if appCfg.Upstream.URL == "" {
		return errors.New("UPSTREAM_URL is required")
	}

	deps, err := Build(ctx, appCfg)
	if err != nil {
		return err
	}
	defer deps.Close()

	poller := deps.Poller(appCfg, cfg)

	addr := appCfg.API.Addr
	if cfg.Listen != "" {
		addr = cfg.Listen
	}

	g, gctx := errgroup.WithContext(ctx)
	pollCtx, stopAPI := context.WithCancel(gctx)
	g.Go(func() error {
		defer stopAPI()
		return poller.Run(pollCtx)
	})
	if addr != "" && !cfg.Once {
		server := api.NewServer(poller)
		g.Go(func() error {
			return server.Run(pollCtx, addr)
		})
	}

	err = g.Wait()
	log.Ctx(ctx).Info().Msg("orchestrator stopped")
	return err
}

// Deps are the collaborators built from configuration.
type Deps struct {
	Store    ports.StateStore
	Source   ports.OrderSource
	Reporter usecase.Reporter
	Pipeline usecase.Pipeline

	redis *redisstore.Client
}

// Build constructs every collaborator. Redis is connected only when a state
// backend or notification stream needs it.
func Build(ctx context.Context, cfg *config.Config) (*Deps, error) {
	d := &Deps{}

	store, err := d.stateStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	d.Store = store

	def := pipeline.Default(cfg.Steps.Dir)
	if cfg.Steps.PipelineFile != "" {
		def, err = pipeline.LoadFile(cfg.Steps.PipelineFile)
		if err != nil {
			d.Close()
			return nil, err
		}
	}
	d.Pipeline = usecase.Pipeline{
		Planner: pipeline.Planner{
			Definition: def,
			Resolver:   pipeline.DeliveryResolver{Keywords: cfg.Steps.TerminalKeywords},
			Timeout:    cfg.Steps.Timeout,
			NewStep: func(spec pipeline.StepSpec) ports.Step {
				return process.New(spec.Key, spec.Command)
			},
		},
		BaseEnv: os.Environ(),
	}

	client := upstream.New(cfg.Upstream)
	d.Source = client

	notifiers := notify.Multi{notify.LogNotifier{}}
	if cfg.Notify.WebhookURL != "" {
		notifiers = append(notifiers, notify.NewWebhook(cfg.Notify.WebhookURL, cfg.Notify.Timeout))
	}
	if cfg.Redis.NotifyStream != "" {
		rc, err := d.redisClient(ctx, cfg)
		if err != nil {
			d.Close()
			return nil, err
		}
		notifiers = append(notifiers, redisstore.NewStreamNotifier(rc))
	}
	d.Reporter = usecase.Reporter{
		Status:     client,
		Notifier:   notifiers,
		DoneCode:   cfg.Upstream.DoneCode,
		FailedCode: cfg.Upstream.FailedCode,
	}

	log.Ctx(ctx).Info().
		Str("state_backend", cfg.State.Backend).
		Strs("steps", stepKeys(def)).
		Int("notifiers", len(notifiers)).
		Msg("orchestrator configured")
	return d, nil
}

// Poller assembles the poll loop around the built collaborators.
func (d *Deps) Poller(appCfg *config.Config, cfg Config) *usecase.Poller {
	return &usecase.Poller{
		Source:   d.Source,
		Store:    d.Store,
		Executor: d.Pipeline,
		Policy: usecase.RetryPolicy{
			Base:        appCfg.Retry.BackoffBase,
			Max:         appCfg.Retry.BackoffMax,
			MaxAttempts: appCfg.Retry.MaxAttempts,
		},
		Outcomes: d.Reporter,
		Config: usecase.PollerConfig{
			Interval:        appCfg.Loop.PollInterval,
			BatchSize:       appCfg.Loop.BatchSize,
			MaxProcessedIDs: appCfg.Loop.MaxProcessedIDs,
			Once:            cfg.Once,
			DryRun:          cfg.DryRun,
		},
	}
}

func (d *Deps) Close() {
	if d.redis == nil {
		return
	}
	if err := d.redis.Close(); err != nil {
		log.Error().Err(err).Msg("closing redis client")
	}
}

func (d *Deps) stateStore(ctx context.Context, cfg *config.Config) (ports.StateStore, error) {
	return OpenStore(ctx, cfg, d.redisClient)
}

func (d *Deps) redisClient(ctx context.Context, cfg *config.Config) (*redisstore.Client, error) {
	if d.redis != nil {
		return d.redis, nil
	}
	if !cfg.Redis.Enabled() {
		return nil, errors.New("REDIS_ADDRESS is required")
	}
	c := redisstore.New(cfg.Redis)
	if err := c.Connect(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}
	d.redis = c
	return c, nil
}

// OpenStore returns the configured state store. connect is called only for
// the redis backend.
func OpenStore(ctx context.Context, cfg *config.Config, connect func(context.Context, *config.Config) (*redisstore.Client, error)) (ports.StateStore, error) {
	switch strings.ToLower(cfg.State.Backend) {
	case "file":
		return statefile.New(cfg.State.File), nil
	case "redis":
		c, err := connect(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("state backend: %w", err)
		}
		return redisstore.NewStateStore(c), nil
	default:
		return nil, fmt.Errorf("unknown state backend %q", cfg.State.Backend)
	}
}

// OpenStoreOnly opens the state store for offline commands. The returned
// func releases any connection.
func OpenStoreOnly(ctx context.Context, cfg *config.Config) (ports.StateStore, func(), error) {
	d := &Deps{}
	store, err := d.stateStore(ctx, cfg)
	if err != nil {
		return nil, func() {}, err
	}
	return store, d.Close, nil
}

// ReadState loads the persisted state for inspection. Stores that support it
// are read without side effects, so a corrupt document is reported instead
// of quarantined.
func ReadState(ctx context.Context, cfg *config.Config) (*domain.State, error) {
	store, closeStore, err := OpenStoreOnly(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer closeStore()

	if r, ok := store.(ports.StateReader); ok {
		return r.Read(ctx)
	}
	return store.Load(ctx)
}

func stepKeys(def pipeline.Definition) []string {
	keys := make([]string, len(def.Steps))
	for i, s := range def.Steps {
		keys[i] = s.Key
	}
	return keys
}
