package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nintynick/openclaw-mission-control-sub001/internal/adapter/anthropic"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/adapter/gateway"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/adapter/litellm"
	cfnats "github.com/nintynick/openclaw-mission-control-sub001/internal/adapter/nats"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/adapter/natskv"
	cfotel "github.com/nintynick/openclaw-mission-control-sub001/internal/adapter/otel"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/adapter/postgres"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/adapter/ristretto"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/adapter/tiered"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/config"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/domain/gardener"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/port/broadcast"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/port/llm"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/port/taskqueue"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/resilience"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/secrets"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/service"
)

// Environment keys held in the secret vault and reread on SIGHUP.
const (
	secretLiteLLMKey   = "LITELLM_MASTER_KEY"
	secretAnthropicKey = "ANTHROPIC_API_KEY"
)

// infra owns the process-wide connections. close runs in reverse order.
type infra struct {
	pool    *pgxpool.Pool
	store   *postgres.Store
	mq      *cfnats.Queue
	metrics *cfotel.Metrics
	vault   *secrets.Vault
	closers []func()
}

func (in *infra) close() {
	for i := len(in.closers) - 1; i >= 0; i-- {
		in.closers[i]()
	}
}

// connect opens Postgres, NATS and telemetry. Migrations are not applied
// here; run `missioncontrol migrate up` first.
func (a *app) connect(ctx context.Context) (*infra, error) {
	cfg := a.cfg
	in := &infra{}

	shutdown, err := cfotel.Setup(ctx, cfg.OTEL)
	if err != nil {
		return nil, err
	}
	in.closers = append(in.closers, func() {
		if err := shutdown(context.Background()); err != nil {
			slog.Warn("otel shutdown failed", "error", err)
		}
	})
	if in.metrics, err = cfotel.NewMetrics(); err != nil {
		in.close()
		return nil, fmt.Errorf("metrics: %w", err)
	}

	in.pool, err = postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		in.close()
		return nil, fmt.Errorf("postgres: %w", err)
	}
	in.closers = append(in.closers, in.pool.Close)
	in.store = postgres.NewStore(in.pool)
	slog.Info("postgres connected", "max_conns", cfg.Postgres.MaxConns)

	in.mq, err = cfnats.Connect(ctx, cfg.NATS.URL)
	if err != nil {
		in.close()
		return nil, fmt.Errorf("nats: %w", err)
	}
	in.closers = append(in.closers, func() {
		if err := in.mq.Drain(); err != nil {
			slog.Warn("nats drain failed", "error", err)
		}
	})

	in.vault, err = secrets.NewVault(secrets.EnvLoader(map[string]string{
		secretLiteLLMKey:   cfg.LiteLLM.MasterKey,
		secretAnthropicKey: cfg.Anthropic.APIKey,
	}, secretLiteLLMKey, secretAnthropicKey))
	if err != nil {
		in.close()
		return nil, err
	}
	return in, nil
}

// watchReload rereads provider secrets on SIGHUP until ctx ends.
func watchReload(ctx context.Context, vault *secrets.Vault) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := vault.Reload(); err != nil {
				slog.Error("secrets reload failed", "error", err)
				continue
			}
			slog.Info("secrets reloaded", "keys", vault.Loaded())
		}
	}
}

// services is the wired service graph shared by serve and worker.
type services struct {
	queue         *service.QueueService
	zones         *service.ZoneService
	gardener      *service.GardenerService
	proposals     *service.ProposalService
	escalations   *service.EscalationService
	lifecycle     *service.LifecycleService
	permissions   *service.PermissionService
	evaluations   *service.EvaluationService
	notifications *service.NotificationService
	audit         *service.AuditService
	breakers      []*resilience.Breaker
}

// buildServices wires the services on top of in. hub may be nil in
// processes without dashboard clients.
func (a *app) buildServices(ctx context.Context, in *infra, hub broadcast.Broadcaster) (*services, error) {
	cfg := a.cfg

	backend, err := queueBackend(cfg.Queue, in)
	if err != nil {
		return nil, err
	}
	q := service.NewQueueService(backend, cfg.Queue.Name)

	zoneCache, err := newZoneCache(ctx, cfg.Cache, in)
	if err != nil {
		return nil, err
	}

	s := &services{queue: q, audit: service.NewAuditService(in.store)}

	gardenerBreaker := resilience.NewBreaker("gardener", cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)
	selector, err := newSelector(cfg, in.vault, gardenerBreaker)
	if err != nil {
		return nil, err
	}
	if selector != nil {
		s.breakers = append(s.breakers, gardenerBreaker)
	}

	gatewayBreaker := resilience.NewBreaker("gateway", cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)
	s.breakers = append(s.breakers, gatewayBreaker)
	waker := gateway.NewClient(in.store, cfg.Lifecycle.WakeTimeout)
	waker.SetMaxConcurrent(cfg.Lifecycle.MaxConcurrentWakes)
	waker.SetBreaker(gatewayBreaker)

	s.zones = service.NewZoneService(in.store, zoneCache, cfg.Cache.ZoneTTL)
	s.gardener = service.NewGardenerService(in.store, selector, cfg.Gardener)
	s.proposals = service.NewProposalService(in.store, s.zones, s.gardener)
	s.escalations = service.NewEscalationService(in.store, s.zones, s.proposals, cfg.Escalation)
	s.lifecycle = service.NewLifecycleService(in.store, waker, q, cfg.Lifecycle)
	s.permissions = service.NewPermissionService(in.store, s.zones)
	s.evaluations = service.NewEvaluationService(in.store, s.zones, s.permissions)
	s.notifications = service.NewNotificationService(q, in.mq, hub, nil)

	s.gardener.SetMetrics(in.metrics)
	s.proposals.SetMetrics(in.metrics)
	s.escalations.SetMetrics(in.metrics)
	s.lifecycle.SetMetrics(in.metrics)

	s.zones.SetNotifier(s.notifications)
	s.proposals.SetNotifier(s.notifications)
	s.escalations.SetNotifier(s.notifications)
	s.lifecycle.SetNotifier(s.notifications)
	s.evaluations.SetNotifier(s.notifications)

	if hub != nil {
		s.zones.SetBroadcaster(hub)
		s.proposals.SetBroadcaster(hub)
		s.escalations.SetBroadcaster(hub)
		s.lifecycle.SetBroadcaster(hub)
	}
	return s, nil
}

func queueBackend(cfg config.Queue, in *infra) (taskqueue.Backend, error) {
	switch cfg.Backend {
	case "postgres":
		return postgres.NewTaskQueue(in.pool), nil
	case "nats":
		return cfnats.NewTaskQueue(in.mq), nil
	default:
		return nil, fmt.Errorf("unknown queue backend %q", cfg.Backend)
	}
}

// newZoneCache stacks an in-process ristretto L1 over a NATS KV L2 shared by
// every replica.
func newZoneCache(ctx context.Context, cfg config.Cache, in *infra) (*tiered.Cache, error) {
	l1, err := ristretto.New(cfg.L1MaxSizeMB)
	if err != nil {
		return nil, fmt.Errorf("l1 cache: %w", err)
	}
	in.closers = append(in.closers, l1.Close)

	l2, err := natskv.Open(ctx, in.mq.JetStream(), cfg.L2Bucket, cfg.L2TTL)
	if err != nil {
		return nil, fmt.Errorf("l2 cache: %w", err)
	}
	return tiered.New(l1, l2, cfg.ZoneTTL), nil
}

// newSelector returns the AI reviewer ranker for the configured provider,
// or nil when AI selection is disabled.
func newSelector(cfg *config.Config, vault *secrets.Vault, breaker *resilience.Breaker) (gardener.Selector, error) {
	var completer llm.Completer
	switch cfg.Gardener.Provider {
	case "none", "":
		return nil, nil
	case "litellm":
		c := litellm.NewClient(cfg.LiteLLM.URL, cfg.LiteLLM.MasterKey)
		c.SetBreaker(breaker)
		c.SetKeySource(vault.Source(secretLiteLLMKey))
		completer = c
	case "anthropic":
		c, err := anthropic.New(vault.Get(secretAnthropicKey))
		if err != nil {
			return nil, err
		}
		c.SetBreaker(breaker)
		c.SetKeySource(vault.Source(secretAnthropicKey))
		completer = c
	default:
		return nil, fmt.Errorf("unknown gardener provider %q", cfg.Gardener.Provider)
	}
	return service.NewAISelector(redactingCompleter{completer, vault}, cfg.Gardener), nil
}

// redactingCompleter masks provider keys echoed back in upstream errors
// before they reach the gardener fallback log.
type redactingCompleter struct {
	llm.Completer
	vault *secrets.Vault
}

func (c redactingCompleter) Complete(ctx context.Context, req llm.CompletionRequest) (string, error) {
	out, err := c.Completer.Complete(ctx, req)
	return out, c.vault.RedactError(err)
}

// originHost turns a CORS origin into the host pattern the WebSocket
// handshake checks.
func originHost(origin string) string {
	if u, err := url.Parse(origin); err == nil && u.Host != "" {
		return u.Host
	}
	return origin
}
