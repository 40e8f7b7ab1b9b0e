// Package app wires every ACN collaborator into one explicit dependency
// graph, built once at boot in cmd/acnd and threaded into the request
// surface. No package-level singletons: every component receives its
// dependencies through this struct, the way the teacher's cmd/gateway/
// main.go builds its server.Dependencies by hand before constructing
// handlers.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-redis/redis/v8"

	"github.com/r3e-network/acn/internal/a2a"
	"github.com/r3e-network/acn/internal/config"
	"github.com/r3e-network/acn/internal/domain/agent"
	"github.com/r3e-network/acn/internal/escrow"
	"github.com/r3e-network/acn/internal/gateway"
	"github.com/r3e-network/acn/internal/httpapi"
	"github.com/r3e-network/acn/internal/logger"
	"github.com/r3e-network/acn/internal/metrics"
	"github.com/r3e-network/acn/internal/middleware"
	"github.com/r3e-network/acn/internal/payment"
	"github.com/r3e-network/acn/internal/ratelimit"
	"github.com/r3e-network/acn/internal/registry"
	"github.com/r3e-network/acn/internal/router"
	"github.com/r3e-network/acn/internal/storage"
	"github.com/r3e-network/acn/internal/storage/kv"
	"github.com/r3e-network/acn/internal/storage/relational"
	"github.com/r3e-network/acn/internal/taskengine"
	"github.com/r3e-network/acn/internal/wallet"
	"github.com/r3e-network/acn/internal/webhook"
)

// App bundles every built collaborator plus the resources it owns (DB/Redis
// connections) so cmd/acnd can hand it straight to httpapi.Server.Routes()
// and close it cleanly on shutdown.
type App struct {
	Config config.Config
	Log    *logger.Logger

	Registry  *registry.Registry
	Gateway   *gateway.Gateway
	Router    *router.Router
	Tasks     *taskengine.Engine
	Payments  *payment.TaskManager
	Discovery *payment.DiscoveryService
	Webhooks  *webhook.Service
	Audit     storage.AuditRepository
	Metrics   *metrics.Metrics

	HTTP *httpapi.Server

	sqlDB *sql.DB
	rdb   *redis.Client
}

// deliverer adapts internal/gateway.Gateway and internal/a2a.ClientCache
// into one router.Deliverer: tunnel-connected agents are reached over the
// websocket, everyone else over a direct HTTP A2A call (spec §4.3 "gateway
// bridges agents without a public endpoint").
type deliverer struct {
	gw    *gateway.Gateway
	cache *a2a.ClientCache
}

func (d *deliverer) Deliver(ctx context.Context, a *agent.Agent, message a2a.Message) (*a2a.DeliverResult, error) {
	if d.gw.HasConnection(a.AgentID) {
		return d.gw.Deliver(ctx, a.AgentID, message)
	}
	return d.cache.For(a.Endpoint).Deliver(ctx, message)
}

// parseRedisURL extracts addr/password/db from a "redis://[:password@]host:port/db"
// URL into kv.Open's discrete arguments, since config carries the DSN form
// (spec §6 configuration) but the storage/kv package takes the teacher's
// Open(addr, password, db) shape directly.
func parseRedisURL(raw string) (addr, password string, db int, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", 0, fmt.Errorf("parse redis url: %w", err)
	}
	addr = u.Host
	if p, ok := u.User.Password(); ok {
		password = p
	}
	db = 0
	if path := strings.TrimPrefix(u.Path, "/"); path != "" {
		n, err := strconv.Atoi(path)
		if err == nil {
			db = n
		}
	}
	return addr, password, db, nil
}

// New builds the full dependency graph from cfg: ephemeral state (liveness,
// active-participant counters, DLQ, broadcast results, message history)
// always lives in Redis (spec §4.1); the five durable repositories live in
// Postgres when DatabaseURL is set, Redis otherwise (spec §4.1 "When no
// relational URL is configured, the Redis adapter also backs the durable
// repositories").
func New(ctx context.Context, cfg config.Config, log *logger.Logger) (*App, error) {
	addr, password, dbIndex, err := parseRedisURL(cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	rdb, err := kv.Open(ctx, addr, password, dbIndex)
	if err != nil {
		return nil, fmt.Errorf("app: open redis: %w", err)
	}

	liveness := kv.NewLivenessStore(rdb)
	activeCounters := kv.NewActiveCounterStore(rdb)
	dlq := kv.NewDLQStore(rdb)
	broadcastResults := kv.NewBroadcastResultStore(rdb)
	msgHistory := kv.NewMessageHistoryStore(rdb)

	var (
		agents     storage.AgentRepository
		subnets    storage.SubnetRepository
		tasks      storage.TaskRepository
		activities storage.ActivityRepository
		auditRepo  storage.AuditRepository
		payments   storage.PaymentTaskRepository
		webhooks   storage.WebhookDeliveryStore
		sqlDB      *sql.DB
	)

	if cfg.DatabaseURL != "" {
		db, err := relational.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("app: open postgres: %w", err)
		}
		sqlDB = db.DB
		if err := relational.Migrate(sqlDB, log); err != nil {
			return nil, fmt.Errorf("app: migrate postgres: %w", err)
		}
		agents = relational.NewAgentStore(db)
		subnets = relational.NewSubnetStore(db)
		tasks = relational.NewTaskStore(db)
		activities = relational.NewActivityStore(db)
		auditRepo = relational.NewAuditStore(db)
		payments = relational.NewPaymentTaskStore(db)
		webhooks = relational.NewWebhookDeliveryStore(db)
	} else {
		agents = kv.NewAgentStore(rdb)
		subnets = kv.NewSubnetStore(rdb)
		tasks = kv.NewTaskStore(rdb)
		activities = kv.NewActivityStore(rdb)
		auditRepo = kv.NewAuditStore(rdb)
		payments = kv.NewPaymentTaskStore(rdb)
		webhooks = kv.NewWebhookDeliveryStore(rdb)
	}
	reg := registry.New(agents, liveness, auditRepo, nil, log)
	gw := gateway.New(cfg.GatewayPublicURL, reg, subnets, auditRepo, log)

	webhookCfg := webhook.Config{
		URL:        cfg.WebhookURL,
		Secret:     cfg.WebhookSecret,
		RetryCount: cfg.WebhookMaxRetries,
		RetryDelay: cfg.WebhookBackoffBase,
		Enabled:    cfg.WebhookURL != "",
	}
	webhookSvc := webhook.New(webhookCfg, webhooks, log)

	rtr := router.New(reg, &deliverer{gw: gw, cache: a2a.NewClientCache()}, msgHistory, dlq, broadcastResults, auditRepo, log)

	var walletClient *wallet.Client
	if cfg.WalletBaseURL != "" {
		walletClient, err = wallet.New(wallet.Config{BaseURL: cfg.WalletBaseURL})
		if err != nil {
			return nil, fmt.Errorf("app: build wallet client: %w", err)
		}
	}
	var escrowClient *escrow.Client
	if cfg.EscrowBaseURL != "" {
		escrowClient, err = escrow.New(escrow.Config{BaseURL: cfg.EscrowBaseURL, InternalToken: cfg.OperatorToken})
		if err != nil {
			return nil, fmt.Errorf("app: build escrow client: %w", err)
		}
	}

	paymentMgr := payment.NewTaskManager(reg, payments, webhookSvc, log)
	discovery := payment.NewDiscoveryService(reg)

	engine := taskengine.New(taskengine.Deps{
		Tasks:          tasks,
		Activity:       activities,
		Registry:       reg,
		Wallet:         walletClient,
		Escrow:         escrowClient,
		Payments:       paymentMgr,
		Webhooks:       webhookSvc,
		ActiveCounters: activeCounters,
		Log:            log,
	})

	m := metrics.New("acn", "dev")
	jwks := middleware.NewJWKSVerifier(cfg.IdentityProviderDomain, cfg.IdentityProviderAudience, cfg.JWKSCacheTTL)
	limiters := ratelimit.NewRegistry()

	httpSrv := &httpapi.Server{
		Registry:           reg,
		Gateway:            gw,
		Router:             rtr,
		Tasks:              engine,
		Payments:           paymentMgr,
		Discovery:          discovery,
		Webhooks:           webhookSvc,
		Audit:              auditRepo,
		Metrics:            m,
		JWKS:               jwks,
		Limiters:           limiters,
		Log:                log,
		OperatorToken:      cfg.OperatorToken,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
	}

	return &App{
		Config:    cfg,
		Log:       log,
		Registry:  reg,
		Gateway:   gw,
		Router:    rtr,
		Tasks:     engine,
		Payments:  paymentMgr,
		Discovery: discovery,
		Webhooks:  webhookSvc,
		Audit:     auditRepo,
		Metrics:   m,
		HTTP:      httpSrv,
		sqlDB:     sqlDB,
		rdb:       rdb,
	}, nil
}

// Close releases every connection App opened.
func (a *App) Close() error {
	var firstErr error
	if a.sqlDB != nil {
		if err := a.sqlDB.Close(); err != nil {
			firstErr = err
		}
	}
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
