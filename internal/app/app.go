package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/admin-rbac/internal/config"
	adminHandler "github.com/jwalitptl/admin-rbac/internal/handler/admin"
	auditHandler "github.com/jwalitptl/admin-rbac/internal/handler/audit"
	"github.com/jwalitptl/admin-rbac/internal/handler/health"
	rbacHandler "github.com/jwalitptl/admin-rbac/internal/handler/rbac"
	"github.com/jwalitptl/admin-rbac/internal/middleware"
	"github.com/jwalitptl/admin-rbac/internal/permission"
	"github.com/jwalitptl/admin-rbac/internal/repository"
	"github.com/jwalitptl/admin-rbac/internal/repository/memory"
	"github.com/jwalitptl/admin-rbac/internal/repository/postgres"
	"github.com/jwalitptl/admin-rbac/internal/router"
	"github.com/jwalitptl/admin-rbac/internal/service/admin"
	"github.com/jwalitptl/admin-rbac/internal/service/assignment"
	"github.com/jwalitptl/admin-rbac/internal/service/audit"
	"github.com/jwalitptl/admin-rbac/internal/service/rbac"
	"github.com/jwalitptl/admin-rbac/internal/service/role"
	"github.com/jwalitptl/admin-rbac/pkg/auth"
	"github.com/jwalitptl/admin-rbac/pkg/logger"
	"github.com/jwalitptl/admin-rbac/pkg/messaging"
	"github.com/jwalitptl/admin-rbac/pkg/messaging/redis"
	"github.com/jwalitptl/admin-rbac/pkg/metrics"
	"github.com/jwalitptl/admin-rbac/pkg/security"
)

// Store is the transaction boundary of the selected storage driver.
type Store interface {
	repository.Transactor
	Ping(ctx context.Context) error
}

type repositories struct {
	roles         repository.RoleRepository
	assignments   repository.AssignmentRepository
	audit         repository.AuditRepository
	users         repository.UserRepository
	organizations repository.OrganizationRepository
}

// App holds the wired services shared by the API server and the operator
// CLI.
type App struct {
	Config   *config.Config
	Logger   *logger.Logger
	Catalog  *permission.Catalog
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics

	Store  Store
	DB     *sqlx.DB
	Redis  *goredis.Client
	Broker messaging.Broker

	Engine      *rbac.Engine
	Auditor     *audit.Service
	Roles       *role.Service
	Assignments *assignment.Service
	Admin       *admin.Service
	Tokens      *auth.TokenService

	closers []func() error
}

// New connects the configured backends and builds every service. The
// caller owns the result and must Close it.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (_ *App, err error) {
	a := &App{
		Config:   cfg,
		Logger:   log,
		Catalog:  permission.Default(),
		Registry: prometheus.NewRegistry(),
	}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	a.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.Metrics = metrics.New(cfg.Metrics.Namespace, a.Registry)

	repos, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}

	if cfg.Cache.Driver == "redis" || cfg.Audit.Publish {
		if err := a.openRedis(ctx); err != nil {
			return nil, err
		}
	}

	var cache rbac.Cache
	switch cfg.Cache.Driver {
	case "memory":
		cache = rbac.NewMemoryCache(cfg.Cache.TTL)
	case "redis":
		cache = rbac.NewRedisCache(a.Redis, cfg.Cache.TTL)
	default:
		cache = rbac.NoCache{}
	}

	var auditOpts []audit.Option
	if cfg.Audit.Publish {
		a.Broker = redis.NewRedisBroker(a.Redis, log)
		a.closers = append(a.closers, a.Broker.Close)
		auditOpts = append(auditOpts, audit.WithPublisher(audit.NewPublisher(a.Broker, cfg.Audit.Channel, a.Metrics, log)))
	}

	a.Auditor = audit.NewService(repos.audit, a.Metrics, log, auditOpts...)
	a.Engine = rbac.NewEngine(repos.assignments, cache, a.Metrics, log)
	a.Roles = role.NewService(a.Store, repos.roles, a.Catalog, a.Engine, a.Auditor, log)
	a.Assignments = assignment.NewService(repos.assignments, a.Engine, log)
	a.Admin = admin.NewService(admin.Deps{
		Tx:                a.Store,
		Engine:            a.Engine,
		Auditor:           a.Auditor,
		Roles:             a.Roles,
		Assignments:       a.Assignments,
		Users:             repos.users,
		Organizations:     repos.organizations,
		Hasher:            security.NewBcryptHasher(security.DefaultCost),
		Metrics:           a.Metrics,
		Logger:            log,
		AuditWriteTimeout: cfg.Audit.WriteTimeout,
	})
	a.Tokens = auth.NewTokenService(cfg.JWT.Secret, cfg.JWT.Issuer, time.Duration(cfg.JWT.ExpiryHours)*time.Hour)

	return a, nil
}

func (a *App) openStore(ctx context.Context) (repositories, error) {
	switch a.Config.Storage.Driver {
	case "memory":
		store := memory.New()
		a.Store = store
		return repositories{
			roles:         store.Roles(),
			assignments:   store.Assignments(),
			audit:         store.Audit(),
			users:         store.Users(),
			organizations: store.Organizations(),
		}, nil
	default:
		db, err := postgres.NewDB(ctx, a.Config.Database)
		if err != nil {
			return repositories{}, err
		}
		a.DB = db
		a.closers = append(a.closers, db.Close)
		a.Store = postgres.NewTransactor(db)
		return repositories{
			roles:         postgres.NewRoleRepository(db),
			assignments:   postgres.NewAssignmentRepository(db),
			audit:         postgres.NewAuditRepository(db),
			users:         postgres.NewUserRepository(db),
			organizations: postgres.NewOrganizationRepository(db),
		}, nil
	}
}

func (a *App) openRedis(ctx context.Context) error {
	client, err := redis.NewClient(ctx, redis.Config{
		URL:          a.Config.Redis.URL,
		MaxRetries:   a.Config.Redis.MaxRetries,
		RetryBackoff: a.Config.Redis.RetryBackoff,
		PoolSize:     a.Config.Redis.PoolSize,
		MinIdleConns: a.Config.Redis.MinIdleConns,
	})
	if err != nil {
		return err
	}
	a.Redis = client
	a.closers = append(a.closers, client.Close)
	return nil
}

// Router builds the HTTP surface. Request validators are registered against
// the catalog first so route guards and bodies agree on what exists.
func (a *App) Router() (*router.Router, error) {
	if err := middleware.RegisterValidators(a.Catalog); err != nil {
		return nil, err
	}

	authMiddleware := middleware.NewAuthMiddleware(a.Tokens, a.Engine, a.Auditor, a.Catalog, a.Logger)

	r, err := router.NewRouter(authMiddleware, router.Handlers{
		Health: health.NewHandler(a.Store),
		Admin:  adminHandler.NewHandler(a.Admin),
		Audit:  auditHandler.NewHandler(a.Auditor, authMiddleware),
		RBAC:   rbacHandler.NewHandler(a.Roles, a.Admin, a.Engine, authMiddleware),
	}, router.RouterConfig{
		RateLimitEnabled: a.Config.RateLimit.Enabled,
		RateLimit:        rate.Limit(a.Config.RateLimit.RequestsPerSecond),
		RateBurst:        a.Config.RateLimit.Burst,
		RequestTimeout:   a.Config.Server.RequestTimeout,
		TrustedProxies:   a.Config.Server.TrustedProxies,
		CORSConfig: middleware.CORSConfig{
			AllowOrigins: a.Config.Server.CORSOrigins,
			MaxAge:       a.Config.Server.CORSMaxAge,
		},
		MetricsNamespace: a.Config.Metrics.Namespace,
		Registerer:       a.Registry,
		Gatherer:         a.Registry,
	})
	if err != nil {
		return nil, err
	}
	r.Setup()
	return r, nil
}

// Close releases backends in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if len(errs) > 0 {
		return fmt.Errorf("failed to close app: %w", errors.Join(errs...))
	}
	return nil
}
