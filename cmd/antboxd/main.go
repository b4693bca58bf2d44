// Command antboxd boots the Antbox core service graph: one Node Service,
// Identity service set, Feature Service, Audit Log, event bus, JS runtime
// engine, and rate limiter per configured tenant, and serves them over HTTP
// through the httpapi router until SIGINT or SIGTERM.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/kindalus/antbox-sub000/core/audit"
	"github.com/kindalus/antbox-sub000/core/auth"
	"github.com/kindalus/antbox-sub000/core/event"
	"github.com/kindalus/antbox-sub000/core/feature"
	"github.com/kindalus/antbox-sub000/core/feature/runtime"
	"github.com/kindalus/antbox-sub000/core/identity"
	"github.com/kindalus/antbox-sub000/core/node"
	"github.com/kindalus/antbox-sub000/core/ratelimit"
	"github.com/kindalus/antbox-sub000/httpapi"
	"github.com/kindalus/antbox-sub000/platform/config"
	"github.com/kindalus/antbox-sub000/platform/logging"
)

// tenantServices is the fully wired service graph for a single tenant.
type tenantServices struct {
	tenant  string
	nodes   *node.Service
	users   *identity.UserService
	groups  *identity.GroupService
	apiKeys *identity.APIKeyService
	aspects *identity.AspectService
	feature *feature.Service
	audit   *audit.Log
	bus     *event.Bus
}

// app is the whole running process: one tenantServices per configured
// tenant.
type app struct {
	cfg     *config.Config
	logger  *logging.Logger
	tenants map[string]*tenantServices
}

// buildTenant wires a tenant's own Engine and Limiter from its config,
// rather than sharing either process-wide: feature UUIDs are only unique
// within a tenant's own namespace, so a shared, process-wide cache/limiter
// keyed on them would let one tenant's feature collide with another's.
func buildTenant(cfg config.TenantConfig, logger *logging.Logger) *tenantServices {
	engine := runtime.New(runtime.WithCacheTTL(cfg.FeatureCacheTTL))
	limiter := ratelimit.New(ratelimit.WithWindow(cfg.RateLimitWindow), ratelimit.WithMaxInFlight(cfg.RateLimitMaxInFlt))

	bus := event.New(func(evt event.Event, handlerName string, err error) {
		logger.WithContext(context.Background()).
			WithField("tenant", cfg.ID).
			WithField("handler", handlerName).
			WithField("event_kind", evt.Kind).
			WithError(err).
			Warn("event handler failed")
	})

	userRepo := identity.NewMemoryConfigRepository[identity.User]()
	groupRepo := identity.NewMemoryConfigRepository[identity.Group]()
	apiKeyRepo := identity.NewMemoryConfigRepository[identity.APIKey]()
	aspectRepo := identity.NewMemoryConfigRepository[identity.Aspect]()
	featRepo := identity.NewMemoryConfigRepository[feature.Feature]()

	nodeRepo := node.NewMemoryRepository()
	storage := node.NewMemoryStorage()
	nodeSvc := node.NewService(nodeRepo, storage, bus, node.WithAspectValidator(identity.NewValidator(aspectRepo)))

	users := identity.NewUserService(userRepo)
	groups := identity.NewGroupService(groupRepo)
	apiKeys := identity.NewAPIKeyService(apiKeyRepo)
	aspects := identity.NewAspectService(aspectRepo)

	featSvc := feature.NewService(featRepo, groups, nodeSvc, bus, engine, limiter, logger)
	auditLog := audit.New(bus, logger)

	return &tenantServices{
		tenant:  cfg.ID,
		nodes:   nodeSvc,
		users:   users,
		groups:  groups,
		apiKeys: apiKeys,
		aspects: aspects,
		feature: featSvc,
		audit:   auditLog,
		bus:     bus,
	}
}

func newApp(cfg *config.Config, logger *logging.Logger) *app {
	a := &app{
		cfg:     cfg,
		logger:  logger,
		tenants: make(map[string]*tenantServices),
	}
	for _, tc := range cfg.Tenants {
		a.tenants[tc.ID] = buildTenant(tc, logger)
	}
	return a
}

// resolver implements httpapi.TenantResolver over the app's tenant map.
func (a *app) resolver(tenantID string) (*node.Service, *feature.Service, bool) {
	t, ok := a.tenants[tenantID]
	if !ok {
		return nil, nil, false
	}
	return t.nodes, t.feature, true
}

// authenticator resolves the Api-Key header against the requesting
// tenant's own API key service, delegating the per-key lookup to
// httpapi.APIKeyAuthenticator once the tenant is known.
type authenticator struct{ app *app }

func (a authenticator) Authenticate(r *http.Request, tenant string) auth.Principal {
	t, ok := a.app.tenants[tenant]
	if !ok {
		return auth.Anonymous()
	}
	return httpapi.APIKeyAuthenticator{Keys: t.apiKeys}.Authenticate(r, tenant)
}

func (a *app) shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		for _, t := range a.tenants {
			t.bus.Close()
		}
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func main() {
	var (
		configPath = flag.String("config", "", "path to a YAML/JSON config file (defaults to built-in config)")
		logLevel   = flag.String("log-level", "", "override the configured log level (trace|debug|info|warn|error)")
	)
	flag.Parse()

	cfg := config.LoadFromPathOrDefault(*configPath)
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	logger := logging.New("antboxd", cfg.LogLevel, cfg.LogFmt)
	logging.InitDefault("antboxd", cfg.LogLevel, cfg.LogFmt)

	application := newApp(cfg, logger)

	zlog := zerolog.New(os.Stdout).With().Timestamp().Str("service", "antboxd").Logger()
	router := httpapi.NewRouter(application.resolver, authenticator{app: application}, zlog)
	server := &http.Server{Addr: cfg.BindAddr, Handler: router}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	logger.WithContext(context.Background()).
		WithField("bind_addr", cfg.BindAddr).
		WithField("tenants", len(application.tenants)).
		Info("antboxd listening")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.WithContext(context.Background()).Info("shutdown signal received")
	case err := <-errCh:
		fmt.Fprintf(os.Stderr, "antboxd: server error: %v\n", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "antboxd: http shutdown did not complete cleanly: %v\n", err)
	}
	if err := application.shutdown(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "antboxd: service shutdown did not complete cleanly: %v\n", err)
		os.Exit(1)
	}
}
