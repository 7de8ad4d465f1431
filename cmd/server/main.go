// Command server is the agent-iam composition root: it loads configuration,
// wires every C1-C12 component, mounts the HTTP API, and serves until
// signaled to shut down. Grounded on cmd/locky/main.go's flag/env-driven
// bootstrap, extended with the graceful shutdown that entrypoint lacked.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/agent-iam/iam/internal/audit"
	"github.com/agent-iam/iam/internal/authz"
	"github.com/agent-iam/iam/internal/capability"
	"github.com/agent-iam/iam/internal/config"
	"github.com/agent-iam/iam/internal/core"
	"github.com/agent-iam/iam/internal/crypto"
	"github.com/agent-iam/iam/internal/httpapi"
	"github.com/agent-iam/iam/internal/identity"
	"github.com/agent-iam/iam/internal/logging"
	"github.com/agent-iam/iam/internal/metrics"
	"github.com/agent-iam/iam/internal/orchestrate"
	"github.com/agent-iam/iam/internal/policy"
	"github.com/agent-iam/iam/internal/ratelimit"
	"github.com/agent-iam/iam/internal/sessions"
	"github.com/agent-iam/iam/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	environment := flag.String("env", getEnv("APP_ENV", ""), "Config environment overlay (e.g. production)")
	autoMigrate := flag.Bool("auto-migrate", getEnvBool("AUTO_MIGRATE", true), "Auto-run database migrations on startup")
	flag.Parse()

	cfg, err := config.Load(*environment)
	if err != nil {
		zerolog.New(os.Stderr).With().Timestamp().Logger().Fatal().Err(err).Msg("load config")
	}

	log := logging.New(cfg.Log.Level, cfg.Log.Pretty)
	log.Info().Str("env", *environment).Msg("starting agent-iam")

	gormStore, err := store.New(cfg.Database.URL, cfg.Database.MaxOpenConn, cfg.Database.MaxIdleConn)
	if err != nil {
		log.Fatal().Err(err).Msg("connect to database")
	}
	if *autoMigrate {
		if err := gormStore.AutoMigrate(); err != nil {
			log.Fatal().Err(err).Msg("run migrations")
		}
	}

	rdb := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{cfg.Redis.URL}})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatal().Err(err).Msg("connect to redis")
	}

	m := metrics.New()
	registry := prometheus.NewRegistry()
	registry.MustRegister(m.All()...)

	clock := core.RealClock{}

	passwordHasher := crypto.NewPasswordHasher()
	jwtManager, err := crypto.NewJWTManager(cfg.Auth.JWTSecret, cfg.AccessTokenTTL(), cfg.RefreshTokenTTL())
	if err != nil {
		log.Fatal().Err(err).Msg("build jwt manager")
	}
	capabilityManager, err := capability.NewManager(cfg.Auth.BiscuitRootKeyHex, cfg.Auth.BiscuitRootKeyID)
	if err != nil {
		log.Fatal().Err(err).Msg("build capability manager")
	}

	revocation := sessions.NewRevocationSet(rdb)
	sessionService := sessions.NewService(gormStore.Sessions(), revocation, clock)

	identityService := identity.NewService(gormStore.Identities(), clock)

	policyEngine, err := policy.NewEngine(gormStore.Policies())
	if err != nil {
		log.Fatal().Err(err).Msg("build policy engine")
	}
	if _, err := policyEngine.Reload(context.Background()); err != nil {
		log.Warn().Err(err).Msg("initial policy reload failed; serving with an empty working set")
	}

	evaluator := authz.NewEvaluator(gormStore.Identities(), policyEngine)

	limiter := ratelimit.NewLimiter(rdb)

	storageBackends := make([]core.AuditStorage, 0, len(cfg.Audit.StorageBackends))
	for _, backend := range cfg.Audit.StorageBackends {
		switch backend {
		case "postgres":
			storageBackends = append(storageBackends, audit.NewGormStorage(gormStore.AuditEvents()))
		default:
			log.Warn().Str("backend", backend).Msg("unknown audit storage backend, skipping")
		}
	}
	if len(storageBackends) == 0 {
		storageBackends = append(storageBackends, audit.NewGormStorage(gormStore.AuditEvents()))
	}
	auditStorage := audit.NewFanOut(storageBackends...)
	auditPipeline := audit.NewPipeline(auditStorage, audit.Config{
		BatchSize:     cfg.Audit.AsyncBatchSize,
		FlushInterval: cfg.AuditFlushInterval(),
		ChannelBuffer: cfg.Audit.ChannelBufferSize,
	}, m, log)

	orchestrator := orchestrate.New(
		identityService, sessionService, passwordHasher, jwtManager, capabilityManager,
		evaluator, limiter, auditPipeline, clock, m,
		orchestrate.Config{
			AuthRateLimit: cfg.RateLimit.AuthRequestsPerMinute,
			AuthWindow:    time.Minute,
		},
	)

	router := httpapi.NewRouter(httpapi.Deps{
		Auth:     httpapi.NewAuthHandlers(orchestrator, log),
		Identity: httpapi.NewIdentityHandlers(orchestrator, log),
		Authz:    httpapi.NewAuthzHandlers(orchestrator, policyEngine, gormStore.Policies(), log),
		Health:   httpapi.NewHealthHandlers(gormStore.DB()),
		JWT:      jwtManager,
		Sessions: sessionService,
		Log:      log,
		Origins:  cfg.Server.AllowedOrigins,
		Registry: registry,
	})

	addr := cfg.Server.Host + ":" + strconv.Itoa(cfg.Server.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info().Str("addr", addr).Msg("listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown")
	}
	if err := auditPipeline.Close(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("audit pipeline shutdown")
	}
	if err := rdb.Close(); err != nil {
		log.Error().Err(err).Msg("redis shutdown")
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value == "true" || value == "1"
}
