// Server runs the session API over HTTP and the gRPC health service.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"sessionguard/backend/internal/audit"
	auditrepo "sessionguard/backend/internal/audit/repository"
	"sessionguard/backend/internal/config"
	"sessionguard/backend/internal/db"
	"sessionguard/backend/internal/delivery"
	healthhandler "sessionguard/backend/internal/health/handler"
	identityservice "sessionguard/backend/internal/identity/service"
	"sessionguard/backend/internal/kv"
	policyengine "sessionguard/backend/internal/policy/engine"
	"sessionguard/backend/internal/revocation"
	"sessionguard/backend/internal/security"
	"sessionguard/backend/internal/server"
	"sessionguard/backend/internal/server/interceptors"
	sessionservice "sessionguard/backend/internal/session/service"
	"sessionguard/backend/internal/telemetry"
	"sessionguard/backend/internal/telemetry/metrics"
	telemetryotel "sessionguard/backend/internal/telemetry/otel"
	"sessionguard/backend/internal/telemetry/producer"
	userrepo "sessionguard/backend/internal/user/repository"
)

const (
	serviceName         = "sessionguard"
	healthInterval      = 10 * time.Second
	shutdownGracePeriod = 15 * time.Second
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	providers, err := telemetryotel.NewProviders(ctx, cfg.OTLPEndpoint, serviceName, cfg.OTLPInsecure)
	if err != nil {
		return err
	}
	providers.SetGlobal()
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = providers.Shutdown(sctx)
	}()

	logger := newLogger(cfg, providers)
	slog.SetDefault(logger)

	if !cfg.HasSigningMaterial() {
		logger.Warn("no signing material configured; using ephemeral HMAC secrets, tokens will not survive a restart")
	}

	client, err := kv.NewClient(ctx, cfg.RedisURL)
	if err != nil {
		return err
	}
	defer client.Close()

	tx := kv.NewExecutor(client, kv.Options{
		MaxAttempts: cfg.TxMaxAttempts,
		BackoffBase: cfg.TxBackoffBase,
		BackoffCap:  cfg.TxBackoffCap,
	})
	engine, err := sessionservice.NewEngine(client, tx, sessionservice.Config{
		RefreshTTL:      cfg.RefreshTTL,
		AccessTTL:       cfg.AccessTTL,
		ReuseGraceMax:   cfg.ReuseGraceMax,
		LogoutBatchSize: cfg.LogoutBatchSize,
	})
	if err != nil {
		return err
	}
	ledger := revocation.NewLedger(client)

	tokens, err := newTokenProvider(cfg)
	if err != nil {
		return err
	}
	policy, err := policyengine.NewOPAEvaluatorFromFile(ctx, cfg.ReusePolicyPath, logger)
	if err != nil {
		return err
	}

	var (
		users  identityservice.UserRepo
		events auditrepo.Repository
		dbPing healthhandler.Pinger
	)
	if cfg.DatabaseURL != "" {
		var pool *sql.DB
		pool, err = db.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer pool.Close()
		users = userrepo.NewPostgresRepository(pool)
		events = auditrepo.NewPostgresRepository(pool)
		dbPing = db.Pinger{DB: pool}
	} else {
		logger.Warn("DATABASE_URL not set; register and login are disabled")
	}

	kafkaProducer := producer.NewKafkaProducer(cfg.KafkaBrokersList(), cfg.SecurityEventsTopic)
	defer kafkaProducer.Close()
	emitters := telemetry.Multi{telemetryotel.NewEventEmitter(providers.LoggerProvider)}
	if kafkaProducer != nil {
		emitters = append(emitters, kafkaProducer)
	}
	auditLogger := audit.NewLogger(events, emitters, interceptors.ClientIP, logger)

	m := metrics.New()
	auth, err := identityservice.NewAuthService(identityservice.Deps{
		Users:       users,
		Sessions:    engine,
		Revocations: ledger,
		Tokens:      tokens,
		Hasher:      security.NewHasher(cfg.BcryptCost),
		Policy:      policy,
		Audit:       auditLogger,
		Metrics:     m,
	})
	if err != nil {
		return err
	}

	health := healthhandler.NewServer(kv.Pinger{Client: client}, dbPing, policy)
	go health.Run(ctx, healthInterval)

	httpServer := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: server.NewRouter(server.Deps{
			Auth: auth,
			Cookies: delivery.NewCookies(delivery.CookieConfig{
				Domain:   cfg.CookieDomain,
				Secure:   cfg.CookieSecure,
				SameSite: delivery.ParseSameSite(cfg.CookieSameSite),
			}),
			Health:  health,
			Metrics: m,
			Logger:  logger,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 2)
	go func() {
		logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return err
		}
		grpcServer := server.NewGRPCServer(health.GRPC())
		go func() {
			logger.Info("gRPC server listening", "addr", cfg.GRPCAddr)
			if err := grpcServer.Serve(lis); err != nil {
				errCh <- err
			}
		}()
		defer grpcServer.GracefulStop()
	}

	select {
	case <-ctx.Done():
	case err := <-errCh:
		stop()
		return err
	}

	logger.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
	defer cancel()
	if err := httpServer.Shutdown(sctx); err != nil {
		logger.Warn("HTTP shutdown", "error", err)
	}
	if !telemetry.Drain(telemetry.ShutdownDrainDuration) {
		logger.Warn("security events still pending at shutdown", "waited", telemetry.ShutdownDrainDuration)
	}
	return nil
}

// newLogger logs JSON to stdout, or through the OTel log bridge when an OTLP endpoint is set.
func newLogger(cfg *config.Config, providers *telemetryotel.Providers) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	if strings.TrimSpace(cfg.OTLPEndpoint) != "" {
		return slog.New(providers.SlogHandler(serviceName, level))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

// newTokenProvider prefers an asymmetric key pair, then configured HMAC secrets, then
// random secrets for local development.
func newTokenProvider(cfg *config.Config) (*security.TokenProvider, error) {
	if cfg.JWTPrivateKey != "" {
		priv, pub, err := security.LoadKeyPair(cfg.JWTPrivateKey, cfg.JWTPublicKey)
		if err != nil {
			return nil, err
		}
		return security.NewTokenProvider(priv, pub, cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTTL, cfg.RefreshTTL)
	}
	access, refresh := []byte(cfg.JWTAccessSecret), []byte(cfg.JWTRefreshSecret)
	if len(access) == 0 {
		access, refresh = []byte(security.NewID()+security.NewID()), []byte(security.NewID()+security.NewID())
	}
	return security.NewHMACTokenProvider(access, refresh, cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTTL, cfg.RefreshTTL)
}
