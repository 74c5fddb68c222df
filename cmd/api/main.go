package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	cloudstorage "cloud.google.com/go/storage"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/add-to-Cart/porma-marketplace/internal/di"
	"github.com/add-to-Cart/porma-marketplace/internal/handlers"
	"github.com/add-to-Cart/porma-marketplace/internal/platform/auth"
	"github.com/add-to-Cart/porma-marketplace/internal/platform/config"
	pfirestore "github.com/add-to-Cart/porma-marketplace/internal/platform/firestore"
	"github.com/add-to-Cart/porma-marketplace/internal/platform/idempotency"
	"github.com/add-to-Cart/porma-marketplace/internal/platform/messaging"
	"github.com/add-to-Cart/porma-marketplace/internal/platform/observability"
	"github.com/add-to-Cart/porma-marketplace/internal/platform/secrets"
	platformstorage "github.com/add-to-Cart/porma-marketplace/internal/platform/storage"
	"github.com/add-to-Cart/porma-marketplace/internal/repositories"
	firestoreRepo "github.com/add-to-Cart/porma-marketplace/internal/repositories/firestore"
	"github.com/add-to-Cart/porma-marketplace/internal/repositories/memory"
	"github.com/add-to-Cart/porma-marketplace/internal/services"
)

const (
	producerName          = "porma-marketplace-api"
	readinessProbeTimeout = 2 * time.Second
)

func main() {
	ctx := context.Background()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()
	logger := baseLogger.Named("api")

	resolver, err := secrets.NewResolver(ctx,
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithDefaultProject(os.Getenv("API_SECRETS_DEFAULT_PROJECT")),
		secrets.WithFallbackFile(os.Getenv("API_SECRETS_FALLBACK_FILE")),
	)
	if err != nil {
		logger.Fatal("failed to initialise secret resolver", zap.Error(err))
	}
	defer func() {
		if err := resolver.Close(); err != nil {
			logger.Warn("secret resolver close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx, config.WithSecretResolver(resolver))
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}
	version := strings.TrimSpace(os.Getenv("API_BUILD_VERSION"))
	if version == "" {
		version = "dev"
	}

	var closers []namedCloser
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].close(); err != nil {
				logger.Warn("close error", zap.String("resource", closers[i].name), zap.Error(err))
			}
		}
	}()

	var (
		provider    *pfirestore.Provider
		redisClient *redis.Client
		checks      []repositories.DependencyCheck
	)
	if cfg.Store.Backend == config.StoreBackendFirestore || cfg.Idempotency.Backend == config.IdempotencyBackendFirestore {
		provider = pfirestore.NewProvider(cfg.Firestore, pfirestore.WithDefaultTxOptions(
			pfirestore.WithTxAttempts(cfg.Store.TxAttempts),
			pfirestore.WithTxTimeout(cfg.Store.TxTimeout),
		))
	}
	if cfg.Idempotency.Backend == config.IdempotencyBackendRedis {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Idempotency.RedisAddr,
			Password: cfg.Idempotency.RedisPassword,
			DB:       cfg.Idempotency.RedisDB,
		})
		closers = append(closers, namedCloser{"redis", redisClient.Close})
		checks = append(checks, repositories.DependencyCheck{
			Name:     "redis",
			Optional: true,
			Check:    func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		})
	}

	sinks, sinkClosers, sinkChecks, err := buildSinks(ctx, logger, cfg)
	if err != nil {
		logger.Fatal("failed to initialise notification sinks", zap.Error(err))
	}
	closers = append(closers, sinkClosers...)
	checks = append(checks, sinkChecks...)

	reg, err := buildRegistry(provider, cfg, version, checks)
	if err != nil {
		logger.Fatal("failed to initialise repositories", zap.Error(err))
	}

	containerOpts := []di.Option{
		di.WithLogger(logger),
		di.WithNotificationSinks(sinks...),
		di.WithMeter(otel.GetMeterProvider().Meter("porma-marketplace/notifications")),
		di.WithVersion(version),
	}
	if bucket := strings.TrimSpace(cfg.Reports.Bucket); bucket != "" {
		storageClient, err := cloudstorage.NewClient(ctx)
		if err != nil {
			logger.Fatal("failed to initialise storage client", zap.Error(err))
		}
		closers = append(closers, namedCloser{"storage", storageClient.Close})
		archive, err := platformstorage.NewReportArchive(storageClient, bucket)
		if err != nil {
			logger.Fatal("failed to initialise report archive", zap.Error(err))
		}
		containerOpts = append(containerOpts, di.WithReportArchive(archive))
	}

	container, err := di.NewContainer(ctx, cfg, reg, containerOpts...)
	if err != nil {
		logger.Fatal("failed to build container", zap.Error(err))
	}

	idemStore, err := buildIdempotencyStore(cfg, provider, redisClient)
	if err != nil {
		logger.Fatal("failed to initialise idempotency store", zap.Error(err))
	}
	idempotencyMiddleware := idempotency.Middleware(
		idemStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithMaxBodyBytes(int64(cfg.Idempotency.MaxBodyBytes)),
		idempotency.WithOptionalKey(),
		idempotency.WithLogger(logger.Named("idempotency")),
	)
	stopCleanup := startIdempotencyCleanup(logger.Named("idempotency"), idemStore, cfg.Idempotency.CleanupInterval)

	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier)

	svc := container.Services
	orderHandlers := handlers.NewOrderHandlers(authenticator, svc.Orders,
		handlers.WithCreateOrderRateLimit(cfg.RateLimits.CreateOrderPerMinute, cfg.RateLimits.CreateOrderBurst, time.Now),
		handlers.WithIdempotency(idempotencyMiddleware),
	)
	productHandlers := handlers.NewProductHandlers(svc.Ledger)
	adminHandlers := handlers.NewAdminHandlers(authenticator, svc.Metrics, handlers.WithAdminStockLedger(svc.Ledger))
	maintenanceHandlers := handlers.NewMaintenanceHandlers(svc.Metrics)
	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthSystemService(svc.System),
		handlers.WithHealthVersion(version),
	)

	projectID := traceProjectID(cfg)
	opts := []handlers.Option{
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(logger.Named("http")),
			observability.TraceMiddleware(projectID),
			observability.RecoveryMiddleware(logger.Named("http")),
			observability.RequestLoggerMiddleware(),
		),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithProductRoutes(productHandlers.Routes),
		handlers.WithAdminRoutes(adminHandlers.Routes),
		handlers.WithInternalRoutes(maintenanceHandlers.Routes),
	}
	if oidc := buildOIDCMiddleware(logger.Named("auth"), cfg); oidc != nil {
		opts = append(opts, handlers.WithInternalMiddlewares(oidc))
	}

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      handlers.NewRouter(opts...),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr), zap.String("store", cfg.Store.Backend))
	go func() {
		serverLogger.Info("marketplace api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")
	stopCleanup()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	// Stop the dispatcher only after in-flight requests have enqueued their notifications.
	if err := container.Close(shutdownCtx); err != nil {
		logger.Error("container close failed", zap.Error(err))
	}
}

type namedCloser struct {
	name  string
	close func() error
}

func buildRegistry(provider *pfirestore.Provider, cfg config.Config, version string, checks []repositories.DependencyCheck) (repositories.Registry, error) {
	if cfg.Store.Backend == config.StoreBackendMemory {
		return memory.NewRegistry(), nil
	}
	if provider == nil {
		return nil, errors.New("firestore backend selected without provider")
	}
	return firestoreRepo.NewRegistry(provider,
		firestoreRepo.WithDependencyChecks(checks...),
		firestoreRepo.WithHealthOptions(repositories.WithBuildVersion(version), repositories.WithProbeTimeout(readinessProbeTimeout)),
	)
}

func buildSinks(ctx context.Context, logger *zap.Logger, cfg config.Config) ([]services.NotificationSink, []namedCloser, []repositories.DependencyCheck, error) {
	var (
		sinks   []services.NotificationSink
		closers []namedCloser
		checks  []repositories.DependencyCheck
	)
	n := cfg.Notifications
	if n.HasSink(config.SinkPubSub) {
		var clientOpts []option.ClientOption
		if file := strings.TrimSpace(cfg.Firebase.CredentialsFile); file != "" {
			clientOpts = append(clientOpts, option.WithCredentialsFile(file))
		}
		client, err := pubsub.NewClient(ctx, traceProjectID(cfg), clientOpts...)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("pubsub client: %w", err)
		}
		sink, err := messaging.NewPubSubSink(client, n.PubSubTopic, producerName)
		if err != nil {
			_ = client.Close()
			return nil, nil, nil, err
		}
		sinks = append(sinks, sink)
		closers = append(closers, namedCloser{"pubsub", func() error {
			_ = sink.Close()
			return client.Close()
		}})
		topic := client.Topic(n.PubSubTopic)
		checks = append(checks, repositories.DependencyCheck{
			Name:     "pubsub",
			Optional: true,
			Check: func(ctx context.Context) error {
				ok, err := topic.Exists(ctx)
				if err == nil && !ok {
					err = fmt.Errorf("topic %s does not exist", n.PubSubTopic)
				}
				return err
			},
		})
	}
	if n.HasSink(config.SinkKafka) {
		writer, err := messaging.NewKafkaWriter(n.KafkaBrokers, n.KafkaTopic, logger.Named("kafka"))
		if err != nil {
			return nil, nil, nil, err
		}
		sink, err := messaging.NewKafkaSink(writer, producerName)
		if err != nil {
			return nil, nil, nil, err
		}
		sinks = append(sinks, sink)
		closers = append(closers, namedCloser{"kafka", sink.Close})
	}
	return sinks, closers, checks, nil
}

func buildIdempotencyStore(cfg config.Config, provider *pfirestore.Provider, redisClient *redis.Client) (idempotency.Store, error) {
	switch cfg.Idempotency.Backend {
	case config.IdempotencyBackendRedis:
		return idempotency.NewRedisStore(redisClient)
	case config.IdempotencyBackendFirestore:
		return idempotency.NewFirestoreStore(provider)
	default:
		return idempotency.NewMemoryStore(), nil
	}
}

const cleanupBatchSize = 500

func startIdempotencyCleanup(logger *zap.Logger, store idempotency.Store, interval time.Duration) func() {
	if interval <= 0 {
		return func() {}
	}
	ctx, cancel := context.WithCancel(context.Background())
	ticker := time.NewTicker(interval)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				runCtx, runCancel := context.WithTimeout(ctx, time.Minute)
				removed, err := store.CleanupExpired(runCtx, time.Now().UTC(), cleanupBatchSize)
				runCancel()
				if err != nil {
					logger.Error("idempotency cleanup error", zap.Error(err))
					continue
				}
				if removed > 0 {
					logger.Info("idempotency cleanup removed records", zap.Int("count", removed))
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return func() {
		cancel()
		wg.Wait()
	}
}

func buildOIDCMiddleware(logger *zap.Logger, cfg config.Config) func(http.Handler) http.Handler {
	if strings.TrimSpace(cfg.Security.OIDC.JWKSURL) == "" {
		return nil
	}
	audience := strings.TrimSpace(cfg.Security.OIDC.Audience)
	if audience == "" {
		logger.Warn("auth: OIDC audience not configured; internal routes will reject requests")
	}
	issuers := cfg.Security.OIDC.Issuers
	if len(issuers) == 0 {
		logger.Warn("auth: OIDC issuers not configured; internal routes will reject requests")
	}
	validator := auth.NewOIDCValidator(auth.NewJWKSCache(cfg.Security.OIDC.JWKSURL), logger)
	return validator.RequireOIDC(audience, issuers)
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}
