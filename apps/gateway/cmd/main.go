package main

import (
	"context"
	"net/http"
	"time"

	gtwconfig "github.com/gillverbasiglo/genie-api-sub000/apps/gateway/config"
	"github.com/gillverbasiglo/genie-api-sub000/apps/gateway/service/assistant"
	"github.com/gillverbasiglo/genie-api-sub000/apps/gateway/service/business"
	"github.com/gillverbasiglo/genie-api-sub000/apps/gateway/service/handlers"
	"github.com/gillverbasiglo/genie-api-sub000/apps/gateway/service/push"
	"github.com/gillverbasiglo/genie-api-sub000/apps/gateway/service/queues"
	"github.com/gillverbasiglo/genie-api-sub000/apps/gateway/service/repository"
	"github.com/gillverbasiglo/genie-api-sub000/internal/health"
	"github.com/pitabwire/frame"
	"github.com/pitabwire/frame/cache"
	"github.com/pitabwire/frame/cache/jetstreamkv"
	"github.com/pitabwire/frame/cache/valkey"
	"github.com/pitabwire/frame/config"
	"github.com/pitabwire/frame/data"
	"github.com/pitabwire/frame/datastore"
	"github.com/pitabwire/frame/datastore/pool"
	"github.com/pitabwire/util"
)

const (
	gracefulShutdownTimeout = 30 * time.Second
	healthCheckTimeout      = 5 * time.Second
	connectionsHealthyPct   = 95

	livenessPath  = "/healthz"
	readinessPath = "/readyz"
)

func main() {
	ctx := context.Background()

	// Initialize configuration
	cfg, err := config.LoadWithOIDC[gtwconfig.GatewayConfig](ctx)
	if err != nil {
		util.Log(ctx).With("err", err).Error("could not process configs")
		return
	}

	// Validate configuration (fail-fast on invalid config)
	if err = cfg.Validate(); err != nil {
		util.Log(ctx).With("err", err).Error("invalid configuration")
		return
	}

	if cfg.Name() == "" {
		cfg.ServiceName = "genie_chat_gateway"
	}

	rawCache, err := setupCache(ctx, cfg)
	if err != nil {
		util.Log(ctx).WithError(err).Fatal("could not setup cache")
	}

	// Create service
	ctx, svc := frame.NewServiceWithContext(ctx,
		frame.WithConfig(&cfg),
		frame.WithDatastore(),
		frame.WithCache(cfg.CacheName, rawCache),
	)
	defer svc.Stop(ctx)
	log := svc.Log(ctx)

	dbPool := svc.DatastoreManager().GetPool(ctx, datastore.DefaultPoolName)

	// Handle database migration if requested
	if handleDatabaseMigration(ctx, dbPool, cfg) {
		return
	}

	qManager := svc.QueueManager()

	pushSender, err := push.NewSenderFromConfig(ctx, &cfg)
	if err != nil {
		log.WithError(err).Fatal("main -- Could not setup push sender")
	}

	messageRepo := repository.NewMessageRepository(dbPool)
	userRepo := repository.NewUserRepository(dbPool)
	notificationRepo := repository.NewNotificationRepository(dbPool)
	deviceTokenRepo := repository.NewDeviceTokenRepository(dbPool)

	connectionManager := business.NewConnectionManager(ctx, business.SettingsFromConfig(&cfg), rawCache)
	// Graceful shutdown: close connections and stop background tasks.
	// Defers run LIFO: connectionManager shuts down before svc.Stop.
	defer func() {
		drainCtx, drainCancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
		defer drainCancel()
		if shutdownErr := connectionManager.Shutdown(drainCtx); shutdownErr != nil {
			util.Log(drainCtx).WithError(shutdownErr).Error("connection manager shutdown error")
		}
	}()

	genieClient := assistant.NewClientFromConfig(ctx, &cfg)
	offlineNotifier := queues.NewOfflinePushNotifier(&cfg, qManager)
	deadLetterPublisher := queues.NewDeadLetterPublisher(&cfg, qManager)

	messageHandlers := business.NewMessageHandlers(
		connectionManager,
		messageRepo,
		offlineNotifier,
		genieClient,
		business.NewWorkerPoolRunner(svc.WorkManager()),
	)
	router := business.NewRouter(messageHandlers.Routes())

	offlinePushQueuePublisher := frame.WithRegisterPublisher(cfg.QueueOfflinePushName, cfg.QueueOfflinePushURI)
	deadLetterQueuePublisher := frame.WithRegisterPublisher(cfg.QueueDeadLetterName, cfg.QueueDeadLetterURI)
	offlinePushQueueSubscriber := frame.WithRegisterSubscriber(
		cfg.QueueOfflinePushName, cfg.QueueOfflinePushURI,
		queues.NewOfflinePushQueueHandler(
			&cfg, qManager, deadLetterPublisher, notificationRepo, deviceTokenRepo, pushSender,
		),
	)

	// Setup health checks
	healthHandler := setupHealthChecks(ctx, dbPool, rawCache, connectionManager, genieClient)

	mux := http.NewServeMux()
	mux.HandleFunc(livenessPath, healthHandler.LivenessHandler)
	mux.HandleFunc(readinessPath, healthHandler.ReadinessHandler)

	gatewayServer := handlers.NewGatewayServer(connectionManager, router, userRepo, offlineNotifier, cfg.MaxFrameBytes)
	gatewayServer.Register(mux)

	var httpHandler http.Handler = mux
	if cfg.RequireAuth {
		httpHandler = setupAuthentication(ctx, svc, mux)
	}

	// Initialize the service with all options
	svc.Init(ctx,
		offlinePushQueuePublisher,
		deadLetterQueuePublisher,
		offlinePushQueueSubscriber,
		frame.WithHTTPHandler(httpHandler),
	)

	// Start the service
	err = svc.Run(ctx, "")
	if err != nil {
		log.WithError(err).Fatal("could not run Server")
	}
}

func setupCache(_ context.Context, cfg gtwconfig.GatewayConfig) (cache.RawCache, error) {
	cacheDSN := data.DSN(cfg.CacheURI)

	cacheOptions := []cache.Option{
		cache.WithDSN(cacheDSN),
	}

	if cfg.CacheCredentialsFile != "" {
		cacheOptions = append(cacheOptions, cache.WithCredsFile(cfg.CacheCredentialsFile))
	}

	switch {
	case cacheDSN.IsNats():
		return jetstreamkv.New(cacheOptions...)
	case cacheDSN.IsRedis():
		return valkey.New(cacheOptions...)
	default:
		return cache.NewInMemoryCache(), nil
	}
}

// handleDatabaseMigration performs database migration if configured to do so.
func handleDatabaseMigration(ctx context.Context, dbPool pool.Pool, cfg gtwconfig.GatewayConfig) bool {
	if !cfg.DoDatabaseMigrate() {
		return false
	}

	if err := repository.Migrate(ctx, dbPool); err != nil {
		util.Log(ctx).WithError(err).Fatal("main -- Could not migrate successfully")
	}
	return true
}

func setupHealthChecks(
	_ context.Context,
	dbPool pool.Pool,
	rawCache cache.RawCache,
	cm business.ConnectionManager,
	genieClient *assistant.Client,
) *health.Handler {
	handler := health.NewHandler()
	handler.AddChecker(health.NewDatabaseChecker(dbPool, healthCheckTimeout))
	handler.AddChecker(health.NewCacheChecker(rawCache, healthCheckTimeout))
	handler.AddChecker(health.NewConnectionsChecker(cm, connectionsHealthyPct))
	handler.AddChecker(health.NewPingChecker("genie", genieClient.Ready, healthCheckTimeout))
	return handler
}

// setupAuthentication validates bearer tokens with the service's OIDC
// authenticator. Health probes stay open.
func setupAuthentication(ctx context.Context, svc *frame.Service, next http.Handler) http.Handler {
	authenticator := svc.SecurityManager().GetAuthenticator(ctx)

	return handlers.AuthenticationMiddleware(next,
		handlers.TokenAuthenticatorFunc(func(ctx context.Context, token string) (context.Context, error) {
			return authenticator.Authenticate(ctx, token)
		}),
		livenessPath, readinessPath,
	)
}
