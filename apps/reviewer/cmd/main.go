package main

import (
	"context"
	"net/http"

	"github.com/pitabwire/frame"
	"github.com/pitabwire/frame/config"
	"github.com/pitabwire/frame/datastore"
	"github.com/pitabwire/frame/datastore/pool"
	"github.com/pitabwire/util"
	"github.com/redis/go-redis/v9"

	appconfig "github.com/antinvestor/codereview/apps/reviewer/config"
	"github.com/antinvestor/codereview/apps/reviewer/service/handlers"
	"github.com/antinvestor/codereview/apps/reviewer/service/middleware"
	"github.com/antinvestor/codereview/apps/reviewer/service/review"
	"github.com/antinvestor/codereview/internal/events"
	"github.com/antinvestor/codereview/internal/issue"
	"github.com/antinvestor/codereview/internal/llm"
	"github.com/antinvestor/codereview/internal/plugin"
	"github.com/antinvestor/codereview/internal/plugin/builtin"
	"github.com/antinvestor/codereview/internal/settings"
	"github.com/antinvestor/codereview/internal/synthesis"
)

type migrator interface {
	Migrate(ctx context.Context) error
}

func main() {
	ctx := context.Background()

	// Initialize configuration
	cfg, err := config.LoadWithOIDC[appconfig.ReviewerConfig](ctx)
	if err != nil {
		util.Log(ctx).With("err", err).Error("could not process configs")
		return
	}

	if cfg.Name() == "" {
		cfg.ServiceName = "code_reviewer"
	}

	frameOpts := []frame.Option{
		frame.WithConfig(&cfg),
		frame.WithDatastore(),
	}
	if cfg.APIAuthRequired {
		frameOpts = append(frameOpts, frame.WithRegisterServerOauth2Client())
	}

	ctx, svc := frame.NewServiceWithContext(ctx, frameOpts...)
	defer svc.Stop(ctx)
	log := svc.Log(ctx)

	qMan := svc.QueueManager()
	dbPool := svc.DatastoreManager().GetPool(ctx, datastore.DefaultPoolName)

	// ==========================================================================
	// Setup Stores
	// ==========================================================================

	issueStore := issue.NewStore(ctx, dbPool)
	decisionStore := llm.NewDecisionStore(ctx, dbPool)
	settingsStore := settings.NewStore(ctx, dbPool)

	if cfg.DoDatabaseMigrate() {
		migrateStores(ctx, dbPool, issueStore, decisionStore, settingsStore)
		return
	}

	redisClient := newRedisClient(ctx, cfg.RedisURL)
	if redisClient != nil {
		defer util.CloseAndLogOnError(ctx, redisClient, "failed to close redis client")
	}

	// ==========================================================================
	// Setup Model Routing
	// ==========================================================================

	catalog, err := loadCatalog(cfg.ModelCatalogFile)
	if err != nil {
		log.WithError(err).Fatal("could not load model catalog")
	}
	cfg.ApplyCatalogOverrides(catalog)

	routerOpts := []llm.RouterOption{
		llm.WithDecisionStore(decisionStore),
		llm.WithProviderLimiter(llm.NewProviderLimiter(cfg.ProviderRequestsPerMinute, cfg.ProviderBurst)),
	}
	if catalog.CostTracking.Enabled || catalog.CostTracking.DailyBudgetUSD > 0 {
		if redisClient != nil {
			routerOpts = append(routerOpts, llm.WithCostTracker(llm.NewRedisCostTracker(redisClient)))
		} else {
			routerOpts = append(routerOpts, llm.WithCostTracker(llm.NewMemoryCostTracker()))
		}
	}

	router, err := llm.NewRouter(catalog, llm.NewClients(cfg.ClientConfig()), routerOpts...)
	if err != nil {
		log.WithError(err).Fatal("could not create model router")
	}

	prompts, err := llm.NewPromptBuilder()
	if err != nil {
		log.WithError(err).Fatal("could not load review prompts")
	}

	// ==========================================================================
	// Setup Review Pipeline
	// ==========================================================================

	notifier := events.NewNotifier(qMan, cfg.QueueNotificationName)

	plugins := plugin.NewManager(
		plugin.WithMaxWorkers(cfg.PluginWorkers),
		plugin.WithDefaultTimeout(cfg.PluginTimeout()),
		plugin.WithPluginConfig(cfg.PluginConfig()),
		plugin.WithStatusNotifier(notifier),
	)
	defer func() {
		if shutdownErr := plugins.Shutdown(ctx); shutdownErr != nil {
			log.WithError(shutdownErr).Warn("plugin shutdown incomplete")
		}
	}()

	resolver := settings.NewResolver(settingsStore)

	orchestrator := review.NewOrchestrator(
		review.NewSASTPass(plugins),
		review.NewPrimaryPass(router, prompts, cfg.MaxDiffChars),
		review.NewSecurityPass(router, prompts, cfg.MaxDiffChars),
		review.NewImpactPass(),
		issueStore,
		review.WithTimeouts(review.Timeouts{
			LLMPrimary: cfg.LLMPassTimeout(),
			Security:   cfg.SecurityPassTimeout(),
			Impact:     cfg.ImpactPassTimeout(),
		}),
		review.WithNotifier(notifier),
		review.WithSettings(resolver),
		review.WithDetector(synthesis.NewDetector(synthesis.WithLineTolerance(cfg.DuplicateLineTolerance))),
	)

	var dedup events.DeduplicationStore
	if redisClient != nil {
		dedup = events.NewRedisDeduplicationStore(redisClient, 0)
	} else {
		memDedup := events.NewInMemoryDeduplicationStore()
		defer util.CloseAndLogOnError(ctx, memDedup, "failed to stop deduplication store")
		dedup = memDedup
	}

	// ==========================================================================
	// Register Publishers
	// ==========================================================================

	reviewRequestPublisher := frame.WithRegisterPublisher(
		cfg.QueueReviewRequestName,
		cfg.QueueReviewRequestURI,
	)

	reviewResultPublisher := frame.WithRegisterPublisher(
		cfg.QueueReviewResultName,
		cfg.QueueReviewResultURI,
	)

	notificationPublisher := frame.WithRegisterPublisher(
		cfg.QueueNotificationName,
		cfg.QueueNotificationURI,
	)

	// ==========================================================================
	// Register Subscribers
	// ==========================================================================

	reviewRequestSubscriber := frame.WithRegisterSubscriber(
		cfg.QueueReviewRequestName,
		cfg.QueueReviewRequestURI,
		review.NewReviewRequestHandler(orchestrator, dedup, qMan, cfg.QueueReviewResultName),
	)

	// ==========================================================================
	// Setup HTTP API
	// ==========================================================================

	api := http.NewServeMux()
	api.HandleFunc("/api/v1/reviews",
		handlers.NewReviewHandler(qMan, cfg.QueueReviewRequestName, cfg.MaxReviewRequestSize).HandleSubmit)
	handlers.NewAdminHandler(plugins, router, resolver).RegisterRoutes(api)

	limiter := middleware.NewRateLimiter(cfg.RateLimitRequestsPerMinute, cfg.RateLimitBurstSize)
	defer limiter.Stop()

	var apiHandler http.Handler = api
	if cfg.APIAuthRequired {
		authenticator := svc.SecurityManager().GetAuthenticator(ctx)
		apiHandler = middleware.NewAuth(authenticator, "code-reviewer").Middleware(apiHandler)
	}

	mux := http.NewServeMux()
	mux.Handle("/api/", limiter.Middleware(apiHandler))

	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"healthy","service":"reviewer"}`))
	})

	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if plugins.Statistics().Ready == 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"not_ready","service":"reviewer"}`))
			return
		}
		if redisClient != nil {
			if pingErr := redisClient.Ping(r.Context()).Err(); pingErr != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"status":"not_ready","service":"reviewer"}`))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ready","service":"reviewer"}`))
	})

	// ==========================================================================
	// Initialize Service
	// ==========================================================================

	serviceOptions := []frame.Option{
		frame.WithHTTPHandler(mux),
		// Publishers
		reviewRequestPublisher,
		reviewResultPublisher,
		notificationPublisher,
		// Subscribers
		reviewRequestSubscriber,
	}

	svc.Init(ctx, serviceOptions...)

	// Plugins load after publishers exist so status events are delivered.
	loaded := plugins.LoadTable(ctx, builtin.Table(), cfg.EnabledPlugins)
	log.Info("review plugins loaded",
		"loaded", loaded,
		"strategy", router.Strategy().Name(),
	)

	// ==========================================================================
	// Start the Service
	// ==========================================================================

	log.Info("Starting code reviewer service...")
	err = svc.Run(ctx, "")
	if err != nil {
		log.WithError(err).Fatal("could not run server")
	}
}

func migrateStores(ctx context.Context, dbPool pool.Pool, stores ...any) {
	if dbPool == nil {
		util.Log(ctx).Fatal("database migration requested without a datastore")
	}
	for _, s := range stores {
		m, ok := s.(migrator)
		if !ok {
			continue
		}
		if err := m.Migrate(ctx); err != nil {
			util.Log(ctx).WithError(err).Fatal("could not migrate")
		}
	}
	util.Log(ctx).Info("database migration completed")
}

func loadCatalog(path string) (*llm.Catalog, error) {
	if path == "" {
		return llm.DefaultCatalog(), nil
	}
	return llm.LoadCatalog(path)
}

func newRedisClient(ctx context.Context, url string) *redis.Client {
	if url == "" {
		return nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		util.Log(ctx).WithError(err).Warn("invalid redis url, using in-memory backends")
		return nil
	}
	return redis.NewClient(opts)
}
