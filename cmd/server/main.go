package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/supportdesk/dispatcher/internal/classifier"
	"github.com/supportdesk/dispatcher/internal/config"
	"github.com/supportdesk/dispatcher/internal/database"
	"github.com/supportdesk/dispatcher/internal/escalation"
	"github.com/supportdesk/dispatcher/internal/handler"
	"github.com/supportdesk/dispatcher/internal/jobs"
	"github.com/supportdesk/dispatcher/internal/llm"
	"github.com/supportdesk/dispatcher/internal/middleware"
	"github.com/supportdesk/dispatcher/internal/orchestrator"
	"github.com/supportdesk/dispatcher/internal/redis"
	"github.com/supportdesk/dispatcher/internal/relay"
	"github.com/supportdesk/dispatcher/internal/retrieval"
	"github.com/supportdesk/dispatcher/internal/scheduling"
	"github.com/supportdesk/dispatcher/internal/sse"
	"github.com/supportdesk/dispatcher/internal/store"
	"github.com/supportdesk/dispatcher/internal/workspace"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)

	isProduction := os.Getenv("FLY_APP_NAME") != ""
	if err := cfg.Validate(isProduction); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	pingCtx, pingCancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
	if err := db.Ping(pingCtx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}
	pingCancel()
	log.Info().Msg("database connected")

	redisClient, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()
	log.Info().Msg("redis connected")

	sessionStore := store.NewPostgresSessionStore(db.DB)
	idempotencyStore := store.NewPostgresIdempotencyStore(db.DB)

	broker := sse.NewBroker(redisClient)
	defer broker.Close()

	callLimiter := middleware.NewExternalCallLimiter(redisClient.Client, map[string]int{
		"llm":      120,
		"vector":   120,
		"calendar": 60,
	})

	llmClient := middleware.NewLimitedLLMClient(
		llm.NewHTTPClient(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModel, cfg.LLMTimeout()),
		callLimiter,
	)
	vectorIndex := middleware.NewLimitedVectorIndex(
		retrieval.NewHTTPVectorIndex(cfg.VectorBaseURL, cfg.VectorAPIKey, cfg.VectorTimeout()),
		callLimiter,
	)
	calendarProvider := middleware.NewLimitedCalendarProvider(
		scheduling.NewGoogleCalendarClient(
			cfg.CalendarBaseURL, cfg.CalendarID, cfg.CalendarClientID, cfg.CalendarClientSecret,
			cfg.CalendarRefreshToken, cfg.CalendarTimeout(),
		),
		callLimiter,
	)

	clf := classifier.New(llmClient, cfg.PatternPassFloor, cfg.AbuseLexicon)
	answerer := retrieval.NewAnswerer(
		vectorIndex, llmClient, cfg.RetrievalK, cfg.RetrievalKmin,
		cfg.SimilarityFloor, cfg.MMRLambda, cfg.DedupAILookback, cfg.ComplianceTerms,
	)
	slotGen := scheduling.NewSlotGenerator(calendarProvider, scheduling.SlotGeneratorConfig{
		BusinessHourStart: cfg.BusinessHourStart,
		BusinessHourEnd:   cfg.BusinessHourEnd,
		BufferMinutes:     cfg.BufferMinutes,
		SlotDurationMin:   cfg.SlotDurationMin,
		MaxOffers:         cfg.MaxOffers,
		SearchDays:        cfg.SlotSearchDays,
		Timezone:          cfg.CalendarTimezone,
	})
	booker := scheduling.NewBookingExecutor(calendarProvider)
	builder := escalation.NewBuilder(cfg.EscalationSummaryExchanges)

	discordAdapter, err := workspace.NewDiscordAdapter(
		cfg.DiscordBotToken, cfg.DiscordGuildID, cfg.DiscordTicketParent, idempotencyStore,
	)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to construct discord adapter")
	}

	relayHub := relay.NewHub(sessionStore, discordAdapter, broker, builder, idempotencyStore)

	thresholds := orchestrator.Thresholds{
		HighConfGeneral:           cfg.HighConfGeneral,
		HighConfCompliance:        cfg.HighConfCompliance,
		MedConfCap:                cfg.MedConfCap,
		AbuseRepeatWindow:         cfg.AbuseRepeatWindowTurns,
		EnterprisePricingTriggers: cfg.EnterprisePricingTriggers,
		UrgencyKeywords:           cfg.UrgencyKeywords,
	}
	orch := orchestrator.New(
		sessionStore, clf, answerer, slotGen, booker, builder, discordAdapter, relayHub,
		thresholds, cfg.TurnDeadline(),
	)

	surfaceAuthMiddleware := middleware.NewSurfaceAuthMiddleware(cfg.SurfaceAuthSecret)
	webhookSignatureMiddleware := middleware.NewWebhookSignatureMiddleware(cfg.WebhookSignatureSecret)
	rateLimitMiddleware := middleware.NewRedisRateLimitMiddleware(redisClient.Client, config.DefaultRateLimitPerMin)
	securityHeadersMiddleware := middleware.NewSecurityHeadersMiddleware(isProduction)
	bodyLimitMiddleware := middleware.NewBodyLimitMiddleware(0)

	webhookHandler := handler.NewWebhookHandler(orch)
	chatHandler := handler.NewChatHandler(orch, broker, sessionStore)
	workspaceEventsHandler := handler.NewWorkspaceEventsHandler(relayHub)
	workspaceActionsHandler := handler.NewWorkspaceActionsHandler(relayHub)
	eventsHandler := handler.NewEventsHandler(broker, sessionStore)
	healthHandler := handler.NewHealthHandler(db)
	statsHandler := handler.NewStatsHandler(sessionStore)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
	r.Use(securityHeadersMiddleware.Handler)
	r.Use(bodyLimitMiddleware.Handler)

	r.Get("/health", healthHandler.ServeHTTP)
	r.Get("/stats", statsHandler.ServeHTTP)

	r.Route("/webhook", func(r chi.Router) {
		r.Use(webhookSignatureMiddleware.Handler)
		r.Post("/events", webhookHandler.ServeHTTP)
	})

	r.Route("/workspace", func(r chi.Router) {
		r.Use(webhookSignatureMiddleware.Handler)
		r.Post("/events", workspaceEventsHandler.ServeHTTP)
		r.Post("/actions", workspaceActionsHandler.ServeHTTP)
	})

	r.Route("/ws", func(r chi.Router) {
		r.Use(surfaceAuthMiddleware.Handler)
		r.Use(rateLimitMiddleware.Handler)
		r.Get("/chat", chatHandler.ServeHTTP)
	})

	r.With(surfaceAuthMiddleware.Handler, rateLimitMiddleware.Handler).Get("/events", eventsHandler.ServeHTTP)

	cleanupJob := jobs.NewCleanupJob(sessionStore, idempotencyStore, cfg.EscalationTimeout(), config.CleanupJobInterval)
	cleanupJob.Start()
	defer cleanupJob.Stop()

	relayCtx, relayCancel := context.WithCancel(context.Background())
	defer relayCancel()
	go relayHub.Run(relayCtx)

	if err := discordAdapter.Start(relayCtx); err != nil {
		log.Error().Err(err).Msg("failed to start discord adapter, escalations cannot reach the workspace")
	}
	defer func() {
		if err := discordAdapter.Stop(); err != nil {
			log.Error().Err(err).Msg("failed to stop discord adapter cleanly")
		}
	}()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
