package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"lessonhub/internal/ratelimit"
	"lessonhub/internal/util"
	"lessonhub/pkg/ai"
	"lessonhub/pkg/events"
	"lessonhub/pkg/storage"
	"lessonhub/pkg/store"
	"lessonhub/services/inbox/internal/app"
	"lessonhub/services/inbox/internal/config"
	"lessonhub/services/inbox/internal/metrics"
	"lessonhub/services/inbox/internal/server"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := util.InitLogger(cfg.LogLevel, "inbox")

	db, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to init store: %v", err)
	}
	defer db.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	defer redisClient.Close()
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 3*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis unreachable at startup, inbound is admitted unthrottled until it recovers", "addr", cfg.RedisAddr, "err", err)
	}
	pingCancel()
	limiter, err := ratelimit.NewFixedWindowLimiter(redisClient, "lessonhub:inbox:inbound", cfg.InboundRateLimit, cfg.InboundRateWindow)
	if err != nil {
		log.Fatalf("failed to init rate limiter: %v", err)
	}

	var generator ai.TextGenerator
	switch cfg.AIProvider {
	case "openai":
		generator = ai.NewOpenAIGenerator(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.GenerationModel)
	default:
		generator = ai.NewOllamaGenerator(ai.NewOllamaClient(cfg.OllamaHost), cfg.GenerationModel)
	}
	executor := ai.NewGeneratorExecutor(generator, cfg.GenerationModel)

	var archive storage.RawPayloadArchive
	if cfg.MinioEndpoint != "" {
		minioArchive, err := storage.NewMinioArchive(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			logger.Warn("raw payload archive unavailable, continuing without it", "err", err)
		} else {
			archive = minioArchive
		}
	}

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.AMQPURL != "" {
		amqpPub, err := events.NewAMQPPublisher(events.AMQPConfig{URL: cfg.AMQPURL, Exchange: cfg.EventsExchange})
		if err != nil {
			logger.Warn("event publisher unavailable, continuing without events", "err", err)
		} else {
			defer amqpPub.Close()
			publisher = amqpPub
		}
	}

	m := metrics.New()
	appCore, err := app.New(app.Config{
		Store:    db,
		Executor: executor,
		Archive:  archive,
		Events:   publisher,
		Metrics:  m,
		Options: app.Options{
			KillSwitch:      cfg.KillSwitch,
			PilotOnly:       cfg.PilotOnly,
			PilotAllowlist:  cfg.PilotAllowlist,
			ClassifyTimeout: cfg.ClassifyTimeout,
			EnrichTimeout:   cfg.EnrichTimeout,
			SummaryTimeout:  cfg.SummaryTimeout,
			DraftTimeout:    cfg.DraftTimeout,
			MinRelevance:    cfg.MinRelevance,
			SummaryTextMax:  cfg.SummaryTextMax,
			SummaryJSONMax:  cfg.SummaryJSONMax,
			RecentMessages:  cfg.RecentMessages,
			DraftTTL:        cfg.DraftTTL,
			Location:        cfg.Location(),
		},
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}
	httpServer, err := server.New(server.Config{
		App:           appCore,
		InternalToken: cfg.InternalToken,
		Limiter:       limiter,
		Metrics:       m,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("inbox server listening", "addr", addr, "ai_provider", cfg.AIProvider, "model", cfg.GenerationModel, "kill_switch", cfg.KillSwitch)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "err", err)
	}
}
