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

	"lessonhub/internal/ownertoken"
	"lessonhub/internal/util"
	"lessonhub/pkg/events"
	"lessonhub/pkg/store"
	"lessonhub/services/booking/internal/app"
	"lessonhub/services/booking/internal/config"
	"lessonhub/services/booking/internal/server"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := util.InitLogger(cfg.LogLevel, "booking")

	db, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to init store: %v", err)
	}
	defer db.Close()

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

	verifier, err := ownertoken.NewVerifier(ownertoken.Config{
		Secret:   cfg.OwnerTokenSecret,
		Issuer:   cfg.OwnerTokenIssuer,
		Audience: cfg.OwnerTokenAudience,
		Leeway:   cfg.JWTLeeway,
	})
	if err != nil {
		log.Fatalf("failed to init token verifier: %v", err)
	}

	appCore, err := app.New(app.Config{
		Store:             db,
		Events:            publisher,
		PilotOnly:         cfg.PilotOnly,
		PilotAllowlist:    cfg.PilotAllowlist,
		RequireOnboarding: cfg.RequireOnboarding,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}
	httpServer, err := server.New(server.Config{App: appCore, TokenVerifier: verifier})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("booking server listening", "addr", addr)
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
