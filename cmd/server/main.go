package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"lexmatch-backend/internal/api"
	"lexmatch-backend/internal/config"
	"lexmatch-backend/internal/match"
	"lexmatch-backend/internal/presence"
	"lexmatch-backend/internal/queue"
	"lexmatch-backend/internal/sessions"
	"lexmatch-backend/internal/storage"
	"lexmatch-backend/internal/worker"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	store, err := storage.NewStorage(ctx, cfg.Database.URL, cfg.Redis.URL)
	if err != nil {
		logger.Fatal("failed to initialize storage", zap.Error(err))
	}
	defer store.Close()

	// Connection manager doubles as the liveness prober.
	wsManager := sessions.NewManager(logger.Named("sessions"))

	tracker := presence.NewTracker(store.Redis, wsManager, cfg.Queue.PresenceTTL, logger.Named("presence"))
	queues := queue.NewStore(store.Redis, logger.Named("queue"))

	coordinator := match.NewCoordinator(queues, tracker, store.Redis, logger.Named("match"))
	coordinator.SetTTL(cfg.Match.RecordTTL)
	coordinator.SetMaxAttempts(cfg.Match.MaxAttempts)
	coordinator.SetProbeTimeout(cfg.Match.ProbeTimeout)

	orchestrator := sessions.NewOrchestrator(queues, coordinator, tracker, wsManager, store.DB, logger.Named("orchestrator"))
	orchestrator.SetGracePeriod(cfg.Match.GracePeriod)
	orchestrator.SetAckTimeout(cfg.Match.AckTimeout)
	wsManager.SetHandler(orchestrator)

	processor, err := worker.NewProcessor(queues, cfg.Redis.URL, cfg.Queue.EntryTTL, cfg.Queue.CleanupInterval, logger.Named("worker"))
	if err != nil {
		logger.Fatal("failed to initialize background processor", zap.Error(err))
	}
	if err := processor.Start(ctx); err != nil {
		logger.Fatal("failed to start background processor", zap.Error(err))
	}
	defer processor.Stop()

	r := api.NewRouter(&api.Dependencies{
		Queues:    queues,
		WSManager: wsManager,
		Sessions:  store.DB,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("starting server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server exited")
}
