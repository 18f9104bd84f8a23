package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"stepflow/internal/api/handlers"
	"stepflow/internal/api/routes"
	"stepflow/internal/config"
	"stepflow/internal/executor"
	"stepflow/internal/services"
	"stepflow/internal/store"
	"stepflow/pkg/auth"
	"stepflow/pkg/database"
	"stepflow/pkg/logger"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Failed to load configuration:", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Failed to build logger:", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.InitDatabase(cfg, log.Named("db"))
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	st := store.New(db)

	signer := auth.NewSigner(cfg.JWT.Secret, time.Duration(cfg.JWT.ExpireTime)*time.Second)
	if !signer.Enabled() {
		log.Warn("⚠️ JWT_SECRET is empty, the API is unauthenticated")
	}

	hub := services.NewHub(services.BrowserLauncher(cfg.BrowserOptions(), cfg.AgentOptions(), log.Named("browser")), log.Named("hub"))
	exec := executor.New(log.Named("executor"), cfg.ExecutorOptions())
	runs := services.NewRunService(st, hub, exec, log.Named("runs"))
	recording := services.NewRecordingService(st, hub, log.Named("recording"))

	scheduler := services.NewScheduler(st, runs, log.Named("scheduler"))
	if err := scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer scheduler.Stop()

	go services.NewStatusSync(st, exec, cfg.Server.SyncInterval, log.Named("sync")).Run(ctx)

	gin.SetMode(cfg.Server.Mode)
	h := handlers.New(handlers.Deps{
		Store:     st,
		Hub:       hub,
		Recording: recording,
		Runs:      runs,
		Scheduler: scheduler,
		Signer:    signer,
		JWT:       cfg.JWT,
		Logger:    log.Named("api"),
	})

	srv := &http.Server{
		Addr:        fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:     routes.SetupRoutes(h, signer, log.Named("http")),
		ReadTimeout: time.Duration(cfg.Server.ReadTimeout) * time.Second,
		// No WriteTimeout: websocket streams stay open.
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("🚀 server starting", zap.String("addr", srv.Addr), zap.String("browser", cfg.Browser.Driver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.WriteTimeout)*time.Second)
	defer cancel()

	recording.StopAll(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	log.Info("Server shutdown complete")
	return nil
}
