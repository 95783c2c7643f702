package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/punchamoorthee/refundops/internal/api"
	"github.com/punchamoorthee/refundops/internal/app"
	"github.com/punchamoorthee/refundops/internal/auth"
	"github.com/punchamoorthee/refundops/internal/config"
	"github.com/punchamoorthee/refundops/internal/logger"
	"github.com/punchamoorthee/refundops/internal/task"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}

	log, err := logger.New(logger.Options{Level: cfg.LogLevel, File: cfg.LogFile, Env: cfg.Env})
	if err != nil {
		os.Stderr.WriteString("logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.Fatal("unable to initialise backends", zap.Error(err))
	}
	defer a.Close()

	tokens, err := auth.NewTokens(cfg.JWTSecret, cfg.JWTIssuer)
	if err != nil {
		log.Fatal("unable to configure tokens", zap.Error(err))
	}

	tasks, err := task.NewManager(log)
	if err != nil {
		log.Fatal("unable to create task manager", zap.Error(err))
	}
	if err := tasks.Register(task.NewRedriveJob(a.Dispatcher, a.DeadLetter, cfg.DispatchRedriveInterval, 100, log)); err != nil {
		log.Fatal("unable to schedule redrive", zap.Error(err))
	}
	if err := tasks.Register(task.NewStatsJob(a.Repo, cfg.StatsInterval, log)); err != nil {
		log.Fatal("unable to schedule stats", zap.Error(err))
	}
	tasks.Start()
	defer tasks.Stop()

	handler := api.NewHandler(a.Service, log)

	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", handler.HealthCheckHandler).Methods(http.MethodGet)

	apiV1 := r.PathPrefix("/api/v1").Subrouter()
	apiV1.Use(tokens.Middleware)
	handler.Register(apiV1)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("server starting", zap.String("port", cfg.Port), zap.String("store", cfg.StoreDriver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server stopped unexpectedly", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", zap.Error(err))
	}
}
