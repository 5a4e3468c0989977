// Package main runs the goal-pledge funding and settlement server.
package main

import (
	"context"
	"database/sql"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/goalstake/pledge_layer/internal/app"
	"github.com/goalstake/pledge_layer/internal/app/httpapi"
	"github.com/goalstake/pledge_layer/internal/app/storage/postgres"
	"github.com/goalstake/pledge_layer/internal/config"
	"github.com/goalstake/pledge_layer/internal/platform/migrations"
	"github.com/goalstake/pledge_layer/pkg/logger"
)

func main() {
	addr := flag.String("addr", "", "listen address (overrides config)")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logger.NewDefault("server").Fatalf("load config: %v", err)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	log := logger.New(logger.LoggingConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}).WithField("component", "server")

	stores := app.Stores{}
	if cfg.Database.URL != "" {
		db, err := sql.Open("postgres", cfg.Database.URL)
		if err != nil {
			log.Fatalf("open database: %v", err)
		}
		defer db.Close()
		if err := db.PingContext(context.Background()); err != nil {
			log.Fatalf("ping database: %v", err)
		}
		if err := migrations.Apply(context.Background(), db); err != nil {
			log.Fatalf("apply migrations: %v", err)
		}
		store := postgres.New(db)
		stores = app.Stores{Goals: store, Wallets: store, Refunds: store}
		log.Info("using postgres storage")
	} else {
		log.Info("using in-memory storage")
	}

	application, err := app.NewFromEnv(stores, log)
	if err != nil {
		log.Fatalf("build application: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := application.Start(ctx); err != nil {
		log.Fatalf("start application: %v", err)
	}

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      httpapi.NewHandler(application),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Infof("listening on %s", cfg.Server.Addr)
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorf("server shutdown: %v", err)
	}
	if err := application.Stop(shutdownCtx); err != nil {
		log.Errorf("application stop: %v", err)
	}

	log.Info("stopped")
}
