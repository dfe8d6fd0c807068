package handler

import (
	"context"
	"log"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"mira-api/internal/config"
	"mira-api/internal/server"
)

var (
	handler     http.Handler
	mu          sync.Mutex
	initErr     error
	initialized bool
)

// initHandler builds the handler once and reuses it across invocations.
// A failed initialization is retried on the next request.
//
// Cloud clients are not closed; the serverless runtime reclaims them when
// the function instance is torn down. Drive import is not started here.
func initHandler() error {
	if initialized && initErr == nil {
		return nil
	}

	mu.Lock()
	defer mu.Unlock()

	if initialized && initErr == nil {
		return nil
	}

	cfg, err := config.Load()
	if err != nil {
		log.Printf("Failed to load configuration: %v", err)
		initErr = err
		return err
	}

	logger, err := server.NewLogger(cfg.LogLevel)
	if err != nil {
		initErr = err
		return err
	}

	svcs, err := server.InitServices(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("failed to initialize services", zap.Error(err))
		initErr = err
		return err
	}

	handler = server.CreateHandler(svcs, cfg)
	initialized = true
	initErr = nil

	logger.Info("handler initialized")
	return nil
}

// Handler is the Vercel serverless function entry point
func Handler(w http.ResponseWriter, r *http.Request) {
	if err := initHandler(); err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	handler.ServeHTTP(w, r)
}
