// Command wsgateway runs the example WebSocket fan-out gateway described in
// examples/wsgateway: it upgrades incoming connections, subscribes to every
// redismpx channel under wsgateway.ChannelPrefix, and relays each event to
// whichever locally connected user it names.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/giaprika/redismpx"
	"github.com/giaprika/redismpx/examples/wsgateway"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// extractUserID reads the caller's identity from the X-User-ID header. A
// production deployment would sit this gateway behind an authenticating API
// gateway or reverse proxy that validates a token and sets this header;
// verifying the token itself is out of scope for this example.
func extractUserID(r *http.Request) (string, error) {
	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		return "", errors.New("missing X-User-ID header")
	}
	return userID, nil
}

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal("failed to create logger:", err)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := wsgateway.LoadConfig(".")
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}
	if cfg.RedisAddr == "" {
		cfg.RedisAddr = "localhost:6379"
	}
	if cfg.HTTPServerAddress == "" {
		cfg.HTTPServerAddress = ":8080"
	}

	registry := prometheus.NewRegistry()
	metrics := wsgateway.NewMetrics(registry)
	muxMetrics := redismpx.NewMetrics(registry)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mux := redismpx.New(ctx, redismpx.Options{
		ConnFactory: wsgateway.RedisConnFactory(cfg.RedisAddr),
		Logger:      logger,
		Metrics:     muxMetrics,
		Backoff: redismpx.BackoffConfig{
			Base:   cfg.GetBackoffBase(),
			Cap:    cfg.GetBackoffCap(),
			Factor: cfg.GetBackoffFactor(),
		},
	})
	defer mux.Close()

	gateway := wsgateway.New(mux, logger, metrics)
	defer gateway.Close()

	httpMux := http.NewServeMux()
	httpMux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		userID, err := extractUserID(r)
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		gateway.ServeWS(w, r, userID)
	})
	httpMux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	server := &http.Server{
		Addr:         cfg.HTTPServerAddress,
		Handler:      httpMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.GetMetricsPort()),
		Handler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		_ = metricsServer.Shutdown(shutdownCtx)
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown error", zap.Error(err))
		}
	}()

	logger.Info("wsgateway starting",
		zap.String("addr", cfg.HTTPServerAddress),
		zap.String("redis_addr", cfg.RedisAddr),
		zap.String("instance_id", wsgateway.InstanceID()),
	)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		logger.Fatal("listen and serve failed", zap.Error(err))
	}
	logger.Info("wsgateway stopped")
}
