package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/airjam/broker/internal/v1/auth"
	"github.com/airjam/broker/internal/v1/broker"
	"github.com/airjam/broker/internal/v1/config"
	"github.com/airjam/broker/internal/v1/health"
	"github.com/airjam/broker/internal/v1/logging"
	"github.com/airjam/broker/internal/v1/middleware"
	"github.com/airjam/broker/internal/v1/ratelimit"
	"github.com/airjam/broker/internal/v1/tracing"
)

func main() {
	// Load .env from the usual locations; absence is fine in production.
	envPaths := []string{".env", "../.env", "../../.env", "../../../.env"}
	for _, path := range envPaths {
		if err := godotenv.Load(path); err == nil {
			break
		}
	}

	cfg, err := config.ValidateEnv()
	if err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}

	isDevelopment := cfg.GoEnv != "production"
	if err := logging.Initialize(isDevelopment); err != nil {
		os.Stderr.WriteString("failed to initialize logger: " + err.Error() + "\n")
		os.Exit(1)
	}

	ctx := context.Background()

	if cfg.OTELCollectorAddr != "" {
		tp, err := tracing.InitTracer(ctx, "airjam-broker", cfg.OTELCollectorAddr)
		if err != nil {
			logging.Fatal(ctx, "Failed to initialize tracing", zap.Error(err))
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(shutdownCtx); err != nil {
				logging.Error(context.Background(), "Tracer shutdown failed", zap.Error(err))
			}
		}()
	}

	verifier, err := auth.NewVerifier(ctx, cfg)
	if err != nil {
		logging.Fatal(ctx, "Failed to initialize API key verifier", zap.Error(err))
	}

	rateLimiter, err := ratelimit.NewRateLimiter(cfg)
	if err != nil {
		logging.Fatal(ctx, "Failed to initialize rate limiter", zap.Error(err))
	}

	allowedOrigins := splitOrigins(cfg.AllowedOrigins)
	hub := broker.NewHub(verifier, rateLimiter, cfg.DevMode(), allowedOrigins)

	// Store mode exposes the credential store to the readiness probe.
	var storePinger health.StorePinger
	if sv, ok := verifier.(*auth.StoreVerifier); ok {
		storePinger = sv
		defer sv.Close()
	}
	healthHandler := health.NewHandler(storePinger)

	if !isDevelopment {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())
	if cfg.OTELCollectorAddr != "" {
		router.Use(otelgin.Middleware("airjam-broker"))
	}

	corsConfig := cors.DefaultConfig()
	if len(allowedOrigins) > 0 {
		corsConfig.AllowOrigins = allowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, middleware.HeaderXCorrelationID)
	router.Use(cors.New(corsConfig))

	router.GET("/health", healthHandler.Health)
	router.GET("/health/live", healthHandler.Liveness)
	router.GET("/health/ready", healthHandler.Readiness)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/ws", hub.ServeWs)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logging.Info(ctx, "AirJam broker listening",
			zap.String("port", cfg.Port), zap.String("auth_mode", string(cfg.Mode())))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Fatal(context.Background(), "HTTP server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logging.Info(ctx, "Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := hub.Shutdown(shutdownCtx); err != nil {
		logging.Error(shutdownCtx, "Hub shutdown failed", zap.Error(err))
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error(shutdownCtx, "Server shutdown failed", zap.Error(err))
	}

	logging.Info(context.Background(), "Broker stopped")
}

// splitOrigins parses the comma-separated ALLOWED_ORIGINS value.
func splitOrigins(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}
