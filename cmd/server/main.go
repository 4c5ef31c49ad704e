package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/lexiqai/narrator/internal/api"
	"github.com/lexiqai/narrator/internal/cache"
	"github.com/lexiqai/narrator/internal/config"
	"github.com/lexiqai/narrator/internal/observability"
	"github.com/lexiqai/narrator/internal/playback"
	"github.com/lexiqai/narrator/internal/resilience"
	"github.com/lexiqai/narrator/internal/sink"
	"github.com/lexiqai/narrator/internal/speech"
	"github.com/lexiqai/narrator/internal/tts"
)

const (
	readinessInterval = 15 * time.Second
	keyCheckTTL       = 5 * time.Minute
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("cache_backend", cfg.CacheBackend).
		Str("playback_sink", cfg.PlaybackSink).
		Str("output_format", cfg.ElevenLabsOutputFormat).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Narrator service starting")

	// Cache layer
	store, err := cache.NewStore(cache.StoreOptions{
		Backend:          cfg.CacheBackend,
		RedisURL:         cfg.RedisURL,
		DiskPath:         cfg.CacheDiskPath,
		DiskCapacity:     cfg.CacheDiskCapacity,
		CompressionLevel: cfg.CacheCompressionLevel,
		MemoryCapacity:   cfg.CacheMemoryCapacity,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create cache store")
	}
	audioCache := cache.New(store, cache.WithReconnect(&resilience.ReconnectConfig{
		MaxAttempts: cfg.ReconnectMaxAttempts,
		Backoff:     time.Duration(cfg.ReconnectBackoff) * time.Millisecond,
		Multiplier:  2.0,
		MaxBackoff:  10 * time.Second,
	}))

	connectCtx, cancelConnect := context.WithTimeout(context.Background(), 30*time.Second)
	if err := audioCache.Connect(connectCtx); err != nil {
		// The cache is advisory; synthesis still works without it
		logger.Warn().Err(err).Msg("Cache unavailable, continuing without it")
	}
	cancelConnect()

	// Synthesis, speech resolution and playback
	client := tts.NewClientFromConfig(cfg)
	service := speech.NewService(client, audioCache, speech.VoiceTableFromConfig(cfg))

	audioSink, err := sink.New(cfg, service.Format())
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create playback sink")
	}
	queue := playback.NewQueue(service, audioSink, playback.Options{
		AutoPlay: cfg.PlaybackAutoPlay,
		Volume:   cfg.PlaybackVolume,
	})

	// Create HTTP server
	mux := http.NewServeMux()
	api.NewServer(service,
		api.WithQueue(queue),
		api.WithDefaultPause(cfg.DefaultBeatPauseDuration()),
	).Register(mux)

	// Health check endpoint
	mux.HandleFunc("/health", observability.HealthCheckHandler())

	checks := readinessChecks(client, audioCache)
	mux.HandleFunc("/ready", observability.ReadinessHandler(checks...))

	// Metrics endpoint (Prometheus)
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	// Create HTTP server with timeouts. Synthesis can take a while, so the
	// write timeout covers the full retry budget.
	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: writeTimeout(cfg),
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("endpoint", fmt.Sprintf("http://localhost:%s%s", cfg.Port, speech.SpeakPath)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var grpcServer *grpc.Server
	if cfg.GRPCHealthPort != "" {
		grpcServer = startGRPCHealth(ctx, cfg.GRPCHealthPort, checks, logger)
	}

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server...")
	cancel()

	// Graceful shutdown with timeout
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	queue.Dispose()
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("Server forced to shutdown")
	}
	if err := audioCache.Close(); err != nil {
		logger.Warn().Err(err).Msg("Failed to close cache")
	}

	logger.Info().Msg("Server exited gracefully")
}

func writeTimeout(cfg *config.Config) time.Duration {
	budget := time.Duration(cfg.SynthMaxRetries+1)*(cfg.SynthTimeoutDuration()+cfg.SynthMaxDelayDuration()) + 15*time.Second
	if budget < 15*time.Second {
		return 15 * time.Second
	}
	return budget
}

// readinessChecks validates the API key (memoized, the call counts against
// quota), reports the synthesis breaker and pings the cache. The cache is
// optional.
func readinessChecks(client *tts.Client, c *cache.Cache) []observability.HealthCheck {
	var (
		mu        sync.Mutex
		checkedAt time.Time
		lastOK    bool
		lastErr   error
	)
	keyCheck := func(ctx context.Context) (bool, error) {
		mu.Lock()
		defer mu.Unlock()
		if !checkedAt.IsZero() && time.Since(checkedAt) < keyCheckTTL {
			return lastOK, lastErr
		}
		lastOK, lastErr = client.ValidateAPIKey(ctx)
		if lastErr == nil && !lastOK {
			lastErr = errors.New("API key rejected")
		}
		checkedAt = time.Now()
		return lastOK, lastErr
	}

	cacheCheck := func(ctx context.Context) (bool, error) {
		if !c.IsConnected() {
			if err := c.Connect(ctx); err != nil {
				return false, err
			}
		}
		if err := c.Ping(ctx); err != nil {
			return false, err
		}
		return true, nil
	}

	return []observability.HealthCheck{
		{Name: "elevenlabs", Check: keyCheck},
		client.BreakerHealthCheck(),
		{Name: "cache", Check: cacheCheck, Optional: true},
	}
}

// startGRPCHealth serves grpc.health.v1 and mirrors the readiness checks
func startGRPCHealth(ctx context.Context, port string, checks []observability.HealthCheck, logger zerolog.Logger) *grpc.Server {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%s", port))
	if err != nil {
		logger.Fatal().Err(err).Str("port", port).Msg("Failed to listen for gRPC health")
	}

	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	update := func() {
		checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		ready, _ := observability.RunChecks(checkCtx, checks)
		status := healthpb.HealthCheckResponse_SERVING
		if !ready {
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
		healthServer.SetServingStatus("", status)
		healthServer.SetServingStatus("narrator", status)
	}

	go func() {
		update()
		ticker := time.NewTicker(readinessInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				healthServer.Shutdown()
				return
			case <-ticker.C:
				update()
			}
		}
	}()

	go func() {
		logger.Info().Str("port", port).Msg("gRPC health server listening")
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error().Err(err).Msg("gRPC health server stopped")
		}
	}()

	return grpcServer
}
