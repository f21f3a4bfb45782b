package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"semcache-gateway/internal/cache"
	"semcache-gateway/internal/handlers"
	"semcache-gateway/internal/httpserver"
	"semcache-gateway/internal/metrics"
	"semcache-gateway/internal/provider"
	"semcache-gateway/internal/resolver"
	"semcache-gateway/internal/similarity"
	"semcache-gateway/internal/store"
	"semcache-gateway/internal/usage"
	"semcache-gateway/pkg/logging/logging"
)

type Config struct {
	Port         string
	CacheBackend string // "memory" or "redis"
	CacheTTL     time.Duration
	RedisAddr    string
	DatabaseURL  string

	ProviderBackend string // "openai" or "fake"
	ProviderBaseURL string
	ProviderAPIKey  string
	EmbeddingModel  string
	CompletionModel string

	Threshold float64
}

func LoadConfig() Config {
	return Config{
		Port:            getenv("PORT", "8080"),
		CacheBackend:    getenv("CACHE_BACKEND", "memory"),
		CacheTTL:        getenvDuration("CACHE_TTL", 0), // 0 = no expiration
		RedisAddr:       getenv("REDIS_ADDR", "127.0.0.1:6379"),
		DatabaseURL:     getenv("DATABASE_URL", "postgres://localhost:5432/semcache?sslmode=disable"),
		ProviderBackend: getenv("PROVIDER_BACKEND", "openai"),
		ProviderBaseURL: getenv("PROVIDER_BASE_URL", "https://api.openai.com"),
		ProviderAPIKey:  os.Getenv("PROVIDER_API_KEY"),
		EmbeddingModel:  getenv("EMBEDDING_MODEL", "text-embedding-3-small"),
		CompletionModel: getenv("COMPLETION_MODEL", "gpt-3.5-turbo"),
		Threshold:       getenvFloat("SIMILARITY_THRESHOLD", similarity.DefaultThreshold),
	}
}

func main() {
	if err := run(); err != nil {
		log.Fatalf("semcache exited with error: %v", err)
	}
}

func run() error {
	// ----- Logger -----
	logger := logging.DefaultLogger()
	defer logger.Sync()

	// ----- Metrics -----
	metrics.Register()

	// ----- Config -----
	cfg := LoadConfig()

	logger.Info("loaded config",
		zap.String("port", cfg.Port),
		zap.String("cache_backend", cfg.CacheBackend),
		zap.String("redis_addr", cfg.RedisAddr),
		zap.String("provider_backend", cfg.ProviderBackend),
		zap.String("provider_base_url", cfg.ProviderBaseURL),
		zap.Float64("similarity_threshold", cfg.Threshold),
	)

	// ----- Redis client (only if needed) -----
	var redisClient *redis.Client
	if cfg.CacheBackend == "redis" {
		redisClient = redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
		})

		// Fail fast if Redis is misconfigured
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logger.Error("redis connection failed", zap.Error(err))
			return err
		}
		logger.Info("redis connection established",
			zap.String("addr", cfg.RedisAddr),
		)
	}

	// ----- Cache (Tier 1 exact cache) -----
	cacheCfg := cache.Config{
		Backend: cfg.CacheBackend,
		TTL:     cfg.CacheTTL,
		Prefix:  "semcache",
	}
	exactCache := cache.NewExactCache(cacheCfg, redisClient)
	exactCache = cache.NewLoggingExactCache(exactCache)

	// ----- Durable record store (Tier 2 backing) -----
	db, err := sqlx.Connect("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Error("postgres connection failed", zap.Error(err))
		return err
	}
	defer db.Close()

	recordStore := store.NewPostgresStore(db, logger)
	if err := recordStore.EnsureSchema(context.Background()); err != nil {
		logger.Error("schema setup failed", zap.Error(err))
		return err
	}
	logger.Info("postgres connection established")

	// ----- Similarity engine -----
	engine := similarity.NewEngine(recordStore, logger)

	// ----- Generative provider (Tier 3) -----
	var prov provider.Provider
	if cfg.ProviderBackend == "fake" || cfg.ProviderAPIKey == "" {
		logger.Warn("using fake provider; set PROVIDER_API_KEY for real inference")
		prov = provider.NewFakeProvider()
	} else {
		client, err := provider.NewOpenAIClient(provider.Config{
			BaseURL:         cfg.ProviderBaseURL,
			APIKey:          cfg.ProviderAPIKey,
			EmbeddingModel:  cfg.EmbeddingModel,
			CompletionModel: cfg.CompletionModel,
		}, logger)
		if err != nil {
			return err
		}
		defer client.Close()
		prov = client
	}

	// ----- Usage accounting + resolver -----
	collector := usage.NewCollector()
	res := resolver.New(resolver.Config{
		Threshold: cfg.Threshold,
		CacheTTL:  cfg.CacheTTL,
	}, exactCache, recordStore, engine, prov, collector)

	// ----- Handlers -----
	resolveHandler := handlers.NewResolveHandler(res)
	usageHandler := handlers.NewUsageHandler(collector)

	// ----- Router + middleware -----
	r := chi.NewRouter()
	httpserver.SetupRouter(r, logger, resolveHandler, usageHandler)

	// ----- HTTP server -----
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      90 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	logger.Info("starting semcache gateway",
		zap.String("addr", srv.Addr),
		zap.String("cache_backend", cfg.CacheBackend),
	)

	// Start server in background
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", zap.Error(err))
		}
	}()

	// ----- Graceful shutdown -----
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
		return err
	}

	logger.Info("server shutdown complete")
	return nil
}

// getenv returns the value of the environment variable key or def if not set.
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getenvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
