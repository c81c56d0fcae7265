// travelist-server is the backend binary: it loads configuration, wires
// the stores, services and transports, and serves HTTP + websocket until
// interrupted.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/semaphore"

	"travelist/internal/assistant"
	"travelist/internal/config"
	"travelist/internal/geocode"
	"travelist/internal/llm"
	"travelist/internal/logging"
	"travelist/internal/memory"
	"travelist/internal/metrics"
	"travelist/internal/planner"
	"travelist/internal/poi"
	"travelist/internal/prompt"
	"travelist/internal/server"
	"travelist/internal/server/ws"
	"travelist/internal/task"
	"travelist/internal/tools"
	"travelist/internal/trip"
)

func main() {
	var configFile string
	root := &cobra.Command{
		Use:          "travelist-server",
		Short:        "Travelist trip-planning and assistant backend",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), configFile)
		},
	}
	root.Flags().StringVarP(&configFile, "config", "c", "", "optional yaml config file")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configFile string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	logger := logging.NewComponentLoggerAt("Server", logging.ParseLevel(cfg.LogLevel))
	logger.Info("starting travelist-server (addr=%s, ai=%s, poi=%s, db=%v)",
		cfg.HTTPAddr, cfg.AIProvider, cfg.PoiProvider, cfg.DBDSN != "")

	external := semaphore.NewWeighted(int64(max(1, cfg.MaxConcurrentExternal)))

	var pool *pgxpool.Pool
	if cfg.DBDSN != "" {
		pool, err = pgxpool.New(ctx, cfg.DBDSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pool.Close()
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer func() { _ = redisClient.Close() }()
	}

	var metricsOpts []metrics.Option
	if redisClient != nil {
		metricsOpts = append(metricsOpts, metrics.WithPoiCounters(
			metrics.NewRedisPoiCounters(redisClient, logger)))
	}
	metricsReg := metrics.NewRegistry(prometheus.DefaultRegisterer, metricsOpts...)

	stores, err := buildStores(ctx, pool, logger)
	if err != nil {
		return err
	}

	poiSvc := poi.NewService(poi.ServiceConfig{
		DefaultRadiusM: cfg.PoiDefaultRadiusM,
		MaxRadiusM:     cfg.PoiMaxRadiusM,
		CoordPrecision: cfg.PoiCoordPrecision,
		MinResults:     cfg.PoiMinResults,
	}, buildPoiCache(cfg, redisClient, logger), stores.pois, buildPoiProvider(cfg, external, logger), metricsReg, logger)

	geocoder := geocode.NewService(cfg.GeocodeProvider, cfg.GeocodeAPIKey,
		time.Duration(cfg.GeocodeCacheTTLSecs)*time.Second, external, logger)

	var client llm.Client
	if cfg.AIProvider == "ollama" {
		client = llm.NewOllamaClient(cfg.AIModel, cfg.AIBaseURL, external, metricsReg, logger)
	} else {
		client = llm.NewMockClient(cfg.AIModel, metricsReg)
	}

	var embed memory.EmbeddingFunc
	if cfg.AIProvider == "ollama" && cfg.MemoryEmbedModel != "" {
		embed = memory.NewOllamaEmbedding(cfg.MemoryEmbedModel, cfg.AIBaseURL)
	}
	memEngine, err := memory.NewChromemEngine(cfg.MemoryPersistPath, embed)
	if err != nil {
		return fmt.Errorf("open memory engine: %w", err)
	}
	memSvc := memory.NewService(memEngine, cfg.MemoryEnabled, metricsReg, logger)
	prompts := prompt.NewRegistry(stores.prompts, time.Minute, logger)

	fast := planner.NewFastPlanner(cfg, poiSvc, geocoder, logger)
	deep := planner.NewDeepPlanner(cfg, fast, client, memSvc, logger)
	planSvc := planner.NewService(cfg, fast, deep, stores.trips, metricsReg, logger)

	engine := task.NewEngine(cfg, stores.tasks, planSvc, logger)
	if err := engine.Start(ctx); err != nil {
		return fmt.Errorf("start task engine: %w", err)
	}
	defer engine.Stop()
	planSvc.SetTaskSubmitter(engine)

	toolReg := tools.NewRegistry(15*time.Second, logger)
	toolReg.Register(tools.NewPoiAroundTool(poiSvc))
	toolReg.Register(tools.NewTripQueryTool(stores.trips))
	toolReg.Register(tools.NewWeatherAreaTool(cfg.PoiAPIKey, logger))
	toolReg.Register(tools.NewPathNavigateTool())

	chatSvc := assistant.NewService(cfg, stores.sessions, toolReg, prompts, client, memSvc, logger)

	var wsHandler http.Handler
	if cfg.AssistantWSEnabled {
		wsHandler = ws.NewGateway(cfg, chatSvc, logger)
	}

	router := server.NewRouter(server.Deps{
		Config:  cfg,
		Logger:  logger,
		Metrics: metricsReg,
		Plan:    planSvc,
		Tasks:   engine,
		Chat:    chatSvc,
		Poi:     poiSvc,
		Prompts: prompts,
		WS:      wsHandler,
	})
	return server.New(cfg.HTTPAddr, router, logger).Run(ctx)
}

// storeSet bundles the persistence ports, Postgres-backed when a DSN is
// configured and in-memory otherwise.
type storeSet struct {
	trips    trip.Store
	pois     poi.Store
	prompts  prompt.Store
	tasks    task.Store
	sessions assistant.Store
}

func buildStores(ctx context.Context, pool *pgxpool.Pool, logger logging.Logger) (*storeSet, error) {
	if pool == nil {
		return &storeSet{
			trips:    trip.NewMemoryStore(),
			pois:     poi.NewMemoryStore(),
			prompts:  prompt.NewMemoryStore(),
			tasks:    task.NewMemoryStore(),
			sessions: assistant.NewMemoryStore(),
		}, nil
	}

	trips := trip.NewPostgresStore(pool, logger)
	pois := poi.NewPostgresStore(pool, logger)
	prompts := prompt.NewPostgresStore(pool)
	tasks := task.NewPostgresStore(pool, logger)
	sessions := assistant.NewPostgresStore(pool, logger)

	for name, ensure := range map[string]func(context.Context) error{
		"trips":    trips.EnsureSchema,
		"pois":     pois.EnsureSchema,
		"prompts":  prompts.EnsureSchema,
		"tasks":    tasks.EnsureSchema,
		"sessions": sessions.EnsureSchema,
	} {
		if err := ensure(ctx); err != nil {
			return nil, fmt.Errorf("ensure %s schema: %w", name, err)
		}
	}
	return &storeSet{trips: trips, pois: pois, prompts: prompts, tasks: tasks, sessions: sessions}, nil
}

func buildPoiCache(cfg *config.Config, redisClient *redis.Client, logger logging.Logger) poi.Cache {
	if !cfg.PoiCacheEnabled {
		return poi.NewNopCache()
	}
	ttl := time.Duration(cfg.PoiCacheTTLSecs) * time.Second
	if cfg.PoiCacheBackend == "redis" && redisClient != nil {
		return poi.NewRedisCache(redisClient, 1024, ttl, logger)
	}
	return poi.NewMemoryCache(1024, ttl)
}

func buildPoiProvider(cfg *config.Config, external *semaphore.Weighted, logger logging.Logger) poi.Provider {
	if cfg.PoiProvider == "amap" && cfg.PoiAPIKey != "" {
		return poi.NewAmapProvider(cfg.PoiAPIKey, external, logger)
	}
	return poi.MockProvider{}
}
