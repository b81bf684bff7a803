package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/Wandeon/meta-chat-platform/internal/adapter/events"
	mchttp "github.com/Wandeon/meta-chat-platform/internal/adapter/http"
	"github.com/Wandeon/meta-chat-platform/internal/adapter/mcp"
	"github.com/Wandeon/meta-chat-platform/internal/adapter/messenger"
	mcnats "github.com/Wandeon/meta-chat-platform/internal/adapter/nats"
	"github.com/Wandeon/meta-chat-platform/internal/adapter/openai"
	"github.com/Wandeon/meta-chat-platform/internal/adapter/otel"
	"github.com/Wandeon/meta-chat-platform/internal/adapter/postgres"
	"github.com/Wandeon/meta-chat-platform/internal/adapter/ristretto"
	"github.com/Wandeon/meta-chat-platform/internal/adapter/webchat"
	"github.com/Wandeon/meta-chat-platform/internal/adapter/whatsapp"
	"github.com/Wandeon/meta-chat-platform/internal/adapter/ws"
	"github.com/Wandeon/meta-chat-platform/internal/config"
	"github.com/Wandeon/meta-chat-platform/internal/domain/tenant"
	"github.com/Wandeon/meta-chat-platform/internal/logger"
	"github.com/Wandeon/meta-chat-platform/internal/port/channel"
	"github.com/Wandeon/meta-chat-platform/internal/port/embedding"
	"github.com/Wandeon/meta-chat-platform/internal/port/llm"
	"github.com/Wandeon/meta-chat-platform/internal/service"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, logCloser := logger.New(cfg.Logging)
	defer logCloser.Close()
	slog.SetDefault(log)

	log.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"queue_prefetch", cfg.Queue.Prefetch,
		"cache_ttl", cfg.Cache.TTL,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Telemetry ---

	otelShutdown, err := otel.Init(ctx, cfg.Logging.Service, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = otelShutdown(sctx)
	}()

	metrics, err := otel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Infrastructure ---

	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	log.Info("migrations applied")

	broker, err := mcnats.Connect(ctx, cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() { _ = broker.Close() }()

	cache, err := ristretto.New[*tenant.RuntimeConfig](cfg.Cache.MaxEntries)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer cache.Close()

	// --- Providers ---

	providers := make(map[string]*openai.Client, len(cfg.Providers))
	for name, pc := range cfg.Providers {
		providers[name] = openai.New(name, pc, cfg.Breaker)
	}
	resolve := func(name string) (llm.Provider, error) {
		p, ok := providers[name]
		if !ok {
			return nil, fmt.Errorf("unknown llm provider %q", name)
		}
		return p, nil
	}

	var embedder embedding.Embedder
	if e := cfg.Embeddings; e.Provider != "" {
		client, ok := providers[e.Provider]
		if !ok {
			return fmt.Errorf("embeddings: unknown provider %q", e.Provider)
		}
		embedder = openai.NewEmbedder(client, e.Model, e.Dimensions)
		log.Info("embeddings enabled", "provider", e.Provider, "model", e.Model)
	} else {
		log.Warn("no embeddings provider, retrieval is keyword-only")
	}

	// --- Services ---

	store := postgres.NewStore(pool)
	hub := ws.NewHub(log)
	emitter := events.New(broker, hub, log)

	configs := service.NewTenantConfigService(store, cache, cfg.Cache.TTL, log)
	convs := service.NewConversationManager(store, cfg.Pipeline.HistoryLimit)
	retriever := service.NewRagRetriever(store, embedder, log)
	functions := service.NewFunctionRegistry(log)

	closeBridges := connectMCPBridges(ctx, cfg.MCP, functions, log)
	defer closeBridges()

	channels := channel.NewRegistry()
	channels.Register("whatsapp", whatsapp.New())
	channels.Register("messenger", messenger.New())
	channels.Register("webchat", webchat.New(hub, broker, log))

	pipeline := service.NewMessagePipeline(
		configs, convs, retriever, functions, channels,
		resolve, emitter, cfg.Pipeline, log, metrics,
	)
	orchestrator := service.NewConsumerOrchestrator(
		store, broker, pipeline.Handle, cfg.Queue, log, metrics,
	)

	// --- HTTP ---

	handlers := mchttp.NewHandlers(broker, configs, hub, log)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(otel.HTTPMiddleware(cfg.Logging.Service))
	mchttp.MountRoutes(r, handlers)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return orchestrator.Run(gctx)
	})
	g.Go(func() error {
		log.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("shutdown complete")
	return nil
}

// connectMCPBridges connects each configured MCP server and registers its
// tools for the owning tenant. A failing server degrades that tenant's tool
// set instead of blocking startup.
func connectMCPBridges(ctx context.Context, cfg config.MCP, functions *service.FunctionRegistry, log *slog.Logger) func() {
	var bridges []*mcp.Bridge
	for _, server := range cfg.Servers {
		bridge, err := mcp.Connect(ctx, server.URL, log)
		if err != nil {
			log.Warn("mcp server unavailable", "url", server.URL, "tenant_id", server.TenantID, "error", err)
			continue
		}
		defs, err := bridge.Functions(ctx)
		if err != nil {
			log.Warn("mcp tool listing failed", "url", server.URL, "error", err)
			_ = bridge.Close()
			continue
		}
		functions.RegisterAll(server.TenantID, defs)
		bridges = append(bridges, bridge)
		log.Info("mcp tools registered", "url", server.URL, "tenant_id", server.TenantID, "tools", len(defs))
	}
	return func() {
		for _, b := range bridges {
			_ = b.Close()
		}
	}
}
