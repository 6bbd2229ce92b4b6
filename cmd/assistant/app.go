package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/vnmchuo/assistant-queue/config"
	"github.com/vnmchuo/assistant-queue/internal/auth"
	"github.com/vnmchuo/assistant-queue/internal/billing"
	"github.com/vnmchuo/assistant-queue/internal/chat"
	"github.com/vnmchuo/assistant-queue/internal/delivery"
	"github.com/vnmchuo/assistant-queue/internal/handler"
	"github.com/vnmchuo/assistant-queue/internal/logging"
	"github.com/vnmchuo/assistant-queue/internal/maintenance"
	"github.com/vnmchuo/assistant-queue/internal/metrics"
	"github.com/vnmchuo/assistant-queue/internal/profile"
	"github.com/vnmchuo/assistant-queue/internal/provider"
	"github.com/vnmchuo/assistant-queue/internal/provider/openai"
	"github.com/vnmchuo/assistant-queue/internal/proxy"
	"github.com/vnmchuo/assistant-queue/internal/seeder"
	"github.com/vnmchuo/assistant-queue/internal/telemetry"
	"github.com/vnmchuo/assistant-queue/internal/tools"
	"github.com/vnmchuo/assistant-queue/internal/worker"
	"github.com/vnmchuo/assistant-queue/pkg/ratelimit"
)

const shutdownTimeout = 10 * time.Second

// app holds the process-wide connections shared by every command.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	pool     *pgxpool.Pool
	rdb      *redis.Client
	registry *prometheus.Registry
	metrics  *metrics.Metrics

	shutdownTracer func(context.Context) error
}

// bootstrap loads config and opens Postgres and Redis. Commands that only
// touch the schema pass withRedis=false.
func bootstrap(ctx context.Context, component string, withRedis bool) (*app, error) {
	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 2. Init logger
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	logger = logger.With(zap.String("component", component))

	a := &app{cfg: cfg, logger: logger}

	// 3. Init telemetry
	a.shutdownTracer, err = telemetry.InitTracer(component, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to init tracer: %w", err)
	}

	// 4. Connect PostgreSQL
	a.pool, err = pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		_ = a.close()
		return nil, fmt.Errorf("failed to connect postgres: %w", err)
	}
	if err := a.pool.Ping(ctx); err != nil {
		_ = a.close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	logger.Info("postgres connected")

	// 5. Connect Redis
	if withRedis {
		a.rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := a.rdb.Ping(ctx).Err(); err != nil {
			_ = a.close()
			return nil, fmt.Errorf("failed to ping redis: %w", err)
		}
		logger.Info("redis connected", zap.String("addr", cfg.RedisAddr))
	}

	// 6. Init metrics
	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = metrics.New(a.registry)

	return a, nil
}

func (a *app) close() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var err error
	if a.rdb != nil {
		err = multierr.Append(err, a.rdb.Close())
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.shutdownTracer != nil {
		err = multierr.Append(err, a.shutdownTracer(ctx))
	}
	_ = a.logger.Sync()
	return err
}

func (a *app) bridge() *delivery.Bridge {
	return delivery.NewBridge(a.rdb, a.cfg.ResultTTL)
}

func (a *app) engineConfig() worker.EngineConfig {
	return worker.EngineConfig{
		Workers: a.cfg.QueueWorkers,
		Batch:   a.cfg.QueueBatch,
		Ratio: worker.Ratio{
			General: a.cfg.QueueRatioGeneral,
			Premium: a.cfg.QueueRatioPremium,
		},
		PollInterval: a.cfg.QueuePollInterval,
	}
}

// engine builds the queue engine with the full chat handler chain behind it.
func (a *app) engine() *worker.Engine {
	tracer := otel.GetTracerProvider().Tracer(telemetry.ServiceName)
	bridge := a.bridge()

	chats := chat.NewPostgresStore(a.pool)
	profiles := profile.NewPostgresStore(a.pool)
	subs := billing.NewPostgresStore(a.pool)

	// Providers by role: streaming answers, synchronous answers, tool calls.
	llm := provider.NewRouter(map[string]provider.Provider{
		provider.ClientStream: openai.New("nebius", a.cfg.NebiusAPIKey, a.cfg.NebiusBaseURL),
		provider.ClientSync:   openai.New("gemini", a.cfg.GeminiAPIKey, a.cfg.GeminiBaseURL),
		provider.ClientTools:  openai.New("openai", a.cfg.OpenAIAPIKey, a.cfg.OpenAIBaseURL),
	}, a.metrics)

	toolRegistry := tools.NewRegistry()
	tools.Register(toolRegistry, profile.NewService(profiles))

	pipeline := handler.NewPipeline(handler.PipelineDeps{
		Chats:      chats,
		History:    chat.NewHistory(chats, profiles),
		Tools:      tools.NewManager(toolRegistry, llm, a.logger, a.metrics),
		LLM:        llm,
		Billing:    subs,
		Bridge:     bridge,
		ToolsModel: a.cfg.ToolCallsModel,
		Logger:     a.logger,
		Tracer:     tracer,
	})

	handlers := handler.NewRegistry(bridge, a.logger)
	handlers.Register(handler.TypeTextCompletion, handler.NewChatHandler(pipeline, llm, bridge, a.cfg.StreamModel))

	return worker.NewEngine(worker.NewPostgresStore(a.pool), handlers.Dispatch, a.engineConfig(),
		worker.WithLogger(a.logger),
		worker.WithMetrics(a.metrics),
		worker.WithTracer(tracer),
	)
}

// intakeQueue is an engine that is never run; the api process only enqueues
// and reads stats through it.
func (a *app) intakeQueue() *worker.Engine {
	return worker.NewEngine(worker.NewPostgresStore(a.pool), nil, a.engineConfig(),
		worker.WithLogger(a.logger),
		worker.WithMetrics(a.metrics),
	)
}

func (a *app) scheduler() *maintenance.Scheduler {
	return maintenance.New(
		worker.NewPostgresStore(a.pool),
		billing.NewPostgresStore(a.pool),
		a.cfg.CleanupFailedAfter,
		a.logger,
	)
}

func (a *app) server(queue proxy.Queue) (*http.Server, error) {
	subs := billing.NewPostgresStore(a.pool)

	if a.cfg.RunSeed {
		if _, err := seeder.SeedDevUser(context.Background(), profile.NewPostgresStore(a.pool), subs, a.cfg.JWTSecret, a.logger); err != nil {
			return nil, err
		}
	}

	authMiddleware := auth.NewMiddleware(a.cfg.JWTSecret, auth.NewPostgresStore(a.pool), a.rdb, a.logger)
	h := proxy.NewHandler(
		queue,
		a.bridge(),
		subs,
		ratelimit.NewLimiter(a.rdb, a.cfg.RateLimitRPM),
		otel.GetTracerProvider().Tracer(telemetry.ServiceName),
		a.logger,
		proxy.Config{PollInterval: a.cfg.PollInterval, MaxTimeout: a.cfg.MaxTimeout},
	)

	return &http.Server{
		Addr:        ":" + a.cfg.Port,
		Handler:     proxy.NewRouter(h, authMiddleware, a.registry, a.logger),
		ReadTimeout: 30 * time.Second,
		// Sync requests may be held open for the whole poll window.
		WriteTimeout: a.cfg.MaxTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}, nil
}

// serveHTTP runs srv until ctx is cancelled, then drains it.
func (a *app) serveHTTP(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}
	a.logger.Info("http server stopped")
	return nil
}
