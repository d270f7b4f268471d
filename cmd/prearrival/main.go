// Command prearrival runs the pre-arrival intake gateway: the conversation
// API for patients on their way to the ER, the sync bus that fans reports
// out to dashboards, and the dashboard's REST and websocket surface.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/clara-health/prearrival/internal/dotenv"
	"github.com/clara-health/prearrival/pkg/convo"
	"github.com/clara-health/prearrival/pkg/dashboard"
	"github.com/clara-health/prearrival/pkg/db"
	"github.com/clara-health/prearrival/pkg/gateway/config"
	"github.com/clara-health/prearrival/pkg/gateway/handlers"
	"github.com/clara-health/prearrival/pkg/gateway/metrics"
	"github.com/clara-health/prearrival/pkg/gateway/ratelimit"
	"github.com/clara-health/prearrival/pkg/gateway/server"
	"github.com/clara-health/prearrival/pkg/gateway/sessions"
	"github.com/clara-health/prearrival/pkg/syncbus"
	"github.com/clara-health/prearrival/pkg/voice/tts"
)

const (
	sessionTTL      = time.Hour
	sessionSweepGap = 10 * time.Minute
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "prearrival:", err)
		os.Exit(1)
	}
}

func run() error {
	if err := dotenv.LoadFile(".env"); err != nil {
		return fmt.Errorf("load .env: %w", err)
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	logger := newLogger()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	// Sync transports.
	var (
		transports  []syncbus.Transport
		redisClient *redis.Client
		pool        *pgxpool.Pool
	)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse redis url: %w", err)
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()
		transports = append(transports, syncbus.NewRedisTransport(redisClient, cfg.SyncChannel, logger))
	}
	if cfg.PostgresDSN != "" {
		if err := db.Migrate(ctx, cfg.PostgresDSN); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		pool, err = db.OpenPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		defer pool.Close()
		transports = append(transports, syncbus.NewPostgresTransport(pool, logger))
	}

	bus := syncbus.New(logger, transports...)
	if err := bus.Start(ctx); err != nil {
		return fmt.Errorf("start sync bus: %w", err)
	}
	defer bus.Close()

	// Count remote events per type.
	for _, et := range syncbus.KnownEventTypes() {
		et := et
		bus.Subscribe(et, func(e syncbus.Event) {
			if e.Source != bus.Source() {
				m.EventsReceived.WithLabelValues(string(et)).Inc()
			}
		})
	}

	// Model clients.
	model, err := convo.NewGeminiModel(ctx, chatConfig(cfg))
	if err != nil {
		return fmt.Errorf("chat model: %w", err)
	}
	synth, err := tts.NewGemini(ctx, ttsConfig(cfg))
	if err != nil {
		return fmt.Errorf("tts model: %w", err)
	}

	// Dashboard store, with persistence and triage suggestions when
	// Postgres and the model are available.
	var storeOpts []dashboard.StoreOption
	if pool != nil {
		storeOpts = append(storeOpts, dashboard.WithPersister(dashboard.NewPGStore(pool)))
	}
	suggester, err := dashboard.NewGeminiSuggester(ctx, cfg.GeminiAPIKey, cfg.ChatModel)
	if err != nil {
		return fmt.Errorf("triage suggester: %w", err)
	}
	storeOpts = append(storeOpts, dashboard.WithSuggester(suggester))

	var h *handlers.Handlers
	hub := handlers.NewHub(logger, cfg.CORSAllowedOrigins, cfg.WSPingInterval, func(n int) {
		m.DashboardClients.Set(float64(n))
	})
	storeOpts = append(storeOpts, dashboard.WithOnChange(func() {
		hub.Broadcast(h.PatientListMessage())
	}))

	store := dashboard.NewStore(logger, storeOpts...)
	store.Restore(ctx)

	reg := sessions.NewRegistry(sessionTTL, func(n int) {
		m.SessionsActive.Set(float64(n))
	})
	go sweepSessions(ctx, reg)

	h = handlers.New(handlers.Deps{
		Logger:         logger,
		Cfg:            cfg,
		Sessions:       reg,
		SessionLimiter: ratelimit.NewSessionLimiter(cfg.SessionMax, cfg.SessionWindow),
		NewEngine: func() *convo.Engine {
			return convo.NewEngine(model, convo.SystemPrompt, logger)
		},
		Bus:     bus,
		Store:   store,
		Metrics: m,
		Synth:   synth,
		Hub:     hub,
		Ready:   readiness(cfg, redisClient, pool),
	})

	// Bind after h is assigned: bus events can invoke the store's onChange
	// callback from transport goroutines as soon as the subscriptions exist.
	unbind := store.Bind(bus)
	defer unbind()

	srv := server.New(cfg, logger, h, m)

	listenErr := make(chan error, 1)
	go func() { listenErr <- srv.ListenAndServe() }()

	select {
	case err := <-listenErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down", "grace", cfg.ShutdownGracePeriod)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(os.Getenv("CLARA_LOG_LEVEL")) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

func chatConfig(cfg config.Config) convo.GeminiConfig {
	c := convo.DefaultGeminiConfig(cfg.GeminiAPIKey)
	c.Model = cfg.ChatModel
	return c
}

func ttsConfig(cfg config.Config) tts.GeminiConfig {
	c := tts.DefaultGeminiConfig(cfg.GeminiAPIKey)
	c.Model = cfg.TTSModel
	c.Voice = cfg.TTSVoice
	return c
}

// readiness checks the configured transports with a short deadline.
func readiness(cfg config.Config, redisClient *redis.Client, pool *pgxpool.Pool) func() []string {
	return func() []string {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		var issues []string
		if redisClient != nil {
			if err := redisClient.Ping(ctx).Err(); err != nil {
				issues = append(issues, "redis: "+err.Error())
			}
		}
		if pool != nil {
			if err := pool.Ping(ctx); err != nil {
				issues = append(issues, "postgres: "+err.Error())
			}
		}
		if redisClient == nil && pool == nil && !cfg.SyncLocalOnly {
			issues = append(issues, "no sync transport configured")
		}
		return issues
	}
}

func sweepSessions(ctx context.Context, reg *sessions.Registry) {
	ticker := time.NewTicker(sessionSweepGap)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reg.Sweep(time.Now())
		}
	}
}
