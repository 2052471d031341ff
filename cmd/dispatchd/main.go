/*
Dispatch core

Real-time ride dispatch: tiered batched-offer matching, a hybrid ETA
oracle, and hot-zone demand/quota control, built for high-throughput
real-time operations.
*/
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	goredis "github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ubi-africa/dispatch-core/internal/config"
	"github.com/ubi-africa/dispatch-core/internal/decisionlog"
	"github.com/ubi-africa/dispatch-core/internal/dispatch"
	"github.com/ubi-africa/dispatch-core/internal/eta"
	"github.com/ubi-africa/dispatch-core/internal/handler"
	"github.com/ubi-africa/dispatch-core/internal/hotzone"
	"github.com/ubi-africa/dispatch-core/internal/predictor"
	"github.com/ubi-africa/dispatch-core/internal/presence"
	"github.com/ubi-africa/dispatch-core/internal/store/postgres"
	"github.com/ubi-africa/dispatch-core/internal/transport/ws"
)

const (
	headerContentType   = "Content-Type"
	contentTypeJSON     = "application/json"
	headerAccept        = "Accept"
	headerAuthorization = "Authorization"
	headerRequestID     = "X-Request-ID"
)

// App holds every live dependency the process needs to shut down cleanly.
type App struct {
	cfg   config.Config
	db    *postgres.Store
	redis *goredis.Client

	engine   *dispatch.Engine
	hub      *ws.Hub
	presence *presence.Registry

	cancelBackground context.CancelFunc
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if os.Getenv("NODE_ENV") == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	app, err := initializeApp(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize application")
	}
	defer app.cleanup()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(middleware.Compress(5))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://app.ubi.africa", "https://driver.ubi.africa", "http://localhost:*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{headerAccept, headerAuthorization, headerContentType, headerRequestID},
		ExposedHeaders:   []string{headerRequestID},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(httprate.LimitByIP(200, time.Minute))

	r.Get("/health/live", app.healthLive)
	r.Get("/health/ready", app.healthReady)

	dispatchHandler := handler.NewDispatchHandler(app.engine, app.hub)
	presenceHandler := handler.NewPresenceHandler(app.presence)

	r.Group(func(r chi.Router) {
		r.Use(handler.RequireAuth(app.redis, cfg.JWTSecret))
		r.Mount("/orders", dispatchHandler.Routes())
		r.Post("/drivers/presence", presenceHandler.Heartbeat)
		r.Post("/drivers/offline", presenceHandler.GoOffline)
	})

	r.Get("/ws/driver", app.hub.ServeDriverWS)
	r.Get("/ws/rider", app.hub.ServeRiderWS)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Str("environment", cfg.Environment).Msg("dispatch core starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	app.cancelBackground()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}
	log.Info().Msg("server exited properly")
}

func initializeApp(cfg config.Config) (*App, error) {
	app := &App{cfg: cfg}
	bgCtx, cancel := context.WithCancel(context.Background())
	app.cancelBackground = cancel

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := postgres.Connect(bgCtx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	app.db = db

	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}
	redisOpts, err := goredis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	redisClient := goredis.NewClient(redisOpts)
	if err := redisClient.Ping(bgCtx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	app.redis = redisClient

	presenceRegistry := presence.NewRegistry(redisClient)
	app.presence = presenceRegistry

	roadNetwork := eta.NewFallbackOracle(eta.NewGoogleRoutesClient(), eta.NewMapboxRoutesClient())
	oracle := eta.NewOracle(db.ETA(), roadNetwork, cfg.ETADailyCallBudget)
	go oracle.RunSweeper(bgCtx)

	model := predictor.New(db.Predictor(), db.Predictor(), db.Predictor())
	if err := model.LoadLatest(bgCtx); err != nil {
		log.Warn().Err(err).Msg("no persisted rejection model found, starting from a fresh network")
	}

	hotZoneController := hotzone.NewController(cfg.Zones, db.HotZone(), db.HotZone(), db.HotZone())

	decisionLog := decisionlog.NewWriter(db.DecisionLog(), cfg.KafkaBrokers)

	// Hub and Engine need each other (Hub calls back into Engine for driver
	// responses; Engine pushes through Hub as its notifier), so the hub is
	// constructed without an engine and wired in once the engine exists.
	hub := ws.NewHub(cfg.JWTSecret, nil, presenceRegistry)
	app.hub = hub

	engine := dispatch.New(cfg.Dispatch, cfg.Scoring, dispatch.Deps{
		Presence:           presenceRegistry,
		Estimator:          oracle,
		Predictor:          model,
		HotZone:            hotZoneController,
		Orders:             db.Orders(),
		DecisionLog:        decisionLog,
		DriverNotifier:     hub,
		RiderNotifier:      hub,
		AutoAcceptPolicies: db.AutoAccept(),
		ProfileUpdater:     model,
	})
	app.engine = engine
	hub.SetEngine(engine)

	go engine.RunQueueSweeper(bgCtx)

	log.Info().Msg("dispatch core dependencies initialized")
	return app, nil
}

func (a *App) cleanup() {
	if a.db != nil {
		a.db.Close()
		log.Info().Msg("database connection closed")
	}
	if a.redis != nil {
		a.redis.Close()
		log.Info().Msg("redis connection closed")
	}
}

func (a *App) healthLive(w http.ResponseWriter, r *http.Request) {
	w.Header().Set(headerContentType, contentTypeJSON)
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","timestamp":"%s"}`, time.Now().UTC().Format(time.RFC3339))
}

func (a *App) healthReady(w http.ResponseWriter, r *http.Request) {
	if err := a.redis.Ping(r.Context()).Err(); err != nil {
		w.Header().Set(headerContentType, contentTypeJSON)
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprintf(w, `{"status":"not ready","error":"redis unavailable"}`)
		return
	}
	w.Header().Set(headerContentType, contentTypeJSON)
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ready"}`)
}
