package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"loudfits/database"
	"loudfits/internal/auth"
	"loudfits/internal/config"
	"loudfits/internal/events"
	"loudfits/internal/logger"
	"loudfits/internal/middleware"
	"loudfits/internal/notification"
	"loudfits/internal/realtime"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "could not load config:", err)
		os.Exit(1)
	}

	log := logger.New(logger.Options{
		Service: "api-server",
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// durable notification store
	db, err := database.OpenGorm(cfg, logger.Component(log, "database"))
	if err != nil {
		log.Fatal().Err(err).Msg("database_connect_failed")
	}
	defer database.Close(db)

	redisClient, err := events.NewRedisClient(ctx, cfg.RedisURL, cfg.RedisPassword)
	if err != nil {
		log.Fatal().Err(err).Str("redis_url", cfg.RedisURL).Msg("redis_connect_failed")
	}
	defer redisClient.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := realtime.NewMetrics(registry)

	hub := realtime.NewHub(hubOptions(cfg), metrics, logger.Component(log, "realtime"))
	notifications := notification.NewService(notification.NewRepository(db), logger.Component(log, "notification"))
	hub.SetReceiptHandler(notifications)
	hub.SetUnreadSource(notifications)
	go hub.Run()

	history := events.NewHistory(redisClient, cfg.HistoryKey, cfg.HistoryLimit, logger.Component(log, "history"))
	publisher := events.NewPublisher(hub.Broadcaster, notifications, history, logger.Component(log, "publisher"))
	subscriber := events.NewSubscriber(redisClient, cfg.EventsChannel, publisher, logger.Component(log, "subscriber"))
	go func() {
		if err := subscriber.Run(ctx); err != nil {
			log.Error().Err(err).Str("channel", cfg.EventsChannel).Msg("event_subscriber_stopped")
		}
	}()

	router := newRouter(cfg, log, routerDeps{
		verifier:      auth.NewHMACVerifier(cfg.JWTSecret),
		hub:           hub,
		notifications: notifications,
		admin:         events.NewAdminHandler(history, publisher, hub.Registry, metrics),
		metrics:       promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}),
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		log.Info().Str("addr", server.Addr).Bool("tls", cfg.TLSEnabled).Msg("api_server_starting")
		var err error
		if cfg.TLSEnabled {
			err = server.ListenAndServeTLS(cfg.TLSCertPath, cfg.TLSKeyPath)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("received_shutdown_signal")
	case err := <-errChan:
		log.Error().Err(err).Msg("api_server_error")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("api_server_shutdown_failed")
	}
	hub.Shutdown()
	log.Info().Msg("api_server_stopped_gracefully")
}

func hubOptions(cfg *config.Config) realtime.Options {
	return realtime.Options{
		WriteWait:           cfg.WSWriteWait,
		PongWait:            cfg.WSPongWait,
		MaxMessageSize:      cfg.WSMaxMessageSize,
		SendBuffer:          cfg.WSSendBuffer,
		RateLimit:           cfg.WSRateLimit,
		RateBurst:           cfg.WSRateBurst,
		IdleTimeout:         cfg.WSIdleTimeout,
		AllowedOrigins:      cfg.CORSOrigins,
		AllowAnyOrigin:      cfg.IsDevelopment(),
		TrustClientIdentity: cfg.TrustClientIdentity,
	}
}

type routerDeps struct {
	verifier      auth.Verifier
	hub           *realtime.Hub
	notifications notification.Service
	admin         *events.AdminHandler
	metrics       http.Handler
}

func newRouter(cfg *config.Config, log zerolog.Logger, deps routerDeps) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.GinMiddleware(logger.Component(log, "http")))
	r.Use(corsMiddleware(cfg.CORSOrigins))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "ok",
			"connections": deps.hub.Registry.Count(),
		})
	})
	if cfg.PrometheusEnabled && deps.metrics != nil {
		r.GET("/metrics", gin.WrapH(deps.metrics))
	}

	// browsers cannot set headers on the upgrade, so the token may ride in ?token=
	r.GET(cfg.WSPath, middleware.OptionalAuth(deps.verifier), realtime.WSHandler(deps.hub))

	api := r.Group("/api")
	notifications := api.Group("/notifications", middleware.AuthMiddleware(deps.verifier))
	notification.NewHandler(deps.notifications).RegisterRoutes(notifications)

	admin := api.Group("/admin", middleware.AuthMiddleware(deps.verifier), middleware.RequireAdmin())
	deps.admin.RegisterRoutes(admin)

	return r
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[o] = struct{}{}
	}
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if _, ok := allowed[origin]; ok {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Admin-ID")
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
