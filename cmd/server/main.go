package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"go-chat-sync/internal/config"
	"go-chat-sync/internal/db"
	"go-chat-sync/internal/logger"
	"go-chat-sync/internal/metrics"
	myMiddleware "go-chat-sync/internal/middleware"
	"go-chat-sync/internal/relay"
	"go-chat-sync/internal/user"
)

func main() {
	if err := run(); err != nil {
		logger.Log.Error("server exited", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
	logger.Sync()
}

func run() error {
	// 1. Config
	cfg, err := config.LoadServer()
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.LogLevel); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Postgres
	database, err := db.NewDatabase(ctx, cfg.DSN)
	if err != nil {
		return err
	}
	defer database.Close()
	logger.Log.Info("connected to postgres")

	if err := database.AutoMigrate(ctx); err != nil {
		return err
	}

	// 3. Redis
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return err
	}
	logger.Log.Info("connected to redis", zap.String("addr", cfg.RedisAddr))

	// 4. Users
	userService := user.NewService(user.NewRepository(database.Conn), cfg.JWTSecret)
	userHandler := user.NewHandler(userService)

	// 5. Relay
	m := metrics.New(prometheus.DefaultRegisterer)
	hub := relay.NewHub(relay.Deps{
		Broker:    relay.NewRedisBroker(rdb),
		Messages:  relay.NewRepository(database.Conn),
		Reactions: relay.NewRedisReactions(rdb),
		Presence:  relay.NewRedisPresence(rdb),
		Metrics:   m,
	})
	hubErr := make(chan error, 1)
	go func() { hubErr <- hub.Run(ctx) }()

	chatHandler := relay.NewHandler(hub, cfg.HistoryLimit)
	authMiddleware := myMiddleware.NewAuthMiddleware(userService)

	// 6. Routes
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Post("/register", userHandler.Register)
	r.Post("/login", userHandler.Login)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware.Handle)
		r.Get("/ws", chatHandler.ServeWs)
		r.Get("/api/chats/{id}/messages", chatHandler.History)
		r.Get("/api/notifications", chatHandler.Notifications)
		r.Get("/api/users/search", userHandler.SearchUsers)
		r.Get("/api/users/{id}", userHandler.Profile)
	})

	srv := &http.Server{Addr: cfg.Addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	srvErr := make(chan error, 1)
	go func() {
		logger.Log.Info("server starting", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}
		close(srvErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-hubErr:
		if err != nil {
			return err
		}
	case err := <-srvErr:
		if err != nil {
			return err
		}
	}

	logger.Log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
