package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/GetStream/direct-messaging/api"
	"github.com/GetStream/direct-messaging/api/validator"
	"github.com/GetStream/direct-messaging/attachment"
	"github.com/GetStream/direct-messaging/auth"
	"github.com/GetStream/direct-messaging/chat"
	"github.com/GetStream/direct-messaging/live"
	"github.com/GetStream/direct-messaging/metrics"
	"github.com/GetStream/direct-messaging/postgres"
	"github.com/GetStream/direct-messaging/redis"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and live connection server",
	RunE:  runServe,
}

var (
	migrateOnStart  bool
	shutdownTimeout time.Duration
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&migrateOnStart, "migrate", false, "create missing tables before serving")
	serveCmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 10*time.Second, "time allowed for in-flight requests on shutdown")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pg, err := postgres.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	defer pg.Close()
	logger.Info("Connected to postgres")

	if migrateOnStart {
		if err := pg.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		logger.Info("Database migrated")
	}

	checks := map[string]api.Pinger{"postgres": pg}
	var cache chat.Cache
	if cfg.RedisAddr != "" {
		rd, err := redis.Connect(ctx, cfg.RedisAddr)
		if err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		defer rd.Close()
		cache = rd
		checks["redis"] = rd
		logger.Info("Connected to redis", "addr", cfg.RedisAddr)
	} else {
		logger.Info("No REDIS_ADDR set, conversations are not cached")
	}

	m := metrics.New()
	val := validator.New()
	svc := &chat.Service{
		Logger:  logger.With("component", "chat"),
		DB:      pg,
		Cache:   cache,
		Metrics: m,
	}
	gate := &auth.Gate{
		Logger: logger.With("component", "auth"),
		Secret: []byte(cfg.JWTSecret),
		Users:  svc,
		TTL:    cfg.TokenTTL,
	}
	hub := &live.Hub{
		Logger:        logger.With("component", "live"),
		Chat:          svc,
		Gate:          gate,
		Metrics:       m,
		Val:           val,
		AllowedOrigin: cfg.AllowedOrigin,
	}
	uploads := &attachment.Pipeline{
		Logger:     logger.With("component", "attachment"),
		Dir:        cfg.UploadDir,
		PublicPath: "/uploads",
	}

	a := &api.API{
		Logger:  logger.With("component", "api"),
		Chat:    svc,
		Gate:    gate,
		Uploads: uploads,
		Val:     val,
		Limiter: &api.Limiter{RPS: cfg.RateLimitRPS, Burst: cfg.RateLimitBurst},
		Metrics: m,
		Live:    hub,
		Files:   http.StripPrefix("/uploads/", http.FileServer(http.Dir(cfg.UploadDir))),
		Checks:  checks,
	}

	var wg sync.WaitGroup
	hubCtx, stopHub := context.WithCancel(context.Background())
	wg.Add(1)
	go func() {
		defer wg.Done()
		hub.Run(hubCtx)
	}()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           a,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		logger.Info("Listening", "addr", cfg.Addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err = <-errc:
	case <-ctx.Done():
		logger.Info("Shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err = srv.Shutdown(sctx)
	}

	// Hijacked live connections are not tracked by Shutdown, the hub closes them.
	stopHub()
	wg.Wait()

	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
