package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"claude-bridge/internal/admin"
	"claude-bridge/internal/config"
	"claude-bridge/internal/db"
	"claude-bridge/internal/facade/anthropic"
	"claude-bridge/internal/logbus"
	"claude-bridge/internal/metrics"
	"claude-bridge/internal/providers"
	"claude-bridge/internal/providers/gemini"
	"claude-bridge/internal/providers/openai"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("config", "err", err)
		os.Exit(1)
	}
	logger := cfg.NewLogger(os.Stderr)
	slog.SetDefault(logger)

	var sqlDB *sql.DB
	if cfg.MySQLDSN != "" {
		sqlDB, err = db.Open(context.Background(), cfg.MySQLDSN)
		if err != nil {
			logger.Error("db open", "err", err)
			os.Exit(1)
		}
		defer sqlDB.Close()

		if err := db.Migrate(context.Background(), sqlDB); err != nil {
			logger.Error("db migrate", "err", err)
			os.Exit(1)
		}
	} else {
		logger.Info("MYSQL_DSN not set, request log kept in memory only")
	}

	m := metrics.New()
	bus := logbus.New(sqlDB, cfg.LogRingSize, logger)
	reg := providers.NewRegistry(openai.Dialect{}, gemini.Dialect{})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           newRouter(cfg, sqlDB, m, bus, reg, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("listening", "addr", cfg.HTTPAddr, "dialects", reg.Names())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("listen", "err", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("shutdown", "err", err)
	}
	bus.Close()
}

func newRouter(cfg config.Config, sqlDB *sql.DB, m *metrics.Metrics, bus *logbus.Bus, reg *providers.Registry, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "Anthropic-Version", "Anthropic-Beta", "X-Request-Id"},
		ExposedHeaders:   []string{"Content-Type", "X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Mount("/metrics", m.Handler())

	if cfg.AdminToken != "" {
		r.Mount("/admin", admin.NewHandler(sqlDB, bus, reg, cfg.AdminToken, logger).Routes())
	}

	anthropic.NewHandler(reg, anthropic.Options{
		Timeout:      cfg.UpstreamTimeout,
		MaxBodyBytes: cfg.MaxBodyBytes,
		Logger:       logger,
		Metrics:      m,
		Bus:          bus,
	}).Register(r)

	return r
}
