/*
main.go - Application entry point

PURPOSE:
  Starts the payroll rule engine server. Handles configuration,
  dependency injection and graceful shutdown.

STARTUP SEQUENCE:
  1. Load PAYROLL_* configuration, then apply command-line flags
  2. Build the logger
  3. Open the rule store (sqlite or memory)
  4. Seed the statutory defaults and any -rules file
  5. Build the shared program cache and metrics
  6. Configure the HTTP router and serve

COMMAND-LINE FLAGS:
  -port    HTTP server port (overrides PAYROLL_SERVER_PORT)
  -db      SQLite database path (overrides PAYROLL_STORE_PATH)
           Use ":memory:" for an in-memory database
  -rules   YAML or JSON file of rules to upsert at startup

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests (PAYROLL_APP_SHUTDOWN_TIMEOUT)
  3. Close the store
  4. Exit

EXAMPLES:
  ./server -db="./data/payroll.db"
  ./server -db=":memory:" -rules=./acme.yaml
  PAYROLL_STORE_DRIVER=memory PAYROLL_APP_LOG_FORMAT=json ./server

SEE ALSO:
  - config/config.go: Environment variables
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/warp/payroll-engine/api"
	"github.com/warp/payroll-engine/config"
	"github.com/warp/payroll-engine/engine"
	"github.com/warp/payroll-engine/factory"
	"github.com/warp/payroll-engine/logger"
	"github.com/warp/payroll-engine/rules"
	"github.com/warp/payroll-engine/statutory"
	"github.com/warp/payroll-engine/store/memory"
	"github.com/warp/payroll-engine/store/sqlite"
)

func main() {
	port := flag.Int("port", 0, "HTTP server port")
	dbPath := flag.String("db", "", "SQLite database path")
	rulesPath := flag.String("rules", "", "rules file (.yaml, .yml or .json) to load at startup")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Server.Port = strconv.Itoa(*port)
	}
	if *dbPath != "" {
		cfg.Store.Driver = config.StoreSQLite
		cfg.Store.Path = *dbPath
	}

	log := logger.New(&cfg.App)
	slog.SetDefault(log)
	cfg.LogConfig(log)

	if err := run(cfg, log, *rulesPath); err != nil {
		log.Error("server exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger, rulesPath string) error {
	ctx := context.Background()

	store, closeStore, err := openStore(cfg.Store)
	if err != nil {
		return err
	}
	defer closeStore.Close()

	if cfg.Engine.SeedDefaults {
		n, err := statutory.Seed(ctx, store)
		if err != nil {
			return fmt.Errorf("seed statutory defaults: %w", err)
		}
		log.Info("statutory defaults seeded", slog.Int("rules", n))
	}
	if rulesPath != "" {
		n, err := loadRules(ctx, store, rulesPath)
		if err != nil {
			return err
		}
		log.Info("rules loaded", slog.String("path", rulesPath), slog.Int("rules", n))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := engine.NewMetrics(reg)

	cache, err := engine.NewProgramCache(cfg.Engine.CacheCapacity)
	if err != nil {
		return err
	}
	defer cache.Close()
	cache.WithMetrics(metrics)

	handler := api.NewHandler(store, cache, log,
		engine.WithMetrics(metrics),
		engine.WithPrecision(int32(cfg.Engine.Precision)),
		engine.WithWorkers(cfg.Engine.Workers),
	)
	router := api.NewRouter(handler, api.RouterConfig{
		CORSOrigins: cfg.Server.CORSOrigins,
		Gatherer:    reg,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  2 * cfg.Server.WriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		return fmt.Errorf("server failed: %w", err)
	case sig := <-quit:
		log.Info("shutting down", slog.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.App.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info("server stopped")
	return nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func openStore(cfg config.StoreConfig) (rules.Store, io.Closer, error) {
	if cfg.Driver == config.StoreMemory {
		return memory.New(), nopCloser{}, nil
	}
	s, err := sqlite.New(cfg.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("initialize database: %w", err)
	}
	return s, s, nil
}

func loadRules(ctx context.Context, store rules.Store, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read rules: %w", err)
	}

	f := factory.NewRuleFactory()
	var rs []rules.Rule
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		rs, err = f.ParseRuleSetYAML(data)
	default:
		rs, err = f.ParseRuleSet(data)
	}
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", path, err)
	}

	// Refuse a file that would leave any company with an ambiguous rule set.
	if _, err := rules.NewSnapshot(rs); err != nil {
		return 0, fmt.Errorf("rules in %s conflict: %w", path, err)
	}
	for i := range rs {
		if err := store.Save(ctx, &rs[i]); err != nil {
			return i, fmt.Errorf("save %s: %w", rs[i].ID, err)
		}
	}
	return len(rs), nil
}
