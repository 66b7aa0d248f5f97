// Command opencli-daemon runs the local automation daemon: it binds the
// primary HTTP+WebSocket gateway, a mirrored plain-WS listener, and a
// lightweight status endpoint, then serves until interrupted.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/opencli/daemon/internal/audit"
	"github.com/opencli/daemon/internal/bus"
	"github.com/opencli/daemon/internal/catalog"
	"github.com/opencli/daemon/internal/config"
	"github.com/opencli/daemon/internal/domain"
	"github.com/opencli/daemon/internal/gateway"
	otelPkg "github.com/opencli/daemon/internal/otel"
	"github.com/opencli/daemon/internal/persistence"
	"github.com/opencli/daemon/internal/pipeline"
	"github.com/opencli/daemon/internal/policy"
	"github.com/opencli/daemon/internal/tui"
)

const version = "v0.1.0"

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config load failed:", err)
		return 1
	}

	if len(os.Args) > 1 {
		if port, err := strconv.Atoi(os.Args[1]); err == nil && port > 0 {
			cfg.Ports.HTTP = port
		}
	}

	if err := audit.Init(cfg.HomeDir); err != nil {
		fmt.Fprintln(os.Stderr, "audit init failed:", err)
		return 1
	}
	defer func() { _ = audit.Close() }()

	var logLevel slog.Level
	if err := logLevel.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)
	logger.Info("startup phase", "phase", "config_loaded", "home", cfg.HomeDir)

	eventBus := bus.NewWithLogger(logger)

	dbPath := persistence.DefaultDBPath(cfg.HomeDir)
	store, err := persistence.Open(dbPath, eventBus)
	if err != nil {
		logger.Error("persistence open failed", "error", err)
		return 1
	}
	defer func() { _ = store.Close() }()
	audit.SetDB(store.DB())

	otelProvider, err := otelPkg.Init(ctx, cfg.Telemetry)
	if err != nil {
		logger.Error("otel init failed", "error", err)
		return 1
	}
	defer func() { _ = otelProvider.Shutdown(context.Background()) }()

	pol := policy.Default()

	reg := domain.NewRegistry(logger)
	if err := domain.RegisterBuiltins(ctx, reg, domain.BuiltinOptions{
		FileOpsRoot:       cfg.FileOpsRoot,
		Policy:            pol,
		Logger:            logger,
		DockerHost:        cfg.DockerHost,
		InferenceWasmPath: cfg.InferenceWasmPath,
		MediaAPIKey:       cfg.APIKey("media"),
		MediaModel:        cfg.MediaModel,
	}); err != nil {
		logger.Error("registering builtin domains failed", "error", err)
		return 1
	}

	manifests, err := catalog.LoadDir(cfg.DomainManifestDir)
	if err != nil {
		logger.Error("domain manifest directory failed validation", "dir", cfg.DomainManifestDir, "error", err)
		return 1
	}
	for _, m := range manifests {
		if err := reg.Register(ctx, catalog.NewManifestDomain(m, 10*time.Second)); err != nil {
			logger.Error("registering manifest domain failed", "domain_id", m.DomainID, "error", err)
			return 1
		}
	}

	domain.SetGlobal(reg)
	defer reg.Dispose(context.Background())

	engine := pipeline.NewEngine(reg)
	sessions := gateway.NewSessions(cfg.AuthSharedSecret, reg, eventBus, logger)

	watcher := config.NewWatcher(cfg.HomeDir, logger)
	if err := watcher.Start(ctx); err != nil {
		logger.Warn("config watcher failed to start", "error", err)
	}

	// Manifests loaded above are already part of the immutable registry;
	// this watcher only re-validates the directory after startup and
	// announces catalog.updated so an operator knows a restart would pick
	// up the change (internal/catalog's package doc explains why it
	// cannot hot-swap the registry itself).
	catalogWatcher := catalog.NewWatcher(cfg.DomainManifestDir, eventBus, logger)
	if err := catalogWatcher.Start(ctx); err != nil {
		logger.Warn("domain manifest watcher failed to start", "error", err)
	}

	httpHandler := gateway.NewHandler(gateway.HTTPConfig{
		Cfg:       &cfg,
		Store:     store,
		Registry:  reg,
		Engine:    engine,
		Sessions:  sessions,
		Version:   version,
		StartedAt: time.Now().UTC(),
	})

	servers := []*http.Server{
		{Addr: fmt.Sprintf(":%d", cfg.Ports.HTTP), Handler: httpHandler},
		{Addr: fmt.Sprintf(":%d", cfg.Ports.PlainWS), Handler: http.HandlerFunc(sessions.ServeHTTP)},
		{Addr: fmt.Sprintf(":%d", cfg.Ports.Status), Handler: statusHandler(sessions, version)},
	}

	// Each listener runs in its own goroutine; a port-in-use failure on
	// one logs and returns without tearing down the others (§6).
	var running sync.WaitGroup
	for _, srv := range servers {
		running.Add(1)
		go func(s *http.Server) {
			defer running.Done()
			logger.Info("listener starting", "addr", s.Addr)
			if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("listener exited", "addr", s.Addr, "error", err)
			}
		}(srv)
	}

	// When launched at an interactive terminal, show the operator dashboard
	// in the foreground instead of just streaming JSON logs; piping stdout,
	// running under a process supervisor, or OPENCLI_NO_TUI all fall back
	// to plain daemon mode, mirroring the teacher's interactive/daemon
	// command-line switch.
	interactive := isatty.IsTerminal(os.Stdout.Fd()) && os.Getenv("OPENCLI_NO_TUI") == ""
	if interactive {
		statusAddr := fmt.Sprintf("http://127.0.0.1:%d", cfg.Ports.Status)
		if err := tui.Run(ctx, statusAddr, tui.HTTPProvider(statusAddr)); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("status dashboard exited", "error", err)
		}
	} else {
		<-ctx.Done()
	}
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, srv := range servers {
		_ = srv.Shutdown(shutdownCtx)
	}
	running.Wait()

	logger.Info("shutdown complete")
	return 0
}

// statusHandler serves the lightweight status payload on the third port
// (§6): daemon uptime/memory, connected mobile clients, server time.
func statusHandler(sessions *gateway.Sessions, ver string) http.Handler {
	startedAt := time.Now()
	var totalRequests int64

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		totalRequests++
		var mem runtime.MemStats
		runtime.ReadMemStats(&mem)

		clientIDs := sessions.ConnectedDeviceIDs()
		payload := map[string]any{
			"daemon": map[string]any{
				"version":        ver,
				"uptime_seconds": time.Since(startedAt).Seconds(),
				"memory_mb":      float64(mem.Alloc) / (1024 * 1024),
				"total_requests": totalRequests,
			},
			"mobile": map[string]any{
				"connected_clients": len(clientIDs),
				"client_ids":        clientIDs,
			},
			"timestamp": time.Now().UTC(),
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(payload)
	})
	return mux
}
