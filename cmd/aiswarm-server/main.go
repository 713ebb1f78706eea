// Package main is the entry point for the aiswarm coordination server.
// It hosts the MCP tool surface for swarm agents (SSE, streamable HTTP,
// and optionally stdio) plus a read-only admin inspection API, backed by
// a SQLite store under the working directory.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/aiswarm/aiswarm/internal/adminapi"
	"github.com/aiswarm/aiswarm/internal/common/clock"
	"github.com/aiswarm/aiswarm/internal/common/config"
	"github.com/aiswarm/aiswarm/internal/common/logger"
	"github.com/aiswarm/aiswarm/internal/coord/agent"
	"github.com/aiswarm/aiswarm/internal/coord/memory"
	"github.com/aiswarm/aiswarm/internal/coord/store"
	"github.com/aiswarm/aiswarm/internal/coord/task"
	"github.com/aiswarm/aiswarm/internal/db"
	"github.com/aiswarm/aiswarm/internal/events/bus"
	"github.com/aiswarm/aiswarm/internal/events/eventlog"
	"github.com/aiswarm/aiswarm/internal/events/notify"
	"github.com/aiswarm/aiswarm/internal/mcpserver"
)

var (
	configFlag = flag.String("config", "", "Path to config directory (default: working directory, .aiswarm)")
	stdioFlag  = flag.Bool("stdio", false, "Also serve MCP over stdio JSON-RPC")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadWithPath(*configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *stdioFlag {
		cfg.Server.Stdio = true
	}

	logCfg := logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	}
	// Stdout carries JSON-RPC when the stdio transport is active.
	if cfg.Server.Stdio && (logCfg.OutputPath == "" || logCfg.OutputPath == "stdout") {
		logCfg.OutputPath = "stderr"
	}
	log, err := logger.NewLogger(logCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logger.SetDefault(log)
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Error("server exited with error", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Open(cfg.DatabasePath())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = pool.Close() }()

	clk := clock.System{}
	st, err := store.New(pool, clk, log)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}

	fullMode, ok := bus.ParseFullMode(cfg.EventBus.FullMode)
	if !ok {
		return fmt.Errorf("unknown event bus full mode: %s", cfg.EventBus.FullMode)
	}
	busOpts := bus.Options{Capacity: cfg.EventBus.Capacity, FullMode: fullMode}

	taskNotifier := notify.NewTaskNotifier(busOpts, log)
	agentNotifier := notify.NewAgentNotifier(busOpts, log)
	memoryNotifier := notify.NewMemoryNotifier(busOpts, log)
	defer taskNotifier.Close()
	defer agentNotifier.Close()
	defer memoryNotifier.Close()

	events := eventlog.New(st, clk)

	agentSvc := agent.NewService(st, agentNotifier, events, clk, log)
	taskSvc := task.NewService(st, taskNotifier, events, clk, log)
	memorySvc := memory.NewService(st, memoryNotifier, events, clk, log)
	monitor := agent.NewMonitor(agentSvc, cfg.Heartbeat.HeartbeatTimeout(), cfg.Heartbeat.SweepInterval())

	mcpSrv := mcpserver.New(mcpserver.Config{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		PortMax:      cfg.Server.PortMax,
		Stdio:        cfg.Server.Stdio,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}, mcpserver.Dependencies{
		Store:           st,
		Agents:          agentSvc,
		Tasks:           taskSvc,
		Memory:          memorySvc,
		DefaultTaskWait: cfg.Tasks.DefaultWait(),
		PollInterval:    cfg.Tasks.PollingInterval(),
	})
	if err := mcpSrv.Start(ctx); err != nil {
		return fmt.Errorf("failed to start MCP server: %w", err)
	}
	log.Info("MCP server started",
		zap.String("sse_endpoint", mcpSrv.SSEEndpoint()),
		zap.String("streamable_http_endpoint", mcpSrv.StreamableHTTPEndpoint()))

	var adminSrv *adminapi.Server
	if cfg.Admin.Enabled {
		adminSrv = adminapi.NewServer(adminapi.Config{
			Host: cfg.Admin.Host,
			Port: cfg.Admin.Port,
		}, st, agentSvc, taskSvc, memorySvc, log)
		if err := adminSrv.Start(ctx); err != nil {
			return fmt.Errorf("failed to start admin API: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return monitor.Run(gctx) })

	<-gctx.Done()
	log.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := mcpSrv.Stop(shutdownCtx); err != nil {
		log.Warn("MCP server shutdown error", zap.Error(err))
	}
	if adminSrv != nil {
		if err := adminSrv.Stop(shutdownCtx); err != nil {
			log.Warn("admin API shutdown error", zap.Error(err))
		}
	}

	// Closing the notifiers unblocks any in-flight long-poll waiters.
	taskNotifier.Close()
	agentNotifier.Close()
	memoryNotifier.Close()

	if err := g.Wait(); err != nil && err != context.Canceled {
		return err
	}
	log.Info("server stopped")
	return nil
}
