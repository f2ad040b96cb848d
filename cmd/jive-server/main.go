// MCP Jive server — agile workflow tools for AI agents over MCP.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/mcp-jive/jive/internal/config"
	"github.com/mcp-jive/jive/internal/embedding"
	"github.com/mcp-jive/jive/internal/events"
	"github.com/mcp-jive/jive/internal/execute"
	"github.com/mcp-jive/jive/internal/maintenance"
	"github.com/mcp-jive/jive/internal/mcpserver"
	"github.com/mcp-jive/jive/internal/memory"
	"github.com/mcp-jive/jive/internal/progress"
	"github.com/mcp-jive/jive/internal/protocol"
	"github.com/mcp-jive/jive/internal/search"
	"github.com/mcp-jive/jive/internal/store"
	syncsvc "github.com/mcp-jive/jive/internal/sync"
	"github.com/mcp-jive/jive/internal/tools"
	"github.com/mcp-jive/jive/internal/transport"
	"github.com/mcp-jive/jive/internal/workitem"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	var (
		configPath  = flag.String("config", "", "path to JSON config file")
		stdioMode   = flag.Bool("stdio", false, "serve MCP over stdio instead of HTTP/WebSocket")
		showVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("mcp-jive %s (%s, %s)\n", version, commit, date)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	if os.Getenv("JIVE_TRANSPORT") == "stdio" {
		*stdioMode = true
	}

	// Logs go to stderr either way; in stdio mode stdout belongs to the
	// protocol stream.
	logger, err := buildLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := os.MkdirAll(cfg.DataDir, 0750); err != nil {
		logger.Fatal("cannot create data dir", zap.String("dir", cfg.DataDir), zap.Error(err))
	}
	st, err := store.NewSQLite(cfg.DataDir, logger)
	if err != nil {
		logger.Fatal("cannot open store", zap.String("dir", cfg.DataDir), zap.Error(err))
	}
	defer func() { _ = st.Close() }()
	logger.Info("store opened", zap.String("path", store.DatabasePath(cfg.DataDir)))

	emb := embedding.NewHashEmbedder(cfg.EmbeddingDim)
	engine := search.New(st, emb, logger)
	bus := events.NewBus(64)
	items := workitem.New(st, emb, engine, bus, logger, cfg.StrictHierarchy)

	registry, err := tools.DefaultRegistry(tools.Deps{
		Items:    items,
		Memory:   memory.New(st, emb, engine, bus, logger),
		Exec:     execute.New(st, items, bus, logger),
		Progress: progress.New(st, items, bus, logger),
		Sync:     syncsvc.New(st, cfg.DataDir, cfg.SyncDir, logger),
		Search:   engine,
		Logger:   logger,
	})
	if err != nil {
		logger.Fatal("tool registration failed", zap.Error(err))
	}

	dispatcher := tools.NewDispatcher(registry, logger)
	mcpSrv := mcpserver.New(dispatcher, cfg.DefaultNamespace, version, logger)
	handler := protocol.NewHandler(dispatcher, cfg.DefaultNamespace, version, logger)

	schedule := os.Getenv("JIVE_MAINTENANCE_SCHEDULE")
	if schedule == "" {
		schedule = "1h"
	}
	janitor := maintenance.New(st, items, schedule, logger)
	janitor.Start(ctx)
	defer janitor.Stop()

	logger.Info("starting mcp-jive",
		zap.String("version", version),
		zap.String("default_namespace", cfg.DefaultNamespace),
		zap.Bool("stdio", *stdioMode),
	)

	if *stdioMode {
		if err := mcpSrv.RunStdio(ctx); err != nil {
			logger.Fatal("stdio transport failed", zap.Error(err))
		}
		return
	}

	hub := transport.NewHub(handler, bus, cfg.MaxWebSocketConns, logger)
	srv := transport.NewServer(cfg, handler, mcpSrv.SSEHandler(), hub, version, logger)
	if err := srv.Start(ctx); err != nil {
		logger.Fatal("http transport failed", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func buildLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	zcfg.OutputPaths = []string{"stderr"}
	zcfg.ErrorOutputPaths = []string{"stderr"}
	return zcfg.Build()
}
