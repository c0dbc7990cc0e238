package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/curtcox/cideldill/internal/api"
	"github.com/curtcox/cideldill/internal/breakpoint"
	"github.com/curtcox/cideldill/internal/calllog"
	"github.com/curtcox/cideldill/internal/casstore"
	"github.com/curtcox/cideldill/internal/config"
	"github.com/curtcox/cideldill/internal/logging"
	"github.com/curtcox/cideldill/internal/portfile"
	"github.com/curtcox/cideldill/internal/repl"
)

var log = logging.New("cideldill-server")

func serveCmd() *cobra.Command {
	var (
		port       int
		host       string
		dbPath     string
		memory     bool
		mcpStdio   bool
		mcpSSE     bool
		webhookURL string
	)

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the cideldill breakpoint server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Get()
			if port != 0 {
				cfg.Server.Port = port
			}
			if host != "" {
				cfg.Server.Host = host
			}
			if dbPath != "" {
				cfg.Database.Path = dbPath
			}
			if memory {
				cfg.Database.Memory = true
			}
			if webhookURL != "" {
				cfg.Notify.WebhookURL = webhookURL
			}
			switch {
			case mcpStdio:
				cfg.Server.MCPMode = "stdio"
			case mcpSSE:
				cfg.Server.MCPMode = "sse"
			}
			if cfg.Server.MCPMode != "" {
				log.Warn("mcp adapter requested but not implemented; events still reach the webhook/log sinks", "mode", cfg.Server.MCPMode)
			}

			return runServer(cfg)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "listen port (default from config/env)")
	cmd.Flags().StringVar(&host, "host", "", "listen host (default from config/env)")
	cmd.Flags().StringVar(&dbPath, "db", "", "sqlite3 database path")
	cmd.Flags().BoolVar(&memory, "memory", false, "use an in-memory database instead of a file")
	cmd.Flags().BoolVar(&mcpStdio, "mcp", false, "advertise an MCP stdio adapter (notification sink only)")
	cmd.Flags().BoolVar(&mcpSSE, "mcp-sse", false, "advertise an MCP SSE adapter (notification sink only)")
	cmd.Flags().StringVar(&webhookURL, "webhook-url", "", "POST breakpoint manager events here as CloudEvents JSON")

	return cmd
}

func runServer(cfg *config.Config) error {
	dbPath := cfg.ResolveDBPath()
	db, err := casstore.OpenDB(dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	cids := casstore.NewSQLiteStore(db)
	calls := calllog.NewSQLiteStore(db)
	manager := breakpoint.NewManager(calls)
	if err := manager.SetDefaultBehavior(breakpoint.Behavior(normalizeBehavior(cfg.Debug.DefaultBehavior))); err != nil {
		return fmt.Errorf("set default behavior: %w", err)
	}

	evaluator := repl.NewEvaluator()

	server := api.NewServer(manager, cids, calls, evaluator, api.Options{
		CORSOrigins: cfg.Server.CORSAllowOrigins,
		PollTimeout: time.Duration(cfg.Server.PollTimeoutSec) * time.Second,
		WebhookURL:  cfg.Notify.WebhookURL,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      server.Handler(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeoutSec) * time.Second,
	}

	portFilePath, err := portfile.Write(cfg.Server.Port)
	if err != nil {
		log.Warn("failed to write port file", "error", err)
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("cideldill server started", "addr", addr, "db", dbPath, "port_file", portFilePath)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("shutdown signal received", "signal", sig.String())
		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// normalizeBehavior accepts the wire's "stop"/"go"/"continue" trio,
// mapping "continue" onto BehaviorGo.
func normalizeBehavior(s string) string {
	if s == "continue" {
		return "go"
	}
	return s
}
