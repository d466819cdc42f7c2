package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"agentlink/internal/api"
	"agentlink/internal/mcpserver"
	"agentlink/internal/notify"
	"agentlink/internal/registry"

	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the REST API, the MCP server and notifications",
		Long:  "Starts every enabled transport over one engine. Press Ctrl+C to stop.",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, cfg, cleanup, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	// Agents defined as files are registered once; their accounts are then
	// cached in the store and found by name on the next start.
	if err := registerDefinitions(ctx, e.Registry, cfg.General.AgentsDir); err != nil {
		logger.Warn("agent definitions", "err", err)
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 3)
	run := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil {
				logger.Error(name+" stopped", "err", err)
				errCh <- fmt.Errorf("%s: %w", name, err)
				stop()
			}
		}()
	}

	if cfg.API.Enabled {
		endpoint := ""
		if cfg.Metrics.Enabled {
			endpoint = cfg.Metrics.Endpoint
		}
		srv := api.New(api.Config{
			Engine:          e,
			APIKeyHash:      cfg.API.APIKeyHash,
			CORSOrigins:     cfg.API.CORSOrigins,
			MetricsEndpoint: endpoint,
			Logger:          logger.With("component", "api"),
		})
		addr := net.JoinHostPort(cfg.API.Host, strconv.Itoa(cfg.API.Port))
		run("api", func(ctx context.Context) error { return srv.ListenAndServe(ctx, addr) })
	} else {
		logger.Info("REST API disabled")
	}

	if cfg.MCP.Enabled {
		server := mcpserver.NewServer(e, logger.With("component", "mcp"))
		addr := net.JoinHostPort(cfg.MCP.Host, strconv.Itoa(cfg.MCP.Port))
		run("mcp", func(ctx context.Context) error {
			return mcpserver.ListenAndServe(ctx, addr, server, logger.With("component", "mcp"))
		})
	} else {
		logger.Info("MCP server disabled")
	}

	if tg := cfg.Notify.Telegram; tg.Enabled {
		notifier, err := notify.NewTelegram(notify.TelegramConfig{
			Token:   tg.Token,
			ChatIDs: tg.ChatIDs,
			Events:  tg.Events,
			Logger:  logger.With("component", "telegram"),
		})
		if err != nil {
			// Notifications are optional; the protocol keeps serving.
			logger.Error("telegram notifier disabled", "err", err)
		} else {
			unsubscribe := notifier.Subscribe(e.Bus)
			defer unsubscribe()
			run("telegram", notifier.Run)
		}
	}

	logger.Info("agentlink serving. Press Ctrl+C to stop.",
		"ledger", cfg.Ledger.Backend, "store", cfg.Store.Driver, "registry", e.Registry.RegistryTopicID())

	<-ctx.Done()
	logger.Info("shutting down...")

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-time.After(shutdownTimeout):
		logger.Warn("shutdown timed out, forcing exit")
		return fmt.Errorf("shutdown timed out")
	}

	select {
	case err := <-errCh:
		return err
	default:
		return nil
	}
}

// registerDefinitions registers each definition in dir whose name has no
// locally known agent yet.
func registerDefinitions(ctx context.Context, reg *registry.Registry, dir string) error {
	if dir == "" {
		return nil
	}
	defs, err := registry.LoadDefinitions(dir, logger)
	if err != nil {
		return err
	}
	if len(defs) == 0 {
		return nil
	}
	known, err := reg.Agents(ctx)
	if err != nil {
		return err
	}
	names := make(map[string]bool, len(known))
	for _, a := range known {
		names[a.Profile.Name] = true
	}
	for _, def := range defs {
		if names[def.Name] {
			continue
		}
		rec, err := reg.RegisterAgent(ctx, def)
		if err != nil {
			logger.Error("register agent definition", "name", def.Name, "err", err)
			continue
		}
		logger.Info("agent registered from definition", "name", def.Name, "account", rec.AccountID)
	}
	return nil
}
