// Copyright (C) 2025 sage-x-project
// SPDX-License-Identifier: LGPL-3.0-or-later

package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/a2amcp/mcp-coordinator/internal/agents"
	"github.com/a2amcp/mcp-coordinator/internal/completion"
	"github.com/a2amcp/mcp-coordinator/internal/config"
	"github.com/a2amcp/mcp-coordinator/internal/dispatch"
	"github.com/a2amcp/mcp-coordinator/internal/heartbeat"
	"github.com/a2amcp/mcp-coordinator/internal/interfaces"
	"github.com/a2amcp/mcp-coordinator/internal/locks"
	"github.com/a2amcp/mcp-coordinator/internal/logging"
	"github.com/a2amcp/mcp-coordinator/internal/mcpserver"
	"github.com/a2amcp/mcp-coordinator/internal/messaging"
	"github.com/a2amcp/mcp-coordinator/internal/metrics"
	"github.com/a2amcp/mcp-coordinator/internal/store"
	"github.com/a2amcp/mcp-coordinator/internal/todos"
)

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the coordinator, reading MCP tool calls from stdin and writing results to stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, *configPath)
		},
	}
}

func runServe(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log := logging.New(logging.Level(cfg.LogLevel))
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.NewRedisStore(cfg.RedisURL)
	if err != nil {
		return err
	}
	defer st.Close()

	m := metrics.New()
	bus := messaging.New(st, log, cfg.RequestWaitPollInterval)
	hb := heartbeat.New(st, log, cfg.HeartbeatTimeout, cfg.ReaperInterval).WithMetrics(m)
	lockMgr := locks.New(st, bus, log, cfg.FileLockTTL, cfg.RecentChangesLimit)
	todoStore := todos.New(st, bus)
	agentRegistry := agents.New(st, bus, hb, lockMgr, todoStore, log)
	ifaceRegistry := interfaces.New(st, bus)
	sig := completion.New(st, agentRegistry, log, cfg.CompletionDir)

	registry := dispatch.Build(dispatch.Deps{
		Agents:     agentRegistry,
		Heartbeat:  hb,
		Locks:      lockMgr,
		Messaging:  bus,
		Interfaces: ifaceRegistry,
		Todos:      todoStore,
		Completion: sig,
		Log:        log,
		Metrics:    m,
	})
	server := mcpserver.New(registry, log)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return hb.RunReaper(gctx, agentRegistry, bus)
	})

	g.Go(func() error {
		err := server.Serve(gctx, cmd.InOrStdin(), cmd.OutOrStdout())
		stop()
		return err
	})

	if cfg.MetricsAddr != "" {
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: debugMux(m, st)}
		g.Go(func() error {
			return runDebugServer(gctx, srv, log)
		})
	}

	if err := g.Wait(); err != nil && gctx.Err() == nil {
		return err
	}
	return nil
}

func debugMux(m *metrics.Metrics, st store.Store) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		redisStatus := "ok"
		if err := st.Ping(r.Context()); err != nil {
			redisStatus = "down"
		}
		w.Header().Set("Content-Type", "application/json")
		if redisStatus != "ok" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status":  "ok",
			"service": "mcp-coordinator",
			"redis":   redisStatus,
		})
	})
	return mux
}

func runDebugServer(ctx context.Context, srv *http.Server, log logging.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error(ctx, "debug server shutdown failed", logging.Err(err))
		}
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
