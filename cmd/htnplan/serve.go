// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianHTN/services/planner/api"
	"github.com/AleutianAI/AleutianHTN/services/planner/config"
	"github.com/AleutianAI/AleutianHTN/services/planner/domains/combat"
	"github.com/AleutianAI/AleutianHTN/services/planner/plancache"
)

// shutdownGrace bounds the graceful shutdown of the HTTP server.
const shutdownGrace = 10 * time.Second

type serveOptions struct {
	addr  string
	watch bool
}

func runServe(cmd *cobra.Command, a *app, opts *serveOptions) error {
	defer a.close()
	logger := a.log

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := a.initTelemetry(ctx, true)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() { _ = shutdownTelemetry(context.Background()) }()

	e, err := a.build()
	if err != nil {
		return err
	}
	if err := e.planner.HealthCheck(ctx); err != nil {
		return err
	}

	handlerOpts := []api.Option{
		api.WithLogger(logger),
		api.WithTimeout(a.cfg.Planner.Timeout),
		api.WithDomainName(combat.Name),
	}
	if a.cfg.Cache.Enabled {
		cacheCfg := plancache.InMemoryConfig()
		if !a.cfg.Cache.InMemory {
			cacheCfg = plancache.DefaultConfig(a.cfg.Cache.Dir)
		}
		cacheCfg.TTL = a.cfg.Cache.TTL
		cacheCfg.Logger = logger
		store, err := plancache.Open(cacheCfg)
		if err != nil {
			return err
		}
		defer store.Close()
		handlerOpts = append(handlerOpts, api.WithCache(store))
	}

	handlers := api.NewHandlers(e.planner, e.grounder, handlerOpts...)
	limiter := api.NewLimiter(a.cfg.Server.RateLimit, a.cfg.Server.Burst)

	gin.SetMode(gin.ReleaseMode)
	router := api.NewRouter(handlers, api.RouterConfig{
		ServiceName: a.cfg.Observability.Telemetry.ServiceName,
		Tracing:     a.cfg.Observability.TracingEnabled,
		Metrics:     a.cfg.Observability.MetricsEnabled,
		Limiter:     limiter,
	})

	if opts.watch && a.configPath != "" {
		go func() {
			err := config.Watch(ctx, a.configPath, 0, logger, func(c config.Config) {
				limiter.SetLimit(api.Limit(c.Server.RateLimit))
				limiter.SetBurst(max(c.Server.Burst, 1))
				handlers.SetTimeout(c.Planner.Timeout)
			})
			if err != nil {
				logger.Warn("config watch disabled", slog.String("error", err.Error()))
			}
		}()
	}

	addr := opts.addr
	if addr == "" {
		addr = a.cfg.Server.Addr
	}
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting planner server",
			slog.String("address", addr),
			slog.Bool("cache", a.cfg.Cache.Enabled),
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down planner server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
