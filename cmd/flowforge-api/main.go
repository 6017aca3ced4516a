// Copyright 2026 The FlowForge Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/flowforge/flowforge/internal/config"
	"github.com/flowforge/flowforge/internal/flowforge-api/handlers"
	"github.com/flowforge/flowforge/internal/flowforge-api/services"
	"github.com/flowforge/flowforge/internal/kube"
	"github.com/flowforge/flowforge/internal/logging"
	"github.com/flowforge/flowforge/internal/logs"
	"github.com/flowforge/flowforge/internal/store"
	"github.com/flowforge/flowforge/internal/volume"
	"github.com/flowforge/flowforge/internal/workflow"
)

func main() {
	configPath := pflag.String("config", "", "path to the configuration file")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	baseLogger := logging.New(cfg.Logging)
	slog.SetDefault(baseLogger)

	// Create shutdown context
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	st, err := store.Open(cfg.Database.URL, baseLogger.With("component", "store"))
	if err != nil {
		baseLogger.Error("Failed to open store", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := st.Close(); err != nil {
			baseLogger.Warn("Failed to close store", slog.Any("error", err))
		}
	}()

	kubeClient, err := kube.NewClient(cfg.Cluster, cfg.Workflow.Namespace, baseLogger.With("component", "kube"))
	if err != nil {
		baseLogger.Error("Failed to initialize cluster client", slog.Any("error", err))
		os.Exit(1)
	}

	// The helper pod serves volume file operations; a failed start is not
	// fatal, the manager recreates the pod on first use.
	volumeMgr := volume.NewManager(kubeClient, baseLogger.With("component", "volume"))
	if err := volumeMgr.Start(ctx); err != nil {
		baseLogger.Warn("Helper pod not ready at startup", slog.Any("error", err))
	}

	synth := &workflow.Synthesizer{
		Namespace:    cfg.Workflow.Namespace,
		NixBaseImage: cfg.Workflow.NixBaseImage,
	}
	pipeline := logs.NewPipeline(st, kubeClient, baseLogger.With("component", "logs"))
	streamer := logs.NewStreamer(pipeline, baseLogger.With("component", "stream"))

	svcs := services.NewServices(st, kubeClient, synth, pipeline, volumeMgr, baseLogger)
	handler := handlers.New(svcs, streamer, baseLogger.With("component", "handlers"))

	srv := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Server.Port),
		Handler:      handler.Routes(cfg.CORSOrigins()),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server
	go func() {
		baseLogger.Info("FlowForge API server listening", slog.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			baseLogger.Error("Server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	<-ctx.Done()
	baseLogger.Info("Shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		baseLogger.Error("Graceful shutdown failed", slog.Any("error", err))
	}
	volumeMgr.Stop(shutdownCtx)
}
