// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package main implements the enrichment-consumer daemon: N consumer
// instances of W workers each, pulling file-enrichment events off the bus,
// validating and enriching them, and writing the results to the vector
// and graph stores.
//
// Usage:
//
//	enrichment-consumer --config /etc/enrichment-consumer/config.yaml
//
// Exit codes:
//
//	0  normal shutdown
//	1  configuration error
//	2  unrecoverable bus connection failure
//	3  graceful shutdown timed out
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sony/gobreaker"
	flag "github.com/spf13/pflag"

	"github.com/kraklabs/enrichment-consumer/internal/bus"
	"github.com/kraklabs/enrichment-consumer/internal/config"
	"github.com/kraklabs/enrichment-consumer/internal/consumer"
	"github.com/kraklabs/enrichment-consumer/internal/envelope"
	"github.com/kraklabs/enrichment-consumer/internal/graphstore"
	"github.com/kraklabs/enrichment-consumer/internal/intelligence"
	"github.com/kraklabs/enrichment-consumer/internal/orchestrator"
	"github.com/kraklabs/enrichment-consumer/internal/vectorstore"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath  = flag.StringP("config", "c", "", "Path to config YAML (env vars still apply on top)")
		showVersion = flag.BoolP("version", "V", false, "Show version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("enrichment-consumer %s (%s)\n", version, commit)
		return 0
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		return 1
	}

	log := newLogger(cfg.Obs.LogLevel)
	log.Info("enrichment_consumer.starting", "version", version, "commit", commit, "config", cfg.String())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, err := bus.Dial(cfg.Bus.BootstrapServers)
	if err != nil {
		log.Error("enrichment_consumer.bus_dial_failed", "error", err)
		return 2
	}
	defer b.Close()

	vectorStore, err := vectorstore.New(ctx, cfg.Store.VectorStoreURL, cfg.Store.VectorDimension, log)
	if err != nil {
		log.Error("enrichment_consumer.vector_store_unavailable", "error", err)
		return 2
	}

	graphStore, err := graphstore.New(ctx, cfg.Store.GraphStoreURL, cfg.Store.GraphStoreUser, cfg.Store.GraphStorePassword, cfg.Store.GraphStoreDatabase, log)
	if err != nil {
		log.Error("enrichment_consumer.graph_store_unavailable", "error", err)
		return 2
	}

	intel := intelligence.New(intelligence.Config{
		IntelligenceURL: cfg.Svc.IntelligenceURL,
		StampingURL:     cfg.Svc.MetadataStampingURL,
		TotalTimeout:    time.Duration(cfg.Tune.HTTPTotalTimeoutSec) * time.Second,
		ConnectTimeout:  10 * time.Second,
	}, log)

	mode := orchestrator.ModeHTTPFallback
	if intel.HasStamping() {
		mode = orchestrator.ModeAsyncBus
	}
	log.Info("enrichment_consumer.mode_selected", "mode", mode)

	orch := orchestrator.New(vectorStore, graphStore, intel, mode, cfg.Tune.MaxConcurrentFiles, log)
	validator := envelope.NewValidator(log)

	runtimes := make([]*consumer.Runtime, 0, cfg.Tune.ConsumerInstances+1)
	for i := 0; i < cfg.Tune.ConsumerInstances; i++ {
		rt := consumer.New(b, envelope.TopicFileRequested, cfg.Bus.ConsumerGroup, validator, orch, cfg.Tune.ConsumerWorkers, log)
		if err := rt.Start(ctx); err != nil {
			log.Error("enrichment_consumer.subscribe_failed", "instance", i, "error", err)
			return 2
		}
		runtimes = append(runtimes, rt)
	}

	projectRuntime := consumer.New(b, envelope.TopicIndexProjectRequested, cfg.Bus.ConsumerGroup+"-index-project", validator, orch, cfg.Tune.ConsumerWorkers, log)
	if err := projectRuntime.Start(ctx); err != nil {
		log.Error("enrichment_consumer.subscribe_failed", "instance", "index-project", "error", err)
		return 2
	}
	runtimes = append(runtimes, projectRuntime)

	ready := func() (bool, string, string) {
		state := intel.BreakerState()
		return state == gobreaker.StateClosed, state.String(), string(mode)
	}
	health := consumer.NewServer(fmt.Sprintf(":%d", cfg.Obs.HealthPort), runtimes[0].Metrics(), ready, nil, log)
	health.MarkConnected(true)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := health.ListenAndServe(); err != nil {
			log.Error("enrichment_consumer.health_server_error", "error", err)
		}
	}()

	<-ctx.Done()
	log.Info("enrichment_consumer.shutting_down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), consumer.DrainTimeout)
	defer cancel()
	_ = health.Shutdown(shutdownCtx)

	drained := make(chan struct{})
	go func() {
		for _, rt := range runtimes {
			rt.Stop(consumer.DrainTimeout)
		}
		close(drained)
	}()

	select {
	case <-drained:
		log.Info("enrichment_consumer.stopped")
	case <-time.After(consumer.DrainTimeout + 5*time.Second):
		log.Warn("enrichment_consumer.shutdown_timed_out")
		wg.Wait()
		return 3
	}

	wg.Wait()
	return 0
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	return slog.New(handler)
}
