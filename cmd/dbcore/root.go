// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sqlitecore/dbcore/internal/buildinfo"
	"github.com/sqlitecore/dbcore/internal/config"
	"github.com/sqlitecore/dbcore/internal/logger"
	"github.com/sqlitecore/dbcore/internal/metrics"
)

var (
	configPath string
	cfg        *config.Config
	metricsMgr *metrics.Manager
)

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "dbcore",
		Short:         "Operator tooling for the sqlite core (migrations, ad-hoc queries, metrics)",
		Version:       buildinfo.String(),
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			loaded, err := config.New(configPath)
			if err != nil {
				return err
			}
			cfg = loaded
			logger.Init(cfg)

			metricsMgr = metrics.NewManager()
			if cfg.MetricsEnabled {
				serveMetrics(cfg.MetricsHost, cfg.MetricsPort)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a TOML config file (created with defaults if absent)")
	cmd.AddCommand(newDBCommand())
	return cmd
}

// serveMetrics exposes the Prometheus registry over HTTP in the
// background. A bind failure is logged, not fatal: a stuck operator
// command shouldn't die because the metrics port is already taken.
func serveMetrics(host string, port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metricsMgr.Registry, promhttp.HandlerOpts{}))

	addr := metricsAddr(host, port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("serving metrics")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server stopped")
		}
	}()
}

func metricsAddr(host string, port int) string {
	if host == "" {
		host = "127.0.0.1"
	}
	if port == 0 {
		port = 9091
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}
