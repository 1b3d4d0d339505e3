// Copyright 2025 Author(s) of deco.chat
// SPDX-License-Identifier: Apache-2.0

// Command gateway runs the deco.chat MCP gateway: tool-group endpoints, the
// direct tool-call bridge, and reverse proxies to configured integrations.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/deco-cx/gateway/pkg/auth"
	"github.com/deco-cx/gateway/pkg/builtin"
	"github.com/deco-cx/gateway/pkg/config"
	"github.com/deco-cx/gateway/pkg/gateway"
	"github.com/deco-cx/gateway/pkg/logging"
	"github.com/deco-cx/gateway/pkg/metrics"
	"github.com/deco-cx/gateway/pkg/proxy"
	"github.com/deco-cx/gateway/pkg/registry"
	"github.com/deco-cx/gateway/pkg/tool"
)

var (
	configPath string
	listenAddr string
)

var rootCmd = &cobra.Command{
	Use:          "gateway",
	Short:        "MCP gateway for deco.chat integrations",
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway HTTP server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return serve(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().StringVar(&configPath, "config-path", "", "path to the gateway config file")
	serveCmd.Flags().StringVar(&listenAddr, "addr", "", "listen address, overrides the config file")
	rootCmd.AddCommand(serveCmd)
}

func serve(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if listenAddr != "" {
		cfg.Addr = listenAddr
	}

	logging.Init(logging.ToSlogLevel(cfg.Log.Level), os.Stderr, cfg.Log.Format)
	log := logging.GetLogger()
	if err := metrics.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize metrics: %w", err)
	}

	var issuer *auth.Issuer
	if cfg.SigningKey != "" {
		issuer = auth.NewIssuer([]byte(cfg.SigningKey))
	} else {
		log.Warn("no proxy signing key configured, outbound calls carry no scoped token",
			"env", config.EnvSigningKey)
	}

	integrations := make([]registry.Integration, 0, len(cfg.Integrations))
	for _, ic := range cfg.Integrations {
		integrations = append(integrations, registry.Integration{
			ID:      ic.ID,
			AppName: ic.AppName,
			Connection: proxy.Connection{
				ID:      ic.ID,
				Type:    ic.Type,
				URL:     ic.URL,
				Token:   ic.Token,
				Headers: ic.Headers,
			},
			AllowedTools: ic.AllowedTools,
		})
	}

	var regOpts []registry.Option
	ttl, err := cfg.ListingCacheTTL()
	if err != nil {
		return err
	}
	if ttl > 0 {
		regOpts = append(regOpts, registry.WithListingTTL(ttl))
	}
	reg := registry.New(integrations, issuer, regOpts...)
	defer reg.Close()

	builtins := builtin.Tools(integrations)
	gw := gateway.New(gateway.Options{
		Registry:      reg,
		GlobalTools:   tool.Static(builtins),
		ProjectTools:  tool.Static(builtins),
		GlobalBridge:  builtins,
		ProjectBridge: builtins,
	})

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           gw.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("gateway listening", "addr", cfg.Addr, "integrations", len(integrations))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
