package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tinge-app/tinge/internal/config"
	"github.com/tinge-app/tinge/internal/gateway"
	"github.com/tinge-app/tinge/internal/usage"
	"github.com/tinge-app/tinge/pkg/otel"
)

func newGatewayCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Run the backend session gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGateway()
		},
	}
}

func runGateway() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	telemetry, err := otel.Init(otel.Config{
		ServiceName: "tinge-gateway",
		Environment: cfg.Server.Environment,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	slog.SetDefault(telemetry.Logger)

	slog.Info("gateway: starting",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"env", cfg.Server.Environment,
		"api_key", maskSecret(cfg.Upstream.APIKey),
		"search_configured", cfg.IsSearchConfigured(),
		"token_limit", cfg.Usage.MaxTokensPerKey,
	)

	accountant := usage.NewAccountant(usage.Options{
		DefaultLimit:  cfg.Usage.MaxTokensPerKey,
		Enabled:       cfg.Usage.LimitEnabled,
		SweepInterval: cfg.Usage.SweepInterval,
		ExpireAfter:   cfg.Usage.ExpireAfter,
	})
	defer accountant.Close()

	server := gateway.NewServer(cfg, accountant)

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("gateway server failed: %w", err)
	case sig := <-stop:
		slog.Info("gateway: received signal, shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Stop(ctx); err != nil {
		return fmt.Errorf("gateway shutdown failed: %w", err)
	}
	if err := telemetry.Shutdown(ctx); err != nil {
		slog.Warn("gateway: telemetry shutdown failed", "error", err)
	}
	return nil
}

// maskSecret keeps the first four characters of a credential for log
// correlation.
func maskSecret(s string) string {
	if s == "" {
		return "(unset)"
	}
	if len(s) <= 4 {
		return "****"
	}
	return s[:4] + "****"
}
