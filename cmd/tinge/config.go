package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tinge-app/tinge/internal/config"
)

func newConfigCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the resolved gateway configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			fmt.Printf("server:\n")
			fmt.Printf("  host: %s\n", cfg.Server.Host)
			fmt.Printf("  port: %d\n", cfg.Server.Port)
			fmt.Printf("  environment: %s\n", cfg.Server.Environment)
			fmt.Printf("  frontend_url: %s\n", orUnset(cfg.Server.FrontendURL))
			fmt.Printf("upstream:\n")
			fmt.Printf("  base_url: %s\n", cfg.Upstream.BaseURL)
			fmt.Printf("  api_key: %s\n", maskSecret(cfg.Upstream.APIKey))
			fmt.Printf("  verify_model: %s\n", cfg.Upstream.VerifyModel)
			fmt.Printf("  verify_timeout: %s\n", cfg.Upstream.VerifyTimeout)
			fmt.Printf("  transcription_model: %s\n", cfg.Upstream.TranscriptionModel)
			fmt.Printf("search:\n")
			fmt.Printf("  url: %s\n", orUnset(cfg.Search.URL))
			fmt.Printf("  timeout: %s\n", cfg.Search.Timeout)
			fmt.Printf("  force_english: %t\n", cfg.Search.ForceEnglish)
			fmt.Printf("usage:\n")
			fmt.Printf("  max_tokens_per_key: %d\n", cfg.Usage.MaxTokensPerKey)
			fmt.Printf("  limit_enabled: %t\n", cfg.Usage.LimitEnabled)
			fmt.Printf("  sweep_interval: %s\n", cfg.Usage.SweepInterval)
			fmt.Printf("  expire_after: %s\n", cfg.Usage.ExpireAfter)
			fmt.Printf("realtime:\n")
			fmt.Printf("  model: %s\n", cfg.Realtime.Model)
			fmt.Printf("  voice: %s\n", cfg.Realtime.Voice)
			return nil
		},
	}
}

func orUnset(s string) string {
	if s == "" {
		return "(unset)"
	}
	return s
}
