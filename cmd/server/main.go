// @title           License Console API
// @version         1.0.0
// @description     Organization license lifecycle: provisioning, renewal, suspension, revocation, quotas, plans and the audit ledger
// @license.name    Apache-2.0
// @basePath        /
// @schemes         http https
// @securityDefinitions.apiKey  Bearer
// @in                          header
// @name                        Authorization
// @description                 "JWT bearer token: 'Bearer {token}'. Mint one with the token command."
//
// @tag.name         System
// @tag.description  Health, readiness and version endpoints.
//
// @tag.name         Observability
// @tag.description  Prometheus metrics and pprof are served on dedicated side ports, configured with LIC_TELEMETRY_METRICS_PROMETHEUS_PORT and LIC_TELEMETRY_PROFILING_PORT. Neither is served by the Gin router.

// Package main is the entry point for the license console server binary. It exposes
// the serve, migrate, token, keygen and version subcommands. The serve command runs
// migrations on startup so a fresh deployment needs no separate migration step.
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/license-console/license-console/internal/config"
)

// version is overridden at build time with -ldflags "-X main.version=..."
var version = "0.1.0"

var configPath string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Fatalf("Error: %v\n", err)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "license-console",
		Short:         "Organization license lifecycle backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", os.Getenv("CONFIG_PATH"), "Path to config.yaml (env: CONFIG_PATH)")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP API and background jobs",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runServe()
			},
		},
		newMigrateCmd(),
		newTokenCmd(),
		newKeygenCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "License Console v%s\n", version)
			},
		},
	)
	return root
}

// loadConfig reads an optional .env file, then the configuration
func loadConfig() (*config.Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func runServe() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	return serve(cfg)
}
