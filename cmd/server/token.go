package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/license-console/license-console/internal/auth"
)

// newTokenCmd mints an admin bearer token signed with LIC_JWT_SECRET
func newTokenCmd() *cobra.Command {
	var (
		actor  string
		email  string
		scopes []string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an admin bearer token",
		Example: `  license-console token --actor alice --scopes organizations:read,organizations:write
  license-console token --actor ops-bot --scopes admin --ttl 1h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := auth.ValidateJWTSecret(); err != nil {
				return err
			}
			if ttl <= 0 {
				cfg, err := loadConfig()
				if err != nil {
					return err
				}
				ttl = cfg.Auth.TokenTTL
			}
			granted, err := parseScopes(scopes)
			if err != nil {
				return err
			}
			token, err := auth.GenerateJWT(actor, email, granted, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "Actor recorded in the audit ledger (required)")
	cmd.Flags().StringVar(&email, "email", "", "Contact email carried in the token")
	cmd.Flags().StringSliceVar(&scopes, "scopes", nil, "Comma-separated scopes (required)")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime (default: auth.token_ttl)")
	_ = cmd.MarkFlagRequired("actor")
	_ = cmd.MarkFlagRequired("scopes")
	return cmd
}

// parseScopes trims the flag values and rejects unknown scope names
func parseScopes(raw []string) ([]string, error) {
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("at least one scope is required")
	}
	if err := auth.ValidateScopes(out); err != nil {
		return nil, err
	}
	return out, nil
}
