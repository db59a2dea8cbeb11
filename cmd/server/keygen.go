package main

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/license-console/license-console/internal/config"
	"github.com/license-console/license-console/internal/crypto"
)

// newKeygenCmd prints a fresh master key for sealing stored license keys. Rotating the
// master key makes every stored license key unrevealable, so this is a setup step.
func newKeygenCmd() *cobra.Command {
	var encoding string
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a license key encryption master key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := crypto.GenerateKey()
			if err != nil {
				return fmt.Errorf("failed to generate key: %w", err)
			}
			encoded, err := encodeKey(key, encoding)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s=%s\n", config.EncryptionKeyEnv, encoded)
			return nil
		},
	}
	cmd.Flags().StringVar(&encoding, "encoding", "hex", "Output encoding: hex or base64")
	return cmd
}

func encodeKey(key []byte, encoding string) (string, error) {
	switch encoding {
	case "hex":
		return hex.EncodeToString(key), nil
	case "base64":
		return base64.StdEncoding.EncodeToString(key), nil
	default:
		return "", fmt.Errorf("unknown encoding %q: use hex or base64", encoding)
	}
}
