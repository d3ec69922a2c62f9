package main

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nbarak/shekelbot/internal/cli"
	"github.com/nbarak/shekelbot/internal/config"
	"github.com/nbarak/shekelbot/internal/creds"
)

func credsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "creds",
		Short: "Manage encrypted scraping credentials",
	}
	cmd.AddCommand(credsKeygenCmd())
	cmd.AddCommand(credsSealCmd())
	return cmd
}

func credsKeygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a new credentials encryption key",
		RunE: func(_ *cobra.Command, _ []string) error {
			var key [32]byte
			if _, err := rand.Read(key[:]); err != nil {
				return fmt.Errorf("failed to generate key: %w", err)
			}
			fmt.Println(hex.EncodeToString(key[:]))
			return nil
		},
	}
}

// plainEntry mirrors the credentials file format with the payload still
// in the clear.
type plainEntry struct {
	Company  string            `json:"company"`
	Name     string            `json:"name"`
	UserID   string            `json:"user_id"`
	Payload  map[string]string `json:"payload"`
	Accounts []string          `json:"accounts,omitempty"`
}

type sealedEntry struct {
	Company  string   `json:"company"`
	Name     string   `json:"name"`
	UserID   string   `json:"user_id"`
	Payload  string   `json:"payload"`
	Accounts []string `json:"accounts,omitempty"`
}

func credsSealCmd() *cobra.Command {
	var keyHex string

	cmd := &cobra.Command{
		Use:   "seal <plain.json> <sealed.json>",
		Short: "Encrypt a plaintext credentials file",
		Long: `Seal reads a JSON array of credential entries with plaintext payloads
and writes the same array with each payload encrypted, ready to be used
as the credentials file. The plaintext file should be deleted after.`,
		Args: cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			if keyHex == "" {
				keyHex = config.Load().Credentials.Key
			}
			key, err := creds.ParseKey(keyHex)
			if err != nil {
				return err
			}

			raw, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", args[0], err)
			}
			var plain []plainEntry
			if err := json.Unmarshal(raw, &plain); err != nil {
				return fmt.Errorf("failed to parse %s: %w", args[0], err)
			}

			sealed := make([]sealedEntry, 0, len(plain))
			for _, e := range plain {
				payload, err := creds.Seal(key, e.Payload)
				if err != nil {
					return fmt.Errorf("failed to seal credentials for %q: %w", e.Name, err)
				}
				sealed = append(sealed, sealedEntry{
					Company:  e.Company,
					Name:     e.Name,
					UserID:   e.UserID,
					Payload:  payload,
					Accounts: e.Accounts,
				})
			}

			out, err := json.MarshalIndent(sealed, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to encode output: %w", err)
			}
			if err := os.WriteFile(args[1], out, 0o600); err != nil {
				return fmt.Errorf("failed to write %s: %w", args[1], err)
			}

			fmt.Println(cli.SuccessStyle.Render(
				fmt.Sprintf("Sealed %d credential sets into %s", len(sealed), args[1])))
			return nil
		},
	}

	cmd.Flags().StringVar(&keyHex, "key", "", "encryption key (default: configured credentials.key)")
	return cmd
}
