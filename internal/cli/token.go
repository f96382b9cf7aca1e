package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/InvictusSEO/vibephp/internal/auth"
	"github.com/InvictusSEO/vibephp/internal/config"
)

var (
	tokenTTL     time.Duration
	secretLength int
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage API bearer tokens",
}

var tokenIssueCmd = &cobra.Command{
	Use:   "issue <client-key>",
	Short: "Issue a bearer token for a client key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.AuthSecret == "" {
			return errors.New("AUTH_SECRET is not set")
		}
		token, expiresAt, err := auth.NewTokenService(cfg.AuthSecret).Issue(args[0], tokenTTL)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", expiresAt.Format(time.RFC3339))
		return nil
	},
}

var secretCmd = &cobra.Command{
	Use:   "secret",
	Short: "Generate a random AUTH_SECRET",
	RunE: func(cmd *cobra.Command, args []string) error {
		secret, err := config.GenerateSecureSecret(secretLength)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), secret)
		return nil
	},
}

func init() {
	tokenIssueCmd.Flags().DurationVar(&tokenTTL, "ttl", auth.DefaultTokenTTL, "token lifetime")
	tokenCmd.AddCommand(tokenIssueCmd)

	secretCmd.Flags().IntVar(&secretLength, "length", 48, "secret length in bytes")
}
