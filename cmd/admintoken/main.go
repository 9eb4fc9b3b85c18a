// Command admintoken mints bearer tokens for the admin API, signed with
// ADMIN_API_SECRET from the environment or .env.
package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"autofilter/config"
	"autofilter/middleware"
)

type tokenFlags struct {
	subject string
	ttl     time.Duration
}

// newRootCommand builds the command; lookup reads the signing secret
func newRootCommand(lookup func(string) string) *cobra.Command {
	flags := &tokenFlags{}

	cmd := &cobra.Command{
		Use:   "admintoken",
		Short: "Issue an admin API token",
		Long: `Issue an HS256 bearer token for /api/v1/admin.

The subject should be the operator's Telegram user id so broadcasts started
through the API are attributed to them.

Examples:
  admintoken --subject 123456789
  admintoken --subject 123456789 --ttl 1h`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			secret := lookup("ADMIN_API_SECRET")
			if secret == "" {
				return fmt.Errorf("ADMIN_API_SECRET is not set")
			}
			if err := config.ValidateAdminSecret(secret); err != nil {
				return err
			}
			subject := strings.TrimSpace(flags.subject)
			if subject == "" {
				return fmt.Errorf("--subject is required")
			}
			if flags.ttl <= 0 {
				return fmt.Errorf("--ttl must be positive")
			}

			token, err := middleware.IssueAdminToken([]byte(secret), subject, flags.ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVarP(&flags.subject, "subject", "s", "", "token subject, usually the operator's Telegram user id")
	cmd.Flags().DurationVar(&flags.ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

func main() {
	config.LoadDotEnv()
	if err := newRootCommand(os.Getenv).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
