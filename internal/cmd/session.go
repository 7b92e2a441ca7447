package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/gomian/internal/config"
	"github.com/3leaps/gomian/internal/observability"
	"github.com/3leaps/gomian/pkg/session"
)

var (
	sessionTTL  time.Duration
	sessionJSON bool
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage users and session tokens",
	Long: `Manage the users and session tokens the API authenticates with.

Tokens are printed once on issue; the store keeps only their hashes.

Examples:
  gomian session add-user alice
  gomian session issue alice --ttl 72h
  gomian session revoke <token>
  gomian session purge`,
}

var sessionAddUserCmd = &cobra.Command{
	Use:   "add-user <username>",
	Short: "Create a user",
	Args:  cobra.ExactArgs(1),
	RunE: withSessionStore(func(cmd *cobra.Command, args []string, store session.Admin) error {
		u, err := store.AddUser(cmd.Context(), args[0])
		if errors.Is(err, session.ErrUserExists) {
			return exitError(foundry.ExitInvalidArgument, "User already exists", err)
		}
		if err != nil {
			return exitError(foundry.ExitFileWriteError, "Failed to add user", err)
		}
		return printSessionValue(cmd, u, fmt.Sprintf("created user %s", u.ID))
	}),
}

var sessionIssueCmd = &cobra.Command{
	Use:   "issue <username>",
	Short: "Issue a session token",
	Args:  cobra.ExactArgs(1),
	RunE: withSessionStore(func(cmd *cobra.Command, args []string, store session.Admin) error {
		ttl := sessionTTL
		if ttl <= 0 {
			ttl = sessionDefaultTTL
		}
		tok, err := store.Issue(cmd.Context(), args[0], ttl)
		if errors.Is(err, session.ErrUnknownUser) {
			return exitError(foundry.ExitInvalidArgument, "Unknown user", err)
		}
		if err != nil {
			return exitError(foundry.ExitFileWriteError, "Failed to issue token", err)
		}
		return printSessionValue(cmd, tok, tok.Value)
	}),
}

var sessionRevokeCmd = &cobra.Command{
	Use:   "revoke <token>",
	Short: "Revoke a session token",
	Args:  cobra.ExactArgs(1),
	RunE: withSessionStore(func(cmd *cobra.Command, args []string, store session.Admin) error {
		if err := store.Revoke(cmd.Context(), args[0]); err != nil {
			if errors.Is(err, session.ErrNoSession) {
				return exitError(foundry.ExitInvalidArgument, "No such session", err)
			}
			return exitError(foundry.ExitFileWriteError, "Failed to revoke token", err)
		}
		observability.CLILogger.Info("session revoked")
		return nil
	}),
}

var sessionPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete expired sessions",
	Args:  cobra.NoArgs,
	RunE: withSessionStore(func(cmd *cobra.Command, _ []string, store session.Admin) error {
		sql, ok := store.(*session.SQLStore)
		if !ok {
			return exitError(foundry.ExitInvalidArgument, "Purge needs the sqlite session driver", nil)
		}
		n, err := sql.PurgeExpired(cmd.Context())
		if err != nil {
			return exitError(foundry.ExitFileWriteError, "Failed to purge sessions", err)
		}
		observability.CLILogger.Info("expired sessions purged", zap.Int64("deleted", n))
		return nil
	}),
}

// sessionDefaultTTL is replaced by session.ttl once config loads.
var sessionDefaultTTL = 24 * time.Hour

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionAddUserCmd, sessionIssueCmd, sessionRevokeCmd, sessionPurgeCmd)
	sessionCmd.PersistentFlags().BoolVar(&sessionJSON, "json", false, "Emit JSON")
	sessionIssueCmd.Flags().DurationVar(&sessionTTL, "ttl", 0, "Token lifetime (default session.ttl)")
}

type sessionRunE func(cmd *cobra.Command, args []string, store session.Admin) error

// withSessionStore opens the configured store around fn. The in-memory
// driver would forget everything on exit, so it is rejected here.
func withSessionStore(fn sessionRunE) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd.Context(), nil)
		if err != nil {
			return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
		}
		if cfg.Session.Driver == config.SessionMemory {
			return exitError(foundry.ExitInvalidArgument, "Session commands need a persistent driver",
				fmt.Errorf("session.driver is %q", cfg.Session.Driver))
		}
		sessionDefaultTTL = cfg.Session.TTL

		store, err := openSessionStore(cmd.Context(), cfg.Session)
		if err != nil {
			return exitError(foundry.ExitExternalServiceUnavailable, "Cannot open session store", err)
		}
		defer func() { _ = store.Close() }()
		return fn(cmd, args, store)
	}
}

func printSessionValue(cmd *cobra.Command, v any, text string) error {
	out := cmd.OutOrStdout()
	if sessionJSON {
		if err := json.NewEncoder(out).Encode(v); err != nil {
			return exitError(foundry.ExitFileWriteError, "Failed to write output", err)
		}
		return nil
	}
	_, err := fmt.Fprintln(out, text)
	return err
}
