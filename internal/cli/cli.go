// Package cli is the command-line entry point: the HTTP server and one-off
// mail syncs share the same configuration and wiring.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sakif/revtrack/internal/config"
	"github.com/sakif/revtrack/internal/mail"
	"github.com/sakif/revtrack/internal/scheduler"
	"github.com/sakif/revtrack/internal/server"
)

// Execute runs the CLI and exits non-zero on failure.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := NewRootCmd(config.Load).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// NewRootCmd builds the command tree. loadConfig is injected so tests can
// skip the environment.
func NewRootCmd(loadConfig func() (*config.Config, error)) *cobra.Command {
	root := &cobra.Command{
		Use:   "revtrack",
		Short: "Sales pipeline tracker with mailbox sync",
		Long: `revtrack serves the pipeline API and syncs mail exchanged with deal
contacts from connected Gmail and Outlook mailboxes.

Examples:
  revtrack serve                                  # run the API server
  revtrack sync --user <id> --provider gmail      # sync one mailbox now
  revtrack sync --all                             # sync every stored grant once`,
		SilenceUsage: true,
	}

	root.AddCommand(newServeCmd(loadConfig))
	root.AddCommand(newSyncCmd(loadConfig))
	return root
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func newServeCmd(loadConfig func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API (and the background sync when SYNC_INTERVAL is set)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger(cmd.ErrOrStderr(), cfg.LogLevel)

			app, err := server.NewApp(cmd.Context(), cfg, logger)
			if err != nil {
				logger.Error("failed to start", slog.String("error", err.Error()))
				return err
			}
			defer app.Close()

			if err := server.New(app).Run(cmd.Context()); err != nil {
				logger.Error("server error", slog.String("error", err.Error()))
				return err
			}
			return nil
		},
	}
}

func newSyncCmd(loadConfig func() (*config.Config, error)) *cobra.Command {
	var (
		userID   string
		provider string
		all      bool
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync mail into deal timelines once and print the result as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (userID != "") {
				return errors.New("exactly one of --user or --all is required")
			}
			name, ok := mail.ParseProviderName(provider)
			if !all && !ok {
				return fmt.Errorf("unknown provider %q (want gmail or outlook)", provider)
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger(cmd.ErrOrStderr(), cfg.LogLevel)

			app, err := server.NewApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer app.Close()

			var out any
			if all {
				out = scheduler.New(app.DB.MailTokens(), app.MailSync, 0, logger).RunOnce(cmd.Context())
			} else {
				result, err := app.MailSync.Sync(cmd.Context(), userID, name)
				if err != nil {
					return err
				}
				out = result
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "user ID whose mailbox to sync")
	cmd.Flags().StringVar(&provider, "provider", string(mail.Gmail), "mail provider: gmail or outlook")
	cmd.Flags().BoolVar(&all, "all", false, "sync every stored grant, like one scheduler cycle")
	return cmd
}
