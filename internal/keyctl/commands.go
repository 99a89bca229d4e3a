package keyctl

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/vyrodovalexey/keyrelay/internal/accesskey"
)

// Environment variables supplying flag defaults.
const (
	EnvServer     = "KEYRELAY_ADMIN_URL"
	EnvAdminToken = "KEYRELAY_ADMIN_TOKEN"
)

// DefaultServer is the keyadmin address used when none is given.
const DefaultServer = "http://localhost:3000"

// NewRoot constructs the keyctl root command.
func NewRoot() *cobra.Command {
	root := &cobra.Command{
		Use:           "keyctl",
		Short:         "Manage keyrelay access keys",
		Long:          "keyctl calls the keyadmin API to create, inspect, update, disable and delete access keys.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().String("server", envOr(EnvServer, DefaultServer), "keyadmin base URL")
	root.PersistentFlags().String("admin-token", os.Getenv(EnvAdminToken), "Admin token sent on /admin routes")
	root.PersistentFlags().Duration("timeout", 10*time.Second, "Request timeout")

	root.AddCommand(
		newCreateCommand(),
		newGetCommand(),
		newListCommand(),
		newUpdateCommand(),
		newDeleteCommand(),
		newKeyInfoCommand(),
		newDisableCommand(),
	)
	return root
}

func clientFor(cmd *cobra.Command) *Client {
	serverURL, _ := cmd.Flags().GetString("server")
	token, _ := cmd.Flags().GetString("admin-token")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	return NewClient(serverURL, token, timeout)
}

// newCreateCommand constructs the `create` subcommand.
func newCreateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create KEY",
		Short: "Create an access key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt64("rate-limit")
			expiresAt, _ := cmd.Flags().GetInt64("expires-at")
			rec, err := clientFor(cmd).Create(cmd.Context(), CreateRequest{
				Key:             args[0],
				RateLimitPerMin: limit,
				ExpiresAt:       expiresAt,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rec)
		},
	}
	cmd.Flags().Int64("rate-limit", 0, "Requests allowed per minute")
	cmd.Flags().Int64("expires-at", 0, "Expiry as epoch milliseconds (0 = never)")
	_ = cmd.MarkFlagRequired("rate-limit")
	return cmd
}

// newGetCommand constructs the `get` subcommand.
func newGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get KEY",
		Short: "Show an access key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := clientFor(cmd).Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rec)
		},
	}
}

// newListCommand constructs the `list` subcommand.
func newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List access keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			recs, err := clientFor(cmd).List(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), recs)
		},
	}
}

// newUpdateCommand constructs the `update` subcommand. Only flags given
// on the command line are sent.
func newUpdateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update KEY",
		Short: "Update an access key's rate limit or expiry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var patch accesskey.Patch
			if cmd.Flags().Changed("rate-limit") {
				v, _ := cmd.Flags().GetInt64("rate-limit")
				patch.RateLimitPerMin = &v
			}
			if cmd.Flags().Changed("expires-at") {
				v, _ := cmd.Flags().GetInt64("expires-at")
				patch.ExpiresAt = &v
			}
			if patch.Empty() {
				return errors.New("nothing to update: set --rate-limit or --expires-at")
			}

			rec, err := clientFor(cmd).Update(cmd.Context(), args[0], patch)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rec)
		},
	}
	cmd.Flags().Int64("rate-limit", 0, "Requests allowed per minute")
	cmd.Flags().Int64("expires-at", 0, "Expiry as epoch milliseconds (0 = never)")
	return cmd
}

// newDeleteCommand constructs the `delete` subcommand.
func newDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete KEY",
		Short: "Delete an access key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := clientFor(cmd).Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "deleted:", args[0])
			return nil
		},
	}
}

// newKeyInfoCommand constructs the `key-info` subcommand.
func newKeyInfoCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "key-info API_KEY",
		Short: "Show the record of your own access key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := clientFor(cmd).KeyInfo(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rec)
		},
	}
}

// newDisableCommand constructs the `disable` subcommand.
func newDisableCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "disable API_KEY",
		Short: "Disable your own access key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := clientFor(cmd).Disable(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rec)
		},
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
