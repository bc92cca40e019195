package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

const (
	StoreDB     = "db"
	StoreMemory = "memory"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath  string
	Store       string // "db" | "memory"
	Actor       string
	LogLevel    string
	AutoMigrate bool
	SideEffects bool
}

// NewRootCommand creates the root command for capsulectl.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "capsulectl",
		Short: "Manage capsule membership and the social graph",
		Long: `capsulectl runs capsule membership and social graph operations against the
configured store and prints the resulting view as JSON.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.Store != StoreDB && opts.Store != StoreMemory {
				return fmt.Errorf("invalid store %q: must be %s or %s", opts.Store, StoreDB, StoreMemory)
			}
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.ConfigPath, "config", "c", "", "config file (default ./config/config.yaml or ./config.yaml)")
	flags.StringVar(&opts.Store, "store", StoreDB, "backing store (db|memory)")
	flags.StringVar(&opts.Actor, "as", "", "id of the acting user")
	flags.StringVar(&opts.LogLevel, "log-level", "", "override LOG.LEVEL")
	flags.BoolVar(&opts.AutoMigrate, "auto-migrate", false, "migrate tables before running the command")
	flags.BoolVar(&opts.SideEffects, "side-effects", true, "deliver invites, graph events and knowledge refreshes")

	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewCapsuleCommand(opts))
	cmd.AddCommand(NewMembershipCommand(opts))
	cmd.AddCommand(NewGraphCommand(opts))

	return cmd
}

// action runs one service call and returns the view to print.
type action func(ctx context.Context, a *app, actor string, args []string) (any, error)

// actionCommand builds a leaf command that boots the app, runs fn as the --as user and prints its result.
func actionCommand(opts *RootOptions, use, short string, nargs int, fn action) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(nargs),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := fn(cmd.Context(), a, opts.Actor, args)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), result)
		},
	}
}
