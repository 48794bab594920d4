package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jensholdgaard/event-scheduler/internal/clock"
	"github.com/jensholdgaard/event-scheduler/internal/config"
	"github.com/jensholdgaard/event-scheduler/internal/store"

	// Register store drivers so they are available via store.Open.
	_ "github.com/jensholdgaard/event-scheduler/internal/store/memstore"
	_ "github.com/jensholdgaard/event-scheduler/internal/store/postgres"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
}

// NewRootCommand creates the schedulerd command tree.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "schedulerd",
		Short:         "Scheduled event registry",
		Long:          "Stores events keyed by namespace and key, at most one scheduled at a time, and settles them into successors.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "config.yaml", "path to configuration file")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewVersionCommand())

	return cmd
}

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the event schema and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(rootOpts.ConfigPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if err := migrate(cmd.Context(), cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema ready (driver=%s)\n", cfg.Database.Driver)
			return nil
		},
	}
}

func migrate(ctx context.Context, cfg *config.Config) error {
	backend, err := store.Open(ctx, cfg.Database, clock.Real{})
	if err != nil {
		return fmt.Errorf("opening store (driver=%s): %w", cfg.Database.Driver, err)
	}
	defer backend.Close()

	if err := backend.Events.Init(ctx); err != nil {
		return fmt.Errorf("initializing schema: %w", err)
	}
	return nil
}

// NewVersionCommand creates the version command.
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}
