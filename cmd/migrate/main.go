// Command migrate is the CLI front end for the migration engine: it
// wires Config, SnapshotStore, Differ, Planner and Applier together
// behind the subcommands named in spec §6.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	migrator "github.com/minfold/migrator"
)

var dryRun bool

func main() {
	root := &cobra.Command{
		Use:   "migrate",
		Short: "Schema-migration engine for SQL Server",
	}
	root.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "print the plan without touching the database or filesystem")

	root.AddCommand(
		newGenerateInitialCmd(),
		newGenerateIncrementalCmd(),
		newApplyCmd(),
		newRollbackCmd(),
		newGotoCmd(),
		newClaimCmd(),
		newNewCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newGenerateInitialCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "generate-initial <description>",
		Short: "Generate the first migration from an empty schema to the live database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return fmt.Errorf("generate-initial requires an Introspector wired by the hosting application; " +
				"this binary ships the engine only (see migrator.Introspector, migrator.BuildSchema)")
		},
	}
}

func newGenerateIncrementalCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "generate-incremental <description>",
		Short: "Generate a migration from the last applied snapshot to the live database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return fmt.Errorf("generate-incremental requires an Introspector wired by the hosting application; " +
				"this binary ships the engine only (see migrator.Introspector, migrator.BuildSchema)")
		},
	}
}

func newApplyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "apply",
		Short: "Apply every migration not yet recorded",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := migrator.LoadConfig()
			if err := cfg.Validate(); err != nil {
				return err
			}
			ctx := context.Background()
			applier, err := migrator.NewApplier(cfg.Driver, cfg.DSN, cfg.CodePath, newCLILogger(cfg))
			if err != nil {
				return err
			}
			defer applier.Close()

			if dryRun {
				applied, err := applier.ListApplied(ctx)
				if err != nil {
					return err
				}
				fmt.Println("already applied:", applied)
				return nil
			}
			return applier.ApplyAll(ctx)
		},
	}
}

func newRollbackCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rollback <name>",
		Short: "Roll back a single applied migration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := migrator.LoadConfig()
			if err := cfg.Validate(); err != nil {
				return err
			}
			ctx := context.Background()
			applier, err := migrator.NewApplier(cfg.Driver, cfg.DSN, cfg.CodePath, newCLILogger(cfg))
			if err != nil {
				return err
			}
			defer applier.Close()

			if dryRun {
				fmt.Println("would roll back:", args[0])
				return nil
			}
			return applier.Rollback(ctx, args[0])
		},
	}
}

func newGotoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "goto <name>",
		Short: "Move the database to the state immediately after <name>",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := migrator.LoadConfig()
			if err := cfg.Validate(); err != nil {
				return err
			}
			ctx := context.Background()
			applier, err := migrator.NewApplier(cfg.Driver, cfg.DSN, cfg.CodePath, newCLILogger(cfg))
			if err != nil {
				return err
			}
			defer applier.Close()

			plan, err := applier.Goto(ctx, args[0], dryRun)
			if err != nil {
				return err
			}
			if dryRun {
				fmt.Println("would roll back:", plan.Rollbacks)
				fmt.Println("would apply:", plan.Applies)
			}
			return nil
		},
	}
}

func newClaimCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "claim <name|latest>",
		Short: "Mark the database's current state as matching a migration, without running scripts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return fmt.Errorf("claim requires an Introspector wired by the hosting application to read the live schema; " +
				"see migrator.Applier.Claim and migrator.BuildSchema")
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "skip the schema-match assertion")
	return cmd
}

func newNewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "new <description>",
		Short: "Create an empty, timestamped migration folder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := migrator.LoadConfig()
			name := fmt.Sprintf("%s_%s", time.Now().UTC().Format("20060102150405"), args[0])
			dir := filepath.Join(cfg.CodePath, "Dao", "Migrations", name)
			if dryRun {
				fmt.Println("would create:", dir)
				return nil
			}
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return err
			}
			fmt.Println("created:", dir)
			return nil
		},
	}
}

func newCLILogger(cfg *migrator.Config) migrator.Logger {
	level := migrator.LevelInfo
	if cfg.Debug {
		level = migrator.LevelDebug
	}
	return migrator.NewStdLogger(os.Stderr, level)
}
