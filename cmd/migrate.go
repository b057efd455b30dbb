package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// newMigrateCmd applies the embedded audit schema with goose.
func newMigrateCmd() *cobra.Command {
	var dsn string
	cmd := &cobra.Command{
		Use:   "migrate [command] [args...]",
		Short: "Applies the Postgres audit schema (goose commands: up, down, status, ...)",
		Long: `migrate runs a goose command against the database named by --dsn or
database.dsn. The command defaults to "up"; extra arguments are passed to goose
(for example "migrate up-to 1").`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd.Context())
			if err != nil {
				return err
			}
			target := strings.TrimSpace(dsn)
			if target == "" {
				target = strings.TrimSpace(cfg.Database.DSN)
			}
			if target == "" {
				return errors.New("no database configured: set --dsn or database.dsn")
			}
			command := "up"
			if len(args) > 0 {
				command, args = args[0], args[1:]
			}
			if err := runMigrations(cmd.Context(), target, command, args...); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "migrate %s: done\n", command)
			return nil
		},
	}
	cmd.Flags().StringVar(&dsn, "dsn", "", "Postgres DSN (overrides database.dsn)")
	return cmd
}
