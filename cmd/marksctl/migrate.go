package main

import (
	"fmt"
	"log/slog"

	"github.com/JonMunkholm/markrecon/internal/store"
	"github.com/spf13/cobra"
)

func newMigrateCmd(root *rootOptions) *cobra.Command {
	var down bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			dir := store.Up
			if down {
				dir = store.Down
			}
			version, err := store.Migrate(cfg.Database.URL, dir, slog.Default())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema version %d\n", version)
			return nil
		},
	}

	cmd.Flags().BoolVar(&down, "down", false, "Roll back every migration instead")
	return cmd
}
