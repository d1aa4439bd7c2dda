package cmd

import (
	"fmt"

	"github.com/MeKo-Tech/detscan/internal/store"
	"github.com/spf13/cobra"
)

func newMigrateCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the record store schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			scfg := c.cfg.ToStoreConfig()
			scfg.AutoMigrate = false

			db, err := store.Open(scfg)
			if err != nil {
				return fmt.Errorf("failed to open record store: %w", err)
			}
			defer func() { _ = store.Close(db) }()

			if err := store.AutoMigrate(db); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "schema up to date (%s)\n", scfg.Driver)
			return err
		},
	}
}
