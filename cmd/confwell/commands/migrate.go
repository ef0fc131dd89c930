package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/confwell/confwell/pkg/stores"
)

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings()
			if err != nil {
				return err
			}

			store, err := stores.NewSQLiteStore(stores.Config{Path: settings.Store.Path})
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if err := store.Init(ctx); err != nil {
				return fmt.Errorf("failed to init store: %w", err)
			}
			defer store.Close()

			if err := store.Migrate(ctx); err != nil {
				return err
			}

			fmt.Println("migrations applied")
			return nil
		},
	}
}
