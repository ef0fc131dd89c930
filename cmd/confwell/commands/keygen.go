package commands

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/confwell/confwell/pkg/catalog"
	"github.com/confwell/confwell/pkg/stores"
)

func newKeygenCommand() *cobra.Command {
	var (
		projectID     string
		environmentID string
	)

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Mint an SDK key for a project and environment",
		Long: `Creates an SDK bearer token bound to one project and environment and
prints it. The token is shown exactly once; only its row is stored.`,
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

			token, err := catalog.GenerateToken()
			if err != nil {
				return fmt.Errorf("failed to generate token: %w", err)
			}

			key := &stores.SDKKey{
				ID:            uuid.New().String(),
				ProjectID:     projectID,
				EnvironmentID: environmentID,
				Token:         token,
				CreatedAt:     time.Now().UTC(),
			}
			if err := store.CreateSDKKey(ctx, key); err != nil {
				return fmt.Errorf("failed to store sdk key: %w", err)
			}

			fmt.Printf("id:    %s\ntoken: %s\n", key.ID, key.Token)
			return nil
		},
	}

	cmd.Flags().StringVar(&projectID, "project", "", "project id (required)")
	cmd.Flags().StringVar(&environmentID, "environment", "", "environment id (required)")
	_ = cmd.MarkFlagRequired("project")
	_ = cmd.MarkFlagRequired("environment")

	return cmd
}
