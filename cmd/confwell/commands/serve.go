package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/confwell/confwell/pkg/config"
	"github.com/confwell/confwell/pkg/control"
	"github.com/confwell/confwell/pkg/telemetry"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the configuration service",
		Long: `Starts the full service: durable store, event hub, replica,
replicator, and the HTTP edge with the SDK read API, admin API, and SSE
change streams. Blocks until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings()
			if err != nil {
				return err
			}

			tel, err := telemetry.NewTelemetry(control.TelemetryFromSettings(settings))
			if err != nil {
				return fmt.Errorf("failed to initialize telemetry: %w", err)
			}

			ctrl, err := control.New(settings, tel)
			if err != nil {
				return err
			}

			ctx := tel.WithContext(cmd.Context())

			// Hot-reload the log level when the settings file changes.
			if settingsPath != "" {
				err := config.Watch(ctx, settingsPath, tel.Logger, func(s *config.Settings) {
					telemetry.SetGlobalLevel(s.Telemetry.LogLevel)
				})
				if err != nil {
					tel.Logger.WithError(err).Warn("settings watch unavailable")
				}
			}

			return ctrl.Run(ctx)
		},
	}
}
