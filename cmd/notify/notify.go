package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/tphakala/polecam/internal/conf"
	"github.com/tphakala/polecam/internal/notification"
)

// Command returns a cobra command that sends a test alert to the configured notification services
func Command() *cobra.Command {
	var (
		title   string
		message string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "notify",
		Short: "Send a test alert to the configured notification services",
		Long: `Send a test alert through every URL in notification.urls.

Examples:
  polecam notify
  polecam notify --title="Pole north" --message="alert path check"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings := conf.GetSettings()
			if settings == nil {
				return fmt.Errorf("settings not loaded")
			}
			ns := settings.Notification
			if timeout > 0 {
				ns.Timeout = timeout
			}

			alerter, err := notification.NewAlerter(&ns, nil)
			if err != nil {
				return fmt.Errorf("failed to create alerter: %w", err)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), max(ns.Timeout, notification.DefaultTimeout))
			defer cancel()
			if err := alerter.Notify(ctx, title, message); err != nil {
				return fmt.Errorf("failed to send alert: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Alert sent to %d service(s)\n", len(ns.URLs))
			return nil
		},
	}

	cmd.Flags().StringVar(&title, "title", "polecam test alert", "Alert title")
	cmd.Flags().StringVar(&message, "message", "This is a test alert from polecam", "Alert message")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Delivery timeout (default: notification.timeout)")

	return cmd
}
