package cameras

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/tphakala/polecam/internal/conf"
	"gopkg.in/yaml.v3"
)

const redacted = "[redacted]"

// Command lists the configured cameras, or dumps the effective configuration with --dump
func Command() *cobra.Command {
	var dump bool

	cmd := &cobra.Command{
		Use:   "cameras",
		Short: "List the configured cameras",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings := conf.GetSettings()
			if settings == nil {
				return fmt.Errorf("settings not loaded")
			}
			if dump {
				return dumpSettings(cmd.OutOrStdout(), settings)
			}
			return listCameras(cmd.OutOrStdout(), settings)
		},
	}

	cmd.Flags().BoolVar(&dump, "dump", false, "Print the effective configuration as YAML, secrets redacted")

	return cmd
}

func listCameras(w io.Writer, settings *conf.Settings) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "pole %s, %d camera(s), frame %dx%d\n\n",
		settings.Pole.Name, len(settings.Pole.Cameras), settings.Pole.FrameHeight, settings.Pole.FrameWidth)
	fmt.Fprintln(tw, "NUM\tID\tIP\tSETTINGS")
	for i, cam := range settings.Pole.Cameras {
		sf := cam.SettingsFile
		if sf == "" {
			sf = "-"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", i+1, cam.ID, cam.IP, sf)
	}
	return tw.Flush()
}

func dumpSettings(w io.Writer, settings *conf.Settings) error {
	s := *settings
	if s.Broker.MQTT.Password != "" {
		s.Broker.MQTT.Password = redacted
	}
	if s.Output.MySQL.Password != "" {
		s.Output.MySQL.Password = redacted
	}
	if s.Sentry.DSN != "" {
		s.Sentry.DSN = redacted
	}
	if len(s.Notification.URLs) > 0 {
		s.Notification.URLs = []string{fmt.Sprintf("%s (%d)", redacted, len(settings.Notification.URLs))}
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&s); err != nil {
		return fmt.Errorf("error encoding settings: %w", err)
	}
	return enc.Close()
}
