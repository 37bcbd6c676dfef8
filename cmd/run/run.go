package run

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tphakala/polecam/internal/conf"
)

// Options controls the simulated trains of --simulate
type Options struct {
	Simulate      bool
	TrainInterval time.Duration
	TrainSpacing  time.Duration
	TrainTriggers int
}

// Command creates the command that supervises the camera pole until interrupted.
func Command() *cobra.Command {
	var opts Options

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Supervise the camera pole",
		Long: `Open every configured camera, run trigger/download cycles, write frames to disk
and publish each event to the broker until SIGINT or SIGTERM is received.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return Run(cmd.Context(), conf.GetSettings(), opts)
		},
	}

	if err := setupFlags(cmd, &opts); err != nil {
		panic(err)
	}

	return cmd
}

func setupFlags(cmd *cobra.Command, opts *Options) error {
	cmd.Flags().BoolVar(&opts.Simulate, "simulate", false, "Fire simulated trains on the simulated camera driver")
	cmd.Flags().DurationVar(&opts.TrainInterval, "train-interval", 30*time.Second, "Time between simulated trains")
	cmd.Flags().DurationVar(&opts.TrainSpacing, "train-spacing", 50*time.Millisecond, "Time between triggers of a simulated train")
	cmd.Flags().IntVar(&opts.TrainTriggers, "train-triggers", 8, "Triggers per simulated train")
	cmd.Flags().String("writedir", "", "Directory frames are written to (overrides pole.writedir)")

	if err := viper.BindPFlag("pole.writedir", cmd.Flags().Lookup("writedir")); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}
	return nil
}
