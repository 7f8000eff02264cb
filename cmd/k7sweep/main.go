// Command k7sweep runs the K7 sweep capture engine and the tools around it.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/myotronics/k7sweep/internal/config"
	"github.com/myotronics/k7sweep/internal/monitoring"
)

var (
	cfg     *config.AppConfig
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "k7sweep",
	Short: "Sweep capture, recording and playback for the K7-MYO sensor",
	Long: `k7sweep ingests tilt samples from a K7-MYO sensor, records sweep
sessions, archives them per patient and replays them for review.

Other programs drive the engine through the shared event bus in the state
directory; the event and exit commands act as such a program.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger, err := monitoring.NewZapLogger(verbose)
		if err != nil {
			return fmt.Errorf("init logging: %w", err)
		}
		monitoring.UseZap(logger)

		if cmd.Name() == "version" {
			return nil
		}
		path, required := cfgFile, true
		if path == "" {
			path, required = config.DefaultConfigPath, false
		}
		cfg, err = config.Load(path, required)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/k7sweep.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(handshakeCmd)
	rootCmd.AddCommand(eventCmd)
	rootCmd.AddCommand(exitCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
