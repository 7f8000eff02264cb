package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/myotronics/k7sweep/internal/eventbus"
	"github.com/myotronics/k7sweep/internal/fsutil"
)

func openBus() (*eventbus.FileBus, error) {
	return eventbus.Open(fsutil.OSFileSystem{}, cfg.StateDir, false)
}

func kindNames() string {
	var names []string
	for _, k := range eventbus.Kinds() {
		names = append(names, k.String())
	}
	return strings.Join(names, ", ")
}

var eventTag string

var eventCmd = &cobra.Command{
	Use:   "event <kind> [payload]",
	Short: "Publish an event to a running engine",
	Long: `Publish writes one event into the shared bus document.

Kinds: ` + kindNames(),
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := eventbus.ParseKind(args[0])
		if err != nil {
			return err
		}
		ev := eventbus.Event{Kind: kind}
		if len(args) == 2 {
			ev.Payload = args[1]
		}

		bus, err := openBus()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("tag") {
			if err := bus.SetRequestedPlaybackFileName(eventTag); err != nil {
				return err
			}
		}
		if err := bus.Publish(ev); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "published %s\n", kind)
		return nil
	},
}

var exitCmd = &cobra.Command{
	Use:   "exit",
	Short: "Ask a running engine to stop",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		bus, err := openBus()
		if err != nil {
			return err
		}
		return bus.SetExit(true)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the shared bus document",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		bus, err := openBus()
		if err != nil {
			return err
		}
		snap, err := bus.Peek()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "bus:             %s\n", bus.Path())
		fmt.Fprintf(out, "app_ready:       %t\n", snap.AppReady)
		fmt.Fprintf(out, "exit_thread:     %t\n", snap.ExitThread)
		fmt.Fprintf(out, "options_display: %t\n", snap.OptionsDisplay)
		fmt.Fprintf(out, "playback_tag:    %q\n", snap.RequestedPlaybackFileName)
		if snap.HasEvent {
			fmt.Fprintf(out, "pending_event:   %s %q\n", snap.Event.Kind, snap.Event.Payload)
		} else {
			fmt.Fprintf(out, "pending_event:   none\n")
		}
		return nil
	},
}

func init() {
	eventCmd.Flags().StringVar(&eventTag, "tag", "", "set requested_playback_file_name before publishing")
}
