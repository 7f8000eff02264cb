package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/myotronics/k7sweep/internal/sensor"
)

var (
	handshakeSimulate bool
	listPorts         bool
)

var handshakeCmd = &cobra.Command{
	Use:   "handshake",
	Short: "Identify the sensor on the configured port",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		if listPorts {
			ports, err := sensor.ListPorts()
			if err != nil {
				return err
			}
			for _, p := range ports {
				fmt.Fprintln(out, p)
			}
			return nil
		}

		var port sensor.Port
		if handshakeSimulate {
			port = sensor.NewSimulatedSensor()
		} else {
			p, err := sensor.Open(cfg.Serial.Port, sensor.PortOptions{Slow: cfg.Serial.SlowBaud, ReadTimeout: serialReadTimeout})
			if err != nil {
				return err
			}
			port = p
		}
		defer port.Close()

		reply, err := sensor.Handshake(port)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, reply)
		return nil
	},
}

func init() {
	handshakeCmd.Flags().BoolVar(&handshakeSimulate, "simulate", false, "talk to a simulated sensor")
	handshakeCmd.Flags().BoolVar(&listPorts, "list", false, "list serial ports and exit")
}
