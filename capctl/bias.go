package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/itohio/gocapmeter/pkg/command"
	"github.com/itohio/gocapmeter/pkg/config"
	"github.com/itohio/gocapmeter/pkg/device"
)

func newBiasCmd(opts *options) *cobra.Command {
	biasCmd := &cobra.Command{
		Use:   "bias",
		Short: "Control the bias voltage",
	}

	setCmd := &cobra.Command{
		Use:   "set <mv>",
		Short: "Charge the device under test to mv millivolts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mv, err := strconv.ParseUint(args[0], 10, 16)
			if err != nil {
				return fmt.Errorf("invalid bias %q: %w", args[0], err)
			}
			return sendBias(cmd, opts, command.Command{Op: command.OpBias, Mv: uint16(mv)})
		},
	}

	offCmd := &cobra.Command{
		Use:   "off",
		Short: "Quench the bias voltage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return sendBias(cmd, opts, command.Command{Op: command.OpQuench})
		},
	}

	biasCmd.AddCommand(setCmd, offCmd)
	return biasCmd
}

// sendBias prints OK B|Q <status> <measured mv>.
func sendBias(cmd *cobra.Command, opts *options, c command.Command) error {
	return opts.withDevice(func(_ *config.Config, dev device.Device) error {
		r, err := dev.Send(c)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s at %s mV\n", r.Arg(0), r.Arg(1))
		return nil
	})
}
