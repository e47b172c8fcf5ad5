package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/itohio/gocapmeter/pkg/command"
	"github.com/itohio/gocapmeter/pkg/config"
	"github.com/itohio/gocapmeter/pkg/device"
	"github.com/itohio/gocapmeter/pkg/hal"
)

func newPortsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ports",
		Short: "List serial ports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ports, err := device.Ports()
			if err != nil {
				return err
			}
			for _, p := range ports {
				fmt.Fprintln(cmd.OutOrStdout(), p.Name)
			}
			return nil
		},
	}
}

// simpleCmd sends one argument-less command and prints the reply.
func simpleCmd(opts *options, use, short string, op command.Op, format func(r command.Reply) string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withDevice(func(_ *config.Config, dev device.Device) error {
				r, err := dev.Send(command.Command{Op: op})
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), format(r))
				return nil
			})
		},
	}
}

func newPingCmd(opts *options) *cobra.Command {
	return simpleCmd(opts, "ping", "Check that the meter answers", command.OpPing,
		func(command.Reply) string { return "pong" })
}

func newVersionCmd(opts *options) *cobra.Command {
	return simpleCmd(opts, "version", "Print the firmware version", command.OpVersion,
		func(r command.Reply) string { return r.Arg(0) })
}

func newIdleCmd(opts *options) *cobra.Command {
	return simpleCmd(opts, "idle", "Stop measuring", command.OpIdle,
		func(command.Reply) string { return "idle" })
}

func newStatusCmd(opts *options) *cobra.Command {
	return simpleCmd(opts, "status", "Print the meter state", command.OpStatus, formatStatus)
}

// formatStatus renders OK S <mode> <phase> <source> <requested> <measured> <range>.
func formatStatus(r command.Reply) string {
	return fmt.Sprintf("mode:     %s\nphase:    %s\nsource:   %s\nbias:     %s mV (requested %s mV)\nrange:    %s",
		r.Arg(0), r.Arg(1), r.Arg(2), r.Arg(4), r.Arg(3), r.Arg(5))
}

func newRangeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "range <index>",
		Short: "Lock the capacitance resistor range",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			idx, err := strconv.ParseUint(args[0], 10, 8)
			if err != nil {
				return fmt.Errorf("invalid range %q: %w", args[0], err)
			}
			return opts.withDevice(func(cfg *config.Config, dev device.Device) error {
				r, err := dev.Send(command.Command{Op: command.OpRange, Range: uint8(idx)})
				if err != nil {
					return err
				}
				ranges := cfg.Instrument.Capacitance.Ranges
				if int(idx) < len(ranges) {
					fmt.Fprintf(cmd.OutOrStdout(), "range %s: %d Ω\n", r.Arg(0), ranges[idx].Ohms)
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "range %s\n", r.Arg(0))
				}
				return nil
			})
		},
	}
}

func newCurrentCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "current [gain] [shift]",
		Short: "Read the leakage current ADC code",
		Long:  "Read the leakage current ADC code. gain is a power of two (0 to 6) and 1<<shift conversions are averaged; without arguments the device uses its configured defaults and a missing shift comes from the configuration.",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withDevice(func(cfg *config.Config, dev device.Device) error {
				c := command.Command{Op: command.OpCurrent, Defaults: true}
				if len(args) > 0 {
					g, err := strconv.ParseUint(args[0], 10, 8)
					if err != nil || hal.Gain(g) > hal.MaxGain {
						return fmt.Errorf("invalid gain %q", args[0])
					}
					c.Defaults = false
					c.Gain = uint8(g)
					c.Shift = cfg.Instrument.Current.Shift
				}
				if len(args) > 1 {
					s, err := strconv.ParseUint(args[1], 10, 8)
					if err != nil {
						return fmt.Errorf("invalid shift %q: %w", args[1], err)
					}
					c.Shift = uint8(s)
				}

				r, err := dev.Send(c)
				if err != nil {
					return err
				}
				if c.Defaults {
					fmt.Fprintf(cmd.OutOrStdout(), "code %s (device gain)\n", r.Arg(0))
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "code %s (gain %dx)\n", r.Arg(0), hal.Gain(c.Gain).Factor())
				}
				return nil
			})
		},
	}
}
