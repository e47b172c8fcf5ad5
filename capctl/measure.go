package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/itohio/gocapmeter/pkg/command"
	"github.com/itohio/gocapmeter/pkg/config"
	"github.com/itohio/gocapmeter/pkg/device"
	"github.com/itohio/gocapmeter/pkg/meter"
	"github.com/itohio/gocapmeter/pkg/sample"
)

var errNoReadings = errors.New("no readings received")

func newCapCmd(opts *options) *cobra.Command {
	var (
		count   int
		average int
		timeout time.Duration
	)

	capCmd := &cobra.Command{
		Use:   "cap",
		Short: "Stream capacitance readings",
		Long:  "Switch the meter to capacitance mode and print readings until count readings arrived, the timeout expired or the command is interrupted.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			return opts.withDevice(func(cfg *config.Config, dev device.Device) error {
				if average < 0 {
					average = cfg.Meter.AverageSamples
				}
				if _, err := dev.Send(command.Command{Op: command.OpCapacitance, Verbose: true}); err != nil {
					return err
				}
				return streamReadings(ctx, cmd, cfg, dev, count, average)
			})
		},
	}

	capCmd.Flags().IntVarP(&count, "count", "n", 10, "number of readings to print (0 = until interrupted)")
	capCmd.Flags().IntVarP(&average, "average", "a", -1, "moving average length (0 = disabled, default from config)")
	capCmd.Flags().DurationVarP(&timeout, "timeout", "t", 0, "stop after this duration (0 = no limit)")

	return capCmd
}

func streamReadings(ctx context.Context, cmd *cobra.Command, cfg *config.Config, dev device.Device, count, average int) error {
	var readings <-chan sample.Reading
	if average > 0 {
		readings = sample.NewAveragingConverter(cfg, average, device.DefaultBufferSize)(dev.Reports())
	} else {
		readings = sample.NewConverter(cfg, device.DefaultBufferSize)(dev.Reports())
	}

	m := meter.New(cfg)
	feed := make(chan sample.Reading, device.DefaultBufferSize)
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.ProcessReadings(feed)
	}()

	out := cmd.OutOrStdout()
	start := time.Now()
	n := 0
loop:
	for count == 0 || n < count {
		select {
		case <-ctx.Done():
			break loop
		case r, ok := <-readings:
			if !ok {
				break loop
			}
			feed <- r
			n++
			fmt.Fprintf(out, "%8.2fs  %-12s  R=%-8s  f=%.1f Hz\n",
				r.Timestamp.Sub(start).Seconds(),
				sample.FormatCapacitance(r.Capacitance),
				sample.FormatOhms(r.RangeOhms),
				r.Frequency)
		}
	}
	close(feed)
	<-done

	if n == 0 {
		return errNoReadings
	}

	s := m.Stats()
	settled := "drifting"
	if s.Settled {
		settled = "settled"
	}
	fmt.Fprintf(out, "mean %s  σ %s  drift %s/s  (%d readings, %s)\n",
		sample.FormatCapacitance(s.Mean),
		sample.FormatCapacitance(s.StdDev),
		sample.FormatCapacitance(s.Drift),
		s.Count, settled)
	return nil
}
