// Command capctl drives a capacitance meter from the terminal.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/itohio/gocapmeter/pkg/config"
	"github.com/itohio/gocapmeter/pkg/device"
)

// options are the persistent flags shared by every subcommand.
type options struct {
	configPath string
	port       string
	mock       bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:          "capctl",
		Short:        "Control a capacitance meter",
		Long:         "Send commands to a capacitance meter over its serial port, or to a simulated meter, and stream its readings.",
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "config.yaml", "configuration file path")
	rootCmd.PersistentFlags().StringVarP(&opts.port, "port", "p", "", "serial port override (e.g., COM3 or /dev/ttyACM0)")
	rootCmd.PersistentFlags().BoolVar(&opts.mock, "mock", false, "use a simulated meter instead of the serial port")

	rootCmd.AddCommand(
		newPortsCmd(),
		newPingCmd(opts),
		newVersionCmd(opts),
		newStatusCmd(opts),
		newIdleCmd(opts),
		newRangeCmd(opts),
		newCurrentCmd(opts),
		newBiasCmd(opts),
		newCapCmd(opts),
	)

	return rootCmd
}

// loadConfig loads the configuration and applies the flag overrides.
func (o *options) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.port != "" {
		cfg.Serial.Port = o.port
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// connect opens the configured device. The caller closes it.
func (o *options) connect(cfg *config.Config) (device.Device, error) {
	var dev device.Device
	if o.mock {
		m, err := device.NewMock(cfg)
		if err != nil {
			return nil, err
		}
		dev = m
	} else {
		s := device.New(cfg.Serial.Port, cfg.Serial.Baud, device.DefaultBufferSize)
		s.SetReplyTimeout(cfg.Serial.ReplyTimeout)
		dev = s
	}

	if err := dev.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	return dev, nil
}

// withDevice loads the configuration, connects and runs fn.
func (o *options) withDevice(fn func(cfg *config.Config, dev device.Device) error) error {
	cfg, err := o.loadConfig()
	if err != nil {
		return err
	}
	dev, err := o.connect(cfg)
	if err != nil {
		return err
	}
	defer dev.Close()
	return fn(cfg, dev)
}
