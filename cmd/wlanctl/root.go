package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ardnew/softwlan/config"
	"github.com/ardnew/softwlan/driver"
	"github.com/ardnew/softwlan/hal/loopback"
	"github.com/ardnew/softwlan/pkg"
)

// loopbackFirmware is downloaded when no firmware path is configured.
var loopbackFirmware = []byte("softwlan loopback firmware")

// app is the state shared by the subcommands of one invocation.
type app struct {
	v       *viper.Viper
	cfgFile string
	cfg     *config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:           "wlanctl",
		Short:         "Exercise the softwlan control plane",
		Long:          `wlanctl brings up a softwlan driver on the loopback bus and drives traffic, probes and power transitions through its message scheduler.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (yaml, toml or json)")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", "text", "log format (text, json)")
	flags.Int("capacity", 0, "message envelopes (0 = config)")
	flags.Bool("enable-rx", false, "run a dedicated receive flow")

	_ = a.v.BindPFlag("log.level", flags.Lookup("log-level"))
	_ = a.v.BindPFlag("log.format", flags.Lookup("log-format"))
	_ = a.v.BindPFlag("scheduler.enable_rx", flags.Lookup("enable-rx"))

	root.AddCommand(
		newRunCmd(a),
		newProbeCmd(a),
		newConfigCmd(a),
		newVersionCmd(),
	)
	return root
}

// load reads the configuration and applies the log settings.
func (a *app) load() error {
	cfg, err := config.Load(a.cfgFile, a.v)
	if err != nil {
		return err
	}
	if err := cfg.ApplyLogging(); err != nil {
		return err
	}
	a.cfg = cfg
	return nil
}

// capacity applies the --capacity flag, which only overrides when set.
func (a *app) capacity(cmd *cobra.Command) {
	if n, _ := cmd.Flags().GetInt("capacity"); n > 0 {
		a.cfg.Scheduler.Capacity = n
	}
}

// firmware returns the configured firmware image.
func (a *app) firmware() ([]byte, error) {
	if a.cfg.Firmware.Path == "" {
		return loopbackFirmware, nil
	}
	image, err := os.ReadFile(a.cfg.Firmware.Path)
	if err != nil {
		return nil, fmt.Errorf("read firmware: %w", err)
	}
	return image, nil
}

// newDriver builds a driver over loopback collaborators.
func (a *app) newDriver(opts ...driver.Option) (*driver.Driver, *loopback.Bus, error) {
	image, err := a.firmware()
	if err != nil {
		return nil, nil, err
	}
	dc := a.cfg.DriverConfig(image)
	dc.Sched.OnFault = func(err error) {
		pkg.LogError(pkg.ComponentCLI, "driver fault", "error", err)
	}
	bus := loopback.NewBus(a.cfg.DataPath.BusDepth)
	d, err := driver.New(dc, bus, loopback.NewFirmware(), loopback.NewPower(), opts...)
	if err != nil {
		return nil, nil, err
	}
	return d, bus, nil
}
