// Package config loads softwlan settings from defaults, a config file and
// SOFTWLAN_* environment variables.
//
// Priority: flags bound by the caller > environment > config file > defaults.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/multierr"

	"github.com/ardnew/softwlan/driver"
	"github.com/ardnew/softwlan/pkg"
	"github.com/ardnew/softwlan/sched"
)

// EnvPrefix prefixes every environment override, e.g.
// SOFTWLAN_SCHEDULER_CAPACITY.
const EnvPrefix = "SOFTWLAN"

// Config holds all softwlan settings.
type Config struct {
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Handshake HandshakeConfig `mapstructure:"handshake"`
	DataPath  DataPathConfig  `mapstructure:"datapath"`
	Firmware  FirmwareConfig  `mapstructure:"firmware"`
	Log       LogConfig       `mapstructure:"log"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// SchedulerConfig holds message scheduler settings.
type SchedulerConfig struct {
	// Capacity is the number of message envelopes (default: 512)
	Capacity int `mapstructure:"capacity"`

	// StarvationLimit is the number of consecutive failed posts treated as
	// fatal (default: 0, meaning 3 * capacity)
	StarvationLimit uint64 `mapstructure:"starvation_limit"`

	// EnableRX creates the receive flow (default: false, received frames
	// use the control flow)
	EnableRX bool `mapstructure:"enable_rx"`
}

// HandshakeConfig holds handshake timeouts.
type HandshakeConfig struct {
	StartTimeout time.Duration `mapstructure:"start_timeout"`
	StopTimeout  time.Duration `mapstructure:"stop_timeout"`
	ProbeTimeout time.Duration `mapstructure:"probe_timeout"`

	// DefaultTimeout applies to handshakes without their own timeout
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// DataPathConfig holds frame path settings.
type DataPathConfig struct {
	// SendRetry retries sends while envelopes are exhausted
	SendRetry bool `mapstructure:"send_retry"`

	// SendRetryMax bounds the retry time of one send
	SendRetryMax time.Duration `mapstructure:"send_retry_max"`

	// Frames is the number of pooled frame buffers (default: 0, meaning the
	// scheduler capacity)
	Frames int `mapstructure:"frames"`

	// BusDepth is the loopback bus buffer depth in frames
	BusDepth int `mapstructure:"bus_depth"`
}

// FirmwareConfig holds firmware settings.
type FirmwareConfig struct {
	// Path of the firmware image. Empty uses a built-in test image.
	Path string `mapstructure:"path"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // text, json
}

// MetricsConfig holds the metrics endpoint settings.
type MetricsConfig struct {
	// Addr is the listen address of the /metrics endpoint. Empty disables it.
	Addr string `mapstructure:"addr"`
}

// SetDefaults registers every key with its default value on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("scheduler.capacity", sched.DefaultCapacity)
	v.SetDefault("scheduler.starvation_limit", 0)
	v.SetDefault("scheduler.enable_rx", false)

	v.SetDefault("handshake.start_timeout", driver.DefaultStartTimeout)
	v.SetDefault("handshake.stop_timeout", driver.DefaultStopTimeout)
	v.SetDefault("handshake.probe_timeout", driver.DefaultProbeTimeout)
	v.SetDefault("handshake.default_timeout", sched.DefaultHandshakeTimeout)

	v.SetDefault("datapath.send_retry", false)
	v.SetDefault("datapath.send_retry_max", time.Second)
	v.SetDefault("datapath.frames", 0)
	v.SetDefault("datapath.bus_depth", 256)

	v.SetDefault("firmware.path", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("metrics.addr", "")
}

// Default returns the default configuration.
func Default() *Config {
	v := viper.New()
	SetDefaults(v)
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		// Defaults are static; failing to decode them is a programming error.
		panic(err)
	}
	return &c
}

// Load reads path (if non-empty) over the defaults and applies environment
// overrides. If v is nil a fresh instance is used; pass a shared one to
// honor flags bound with v.BindPFlag.
func Load(path string, v *viper.Viper) (*Config, error) {
	if v == nil {
		v = viper.New()
	}
	SetDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		pkg.LogDebug(pkg.ComponentConfig, "config file loaded", "path", v.ConfigFileUsed())
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var err error
	invalid := func(format string, args ...any) {
		err = multierr.Append(err, fmt.Errorf("%w: "+format, append([]any{pkg.ErrInvalidParameter}, args...)...))
	}

	if c.Scheduler.Capacity <= 0 {
		invalid("scheduler.capacity %d", c.Scheduler.Capacity)
	}
	if c.Handshake.StartTimeout <= 0 {
		invalid("handshake.start_timeout %s", c.Handshake.StartTimeout)
	}
	if c.Handshake.StopTimeout <= 0 {
		invalid("handshake.stop_timeout %s", c.Handshake.StopTimeout)
	}
	if c.Handshake.ProbeTimeout <= 0 {
		invalid("handshake.probe_timeout %s", c.Handshake.ProbeTimeout)
	}
	if c.Handshake.DefaultTimeout <= 0 {
		invalid("handshake.default_timeout %s", c.Handshake.DefaultTimeout)
	}
	if c.DataPath.Frames < 0 {
		invalid("datapath.frames %d", c.DataPath.Frames)
	}
	if c.DataPath.BusDepth <= 0 {
		invalid("datapath.bus_depth %d", c.DataPath.BusDepth)
	}
	if c.DataPath.SendRetry && c.DataPath.SendRetryMax <= 0 {
		invalid("datapath.send_retry_max %s", c.DataPath.SendRetryMax)
	}
	if _, ok := pkg.ParseLogLevel(c.Log.Level); !ok {
		invalid("log.level %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		invalid("log.format %q", c.Log.Format)
	}
	return err
}

// SchedulerConfig converts the settings into a scheduler configuration.
func (c *Config) SchedulerConfig() sched.Config {
	return sched.Config{
		Capacity:         c.Scheduler.Capacity,
		StarvationLimit:  c.Scheduler.StarvationLimit,
		EnableRX:         c.Scheduler.EnableRX,
		HandshakeTimeout: c.Handshake.DefaultTimeout,
	}
}

// DriverConfig converts the settings into a driver configuration carrying
// image as the firmware.
func (c *Config) DriverConfig(image []byte) driver.Config {
	return driver.Config{
		Sched:         c.SchedulerConfig(),
		StartTimeout:  c.Handshake.StartTimeout,
		StopTimeout:   c.Handshake.StopTimeout,
		ProbeTimeout:  c.Handshake.ProbeTimeout,
		FirmwareImage: image,
		Frames:        c.DataPath.Frames,
		SendRetry:     c.DataPath.SendRetry,
		Retry:         sched.RetryPolicy{MaxElapsed: c.DataPath.SendRetryMax},
	}
}

// ApplyLogging configures the package logger from the log settings.
func (c *Config) ApplyLogging() error {
	level, ok := pkg.ParseLogLevel(c.Log.Level)
	if !ok {
		return fmt.Errorf("%w: log level %q", pkg.ErrInvalidParameter, c.Log.Level)
	}
	pkg.SetLogFormat(pkg.ParseLogFormat(strings.ToLower(c.Log.Format)))
	pkg.SetLogLevel(level)
	return nil
}
