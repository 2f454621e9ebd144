// Package config holds the interposer configuration file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
	"periph.io/x/conn/v3/physic"

	"github.com/mklimuk/ddcproxy/bitbang"
	"github.com/mklimuk/ddcproxy/ddc"
	"github.com/mklimuk/ddcproxy/ddc/transform"
)

// Version is injected at build time.
var Version = "dev"

const (
	DriverPeriph = "periph"
	DriverGobot  = "gobot"
)

type Config struct {
	Driver      string      `yaml:"driver"`
	Host        Bus         `yaml:"host"`
	Monitor     Bus         `yaml:"monitor"`
	Timing      Timing      `yaml:"timing"`
	Retries     Retries     `yaml:"retries"`
	Transform   Transform   `yaml:"transform"`
	Diagnostics Diagnostics `yaml:"diagnostics"`
	Prime       bool        `yaml:"prime"`

	path string
}

// Bus is a pair of pins driven as one I2C bus. Pin names are resolved by the
// line driver (gpioreg names for periph, header pin numbers for gobot).
type Bus struct {
	SDA       string `yaml:"sda"`
	SCL       string `yaml:"scl"`
	Frequency string `yaml:"frequency"`
}

type Timing struct {
	// SampleInterval overrides the slave sampling period; zero means a
	// quarter of the bit delay.
	SampleInterval time.Duration `yaml:"sample_interval"`
	StretchTimeout time.Duration `yaml:"stretch_timeout"`
	ReplyDelay     time.Duration `yaml:"reply_delay"`
	// StretchForward holds the host clock low while a request is forwarded
	// to the monitor.
	StretchForward bool `yaml:"stretch_forward"`
}

type Retries struct {
	Address  int `yaml:"address"`
	Exchange int `yaml:"exchange"`
}

type Transform struct {
	Mode transform.Mode `yaml:"mode"`
	Name string         `yaml:"name"`
	// Seed makes fuzzing reproducible; zero picks a random seed.
	Seed uint64 `yaml:"seed"`
}

type Diagnostics struct {
	SerialPort string `yaml:"serial_port"`
	SerialBaud int    `yaml:"serial_baud"`
	Inspect    string `yaml:"inspect"`
}

func Default() *Config {
	return &Config{
		Driver: DriverPeriph,
		Host: Bus{
			SDA:       "GPIO12",
			SCL:       "GPIO11",
			Frequency: "100kHz",
		},
		Monitor: Bus{
			SDA:       "GPIO203",
			SCL:       "GPIO198",
			Frequency: "50kHz",
		},
		Timing: Timing{
			StretchTimeout: bitbang.DefaultStretchTimeout,
			ReplyDelay:     ddc.DefaultReplyDelay,
		},
		Retries: Retries{
			Address:  ddc.DefaultAddressRetries,
			Exchange: ddc.DefaultExchangeRetries,
		},
		Transform: Transform{
			Mode: transform.ModeNone,
			Name: transform.DefaultName,
		},
		Diagnostics: Diagnostics{
			SerialBaud: 115200,
		},
	}
}

// Load reads the file at path over the defaults and applies environment
// overrides. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	cfg.path = path
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			slog.Info("no config file, using defaults", "path", path)
		case err != nil:
			return nil, fmt.Errorf("could not read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("could not parse config %s: %w", path, err)
			}
			slog.Debug("config loaded", "path", path)
		}
	}
	cfg.applyEnvOverrides()
	return cfg, cfg.Validate()
}

// applyEnvOverrides reads the DDCPROXY_DRIVER, DDCPROXY_TRANSFORM,
// DDCPROXY_SERIAL_PORT, DDCPROXY_SERIAL_BAUD and DDCPROXY_INSPECT variables.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("DDCPROXY_DRIVER"); v != "" {
		c.Driver = v
	}
	if v := os.Getenv("DDCPROXY_TRANSFORM"); v != "" {
		c.Transform.Mode = transform.Mode(v)
	}
	if v := os.Getenv("DDCPROXY_SERIAL_PORT"); v != "" {
		c.Diagnostics.SerialPort = v
	}
	if v := os.Getenv("DDCPROXY_SERIAL_BAUD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Diagnostics.SerialBaud = n
		}
	}
	if v := os.Getenv("DDCPROXY_INSPECT"); v != "" {
		c.Diagnostics.Inspect = v
	}
}

func (c *Config) Validate() error {
	var errs []error
	if c.Driver != DriverPeriph && c.Driver != DriverGobot {
		errs = append(errs, fmt.Errorf("unknown line driver %q", c.Driver))
	}
	for name, bus := range map[string]Bus{"host": c.Host, "monitor": c.Monitor} {
		if bus.SDA == "" || bus.SCL == "" {
			errs = append(errs, fmt.Errorf("%s bus needs both sda and scl pins", name))
		}
		if bus.SDA != "" && bus.SDA == bus.SCL {
			errs = append(errs, fmt.Errorf("%s bus uses pin %s twice", name, bus.SDA))
		}
		if _, err := bus.Freq(); err != nil {
			errs = append(errs, fmt.Errorf("%s bus: %w", name, err))
		}
	}
	if c.Timing.SampleInterval < 0 || c.Timing.StretchTimeout < 0 || c.Timing.ReplyDelay < 0 {
		errs = append(errs, errors.New("timings must not be negative"))
	}
	if c.Retries.Address < 1 || c.Retries.Exchange < 1 {
		errs = append(errs, errors.New("retries must be at least 1"))
	}
	if _, err := transform.New(c.Transform.Mode); err != nil {
		errs = append(errs, err)
	}
	if c.Diagnostics.SerialPort != "" && c.Diagnostics.SerialBaud <= 0 {
		errs = append(errs, fmt.Errorf("invalid serial baud rate %d", c.Diagnostics.SerialBaud))
	}
	return errors.Join(errs...)
}

// Freq parses the bus frequency ("100kHz").
func (b Bus) Freq() (physic.Frequency, error) {
	var f physic.Frequency
	if err := f.Set(b.Frequency); err != nil {
		return 0, fmt.Errorf("invalid frequency %q: %w", b.Frequency, err)
	}
	if f <= 0 {
		return 0, fmt.Errorf("invalid frequency %q", b.Frequency)
	}
	return f, nil
}

// TransformFunc builds the configured EDID transform.
func (c *Config) TransformFunc() (transform.Func, error) {
	opts := []transform.Opt{transform.WithName(c.Transform.Name)}
	if c.Transform.Seed != 0 {
		opts = append(opts, transform.WithSeed(c.Transform.Seed))
	}
	return transform.New(c.Transform.Mode, opts...)
}

// Save writes the configuration back to the file it was loaded from.
func (c *Config) Save() error {
	if c.path == "" {
		return errors.New("config has no file path")
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("could not encode config: %w", err)
	}
	if err := os.WriteFile(c.path, data, 0o644); err != nil {
		return fmt.Errorf("could not write config: %w", err)
	}
	return nil
}

func (c *Config) Path() string {
	return c.path
}
