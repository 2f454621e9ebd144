package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/physic"

	"github.com/mklimuk/ddcproxy/ddc"
	"github.com/mklimuk/ddcproxy/ddc/transform"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	f, err := cfg.Host.Freq()
	require.NoError(t, err)
	assert.Equal(t, 100*physic.KiloHertz, f)
	assert.Equal(t, 3, cfg.Retries.Address)
	assert.Equal(t, 40*time.Millisecond, cfg.Timing.ReplyDelay)
	assert.Equal(t, transform.ModeNone, cfg.Transform.Mode)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ddcproxy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
driver: gobot
host:
  sda: "3"
  scl: "5"
  frequency: 50kHz
timing:
  reply_delay: 50ms
  stretch_forward: true
transform:
  mode: fake-name
  name: probe
  seed: 9
diagnostics:
  inspect: ":8080"
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DriverGobot, cfg.Driver)
	assert.Equal(t, "3", cfg.Host.SDA)
	assert.Equal(t, "50kHz", cfg.Host.Frequency)
	assert.Equal(t, "GPIO203", cfg.Monitor.SDA, "defaults survive partial files")
	assert.Equal(t, 50*time.Millisecond, cfg.Timing.ReplyDelay)
	assert.True(t, cfg.Timing.StretchForward)
	assert.Equal(t, ":8080", cfg.Diagnostics.Inspect)
	assert.Equal(t, path, cfg.Path())

	fn, err := cfg.TransformFunc()
	require.NoError(t, err)
	assert.Equal(t, "probe", fn(ddc.Placeholder()).Info().Name)
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Host, cfg.Host)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("DDCPROXY_TRANSFORM", "fuzz-byte")
	t.Setenv("DDCPROXY_SERIAL_PORT", "/dev/ttyACM0")
	t.Setenv("DDCPROXY_SERIAL_BAUD", "9600")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, transform.ModeFuzzByte, cfg.Transform.Mode)
	assert.Equal(t, "/dev/ttyACM0", cfg.Diagnostics.SerialPort)
	assert.Equal(t, 9600, cfg.Diagnostics.SerialBaud)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("host: [\n"), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"driver", func(c *Config) { c.Driver = "wiringpi" }},
		{"missing pin", func(c *Config) { c.Host.SCL = "" }},
		{"same pin", func(c *Config) { c.Monitor.SCL = c.Monitor.SDA }},
		{"frequency", func(c *Config) { c.Monitor.Frequency = "fast" }},
		{"negative timing", func(c *Config) { c.Timing.StretchTimeout = -time.Millisecond }},
		{"retries", func(c *Config) { c.Retries.Exchange = 0 }},
		{"transform", func(c *Config) { c.Transform.Mode = "scramble" }},
		{"baud", func(c *Config) {
			c.Diagnostics.SerialPort = "/dev/ttyUSB0"
			c.Diagnostics.SerialBaud = 0
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ddcproxy.yaml")
	cfg, err := Load(path)
	require.NoError(t, err)
	cfg.Transform.Mode = transform.ModeFuzzBody
	cfg.Timing.StretchForward = true
	require.NoError(t, cfg.Save())

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, transform.ModeFuzzBody, loaded.Transform.Mode)
	assert.Equal(t, cfg.Timing, loaded.Timing)

	assert.Error(t, Default().Save())
}
