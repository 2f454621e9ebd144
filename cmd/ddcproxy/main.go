package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	chlog "github.com/charmbracelet/log"
	"github.com/muesli/termenv"
	"github.com/urfave/cli/v2"

	"github.com/mklimuk/ddcproxy/cmd/ddcproxy/console"
	"github.com/mklimuk/ddcproxy/config"
)

const metaConfig = "config"

func main() {
	os.Exit(run())
}

func run() int {
	app := cli.NewApp()
	app.Name = "ddcproxy"
	app.EnableBashCompletion = true
	app.Version = config.Version
	app.Usage = "DDC/CI interposer between a host and a monitor"
	app.Metadata = map[string]any{}
	app.Flags = []cli.Flag{
		&cli.BoolFlag{
			Name:  "verbose",
			Usage: "enable verbose logging",
		},
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "configuration file",
			Value:   "ddcproxy.yaml",
		},
		&cli.StringFlag{
			Name:  "diag-port",
			Usage: "mirror logs to a serial port (e.g. /dev/ttyGS0)",
		},
		&cli.IntFlag{
			Name:  "diag-baud",
			Usage: "diagnostic serial baud rate",
		},
	}
	var diag io.Closer
	app.Before = func(c *cli.Context) error {
		cfg, err := config.Load(c.String("config"))
		if err != nil {
			return console.Exit(2, "invalid configuration: %s", console.Red(err))
		}
		if c.IsSet("diag-port") {
			cfg.Diagnostics.SerialPort = c.String("diag-port")
		}
		if c.IsSet("diag-baud") {
			cfg.Diagnostics.SerialBaud = c.Int("diag-baud")
		}
		c.App.Metadata[metaConfig] = cfg

		var out io.Writer = os.Stdout
		if cfg.Diagnostics.SerialPort != "" {
			port, err := openDiagPort(cfg.Diagnostics.SerialPort, cfg.Diagnostics.SerialBaud)
			if err != nil {
				return console.Exit(2, "%s", console.Red(err))
			}
			diag = port
			out = io.MultiWriter(os.Stdout, port)
		}
		charm := chlog.NewWithOptions(out, chlog.Options{
			ReportCaller:    true,
			ReportTimestamp: true,
			TimeFormat:      time.DateTime,
		})
		charm.SetColorProfile(termenv.TrueColor)
		charm.SetLevel(chlog.InfoLevel)
		if c.Bool("verbose") {
			charm.SetLevel(chlog.DebugLevel)
		}
		slog.SetDefault(slog.New(charm))
		return nil
	}
	app.After = func(c *cli.Context) error {
		if diag != nil {
			return diag.Close()
		}
		return nil
	}
	app.Commands = cli.Commands{
		&proxyCmd,
		&emulateCmd,
		&edidCmd,
		&capsCmd,
		&vcpCmd,
		&usbCmd,
		&mcp2221Cmd,
		&diagCmd,
		&configCmd,
	}
	err := app.Run(os.Args)
	if err != nil {
		var exerr cli.ExitCoder
		if errors.As(err, &exerr) {
			return exerr.ExitCode()
		}
		console.Errorf("%v", err)
		return 1
	}
	return 0
}

func configFrom(c *cli.Context) (*config.Config, error) {
	cfg, ok := c.App.Metadata[metaConfig].(*config.Config)
	if !ok {
		return nil, fmt.Errorf("configuration not loaded")
	}
	return cfg, nil
}
