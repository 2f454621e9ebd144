package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/mklimuk/ddcproxy/cmd/ddcproxy/console"
	"github.com/mklimuk/ddcproxy/config"
	"github.com/mklimuk/ddcproxy/ddc/transform"
	"github.com/mklimuk/ddcproxy/inspect"
	"github.com/mklimuk/ddcproxy/proxy"
)

var transformFlags = []cli.Flag{
	&cli.StringFlag{Name: "transform", Aliases: []string{"t"}, Usage: "edid transform: none, fake-name, fuzz-byte, fuzz-body"},
	&cli.StringFlag{Name: "name", Usage: "monitor name used by fake-name"},
	&cli.Uint64Flag{Name: "seed", Usage: "fuzzing seed, 0 picks one"},
}

// applyTransformFlags lets flags override the configured transform.
func applyTransformFlags(c *cli.Context, cfg *config.Config) {
	if c.IsSet("transform") {
		cfg.Transform.Mode = transform.Mode(c.String("transform"))
	}
	if c.IsSet("name") {
		cfg.Transform.Name = c.String("name")
	}
	if c.IsSet("seed") {
		cfg.Transform.Seed = c.Uint64("seed")
	}
}

var proxyCmd = cli.Command{
	Name:  "proxy",
	Usage: "run the interposer between host and monitor",
	Flags: append([]cli.Flag{
		&cli.BoolFlag{Name: "prime", Usage: "read the monitor edid before serving the host"},
		&cli.StringFlag{Name: "inspect", Usage: "serve live events over websocket on this address (e.g. :8080)"},
		&cli.BoolFlag{Name: "stretch", Usage: "hold the host clock while forwarding requests to the monitor"},
		&cli.BoolFlag{Name: "yes", Aliases: []string{"y"}, Usage: "do not ask for confirmation"},
	}, transformFlags...),
	Action: func(c *cli.Context) error {
		cfg, err := configFrom(c)
		if err != nil {
			return err
		}
		applyTransformFlags(c, cfg)
		if c.IsSet("stretch") {
			cfg.Timing.StretchForward = c.Bool("stretch")
		}
		if c.IsSet("prime") {
			cfg.Prime = c.Bool("prime")
		}
		if c.IsSet("inspect") {
			cfg.Diagnostics.Inspect = c.String("inspect")
		}
		if err := cfg.Validate(); err != nil {
			return console.Exit(2, "invalid configuration: %s", console.Red(err))
		}
		if cfg.Transform.Mode == transform.ModeFuzzBody && !c.Bool("yes") {
			ok, err := console.Confirm("fuzz-body sends the host a random EDID, continue?")
			if err != nil || !ok {
				return console.Exit(1, "aborted")
			}
		}
		tf, err := cfg.TransformFunc()
		if err != nil {
			return console.Exit(2, "%s", console.Red(err))
		}

		hw, err := openBoard(cfg)
		if err != nil {
			return console.Exit(1, "board init failed: %s", console.Red(err))
		}
		defer hw.Close()
		host, err := hw.host()
		if err != nil {
			return console.Exit(1, "%s", console.Red(err))
		}
		monitor, err := hw.monitor()
		if err != nil {
			return console.Exit(1, "%s", console.Red(err))
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		p := proxy.New(host, monitor, append(observe(ctx, cfg),
			proxy.WithTransform(tf),
			proxy.WithClockStretch(cfg.Timing.StretchForward))...)
		if cfg.Prime {
			if err := p.Prime(ctx); err != nil {
				console.Warnf("could not prime edid cache, the host gets the placeholder first: %v", err)
			}
		}
		console.PInfof(console.PictoMonitor, "proxying %s <-> %s (transform %s)",
			console.White(host), console.White(cfg.Monitor.SDA+"/"+cfg.Monitor.SCL), console.Cyan(cfg.Transform.Mode))
		return finish(p, p.Run(ctx))
	},
}

var emulateCmd = cli.Command{
	Name:      "emulate",
	Usage:     "serve an edid file to the host as a fake monitor",
	ArgsUsage: "<edid file>",
	Flags: append([]cli.Flag{
		&cli.StringFlag{Name: "caps", Usage: "capability string or @file"},
		&cli.StringFlag{Name: "inspect", Usage: "serve live events over websocket on this address"},
	}, transformFlags...),
	Action: func(c *cli.Context) error {
		cfg, err := configFrom(c)
		if err != nil {
			return err
		}
		applyTransformFlags(c, cfg)
		if c.IsSet("inspect") {
			cfg.Diagnostics.Inspect = c.String("inspect")
		}
		edid, err := readEDIDFile(c.Args().First())
		if err != nil {
			return console.Exit(1, "%s", console.Red(err))
		}
		caps, err := readCaps(c.String("caps"))
		if err != nil {
			return console.Exit(1, "%s", console.Red(err))
		}
		tf, err := cfg.TransformFunc()
		if err != nil {
			return console.Exit(2, "%s", console.Red(err))
		}
		static := proxy.NewStatic(edid, caps, map[byte]proxy.VCPValue{
			0x10: {Max: 100, Current: 75}, // luminance
			0x12: {Max: 100, Current: 50}, // contrast
		})

		hw, err := openBoard(cfg)
		if err != nil {
			return console.Exit(1, "board init failed: %s", console.Red(err))
		}
		defer hw.Close()
		host, err := hw.host()
		if err != nil {
			return console.Exit(1, "%s", console.Red(err))
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		p := proxy.New(host, static, append(observe(ctx, cfg), proxy.WithTransform(tf))...)
		if err := p.Prime(ctx); err != nil {
			return console.Exit(1, "%s", console.Red(err))
		}
		served, _ := p.EDID()
		console.PInfof(console.PictoGhost, "emulating %s on %s", console.White(served.Info().Name), console.White(host))
		return finish(p, p.Run(ctx))
	},
}

// observe starts the inspector when one is configured.
func observe(ctx context.Context, cfg *config.Config) []proxy.Opt {
	if cfg.Diagnostics.Inspect == "" {
		return nil
	}
	hub := inspect.NewHub()
	go func() {
		if err := hub.Serve(ctx, cfg.Diagnostics.Inspect); err != nil {
			slog.Error("inspector stopped", "error", err)
		}
	}()
	return []proxy.Opt{proxy.WithObserver(hub)}
}

// finish prints the proxy statistics and maps the loop error.
func finish(p *proxy.Proxy, err error) error {
	console.PInfof(console.PictoFinish, "proxy stopped")
	enc := yaml.NewEncoder(console.Output())
	_ = enc.Encode(p.Stats())
	_ = enc.Close()
	if err != nil && !errors.Is(err, context.Canceled) {
		return console.Exit(1, "proxy loop failed: %s", console.Red(err))
	}
	return nil
}
