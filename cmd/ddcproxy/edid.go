package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/mklimuk/ddcproxy"
	"github.com/mklimuk/ddcproxy/adapter"
	"github.com/mklimuk/ddcproxy/cmd/ddcproxy/console"
	"github.com/mklimuk/ddcproxy/ddc"
	"github.com/mklimuk/ddcproxy/i2c"
)

const (
	adapterPins    = "pins"
	adapterLinux   = "linux"
	adapterMCP2221 = "mcp2221"
)

var edidCmd = cli.Command{
	Name:  "edid",
	Usage: "read, decode and rewrite edid records",
	Subcommands: cli.Commands{
		&edidReadCmd,
		&edidInfoCmd,
		&edidTransformCmd,
	},
}

var outputFlags = []cli.Flag{
	&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "output file, stdout when empty"},
	&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Usage: "bin, hex, dump or yaml", Value: "dump"},
}

var edidReadCmd = cli.Command{
	Name:  "read",
	Usage: "read the monitor edid",
	Flags: append([]cli.Flag{
		&cli.StringFlag{Name: "adapter", Aliases: []string{"a"}, Usage: "pins, linux or mcp2221", Value: adapterPins},
		&cli.StringFlag{Name: "bus", Usage: "i2c bus for the linux adapter", Value: "/dev/i2c-1"},
	}, outputFlags...),
	Action: func(c *cli.Context) error {
		cfg, err := configFrom(c)
		if err != nil {
			return err
		}
		var edid ddc.EDID
		switch c.String("adapter") {
		case adapterPins:
			hw, err := openBoard(cfg)
			if err != nil {
				return console.Exit(1, "board init failed: %s", console.Red(err))
			}
			defer hw.Close()
			monitor, err := hw.monitor()
			if err != nil {
				return console.Exit(1, "%s", console.Red(err))
			}
			edid, err = monitor.ReadEDID(c.Context)
			if err != nil {
				return console.Exit(1, "%s", console.Red(err))
			}
		case adapterLinux:
			bus, err := i2c.NewGenericBus(c.String("bus"))
			if err != nil {
				return console.Exit(1, "%s", console.Red(err))
			}
			defer bus.Close()
			if edid, err = readOverBus(c.Context, bus); err != nil {
				return err
			}
		case adapterMCP2221:
			if edid, err = readOverBus(c.Context, adapter.NewMCP2221()); err != nil {
				return err
			}
		default:
			return console.Exit(2, "unknown adapter %q", c.String("adapter"))
		}
		return writeEDID(edid, c.String("format"), c.String("out"))
	},
}

func readOverBus(ctx context.Context, bus ddcproxy.I2CBus) (ddc.EDID, error) {
	edid, err := ddc.ReadEDIDBus(ctx, bus)
	if err != nil {
		return edid, console.Exit(1, "%s", console.Red(err))
	}
	return edid, nil
}

var edidInfoCmd = cli.Command{
	Name:      "info",
	Usage:     "decode an edid file",
	ArgsUsage: "<edid file>",
	Action: func(c *cli.Context) error {
		edid, err := readEDIDFile(c.Args().First())
		if err != nil {
			return console.Exit(1, "%s", console.Red(err))
		}
		if !edid.HeaderOK() {
			console.Warnf("edid header is wrong")
		}
		if !edid.ChecksumOK() {
			console.Warnf("edid checksum is wrong, expected %#02x", edid.Checksum())
		}
		return writeEDID(edid, "yaml", "")
	},
}

var edidTransformCmd = cli.Command{
	Name:      "transform",
	Usage:     "apply a proxy transform to an edid file",
	ArgsUsage: "<edid file>",
	Flags:     append(append([]cli.Flag{}, transformFlags...), outputFlags...),
	Action: func(c *cli.Context) error {
		cfg, err := configFrom(c)
		if err != nil {
			return err
		}
		applyTransformFlags(c, cfg)
		edid, err := readEDIDFile(c.Args().First())
		if err != nil {
			return console.Exit(1, "%s", console.Red(err))
		}
		tf, err := cfg.TransformFunc()
		if err != nil {
			return console.Exit(2, "%s", console.Red(err))
		}
		out := tf(edid)
		console.PInfof(console.PictoDice, "%s: %d bytes changed, checksum %s",
			cfg.Transform.Mode, changed(edid, out), console.Bool(out.ChecksumOK()))
		return writeEDID(out, c.String("format"), c.String("out"))
	},
}

func changed(a, b ddc.EDID) int {
	n := 0
	for i := range a {
		if a[i] != b[i] {
			n++
		}
	}
	return n
}

// readEDIDFile loads a raw 128 byte record or a hex dump.
func readEDIDFile(path string) (ddc.EDID, error) {
	if path == "" {
		return ddc.EDID{}, fmt.Errorf("edid file is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ddc.EDID{}, fmt.Errorf("could not read edid file: %w", err)
	}
	if len(data) == ddc.EDIDSize {
		return ddc.ParseEDID(data)
	}
	return ddc.ParseEDIDHex(string(data))
}

// readCaps takes a capability string literally or from a file with @path.
func readCaps(arg string) (string, error) {
	if !strings.HasPrefix(arg, "@") {
		return arg, nil
	}
	data, err := os.ReadFile(filepath.Clean(arg[1:]))
	if err != nil {
		return "", fmt.Errorf("could not read capability file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func writeEDID(edid ddc.EDID, format, out string) error {
	var data []byte
	switch format {
	case "bin":
		data = edid[:]
	case "hex":
		data = []byte(edid.Hex() + "\n")
	case "dump":
		data = []byte(edid.Dump())
	case "yaml":
		var err error
		if data, err = yaml.Marshal(edid.Info()); err != nil {
			return console.Exit(1, "encoding error: %s", console.Red(err))
		}
	default:
		return console.Exit(2, "unknown format %q", format)
	}
	if out == "" {
		console.Printf("%s", data)
		return nil
	}
	if err := os.WriteFile(out, data, 0o644); err != nil {
		return console.Exit(1, "could not write %s: %s", out, console.Red(err))
	}
	console.PInfof(console.PictoNotebook, "edid written to %s", console.White(out))
	return nil
}
