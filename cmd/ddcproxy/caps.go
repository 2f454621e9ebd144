package main

import (
	"fmt"
	"strconv"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/ddcproxy"
	"github.com/mklimuk/ddcproxy/cmd/ddcproxy/console"
)

var capsCmd = cli.Command{
	Name:  "caps",
	Usage: "fetch the monitor capability string",
	Flags: []cli.Flag{
		&cli.BoolFlag{Name: "fragments", Usage: "list the fragment offsets"},
	},
	Action: func(c *cli.Context) error {
		cfg, err := configFrom(c)
		if err != nil {
			return err
		}
		hw, err := openBoard(cfg)
		if err != nil {
			return console.Exit(1, "board init failed: %s", console.Red(err))
		}
		defer hw.Close()
		monitor, err := hw.monitor()
		if err != nil {
			return console.Exit(1, "%s", console.Red(err))
		}
		caps, err := monitor.Capabilities(c.Context)
		if err != nil {
			return console.Exit(1, "%s", console.Red(err))
		}
		if !caps.Complete() {
			console.Warnf("capability string is incomplete")
		}
		if c.Bool("fragments") {
			for _, off := range caps.Offsets() {
				data, _ := caps.Get(off)
				console.Printf("%5d %2d %q\n", off, len(data), data)
			}
		}
		console.Print(caps.String())
		return nil
	},
}

var vcpCmd = cli.Command{
	Name:  "vcp",
	Usage: "read and write monitor VCP features",
	Subcommands: cli.Commands{
		&vcpGetCmd,
		&vcpSetCmd,
	},
}

var vcpGetCmd = cli.Command{
	Name:      "get",
	ArgsUsage: "<code>",
	Action: func(c *cli.Context) error {
		code, err := parseByte(c.Args().Get(0))
		if err != nil {
			return console.Exit(2, "invalid vcp code: %s", console.Red(err))
		}
		cfg, err := configFrom(c)
		if err != nil {
			return err
		}
		hw, err := openBoard(cfg)
		if err != nil {
			return console.Exit(1, "board init failed: %s", console.Red(err))
		}
		defer hw.Close()
		monitor, err := hw.monitor()
		if err != nil {
			return console.Exit(1, "%s", console.Red(err))
		}
		reply, err := monitor.Exchange(c.Context, []byte{ddcproxy.CmdVCPRequest, code})
		if err != nil {
			return console.Exit(1, "%s", console.Red(err))
		}
		if len(reply) != 8 || reply[0] != ddcproxy.CmdVCPReply || reply[2] != code {
			return console.Exit(1, "unexpected reply [% x]", reply)
		}
		if reply[1] != 0 {
			return console.Exit(1, "feature %#02x is not supported", code)
		}
		maxValue := uint16(reply[4])<<8 | uint16(reply[5])
		current := uint16(reply[6])<<8 | uint16(reply[7])
		console.Printf("%#02x: %s / %d\n", code, console.White(current), maxValue)
		return nil
	},
}

var vcpSetCmd = cli.Command{
	Name:      "set",
	ArgsUsage: "<code> <value>",
	Action: func(c *cli.Context) error {
		code, err := parseByte(c.Args().Get(0))
		if err != nil {
			return console.Exit(2, "invalid vcp code: %s", console.Red(err))
		}
		value, err := strconv.ParseUint(c.Args().Get(1), 0, 16)
		if err != nil {
			return console.Exit(2, "invalid value: %s", console.Red(err))
		}
		cfg, err := configFrom(c)
		if err != nil {
			return err
		}
		hw, err := openBoard(cfg)
		if err != nil {
			return console.Exit(1, "board init failed: %s", console.Red(err))
		}
		defer hw.Close()
		monitor, err := hw.monitor()
		if err != nil {
			return console.Exit(1, "%s", console.Red(err))
		}
		if err := monitor.Send(c.Context, []byte{ddcproxy.CmdVCPSet, code, byte(value >> 8), byte(value)}); err != nil {
			return console.Exit(1, "%s", console.Red(err))
		}
		console.Printf("%#02x set to %s\n", code, console.White(value))
		return nil
	},
}

func parseByte(s string) (byte, error) {
	v, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("%q: %w", s, err)
	}
	return byte(v), nil
}
