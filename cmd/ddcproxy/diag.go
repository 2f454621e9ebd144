package main

import (
	"fmt"
	"log/slog"

	"github.com/urfave/cli/v2"
	"go.bug.st/serial"

	"github.com/mklimuk/ddcproxy/cmd/ddcproxy/console"
)

// openDiagPort opens the serial port diagnostics are mirrored to, usually
// the USB gadget console of the board.
func openDiagPort(path string, baud int) (serial.Port, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("could not open diagnostic port %s: %w", path, err)
	}
	slog.Debug("diagnostic port open", "port", path, "baud", baud)
	return port, nil
}

var diagCmd = cli.Command{
	Name:  "diag",
	Usage: "diagnostic channel helpers",
	Subcommands: cli.Commands{
		&diagPortsCmd,
	},
}

var diagPortsCmd = cli.Command{
	Name:  "ports",
	Usage: "list serial ports usable with --diag-port",
	Action: func(c *cli.Context) error {
		ports, err := serial.GetPortsList()
		if err != nil {
			return console.Exit(1, "could not list serial ports: %s", console.Red(err))
		}
		if len(ports) == 0 {
			console.PInfof(console.PictoGhost, "no serial ports found")
			return nil
		}
		for _, p := range ports {
			console.PInfof(console.PictoPlug, "%s", console.White(p))
		}
		return nil
	},
}
