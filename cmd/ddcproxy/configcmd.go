package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/ddcproxy/cmd/ddcproxy/console"
)

var configCmd = cli.Command{
	Name:  "config",
	Usage: "configuration file utilities",
	Subcommands: []*cli.Command{
		{
			Name:  "init",
			Usage: "write the effective configuration to the --config file",
			Flags: []cli.Flag{
				&cli.BoolFlag{Name: "force", Aliases: []string{"f"}, Usage: "overwrite an existing file"},
			},
			Action: func(c *cli.Context) error {
				cfg, err := configFrom(c)
				if err != nil {
					return err
				}
				_, err = os.Stat(cfg.Path())
				if err == nil && !c.Bool("force") {
					ok, perr := console.Confirm(fmt.Sprintf("%s exists, overwrite?", cfg.Path()))
					if perr != nil || !ok {
						return console.Exit(1, "aborted")
					}
				}
				if err != nil && !errors.Is(err, fs.ErrNotExist) {
					return console.Exit(1, "%s", console.Red(err))
				}
				if err := cfg.Save(); err != nil {
					return console.Exit(1, "%s", console.Red(err))
				}
				console.PInfof(console.PictoNotebook, "configuration written to %s", console.White(cfg.Path()))
				return nil
			},
		},
		{
			Name:  "show",
			Usage: "print the effective configuration",
			Action: func(c *cli.Context) error {
				cfg, err := configFrom(c)
				if err != nil {
					return err
				}
				return printYAML(cfg)
			},
		},
	},
}
