package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/gophertribe/devtool/build"
)

const (
	binary  = "dist/ddcproxy"
	mainPkg = "./cmd/ddcproxy"
	image   = "gophertribe/gobuild:1.25-bookworm"
)

// boards maps board presets to their cross compilation target.
var boards = map[string][2]string{
	"nanopi": {"linux", "arm"},
	"rpi":    {"linux", "arm64"},
}

type target struct {
	os, arch           string
	crossOS, crossArch string
}

func (t target) native() bool {
	return t.os == runtime.GOOS && t.arch == runtime.GOARCH
}

func targetFrom(cmd *cobra.Command) (target, error) {
	t := target{
		os:        cmd.Flag("os").Value.String(),
		arch:      cmd.Flag("arch").Value.String(),
		crossOS:   cmd.Flag("cross-os").Value.String(),
		crossArch: cmd.Flag("cross-arch").Value.String(),
	}
	if b := cmd.Flag("board").Value.String(); b != "" {
		preset, ok := boards[b]
		if !ok {
			return t, fmt.Errorf("unknown board %q", b)
		}
		t.crossOS, t.crossArch = preset[0], preset[1]
	}
	return t, nil
}

func BuildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build the ddcproxy binary",
		Long: "Build the ddcproxy binary. Native builds use the local toolchain; other targets " +
			"are built in docker since the MCP2221 adapter needs cgo.",
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := targetFrom(cmd)
			if err != nil {
				return err
			}
			version := cmd.Flag("version").Value.String()
			if t.native() {
				os, arch := t.os, t.arch
				if t.crossOS != "" && t.crossArch != "" {
					os, arch = t.crossOS, t.crossArch
				}
				return build.GoBuild(binary, mainPkg, build.GoBuildOpts{
					Version:       version,
					InjectVersion: true,
					ConfigPackage: "github.com/mklimuk/ddcproxy/config",
					EnableCgo:     true,
					Arch:          arch,
					OS:            os,
				})
			}

			noCache, err := cmd.Flags().GetBool("no-cache")
			if err != nil {
				return fmt.Errorf("could not get no-cache flag: %w", err)
			}
			args = []string{"build", "--version", version, "--cross-os", t.crossOS, "--cross-arch", t.crossArch}
			return build.Docker(cmd.Context(), fmt.Sprintf("./dev-%s-%s", t.os, t.arch), args, build.DockerBuildOpts{
				NoCache: noCache,
				Image:   image,
			})
		},
	}
	cmd.Flags().Bool("no-cache", false, "do not use cache when building the app")
	cmd.Flags().String("version", "latest", "version of the binary")
	cmd.Flags().String("os", runtime.GOOS, "os to build for")
	cmd.Flags().String("arch", runtime.GOARCH, "arch to build for")
	cmd.Flags().String("cross-os", "", "os to cross-compile for")
	cmd.Flags().String("cross-arch", "", "arch to cross-compile for")
	cmd.Flags().String("board", "", "cross-compile for a board preset (nanopi, rpi)")

	return cmd
}
