package console

import (
	"fmt"

	"github.com/urfave/cli/v2"
)

// Exit builds an error urfave/cli turns into the process exit code.
func Exit(code int, msg string, args ...any) cli.ExitCoder {
	return cli.Exit(fmt.Sprintf(msg, args...), code)
}
