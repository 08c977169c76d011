// Command remotebus reaches D-Bus daemons on other hosts through a local
// tunnel that bounds every connect, disconnect and bus operation in time.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"dominicbreuker/remotebus/cmd/call"
	"dominicbreuker/remotebus/cmd/gateway"
	"dominicbreuker/remotebus/cmd/shared"
	"dominicbreuker/remotebus/cmd/shell"
	"dominicbreuker/remotebus/cmd/version"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	shared.SetupSignalHandling(cancel)

	if err := newApp().Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "[!] Error: %s\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:  "remotebus",
		Usage: "D-Bus client for remote daemons with bounded timeouts",
		Commands: []*cli.Command{
			call.GetCommand(),
			shell.GetCommand(),
			gateway.GetCommand(),
			version.GetCommand(),
		},
	}
}
