// Command loomd is the collaborative editor broker daemon: it multiplexes
// editor sessions onto LSP server processes, arbitrates shared-document
// edits, and drives tiered syntax parsing, all behind one websocket
// listener. Grounded on cmd/wt's cobra root-plus-subcommand tree shape.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is overridden at release build time via -ldflags.
var version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "loomd",
		Short: "loomd — collaborative editor session broker",
		Long:  "Multiplexes editor sessions onto LSP servers, arbitrates shared document edits, and schedules syntax parsing.",
	}

	root.AddCommand(serveCmd(), versionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the loomd version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(version)
			return nil
		},
	}
}
