// ABOUTME: Root command and shared flag handling
package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harperreed/needle/internal/version"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "needle",
		Short: "Internet radio relay with synchronized now-playing metadata",
		Long: `needle streams a continuous MP3 radio station to any number of HTTP
listeners from a shared ring buffer, and announces each track over
server-sent events or WebSocket once its audio has reached listeners.

Tracks come from local directories (NEEDLE_LIBRARY) or an S3 bucket
(NEEDLE_S3_BUCKET). Every setting can be given in the environment or a
.env file; flags override both.

Commands:
  - serve: run the station and HTTP server
  - discover: find stations on the local network
  - tune: follow a station's now-playing feed
  - probe: show what the library scanner sees in MP3 files
  - version: print the build version`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.AddCommand(newServeCmd(), newDiscoverCmd(), newTuneCmd(), newProbeCmd(), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}
