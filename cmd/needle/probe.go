// ABOUTME: probe command: prints the metadata the library would announce
package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/harperreed/needle/internal/library"
)

func newProbeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "probe <file.mp3>...",
		Short: "Show duration, bitrate and parsed names for MP3 files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var failed int
			for _, path := range args {
				p, err := library.ProbeFile(path)
				artists, title := library.ParseName(filepath.Base(path))

				line := fmt.Sprintf("%s\n  title:    %s\n  artists:  %s\n  duration: %dms\n  bitrate:  %dkbps",
					path, title, strings.Join(artists, ", "), p.DurationMS, p.BitrateKbps)
				if err != nil {
					failed++
					line += fmt.Sprintf("\n  warning:  %v (fallback values)", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			if failed == len(args) {
				return fmt.Errorf("no file could be probed")
			}
			return nil
		},
	}
}
