// ABOUTME: tune command: follows a station's now-playing feed
package main

import (
	"context"
	"fmt"
	"net"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/harperreed/needle/internal/client"
	"github.com/harperreed/needle/internal/discovery"
)

func newTuneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tune [host:port]",
		Short: "Print now-playing announcements from a station",
		Long: `Connect to a station's WebSocket metadata feed and print each track as it
is announced. Without an address the first station found via mDNS is used.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			addr := ""
			if len(args) == 1 {
				addr = args[0]
			} else {
				found, err := firstStation(ctx)
				if err != nil {
					return err
				}
				addr = found
			}

			c := client.NewClient(client.Config{ServerAddr: addr})
			if err := c.Connect(ctx); err != nil {
				return err
			}
			defer c.Close()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Tuned in to %s\n", c.URL())
			for {
				select {
				case msg, ok := <-c.Metadata:
					if !ok {
						return fmt.Errorf("station closed the feed")
					}
					fmt.Fprintf(out, "%s  %s\n", nameStyle.Render("Now playing"), msg.Track.Label())
				case <-ctx.Done():
					return nil
				}
			}
		},
	}
}

func firstStation(ctx context.Context) (string, error) {
	servers, err := discovery.Lookup(ctx, 3*time.Second)
	if err != nil {
		return "", err
	}
	if len(servers) == 0 {
		return "", fmt.Errorf("no stations found; pass host:port")
	}
	s := servers[0]
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port)), nil
}
