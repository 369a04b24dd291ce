// ABOUTME: discover command: lists needle stations found via mDNS
package main

import (
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/harperreed/needle/internal/discovery"
)

func newDiscoverCmd() *cobra.Command {
	var timeout time.Duration
	var watch bool

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Find needle stations on the local network",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if watch {
				return watchStations(cmd)
			}

			servers, err := discovery.Lookup(cmd.Context(), timeout)
			if err != nil {
				return err
			}
			if len(servers) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No stations found")
				return nil
			}
			for _, s := range servers {
				fmt.Fprintln(cmd.OutOrStdout(), formatStation(s))
			}
			return nil
		},
	}

	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 3*time.Second, "How long to listen for answers")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Keep browsing until interrupted")
	return cmd
}

var (
	nameStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	urlStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
)

func formatStation(s *discovery.ServerInfo) string {
	line := fmt.Sprintf("%s  %s", nameStyle.Render(s.Name), urlStyle.Render(s.StreamURL()))
	if s.Version != "" {
		line += "  v" + s.Version
	}
	return line
}

func watchStations(cmd *cobra.Command) error {
	mgr := discovery.NewManager(discovery.Config{})
	defer mgr.Stop()
	if err := mgr.Browse(); err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	defer signal.Stop(sigChan)

	seen := make(map[string]bool)
	for {
		select {
		case s := <-mgr.Servers():
			url := s.StreamURL()
			if seen[url] {
				continue
			}
			seen[url] = true
			fmt.Fprintln(cmd.OutOrStdout(), formatStation(s))
		case <-sigChan:
			return nil
		}
	}
}
