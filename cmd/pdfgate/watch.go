package main

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/AdamLaszab/zadanie-skuska/internal/tui/watch"
)

func watchCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Live dashboard of a running server",
		Long:  "Polls /healthz and follows /events. The token needs logs:ro or pdf:rw when auth is on.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p := tea.NewProgram(watch.New(g.serverURL, g.token), tea.WithAltScreen())
			if _, err := p.Run(); err != nil {
				return fmt.Errorf("watch: %w", err)
			}
			return nil
		},
	}
}
