package main

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/wippyai/simplicity-bridge/host/widget"
)

func newWidgetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "widget [file.simf] [file.wit]",
		Short: "Open the terminal compiler widget",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.WithoutCancel(cmd.Context())
			s, err := a.newStack()
			if err != nil {
				return err
			}
			defer s.Close(ctx)

			d := widget.NewDashboard(s.provider, s.normalizer, a.pipelineOptions(s)...)
			defer d.Close(ctx)

			w, err := d.Open()
			if err != nil {
				return err
			}
			m := widget.NewModel(w, a.cfg.CallTimeout)
			for _, path := range args {
				if err := m.Load(path); err != nil {
					return err
				}
			}
			p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(cmd.Context()))
			_, err = p.Run()
			return err
		},
	}
}
