package main

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/formloop/formloop/internal/config"
)

var (
	validOkStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)

	validFailStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	validDetailStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("245")).
				PaddingLeft(2)
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <config>",
		Short: "Validate a configuration file without starting the service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]

			cfg, err := config.ParseConfig(path)
			if err != nil {
				fmt.Fprintln(cmd.OutOrStdout(), validFailStyle.Render("✗ "+path))
				fmt.Fprintln(cmd.OutOrStdout(), validDetailStyle.Render(err.Error()))
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), validOkStyle.Render("✓ "+path))
			fmt.Fprintln(cmd.OutOrStdout(), validDetailStyle.Render(
				fmt.Sprintf("listen %s, backend %s", cfg.Server.ListenAddr, cfg.Backend.BaseURL)))
			return nil
		},
	}
}
