package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"rollcall/internal/api"
	"rollcall/internal/deps"
	"rollcall/internal/preflight"
)

func newDepsCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "deps",
		Short: "Check external binaries, directories and the face service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			binaries := preflight.CheckSystemDeps(cfg)
			checks := api.FromCheckResults(preflight.RunAll(cmd.Context(), cfg, nil))
			if asJSON {
				return writeJSON(cmd, struct {
					Dependencies []deps.Status     `json:"dependencies"`
					Checks       []api.CheckResult `json:"checks"`
				}{binaries, checks})
			}

			stdout := cmd.OutOrStdout()
			colorize := shouldColorize(stdout)
			for _, line := range renderSectionHeader("Dependencies", colorize) {
				fmt.Fprintln(stdout, line)
			}
			for _, line := range dependencyLines(binaries, colorize) {
				fmt.Fprintln(stdout, line)
			}
			fmt.Fprintln(stdout)
			for _, line := range renderSectionHeader("Preflight", colorize) {
				fmt.Fprintln(stdout, line)
			}
			for _, line := range checkLines(checks, colorize) {
				fmt.Fprintln(stdout, line)
			}
			if len(deps.MissingRequired(binaries)) > 0 {
				return fmt.Errorf("required dependencies are missing")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}
