package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"rollcall/internal/api"
	"rollcall/internal/daemonctl"
	"rollcall/internal/faces"
	"rollcall/internal/preflight"
)

func newDaemonCommands(ctx *commandContext) []*cobra.Command {
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the rollcall daemon in the background",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			exe, err := daemonExecutable()
			if err != nil {
				return err
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}
			result, err := daemonctl.EnsureStarted(cmd.Context(), client, exe, daemonLaunchOptions(ctx), 15*time.Second)
			if err != nil {
				return err
			}
			switch result.State {
			case daemonctl.StartStateStarted:
				fmt.Fprintf(stdout, "Daemon started (pid %d)\n", result.PID)
			case daemonctl.StartStateAlreadyRunning:
				fmt.Fprintf(stdout, "Daemon already running (pid %d)\n", result.PID)
			}
			return nil
		},
	}

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the rollcall daemon (terminates the process if it does not exit)",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			client, err := ctx.client()
			if err != nil {
				return err
			}
			result, err := daemonctl.StopAndTerminate(cmd.Context(), client, ctx.configValue(), 5*time.Second)
			if errors.Is(err, daemonctl.ErrDaemonNotRunning) {
				fmt.Fprintln(stdout, "Daemon is not running")
				return nil
			}
			if err != nil {
				return err
			}
			if result.ForcedKill && result.PID > 0 {
				fmt.Fprintf(stdout, "Daemon did not exit in time; killed process %d\n", result.PID)
			}
			fmt.Fprintln(stdout, "Daemon stopped")
			return nil
		},
	}

	quitCmd := &cobra.Command{
		Use:   "quit",
		Short: "Ask the capture loop to finish its current frame and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *daemonctl.Client) error {
				resp, err := client.Quit(cmd.Context())
				return printReply(cmd, resp, err)
			})
		},
	}

	captureCmd := &cobra.Command{
		Use:   "capture",
		Short: "Capture the current frame and report every match",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *daemonctl.Client) error {
				resp, err := client.Capture(cmd.Context())
				return printReply(cmd, resp, err)
			})
		},
	}

	switchCmd := &cobra.Command{
		Use:   "switch [camera-id]",
		Short: "Switch to the given camera, or to the next one when no id is given",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var id *int
			if len(args) == 1 {
				value, err := strconv.Atoi(strings.TrimSpace(args[0]))
				if err != nil || value < 0 {
					return fmt.Errorf("invalid camera id %q", args[0])
				}
				id = &value
			}
			return ctx.withClient(func(client *daemonctl.Client) error {
				resp, err := client.Switch(cmd.Context(), id)
				return printReply(cmd, resp, err)
			})
		},
	}

	rescanCmd := &cobra.Command{
		Use:   "rescan",
		Short: "Rediscover capture devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *daemonctl.Client) error {
				resp, err := client.Rescan(cmd.Context())
				return printReply(cmd, resp, err)
			})
		},
	}

	var infoJSON bool
	infoCmd := &cobra.Command{
		Use:   "info",
		Short: "Show capture loop and camera details",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *daemonctl.Client) error {
				resp, err := client.Info(cmd.Context())
				if err != nil {
					return err
				}
				if infoJSON {
					return writeJSON(cmd, resp)
				}
				return printReply(cmd, resp, nil)
			})
		},
	}
	infoCmd.Flags().BoolVar(&infoJSON, "json", false, "Output as JSON")

	return []*cobra.Command{startCmd, stopCmd, quitCmd, captureCmd, switchCmd, rescanCmd, infoCmd}
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, camera and attendance status",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			status, err := client.Status(cmd.Context())
			if err != nil && !errors.Is(err, daemonctl.ErrDaemonNotRunning) {
				return err
			}
			if asJSON {
				if status == nil {
					return writeJSON(cmd, api.DaemonStatus{})
				}
				return writeJSON(cmd, status)
			}

			stdout := cmd.OutOrStdout()
			colorize := shouldColorize(stdout)
			for _, line := range renderSectionHeader("Daemon", colorize) {
				fmt.Fprintln(stdout, line)
			}
			for _, line := range daemonStatusLines(status, colorize) {
				fmt.Fprintln(stdout, line)
			}
			fmt.Fprintln(stdout)

			var checks []api.CheckResult
			if status != nil {
				checks = status.Preflight
			} else {
				checks = api.FromCheckResults(preflight.RunAll(cmd.Context(), ctx.configValue(), nil))
			}
			for _, line := range renderSectionHeader("Preflight", colorize) {
				fmt.Fprintln(stdout, line)
			}
			for _, line := range checkLines(checks, colorize) {
				fmt.Fprintln(stdout, line)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

// printReply renders a command reply. A refused command prints its message
// and returns the refusal as the error.
func printReply(cmd *cobra.Command, resp *api.CommandResponse, err error) error {
	if resp == nil {
		return err
	}
	stdout := cmd.OutOrStdout()
	if resp.Message != "" {
		fmt.Fprintln(stdout, resp.Message)
	}
	if resp.CapturePath != "" {
		fmt.Fprintf(stdout, "Saved frame to %s\n", resp.CapturePath)
	}
	if len(resp.Matches) > 0 {
		fmt.Fprint(stdout, renderMatches(resp.Matches))
		fmt.Fprintln(stdout)
	}
	if resp.Loop != nil {
		fmt.Fprintf(stdout, "Loop: %s, %d frames read, %d sampled\n", resp.Loop.Health, resp.Loop.FramesRead, resp.Loop.FramesSampled)
	}
	if resp.Camera != nil {
		fmt.Fprintf(stdout, "Camera: %s\n", cameraDetail(*resp.Camera))
	}
	return err
}

func renderMatches(matches []api.Match) string {
	rows := make([][]string, 0, len(matches))
	for _, m := range matches {
		id := "-"
		if m.IdentityID != nil {
			id = strconv.FormatInt(*m.IdentityID, 10)
		}
		rows = append(rows, []string{
			id,
			faces.DisplayLabel(m.Label),
			strconv.FormatFloat(m.Score, 'f', 3, 64),
			fmt.Sprintf("%dx%d at %d,%d", m.Width, m.Height, m.X, m.Y),
		})
	}
	return renderTable(
		[]string{"ID", "Name", "Score", "Box"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignRight, alignLeft},
	)
}

func daemonExecutable() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolve executable: %w", err)
	}
	return exe, nil
}

func daemonLaunchOptions(ctx *commandContext) daemonctl.LaunchOptions {
	return daemonctl.LaunchOptions{
		ConfigPath: ctx.configPathValue(),
		Verbose:    ctx.verbose(),
	}
}
