package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"rollcall/internal/api"
	"rollcall/internal/daemonctl"
)

// followPoll bounds each blocking log fetch so idle streams reconnect
// before the server's write timeout.
const followPoll = 60 * time.Second

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var (
		follow    bool
		tail      int
		component string
		cameraID  string
	)
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show recent daemon log events",
		RunE: func(cmd *cobra.Command, args []string) error {
			runCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			return ctx.withClient(func(client *daemonctl.Client) error {
				stdout := cmd.OutOrStdout()
				query := daemonctl.LogQuery{
					Limit:     tail,
					Tail:      true,
					Component: strings.TrimSpace(component),
					CameraID:  strings.TrimSpace(cameraID),
				}
				resp, err := client.Logs(runCtx, query)
				if err != nil {
					return err
				}
				printLogEvents(stdout, resp.Events)
				if !follow {
					return nil
				}

				query.Tail = false
				query.Follow = true
				query.Limit = 0
				query.Since = resp.Next
				for {
					pollCtx, cancelPoll := context.WithTimeout(runCtx, followPoll)
					resp, err := client.Logs(pollCtx, query)
					cancelPoll()
					if runCtx.Err() != nil {
						return nil
					}
					if errors.Is(err, context.DeadlineExceeded) {
						continue
					}
					if err != nil {
						return err
					}
					printLogEvents(stdout, resp.Events)
					query.Since = resp.Next
				}
			})
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep streaming new events")
	cmd.Flags().IntVarP(&tail, "tail", "n", 50, "Number of recent events to show first")
	cmd.Flags().StringVar(&component, "component", "", "Only show events from this component (e.g. camera, scheduler, attendance)")
	cmd.Flags().StringVar(&cameraID, "camera", "", "Only show events for this camera id")
	return cmd
}

func printLogEvents(w io.Writer, events []api.LogEvent) {
	for _, evt := range events {
		fmt.Fprintln(w, formatLogEvent(evt))
	}
}

func formatLogEvent(evt api.LogEvent) string {
	var b strings.Builder
	b.WriteString(evt.Timestamp)
	b.WriteByte(' ')
	fmt.Fprintf(&b, "%-5s", evt.Level)
	if evt.Component != "" {
		b.WriteString(" [" + evt.Component + "]")
	}
	b.WriteByte(' ')
	b.WriteString(evt.Message)
	if evt.CameraID != "" {
		b.WriteString(" camera_id=" + evt.CameraID)
	}
	if evt.IdentityID != "" {
		b.WriteString(" identity_id=" + evt.IdentityID)
	}
	keys := make([]string, 0, len(evt.Fields))
	for k := range evt.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		value := evt.Fields[k]
		if strings.ContainsAny(value, " \t\"") {
			value = fmt.Sprintf("%q", value)
		}
		b.WriteString(" " + k + "=" + value)
	}
	return b.String()
}
