package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"rollcall/internal/api"
	"rollcall/internal/daemonctl"
	"rollcall/internal/store"
)

func newAttendanceCommand(ctx *commandContext) *cobra.Command {
	attendanceCmd := &cobra.Command{
		Use:   "attendance",
		Short: "Inspect recorded attendance",
	}

	var limit int
	var asJSON bool
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "Show the most recent attendance marks",
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit <= 0 {
				return fmt.Errorf("--limit must be positive")
			}
			list, err := recentMarks(cmd, ctx, limit)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, list)
			}
			stdout := cmd.OutOrStdout()
			if len(list.Entries) == 0 {
				fmt.Fprintln(stdout, "No attendance recorded")
				return nil
			}
			fmt.Fprint(stdout, renderEntries(list.Entries))
			fmt.Fprintln(stdout)
			return nil
		},
	}
	listCmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of marks to show")
	listCmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")

	attendanceCmd.AddCommand(listCmd)
	return attendanceCmd
}

// recentMarks asks the daemon first and reads the store directly when the
// daemon is not running.
func recentMarks(cmd *cobra.Command, ctx *commandContext, limit int) (*api.AttendanceList, error) {
	client, err := ctx.client()
	if err != nil {
		return nil, err
	}
	list, err := client.Attendance(cmd.Context(), limit)
	if err == nil {
		return list, nil
	}
	if !errors.Is(err, daemonctl.ErrDaemonNotRunning) {
		return nil, err
	}

	cfg, err := ctx.ensureConfig()
	if err != nil {
		return nil, err
	}
	backend, err := store.Open(cmd.Context(), cfg, ctx.logger())
	if err != nil {
		return nil, err
	}
	defer backend.Close()
	entries, err := backend.RecentMarks(cmd.Context(), limit)
	if err != nil {
		return nil, fmt.Errorf("list attendance: %w", err)
	}
	return &api.AttendanceList{Entries: api.FromEntries(entries)}, nil
}

func renderEntries(entries []api.AttendanceEntry) string {
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		session := "-"
		if e.SessionID != 0 {
			session = strconv.FormatInt(e.SessionID, 10)
		}
		rows = append(rows, []string{
			e.MarkedAt,
			strconv.FormatInt(e.IdentityID, 10),
			session,
			e.Status,
			strconv.FormatFloat(e.Score, 'f', 3, 64),
		})
	}
	return renderTable(
		[]string{"Marked At", "Identity", "Session", "Status", "Score"},
		rows,
		[]columnAlignment{alignLeft, alignRight, alignRight, alignLeft, alignRight},
	)
}
