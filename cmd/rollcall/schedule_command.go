package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"rollcall/internal/attendance"
	"rollcall/internal/store"
)

func newScheduleCommand(ctx *commandContext) *cobra.Command {
	scheduleCmd := &cobra.Command{
		Use:   "schedule",
		Short: "Manage the class schedule used in session mode",
	}

	var dryRun bool
	importCmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import classes, enrolments and session instances from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			schedule, err := attendance.LoadSchedule(args[0])
			if err != nil {
				return err
			}
			stdout := cmd.OutOrStdout()
			if dryRun {
				fmt.Fprintf(stdout, "%s is valid: %s\n", args[0], describeSchedule(schedule))
				return nil
			}

			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			backend, err := store.Open(cmd.Context(), cfg, ctx.logger())
			if err != nil {
				return err
			}
			defer backend.Close()
			importer := store.ScheduleImporter(backend)
			if importer == nil {
				return fmt.Errorf("the %s store reads its schedule from the existing database; nothing to import", store.Name(cfg))
			}
			report, err := importer.ImportSchedule(cmd.Context(), schedule)
			if err != nil {
				return fmt.Errorf("import schedule: %w", err)
			}
			fmt.Fprintf(stdout, "Imported %d classes, %d enrolments, %d sessions, %d session instances\n",
				report.Classes, report.Enrollments, report.Sessions, report.Instances)
			return nil
		},
	}
	importCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Validate the file without writing to the store")

	scheduleCmd.AddCommand(importCmd)
	return scheduleCmd
}

func describeSchedule(s *attendance.Schedule) string {
	var students, sessions, instances int
	for _, c := range s.Classes {
		students += len(c.Students)
		sessions += len(c.Sessions)
		for _, ts := range c.Sessions {
			instances += len(ts.Instances)
		}
	}
	return fmt.Sprintf("%d classes, %d enrolments, %d sessions, %d session instances",
		len(s.Classes), students, sessions, instances)
}
