package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/charlie0129/rfcal/pkg/scheduler"
)

func NewScheduleCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "schedule [cron-expression]",
		Aliases: []string{"sch", "sched"},
		Short:   "Manage the input recalibration schedule",
		Long: `Manage the input recalibration schedule.

The daemon can re-run the input calibration periodically so the table follows
the drift of the bench. A run is delayed while another run holds the bench.

The schedule command can be used in multiple ways:
  rfcal schedule 'minute hour day month weekday' Set schedule with cron expression
  rfcal schedule disable                         Disable the schedule
  rfcal schedule postpone [duration]             Postpone next run
  rfcal schedule skip                            Skip next run
  rfcal schedule show                            Show current schedule`,
		Example: `  rfcal schedule '0 6 * * 1' (At 06:00 on Monday)
  rfcal schedule '30 5 * * *' (At 05:30 every day)
  rfcal schedule '@every 12h' (Every 12 hours)`,
		GroupID: gCalibration,
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return runScheduleShow(cmd)
			}
			return runScheduleSet(cmd, args[0])
		},
	}

	cmd.AddCommand(
		newScheduleDisableCommand(),
		newSchedulePostponeCommand(),
		newScheduleSkipCommand(),
		newScheduleShowCommand(),
	)

	return cmd
}

func newScheduleDisableCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "disable",
		Short: "Disable the recalibration schedule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runScheduleDisable(cmd)
		},
	}
}

func newSchedulePostponeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "postpone [duration]",
		Short: "Postpone the next scheduled recalibration",
		Example: `  rfcal schedule postpone      (Postpone by 1 hour)
  rfcal schedule postpone 90m  (Postpone by 90 minutes)`,
		Long: `Postpone the next scheduled recalibration by a specified duration.
If no duration is provided, defaults to 1 hour. The postponed run must stay
before the run that follows it.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d := time.Hour
			if len(args) > 0 {
				parsed, err := time.ParseDuration(args[0])
				if err != nil {
					return fmt.Errorf("invalid duration %q: %w", args[0], err)
				}
				d = parsed
			}
			return runSchedulePostpone(cmd, d)
		},
	}
}

func newScheduleSkipCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "skip",
		Short: "Skip the next scheduled recalibration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runScheduleSkip(cmd)
		},
	}
}

func newScheduleShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the recalibration schedule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runScheduleShow(cmd)
		},
	}
}

func runScheduleSet(cmd *cobra.Command, cronExpr string) error {
	if cronExpr == "" {
		return fmt.Errorf("cron expression cannot be empty")
	}
	if _, err := scheduler.Parse(cronExpr); err != nil {
		return err
	}
	info, err := apiClient.SetSchedule(cronExpr)
	if err != nil {
		return err
	}
	printNextRuns(cmd, "Recalibration scheduled. ", info)
	return nil
}

func runScheduleDisable(cmd *cobra.Command) error {
	if _, err := apiClient.SetSchedule(""); err != nil {
		return err
	}
	cmd.Println("Recalibration schedule disabled.")
	return nil
}

func runSchedulePostpone(cmd *cobra.Command, duration time.Duration) error {
	info, err := apiClient.PostponeSchedule(duration)
	if err != nil {
		return err
	}
	printNextRuns(cmd, fmt.Sprintf("Next run postponed by %s. ", duration), info)
	return nil
}

func runScheduleSkip(cmd *cobra.Command) error {
	info, err := apiClient.SkipSchedule()
	if err != nil {
		return err
	}
	printNextRuns(cmd, "Next scheduled run skipped. ", info)
	return nil
}

func runScheduleShow(cmd *cobra.Command) error {
	info, err := apiClient.GetSchedule()
	if err != nil {
		return err
	}
	if info.Cron == "" {
		cmd.Println("Recalibration schedule is not set.")
		return nil
	}
	cmd.Printf("Schedule: %s\n", info.Cron)
	printNextRuns(cmd, "", info)
	return nil
}

func printNextRuns(cmd *cobra.Command, prefix string, info scheduler.Info) {
	if len(info.NextRuns) == 0 {
		cmd.Println(prefix + "No upcoming runs.")
		return
	}
	cmd.Printf("%sNext %d run(s):\n", prefix, len(info.NextRuns))
	for _, run := range info.NextRuns {
		cmd.Printf("  - %s\n", run.Local().Format(time.DateTime))
	}
}
