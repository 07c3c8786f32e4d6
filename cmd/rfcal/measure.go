package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/charlie0129/rfcal/pkg/calibration"
)

func NewTaskCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "task",
		Short:   "Show the measurement task composed from both calibration tables",
		GroupID: gMeasurement,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			task, err := apiClient.GetTask()
			if err != nil {
				return err
			}
			printTask(cmd.OutOrStdout(), task)
			return nil
		},
	}
}

func NewMeasureCommand() *cobra.Command {
	var detach bool

	cmd := &cobra.Command{
		Use:     "measure",
		Short:   "Execute the measurement task and store the corrected readings",
		GroupID: gMeasurement,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return startRun(cmd, detach, func() (calibration.RunStatus, error) {
				return apiClient.StartMeasure()
			})
		},
	}
	cmd.Flags().BoolVarP(&detach, "detach", "d", false, "Return after the run is started instead of following its progress")

	var detachPulse bool
	pulse := &cobra.Command{
		Use:   "pulse",
		Short: "Execute the measurement task on a pulsed signal",
		Long: `Execute the measurement task with the power meter in continuous trace mode.

The reading is gated by the pulse parameters (x_start, x_scale, y_max,
y_scale, trig_level, mark_1, mark_2). See them with "rfcal params".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return startRun(cmd, detachPulse, func() (calibration.RunStatus, error) {
				return apiClient.StartMeasurePulse()
			})
		},
	}
	pulse.Flags().BoolVarP(&detachPulse, "detach", "d", false, "Return after the run is started instead of following its progress")
	cmd.AddCommand(pulse)

	return cmd
}

func NewResultsCommand() *cobra.Command {
	var runID string

	cmd := &cobra.Command{
		Use:     "results",
		Short:   "Show stored measurement results",
		Long:    "Show the readings of the latest measurement run, or of the run given by --run.",
		GroupID: gMeasurement,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := apiClient.GetResults(runID)
			if err != nil {
				return err
			}
			cmd.Printf("Run %s, %d points\n", res.Run.ID, len(res.Points))
			printResults(cmd.OutOrStdout(), res.Points)
			return nil
		},
	}
	cmd.Flags().StringVar(&runID, "run", "", "Run ID (default: latest run)")

	var pulseRunID string
	pulse := &cobra.Command{
		Use:   "pulse",
		Short: "Show a pulse run as a power x frequency table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			view, err := apiClient.GetPulseResults(pulseRunID)
			if err != nil {
				return err
			}
			cmd.Printf("Run %s\n", view.Run.ID)
			printPulseView(cmd.OutOrStdout(), view)
			return nil
		},
	}
	pulse.Flags().StringVar(&pulseRunID, "run", "", "Run ID (default: latest pulse run)")
	cmd.AddCommand(pulse)

	cmd.AddCommand(&cobra.Command{
		Use:   "runs",
		Short: "List stored measurement runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			list, err := apiClient.GetResultRuns()
			if err != nil {
				return err
			}
			if len(list) == 0 {
				cmd.Println("No measurement runs stored.")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tKIND\tCREATED\tPOINTS")
			for _, r := range list {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", r.ID, r.Kind, r.CreatedAt.Local().Format(time.DateTime), r.Points)
			}
			return tw.Flush()
		},
	})

	return cmd
}

func NewRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "run",
		Short:   "Inspect and control the current run",
		GroupID: gMeasurement,
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "status",
			Short: "Show the current or last run",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				st, err := apiClient.GetRunStatus()
				if err != nil {
					return err
				}
				printRunStatus(cmd.OutOrStderr(), st)
				return nil
			},
		},
		&cobra.Command{
			Use:   "cancel",
			Short: "Cancel the current run after the point in progress",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				ret, err := apiClient.CancelRun()
				if err != nil {
					return fmt.Errorf("failed to cancel run: %w", err)
				}
				cmd.Println(responseText(ret))
				return nil
			},
		},
		&cobra.Command{
			Use:   "watch",
			Short: "Follow the progress of the current run",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return followRun(cmd.OutOrStdout(), func() (calibration.RunStatus, error) {
					st, err := apiClient.GetRunStatus()
					if err != nil {
						return st, err
					}
					if st.State != calibration.RunRunning {
						return st, fmt.Errorf("no run in progress")
					}
					return st, nil
				})
			},
		},
	)

	return cmd
}
