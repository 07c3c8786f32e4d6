package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/charlie0129/rfcal/pkg/calibration"
)

func NewCalibrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "calibrate",
		Aliases: []string{"calibration", "cal"},
		Short:   "Run and inspect bench calibrations",
		Long: `Run and inspect bench calibrations.

The input calibration sweeps the configured frequency and power grid and
adjusts the generator level until the meter reads the requested power. The
output calibration needs a complete input table: it replays the highest power
row through the device path and records the difference.`,
		GroupID: gCalibration,
	}

	cmd.AddCommand(
		newCalibrationRunCommand("input", "Run the input calibration",
			func() (calibration.RunStatus, error) { return apiClient.StartInputCalibration() }),
		newCalibrationRunCommand("output", "Run the output calibration",
			func() (calibration.RunStatus, error) { return apiClient.StartOutputCalibration() }),
		&cobra.Command{
			Use:   "show <input|output>",
			Short: "Show a calibration table",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				stage, err := parseStage(args[0])
				if err != nil {
					return err
				}
				view, err := apiClient.GetTable(stage)
				if err != nil {
					return err
				}
				printTableView(cmd.OutOrStdout(), view)
				return nil
			},
		},
		&cobra.Command{
			Use:   "clear <input|output>",
			Short: "Clear a calibration table",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				stage, err := parseStage(args[0])
				if err != nil {
					return err
				}
				if _, err := apiClient.ClearTable(stage); err != nil {
					return fmt.Errorf("failed to clear the %s table: %w", stage, err)
				}
				cmd.Printf("The %s calibration table is cleared.\n", stage)
				return nil
			},
		},
	)

	return cmd
}

func newCalibrationRunCommand(use, short string, start func() (calibration.RunStatus, error)) *cobra.Command {
	var detach bool

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return startRun(cmd, detach, start)
		},
	}
	cmd.Flags().BoolVarP(&detach, "detach", "d", false, "Return after the run is started instead of following its progress")
	return cmd
}

// startRun starts a run and, unless detached, follows it to the end.
func startRun(cmd *cobra.Command, detach bool, start func() (calibration.RunStatus, error)) error {
	if detach {
		st, err := start()
		if err != nil {
			return err
		}
		cmd.Printf("Started %s (%s, %d points). Follow it with 'rfcal run watch'.\n", st.ID, st.Kind, st.Points)
		return nil
	}
	return followRun(cmd.OutOrStdout(), start)
}

func parseStage(s string) (calibration.Stage, error) {
	stage, ok := calibration.ParseStage(s)
	if !ok {
		return "", fmt.Errorf("unknown calibration stage %q, expected input or output", s)
	}
	return stage, nil
}
