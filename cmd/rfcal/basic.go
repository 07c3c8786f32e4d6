package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/charlie0129/rfcal/pkg/calibration"
	"github.com/charlie0129/rfcal/pkg/config"
	"github.com/charlie0129/rfcal/pkg/version"
)

func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print version",
		Annotations: map[string]string{annotationLocal: "true"},
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("%s %s\n", version.Version, version.GitCommit)
			if v, err := apiClient.GetVersion(); err == nil {
				cmd.Printf("daemon %s\n", v)
			}
		},
	}
}

func NewStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "status",
		GroupID: gCalibration,
		Short:   "Get the current status of the bench",
		Long:    `Get the state of the current run, the calibration tables and the recalibration schedule.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := apiClient.GetRunStatus()
			if err != nil {
				return err
			}
			in, err := apiClient.GetTable(calibration.StageInput)
			if err != nil {
				return err
			}
			out, err := apiClient.GetTable(calibration.StageOutput)
			if err != nil {
				return err
			}
			sched, err := apiClient.GetSchedule()
			if err != nil {
				return err
			}

			cmd.Println(bold("Run:"))
			printRunStatus(cmd.OutOrStderr(), st)
			cmd.Println()

			cmd.Println(bold("Calibration:"))
			cmd.Printf("  Input table: %s %d points\n", bool2Text(len(in.Points) > 0), len(in.Points))
			cmd.Printf("  Output table: %s %d points\n", bool2Text(len(out.Points) > 0), len(out.Points))
			if _, err := apiClient.GetTask(); err == nil {
				cmd.Printf("  Measurement task: %s\n", bool2Text(true))
			} else {
				cmd.Printf("  Measurement task: %s %v\n", bool2Text(false), err)
			}
			cmd.Println()

			cmd.Println(bold("Recalibration schedule:"))
			if sched.Cron == "" {
				cmd.Println("  Not set.")
			} else {
				cmd.Printf("  %s\n", sched.Cron)
				if len(sched.NextRuns) > 0 {
					cmd.Printf("  Next run: %s\n", sched.NextRuns[0].Local().Format(time.DateTime))
				}
			}
			return nil
		},
	}
}

func NewParamsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "params",
		Aliases: []string{"param", "p"},
		Short:   "List sweep parameters",
		GroupID: gCalibration,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			params, err := apiClient.GetParams()
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tLABEL\tVALUE\tUNIT\tRANGE")
			for _, p := range params {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t[%g, %g]\n", p.Name, p.Label, strconv.FormatFloat(p.Value, 'g', -1, 64), p.Unit, p.Min, p.Max)
			}
			return tw.Flush()
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "set <name> <value>",
		Short: "Set a sweep parameter",
		Long: `Set a sweep parameter. Frequencies are in GHz, powers in dBm and the
supply current limit in mA. The new value is used by the next run.`,
		Example: `  rfcal params set f_max 2.5
  rfcal params set p_min -10`,
		Args: cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			if _, ok := config.LookupParam(args[0]); !ok {
				return fmt.Errorf("unknown parameter %q", args[0])
			}
			value, err := parseFloatArg(args[1], args[0])
			if err != nil {
				return err
			}

			ret, err := apiClient.SetParam(args[0], value)
			if err != nil {
				return fmt.Errorf("failed to set %s: %v", args[0], err)
			}

			if ret != "" {
				logrus.Infof("daemon responded: %s", responseText(ret))
			}
			return nil
		},
	})

	return cmd
}

func NewConfigCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "config",
		Short:   "Print the daemon configuration as JSON",
		GroupID: gAdvanced,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			conf, err := apiClient.GetConfig()
			if err != nil {
				return err
			}
			b, err := json.MarshalIndent(conf, "", "  ")
			if err != nil {
				return err
			}
			cmd.Println(string(b))
			return nil
		},
	}
}
