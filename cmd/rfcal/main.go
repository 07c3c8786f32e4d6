package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/charlie0129/rfcal/pkg/client"
	"github.com/charlie0129/rfcal/pkg/version"
)

var (
	logLevel       = "info"
	unixSocketPath = "/var/run/rfcal.sock"
	configPath     = "/etc/rfcal.json"
)

var apiClient *client.Client

var (
	gCalibration  = "Calibration:"
	gMeasurement  = "Measurement:"
	gAdvanced     = "Advanced:"
	gInstallation = "Installation:"
	commandGroups = []string{
		gCalibration,
		gMeasurement,
		gAdvanced,
		gInstallation,
	}
)

func setupLogger() error {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("failed to parse log level: %v", err)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{})
	if term.IsTerminal(int(os.Stderr.Fd())) {
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.Kitchen,
		})
	}

	return nil
}

func handleCmdError(err error) {
	if errors.Is(err, client.ErrDaemonNotRunning) {
		fmt.Fprintln(os.Stderr, "\nError: rfcal daemon is not running")
		fmt.Fprintln(os.Stderr, "Start it with 'rfcal daemon' or check --daemon-socket.")
	} else if errors.Is(err, client.ErrPermissionDenied) {
		fmt.Fprintln(os.Stderr, "\nError: Permission Denied")
		fmt.Fprintln(os.Stderr, "  - Try running the command again with 'sudo'")
		fmt.Fprintln(os.Stderr, "  - Or restart the daemon with the '--always-allow-non-root-access' flag to grant permissions to your user")
	} else if errors.Is(err, client.ErrConflict) {
		fmt.Fprintln(os.Stderr, "\nThe bench is busy or a prerequisite is missing. See 'rfcal run status'.")
	}
}

func main() {
	cmd := NewCommand()
	if err := cmd.Execute(); err != nil {
		handleCmdError(err)
		os.Exit(1)
	}
}

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rfcal",
		Short: "rfcal calibrates an RF measurement bench and runs corrected power sweeps",
		Long: `rfcal calibrates an RF measurement bench and runs corrected power sweeps.

A daemon owns the bench instruments. The input calibration measures the path
from the generator to the device under test, the output calibration measures
the path from the device to the meter. Both tables are combined into a
measurement task whose readings are corrected and stored.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			err := setupLogger()
			if err != nil {
				return err
			}

			apiClient = client.NewClient(unixSocketPath)

			// The daemon itself and local-only commands do not talk to a daemon.
			if cmd.Annotations[annotationLocal] != "" {
				return nil
			}

			if daemonVersion, err := apiClient.GetVersion(); err == nil {
				if daemonVersion != version.Version {
					logrus.WithFields(logrus.Fields{
						"clientVersion": version.Version,
						"daemonVersion": daemonVersion,
					}).Warn("Version mismatch between client and daemon. rfcal may not work as expected.")
				}
			}

			return nil
		},
	}

	globalFlags := cmd.PersistentFlags()
	globalFlags.StringVarP(&logLevel, "log-level", "l", "info", "log level (trace, debug, info, warn, error, fatal, panic)")
	globalFlags.StringVar(&configPath, "config", configPath, "config file path")
	globalFlags.StringVar(&unixSocketPath, "daemon-socket", unixSocketPath, "rfcal daemon unix socket path")

	for _, i := range commandGroups {
		cmd.AddGroup(&cobra.Group{
			ID:    i,
			Title: i,
		})
	}

	cmd.AddCommand(
		NewDaemonCommand(),
		NewVersionCommand(),
		NewStatusCommand(),
		NewCalibrateCommand(),
		NewTaskCommand(),
		NewMeasureCommand(),
		NewResultsCommand(),
		NewRunCommand(),
		NewParamsCommand(),
		NewScheduleCommand(),
		NewConfigCommand(),
		NewInstallCommand(),
		NewUninstallCommand(),
	)

	return cmd
}
