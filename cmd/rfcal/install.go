package main

import (
	"fmt"
	"os"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/charlie0129/rfcal/pkg/config"
	daemonutils "github.com/charlie0129/rfcal/pkg/utils/daemon"
)

// NewInstallCommand .
func NewInstallCommand() *cobra.Command {
	allowNonRootAccess := false

	cmd := &cobra.Command{
		Use:         "install",
		Short:       "Install rfcal daemon as a systemd service",
		GroupID:     gInstallation,
		Annotations: map[string]string{annotationLocal: "true"},
		Long: `Install rfcal daemon as a systemd service.

This makes rfcal run in the background and automatically start on boot. You must run this command as root.

By default, only root user is allowed to access the rfcal daemon. Use the --allow-non-root-access flag to let other users run calibrations without sudo.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			conf, err := config.NewFile(configPath)
			if err != nil {
				return err
			}

			conf.SetAllowNonRootAccess(allowNonRootAccess)
			if allowNonRootAccess {
				logrus.Info("non-root users are allowed to access the rfcal daemon.")
			} else {
				logrus.Info("only root user is allowed to access the rfcal daemon.")
			}

			err = conf.Save()
			if err != nil {
				return pkgerrors.Wrapf(err, "failed to save config")
			}

			err = daemonutils.Install(configPath, unixSocketPath)
			if err != nil {
				// check if current user is root
				if os.Geteuid() != 0 {
					logrus.Errorf("you must run this command as root")
				}
				return fmt.Errorf("failed to install daemon: %v", err)
			}

			logrus.Infof("installation succeeded")

			exePath, _ := os.Executable()

			cmd.Printf("systemd will use current binary (%s) at startup so please make sure you do not move this binary. Once this binary is moved or deleted, you will need to run `rfcal install' again.\n", exePath)

			return nil
		},
	}

	cmd.Flags().BoolVar(&allowNonRootAccess, "allow-non-root-access", false, "Allow non-root users to access rfcal daemon.")

	return cmd
}

// NewUninstallCommand .
func NewUninstallCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "uninstall",
		Short:       "Uninstall rfcal systemd service",
		GroupID:     gInstallation,
		Annotations: map[string]string{annotationLocal: "true"},
		Long: `Uninstall rfcal systemd service.

This stops the daemon and removes its unit. Calibration tables and stored results are kept.

You must run this command as root.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			err := daemonutils.Uninstall()
			if err != nil {
				// check if current user is root
				if os.Geteuid() != 0 {
					logrus.Errorf("you must run this command as root")
				}
				return fmt.Errorf("failed to uninstall daemon: %v", err)
			}

			fmt.Println("successfully uninstalled")

			cmd.Printf("Your config is kept in %s, in case you want to use `rfcal' again.\n", configPath)

			return nil
		},
	}
}
