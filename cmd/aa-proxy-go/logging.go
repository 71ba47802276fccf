package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/aa-proxy/aa-proxy-go/internal/config"
)

// configureLogger applies --debug/--disable-console-debug overrides onto cfg
// and builds the logger the rest of the command uses, via
// config.AppConfig.NewLogger.
func configureLogger(cmd *cobra.Command, cfg *config.AppConfig) *logrus.Logger {
	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		cfg.Debug = true
	}
	if quiet, _ := cmd.Flags().GetBool("disable-console-debug"); quiet {
		cfg.DisableConsoleDebug = true
	}
	return cfg.NewLogger()
}
