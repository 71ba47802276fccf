package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"
	"unicode"

	"github.com/spf13/cobra"

	"github.com/aa-proxy/aa-proxy-go/internal/config"
	"github.com/aa-proxy/aa-proxy-go/internal/ledctl"
	"github.com/aa-proxy/aa-proxy-go/internal/supervisor"
	"github.com/aa-proxy/aa-proxy-go/internal/sysconfig"
	"github.com/aa-proxy/aa-proxy-go/internal/webadmin"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const shutdownGrace = 2 * time.Second

// formatVersion adds a 'v' prefix if version starts with a digit.
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

// rootCmd represents the base command when called without any subcommands;
// its RunE behaves like the original single-binary daemon, or, with
// --generate-system-config, does what the generate-system-config
// subcommand does.
var rootCmd = &cobra.Command{
	Use:   "aa-proxy-go",
	Short: "Android Auto wireless proxy",
	Long: `aa-proxy-go bridges a car head unit and a phone speaking the Android
Auto wireless protocol: it owns the USB gadget, Bluetooth bootstrap and
TLS-terminated relay between the two sides, optionally rewriting a handful
of messages along the way.`,
	Version: formatVersion(version),
	RunE:    runServe,
}

var generateSystemConfigCmd = &cobra.Command{
	Use:   "generate-system-config",
	Short: "Render hostapd.conf and the USB gadget strings file, then exit",
	RunE:  runGenerateSystemConfig,
}

func main() {
	sysconfig.SetVersion(version)

	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}

func init() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	rootCmd.PersistentFlags().StringP("config", "c", "/etc/aa-proxy-rs/config.toml", "Configuration file path")
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().Bool("disable-console-debug", false, "Cap console logging at info level regardless of --debug")
	rootCmd.Flags().Bool("generate-system-config", false, "Render hostapd.conf and the USB gadget strings file, then exit")

	rootCmd.AddCommand(generateSystemConfigCmd)
}

func loadConfig(cmd *cobra.Command) (*config.AppConfig, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfigInvalid, err)
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	if generate, _ := cmd.Flags().GetBool("generate-system-config"); generate {
		return runGenerateSystemConfig(cmd, args)
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := configureLogger(cmd, cfg)

	logger.WithFields(map[string]any{
		"version": version,
		"commit":  commit,
		"date":    date,
	}).Info("aa-proxy-go starting")

	shared := config.NewSharedConfig(*cfg)
	sup := supervisor.New(logger, shared, ledctl.Noop{})

	admin := webadmin.New(logger, shared, *cfg, sup.ActiveSession)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- admin.ListenAndServe()
	}()

	supErr := sup.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := admin.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("webadmin: shutdown")
	}

	select {
	case err := <-errCh:
		if err != nil {
			logger.WithError(err).Warn("webadmin: server exited")
		}
	default:
	}

	if supErr != nil && !errors.Is(supErr, context.Canceled) {
		return supErr
	}
	return nil
}

func runGenerateSystemConfig(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := configureLogger(cmd, cfg)
	return sysconfig.GenerateAll(logger, *cfg)
}
