// Package cli holds the cobra commands of the nearby binary.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/fatih/color"
	"github.com/rudransh-shrivastava/nearby/internal/config"
	"github.com/rudransh-shrivastava/nearby/internal/logger"
	"github.com/spf13/cobra"
)

var (
	success = color.New(color.FgGreen).SprintFunc()
	failure = color.New(color.FgRed).SprintFunc()
	notice  = color.New(color.FgCyan).SprintFunc()
)

var (
	envFile  string
	logLevel string
	logFile  string
	dbPath   string
)

var rootCmd = &cobra.Command{
	Use:           `nearby`,
	Long:          `nearby shares files directly between peers on the same network or behind a rendezvous server`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, failure("Error:"), err)
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&envFile, "env", ".env", "dotenv file to load")
	flags.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn or error")
	flags.StringVar(&logFile, "log-file", "", "also write JSON logs to this file")
	flags.StringVar(&dbPath, "db", "", "path of the shared file catalog")

	rootCmd.AddCommand(shareCmd)
	rootCmd.AddCommand(unshareCmd)
	rootCmd.AddCommand(filesCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(requestCmd)
	rootCmd.AddCommand(rendezvousCmd)
}

// setup loads the configuration, lets the command apply its flag
// overrides, and builds the logger. The returned closer flushes the log
// file.
func setup(overrides func(*config.Config)) (config.Config, *slog.Logger, io.Closer, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return config.Config{}, nil, nil, err
	}

	override(&cfg.LogLevel, logLevel)
	override(&cfg.LogFile, logFile)
	override(&cfg.DBPath, dbPath)
	if overrides != nil {
		overrides(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, nil, nil, err
	}

	log, closer, err := logger.New(logger.Options{Level: cfg.LogLevel, File: cfg.LogFile, Out: os.Stderr})
	if err != nil {
		return config.Config{}, nil, nil, err
	}
	slog.SetDefault(log)
	return cfg, log, closer, nil
}

func override[T comparable](dst *T, v T) {
	var zero T
	if v != zero {
		*dst = v
	}
}
