package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/inferloop/synthcert/cmd/cli/commands"
	"github.com/inferloop/synthcert/cmd/cli/config"
)

var version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		cfgFile  string
		logLevel string
		verbose  bool
	)

	// Commands are built before flags are parsed; the App is wired once the
	// configuration is known
	app := &commands.App{}

	rootCmd := &cobra.Command{
		Use:   "synthcert",
		Short: "Privacy budget accounting and synthetic data risk assessment",
		Long: `A command-line interface for validating differentially private training
configurations, accounting their privacy spend, and evaluating whether
synthetic data is safe to release.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(viper.New(), cfgFile)
			if err != nil {
				return err
			}
			if logLevel != "" {
				cfg.Log.Level = logLevel
			}
			if verbose {
				cfg.Log.Level = "debug"
			}

			logger, err := setupLogger(cfg.Log)
			if err != nil {
				return err
			}

			if err := app.Init(cfg, logger); err != nil {
				return err
			}

			return app.Start()
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return app.Shutdown(ctx)
		},
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.synthcert.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(commands.NewValidateConfigCmd(app))
	rootCmd.AddCommand(commands.NewCalibrateCmd(app))
	rootCmd.AddCommand(commands.NewAccountCmd(app))
	rootCmd.AddCommand(commands.NewEvaluateCmd(app))
	rootCmd.AddCommand(commands.NewAssessCmd(app))

	return rootCmd
}

func setupLogger(cfg config.LogConfig) (*logrus.Logger, error) {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	logger.SetLevel(level)

	if strings.EqualFold(cfg.Format, "json") {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339,
		})
	}

	return logger, nil
}
