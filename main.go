package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"crashcounter/internal/app"
	"crashcounter/internal/config"
	"crashcounter/internal/logging"
	"crashcounter/internal/secret"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// cli carries what PersistentPreRunE builds for every subcommand.
type cli struct {
	configPath string
	logLevel   string
	envFile    string

	cfg     *config.Config
	logger  *zap.Logger
	secrets secret.SecretStore
}

func (c *cli) newApp() *app.App {
	return app.New(c.cfg, c.logger, c.secrets)
}

func rootCmd() *cobra.Command {
	c := &cli{}

	cmd := &cobra.Command{
		Use:           "crashcounter",
		Short:         "Mirror NYC motor vehicle collision datasets into SQL",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(c.configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("log-level") {
				cfg.LogLevel = c.logLevel
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config:\n%w", err)
			}

			logger, err := logging.New(cfg.LogLevel)
			if err != nil {
				return err
			}
			secrets, err := secret.NewEnvStore(c.envFile)
			if err != nil {
				return err
			}
			c.cfg, c.logger, c.secrets = cfg, logger, secrets
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if c.logger != nil {
				_ = c.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVarP(&c.configPath, "config", "c", os.Getenv("CRASHCOUNTER_CONFIG"), "YAML config file")
	cmd.PersistentFlags().StringVar(&c.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&c.envFile, "env-file", ".env", "Dotenv file with credentials")

	cmd.AddCommand(
		refreshCmd(c),
		scheduleCmd(c),
		runsCmd(c),
		datasetsCmd(c),
		triggerCmd(c),
	)
	return cmd
}
