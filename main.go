package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alex-thorne/ConsensusBot-sub002/api"
	"github.com/alex-thorne/ConsensusBot-sub002/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "consensusbot",
		Short:         "Decision and voting engine for team consensus",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig()
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ./config.yaml)")

	root.AddCommand(serveCmd(), remindCmd(), expireCmd(), migrateCmd())

	if err := root.ExecuteContext(context.Background()); err != nil {
		logging.Log.Errorf("consensusbot: %v", err)
		os.Exit(1)
	}
}

// loadConfig reads config.yaml when present. Every key can also come from the
// environment, e.g. STORAGE_BACKEND for storage.backend.
func loadConfig() error {
	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath("./")
	}
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	err := viper.ReadInConfig()
	var notFound viper.ConfigFileNotFoundError
	if err != nil && !errors.As(err, &notFound) {
		logging.Log.Errorf("Failed to read config file: %v", err)
		return err
	}

	logging.BootstrapLogger(viper.GetString("server.logLevel"))
	if err != nil {
		logging.Log.Info("No config file found, using environment and defaults")
	}
	return nil
}

func newServer(ctx context.Context) (*api.Server, error) {
	return api.NewServer(ctx, api.ReadConfig())
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API locally or inside the API Gateway lambda",
		RunE: func(cmd *cobra.Command, args []string) error {
			server, err := newServer(cmd.Context())
			if err != nil {
				return err
			}
			defer server.Close()

			server.Start()
			return nil
		},
	}
}

func remindCmd() *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "remind",
		Short: "Send reminders to voters who have not voted yet",
		RunE: func(cmd *cobra.Command, args []string) error {
			server, err := newServer(cmd.Context())
			if err != nil {
				return err
			}
			defer server.Close()

			if !once && os.Getenv("APP_ENV") != "local" {
				server.StartReminderLambda()
				return nil
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			report, err := server.RunReminderPass(ctx)
			if report != nil {
				logging.Log.Infof("REMINDERS: processed %d decisions, sent %d, failed %d",
					report.DecisionsProcessed, report.TotalRemindersSent, report.TotalFailed)
				for id, msg := range report.PerDecisionErrors {
					logging.Log.Warnf("REMINDERS: decision %s: %s", id, msg)
				}
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "run a single pass instead of serving the scheduled lambda")
	return cmd
}

func expireCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "expire",
		Short: "Close every active decision whose deadline has passed",
		RunE: func(cmd *cobra.Command, args []string) error {
			server, err := newServer(cmd.Context())
			if err != nil {
				return err
			}
			defer server.Close()

			closed, err := server.CloseExpired(cmd.Context())
			logging.Log.Infof("MAINTENANCE: closed %d expired decisions", closed)
			return err
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the relational schema for the sql storage backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			server, err := newServer(cmd.Context())
			if err != nil {
				return err
			}
			defer server.Close()

			return server.Migrate()
		},
	}
}
