package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/fpang/seetrue/internal/cli"
	"github.com/fpang/seetrue/internal/config"
	"github.com/fpang/seetrue/internal/logging"
	"github.com/fpang/seetrue/internal/poll"
	"github.com/fpang/seetrue/internal/service"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	configFlag string
	v          = config.New()
	cfg        *config.Config
	startedAt  = time.Now()
)

// exitError carries an exit status for a failure already shown to the user.
type exitError struct{ code int }

func (e *exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

var rootCmd = &cobra.Command{
	Use:   "seetrue",
	Short: "Classify eye-tracking recordings into activities",
	Long: `Seetrue uploads an eye-tracking CSV export to the classification service
and follows the job until the service settles on a final activity
(walking, reading or playing), printing each batch as it arrives.

Settings come from flags, SEETRUE_* environment variables and an optional
config file, in that order of precedence.

Examples:
  seetrue classify --file session.csv
  seetrue classify -f session.csv --poll-interval 2s --max-poll-duration 5m
  seetrue status job-3f2a...
  seetrue history job-3f2a... --config ~/.seetrue.yaml`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: loadConfig,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configFlag, "config", "", "Config file (yaml, json or toml)")
	pf.String("endpoint", "", "Base URL of the classification service")
	pf.String("log-level", "", "Log level: debug, info, warn, error")
	pf.Duration("poll-interval", poll.DefaultInterval, "Time between status queries")
	pf.Duration("max-poll-duration", 0, "Give up on a job after this long (0 = never)")
	pf.Duration("request-timeout", service.DefaultTimeout, "Timeout of a single HTTP request")
	pf.Bool("compress-upload", false, "Gzip upload bodies")
	pf.String("history-table", "", "DynamoDB table for job history (empty disables history)")
	pf.Bool("metrics-enabled", false, "Print one CloudWatch EMF line per finished job")

	rootCmd.AddCommand(classifyCmd, statusCmd, historyCmd)
}

func loadConfig(cmd *cobra.Command, args []string) error {
	if err := config.BindFlags(v, cmd.Flags()); err != nil {
		return err
	}
	var err error
	cfg, err = config.Load(v, configFlag)
	if err != nil {
		return err
	}
	logging.Init(cfg.LogLevel)

	logging.NewStartupLogger("seetrue").
		Version(version).
		ConfigFile(configFile(v)).
		Endpoint("service", cfg.Endpoint).
		DynamoTable("history", cfg.HistoryTable).
		Feature("compressUpload", cfg.CompressUpload).
		Feature("metrics", cfg.MetricsEnabled).
		Feature("requireBatchBeforeFinal", cfg.RequireBatchBeforeFinal).
		Config("command", cmd.Name()).
		Config("pollInterval", cfg.PollInterval.String()).
		Config("maxPollDuration", cfg.MaxPollDuration.String()).
		InitDuration(time.Since(startedAt)).
		Log()
	return nil
}

func configFile(v *viper.Viper) string {
	if configFlag == "" {
		return ""
	}
	return v.ConfigFileUsed()
}

func main() {
	err := rootCmd.Execute()
	if err == nil {
		return
	}
	var ee *exitError
	if errors.As(err, &ee) {
		os.Exit(ee.code)
	}
	fmt.Fprintln(os.Stderr, cli.DescribeError(err))
	os.Exit(cli.ExitCode(err))
}
