// Command seetrue-stub serves a local stand-in for the classification
// service so the CLI can be exercised without the real model backend.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/seetrue/internal/config"
	"github.com/fpang/seetrue/internal/logging"
	"github.com/fpang/seetrue/internal/stub"
)

var version = "dev"

var (
	configFlag     string
	batchSizeFlag  int
	batchDelayFlag time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "seetrue-stub",
	Short: "Serve a local stand-in for the classification service",
	Long: `Serve POST /classify and GET /status/{key} with a gaze-motion heuristic
in place of the trained model.

Query parameters on /classify:
  mode=sync      answer with per-row predictions instead of creating a job
  fail_after=N   fail the job after N batches`,
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE:         serve,
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&configFlag, "config", "", "Config file (yaml, json or toml)")
	f.String("listen-addr", "", "Address to listen on")
	f.String("log-level", "", "Log level: debug, info, warn, error")
	f.IntVar(&batchSizeFlag, "batch-size", stub.DefaultBatchSize, "Rows averaged into one batch")
	f.DurationVar(&batchDelayFlag, "batch-delay", stub.DefaultBatchDelay, "Pause before each batch")
}

func serve(cmd *cobra.Command, args []string) error {
	startedAt := time.Now()
	v := config.New()
	if err := config.BindFlags(v, cmd.Flags()); err != nil {
		return err
	}
	cfg, err := config.Load(v, configFlag)
	if err != nil {
		return err
	}
	logging.Init(cfg.LogLevel)

	s := stub.New(stub.Config{
		BatchSize:       batchSizeFlag,
		BatchDelay:      batchDelayFlag,
		RequiredColumns: cfg.RequiredColumns,
	})
	defer s.Close()

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info().Msg("Shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}()

	logging.NewStartupLogger("seetrue-stub").
		Version(version).
		ConfigFile(v.ConfigFileUsed()).
		Config("listenAddr", cfg.ListenAddr).
		Config("batchSize", fmt.Sprint(batchSizeFlag)).
		Config("batchDelay", batchDelayFlag.String()).
		InitDuration(time.Since(startedAt)).
		Log()
	fmt.Printf("\n  Classification stub: http://%s\n\n", cfg.ListenAddr)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
