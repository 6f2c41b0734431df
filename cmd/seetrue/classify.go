package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/seetrue/internal/classify"
	"github.com/fpang/seetrue/internal/cli"
	"github.com/fpang/seetrue/internal/session"
	"github.com/fpang/seetrue/internal/submit"
)

// refreshInterval is how often the terminal view is redrawn.
const refreshInterval = 250 * time.Millisecond

var fileFlag string

var classifyCmd = &cobra.Command{
	Use:   "classify",
	Short: "Upload a CSV file and follow the classification job",
	Long: `Upload an eye-tracking CSV export and print the batch history as the
service produces it. Ctrl-C cancels polling; the job keeps running on the
service and can be inspected later with "seetrue status".`,
	Args: cobra.NoArgs,
	RunE: runClassify,
}

func init() {
	classifyCmd.Flags().StringVarP(&fileFlag, "file", "f", "", "CSV file to classify (prompted for when omitted)")
}

func runClassify(cmd *cobra.Command, args []string) error {
	path := fileFlag
	if path == "" {
		path = cli.PromptForFile(os.Stdin, os.Stdout)
	}
	payload, err := cli.LoadPayload(path)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	notifier := session.NotifierFunc(func(key string, err error) {
		if key != "" {
			fmt.Fprintf(os.Stderr, "\n[%s] %s\n", key, cli.DescribeError(err))
			return
		}
		fmt.Fprintf(os.Stderr, "%s\n", cli.DescribeError(err))
	})
	ctrl, err := cli.InitController(ctx, cfg, notifier, out)
	if err != nil {
		return err
	}
	defer ctrl.Close()

	fmt.Fprintf(out, "Uploading %s (%d bytes) to %s\n", payload.Name, len(payload.Data), cfg.Endpoint)
	outcome, err := ctrl.Submit(ctx, payload)
	if errors.Is(err, session.ErrClosed) {
		return err
	}
	if err != nil {
		return &exitError{code: cli.ExitCode(err)}
	}

	if outcome.Kind == submit.Immediate {
		fmt.Fprintf(out, "Classified %d rows:\n", len(outcome.Predictions))
		for i, row := range outcome.Predictions {
			fmt.Fprintln(out, cli.FormatPrediction(i, row))
		}
		return nil
	}

	fmt.Fprintf(out, "Job %s accepted, polling every %s\n", outcome.JobKey, cfg.PollInterval)
	err = follow(ctx, ctrl, out)
	log.Debug().Str("jobKey", outcome.JobKey).Err(err).Msg("Classify command finished")
	if err != nil {
		return &exitError{code: cli.ExitCode(err)}
	}
	return nil
}

// follow redraws new batches until the job ends. Cancelling ctx closes the
// controller, which stops polling.
func follow(ctx context.Context, ctrl *session.Controller, out io.Writer) error {
	done := make(chan error, 1)
	go func() { done <- ctrl.Wait(context.Background()) }()

	r := &renderer{out: out, labels: cfg.LabelSet(), start: time.Now()}
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()

	cancelled := ctx.Done()
	for {
		select {
		case <-cancelled:
			cancelled = nil
			ctrl.Close()
		case <-ticker.C:
			r.draw(ctrl.Snapshot())
		case err := <-done:
			r.draw(ctrl.Snapshot())
			r.summary(err)
			return err
		}
	}
}

// renderer prints each batch once, plus a line whenever the current label
// changes.
type renderer struct {
	out     io.Writer
	labels  classify.LabelSet
	start   time.Time
	printed int
	current classify.Label
	final   classify.Label
}

func (r *renderer) draw(s session.Snapshot) {
	batches := s.Results.Batches
	for ; r.printed < len(batches); r.printed++ {
		if r.printed == 0 {
			fmt.Fprintln(r.out, "Batches:")
		}
		fmt.Fprintln(r.out, cli.FormatBatch(batches[r.printed], r.labels))
	}
	if cur := s.Results.CurrentLabel; cur != "" && cur != r.current {
		r.current = cur
		fmt.Fprintf(r.out, "Current activity: %s  [%s]\n", cur, cli.FormatDurationShort(time.Since(r.start)))
	}
	if s.Results.Final != nil {
		r.final = s.Results.Final.FinalLabel
	}
}

func (r *renderer) summary(err error) {
	if err != nil {
		fmt.Fprintf(r.out, "Stopped after %d batches (%s)\n", r.printed, cli.FormatDurationShort(time.Since(r.start)))
		return
	}
	fmt.Fprintf(r.out, "Final activity: %s  (%d batches, %s)\n", r.final, r.printed, cli.FormatDurationShort(time.Since(r.start)))
}
