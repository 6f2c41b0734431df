package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/fpang/seetrue/internal/classify"
	"github.com/fpang/seetrue/internal/cli"
	"github.com/fpang/seetrue/internal/store"
)

var deleteFlag bool

var statusCmd = &cobra.Command{
	Use:   "status <job-key>",
	Short: "Query the service once for a job's status",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

var historyCmd = &cobra.Command{
	Use:   "history <job-key>",
	Short: "Show (or delete) the stored record of a finished job",
	Long: `Read the record written when a job ended from the configured DynamoDB
history table. Requires --history-table or SEETRUE_HISTORY_TABLE.`,
	Args: cobra.ExactArgs(1),
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().BoolVar(&deleteFlag, "delete", false, "Delete the record instead of printing it")
}

// checkKey rejects keys that cannot be a single path segment. Keys issued by
// the service are otherwise opaque.
func checkKey(key string) error {
	if strings.TrimSpace(key) == "" || strings.ContainsAny(key, "/?#") {
		return classify.Validation(fmt.Sprintf("invalid job key %q", key))
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	key := args[0]
	if err := checkKey(key); err != nil {
		return err
	}
	resp, err := cli.NewClient(cfg).Status(cmd.Context(), key)
	if err != nil {
		return classify.Transport("status", err)
	}

	out := cmd.OutOrStdout()
	labels := cfg.LabelSet()
	fmt.Fprintf(out, "Job %s: %s\n", key, resp.Status)
	for i, wb := range resp.Batches {
		b, err := wb.Decode(labels, i)
		if err != nil {
			fmt.Fprintf(out, "  #%-3d %s (%v)\n", i, wb.HighestClass, err)
			continue
		}
		fmt.Fprintln(out, cli.FormatBatch(b, labels))
	}
	if resp.FinalResult != nil {
		fmt.Fprintf(out, "Final activity: %s\n", resp.FinalResult.FinalActivity)
	}
	if resp.Error != "" {
		fmt.Fprintf(out, "Error: %s\n", resp.Error)
	}
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	key := args[0]
	if err := checkKey(key); err != nil {
		return err
	}
	hs, err := cli.InitHistoryStore(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	if hs == nil {
		return errors.New("job history is disabled: set history_table")
	}

	if deleteFlag {
		if err := hs.DeleteJob(cmd.Context(), key); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted history of %s\n", key)
		return nil
	}

	rec, err := hs.GetJob(cmd.Context(), key)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("no history for %s", key)
	}
	printRecord(cmd.OutOrStdout(), rec)
	return nil
}

func printRecord(out io.Writer, rec *store.JobRecord) {
	fmt.Fprintf(out, "Job %s (%s)\n", rec.Key, rec.Source)
	fmt.Fprintf(out, "  status:    %s\n", rec.Status)
	fmt.Fprintf(out, "  outcome:   %s\n", rec.Outcome)
	if rec.FinalLabel != "" {
		fmt.Fprintf(out, "  final:     %s\n", rec.FinalLabel)
	}
	if rec.Error != "" {
		fmt.Fprintf(out, "  error:     %s\n", rec.Error)
	}
	fmt.Fprintf(out, "  polls:     %d\n", rec.Ticks)
	if rec.SubmittedAt > 0 {
		fmt.Fprintf(out, "  submitted: %s\n", time.Unix(rec.SubmittedAt, 0).Format(time.RFC3339))
	}
	if rec.FinishedAt > 0 {
		fmt.Fprintf(out, "  finished:  %s\n", time.Unix(rec.FinishedAt, 0).Format(time.RFC3339))
	}
	labels := cfg.LabelSet()
	for _, b := range rec.Batches {
		fmt.Fprintln(out, cli.FormatBatch(classify.Batch{
			SequenceIndex: b.Index,
			DominantLabel: classify.Label(b.Label),
			Measures:      b.Measures,
		}, labels))
	}
}
