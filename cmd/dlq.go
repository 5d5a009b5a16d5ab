package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/lead-enricher/internal/resilience"
)

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Inspect and replay dead-lettered jobs",
}

var dlqListCmd = &cobra.Command{
	Use:   "list",
	Short: "List dead-lettered jobs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("store"); err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		errType, _ := cmd.Flags().GetString("error-type")
		limit, _ := cmd.Flags().GetInt("limit")

		entries, err := st.ListDLQ(ctx, resilience.DLQFilter{ErrorType: errType, Limit: limit})
		if err != nil {
			return eris.Wrap(err, "dlq list")
		}
		if len(entries) == 0 {
			fmt.Fprintln(os.Stderr, "Dead letter queue is empty.")
			return nil
		}

		formatDLQList(os.Stdout, entries)
		return nil
	},
}

var dlqReplayCmd = &cobra.Command{
	Use:   "replay [entry-id...]",
	Short: "Re-enqueue dead-lettered jobs",
	Long: "Pushes each entry's original message back onto the queue with a fresh attempt count and " +
		"removes it from the dead letter queue. With --all, every transient entry is replayed.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("enqueue"); err != nil {
			return err
		}

		all, _ := cmd.Flags().GetBool("all")
		force, _ := cmd.Flags().GetBool("force")
		if len(args) == 0 && !all {
			return eris.New("pass entry ids or --all")
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		q, rdb, err := initQueue(ctx)
		if err != nil {
			return err
		}
		defer rdb.Close() //nolint:errcheck

		var entries []resilience.DLQEntry
		if all {
			entries, err = st.ListDLQ(ctx, resilience.DLQFilter{ErrorType: resilience.ErrorTypeTransient})
			if err != nil {
				return eris.Wrap(err, "dlq replay")
			}
		}
		for _, id := range args {
			e, err := st.GetDLQ(ctx, id)
			if err != nil {
				return eris.Wrapf(err, "dlq replay %s", id)
			}
			if e == nil {
				return eris.Errorf("dlq entry %s not found", id)
			}
			entries = append(entries, *e)
		}

		replayed := 0
		for i := range entries {
			e := &entries[i]
			if !e.Replayable() && !force {
				zap.L().Warn("skipping permanent failure, use --force to replay",
					zap.String("entry_id", e.ID), zap.String("job_id", e.JobID), zap.String("error_kind", e.ErrorKind))
				continue
			}
			if _, err := q.Replay(ctx, e); err != nil {
				return eris.Wrapf(err, "dlq replay %s", e.ID)
			}
			if err := st.RemoveDLQ(ctx, e.ID); err != nil {
				return eris.Wrapf(err, "dlq remove %s", e.ID)
			}
			replayed++
		}

		fmt.Fprintf(os.Stdout, "replayed %d of %d entries\n", replayed, len(entries))
		return nil
	},
}

// formatDLQList writes a tabular list of dead letter entries to w.
func formatDLQList(out io.Writer, entries []resilience.DLQEntry) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tJOB\tTYPE\tKIND\tATTEMPTS\tLAST_FAILED\tERROR")
	_, _ = fmt.Fprintln(w, "--\t---\t----\t----\t--------\t-----------\t-----")

	for _, e := range entries {
		msg := e.Error
		if len(msg) > 60 {
			msg = msg[:57] + "..."
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d/%d\t%s\t%s\n",
			truncateID(e.ID),
			truncateID(e.JobID),
			e.ErrorType,
			e.ErrorKind,
			e.Attempts,
			e.MaxAttempts,
			e.LastFailedAt.Format("2006-01-02 15:04"),
			msg,
		)
	}
	_ = w.Flush()
}

func init() {
	dlqListCmd.Flags().String("error-type", "", "filter by error type (transient, permanent)")
	dlqListCmd.Flags().Int("limit", 50, "max number of entries to display")

	dlqReplayCmd.Flags().Bool("all", false, "replay every transient entry")
	dlqReplayCmd.Flags().Bool("force", false, "replay permanent failures too")

	dlqCmd.AddCommand(dlqListCmd)
	dlqCmd.AddCommand(dlqReplayCmd)
	rootCmd.AddCommand(dlqCmd)
}
