package main

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/lead-enricher/internal/model"
	"github.com/sells-group/lead-enricher/internal/store"
)

var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Inspect enrichment jobs",
	Long:  "Commands for listing, viewing, and summarizing enrichment jobs.",
}

// -- job list --

var jobListCmd = &cobra.Command{
	Use:   "list",
	Short: "List enrichment jobs",
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

		state, _ := cmd.Flags().GetString("state")
		org, _ := cmd.Flags().GetString("org")
		limit, _ := cmd.Flags().GetInt("limit")

		jobs, err := st.ListJobs(ctx, store.JobFilter{
			State:          model.JobState(state),
			OrganizationID: org,
			Limit:          limit,
		})
		if err != nil {
			return eris.Wrap(err, "job list")
		}

		if len(jobs) == 0 {
			fmt.Fprintln(os.Stderr, "No jobs found.")
			return nil
		}

		formatJobsList(os.Stdout, jobs)
		return nil
	},
}

// -- job show --

// jobDetail is what job show prints: the row plus its transition history.
type jobDetail struct {
	*model.Job
	Events []model.JobEvent `json:"events"`
}

var jobShowCmd = &cobra.Command{
	Use:   "show <job-id>",
	Short: "Show a job and its state transitions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("store"); err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		job, err := st.GetJob(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "job show")
		}
		if job == nil {
			return eris.Errorf("job %s not found", args[0])
		}
		events, err := st.ListJobEvents(ctx, job.ID)
		if err != nil {
			return eris.Wrap(err, "job show: events")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(jobDetail{Job: job, Events: events})
	},
}

// -- job stats --

var jobStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate job statistics",
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

		since, _ := cmd.Flags().GetDuration("since")
		filter := store.JobFilter{Limit: 10000}
		if since > 0 {
			filter.CreatedAfter = time.Now().Add(-since)
		}

		jobs, err := st.ListJobs(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "job stats")
		}

		formatJobStats(os.Stdout, computeJobStats(jobs))
		return nil
	},
}

func init() {
	jobListCmd.Flags().String("state", "", "filter by state (pending, scraping, enriching, qualifying, completed, failed)")
	jobListCmd.Flags().String("org", "", "filter by organization id")
	jobListCmd.Flags().Int("limit", 50, "max number of jobs to display")

	jobStatsCmd.Flags().Duration("since", 24*time.Hour, "time window for stats (e.g. 24h, 72h, 168h)")

	jobCmd.AddCommand(jobListCmd)
	jobCmd.AddCommand(jobShowCmd)
	jobCmd.AddCommand(jobStatsCmd)
	rootCmd.AddCommand(jobCmd)
}

// jobStats holds aggregate statistics computed from a set of jobs.
type jobStats struct {
	Total      int
	Completed  int
	Failed     int
	InProgress int
	ByKind     map[string]int
	Requested  int
	Enriched   int
	AvgDurSecs float64
}

// computeJobStats computes aggregate statistics from a list of jobs.
func computeJobStats(jobs []model.Job) jobStats {
	s := jobStats{Total: len(jobs), ByKind: make(map[string]int)}

	var totalDur time.Duration
	var durCount int

	for _, j := range jobs {
		switch j.State {
		case model.JobStateCompleted:
			s.Completed++
			if j.CompletedAt != nil {
				totalDur += j.CompletedAt.Sub(j.CreatedAt)
				durCount++
			}
		case model.JobStateFailed:
			s.Failed++
			kind := j.ErrorKind
			if kind == "" {
				kind = "unclassified"
			}
			s.ByKind[kind]++
		default:
			s.InProgress++
		}
		if j.Summary != nil {
			s.Requested += j.Summary.Requested
			s.Enriched += j.Summary.Enriched
		}
	}

	if durCount > 0 {
		s.AvgDurSecs = totalDur.Seconds() / float64(durCount)
	}
	return s
}

// formatJobsList writes a tabular list of jobs to w.
func formatJobsList(out io.Writer, jobs []model.Job) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tORG\tSTATE\tATTEMPT\tCOVERAGE\tERROR_KIND\tCREATED")
	_, _ = fmt.Fprintln(w, "--\t---\t-----\t-------\t--------\t----------\t-------")

	for _, j := range jobs {
		coverage := fmt.Sprintf("%d requested", len(j.URLs))
		if j.Summary != nil {
			coverage = j.Summary.String()
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			truncateID(j.ID),
			j.OrganizationID,
			j.State,
			j.Attempt,
			coverage,
			j.ErrorKind,
			j.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

// formatJobStats writes aggregate stats to w.
func formatJobStats(out io.Writer, s jobStats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Total jobs:\t%d\n", s.Total)
	_, _ = fmt.Fprintf(w, "Completed:\t%d\n", s.Completed)
	_, _ = fmt.Fprintf(w, "Failed:\t%d\n", s.Failed)
	for _, kind := range slices.Sorted(maps.Keys(s.ByKind)) {
		_, _ = fmt.Fprintf(w, "  %s:\t%d\n", kind, s.ByKind[kind])
	}
	_, _ = fmt.Fprintf(w, "In progress:\t%d\n", s.InProgress)
	if s.Requested > 0 {
		_, _ = fmt.Fprintf(w, "Profiles enriched:\t%d of %d (%.1f%%)\n",
			s.Enriched, s.Requested, 100*float64(s.Enriched)/float64(s.Requested))
	}
	if s.AvgDurSecs > 0 {
		_, _ = fmt.Fprintf(w, "Avg duration:\t%.1fs\n", s.AvgDurSecs)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
