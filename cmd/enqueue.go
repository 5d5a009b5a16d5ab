package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/lead-enricher/internal/pipeline"
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue",
	Short: "Submit an enrichment job",
	Long: "Records a pending job and pushes it onto the queue. Pass profile ids and urls in matching " +
		"order, or --capture-file with a JSON list of raw captures to upsert profiles first.",
	Example: "  lead-enricher enqueue --org org_1 --profile-id 7 --url https://www.linkedin.com/in/jane-doe\n" +
		"  lead-enricher enqueue --org org_1 --rubric 3 --capture-file captures.json",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("enqueue"); err != nil {
			return err
		}

		org, _ := cmd.Flags().GetString("org")
		jobID, _ := cmd.Flags().GetString("job-id")
		urls, _ := cmd.Flags().GetStringSlice("url")
		ids, _ := cmd.Flags().GetInt64Slice("profile-id")
		captureFile, _ := cmd.Flags().GetString("capture-file")
		var rubricID *int64
		if cmd.Flags().Changed("rubric") {
			id, _ := cmd.Flags().GetInt64("rubric")
			rubricID = &id
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

		intake := pipeline.NewIntake(st, q)

		if captureFile != "" {
			captures, err := loadCaptures(captureFile)
			if err != nil {
				return err
			}
			res, err := intake.Capture(ctx, pipeline.CaptureRequest{
				OrganizationID:  org,
				QualificationID: rubricID,
				Captures:        captures,
			})
			if err != nil {
				return eris.Wrap(err, "enqueue captures")
			}
			for _, r := range res.Rejected {
				fmt.Fprintf(os.Stderr, "rejected: %s\n", r)
			}
			fmt.Fprintf(os.Stdout, "%s (%d profiles)\n", res.JobID, len(res.ProfileIDs))
			return nil
		}

		id, err := intake.Submit(ctx, pipeline.Request{
			JobID:           jobID,
			ProfileIDs:      ids,
			URLs:            urls,
			QualificationID: rubricID,
			OrganizationID:  org,
		})
		if err != nil {
			return eris.Wrap(err, "enqueue")
		}
		fmt.Fprintln(os.Stdout, id)
		return nil
	},
}

// loadCaptures reads a JSON array of captures.
func loadCaptures(path string) ([]pipeline.Capture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "read capture file")
	}
	var captures []pipeline.Capture
	if err := json.Unmarshal(data, &captures); err != nil {
		return nil, eris.Wrap(err, "parse capture file")
	}
	return captures, nil
}

func init() {
	enqueueCmd.Flags().String("org", "", "organization id (required)")
	enqueueCmd.Flags().String("job-id", "", "job id (generated when empty)")
	enqueueCmd.Flags().StringSlice("url", nil, "profile url, repeatable")
	enqueueCmd.Flags().Int64Slice("profile-id", nil, "profile id matching each --url, repeatable")
	enqueueCmd.Flags().Int64("rubric", 0, "qualification rubric id to score against")
	enqueueCmd.Flags().String("capture-file", "", "JSON file of raw captures to upsert and enqueue")
	_ = enqueueCmd.MarkFlagRequired("org")
	enqueueCmd.MarkFlagsMutuallyExclusive("capture-file", "url")
	rootCmd.AddCommand(enqueueCmd)
}
