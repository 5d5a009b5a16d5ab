package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Process delivery objects left in the bucket once",
	Long: "Reconciles every snapshot delivery not owned by an in-flight job, applying enrichments " +
		"by handle across organizations. The worker runs the same sweep on a schedule.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "sweep", envOptions{objects: true})
		if err != nil {
			return err
		}
		defer env.Close()

		sum, err := env.Pipeline.Sweep(ctx)
		if err != nil {
			return eris.Wrap(err, "sweep")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(sum)
	},
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}
