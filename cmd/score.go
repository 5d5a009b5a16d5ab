package main

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/lead-enricher/internal/model"
	"github.com/sells-group/lead-enricher/internal/registry"
	"github.com/sells-group/lead-enricher/internal/resilience"
	"github.com/sells-group/lead-enricher/internal/scorer"
)

var scoreCmd = &cobra.Command{
	Use:   "score <profile-id>",
	Short: "Score one profile's stored enrichment against a rubric",
	Long: "Asks the judge for a verdict on the profile's enrichment. With --rubric the result is " +
		"stored like any automatic qualification. With --rubric-file the rubric is read from a " +
		"fixture and the verdict is only printed.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("store"); err != nil {
			return err
		}

		profileID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil || profileID <= 0 {
			return eris.Errorf("invalid profile id %q", args[0])
		}
		rubricID, _ := cmd.Flags().GetInt64("rubric")
		rubricFile, _ := cmd.Flags().GetString("rubric-file")
		rubricName, _ := cmd.Flags().GetString("rubric-name")
		if (rubricID > 0) == (rubricFile != "") {
			return eris.New("pass exactly one of --rubric or --rubric-file")
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		enrichment, err := st.GetEnrichment(ctx, profileID)
		if err != nil {
			return eris.Wrap(err, "score: load enrichment")
		}
		if enrichment == nil {
			return eris.Errorf("profile %d has no enrichment", profileID)
		}

		judge := initJudge(resilience.NewServiceBreakers(circuitConfig()))
		if judge == nil {
			return scorer.ErrJudgeNotConfigured
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		if rubricFile != "" {
			rubric, err := pickRubric(rubricFile, rubricName)
			if err != nil {
				return err
			}
			payload, err := enrichment.Payload()
			if err != nil {
				return eris.Wrap(err, "score: payload")
			}
			v, err := judge.Score(ctx, payload, rubric)
			if err != nil {
				return eris.Wrap(err, "score")
			}
			return enc.Encode(map[string]any{
				"profile_id": profileID,
				"rubric":     rubric.Name,
				"score":      v.Score,
				"passed":     v.Passed,
				"reasoning":  v.Reasoning,
			})
		}

		rubric, err := st.GetRubric(ctx, rubricID)
		if err != nil {
			return eris.Wrap(err, "score: load rubric")
		}
		if rubric == nil {
			return eris.Errorf("rubric %d not found", rubricID)
		}
		res, err := scorer.NewQualifier(judge, st, 1).Qualify(ctx, profileID, enrichment, rubric)
		if err != nil {
			return eris.Wrap(err, "score")
		}
		return enc.Encode(res)
	},
}

// pickRubric loads a fixture and returns the rubric named name, or the only
// rubric when name is empty.
func pickRubric(path, name string) (*model.Rubric, error) {
	rubrics, err := registry.LoadRubricsFromFile(path)
	if err != nil {
		return nil, err
	}
	if name == "" {
		if len(rubrics) != 1 {
			return nil, eris.Errorf("%s holds %d rubrics, pass --rubric-name", path, len(rubrics))
		}
		return &rubrics[0], nil
	}
	for i := range rubrics {
		if strings.EqualFold(rubrics[i].Name, name) {
			return &rubrics[i], nil
		}
	}
	return nil, eris.Errorf("rubric %q not in %s", name, path)
}

func init() {
	scoreCmd.Flags().Int64("rubric", 0, "stored rubric id")
	scoreCmd.Flags().String("rubric-file", "", "YAML rubric fixture to score against without storing")
	scoreCmd.Flags().String("rubric-name", "", "rubric name within --rubric-file")
	rootCmd.AddCommand(scoreCmd)
}
