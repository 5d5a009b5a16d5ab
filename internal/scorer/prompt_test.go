package scorer

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-enricher/internal/model"
)

func intPtr(i int) *int { return &i }

func testRubric() *model.Rubric {
	years := 5.0
	return &model.Rubric{
		ID:          3,
		Name:        "Senior engineering leaders",
		Description: "Heads of engineering at growth-stage companies.",
		Criteria: model.RubricCriteria{
			MinConnections:     intPtr(500),
			RequiredTitles:     []string{"VP Engineering", " CTO ", ""},
			PreferredSkills:    []string{"Go", "Kubernetes"},
			MinYearsExperience: &years,
			CustomInstructions: "Penalize agency backgrounds.",
		},
	}
}

func TestBuildPrompt(t *testing.T) {
	payload := json.RawMessage("{\n  \"name\": \"Jane\",\n  \"connections\": 700\n}")
	got, err := BuildPrompt(payload, testRubric())
	require.NoError(t, err)

	assert.Contains(t, got, "Rubric: Senior engineering leaders\n")
	assert.Contains(t, got, "- Minimum connections: 500\n")
	assert.Contains(t, got, "- Required titles: VP Engineering, CTO\n")
	assert.Contains(t, got, "- Minimum years of experience: 5\n")
	assert.Contains(t, got, "Additional instructions:\nPenalize agency backgrounds.\n")
	assert.Contains(t, got, `{"name":"Jane","connections":700}`)

	// Fixed criteria order.
	assert.Less(t, strings.Index(got, "Minimum connections"), strings.Index(got, "Preferred skills"))
	assert.Less(t, strings.Index(got, "Preferred skills"), strings.Index(got, "Required titles"))
	// Custom instructions come after the criteria.
	assert.Less(t, strings.Index(got, "Minimum years"), strings.Index(got, "Additional instructions"))
}

func TestBuildPrompt_Deterministic(t *testing.T) {
	payload := json.RawMessage(`{"b": 1, "a": [1, 2]}`)
	first, err := BuildPrompt(payload, testRubric())
	require.NoError(t, err)
	for range 5 {
		again, err := BuildPrompt(payload, testRubric())
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestBuildPrompt_EmptyCriteria(t *testing.T) {
	got, err := BuildPrompt(json.RawMessage(`{}`), &model.Rubric{Name: "Anyone"})
	require.NoError(t, err)
	assert.Contains(t, got, "None specified")
	assert.NotContains(t, got, "Additional instructions")
}

func TestBuildPrompt_InvalidPayload(t *testing.T) {
	_, err := BuildPrompt(json.RawMessage(`{bad`), testRubric())
	assert.Error(t, err)
}
