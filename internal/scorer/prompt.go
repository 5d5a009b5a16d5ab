package scorer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-enricher/internal/model"
)

const systemPrompt = `You evaluate professional profiles against an organization's qualification rubric.
Score the profile from 0 to 100, where 70 or higher means the profile qualifies.
Respond with a single JSON object and nothing else:
{"score": <number 0-100>, "reasoning": "<two or three sentences>", "passed": <true|false>}`

// BuildPrompt renders the user message for one (profile, rubric) pair. The
// output depends only on its inputs: criteria appear in a fixed order and the
// payload is compacted.
func BuildPrompt(payload json.RawMessage, r *model.Rubric) (string, error) {
	var compact bytes.Buffer
	if err := json.Compact(&compact, payload); err != nil {
		return "", eris.Wrap(err, "scorer: compact payload")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Rubric: %s\n", r.Name)
	if d := strings.TrimSpace(r.Description); d != "" {
		fmt.Fprintf(&b, "Description: %s\n", d)
	}

	c := r.Criteria
	b.WriteString("\nCriteria:\n")
	n := b.Len()
	if c.MinConnections != nil {
		fmt.Fprintf(&b, "- Minimum connections: %d\n", *c.MinConnections)
	}
	if c.MinFollowers != nil {
		fmt.Fprintf(&b, "- Minimum followers: %d\n", *c.MinFollowers)
	}
	writeList(&b, "Required skills", c.RequiredSkills)
	writeList(&b, "Preferred skills", c.PreferredSkills)
	writeList(&b, "Required titles", c.RequiredTitles)
	writeList(&b, "Preferred titles", c.PreferredTitles)
	writeList(&b, "Required companies", c.RequiredCompanies)
	writeList(&b, "Preferred companies", c.PreferredCompanies)
	writeList(&b, "Required education", c.RequiredEducation)
	if c.MinYearsExperience != nil {
		fmt.Fprintf(&b, "- Minimum years of experience: %g\n", *c.MinYearsExperience)
	}
	if b.Len() == n {
		b.WriteString("- None specified; judge overall seniority and fit with the description.\n")
	}

	if ci := strings.TrimSpace(c.CustomInstructions); ci != "" {
		fmt.Fprintf(&b, "\nAdditional instructions:\n%s\n", ci)
	}

	fmt.Fprintf(&b, "\nProfile JSON:\n%s\n", compact.String())
	return b.String(), nil
}

func writeList(b *strings.Builder, label string, items []string) {
	var clean []string
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			clean = append(clean, it)
		}
	}
	if len(clean) > 0 {
		fmt.Fprintf(b, "- %s: %s\n", label, strings.Join(clean, ", "))
	}
}
