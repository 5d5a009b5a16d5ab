package scorer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSONObject(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"bare", `{"score": 80}`, `{"score": 80}`, false},
		{"prose around", "Here you go:\n{\"score\": 80, \"reasoning\": \"ok\"}\nThanks!", `{"score": 80, "reasoning": "ok"}`, false},
		{"fenced", "```json\n{\"score\": 1}\n```", `{"score": 1}`, false},
		{"nested", `x {"score": 5, "detail": {"a": {"b": 1}}} y {"score": 9}`, `{"score": 5, "detail": {"a": {"b": 1}}}`, false},
		{"brace in string", `{"reasoning": "uses {curly} braces }", "score": 70}`, `{"reasoning": "uses {curly} braces }", "score": 70}`, false},
		{"escaped quote", `{"reasoning": "said \"hi}\"", "score": 70}`, `{"reasoning": "said \"hi}\"", "score": 70}`, false},
		{"skips non-json braces", `Consider {this} then {"score": 3}`, `{"score": 3}`, false},
		{"skips unbalanced opener", `oops { and {"score": 3}`, `{"score": 3}`, false},
		{"none", "I cannot evaluate this profile.", "", true},
		{"unterminated", `{"score": 80`, "", true},
		{"empty", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSONObject(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrNoJSON)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   float64
		want int
	}{
		{85.7, 86},
		{85.5, 86},
		{85.4, 85},
		{69.5, 70},
		{69.49, 69},
		{-3, 0},
		{-0.4, 0},
		{100.4, 100},
		{250, 100},
		{0, 0},
		{100, 100},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Normalize(tt.in), "Normalize(%v)", tt.in)
	}
}

func TestNormalize_PassedInvariant(t *testing.T) {
	for raw := -20.0; raw <= 130; raw += 0.25 {
		s := Normalize(raw)
		assert.GreaterOrEqual(t, s, 0)
		assert.LessOrEqual(t, s, 100)
		assert.Equal(t, s >= 70, Passed(s))
	}
}

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		name        string
		in          string
		wantScore   int
		wantPassed  bool
		wantReason  string
		wantClaimed *bool
		wantErr     error
	}{
		{
			name:        "judge pass flag is ignored",
			in:          `{"score": 85.7, "reasoning": "Strong fit.", "passed": false}`,
			wantScore:   86,
			wantPassed:  true,
			wantReason:  "Strong fit.",
			wantClaimed: boolPtr(false),
		},
		{
			name:       "string score",
			in:         `Result: {"score": " 72 ", "reasoning": "ok"}`,
			wantScore:  72,
			wantPassed: true,
			wantReason: "ok",
		},
		{
			name:       "percent string",
			in:         `{"score": "64%", "reason": "junior"}`,
			wantScore:  64,
			wantPassed: false,
			wantReason: "junior",
		},
		{
			name:        "over range",
			in:          `{"score": 140, "reasoning": "x", "passed": true}`,
			wantScore:   100,
			wantPassed:  true,
			wantReason:  "x",
			wantClaimed: boolPtr(true),
		},
		{
			name:        "negative",
			in:          `{"score": -12, "reasoning": "x", "passed": true}`,
			wantScore:   0,
			wantPassed:  false,
			wantReason:  "x",
			wantClaimed: boolPtr(true),
		},
		{name: "missing score", in: `{"reasoning": "x"}`, wantErr: ErrBadVerdict},
		{name: "non numeric", in: `{"score": "high"}`, wantErr: ErrBadVerdict},
		{name: "null score", in: `{"score": null}`, wantErr: ErrBadVerdict},
		{name: "no json", in: `I refuse.`, wantErr: ErrNoJSON},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := ParseVerdict(tt.in)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantScore, v.Score)
			assert.Equal(t, tt.wantPassed, v.Passed)
			assert.Equal(t, tt.wantReason, v.Reasoning)
			assert.Equal(t, tt.wantClaimed, v.ClaimedPassed)
		})
	}
}

func boolPtr(b bool) *bool { return &b }
