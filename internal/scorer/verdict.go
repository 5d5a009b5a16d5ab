// Package scorer scores enriched profiles against qualification rubrics with
// an AI judge and stores the results.
package scorer

import (
	"math"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tidwall/gjson"

	"github.com/sells-group/lead-enricher/internal/model"
)

var (
	// ErrNoJSON means the judge response contains no balanced JSON object.
	ErrNoJSON = eris.New("scorer: no JSON object in judge response")
	// ErrBadVerdict means the JSON object lacks a usable score.
	ErrBadVerdict = eris.New("scorer: malformed verdict")
)

// Verdict is a judge decision after normalization. Passed is derived from
// Score; ClaimedPassed keeps what the judge said for logging only.
type Verdict struct {
	Score         int
	Reasoning     string
	Passed        bool
	RawScore      float64
	ClaimedPassed *bool
}

// ExtractJSONObject returns the first balanced {...} block in text that is
// valid JSON. Braces inside JSON strings, including escaped quotes, are
// ignored.
func ExtractJSONObject(text string) (string, error) {
	for start := 0; start < len(text); start++ {
		if text[start] != '{' {
			continue
		}
		end, ok := matchBrace(text, start)
		if !ok {
			continue
		}
		if obj := text[start : end+1]; gjson.Valid(obj) {
			return obj, nil
		}
	}
	return "", ErrNoJSON
}

// matchBrace returns the index of the brace closing the one at start.
func matchBrace(text string, start int) (int, bool) {
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}

// ParseVerdict extracts and normalizes the judge's verdict. The score may be
// a number or a numeric string.
func ParseVerdict(text string) (*Verdict, error) {
	obj, err := ExtractJSONObject(text)
	if err != nil {
		return nil, err
	}
	res := gjson.Parse(obj)

	raw, err := scoreValue(res.Get("score"))
	if err != nil {
		return nil, err
	}

	v := &Verdict{
		RawScore:  raw,
		Score:     Normalize(raw),
		Reasoning: strings.TrimSpace(res.Get("reasoning").String()),
	}
	if v.Reasoning == "" {
		v.Reasoning = strings.TrimSpace(res.Get("reason").String())
	}
	v.Passed = Passed(v.Score)
	if p := res.Get("passed"); p.IsBool() {
		b := p.Bool()
		v.ClaimedPassed = &b
	}
	return v, nil
}

func scoreValue(r gjson.Result) (float64, error) {
	var f float64
	switch r.Type {
	case gjson.Number:
		f = r.Float()
	case gjson.String:
		s := strings.TrimSuffix(strings.TrimSpace(r.Str), "%")
		parsed, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0, eris.Wrapf(ErrBadVerdict, "scorer: score %q is not numeric", r.Str)
		}
		f = parsed
	default:
		return 0, eris.Wrap(ErrBadVerdict, "scorer: missing score")
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, eris.Wrap(ErrBadVerdict, "scorer: score is not finite")
	}
	return f, nil
}

// Normalize rounds half away from zero and clamps to [0, 100].
func Normalize(score float64) int {
	r := math.Round(score)
	switch {
	case math.IsNaN(r) || r < 0:
		return 0
	case r > 100:
		return 100
	}
	return int(r)
}

// Passed reports whether a normalized score qualifies.
func Passed(score int) bool {
	return score >= model.PassThreshold
}
