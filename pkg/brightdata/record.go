package brightdata

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tidwall/gjson"

	"github.com/sells-group/lead-enricher/internal/model"
)

// Record is one entry of a snapshot delivery: either a scraped profile or a
// per-URL error. Raw keeps the full vendor JSON.
type Record struct {
	Raw json.RawMessage
	res gjson.Result
}

// ParseRecords decodes a delivery body. The vendor writes a JSON array; a
// single object or newline-delimited objects are accepted as well.
func ParseRecords(data []byte) ([]Record, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return nil, eris.New("brightdata: empty delivery")
	}

	if gjson.Valid(trimmed) {
		root := gjson.Parse(trimmed)
		switch {
		case root.IsArray():
			items := root.Array()
			out := make([]Record, 0, len(items))
			for i, item := range items {
				if !item.IsObject() {
					return nil, eris.Errorf("brightdata: record %d is not an object", i)
				}
				out = append(out, newRecord(item))
			}
			return out, nil
		case root.IsObject():
			return []Record{newRecord(root)}, nil
		default:
			return nil, eris.New("brightdata: delivery is not a JSON array")
		}
	}

	var out []Record
	for i, line := range strings.Split(trimmed, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !gjson.Valid(line) {
			return nil, eris.Errorf("brightdata: invalid JSON on line %d", i+1)
		}
		item := gjson.Parse(line)
		if !item.IsObject() {
			return nil, eris.Errorf("brightdata: line %d is not an object", i+1)
		}
		out = append(out, newRecord(item))
	}
	return out, nil
}

func newRecord(r gjson.Result) Record {
	return Record{Raw: json.RawMessage(r.Raw), res: r}
}

// URL returns the URL that was requested for this record.
func (r Record) URL() string {
	return firstString(r.res, "input.url", "input_url", "url")
}

// URLs returns every distinct URL the record carries, requested first.
func (r Record) URLs() []string {
	var out []string
	seen := make(map[string]bool)
	for _, p := range []string{"input.url", "input_url", "url"} {
		u := strings.TrimSpace(r.res.Get(p).String())
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
	}
	return out
}

// Err returns the vendor's error or warning message, if any.
func (r Record) Err() string {
	return firstString(r.res, "error", "warning")
}

// Failed reports whether the vendor marked the record with an error or a
// warning. Whether a successful record matches a profile is left to
// reconciliation.
func (r Record) Failed() bool {
	return r.Err() != ""
}

// Handle returns the vendor's public profile id, which matches the /in/
// path segment of the profile URL.
func (r Record) Handle() string {
	return firstString(r.res, "id", "linkedin_id")
}

// Get reads a long-tail field by gjson path.
func (r Record) Get(path string) gjson.Result {
	return r.res.Get(path)
}

// Enrichment maps the record's typed fields. ProfileID is left unset.
func (r Record) Enrichment() *model.Enrichment {
	res := r.res
	e := &model.Enrichment{
		Handle:         r.Handle(),
		FullName:       firstString(res, "name", "full_name"),
		Headline:       firstString(res, "position", "headline"),
		Location:       firstString(res, "city", "location"),
		Connections:    optInt(res.Get("connections")),
		Followers:      optInt(res.Get("followers")),
		About:          firstString(res, "about", "summary"),
		CurrentCompany: firstString(res, "current_company.name", "current_company_name"),
		Raw:            r.Raw,
	}

	res.Get("experience").ForEach(func(_, v gjson.Result) bool {
		e.Experience = append(e.Experience, model.Experience{
			Title:       firstString(v, "title", "position"),
			Company:     firstString(v, "company", "company_name"),
			Location:    v.Get("location").String(),
			StartDate:   v.Get("start_date").String(),
			EndDate:     v.Get("end_date").String(),
			Description: firstString(v, "description", "description_html"),
		})
		return true
	})
	res.Get("education").ForEach(func(_, v gjson.Result) bool {
		e.Education = append(e.Education, model.Education{
			School:    firstString(v, "title", "school"),
			Degree:    v.Get("degree").String(),
			Field:     v.Get("field").String(),
			StartYear: v.Get("start_year").String(),
			EndYear:   v.Get("end_year").String(),
		})
		return true
	})
	res.Get("skills").ForEach(func(_, v gjson.Result) bool {
		name := v.String()
		if v.IsObject() {
			name = firstString(v, "name", "title")
		}
		if name != "" {
			e.Skills = append(e.Skills, name)
		}
		return true
	})
	res.Get("certifications").ForEach(func(_, v gjson.Result) bool {
		e.Certifications = append(e.Certifications, model.Certification{
			Name:   firstString(v, "title", "name"),
			Issuer: firstString(v, "subtitle", "issuer"),
			Date:   firstString(v, "meta", "date"),
		})
		return true
	})
	res.Get("languages").ForEach(func(_, v gjson.Result) bool {
		name := v.String()
		var prof string
		if v.IsObject() {
			name = firstString(v, "title", "name")
			prof = firstString(v, "subtitle", "proficiency")
		}
		if name != "" {
			e.Languages = append(e.Languages, model.Language{Name: name, Proficiency: prof})
		}
		return true
	})
	return e
}

func firstString(res gjson.Result, paths ...string) string {
	for _, p := range paths {
		if s := strings.TrimSpace(res.Get(p).String()); s != "" {
			return s
		}
	}
	return ""
}

// optInt reads counts the vendor sends as numbers or as strings like "500+"
// or "1,204".
func optInt(v gjson.Result) *int {
	switch v.Type {
	case gjson.Number:
		n := int(v.Int())
		return &n
	case gjson.String:
		s := strings.NewReplacer(",", "", "+", "").Replace(strings.TrimSpace(v.Str))
		n, err := strconv.Atoi(s)
		if err != nil {
			return nil
		}
		return &n
	}
	return nil
}
