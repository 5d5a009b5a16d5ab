// Package jobstate defines the enrichment job state machine.
//
// Valid state graph:
//
//	pending ──► scraping ──► enriching ──► qualifying ──► completed
//	   │           │             │              │
//	   └───────────┴─────────────┴──────────────┴──► failed
//
// enriching ──► completed skips qualifying when no rubric was requested.
// scraping ──► scraping only attaches the snapshot id. completed and failed
// are terminal within an attempt.
package jobstate

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-enricher/internal/model"
)

// ErrIllegalTransition is returned when a move is not in the transition table.
var ErrIllegalTransition = eris.New("jobstate: illegal transition")

var validTransitions = map[model.JobState][]model.JobState{
	model.JobStatePending:    {model.JobStateScraping, model.JobStateFailed},
	model.JobStateScraping:   {model.JobStateScraping, model.JobStateEnriching, model.JobStateFailed},
	model.JobStateEnriching:  {model.JobStateQualifying, model.JobStateCompleted, model.JobStateFailed},
	model.JobStateQualifying: {model.JobStateCompleted, model.JobStateFailed},
	// completed and failed have no outgoing transitions
}

var rank = map[model.JobState]int{
	model.JobStatePending:    0,
	model.JobStateScraping:   1,
	model.JobStateEnriching:  2,
	model.JobStateQualifying: 3,
	model.JobStateCompleted:  4,
}

// ParseState converts a raw string to a JobState.
func ParseState(s string) (model.JobState, error) {
	st := model.JobState(s)
	switch st {
	case model.JobStatePending, model.JobStateScraping, model.JobStateEnriching,
		model.JobStateQualifying, model.JobStateCompleted, model.JobStateFailed:
		return st, nil
	}
	return "", eris.Errorf("jobstate: unknown state %q", s)
}

// CanTransition reports whether moving from → to is permitted.
func CanTransition(from, to model.JobState) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are possible.
func IsTerminal(s model.JobState) bool {
	return s == model.JobStateCompleted || s == model.JobStateFailed
}

// Rank orders the non-failed states along the happy path. Failed ranks -1.
func Rank(s model.JobState) int {
	if r, ok := rank[s]; ok {
		return r
	}
	return -1
}

// ValidSequence reports whether states were recorded in non-decreasing order
// along the happy path, optionally ending in failed.
func ValidSequence(states []model.JobState) bool {
	prev := -1
	for i, s := range states {
		if s == model.JobStateFailed {
			return i == len(states)-1
		}
		r := Rank(s)
		if r < prev {
			return false
		}
		prev = r
	}
	return true
}
