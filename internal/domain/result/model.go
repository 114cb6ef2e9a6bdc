// Package result stores the findings an examiner submits for one exam type
// of a case. There is at most one Record per (case, exam type); a second
// submission overwrites the first.
package result

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/labforense/oficios/internal/domain/routing"
)

// Finding is what an examiner entered for one sample.
type Finding struct {
	Value         string `json:"value"`
	NotApplicable bool   `json:"not_applicable,omitempty"`
	// Detail is free text copied to the sample's detailed findings.
	Detail string `json:"detail,omitempty"`
}

// IsNotApplicable reports whether the examiner flagged the entry.
func (f Finding) IsNotApplicable() bool {
	return f.NotApplicable
}

// markerValues are the spellings the intake forms use for "not applicable".
// Matching is exact: "NA" or "Na" can be a real value (sodium).
var markerValues = map[string]bool{
	"N/A":       true,
	"NO APLICA": true,
	"No aplica": true,
}

// WithMarker sets NotApplicable when Value is one of the marker spellings.
func WithMarker(f Finding) Finding {
	if markerValues[strings.TrimSpace(f.Value)] {
		f.NotApplicable = true
	}
	return f
}

// Split separates actionable findings from not-applicable ones.
func Split(all map[uuid.UUID]Finding) (actionable, notApplicable map[uuid.UUID]Finding) {
	actionable = make(map[uuid.UUID]Finding, len(all))
	notApplicable = make(map[uuid.UUID]Finding)
	for id, f := range all {
		if f.IsNotApplicable() {
			notApplicable[id] = f
		} else {
			actionable[id] = f
		}
	}
	return actionable, notApplicable
}

// Record is one exam type's result for a case. Findings holds the actionable
// entries only; entries flagged not applicable are kept apart in
// NotApplicable so their detail text stays on record.
type Record struct {
	ID            uuid.UUID             `json:"id"`
	CaseID        uuid.UUID             `json:"case_id"`
	ExamType      routing.ExamType      `json:"exam_type"`
	ExaminerID    uuid.UUID             `json:"examiner_id"`
	Findings      map[uuid.UUID]Finding `json:"findings"`
	NotApplicable map[uuid.UUID]Finding `json:"not_applicable,omitempty"`
	Revision      int                   `json:"revision"`
	SubmittedAt   time.Time             `json:"submitted_at"`
	CreatedAt     time.Time             `json:"created_at"`
}

// Actionable returns the findings not flagged as not applicable.
func (r *Record) Actionable() map[uuid.UUID]Finding {
	out := make(map[uuid.UUID]Finding, len(r.Findings))
	for id, f := range r.Findings {
		if !f.IsNotApplicable() {
			out[id] = f
		}
	}
	return out
}
