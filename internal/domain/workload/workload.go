// Package workload answers which examiners of a section can take a case,
// least loaded first. It is a read model over cases and the tracking log;
// nothing here writes.
package workload

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/labforense/oficios/internal/domain/routing"
)

// Candidate is an active examiner of a section with the number of cases
// currently assigned to them that are not closed.
type Candidate struct {
	ExaminerID uuid.UUID       `json:"examiner_id"`
	FullName   string          `json:"full_name"`
	Rank       string          `json:"rank,omitempty"`
	Section    routing.Section `json:"section"`
	OpenCases  int             `json:"open_cases"`
}

// Index is the workload read model.
type Index interface {
	// ForSection returns the section's active examiners ordered by
	// ascending open-case count, then name, then id.
	ForSection(ctx context.Context, section routing.Section) ([]Candidate, error)
}

// SortCandidates applies the ForSection ordering in place.
func SortCandidates(c []Candidate) {
	sort.SliceStable(c, func(i, j int) bool {
		if c[i].OpenCases != c[j].OpenCases {
			return c[i].OpenCases < c[j].OpenCases
		}
		if c[i].FullName != c[j].FullName {
			return c[i].FullName < c[j].FullName
		}
		return c[i].ExaminerID.String() < c[j].ExaminerID.String()
	})
}
