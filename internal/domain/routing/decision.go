package routing

import (
	"errors"
	"fmt"
	"strings"

	"github.com/labforense/oficios/internal/platform/apperr"
)

// ErrNoRequiredExams is returned when a case carries no required exam types.
// It is a caller problem, not a routing outcome.
var ErrNoRequiredExams = errors.New("case has no required exam types")

type DecisionKind string

const (
	AssignToSection    DecisionKind = "assign_to_section"
	ReadyToConsolidate DecisionKind = "ready_to_consolidate"
)

// Decision is the outcome of NextStep.
type Decision struct {
	Kind    DecisionKind `json:"kind"`
	Section Section      `json:"section"`
	Reason  string       `json:"reason"`
	Pending []ExamType   `json:"pending,omitempty"`
}

// Consolidate reports whether every required exam has a result.
func (d Decision) Consolidate() bool { return d.Kind == ReadyToConsolidate }

// NextStep decides where a case goes given the exam types it requires and the
// exam types that already have a result. Completed types the case does not
// require are ignored. The same inputs always give the same Decision.
func NextStep(required, completed []ExamType) (Decision, error) {
	const op = "routing.NextStep"
	if len(required) == 0 {
		return Decision{}, apperr.Wrap(apperr.KindValidation, op, ErrNoRequiredExams)
	}

	done := make(map[ExamType]bool, len(completed))
	for _, e := range completed {
		done[e] = true
	}

	seen := make(map[ExamType]bool, len(required))
	var pending []ExamType
	for _, e := range required {
		if !e.Valid() {
			return Decision{}, apperr.Validationf(op, "unknown exam type %q", e)
		}
		if seen[e] || done[e] {
			seen[e] = true
			continue
		}
		seen[e] = true
		pending = append(pending, e)
	}

	if len(pending) == 0 {
		return Decision{
			Kind:    ReadyToConsolidate,
			Section: ConsolidationSection,
			Reason:  "all required exams have results",
		}, nil
	}

	SortExams(pending)
	target := examSections[pending[0]]

	var names []string
	for _, e := range pending {
		if examSections[e] == target {
			names = append(names, e.Label())
		}
	}
	return Decision{
		Kind:    AssignToSection,
		Section: target,
		Reason:  fmt.Sprintf("pending %s in %s", strings.Join(names, ", "), target.Label()),
		Pending: pending,
	}, nil
}

// NeedsAnalysisAfterExtraction reports whether a successful extraction must
// leave the case pending analysis: some required exam in
// AnalysisAfterExtraction has no result yet.
func NeedsAnalysisAfterExtraction(required, completed []ExamType) bool {
	done := make(map[ExamType]bool, len(completed))
	for _, e := range completed {
		done[e] = true
	}
	for _, e := range required {
		if AnalysisAfterExtraction[e] && !done[e] {
			return true
		}
	}
	return false
}
