// Package tracking is the append-only audit trail of a case. The latest
// event's NewState is the case's current state; there is no separately
// stored status column.
package tracking

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/labforense/oficios/internal/domain/routing"
)

// State is the closed set of lifecycle states. Display labels exist only at
// the boundary (Label, ParseLabel); routing never inspects label text.
type State string

const (
	StateCreated            State = "created"
	StateDerived            State = "derived"
	StateExtractionFinished State = "extraction_finished"
	StateExtractionFailed   State = "extraction_failed"
	StatePendingAnalysis    State = "pending_analysis"
	StateAnalysisFinished   State = "analysis_finished"
	StateClosed             State = "closed"
)

var States = []State{
	StateCreated, StateDerived, StateExtractionFinished, StateExtractionFailed,
	StatePendingAnalysis, StateAnalysisFinished, StateClosed,
}

var fixedLabels = map[State]string{
	StateCreated:            "CREADO",
	StateExtractionFinished: "EXTRACCION FINALIZADA",
	StateExtractionFailed:   "EXTRACCION FALLIDA",
	StatePendingAnalysis:    "PENDIENTE ANALISIS",
	StateClosed:             "DICTAMEN EMITIDO",
}

// label prefixes of the section-scoped states
var scopedPrefixes = map[State]string{
	StateDerived:          "DERIVADO A ",
	StateAnalysisFinished: "ANALISIS FINALIZADO: ",
}

func (s State) Valid() bool {
	for _, v := range States {
		if v == s {
			return true
		}
	}
	return false
}

// SectionScoped reports whether events in s carry a section.
func (s State) SectionScoped() bool {
	_, ok := scopedPrefixes[s]
	return ok
}

// Terminal reports whether s closes the case.
func (s State) Terminal() bool { return s == StateClosed }

// Label renders the display label for s. section is ignored for states that
// are not section-scoped.
func Label(s State, section routing.Section) string {
	if p, ok := scopedPrefixes[s]; ok {
		return p + section.Label()
	}
	if l, ok := fixedLabels[s]; ok {
		return l
	}
	return string(s)
}

// ParseLabel maps a display label back to its state and section.
func ParseLabel(label string) (State, routing.Section, error) {
	label = strings.TrimSpace(label)
	for s, l := range fixedLabels {
		if strings.EqualFold(label, l) {
			return s, "", nil
		}
	}
	for s, p := range scopedPrefixes {
		if len(label) > len(p) && strings.EqualFold(label[:len(p)], p) {
			sec, err := routing.ParseSection(label[len(p):])
			if err != nil {
				return "", "", fmt.Errorf("label %q: %w", label, err)
			}
			return s, sec, nil
		}
	}
	return "", "", fmt.Errorf("unknown state label %q", label)
}

// Event is one immutable audit entry. Seq is assigned by the store and
// strictly increases across all events, so "latest" is always well defined.
type Event struct {
	Seq         int64           `json:"seq"`
	ID          uuid.UUID       `json:"id"`
	CaseID      uuid.UUID       `json:"case_id"`
	PrevState   State           `json:"prev_state,omitempty"`
	PrevSection routing.Section `json:"prev_section,omitempty"`
	NewState    State           `json:"new_state"`
	Section     routing.Section `json:"section,omitempty"`
	ExaminerID  uuid.UUID       `json:"examiner_id"`
	Notes       string          `json:"notes,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Label is the display label of the new state.
func (e *Event) Label() string { return Label(e.NewState, e.Section) }

// PrevLabel is the display label of the previous state, or "" for the first
// event of a case.
func (e *Event) PrevLabel() string {
	if e.PrevState == "" {
		return ""
	}
	return Label(e.PrevState, e.PrevSection)
}

func (e Event) MarshalJSON() ([]byte, error) {
	type plain Event
	return json.Marshal(struct {
		plain
		Label     string `json:"label"`
		PrevLabel string `json:"prev_label,omitempty"`
	}{plain(e), e.Label(), e.PrevLabel()})
}
