// Package sample is the per-case registry of physical specimens and the
// generator of their custody codes.
package sample

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Sample is a specimen tied to one case. Code is "{caseNumber}-{seq:02d}" and
// is unique across all cases.
type Sample struct {
	ID               uuid.UUID `json:"id"`
	CaseID           uuid.UUID `json:"case_id"`
	Seq              int       `json:"seq"`
	Code             string    `json:"code"`
	Type             string    `json:"type"`
	Description      string    `json:"description,omitempty"`
	Sealed           bool      `json:"sealed"`
	DetailedFindings string    `json:"detailed_findings,omitempty"`
	CreatedBy        uuid.UUID `json:"created_by"`
	CreatedAt        time.Time `json:"created_at"`
}

// Input describes a sample to register. Ref is an optional caller-chosen
// handle that lets results submitted in the same request point at a sample
// before it has an id.
type Input struct {
	Ref         string `json:"ref,omitempty"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// FormatCode renders the custody code of the seq-th sample of a case.
func FormatCode(caseNumber string, seq int) string {
	return fmt.Sprintf("%s-%02d", caseNumber, seq)
}
