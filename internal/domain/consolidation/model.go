// Package consolidation holds the per-case closing metadata and assembles the
// read-only consolidated report that the document renderer turns into the
// final dictamen.
package consolidation

import (
	"time"

	"github.com/google/uuid"

	"github.com/labforense/oficios/internal/domain/routing"
	"github.com/labforense/oficios/internal/domain/tracking"
)

// Metadata is the single closing record of a case. It is upserted, never
// appended.
type Metadata struct {
	CaseID           uuid.UUID `json:"case_id"`
	PericialObject   string    `json:"pericial_object"`
	Method           string    `json:"method"`
	SamplesExhausted bool      `json:"samples_exhausted"`
	// ArtifactPaths are blob store keys of signed documents.
	ArtifactPaths []string  `json:"artifact_paths"`
	ExaminerID    uuid.UUID `json:"examiner_id"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ExaminerRef is the identity printed next to a record or as the collector.
type ExaminerRef struct {
	ID          uuid.UUID       `json:"id"`
	FullName    string          `json:"full_name,omitempty"`
	Rank        string          `json:"rank,omitempty"`
	Section     routing.Section `json:"section,omitempty"`
	DisplayName string          `json:"display_name,omitempty"`
}

// ReportFinding is one actionable finding of a record.
type ReportFinding struct {
	SampleID   uuid.UUID `json:"sample_id"`
	SampleCode string    `json:"sample_code,omitempty"`
	SampleType string    `json:"sample_type,omitempty"`
	Value      string    `json:"value"`
	Detail     string    `json:"detail,omitempty"`
}

// ReportRecord is a result record with its not-applicable entries removed.
type ReportRecord struct {
	RecordID     uuid.UUID        `json:"record_id"`
	ExamType     routing.ExamType `json:"exam_type"`
	ExamLabel    string           `json:"exam_label"`
	Section      routing.Section  `json:"section"`
	SectionLabel string           `json:"section_label"`
	Examiner     ExaminerRef      `json:"examiner"`
	Revision     int              `json:"revision"`
	SubmittedAt  time.Time        `json:"submitted_at"`
	Findings     []ReportFinding  `json:"findings"`
}

// ReportSample is a registered sample as listed on the report.
type ReportSample struct {
	ID               uuid.UUID `json:"id"`
	Code             string    `json:"code"`
	Type             string    `json:"type"`
	Description      string    `json:"description,omitempty"`
	Sealed           bool      `json:"sealed"`
	DetailedFindings string    `json:"detailed_findings,omitempty"`
}

// Report is the consolidated view of a case. It carries no generation
// timestamp so two builds over the same data encode identically.
type Report struct {
	CaseID        uuid.UUID          `json:"case_id"`
	CaseNumber    string             `json:"case_number"`
	Requester     string             `json:"requester,omitempty"`
	SubjectName   string             `json:"subject_name,omitempty"`
	RequiredExams []routing.ExamType `json:"required_exams"`
	State         tracking.State     `json:"state,omitempty"`
	StateLabel    string             `json:"state_label,omitempty"`
	Collector     *ExaminerRef       `json:"collector,omitempty"`
	Records       []ReportRecord     `json:"records"`
	Samples       []ReportSample     `json:"samples"`
	Metadata      *Metadata          `json:"metadata,omitempty"`
}
