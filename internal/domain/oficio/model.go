// Package oficio stores forensic cases and the examiner directory.
//
// A case's assigned examiner is the only mutable pointer on it and is written
// by the case mutator alone (UpdateAssignment runs inside its transaction);
// this package exposes reads and examiner administration.
package oficio

import (
	"time"

	"github.com/google/uuid"

	"github.com/labforense/oficios/internal/domain/routing"
)

// Examiner is a perito belonging to one section.
type Examiner struct {
	ID        uuid.UUID       `json:"id"`
	FullName  string          `json:"full_name"`
	Rank      string          `json:"rank,omitempty"`
	Section   routing.Section `json:"section"`
	Active    bool            `json:"active"`
	CreatedAt time.Time       `json:"created_at"`
}

// DisplayName is "<rank> <full name>" as printed on reports.
func (e *Examiner) DisplayName() string {
	if e.Rank == "" {
		return e.FullName
	}
	return e.Rank + " " + e.FullName
}

// Case is one oficio. RequiredExams is fixed at intake and kept sorted in
// section priority order.
type Case struct {
	ID                   uuid.UUID          `json:"id"`
	CaseNumber           string             `json:"case_number"`
	RequiredExams        []routing.ExamType `json:"required_exams"`
	AssignedExaminerID   uuid.UUID          `json:"assigned_examiner_id"`
	AssignedExaminerName string             `json:"assigned_examiner_name"`
	AssignedSection      routing.Section    `json:"assigned_section"`
	Requester            string             `json:"requester,omitempty"`
	SubjectName          string             `json:"subject_name,omitempty"`
	CreatedAt            time.Time          `json:"created_at"`
	UpdatedAt            time.Time          `json:"updated_at"`
}

// Assign copies the examiner's display fields onto the case.
func (c *Case) Assign(e *Examiner) {
	c.AssignedExaminerID = e.ID
	c.AssignedExaminerName = e.DisplayName()
	c.AssignedSection = e.Section
}

// ListFilter narrows case listings. Zero values match everything.
type ListFilter struct {
	AssignedExaminerID uuid.UUID
	Section            routing.Section
}
