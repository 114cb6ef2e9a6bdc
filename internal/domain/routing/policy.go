// Package routing holds the fixed laboratory routing policy: the ordered
// sections, the exam type to section table, and the pure next-step decision
// over a case's required and completed exam types.
package routing

import (
	"fmt"
	"sort"
	"strings"

	"github.com/labforense/oficios/internal/platform/apperr"
)

// Section is one of the three laboratory stages a case moves through.
type Section string

const (
	SectionSampleCollection Section = "sample_collection"
	SectionLaboratory       Section = "laboratory"
	SectionInstrumentation  Section = "instrumentation"
)

// SectionOrder is the routing priority, highest first.
var SectionOrder = []Section{SectionSampleCollection, SectionLaboratory, SectionInstrumentation}

// ConsolidationSection anchors the final report.
const ConsolidationSection = SectionLaboratory

var sectionLabels = map[Section]string{
	SectionSampleCollection: "TOMA DE MUESTRA",
	SectionLaboratory:       "LABORATORIO",
	SectionInstrumentation:  "INSTRUMENTALIZACION",
}

// Priority returns the section's position in SectionOrder, or -1.
func (s Section) Priority() int {
	for i, sec := range SectionOrder {
		if sec == s {
			return i
		}
	}
	return -1
}

func (s Section) Valid() bool { return s.Priority() >= 0 }

// Label is the display name used on tracking labels and reports.
func (s Section) Label() string {
	if l, ok := sectionLabels[s]; ok {
		return l
	}
	return string(s)
}

// ParseSection accepts either the code or the display label.
func ParseSection(v string) (Section, error) {
	v = strings.TrimSpace(v)
	for _, s := range SectionOrder {
		if strings.EqualFold(v, string(s)) || strings.EqualFold(v, s.Label()) {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown section %q", v)
}

// ExamType is a laboratory test a case can require.
type ExamType string

const (
	ExamSarroUngueal  ExamType = "sarro_ungueal"
	ExamToxicologico  ExamType = "toxicologico"
	ExamDosajeEtilico ExamType = "dosaje_etilico"
)

// ExamTypes lists every known exam type in section priority order.
var ExamTypes = []ExamType{ExamSarroUngueal, ExamToxicologico, ExamDosajeEtilico}

var examSections = map[ExamType]Section{
	ExamSarroUngueal:  SectionSampleCollection,
	ExamToxicologico:  SectionLaboratory,
	ExamDosajeEtilico: SectionInstrumentation,
}

var examLabels = map[ExamType]string{
	ExamSarroUngueal:  "Sarro Ungueal",
	ExamToxicologico:  "Toxicológico",
	ExamDosajeEtilico: "Dosaje Etílico",
}

// AnalysisAfterExtraction names the exam types whose analysis is done by the
// extraction section itself. While one of them is pending, a successful
// extraction leaves the case pending analysis instead of extraction finished.
var AnalysisAfterExtraction = map[ExamType]bool{
	ExamSarroUngueal: true,
}

// Section returns the section that performs e.
func (e ExamType) Section() (Section, bool) {
	s, ok := examSections[e]
	return s, ok
}

func (e ExamType) Valid() bool {
	_, ok := examSections[e]
	return ok
}

func (e ExamType) Label() string {
	if l, ok := examLabels[e]; ok {
		return l
	}
	return string(e)
}

// ParseExamType accepts the code ("dosaje_etilico") or the display label
// ("Dosaje Etílico"), case-insensitively.
func ParseExamType(v string) (ExamType, error) {
	v = strings.TrimSpace(v)
	for _, e := range ExamTypes {
		if strings.EqualFold(v, string(e)) || strings.EqualFold(v, e.Label()) {
			return e, nil
		}
	}
	return "", fmt.Errorf("unknown exam type %q", v)
}

// ExamsForSection returns the exam types mapped to s.
func ExamsForSection(s Section) []ExamType {
	var out []ExamType
	for _, e := range ExamTypes {
		if examSections[e] == s {
			out = append(out, e)
		}
	}
	return out
}

// SortExams orders exam types by section priority, then by code.
func SortExams(exams []ExamType) {
	sort.SliceStable(exams, func(i, j int) bool {
		si, sj := examSections[exams[i]].Priority(), examSections[exams[j]].Priority()
		if si != sj {
			return si < sj
		}
		return exams[i] < exams[j]
	})
}

// ValidateExams checks that exams is non-empty, known and free of duplicates.
func ValidateExams(op string, exams []ExamType) error {
	if len(exams) == 0 {
		return apperr.Wrap(apperr.KindValidation, op, ErrNoRequiredExams)
	}
	seen := make(map[ExamType]bool, len(exams))
	for _, e := range exams {
		if !e.Valid() {
			return apperr.Validationf(op, "unknown exam type %q", e)
		}
		if seen[e] {
			return apperr.Validationf(op, "exam type %q listed twice", e)
		}
		seen[e] = true
	}
	return nil
}
