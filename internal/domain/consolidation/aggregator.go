package consolidation

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/labforense/oficios/internal/domain/oficio"
	"github.com/labforense/oficios/internal/domain/result"
	"github.com/labforense/oficios/internal/domain/routing"
	"github.com/labforense/oficios/internal/domain/sample"
	"github.com/labforense/oficios/internal/domain/tracking"
	"github.com/labforense/oficios/internal/platform/apperr"
)

// Aggregator builds consolidated reports. It only reads.
type Aggregator struct {
	cases     oficio.CaseRepository
	examiners oficio.ExaminerRepository
	results   result.Repository
	samples   sample.Repository
	events    tracking.Repository
	metadata  MetadataRepository
}

func NewAggregator(
	cases oficio.CaseRepository,
	examiners oficio.ExaminerRepository,
	results result.Repository,
	samples sample.Repository,
	events tracking.Repository,
	metadata MetadataRepository,
) *Aggregator {
	return &Aggregator{
		cases:     cases,
		examiners: examiners,
		results:   results,
		samples:   samples,
		events:    events,
		metadata:  metadata,
	}
}

// collectorStates are the events whose examiner took the samples.
var collectorStates = []tracking.State{tracking.StateExtractionFinished, tracking.StatePendingAnalysis}

// BuildConsolidatedView assembles the report of a case. Records follow the
// section visiting order, then submission time; their not-applicable
// findings are removed and records left without findings are dropped.
func (a *Aggregator) BuildConsolidatedView(ctx context.Context, caseID uuid.UUID) (*Report, error) {
	const op = "consolidation.BuildConsolidatedView"

	c, err := a.cases.GetByID(ctx, caseID)
	if err != nil {
		return nil, apperr.FromStore(op, "case", caseID, err)
	}

	records, err := a.results.ListByCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	samples, err := a.samples.ListByCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	meta, err := a.metadata.GetByCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	latest, err := a.events.Latest(ctx, caseID)
	if err != nil {
		return nil, err
	}
	collectorEvent, err := a.events.LatestWithState(ctx, caseID, collectorStates...)
	if err != nil {
		return nil, err
	}

	var collectorID uuid.UUID
	switch {
	case collectorEvent != nil:
		collectorID = collectorEvent.ExaminerID
	case len(records) > 0:
		// ListByCase is ordered by submission time.
		collectorID = records[0].ExaminerID
	}

	ids := make([]uuid.UUID, 0, len(records)+1)
	for _, r := range records {
		ids = append(ids, r.ExaminerID)
	}
	if collectorID != uuid.Nil {
		ids = append(ids, collectorID)
	}
	examiners, err := a.examiners.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	bySample := make(map[uuid.UUID]*sample.Sample, len(samples))
	for _, s := range samples {
		bySample[s.ID] = s
	}

	ordered := make([]*result.Record, len(records))
	copy(ordered, records)
	sort.SliceStable(ordered, func(i, j int) bool {
		pi, pj := sectionPriority(ordered[i]), sectionPriority(ordered[j])
		if pi != pj {
			return pi < pj
		}
		if !ordered[i].SubmittedAt.Equal(ordered[j].SubmittedAt) {
			return ordered[i].SubmittedAt.Before(ordered[j].SubmittedAt)
		}
		return ordered[i].ID.String() < ordered[j].ID.String()
	})

	report := &Report{
		CaseID:        c.ID,
		CaseNumber:    c.CaseNumber,
		Requester:     c.Requester,
		SubjectName:   c.SubjectName,
		RequiredExams: c.RequiredExams,
		Records:       []ReportRecord{},
		Samples:       make([]ReportSample, 0, len(samples)),
		Metadata:      meta,
	}
	if latest != nil {
		report.State = latest.NewState
		report.StateLabel = latest.Label()
	}
	if collectorID != uuid.Nil {
		ref := examinerRef(collectorID, examiners)
		report.Collector = &ref
	}

	for _, r := range ordered {
		findings := reportFindings(r, bySample)
		if len(findings) == 0 {
			continue
		}
		section, _ := r.ExamType.Section()
		report.Records = append(report.Records, ReportRecord{
			RecordID:     r.ID,
			ExamType:     r.ExamType,
			ExamLabel:    r.ExamType.Label(),
			Section:      section,
			SectionLabel: section.Label(),
			Examiner:     examinerRef(r.ExaminerID, examiners),
			Revision:     r.Revision,
			SubmittedAt:  r.SubmittedAt,
			Findings:     findings,
		})
	}

	for _, s := range samples {
		report.Samples = append(report.Samples, ReportSample{
			ID:               s.ID,
			Code:             s.Code,
			Type:             s.Type,
			Description:      s.Description,
			Sealed:           s.Sealed,
			DetailedFindings: s.DetailedFindings,
		})
	}
	return report, nil
}

// reportFindings returns the actionable findings of r ordered by sample
// sequence. Findings for samples no longer registered on the case (removed by
// a later extraction) are left out.
func reportFindings(r *result.Record, bySample map[uuid.UUID]*sample.Sample) []ReportFinding {
	actionable := r.Actionable()
	out := make([]ReportFinding, 0, len(actionable))
	for id, f := range actionable {
		s, ok := bySample[id]
		if !ok {
			continue
		}
		out = append(out, ReportFinding{
			SampleID:   id,
			SampleCode: s.Code,
			SampleType: s.Type,
			Value:      f.Value,
			Detail:     f.Detail,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return bySample[out[i].SampleID].Seq < bySample[out[j].SampleID].Seq
	})
	return out
}

// sectionPriority places records of unknown exam types after every section.
func sectionPriority(r *result.Record) int {
	s, ok := r.ExamType.Section()
	if !ok {
		return len(routing.SectionOrder)
	}
	return s.Priority()
}

func examinerRef(id uuid.UUID, known map[uuid.UUID]*oficio.Examiner) ExaminerRef {
	e, ok := known[id]
	if !ok {
		return ExaminerRef{ID: id}
	}
	return ExaminerRef{
		ID:          e.ID,
		FullName:    e.FullName,
		Rank:        e.Rank,
		Section:     e.Section,
		DisplayName: e.DisplayName(),
	}
}
