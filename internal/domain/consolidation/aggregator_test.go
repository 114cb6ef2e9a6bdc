package consolidation_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/labforense/oficios/internal/domain/consolidation"
	"github.com/labforense/oficios/internal/domain/oficio"
	"github.com/labforense/oficios/internal/domain/result"
	"github.com/labforense/oficios/internal/domain/routing"
	"github.com/labforense/oficios/internal/domain/sample"
	"github.com/labforense/oficios/internal/domain/tracking"
	"github.com/labforense/oficios/internal/platform/apperr"
	"github.com/labforense/oficios/internal/testutil/memdb"
)

var base = time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

type fixture struct {
	db        *memdb.DB
	agg       *consolidation.Aggregator
	kase      *oficio.Case
	collector *oficio.Examiner
	chemist   *oficio.Examiner
	samples   []*sample.Sample
}

func newFixture(t *testing.T, exams ...routing.ExamType) *fixture {
	t.Helper()
	ctx := context.Background()
	db := memdb.New()

	collector := &oficio.Examiner{FullName: "Rosa Quispe", Rank: "Cap.", Section: routing.SectionSampleCollection, Active: true}
	chemist := &oficio.Examiner{FullName: "Luis Paredes", Rank: "Tte.", Section: routing.SectionLaboratory, Active: true}
	for _, e := range []*oficio.Examiner{collector, chemist} {
		if err := db.Examiners().Create(ctx, e); err != nil {
			t.Fatalf("create examiner: %v", err)
		}
	}

	c := &oficio.Case{CaseNumber: "OF-2024-0042", RequiredExams: exams, SubjectName: "J. Mamani"}
	c.Assign(collector)
	if err := db.Cases().Create(ctx, c); err != nil {
		t.Fatalf("create case: %v", err)
	}

	gen := sample.NewGenerator(db.Samples())
	var samples []*sample.Sample
	err := db.InTx(ctx, func(ctx context.Context) error {
		var err error
		samples, err = gen.Create(ctx, c.ID, c.CaseNumber, collector.ID, true, []sample.Input{
			{Type: "sangre"}, {Type: "orina"}, {Type: "uñas"},
		})
		return err
	})
	if err != nil {
		t.Fatalf("create samples: %v", err)
	}

	return &fixture{
		db:        db,
		agg:       consolidation.NewAggregator(db.Cases(), db.Examiners(), db.Results(), db.Samples(), db.Tracking(), db.Metadata()),
		kase:      c,
		collector: collector,
		chemist:   chemist,
		samples:   samples,
	}
}

func (f *fixture) submit(t *testing.T, exam routing.ExamType, by uuid.UUID, at time.Time, findings map[uuid.UUID]result.Finding) {
	t.Helper()
	rec := &result.Record{CaseID: f.kase.ID, ExamType: exam, ExaminerID: by, Findings: findings, SubmittedAt: at}
	if err := f.db.Results().Upsert(context.Background(), rec); err != nil {
		t.Fatalf("upsert result: %v", err)
	}
}

func (f *fixture) event(t *testing.T, s tracking.State, by uuid.UUID) {
	t.Helper()
	e := &tracking.Event{CaseID: f.kase.ID, NewState: s, ExaminerID: by}
	if err := f.db.Tracking().Append(context.Background(), e); err != nil {
		t.Fatalf("append event: %v", err)
	}
}

func TestBuildConsolidatedView_CaseNotFound(t *testing.T) {
	f := newFixture(t, routing.ExamToxicologico)
	_, err := f.agg.BuildConsolidatedView(context.Background(), uuid.New())
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestBuildConsolidatedView_ExcludesNotApplicableEntries(t *testing.T) {
	f := newFixture(t, routing.ExamToxicologico, routing.ExamDosajeEtilico)
	s1, s2 := f.samples[0], f.samples[1]

	f.submit(t, routing.ExamToxicologico, f.chemist.ID, base, map[uuid.UUID]result.Finding{
		s1.ID: {Value: "positivo para benzoilecgonina"},
		s2.ID: {Value: "N/A", NotApplicable: true, Detail: "muestra insuficiente"},
	})
	f.submit(t, routing.ExamDosajeEtilico, f.chemist.ID, base.Add(time.Hour), map[uuid.UUID]result.Finding{
		s1.ID: {Value: "0.85 g/L"},
	})

	report, err := f.agg.BuildConsolidatedView(context.Background(), f.kase.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(report.Records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(report.Records))
	}
	tox := report.Records[0]
	if tox.ExamType != routing.ExamToxicologico {
		t.Fatalf("expected toxicologico first, got %s", tox.ExamType)
	}
	if len(tox.Findings) != 1 || tox.Findings[0].SampleID != s1.ID {
		t.Errorf("expected only the applicable finding, got %+v", tox.Findings)
	}
	if tox.Findings[0].SampleCode != "OF-2024-0042-01" {
		t.Errorf("expected sample code on finding, got %q", tox.Findings[0].SampleCode)
	}
	if len(report.Records[1].Findings) != 1 {
		t.Errorf("expected dosaje record untouched, got %+v", report.Records[1].Findings)
	}
}

func TestBuildConsolidatedView_DropsRecordWithOnlyNotApplicable(t *testing.T) {
	f := newFixture(t, routing.ExamToxicologico, routing.ExamDosajeEtilico)
	f.submit(t, routing.ExamToxicologico, f.chemist.ID, base, map[uuid.UUID]result.Finding{
		f.samples[0].ID: {Value: "negativo"},
	})
	f.submit(t, routing.ExamDosajeEtilico, f.chemist.ID, base.Add(time.Minute), map[uuid.UUID]result.Finding{
		f.samples[0].ID: {Value: "cualquier", NotApplicable: true},
		f.samples[1].ID: {Value: "no aplica"},
	})

	report, err := f.agg.BuildConsolidatedView(context.Background(), f.kase.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(report.Records) != 1 || report.Records[0].ExamType != routing.ExamToxicologico {
		t.Fatalf("expected only the toxicologico record, got %+v", report.Records)
	}
}

func TestBuildConsolidatedView_SectionOrderBeforeSubmissionTime(t *testing.T) {
	f := newFixture(t, routing.ExamSarroUngueal, routing.ExamToxicologico, routing.ExamDosajeEtilico)
	one := map[uuid.UUID]result.Finding{f.samples[2].ID: {Value: "negativo"}}

	f.submit(t, routing.ExamDosajeEtilico, f.chemist.ID, base, one)
	f.submit(t, routing.ExamToxicologico, f.chemist.ID, base.Add(time.Minute), one)
	f.submit(t, routing.ExamSarroUngueal, f.collector.ID, base.Add(2*time.Minute), one)

	report, err := f.agg.BuildConsolidatedView(context.Background(), f.kase.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []routing.ExamType{routing.ExamSarroUngueal, routing.ExamToxicologico, routing.ExamDosajeEtilico}
	if len(report.Records) != len(want) {
		t.Fatalf("expected %d records, got %d", len(want), len(report.Records))
	}
	for i, e := range want {
		if report.Records[i].ExamType != e {
			t.Errorf("record %d: got %s, want %s", i, report.Records[i].ExamType, e)
		}
	}
	if report.Records[0].SectionLabel != "TOMA DE MUESTRA" {
		t.Errorf("unexpected section label %q", report.Records[0].SectionLabel)
	}
}

func TestBuildConsolidatedView_FindingsOrderedBySampleSequence(t *testing.T) {
	f := newFixture(t, routing.ExamToxicologico)
	f.submit(t, routing.ExamToxicologico, f.chemist.ID, base, map[uuid.UUID]result.Finding{
		f.samples[2].ID: {Value: "c"},
		f.samples[0].ID: {Value: "a"},
		f.samples[1].ID: {Value: "b"},
	})

	report, err := f.agg.BuildConsolidatedView(context.Background(), f.kase.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := report.Records[0].Findings
	for i, v := range []string{"a", "b", "c"} {
		if got[i].Value != v {
			t.Errorf("finding %d: got %q, want %q", i, got[i].Value, v)
		}
	}
}

func TestBuildConsolidatedView_SkipsFindingsOfRemovedSamples(t *testing.T) {
	f := newFixture(t, routing.ExamToxicologico, routing.ExamDosajeEtilico)
	ctx := context.Background()
	gone := uuid.New()
	f.submit(t, routing.ExamToxicologico, f.chemist.ID, base, map[uuid.UUID]result.Finding{
		gone:            {Value: "positivo"},
		f.samples[1].ID: {Value: "negativo"},
	})
	f.submit(t, routing.ExamDosajeEtilico, f.chemist.ID, base.Add(time.Minute), map[uuid.UUID]result.Finding{
		gone: {Value: "0.8 g/L"},
	})

	report, err := f.agg.BuildConsolidatedView(ctx, f.kase.ID)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(report.Records) != 1 {
		t.Fatalf("a record left without live samples must be dropped, got %+v", report.Records)
	}
	got := report.Records[0].Findings
	if len(got) != 1 || got[0].SampleID != f.samples[1].ID || got[0].SampleCode == "" {
		t.Errorf("unexpected findings %+v", got)
	}
}

func TestBuildConsolidatedView_CollectorFromExtractionEvent(t *testing.T) {
	f := newFixture(t, routing.ExamToxicologico)
	f.event(t, tracking.StateCreated, f.chemist.ID)
	f.event(t, tracking.StateExtractionFinished, f.collector.ID)
	f.submit(t, routing.ExamToxicologico, f.chemist.ID, base, map[uuid.UUID]result.Finding{
		f.samples[0].ID: {Value: "negativo"},
	})

	report, err := f.agg.BuildConsolidatedView(context.Background(), f.kase.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Collector == nil || report.Collector.ID != f.collector.ID {
		t.Fatalf("expected collector %s, got %+v", f.collector.ID, report.Collector)
	}
	if report.Collector.DisplayName != "Cap. Rosa Quispe" {
		t.Errorf("unexpected display name %q", report.Collector.DisplayName)
	}
	if report.Records[0].Examiner.Rank != "Tte." {
		t.Errorf("expected examiner rank on record, got %+v", report.Records[0].Examiner)
	}
}

func TestBuildConsolidatedView_CollectorFallsBackToEarliestResult(t *testing.T) {
	f := newFixture(t, routing.ExamToxicologico, routing.ExamDosajeEtilico)
	f.submit(t, routing.ExamDosajeEtilico, f.collector.ID, base, map[uuid.UUID]result.Finding{
		f.samples[0].ID: {Value: "0.1 g/L"},
	})
	f.submit(t, routing.ExamToxicologico, f.chemist.ID, base.Add(time.Hour), map[uuid.UUID]result.Finding{
		f.samples[0].ID: {Value: "negativo"},
	})

	report, err := f.agg.BuildConsolidatedView(context.Background(), f.kase.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Collector == nil || report.Collector.ID != f.collector.ID {
		t.Fatalf("expected earliest submitter as collector, got %+v", report.Collector)
	}
}

func TestBuildConsolidatedView_NoCollectorWithoutData(t *testing.T) {
	f := newFixture(t, routing.ExamToxicologico)
	report, err := f.agg.BuildConsolidatedView(context.Background(), f.kase.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Collector != nil {
		t.Errorf("expected no collector, got %+v", report.Collector)
	}
	if len(report.Records) != 0 || len(report.Samples) != 3 {
		t.Errorf("unexpected report %+v", report)
	}
}

func TestBuildConsolidatedView_Idempotent(t *testing.T) {
	f := newFixture(t, routing.ExamToxicologico, routing.ExamDosajeEtilico)
	f.event(t, tracking.StateExtractionFinished, f.collector.ID)
	f.submit(t, routing.ExamToxicologico, f.chemist.ID, base, map[uuid.UUID]result.Finding{
		f.samples[0].ID: {Value: "positivo"},
		f.samples[1].ID: {Value: "negativo", Detail: "trazas"},
		f.samples[2].ID: {Value: "N/A", NotApplicable: true},
	})
	f.submit(t, routing.ExamDosajeEtilico, f.chemist.ID, base, map[uuid.UUID]result.Finding{
		f.samples[0].ID: {Value: "0.3 g/L"},
	})
	meta := &consolidation.Metadata{CaseID: f.kase.ID, PericialObject: "muestras biológicas", ExaminerID: f.chemist.ID}
	if err := f.db.Metadata().Upsert(context.Background(), meta); err != nil {
		t.Fatalf("upsert metadata: %v", err)
	}

	first, err := f.agg.BuildConsolidatedView(context.Background(), f.kase.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := f.agg.BuildConsolidatedView(context.Background(), f.kase.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	a, _ := json.Marshal(first)
	b, _ := json.Marshal(second)
	if string(a) != string(b) {
		t.Errorf("reports differ:\n%s\n%s", a, b)
	}
	if first.Metadata == nil || first.Metadata.PericialObject != "muestras biológicas" {
		t.Errorf("expected metadata on report, got %+v", first.Metadata)
	}
}
