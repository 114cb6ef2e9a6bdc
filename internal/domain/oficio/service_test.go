package oficio

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/labforense/oficios/internal/domain/routing"
	"github.com/labforense/oficios/internal/platform/apperr"
)

// -- Mock Repositories --

type mockCaseRepo struct {
	cases map[uuid.UUID]*Case
}

func newMockCaseRepo() *mockCaseRepo {
	return &mockCaseRepo{cases: make(map[uuid.UUID]*Case)}
}

func (m *mockCaseRepo) Create(_ context.Context, c *Case) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	c.CreatedAt = time.Now()
	c.UpdatedAt = c.CreatedAt
	m.cases[c.ID] = c
	return nil
}

func (m *mockCaseRepo) GetByID(_ context.Context, id uuid.UUID) (*Case, error) {
	c, ok := m.cases[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return c, nil
}

func (m *mockCaseRepo) GetByNumber(_ context.Context, n string) (*Case, error) {
	for _, c := range m.cases {
		if c.CaseNumber == n {
			return c, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (m *mockCaseRepo) Lock(context.Context, uuid.UUID) error { return nil }

func (m *mockCaseRepo) UpdateAssignment(_ context.Context, id uuid.UUID, e *Examiner) error {
	c, ok := m.cases[id]
	if !ok {
		return pgx.ErrNoRows
	}
	c.Assign(e)
	return nil
}

func (m *mockCaseRepo) List(_ context.Context, f ListFilter, limit, offset int) ([]*Case, int, error) {
	var out []*Case
	for _, c := range m.cases {
		if f.AssignedExaminerID != uuid.Nil && c.AssignedExaminerID != f.AssignedExaminerID {
			continue
		}
		if f.Section != "" && c.AssignedSection != f.Section {
			continue
		}
		out = append(out, c)
	}
	return out, len(out), nil
}

type mockExaminerRepo struct {
	examiners map[uuid.UUID]*Examiner
}

func newMockExaminerRepo() *mockExaminerRepo {
	return &mockExaminerRepo{examiners: make(map[uuid.UUID]*Examiner)}
}

func (m *mockExaminerRepo) Create(_ context.Context, e *Examiner) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	e.CreatedAt = time.Now()
	m.examiners[e.ID] = e
	return nil
}

func (m *mockExaminerRepo) GetByID(_ context.Context, id uuid.UUID) (*Examiner, error) {
	e, ok := m.examiners[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return e, nil
}

func (m *mockExaminerRepo) GetByIDs(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]*Examiner, error) {
	out := map[uuid.UUID]*Examiner{}
	for _, id := range ids {
		if e, ok := m.examiners[id]; ok {
			out[id] = e
		}
	}
	return out, nil
}

func (m *mockExaminerRepo) List(_ context.Context, section routing.Section, limit, offset int) ([]*Examiner, int, error) {
	var out []*Examiner
	for _, e := range m.examiners {
		if section == "" || e.Section == section {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FullName < out[j].FullName })
	return out, len(out), nil
}

func newTestService() (*Service, *mockCaseRepo, *mockExaminerRepo) {
	cases, examiners := newMockCaseRepo(), newMockExaminerRepo()
	return NewService(cases, examiners), cases, examiners
}

// -- Tests --

func TestRegisterExaminer(t *testing.T) {
	svc, _, repo := newTestService()

	e := &Examiner{FullName: "  Ana Quispe ", Rank: "Cap. PNP", Section: routing.SectionLaboratory}
	if err := svc.RegisterExaminer(context.Background(), e); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.ID == uuid.Nil {
		t.Fatal("expected ID to be set")
	}
	if !e.Active {
		t.Error("expected new examiner to be active")
	}
	if e.FullName != "Ana Quispe" {
		t.Errorf("expected trimmed name, got %q", e.FullName)
	}
	if len(repo.examiners) != 1 {
		t.Errorf("expected 1 stored examiner, got %d", len(repo.examiners))
	}
}

type sectionRecorder struct{ sections []routing.Section }

func (r *sectionRecorder) Invalidate(_ context.Context, sections ...routing.Section) error {
	r.sections = append(r.sections, sections...)
	return nil
}

func TestRegisterExaminer_InvalidatesWorkload(t *testing.T) {
	svc, _, _ := newTestService()
	rec := &sectionRecorder{}
	svc.WithWorkloadInvalidator(rec)

	e := &Examiner{FullName: "Luis Paredes", Section: routing.SectionInstrumentation}
	if err := svc.RegisterExaminer(context.Background(), e); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rec.sections) != 1 || rec.sections[0] != routing.SectionInstrumentation {
		t.Errorf("expected instrumentation to be invalidated, got %v", rec.sections)
	}

	_ = svc.RegisterExaminer(context.Background(), &Examiner{Section: routing.SectionLaboratory})
	if len(rec.sections) != 1 {
		t.Errorf("a rejected registration must not invalidate, got %v", rec.sections)
	}
}

func TestRegisterExaminer_Validation(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	err := svc.RegisterExaminer(ctx, &Examiner{Section: routing.SectionLaboratory})
	if !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("expected validation error for missing name, got %v", err)
	}
	err = svc.RegisterExaminer(ctx, &Examiner{FullName: "X", Section: "morgue"})
	if !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("expected validation error for bad section, got %v", err)
	}
}

func TestGetCase_NotFound(t *testing.T) {
	svc, _, _ := newTestService()
	_, err := svc.GetCase(context.Background(), uuid.New())
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestGetCaseByNumber(t *testing.T) {
	svc, cases, _ := newTestService()
	c := &Case{CaseNumber: "OF-2024-0153", RequiredExams: []routing.ExamType{routing.ExamToxicologico}}
	cases.Create(context.Background(), c)

	got, err := svc.GetCaseByNumber(context.Background(), "OF-2024-0153")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != c.ID {
		t.Errorf("expected %s, got %s", c.ID, got.ID)
	}
}

func TestListCases_Filter(t *testing.T) {
	svc, cases, _ := newTestService()
	ctx := context.Background()
	lab := &Examiner{ID: uuid.New(), FullName: "Lab", Section: routing.SectionLaboratory}
	inst := &Examiner{ID: uuid.New(), FullName: "Inst", Section: routing.SectionInstrumentation}

	c1 := &Case{CaseNumber: "A"}
	c1.Assign(lab)
	c2 := &Case{CaseNumber: "B"}
	c2.Assign(inst)
	cases.Create(ctx, c1)
	cases.Create(ctx, c2)

	got, total, err := svc.ListCases(ctx, ListFilter{Section: routing.SectionLaboratory}, 20, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 1 || got[0].CaseNumber != "A" {
		t.Errorf("unexpected result %v (total %d)", got, total)
	}

	if _, _, err := svc.ListCases(ctx, ListFilter{Section: "x"}, 20, 0); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestCaseAssign(t *testing.T) {
	e := &Examiner{ID: uuid.New(), FullName: "Luis Rojas", Rank: "Tte.", Section: routing.SectionSampleCollection}
	var c Case
	c.Assign(e)
	if c.AssignedExaminerID != e.ID || c.AssignedSection != routing.SectionSampleCollection {
		t.Errorf("unexpected assignment %+v", c)
	}
	if c.AssignedExaminerName != "Tte. Luis Rojas" {
		t.Errorf("unexpected display name %q", c.AssignedExaminerName)
	}
}
