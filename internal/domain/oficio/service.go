package oficio

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/labforense/oficios/internal/domain/routing"
	"github.com/labforense/oficios/internal/platform/apperr"
)

type Service struct {
	cases       CaseRepository
	examiners   ExaminerRepository
	invalidator interface {
		Invalidate(ctx context.Context, sections ...routing.Section) error
	}
}

func NewService(cases CaseRepository, examiners ExaminerRepository) *Service {
	return &Service{cases: cases, examiners: examiners}
}

// WithWorkloadInvalidator makes RegisterExaminer drop the cached candidate
// list of the new examiner's section.
func (s *Service) WithWorkloadInvalidator(inv interface {
	Invalidate(ctx context.Context, sections ...routing.Section) error
}) *Service {
	s.invalidator = inv
	return s
}

func (s *Service) GetCase(ctx context.Context, id uuid.UUID) (*Case, error) {
	c, err := s.cases.GetByID(ctx, id)
	if err != nil {
		return nil, apperr.FromStore("oficio.GetCase", "case", id, err)
	}
	return c, nil
}

func (s *Service) GetCaseByNumber(ctx context.Context, caseNumber string) (*Case, error) {
	c, err := s.cases.GetByNumber(ctx, caseNumber)
	if err != nil {
		return nil, apperr.FromStore("oficio.GetCaseByNumber", "case", caseNumber, err)
	}
	return c, nil
}

func (s *Service) ListCases(ctx context.Context, f ListFilter, limit, offset int) ([]*Case, int, error) {
	if f.Section != "" && !f.Section.Valid() {
		return nil, 0, apperr.Validationf("oficio.ListCases", "unknown section %q", f.Section)
	}
	return s.cases.List(ctx, f, limit, offset)
}

// RegisterExaminer adds an active examiner to the directory.
func (s *Service) RegisterExaminer(ctx context.Context, e *Examiner) error {
	const op = "oficio.RegisterExaminer"
	e.FullName = strings.TrimSpace(e.FullName)
	if e.FullName == "" {
		return apperr.Validationf(op, "full_name is required")
	}
	if !e.Section.Valid() {
		return apperr.Validationf(op, "unknown section %q", e.Section)
	}
	e.Active = true
	if err := s.examiners.Create(ctx, e); err != nil {
		return apperr.FromStore(op, "examiner", e.ID, err)
	}
	if s.invalidator != nil {
		// a stale entry still expires with the cache TTL
		_ = s.invalidator.Invalidate(ctx, e.Section)
	}
	return nil
}

func (s *Service) GetExaminer(ctx context.Context, id uuid.UUID) (*Examiner, error) {
	e, err := s.examiners.GetByID(ctx, id)
	if err != nil {
		return nil, apperr.FromStore("oficio.GetExaminer", "examiner", id, err)
	}
	return e, nil
}

func (s *Service) ListExaminers(ctx context.Context, section routing.Section, limit, offset int) ([]*Examiner, int, error) {
	if section != "" && !section.Valid() {
		return nil, 0, apperr.Validationf("oficio.ListExaminers", "unknown section %q", section)
	}
	return s.examiners.List(ctx, section, limit, offset)
}
