package oficio

import (
	"context"

	"github.com/google/uuid"

	"github.com/labforense/oficios/internal/domain/routing"
)

type CaseRepository interface {
	// Create inserts the case and its required exam rows.
	Create(ctx context.Context, c *Case) error
	GetByID(ctx context.Context, id uuid.UUID) (*Case, error)
	GetByNumber(ctx context.Context, caseNumber string) (*Case, error)
	// Lock serialises writers of one case until the surrounding
	// transaction ends.
	Lock(ctx context.Context, id uuid.UUID) error
	UpdateAssignment(ctx context.Context, id uuid.UUID, e *Examiner) error
	List(ctx context.Context, f ListFilter, limit, offset int) ([]*Case, int, error)
}

type ExaminerRepository interface {
	Create(ctx context.Context, e *Examiner) error
	GetByID(ctx context.Context, id uuid.UUID) (*Examiner, error)
	GetByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*Examiner, error)
	List(ctx context.Context, section routing.Section, limit, offset int) ([]*Examiner, int, error)
}
