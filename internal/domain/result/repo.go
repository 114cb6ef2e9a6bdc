package result

import (
	"context"

	"github.com/google/uuid"

	"github.com/labforense/oficios/internal/domain/routing"
)

type Repository interface {
	// Upsert writes r as the record for (r.CaseID, r.ExamType). On overwrite
	// the existing ID and CreatedAt are kept and Revision is incremented;
	// r is updated with the stored values.
	Upsert(ctx context.Context, r *Record) error
	// ListByCase returns the case's records ordered by SubmittedAt, then ID.
	ListByCase(ctx context.Context, caseID uuid.UUID) ([]*Record, error)
	CompletedExamTypes(ctx context.Context, caseID uuid.UUID) ([]routing.ExamType, error)
}
