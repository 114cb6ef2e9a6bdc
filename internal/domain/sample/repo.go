package sample

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	// NextSequence increments and returns the case's sample counter in one
	// statement. The counter is never reset.
	NextSequence(ctx context.Context, caseID uuid.UUID) (int, error)
	Insert(ctx context.Context, s *Sample) error
	DeleteByCase(ctx context.Context, caseID uuid.UUID) (int64, error)
	// ListByCase returns the case's samples ordered by Seq.
	ListByCase(ctx context.Context, caseID uuid.UUID) ([]*Sample, error)
	UpdateFindings(ctx context.Context, id uuid.UUID, findings string) error
}
