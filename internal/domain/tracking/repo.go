package tracking

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	// Append stores e, assigning ID (when nil), Seq and CreatedAt.
	Append(ctx context.Context, e *Event) error
	// Latest returns the highest-Seq event of the case, or nil when the case
	// has no events.
	Latest(ctx context.Context, caseID uuid.UUID) (*Event, error)
	// LatestWithState is Latest restricted to events whose NewState is one of
	// states.
	LatestWithState(ctx context.Context, caseID uuid.UUID, states ...State) (*Event, error)
	ListByCase(ctx context.Context, caseID uuid.UUID) ([]*Event, error)
}
