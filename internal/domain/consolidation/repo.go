package consolidation

import (
	"context"

	"github.com/google/uuid"
)

type MetadataRepository interface {
	// Upsert writes m as the case's metadata, keeping CreatedAt of an
	// existing row, and fills the stored timestamps back into m.
	Upsert(ctx context.Context, m *Metadata) error
	// GetByCase returns nil when the case has not been consolidated.
	GetByCase(ctx context.Context, caseID uuid.UUID) (*Metadata, error)
}
