package consolidation

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/labforense/oficios/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewMetadataRepo(pool *pgxpool.Pool) MetadataRepository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

func (r *repoPG) Upsert(ctx context.Context, m *Metadata) error {
	if m.ArtifactPaths == nil {
		m.ArtifactPaths = []string{}
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO consolidation_metadata (case_id, pericial_object, method, samples_exhausted, artifact_paths, examiner_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (case_id) DO UPDATE SET
			pericial_object = EXCLUDED.pericial_object,
			method = EXCLUDED.method,
			samples_exhausted = EXCLUDED.samples_exhausted,
			artifact_paths = EXCLUDED.artifact_paths,
			examiner_id = EXCLUDED.examiner_id,
			updated_at = now()
		RETURNING created_at, updated_at`,
		m.CaseID, m.PericialObject, m.Method, m.SamplesExhausted, m.ArtifactPaths, m.ExaminerID,
	).Scan(&m.CreatedAt, &m.UpdatedAt)
}

func (r *repoPG) GetByCase(ctx context.Context, caseID uuid.UUID) (*Metadata, error) {
	var m Metadata
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT case_id, pericial_object, method, samples_exhausted, artifact_paths, examiner_id, created_at, updated_at
		FROM consolidation_metadata WHERE case_id = $1`, caseID,
	).Scan(&m.CaseID, &m.PericialObject, &m.Method, &m.SamplesExhausted, &m.ArtifactPaths,
		&m.ExaminerID, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}
