package sample

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/labforense/oficios/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

const sampleCols = `id, case_id, seq, code, sample_type, description, sealed, detailed_findings, created_by, created_at`

func (r *repoPG) NextSequence(ctx context.Context, caseID uuid.UUID) (int, error) {
	var seq int
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO sample_sequence (case_id, last_seq) VALUES ($1, 1)
		ON CONFLICT (case_id) DO UPDATE SET last_seq = sample_sequence.last_seq + 1
		RETURNING last_seq`, caseID).Scan(&seq)
	return seq, err
}

func (r *repoPG) Insert(ctx context.Context, s *Sample) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO sample (id, case_id, seq, code, sample_type, description, sealed, detailed_findings, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at`,
		s.ID, s.CaseID, s.Seq, s.Code, s.Type, s.Description, s.Sealed, s.DetailedFindings, s.CreatedBy,
	).Scan(&s.CreatedAt)
}

func (r *repoPG) DeleteByCase(ctx context.Context, caseID uuid.UUID) (int64, error) {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM sample WHERE case_id = $1`, caseID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *repoPG) ListByCase(ctx context.Context, caseID uuid.UUID) ([]*Sample, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+sampleCols+` FROM sample WHERE case_id = $1 ORDER BY seq`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Sample
	for rows.Next() {
		var s Sample
		if err := rows.Scan(&s.ID, &s.CaseID, &s.Seq, &s.Code, &s.Type, &s.Description,
			&s.Sealed, &s.DetailedFindings, &s.CreatedBy, &s.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &s)
	}
	return out, rows.Err()
}

func (r *repoPG) UpdateFindings(ctx context.Context, id uuid.UUID, findings string) error {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE sample SET detailed_findings = $2 WHERE id = $1`, id, findings)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}
