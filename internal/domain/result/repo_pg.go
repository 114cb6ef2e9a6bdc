package result

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/labforense/oficios/internal/domain/routing"
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

const recordCols = `id, case_id, exam_type, examiner_id, findings, not_applicable, revision, submitted_at, created_at`

func (r *repoPG) Upsert(ctx context.Context, rec *Record) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	findings, err := json.Marshal(rec.Findings)
	if err != nil {
		return fmt.Errorf("encode findings: %w", err)
	}
	na := rec.NotApplicable
	if na == nil {
		na = map[uuid.UUID]Finding{}
	}
	notApplicable, err := json.Marshal(na)
	if err != nil {
		return fmt.Errorf("encode not-applicable findings: %w", err)
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO result_record (id, case_id, exam_type, examiner_id, findings, not_applicable, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (case_id, exam_type) DO UPDATE SET
			examiner_id = EXCLUDED.examiner_id,
			findings = EXCLUDED.findings,
			not_applicable = EXCLUDED.not_applicable,
			submitted_at = EXCLUDED.submitted_at,
			revision = result_record.revision + 1
		RETURNING id, revision, created_at`,
		rec.ID, rec.CaseID, rec.ExamType, rec.ExaminerID, findings, notApplicable, rec.SubmittedAt,
	).Scan(&rec.ID, &rec.Revision, &rec.CreatedAt)
}

func (r *repoPG) ListByCase(ctx context.Context, caseID uuid.UUID) ([]*Record, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+recordCols+` FROM result_record WHERE case_id = $1 ORDER BY submitted_at, id`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		var rec Record
		var examType string
		var findings, notApplicable []byte
		if err := rows.Scan(&rec.ID, &rec.CaseID, &examType, &rec.ExaminerID, &findings, &notApplicable,
			&rec.Revision, &rec.SubmittedAt, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.ExamType = routing.ExamType(examType)
		if err := json.Unmarshal(findings, &rec.Findings); err != nil {
			return nil, fmt.Errorf("decode findings of %s: %w", rec.ID, err)
		}
		if err := json.Unmarshal(notApplicable, &rec.NotApplicable); err != nil {
			return nil, fmt.Errorf("decode not-applicable findings of %s: %w", rec.ID, err)
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

func (r *repoPG) CompletedExamTypes(ctx context.Context, caseID uuid.UUID) ([]routing.ExamType, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT exam_type FROM result_record WHERE case_id = $1`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []routing.ExamType
	for rows.Next() {
		var e string
		if err := rows.Scan(&e); err != nil {
			return nil, err
		}
		out = append(out, routing.ExamType(e))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	routing.SortExams(out)
	return out, nil
}
