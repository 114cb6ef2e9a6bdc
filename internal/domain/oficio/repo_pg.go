package oficio

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/labforense/oficios/internal/domain/routing"
	"github.com/labforense/oficios/internal/platform/db"
)

// LockNamespace keys the per-case advisory lock.
const LockNamespace = "case"

type caseRepoPG struct {
	pool *pgxpool.Pool
}

func NewCaseRepo(pool *pgxpool.Pool) CaseRepository {
	return &caseRepoPG{pool: pool}
}

func (r *caseRepoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

const caseCols = `c.id, c.case_number, c.assigned_examiner_id, c.assigned_examiner_name,
	c.assigned_section, c.requester, c.subject_name, c.created_at, c.updated_at,
	ARRAY(SELECT ce.exam_type FROM case_exam ce WHERE ce.case_id = c.id)`

func (r *caseRepoPG) Create(ctx context.Context, c *Case) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO case_file (id, case_number, assigned_examiner_id, assigned_examiner_name,
			assigned_section, requester, subject_name)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`,
		c.ID, c.CaseNumber, c.AssignedExaminerID, c.AssignedExaminerName,
		c.AssignedSection, c.Requester, c.SubjectName,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return err
	}

	exams := make([]string, len(c.RequiredExams))
	for i, e := range c.RequiredExams {
		exams[i] = string(e)
	}
	_, err = r.conn(ctx).Exec(ctx,
		`INSERT INTO case_exam (case_id, exam_type) SELECT $1, unnest($2::text[])`, c.ID, exams)
	return err
}

func (r *caseRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Case, error) {
	return scanCase(r.conn(ctx).QueryRow(ctx, `SELECT `+caseCols+` FROM case_file c WHERE c.id = $1`, id))
}

func (r *caseRepoPG) GetByNumber(ctx context.Context, caseNumber string) (*Case, error) {
	return scanCase(r.conn(ctx).QueryRow(ctx, `SELECT `+caseCols+` FROM case_file c WHERE c.case_number = $1`, caseNumber))
}

func (r *caseRepoPG) Lock(ctx context.Context, id uuid.UUID) error {
	return db.LockXact(ctx, LockNamespace, id.String())
}

func (r *caseRepoPG) UpdateAssignment(ctx context.Context, id uuid.UUID, e *Examiner) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE case_file SET assigned_examiner_id = $2, assigned_examiner_name = $3,
			assigned_section = $4, updated_at = NOW()
		WHERE id = $1`, id, e.ID, e.DisplayName(), e.Section)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *caseRepoPG) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Case, int, error) {
	var where []string
	var args []interface{}
	if f.AssignedExaminerID != uuid.Nil {
		args = append(args, f.AssignedExaminerID)
		where = append(where, fmt.Sprintf("c.assigned_examiner_id = $%d", len(args)))
	}
	if f.Section != "" {
		args = append(args, f.Section)
		where = append(where, fmt.Sprintf("c.assigned_section = $%d", len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM case_file c`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+caseCols+` FROM case_file c`+clause+
			fmt.Sprintf(` ORDER BY c.created_at DESC, c.id LIMIT $%d OFFSET $%d`, len(args)-1, len(args)),
		args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, c)
	}
	return out, total, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanCase(row scanner) (*Case, error) {
	var c Case
	var section string
	var exams []string
	if err := row.Scan(&c.ID, &c.CaseNumber, &c.AssignedExaminerID, &c.AssignedExaminerName,
		&section, &c.Requester, &c.SubjectName, &c.CreatedAt, &c.UpdatedAt, &exams); err != nil {
		return nil, err
	}
	c.AssignedSection = routing.Section(section)
	c.RequiredExams = make([]routing.ExamType, len(exams))
	for i, e := range exams {
		c.RequiredExams[i] = routing.ExamType(e)
	}
	routing.SortExams(c.RequiredExams)
	return &c, nil
}

// -- Examiners --

type examinerRepoPG struct {
	pool *pgxpool.Pool
}

func NewExaminerRepo(pool *pgxpool.Pool) ExaminerRepository {
	return &examinerRepoPG{pool: pool}
}

func (r *examinerRepoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

const examinerCols = `id, full_name, rank, section, active, created_at`

func (r *examinerRepoPG) Create(ctx context.Context, e *Examiner) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO examiner (id, full_name, rank, section, active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`,
		e.ID, e.FullName, e.Rank, e.Section, e.Active,
	).Scan(&e.CreatedAt)
}

func (r *examinerRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Examiner, error) {
	return scanExaminer(r.conn(ctx).QueryRow(ctx, `SELECT `+examinerCols+` FROM examiner WHERE id = $1`, id))
}

func (r *examinerRepoPG) GetByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*Examiner, error) {
	out := make(map[uuid.UUID]*Examiner, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+examinerCols+` FROM examiner WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		e, err := scanExaminer(rows)
		if err != nil {
			return nil, err
		}
		out[e.ID] = e
	}
	return out, rows.Err()
}

func (r *examinerRepoPG) List(ctx context.Context, section routing.Section, limit, offset int) ([]*Examiner, int, error) {
	clause := ""
	args := []interface{}{}
	if section != "" {
		clause = " WHERE section = $1"
		args = append(args, section)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM examiner`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+examinerCols+` FROM examiner`+clause+
			fmt.Sprintf(` ORDER BY full_name, id LIMIT $%d OFFSET $%d`, len(args)-1, len(args)),
		args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*Examiner
	for rows.Next() {
		e, err := scanExaminer(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, e)
	}
	return out, total, rows.Err()
}

func scanExaminer(row scanner) (*Examiner, error) {
	var e Examiner
	var section string
	if err := row.Scan(&e.ID, &e.FullName, &e.Rank, &section, &e.Active, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.Section = routing.Section(section)
	return &e, nil
}
