package tracking

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
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

const eventCols = `seq, id, case_id, prev_state, prev_section, new_state, section, examiner_id, notes, created_at`

func (r *repoPG) Append(ctx context.Context, e *Event) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO tracking_event (id, case_id, prev_state, prev_section, new_state, section, examiner_id, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING seq, created_at`,
		e.ID, e.CaseID, nullable(string(e.PrevState)), nullable(string(e.PrevSection)),
		e.NewState, nullable(string(e.Section)), e.ExaminerID, e.Notes,
	).Scan(&e.Seq, &e.CreatedAt)
}

func (r *repoPG) Latest(ctx context.Context, caseID uuid.UUID) (*Event, error) {
	e, err := scanEvent(r.conn(ctx).QueryRow(ctx,
		`SELECT `+eventCols+` FROM tracking_event WHERE case_id = $1 ORDER BY seq DESC LIMIT 1`, caseID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

func (r *repoPG) LatestWithState(ctx context.Context, caseID uuid.UUID, states ...State) (*Event, error) {
	names := make([]string, len(states))
	for i, s := range states {
		names[i] = string(s)
	}
	e, err := scanEvent(r.conn(ctx).QueryRow(ctx, `
		SELECT `+eventCols+` FROM tracking_event
		WHERE case_id = $1 AND new_state = ANY($2)
		ORDER BY seq DESC LIMIT 1`, caseID, names))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

func (r *repoPG) ListByCase(ctx context.Context, caseID uuid.UUID) ([]*Event, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+eventCols+` FROM tracking_event WHERE case_id = $1 ORDER BY seq`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(row scanner) (*Event, error) {
	var e Event
	var prevState, prevSection, section *string
	err := row.Scan(&e.Seq, &e.ID, &e.CaseID, &prevState, &prevSection,
		&e.NewState, &section, &e.ExaminerID, &e.Notes, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	if prevState != nil {
		e.PrevState = State(*prevState)
	}
	if prevSection != nil {
		e.PrevSection = routing.Section(*prevSection)
	}
	if section != nil {
		e.Section = routing.Section(*section)
	}
	return &e, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
