package workload

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/labforense/oficios/internal/domain/routing"
	"github.com/labforense/oficios/internal/platform/db"
)

type indexPG struct {
	pool *pgxpool.Pool
}

func NewIndex(pool *pgxpool.Pool) Index {
	return &indexPG{pool: pool}
}

// A case counts as open while its latest tracking event is not closed.
const forSectionSQL = `
	SELECT e.id, e.full_name, e.rank, e.section,
		COUNT(c.id) FILTER (WHERE t.new_state IS DISTINCT FROM 'closed') AS open_cases
	FROM examiner e
	LEFT JOIN case_file c ON c.assigned_examiner_id = e.id
	LEFT JOIN LATERAL (
		SELECT te.new_state FROM tracking_event te
		WHERE te.case_id = c.id
		ORDER BY te.seq DESC LIMIT 1
	) t ON TRUE
	WHERE e.section = $1 AND e.active
	GROUP BY e.id, e.full_name, e.rank, e.section
	ORDER BY open_cases, e.full_name, e.id`

func (x *indexPG) ForSection(ctx context.Context, section routing.Section) ([]Candidate, error) {
	rows, err := db.Conn(ctx, x.pool).Query(ctx, forSectionSQL, section)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Candidate{}
	for rows.Next() {
		var c Candidate
		var sec string
		if err := rows.Scan(&c.ExaminerID, &c.FullName, &c.Rank, &sec, &c.OpenCases); err != nil {
			return nil, err
		}
		c.Section = routing.Section(sec)
		out = append(out, c)
	}
	return out, rows.Err()
}
