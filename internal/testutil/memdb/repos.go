package memdb

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/labforense/oficios/internal/domain/consolidation"
	"github.com/labforense/oficios/internal/domain/oficio"
	"github.com/labforense/oficios/internal/domain/result"
	"github.com/labforense/oficios/internal/domain/routing"
	"github.com/labforense/oficios/internal/domain/sample"
	"github.com/labforense/oficios/internal/domain/tracking"
	"github.com/labforense/oficios/internal/domain/workload"
)

func paginate[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

// -- Cases --

type caseRepo struct{ d *DB }

func (r *caseRepo) Create(_ context.Context, c *oficio.Case) error {
	d := r.d
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail("cases.Create"); err != nil {
		return err
	}
	for _, existing := range d.st.cases {
		if existing.CaseNumber == c.CaseNumber {
			return uniqueViolation("uq_case_file_number")
		}
	}
	if c.AssignedExaminerID != uuid.Nil {
		if _, ok := d.st.examiners[c.AssignedExaminerID]; !ok {
			return foreignKeyViolation("case_file_assigned_examiner_id_fkey")
		}
	}
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	c.CreatedAt = d.now()
	c.UpdatedAt = c.CreatedAt
	d.st.cases[c.ID] = cloneCase(*c)
	return nil
}

func (r *caseRepo) get(id uuid.UUID) (*oficio.Case, error) {
	c, ok := r.d.st.cases[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	out := cloneCase(c)
	routing.SortExams(out.RequiredExams)
	return &out, nil
}

func (r *caseRepo) GetByID(_ context.Context, id uuid.UUID) (*oficio.Case, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	if err := r.d.fail("cases.GetByID"); err != nil {
		return nil, err
	}
	return r.get(id)
}

func (r *caseRepo) GetByNumber(_ context.Context, caseNumber string) (*oficio.Case, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	for id, c := range r.d.st.cases {
		if c.CaseNumber == caseNumber {
			return r.get(id)
		}
	}
	return nil, pgx.ErrNoRows
}

// Lock mirrors the advisory lock's requirement of an open transaction.
// Transactions are already serialised, so there is nothing to acquire.
func (r *caseRepo) Lock(ctx context.Context, _ uuid.UUID) error {
	if !InTransaction(ctx) {
		return errors.New("advisory lock requires a transaction")
	}
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	return r.d.fail("cases.Lock")
}

func (r *caseRepo) UpdateAssignment(_ context.Context, id uuid.UUID, e *oficio.Examiner) error {
	d := r.d
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail("cases.UpdateAssignment"); err != nil {
		return err
	}
	c, ok := d.st.cases[id]
	if !ok {
		return pgx.ErrNoRows
	}
	c.Assign(e)
	c.UpdatedAt = d.now()
	d.st.cases[id] = c
	return nil
}

func (r *caseRepo) List(_ context.Context, f oficio.ListFilter, limit, offset int) ([]*oficio.Case, int, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	var all []*oficio.Case
	for id, c := range r.d.st.cases {
		if f.AssignedExaminerID != uuid.Nil && c.AssignedExaminerID != f.AssignedExaminerID {
			continue
		}
		if f.Section != "" && c.AssignedSection != f.Section {
			continue
		}
		out, _ := r.get(id)
		all = append(all, out)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID.String() < all[j].ID.String()
	})
	return paginate(all, limit, offset), len(all), nil
}

// -- Examiners --

type examinerRepo struct{ d *DB }

func (r *examinerRepo) Create(_ context.Context, e *oficio.Examiner) error {
	d := r.d
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail("examiners.Create"); err != nil {
		return err
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if _, ok := d.st.examiners[e.ID]; ok {
		return uniqueViolation("examiner_pkey")
	}
	e.CreatedAt = d.now()
	d.st.examiners[e.ID] = *e
	return nil
}

func (r *examinerRepo) GetByID(_ context.Context, id uuid.UUID) (*oficio.Examiner, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	if err := r.d.fail("examiners.GetByID"); err != nil {
		return nil, err
	}
	e, ok := r.d.st.examiners[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &e, nil
}

func (r *examinerRepo) GetByIDs(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]*oficio.Examiner, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	out := make(map[uuid.UUID]*oficio.Examiner, len(ids))
	for _, id := range ids {
		if e, ok := r.d.st.examiners[id]; ok {
			e := e
			out[id] = &e
		}
	}
	return out, nil
}

func (r *examinerRepo) List(_ context.Context, section routing.Section, limit, offset int) ([]*oficio.Examiner, int, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	var all []*oficio.Examiner
	for _, e := range r.d.st.examiners {
		if section != "" && e.Section != section {
			continue
		}
		e := e
		all = append(all, &e)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].FullName != all[j].FullName {
			return all[i].FullName < all[j].FullName
		}
		return all[i].ID.String() < all[j].ID.String()
	})
	return paginate(all, limit, offset), len(all), nil
}

// -- Tracking --

type trackingRepo struct{ d *DB }

func (r *trackingRepo) Append(_ context.Context, e *tracking.Event) error {
	d := r.d
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail("tracking.Append"); err != nil {
		return err
	}
	if _, ok := d.st.cases[e.CaseID]; !ok {
		return foreignKeyViolation("tracking_event_case_id_fkey")
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	d.st.lastSeq++
	e.Seq = d.st.lastSeq
	e.CreatedAt = d.now()
	d.st.events = append(d.st.events, *e)
	return nil
}

func (r *trackingRepo) latest(caseID uuid.UUID, states ...tracking.State) *tracking.Event {
	events := r.d.st.events
	for i := len(events) - 1; i >= 0; i-- {
		e := events[i]
		if e.CaseID != caseID {
			continue
		}
		if len(states) > 0 && !containsState(states, e.NewState) {
			continue
		}
		return &e
	}
	return nil
}

func containsState(states []tracking.State, s tracking.State) bool {
	for _, x := range states {
		if x == s {
			return true
		}
	}
	return false
}

func (r *trackingRepo) Latest(_ context.Context, caseID uuid.UUID) (*tracking.Event, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	if err := r.d.fail("tracking.Latest"); err != nil {
		return nil, err
	}
	return r.latest(caseID), nil
}

func (r *trackingRepo) LatestWithState(_ context.Context, caseID uuid.UUID, states ...tracking.State) (*tracking.Event, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	if len(states) == 0 {
		return nil, nil
	}
	return r.latest(caseID, states...), nil
}

func (r *trackingRepo) ListByCase(_ context.Context, caseID uuid.UUID) ([]*tracking.Event, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	out := []*tracking.Event{}
	for _, e := range r.d.st.events {
		if e.CaseID == caseID {
			e := e
			out = append(out, &e)
		}
	}
	return out, nil
}

// -- Samples --

type sampleRepo struct{ d *DB }

func (r *sampleRepo) NextSequence(_ context.Context, caseID uuid.UUID) (int, error) {
	d := r.d
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail("samples.NextSequence"); err != nil {
		return 0, err
	}
	d.st.seqs[caseID]++
	return d.st.seqs[caseID], nil
}

func (r *sampleRepo) Insert(_ context.Context, s *sample.Sample) error {
	d := r.d
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail("samples.Insert"); err != nil {
		return err
	}
	if _, ok := d.st.cases[s.CaseID]; !ok {
		return foreignKeyViolation("sample_case_id_fkey")
	}
	for _, existing := range d.st.samples {
		if existing.Code == s.Code {
			return uniqueViolation("sample_code_key")
		}
		if existing.CaseID == s.CaseID && existing.Seq == s.Seq {
			return uniqueViolation("sample_case_id_seq_key")
		}
	}
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	s.CreatedAt = d.now()
	d.st.samples[s.ID] = *s
	return nil
}

func (r *sampleRepo) DeleteByCase(_ context.Context, caseID uuid.UUID) (int64, error) {
	d := r.d
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail("samples.DeleteByCase"); err != nil {
		return 0, err
	}
	var n int64
	for id, s := range d.st.samples {
		if s.CaseID == caseID {
			delete(d.st.samples, id)
			n++
		}
	}
	return n, nil
}

func (r *sampleRepo) ListByCase(_ context.Context, caseID uuid.UUID) ([]*sample.Sample, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	out := []*sample.Sample{}
	for _, s := range r.d.st.samples {
		if s.CaseID == caseID {
			s := s
			out = append(out, &s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (r *sampleRepo) UpdateFindings(_ context.Context, id uuid.UUID, findings string) error {
	d := r.d
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail("samples.UpdateFindings"); err != nil {
		return err
	}
	s, ok := d.st.samples[id]
	if !ok {
		return pgx.ErrNoRows
	}
	s.DetailedFindings = findings
	d.st.samples[id] = s
	return nil
}

// -- Results --

type resultRepo struct{ d *DB }

func (r *resultRepo) Upsert(_ context.Context, rec *result.Record) error {
	d := r.d
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail("results.Upsert"); err != nil {
		return err
	}
	if _, ok := d.st.cases[rec.CaseID]; !ok {
		return foreignKeyViolation("result_record_case_id_fkey")
	}
	key := resultKey{rec.CaseID, rec.ExamType}
	if existing, ok := d.st.results[key]; ok {
		rec.ID = existing.ID
		rec.CreatedAt = existing.CreatedAt
		rec.Revision = existing.Revision + 1
	} else {
		if rec.ID == uuid.Nil {
			rec.ID = uuid.New()
		}
		rec.CreatedAt = d.now()
		rec.Revision = 1
	}
	d.st.results[key] = cloneRecord(*rec)
	return nil
}

func (r *resultRepo) ListByCase(_ context.Context, caseID uuid.UUID) ([]*result.Record, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	out := []*result.Record{}
	for k, rec := range r.d.st.results {
		if k.caseID == caseID {
			c := cloneRecord(rec)
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].SubmittedAt.Before(out[j].SubmittedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (r *resultRepo) CompletedExamTypes(_ context.Context, caseID uuid.UUID) ([]routing.ExamType, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	if err := r.d.fail("results.CompletedExamTypes"); err != nil {
		return nil, err
	}
	out := []routing.ExamType{}
	for k := range r.d.st.results {
		if k.caseID == caseID {
			out = append(out, k.examType)
		}
	}
	routing.SortExams(out)
	return out, nil
}

// CountResults returns how many result records exist for (caseID, examType).
func (d *DB) CountResults(caseID uuid.UUID, examType routing.ExamType) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.st.results[resultKey{caseID, examType}]; ok {
		return 1
	}
	return 0
}

// -- Consolidation metadata --

type metadataRepo struct{ d *DB }

func (r *metadataRepo) Upsert(_ context.Context, m *consolidation.Metadata) error {
	d := r.d
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail("metadata.Upsert"); err != nil {
		return err
	}
	if _, ok := d.st.cases[m.CaseID]; !ok {
		return foreignKeyViolation("consolidation_metadata_case_id_fkey")
	}
	if m.ArtifactPaths == nil {
		m.ArtifactPaths = []string{}
	}
	now := d.now()
	if existing, ok := d.st.metadata[m.CaseID]; ok {
		m.CreatedAt = existing.CreatedAt
	} else {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	d.st.metadata[m.CaseID] = cloneMetadata(*m)
	return nil
}

func (r *metadataRepo) GetByCase(_ context.Context, caseID uuid.UUID) (*consolidation.Metadata, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	m, ok := r.d.st.metadata[caseID]
	if !ok {
		return nil, nil
	}
	out := cloneMetadata(m)
	return &out, nil
}

// -- Workload --

// WorkloadIndex computes workload.Candidate lists from the stored cases and
// tracking events. Calls counts ForSection invocations.
type WorkloadIndex struct {
	d     *DB
	mu    sync.Mutex
	calls int
}

func (w *WorkloadIndex) ForSection(_ context.Context, section routing.Section) ([]workload.Candidate, error) {
	w.mu.Lock()
	w.calls++
	w.mu.Unlock()

	d := w.d
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail("workload.ForSection"); err != nil {
		return nil, err
	}

	latest := map[uuid.UUID]tracking.State{}
	for _, e := range d.st.events {
		latest[e.CaseID] = e.NewState
	}

	out := []workload.Candidate{}
	for _, e := range d.st.examiners {
		if e.Section != section || !e.Active {
			continue
		}
		open := 0
		for _, c := range d.st.cases {
			if c.AssignedExaminerID == e.ID && latest[c.ID] != tracking.StateClosed {
				open++
			}
		}
		out = append(out, workload.Candidate{
			ExaminerID: e.ID,
			FullName:   e.FullName,
			Rank:       e.Rank,
			Section:    e.Section,
			OpenCases:  open,
		})
	}
	workload.SortCandidates(out)
	return out, nil
}

func (w *WorkloadIndex) Calls() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.calls
}
