// Package memdb is an in-memory stand-in for the Postgres repositories. It
// implements every repository interface of the service plus the transaction
// runner, so mutator behaviour (all-or-nothing writes, uniqueness, ordering)
// can be tested without a database.
//
// Transactions are serialised: InTx holds a single writer lock for the whole
// function and restores a snapshot of the data when the function fails.
// Reads outside a transaction may observe uncommitted writes.
package memdb

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/labforense/oficios/internal/domain/consolidation"
	"github.com/labforense/oficios/internal/domain/oficio"
	"github.com/labforense/oficios/internal/domain/result"
	"github.com/labforense/oficios/internal/domain/routing"
	"github.com/labforense/oficios/internal/domain/sample"
	"github.com/labforense/oficios/internal/domain/tracking"
)

type txKey struct{}

type resultKey struct {
	caseID   uuid.UUID
	examType routing.ExamType
}

type state struct {
	examiners map[uuid.UUID]oficio.Examiner
	cases     map[uuid.UUID]oficio.Case
	seqs      map[uuid.UUID]int
	samples   map[uuid.UUID]sample.Sample
	results   map[resultKey]result.Record
	events    []tracking.Event
	lastSeq   int64
	metadata  map[uuid.UUID]consolidation.Metadata
}

func newState() state {
	return state{
		examiners: map[uuid.UUID]oficio.Examiner{},
		cases:     map[uuid.UUID]oficio.Case{},
		seqs:      map[uuid.UUID]int{},
		samples:   map[uuid.UUID]sample.Sample{},
		results:   map[resultKey]result.Record{},
		metadata:  map[uuid.UUID]consolidation.Metadata{},
	}
}

func (s state) clone() state {
	out := newState()
	for k, v := range s.examiners {
		out.examiners[k] = v
	}
	for k, v := range s.cases {
		out.cases[k] = cloneCase(v)
	}
	for k, v := range s.seqs {
		out.seqs[k] = v
	}
	for k, v := range s.samples {
		out.samples[k] = v
	}
	for k, v := range s.results {
		out.results[k] = cloneRecord(v)
	}
	out.events = append([]tracking.Event(nil), s.events...)
	out.lastSeq = s.lastSeq
	for k, v := range s.metadata {
		out.metadata[k] = cloneMetadata(v)
	}
	return out
}

// DB is the in-memory database.
type DB struct {
	txMu sync.Mutex
	mu   sync.Mutex
	st   state
	now  func() time.Time

	failures map[string]error
	commits  int
	workload *WorkloadIndex
}

func New() *DB {
	d := &DB{
		st:       newState(),
		now:      func() time.Time { return time.Now().UTC() },
		failures: map[string]error{},
	}
	d.workload = &WorkloadIndex{d: d}
	return d
}

// SetClock replaces the timestamp source used for created/updated columns.
func (d *DB) SetClock(now func() time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.now = now
}

// FailOn makes the named operation (for example "tracking.Append") return
// err until ClearFailures is called.
func (d *DB) FailOn(op string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures[op] = err
}

func (d *DB) ClearFailures() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures = map[string]error{}
}

// Commits returns how many top-level transactions committed.
func (d *DB) Commits() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.commits
}

// fail must be called with mu held.
func (d *DB) fail(op string) error {
	return d.failures[op]
}

// InTx runs fn as one transaction. A nested call joins the outer one.
func (d *DB) InTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}

	d.txMu.Lock()
	defer d.txMu.Unlock()

	d.mu.Lock()
	snapshot := d.st.clone()
	d.mu.Unlock()

	restore := func() {
		d.mu.Lock()
		d.st = snapshot
		d.mu.Unlock()
	}
	defer func() {
		if p := recover(); p != nil {
			restore()
			panic(p)
		}
	}()

	if err = fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		restore()
		return err
	}
	if err = ctx.Err(); err != nil {
		restore()
		return fmt.Errorf("commit transaction: %w", err)
	}
	d.mu.Lock()
	d.commits++
	d.mu.Unlock()
	return nil
}

// InTransaction reports whether ctx carries a memdb transaction.
func InTransaction(ctx context.Context) bool {
	return ctx.Value(txKey{}) != nil
}

func uniqueViolation(constraint string) error {
	return &pgconn.PgError{Code: "23505", ConstraintName: constraint, Message: "duplicate key value violates unique constraint"}
}

func foreignKeyViolation(constraint string) error {
	return &pgconn.PgError{Code: "23503", ConstraintName: constraint, Message: "insert or update violates foreign key constraint"}
}

func cloneCase(c oficio.Case) oficio.Case {
	c.RequiredExams = append([]routing.ExamType(nil), c.RequiredExams...)
	return c
}

func cloneFindings(in map[uuid.UUID]result.Finding) map[uuid.UUID]result.Finding {
	out := make(map[uuid.UUID]result.Finding, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneRecord(r result.Record) result.Record {
	r.Findings = cloneFindings(r.Findings)
	if r.NotApplicable != nil {
		r.NotApplicable = cloneFindings(r.NotApplicable)
	}
	return r
}

func cloneMetadata(m consolidation.Metadata) consolidation.Metadata {
	m.ArtifactPaths = append([]string{}, m.ArtifactPaths...)
	return m
}

// Cases returns the case repository.
func (d *DB) Cases() oficio.CaseRepository { return &caseRepo{d} }

func (d *DB) Examiners() oficio.ExaminerRepository { return &examinerRepo{d} }

func (d *DB) Tracking() tracking.Repository { return &trackingRepo{d} }

func (d *DB) Samples() sample.Repository { return &sampleRepo{d} }

func (d *DB) Results() result.Repository { return &resultRepo{d} }

func (d *DB) Metadata() consolidation.MetadataRepository { return &metadataRepo{d} }

// Workload returns an uncached workload index over the stored data.
func (d *DB) Workload() *WorkloadIndex { return d.workload }
