// Package casework is the case mutator: the only writer of case assignment,
// samples, result records, tracking events and consolidation metadata. Each
// operation runs as one transaction holding the case's advisory lock and
// either commits every write or none.
package casework

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/labforense/oficios/internal/domain/consolidation"
	"github.com/labforense/oficios/internal/domain/oficio"
	"github.com/labforense/oficios/internal/domain/result"
	"github.com/labforense/oficios/internal/domain/routing"
	"github.com/labforense/oficios/internal/domain/sample"
	"github.com/labforense/oficios/internal/domain/tracking"
	"github.com/labforense/oficios/internal/domain/workload"
	"github.com/labforense/oficios/internal/platform/apperr"
	"github.com/labforense/oficios/internal/platform/blobstore"
	"github.com/labforense/oficios/internal/platform/metrics"
)

// ErrCaseClosed is returned, classified as a conflict, when an operation
// other than consolidation targets a closed case.
var ErrCaseClosed = errors.New("case is closed")

// TxRunner runs fn inside one database transaction.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// WorkloadInvalidator drops cached workload lists of sections whose open-case
// counts changed.
type WorkloadInvalidator interface {
	Invalidate(ctx context.Context, sections ...routing.Section) error
}

// Deps are the collaborators of the Service. Invalidator, Blobs and Metrics
// may be nil.
type Deps struct {
	Tx          TxRunner
	Cases       oficio.CaseRepository
	Examiners   oficio.ExaminerRepository
	Events      tracking.Repository
	Samples     sample.Repository
	Results     result.Repository
	Metadata    consolidation.MetadataRepository
	Workload    workload.Index
	Invalidator WorkloadInvalidator
	Blobs       blobstore.BlobStore
	Metrics     *metrics.Mutations
	Logger      zerolog.Logger
	Now         func() time.Time
}

type Service struct {
	tx          TxRunner
	cases       oficio.CaseRepository
	examiners   oficio.ExaminerRepository
	events      tracking.Repository
	samples     sample.Repository
	gen         *sample.Generator
	results     result.Repository
	metadata    consolidation.MetadataRepository
	workload    workload.Index
	invalidator WorkloadInvalidator
	blobs       blobstore.BlobStore
	agg         *consolidation.Aggregator
	metrics     *metrics.Mutations
	logger      zerolog.Logger
	now         func() time.Time
}

func NewService(d Deps) *Service {
	now := d.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		tx:          d.Tx,
		cases:       d.Cases,
		examiners:   d.Examiners,
		events:      d.Events,
		samples:     d.Samples,
		gen:         sample.NewGenerator(d.Samples),
		results:     d.Results,
		metadata:    d.Metadata,
		workload:    d.Workload,
		invalidator: d.Invalidator,
		blobs:       d.Blobs,
		agg:         consolidation.NewAggregator(d.Cases, d.Examiners, d.Results, d.Samples, d.Events, d.Metadata),
		metrics:     d.Metrics,
		logger:      d.Logger,
		now:         now,
	}
}

// run executes fn in a transaction and turns whatever it returns into one
// classified error. Errors outside the taxonomy become transaction failures.
func (s *Service) run(ctx context.Context, op string, caseID uuid.UUID, fn func(ctx context.Context) error) error {
	start := time.Now()
	err := s.tx.InTx(ctx, fn)
	if err != nil {
		err = classify(op, caseID, err)
		s.logger.Error().Err(err).
			Str("op", op).
			Str("case_id", caseID.String()).
			Str("kind", apperr.KindOf(err).String()).
			Msg("case operation rolled back")
	}
	s.metrics.Observe(op, err, time.Since(start))
	return err
}

func classify(op string, caseID uuid.UUID, err error) error {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	if cerr := apperr.FromStore(op, "case", caseID, err); errors.As(cerr, &ae) {
		return cerr
	}
	return apperr.Transaction(op, err)
}

// mutation is the body of an operation on an existing case. It returns the
// tracking event to append; mutate fills in the case, the previous state
// and the acting examiner.
type mutation func(ctx context.Context, c *oficio.Case, current *tracking.Event) (*tracking.Event, error)

// mutate locks the case, loads it with its current state, rejects closed
// cases unless allowClosed, runs fn and appends the event it returns.
func (s *Service) mutate(ctx context.Context, op string, caseID, by uuid.UUID, allowClosed bool, fn mutation) (*tracking.Event, error) {
	var event *tracking.Event
	err := s.run(ctx, op, caseID, func(ctx context.Context) error {
		if err := s.cases.Lock(ctx, caseID); err != nil {
			return err
		}
		c, err := s.cases.GetByID(ctx, caseID)
		if err != nil {
			return apperr.FromStore(op, "case", caseID, err)
		}
		current, err := s.events.Latest(ctx, caseID)
		if err != nil {
			return err
		}
		if !allowClosed && current != nil && current.NewState.Terminal() {
			return apperr.Wrap(apperr.KindConflict, op, ErrCaseClosed)
		}
		if _, err := s.actingExaminer(ctx, op, by); err != nil {
			return err
		}

		e, err := fn(ctx, c, current)
		if err != nil {
			return err
		}
		e.CaseID = caseID
		e.ExaminerID = by
		if current != nil {
			e.PrevState = current.NewState
			e.PrevSection = current.Section
		}
		if err := s.events.Append(ctx, e); err != nil {
			return err
		}
		event = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("op", op).
		Str("case_id", caseID.String()).
		Str("state", string(event.NewState)).
		Str("examiner_id", by.String()).
		Msg("case operation committed")
	return event, nil
}

func (s *Service) actingExaminer(ctx context.Context, op string, id uuid.UUID) (*oficio.Examiner, error) {
	if id == uuid.Nil {
		return nil, apperr.Validationf(op, "acting examiner is required")
	}
	e, err := s.examiners.GetByID(ctx, id)
	if err != nil {
		return nil, apperr.FromStore(op, "examiner", id, err)
	}
	return e, nil
}

// invalidate runs after commit; a cache failure only costs freshness.
func (s *Service) invalidate(ctx context.Context, sections ...routing.Section) {
	if s.invalidator == nil {
		return
	}
	var valid []routing.Section
	for _, sec := range sections {
		if sec.Valid() {
			valid = append(valid, sec)
		}
	}
	if err := s.invalidator.Invalidate(ctx, valid...); err != nil {
		s.logger.Warn().Err(err).Msg("workload cache invalidation failed")
	}
}
