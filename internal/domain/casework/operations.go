package casework

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"

	"github.com/labforense/oficios/internal/domain/consolidation"
	"github.com/labforense/oficios/internal/domain/oficio"
	"github.com/labforense/oficios/internal/domain/result"
	"github.com/labforense/oficios/internal/domain/routing"
	"github.com/labforense/oficios/internal/domain/sample"
	"github.com/labforense/oficios/internal/domain/tracking"
	"github.com/labforense/oficios/internal/domain/workload"
	"github.com/labforense/oficios/internal/platform/apperr"
	"github.com/labforense/oficios/internal/platform/blobstore"
)

// -- Intake --

type OpenCaseInput struct {
	CaseNumber    string             `json:"case_number"`
	RequiredExams []routing.ExamType `json:"required_exams"`
	// ExaminerID is the examiner the case is first assigned to.
	ExaminerID  uuid.UUID `json:"examiner_id"`
	Requester   string    `json:"requester,omitempty"`
	SubjectName string    `json:"subject_name,omitempty"`
	Notes       string    `json:"notes,omitempty"`
}

// OpenCase registers a case, its exam types and its Created event.
func (s *Service) OpenCase(ctx context.Context, in OpenCaseInput, by uuid.UUID) (*oficio.Case, error) {
	const op = "casework.OpenCase"

	c := &oficio.Case{
		CaseNumber:    strings.TrimSpace(in.CaseNumber),
		RequiredExams: append([]routing.ExamType(nil), in.RequiredExams...),
		Requester:     strings.TrimSpace(in.Requester),
		SubjectName:   strings.TrimSpace(in.SubjectName),
	}
	var event *tracking.Event
	err := s.run(ctx, op, uuid.Nil, func(ctx context.Context) error {
		if c.CaseNumber == "" {
			return apperr.Validationf(op, "case_number is required")
		}
		if err := routing.ValidateExams(op, c.RequiredExams); err != nil {
			return err
		}
		routing.SortExams(c.RequiredExams)
		if _, err := s.actingExaminer(ctx, op, by); err != nil {
			return err
		}
		if in.ExaminerID == uuid.Nil {
			return apperr.Validationf(op, "examiner_id is required")
		}
		assignee, err := s.examiners.GetByID(ctx, in.ExaminerID)
		if err != nil {
			return apperr.FromStore(op, "examiner", in.ExaminerID, err)
		}
		if !assignee.Active {
			return apperr.Validationf(op, "examiner %s is inactive", assignee.ID)
		}
		c.Assign(assignee)

		if err := s.cases.Create(ctx, c); err != nil {
			return apperr.FromStore(op, "case", c.CaseNumber, err)
		}
		event = &tracking.Event{
			CaseID:     c.ID,
			NewState:   tracking.StateCreated,
			ExaminerID: by,
			Notes:      strings.TrimSpace(in.Notes),
		}
		return s.events.Append(ctx, event)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("op", op).
		Str("case_id", c.ID.String()).
		Str("case_number", c.CaseNumber).
		Str("state", string(event.NewState)).
		Msg("case opened")
	s.invalidate(ctx, c.AssignedSection)
	return c, nil
}

// -- Routing --

// NextStep is a routing decision with the examiners who can take it, least
// loaded first.
type NextStep struct {
	routing.Decision
	ReadyToConsolidate bool                 `json:"consolidate"`
	Candidates         []workload.Candidate `json:"candidate_examiners"`
}

// DecideNextStep reads the case's required and completed exam types and asks
// the routing engine where it goes. It writes nothing.
func (s *Service) DecideNextStep(ctx context.Context, caseID uuid.UUID) (*NextStep, error) {
	const op = "casework.DecideNextStep"
	c, err := s.cases.GetByID(ctx, caseID)
	if err != nil {
		return nil, apperr.FromStore(op, "case", caseID, err)
	}
	completed, err := s.results.CompletedExamTypes(ctx, caseID)
	if err != nil {
		return nil, err
	}
	d, err := routing.NextStep(c.RequiredExams, completed)
	if err != nil {
		return nil, err
	}
	candidates, err := s.workload.ForSection(ctx, d.Section)
	if err != nil {
		return nil, err
	}
	if candidates == nil {
		candidates = []workload.Candidate{}
	}
	return &NextStep{Decision: d, ReadyToConsolidate: d.Consolidate(), Candidates: candidates}, nil
}

// -- Reassignment --

type ReassignInput struct {
	TargetExaminerID uuid.UUID `json:"target_examiner_id"`
	Notes            string    `json:"notes,omitempty"`
}

// Reassign points the case at another examiner and records the derivation to
// that examiner's section.
func (s *Service) Reassign(ctx context.Context, caseID uuid.UUID, in ReassignInput, by uuid.UUID) (*tracking.Event, error) {
	const op = "casework.Reassign"
	var from, to routing.Section
	e, err := s.mutate(ctx, op, caseID, by, false, func(ctx context.Context, c *oficio.Case, _ *tracking.Event) (*tracking.Event, error) {
		if in.TargetExaminerID == uuid.Nil {
			return nil, apperr.Validationf(op, "target_examiner_id is required")
		}
		target, err := s.examiners.GetByID(ctx, in.TargetExaminerID)
		if err != nil {
			return nil, apperr.FromStore(op, "examiner", in.TargetExaminerID, err)
		}
		if !target.Active {
			return nil, apperr.Validationf(op, "examiner %s is inactive", target.ID)
		}
		from, to = c.AssignedSection, target.Section
		if err := s.cases.UpdateAssignment(ctx, c.ID, target); err != nil {
			return nil, apperr.FromStore(op, "case", c.ID, err)
		}
		return &tracking.Event{
			NewState: tracking.StateDerived,
			Section:  target.Section,
			Notes:    strings.TrimSpace(in.Notes),
		}, nil
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, from, to)
	return e, nil
}

// -- Extraction --

type ExtractionInput struct {
	Succeeded bool           `json:"succeeded"`
	Samples   []sample.Input `json:"samples"`
	Notes     string         `json:"notes,omitempty"`
}

type ExtractionOutcome struct {
	Event   *tracking.Event  `json:"event"`
	Samples []*sample.Sample `json:"samples"`
}

// RegisterExtraction records the outcome of sample collection. Any samples
// previously registered for the case are removed. A successful extraction
// registers the given samples, sealed, with fresh codes; a failed one leaves
// the case without samples.
func (s *Service) RegisterExtraction(ctx context.Context, caseID uuid.UUID, in ExtractionInput, by uuid.UUID) (*ExtractionOutcome, error) {
	const op = "casework.RegisterExtraction"
	out := &ExtractionOutcome{Samples: []*sample.Sample{}}
	e, err := s.mutate(ctx, op, caseID, by, false, func(ctx context.Context, c *oficio.Case, _ *tracking.Event) (*tracking.Event, error) {
		notes := strings.TrimSpace(in.Notes)
		if in.Succeeded {
			if len(in.Samples) == 0 {
				return nil, apperr.Validationf(op, "a successful extraction requires at least one sample")
			}
			if err := sample.ValidateInputs(op, in.Samples); err != nil {
				return nil, err
			}
		}

		if _, err := s.samples.DeleteByCase(ctx, c.ID); err != nil {
			return nil, err
		}
		if !in.Succeeded {
			return &tracking.Event{NewState: tracking.StateExtractionFailed, Notes: notes}, nil
		}

		created, err := s.gen.Create(ctx, c.ID, c.CaseNumber, by, true, in.Samples)
		if err != nil {
			return nil, err
		}
		out.Samples = created

		completed, err := s.results.CompletedExamTypes(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		state := tracking.StateExtractionFinished
		if routing.NeedsAnalysisAfterExtraction(c.RequiredExams, completed) {
			state = tracking.StatePendingAnalysis
		}
		return &tracking.Event{NewState: state, Notes: notes}, nil
	})
	if err != nil {
		return nil, err
	}
	out.Event = e
	return out, nil
}

// -- Results --

// ResultInput carries findings keyed by sample. A key is a sample id, a
// sample code, or the Ref of one of NewSamples.
type ResultInput struct {
	ExamType   routing.ExamType          `json:"exam_type"`
	Findings   map[string]result.Finding `json:"findings"`
	NewSamples []sample.Input            `json:"new_samples,omitempty"`
	Notes      string                    `json:"notes,omitempty"`
}

type ResultOutcome struct {
	Record     *result.Record   `json:"record"`
	NewSamples []*sample.Sample `json:"new_samples"`
	Event      *tracking.Event  `json:"event"`
	Decision   routing.Decision `json:"decision"`
}

// RegisterResult stores the findings of one exam type, replacing an earlier
// submission for the same type, and reports where the case goes next.
func (s *Service) RegisterResult(ctx context.Context, caseID uuid.UUID, in ResultInput, by uuid.UUID) (*ResultOutcome, error) {
	const op = "casework.RegisterResult"
	out := &ResultOutcome{NewSamples: []*sample.Sample{}}
	e, err := s.mutate(ctx, op, caseID, by, false, func(ctx context.Context, c *oficio.Case, _ *tracking.Event) (*tracking.Event, error) {
		section, ok := in.ExamType.Section()
		if !ok {
			return nil, apperr.Validationf(op, "unknown exam type %q", in.ExamType)
		}
		if !requires(c, in.ExamType) {
			return nil, apperr.Validationf(op, "case %s does not require %s", c.CaseNumber, in.ExamType.Label())
		}
		if len(in.Findings) == 0 {
			return nil, apperr.Validationf(op, "findings are required")
		}
		if err := sample.ValidateInputs(op, in.NewSamples); err != nil {
			return nil, err
		}

		existing, err := s.samples.ListByCase(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		created, err := s.gen.Create(ctx, c.ID, c.CaseNumber, by, false, in.NewSamples)
		if err != nil {
			return nil, err
		}
		out.NewSamples = created

		resolve := sampleResolver(existing, in.NewSamples, created)
		findings := make(map[uuid.UUID]result.Finding, len(in.Findings))
		for key, f := range in.Findings {
			id, ok := resolve(key)
			if !ok {
				return nil, apperr.Validationf(op, "unknown sample %q", key)
			}
			if _, dup := findings[id]; dup {
				return nil, apperr.Validationf(op, "sample %q has more than one finding", key)
			}
			findings[id] = f
		}

		actionable, notApplicable := result.Split(findings)
		rec := &result.Record{
			CaseID:        c.ID,
			ExamType:      in.ExamType,
			ExaminerID:    by,
			Findings:      actionable,
			NotApplicable: notApplicable,
			SubmittedAt:   s.now(),
		}
		if err := s.results.Upsert(ctx, rec); err != nil {
			return nil, apperr.FromStore(op, "result record", in.ExamType, err)
		}
		out.Record = rec

		for id, f := range findings {
			if detail := strings.TrimSpace(f.Detail); detail != "" {
				if err := s.samples.UpdateFindings(ctx, id, detail); err != nil {
					return nil, apperr.FromStore(op, "sample", id, err)
				}
			}
		}
		for _, smp := range created {
			if f, ok := findings[smp.ID]; ok {
				smp.DetailedFindings = strings.TrimSpace(f.Detail)
			}
		}

		completed, err := s.results.CompletedExamTypes(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		if out.Decision, err = routing.NextStep(c.RequiredExams, completed); err != nil {
			return nil, err
		}

		return &tracking.Event{
			NewState: tracking.StateAnalysisFinished,
			Section:  section,
			Notes:    strings.TrimSpace(in.Notes),
		}, nil
	})
	if err != nil {
		return nil, err
	}
	out.Event = e
	return out, nil
}

func requires(c *oficio.Case, e routing.ExamType) bool {
	for _, r := range c.RequiredExams {
		if r == e {
			return true
		}
	}
	return false
}

// sampleResolver maps a findings key to a sample id. Refs of new samples win
// over ids and codes of existing ones.
func sampleResolver(existing []*sample.Sample, inputs []sample.Input, created []*sample.Sample) func(string) (uuid.UUID, bool) {
	byRef := make(map[string]uuid.UUID, len(inputs))
	for i, in := range inputs {
		if in.Ref != "" {
			byRef[in.Ref] = created[i].ID
		}
	}
	byID := make(map[uuid.UUID]bool, len(existing)+len(created))
	byCode := make(map[string]uuid.UUID, len(existing)+len(created))
	for _, list := range [][]*sample.Sample{existing, created} {
		for _, smp := range list {
			byID[smp.ID] = true
			byCode[strings.ToUpper(smp.Code)] = smp.ID
		}
	}
	return func(key string) (uuid.UUID, bool) {
		key = strings.TrimSpace(key)
		if id, ok := byRef[key]; ok {
			return id, true
		}
		if id, err := uuid.Parse(key); err == nil && byID[id] {
			return id, true
		}
		id, ok := byCode[strings.ToUpper(key)]
		return id, ok
	}
}

// -- Consolidation --

// Artifact is a signed document uploaded with the consolidation.
type Artifact struct {
	FileName    string
	ContentType string
	Body        io.Reader
}

type ConsolidationInput struct {
	PericialObject   string    `json:"pericial_object"`
	Method           string    `json:"method"`
	SamplesExhausted bool      `json:"samples_exhausted"`
	ArtifactPaths    []string  `json:"artifact_paths,omitempty"`
	Notes            string    `json:"notes,omitempty"`
	Artifact         *Artifact `json:"-"`
}

type ConsolidationOutcome struct {
	Metadata *consolidation.Metadata `json:"metadata"`
	Event    *tracking.Event         `json:"event"`
}

// RegisterConsolidation upserts the closing metadata and closes the case. A
// closed case may be consolidated again, for example to replace the signed
// report; each call appends a new Closed event.
func (s *Service) RegisterConsolidation(ctx context.Context, caseID uuid.UUID, in ConsolidationInput, by uuid.UUID) (*ConsolidationOutcome, error) {
	const op = "casework.RegisterConsolidation"
	out := &ConsolidationOutcome{}
	var uploaded string
	var section routing.Section
	e, err := s.mutate(ctx, op, caseID, by, true, func(ctx context.Context, c *oficio.Case, _ *tracking.Event) (*tracking.Event, error) {
		if strings.TrimSpace(in.PericialObject) == "" {
			return nil, apperr.Validationf(op, "pericial_object is required")
		}
		section = c.AssignedSection

		paths := make([]string, 0, len(in.ArtifactPaths)+1)
		for _, p := range in.ArtifactPaths {
			if p = strings.TrimSpace(p); p != "" {
				paths = append(paths, p)
			}
		}
		if in.Artifact != nil {
			key, err := s.storeArtifact(ctx, op, c, by, in.Artifact)
			if err != nil {
				return nil, err
			}
			uploaded = key
			paths = append(paths, key)
		}
		if len(paths) == 0 {
			prev, err := s.metadata.GetByCase(ctx, c.ID)
			if err != nil {
				return nil, err
			}
			if prev != nil {
				paths = prev.ArtifactPaths
			}
		}

		m := &consolidation.Metadata{
			CaseID:           c.ID,
			PericialObject:   strings.TrimSpace(in.PericialObject),
			Method:           strings.TrimSpace(in.Method),
			SamplesExhausted: in.SamplesExhausted,
			ArtifactPaths:    paths,
			ExaminerID:       by,
		}
		if err := s.metadata.Upsert(ctx, m); err != nil {
			return nil, err
		}
		out.Metadata = m
		return &tracking.Event{NewState: tracking.StateClosed, Notes: strings.TrimSpace(in.Notes)}, nil
	})
	if err != nil {
		if uploaded != "" {
			if derr := s.blobs.Delete(context.Background(), uploaded); derr != nil {
				s.logger.Warn().Err(derr).Str("key", uploaded).Msg("orphaned artifact after rollback")
			}
		}
		return nil, err
	}
	out.Event = e
	s.invalidate(ctx, section)
	return out, nil
}

func (s *Service) storeArtifact(ctx context.Context, op string, c *oficio.Case, by uuid.UUID, a *Artifact) (string, error) {
	if s.blobs == nil {
		return "", apperr.Validationf(op, "artifact storage is not configured")
	}
	meta := blobstore.BlobMetadata{
		Key:         blobstore.ArtifactKey(c.CaseNumber, "dictamen", s.now()),
		FileName:    a.FileName,
		ContentType: a.ContentType,
		CaseNumber:  c.CaseNumber,
		CreatedBy:   by.String(),
	}
	stored, err := s.blobs.Upload(ctx, meta, a.Body)
	switch {
	case err == nil:
		return stored.Key, nil
	case errors.Is(err, blobstore.ErrBlobExists):
		return "", apperr.Conflictf(op, "artifact %s already exists", meta.Key)
	case errors.Is(err, blobstore.ErrFileTooLarge), errors.Is(err, blobstore.ErrInvalidContentType), errors.Is(err, blobstore.ErrMissingKey):
		return "", apperr.Validationf(op, "signed report: %v", err)
	default:
		return "", fmt.Errorf("upload artifact: %w", err)
	}
}

// -- Reads --

// History returns the case's tracking events, oldest first.
func (s *Service) History(ctx context.Context, caseID uuid.UUID) ([]*tracking.Event, error) {
	if _, err := s.cases.GetByID(ctx, caseID); err != nil {
		return nil, apperr.FromStore("casework.History", "case", caseID, err)
	}
	return s.events.ListByCase(ctx, caseID)
}

func (s *Service) Samples(ctx context.Context, caseID uuid.UUID) ([]*sample.Sample, error) {
	if _, err := s.cases.GetByID(ctx, caseID); err != nil {
		return nil, apperr.FromStore("casework.Samples", "case", caseID, err)
	}
	return s.samples.ListByCase(ctx, caseID)
}

// Report builds the consolidated view handed to the document renderer.
func (s *Service) Report(ctx context.Context, caseID uuid.UUID) (*consolidation.Report, error) {
	return s.agg.BuildConsolidatedView(ctx, caseID)
}
