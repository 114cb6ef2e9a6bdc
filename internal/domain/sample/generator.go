package sample

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/labforense/oficios/internal/platform/apperr"
)

// Generator assigns sequence numbers and codes and inserts samples. It must
// run inside the caller's transaction, with the case lock held, so that the
// counter increment and the inserts commit or roll back together.
type Generator struct {
	repo Repository
}

func NewGenerator(repo Repository) *Generator {
	return &Generator{repo: repo}
}

// NextCode reserves the next sequence number of the case and returns it with
// its code.
func (g *Generator) NextCode(ctx context.Context, caseID uuid.UUID, caseNumber string) (int, string, error) {
	seq, err := g.repo.NextSequence(ctx, caseID)
	if err != nil {
		return 0, "", err
	}
	return seq, FormatCode(caseNumber, seq), nil
}

// Create registers one sample per input, in order. sealed is true for
// samples taken at extraction and false for samples added during analysis.
func (g *Generator) Create(ctx context.Context, caseID uuid.UUID, caseNumber string, by uuid.UUID, sealed bool, inputs []Input) ([]*Sample, error) {
	if err := ValidateInputs("sample.Create", inputs); err != nil {
		return nil, err
	}
	out := make([]*Sample, 0, len(inputs))
	for _, in := range inputs {
		seq, code, err := g.NextCode(ctx, caseID, caseNumber)
		if err != nil {
			return nil, err
		}
		s := &Sample{
			ID:          uuid.New(),
			CaseID:      caseID,
			Seq:         seq,
			Code:        code,
			Type:        strings.TrimSpace(in.Type),
			Description: strings.TrimSpace(in.Description),
			Sealed:      sealed,
			CreatedBy:   by,
		}
		if err := g.repo.Insert(ctx, s); err != nil {
			return nil, apperr.FromStore("sample.Create", "sample", code, err)
		}
		out = append(out, s)
	}
	return out, nil
}

// ValidateInputs requires a type on every input and unique non-empty refs.
func ValidateInputs(op string, inputs []Input) error {
	refs := make(map[string]bool, len(inputs))
	for i, in := range inputs {
		if strings.TrimSpace(in.Type) == "" {
			return apperr.Validationf(op, "sample %d: type is required", i+1)
		}
		if in.Ref == "" {
			continue
		}
		if refs[in.Ref] {
			return apperr.Validationf(op, "sample ref %q used twice", in.Ref)
		}
		refs[in.Ref] = true
	}
	return nil
}
