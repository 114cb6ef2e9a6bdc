// Package sandbox seeds development databases with a reproducible examiner
// roster and a handful of open cases, so the routing endpoints have data to
// work on right after `migrate up`.
package sandbox

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/labforense/oficios/internal/domain/casework"
	"github.com/labforense/oficios/internal/domain/oficio"
	"github.com/labforense/oficios/internal/domain/routing"
)

// SeedConfig controls the volume and shape of generated data.
type SeedConfig struct {
	ExaminersPerSection int
	Cases               int
	CasePrefix          string
	Seed                int64
}

func DefaultSeedConfig() SeedConfig {
	return SeedConfig{
		ExaminersPerSection: 3,
		Cases:               10,
		CasePrefix:          "OF-DEMO",
		Seed:                1,
	}
}

// ExaminerRegistrar is the part of the examiner directory the seeder writes to.
type ExaminerRegistrar interface {
	RegisterExaminer(ctx context.Context, e *oficio.Examiner) error
}

// CaseOpener opens cases through the case mutator so every seeded case
// carries its Created event.
type CaseOpener interface {
	OpenCase(ctx context.Context, in casework.OpenCaseInput, by uuid.UUID) (*oficio.Case, error)
}

type SeedResult struct {
	Examiners int           `json:"examiners"`
	Cases     int           `json:"cases"`
	Duration  time.Duration `json:"duration"`
}

var (
	givenNames = []string{"Rosa", "Luis", "Ana", "Jorge", "Carmen", "Miguel", "Lucía", "Pedro", "Elena", "Raúl"}
	surnames   = []string{"Quispe", "Paredes", "Torres", "Salas", "Mamani", "Huamán", "Flores", "Rojas", "Vargas", "Chávez"}
	ranks      = []string{"Tte.", "Cap.", "My.", "S1", "S2"}
	requesters = []string{"Comisaría Alfonso Ugarte", "Fiscalía Provincial Penal", "DIVINCRI Lima Norte", "Juzgado de Flagrancia"}
)

// Generator produces deterministic examiners and case inputs.
type Generator struct {
	rng *rand.Rand
}

// NewGenerator returns a generator seeded for reproducibility. If seed is 0
// a time-based seed is chosen.
func NewGenerator(seed int64) *Generator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Generator{rng: rand.New(rand.NewSource(seed))}
}

func (g *Generator) pick(pool []string) string {
	return pool[g.rng.Intn(len(pool))]
}

func (g *Generator) name() string {
	return g.pick(givenNames) + " " + g.pick(surnames)
}

func (g *Generator) Examiner(section routing.Section) *oficio.Examiner {
	return &oficio.Examiner{
		ID:       uuid.New(),
		FullName: g.name(),
		Rank:     g.pick(ranks),
		Section:  section,
		Active:   true,
	}
}

// ExamSet returns a non-empty subset of the known exam types.
func (g *Generator) ExamSet() []routing.ExamType {
	for {
		var out []routing.ExamType
		for _, e := range routing.ExamTypes {
			if g.rng.Intn(2) == 1 {
				out = append(out, e)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
}

type Seeder struct {
	gen       *Generator
	config    SeedConfig
	examiners ExaminerRegistrar
	cases     CaseOpener
}

func NewSeeder(config SeedConfig, examiners ExaminerRegistrar, cases CaseOpener) *Seeder {
	return &Seeder{
		gen:       NewGenerator(config.Seed),
		config:    config,
		examiners: examiners,
		cases:     cases,
	}
}

// Run creates the roster, then opens Cases cases, each assigned to an
// examiner of the section its first pending exam belongs to.
func (s *Seeder) Run(ctx context.Context) (*SeedResult, error) {
	start := time.Now()
	res := &SeedResult{}

	bySection := make(map[routing.Section][]*oficio.Examiner)
	for _, sec := range routing.SectionOrder {
		for i := 0; i < s.config.ExaminersPerSection; i++ {
			e := s.gen.Examiner(sec)
			if err := s.examiners.RegisterExaminer(ctx, e); err != nil {
				return res, fmt.Errorf("seed examiner: %w", err)
			}
			bySection[sec] = append(bySection[sec], e)
			res.Examiners++
		}
	}

	intake := bySection[routing.SectionLaboratory]
	if len(intake) == 0 || s.cases == nil {
		res.Duration = time.Since(start)
		return res, nil
	}

	year := time.Now().Year()
	for i := 1; i <= s.config.Cases; i++ {
		exams := s.gen.ExamSet()
		d, err := routing.NextStep(exams, nil)
		if err != nil {
			return res, err
		}
		assignees := bySection[d.Section]
		if len(assignees) == 0 {
			return res, fmt.Errorf("seed case: no examiners in section %s", d.Section)
		}
		in := casework.OpenCaseInput{
			CaseNumber:    fmt.Sprintf("%s-%d-%04d", s.config.CasePrefix, year, i),
			RequiredExams: exams,
			ExaminerID:    assignees[i%len(assignees)].ID,
			Requester:     s.gen.pick(requesters),
			SubjectName:   s.gen.name(),
		}
		if _, err := s.cases.OpenCase(ctx, in, intake[0].ID); err != nil {
			return res, fmt.Errorf("seed case %s: %w", in.CaseNumber, err)
		}
		res.Cases++
	}
	res.Duration = time.Since(start)
	return res, nil
}
