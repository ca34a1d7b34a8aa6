// Package strategy turns a template analysis into a concrete render plan:
// which chunking strategy, which optimizer tier, which execution mode, and
// the chunk budget. Selection is rule-based and deterministic; a plan cache
// lets repeated renders of the same template skip analysis-to-plan work.
package strategy

import (
	"fmt"

	"github.com/livefir/streamtemplate/internal/analyzer"
)

// ChunkStrategy names how the chunker splits a document.
type ChunkStrategy string

const (
	// ChunkNone renders the whole template as a single chunk.
	ChunkNone ChunkStrategy = "none"
	// ChunkSize cuts at tag boundaries past each byte-budget increment.
	ChunkSize ChunkStrategy = "size"
	// ChunkSection accumulates top-level block elements under the budget.
	ChunkSection ChunkStrategy = "section"
	// ChunkDOM picks breakpoints at structural container children.
	ChunkDOM ChunkStrategy = "dom"
	// ChunkAuto lets the selector decide.
	ChunkAuto ChunkStrategy = "auto"
)

// Tier is the optimizer tier a plan requests.
type Tier string

const (
	TierNone     Tier = "none"
	TierBasic    Tier = "basic"
	TierAdvanced Tier = "advanced"
)

// promote raises a tier one step.
func (t Tier) promote() Tier {
	switch t {
	case TierNone:
		return TierBasic
	case TierBasic:
		return TierAdvanced
	}
	return t
}

// Mode is the execution mode for chunk rendering.
type Mode string

const (
	ModeSequential      Mode = "sequential"
	ModeBoundedParallel Mode = "bounded_parallel"
)

// Config carries every knob the selector reads. The zero value is not
// usable; start from DefaultConfig.
type Config struct {
	EnhancedThresholdKB  int
	StreamingThresholdKB int
	ComplexityThreshold  float64
	EdgeCaseThreshold    int

	ChunkTargetSize int // bytes
	BufferBytes     int
	MaxInFlight     int

	ChunkStrategy        ChunkStrategy
	ViewportAnalysis     bool
	AdvancedOptimization bool
	Aggressive           bool

	Weights analyzer.Weights
}

// DefaultConfig returns the shipped selection thresholds.
func DefaultConfig() Config {
	return Config{
		EnhancedThresholdKB:  100,
		StreamingThresholdKB: 1024,
		ComplexityThreshold:  60,
		EdgeCaseThreshold:    3,
		ChunkTargetSize:      500 * 1024,
		BufferBytes:          100 * 1024,
		MaxInFlight:          2,
		ChunkStrategy:        ChunkAuto,
		AdvancedOptimization: true,
		Weights:              analyzer.DefaultWeights(),
	}
}

// Fingerprint folds the selection-relevant configuration into a cache key
// component, so plans cached under one configuration are not replayed under
// another.
func (c Config) Fingerprint() string {
	return fmt.Sprintf("t%d:%d:c%.0f:e%d:s%d:b%d:p%d:%s:v%t:a%t:g%t",
		c.EnhancedThresholdKB, c.StreamingThresholdKB, c.ComplexityThreshold,
		c.EdgeCaseThreshold, c.ChunkTargetSize, c.BufferBytes, c.MaxInFlight,
		c.ChunkStrategy, c.ViewportAnalysis, c.AdvancedOptimization, c.Aggressive)
}

// Factor is one scored contribution to a selection decision.
type Factor struct {
	Name         string  `json:"name"`
	Contribution float64 `json:"contribution"`
}

// Justification records which decision won and what drove it, so tests can
// assert the deciding factor.
type Justification struct {
	Decision string   `json:"decision"` // progressive | enhanced | streaming
	Factors  []Factor `json:"factors"`
}

// Plan is the complete rendering plan for one template.
type Plan struct {
	Chunking        ChunkStrategy `json:"chunking"`
	Tier            Tier          `json:"tier"`
	Mode            Mode          `json:"mode"`
	MaxInFlight     int           `json:"max_in_flight"`
	ChunkTargetSize int           `json:"chunk_target_size"`
	BufferBytes     int           `json:"buffer_bytes"`
	Justification   Justification `json:"justification"`
}

// Selector maps analyses to plans. One selector may serve many renders; it
// remembers whether a previous render in this process crossed the memory
// high-water mark, which arms aggressive mode for subsequent plans.
type Selector struct {
	cfg       Config
	cache     Cache
	highWater bool
}

// NewSelector creates a selector. cache may be nil; the cacheless mode is
// fully supported.
func NewSelector(cfg Config, cache Cache) *Selector {
	return &Selector{cfg: cfg, cache: cache}
}

// Config returns the selector's configuration.
func (s *Selector) Config() Config { return s.cfg }

// NoteMemoryHighWater records that a render crossed its memory limit.
// Subsequent plans contract their budgets when aggressive mode is enabled.
func (s *Selector) NoteMemoryHighWater() { s.highWater = true }

// cacheKey combines template identity and configuration identity.
func (s *Selector) cacheKey(a *analyzer.Analysis) string {
	return a.Hash + "|" + s.cfg.Fingerprint()
}

// Select produces the plan for an analysis. Equal analyses under the same
// configuration yield equal plans.
func (s *Selector) Select(a *analyzer.Analysis) *Plan {
	if s.cache != nil {
		if plan, ok := s.cache.Lookup(s.cacheKey(a)); ok {
			return plan
		}
	}
	plan := s.build(a)
	if s.cache != nil {
		s.cache.Record(s.cacheKey(a), plan)
	}
	return plan
}

func (s *Selector) build(a *analyzer.Analysis) *Plan {
	cfg := s.cfg
	plan := &Plan{
		MaxInFlight:     cfg.MaxInFlight,
		ChunkTargetSize: cfg.ChunkTargetSize,
		BufferBytes:     cfg.BufferBytes,
	}

	sizeKB := a.SizeKB
	kinds := a.EdgeCaseKinds()

	// Rule 1: size gates pick the base decision.
	switch {
	case sizeKB < float64(cfg.EnhancedThresholdKB):
		plan.Justification.Decision = "progressive"
		plan.Mode = ModeSequential
		plan.Chunking = ChunkNone
		plan.Tier = TierNone
		plan.Justification.Factors = append(plan.Justification.Factors,
			Factor{"size_below_enhanced", float64(cfg.EnhancedThresholdKB) - sizeKB})

	case sizeKB < float64(cfg.StreamingThresholdKB):
		plan.Justification.Decision = "enhanced"
		plan.Mode = ModeSequential
		plan.Chunking = ChunkSection
		plan.Tier = TierNone
		if kinds >= 2 {
			plan.Tier = TierBasic
			plan.Justification.Factors = append(plan.Justification.Factors,
				Factor{"edge_case_kinds", float64(kinds)})
		}
		plan.Justification.Factors = append(plan.Justification.Factors,
			Factor{"size_below_streaming", float64(cfg.StreamingThresholdKB) - sizeKB})

	default:
		plan.Justification.Decision = "streaming"
		plan.Mode = ModeBoundedParallel
		plan.Chunking = ChunkSection // chunker cuts by size only when the document has no body
		plan.Tier = TierBasic
		if a.Complexity >= cfg.ComplexityThreshold {
			plan.Tier = TierAdvanced
			plan.Justification.Factors = append(plan.Justification.Factors,
				Factor{"complexity", a.Complexity})
		} else if kinds >= cfg.EdgeCaseThreshold {
			plan.Tier = TierAdvanced
			plan.Justification.Factors = append(plan.Justification.Factors,
				Factor{"edge_case_kinds", float64(kinds)})
		}
		plan.Justification.Factors = append(plan.Justification.Factors,
			Factor{"size_at_streaming", sizeKB - float64(cfg.StreamingThresholdKB)})
	}

	// Rule 2: over-complexity promotes the tier even under small size.
	if a.Complexity >= cfg.ComplexityThreshold && plan.Justification.Decision != "streaming" {
		plan.Tier = plan.Tier.promote()
		plan.Justification.Factors = append(plan.Justification.Factors,
			Factor{"complexity_override", a.Complexity})
	}

	// The advanced tier is opt-in.
	if plan.Tier == TierAdvanced && !cfg.AdvancedOptimization {
		plan.Tier = TierBasic
	}

	// An explicit chunk strategy overrides the chosen one, but never forces
	// chunking onto a single-chunk plan.
	if cfg.ChunkStrategy != ChunkAuto && cfg.ChunkStrategy != "" && plan.Chunking != ChunkNone {
		plan.Chunking = cfg.ChunkStrategy
	}

	// Rule 3: aggressive mode contracts budgets on large inputs or after a
	// prior render crossed the memory high-water mark.
	if cfg.Aggressive && (sizeKB > 5*1024 || s.highWater) {
		plan.ChunkTargetSize /= 2
		plan.BufferBytes /= 2
		plan.Justification.Factors = append(plan.Justification.Factors,
			Factor{"aggressive_contraction", sizeKB})
	}

	return plan
}
