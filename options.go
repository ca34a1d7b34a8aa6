package streamtemplate

import (
	"fmt"
	"html/template"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/livefir/streamtemplate/internal/analyzer"
	"github.com/livefir/streamtemplate/internal/strategy"
)

// ChunkStrategy selects how templates are split. Auto lets the strategy
// selector decide from the analysis.
type ChunkStrategy string

const (
	ChunkStrategyAuto    ChunkStrategy = "auto"
	ChunkStrategySize    ChunkStrategy = "size"
	ChunkStrategySection ChunkStrategy = "section"
	ChunkStrategyDOM     ChunkStrategy = "dom"
)

// Options configures a Renderer. Build it through New and the With*
// options; the zero value is not valid.
type Options struct {
	ChunkTargetSize int   `validate:"gte=1024"`
	BufferBytes     int   `validate:"gte=1024"`
	MaxInFlight     int   `validate:"gte=1,lte=64"`
	MemoryLimit     int64 `validate:"gte=0"`

	EnhancedThresholdKB  int     `validate:"gte=1"`
	StreamingThresholdKB int     `validate:"gtefield=EnhancedThresholdKB"`
	EdgeCaseThreshold    int     `validate:"gte=1"`
	ComplexityThreshold  float64 `validate:"gte=0,lte=100"`

	Strategy             ChunkStrategy `validate:"oneof=auto size section dom"`
	ViewportAnalysis     bool
	AdvancedOptimization bool
	Aggressive           bool

	PerChunkTimeout time.Duration `validate:"gte=0"`
	Minify          bool

	PlanCache strategy.Cache
	Observer  Observer
	Funcs     template.FuncMap
	Logger    zerolog.Logger
}

// Option mutates Options during construction.
type Option func(*Options)

// defaultOptions returns the shipped defaults.
func defaultOptions() *Options {
	return &Options{
		ChunkTargetSize:      500 * 1024,
		BufferBytes:          100 * 1024,
		MaxInFlight:          2,
		MemoryLimit:          300 * 1024 * 1024,
		EnhancedThresholdKB:  100,
		StreamingThresholdKB: 1024,
		EdgeCaseThreshold:    3,
		ComplexityThreshold:  60,
		Strategy:             ChunkStrategyAuto,
		AdvancedOptimization: true,
		Logger:               zerolog.Nop(),
	}
}

// WithChunkTargetSize sets the target upper bound per chunk in bytes.
func WithChunkTargetSize(bytes int) Option {
	return func(o *Options) { o.ChunkTargetSize = bytes }
}

// WithBufferBytes sets the output queue high-water mark in bytes.
func WithBufferBytes(bytes int) Option {
	return func(o *Options) { o.BufferBytes = bytes }
}

// WithMaxInFlight bounds concurrent chunk renders. 1 disables parallelism.
func WithMaxInFlight(n int) Option {
	return func(o *Options) { o.MaxInFlight = n }
}

// WithMemoryLimit sets the byte estimate that triggers aggressive mode.
// Twice the limit is the hard failure ceiling. 0 disables both.
func WithMemoryLimit(bytes int64) Option {
	return func(o *Options) { o.MemoryLimit = bytes }
}

// WithThresholds sets the strategy gates in KB of input.
func WithThresholds(enhancedKB, streamingKB int) Option {
	return func(o *Options) {
		o.EnhancedThresholdKB = enhancedKB
		o.StreamingThresholdKB = streamingKB
	}
}

// WithOptimizerGates sets the optimizer-tier gates.
func WithOptimizerGates(edgeCases int, complexity float64) Option {
	return func(o *Options) {
		o.EdgeCaseThreshold = edgeCases
		o.ComplexityThreshold = complexity
	}
}

// WithChunkStrategy forces a chunking strategy instead of auto-selection.
func WithChunkStrategy(s ChunkStrategy) Option {
	return func(o *Options) { o.Strategy = s }
}

// WithViewportAnalysis enables the prioritize-viewport pass.
func WithViewportAnalysis(enabled bool) Option {
	return func(o *Options) { o.ViewportAnalysis = enabled }
}

// WithAdvancedOptimization toggles the advanced optimizer tier.
func WithAdvancedOptimization(enabled bool) Option {
	return func(o *Options) { o.AdvancedOptimization = enabled }
}

// WithAggressiveMode allows the selector to contract budgets on large
// inputs and after memory pressure.
func WithAggressiveMode(enabled bool) Option {
	return func(o *Options) { o.Aggressive = enabled }
}

// WithPerChunkTimeout sets a deadline per chunk render; exceeding it is
// treated as that chunk failing. 0 disables the deadline.
func WithPerChunkTimeout(d time.Duration) Option {
	return func(o *Options) { o.PerChunkTimeout = d }
}

// WithMinify minifies each rendered chunk before it reaches the consumer.
func WithMinify(enabled bool) Option {
	return func(o *Options) { o.Minify = enabled }
}

// WithPlanCache installs a plan cache. Without one every render derives its
// plan from scratch, which is a fully supported mode.
func WithPlanCache(cache strategy.Cache) Option {
	return func(o *Options) { o.PlanCache = cache }
}

// WithObserver subscribes an observer to progress and error events.
func WithObserver(obs Observer) Option {
	return func(o *Options) { o.Observer = obs }
}

// WithTemplateFuncs merges extra functions into every chunk template.
func WithTemplateFuncs(funcs template.FuncMap) Option {
	return func(o *Options) { o.Funcs = funcs }
}

// WithLogger injects a structured logger. The default discards everything.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *Options) { o.Logger = logger }
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func optionsValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// validateOptions checks an assembled Options against its constraints.
func validateOptions(o *Options) error {
	if err := optionsValidator().Struct(o); err != nil {
		return fmt.Errorf("invalid render options: %w", err)
	}
	return nil
}

// strategyConfig maps Options onto the selector's configuration.
func (o *Options) strategyConfig() strategy.Config {
	return strategy.Config{
		EnhancedThresholdKB:  o.EnhancedThresholdKB,
		StreamingThresholdKB: o.StreamingThresholdKB,
		ComplexityThreshold:  o.ComplexityThreshold,
		EdgeCaseThreshold:    o.EdgeCaseThreshold,
		ChunkTargetSize:      o.ChunkTargetSize,
		BufferBytes:          o.BufferBytes,
		MaxInFlight:          o.MaxInFlight,
		ChunkStrategy:        strategy.ChunkStrategy(o.Strategy),
		ViewportAnalysis:     o.ViewportAnalysis,
		AdvancedOptimization: o.AdvancedOptimization,
		Aggressive:           o.Aggressive,
		Weights:              analyzer.DefaultWeights(),
	}
}
