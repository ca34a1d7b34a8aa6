// Package optimizer rewrites problematic DOM patterns before chunking.
// Transforms are values in an ordered registry; each one sees the document
// as left by its predecessors, touches at most a capped number of nodes,
// and never fails the render. The pipeline reports what it did as a metrics
// record.
package optimizer

import (
	"github.com/livefir/streamtemplate/internal/analyzer"
	"github.com/livefir/streamtemplate/internal/htmlmodel"
	"github.com/livefir/streamtemplate/internal/strategy"
)

// Patch is the outcome of one transform application.
type Patch struct {
	NodesTouched int   // mutated nodes, wrappers included
	BytesSaved   int64 // estimated output bytes removed
	Partial      bool  // stopped early at the node cap
	Skipped      int   // nodes skipped on unexpected structure
}

// applied reports whether the transform changed anything.
func (p Patch) applied() bool { return p.NodesTouched > 0 }

// Transform is one named rewrite. Apply must confine itself to local
// mutations and respect ctx.cap; it must not fail.
type Transform interface {
	Name() string
	Applies(a *analyzer.Analysis) bool
	Apply(ctx *Context, doc *htmlmodel.Document, a *analyzer.Analysis) Patch
}

// Config tunes transform behavior.
type Config struct {
	NodeCap           int // per-transform mutation budget
	ViewportHeightPx  int // nominal viewport for prioritize-viewport
	ViewportAnalysis  bool
	GridVisibleRows   int // rows kept eagerly by split-heavy-grid
	RecursionDepth    int // repeated-identity levels kept by limit-recursion
	DeepCollapseDepth int // pivot depth for collapse-deep-subtree
}

// DefaultConfig returns the shipped transform tuning.
func DefaultConfig() Config {
	return Config{
		NodeCap:           20,
		ViewportHeightPx:  900,
		GridVisibleRows:   10,
		RecursionDepth:    3,
		DeepCollapseDepth: 12,
	}
}

// Context carries per-run configuration into transforms.
type Context struct {
	cfg Config
}

// Cap returns the per-transform node budget.
func (c *Context) Cap() int {
	if c.cfg.NodeCap <= 0 {
		return 20
	}
	return c.cfg.NodeCap
}

// TransformResult pairs a transform name with its patch for the metrics
// record.
type TransformResult struct {
	Name  string
	Patch Patch
}

// Metrics summarizes one pipeline run.
type Metrics struct {
	TransformsApplied int
	NodesTouched      int
	BytesSaved        int64
	Skips             int
	Results           []TransformResult
}

// Pipeline is an ordered list of transforms for one optimizer tier.
type Pipeline struct {
	ctx        *Context
	transforms []Transform
}

// registry returns the full transform catalog in application order. The
// order follows the catalog table, with style shrinking last.
func registry(cfg Config) []Transform {
	return []Transform{
		simplifyNestedTables{},
		collapseDeepSubtree{depth: cfg.DeepCollapseDepth},
		hoistRedundant{},
		prioritizeViewport{enabled: cfg.ViewportAnalysis, viewportPx: cfg.ViewportHeightPx},
		containLayoutTriggers{},
		limitRecursion{keep: cfg.RecursionDepth},
		splitHeavyGrid{visibleRows: cfg.GridVisibleRows},
		deferModals{},
		simplifyHeavyParent{},
		shrinkCSS{},
	}
}

// basicNames is the subset of the catalog the basic tier runs.
var basicNames = map[string]bool{
	"simplify-nested-tables": true,
	"hoist-redundant":        true,
	"simplify-heavy-parent":  true,
	"shrink-css":             true,
}

// NewPipeline builds the pipeline for a tier. TierNone yields an empty
// pipeline whose Run is a no-op.
func NewPipeline(tier strategy.Tier, cfg Config) *Pipeline {
	p := &Pipeline{ctx: &Context{cfg: cfg}}
	if tier == strategy.TierNone {
		return p
	}
	for _, t := range registry(cfg) {
		if tier == strategy.TierBasic && !basicNames[t.Name()] {
			continue
		}
		p.transforms = append(p.transforms, t)
	}
	return p
}

// Transforms lists the names the pipeline will attempt, in order.
func (p *Pipeline) Transforms() []string {
	names := make([]string, 0, len(p.transforms))
	for _, t := range p.transforms {
		names = append(names, t.Name())
	}
	return names
}

// Run applies every applicable transform in registry order. Transforms are
// best-effort: unexpected structure is skipped and counted, and the run
// always succeeds with a (possibly empty) result set.
func (p *Pipeline) Run(doc *htmlmodel.Document, a *analyzer.Analysis) *Metrics {
	m := &Metrics{}
	for _, t := range p.transforms {
		if !t.Applies(a) {
			continue
		}
		patch := t.Apply(p.ctx, doc, a)
		m.Results = append(m.Results, TransformResult{Name: t.Name(), Patch: patch})
		if patch.applied() {
			m.TransformsApplied++
			m.NodesTouched += patch.NodesTouched
			m.BytesSaved += patch.BytesSaved
		}
		m.Skips += patch.Skipped
	}
	return m
}
