// Package analyzer measures a parsed template in a single pass: byte size,
// element count, nesting depth, and a fixed catalog of structural edge-case
// patterns. The result feeds strategy selection; the analyzer itself makes
// no decisions.
package analyzer

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/livefir/streamtemplate/internal/htmlmodel"
)

// EdgeCaseKind names a detectable structural pattern. The set is closed.
type EdgeCaseKind string

const (
	NestedTables       EdgeCaseKind = "nested_tables"
	DeepDOM            EdgeCaseKind = "deep_dom"
	LargeGrid          EdgeCaseKind = "large_grid"
	ComplexForm        EdgeCaseKind = "complex_form"
	MultipleModals     EdgeCaseKind = "multiple_modals"
	InfiniteScroll     EdgeCaseKind = "infinite_scroll"
	HeavyScript        EdgeCaseKind = "heavy_script"
	HeavyParent        EdgeCaseKind = "heavy_parent"
	RedundantElements  EdgeCaseKind = "redundant_elements"
	RecursiveTemplates EdgeCaseKind = "recursive_templates"
	ShadowDOM          EdgeCaseKind = "shadow_dom"
	LayoutTriggers     EdgeCaseKind = "layout_triggers"
	ForcedReflow       EdgeCaseKind = "forced_reflow"
	CSSComplexity      EdgeCaseKind = "css_complexity"
	NestedFlexboxes    EdgeCaseKind = "nested_flexboxes"
	ExcessiveGrids     EdgeCaseKind = "excessive_grids"
	Carousel           EdgeCaseKind = "carousel"
)

// kindOrder fixes the order edge cases appear in an Analysis so equal inputs
// produce byte-identical results.
var kindOrder = []EdgeCaseKind{
	NestedTables, DeepDOM, LargeGrid, ComplexForm, MultipleModals,
	InfiniteScroll, HeavyScript, HeavyParent, RedundantElements,
	RecursiveTemplates, ShadowDOM, LayoutTriggers, ForcedReflow,
	CSSComplexity, NestedFlexboxes, ExcessiveGrids, Carousel,
}

// maxRecordedNodes caps how many element references each edge case carries.
const maxRecordedNodes = 32

// EdgeCase is one detected pattern with its occurrence count and up to
// maxRecordedNodes example elements.
type EdgeCase struct {
	Kind  EdgeCaseKind
	Count int
	Nodes []htmlmodel.NodeID
}

// Analysis is the complete measurement of one template.
type Analysis struct {
	SizeKB       float64
	ElementCount int
	MaxDepth     int
	EdgeCases    []EdgeCase
	Complexity   float64 // scaled to [0, 100]
	Warnings     int     // parse recoveries
	Hash         string  // sha256 of the input bytes, hex
}

// EdgeCase returns the record for a kind, or nil when not detected.
func (a *Analysis) EdgeCase(kind EdgeCaseKind) *EdgeCase {
	for i := range a.EdgeCases {
		if a.EdgeCases[i].Kind == kind {
			return &a.EdgeCases[i]
		}
	}
	return nil
}

// Has reports whether a kind was detected at least once.
func (a *Analysis) Has(kind EdgeCaseKind) bool {
	return a.EdgeCase(kind) != nil
}

// EdgeCaseKinds returns how many distinct kinds were detected. The strategy
// selector's edge-case gates count kinds, not occurrences.
func (a *Analysis) EdgeCaseKinds() int { return len(a.EdgeCases) }

// TotalOccurrences sums occurrence counts over all detected kinds.
func (a *Analysis) TotalOccurrences() int {
	total := 0
	for i := range a.EdgeCases {
		total += a.EdgeCases[i].Count
	}
	return total
}

// Weights scales the contribution of each measurement to the complexity
// scalar. Values are owned by strategy configuration, not the analyzer.
type Weights struct {
	Size      float64
	Elements  float64
	EdgeCases float64
	Depth     float64
}

// DefaultWeights matches the strategy selector's shipped configuration.
func DefaultWeights() Weights {
	return Weights{Size: 0.30, Elements: 0.25, EdgeCases: 0.30, Depth: 0.15}
}

// hashBytes returns the content hash used as the template's identity.
func hashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
