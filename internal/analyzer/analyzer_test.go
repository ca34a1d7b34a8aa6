package analyzer

import (
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/livefir/streamtemplate/internal/htmlmodel"
)

func analyze(t *testing.T, input string) *Analysis {
	t.Helper()
	doc, _ := htmlmodel.Parse([]byte(input))
	return Analyze(doc, []byte(input), DefaultWeights())
}

func TestDetectors(t *testing.T) {
	deep := strings.Repeat("<div>", 16) + "x" + strings.Repeat("</div>", 16)

	var gridRows strings.Builder
	gridRows.WriteString(`<div class="grid">`)
	for i := 0; i < 35; i++ {
		fmt.Fprintf(&gridRows, `<div>row %d</div>`, i)
	}
	gridRows.WriteString(`</div>`)

	var form strings.Builder
	form.WriteString(`<form>`)
	for i := 0; i < 25; i++ {
		fmt.Fprintf(&form, `<input name="f%d">`, i)
	}
	form.WriteString(`</form>`)

	var wide strings.Builder
	wide.WriteString(`<ul>`)
	for i := 0; i < 60; i++ {
		fmt.Fprintf(&wide, `<li>%d</li>`, i)
	}
	wide.WriteString(`</ul>`)

	tests := []struct {
		name  string
		input string
		kind  EdgeCaseKind
		count int
	}{
		{
			name:  "nested tables",
			input: `<table><tr><td><table><tr><td>inner</td></tr></table></td></tr></table>`,
			kind:  NestedTables,
			count: 1,
		},
		{
			name:  "deep dom",
			input: deep,
			kind:  DeepDOM,
			count: 2, // depths 15 and 16
		},
		{
			name:  "large grid by children",
			input: gridRows.String(),
			kind:  LargeGrid,
			count: 1,
		},
		{
			name:  "complex form",
			input: form.String(),
			kind:  ComplexForm,
			count: 1,
		},
		{
			name:  "heavy parent",
			input: wide.String(),
			kind:  HeavyParent,
			count: 1,
		},
		{
			name:  "redundant elements",
			input: `<div class="card"><div class="card">inner</div></div>`,
			kind:  RedundantElements,
			count: 1,
		},
		{
			name: "recursive templates",
			input: `<div class="r"><div class="r"><div class="r"><div class="r">x</div></div></div></div>`,
			kind:  RecursiveTemplates,
			count: 2, // third and fourth occurrence on the path
		},
		{
			name:  "layout triggers by class",
			input: `<div class="sticky">s</div>`,
			kind:  LayoutTriggers,
			count: 1,
		},
		{
			name:  "layout triggers by style",
			input: `<div style="position: fixed; top: 0">f</div>`,
			kind:  LayoutTriggers,
			count: 1,
		},
		{
			name:  "multiple modals",
			input: `<body><dialog>a</dialog><div class="modal">b</div></body>`,
			kind:  MultipleModals,
			count: 2,
		},
		{
			name:  "css complexity",
			input: `<style>a b c d e { color: red !important; }</style>`,
			kind:  CSSComplexity,
			count: 8, // !important x5 + deep selector x3
		},
		{
			name:  "shadow dom",
			input: `<template shadowrootmode="open"><span>x</span></template>`,
			kind:  ShadowDOM,
			count: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := analyze(t, tt.input)
			ec := a.EdgeCase(tt.kind)
			if ec == nil {
				t.Fatalf("edge case %s not detected; got %+v", tt.kind, a.EdgeCases)
			}
			if ec.Count != tt.count {
				t.Errorf("count = %d, want %d", ec.Count, tt.count)
			}
		})
	}
}

func TestForcedReflowIsSiblingScoped(t *testing.T) {
	reflowChild := `<div style="width: calc(100% - 20px)">x</div>`

	t.Run("sibling group over the threshold", func(t *testing.T) {
		input := `<div id="group">` + strings.Repeat(reflowChild, 12) + `</div>`
		a := analyze(t, input)
		ec := a.EdgeCase(ForcedReflow)
		if ec == nil {
			t.Fatal("12 layout-reading siblings under one parent must trigger forced_reflow")
		}
		if ec.Count != 12 {
			t.Errorf("count = %d, want the group size 12", ec.Count)
		}
	})

	t.Run("scattered across parents stays quiet", func(t *testing.T) {
		// The same 12 elements split into groups of 6 never cross the
		// per-group threshold.
		input := `<div>` + strings.Repeat(reflowChild, 6) + `</div>` +
			`<div>` + strings.Repeat(reflowChild, 6) + `</div>`
		if a := analyze(t, input); a.Has(ForcedReflow) {
			t.Error("sibling groups under the threshold must not trigger forced_reflow")
		}
	})

	t.Run("layout-dependent units beyond calc", func(t *testing.T) {
		vhChild := `<span style="height: 50vh">v</span>`
		input := `<div>` + strings.Repeat(vhChild, 12) + `</div>`
		if a := analyze(t, input); !a.Has(ForcedReflow) {
			t.Error("viewport units must count as layout-dependent")
		}
	})

	t.Run("fixed units stay quiet", func(t *testing.T) {
		pxChild := `<span style="height: 40px; color: red">p</span>`
		input := `<div>` + strings.Repeat(pxChild, 12) + `</div>`
		if a := analyze(t, input); a.Has(ForcedReflow) {
			t.Error("pixel-only inline styles must not trigger forced_reflow")
		}
	})
}

func TestDetectorsAreIndependent(t *testing.T) {
	// One node can match several detectors.
	input := `<table class="grid"><tr><td><table class="grid"><tr><td>x</td></tr></table></td></tr></table>`
	a := analyze(t, input)
	if !a.Has(NestedTables) {
		t.Error("nested_tables missed")
	}
	if !a.Has(RedundantElements) {
		t.Error("redundant_elements missed")
	}
	if !a.Has(LayoutTriggers) { // class token "grid"
		t.Error("layout_triggers missed")
	}
}

func TestAnalysisDeterminism(t *testing.T) {
	input := `<html><body><table><tr><td><table><tr><td>x</td></tr></table></td></tr></table>` +
		strings.Repeat(`<div class="card"><div class="card">r</div></div>`, 5) +
		`</body></html>`

	first := analyze(t, input)
	second := analyze(t, input)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("equal inputs produced different analyses:\n%+v\n%+v", first, second)
	}
}

func TestBasicMeasurements(t *testing.T) {
	a := analyze(t, `<html><head></head><body><div><p>one</p></div></body></html>`)

	if a.ElementCount != 5 {
		t.Errorf("ElementCount = %d, want 5", a.ElementCount)
	}
	if a.MaxDepth != 4 {
		t.Errorf("MaxDepth = %d, want 4", a.MaxDepth)
	}
	if a.Hash == "" || len(a.Hash) != 64 {
		t.Errorf("Hash = %q, want sha256 hex", a.Hash)
	}
	if a.Complexity < 0 || a.Complexity > 100 {
		t.Errorf("Complexity = %f out of range", a.Complexity)
	}
}

func TestComplexityGrowsWithSize(t *testing.T) {
	small := analyze(t, `<div>x</div>`)
	big := analyze(t, `<div>`+strings.Repeat(`<p class="a"><span class="a">text</span></p>`, 2000)+`</div>`)
	if big.Complexity <= small.Complexity {
		t.Errorf("complexity %f should exceed %f", big.Complexity, small.Complexity)
	}
}

func TestEdgeCasesEmittedInFixedOrder(t *testing.T) {
	input := `<div class="sticky">s</div><table><tr><td><table><tr><td>x</td></tr></table></td></tr></table>`
	a := analyze(t, input)
	if len(a.EdgeCases) < 2 {
		t.Fatalf("want at least 2 edge cases, got %+v", a.EdgeCases)
	}
	// nested_tables precedes layout_triggers in the canonical order even
	// though the sticky div appears first in the document.
	if a.EdgeCases[0].Kind != NestedTables {
		t.Errorf("first edge case = %s, want %s", a.EdgeCases[0].Kind, NestedTables)
	}
}
