package analyzer

import (
	"sort"
	"strings"

	"github.com/livefir/streamtemplate/internal/htmlmodel"
)

// Detection thresholds from the pattern catalog.
const (
	deepDOMThreshold        = 15
	largeGridRows           = 30
	complexFormControls     = 20
	heavyParentChildren     = 50
	recursionRepeatLimit    = 2 // identity repeats more than this on one path
	heavyScriptBytes        = 5000
	modalMinimum            = 2
	flexNestingDepth        = 3
	excessiveGridContainers = 5
	carouselMinSlides       = 5
	forcedReflowMinimum     = 10
)

// interactiveTags are the form controls counted by the complex_form
// detector.
var interactiveTags = map[string]bool{
	"input": true, "select": true, "textarea": true, "button": true,
	"datalist": true, "output": true,
}

// layoutTriggerClasses are class tokens that imply layout-affecting styling
// even without inline styles.
var layoutTriggerClasses = map[string]bool{
	"sticky": true, "fixed": true, "absolute": true, "fullwidth": true,
	"fullheight": true, "grid": true, "flex": true,
}

// collector accumulates one edge case during the walk.
type collector struct {
	count int
	nodes []htmlmodel.NodeID
}

func (c *collector) hit(id htmlmodel.NodeID) {
	c.count++
	if len(c.nodes) < maxRecordedNodes {
		c.nodes = append(c.nodes, id)
	}
}

func (c *collector) add(n int) { c.count += n }

// Analyze measures a parsed document. For the same bytes and weights the
// result is identical between runs: the walk order is the document order and
// edge cases are emitted in a fixed kind order.
func Analyze(doc *htmlmodel.Document, raw []byte, w Weights) *Analysis {
	a := &Analysis{
		SizeKB:   float64(len(raw)) / 1024.0,
		Warnings: doc.Warnings(),
		Hash:     hashBytes(raw),
	}

	found := make(map[EdgeCaseKind]*collector, len(kindOrder))
	get := func(kind EdgeCaseKind) *collector {
		c, ok := found[kind]
		if !ok {
			c = &collector{}
			found[kind] = c
		}
		return c
	}

	// Path state maintained by the explicit enter/leave walk.
	var (
		tableStack    []htmlmodel.NodeID
		nestedHit     = map[htmlmodel.NodeID]bool{}
		flexPath      int
		gridCount     int
		modalCount    int
		cssScore      int
		classOnPath   = map[string]int{}
		identPath     = map[string]int{}
		reflowGroups  = map[htmlmodel.NodeID]int{}
		reflowParents []htmlmodel.NodeID
	)

	type frame struct {
		id    htmlmodel.NodeID
		depth int
		exit  bool
	}
	stack := []frame{{doc.Root(), 0, false}}

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		id := f.id

		if f.exit {
			if doc.KindOf(id) == htmlmodel.KindElement {
				if doc.Tag(id) == "table" {
					tableStack = tableStack[:len(tableStack)-1]
				}
				if isFlexContainer(doc, id) {
					flexPath--
				}
				for _, tok := range doc.ClassTokens(id) {
					classOnPath[tok]--
				}
				identPath[identity(doc, id)]--
			}
			continue
		}

		if doc.KindOf(id) == htmlmodel.KindElement && id != doc.Root() {
			a.ElementCount++
			if f.depth > a.MaxDepth {
				a.MaxDepth = f.depth
			}
			tag := doc.Tag(id)

			// deep_dom: computed depth at or past the threshold.
			if f.depth >= deepDOMThreshold {
				get(DeepDOM).hit(id)
			}

			// nested_tables: a table inside another table marks the outer
			// table as having a table descendant; each outer table counts
			// once.
			if tag == "table" && len(tableStack) > 0 {
				if outer := tableStack[len(tableStack)-1]; !nestedHit[outer] {
					nestedHit[outer] = true
					get(NestedTables).hit(outer)
				}
			}

			// heavy_parent: over-wide fan-out.
			if n := doc.ChildCount(id); n > heavyParentChildren {
				get(HeavyParent).hit(id)
			}

			// large_grid: grid-like element with too many rows.
			if isGridContainer(doc, id) {
				gridCount++
				if doc.ChildCount(id) > largeGridRows {
					get(LargeGrid).hit(id)
				}
			}
			if tag == "table" && countRows(doc, id) > largeGridRows {
				get(LargeGrid).hit(id)
			}

			// complex_form: too many interactive descendants.
			if tag == "form" && countInteractive(doc, id) > complexFormControls {
				get(ComplexForm).hit(id)
			}

			// redundant_elements: first shared class token with an
			// ancestor counts the element once.
			for _, tok := range doc.ClassTokens(id) {
				if classOnPath[tok] > 0 {
					get(RedundantElements).hit(id)
					break
				}
			}

			// recursive_templates: tag-and-class identity repeating past
			// the limit on one root-to-leaf path.
			ident := identity(doc, id)
			if identPath[ident] >= recursionRepeatLimit {
				get(RecursiveTemplates).hit(id)
			}

			if isModal(doc, id) {
				modalCount++
			}

			if isInfiniteScroll(doc, id) {
				get(InfiniteScroll).hit(id)
			}

			if tag == "script" {
				if _, ext := doc.Attr(id, "src"); !ext {
					body := doc.InnerHTML(id)
					if len(body) > heavyScriptBytes {
						get(HeavyScript).hit(id)
					}
					if strings.Contains(body, "attachShadow") {
						get(ShadowDOM).hit(id)
					}
				}
			}

			if tag == "template" {
				if _, ok := doc.Attr(id, "shadowrootmode"); ok {
					get(ShadowDOM).hit(id)
				}
			}

			if hasLayoutTrigger(doc, id) {
				get(LayoutTriggers).hit(id)
			}

			if style, ok := doc.Attr(id, "style"); ok {
				// forced_reflow is scoped per sibling group: count
				// layout-dependent inline styles against the parent.
				if usesLayoutUnits(style) {
					parent := doc.Parent(id)
					if reflowGroups[parent] == 0 {
						reflowParents = append(reflowParents, parent)
					}
					reflowGroups[parent]++
				}
				cssScore += scoreCSS(style)
			}
			if tag == "style" {
				cssScore += scoreCSS(doc.InnerHTML(id))
			}

			// nested_flexboxes: flex container at flex-nesting depth >= 3.
			if isFlexContainer(doc, id) && flexPath >= flexNestingDepth-1 {
				get(NestedFlexboxes).hit(id)
			}

			if isCarousel(doc, id) {
				get(Carousel).hit(id)
			}
		}

		// Schedule exit bookkeeping, then children (reversed for document
		// order), after updating path state for this element.
		if doc.KindOf(id) == htmlmodel.KindElement {
			if id != doc.Root() {
				if doc.Tag(id) == "table" {
					tableStack = append(tableStack, id)
				}
				if isFlexContainer(doc, id) {
					flexPath++
				}
				for _, tok := range doc.ClassTokens(id) {
					classOnPath[tok]++
				}
				identPath[identity(doc, id)]++
				stack = append(stack, frame{id, f.depth, true})
			}
			children := doc.Children(id)
			for i := len(children) - 1; i >= 0; i-- {
				stack = append(stack, frame{children[i], f.depth + 1, false})
			}
		}
	}

	if modalCount >= modalMinimum {
		get(MultipleModals).add(modalCount)
	}
	// A sibling group qualifies when more than the minimum of its members
	// carry layout-dependent inline styles. Parents are visited in
	// first-seen order so the result is deterministic.
	for _, parent := range reflowParents {
		if n := reflowGroups[parent]; n > forcedReflowMinimum {
			c := get(ForcedReflow)
			c.add(n)
			if len(c.nodes) < maxRecordedNodes {
				c.nodes = append(c.nodes, parent)
			}
		}
	}
	if cssScore > 0 {
		get(CSSComplexity).add(cssScore)
	}
	if gridCount > excessiveGridContainers {
		get(ExcessiveGrids).add(gridCount)
	}

	for _, kind := range kindOrder {
		if c, ok := found[kind]; ok && c.count > 0 {
			a.EdgeCases = append(a.EdgeCases, EdgeCase{Kind: kind, Count: c.count, Nodes: c.nodes})
		}
	}

	a.Complexity = complexity(a, w)
	return a
}

// identity is the tag-and-class key used by the recursion detector. Class
// tokens are sorted so attribute ordering cannot split an identity.
func identity(doc *htmlmodel.Document, id htmlmodel.NodeID) string {
	toks := append([]string(nil), doc.ClassTokens(id)...)
	sort.Strings(toks)
	return doc.Tag(id) + "|" + strings.Join(toks, " ")
}

// usesLayoutUnits reports whether an inline style reads layout-dependent
// units: calc() expressions, viewport units, or percentages. Values like
// these force the engine to resolve surrounding layout before painting.
func usesLayoutUnits(style string) bool {
	if strings.Contains(style, "calc(") {
		return true
	}
	for _, decl := range strings.Split(style, ";") {
		_, v, ok := strings.Cut(decl, ":")
		if !ok {
			continue
		}
		v = strings.ToLower(v)
		if strings.Contains(v, "vw") || strings.Contains(v, "vh") || strings.Contains(v, "%") {
			return true
		}
	}
	return false
}

func isGridContainer(doc *htmlmodel.Document, id htmlmodel.NodeID) bool {
	for _, tok := range doc.ClassTokens(id) {
		if tok == "grid" || strings.HasPrefix(tok, "grid-") {
			return true
		}
	}
	if style, ok := doc.Attr(id, "style"); ok {
		return styleContains(style, "display", "grid")
	}
	return false
}

func isFlexContainer(doc *htmlmodel.Document, id htmlmodel.NodeID) bool {
	if doc.HasClassToken(id, "flex") {
		return true
	}
	if style, ok := doc.Attr(id, "style"); ok {
		return styleContains(style, "display", "flex")
	}
	return false
}

func isModal(doc *htmlmodel.Document, id htmlmodel.NodeID) bool {
	if doc.Tag(id) == "dialog" {
		return true
	}
	if role, ok := doc.Attr(id, "role"); ok && role == "dialog" {
		return true
	}
	return doc.HasClassToken(id, "modal")
}

func isInfiniteScroll(doc *htmlmodel.Document, id htmlmodel.NodeID) bool {
	if _, ok := doc.Attr(id, "data-infinite-scroll"); ok {
		return true
	}
	return doc.HasClassToken(id, "infinite-scroll") || doc.HasClassToken(id, "load-more")
}

func isCarousel(doc *htmlmodel.Document, id htmlmodel.NodeID) bool {
	if !doc.HasClassToken(id, "carousel") && !doc.HasClassToken(id, "slider") {
		return false
	}
	return doc.ChildCount(id) > carouselMinSlides
}

func hasLayoutTrigger(doc *htmlmodel.Document, id htmlmodel.NodeID) bool {
	for _, tok := range doc.ClassTokens(id) {
		if layoutTriggerClasses[tok] {
			return true
		}
	}
	style, ok := doc.Attr(id, "style")
	if !ok {
		return false
	}
	if styleContains(style, "position", "sticky") || styleContains(style, "position", "fixed") {
		return true
	}
	if strings.Contains(style, "transform") {
		return true
	}
	// Full-bleed dimensioning.
	return strings.Contains(style, "100vw") || strings.Contains(style, "100vh")
}

// styleContains reports whether an inline style declares prop with a value
// containing val.
func styleContains(style, prop, val string) bool {
	for _, decl := range strings.Split(style, ";") {
		k, v, ok := strings.Cut(decl, ":")
		if !ok {
			continue
		}
		if strings.TrimSpace(strings.ToLower(k)) == prop &&
			strings.Contains(strings.ToLower(v), val) {
			return true
		}
	}
	return false
}

func countRows(doc *htmlmodel.Document, table htmlmodel.NodeID) int {
	rows := 0
	doc.WalkSubtree(table, func(n htmlmodel.NodeID, _ int) bool {
		if n != table && doc.Tag(n) == "table" {
			return false // nested tables count their own rows
		}
		if doc.Tag(n) == "tr" {
			rows++
		}
		return true
	})
	return rows
}

func countInteractive(doc *htmlmodel.Document, form htmlmodel.NodeID) int {
	n := 0
	doc.WalkSubtree(form, func(id htmlmodel.NodeID, _ int) bool {
		if id != form && interactiveTags[doc.Tag(id)] {
			n++
		}
		return true
	})
	return n
}

// scoreCSS derives the css_complexity scalar from one style payload:
// !important count x5, selectors with four or more descendant combinators
// x3, vendor prefixes x1, nested @media x2.
func scoreCSS(css string) int {
	score := strings.Count(css, "!important") * 5
	score += strings.Count(css, "-webkit-") + strings.Count(css, "-moz-") +
		strings.Count(css, "-ms-") + strings.Count(css, "-o-")
	score += strings.Count(css, "@media") * 2

	for _, line := range strings.Split(css, "{") {
		sel := line
		if i := strings.LastIndex(line, "}"); i >= 0 {
			sel = line[i+1:]
		}
		sel = strings.TrimSpace(sel)
		if sel == "" || strings.HasPrefix(sel, "@") {
			continue
		}
		if len(strings.Fields(sel)) >= 5 { // 4+ descendant combinators
			score += 3
		}
	}
	return score
}

// complexity folds the measurements into the [0, 100] scalar. Each factor is
// normalized against a nominal ceiling before weighting.
func complexity(a *Analysis, w Weights) float64 {
	norm := func(v, ceil float64) float64 {
		if v >= ceil {
			return 1
		}
		if v < 0 {
			return 0
		}
		return v / ceil
	}
	total := w.Size + w.Elements + w.EdgeCases + w.Depth
	if total == 0 {
		return 0
	}
	score := w.Size*norm(a.SizeKB, 5000) +
		w.Elements*norm(float64(a.ElementCount), 10000) +
		w.EdgeCases*norm(float64(a.TotalOccurrences()), 40) +
		w.Depth*norm(float64(a.MaxDepth), 30)
	return 100 * score / total
}
