package optimizer

import (
	"strconv"
	"strings"

	"github.com/livefir/streamtemplate/internal/analyzer"
	"github.com/livefir/streamtemplate/internal/htmlmodel"
)

// Marker attributes and wrapper classes are part of the consumer-visible
// contract; the embedded runtime script keys off them.
const (
	attrViewport     = "data-viewport"
	attrPriority     = "data-progressive-priority"
	attrLazyRender   = "data-lazy-render"
	attrRecursive    = "data-recursive-template"
	attrLayout       = "data-layout-trigger"
	attrForcedReflow = "data-forced-reflow"

	classSimplifiedTable = "simplified-table"
	classDeepContent     = "deep-content-wrapper"
	classHeavyComponent  = "heavy-component-wrapper"
	classMoreItems       = "more-items-container"
	classGridWrapper     = "grid-wrapper"
	classNestedFlexbox   = "nested-flexbox-wrapper"

	modalContainerID = "modal-container"
)

// simplify-nested-tables wraps each inner table in a lazy-render container;
// the table's own markup is moved, not re-serialized.
type simplifyNestedTables struct{}

func (simplifyNestedTables) Name() string { return "simplify-nested-tables" }

func (simplifyNestedTables) Applies(a *analyzer.Analysis) bool {
	return a.Has(analyzer.NestedTables)
}

func (simplifyNestedTables) Apply(ctx *Context, doc *htmlmodel.Document, a *analyzer.Analysis) Patch {
	var p Patch
	for _, id := range innerTables(doc) {
		if p.NodesTouched >= ctx.Cap() {
			p.Partial = true
			break
		}
		parent := doc.Parent(id)
		if doc.HasClassToken(parent, classSimplifiedTable) {
			continue // already wrapped by an earlier run
		}
		wrapper := doc.Wrap(id, "div",
			htmlmodel.Attr{Key: "class", Val: classSimplifiedTable},
			htmlmodel.Attr{Key: attrLazyRender, Val: "true"})
		if wrapper == htmlmodel.Nil {
			p.Skipped++
			continue
		}
		p.NodesTouched++
	}
	return p
}

// innerTables finds tables that sit inside another table, in document
// order.
func innerTables(doc *htmlmodel.Document) []htmlmodel.NodeID {
	var out []htmlmodel.NodeID
	doc.WalkSubtree(doc.Root(), func(id htmlmodel.NodeID, _ int) bool {
		if doc.Tag(id) != "table" {
			return true
		}
		for _, anc := range doc.Ancestors(id, 0) {
			if doc.Tag(anc) == "table" {
				out = append(out, id)
				break
			}
		}
		return true
	})
	return out
}

// collapse-deep-subtree wraps the content below a pivot depth in a
// lazy-render container. The original nodes move under the wrapper intact.
type collapseDeepSubtree struct {
	depth int
}

func (collapseDeepSubtree) Name() string { return "collapse-deep-subtree" }

func (collapseDeepSubtree) Applies(a *analyzer.Analysis) bool {
	return a.Has(analyzer.DeepDOM)
}

func (t collapseDeepSubtree) Apply(ctx *Context, doc *htmlmodel.Document, a *analyzer.Analysis) Patch {
	var p Patch
	pivotDepth := t.depth
	if pivotDepth <= 0 {
		pivotDepth = 12
	}
	ec := a.EdgeCase(analyzer.DeepDOM)
	if ec == nil {
		return p
	}
	seen := map[htmlmodel.NodeID]bool{}
	for _, deep := range ec.Nodes {
		if p.NodesTouched >= ctx.Cap() {
			p.Partial = true
			break
		}
		pivot := pivotAncestor(doc, deep, pivotDepth)
		if pivot == htmlmodel.Nil || seen[pivot] {
			continue
		}
		seen[pivot] = true
		if alreadyCollapsed(doc, pivot) {
			continue
		}
		if doc.ChildCount(pivot) == 0 {
			p.Skipped++
			continue
		}
		wrapper := doc.WrapChildren(pivot, "div",
			htmlmodel.Attr{Key: "class", Val: classDeepContent},
			htmlmodel.Attr{Key: attrLazyRender, Val: "true"})
		if wrapper == htmlmodel.Nil {
			p.Skipped++
			continue
		}
		doc.Annotate(pivot, "collapsed", "true")
		p.NodesTouched++
	}
	return p
}

// pivotAncestor walks up from a deep node to the element sitting at the
// pivot depth.
func pivotAncestor(doc *htmlmodel.Document, id htmlmodel.NodeID, depth int) htmlmodel.NodeID {
	n := id
	for doc.Depth(n) > depth {
		n = doc.Parent(n)
		if n == htmlmodel.Nil {
			return htmlmodel.Nil
		}
	}
	if doc.KindOf(n) != htmlmodel.KindElement {
		return htmlmodel.Nil
	}
	return n
}

func alreadyCollapsed(doc *htmlmodel.Document, pivot htmlmodel.NodeID) bool {
	children := doc.Children(pivot)
	return len(children) == 1 && doc.HasClassToken(children[0], classDeepContent)
}

// hoist-redundant splices out elements whose single class token duplicates
// the parent's, reparenting their children in place.
type hoistRedundant struct{}

func (hoistRedundant) Name() string { return "hoist-redundant" }

func (hoistRedundant) Applies(a *analyzer.Analysis) bool {
	return a.Has(analyzer.RedundantElements)
}

func (hoistRedundant) Apply(ctx *Context, doc *htmlmodel.Document, a *analyzer.Analysis) Patch {
	var p Patch
	// Collect first: splicing mutates sibling chains mid-walk.
	var victims []htmlmodel.NodeID
	doc.WalkSubtree(doc.Root(), func(id htmlmodel.NodeID, _ int) bool {
		if doc.KindOf(id) != htmlmodel.KindElement {
			return true
		}
		toks := doc.ClassTokens(id)
		if len(toks) != 1 {
			return true
		}
		parent := doc.Parent(id)
		if parent == htmlmodel.Nil || !doc.HasClassToken(parent, toks[0]) {
			return true
		}
		// A duplication chain longer than two is a recursive template,
		// which limit-recursion owns; hoisting only targets the
		// accidental parent/child pair.
		if partOfRecursionChain(doc, id) {
			return true
		}
		victims = append(victims, id)
		return true
	})
	for _, id := range victims {
		if p.NodesTouched >= ctx.Cap() {
			p.Partial = true
			break
		}
		if doc.Parent(id) == htmlmodel.Nil {
			p.Skipped++ // unlinked by an earlier splice
			continue
		}
		p.BytesSaved += int64(len(doc.OpenTag(id)) + len(doc.Tag(id)) + 3)
		for _, child := range doc.Children(id) {
			if !doc.InsertBefore(id, child) {
				p.Skipped++
			}
		}
		doc.Detach(id)
		p.NodesTouched++
	}
	return p
}

// partOfRecursionChain reports whether the element's tag-and-class identity
// also appears on its grandparent or any direct child.
func partOfRecursionChain(doc *htmlmodel.Document, id htmlmodel.NodeID) bool {
	ident := recursionIdentity(doc, id)
	if gp := doc.Parent(doc.Parent(id)); gp != htmlmodel.Nil &&
		doc.KindOf(gp) == htmlmodel.KindElement && recursionIdentity(doc, gp) == ident {
		return true
	}
	for _, c := range doc.Children(id) {
		if doc.KindOf(c) == htmlmodel.KindElement && recursionIdentity(doc, c) == ident {
			return true
		}
	}
	return false
}

// contain-layout-triggers adds containment hints to elements the analyzer
// flagged as layout-affecting, and isolates deeply nested flexboxes.
type containLayoutTriggers struct{}

func (containLayoutTriggers) Name() string { return "contain-layout-triggers" }

func (containLayoutTriggers) Applies(a *analyzer.Analysis) bool {
	return a.Has(analyzer.LayoutTriggers) || a.Has(analyzer.NestedFlexboxes)
}

func (containLayoutTriggers) Apply(ctx *Context, doc *htmlmodel.Document, a *analyzer.Analysis) Patch {
	var p Patch
	if ec := a.EdgeCase(analyzer.LayoutTriggers); ec != nil {
		for _, id := range ec.Nodes {
			if p.NodesTouched >= ctx.Cap() {
				p.Partial = true
				return p
			}
			if _, done := doc.Attr(id, attrLayout); done {
				continue
			}
			if !doc.AppendStyle(id, "contain: layout") {
				p.Skipped++
				continue
			}
			if suggestsAnimation(doc, id) {
				doc.AppendStyle(id, "will-change: transform")
			}
			doc.SetAttr(id, attrLayout, "true")
			doc.Annotate(id, "layout-contained", "true")
			p.NodesTouched++
		}
	}
	if ec := a.EdgeCase(analyzer.NestedFlexboxes); ec != nil {
		for _, id := range ec.Nodes {
			if p.NodesTouched >= ctx.Cap() {
				p.Partial = true
				return p
			}
			parent := doc.Parent(id)
			if doc.HasClassToken(parent, classNestedFlexbox) {
				continue
			}
			if doc.Wrap(id, "div", htmlmodel.Attr{Key: "class", Val: classNestedFlexbox}) == htmlmodel.Nil {
				p.Skipped++
				continue
			}
			p.NodesTouched++
		}
	}
	return p
}

var animationClassHints = []string{"animate", "animated", "transition", "carousel", "slider", "spin"}

func suggestsAnimation(doc *htmlmodel.Document, id htmlmodel.NodeID) bool {
	for _, tok := range doc.ClassTokens(id) {
		for _, hint := range animationClassHints {
			if strings.Contains(tok, hint) {
				return true
			}
		}
	}
	return false
}

// limit-recursion keeps the first levels of a repeated tag-and-class path
// and folds deeper recurrences into a load-more placeholder. The deferred
// content moves into the placeholder with its repeated class withdrawn so
// the expensive styling no longer applies until the consumer reveals it.
type limitRecursion struct {
	keep int
}

func (limitRecursion) Name() string { return "limit-recursion" }

func (limitRecursion) Applies(a *analyzer.Analysis) bool {
	return a.Has(analyzer.RecursiveTemplates)
}

func (t limitRecursion) Apply(ctx *Context, doc *htmlmodel.Document, a *analyzer.Analysis) Patch {
	var p Patch
	keep := t.keep
	if keep <= 0 {
		keep = 3
	}

	// Re-walk with a path multiset: analysis node refs can be stale after
	// earlier structural transforms.
	type frame struct {
		id   htmlmodel.NodeID
		exit bool
	}
	counts := map[string]int{}
	var folds []htmlmodel.NodeID
	stack := []frame{{doc.Root(), false}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if doc.KindOf(f.id) != htmlmodel.KindElement {
			continue
		}
		ident := recursionIdentity(doc, f.id)
		if f.exit {
			counts[ident]--
			continue
		}
		if f.id != doc.Root() && counts[ident] == keep {
			folds = append(folds, f.id)
			continue // deeper levels fold with this one
		}
		counts[ident]++
		stack = append(stack, frame{f.id, true})
		children := doc.Children(f.id)
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, frame{children[i], false})
		}
	}

	for _, id := range folds {
		if p.NodesTouched >= ctx.Cap() {
			p.Partial = true
			break
		}
		toks := doc.ClassTokens(id)
		if len(toks) == 0 {
			p.Skipped++
			continue
		}
		base := toks[0]
		wrapper := doc.Wrap(id, "div",
			htmlmodel.Attr{Key: "class", Val: base + "-placeholder"},
			htmlmodel.Attr{Key: "data-depth", Val: strconv.Itoa(keep)},
			htmlmodel.Attr{Key: attrRecursive, Val: "true"},
			htmlmodel.Attr{Key: "data-load-more", Val: "true"},
			htmlmodel.Attr{Key: attrViewport, Val: "offscreen"})
		if wrapper == htmlmodel.Nil {
			p.Skipped++
			continue
		}
		// Withdraw the repeated class from the folded levels so the
		// recursion's styling stops at the kept depth.
		withdrawClass(doc, id, base)
		doc.Annotate(wrapper, "recursive", "true")
		p.NodesTouched++
	}
	return p
}

func recursionIdentity(doc *htmlmodel.Document, id htmlmodel.NodeID) string {
	toks := append([]string(nil), doc.ClassTokens(id)...)
	return doc.Tag(id) + "|" + strings.Join(toks, " ")
}

// withdrawClass removes token from id and every descendant carrying it.
func withdrawClass(doc *htmlmodel.Document, id htmlmodel.NodeID, token string) {
	doc.WalkSubtree(id, func(n htmlmodel.NodeID, _ int) bool {
		if !doc.HasClassToken(n, token) {
			return true
		}
		var kept []string
		for _, tok := range doc.ClassTokens(n) {
			if tok != token {
				kept = append(kept, tok)
			}
		}
		if len(kept) == 0 {
			doc.RemoveAttr(n, "class")
		} else {
			doc.SetAttr(n, "class", strings.Join(kept, " "))
		}
		doc.SetAttr(n, attrRecursive, "true")
		return true
	})
}

// split-heavy-grid keeps the first rows of an oversized grid eager and
// moves the remainder into a lazy-load container with a pagination
// sentinel.
type splitHeavyGrid struct {
	visibleRows int
}

func (splitHeavyGrid) Name() string { return "split-heavy-grid" }

func (splitHeavyGrid) Applies(a *analyzer.Analysis) bool {
	return a.Has(analyzer.LargeGrid)
}

func (t splitHeavyGrid) Apply(ctx *Context, doc *htmlmodel.Document, a *analyzer.Analysis) Patch {
	var p Patch
	visible := t.visibleRows
	if visible <= 0 {
		visible = 10
	}
	ec := a.EdgeCase(analyzer.LargeGrid)
	if ec == nil {
		return p
	}
	for _, grid := range ec.Nodes {
		if p.NodesTouched >= ctx.Cap() {
			p.Partial = true
			break
		}
		if hasMoreItemsContainer(doc, grid) {
			continue
		}
		if doc.Tag(grid) == "table" {
			if !splitTableRows(doc, grid, visible) {
				p.Skipped++
				continue
			}
		} else {
			if !splitGridChildren(doc, grid, visible) {
				p.Skipped++
				continue
			}
		}
		p.NodesTouched++
	}
	return p
}

func hasMoreItemsContainer(doc *htmlmodel.Document, grid htmlmodel.NodeID) bool {
	found := false
	doc.WalkSubtree(grid, func(n htmlmodel.NodeID, _ int) bool {
		if doc.HasClassToken(n, classMoreItems) {
			found = true
			return false
		}
		return true
	})
	return found
}

// splitTableRows moves rows past the visible budget into a deferred tbody,
// keeping them inside the table so row semantics hold.
func splitTableRows(doc *htmlmodel.Document, table htmlmodel.NodeID, visible int) bool {
	var rows []htmlmodel.NodeID
	doc.WalkSubtree(table, func(n htmlmodel.NodeID, _ int) bool {
		if n != table && doc.Tag(n) == "table" {
			return false
		}
		if doc.Tag(n) == "tr" {
			rows = append(rows, n)
		}
		return true
	})
	if len(rows) <= visible {
		return false
	}
	deferred := doc.NewElement("tbody",
		htmlmodel.Attr{Key: "class", Val: classMoreItems},
		htmlmodel.Attr{Key: attrLazyRender, Val: "true"},
		htmlmodel.Attr{Key: "data-pagination-offset", Val: strconv.Itoa(visible)})
	for _, row := range rows[visible:] {
		doc.MoveSubtree(row, deferred)
	}
	return doc.AppendChild(table, deferred)
}

// splitGridChildren does the same for element-per-cell grids, wrapping the
// grid first so the deferred container sits beside the eager rows.
func splitGridChildren(doc *htmlmodel.Document, grid htmlmodel.NodeID, visible int) bool {
	children := doc.Children(grid)
	if len(children) <= visible {
		return false
	}
	if !doc.HasClassToken(doc.Parent(grid), classGridWrapper) {
		if doc.Wrap(grid, "div", htmlmodel.Attr{Key: "class", Val: classGridWrapper}) == htmlmodel.Nil {
			return false
		}
	}
	deferred := doc.NewElement("div",
		htmlmodel.Attr{Key: "class", Val: classMoreItems},
		htmlmodel.Attr{Key: attrLazyRender, Val: "true"},
		htmlmodel.Attr{Key: "data-pagination-offset", Val: strconv.Itoa(visible)})
	for _, child := range children[visible:] {
		doc.MoveSubtree(child, deferred)
	}
	return doc.InsertAfter(grid, deferred)
}

// defer-modals moves every dialog-like subtree into one #modal-container at
// the end of body, so modal markup stops interleaving with the main flow.
type deferModals struct{}

func (deferModals) Name() string { return "defer-modals" }

func (deferModals) Applies(a *analyzer.Analysis) bool {
	return a.Has(analyzer.MultipleModals)
}

func (deferModals) Apply(ctx *Context, doc *htmlmodel.Document, a *analyzer.Analysis) Patch {
	var p Patch
	body := doc.Body()
	if body == htmlmodel.Nil {
		p.Skipped++
		return p
	}

	var modals []htmlmodel.NodeID
	doc.WalkSubtree(body, func(id htmlmodel.NodeID, _ int) bool {
		if id == body || doc.KindOf(id) != htmlmodel.KindElement {
			return true
		}
		if elemID, ok := doc.Attr(id, "id"); ok && elemID == modalContainerID {
			return false // already deferred content
		}
		if isDialogLike(doc, id) {
			modals = append(modals, id)
			return false // do not descend into a modal looking for modals
		}
		return true
	})
	if len(modals) == 0 {
		return p
	}

	container := findByID(doc, body, modalContainerID)
	if container == htmlmodel.Nil {
		container = doc.NewElement("div", htmlmodel.Attr{Key: "id", Val: modalContainerID})
		if !doc.AppendChild(body, container) {
			p.Skipped++
			return p
		}
		p.NodesTouched++
	}
	for _, modal := range modals {
		if p.NodesTouched >= ctx.Cap() {
			p.Partial = true
			break
		}
		if !doc.MoveSubtree(modal, container) {
			p.Skipped++
			continue
		}
		p.NodesTouched++
	}
	return p
}

func isDialogLike(doc *htmlmodel.Document, id htmlmodel.NodeID) bool {
	if doc.Tag(id) == "dialog" {
		return true
	}
	if role, ok := doc.Attr(id, "role"); ok && role == "dialog" {
		return true
	}
	return doc.HasClassToken(id, "modal")
}

func findByID(doc *htmlmodel.Document, root htmlmodel.NodeID, elemID string) htmlmodel.NodeID {
	found := htmlmodel.Nil
	doc.WalkSubtree(root, func(n htmlmodel.NodeID, _ int) bool {
		if found != htmlmodel.Nil {
			return false
		}
		if v, ok := doc.Attr(n, "id"); ok && v == elemID {
			found = n
			return false
		}
		return true
	})
	return found
}

// simplify-heavy-parent gathers the children of an over-wide parent under a
// lazy-render container.
type simplifyHeavyParent struct{}

func (simplifyHeavyParent) Name() string { return "simplify-heavy-parent" }

func (simplifyHeavyParent) Applies(a *analyzer.Analysis) bool {
	return a.Has(analyzer.HeavyParent)
}

func (simplifyHeavyParent) Apply(ctx *Context, doc *htmlmodel.Document, a *analyzer.Analysis) Patch {
	var p Patch
	ec := a.EdgeCase(analyzer.HeavyParent)
	if ec == nil {
		return p
	}
	for _, id := range ec.Nodes {
		if p.NodesTouched >= ctx.Cap() {
			p.Partial = true
			break
		}
		children := doc.Children(id)
		if len(children) == 1 && doc.HasClassToken(children[0], classHeavyComponent) {
			continue // wrapped previously
		}
		if len(children) == 0 {
			p.Skipped++
			continue
		}
		if doc.WrapChildren(id, "div",
			htmlmodel.Attr{Key: "class", Val: classHeavyComponent},
			htmlmodel.Attr{Key: attrLazyRender, Val: "true"}) == htmlmodel.Nil {
			p.Skipped++
			continue
		}
		p.NodesTouched++
	}
	return p
}

// shrink-css strips comments from inline stylesheets and truncates
// selectors with five or more descendant combinators to their last three
// levels.
type shrinkCSS struct{}

func (shrinkCSS) Name() string { return "shrink-css" }

func (shrinkCSS) Applies(a *analyzer.Analysis) bool {
	return a.Has(analyzer.CSSComplexity)
}

func (shrinkCSS) Apply(ctx *Context, doc *htmlmodel.Document, a *analyzer.Analysis) Patch {
	var p Patch
	var styles []htmlmodel.NodeID
	doc.WalkSubtree(doc.Root(), func(id htmlmodel.NodeID, _ int) bool {
		if doc.Tag(id) == "style" {
			styles = append(styles, id)
		}
		return true
	})
	for _, id := range styles {
		if p.NodesTouched >= ctx.Cap() {
			p.Partial = true
			break
		}
		before := doc.InnerHTML(id)
		after := shrinkStylesheet(before)
		if after == before {
			continue
		}
		if !doc.SetTextContent(id, after) {
			p.Skipped++
			continue
		}
		p.BytesSaved += int64(len(before) - len(after))
		p.NodesTouched++
	}
	return p
}

// shrinkStylesheet rewrites one stylesheet body.
func shrinkStylesheet(css string) string {
	css = stripCSSComments(css)

	var out strings.Builder
	out.Grow(len(css))
	rest := css
	for {
		brace := strings.IndexByte(rest, '{')
		if brace < 0 {
			out.WriteString(rest)
			break
		}
		selector := rest[:brace]
		out.WriteString(shrinkSelectorList(selector))
		out.WriteByte('{')
		rest = rest[brace+1:]
		end := strings.IndexByte(rest, '}')
		if end < 0 {
			out.WriteString(rest)
			break
		}
		out.WriteString(rest[:end+1])
		rest = rest[end+1:]
	}
	return out.String()
}

func stripCSSComments(css string) string {
	var out strings.Builder
	out.Grow(len(css))
	for {
		start := strings.Index(css, "/*")
		if start < 0 {
			out.WriteString(css)
			return out.String()
		}
		out.WriteString(css[:start])
		end := strings.Index(css[start+2:], "*/")
		if end < 0 {
			return out.String()
		}
		css = css[start+2+end+2:]
	}
}

// shrinkSelectorList truncates each selector with >= 5 descendant
// combinators (>= 6 levels) to its last 3 levels.
func shrinkSelectorList(selectors string) string {
	if strings.TrimSpace(selectors) == "" || strings.HasPrefix(strings.TrimSpace(selectors), "@") {
		return selectors
	}
	parts := strings.Split(selectors, ",")
	for i, part := range parts {
		fields := strings.Fields(part)
		if len(fields) >= 6 {
			parts[i] = " " + strings.Join(fields[len(fields)-3:], " ")
		}
	}
	return strings.Join(parts, ",")
}
