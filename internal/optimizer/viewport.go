package optimizer

import (
	"strconv"

	"github.com/livefir/streamtemplate/internal/analyzer"
	"github.com/livefir/streamtemplate/internal/htmlmodel"
)

// nominalHeights is the deterministic layout estimator: an assumed rendered
// height in pixels per tag. It only needs to rank elements consistently,
// not match a real layout engine.
var nominalHeights = map[string]int{
	"h1": 60, "h2": 48, "h3": 40, "h4": 36, "h5": 32, "h6": 28,
	"p": 80, "ul": 150, "ol": 150, "table": 400, "img": 300,
	"form": 250, "section": 200, "article": 200, "div": 200,
	"header": 120, "footer": 120, "nav": 80, "aside": 160,
	"hr": 20, "pre": 160, "blockquote": 120,
}

const defaultNominalHeight = 100

func estimateHeight(tag string) int {
	if h, ok := nominalHeights[tag]; ok {
		return h
	}
	return defaultNominalHeight
}

// prioritize-viewport annotates the body's top-level block elements with a
// progressive priority: elements the estimator places inside the nominal
// viewport are visible (priority 1), the rest are offscreen with priority
// 2..5 by distance.
type prioritizeViewport struct {
	enabled    bool
	viewportPx int
}

func (prioritizeViewport) Name() string { return "prioritize-viewport" }

func (t prioritizeViewport) Applies(*analyzer.Analysis) bool { return t.enabled }

func (t prioritizeViewport) Apply(ctx *Context, doc *htmlmodel.Document, _ *analyzer.Analysis) Patch {
	var p Patch
	viewport := t.viewportPx
	if viewport <= 0 {
		viewport = 900
	}
	body := doc.Body()
	if body == htmlmodel.Nil {
		p.Skipped++
		return p
	}

	offset := 0
	for _, id := range doc.Children(body) {
		if doc.KindOf(id) != htmlmodel.KindElement {
			continue
		}
		if _, done := doc.Attr(id, attrViewport); done {
			continue // annotated by a previous run
		}
		height := estimateHeight(doc.Tag(id))
		var state string
		var priority int
		if offset+height <= viewport {
			state, priority = "visible", 1
		} else {
			state = "offscreen"
			// One priority step per viewport of distance, capped at 5.
			priority = 2 + (offset-viewport)/viewport
			if priority > 5 {
				priority = 5
			}
			if priority < 2 {
				priority = 2
			}
		}
		doc.SetAttr(id, attrViewport, state)
		doc.SetAttr(id, attrPriority, strconv.Itoa(priority))
		doc.Annotate(id, "viewport", state)
		doc.Annotate(id, "priority", strconv.Itoa(priority))
		offset += height
		p.NodesTouched++
		if p.NodesTouched >= ctx.Cap() {
			p.Partial = true
			break
		}
	}
	return p
}
