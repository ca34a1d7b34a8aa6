// Package chunker splits an HTML tree into an ordered sequence of
// self-contained document chunks. Section and DOM splitting never divide a
// node: those chunks are built from whole top-level units, and only the
// document frame (doctype, html, head, body) is replicated across chunks.
// The size strategy cuts serialized markup between two tags, so an element
// enclosing a cut has its start and end tags in different chunks. Chunk
// bodies are
// materialized lazily so only in-flight chunks occupy memory.
package chunker

import (
	"strconv"
	"strings"

	"github.com/livefir/streamtemplate/internal/htmlmodel"
	"github.com/livefir/streamtemplate/internal/strategy"
)

// breakpointTags are the block-level tags eligible as DOM-strategy
// breakpoints.
var breakpointTags = map[string]bool{
	"div": true, "section": true, "article": true, "header": true,
	"footer": true, "nav": true, "aside": true, "main": true,
}

// Spec describes one chunk before materialization.
type Spec struct {
	Index         int
	Total         int
	IsFirst       bool
	IsLast        bool
	EstimatedSize int
	Priority      int // viewport priority hint; 0 when unannotated
}

// Set is the ordered chunk sequence for one document. It borrows the
// document and must not outlive it.
type Set struct {
	doc      *htmlmodel.Document
	preamble string
	epilogue string

	// Exactly one of groups (node units per chunk) or segments
	// (pre-serialized byte ranges, size strategy) is populated.
	groups   [][]htmlmodel.NodeID
	segments []string

	specs []Spec
}

// Len returns the chunk count.
func (s *Set) Len() int { return len(s.specs) }

// Spec returns the metadata for chunk i.
func (s *Set) Spec(i int) Spec { return s.specs[i] }

// HTML materializes chunk i: preamble, unit markup, epilogue.
func (s *Set) HTML(i int) string {
	var sb strings.Builder
	sb.Grow(s.specs[i].EstimatedSize + len(s.preamble) + len(s.epilogue))
	sb.WriteString(s.preamble)
	if s.segments != nil {
		sb.WriteString(s.segments[i])
	} else {
		for _, id := range s.groups[i] {
			sb.WriteString(s.doc.OuterHTML(id))
		}
	}
	sb.WriteString(s.epilogue)
	return sb.String()
}

// Split produces the chunk set for a document under the given strategy and
// byte budget. ChunkNone yields a single chunk covering the whole document.
// The DOM strategy falls back to size when it finds fewer than two
// breakpoints; documents without a body are framed synthetically and cut by
// size.
func Split(doc *htmlmodel.Document, strat strategy.ChunkStrategy, targetSize int) *Set {
	if targetSize <= 0 {
		targetSize = 500 * 1024
	}

	if strat == strategy.ChunkNone {
		return singleChunk(doc)
	}
	body := doc.Body()
	if body == htmlmodel.Nil {
		return splitSyntheticBySize(doc, strat, targetSize)
	}

	pre, epi := frame(doc, body)

	switch strat {
	case strategy.ChunkSection:
		return splitByUnits(doc, pre, epi, doc.Children(body), targetSize)
	case strategy.ChunkDOM:
		units, extraPre, extraEpi, ok := domUnits(doc, body)
		if !ok {
			return splitBySize(doc, pre, epi, body, targetSize)
		}
		return splitByUnits(doc, pre+extraPre, extraEpi+epi, units, targetSize)
	default: // strategy.ChunkSize and anything unrecognized
		return splitBySize(doc, pre, epi, body, targetSize)
	}
}

// singleChunk frames the whole document as one chunk.
func singleChunk(doc *htmlmodel.Document) *Set {
	html := string(doc.HTML())
	if doc.Doctype() == htmlmodel.Nil {
		html = "<!DOCTYPE html>" + html
	}
	s := &Set{segments: []string{html}}
	s.specs = []Spec{{Index: 0, Total: 1, IsFirst: true, IsLast: true, EstimatedSize: len(html)}}
	return s
}

// frame builds the replicated preamble and epilogue from the original
// document: doctype (synthesized when absent), the html and body open tags
// with their original attributes, and the full head.
func frame(doc *htmlmodel.Document, body htmlmodel.NodeID) (string, string) {
	var pre strings.Builder

	if dt := doc.Doctype(); dt != htmlmodel.Nil {
		pre.WriteString("<!DOCTYPE ")
		pre.WriteString(doc.Text(dt))
		pre.WriteString(">")
	} else {
		pre.WriteString("<!DOCTYPE html>")
	}

	if htmlNode := doc.HTMLNode(); htmlNode != htmlmodel.Nil {
		pre.WriteString(doc.OpenTag(htmlNode))
	} else {
		pre.WriteString("<html>")
	}

	if head := doc.Head(); head != htmlmodel.Nil {
		pre.WriteString(doc.OuterHTML(head))
	} else {
		pre.WriteString("<head></head>")
	}

	pre.WriteString(doc.OpenTag(body))
	return pre.String(), "</body></html>"
}

// domUnits gathers breakpoint units for the DOM strategy. When the body's
// content lives in a single main or .container element, the walk descends
// into it and its open/close tags join the replicated frame. ok is false
// when fewer than two breakpoints exist.
func domUnits(doc *htmlmodel.Document, body htmlmodel.NodeID) (units []htmlmodel.NodeID, extraPre, extraEpi string, ok bool) {
	root := body
	if container := soleContainerChild(doc, body); container != htmlmodel.Nil {
		root = container
		extraPre = doc.OpenTag(container)
		extraEpi = "</" + doc.Tag(container) + ">"
	}

	breakpoints := 0
	for _, child := range doc.Children(root) {
		units = append(units, child)
		if breakpointTags[doc.Tag(child)] {
			breakpoints++
		}
	}
	if breakpoints < 2 {
		return nil, "", "", false
	}
	return units, extraPre, extraEpi, true
}

// soleContainerChild returns body's only element child when it is a main or
// .container wrapper, Nil otherwise.
func soleContainerChild(doc *htmlmodel.Document, body htmlmodel.NodeID) htmlmodel.NodeID {
	sole := htmlmodel.Nil
	for _, child := range doc.Children(body) {
		switch doc.KindOf(child) {
		case htmlmodel.KindElement:
			if sole != htmlmodel.Nil {
				return htmlmodel.Nil
			}
			sole = child
		case htmlmodel.KindText:
			if strings.TrimSpace(doc.Text(child)) != "" {
				return htmlmodel.Nil
			}
		}
	}
	if sole == htmlmodel.Nil || !isBreakpointContainer(doc, sole) {
		return htmlmodel.Nil
	}
	return sole
}

// isBreakpointContainer reports whether an element is a structural content
// container the DOM strategy looks through.
func isBreakpointContainer(doc *htmlmodel.Document, id htmlmodel.NodeID) bool {
	if doc.Tag(id) == "main" {
		return true
	}
	return doc.HasClassToken(id, "container")
}

// splitByUnits accumulates whole units into chunks, closing a chunk when
// the next unit would exceed the byte budget. A unit larger than the budget
// gets a chunk to itself; nodes are never split.
func splitByUnits(doc *htmlmodel.Document, pre, epi string, units []htmlmodel.NodeID, target int) *Set {
	s := &Set{doc: doc, preamble: pre, epilogue: epi}

	var current []htmlmodel.NodeID
	currentSize := 0
	flush := func() {
		if len(current) == 0 {
			return
		}
		s.groups = append(s.groups, current)
		s.specs = append(s.specs, Spec{EstimatedSize: currentSize, Priority: groupPriority(doc, current)})
		current = nil
		currentSize = 0
	}

	for _, id := range units {
		size := unitSize(doc, id)
		if currentSize > 0 && currentSize+size > target {
			flush()
		}
		current = append(current, id)
		currentSize += size
	}
	flush()

	if len(s.groups) == 0 {
		// Empty body still yields one (frame-only) chunk.
		s.groups = append(s.groups, nil)
		s.specs = append(s.specs, Spec{})
	}
	finalize(s)
	return s
}

// splitBySize serializes the body content once and cuts at the first tag
// boundary past each budget increment.
func splitBySize(doc *htmlmodel.Document, pre, epi string, body htmlmodel.NodeID, target int) *Set {
	content := doc.InnerHTML(body)
	return segmentSet(doc, pre, epi, content, target)
}

// splitSyntheticBySize handles input without a body: the whole serialized
// stream is cut by size inside a synthetic document frame.
func splitSyntheticBySize(doc *htmlmodel.Document, _ strategy.ChunkStrategy, target int) *Set {
	content := string(doc.HTML())
	pre := "<!DOCTYPE html><html><head></head><body>"
	return segmentSet(nil, pre, "</body></html>", content, target)
}

func segmentSet(doc *htmlmodel.Document, pre, epi, content string, target int) *Set {
	s := &Set{doc: doc, preamble: pre, epilogue: epi}
	for len(content) > 0 {
		cut := len(content)
		if cut > target {
			// Advance to the next tag boundary ("><", the end of one tag
			// directly followed by the start of another) so the cut never
			// falls inside a tag; an element enclosing the boundary keeps
			// its start tag here and its end tag in a later segment.
			boundary := strings.Index(content[target:], "><")
			if boundary >= 0 {
				cut = target + boundary + 1
			}
		}
		s.segments = append(s.segments, content[:cut])
		s.specs = append(s.specs, Spec{EstimatedSize: cut})
		content = content[cut:]
	}
	if len(s.segments) == 0 {
		s.segments = append(s.segments, "")
		s.specs = append(s.specs, Spec{})
	}
	finalize(s)
	return s
}

// finalize stamps ordinals, totals, and the first/last flags.
func finalize(s *Set) {
	total := len(s.specs)
	for i := range s.specs {
		s.specs[i].Index = i
		s.specs[i].Total = total
		s.specs[i].IsFirst = i == 0
		s.specs[i].IsLast = i == total-1
	}
}

// unitSize estimates a unit's serialized size from its source span when the
// parser recorded one, falling back to serialization.
func unitSize(doc *htmlmodel.Document, id htmlmodel.NodeID) int {
	if start, end, ok := doc.Span(id); ok {
		return end - start
	}
	return len(doc.OuterHTML(id))
}

// groupPriority is the best (lowest) viewport priority annotation among a
// chunk's units.
func groupPriority(doc *htmlmodel.Document, units []htmlmodel.NodeID) int {
	best := 0
	for _, id := range units {
		if v, ok := doc.Annotation(id, "priority"); ok {
			if n, err := strconv.Atoi(v); err == nil && (best == 0 || n < best) {
				best = n
			}
		}
	}
	return best
}
