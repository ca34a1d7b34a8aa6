// Package htmlmodel provides a tolerant, mutable HTML tree backed by a node
// arena. Parsing never fails: malformed markup is recovered and counted, and
// the resulting tree can be navigated, annotated, and locally rewritten
// before being serialized back to bytes.
package htmlmodel

import (
	"strings"
)

// NodeID indexes a node inside a Document's arena. The zero document has no
// valid IDs; Nil marks the absence of a node.
type NodeID int32

// Nil is the null node reference.
const Nil NodeID = -1

// Kind discriminates node types in the arena.
type Kind uint8

const (
	// KindElement is a tag node with attributes and children.
	KindElement Kind = iota
	// KindText carries raw character data.
	KindText
	// KindComment carries the comment interior.
	KindComment
	// KindDoctype carries the doctype string.
	KindDoctype
)

// Attr is a single attribute. Order of attributes on a node is insertion
// order; duplicate keys are resolved last-wins at parse time.
type Attr struct {
	Key string
	Val string
}

type node struct {
	kind Kind
	tag  string // case-folded tag token, elements only
	text string // text/comment/doctype payload

	attrs []Attr

	parent      NodeID
	firstChild  NodeID
	lastChild   NodeID
	prevSibling NodeID
	nextSibling NodeID

	// Byte span into the original source, [start, end). -1/-1 when the
	// node was created by a mutation rather than the parser.
	spanStart int
	spanEnd   int

	annotations map[string]string
}

// Document is an arena-backed HTML tree. It is not safe for concurrent
// mutation; the driver freezes it before chunking begins.
type Document struct {
	nodes    []node
	root     NodeID
	source   int // byte length of the original input
	warnings int
}

// Root returns the synthetic document root. Its children are the top-level
// nodes of the input (doctype, comments, <html>).
func (d *Document) Root() NodeID { return d.root }

// Warnings reports how many parse recoveries occurred (stray end tags
// dropped, unclosed tags implicitly closed).
func (d *Document) Warnings() int { return d.warnings }

// SourceLen returns the byte length of the parsed input.
func (d *Document) SourceLen() int { return d.source }

// Len returns the number of nodes in the arena, including detached ones.
func (d *Document) Len() int { return len(d.nodes) }

func (d *Document) valid(id NodeID) bool {
	return id >= 0 && int(id) < len(d.nodes)
}

// KindOf returns the node kind, or KindText for invalid IDs.
func (d *Document) KindOf(id NodeID) Kind {
	if !d.valid(id) {
		return KindText
	}
	return d.nodes[id].kind
}

// Tag returns the case-folded tag of an element, or "" for non-elements.
func (d *Document) Tag(id NodeID) string {
	if !d.valid(id) || d.nodes[id].kind != KindElement {
		return ""
	}
	return d.nodes[id].tag
}

// Text returns the payload of a text, comment, or doctype node.
func (d *Document) Text(id NodeID) string {
	if !d.valid(id) {
		return ""
	}
	return d.nodes[id].text
}

// Parent returns the parent of id, or Nil for the root and invalid IDs.
func (d *Document) Parent(id NodeID) NodeID {
	if !d.valid(id) {
		return Nil
	}
	return d.nodes[id].parent
}

// FirstChild returns the first child of id, or Nil.
func (d *Document) FirstChild(id NodeID) NodeID {
	if !d.valid(id) {
		return Nil
	}
	return d.nodes[id].firstChild
}

// NextSibling returns the following sibling of id, or Nil.
func (d *Document) NextSibling(id NodeID) NodeID {
	if !d.valid(id) {
		return Nil
	}
	return d.nodes[id].nextSibling
}

// PrevSibling returns the preceding sibling of id, or Nil.
func (d *Document) PrevSibling(id NodeID) NodeID {
	if !d.valid(id) {
		return Nil
	}
	return d.nodes[id].prevSibling
}

// Children returns the direct children of id in document order.
func (d *Document) Children(id NodeID) []NodeID {
	if !d.valid(id) {
		return nil
	}
	var out []NodeID
	for c := d.nodes[id].firstChild; c != Nil; c = d.nodes[c].nextSibling {
		out = append(out, c)
	}
	return out
}

// ChildCount counts direct children without allocating.
func (d *Document) ChildCount(id NodeID) int {
	if !d.valid(id) {
		return 0
	}
	n := 0
	for c := d.nodes[id].firstChild; c != Nil; c = d.nodes[c].nextSibling {
		n++
	}
	return n
}

// Descendants returns every node under id (excluding id itself) for which
// pred returns true, in document order. A nil pred matches everything.
func (d *Document) Descendants(id NodeID, pred func(NodeID) bool) []NodeID {
	if !d.valid(id) {
		return nil
	}
	var out []NodeID
	d.WalkSubtree(id, func(n NodeID, depth int) bool {
		if n != id && (pred == nil || pred(n)) {
			out = append(out, n)
		}
		return true
	})
	return out
}

// WalkSubtree visits id and all descendants depth-first with an explicit
// stack. The visitor receives the depth relative to id (id itself is 0);
// returning false prunes the subtree below the visited node.
func (d *Document) WalkSubtree(id NodeID, visit func(NodeID, int) bool) {
	if !d.valid(id) {
		return
	}
	type frame struct {
		id    NodeID
		depth int
	}
	stack := []frame{{id, 0}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !visit(f.id, f.depth) {
			continue
		}
		// Push children reversed so the walk stays in document order.
		var children []NodeID
		for c := d.nodes[f.id].firstChild; c != Nil; c = d.nodes[c].nextSibling {
			children = append(children, c)
		}
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, frame{children[i], f.depth + 1})
		}
	}
}

// Ancestors returns up to limit ancestors of id, nearest first. A limit of 0
// or less means unbounded.
func (d *Document) Ancestors(id NodeID, limit int) []NodeID {
	if !d.valid(id) {
		return nil
	}
	var out []NodeID
	for p := d.nodes[id].parent; p != Nil; p = d.nodes[p].parent {
		out = append(out, p)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// Depth returns the distance from the document root to id. The root is 0.
func (d *Document) Depth(id NodeID) int {
	if !d.valid(id) {
		return 0
	}
	depth := 0
	for p := d.nodes[id].parent; p != Nil; p = d.nodes[p].parent {
		depth++
	}
	return depth
}

// Attrs returns the attribute list of an element in insertion order.
func (d *Document) Attrs(id NodeID) []Attr {
	if !d.valid(id) {
		return nil
	}
	return d.nodes[id].attrs
}

// Attr looks up one attribute by key (keys are case-folded at parse time).
func (d *Document) Attr(id NodeID, key string) (string, bool) {
	if !d.valid(id) {
		return "", false
	}
	for _, a := range d.nodes[id].attrs {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

// ClassTokens splits the class attribute into its whitespace-separated
// tokens.
func (d *Document) ClassTokens(id NodeID) []string {
	cls, ok := d.Attr(id, "class")
	if !ok {
		return nil
	}
	return strings.Fields(cls)
}

// HasClassToken reports whether the element's class list contains token.
func (d *Document) HasClassToken(id NodeID, token string) bool {
	for _, t := range d.ClassTokens(id) {
		if t == token {
			return true
		}
	}
	return false
}

// Span returns the byte range of a node in the original input. ok is false
// for nodes created by mutations.
func (d *Document) Span(id NodeID) (start, end int, ok bool) {
	if !d.valid(id) || d.nodes[id].spanStart < 0 {
		return 0, 0, false
	}
	return d.nodes[id].spanStart, d.nodes[id].spanEnd, true
}

// Annotate records an optimizer annotation on a node. Annotations are
// monotonic within a run: there is no removal, later writes refine the
// value.
func (d *Document) Annotate(id NodeID, key, val string) {
	if !d.valid(id) {
		return
	}
	if d.nodes[id].annotations == nil {
		d.nodes[id].annotations = make(map[string]string, 2)
	}
	d.nodes[id].annotations[key] = val
}

// Annotation reads a previously recorded annotation.
func (d *Document) Annotation(id NodeID, key string) (string, bool) {
	if !d.valid(id) || d.nodes[id].annotations == nil {
		return "", false
	}
	v, ok := d.nodes[id].annotations[key]
	return v, ok
}

// find locates the first element with the given tag under (and including) id.
func (d *Document) find(id NodeID, tag string) NodeID {
	found := Nil
	d.WalkSubtree(id, func(n NodeID, _ int) bool {
		if found != Nil {
			return false
		}
		if d.nodes[n].kind == KindElement && d.nodes[n].tag == tag {
			found = n
			return false
		}
		return true
	})
	return found
}

// HTMLNode returns the <html> element, or Nil when the input had none.
func (d *Document) HTMLNode() NodeID { return d.find(d.root, "html") }

// Head returns the <head> element, or Nil.
func (d *Document) Head() NodeID { return d.find(d.root, "head") }

// Body returns the <body> element, or Nil.
func (d *Document) Body() NodeID { return d.find(d.root, "body") }

// Doctype returns the doctype node, or Nil.
func (d *Document) Doctype() NodeID {
	for c := d.nodes[d.root].firstChild; c != Nil; c = d.nodes[c].nextSibling {
		if d.nodes[c].kind == KindDoctype {
			return c
		}
	}
	return Nil
}

// ApproxSize estimates the resident bytes held by the tree. Used by the
// driver's memory accounting; it only needs to be proportional, not exact.
func (d *Document) ApproxSize() int64 {
	const nodeOverhead = 96
	size := int64(len(d.nodes)) * nodeOverhead
	for i := range d.nodes {
		size += int64(len(d.nodes[i].tag) + len(d.nodes[i].text))
		for _, a := range d.nodes[i].attrs {
			size += int64(len(a.Key) + len(a.Val))
		}
	}
	return size
}
