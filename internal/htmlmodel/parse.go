package htmlmodel

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
)

// voidElements never take children; their start tag is the whole node.
var voidElements = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true,
	"hr": true, "img": true, "input": true, "link": true, "meta": true,
	"param": true, "source": true, "track": true, "wbr": true,
}

// Parse builds a Document from raw bytes. It is total: malformed inputs
// never fail. Unclosed tags are implicitly closed at scope exit, stray end
// tags are dropped; both are counted and returned as the warning count.
func Parse(b []byte) (*Document, int) {
	d := &Document{
		nodes:  make([]node, 0, estimateNodeCount(b)),
		source: len(b),
	}
	d.root = d.alloc(node{kind: KindElement, tag: "", spanStart: 0, spanEnd: len(b)})

	z := html.NewTokenizer(bytes.NewReader(b))
	// Open-element stack; the document root sits at the bottom and is
	// never popped.
	stack := []NodeID{d.root}
	offset := 0

	for {
		tt := z.Next()
		raw := z.Raw()
		start := offset
		offset += len(raw)

		switch tt {
		case html.ErrorToken:
			// End of input (or unreadable byte sequence the tokenizer
			// gave up on). Anything still open is implicitly closed.
			d.warnings += len(stack) - 1
			return d, d.warnings

		case html.TextToken:
			text := string(raw)
			if text == "" {
				continue
			}
			id := d.alloc(node{
				kind:      KindText,
				text:      text,
				spanStart: start,
				spanEnd:   offset,
			})
			d.attach(stack[len(stack)-1], id)

		case html.CommentToken:
			tok := z.Token()
			id := d.alloc(node{
				kind:      KindComment,
				text:      tok.Data,
				spanStart: start,
				spanEnd:   offset,
			})
			d.attach(stack[len(stack)-1], id)

		case html.DoctypeToken:
			tok := z.Token()
			id := d.alloc(node{
				kind:      KindDoctype,
				text:      tok.Data,
				spanStart: start,
				spanEnd:   offset,
			})
			d.attach(stack[len(stack)-1], id)

		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			tag := strings.ToLower(tok.Data)
			id := d.alloc(node{
				kind:      KindElement,
				tag:       tag,
				attrs:     foldAttrs(tok.Attr),
				spanStart: start,
				spanEnd:   offset,
			})
			d.attach(stack[len(stack)-1], id)
			if tt == html.StartTagToken && !voidElements[tag] {
				stack = append(stack, id)
			}

		case html.EndTagToken:
			tok := z.Token()
			tag := strings.ToLower(tok.Data)
			// Find the nearest matching open element. Anything opened
			// above it is implicitly closed; an end tag with no matching
			// open element is dropped.
			match := -1
			for i := len(stack) - 1; i >= 1; i-- {
				if d.nodes[stack[i]].tag == tag {
					match = i
					break
				}
			}
			if match == -1 {
				d.warnings++
				continue
			}
			d.warnings += len(stack) - 1 - match
			for i := len(stack) - 1; i >= match; i-- {
				d.nodes[stack[i]].spanEnd = offset
			}
			stack = stack[:match]
		}
	}
}

// foldAttrs lowercases attribute keys and resolves duplicates last-wins
// while preserving first-insertion order.
func foldAttrs(attrs []html.Attribute) []Attr {
	if len(attrs) == 0 {
		return nil
	}
	out := make([]Attr, 0, len(attrs))
	index := make(map[string]int, len(attrs))
	for _, a := range attrs {
		key := strings.ToLower(a.Key)
		if i, dup := index[key]; dup {
			out[i].Val = a.Val
			continue
		}
		index[key] = len(out)
		out = append(out, Attr{Key: key, Val: a.Val})
	}
	return out
}

// estimateNodeCount sizes the arena ahead of parsing. One node per ~40 input
// bytes tracks typical markup closely enough to avoid most regrowth.
func estimateNodeCount(b []byte) int {
	n := len(b) / 40
	if n < 16 {
		n = 16
	}
	return n
}

func (d *Document) alloc(n node) NodeID {
	n.parent = Nil
	n.firstChild = Nil
	n.lastChild = Nil
	n.prevSibling = Nil
	n.nextSibling = Nil
	d.nodes = append(d.nodes, n)
	return NodeID(len(d.nodes) - 1)
}

// attach links id as the last child of parent. id must be detached.
func (d *Document) attach(parent, id NodeID) {
	d.nodes[id].parent = parent
	if d.nodes[parent].lastChild == Nil {
		d.nodes[parent].firstChild = id
		d.nodes[parent].lastChild = id
		return
	}
	last := d.nodes[parent].lastChild
	d.nodes[last].nextSibling = id
	d.nodes[id].prevSibling = last
	d.nodes[parent].lastChild = id
}
