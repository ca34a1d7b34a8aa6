package htmlmodel

import (
	"io"
	"strings"

	"golang.org/x/net/html"
)

// rawTextElements carry character data that must not be entity-escaped on
// output.
var rawTextElements = map[string]bool{
	"script": true, "style": true, "textarea": true, "title": true,
	"iframe": true, "noembed": true, "noframes": true, "noscript": true,
	"xmp": true, "plaintext": true,
}

// HTML serializes the whole document.
func (d *Document) HTML() []byte {
	var sb strings.Builder
	sb.Grow(d.source + d.source/8)
	_ = d.Render(&sb)
	return []byte(sb.String())
}

// Render writes the serialized document to w. Attribute order is insertion
// order; attribute values and synthesized text are escaped conservatively,
// while text parsed from the source and raw-text element content are
// written verbatim.
func (d *Document) Render(w io.Writer) error {
	for c := d.nodes[d.root].firstChild; c != Nil; c = d.nodes[c].nextSibling {
		if err := d.renderNode(w, c, false); err != nil {
			return err
		}
	}
	return nil
}

// OuterHTML serializes the subtree rooted at id, including id itself.
func (d *Document) OuterHTML(id NodeID) string {
	if !d.valid(id) {
		return ""
	}
	var sb strings.Builder
	_ = d.renderNode(&sb, id, false)
	return sb.String()
}

// InnerHTML serializes the children of id.
func (d *Document) InnerHTML(id NodeID) string {
	if !d.valid(id) {
		return ""
	}
	var sb strings.Builder
	raw := d.nodes[id].kind == KindElement && rawTextElements[d.nodes[id].tag]
	for c := d.nodes[id].firstChild; c != Nil; c = d.nodes[c].nextSibling {
		_ = d.renderNode(&sb, c, raw)
	}
	return sb.String()
}

// OpenTag serializes only the start tag of an element, attributes included.
func (d *Document) OpenTag(id NodeID) string {
	if !d.valid(id) || d.nodes[id].kind != KindElement {
		return ""
	}
	var sb strings.Builder
	d.writeOpenTag(&sb, id)
	return sb.String()
}

func (d *Document) writeOpenTag(sb *strings.Builder, id NodeID) {
	n := &d.nodes[id]
	sb.WriteByte('<')
	sb.WriteString(n.tag)
	for _, a := range n.attrs {
		sb.WriteByte(' ')
		sb.WriteString(a.Key)
		sb.WriteString(`="`)
		sb.WriteString(html.EscapeString(a.Val))
		sb.WriteByte('"')
	}
	sb.WriteByte('>')
}

func (d *Document) renderNode(w io.Writer, id NodeID, rawText bool) error {
	n := &d.nodes[id]
	switch n.kind {
	case KindText:
		// Text parsed from source is emitted verbatim: its entities are
		// still in source form. Only synthesized text needs escaping.
		if rawText || n.spanStart >= 0 {
			return writeString(w, n.text)
		}
		return writeString(w, html.EscapeString(n.text))

	case KindComment:
		if err := writeString(w, "<!--"); err != nil {
			return err
		}
		if err := writeString(w, n.text); err != nil {
			return err
		}
		return writeString(w, "-->")

	case KindDoctype:
		if err := writeString(w, "<!DOCTYPE "); err != nil {
			return err
		}
		if err := writeString(w, n.text); err != nil {
			return err
		}
		return writeString(w, ">")

	case KindElement:
		var sb strings.Builder
		d.writeOpenTag(&sb, id)
		if err := writeString(w, sb.String()); err != nil {
			return err
		}
		if voidElements[n.tag] {
			return nil
		}
		childRaw := rawTextElements[n.tag]
		for c := n.firstChild; c != Nil; c = d.nodes[c].nextSibling {
			if err := d.renderNode(w, c, childRaw); err != nil {
				return err
			}
		}
		if err := writeString(w, "</"); err != nil {
			return err
		}
		if err := writeString(w, n.tag); err != nil {
			return err
		}
		return writeString(w, ">")
	}
	return nil
}

func writeString(w io.Writer, s string) error {
	_, err := io.WriteString(w, s)
	return err
}
