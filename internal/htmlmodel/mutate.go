package htmlmodel

import "strings"

// Mutations cover exactly what the optimizer needs: attribute edits,
// sibling insertion, subtree replacement and movement, wrapping, and text
// replacement. Every operation reports applicability instead of failing;
// operating on an invalid ID is a no-op returning false.

// NewElement allocates a detached element node.
func (d *Document) NewElement(tag string, attrs ...Attr) NodeID {
	return d.alloc(node{
		kind:      KindElement,
		tag:       strings.ToLower(tag),
		attrs:     attrs,
		spanStart: -1,
		spanEnd:   -1,
	})
}

// NewText allocates a detached text node.
func (d *Document) NewText(text string) NodeID {
	return d.alloc(node{
		kind:      KindText,
		text:      text,
		spanStart: -1,
		spanEnd:   -1,
	})
}

// NewComment allocates a detached comment node.
func (d *Document) NewComment(text string) NodeID {
	return d.alloc(node{
		kind:      KindComment,
		text:      text,
		spanStart: -1,
		spanEnd:   -1,
	})
}

// SetAttr sets or replaces an attribute, preserving insertion order for
// existing keys.
func (d *Document) SetAttr(id NodeID, key, val string) bool {
	if !d.valid(id) || d.nodes[id].kind != KindElement {
		return false
	}
	key = strings.ToLower(key)
	for i, a := range d.nodes[id].attrs {
		if a.Key == key {
			d.nodes[id].attrs[i].Val = val
			return true
		}
	}
	d.nodes[id].attrs = append(d.nodes[id].attrs, Attr{Key: key, Val: val})
	return true
}

// RemoveAttr deletes an attribute if present.
func (d *Document) RemoveAttr(id NodeID, key string) bool {
	if !d.valid(id) || d.nodes[id].kind != KindElement {
		return false
	}
	key = strings.ToLower(key)
	for i, a := range d.nodes[id].attrs {
		if a.Key == key {
			d.nodes[id].attrs = append(d.nodes[id].attrs[:i], d.nodes[id].attrs[i+1:]...)
			return true
		}
	}
	return false
}

// AddClassToken appends a token to the class attribute unless already
// present.
func (d *Document) AddClassToken(id NodeID, token string) bool {
	if !d.valid(id) || d.nodes[id].kind != KindElement {
		return false
	}
	if d.HasClassToken(id, token) {
		return true
	}
	cls, ok := d.Attr(id, "class")
	if !ok || cls == "" {
		return d.SetAttr(id, "class", token)
	}
	return d.SetAttr(id, "class", cls+" "+token)
}

// AppendStyle appends a CSS declaration to the inline style attribute.
func (d *Document) AppendStyle(id NodeID, decl string) bool {
	if !d.valid(id) || d.nodes[id].kind != KindElement {
		return false
	}
	style, ok := d.Attr(id, "style")
	if !ok || strings.TrimSpace(style) == "" {
		return d.SetAttr(id, "style", decl)
	}
	style = strings.TrimRight(strings.TrimSpace(style), ";")
	return d.SetAttr(id, "style", style+"; "+decl)
}

// detach unlinks id from its parent and siblings. The node stays in the
// arena and can be reattached.
func (d *Document) detach(id NodeID) {
	n := &d.nodes[id]
	if n.parent != Nil {
		p := &d.nodes[n.parent]
		if p.firstChild == id {
			p.firstChild = n.nextSibling
		}
		if p.lastChild == id {
			p.lastChild = n.prevSibling
		}
	}
	if n.prevSibling != Nil {
		d.nodes[n.prevSibling].nextSibling = n.nextSibling
	}
	if n.nextSibling != Nil {
		d.nodes[n.nextSibling].prevSibling = n.prevSibling
	}
	n.parent = Nil
	n.prevSibling = Nil
	n.nextSibling = Nil
}

// Detach removes id from the tree, keeping its subtree intact for later
// reinsertion.
func (d *Document) Detach(id NodeID) bool {
	if !d.valid(id) || id == d.root {
		return false
	}
	d.detach(id)
	return true
}

// AppendChild attaches child as the last child of parent. Fails when either
// ID is invalid, child is the root, or the attachment would create a cycle.
func (d *Document) AppendChild(parent, child NodeID) bool {
	if !d.valid(parent) || !d.valid(child) || child == d.root || parent == child {
		return false
	}
	if d.isAncestor(child, parent) {
		return false
	}
	d.detach(child)
	d.attach(parent, child)
	return true
}

// InsertBefore places child immediately before ref under ref's parent.
func (d *Document) InsertBefore(ref, child NodeID) bool {
	if !d.valid(ref) || !d.valid(child) || ref == child || child == d.root {
		return false
	}
	parent := d.nodes[ref].parent
	if parent == Nil || d.isAncestor(child, parent) {
		return false
	}
	d.detach(child)
	prev := d.nodes[ref].prevSibling
	d.nodes[child].parent = parent
	d.nodes[child].nextSibling = ref
	d.nodes[child].prevSibling = prev
	d.nodes[ref].prevSibling = child
	if prev != Nil {
		d.nodes[prev].nextSibling = child
	} else {
		d.nodes[parent].firstChild = child
	}
	return true
}

// InsertAfter places child immediately after ref under ref's parent.
func (d *Document) InsertAfter(ref, child NodeID) bool {
	if !d.valid(ref) || !d.valid(child) || ref == child || child == d.root {
		return false
	}
	parent := d.nodes[ref].parent
	if parent == Nil || d.isAncestor(child, parent) {
		return false
	}
	d.detach(child)
	next := d.nodes[ref].nextSibling
	d.nodes[child].parent = parent
	d.nodes[child].prevSibling = ref
	d.nodes[child].nextSibling = next
	d.nodes[ref].nextSibling = child
	if next != Nil {
		d.nodes[next].prevSibling = child
	} else {
		d.nodes[parent].lastChild = child
	}
	return true
}

// ReplaceSubtree swaps the subtree rooted at old for the subtree rooted at
// repl, in old's position. The old subtree is detached, not freed.
func (d *Document) ReplaceSubtree(old, repl NodeID) bool {
	if !d.valid(old) || !d.valid(repl) || old == d.root || repl == d.root || old == repl {
		return false
	}
	if d.isAncestor(repl, old) || d.isAncestor(old, repl) {
		return false
	}
	if !d.InsertBefore(old, repl) {
		return false
	}
	d.detach(old)
	return true
}

// MoveSubtree reparents id (with its subtree) to the end of newParent's
// children.
func (d *Document) MoveSubtree(id, newParent NodeID) bool {
	return d.AppendChild(newParent, id)
}

// Wrap inserts a new element in id's position and moves id under it.
// Returns the wrapper's ID, or Nil when id cannot be wrapped.
func (d *Document) Wrap(id NodeID, tag string, attrs ...Attr) NodeID {
	if !d.valid(id) || id == d.root || d.nodes[id].parent == Nil {
		return Nil
	}
	wrapper := d.NewElement(tag, attrs...)
	if !d.InsertBefore(id, wrapper) {
		return Nil
	}
	d.detach(id)
	d.attach(wrapper, id)
	return wrapper
}

// WrapChildren moves all current children of id under a new element, which
// becomes id's only child. Returns the wrapper's ID.
func (d *Document) WrapChildren(id NodeID, tag string, attrs ...Attr) NodeID {
	if !d.valid(id) || d.nodes[id].kind != KindElement {
		return Nil
	}
	wrapper := d.NewElement(tag, attrs...)
	for c := d.nodes[id].firstChild; c != Nil; {
		next := d.nodes[c].nextSibling
		d.detach(c)
		d.attach(wrapper, c)
		c = next
	}
	d.attach(id, wrapper)
	return wrapper
}

// SetTextContent replaces all children of id with a single text node.
func (d *Document) SetTextContent(id NodeID, text string) bool {
	if !d.valid(id) || d.nodes[id].kind != KindElement {
		return false
	}
	for c := d.nodes[id].firstChild; c != Nil; {
		next := d.nodes[c].nextSibling
		d.detach(c)
		c = next
	}
	d.attach(id, d.NewText(text))
	return true
}

// SetText rewrites the payload of a text node in place.
func (d *Document) SetText(id NodeID, text string) bool {
	if !d.valid(id) || d.nodes[id].kind != KindText {
		return false
	}
	d.nodes[id].text = text
	return true
}

// isAncestor reports whether a is an ancestor of b (or a == b).
func (d *Document) isAncestor(a, b NodeID) bool {
	for n := b; n != Nil; n = d.nodes[n].parent {
		if n == a {
			return true
		}
	}
	return false
}
