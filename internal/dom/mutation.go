package dom

import (
	"fmt"

	"golang.org/x/net/html"
)

// MutationType is the kind of a MutationRecord.
type MutationType int

const (
	ChildList MutationType = iota
	Attributes
	CharacterData
)

func (t MutationType) String() string {
	switch t {
	case ChildList:
		return "childList"
	case Attributes:
		return "attributes"
	case CharacterData:
		return "characterData"
	}
	return fmt.Sprintf("mutation(%d)", int(t))
}

// MutationRecord describes one change, with the same fields a browser
// MutationObserver delivers.
type MutationRecord struct {
	Type               MutationType
	Target             *html.Node
	AddedNodes         []*html.Node
	RemovedNodes       []*html.Node
	PreviousSibling    *html.Node
	NextSibling        *html.Node
	AttributeName      string
	AttributeNamespace string
}

// Observe starts queueing mutation records.
func (d *Document) Observe() { d.observing = true }

// Disconnect stops queueing and drops pending records.
func (d *Document) Disconnect() {
	d.observing = false
	d.records = nil
}

// Observing reports whether records are being queued.
func (d *Document) Observing() bool { return d.observing }

// TakeRecords returns and clears the queued records.
func (d *Document) TakeRecords() []MutationRecord {
	recs := d.records
	d.records = nil
	return recs
}

// Pending returns the number of queued records.
func (d *Document) Pending() int { return len(d.records) }

// Changes is signalled whenever records are queued, readiness changes or the
// document navigates.
func (d *Document) Changes() <-chan struct{} { return d.notify }

func (d *Document) signal() {
	select {
	case d.notify <- struct{}{}:
	default:
	}
}

func (d *Document) queue(rec MutationRecord) {
	if !d.observing || !d.Connected(rec.Target) {
		return
	}
	d.records = append(d.records, rec)
	d.signal()
}

// AppendChild inserts child as the last child of parent, detaching it from
// its current parent first.
func (d *Document) AppendChild(parent, child *html.Node) {
	d.InsertBefore(parent, child, nil)
}

// InsertBefore inserts child before ref (append when ref is nil). As in
// the DOM, a ref equal to child stands for child's next sibling.
func (d *Document) InsertBefore(parent, child, ref *html.Node) {
	if ref == child {
		ref = child.NextSibling
	}
	if child.Parent != nil {
		d.RemoveChild(child.Parent, child)
	}
	prev := parent.LastChild
	if ref != nil {
		prev = ref.PrevSibling
	}
	parent.InsertBefore(child, ref)
	d.queue(MutationRecord{
		Type:            ChildList,
		Target:          parent,
		AddedNodes:      []*html.Node{child},
		PreviousSibling: prev,
		NextSibling:     ref,
	})
}

// Prepend inserts child as the first child of parent.
func (d *Document) Prepend(parent, child *html.Node) {
	d.InsertBefore(parent, child, parent.FirstChild)
}

// InsertAfter inserts child right after prev, or first when prev is nil.
func (d *Document) InsertAfter(parent, child, prev *html.Node) {
	if prev == nil {
		d.Prepend(parent, child)
		return
	}
	d.InsertBefore(parent, child, prev.NextSibling)
}

// RemoveChild detaches child from parent. It is a no-op when child is not a
// child of parent.
func (d *Document) RemoveChild(parent, child *html.Node) {
	if child.Parent != parent {
		return
	}
	prev, next := child.PrevSibling, child.NextSibling
	parent.RemoveChild(child)
	d.queue(MutationRecord{
		Type:            ChildList,
		Target:          parent,
		RemovedNodes:    []*html.Node{child},
		PreviousSibling: prev,
		NextSibling:     next,
	})
}

// Empty removes all children of n as a single mutation.
func (d *Document) Empty(n *html.Node) {
	var removed []*html.Node
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		removed = append(removed, c)
		c = next
	}
	if len(removed) > 0 {
		d.queue(MutationRecord{Type: ChildList, Target: n, RemovedNodes: removed})
	}
}

// SetTextContent replaces n's text. Elements lose their children and gain a
// single text node, queued as one childList record like the DOM does.
func (d *Document) SetTextContent(n *html.Node, text string) {
	switch n.Type {
	case html.TextNode, html.CommentNode:
		if n.Data == text {
			return
		}
		n.Data = text
		d.queue(MutationRecord{Type: CharacterData, Target: n})
		return
	}
	var removed []*html.Node
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		removed = append(removed, c)
		c = next
	}
	rec := MutationRecord{Type: ChildList, Target: n, RemovedNodes: removed}
	if text != "" {
		t := Text(text)
		n.AppendChild(t)
		rec.AddedNodes = []*html.Node{t}
	}
	if len(rec.RemovedNodes) > 0 || len(rec.AddedNodes) > 0 {
		d.queue(rec)
	}
}

// SetAttr sets attribute ns:key on n. ns is a prefix ("xlink") as used by
// x/net/html.
func (d *Document) SetAttr(n *html.Node, ns, key, val string) {
	for i, a := range n.Attr {
		if a.Key == key && a.Namespace == ns {
			if a.Val == val {
				return
			}
			n.Attr[i].Val = val
			d.queue(MutationRecord{Type: Attributes, Target: n, AttributeName: key, AttributeNamespace: ns})
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Namespace: ns, Key: key, Val: val})
	d.queue(MutationRecord{Type: Attributes, Target: n, AttributeName: key, AttributeNamespace: ns})
}

// RemoveAttr removes attribute ns:key from n.
func (d *Document) RemoveAttr(n *html.Node, ns, key string) {
	for i, a := range n.Attr {
		if a.Key == key && a.Namespace == ns {
			n.Attr = append(n.Attr[:i], n.Attr[i+1:]...)
			d.queue(MutationRecord{Type: Attributes, Target: n, AttributeName: key, AttributeNamespace: ns})
			return
		}
	}
}

// ClearAttrs removes every attribute of n.
func (d *Document) ClearAttrs(n *html.Node) {
	for len(n.Attr) > 0 {
		a := n.Attr[0]
		d.RemoveAttr(n, a.Namespace, a.Key)
	}
}
