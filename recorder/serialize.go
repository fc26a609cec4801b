package recorder

import (
	"strings"

	"golang.org/x/net/html"

	"github.com/hazyhaar/domreplay/change"
	"github.com/hazyhaar/domreplay/internal/dom"
)

// serializeNode returns a bare back-reference for a tracked node unless
// force is set, and a full snapshot otherwise. The node is tracked on
// return.
func (r *Recorder) serializeNode(n *html.Node, force bool) change.NodeRecord {
	id, known := r.nodes.ID(n)
	if known && !force {
		return change.NodeRecord{ID: id}
	}
	id = r.nodes.Track(n)

	rec := change.NodeRecord{ID: id, NodeType: r.nodeType(n)}
	switch n.Type {
	case html.TextNode, html.CommentNode:
		rec.TextContent = n.Data
	case html.DoctypeNode:
		var b strings.Builder
		if err := html.Render(&b, n); err != nil {
			rec.Error = err.Error()
		}
		rec.TextContent = b.String()
	case html.ElementNode:
		rec.TagName = dom.TagName(n)
		if ns := dom.NamespaceURI(n); ns != change.HTMLNamespace {
			rec.NamespaceURI = ns
		}
		r.serializeAttributes(n, &rec)
		r.serializeProperties(n, &rec)
	}
	return rec
}

func (r *Recorder) nodeType(n *html.Node) int {
	switch n.Type {
	case html.ElementNode:
		return change.ElementNode
	case html.TextNode:
		return change.TextNode
	case html.CommentNode:
		return change.CommentNode
	case html.DoctypeNode:
		return change.DoctypeNode
	case html.DocumentNode:
		if r.doc.IsShadowRoot(n) {
			return change.ShadowRootNode
		}
		return change.DocumentNode
	}
	return 0
}

// attrName is the qualified attribute name ("xlink:href") used as the key of
// recorded attribute maps.
func attrName(ns, key string) string {
	if ns == "" {
		return key
	}
	return ns + ":" + key
}

func (r *Recorder) serializeAttributes(n *html.Node, rec *change.NodeRecord) {
	if len(n.Attr) == 0 {
		return
	}
	rec.Attributes = make(map[string]*string, len(n.Attr))
	for _, a := range n.Attr {
		name := attrName(a.Namespace, a.Key)
		rec.Attributes[name] = change.Str(a.Val)
		if a.Namespace != "" {
			if rec.AttributeNamespaces == nil {
				rec.AttributeNamespaces = make(map[string]string)
			}
			rec.AttributeNamespaces[name] = dom.AttrNamespaceURI(a.Namespace)
		}
	}
}

// serializeProperties snapshots the watched properties (kept as the baseline
// for later polling) and, for <style>, the stylesheet rules.
func (r *Recorder) serializeProperties(n *html.Node, rec *change.NodeRecord) {
	snap := make(map[string]any)
	for _, p := range change.WatchedProperties {
		if v, ok := r.doc.Property(n, p); ok {
			snap[p] = v
		}
	}
	if len(snap) > 0 {
		r.props[n] = snap
		rec.Properties = make(map[string]any, len(snap))
		for k, v := range snap {
			rec.Properties[k] = v
		}
	}

	if n.Namespace != "" || n.Data != "style" {
		return
	}
	rules, err := r.doc.SheetRules(n)
	if err != nil {
		rec.Error = err.Error()
		return
	}
	r.sheets[n] = rules
	if rec.Properties == nil {
		rec.Properties = make(map[string]any, 1)
	}
	rec.Properties[change.SheetRulesProperty] = rules
}

// emitAdded records n (untracked) as added under parentID, then records its
// subtree in document order. It returns n's id.
func (r *Recorder) emitAdded(n *html.Node, parentID int) int {
	prevID := 0
	if !r.doc.IsShadowRoot(n) {
		prevID = r.previousSiblingID(n)
	}
	if id, ok := r.nodes.ID(n); ok {
		return id
	}
	rec := r.serializeNode(n, false)
	rec.ParentNodeID = parentID
	rec.PreviousSiblingID = prevID
	idx := r.push(change.Added, rec)
	r.batch.added[n] = addedPos{idx: idx, parent: parentID, prev: prevID, full: true}
	r.serializeChildren(n, true)
	return rec.ID
}

// serializeChildren records the untracked descendants of n. When n was just
// recorded (fresh), tracked children are re-attached to it with
// back-references: they were moved into n while it was detached.
func (r *Recorder) serializeChildren(n *html.Node, fresh bool) {
	parentID, _ := r.nodes.ID(n)
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if _, skip := r.doNotTrack[c]; skip {
			continue
		}
		id, known := r.nodes.ID(c)
		if !known {
			r.emitAdded(c, parentID)
			continue
		}
		if fresh {
			prevID := r.previousSiblingID(c)
			idx := r.push(change.Added, change.NodeRecord{ID: id, ParentNodeID: parentID, PreviousSiblingID: prevID})
			r.batch.added[c] = addedPos{idx: idx, parent: parentID, prev: prevID}
		}
		r.serializeChildren(c, false)
	}
	if sr := r.doc.ShadowRoot(n); sr != nil && !r.nodes.Has(sr) {
		r.emitAdded(sr, parentID)
	}
}

// previousSiblingID resolves the nearest recordable previous sibling of n,
// recording it first when needed. Excluded siblings are skipped.
func (r *Recorder) previousSiblingID(n *html.Node) int {
	for p := n.PrevSibling; p != nil; p = p.PrevSibling {
		if _, skip := r.doNotTrack[p]; skip {
			continue
		}
		id, _ := r.serializeNodeToRoot(p)
		return id
	}
	return 0
}

// serializeNodeToRoot makes sure n and all its ancestors are recorded,
// synthesising added records from the topmost unknown ancestor down. It
// fails for excluded nodes and for nodes not attached to the document.
func (r *Recorder) serializeNodeToRoot(n *html.Node) (int, bool) {
	if id, ok := r.nodes.ID(n); ok {
		return id, true
	}
	if r.excluded(n) {
		return 0, false
	}
	if n == r.doc.Root() {
		return r.emitAdded(n, 0), true
	}
	parent := r.parentOf(n)
	if parent == nil {
		return 0, false
	}
	parentID, ok := r.serializeNodeToRoot(parent)
	if !ok {
		return 0, false
	}
	// Recording a new ancestor records its whole subtree, n included.
	if id, ok := r.nodes.ID(n); ok {
		return id, true
	}
	return r.emitAdded(n, parentID), true
}
