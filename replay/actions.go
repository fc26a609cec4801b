package replay

import (
	"maps"
	"math"
	"slices"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/domreplay/change"
	"github.com/hazyhaar/domreplay/internal/dom"
)

func (r *Replayer) applyChange(c change.FlatRecord) {
	path := c.FrameIDPath
	switch c.Action {
	case change.NewDocument:
		r.onNewDocument(path, c)
		return
	case change.Location:
		r.frame(path).doc.SetLocation(c.TextContent)
		r.emit(Op{Op: OpLocation, Frame: path, URL: c.TextContent})
		return
	}

	f := r.frame(path)
	if r.preserved(f, path, c) {
		return
	}
	parent, _ := f.nodes.Node(c.ParentNodeID)

	switch c.Action {
	case change.Added:
		n := r.deserialize(f, path, c, parent)
		if n == nil {
			return
		}
		r.insert(f, path, n, parent, c)
	case change.Removed:
		r.remove(f, path, parent, c)
	case change.Text, change.Attribute, change.Property:
		n, ok := f.nodes.Node(c.NodeID)
		if !ok {
			r.logger.Warn("replay: change for unknown node", "action", c.Action, "id", c.NodeID, "frame", path)
			return
		}
		switch c.Action {
		case change.Text:
			r.setText(f, path, n, c.NodeID, c.TextContent)
		case change.Attribute:
			r.setAttributes(f, path, n, c.NodeID, c.Attributes, c.AttributeNamespaces)
		case change.Property:
			r.setProperties(f, path, n, c.NodeID, c.Properties)
		}
	}
}

func (r *Replayer) onNewDocument(path string, c change.FlatRecord) {
	if path == MainFrame {
		r.frame(path).doc.ScrollTo(0, 0)
		r.emit(Op{Op: OpScroll})
		return
	}
	if f, ok := r.frames[path]; ok && f.doc.Location() == c.TextContent {
		return
	}
	r.frames[path] = newFrame(c.TextContent)
	r.emit(Op{Op: OpReset, Frame: path, URL: c.TextContent})
}

// preserved handles the nodes a replay document keeps for its whole life:
// the document, its doctype and the html, head and body elements. Records
// about them rebind ids and reset content instead of creating nodes.
func (r *Replayer) preserved(f *frame, path string, c change.FlatRecord) bool {
	if c.NodeID == 0 {
		return false
	}
	switch c.NodeType {
	case change.DocumentNode:
		f.nodes.Bind(c.NodeID, f.doc.Root())
		r.emit(Op{Op: OpBind, Frame: path, ID: c.NodeID, Target: "document"})
		return true
	case change.DoctypeNode:
		dt := f.doc.Doctype()
		if dt == nil {
			dt = dom.Doctype(doctypeName(c.TextContent))
			root := f.doc.Root()
			root.InsertBefore(dt, root.FirstChild)
		}
		f.nodes.Bind(c.NodeID, dt)
		r.emit(Op{Op: OpBind, Frame: path, ID: c.NodeID, Target: "doctype"})
		return true
	}

	tag := c.TagName
	if tag == "" {
		if n, ok := f.nodes.Node(c.NodeID); ok && n.Type == html.ElementNode {
			tag = dom.TagName(n)
		}
	}
	var el *html.Node
	switch tag {
	case "HTML":
		el = f.doc.DocumentElement()
	case "HEAD":
		el = f.doc.Head()
	case "BODY":
		el = f.doc.Body()
	default:
		return false
	}
	if el == nil {
		r.logger.Debug("replay: preserved element missing", "tag", tag, "frame", path)
		return true
	}
	f.nodes.Bind(c.NodeID, el)
	r.emit(Op{Op: OpBind, Frame: path, ID: c.NodeID, Target: strings.ToLower(tag)})

	switch c.Action {
	case change.Removed:
		r.logger.Debug("replay: removal of preserved element ignored", "tag", tag, "frame", path)
		emptyPreserved(f.doc, el)
		f.doc.ClearAttrs(el)
		r.emit(Op{Op: OpEmpty, Frame: path, ID: c.NodeID, KeepRoots: true, StripAttrs: true})
		return true
	case change.Added:
		emptyPreserved(f.doc, el)
		r.emit(Op{Op: OpEmpty, Frame: path, ID: c.NodeID, KeepRoots: true})
	}
	r.setAttributes(f, path, el, c.NodeID, c.Attributes, c.AttributeNamespaces)
	r.setProperties(f, path, el, c.NodeID, c.Properties)
	return true
}

// emptyPreserved removes the children of el except head and body.
func emptyPreserved(d *dom.Document, el *html.Node) {
	for c := el.FirstChild; c != nil; {
		next := c.NextSibling
		if c.Type != html.ElementNode || c.Namespace != "" || (c.DataAtom != atom.Head && c.DataAtom != atom.Body) {
			d.RemoveChild(el, c)
		}
		c = next
	}
}

// doctypeName extracts "html" from "<!DOCTYPE html>".
func doctypeName(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "<!")
	fields := strings.Fields(strings.TrimSuffix(s, ">"))
	if len(fields) >= 2 && strings.EqualFold(fields[0], "doctype") {
		return strings.ToLower(fields[1])
	}
	return "html"
}

// deserialize returns the node a record describes, creating it when the
// id is new. Known nodes get the record's attributes, properties and text.
func (r *Replayer) deserialize(f *frame, path string, c change.FlatRecord, parent *html.Node) *html.Node {
	if n, ok := f.nodes.Node(c.NodeID); ok {
		r.setProperties(f, path, n, c.NodeID, c.Properties)
		r.setAttributes(f, path, n, c.NodeID, c.Attributes, c.AttributeNamespaces)
		if c.TextContent != "" {
			r.setText(f, path, n, c.NodeID, c.TextContent)
		}
		return n
	}

	var n *html.Node
	op := Op{Op: OpCreate, Frame: path, ID: c.NodeID, NodeType: c.NodeType}
	switch c.NodeType {
	case change.ShadowRootNode:
		if parent == nil || parent.Type != html.ElementNode {
			r.logger.Warn("replay: shadow root without host", "id", c.NodeID, "frame", path)
			return nil
		}
		n = f.doc.AttachShadow(parent)
		op.Parent = c.ParentNodeID
	case change.CommentNode:
		n = dom.Comment(c.TextContent)
		op.Text = &c.TextContent
	case change.TextNode:
		n = dom.Text(c.TextContent)
		op.Text = &c.TextContent
	case change.ElementNode:
		if c.NamespaceURI != "" && c.NamespaceURI != change.HTMLNamespace {
			n = dom.ElementNS(c.NamespaceURI, c.TagName)
			op.NS = c.NamespaceURI
		} else {
			n = dom.Element(c.TagName)
		}
		op.Tag = c.TagName
	default:
		r.logger.Warn("replay: unsupported node type", "nodeType", c.NodeType, "id", c.NodeID, "frame", path)
		return nil
	}
	f.nodes.Bind(c.NodeID, n)
	r.emit(op)

	if n.Type == html.ElementNode {
		r.setAttributes(f, path, n, c.NodeID, c.Attributes, c.AttributeNamespaces)
		r.setProperties(f, path, n, c.NodeID, c.Properties)
		if c.TextContent != "" {
			r.setText(f, path, n, c.NodeID, c.TextContent)
		}
	}
	return n
}

func (r *Replayer) insert(f *frame, path string, n, parent *html.Node, c change.FlatRecord) {
	if f.doc.IsShadowRoot(n) {
		return
	}
	if parent == nil {
		r.logger.Warn("replay: parent not found", "id", c.NodeID, "parent", c.ParentNodeID, "frame", path)
		return
	}
	if dom.Contains(n, parent) {
		r.logger.Warn("replay: insert would create a cycle", "id", c.NodeID, "parent", c.ParentNodeID, "frame", path)
		return
	}

	op := Op{Op: OpInsert, Frame: path, ID: c.NodeID, Parent: c.ParentNodeID}
	prev, found := f.nodes.Node(c.PreviousSiblingID)
	if inPlace(n, parent, prev, found, c.PreviousSiblingID) {
		return
	}
	switch {
	case c.PreviousSiblingID == 0:
		f.doc.Prepend(parent, n)
		op.Prev = InsertFirst
	case found && prev != n && prev.Parent == parent:
		f.doc.InsertAfter(parent, n, prev)
		op.Prev = c.PreviousSiblingID
	default:
		f.doc.AppendChild(parent, n)
		op.Prev = InsertLast
	}
	r.emit(op)
}

// inPlace reports whether n already sits where an added record puts it,
// which is the case when the record is delivered twice.
func inPlace(n, parent, prev *html.Node, found bool, prevID int) bool {
	if n.Parent != parent {
		return false
	}
	if prevID == 0 {
		return n.PrevSibling == nil
	}
	return found && prev != n && n.PrevSibling == prev
}

func (r *Replayer) remove(f *frame, path string, parent *html.Node, c change.FlatRecord) {
	if parent == nil {
		r.logger.Warn("replay: parent not found", "id", c.NodeID, "parent", c.ParentNodeID, "frame", path)
		return
	}
	n, ok := f.nodes.Node(c.NodeID)
	if !ok || n.Parent == nil || !dom.Contains(parent, n) {
		return
	}
	f.doc.RemoveChild(n.Parent, n)
	r.emit(Op{Op: OpRemove, Frame: path, ID: c.NodeID})
}

func (r *Replayer) setText(f *frame, path string, n *html.Node, id int, text string) {
	switch n.Type {
	case html.TextNode, html.CommentNode:
		n.Data = text
	case html.ElementNode:
		f.doc.SetTextContent(n, text)
	default:
		return
	}
	r.emit(Op{Op: OpText, Frame: path, ID: id, Text: &text})
}

// setAttributes applies recorded attributes; a nil value removes one.
// Namespaced names ("xlink:href") are split into prefix and local name.
func (r *Replayer) setAttributes(f *frame, path string, n *html.Node, id int, attrs map[string]*string, namespaces map[string]string) {
	if len(attrs) == 0 || n.Type != html.ElementNode {
		return
	}
	for _, name := range slices.Sorted(maps.Keys(attrs)) {
		ns, key := "", name
		if uri := namespaces[name]; uri != "" {
			ns = dom.NamespacePrefix(uri)
			if i := strings.IndexByte(name, ':'); i >= 0 {
				key = name[i+1:]
			}
		}
		if v := attrs[name]; v == nil {
			f.doc.RemoveAttr(n, ns, key)
		} else {
			f.doc.SetAttr(n, ns, key, *v)
		}
	}
	r.emit(Op{Op: OpAttrs, Frame: path, ID: id, Attrs: attrs, AttrNS: namespaces})
}

func (r *Replayer) setProperties(f *frame, path string, n *html.Node, id int, props map[string]any) {
	if len(props) == 0 || n.Type != html.ElementNode {
		return
	}
	for _, name := range slices.Sorted(maps.Keys(props)) {
		v := props[name]
		if name == change.SheetRulesProperty {
			f.doc.SetSheetRules(n, sheetRules(v))
			continue
		}
		f.doc.SetProperty(n, name, normalizeNumber(v))
	}
	r.emit(Op{Op: OpProps, Frame: path, ID: id, Props: props})
}

func sheetRules(v any) []string {
	switch rules := v.(type) {
	case []string:
		return rules
	case []any:
		out := make([]string, 0, len(rules))
		for _, rule := range rules {
			if s, ok := rule.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// normalizeNumber turns integral float64 values (as decoded from JSON) back
// into ints.
func normalizeNumber(v any) any {
	if f, ok := v.(float64); ok && f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return int(f)
	}
	return v
}
