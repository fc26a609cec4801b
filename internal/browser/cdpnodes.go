package browser

import (
	"strings"

	"github.com/go-rod/rod/lib/proto"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/domreplay/internal/dom"
)

// maxDetached bounds the removed nodes kept around for re-insertion.
const maxDetached = 10_000

// cdpNodes maps CDP node ids to the shadow document's nodes. Removed nodes
// stay resolvable for a while: CDP reports a move as a removal followed by
// an insertion of the same id.
type cdpNodes struct {
	byID     map[proto.DOMNodeID]*html.Node
	ids      map[*html.Node]proto.DOMNodeID
	detached map[proto.DOMNodeID]*html.Node
}

func newCDPNodes() *cdpNodes {
	n := &cdpNodes{}
	n.reset()
	return n
}

func (c *cdpNodes) reset() {
	c.byID = make(map[proto.DOMNodeID]*html.Node)
	c.ids = make(map[*html.Node]proto.DOMNodeID)
	c.detached = make(map[proto.DOMNodeID]*html.Node)
}

func (c *cdpNodes) bind(id proto.DOMNodeID, n *html.Node) {
	c.byID[id] = n
	c.ids[n] = id
}

func (c *cdpNodes) get(id proto.DOMNodeID) *html.Node { return c.byID[id] }

// detach marks n's subtree as removed.
func (c *cdpNodes) detach(n *html.Node) {
	if len(c.detached) > maxDetached {
		for id, d := range c.detached {
			delete(c.byID, id)
			delete(c.ids, d)
		}
		c.detached = make(map[proto.DOMNodeID]*html.Node)
	}
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if id, ok := c.ids[n]; ok {
			c.detached[id] = n
		}
		for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
			walk(ch)
		}
	}
	walk(n)
}

// reattach returns a previously removed node for id, if any.
func (c *cdpNodes) reattach(id proto.DOMNodeID) *html.Node {
	n, ok := c.detached[id]
	if !ok {
		return nil
	}
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if id, ok := c.ids[n]; ok {
			delete(c.detached, id)
		}
		for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
			walk(ch)
		}
	}
	walk(n)
	return n
}

// pendingShadow is a shadow tree to attach once its host is in the document.
type pendingShadow struct {
	host *html.Node
	root *proto.DOMNode
}

// build converts a CDP node and its known descendants. parentNS is the
// namespace prefix of the parent element. Shadow roots are returned
// separately: they need the Document to be attached.
func (c *cdpNodes) build(p *proto.DOMNode, parentNS string, shadows *[]pendingShadow) *html.Node {
	var n *html.Node
	ns := parentNS
	switch p.NodeType {
	case 1:
		ns = elementNamespace(p, parentNS)
		if ns == "" {
			name := strings.ToLower(p.LocalName)
			n = &html.Node{Type: html.ElementNode, Data: name, DataAtom: atom.Lookup([]byte(name))}
		} else {
			n = &html.Node{Type: html.ElementNode, Data: p.LocalName, Namespace: ns}
		}
		n.Attr = attributes(p.Attributes)
	case 3, 4: // text, CDATA
		n = dom.Text(p.NodeValue)
	case 8:
		n = dom.Comment(p.NodeValue)
	case 9, 11:
		n = &html.Node{Type: html.DocumentNode}
	case 10:
		n = dom.Doctype(p.Name)
		if p.PublicID != "" {
			n.Attr = append(n.Attr, html.Attribute{Key: "public", Val: p.PublicID})
		}
		if p.SystemID != "" {
			n.Attr = append(n.Attr, html.Attribute{Key: "system", Val: p.SystemID})
		}
	default:
		return nil
	}
	c.bind(p.NodeID, n)
	c.buildChildren(n, p.Children, ns, shadows)
	for _, sr := range p.ShadowRoots {
		*shadows = append(*shadows, pendingShadow{host: n, root: sr})
	}
	return n
}

func (c *cdpNodes) buildChildren(parent *html.Node, children []*proto.DOMNode, ns string, shadows *[]pendingShadow) {
	for _, ch := range children {
		if cn := c.build(ch, ns, shadows); cn != nil {
			parent.AppendChild(cn)
		}
	}
}

// elementNamespace infers the namespace prefix: CDP upper-cases the
// nodeName of HTML elements only.
func elementNamespace(p *proto.DOMNode, parentNS string) string {
	if p.NodeName != p.LocalName {
		return ""
	}
	switch p.LocalName {
	case "svg":
		return "svg"
	case "math":
		return "math"
	}
	if parentNS == "" {
		// lower-case nodeName outside svg/math: an XHTML document
		return ""
	}
	return parentNS
}

// attributes converts CDP's flat [name, value, ...] list.
func attributes(flat []string) []html.Attribute {
	if len(flat) == 0 {
		return nil
	}
	out := make([]html.Attribute, 0, len(flat)/2)
	for i := 0; i+1 < len(flat); i += 2 {
		ns, key := splitAttrName(flat[i])
		out = append(out, html.Attribute{Namespace: ns, Key: key, Val: flat[i+1]})
	}
	return out
}

// splitAttrName splits the well-known prefixes (xlink:href) off an
// attribute name.
func splitAttrName(name string) (string, string) {
	prefix, key, ok := strings.Cut(name, ":")
	if !ok {
		return "", name
	}
	switch prefix {
	case "xlink", "xml", "xmlns":
		return prefix, key
	}
	return "", name
}
