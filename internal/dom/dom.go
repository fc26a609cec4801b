// Package dom is an in-memory DOM built on golang.org/x/net/html that queues
// MutationObserver-style records for every structural, attribute and
// character-data change made through its methods.
//
// A Document is not safe for concurrent use. The recorder owns its document
// on a single loop goroutine; other goroutines submit work through the
// recorder.
package dom

import (
	"bytes"
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Ready states mirror document.readyState.
const (
	StateLoading     = "loading"
	StateInteractive = "interactive"
	StateComplete    = "complete"
)

// Document is a DOM tree plus the page state a recorder reads: location,
// readiness, scroll position and element properties.
type Document struct {
	root       *html.Node
	location   string
	readyState string
	scrollX    int
	scrollY    int
	generation int

	observing bool
	records   []MutationRecord
	notify    chan struct{}

	props   map[*html.Node]map[string]any
	sheets  map[*html.Node][]string
	shadows map[*html.Node]*html.Node // host -> shadow root
	hosts   map[*html.Node]*html.Node // shadow root -> host

	inspector Inspector
}

// New returns a blank document: <html><head></head><body></body></html>.
func New(url string) *Document {
	d := FromNode(url, blankTree())
	return d
}

// Parse builds a document from HTML source.
func Parse(url, src string) (*Document, error) {
	root, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("dom: parse: %w", err)
	}
	return FromNode(url, root), nil
}

// FromNode wraps an existing html.DocumentNode.
func FromNode(url string, root *html.Node) *Document {
	d := &Document{notify: make(chan struct{}, 1)}
	d.reset(url, root)
	return d
}

func blankTree() *html.Node {
	root := &html.Node{Type: html.DocumentNode}
	htmlEl := Element("html")
	htmlEl.AppendChild(Element("head"))
	htmlEl.AppendChild(Element("body"))
	root.AppendChild(htmlEl)
	return root
}

func (d *Document) reset(url string, root *html.Node) {
	d.root = root
	d.location = url
	d.readyState = StateLoading
	d.scrollX, d.scrollY = 0, 0
	d.records = nil
	d.props = make(map[*html.Node]map[string]any)
	d.sheets = make(map[*html.Node][]string)
	d.shadows = make(map[*html.Node]*html.Node)
	d.hosts = make(map[*html.Node]*html.Node)
}

// Navigate replaces the whole document. No mutation records are produced;
// observers treat a navigation as a new document. A nil root loads a blank
// tree.
func (d *Document) Navigate(url string, root *html.Node) {
	if root == nil {
		root = blankTree()
	}
	d.reset(url, root)
	d.generation++
	d.signal()
}

// Generation counts navigations since the document was created.
func (d *Document) Generation() int { return d.generation }

// Root returns the document node.
func (d *Document) Root() *html.Node { return d.root }

// DocumentElement returns the <html> element.
func (d *Document) DocumentElement() *html.Node {
	for c := d.root.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			return c
		}
	}
	return nil
}

// Head returns the <head> element, or nil.
func (d *Document) Head() *html.Node { return d.rootChild(atom.Head) }

// Body returns the <body> element, or nil.
func (d *Document) Body() *html.Node { return d.rootChild(atom.Body) }

func (d *Document) rootChild(a atom.Atom) *html.Node {
	el := d.DocumentElement()
	if el == nil {
		return nil
	}
	for c := el.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.DataAtom == a {
			return c
		}
	}
	return nil
}

// Doctype returns the doctype node, or nil.
func (d *Document) Doctype() *html.Node {
	for c := d.root.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.DoctypeNode {
			return c
		}
	}
	return nil
}

func (d *Document) Location() string           { return d.location }
func (d *Document) SetLocation(url string)     { d.location = url }
func (d *Document) ReadyState() string         { return d.readyState }
func (d *Document) ScrollPosition() (int, int) { return d.scrollX, d.scrollY }

// SetReadyState updates readiness and wakes the observer.
func (d *Document) SetReadyState(s string) {
	d.readyState = s
	d.signal()
}

// ScrollTo updates the scroll position.
func (d *Document) ScrollTo(x, y int) { d.scrollX, d.scrollY = x, y }

// Connected reports whether n is attached to the document, crossing shadow
// boundaries.
func (d *Document) Connected(n *html.Node) bool {
	for n != nil {
		if n == d.root {
			return true
		}
		if host, ok := d.hosts[n]; ok {
			n = host
			continue
		}
		n = n.Parent
	}
	return false
}

// Contains reports whether n is ancestor or equal to other (not crossing
// shadow boundaries).
func Contains(n, other *html.Node) bool {
	for ; other != nil; other = other.Parent {
		if other == n {
			return true
		}
	}
	return false
}

// AttachShadow creates an open shadow root for host, or returns the
// existing one.
func (d *Document) AttachShadow(host *html.Node) *html.Node {
	if sr, ok := d.shadows[host]; ok {
		return sr
	}
	sr := &html.Node{Type: html.DocumentNode, Data: "#shadow-root"}
	d.shadows[host] = sr
	d.hosts[sr] = host
	return sr
}

// ShadowRoot returns host's shadow root, or nil.
func (d *Document) ShadowRoot(host *html.Node) *html.Node { return d.shadows[host] }

// Host returns the host of a shadow root, or nil.
func (d *Document) Host(shadow *html.Node) *html.Node { return d.hosts[shadow] }

// IsShadowRoot reports whether n is a shadow root of this document.
func (d *Document) IsShadowRoot(n *html.Node) bool {
	_, ok := d.hosts[n]
	return ok
}

// Element creates an HTML element with optional key/value attribute pairs.
func Element(tag string, attrs ...string) *html.Node {
	tag = strings.ToLower(tag)
	n := &html.Node{Type: html.ElementNode, Data: tag, DataAtom: atom.Lookup([]byte(tag))}
	for i := 0; i+1 < len(attrs); i += 2 {
		n.Attr = append(n.Attr, html.Attribute{Key: attrs[i], Val: attrs[i+1]})
	}
	return n
}

// ElementNS creates an element in a namespace given by URI. HTML tag names
// are lower-cased; foreign elements keep their case.
func ElementNS(namespaceURI, tag string) *html.Node {
	prefix := NamespacePrefix(namespaceURI)
	if prefix == "" {
		return Element(tag)
	}
	return &html.Node{Type: html.ElementNode, Data: tag, Namespace: prefix}
}

// Text creates a text node.
func Text(s string) *html.Node { return &html.Node{Type: html.TextNode, Data: s} }

// Comment creates a comment node.
func Comment(s string) *html.Node { return &html.Node{Type: html.CommentNode, Data: s} }

// Doctype creates a doctype node named name.
func Doctype(name string) *html.Node { return &html.Node{Type: html.DoctypeNode, Data: name} }

// TextContent returns the concatenated text of n's descendants, or the data
// of a text or comment node.
func TextContent(n *html.Node) string {
	switch n.Type {
	case html.TextNode, html.CommentNode:
		return n.Data
	case html.DoctypeNode:
		return ""
	}
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.TextNode {
				b.WriteString(c.Data)
			} else if c.Type == html.ElementNode {
				walk(c)
			}
		}
	}
	walk(n)
	return b.String()
}

// GetAttr returns the value of the attribute ns:key on n.
func GetAttr(n *html.Node, ns, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key && a.Namespace == ns {
			return a.Val, true
		}
	}
	return "", false
}

// TagName returns the DOM tagName: upper case for HTML elements, as written
// for foreign (SVG, MathML) elements.
func TagName(n *html.Node) string {
	if n.Namespace == "" {
		return strings.ToUpper(n.Data)
	}
	return n.Data
}

// NamespaceURI returns the element's namespace URI.
func NamespaceURI(n *html.Node) string {
	return namespaceURIs[n.Namespace]
}

// AttrNamespaceURI returns the URI for an attribute namespace prefix.
func AttrNamespaceURI(prefix string) string {
	if prefix == "" {
		return ""
	}
	if uri, ok := namespaceURIs[prefix]; ok {
		return uri
	}
	return prefix
}

// NamespacePrefix is the inverse of NamespaceURI and AttrNamespaceURI.
func NamespacePrefix(uri string) string {
	for p, u := range namespaceURIs {
		if u == uri {
			return p
		}
	}
	return uri
}

var namespaceURIs = map[string]string{
	"":      "http://www.w3.org/1999/xhtml",
	"svg":   "http://www.w3.org/2000/svg",
	"math":  "http://www.w3.org/1998/Math/MathML",
	"xlink": "http://www.w3.org/1999/xlink",
	"xml":   "http://www.w3.org/XML/1998/namespace",
	"xmlns": "http://www.w3.org/2000/xmlns/",
}

// Render serialises n and its descendants.
func Render(n *html.Node) string {
	var buf bytes.Buffer
	if n.Type == html.DocumentNode {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			html.Render(&buf, c)
		}
		return buf.String()
	}
	html.Render(&buf, n)
	return buf.String()
}

// FindByID returns the first element under n whose id attribute equals id.
func FindByID(n *html.Node, id string) *html.Node {
	if n.Type == html.ElementNode {
		if v, ok := GetAttr(n, "", "id"); ok && v == id {
			return n
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := FindByID(c, id); found != nil {
			return found
		}
	}
	return nil
}

// ChildIndex returns the child of n at the given position, skipping text
// nodes that hold only whitespace when skipBlank is set.
func ChildIndex(n *html.Node, idx int, skipBlank bool) *html.Node {
	i := 0
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if skipBlank && c.Type == html.TextNode && strings.TrimSpace(c.Data) == "" {
			continue
		}
		if i == idx {
			return c
		}
		i++
	}
	return nil
}
