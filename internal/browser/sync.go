package browser

import (
	"encoding/json"
	"log/slog"

	"github.com/go-rod/rod/lib/proto"
	"golang.org/x/net/html"

	"github.com/hazyhaar/domreplay/change"
	"github.com/hazyhaar/domreplay/internal/dom"
	"github.com/hazyhaar/domreplay/recorder"
)

// domSync applies CDP DOM events to the shadow document a recorder
// observes. Every method must run on the recorder goroutine.
type domSync struct {
	doc    *dom.Document
	rec    *recorder.Recorder
	nodes  *cdpNodes
	logger *slog.Logger
}

func newDOMSync(doc *dom.Document, logger *slog.Logger) *domSync {
	if logger == nil {
		logger = slog.Default()
	}
	return &domSync{doc: doc, nodes: newCDPNodes(), logger: logger}
}

// load replaces the document with the tree DOM.getDocument returned.
func (s *domSync) load(url string, root *proto.DOMNode) {
	s.nodes.reset()
	var shadows []pendingShadow
	var tree *html.Node
	if root != nil {
		tree = s.nodes.build(root, "", &shadows)
	}
	if tree != nil && tree.Type != html.DocumentNode {
		tree = nil
	}
	s.doc.Navigate(url, tree)
	s.attachShadows(shadows, false)
}

// attachShadows fills the shadow roots collected by build. Trees built for
// a fresh document are attached silently; later ones go through the
// document so the recorder sees them.
func (s *domSync) attachShadows(pending []pendingShadow, record bool) {
	for len(pending) > 0 {
		p := pending[0]
		pending = pending[1:]
		sr := s.doc.AttachShadow(p.host)
		s.nodes.bind(p.root.NodeID, sr)
		ns := p.host.Namespace
		for _, ch := range p.root.Children {
			n := s.nodes.build(ch, ns, &pending)
			if n == nil {
				continue
			}
			if record {
				s.doc.AppendChild(sr, n)
			} else {
				sr.AppendChild(n)
			}
		}
	}
}

func (s *domSync) childInserted(e *proto.DOMChildNodeInserted) {
	parent := s.nodes.get(e.ParentNodeID)
	if parent == nil || e.Node == nil {
		s.logger.Debug("browser: insert under unknown node", "parent", e.ParentNodeID)
		return
	}
	var shadows []pendingShadow
	n := s.nodes.reattach(e.Node.NodeID)
	if n == nil {
		n = s.nodes.build(e.Node, parent.Namespace, &shadows)
		if n == nil {
			return
		}
	}
	switch prev := s.nodes.get(e.PreviousNodeID); {
	case e.PreviousNodeID == 0:
		s.doc.Prepend(parent, n)
	case prev == nil || prev.Parent != parent:
		s.doc.AppendChild(parent, n)
	default:
		s.doc.InsertAfter(parent, n, prev)
	}
	s.attachShadows(shadows, true)
}

func (s *domSync) childRemoved(e *proto.DOMChildNodeRemoved) {
	n := s.nodes.get(e.NodeID)
	parent := s.nodes.get(e.ParentNodeID)
	if n == nil || parent == nil || n.Parent != parent {
		return
	}
	s.doc.RemoveChild(parent, n)
	s.nodes.detach(n)
}

// setChildNodes delivers children CDP had not reported yet.
func (s *domSync) setChildNodes(e *proto.DOMSetChildNodes) {
	parent := s.nodes.get(e.ParentID)
	if parent == nil {
		return
	}
	var shadows []pendingShadow
	for _, ch := range e.Nodes {
		if known := s.nodes.get(ch.NodeID); known != nil && known.Parent == parent {
			continue
		}
		if n := s.nodes.build(ch, parent.Namespace, &shadows); n != nil {
			s.doc.AppendChild(parent, n)
		}
	}
	s.attachShadows(shadows, true)
}

func (s *domSync) attributeModified(e *proto.DOMAttributeModified) {
	if n := s.nodes.get(e.NodeID); n != nil {
		ns, key := splitAttrName(e.Name)
		s.doc.SetAttr(n, ns, key, e.Value)
	}
}

func (s *domSync) attributeRemoved(e *proto.DOMAttributeRemoved) {
	if n := s.nodes.get(e.NodeID); n != nil {
		ns, key := splitAttrName(e.Name)
		s.doc.RemoveAttr(n, ns, key)
	}
}

func (s *domSync) characterData(e *proto.DOMCharacterDataModified) {
	if n := s.nodes.get(e.NodeID); n != nil {
		s.doc.SetTextContent(n, e.CharacterData)
	}
}

func (s *domSync) shadowPushed(e *proto.DOMShadowRootPushed) {
	host := s.nodes.get(e.HostID)
	if host == nil || e.Root == nil {
		return
	}
	s.attachShadows([]pendingShadow{{host: host, root: e.Root}}, true)
}

// shadowPopped empties the shadow root; the dom package has no way to
// detach one from its host.
func (s *domSync) shadowPopped(e *proto.DOMShadowRootPopped) {
	sr := s.nodes.get(e.RootID)
	if sr == nil {
		return
	}
	for c := sr.FirstChild; c != nil; c = c.NextSibling {
		s.nodes.detach(c)
	}
	s.doc.Empty(sr)
}

// missingChildren lists the nodes of an inserted subtree whose children CDP
// did not send along.
func missingChildren(p *proto.DOMNode) []proto.DOMNodeID {
	if p == nil {
		return nil
	}
	var out []proto.DOMNodeID
	if p.ChildNodeCount != nil && *p.ChildNodeCount > 0 && len(p.Children) == 0 {
		out = append(out, p.NodeID)
	}
	for _, ch := range p.Children {
		out = append(out, missingChildren(ch)...)
	}
	for _, sr := range p.ShadowRoots {
		out = append(out, missingChildren(sr)...)
	}
	return out
}

// captureMsg is one message of the in-page capture script. Targets are
// child-index paths from the document; -1 enters a shadow root.
type captureMsg struct {
	Kind     string  `json:"k"`
	Mouse    int     `json:"t"`
	Focus    string  `json:"f"`
	X        int     `json:"x"`
	Y        int     `json:"y"`
	OffsetX  int     `json:"ox"`
	OffsetY  int     `json:"oy"`
	Buttons  int     `json:"b"`
	Target   []int   `json:"p"`
	Related  []int   `json:"r"`
	Value    *string `json:"v"`
	Checked  *bool   `json:"c"`
	Selected *int    `json:"s"`
	Name     string  `json:"n"`
}

// resolve follows a capture path through the shadow document.
func (s *domSync) resolve(path []int) *html.Node {
	if len(path) == 0 {
		return nil
	}
	n := s.doc.Root()
	for _, i := range path {
		if n == nil {
			return nil
		}
		if i < 0 {
			n = s.doc.ShadowRoot(n)
			continue
		}
		n = dom.ChildIndex(n, i, true)
	}
	return n
}

// capture handles a payload of the capture binding.
func (s *domSync) capture(payload string) {
	var m captureMsg
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		s.logger.Warn("browser: bad capture payload", "error", err)
		return
	}
	switch m.Kind {
	case "mouse":
		s.rec.TrackMouse(recorder.MouseInput{
			Type:          change.MouseEventType(m.Mouse),
			PageX:         m.X,
			PageY:         m.Y,
			OffsetX:       m.OffsetX,
			OffsetY:       m.OffsetY,
			Buttons:       m.Buttons,
			Target:        s.resolve(m.Target),
			RelatedTarget: s.resolve(m.Related),
		})
	case "focus":
		s.rec.TrackFocus(change.FocusEventType(m.Focus), s.resolve(m.Target), s.resolve(m.Related))
	case "scroll":
		s.doc.ScrollTo(m.X, m.Y)
		s.rec.TrackScroll()
	case "input":
		n := s.resolve(m.Target)
		if n == nil {
			return
		}
		if m.Value != nil {
			s.doc.SetProperty(n, "value", *m.Value)
		}
		if m.Checked != nil {
			s.doc.SetProperty(n, "checked", *m.Checked)
		}
		if m.Selected != nil {
			s.doc.SetProperty(n, "selectedIndex", *m.Selected)
		}
		s.rec.OnInput()
	case "load":
		s.rec.TrackLoad(m.Name)
	default:
		s.logger.Debug("browser: unknown capture message", "kind", m.Kind)
	}
}

// ready records a load milestone reported by the Page domain.
func (s *domSync) ready(state, milestone string) {
	s.doc.SetReadyState(state)
	s.rec.TrackLoad(milestone)
}
