package recorder

import (
	"golang.org/x/net/html"

	"github.com/hazyhaar/domreplay/change"
)

// MouseInput is a pointer event as observed on the page.
type MouseInput struct {
	Type          change.MouseEventType
	PageX, PageY  int
	OffsetX       int
	OffsetY       int
	Buttons       int
	Target        *html.Node
	RelatedTarget *html.Node
}

// TrackMouse buffers a pointer event. Targets that were never recorded are
// reported as 0.
func (r *Recorder) TrackMouse(in MouseInput) {
	if r.state == Disconnected {
		return
	}
	r.buf.MouseEvents = append(r.buf.MouseEvents, change.MouseEvent{
		Type:          in.Type,
		PageX:         in.PageX,
		PageY:         in.PageY,
		OffsetX:       in.OffsetX,
		OffsetY:       in.OffsetY,
		Buttons:       in.Buttons,
		TargetNodeID:  r.NodeID(in.Target),
		RelatedNodeID: r.NodeID(in.RelatedTarget),
		Timestamp:     r.now(),
	})
}

// TrackFocus buffers a focus change and polls properties, since focus moves
// usually follow an edit.
func (r *Recorder) TrackFocus(typ change.FocusEventType, target, related *html.Node) {
	if r.state == Disconnected {
		return
	}
	r.buf.FocusEvents = append(r.buf.FocusEvents, change.FocusEvent{
		Type:          typ,
		TargetNodeID:  r.NodeID(target),
		RelatedNodeID: r.NodeID(related),
		Timestamp:     r.now(),
	})
	r.CheckProperties()
}

// TrackScroll buffers the document's scroll position if it moved.
func (r *Recorder) TrackScroll() {
	if r.state == Idle || r.state == Disconnected {
		return
	}
	x, y := r.doc.ScrollPosition()
	if r.scrollSeen && x == r.lastScrollX && y == r.lastScrollY {
		return
	}
	r.scrollSeen = true
	r.lastScrollX, r.lastScrollY = x, y
	r.buf.ScrollEvents = append(r.buf.ScrollEvents, change.ScrollEvent{ScrollX: x, ScrollY: y, Timestamp: r.now()})
}

// TrackLoad buffers a load milestone and schedules an upload.
func (r *Recorder) TrackLoad(name string) {
	if r.state == Disconnected {
		return
	}
	r.buf.LoadEvents = append(r.buf.LoadEvents, change.LoadEvent{
		Name:      name,
		URL:       r.doc.Location(),
		Timestamp: r.now(),
	})
	r.scheduleFlush(true)
}
