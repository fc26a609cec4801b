package replay

import (
	"fmt"
	"math"

	"github.com/hazyhaar/domreplay/change"
)

// Rect is a client rect as reported by getBoundingClientRect.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Viewport is the visible window of a frame.
type Viewport struct {
	Width   float64 `json:"width"`
	Height  float64 `json:"height"`
	ScrollX float64 `json:"scrollX"`
	ScrollY float64 `json:"scrollY"`
}

// Box is a highlight overlay positioned in page coordinates.
type Box struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Layout is what the page reports for a set of nodes: their rects by id and
// the frame viewport.
type Layout struct {
	Rects    map[int]Rect `json:"rects"`
	Viewport Viewport     `json:"viewport"`
}

// Overlay is the result of HighlightBoxes.
type Overlay struct {
	Boxes        []Box
	OverflowUp   bool
	OverflowDown bool
}

// highlightPadding grows every box on each side.
const highlightPadding = 5

// HighlightBoxes positions one padded box per rect and flags highlights
// that sit entirely above or below the viewport.
func HighlightBoxes(rects []Rect, vp Viewport) Overlay {
	var ov Overlay
	if len(rects) == 0 {
		return ov
	}
	maxTop, minBottom := math.Inf(-1), math.Inf(1)
	for _, r := range rects {
		ov.Boxes = append(ov.Boxes, Box{
			Left:   r.X + vp.ScrollX - highlightPadding,
			Top:    r.Y + vp.ScrollY - highlightPadding,
			Width:  r.Width,
			Height: r.Height,
		})
		top := r.Y + vp.ScrollY
		bottom := top + r.Height
		maxTop = math.Max(maxTop, top)
		minBottom = math.Min(minBottom, bottom)
	}
	ov.OverflowDown = maxTop > vp.Height+vp.ScrollY
	ov.OverflowUp = minBottom < vp.ScrollY
	return ov
}

// ButtonClasses lists the css classes of the pressed mouse buttons.
func ButtonClasses(buttons int) []string {
	var out []string
	for i := 0; i < 5; i++ {
		if buttons&(1<<i) != 0 {
			out = append(out, fmt.Sprintf("button-%d", i))
		}
	}
	return out
}

// Highlight journals an overlay over the nodes ids of frame. Ids without
// a rect in layout are skipped.
func (r *Replayer) Highlight(frame string, ids []int, layout Layout) Overlay {
	var rects []Rect
	for _, id := range ids {
		if rect, ok := layout.Rects[id]; ok {
			rects = append(rects, rect)
		}
	}
	ov := HighlightBoxes(rects, layout.Viewport)
	r.emit(Op{Op: OpOverlay, Frame: frame, Boxes: ov.Boxes, OverflowUp: ov.OverflowUp, OverflowDown: ov.OverflowDown})
	return ov
}

// ClearHighlight removes the overlay.
func (r *Replayer) ClearHighlight(frame string) {
	r.emit(Op{Op: OpOverlay, Frame: frame})
}

// Mouse moves the replayed pointer.
func (r *Replayer) Mouse(frame string, e change.MouseEvent) {
	r.emit(Op{Op: OpMouse, Frame: frame, X: float64(e.PageX), Y: float64(e.PageY), Buttons: ButtonClasses(e.Buttons)})
}

// Scroll scrolls frame to the recorded position.
func (r *Replayer) Scroll(frame string, e change.ScrollEvent) {
	if f, ok := r.frames[frame]; ok {
		f.doc.ScrollTo(e.ScrollX, e.ScrollY)
	}
	r.emit(Op{Op: OpScroll, Frame: frame, X: float64(e.ScrollX), Y: float64(e.ScrollY)})
}

// Status shows text in the replay status bar. An empty text hides it.
func (r *Replayer) Status(text string) {
	r.emit(Op{Op: OpStatus, Text: &text})
}
