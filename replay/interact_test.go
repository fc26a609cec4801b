package replay

import (
	"slices"
	"testing"

	"github.com/hazyhaar/domreplay/change"
)

func TestHighlightBoxes(t *testing.T) {
	vp := Viewport{Width: 800, Height: 600, ScrollX: 10, ScrollY: 100}
	tests := []struct {
		name     string
		rects    []Rect
		up, down bool
	}{
		{"visible", []Rect{{X: 20, Y: 30, Width: 100, Height: 40}}, false, false},
		{"below", []Rect{{X: 0, Y: 700, Width: 10, Height: 10}}, false, true},
		{"above", []Rect{{X: 0, Y: -200, Width: 10, Height: 10}}, true, false},
		{"both", []Rect{{X: 0, Y: -200, Width: 10, Height: 10}, {X: 0, Y: 900, Width: 10, Height: 10}}, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ov := HighlightBoxes(tt.rects, vp)
			if len(ov.Boxes) != len(tt.rects) {
				t.Fatalf("boxes: got %d, want %d", len(ov.Boxes), len(tt.rects))
			}
			if ov.OverflowUp != tt.up || ov.OverflowDown != tt.down {
				t.Errorf("overflow: got up=%v down=%v, want up=%v down=%v", ov.OverflowUp, ov.OverflowDown, tt.up, tt.down)
			}
		})
	}

	ov := HighlightBoxes([]Rect{{X: 20, Y: 30, Width: 100, Height: 40}}, vp)
	if want := (Box{Left: 25, Top: 125, Width: 100, Height: 40}); ov.Boxes[0] != want {
		t.Errorf("box: got %+v, want %+v", ov.Boxes[0], want)
	}
}

func TestButtonClasses(t *testing.T) {
	if got, want := ButtonClasses(0b10101), []string{"button-0", "button-2", "button-4"}; !slices.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if got := ButtonClasses(1 << 6); got != nil {
		t.Errorf("high bits: got %v, want none", got)
	}
}

func TestInteractionOps(t *testing.T) {
	r := New("https://a.test/")
	r.TakeOps()

	ov := r.Highlight(MainFrame, []int{4, 99}, Layout{
		Rects:    map[int]Rect{4: {X: 0, Y: 0, Width: 5, Height: 5}},
		Viewport: Viewport{Width: 100, Height: 100},
	})
	if len(ov.Boxes) != 1 {
		t.Errorf("boxes: got %d, want 1", len(ov.Boxes))
	}
	r.Mouse(MainFrame, change.MouseEvent{PageX: 3, PageY: 4, Buttons: 1})
	r.Scroll(MainFrame, change.ScrollEvent{ScrollX: 0, ScrollY: 250})
	r.Status("Loading")

	ops := r.TakeOps()
	kinds := make([]string, len(ops))
	for i, op := range ops {
		kinds[i] = op.Op
	}
	if want := []string{OpOverlay, OpMouse, OpScroll, OpStatus}; !slices.Equal(kinds, want) {
		t.Fatalf("ops: got %v, want %v", kinds, want)
	}
	if ops[1].X != 3 || ops[1].Y != 4 || !slices.Equal(ops[1].Buttons, []string{"button-0"}) {
		t.Errorf("mouse op: got %+v", ops[1])
	}
	doc, _ := r.Document(MainFrame)
	if _, y := doc.ScrollPosition(); y != 250 {
		t.Errorf("scroll: got %d, want 250", y)
	}
}
