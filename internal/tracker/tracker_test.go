package tracker

import "testing"

type node struct{ name string }

func TestTrackMonotonic(t *testing.T) {
	r := New[*node]()
	a, b, c := &node{"a"}, &node{"b"}, &node{"c"}

	ids := []int{r.Track(a), r.Track(b), r.Track(a), r.Track(c)}
	want := []int{1, 2, 1, 3}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("Track[%d]: got %d, want %d", i, ids[i], want[i])
		}
	}
	if got, ok := r.Node(2); !ok || got != b {
		t.Errorf("Node(2): got %v, %v", got, ok)
	}
	if r.Len() != 3 {
		t.Errorf("Len: got %d, want 3", r.Len())
	}
}

func TestBindRebindsBothSides(t *testing.T) {
	r := New[*node]()
	html, other := &node{"html"}, &node{"other"}

	r.Bind(7, html)
	r.Bind(7, other)
	if r.Has(html) {
		t.Error("html should be unbound after id 7 was rebound")
	}
	if id, _ := r.ID(other); id != 7 {
		t.Errorf("ID(other): got %d, want 7", id)
	}
	if next := r.Track(&node{"new"}); next != 8 {
		t.Errorf("Track after Bind(7): got %d, want 8", next)
	}
}

func TestResetRestartsIDSpace(t *testing.T) {
	r := New[*node]()
	old := &node{"old"}
	r.Track(old)
	r.Track(&node{"x"})

	r.Reset()
	if r.Has(old) {
		t.Error("old node survived Reset")
	}
	if id := r.Track(&node{"fresh"}); id != 1 {
		t.Errorf("first id after Reset: got %d, want 1", id)
	}
}
