package replay

import (
	"errors"
	"testing"

	"github.com/hazyhaar/domreplay/change"
)

func TestActiveDocument(t *testing.T) {
	rec := &change.DomRecording{
		Documents: []change.DocumentRecord{
			{URL: "https://a.test/", IsMainframe: true, FrameID: 1, PaintStartTimestamp: 100},
			{URL: "https://a.test/frame", IsMainframe: false, FrameID: 2, PaintStartTimestamp: 150},
			{URL: "https://b.test/", IsMainframe: true, FrameID: 1, PaintStartTimestamp: 200},
		},
		PaintEvents: []*change.PaintEvent{
			{Timestamp: 100}, {Timestamp: 150}, {Timestamp: 200}, {Timestamp: 250},
		},
	}
	cases := []struct {
		idx  int
		want string
	}{
		{-1, "https://a.test/"},
		{0, "https://a.test/"},
		{1, "https://a.test/"},
		{2, "https://b.test/"},
		{3, "https://b.test/"},
		{99, "https://b.test/"},
	}
	for _, tc := range cases {
		doc, ok := ActiveDocument(rec, tc.idx)
		if !ok || doc.URL != tc.want {
			t.Errorf("ActiveDocument(%d): got %q %v, want %q", tc.idx, doc.URL, ok, tc.want)
		}
	}
}

func TestSnapshot_Empty(t *testing.T) {
	_, _, err := Snapshot(&change.DomRecording{}, 0)
	if !errors.Is(err, ErrNoDocument) {
		t.Errorf("err: got %v, want ErrNoDocument", err)
	}
}
