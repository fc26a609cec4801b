package replay

import (
	"testing"

	"github.com/hazyhaar/domreplay/change"
)

func paint(ts int64, recs ...change.FlatRecord) *change.PaintEvent {
	for i := range recs {
		recs[i].Timestamp = ts
	}
	return &change.PaintEvent{Timestamp: ts, ChangeEvents: recs}
}

func TestBuildDataset(t *testing.T) {
	inFrame := func(frame int, c change.FlatRecord) change.FlatRecord {
		c.FrameID = frame
		return c
	}
	rec := &change.DomRecording{
		Documents: []change.DocumentRecord{
			{URL: "https://a.test/", IsMainframe: true, FrameID: 1, PaintStartTimestamp: 10, PaintEventIndex: 0},
			{URL: "https://b.test/", IsMainframe: true, FrameID: 1, PaintStartTimestamp: 30, PaintEventIndex: 2},
		},
		PaintEvents: []*change.PaintEvent{
			paint(10, el(5, 4, 0, "DIV"), el(6, 5, 0, "DIV"), inFrame(2, el(1, 0, 0, "SPAN"))),
			paint(20, el(7, 4, 5, "P"), inFrame(3, el(2, 0, 0, "B"))),
			paint(30, el(5, 4, 0, "MAIN")),
		},
		MainFrameIDs:         change.NewFrameSet(1),
		DomNodePathByFrameID: map[int]string{2: "12"},
	}

	ds := BuildDataset(rec, rec.Documents[0])
	if len(ds.Paints) != 3 {
		t.Fatalf("paints: got %d, want 3", len(ds.Paints))
	}
	if len(ds.Paints[2]) != 0 {
		t.Errorf("paint of the next document should be empty, got %+v", ds.Paints[2])
	}
	if want := []string{"DIV", "SPAN", "P"}; len(ds.Tags) != len(want) || ds.Tags[0] != want[0] || ds.Tags[1] != want[1] || ds.Tags[2] != want[2] {
		t.Errorf("tags: got %v, want %v", ds.Tags, want)
	}
	if got := ds.Paints[0]; len(got) != 3 || got[0].Tag != 1 || got[1].Tag != 1 || got[2].FrameIDPath != "12" {
		t.Errorf("paint 0: got %+v", got)
	}
	if got := ds.Paints[1]; len(got) != 1 {
		t.Errorf("frame without a path should be dropped, got %+v", got)
	}

	back := ds.Records()
	if back[0][1].TagName != "DIV" || back[1][0].TagName != "P" || back[1][0].Timestamp != 20 || back[2] != nil {
		t.Errorf("Records: got %+v", back)
	}

	ds = BuildDataset(rec, rec.Documents[1])
	if len(ds.Paints[0]) != 0 || len(ds.Paints[1]) != 0 || len(ds.Paints[2]) != 1 || ds.Tags[0] != "MAIN" {
		t.Errorf("second document: got %+v", ds)
	}
}
