package changestore

import (
	"context"
	"reflect"
	"testing"

	"github.com/hazyhaar/domreplay/change"
	"github.com/hazyhaar/domreplay/dbopen"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(dbopen.OpenMemory(t))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s
}

func added(id, parent int, tag string, ts int64, idx int) change.ChangeRecord {
	return change.ChangeRecord{
		Action:     change.Added,
		Node:       change.NodeRecord{ID: id, NodeType: change.ElementNode, TagName: tag, ParentNodeID: parent},
		Timestamp:  ts,
		EventIndex: idx,
	}
}

func TestInsertFlushRead(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	c := added(5, 1, "DIV", 100, 0)
	c.Node.Attributes = map[string]*string{"class": change.Str("x"), "title": nil}
	c.Node.Properties = map[string]any{"value": "v"}
	s.Insert(1, 1, 0, 2, c)
	s.Insert(1, 1, 0, 2, change.ChangeRecord{Action: change.Text, Node: change.NodeRecord{ID: 6, TextContent: "hi"}, Timestamp: 100, EventIndex: 1})

	pending, err := s.All(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 2 {
		t.Fatalf("before flush: got %d rows, want 2", len(pending))
	}

	if err := s.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if s.Pending() != 0 {
		t.Errorf("pending after flush: %d", s.Pending())
	}
	rows, err := s.All(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	r := rows[0]
	if r.Action != change.Added || r.NodeID != 5 || r.TagName != "DIV" || r.CommandID != 2 {
		t.Errorf("row 0: got %+v", r)
	}
	if v := r.Attributes["class"]; v == nil || *v != "x" {
		t.Errorf("class: got %v", v)
	}
	if v, ok := r.Attributes["title"]; !ok || v != nil {
		t.Errorf("removed attribute lost: %v %v", v, ok)
	}
	if r.Properties["value"] != "v" {
		t.Errorf("properties: got %v", r.Properties)
	}
	if rows[1].TextContent != "hi" {
		t.Errorf("row 1: got %+v", rows[1])
	}
	if s.Occurrences(100) != 2 {
		t.Errorf("occurrences: got %d, want 2", s.Occurrences(100))
	}
}

func TestRetriedUploadIsIdempotent(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	c := added(2, 1, "P", 10, 3)
	s.Insert(1, 1, 0, 0, c)
	if err := s.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	// Retry of the same upload: once pending, once after a second flush.
	s.Insert(1, 1, 0, 0, c)
	rows, _ := s.All(ctx)
	if len(rows) != 1 {
		t.Errorf("pending duplicate not merged: got %d rows", len(rows))
	}
	if err := s.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	var n int
	if err := s.DB.QueryRow(`SELECT COUNT(*) FROM dom_changes`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("stored rows: got %d, want 1", n)
	}
}

func TestFilteredReads(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	s.Insert(1, 1, 0, 1, added(1, 0, "A", 1, 0))
	s.Insert(1, 1, 1, 3, added(2, 0, "B", 2, 0))
	s.Insert(1, 2, 0, 4, added(3, 0, "C", 3, 0))
	s.Insert(2, 9, 0, 1, added(1, 0, "D", 4, 0))
	if err := s.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	s.Insert(1, 1, 1, 5, added(4, 0, "E", 5, 0))

	tags := func(rows []change.FlatRecord) []string {
		var out []string
		for _, r := range rows {
			out = append(out, r.TagName)
		}
		return out
	}

	frame, err := s.FrameChanges(ctx, 1, 1)
	if err != nil {
		t.Fatal(err)
	}
	if got := tags(frame); !reflect.DeepEqual(got, []string{"B", "E"}) {
		t.Errorf("FrameChanges: got %v", got)
	}
	nav, err := s.ChangesSinceNavigation(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if got := tags(nav); !reflect.DeepEqual(got, []string{"B", "E"}) {
		t.Errorf("ChangesSinceNavigation: got %v", got)
	}
	tab, err := s.TabChanges(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if got := tags(tab); !reflect.DeepEqual(got, []string{"D"}) {
		t.Errorf("TabChanges: got %v", got)
	}
}

func TestPageEvents(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	b := change.UploadBatch{
		MouseEvents:  []change.MouseEvent{{Type: change.MouseMove, PageX: 1, PageY: 2, Timestamp: 10}, {Type: change.MouseDown, PageX: 3, PageY: 4, Buttons: 1, Timestamp: 20}},
		ScrollEvents: []change.ScrollEvent{{ScrollY: 50, Timestamp: 15}},
		LoadEvents:   []change.LoadEvent{{Name: change.LoadComplete, URL: "https://example.test/", Timestamp: 5}},
	}
	if err := s.InsertPageEvents(ctx, 1, 1, 0, b); err != nil {
		t.Fatal(err)
	}
	if err := s.InsertPageEvents(ctx, 1, 1, 0, b); err != nil {
		t.Fatal(err)
	}

	all, err := s.PageEvents(ctx, 1, "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 4 {
		t.Fatalf("got %d events, want 4", len(all))
	}
	if all[0].Kind != KindLoad {
		t.Errorf("first event: got %s, want load", all[0].Kind)
	}

	in, err := s.LatestInteractions(ctx, 1, 16)
	if err != nil {
		t.Fatal(err)
	}
	if in.Mouse == nil || in.Mouse.PageX != 1 {
		t.Errorf("mouse at 16: got %+v", in.Mouse)
	}
	if in.Scroll == nil || in.Scroll.ScrollY != 50 || in.Scroll.FrameID != 1 {
		t.Errorf("scroll at 16: got %+v", in.Scroll)
	}
	if in.Focus != nil {
		t.Errorf("focus: got %+v", in.Focus)
	}
}

func TestFrames(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.EnsureFrame(ctx, 1, 10); err != nil {
		t.Fatal(err)
	}
	if err := s.EnsureFrame(ctx, 1, 11); err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertFrame(ctx, 1, 11, false, "3.1"); err != nil {
		t.Fatal(err)
	}

	main, err := s.MainFrameIDs(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(main.IDs(), []int{10}) {
		t.Errorf("main frames: got %v", main.IDs())
	}
	paths, err := s.DomNodePaths(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if paths[11] != "3.1" || len(paths) != 1 {
		t.Errorf("paths: got %v", paths)
	}
}

func TestRecording(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	if err := s.EnsureFrame(ctx, 1, 1); err != nil {
		t.Fatal(err)
	}
	s.Insert(1, 1, 0, 0, change.ChangeRecord{Action: change.NewDocument, Node: change.NodeRecord{TextContent: "https://example.test/"}, Timestamp: 1})
	s.Insert(1, 1, 0, 0, added(1, 0, "", 1, 1))

	rec, err := s.Recording(ctx, 1, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(rec.Documents) != 1 || !rec.Documents[0].IsMainframe || rec.Documents[0].URL != "https://example.test/" {
		t.Errorf("documents: got %+v", rec.Documents)
	}
	if len(rec.PaintEvents) != 1 || len(rec.PaintEvents[0].ChangeEvents) != 2 {
		t.Errorf("paint events: got %+v", rec.PaintEvents)
	}
}
