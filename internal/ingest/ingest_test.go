package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hazyhaar/domreplay/change"
	"github.com/hazyhaar/domreplay/changestore"
	"github.com/hazyhaar/domreplay/dbopen"
	"github.com/hazyhaar/domreplay/internal/pagestream"
)

func pipeline(t *testing.T) (*Pipeline, *changestore.Store, *pagestream.Broker) {
	t.Helper()
	store, err := changestore.New(dbopen.OpenMemory(t))
	if err != nil {
		t.Fatal(err)
	}
	broker := pagestream.New(store)
	return New(store, broker, nil), store, broker
}

func snapshotUpload(ts int64) change.Upload {
	return change.Upload{
		TabID: 1, FrameID: 1, CommandID: 1,
		Records: change.UploadBatch{
			DomChanges: []change.ChangeRecord{
				{Action: change.NewDocument, Node: change.NodeRecord{TextContent: "https://example.test/"}, Timestamp: ts},
				{Action: change.Added, Node: change.NodeRecord{ID: 1, NodeType: change.DocumentNode}, Timestamp: ts, EventIndex: 1},
			},
			ScrollEvents: []change.ScrollEvent{{ScrollX: 0, ScrollY: 40, Timestamp: ts}},
		},
	}
}

func TestUpload_StoresAndPublishes(t *testing.T) {
	p, store, broker := pipeline(t)
	ctx := context.Background()
	sub, err := broker.Subscribe(1)
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()

	if err := p.Upload(ctx, snapshotUpload(100)); err != nil {
		t.Fatal(err)
	}

	select {
	case recs := <-sub.Changes():
		if len(recs) != 2 || recs[1].NodeID != 1 {
			t.Errorf("published: got %+v", recs)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("nothing published")
	}

	rows, err := store.TabChanges(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Errorf("stored changes: got %d, want 2", len(rows))
	}
	events, err := store.PageEvents(ctx, 1, changestore.KindScroll, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Errorf("stored scroll events: got %d, want 1", len(events))
	}
	mainIDs, err := store.MainFrameIDs(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if !mainIDs.Has(1) {
		t.Errorf("first frame should be registered as main: %v", mainIDs)
	}

	want := Stats{Uploads: 1, Changes: 2, PageEvents: 1}
	if got := p.Stats(); got != want {
		t.Errorf("stats: got %+v, want %+v", got, want)
	}
}

func TestUpload_ResentIsIgnored(t *testing.T) {
	p, store, _ := pipeline(t)
	ctx := context.Background()
	up := snapshotUpload(100)
	for range 3 {
		if err := p.Upload(ctx, up); err != nil {
			t.Fatal(err)
		}
	}
	rows, err := store.TabChanges(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Errorf("changes: got %d, want 2", len(rows))
	}
	if got := p.Stats().Duplicates; got != 2 {
		t.Errorf("duplicates: got %d, want 2", got)
	}
}

func TestUpload_Invalid(t *testing.T) {
	p, _, _ := pipeline(t)
	cases := map[string]change.Upload{
		"action": {TabID: 1, Records: change.UploadBatch{DomChanges: []change.ChangeRecord{{Action: 42, Timestamp: 1}}}},
		"ts":     {TabID: 1, Records: change.UploadBatch{DomChanges: []change.ChangeRecord{{Action: change.Text}}}},
		"tab":    {TabID: -1},
	}
	for name, up := range cases {
		if err := p.Upload(context.Background(), up); !errors.Is(err, ErrInvalid) {
			t.Errorf("%s: got %v, want ErrInvalid", name, err)
		}
	}
}

func TestRegisterFrameAndCloseTab(t *testing.T) {
	p, store, broker := pipeline(t)
	ctx := context.Background()
	if err := p.RegisterFrame(ctx, 1, 1, true, ""); err != nil {
		t.Fatal(err)
	}
	if err := p.RegisterFrame(ctx, 1, 4, false, "12"); err != nil {
		t.Fatal(err)
	}
	paths, err := store.DomNodePaths(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if paths[4] != "12" {
		t.Errorf("paths: got %v", paths)
	}

	sub, _ := broker.Subscribe(1)
	p.CloseTab(1)
	select {
	case _, ok := <-sub.Changes():
		if ok {
			t.Error("expected closed stream")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stream not closed")
	}
}
