package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/domreplay/change"
	"github.com/hazyhaar/domreplay/changestore"
)

type fakePage struct {
	mu      sync.Mutex
	url     string
	navs    []string
	evals   []string
	scripts int
	resets  int
	closed  bool
	navErr  error
	docs    map[string]string
	events  chan PageEvent
}

func newFakePage() *fakePage {
	return &fakePage{url: "about:blank", docs: make(map[string]string)}
}

func (p *fakePage) Navigate(_ context.Context, url string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.navErr != nil {
		return "", p.navErr
	}
	p.url = url
	p.navs = append(p.navs, url)
	return fmt.Sprintf("loader-%d", len(p.navs)), nil
}

func (p *fakePage) WaitForDOMContentLoaded(context.Context, string) error { return nil }

func (p *fakePage) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

func (p *fakePage) Evaluate(_ context.Context, expr string) (json.RawMessage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.evals = append(p.evals, expr)
	if strings.HasPrefix(expr, "window.__domreplay.layout") {
		return json.RawMessage(`{"rects":{"4":{"x":10,"y":20,"width":30,"height":40}},"viewport":{"width":800,"height":600,"scrollX":0,"scrollY":0}}`), nil
	}
	return json.RawMessage("null"), nil
}

func (p *fakePage) AddScriptToEvaluateOnNewDocument(context.Context, string) error {
	p.mu.Lock()
	p.scripts++
	p.mu.Unlock()
	return nil
}

func (p *fakePage) Reset(context.Context) error {
	p.mu.Lock()
	p.resets++
	p.mu.Unlock()
	return nil
}

func (p *fakePage) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

func (p *fakePage) Events() <-chan PageEvent { return p.events }

func (p *fakePage) ServeDocument(url, doctype string) {
	p.mu.Lock()
	p.docs[url] = doctype
	p.mu.Unlock()
}

func (p *fakePage) navigations() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.navs...)
}

type fakeContext struct{ page *fakePage }

func (c fakeContext) NewPage(context.Context) (Page, error) { return c.page, nil }

func node(action change.Action, ts int64, idx int, n change.NodeRecord) change.FlatRecord {
	return change.Flatten(1, 1, 0, 0, change.ChangeRecord{Action: action, Node: n, Timestamp: ts, EventIndex: idx})
}

// document records a page skeleton at ts, then one appended div per later
// paint, 10ms apart. Div ids start at 10.
func document(url string, ts int64, divs int) []change.FlatRecord {
	out := []change.FlatRecord{
		node(change.NewDocument, ts, 0, change.NodeRecord{TextContent: url}),
		node(change.Added, ts, 1, change.NodeRecord{ID: 1, NodeType: change.DocumentNode}),
		node(change.Added, ts, 2, change.NodeRecord{ID: 2, NodeType: change.DoctypeNode, TextContent: "<!DOCTYPE html>", ParentNodeID: 1}),
		node(change.Added, ts, 3, change.NodeRecord{ID: 3, NodeType: change.ElementNode, TagName: "HTML", ParentNodeID: 1, PreviousSiblingID: 2}),
		node(change.Added, ts, 4, change.NodeRecord{ID: 4, NodeType: change.ElementNode, TagName: "HEAD", ParentNodeID: 3}),
		node(change.Added, ts, 5, change.NodeRecord{ID: 5, NodeType: change.ElementNode, TagName: "BODY", ParentNodeID: 3, PreviousSiblingID: 4}),
	}
	prev := 0
	for i := 0; i < divs; i++ {
		id := 10 + i
		out = append(out, node(change.Added, ts+int64(10*(i+1)), 6+i, change.NodeRecord{
			ID: id, NodeType: change.ElementNode, TagName: "DIV", ParentNodeID: 5, PreviousSiblingID: prev,
		}))
		prev = id
	}
	return out
}

func recording(docs ...[]change.FlatRecord) *change.DomRecording {
	var all []change.FlatRecord
	for _, d := range docs {
		all = append(all, d...)
	}
	return changestore.ToDomRecording(all, change.NewFrameSet(1), nil, false)
}

func attached(t *testing.T, rec *change.DomRecording, cfg Config) (*MirrorPage, *fakePage) {
	t.Helper()
	m := New(rec, cfg)
	page := newFakePage()
	if err := m.AttachToPage(context.Background(), page, false); err != nil {
		t.Fatal(err)
	}
	return m, page
}

func ptr(i int) *int { return &i }

func snapshotBody(t *testing.T, m *MirrorPage) string {
	t.Helper()
	out, err := m.Snapshot(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	i, j := strings.Index(out, "<body>"), strings.Index(out, "</body>")
	if i < 0 || j < 0 {
		t.Fatalf("no body in %q", out)
	}
	return out[i+len("<body>") : j]
}

func TestLoad_LastPaint(t *testing.T) {
	m, page := attached(t, recording(document("https://a.test/", 100, 3)), Config{})
	var events []Event
	m.On(func(ev Event) { events = append(events, ev) })

	if err := m.Load(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	if navs := page.navigations(); len(navs) != 1 || navs[0] != "https://a.test/" {
		t.Errorf("navigations: got %v", navs)
	}
	if got := snapshotBody(t, m); got != "<div></div><div></div><div></div>" {
		t.Errorf("body: got %q", got)
	}
	if page.docs["https://a.test/"] != "<!DOCTYPE html>" {
		t.Errorf("served doctype: got %q", page.docs["https://a.test/"])
	}
	if len(events) != 2 || events[0].Type != EventGoto || events[1].Type != EventPaint || events[1].PaintIndex != 3 {
		t.Errorf("events: got %+v", events)
	}
	if len(page.evals) == 0 || !strings.HasPrefix(page.evals[len(page.evals)-1], "window.__domreplay.apply(") {
		t.Errorf("ops not shipped to the page: %v", page.evals)
	}
}

func TestLoad_SameDocumentDoesNotNavigate(t *testing.T) {
	m, page := attached(t, recording(document("https://a.test/", 100, 5)), Config{})
	ctx := context.Background()
	for _, i := range []int{5, 2, 4} {
		if err := m.Load(ctx, ptr(i)); err != nil {
			t.Fatal(err)
		}
	}
	if navs := page.navigations(); len(navs) != 1 {
		t.Errorf("navigations: got %v, want one", navs)
	}
	if got := snapshotBody(t, m); got != strings.Repeat("<div></div>", 4) {
		t.Errorf("body at paint 4: got %q", got)
	}
}

func TestLoad_MinusOneAfterTen(t *testing.T) {
	m, page := attached(t, recording(document("https://a.test/", 100, 12)), Config{})
	ctx := context.Background()
	if err := m.Load(ctx, ptr(10)); err != nil {
		t.Fatal(err)
	}
	if _, ok := m.replayer.Resolve("", 10); !ok {
		t.Fatal("node 10 should be replayed at paint 10")
	}

	if err := m.Load(ctx, ptr(-1)); err != nil {
		t.Fatal(err)
	}
	if navs := page.navigations(); len(navs) != 2 {
		t.Errorf("load(-1) should reload the document, navigations: %v", navs)
	}
	if _, ok := m.replayer.Resolve("", 10); ok {
		t.Error("id map survived load(-1)")
	}
	if got := snapshotBody(t, m); got != "" {
		t.Errorf("body after load(-1): got %q", got)
	}
	if m.LoadedPaintIndex() != -1 {
		t.Errorf("LoadedPaintIndex: got %d", m.LoadedPaintIndex())
	}

	if err := m.Load(ctx, ptr(0)); err != nil {
		t.Fatal(err)
	}
	if got := snapshotBody(t, m); got != "" {
		t.Errorf("body at paint 0: got %q", got)
	}
	if len(page.navigations()) != 2 {
		t.Error("paint 0 of the loaded document should not navigate")
	}
}

func TestLoad_AcrossDocuments(t *testing.T) {
	rec := recording(document("https://a.test/", 100, 2), document("https://b.test/", 500, 1))
	m, page := attached(t, rec, Config{})
	ctx := context.Background()

	if err := m.Load(ctx, ptr(2)); err != nil {
		t.Fatal(err)
	}
	if err := m.Load(ctx, ptr(4)); err != nil {
		t.Fatal(err)
	}
	if navs := page.navigations(); len(navs) != 2 || navs[1] != "https://b.test/" {
		t.Errorf("navigations: got %v", navs)
	}
	if got := snapshotBody(t, m); got != "<div></div>" {
		t.Errorf("body of b: got %q", got)
	}
	doc, ok := m.LoadedDocument()
	if !ok || doc.URL != "https://b.test/" || doc.PaintEventIndex != 3 {
		t.Errorf("loaded document: got %+v", doc)
	}
}

func TestLoad_NavigationFailureKeepsState(t *testing.T) {
	rec := recording(document("https://a.test/", 100, 2), document("https://b.test/", 500, 1))
	m, page := attached(t, rec, Config{})
	ctx := context.Background()
	if err := m.Load(ctx, ptr(2)); err != nil {
		t.Fatal(err)
	}

	page.mu.Lock()
	page.navErr = errors.New("net::ERR_ABORTED")
	page.mu.Unlock()
	if err := m.Load(ctx, ptr(4)); err == nil {
		t.Fatal("expected navigation error")
	}
	doc, _ := m.LoadedDocument()
	if doc.URL != "https://a.test/" {
		t.Errorf("loaded document after failure: got %q", doc.URL)
	}
	if got := snapshotBody(t, m); got != "<div></div><div></div>" {
		t.Errorf("body after failure: got %q", got)
	}
}

type fakeSource struct {
	ch      chan []change.FlatRecord
	flushes int
	mu      sync.Mutex
}

func (s *fakeSource) Changes() <-chan []change.FlatRecord { return s.ch }

func (s *fakeSource) FlushDomChanges(context.Context) error {
	s.mu.Lock()
	s.flushes++
	s.mu.Unlock()
	return nil
}

func (s *fakeSource) Frames(context.Context) (change.FrameSet, map[int]string, error) {
	return change.NewFrameSet(1), map[int]string{}, nil
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSubscribe_LiveChanges(t *testing.T) {
	m, _ := attached(t, nil, Config{})
	src := &fakeSource{ch: make(chan []change.FlatRecord)}
	ctx := context.Background()
	if err := m.Subscribe(ctx, src, true); err != nil {
		t.Fatal(err)
	}
	if err := m.Subscribe(ctx, src, true); !errors.Is(err, ErrAlreadySubscribed) {
		t.Errorf("second Subscribe: got %v", err)
	}

	live := document("https://live.test/", 100, 2)
	src.ch <- live[:7]
	waitFor(t, "first live paints", func() bool { return len(m.PaintEvents()) == 2 })
	if err := m.Load(ctx, nil); err != nil {
		t.Fatal(err)
	}
	if src.flushes != 1 {
		t.Errorf("flushes: got %d, want 1", src.flushes)
	}
	if got := snapshotBody(t, m); got != "<div></div>" {
		t.Errorf("body: got %q", got)
	}

	src.ch <- live[7:]
	waitFor(t, "second live paint", func() bool { return m.PaintIndex(120) == 2 })
	if err := m.Load(ctx, nil); err != nil {
		t.Fatal(err)
	}
	if got := snapshotBody(t, m); got != "<div></div><div></div>" {
		t.Errorf("body after live extension: got %q", got)
	}

	close(src.ch)
	waitFor(t, "tab close", func() bool { return !m.Subscribed() })
	if n := len(m.PaintEvents()); n != 0 {
		t.Errorf("paints after cleanup: got %d", n)
	}
}

func TestSubscribe_LatePaint(t *testing.T) {
	added := func(ts int64, idx, id int, tag string) change.FlatRecord {
		return node(change.Added, ts, idx, change.NodeRecord{ID: id, NodeType: change.ElementNode, TagName: tag, ParentNodeID: 5})
	}
	doc := append(document("https://a.test/", 100, 0), added(130, 6, 10, "P"))
	m, _ := attached(t, recording(doc), Config{})
	ctx := context.Background()
	if err := m.Load(ctx, nil); err != nil {
		t.Fatal(err)
	}
	if got := snapshotBody(t, m); got != "<p></p>" {
		t.Fatalf("body: got %q", got)
	}

	src := &fakeSource{ch: make(chan []change.FlatRecord)}
	if err := m.Subscribe(ctx, src, false); err != nil {
		t.Fatal(err)
	}
	defer m.Unsubscribe()
	src.ch <- []change.FlatRecord{added(120, 7, 11, "SPAN")}
	waitFor(t, "late paint", func() bool { return len(m.PaintEvents()) == 3 })

	if err := m.Load(ctx, nil); err != nil {
		t.Fatal(err)
	}
	if got, want := snapshotBody(t, m), "<p></p><span></span>"; got != want {
		t.Errorf("body after late paint: got %q, want %q", got, want)
	}
}

func TestPaintIndexAndSince(t *testing.T) {
	m, _ := attached(t, recording(document("https://a.test/", 100, 2)), Config{})
	if got := m.PaintIndex(110); got != 1 {
		t.Errorf("PaintIndex(110): got %d, want 1", got)
	}
	if got := m.PaintIndex(105); got != -1 {
		t.Errorf("PaintIndex(105): got %d, want -1", got)
	}
	since := m.DomRecordingSince(110)
	if len(since.PaintEvents) != 3 || len(since.PaintEvents[0].ChangeEvents) != 0 ||
		len(since.PaintEvents[1].ChangeEvents) != 0 || len(since.PaintEvents[2].ChangeEvents) != 1 {
		t.Errorf("DomRecordingSince: got %+v", since.PaintEvents)
	}
	if n := len(m.PaintEvents()[0].ChangeEvents); n == 0 {
		t.Error("DomRecordingSince modified the recording")
	}
}

func TestShowInteractions(t *testing.T) {
	m, page := attached(t, recording(document("https://a.test/", 100, 1)), Config{ShowInteractions: true})
	ctx := context.Background()
	if err := m.Load(ctx, nil); err != nil {
		t.Fatal(err)
	}
	err := m.ShowInteractions(ctx,
		&Highlight{FrameID: 1, NodeIDs: []int{4}},
		&change.MouseEvent{PageX: 5, PageY: 6, Buttons: 1, FrameID: 1},
		&change.ScrollEvent{ScrollY: 30, FrameID: 1})
	if err != nil {
		t.Fatal(err)
	}
	last := page.evals[len(page.evals)-1]
	for _, want := range []string{`"op":"overlay"`, `"left":5`, `"op":"mouse"`, `"button-0"`, `"op":"scroll"`} {
		if !strings.Contains(last, want) {
			t.Errorf("ops missing %s: %s", want, last)
		}
	}
	if err := m.ShowStatusText(ctx, "Step 3"); err != nil {
		t.Fatal(err)
	}
	if last := page.evals[len(page.evals)-1]; !strings.Contains(last, `"text":"Step 3"`) {
		t.Errorf("status op: %s", last)
	}
}

func TestAttach_InstalledPageIsReset(t *testing.T) {
	page := newFakePage()
	ctx := context.Background()
	first := New(nil, Config{})
	if err := first.AttachToPage(ctx, page, false); err != nil {
		t.Fatal(err)
	}
	second := New(nil, Config{})
	if err := second.AttachToPage(ctx, page, false); err != nil {
		t.Fatal(err)
	}
	if page.scripts != 1 {
		t.Errorf("scripts installed: got %d, want 1", page.scripts)
	}
	if len(page.evals) != 1 || !strings.Contains(page.evals[0], "reset()") {
		t.Errorf("evals: got %v", page.evals)
	}
	if err := second.Close(ctx); err != nil {
		t.Fatal(err)
	}
	if page.resets != 1 || page.closed {
		t.Errorf("borrowed page: resets=%d closed=%v", page.resets, page.closed)
	}
}

func TestClose(t *testing.T) {
	page := newFakePage()
	m := New(recording(document("https://a.test/", 100, 1)), Config{})
	var types []string
	m.On(func(ev Event) { types = append(types, ev.Type) })
	ctx := context.Background()
	if err := m.OpenInContext(ctx, fakeContext{page}); err != nil {
		t.Fatal(err)
	}
	if err := m.Close(ctx); err != nil {
		t.Fatal(err)
	}
	if !page.closed {
		t.Error("owned page not closed")
	}
	if err := m.Close(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("second Close: got %v", err)
	}
	if err := m.Load(ctx, nil); !errors.Is(err, ErrQueueStopped) {
		t.Errorf("Load after Close: got %v", err)
	}
	if len(types) != 2 || types[0] != EventOpen || types[1] != EventClose {
		t.Errorf("events: got %v", types)
	}
}

func TestPageClosedEventClosesMirror(t *testing.T) {
	page := newFakePage()
	page.events = make(chan PageEvent, 1)
	m := New(nil, Config{})
	closed := make(chan struct{})
	m.On(func(ev Event) {
		if ev.Type == EventClose {
			close(closed)
		}
	})
	if err := m.AttachToPage(context.Background(), page, true); err != nil {
		t.Fatal(err)
	}
	page.events <- PageEvent{Type: PageClosed}
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("mirror not closed after page close")
	}
}

type shotPage struct {
	*fakePage
}

func (shotPage) Screenshot(context.Context) ([]byte, error) { return []byte("png"), nil }

func TestScreenshot(t *testing.T) {
	ctx := context.Background()
	m, _ := attached(t, recording(document("https://a.test/", 100, 1)), Config{})
	if _, err := m.Screenshot(ctx); !errors.Is(err, ErrNoScreenshot) {
		t.Errorf("plain page: got %v, want ErrNoScreenshot", err)
	}

	m = New(recording(document("https://a.test/", 100, 1)), Config{})
	if err := m.AttachToPage(ctx, shotPage{newFakePage()}, false); err != nil {
		t.Fatal(err)
	}
	png, err := m.Screenshot(ctx)
	if err != nil || string(png) != "png" {
		t.Errorf("screenshot: got %q, %v", png, err)
	}
}
