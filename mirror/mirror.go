// Package mirror drives a destination browser page through recorded
// documents and paints, from a stored recording or a live tab.
//
// The authoritative replayed DOM lives in a replay.Replayer; the page
// receives the replayer's op journal through its injected executor.
package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/hazyhaar/domreplay/change"
	"github.com/hazyhaar/domreplay/internal/dom"
	"github.com/hazyhaar/domreplay/replay"
)

var (
	ErrClosed            = errors.New("mirror: closed")
	ErrAlreadySubscribed = errors.New("mirror: already subscribed to a tab")
	ErrQueueStopped      = errors.New("mirror: load queue stopped")
	ErrNotAttached       = errors.New("mirror: no page attached")
	ErrNoScreenshot      = errors.New("mirror: page cannot take screenshots")
)

// Config for a MirrorPage.
type Config struct {
	// ShowInteractions enables highlight boxes, the mouse cursor, status
	// text and the loading overlay.
	ShowInteractions bool
	// Viewport emulated on pages opened by OpenInContext. Zero keeps the
	// page default.
	ViewportWidth  int
	ViewportHeight int
	DeviceScale    float64

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.DeviceScale <= 0 {
		c.DeviceScale = 1
	}
}

// installed marks pages that already evaluate the executor script on every
// new document.
var installed sync.Map

// MirrorPage replays a DomRecording into a Page.
type MirrorPage struct {
	cfg    Config
	logger *slog.Logger

	// queue holds one token; every page operation runs while holding it.
	queue   chan struct{}
	stopped chan struct{}
	stop    sync.Once
	ready   chan struct{}
	readyMu sync.Mutex

	page        Page
	createdPage bool
	replayer    *replay.Replayer

	mu           sync.Mutex
	recording    *change.DomRecording
	paintByTS    map[int64]*change.PaintEvent
	pending      []change.FlatRecord
	loadedDoc    *change.DocumentRecord
	loadedDirty  bool
	loadedIndex  int
	source       LiveSource
	cancelSource context.CancelFunc

	listenersMu sync.Mutex
	listeners   []func(Event)
}

// New returns a MirrorPage for rec. A nil rec starts empty. Attach a page
// with AttachToPage or OpenInContext before loading.
func New(rec *change.DomRecording, cfg Config) *MirrorPage {
	cfg.defaults()
	m := &MirrorPage{
		cfg:         cfg,
		logger:      cfg.Logger,
		queue:       make(chan struct{}, 1),
		stopped:     make(chan struct{}),
		ready:       make(chan struct{}),
		loadedIndex: -1,
		replayer:    replay.New("about:blank", replay.WithLogger(cfg.Logger)),
	}
	m.queue <- struct{}{}
	m.setRecording(rec)
	return m
}

// On registers fn for every emitted Event.
func (m *MirrorPage) On(fn func(Event)) {
	m.listenersMu.Lock()
	m.listeners = append(m.listeners, fn)
	m.listenersMu.Unlock()
}

func (m *MirrorPage) emit(ev Event) {
	m.listenersMu.Lock()
	ls := slices.Clone(m.listeners)
	m.listenersMu.Unlock()
	for _, fn := range ls {
		fn(ev)
	}
}

// AttachToPage installs the executor on page, or resets it when page
// already carries it. createdByMirror makes Close destroy the page rather
// than reset it.
func (m *MirrorPage) AttachToPage(ctx context.Context, page Page, createdByMirror bool) error {
	select {
	case <-m.stopped:
		return ErrClosed
	default:
	}
	m.page = page
	m.createdPage = createdByMirror
	defer m.markReady()

	if _, ok := installed.Load(page); ok {
		if _, err := page.Evaluate(ctx, "window.__domreplay && window.__domreplay.reset()"); err != nil {
			return fmt.Errorf("mirror: reset page: %w", err)
		}
	} else {
		if err := page.AddScriptToEvaluateOnNewDocument(ctx, replay.Script); err != nil {
			return fmt.Errorf("mirror: install executor: %w", err)
		}
		installed.Store(page, struct{}{})
	}

	m.mu.Lock()
	docs := append([]change.DocumentRecord(nil), m.recording.Documents...)
	m.mu.Unlock()
	m.serveDocuments(docs)

	if events := page.Events(); events != nil {
		go m.watchPage(events)
	}
	return nil
}

// OpenInContext opens a page of its own in bctx and attaches to it.
func (m *MirrorPage) OpenInContext(ctx context.Context, bctx Context) error {
	page, err := bctx.NewPage(ctx)
	if err != nil {
		m.markReady()
		return fmt.Errorf("mirror: new page: %w", err)
	}
	if err := m.AttachToPage(ctx, page, true); err != nil {
		return err
	}
	if vs, ok := page.(ViewportSetter); ok && m.cfg.ViewportWidth > 0 && m.cfg.ViewportHeight > 0 {
		if err := vs.SetViewport(ctx, m.cfg.ViewportWidth, m.cfg.ViewportHeight, m.cfg.DeviceScale); err != nil {
			return fmt.Errorf("mirror: viewport: %w", err)
		}
	}
	m.emit(Event{Type: EventOpen})
	return nil
}

func (m *MirrorPage) markReady() {
	m.readyMu.Lock()
	defer m.readyMu.Unlock()
	select {
	case <-m.ready:
	default:
		close(m.ready)
	}
}

func (m *MirrorPage) watchPage(events <-chan PageEvent) {
	for ev := range events {
		switch ev.Type {
		case PageClosed:
			if err := m.Close(context.Background()); err != nil && !errors.Is(err, ErrClosed) {
				m.logger.Warn("mirror: close after page closed", "error", err)
			}
			return
		case PageConsole:
			m.logger.Debug("mirror: page console", "message", ev.Message)
		case PageCrashed:
			m.logger.Warn("mirror: page crashed", "message", ev.Message)
		}
	}
}

// run executes fn with the queue token, once a page is attached.
func (m *MirrorPage) run(ctx context.Context, fn func() error) error {
	select {
	case <-m.ready:
	case <-m.stopped:
		return ErrQueueStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-m.queue:
	case <-m.stopped:
		return ErrQueueStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { m.queue <- struct{}{} }()
	select {
	case <-m.stopped:
		return ErrQueueStopped
	default:
	}
	if m.page == nil {
		return ErrNotAttached
	}
	return fn()
}

// Load shows the paint at index, the last paint when index is nil. Index -1
// shows the first document blank.
func (m *MirrorPage) Load(ctx context.Context, index *int) error {
	return m.LoadLabeled(ctx, index, "")
}

// LoadLabeled is Load with a status label left on screen afterwards.
func (m *MirrorPage) LoadLabeled(ctx context.Context, index *int, label string) error {
	return m.run(ctx, func() error { return m.load(ctx, index, label) })
}

func (m *MirrorPage) load(ctx context.Context, index *int, label string) error {
	m.mu.Lock()
	src := m.source
	m.mu.Unlock()
	if src != nil && index == nil {
		if err := src.FlushDomChanges(ctx); err != nil {
			return fmt.Errorf("mirror: flush live changes: %w", err)
		}
	}

	m.mu.Lock()
	m.processPending()
	idx := len(m.recording.PaintEvents) - 1
	if index != nil {
		idx = *index
	}
	target, hasTarget := m.activeDocument(idx)
	loaded := m.loadedDoc
	m.mu.Unlock()

	navigating := hasTarget && (loaded == nil || idx == -1 ||
		target.URL != m.page.URL() || target.PaintStartTimestamp != loaded.PaintStartTimestamp)
	if navigating {
		m.logger.Debug("mirror: navigate", "paintIndex", idx, "url", target.URL)
		loaderID, err := m.page.Navigate(ctx, target.URL)
		if err != nil {
			return fmt.Errorf("mirror: navigate %s: %w", target.URL, err)
		}
		m.emit(Event{Type: EventGoto, URL: target.URL, LoaderID: loaderID})
		if err := m.page.WaitForDOMContentLoaded(ctx, loaderID); err != nil {
			return fmt.Errorf("mirror: wait for %s: %w", target.URL, err)
		}
		m.replayer.Navigate(target.URL)
		m.mu.Lock()
		doc := target
		m.loadedDoc = &doc
		m.loadedDirty = true
		m.mu.Unlock()
	}

	m.mu.Lock()
	m.loadedIndex = idx
	if m.loadedDirty && m.loadedDoc != nil {
		m.injectPaintEvents(*m.loadedDoc)
	}
	m.mu.Unlock()

	if idx < 0 {
		return m.flushOps(ctx)
	}
	m.emit(Event{Type: EventPaint, PaintIndex: idx})

	overlay := m.cfg.ShowInteractions && (label != "" || navigating)
	if overlay {
		m.replayer.Status("Loading")
		if err := m.flushOps(ctx); err != nil {
			return err
		}
	}
	m.replayer.SetPaintIndex(idx)
	if overlay {
		m.replayer.Status(label)
	}
	return m.flushOps(ctx)
}

// activeDocument resolves the document shown at idx. Callers hold mu.
func (m *MirrorPage) activeDocument(idx int) (change.DocumentRecord, bool) {
	return replay.ActiveDocument(m.recording, idx)
}

// injectPaintEvents hands the paints of doc to the replayer as one
// dataset. Callers hold mu.
func (m *MirrorPage) injectPaintEvents(doc change.DocumentRecord) {
	m.replayer.LoadPaintEvents(replay.BuildDataset(m.recording, doc))
	m.loadedDoc = &doc
	m.loadedDirty = false
}

func (m *MirrorPage) flushOps(ctx context.Context) error {
	ops := m.replayer.TakeOps()
	if len(ops) == 0 {
		return nil
	}
	expr, err := replay.ApplyExpression(ops)
	if err != nil {
		return err
	}
	if _, err := m.page.Evaluate(ctx, expr); err != nil {
		return fmt.Errorf("mirror: apply %d ops: %w", len(ops), err)
	}
	return nil
}

// ReplaceDomRecording swaps the recording and re-injects the loaded
// document.
func (m *MirrorPage) ReplaceDomRecording(ctx context.Context, rec *change.DomRecording) error {
	return m.run(ctx, func() error {
		m.mu.Lock()
		m.setRecording(rec)
		docs := append([]change.DocumentRecord(nil), m.recording.Documents...)
		reload := m.loadedDoc != nil
		if reload {
			m.loadedDirty = true
			m.injectPaintEvents(*m.loadedDoc)
		}
		idx := m.loadedIndex
		m.mu.Unlock()
		m.serveDocuments(docs)
		if reload && idx >= 0 {
			m.replayer.SetPaintIndex(idx)
		}
		return m.flushOps(ctx)
	})
}

func (m *MirrorPage) setRecording(rec *change.DomRecording) {
	if rec == nil {
		rec = &change.DomRecording{MainFrameIDs: change.NewFrameSet()}
	}
	if rec.MainFrameIDs == nil {
		rec.MainFrameIDs = change.NewFrameSet()
	}
	m.recording = rec
	m.paintByTS = make(map[int64]*change.PaintEvent, len(rec.PaintEvents))
	for _, p := range rec.PaintEvents {
		m.paintByTS[p.Timestamp] = p
	}
}

func (m *MirrorPage) serveDocuments(docs []change.DocumentRecord) {
	ds, ok := m.page.(DocumentServer)
	if !ok {
		return
	}
	for _, d := range docs {
		ds.ServeDocument(d.URL, d.Doctype)
	}
}

// PaintIndex returns the index of the paint recorded at timestamp, or -1.
func (m *MirrorPage) PaintIndex(timestamp int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processPending()
	p, ok := m.paintByTS[timestamp]
	if !ok {
		return -1
	}
	for i, q := range m.recording.PaintEvents {
		if q == p {
			return i
		}
	}
	return -1
}

// PaintEvents returns the known paints, pending live changes included.
func (m *MirrorPage) PaintEvents() []*change.PaintEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processPending()
	return append([]*change.PaintEvent(nil), m.recording.PaintEvents...)
}

// LoadedDocument returns the document currently shown.
func (m *MirrorPage) LoadedDocument() (change.DocumentRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadedDoc == nil {
		return change.DocumentRecord{}, false
	}
	return *m.loadedDoc, true
}

// LoadedPaintIndex returns the index requested by the last load.
func (m *MirrorPage) LoadedPaintIndex() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadedIndex
}

// DomRecordingSince copies the recording with the changes of every paint
// at or before since emptied.
func (m *MirrorPage) DomRecordingSince(since int64) *change.DomRecording {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processPending()
	rec := m.recording
	out := &change.DomRecording{
		Documents:            append([]change.DocumentRecord(nil), rec.Documents...),
		PaintEvents:          make([]*change.PaintEvent, len(rec.PaintEvents)),
		MainFrameIDs:         change.NewFrameSet(rec.MainFrameIDs.IDs()...),
		DomNodePathByFrameID: make(map[int]string, len(rec.DomNodePathByFrameID)),
	}
	for k, v := range rec.DomNodePathByFrameID {
		out.DomNodePathByFrameID[k] = v
	}
	for i, p := range rec.PaintEvents {
		cp := *p
		if p.Timestamp <= since {
			cp.ChangeEvents = []change.FlatRecord{}
		}
		out.PaintEvents[i] = &cp
	}
	return out
}

// Snapshot renders the replayed main document at the loaded paint.
func (m *MirrorPage) Snapshot(ctx context.Context) (string, error) {
	var out string
	err := m.run(ctx, func() error {
		out = m.replayer.Render(replay.MainFrame)
		return nil
	})
	return out, err
}

// Screenshot captures the page as a PNG at the loaded paint.
func (m *MirrorPage) Screenshot(ctx context.Context) ([]byte, error) {
	var png []byte
	err := m.run(ctx, func() error {
		sp, ok := m.page.(Screenshotter)
		if !ok {
			return ErrNoScreenshot
		}
		var err error
		png, err = sp.Screenshot(ctx)
		return err
	})
	return png, err
}

// NodeHTML loads the paint at index and renders one replayed node of the
// frame frameID (0 for the main frame). It returns the frame url too.
func (m *MirrorPage) NodeHTML(ctx context.Context, index, frameID, nodeID int) (string, string, error) {
	var html, url string
	err := m.run(ctx, func() error {
		if err := m.load(ctx, &index, ""); err != nil {
			return err
		}
		path := m.framePath(frameID)
		n, ok := m.replayer.Resolve(path, nodeID)
		if !ok {
			return fmt.Errorf("mirror: node %d not found in frame %q", nodeID, path)
		}
		doc, _ := m.replayer.Document(path)
		html, url = dom.Render(n), doc.Location()
		return nil
	})
	return html, url, err
}

// Highlight selects nodes to outline in a frame.
type Highlight struct {
	FrameID int   `json:"frameId"`
	NodeIDs []int `json:"nodeIds"`
}

// ShowInteractions draws highlight boxes, the cursor and the scroll
// position. Nil arguments are left as they are.
func (m *MirrorPage) ShowInteractions(ctx context.Context, hl *Highlight, mouse *change.MouseEvent, scroll *change.ScrollEvent) error {
	if !m.cfg.ShowInteractions {
		return nil
	}
	return m.run(ctx, func() error {
		if hl != nil {
			path := m.framePath(hl.FrameID)
			expr, err := replay.LayoutExpression(path, hl.NodeIDs)
			if err != nil {
				return err
			}
			raw, err := m.page.Evaluate(ctx, expr)
			if err != nil {
				return fmt.Errorf("mirror: layout: %w", err)
			}
			var layout replay.Layout
			if err := json.Unmarshal(raw, &layout); err != nil {
				return fmt.Errorf("mirror: decode layout: %w", err)
			}
			m.replayer.Highlight(path, hl.NodeIDs, layout)
		}
		if mouse != nil {
			m.replayer.Mouse(m.framePath(mouse.FrameID), *mouse)
		}
		if scroll != nil {
			m.replayer.Scroll(m.framePath(scroll.FrameID), *scroll)
		}
		return m.flushOps(ctx)
	})
}

// ShowStatusText shows text in the status bar; "" hides it.
func (m *MirrorPage) ShowStatusText(ctx context.Context, text string) error {
	if !m.cfg.ShowInteractions {
		return nil
	}
	return m.run(ctx, func() error {
		m.replayer.Status(text)
		return m.flushOps(ctx)
	})
}

// framePath translates a recorded frame id into a replay frame path. Main
// frames and unknown frames map to the main frame.
func (m *MirrorPage) framePath(frameID int) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if frameID == 0 || m.recording.MainFrameIDs.Has(frameID) {
		return replay.MainFrame
	}
	return m.recording.DomNodePathByFrameID[frameID]
}

// Close stops the load queue and releases the page: closed when the mirror
// opened it, reset otherwise.
func (m *MirrorPage) Close(ctx context.Context) error {
	closed := false
	m.stop.Do(func() {
		closed = true
		close(m.stopped)
	})
	if !closed {
		return ErrClosed
	}
	m.Unsubscribe()

	var err error
	if m.page != nil {
		if m.createdPage {
			installed.Delete(m.page)
			err = m.page.Close()
		} else {
			err = m.page.Reset(ctx)
		}
	}
	m.mu.Lock()
	m.loadedDoc = nil
	m.mu.Unlock()
	m.emit(Event{Type: EventClose})
	if err != nil {
		return fmt.Errorf("mirror: release page: %w", err)
	}
	return nil
}
