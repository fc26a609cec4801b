// Package watcher orchestrates the managed Chrome for domreplay: it opens
// the tabs being recorded, keeps their recordings alive across browser
// recycles, and renders stored recordings in mirror pages for screenshots.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/go-rod/rod"

	"github.com/hazyhaar/domreplay/change"
	"github.com/hazyhaar/domreplay/internal/browser"
	"github.com/hazyhaar/domreplay/internal/pagestream"
	"github.com/hazyhaar/domreplay/mirror"
	"github.com/hazyhaar/domreplay/recorder"
)

// MainFrameID is the frame id recorded for the top frame of every tab.
const MainFrameID = 1

var (
	// ErrUnknownTab is returned for a tab the watcher is not recording.
	ErrUnknownTab = errors.New("watcher: unknown tab")
	// ErrTabInUse is returned when recording into a tab id already recording.
	ErrTabInUse = errors.New("watcher: tab already recording")
)

// Frames registers frames and ends the live streams of closed tabs.
// *ingest.Pipeline implements it.
type Frames interface {
	RegisterFrame(ctx context.Context, tabID, frameID int, isMain bool, domNodePath string) error
	CloseTab(tabID int)
}

// Recordings loads stored recordings. *domreplay.Service and
// *changestore.Store implement it.
type Recordings interface {
	Recording(ctx context.Context, tabID int, onlyLatestNavigation bool) (*change.DomRecording, error)
}

// Config configures a Watcher.
type Config struct {
	Browser  browser.Config
	Recorder recorder.Config // template; TabID and FrameID are set per tab
	Mirror   mirror.Config
	Logger   *slog.Logger
}

// Watcher owns the browser and the recording tabs.
type Watcher struct {
	cfg        Config
	mgr        *browser.Manager
	up         recorder.Uploader
	frames     Frames
	broker     *pagestream.Broker
	recordings Recordings
	logger     *slog.Logger

	mu      sync.Mutex
	tabs    map[int]*session
	nextID  int
	replay  *browser.ReplayContext
	runCtx  context.Context
	started bool
}

type session struct {
	id  int
	url string
	tab *browser.Tab
	rec *browser.Recording
}

// TabInfo describes a recording tab.
type TabInfo struct {
	TabID int    `json:"tabId"`
	URL   string `json:"url"`
}

// New creates a Watcher. Recorders upload through up; broker may be nil.
func New(cfg Config, up recorder.Uploader, frames Frames, broker *pagestream.Broker, recordings Recordings) *Watcher {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	cfg.Browser.Logger = cfg.Logger
	cfg.Recorder.Logger = cfg.Logger
	cfg.Mirror.Logger = cfg.Logger
	return &Watcher{
		cfg:        cfg,
		mgr:        browser.NewManager(cfg.Browser),
		up:         up,
		frames:     frames,
		broker:     broker,
		recordings: recordings,
		logger:     cfg.Logger,
		tabs:       make(map[int]*session),
	}
}

// Start launches the browser. Recordings are reopened after every recycle.
func (w *Watcher) Start(ctx context.Context) error {
	if _, err := w.mgr.Start(ctx); err != nil {
		return fmt.Errorf("watcher: start browser: %w", err)
	}
	w.mu.Lock()
	w.runCtx = ctx
	w.started = true
	w.mu.Unlock()
	w.mgr.OnRecycle(browser.RecycleHooks{
		Before: w.detachAll,
		After:  func(*rod.Browser) { w.reconnectAll(ctx) },
	})
	return nil
}

// Record opens url in a new tab and records it. A tabID <= 0 picks the
// next free id.
func (w *Watcher) Record(ctx context.Context, tabID int, url string) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return 0, fmt.Errorf("watcher: browser not started")
	}
	if tabID <= 0 {
		tabID = w.nextID + 1
	}
	if _, ok := w.tabs[tabID]; ok {
		return 0, fmt.Errorf("%w: %d", ErrTabInUse, tabID)
	}
	s := &session{id: tabID, url: url}
	// The recording outlives the request that started it.
	if err := w.attachLocked(w.runCtx, s); err != nil {
		return 0, err
	}
	w.tabs[tabID] = s
	w.nextID = max(w.nextID, tabID)
	return tabID, nil
}

// attachLocked opens the tab of s and starts its recorder.
func (w *Watcher) attachLocked(ctx context.Context, s *session) error {
	if w.broker != nil {
		w.broker.OpenTab(s.id)
	}
	if err := w.frames.RegisterFrame(ctx, s.id, MainFrameID, true, ""); err != nil {
		return err
	}
	tab, err := browser.OpenTab(ctx, w.mgr, s.id, s.url)
	if err != nil {
		return fmt.Errorf("watcher: open tab %d: %w", s.id, err)
	}
	cfg := w.cfg.Recorder
	cfg.TabID = s.id
	cfg.FrameID = MainFrameID
	rec, err := browser.Record(ctx, tab.Page, w.up, cfg)
	if err != nil {
		tab.Close()
		return fmt.Errorf("watcher: record tab %d: %w", s.id, err)
	}
	s.tab, s.rec = tab, rec
	if w.broker != nil {
		w.broker.SetFlusher(s.id, rec.Flush)
	}
	w.logger.Info("watcher: recording", "tab", s.id, "url", s.url)
	return nil
}

func (w *Watcher) detachLocked(s *session) {
	if w.broker != nil {
		w.broker.SetFlusher(s.id, nil)
	}
	if s.rec != nil {
		if err := s.rec.Close(); err != nil {
			w.logger.Warn("watcher: close recording", "tab", s.id, "error", err)
		}
		s.rec = nil
	}
	if s.tab != nil {
		s.tab.Close()
		s.tab = nil
	}
}

// Stop ends the recording of tabID and closes its live streams.
func (w *Watcher) Stop(tabID int) error {
	w.mu.Lock()
	s, ok := w.tabs[tabID]
	if ok {
		delete(w.tabs, tabID)
		w.detachLocked(s)
	}
	w.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownTab, tabID)
	}
	w.frames.CloseTab(tabID)
	w.logger.Info("watcher: stopped", "tab", tabID)
	return nil
}

// SetCommandID tags the next changes of tabID with id.
func (w *Watcher) SetCommandID(tabID, id int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	s, ok := w.tabs[tabID]
	if !ok || s.rec == nil {
		return fmt.Errorf("%w: %d", ErrUnknownTab, tabID)
	}
	s.rec.SetCommandID(id)
	return nil
}

// Tabs lists the recording tabs by id.
func (w *Watcher) Tabs() []TabInfo {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]TabInfo, 0, len(w.tabs))
	for _, s := range w.tabs {
		out = append(out, TabInfo{TabID: s.id, URL: s.url})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TabID < out[j].TabID })
	return out
}

// Screenshot replays the stored recording of tabID up to paint (the last
// paint when nil) in a mirror page and captures it.
func (w *Watcher) Screenshot(ctx context.Context, tabID int, paint *int) ([]byte, error) {
	rec, err := w.recordings.Recording(ctx, tabID, false)
	if err != nil {
		return nil, err
	}
	if len(rec.MainDocuments()) == 0 {
		return nil, fmt.Errorf("%w: %d has no document", ErrUnknownTab, tabID)
	}
	bctx, err := w.replayContext()
	if err != nil {
		return nil, err
	}
	m := mirror.New(rec, w.cfg.Mirror)
	defer m.Close(context.WithoutCancel(ctx))
	if err := m.OpenInContext(ctx, bctx); err != nil {
		return nil, err
	}
	if err := m.Load(ctx, paint); err != nil {
		return nil, err
	}
	return m.Screenshot(ctx)
}

func (w *Watcher) replayContext() (*browser.ReplayContext, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.replay != nil {
		return w.replay, nil
	}
	rc, err := browser.NewReplayContext(w.mgr)
	if err != nil {
		return nil, err
	}
	w.replay = rc
	return rc, nil
}

// detachAll runs before a recycle: recordings flush and close, the replay
// context dies with the browser.
func (w *Watcher) detachAll() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, s := range w.tabs {
		w.detachLocked(s)
	}
	w.replay = nil
}

func (w *Watcher) reconnectAll(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, s := range w.tabs {
		if err := w.attachLocked(ctx, s); err != nil {
			w.logger.Error("watcher: reconnect failed", "tab", s.id, "url", s.url, "error", err)
		}
	}
}

// Close stops every recording and the browser.
func (w *Watcher) Close() error {
	w.mu.Lock()
	ids := make([]int, 0, len(w.tabs))
	for id, s := range w.tabs {
		w.detachLocked(s)
		ids = append(ids, id)
	}
	w.tabs = make(map[int]*session)
	if w.replay != nil {
		w.replay.Close()
		w.replay = nil
	}
	w.mu.Unlock()
	for _, id := range ids {
		w.frames.CloseTab(id)
	}
	return w.mgr.Close()
}
