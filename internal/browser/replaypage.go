package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/domreplay/mirror"
)

// ReplayContext opens mirror pages in an incognito browser context of the
// managed Chrome.
type ReplayContext struct {
	browser *rod.Browser
	logger  *slog.Logger
}

// NewReplayContext creates an incognito context on mgr's browser.
func NewReplayContext(mgr *Manager) (*ReplayContext, error) {
	b := mgr.Browser()
	if b == nil {
		return nil, fmt.Errorf("browser: no active browser")
	}
	inc, err := b.Incognito()
	if err != nil {
		return nil, fmt.Errorf("browser: incognito: %w", err)
	}
	if err := (proto.TargetSetDiscoverTargets{Discover: true}).Call(inc); err != nil {
		mgr.cfg.Logger.Debug("browser: discover targets", "error", err)
	}
	return &ReplayContext{browser: inc, logger: mgr.cfg.Logger}, nil
}

// NewPage opens a blank page.
func (c *ReplayContext) NewPage(ctx context.Context) (mirror.Page, error) {
	p, err := c.browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, fmt.Errorf("browser: new replay page: %w", err)
	}
	rp, err := newReplayPage(c.browser, p, c.logger)
	if err != nil {
		p.Close()
		return nil, err
	}
	return rp, nil
}

// Close disposes the incognito context and its pages.
func (c *ReplayContext) Close() error { return c.browser.Close() }

// ReplayPage adapts a rod page to mirror.Page. Navigations to recorded
// documents are answered locally with a blank shell.
type ReplayPage struct {
	page   *rod.Page
	in     *interceptor
	router *rod.HijackRouter
	logger *slog.Logger

	mu      sync.Mutex
	url     string
	loaded  map[proto.NetworkLoaderID]chan struct{}
	mainID  proto.PageFrameID
	events  chan mirror.PageEvent
	closed  bool
	cancel  context.CancelFunc
	evClose sync.Once
}

var (
	_ mirror.Page           = (*ReplayPage)(nil)
	_ mirror.DocumentServer = (*ReplayPage)(nil)
	_ mirror.ViewportSetter = (*ReplayPage)(nil)
	_ mirror.Screenshotter  = (*ReplayPage)(nil)
)

// maxLoaders bounds the lifecycle bookkeeping of navigations nobody waits
// for.
const maxLoaders = 64

func newReplayPage(b *rod.Browser, p *rod.Page, logger *slog.Logger) (*ReplayPage, error) {
	if err := (proto.PageEnable{}).Call(p); err != nil {
		return nil, fmt.Errorf("browser: Page.enable: %w", err)
	}
	if err := (proto.PageSetLifecycleEventsEnabled{Enabled: true}).Call(p); err != nil {
		return nil, fmt.Errorf("browser: lifecycle events: %w", err)
	}
	if err := (proto.RuntimeEnable{}).Call(p); err != nil {
		return nil, fmt.Errorf("browser: Runtime.enable: %w", err)
	}

	in := newInterceptor(nil)
	router, err := in.attach(p)
	if err != nil {
		return nil, fmt.Errorf("browser: intercept: %w", err)
	}
	tree, err := proto.PageGetFrameTree{}.Call(p)
	if err != nil {
		router.Stop()
		return nil, fmt.Errorf("browser: frame tree: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	rp := &ReplayPage{
		page:   p,
		in:     in,
		router: router,
		logger: logger,
		url:    "about:blank",
		loaded: make(map[proto.NetworkLoaderID]chan struct{}),
		mainID: tree.FrameTree.Frame.ID,
		events: make(chan mirror.PageEvent, 16),
		cancel: cancel,
	}
	go rp.listen(ctx)
	go rp.watchTarget(ctx, b)
	return rp, nil
}

func (p *ReplayPage) listen(ctx context.Context) {
	wait := p.page.Context(ctx).EachEvent(
		func(e *proto.PageLifecycleEvent) {
			if e.Name == "DOMContentLoaded" && e.FrameID == p.mainID {
				p.markLoaded(e.LoaderID)
			}
		},
		func(e *proto.PageFrameNavigated) {
			if e.Frame == nil || e.Frame.ParentID != "" {
				return
			}
			p.mu.Lock()
			p.mainID = e.Frame.ID
			p.url = e.Frame.URL + e.Frame.URLFragment
			p.mu.Unlock()
		},
		func(e *proto.PageNavigatedWithinDocument) {
			p.mu.Lock()
			if e.FrameID == p.mainID {
				p.url = e.URL
			}
			p.mu.Unlock()
		},
		func(e *proto.RuntimeConsoleAPICalled) {
			p.emit(mirror.PageEvent{Type: mirror.PageConsole, Message: consoleText(e.Args)})
		},
		func(e *proto.InspectorTargetCrashed) {
			p.emit(mirror.PageEvent{Type: mirror.PageCrashed, Message: "target crashed"})
		},
	)
	wait()
}

// watchTarget reports a page closed from outside.
func (p *ReplayPage) watchTarget(ctx context.Context, b *rod.Browser) {
	wait := b.Context(ctx).EachEvent(func(e *proto.TargetTargetDestroyed) bool {
		if e.TargetID != p.page.TargetID {
			return false
		}
		p.closeEvents()
		return true
	})
	wait()
}

func consoleText(args []*proto.RuntimeRemoteObject) string {
	parts := make([]string, 0, len(args))
	for _, a := range args {
		if a.Value.Nil() {
			parts = append(parts, a.Description)
			continue
		}
		parts = append(parts, a.Value.String())
	}
	return strings.Join(parts, " ")
}

func (p *ReplayPage) emit(ev mirror.PageEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.events <- ev:
	default:
		p.logger.Debug("browser: replay page event dropped", "type", ev.Type)
	}
}

// closeEvents delivers PageClosed and ends the event stream.
func (p *ReplayPage) closeEvents() {
	p.evClose.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
		select {
		case p.events <- mirror.PageEvent{Type: mirror.PageClosed}:
		default:
		}
		close(p.events)
	})
}

func (p *ReplayPage) loaderCh(id proto.NetworkLoaderID) chan struct{} {
	ch, ok := p.loaded[id]
	if !ok {
		if len(p.loaded) >= maxLoaders {
			clear(p.loaded)
		}
		ch = make(chan struct{})
		p.loaded[id] = ch
	}
	return ch
}

func (p *ReplayPage) markLoaded(id proto.NetworkLoaderID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch := p.loaderCh(id)
	select {
	case <-ch:
	default:
		close(ch)
	}
}

// Navigate starts a navigation and returns its loader id. Same-document
// navigations have none.
func (p *ReplayPage) Navigate(ctx context.Context, url string) (string, error) {
	res, err := proto.PageNavigate{URL: url}.Call(p.page.Context(ctx))
	if err != nil {
		return "", fmt.Errorf("browser: navigate %s: %w", url, err)
	}
	if res.ErrorText != "" {
		return "", fmt.Errorf("browser: navigate %s: %s", url, res.ErrorText)
	}
	p.mu.Lock()
	p.url = url
	p.mu.Unlock()
	return string(res.LoaderID), nil
}

// WaitForDOMContentLoaded blocks until the navigation of loaderID fired
// DOMContentLoaded in the main frame.
func (p *ReplayPage) WaitForDOMContentLoaded(ctx context.Context, loaderID string) error {
	if loaderID == "" {
		return nil
	}
	id := proto.NetworkLoaderID(loaderID)
	p.mu.Lock()
	ch := p.loaderCh(id)
	p.mu.Unlock()
	select {
	case <-ch:
		p.mu.Lock()
		delete(p.loaded, id)
		p.mu.Unlock()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *ReplayPage) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

// Evaluate runs a raw expression, awaiting promises, and returns its value
// as JSON.
func (p *ReplayPage) Evaluate(ctx context.Context, expr string) (json.RawMessage, error) {
	res, err := proto.RuntimeEvaluate{
		Expression:    expr,
		ReturnByValue: true,
		AwaitPromise:  true,
	}.Call(p.page.Context(ctx))
	if err != nil {
		return nil, fmt.Errorf("browser: evaluate: %w", err)
	}
	if res.ExceptionDetails != nil {
		msg := res.ExceptionDetails.Text
		if ex := res.ExceptionDetails.Exception; ex != nil && ex.Description != "" {
			msg = ex.Description
		}
		return nil, errors.New("browser: evaluate: " + msg)
	}
	if res.Result == nil || res.Result.Value.Nil() {
		return json.RawMessage("null"), nil
	}
	return json.RawMessage(res.Result.Value.JSON("", "")), nil
}

func (p *ReplayPage) AddScriptToEvaluateOnNewDocument(ctx context.Context, src string) error {
	if _, err := p.page.Context(ctx).EvalOnNewDocument(src); err != nil {
		return fmt.Errorf("browser: add script: %w", err)
	}
	return nil
}

// ServeDocument answers future navigations to url with an empty document
// carrying doctype.
func (p *ReplayPage) ServeDocument(url, doctype string) { p.in.serve(url, doctype) }

func (p *ReplayPage) SetViewport(ctx context.Context, width, height int, scale float64) error {
	return p.page.Context(ctx).SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             width,
		Height:            height,
		DeviceScaleFactor: scale,
	})
}

// Screenshot captures the viewport as PNG.
func (p *ReplayPage) Screenshot(ctx context.Context) ([]byte, error) {
	png, err := p.page.Context(ctx).Screenshot(false, nil)
	if err != nil {
		return nil, fmt.Errorf("browser: screenshot: %w", err)
	}
	return png, nil
}

// Reset forgets the served documents and goes back to about:blank.
func (p *ReplayPage) Reset(ctx context.Context) error {
	p.in.forget()
	_, err := p.Navigate(ctx, "about:blank")
	return err
}

func (p *ReplayPage) Close() error {
	p.router.Stop()
	err := p.page.Close()
	p.cancel()
	p.closeEvents()
	return err
}

func (p *ReplayPage) Events() <-chan mirror.PageEvent { return p.events }
