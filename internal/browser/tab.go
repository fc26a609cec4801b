package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// navigationTimeout bounds the initial load of a recording tab.
const navigationTimeout = 30 * time.Second

// Tab is a recording tab: a page with stealth and resource blocking applied.
type Tab struct {
	ID   int
	URL  string
	Page *rod.Page

	router *rod.HijackRouter
	mgr    *Manager
}

// OpenTab creates a page and navigates it to url.
func OpenTab(ctx context.Context, mgr *Manager, id int, url string) (*Tab, error) {
	b := mgr.Browser()
	if b == nil {
		return nil, fmt.Errorf("browser: no active browser")
	}

	var page *rod.Page
	var err error
	if mgr.cfg.Stealth >= LevelHeadless {
		page, err = stealth.Page(b)
	} else {
		page, err = b.Page(proto.TargetCreateTarget{})
	}
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}

	t := &Tab{ID: id, URL: url, Page: page, mgr: mgr}
	if in := newInterceptor(mgr.cfg.ResourceBlocking); in.active() {
		if t.router, err = in.attach(page); err != nil {
			mgr.cfg.Logger.Warn("browser: resource blocking failed", "error", err)
		}
	}
	if err := t.Navigate(ctx, url); err != nil {
		t.Close()
		return nil, err
	}
	return t, nil
}

// Navigate loads url and waits for the load event. A load timeout is
// logged, not returned: slow pages are still recorded.
func (t *Tab) Navigate(ctx context.Context, url string) error {
	navCtx, cancel := context.WithTimeout(ctx, navigationTimeout)
	defer cancel()

	if err := t.Page.Context(navCtx).Navigate(url); err != nil {
		return fmt.Errorf("browser: navigate %s: %w", url, err)
	}
	if err := t.Page.Context(navCtx).WaitLoad(); err != nil {
		t.mgr.cfg.Logger.Warn("browser: wait load timeout", "url", url, "error", err)
	}
	t.URL = url
	return nil
}

// Close closes the tab.
func (t *Tab) Close() error {
	if t.router != nil {
		t.router.Stop()
	}
	if t.Page != nil {
		return t.Page.Close()
	}
	return nil
}
