package mirror

import (
	"context"
	"encoding/json"

	"github.com/hazyhaar/domreplay/change"
)

// Page is the destination browser page a mirror drives.
type Page interface {
	// Navigate starts a navigation and returns its loader id.
	Navigate(ctx context.Context, url string) (string, error)
	WaitForDOMContentLoaded(ctx context.Context, loaderID string) error
	// URL is the current main-frame url.
	URL() string
	Evaluate(ctx context.Context, expr string) (json.RawMessage, error)
	AddScriptToEvaluateOnNewDocument(ctx context.Context, src string) error
	// Reset returns a borrowed page to a neutral state.
	Reset(ctx context.Context) error
	Close() error
	// Events delivers lifecycle events. It may return nil.
	Events() <-chan PageEvent
}

// DocumentServer is implemented by pages able to answer navigations to
// recorded urls with a blank document carrying the recorded doctype.
type DocumentServer interface {
	ServeDocument(url, doctype string)
}

// ViewportSetter is implemented by pages that can emulate a viewport.
type ViewportSetter interface {
	SetViewport(ctx context.Context, width, height int, scale float64) error
}

// Screenshotter is implemented by pages that can capture their viewport.
type Screenshotter interface {
	Screenshot(ctx context.Context) ([]byte, error)
}

// Context opens pages, like a browser context.
type Context interface {
	NewPage(ctx context.Context) (Page, error)
}

// PageEvent kinds.
const (
	PageClosed  = "close"
	PageConsole = "console"
	PageCrashed = "crashed"
)

// PageEvent is a lifecycle event of a Page.
type PageEvent struct {
	Type    string
	Message string
}

// LiveSource streams the flat change records of a tab being recorded.
type LiveSource interface {
	// Changes delivers batches of new records. It is closed when the tab
	// closes.
	Changes() <-chan []change.FlatRecord
	// FlushDomChanges asks the recorder side to push whatever it buffers.
	FlushDomChanges(ctx context.Context) error
	// Frames returns the main frame ids and the dom node paths of child
	// frames.
	Frames(ctx context.Context) (change.FrameSet, map[int]string, error)
}

// Event kinds emitted by a MirrorPage.
const (
	EventOpen  = "open"
	EventGoto  = "goto"
	EventPaint = "paint"
	EventClose = "close"
)

// Event is emitted for host orchestration.
type Event struct {
	Type       string `json:"type"`
	URL        string `json:"url,omitempty"`
	LoaderID   string `json:"loaderId,omitempty"`
	PaintIndex int    `json:"paintIndex,omitempty"`
}
