// Package recorder turns the mutations of a live document into an ordered
// change log and uploads it in batches.
//
// A Recorder owns its document: every read and write of the dom.Document
// happens on the goroutine running Run (or on the test goroutine when Run is
// not used). Other goroutines hand work over with Do.
package recorder

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/time/rate"

	"github.com/hazyhaar/domreplay/change"
	"github.com/hazyhaar/domreplay/internal/dom"
	"github.com/hazyhaar/domreplay/internal/tracker"
)

// ErrDisconnected is returned by operations on a disconnected recorder.
var ErrDisconnected = errors.New("recorder: disconnected")

// State is the lifecycle position of a Recorder.
type State int

const (
	Idle         State = iota
	Started            // observer attached, snapshot pushed
	Recording          // at least one mutation batch processed
	Disconnected       // final flush done, observer detached
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Started:
		return "started"
	case Recording:
		return "recording"
	case Disconnected:
		return "disconnected"
	}
	return "unknown"
}

// Uploader delivers one upload envelope. Implementations may fail; the
// recorder keeps the envelope and retries it on the next flush.
type Uploader interface {
	Upload(ctx context.Context, up change.Upload) error
}

// Config for creating a Recorder.
type Config struct {
	TabID   int
	FrameID int
	// DocumentNavigationID of the document being recorded. It is incremented
	// on every navigation the recorder observes.
	DocumentNavigationID int

	// FlushDebounce is the quiet period after which a complete document's
	// changes are uploaded. Default: 100ms.
	FlushDebounce time.Duration
	// MaxBuffer uploads immediately once this many records are buffered. Default: 1000.
	MaxBuffer int
	// ForceFlushAfter uploads whatever is buffered when nothing has been
	// uploaded for this long. Default: 1s.
	ForceFlushAfter time.Duration
	// CheckInterval paces forced-flush checks and stylesheet re-reads. Default: 500ms.
	CheckInterval time.Duration
	// InputPollRate bounds property polls triggered by input events. Default: 20/s.
	InputPollRate rate.Limit

	Now    func() time.Time
	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.ForceFlushAfter <= 0 {
		c.ForceFlushAfter = time.Second
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = 500 * time.Millisecond
	}
	if c.InputPollRate <= 0 {
		c.InputPollRate = 20
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Recorder observes one document.
type Recorder struct {
	cfg    Config
	doc    *dom.Document
	up     Uploader
	logger *slog.Logger

	state        State
	nodes        *tracker.Registry[*html.Node]
	doNotTrack   map[*html.Node]struct{}
	props        map[*html.Node]map[string]any
	sheets       map[*html.Node][]string
	generation   int
	lastLocation string
	lastScrollX  int
	lastScrollY  int
	scrollSeen   bool
	eventIndex   int
	commandID    int
	navigationID int

	// per-batch bookkeeping, see batch
	batch *batch

	buf       change.UploadBatch
	lastFlush time.Time
	debounce  *debouncer
	inputRate *rate.Limiter

	outboxMu sync.Mutex
	outbox   []change.Upload
	drainMu  sync.Mutex
	wake     chan struct{}

	tasks chan func(*dom.Document)
	done  chan struct{}
}

// New creates a Recorder for doc. It does nothing until Start.
func New(doc *dom.Document, up Uploader, cfg Config) *Recorder {
	cfg.defaults()
	return &Recorder{
		cfg:          cfg,
		doc:          doc,
		up:           up,
		logger:       cfg.Logger,
		nodes:        tracker.New[*html.Node](),
		doNotTrack:   make(map[*html.Node]struct{}),
		props:        make(map[*html.Node]map[string]any),
		sheets:       make(map[*html.Node][]string),
		navigationID: cfg.DocumentNavigationID,
		debounce:     newDebouncer(debounceConfig{Window: cfg.FlushDebounce, MaxBuffer: cfg.MaxBuffer}),
		inputRate:    rate.NewLimiter(cfg.InputPollRate, 1),
		wake:         make(chan struct{}, 1),
		tasks:        make(chan func(*dom.Document), 1024),
		done:         make(chan struct{}),
	}
}

// State returns the lifecycle state.
func (r *Recorder) State() State { return r.state }

// Document returns the observed document.
func (r *Recorder) Document() *dom.Document { return r.doc }

// NodeID returns the recorded id of n, or 0.
func (r *Recorder) NodeID(n *html.Node) int {
	id, _ := r.nodes.ID(n)
	return id
}

// Start attaches the observer and pushes a snapshot of the current document.
// It is the first-paint transition out of Idle.
func (r *Recorder) Start(ctx context.Context) error {
	if r.state != Idle {
		return nil
	}
	r.doc.Observe()
	r.generation = r.doc.Generation()
	r.lastLocation = r.doc.Location()
	r.lastFlush = r.cfg.Now()
	r.state = Started

	if r.lastLocation == "about:blank" {
		return nil
	}
	r.inBatch(r.pushSnapshot)
	r.TrackScroll()
	r.logger.Debug("recorder: started", "url", r.lastLocation, "nodes", r.nodes.Len())
	return nil
}

// Do schedules fn on the recorder goroutine. It is the only safe way to
// touch the document from another goroutine while Run is active.
func (r *Recorder) Do(fn func(doc *dom.Document)) {
	select {
	case r.tasks <- fn:
	case <-r.done:
	}
}

// Run processes tasks, mutations and flush timers until ctx is cancelled,
// then disconnects.
func (r *Recorder) Run(ctx context.Context) error {
	if err := r.Start(ctx); err != nil {
		return err
	}
	go r.uploadLoop(ctx)

	ticker := time.NewTicker(r.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			return r.Disconnect(dctx)

		case fn := <-r.tasks:
			fn(r.doc)
			r.ProcessMutations()

		case <-r.doc.Changes():
			r.ProcessMutations()

		case <-r.debounce.timerC():
			r.debounce.stop()
			r.enqueue()

		case <-ticker.C:
			r.CheckStylesheets()
			if r.flushDue() {
				r.enqueue()
			}
		}
	}
}

// Disconnect processes pending mutations, detaches the observer and uploads
// everything still buffered.
func (r *Recorder) Disconnect(ctx context.Context) error {
	if r.state == Disconnected {
		return nil
	}
	r.ProcessMutations()
	r.enqueue()
	r.doc.Disconnect()
	r.debounce.stop()
	r.state = Disconnected
	close(r.done)
	if err := r.drain(ctx); err != nil {
		r.logger.Warn("recorder: final upload failed", "error", err, "pending", r.Outbox())
		return err
	}
	r.logger.Debug("recorder: disconnected", "url", r.lastLocation)
	return nil
}

// SetCommandID tags subsequent changes with a new command id. Changes
// buffered under the previous id are uploaded separately.
func (r *Recorder) SetCommandID(id int) {
	if id == r.commandID {
		return
	}
	r.ProcessMutations()
	r.enqueue()
	r.commandID = id
}

// DoNotTrack excludes n and its subtree from the recording.
func (r *Recorder) DoNotTrack(n *html.Node) {
	r.doNotTrack[n] = struct{}{}
}

func (r *Recorder) excluded(n *html.Node) bool {
	if len(r.doNotTrack) == 0 {
		return false
	}
	for ; n != nil; n = r.parentOf(n) {
		if _, ok := r.doNotTrack[n]; ok {
			return true
		}
	}
	return false
}

// parentOf returns the tree parent, or the host of a shadow root.
func (r *Recorder) parentOf(n *html.Node) *html.Node {
	if n.Parent != nil {
		return n.Parent
	}
	return r.doc.Host(n)
}

func (r *Recorder) now() int64 { return r.cfg.Now().UnixMilli() }

// handleNavigation starts a new id-space after the document was replaced.
func (r *Recorder) handleNavigation() {
	r.enqueue()
	r.nodes.Reset()
	r.props = make(map[*html.Node]map[string]any)
	r.sheets = make(map[*html.Node][]string)
	r.doNotTrack = make(map[*html.Node]struct{})
	r.eventIndex = 0
	r.navigationID++
	r.generation = r.doc.Generation()
	r.lastLocation = r.doc.Location()
	r.doc.TakeRecords()
	r.scrollSeen = false

	r.inBatch(r.pushSnapshot)
	r.logger.Debug("recorder: new document", "url", r.lastLocation, "navigation", r.navigationID)
}

// NewDocument replaces the observed document with root (a blank tree when
// nil) loaded from url, and starts recording it as a new navigation.
func (r *Recorder) NewDocument(url string, root *html.Node) {
	r.doc.Navigate(url, root)
	if r.state == Idle || r.state == Disconnected {
		return
	}
	r.handleNavigation()
	r.scheduleFlush(true)
}

// pushSnapshot records a newDocument marker followed by the whole tree.
func (r *Recorder) pushSnapshot() {
	r.push(change.NewDocument, change.NodeRecord{TextContent: r.doc.Location()})
	r.serializeNodeToRoot(r.doc.Root())
}
