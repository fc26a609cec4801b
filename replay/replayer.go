// Package replay rebuilds recorded documents paint by paint.
//
// A Replayer keeps an authoritative copy of every replayed frame as a
// dom.Document with its own id registry, and journals each DOM operation it
// performs as an Op. The journal is what a destination page executes (see
// Script) so that the browser view matches the Go-side document.
package replay

import (
	"log/slog"
	"maps"
	"math"
	"slices"

	"golang.org/x/net/html"

	"github.com/hazyhaar/domreplay/change"
	"github.com/hazyhaar/domreplay/internal/dom"
	"github.com/hazyhaar/domreplay/internal/tracker"
)

// MainFrame is the frame path of the top document.
const MainFrame = ""

type frame struct {
	doc   *dom.Document
	nodes *tracker.Registry[*html.Node]
}

func newFrame(url string) *frame {
	return &frame{doc: dom.New(url), nodes: tracker.New[*html.Node]()}
}

// Option configures a Replayer.
type Option func(*Replayer)

// WithLogger sets the logger used for skipped changes.
func WithLogger(l *slog.Logger) Option {
	return func(r *Replayer) { r.logger = l }
}

// WithoutJournal stops recording ops. Useful when only the Go-side
// document is needed.
func WithoutJournal() Option {
	return func(r *Replayer) { r.journal = false }
}

// Replayer applies paint events to a document loaded from url.
// It is not safe for concurrent use.
type Replayer struct {
	url     string
	frames  map[string]*frame
	paints  [][]change.FlatRecord
	loaded  int
	dirty   int // first paint changed since it was applied, math.MaxInt if none
	journal bool
	ops     []Op
	logger  *slog.Logger
}

// New returns a Replayer showing a blank document at url.
func New(url string, opts ...Option) *Replayer {
	r := &Replayer{journal: true, logger: slog.Default()}
	for _, o := range opts {
		o(r)
	}
	r.Navigate(url)
	return r
}

// Navigate discards everything and starts over with a blank document at url.
func (r *Replayer) Navigate(url string) {
	r.url = url
	r.frames = map[string]*frame{MainFrame: newFrame(url)}
	r.paints = nil
	r.loaded = -1
	r.dirty = math.MaxInt
	r.ops = nil
	r.emit(Op{Op: OpNavigate, URL: url})
}

// URL returns the document url the replayer was navigated to.
func (r *Replayer) URL() string { return r.url }

// LoadedIndex returns the last applied paint index, -1 when none.
func (r *Replayer) LoadedIndex() int { return r.loaded }

// PaintCount returns the number of known paints.
func (r *Replayer) PaintCount() int { return len(r.paints) }

// LoadPaintEvents merges ds into the known paints. A paint is replaced
// only when it was unknown or holds other changes; replacing an already
// applied paint makes the next SetPaintIndex rebuild from scratch.
func (r *Replayer) LoadPaintEvents(ds Dataset) {
	recs := ds.Records()
	if len(recs) > len(r.paints) {
		r.paints = append(r.paints, make([][]change.FlatRecord, len(recs)-len(r.paints))...)
	}
	for i, p := range recs {
		old := r.paints[i]
		if old != nil && samePaint(old, p) {
			continue
		}
		if len(old) == 0 && len(p) == 0 {
			continue
		}
		r.paints[i] = p
		r.dirty = min(r.dirty, i)
	}
}

// samePaint compares two paints change by change. A paint shifted to
// another index by a late insertion differs even when the counts match.
func samePaint(a, b []change.FlatRecord) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		x, y := a[i], b[i]
		if x.Timestamp != y.Timestamp || x.FrameIDPath != y.FrameIDPath || x.EventIndex != y.EventIndex ||
			x.Action != y.Action || x.NodeID != y.NodeID {
			return false
		}
	}
	return true
}

// SetPaintIndex brings the document to the state right after paint index.
// Moving backwards, or past a paint that changed, replays from the start.
// An index past the last paint stops at the last one.
func (r *Replayer) SetPaintIndex(index int) {
	stale := r.dirty <= r.loaded
	if index == r.loaded && !stale {
		return
	}
	if index < r.loaded || stale {
		r.rewind()
	}
	target := min(index, len(r.paints)-1)
	for i := r.loaded + 1; i <= target; i++ {
		r.Apply(r.paints[i])
	}
	r.loaded = max(target, -1)
	r.dirty = math.MaxInt
}

func (r *Replayer) rewind() {
	r.frames = map[string]*frame{MainFrame: newFrame(r.url)}
	r.loaded = -1
	r.emit(Op{Op: OpReset, URL: r.url})
}

// Apply applies changes outside of the paint sequence, in order.
// Each change is routed by its FrameIDPath.
func (r *Replayer) Apply(changes []change.FlatRecord) {
	for _, c := range changes {
		r.applyChange(c)
	}
}

// TakeOps returns and clears the journal.
func (r *Replayer) TakeOps() []Op {
	ops := r.ops
	r.ops = nil
	return ops
}

// Document returns the replayed document of a frame.
func (r *Replayer) Document(path string) (*dom.Document, bool) {
	f, ok := r.frames[path]
	if !ok {
		return nil, false
	}
	return f.doc, true
}

// Render serialises a frame's document, "" for an unknown frame.
func (r *Replayer) Render(path string) string {
	f, ok := r.frames[path]
	if !ok {
		return ""
	}
	return dom.Render(f.doc.Root())
}

// Resolve returns the node replayed under id in a frame.
func (r *Replayer) Resolve(path string, id int) (*html.Node, bool) {
	f, ok := r.frames[path]
	if !ok {
		return nil, false
	}
	return f.nodes.Node(id)
}

// Frames returns the paths of the frames replayed so far.
func (r *Replayer) Frames() []string {
	return slices.Sorted(maps.Keys(r.frames))
}

func (r *Replayer) frame(path string) *frame {
	f, ok := r.frames[path]
	if !ok {
		f = newFrame("about:blank")
		r.frames[path] = f
	}
	return f
}

func (r *Replayer) emit(op Op) {
	if r.journal {
		r.ops = append(r.ops, op)
	}
}
