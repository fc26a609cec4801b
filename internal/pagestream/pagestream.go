// Package pagestream fans the change records of tabs being recorded out to
// live followers: mirrors (through mirror.LiveSource) and websocket clients.
//
// Publishers never block on a slow follower. Each subscription queues what
// it has not delivered yet and a pump goroutine hands it over in order.
package pagestream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hazyhaar/domreplay/change"
	"github.com/hazyhaar/domreplay/idgen"
)

// ErrTabClosed is returned when subscribing to a tab that was closed.
var ErrTabClosed = errors.New("pagestream: tab closed")

// FrameLookup resolves the frame maps of a tab. changestore.Store
// implements it.
type FrameLookup interface {
	MainFrameIDs(ctx context.Context, tabID int) (change.FrameSet, error)
	DomNodePaths(ctx context.Context, tabID int) (map[int]string, error)
}

// FlushFunc asks the recording side of a tab to upload what it buffers.
type FlushFunc func(ctx context.Context) error

// Broker routes published records to the subscriptions of their tab.
type Broker struct {
	frames FrameLookup
	ids    idgen.Generator
	logger *slog.Logger

	mu      sync.Mutex
	tabs    map[int]*tab
	flushes map[int]FlushFunc
}

type tab struct {
	subs   map[string]*Subscription
	closed bool
}

// Option configures a Broker.
type Option func(*Broker)

// WithLogger sets the broker logger.
func WithLogger(l *slog.Logger) Option { return func(b *Broker) { b.logger = l } }

// WithIDs sets the subscription id generator.
func WithIDs(gen idgen.Generator) Option { return func(b *Broker) { b.ids = gen } }

// New creates a Broker answering frame queries from frames.
func New(frames FrameLookup, opts ...Option) *Broker {
	b := &Broker{
		frames:  frames,
		ids:     idgen.Prefixed("sub_", idgen.UUIDv7()),
		logger:  slog.Default(),
		tabs:    make(map[int]*tab),
		flushes: make(map[int]FlushFunc),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

func (b *Broker) tab(id int) *tab {
	t, ok := b.tabs[id]
	if !ok {
		t = &tab{subs: make(map[string]*Subscription)}
		b.tabs[id] = t
	}
	return t
}

// Publish queues records for every subscription of tabID.
func (b *Broker) Publish(tabID int, recs []change.FlatRecord) {
	if len(recs) == 0 {
		return
	}
	b.mu.Lock()
	t, ok := b.tabs[tabID]
	var subs []*Subscription
	if ok && !t.closed {
		for _, s := range t.subs {
			subs = append(subs, s)
		}
	}
	b.mu.Unlock()
	for _, s := range subs {
		s.push(recs)
	}
}

// OpenTab (re)opens tabID for subscriptions, for a tab that was closed and
// recorded again.
func (b *Broker) OpenTab(tabID int) {
	b.mu.Lock()
	b.tab(tabID).closed = false
	b.mu.Unlock()
}

// CloseTab ends every subscription of tabID. Their Changes channels close
// once the queued records are delivered.
func (b *Broker) CloseTab(tabID int) {
	b.mu.Lock()
	t := b.tab(tabID)
	t.closed = true
	subs := t.subs
	t.subs = make(map[string]*Subscription)
	delete(b.flushes, tabID)
	b.mu.Unlock()
	for _, s := range subs {
		s.end()
	}
	b.logger.Debug("pagestream: tab closed", "tab", tabID, "subscribers", len(subs))
}

// SetFlusher registers how to flush the recorder of tabID. A nil fn removes
// it.
func (b *Broker) SetFlusher(tabID int, fn FlushFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if fn == nil {
		delete(b.flushes, tabID)
		return
	}
	b.flushes[tabID] = fn
}

// Subscribers returns the number of live subscriptions of tabID.
func (b *Broker) Subscribers(tabID int) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok := b.tabs[tabID]; ok {
		return len(t.subs)
	}
	return 0
}

// Subscribe follows tabID.
func (b *Broker) Subscribe(tabID int) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := b.tab(tabID)
	if t.closed {
		return nil, fmt.Errorf("%w: %d", ErrTabClosed, tabID)
	}
	s := &Subscription{
		ID:     b.ids(),
		TabID:  tabID,
		broker: b,
		out:    make(chan []change.FlatRecord, 16),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	t.subs[s.ID] = s
	go s.pump()
	return s, nil
}

func (b *Broker) unsubscribe(s *Subscription) {
	b.mu.Lock()
	if t, ok := b.tabs[s.TabID]; ok {
		delete(t.subs, s.ID)
	}
	b.mu.Unlock()
}

func (b *Broker) flush(ctx context.Context, tabID int) error {
	b.mu.Lock()
	fn := b.flushes[tabID]
	b.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(ctx)
}
