// Package ingest receives recorder uploads, persists them in the change
// store and publishes the new rows to live followers.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hazyhaar/domreplay/change"
	"github.com/hazyhaar/domreplay/changestore"
	"github.com/hazyhaar/domreplay/internal/pagestream"
)

// ErrInvalid marks an upload that can never be accepted.
var ErrInvalid = errors.New("ingest: invalid upload")

// recentUploads bounds the replay-detection window.
const recentUploads = 4096

// Pipeline is the receiving end of recorder uploads. It satisfies
// recorder.Uploader, so an in-process recorder can upload straight into it.
type Pipeline struct {
	store  *changestore.Store
	broker *pagestream.Broker
	logger *slog.Logger

	mu     sync.Mutex
	seen   map[uploadKey]struct{}
	order  []uploadKey
	counts Stats
}

// Stats counts what the pipeline accepted.
type Stats struct {
	Uploads    int `json:"uploads"`
	Duplicates int `json:"duplicates"`
	Changes    int `json:"changes"`
	PageEvents int `json:"pageEvents"`
}

// uploadKey identifies a resent upload: same origin, same first record,
// same size.
type uploadKey struct {
	change.Key
	commandID int
	n         int
}

// New creates a Pipeline. broker may be nil when nothing follows live.
func New(store *changestore.Store, broker *pagestream.Broker, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		store:  store,
		broker: broker,
		logger: logger,
		seen:   make(map[uploadKey]struct{}),
	}
}

// Upload stores one envelope. Uploads are idempotent: an envelope received
// twice is stored once.
func (p *Pipeline) Upload(ctx context.Context, up change.Upload) error {
	if err := validate(up); err != nil {
		return err
	}
	if up.Records.Len() == 0 {
		return nil
	}
	key, hasKey := keyOf(up)
	if hasKey && !p.remember(key) {
		p.mu.Lock()
		p.counts.Duplicates++
		p.mu.Unlock()
		p.logger.Debug("ingest: duplicate upload", "tab", up.TabID, "frame", up.FrameID, "command", up.CommandID)
		return nil
	}

	if err := p.store.EnsureFrame(ctx, up.TabID, up.FrameID); err != nil {
		p.forget(key, hasKey)
		return err
	}
	if err := p.store.InsertPageEvents(ctx, up.TabID, up.FrameID, up.CommandID, up.Records); err != nil {
		p.forget(key, hasKey)
		return err
	}

	rows := make([]change.FlatRecord, 0, len(up.Records.DomChanges))
	for _, c := range up.Records.DomChanges {
		rows = append(rows, p.store.Insert(up.TabID, up.FrameID, up.DocumentNavigationID, up.CommandID, c))
	}
	if p.broker != nil {
		p.broker.Publish(up.TabID, rows)
	}

	events := up.Records.Len() - len(rows)
	p.mu.Lock()
	p.counts.Uploads++
	p.counts.Changes += len(rows)
	p.counts.PageEvents += events
	p.mu.Unlock()
	p.logger.Debug("ingest: upload", "tab", up.TabID, "frame", up.FrameID,
		"navigation", up.DocumentNavigationID, "command", up.CommandID,
		"changes", len(rows), "events", events)
	return nil
}

// RegisterFrame records a frame's place in its tab ahead of its uploads.
func (p *Pipeline) RegisterFrame(ctx context.Context, tabID, frameID int, isMain bool, domNodePath string) error {
	return p.store.UpsertFrame(ctx, tabID, frameID, isMain, domNodePath)
}

// CloseTab ends the live streams of tabID.
func (p *Pipeline) CloseTab(tabID int) {
	if p.broker != nil {
		p.broker.CloseTab(tabID)
	}
}

// Stats returns the running counters.
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counts
}

func validate(up change.Upload) error {
	if up.TabID < 0 || up.FrameID < 0 {
		return fmt.Errorf("%w: negative tab or frame id", ErrInvalid)
	}
	for i, c := range up.Records.DomChanges {
		if !c.Action.Valid() {
			return fmt.Errorf("%w: change %d: unknown action %d", ErrInvalid, i, c.Action)
		}
		if c.Timestamp <= 0 {
			return fmt.Errorf("%w: change %d: missing timestamp", ErrInvalid, i)
		}
	}
	return nil
}

func keyOf(up change.Upload) (uploadKey, bool) {
	if len(up.Records.DomChanges) == 0 {
		return uploadKey{}, false
	}
	first := change.Flatten(up.TabID, up.FrameID, up.DocumentNavigationID, up.CommandID, up.Records.DomChanges[0])
	return uploadKey{Key: first.Key(), commandID: up.CommandID, n: up.Records.Len()}, true
}

// remember records key and reports whether it was new.
func (p *Pipeline) remember(key uploadKey) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, dup := p.seen[key]; dup {
		return false
	}
	p.seen[key] = struct{}{}
	p.order = append(p.order, key)
	if len(p.order) > recentUploads {
		delete(p.seen, p.order[0])
		p.order = p.order[1:]
	}
	return true
}

func (p *Pipeline) forget(key uploadKey, ok bool) {
	if !ok {
		return
	}
	p.mu.Lock()
	delete(p.seen, key)
	p.mu.Unlock()
}
