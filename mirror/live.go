package mirror

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/hazyhaar/domreplay/change"
	"github.com/hazyhaar/domreplay/changestore"
)

// Subscribe follows a live tab: its records are queued and merged into the
// recording before every load. When the tab closes and cleanupOnClose is
// set, the recording and the loaded state are dropped; otherwise the frame
// maps are kept as they were.
func (m *MirrorPage) Subscribe(ctx context.Context, src LiveSource, cleanupOnClose bool) error {
	m.mu.Lock()
	if m.source != nil {
		m.mu.Unlock()
		return ErrAlreadySubscribed
	}
	m.source = src
	m.mu.Unlock()

	mainIDs, paths, err := src.Frames(ctx)
	if err != nil {
		m.mu.Lock()
		m.source = nil
		m.mu.Unlock()
		return fmt.Errorf("mirror: frames: %w", err)
	}

	sctx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	m.recording.MainFrameIDs = change.NewFrameSet(mainIDs.IDs()...)
	m.recording.DomNodePathByFrameID = maps.Clone(paths)
	m.cancelSource = cancel
	m.mu.Unlock()

	go m.follow(sctx, src, cleanupOnClose)
	return nil
}

func (m *MirrorPage) follow(ctx context.Context, src LiveSource, cleanupOnClose bool) {
	changes := src.Changes()
	for {
		select {
		case <-ctx.Done():
			return
		case recs, ok := <-changes:
			if !ok {
				m.sourceClosed(src, cleanupOnClose)
				return
			}
			m.mu.Lock()
			m.pending = append(m.pending, recs...)
			m.mu.Unlock()
		}
	}
}

func (m *MirrorPage) sourceClosed(src LiveSource, cleanup bool) {
	var mainIDs change.FrameSet
	var paths map[int]string
	if !cleanup {
		var err error
		mainIDs, paths, err = src.Frames(context.Background())
		if err != nil {
			m.logger.Warn("mirror: frames after tab close", "error", err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.source != src {
		return
	}
	m.source = nil
	m.cancelSource = nil
	if cleanup {
		m.setRecording(nil)
		m.pending = nil
		m.loadedDoc = nil
		m.loadedIndex = -1
		return
	}
	if mainIDs != nil {
		m.recording.MainFrameIDs = change.NewFrameSet(mainIDs.IDs()...)
		m.recording.DomNodePathByFrameID = maps.Clone(paths)
	}
}

// Unsubscribe stops following the live tab. Queued records are kept and
// merged on the next load.
func (m *MirrorPage) Unsubscribe() {
	m.mu.Lock()
	cancel := m.cancelSource
	m.source = nil
	m.cancelSource = nil
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Subscribed reports whether a live tab is followed.
func (m *MirrorPage) Subscribed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.source != nil
}

// processPending merges queued live records into the recording. Paints
// with a known timestamp are extended, others inserted in timestamp order.
// Changes inside the loaded document's window mark it dirty. Callers hold
// mu.
func (m *MirrorPage) processPending() {
	if len(m.pending) == 0 {
		return
	}
	recs := m.pending
	m.pending = nil
	rec := m.recording
	incoming := changestore.ToDomRecording(recs, rec.MainFrameIDs, rec.DomNodePathByFrameID, false)

	var next *change.DocumentRecord
	if m.loadedDoc != nil {
		for i := range rec.Documents {
			d := &rec.Documents[i]
			if d.IsMainframe && d.PaintStartTimestamp > m.loadedDoc.PaintStartTimestamp {
				next = d
				break
			}
		}
	}

	resort := false
	var last int64
	if n := len(rec.PaintEvents); n > 0 {
		last = rec.PaintEvents[n-1].Timestamp
	}
	for _, p := range incoming.PaintEvents {
		if m.loadedDoc != nil && p.Timestamp > m.loadedDoc.PaintStartTimestamp &&
			(next == nil || p.Timestamp < next.PaintStartTimestamp) {
			m.loadedDirty = true
		}
		existing, ok := m.paintByTS[p.Timestamp]
		if !ok {
			if len(rec.PaintEvents) > 0 && p.Timestamp < last {
				resort = true
			}
			rec.PaintEvents = append(rec.PaintEvents, p)
			m.paintByTS[p.Timestamp] = p
			continue
		}
		seen := make(map[change.Key]bool, len(existing.ChangeEvents))
		for _, c := range existing.ChangeEvents {
			seen[c.Key()] = true
		}
		for _, c := range p.ChangeEvents {
			if !seen[c.Key()] {
				existing.ChangeEvents = append(existing.ChangeEvents, c)
			}
		}
		slices.SortStableFunc(existing.ChangeEvents, func(a, b change.FlatRecord) int {
			if a.FrameID != b.FrameID {
				return cmp.Compare(a.FrameID, b.FrameID)
			}
			return cmp.Compare(a.EventIndex, b.EventIndex)
		})
	}
	if resort {
		slices.SortStableFunc(rec.PaintEvents, func(a, b *change.PaintEvent) int {
			return cmp.Compare(a.Timestamp, b.Timestamp)
		})
	}

	rec.Documents = append(rec.Documents, incoming.Documents...)
	slices.SortStableFunc(rec.Documents, func(a, b change.DocumentRecord) int {
		return cmp.Compare(a.PaintStartTimestamp, b.PaintStartTimestamp)
	})
	index := make(map[int64]int, len(rec.PaintEvents))
	for i, p := range rec.PaintEvents {
		index[p.Timestamp] = i
	}
	for i := range rec.Documents {
		if idx, ok := index[rec.Documents[i].PaintStartTimestamp]; ok {
			rec.Documents[i].PaintEventIndex = idx
		}
	}
	if len(incoming.Documents) > 0 && m.page != nil {
		m.serveDocuments(incoming.Documents)
	}
}
