package recorder

import (
	"context"
	"time"

	"github.com/hazyhaar/domreplay/change"
	"github.com/hazyhaar/domreplay/internal/dom"
)

// scheduleFlush arms the debounce window once the document is complete.
// Before that, buffered records wait for the forced flush.
func (r *Recorder) scheduleFlush(changed bool) {
	n := r.buf.Len()
	if !changed || n == 0 {
		return
	}
	if r.doc.ReadyState() != dom.StateComplete {
		if n >= r.debounce.cfg.MaxBuffer {
			r.enqueue()
		}
		return
	}
	if r.debounce.touch(n) {
		r.enqueue()
	}
}

// flushDue reports whether nothing has been uploaded for ForceFlushAfter
// while records are waiting.
func (r *Recorder) flushDue() bool {
	return r.buf.Len() > 0 && r.cfg.Now().Sub(r.lastFlush) > r.cfg.ForceFlushAfter
}

// enqueue polls properties and stylesheets, then moves the five buffers into
// an upload envelope at the tail of the outbox and wakes the uploader.
func (r *Recorder) enqueue() {
	r.CheckProperties()
	r.CheckStylesheets()
	r.debounce.stop()
	r.lastFlush = r.cfg.Now()
	if r.buf.Len() == 0 {
		return
	}
	up := change.Upload{
		TabID:                r.cfg.TabID,
		FrameID:              r.cfg.FrameID,
		DocumentNavigationID: r.navigationID,
		CommandID:            r.commandID,
		Records:              r.buf,
	}
	r.buf = change.UploadBatch{}

	r.outboxMu.Lock()
	r.outbox = append(r.outbox, up)
	r.outboxMu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// drain uploads the outbox in order. A failed upload stays at the head and
// stops the drain; it is retried on the next one.
func (r *Recorder) drain(ctx context.Context) error {
	r.drainMu.Lock()
	defer r.drainMu.Unlock()
	for {
		r.outboxMu.Lock()
		if len(r.outbox) == 0 {
			r.outboxMu.Unlock()
			return nil
		}
		head := r.outbox[0]
		r.outboxMu.Unlock()

		if err := r.up.Upload(ctx, head); err != nil {
			r.logger.Error("recorder: upload failed", "error", err,
				"tab", head.TabID, "frame", head.FrameID, "records", head.Records.Len())
			return err
		}
		r.logger.Debug("recorder: uploaded", "tab", head.TabID, "frame", head.FrameID,
			"navigation", head.DocumentNavigationID, "command", head.CommandID,
			"changes", len(head.Records.DomChanges), "records", head.Records.Len())

		r.outboxMu.Lock()
		r.outbox = r.outbox[1:]
		r.outboxMu.Unlock()
	}
}

// uploadLoop drains the outbox whenever an upload is enqueued. After a
// failure the drain is retried every ForceFlushAfter until it succeeds.
func (r *Recorder) uploadLoop(ctx context.Context) {
	var retry <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case <-r.wake:
		case <-retry:
		}
		retry = nil
		if err := r.drain(ctx); err != nil {
			retry = time.After(r.cfg.ForceFlushAfter)
		}
	}
}

// Flush uploads everything buffered and waits for the outbox to drain. Like
// every other method touching the document, it must run on the recorder
// goroutine (inside Do when Run is active).
func (r *Recorder) Flush(ctx context.Context) error {
	if r.state == Disconnected {
		return ErrDisconnected
	}
	r.ProcessMutations()
	r.enqueue()
	return r.drain(ctx)
}

// Outbox returns the number of uploads waiting for delivery.
func (r *Recorder) Outbox() int {
	r.outboxMu.Lock()
	defer r.outboxMu.Unlock()
	return len(r.outbox)
}
