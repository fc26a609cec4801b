package browser

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/domreplay/change"
	"github.com/hazyhaar/domreplay/internal/dom"
	"github.com/hazyhaar/domreplay/recorder"
)

const captureBinding = "__domreplayCapture"

//go:embed capture.js
var captureJS string

// Recording mirrors the main frame of a live page into a recorder. CDP DOM
// events drive the shadow document; the capture script reports pointer,
// focus, scroll and input activity through a runtime binding.
type Recording struct {
	page   *rod.Page
	rec    *recorder.Recorder
	sync   *domSync
	logger *slog.Logger

	mainFrame proto.PageFrameID
	cancel    context.CancelFunc
	done      chan struct{}
	unscript  func() error
}

// Record starts recording page. The recorder runs until Close or until ctx
// is cancelled.
func Record(ctx context.Context, page *rod.Page, up recorder.Uploader, cfg recorder.Config) (*Recording, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	logger := cfg.Logger

	if err := (proto.DOMEnable{}).Call(page); err != nil {
		return nil, fmt.Errorf("browser: DOM.enable: %w", err)
	}
	if err := (proto.PageEnable{}).Call(page); err != nil {
		return nil, fmt.Errorf("browser: Page.enable: %w", err)
	}
	if err := (proto.RuntimeAddBinding{Name: captureBinding}).Call(page); err != nil {
		logger.Warn("browser: addBinding failed (may already exist)", "error", err)
	}
	unscript, err := page.EvalOnNewDocument(captureJS)
	if err != nil {
		return nil, fmt.Errorf("browser: install capture script: %w", err)
	}
	if _, err := (proto.RuntimeEvaluate{Expression: captureJS}).Call(page); err != nil {
		logger.Warn("browser: capture script on current document", "error", err)
	}

	tree, err := proto.PageGetFrameTree{}.Call(page)
	if err != nil {
		return nil, fmt.Errorf("browser: frame tree: %w", err)
	}
	root, err := getDocument(page)
	if err != nil {
		return nil, err
	}

	doc := dom.New(root.DocumentURL)
	s := newDOMSync(doc, logger)
	s.load(root.DocumentURL, root)
	if state, err := evalString(page, "document.readyState"); err == nil {
		doc.SetReadyState(state)
	}
	rec := recorder.New(doc, up, cfg)
	s.rec = rec

	rctx, cancel := context.WithCancel(ctx)
	r := &Recording{
		page:      page,
		rec:       rec,
		sync:      s,
		logger:    logger,
		mainFrame: tree.FrameTree.Frame.ID,
		cancel:    cancel,
		done:      make(chan struct{}),
		unscript:  unscript,
	}
	go r.listen(rctx)
	go func() {
		defer close(r.done)
		if err := rec.Run(rctx); err != nil {
			logger.Warn("browser: recorder stopped", "error", err)
		}
	}()
	logger.Info("browser: recording", "url", root.DocumentURL, "tab", cfg.TabID)
	return r, nil
}

func getDocument(page *rod.Page) (*proto.DOMNode, error) {
	// Depth -1 with pierce: CDP only reports mutations of nodes it has sent.
	depth := -1
	res, err := proto.DOMGetDocument{Depth: &depth, Pierce: true}.Call(page)
	if err != nil {
		return nil, fmt.Errorf("browser: DOM.getDocument: %w", err)
	}
	return res.Root, nil
}

func evalString(page *rod.Page, expr string) (string, error) {
	res, err := proto.RuntimeEvaluate{Expression: expr, ReturnByValue: true}.Call(page)
	if err != nil {
		return "", err
	}
	if res.ExceptionDetails != nil {
		return "", errors.New(res.ExceptionDetails.Text)
	}
	return res.Result.Value.Str(), nil
}

// listen forwards page events to the recorder goroutine.
func (r *Recording) listen(ctx context.Context) {
	do := func(fn func(s *domSync)) {
		r.rec.Do(func(*dom.Document) { fn(r.sync) })
	}
	wait := r.page.Context(ctx).EachEvent(
		func(e *proto.DOMDocumentUpdated) {
			root, err := getDocument(r.page)
			if err != nil {
				r.logger.Warn("browser: refetch document", "error", err)
				return
			}
			do(func(s *domSync) { s.load(root.DocumentURL, root) })
		},
		func(e *proto.DOMSetChildNodes) {
			do(func(s *domSync) { s.setChildNodes(e) })
		},
		func(e *proto.DOMChildNodeInserted) {
			do(func(s *domSync) { s.childInserted(e) })
			r.requestChildren(missingChildren(e.Node))
		},
		func(e *proto.DOMChildNodeRemoved) {
			do(func(s *domSync) { s.childRemoved(e) })
		},
		func(e *proto.DOMAttributeModified) {
			do(func(s *domSync) { s.attributeModified(e) })
		},
		func(e *proto.DOMAttributeRemoved) {
			do(func(s *domSync) { s.attributeRemoved(e) })
		},
		func(e *proto.DOMCharacterDataModified) {
			do(func(s *domSync) { s.characterData(e) })
		},
		func(e *proto.DOMShadowRootPushed) {
			do(func(s *domSync) { s.shadowPushed(e) })
			r.requestChildren(missingChildren(e.Root))
		},
		func(e *proto.DOMShadowRootPopped) {
			do(func(s *domSync) { s.shadowPopped(e) })
		},
		func(e *proto.PageNavigatedWithinDocument) {
			if e.FrameID != r.mainFrame {
				return
			}
			do(func(s *domSync) { s.doc.SetLocation(e.URL) })
		},
		func(e *proto.PageFrameNavigated) {
			if e.Frame != nil && e.Frame.ParentID == "" {
				r.mainFrame = e.Frame.ID
			}
		},
		func(e *proto.PageDomContentEventFired) {
			do(func(s *domSync) { s.ready(dom.StateInteractive, change.LoadDOMContentLoaded) })
		},
		func(e *proto.PageLoadEventFired) {
			do(func(s *domSync) { s.ready(dom.StateComplete, change.LoadComplete) })
		},
		func(e *proto.RuntimeBindingCalled) {
			if e.Name != captureBinding {
				return
			}
			do(func(s *domSync) { s.capture(e.Payload) })
		},
	)
	wait()
}

// requestChildren asks CDP for subtrees it left out of an insertion; they
// arrive as DOM.setChildNodes.
func (r *Recording) requestChildren(ids []proto.DOMNodeID) {
	depth := -1
	for _, id := range ids {
		if err := (proto.DOMRequestChildNodes{NodeID: id, Depth: &depth, Pierce: true}).Call(r.page); err != nil {
			r.logger.Debug("browser: requestChildNodes", "node", id, "error", err)
		}
	}
}

// Flush uploads what the recorder buffers and waits for delivery.
func (r *Recording) Flush(ctx context.Context) error {
	errc := make(chan error, 1)
	r.rec.Do(func(*dom.Document) { errc <- r.rec.Flush(ctx) })
	select {
	case err := <-errc:
		return err
	case <-r.done:
		return recorder.ErrDisconnected
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetCommandID tags the following changes with id.
func (r *Recording) SetCommandID(id int) {
	r.rec.Do(func(*dom.Document) { r.rec.SetCommandID(id) })
}

// Close stops recording after a final upload.
func (r *Recording) Close() error {
	r.cancel()
	<-r.done
	if r.unscript != nil {
		return r.unscript()
	}
	return nil
}
