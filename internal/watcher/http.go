package watcher

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/domreplay/kit"
)

// RegisterHTTP mounts the recording control routes on r.
func (w *Watcher) RegisterHTTP(r chi.Router) {
	r.Route("/recordings", func(r chi.Router) {
		r.Get("/", w.handleList)
		r.Post("/", w.handleStart)
		r.Delete("/{tab}", w.handleStop)
		r.Get("/{tab}/screenshot", w.handleScreenshot)
	})
}

type startReq struct {
	TabID int    `json:"tabId"`
	URL   string `json:"url"`
}

func (r *startReq) validate() error {
	u, err := url.Parse(r.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New("url: want an absolute http(s) url")
	}
	return nil
}

func (w *Watcher) handleList(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, w.Tabs())
}

func (w *Watcher) handleStart(rw http.ResponseWriter, r *http.Request) {
	var req startReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(rw, http.StatusBadRequest, err)
		return
	}
	if err := req.validate(); err != nil {
		writeError(rw, http.StatusBadRequest, err)
		return
	}
	id, err := w.Record(r.Context(), req.TabID, req.URL)
	if err != nil {
		w.fail(rw, err)
		return
	}
	writeJSON(rw, http.StatusCreated, TabInfo{TabID: id, URL: req.URL})
}

func (w *Watcher) handleStop(rw http.ResponseWriter, r *http.Request) {
	tab, err := strconv.Atoi(chi.URLParam(r, "tab"))
	if err != nil {
		writeError(rw, http.StatusBadRequest, errors.New("tab: not an integer"))
		return
	}
	if err := w.Stop(tab); err != nil {
		w.fail(rw, err)
		return
	}
	rw.WriteHeader(http.StatusNoContent)
}

func (w *Watcher) handleScreenshot(rw http.ResponseWriter, r *http.Request) {
	tab, err := strconv.Atoi(chi.URLParam(r, "tab"))
	if err != nil {
		writeError(rw, http.StatusBadRequest, errors.New("tab: not an integer"))
		return
	}
	var paint *int
	if v := r.URL.Query().Get("paint"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(rw, http.StatusBadRequest, errors.New("paint: not an integer"))
			return
		}
		paint = &n
	}
	png, err := w.Screenshot(r.Context(), tab, paint)
	if err != nil {
		w.fail(rw, err)
		return
	}
	rw.Header().Set("Content-Type", "image/png")
	rw.Write(png)
}

func (w *Watcher) fail(rw http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrUnknownTab):
		writeError(rw, http.StatusNotFound, err)
	case errors.Is(err, ErrTabInUse):
		writeError(rw, http.StatusConflict, err)
	default:
		w.logger.Error("watcher: request failed", "error", err)
		writeError(rw, http.StatusBadGateway, err)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

// RegisterMCP registers the recording control tools.
func (w *Watcher) RegisterMCP(srv *mcp.Server) {
	record := &mcp.Tool{
		Name:        "domreplay_record",
		Description: "Open a URL in the managed browser and record its DOM. Returns the tab id.",
		InputSchema: kit.InputSchema(map[string]any{
			"url":   map[string]any{"type": "string", "description": "Absolute http(s) URL"},
			"tabId": map[string]any{"type": "integer", "description": "Tab id to record into; picked when omitted"},
		}, "url"),
	}
	kit.RegisterMCPTool(srv, record, kit.Logging(w.logger, record.Name)(func(ctx context.Context, req any) (any, error) {
		r := req.(*startReq)
		if err := r.validate(); err != nil {
			return nil, err
		}
		id, err := w.Record(ctx, r.TabID, r.URL)
		if err != nil {
			return nil, err
		}
		return TabInfo{TabID: id, URL: r.URL}, nil
	}), kit.DecodeArgs[startReq]())

	type stopReq struct {
		TabID int `json:"tabId"`
	}
	stop := &mcp.Tool{
		Name:        "domreplay_stop",
		Description: "Stop recording a tab. Its recording stays queryable.",
		InputSchema: kit.InputSchema(map[string]any{"tabId": map[string]any{"type": "integer"}}, "tabId"),
	}
	kit.RegisterMCPTool(srv, stop, kit.Logging(w.logger, stop.Name)(func(ctx context.Context, req any) (any, error) {
		if err := w.Stop(req.(*stopReq).TabID); err != nil {
			return nil, err
		}
		return "stopped", nil
	}), kit.DecodeArgs[stopReq]())
}
