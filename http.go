package domreplay

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/domreplay/change"
	"github.com/hazyhaar/domreplay/internal/ingest"
	"github.com/hazyhaar/domreplay/internal/pagestream"
)

// RegisterHTTP mounts the API on r.
func (s *Service) RegisterHTTP(r chi.Router) {
	r.Get("/healthz", s.handleHealth)
	if s.ingest != nil {
		r.Post("/uploads", s.handleUpload)
	}
	r.Route("/tabs/{tab}", func(r chi.Router) {
		r.Get("/recording", s.handleRecording)
		r.Get("/summary", s.handleSummary)
		r.Get("/documents/{doc}/dataset", s.handleDataset)
		r.Get("/snapshot", s.handleSnapshot)
		r.Get("/paint-index", s.handlePaintIndex)
		if s.broker != nil {
			r.Get("/live", s.handleLive)
		}
	})
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"status": "ok", "pending": s.store.Pending()}
	if s.ingest != nil {
		body["ingest"] = s.ingest.Stats()
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Service) handleUpload(w http.ResponseWriter, r *http.Request) {
	var up change.Upload
	if err := json.NewDecoder(r.Body).Decode(&up); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, err)
			return
		}
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.ingest.Upload(r.Context(), up); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleRecording(w http.ResponseWriter, r *http.Request) {
	tab, ok := pathInt(w, r, "tab")
	if !ok {
		return
	}
	latest := r.URL.Query().Get("latest") == "1" || r.URL.Query().Get("latest") == "true"
	rec, err := s.Recording(r.Context(), tab, latest)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Service) handleSummary(w http.ResponseWriter, r *http.Request) {
	tab, ok := pathInt(w, r, "tab")
	if !ok {
		return
	}
	sum, err := s.Summary(r.Context(), tab)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Service) handleDataset(w http.ResponseWriter, r *http.Request) {
	tab, ok := pathInt(w, r, "tab")
	if !ok {
		return
	}
	doc, ok := pathInt(w, r, "doc")
	if !ok {
		return
	}
	ds, err := s.Dataset(r.Context(), tab, doc)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ds)
}

// handleSnapshot answers ?paint=N&format=html|markdown. Without
// Accept: application/json the content is sent as a document.
func (s *Service) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	tab, ok := pathInt(w, r, "tab")
	if !ok {
		return
	}
	var paint *int
	if v := r.URL.Query().Get("paint"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, errors.New("paint: not an integer"))
			return
		}
		paint = &n
	}
	res, err := s.Snapshot(r.Context(), tab, paint, r.URL.Query().Get("format"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if r.Header.Get("Accept") == "application/json" {
		writeJSON(w, http.StatusOK, res)
		return
	}
	if res.Format == FormatMarkdown {
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	} else {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
	}
	w.Header().Set("X-Paint-Index", strconv.Itoa(res.PaintIndex))
	w.Write([]byte(res.Content))
}

func (s *Service) handlePaintIndex(w http.ResponseWriter, r *http.Request) {
	tab, ok := pathInt(w, r, "tab")
	if !ok {
		return
	}
	ts, err := strconv.ParseInt(r.URL.Query().Get("ts"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("ts: not an integer"))
		return
	}
	idx, err := s.PaintIndex(r.Context(), tab, ts)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tabId": tab, "timestamp": ts, "paintIndex": idx})
}

// fail maps service errors to status codes.
func (s *Service) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ingest.ErrInvalid), errors.Is(err, ErrFormat):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, pagestream.ErrTabClosed):
		writeError(w, http.StatusGone, err)
	default:
		s.logger.Error("domreplay: request failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, err)
	}
}

func pathInt(w http.ResponseWriter, r *http.Request, key string) (int, bool) {
	n, err := strconv.Atoi(chi.URLParam(r, key))
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New(key+": not an integer"))
		return 0, false
	}
	return n, true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
