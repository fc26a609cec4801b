package watcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/domreplay/change"
)

type nopUploader struct{}

func (nopUploader) Upload(context.Context, change.Upload) error { return nil }

type fakeFrames struct{ closed []int }

func (f *fakeFrames) RegisterFrame(context.Context, int, int, bool, string) error { return nil }
func (f *fakeFrames) CloseTab(id int)                                             { f.closed = append(f.closed, id) }

type emptyRecordings struct{}

func (emptyRecordings) Recording(context.Context, int, bool) (*change.DomRecording, error) {
	return &change.DomRecording{MainFrameIDs: change.NewFrameSet()}, nil
}

func newWatcher() *Watcher {
	return New(Config{}, nopUploader{}, &fakeFrames{}, nil, emptyRecordings{})
}

func TestWatcher_NotStarted(t *testing.T) {
	w := newWatcher()
	if _, err := w.Record(context.Background(), 0, "https://example.test/"); err == nil {
		t.Error("Record before Start should fail")
	}
	if err := w.Stop(4); !errors.Is(err, ErrUnknownTab) {
		t.Errorf("Stop: got %v, want ErrUnknownTab", err)
	}
	if err := w.SetCommandID(4, 1); !errors.Is(err, ErrUnknownTab) {
		t.Errorf("SetCommandID: got %v, want ErrUnknownTab", err)
	}
	if _, err := w.Screenshot(context.Background(), 4, nil); !errors.Is(err, ErrUnknownTab) {
		t.Errorf("Screenshot: got %v, want ErrUnknownTab", err)
	}
	if tabs := w.Tabs(); len(tabs) != 0 {
		t.Errorf("Tabs: got %v", tabs)
	}
}

func TestWatcher_HTTP(t *testing.T) {
	r := chi.NewRouter()
	newWatcher().RegisterHTTP(r)
	srv := httptest.NewServer(r)
	defer srv.Close()

	do := func(method, path, body string) int {
		t.Helper()
		req, _ := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}
	cases := []struct {
		method, path, body string
		want               int
	}{
		{http.MethodGet, "/recordings", "", http.StatusOK},
		{http.MethodPost, "/recordings", `{"url":"ftp://x"}`, http.StatusBadRequest},
		{http.MethodPost, "/recordings", `{`, http.StatusBadRequest},
		{http.MethodPost, "/recordings", `{"url":"https://example.test/"}`, http.StatusBadGateway},
		{http.MethodDelete, "/recordings/3", "", http.StatusNotFound},
		{http.MethodDelete, "/recordings/x", "", http.StatusBadRequest},
		{http.MethodGet, "/recordings/3/screenshot", "", http.StatusNotFound},
		{http.MethodGet, "/recordings/3/screenshot?paint=z", "", http.StatusBadRequest},
	}
	for _, tc := range cases {
		if got := do(tc.method, tc.path, tc.body); got != tc.want {
			t.Errorf("%s %s: got %d, want %d", tc.method, tc.path, got, tc.want)
		}
	}
}

func TestStartReq_Validate(t *testing.T) {
	for u, ok := range map[string]bool{
		"https://example.test/a": true,
		"http://localhost:8080":  true,
		"example.test":           false,
		"javascript:alert(1)":    false,
		"":                       false,
	} {
		err := (&startReq{URL: u}).validate()
		if (err == nil) != ok {
			t.Errorf("validate(%q): got %v", u, err)
		}
	}
}
