package shield

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/domreplay/kit"
)

var ok = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("ok"))
})

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(1, 2, "/healthz")
	now := time.Unix(1000, 0)
	rl.now = func() time.Time { return now }
	h := rl.Middleware(ok)

	do := func(path, ip string) int {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.RemoteAddr = ip + ":1234"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}
	for i := range 2 {
		if code := do("/tabs/1/recording", "10.0.0.1"); code != http.StatusOK {
			t.Fatalf("request %d: got %d, want 200", i, code)
		}
	}
	if code := do("/tabs/1/recording", "10.0.0.1"); code != http.StatusTooManyRequests {
		t.Errorf("over burst: got %d, want 429", code)
	}
	if code := do("/tabs/1/recording", "10.0.0.2"); code != http.StatusOK {
		t.Errorf("other client: got %d, want 200", code)
	}
	if code := do("/healthz", "10.0.0.1"); code != http.StatusOK {
		t.Errorf("exempt path: got %d, want 200", code)
	}
	now = now.Add(time.Second)
	if code := do("/tabs/1/recording", "10.0.0.1"); code != http.StatusOK {
		t.Errorf("after refill: got %d, want 200", code)
	}
}

func TestExtractIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:5555"
	if got := ExtractIP(req); got != "192.0.2.1" {
		t.Errorf("remote addr: got %q", got)
	}
	req.Header.Set("X-Forwarded-For", " 203.0.113.9 , 10.0.0.1")
	if got := ExtractIP(req); got != "203.0.113.9" {
		t.Errorf("forwarded: got %q", got)
	}
}

func TestTracer(t *testing.T) {
	var traceID string
	h := Tracer(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID = kit.GetTraceID(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if !strings.HasPrefix(traceID, "trc_") || rec.Header().Get("X-Trace-ID") != traceID {
		t.Errorf("generated: context %q, header %q", traceID, rec.Header().Get("X-Trace-ID"))
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Trace-ID", "upstream-1")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if traceID != "upstream-1" {
		t.Errorf("propagated: got %q, want upstream-1", traceID)
	}
}

func TestMaxBody(t *testing.T) {
	var readErr error
	h := MaxBody(4)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, readErr = io.ReadAll(r.Body)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/", strings.NewReader("123456")))
	if readErr == nil {
		t.Error("oversized body should fail to read")
	}
}

func TestDefaultStack(t *testing.T) {
	var h http.Handler = ok
	stack := DefaultStack(DefaultLimits(), nil)
	for i := len(stack) - 1; i >= 0; i-- {
		h = stack[i](h)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodHead, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d", rec.Code)
	}
	for _, hdr := range []string{"Content-Security-Policy", "X-Frame-Options", "X-Trace-ID"} {
		if rec.Header().Get(hdr) == "" {
			t.Errorf("missing header %s", hdr)
		}
	}
}
