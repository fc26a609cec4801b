package browser

import (
	"testing"

	"github.com/go-rod/rod/lib/proto"
)

func TestInterceptor_Decide(t *testing.T) {
	in := newInterceptor([]string{"Images", "fonts"})
	if !in.active() {
		t.Fatal("interceptor with blocked types should be active")
	}

	cases := []struct {
		typ  proto.NetworkResourceType
		url  string
		want verdict
	}{
		{proto.NetworkResourceTypeImage, "https://example.test/a.png", block},
		{proto.NetworkResourceTypeFont, "https://example.test/a.woff2", block},
		{proto.NetworkResourceTypeStylesheet, "https://example.test/a.css", pass},
		{proto.NetworkResourceTypeDocument, "https://example.test/", pass},
	}
	for _, tc := range cases {
		if got, _ := in.decide(tc.typ, tc.url); got != tc.want {
			t.Errorf("decide(%s, %s): got %v, want %v", tc.typ, tc.url, got, tc.want)
		}
	}
}

func TestInterceptor_ServeDocument(t *testing.T) {
	in := newInterceptor(nil)
	if in.active() {
		t.Fatal("empty interceptor should be inactive")
	}
	in.serve("https://example.test/page#top", "<!DOCTYPE html>")

	v, body := in.decide(proto.NetworkResourceTypeDocument, "https://example.test/page#other")
	if v != fulfill {
		t.Fatalf("verdict: got %v, want fulfill", v)
	}
	if want := "<!DOCTYPE html><html><head></head><body></body></html>"; body != want {
		t.Errorf("body: got %q, want %q", body, want)
	}
	if v, _ := in.decide(proto.NetworkResourceTypeScript, "https://example.test/page"); v != pass {
		t.Errorf("script: got %v, want pass", v)
	}

	in.forget()
	if v, _ := in.decide(proto.NetworkResourceTypeDocument, "https://example.test/page"); v != pass {
		t.Errorf("after forget: got %v, want pass", v)
	}
}

func TestParseStealth(t *testing.T) {
	cases := map[string]StealthLevel{
		"":         LevelHeadless,
		"headless": LevelHeadless,
		"headful":  LevelHeadful,
		"plain":    LevelPlain,
	}
	for in, want := range cases {
		if got := ParseStealth(in); got != want {
			t.Errorf("ParseStealth(%q): got %v, want %v", in, got, want)
		}
	}
}
