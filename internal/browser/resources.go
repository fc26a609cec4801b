package browser

import (
	"net/http"
	"strings"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

type verdict int

const (
	pass verdict = iota
	block
	fulfill
)

// interceptor decides the fate of a page's requests: recording tabs drop the
// blocked resource types, replay pages answer navigations to recorded
// documents with an empty shell the executor fills in.
type interceptor struct {
	blocked map[string]bool

	mu        sync.RWMutex
	documents map[string]string // url without fragment -> doctype
}

func newInterceptor(blockTypes []string) *interceptor {
	in := &interceptor{blocked: make(map[string]bool), documents: make(map[string]string)}
	for _, t := range blockTypes {
		in.blocked[strings.ToLower(t)] = true
	}
	return in
}

// serve answers future navigations to url with a blank document.
func (in *interceptor) serve(url, doctype string) {
	in.mu.Lock()
	in.documents[stripFragment(url)] = doctype
	in.mu.Unlock()
}

// forget drops every served document.
func (in *interceptor) forget() {
	in.mu.Lock()
	clear(in.documents)
	in.mu.Unlock()
}

func (in *interceptor) decide(resType proto.NetworkResourceType, url string) (verdict, string) {
	if resType == proto.NetworkResourceTypeDocument {
		in.mu.RLock()
		doctype, ok := in.documents[stripFragment(url)]
		in.mu.RUnlock()
		if ok {
			return fulfill, blankDocument(doctype)
		}
		return pass, ""
	}
	if in.blocks(string(resType)) {
		return block, ""
	}
	return pass, ""
}

func (in *interceptor) blocks(resType string) bool {
	switch lower := strings.ToLower(resType); lower {
	case "image":
		return in.blocked["images"]
	case "font":
		return in.blocked["fonts"]
	case "media":
		return in.blocked["media"]
	case "stylesheet":
		return in.blocked["stylesheets"]
	default:
		return in.blocked[lower]
	}
}

// active reports whether the page needs request interception at all.
func (in *interceptor) active() bool {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return len(in.blocked) > 0 || len(in.documents) > 0
}

// attach routes every request of page through decide.
func (in *interceptor) attach(page *rod.Page) (*rod.HijackRouter, error) {
	router := page.HijackRequests()
	err := router.Add("*", "", func(h *rod.Hijack) {
		v, body := in.decide(h.Request.Type(), h.Request.URL().String())
		switch v {
		case block:
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
		case fulfill:
			h.Response.Payload().ResponseCode = http.StatusOK
			h.Response.SetHeader("Content-Type", "text/html; charset=utf-8")
			h.Response.SetBody(body)
		default:
			h.ContinueRequest(&proto.FetchContinueRequest{})
		}
	})
	if err != nil {
		return nil, err
	}
	go router.Run()
	return router, nil
}

func blankDocument(doctype string) string {
	return doctype + "<html><head></head><body></body></html>"
}

func stripFragment(url string) string {
	if i := strings.IndexByte(url, '#'); i >= 0 {
		return url[:i]
	}
	return url
}
