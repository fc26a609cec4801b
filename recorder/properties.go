package recorder

import (
	"reflect"
	"slices"

	"golang.org/x/net/html"

	"github.com/hazyhaar/domreplay/change"
)

// CheckProperties records watched properties (value, checked, ...) whose
// value changed since they were last recorded. Scripts and user input change
// properties without touching attributes, so they have to be polled.
func (r *Recorder) CheckProperties() {
	if r.state == Idle || r.state == Disconnected {
		return
	}
	r.inBatch(r.pollProperties)
}

// OnInput is called for every input or change event seen on the page.
// Polls are rate limited so that a burst of keystrokes costs one pass.
func (r *Recorder) OnInput() {
	if !r.inputRate.Allow() {
		return
	}
	r.CheckProperties()
	r.scheduleFlush(false)
}

func (r *Recorder) pollProperties() {
	for _, n := range trackedNodesOf(r, r.props) {
		r.checkNodeProperties(n)
	}
}

func (r *Recorder) checkNodeProperties(n *html.Node) {
	id, ok := r.nodes.ID(n)
	if !ok || !r.doc.Connected(n) {
		return
	}
	if pos, ok := r.batch.added[n]; ok && pos.full {
		return
	}
	known := r.props[n]
	var changed map[string]any
	for _, p := range change.WatchedProperties {
		v, ok := r.doc.Property(n, p)
		if !ok {
			continue
		}
		if old, seen := known[p]; seen && reflect.DeepEqual(old, v) {
			continue
		}
		known[p] = v
		if changed == nil {
			changed = make(map[string]any)
		}
		changed[p] = v
	}
	if changed != nil {
		r.push(change.Property, change.NodeRecord{ID: id, Properties: changed})
	}
}

// CheckStylesheets records <style> elements whose parsed rules changed since
// they were last recorded (CSSOM edits leave the text untouched).
func (r *Recorder) CheckStylesheets() {
	if r.state == Idle || r.state == Disconnected {
		return
	}
	r.inBatch(r.pollStylesheets)
}

func (r *Recorder) pollStylesheets() {
	for _, n := range trackedNodesOf(r, r.sheets) {
		id, _ := r.nodes.ID(n)
		if !r.doc.Connected(n) {
			continue
		}
		if pos, ok := r.batch.added[n]; ok && pos.full {
			continue
		}
		rules, err := r.doc.SheetRules(n)
		if err != nil {
			r.logger.Debug("recorder: read stylesheet", "id", id, "error", err)
			continue
		}
		if slices.Equal(rules, r.sheets[n]) {
			continue
		}
		r.sheets[n] = rules
		r.push(change.Property, change.NodeRecord{
			ID:         id,
			Properties: map[string]any{change.SheetRulesProperty: rules},
		})
	}
}

// trackedNodesOf returns the tracked keys of m in id order, so that polls
// produce records deterministically.
func trackedNodesOf[V any](r *Recorder, m map[*html.Node]V) []*html.Node {
	out := make([]*html.Node, 0, len(m))
	for n := range m {
		if r.nodes.Has(n) {
			out = append(out, n)
		}
	}
	slices.SortFunc(out, func(a, b *html.Node) int {
		ia, _ := r.nodes.ID(a)
		ib, _ := r.nodes.ID(b)
		return ia - ib
	})
	return out
}
