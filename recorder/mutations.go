package recorder

import (
	"golang.org/x/net/html"

	"github.com/hazyhaar/domreplay/change"
	"github.com/hazyhaar/domreplay/internal/dom"
)

// batch is the bookkeeping for one group of changes sharing a timestamp.
type batch struct {
	time    int64
	added   map[*html.Node]addedPos
	removed map[*html.Node]struct{}
	attrs   map[*html.Node]int // index of the attribute record in buf.DomChanges
	texts   map[*html.Node]int
}

type addedPos struct {
	idx    int
	parent int
	prev   int
	full   bool // snapshot rather than back-reference
}

// inBatch runs fn with a batch open, reusing the current one when nested.
func (r *Recorder) inBatch(fn func()) {
	if r.batch != nil {
		fn()
		return
	}
	r.batch = &batch{
		time:    r.now(),
		added:   make(map[*html.Node]addedPos),
		removed: make(map[*html.Node]struct{}),
		attrs:   make(map[*html.Node]int),
		texts:   make(map[*html.Node]int),
	}
	defer func() { r.batch = nil }()
	fn()
}

// push appends a change to the dom buffer and returns its index.
func (r *Recorder) push(action change.Action, rec change.NodeRecord) int {
	ts := r.now()
	if r.batch != nil {
		ts = r.batch.time
	}
	r.buf.DomChanges = append(r.buf.DomChanges, change.ChangeRecord{
		Action:     action,
		Node:       rec,
		Timestamp:  ts,
		EventIndex: r.eventIndex,
	})
	r.eventIndex++
	return len(r.buf.DomChanges) - 1
}

// ProcessMutations translates every queued mutation record into change
// records. Navigation and location changes are detected first.
func (r *Recorder) ProcessMutations() {
	if r.state == Idle || r.state == Disconnected {
		return
	}
	if r.doc.Generation() != r.generation {
		r.handleNavigation()
		r.scheduleFlush(true)
		return
	}

	recs := r.doc.TakeRecords()
	location := r.doc.Location()
	moved := location != r.lastLocation
	if len(recs) == 0 && !moved {
		// readiness changes land here
		r.scheduleFlush(r.buf.Len() > 0)
		return
	}

	before := len(r.buf.DomChanges)
	r.inBatch(func() {
		if moved {
			r.lastLocation = location
			r.push(change.Location, change.NodeRecord{TextContent: location})
		}
		for _, m := range recs {
			switch m.Type {
			case dom.ChildList:
				r.onChildList(m)
			case dom.Attributes:
				r.onAttribute(m)
			case dom.CharacterData:
				r.onCharacterData(m)
			}
		}
	})
	if moved {
		r.TrackScroll()
	}
	if r.state == Started {
		r.state = Recording
	}
	r.scheduleFlush(len(r.buf.DomChanges) > before)
}

func (r *Recorder) onChildList(m dom.MutationRecord) {
	if r.excluded(m.Target) {
		return
	}
	prev := m.PreviousSibling
	for _, n := range m.RemovedNodes {
		r.onRemoved(n, m.Target, prev)
		prev = n
	}
	for _, n := range m.AddedNodes {
		r.onAdded(n, m.Target)
	}
}

func (r *Recorder) onRemoved(n, target, prev *html.Node) {
	if _, skip := r.doNotTrack[n]; skip {
		return
	}
	parentID, ok := r.serializeNodeToRoot(target)
	if !ok {
		r.logger.Debug("recorder: removal from unreachable parent skipped", "tag", target.Data)
		return
	}
	prevID := 0
	if prev != nil {
		prevID, _ = r.nodes.ID(prev)
	}
	if !r.nodes.Has(n) {
		// Never recorded: record the node where it was so the removal applies.
		rec := r.serializeNode(n, false)
		rec.ParentNodeID = parentID
		rec.PreviousSiblingID = prevID
		r.push(change.Added, rec)
		r.serializeChildren(n, true)
	}
	id, _ := r.nodes.ID(n)
	r.push(change.Removed, change.NodeRecord{ID: id, ParentNodeID: parentID, PreviousSiblingID: prevID})
	r.batch.removed[n] = struct{}{}
	delete(r.batch.added, n)
}

func (r *Recorder) onAdded(n, target *html.Node) {
	if _, skip := r.doNotTrack[n]; skip {
		return
	}
	// Moved or removed again later in the batch: a later record covers it.
	if n.Parent != target && r.doc.Host(n) != target {
		return
	}
	parentID, ok := r.serializeNodeToRoot(target)
	if !ok {
		return
	}
	id, known := r.nodes.ID(n)
	if !known {
		r.emitAdded(n, parentID)
		return
	}
	prevID := r.previousSiblingID(n)
	if pos, ok := r.batch.added[n]; ok && pos.parent == parentID && pos.prev == prevID {
		return
	}
	idx := r.push(change.Added, change.NodeRecord{ID: id, ParentNodeID: parentID, PreviousSiblingID: prevID})
	r.batch.added[n] = addedPos{idx: idx, parent: parentID, prev: prevID}
	delete(r.batch.removed, n)
}

func (r *Recorder) onAttribute(m dom.MutationRecord) {
	n := m.Target
	if r.excluded(n) {
		return
	}
	id, known := r.nodes.ID(n)
	if !known {
		// The snapshot carries the current attributes.
		r.serializeNodeToRoot(n)
		return
	}
	if pos, ok := r.batch.added[n]; ok && pos.full {
		return
	}

	name := attrName(m.AttributeNamespace, m.AttributeName)
	var value *string
	if v, ok := dom.GetAttr(n, m.AttributeNamespace, m.AttributeName); ok {
		value = change.Str(v)
	}

	idx, ok := r.batch.attrs[n]
	if !ok {
		idx = r.push(change.Attribute, change.NodeRecord{ID: id, Attributes: make(map[string]*string)})
		r.batch.attrs[n] = idx
	}
	rec := &r.buf.DomChanges[idx].Node
	rec.Attributes[name] = value
	if m.AttributeNamespace != "" {
		if rec.AttributeNamespaces == nil {
			rec.AttributeNamespaces = make(map[string]string)
		}
		rec.AttributeNamespaces[name] = dom.AttrNamespaceURI(m.AttributeNamespace)
	}
}

func (r *Recorder) onCharacterData(m dom.MutationRecord) {
	n := m.Target
	if r.excluded(n) {
		return
	}
	id, known := r.nodes.ID(n)
	if !known {
		r.serializeNodeToRoot(n)
		return
	}
	if pos, ok := r.batch.added[n]; ok && pos.full {
		return
	}
	if idx, ok := r.batch.texts[n]; ok {
		r.buf.DomChanges[idx].Node.TextContent = n.Data
		return
	}
	r.batch.texts[n] = r.push(change.Text, change.NodeRecord{ID: id, TextContent: n.Data})
}
