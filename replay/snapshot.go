package replay

import (
	"errors"

	"github.com/hazyhaar/domreplay/change"
)

// ErrNoDocument is returned when a recording has no main-frame document to
// replay.
var ErrNoDocument = errors.New("replay: no main-frame document")

// ActiveDocument is the last main-frame document started at or before the
// paint at idx, or the first document for a negative idx. An idx past the
// end counts as the last paint.
func ActiveDocument(rec *change.DomRecording, idx int) (change.DocumentRecord, bool) {
	var at int64
	switch {
	case idx < 0:
		if len(rec.Documents) == 0 {
			return change.DocumentRecord{}, false
		}
		at = rec.Documents[0].PaintStartTimestamp
	case len(rec.PaintEvents) == 0:
		return change.DocumentRecord{}, false
	default:
		at = rec.PaintEvents[min(idx, len(rec.PaintEvents)-1)].Timestamp
	}
	var found change.DocumentRecord
	ok := false
	for _, d := range rec.Documents {
		if d.IsMainframe && d.PaintStartTimestamp <= at {
			found, ok = d, true
		}
	}
	return found, ok
}

// Snapshot replays rec up to the paint at idx without a destination page
// and renders the main frame.
func Snapshot(rec *change.DomRecording, idx int) (string, change.DocumentRecord, error) {
	doc, ok := ActiveDocument(rec, idx)
	if !ok {
		return "", change.DocumentRecord{}, ErrNoDocument
	}
	r := New(doc.URL, WithoutJournal())
	r.LoadPaintEvents(BuildDataset(rec, doc))
	r.SetPaintIndex(idx)
	return r.Render(MainFrame), doc, nil
}
