package changestore

import (
	"sort"

	"github.com/hazyhaar/domreplay/change"
)

// doctypeScan is how far past a newDocument change the doctype is looked
// for; child frames may interleave records before it arrives.
const doctypeScan = 100

// ToDomRecording groups flat records into paint events (one per timestamp)
// and documents (one per newDocument change). The paint's command id is the
// one of its first record.
//
// With onlyLatestNavigation, every main-frame document discards what was
// assembled before it, leaving only the current page.
func ToDomRecording(records []change.FlatRecord, mainFrameIDs change.FrameSet, domNodePathByFrameID map[int]string, onlyLatestNavigation bool) *change.DomRecording {
	if mainFrameIDs == nil {
		mainFrameIDs = change.NewFrameSet()
	}
	var (
		documents   []change.DocumentRecord
		paintEvents []*change.PaintEvent
		byTimestamp = make(map[int64]*change.PaintEvent)
	)

	for i, rec := range records {
		if rec.Action == change.NewDocument {
			isMain := mainFrameIDs.Has(rec.FrameID)
			doctype := ""
			for x := 1; x <= doctypeScan && i+x < len(records); x++ {
				next := records[i+x]
				if next.NodeType == change.DoctypeNode && next.FrameID == rec.FrameID {
					doctype = next.TextContent
					break
				}
			}
			if isMain && onlyLatestNavigation {
				documents = documents[:0]
				paintEvents = paintEvents[:0]
				byTimestamp = make(map[int64]*change.PaintEvent)
			}
			documents = append(documents, change.DocumentRecord{
				URL:                 rec.TextContent,
				Doctype:             doctype,
				IsMainframe:         isMain,
				FrameID:             rec.FrameID,
				PaintStartTimestamp: rec.Timestamp,
			})
		}

		paint := byTimestamp[rec.Timestamp]
		if paint == nil {
			paint = &change.PaintEvent{Timestamp: rec.Timestamp, CommandID: rec.CommandID}
			byTimestamp[rec.Timestamp] = paint
			paintEvents = append(paintEvents, paint)
		}
		events := append(paint.ChangeEvents, rec)
		paint.ChangeEvents = events
		if n := len(events); n > 1 && rec.EventIndex < events[n-2].EventIndex {
			sort.SliceStable(events, func(a, b int) bool {
				if events[a].FrameID != events[b].FrameID {
					return events[a].FrameID < events[b].FrameID
				}
				return events[a].EventIndex < events[b].EventIndex
			})
		}
	}

	sort.SliceStable(paintEvents, func(a, b int) bool {
		return paintEvents[a].Timestamp < paintEvents[b].Timestamp
	})
	indexByTimestamp := make(map[int64]int, len(paintEvents))
	for i, p := range paintEvents {
		indexByTimestamp[p.Timestamp] = i
	}
	for i := range documents {
		documents[i].PaintEventIndex = indexByTimestamp[documents[i].PaintStartTimestamp]
	}

	return &change.DomRecording{
		Documents:            documents,
		PaintEvents:          paintEvents,
		MainFrameIDs:         mainFrameIDs,
		DomNodePathByFrameID: domNodePathByFrameID,
	}
}
