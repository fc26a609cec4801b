package replay

import "github.com/hazyhaar/domreplay/change"

// Row is a change as shipped to a replayer. Tag indexes Dataset.Tags
// (1-based, 0 for none).
type Row struct {
	FrameIDPath         string             `json:"f,omitempty"`
	EventIndex          int                `json:"e"`
	Action              change.Action      `json:"a"`
	NodeID              int                `json:"i,omitempty"`
	NodeType            int                `json:"n,omitempty"`
	Tag                 int                `json:"t,omitempty"`
	NamespaceURI        string             `json:"ns,omitempty"`
	TextContent         string             `json:"x,omitempty"`
	ParentNodeID        int                `json:"p,omitempty"`
	PreviousSiblingID   int                `json:"s,omitempty"`
	Attributes          map[string]*string `json:"at,omitempty"`
	AttributeNamespaces map[string]string  `json:"an,omitempty"`
	Properties          map[string]any     `json:"pr,omitempty"`
}

// Dataset is the paint-indexed change set of one document. Paints holds
// one entry per paint of the whole recording; paints outside the document
// are empty. Timestamps runs parallel to Paints.
type Dataset struct {
	Tags       []string `json:"tags"`
	Paints     [][]Row  `json:"paints"`
	Timestamps []int64  `json:"timestamps"`
}

// BuildDataset selects the paints of doc, from its start up to the next
// main-frame document, and interns tag names. Main-frame changes get the
// empty frame path; changes of frames without a known dom node path are
// dropped.
func BuildDataset(rec *change.DomRecording, doc change.DocumentRecord) Dataset {
	var next *change.DocumentRecord
	for i := range rec.Documents {
		d := &rec.Documents[i]
		if d.IsMainframe && d.PaintStartTimestamp > doc.PaintStartTimestamp {
			next = d
			break
		}
	}

	tagIDs := make(map[string]int)
	ds := Dataset{
		Tags:       []string{},
		Paints:     make([][]Row, len(rec.PaintEvents)),
		Timestamps: make([]int64, len(rec.PaintEvents)),
	}
	for i, paint := range rec.PaintEvents {
		if paint != nil {
			ds.Timestamps[i] = paint.Timestamp
		}
		if paint == nil || paint.Timestamp < doc.PaintStartTimestamp {
			continue
		}
		if next != nil && paint.Timestamp >= next.PaintStartTimestamp {
			continue
		}
		rows := make([]Row, 0, len(paint.ChangeEvents))
		for _, c := range paint.ChangeEvents {
			path, ok := framePath(rec, c.FrameID)
			if !ok {
				continue
			}
			tag := 0
			if c.TagName != "" {
				tag = tagIDs[c.TagName]
				if tag == 0 {
					ds.Tags = append(ds.Tags, c.TagName)
					tag = len(ds.Tags)
					tagIDs[c.TagName] = tag
				}
			}
			rows = append(rows, Row{
				FrameIDPath:         path,
				EventIndex:          c.EventIndex,
				Action:              c.Action,
				NodeID:              c.NodeID,
				NodeType:            c.NodeType,
				Tag:                 tag,
				NamespaceURI:        c.NamespaceURI,
				TextContent:         c.TextContent,
				ParentNodeID:        c.ParentNodeID,
				PreviousSiblingID:   c.PreviousSiblingID,
				Attributes:          c.Attributes,
				AttributeNamespaces: c.AttributeNamespaces,
				Properties:          c.Properties,
			})
		}
		ds.Paints[i] = rows
	}
	return ds
}

func framePath(rec *change.DomRecording, frameID int) (string, bool) {
	if rec.MainFrameIDs.Has(frameID) {
		return "", true
	}
	path, ok := rec.DomNodePathByFrameID[frameID]
	return path, ok && path != ""
}

// Records expands the dataset back into change rows, one slice per paint.
func (ds Dataset) Records() [][]change.FlatRecord {
	out := make([][]change.FlatRecord, len(ds.Paints))
	for i, rows := range ds.Paints {
		if len(rows) == 0 {
			continue
		}
		var ts int64
		if i < len(ds.Timestamps) {
			ts = ds.Timestamps[i]
		}
		recs := make([]change.FlatRecord, len(rows))
		for j, r := range rows {
			tag := ""
			if r.Tag > 0 && r.Tag <= len(ds.Tags) {
				tag = ds.Tags[r.Tag-1]
			}
			recs[j] = change.FlatRecord{
				FrameIDPath:         r.FrameIDPath,
				Timestamp:           ts,
				EventIndex:          r.EventIndex,
				Action:              r.Action,
				NodeID:              r.NodeID,
				NodeType:            r.NodeType,
				TagName:             tag,
				NamespaceURI:        r.NamespaceURI,
				TextContent:         r.TextContent,
				ParentNodeID:        r.ParentNodeID,
				PreviousSiblingID:   r.PreviousSiblingID,
				Attributes:          r.Attributes,
				AttributeNamespaces: r.AttributeNamespaces,
				Properties:          r.Properties,
			}
		}
		out[i] = recs
	}
	return out
}
