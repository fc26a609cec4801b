package change

import (
	"encoding/json"
	"sort"
)

// FlatRecord is one persisted change row. FrameIDPath is only set on records
// prepared for replay (see DomRecording.DomNodePathByFrameID).
type FlatRecord struct {
	TabID                int                `json:"tabId"`
	FrameID              int                `json:"frameId"`
	DocumentNavigationID int                `json:"documentNavigationId"`
	CommandID            int                `json:"commandId"`
	EventIndex           int                `json:"eventIndex"`
	Action               Action             `json:"action"`
	NodeID               int                `json:"nodeId,omitempty"`
	NodeType             int                `json:"nodeType,omitempty"`
	TagName              string             `json:"tagName,omitempty"`
	PreviousSiblingID    int                `json:"previousSiblingId,omitempty"`
	ParentNodeID         int                `json:"parentNodeId,omitempty"`
	TextContent          string             `json:"textContent,omitempty"`
	Attributes           map[string]*string `json:"attributes,omitempty"`
	AttributeNamespaces  map[string]string  `json:"attributeNamespaces,omitempty"`
	Properties           map[string]any     `json:"properties,omitempty"`
	NamespaceURI         string             `json:"namespaceUri,omitempty"`
	Timestamp            int64              `json:"timestamp"`
	FrameIDPath          string             `json:"frameIdPath,omitempty"`
}

// Flatten turns a ChangeRecord into a storage row.
func Flatten(tabID, frameID, documentNavigationID, commandID int, c ChangeRecord) FlatRecord {
	n := c.Node
	return FlatRecord{
		TabID:                tabID,
		FrameID:              frameID,
		DocumentNavigationID: documentNavigationID,
		CommandID:            commandID,
		EventIndex:           c.EventIndex,
		Action:               c.Action,
		NodeID:               n.ID,
		NodeType:             n.NodeType,
		TagName:              n.TagName,
		PreviousSiblingID:    n.PreviousSiblingID,
		ParentNodeID:         n.ParentNodeID,
		TextContent:          n.TextContent,
		Attributes:           n.Attributes,
		AttributeNamespaces:  n.AttributeNamespaces,
		Properties:           n.Properties,
		NamespaceURI:         n.NamespaceURI,
		Timestamp:            c.Timestamp,
	}
}

// Node rebuilds the NodeRecord carried by the row.
func (r FlatRecord) Node() NodeRecord {
	return NodeRecord{
		ID:                  r.NodeID,
		NodeType:            r.NodeType,
		TagName:             r.TagName,
		TextContent:         r.TextContent,
		Attributes:          r.Attributes,
		AttributeNamespaces: r.AttributeNamespaces,
		Properties:          r.Properties,
		NamespaceURI:        r.NamespaceURI,
		ParentNodeID:        r.ParentNodeID,
		PreviousSiblingID:   r.PreviousSiblingID,
	}
}

// Key identifies a row for idempotent ingestion. A retried upload produces
// rows with identical keys.
type Key struct {
	TabID, FrameID, DocumentNavigationID int
	Timestamp                            int64
	EventIndex                           int
}

// Key returns the idempotency key of the row.
func (r FlatRecord) Key() Key {
	return Key{r.TabID, r.FrameID, r.DocumentNavigationID, r.Timestamp, r.EventIndex}
}

// PaintEvent groups the changes observed at one timestamp, approximating one
// rendered frame.
type PaintEvent struct {
	Timestamp    int64        `json:"timestamp"`
	CommandID    int          `json:"commandId"`
	ChangeEvents []FlatRecord `json:"changeEvents"`
}

// DocumentRecord anchors replay navigation. It is created from a
// NewDocument change.
type DocumentRecord struct {
	URL                 string `json:"url"`
	Doctype             string `json:"doctype,omitempty"`
	IsMainframe         bool   `json:"isMainframe"`
	FrameID             int    `json:"frameId"`
	PaintStartTimestamp int64  `json:"paintStartTimestamp"`
	PaintEventIndex     int    `json:"paintEventIndex"`
}

// FrameSet is a set of frame ids.
type FrameSet map[int]struct{}

// NewFrameSet returns a set holding ids.
func NewFrameSet(ids ...int) FrameSet {
	s := make(FrameSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Has reports whether id is in the set.
func (s FrameSet) Has(id int) bool {
	_, ok := s[id]
	return ok
}

// IDs returns the members in ascending order.
func (s FrameSet) IDs() []int {
	out := make([]int, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}

func (s FrameSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.IDs())
}

func (s *FrameSet) UnmarshalJSON(data []byte) error {
	var ids []int
	if err := json.Unmarshal(data, &ids); err != nil {
		return err
	}
	*s = NewFrameSet(ids...)
	return nil
}

// DomRecording is the assembled, replayable form of a change log.
type DomRecording struct {
	Documents            []DocumentRecord `json:"documents"`
	PaintEvents          []*PaintEvent    `json:"paintEvents"`
	MainFrameIDs         FrameSet         `json:"mainFrameIds"`
	DomNodePathByFrameID map[int]string   `json:"domNodePathByFrameId,omitempty"`
}

// MainDocuments returns the main-frame documents in paint order.
func (r *DomRecording) MainDocuments() []DocumentRecord {
	var out []DocumentRecord
	for _, d := range r.Documents {
		if d.IsMainframe {
			out = append(out, d)
		}
	}
	return out
}
