package change

import (
	"encoding/json"
	"fmt"
)

// MouseEventType is the kind of a recorded pointer event.
type MouseEventType int

const (
	MouseMove MouseEventType = iota
	MouseDown
	MouseUp
	MouseOver
	MouseOut
)

// MouseEvent is [type, pageX, pageY, offsetX, offsetY, buttons, targetNodeId,
// relatedTargetNodeId, timestamp] on the wire. FrameID is filled on ingest.
type MouseEvent struct {
	Type          MouseEventType
	PageX, PageY  int
	OffsetX       int
	OffsetY       int
	Buttons       int // bitmask, bit i = button i pressed
	TargetNodeID  int
	RelatedNodeID int
	Timestamp     int64
	FrameID       int
}

func (e MouseEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{int(e.Type), e.PageX, e.PageY, e.OffsetX, e.OffsetY, e.Buttons, e.TargetNodeID, e.RelatedNodeID, e.Timestamp})
}

func (e *MouseEvent) UnmarshalJSON(data []byte) error {
	var typ int
	if err := decodeTuple(data, &typ, &e.PageX, &e.PageY, &e.OffsetX, &e.OffsetY, &e.Buttons, &e.TargetNodeID, &e.RelatedNodeID, &e.Timestamp); err != nil {
		return fmt.Errorf("change: mouse event: %w", err)
	}
	e.Type = MouseEventType(typ)
	return nil
}

// FocusEventType is "in" or "out".
type FocusEventType string

const (
	FocusIn  FocusEventType = "in"
	FocusOut FocusEventType = "out"
)

// FocusEvent is [type, targetNodeId, relatedTargetNodeId, timestamp].
type FocusEvent struct {
	Type          FocusEventType
	TargetNodeID  int
	RelatedNodeID int
	Timestamp     int64
	FrameID       int
}

func (e FocusEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{e.Type, e.TargetNodeID, e.RelatedNodeID, e.Timestamp})
}

func (e *FocusEvent) UnmarshalJSON(data []byte) error {
	if err := decodeTuple(data, &e.Type, &e.TargetNodeID, &e.RelatedNodeID, &e.Timestamp); err != nil {
		return fmt.Errorf("change: focus event: %w", err)
	}
	return nil
}

// ScrollEvent is [scrollX, scrollY, timestamp].
type ScrollEvent struct {
	ScrollX, ScrollY int
	Timestamp        int64
	FrameID          int
}

func (e ScrollEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{e.ScrollX, e.ScrollY, e.Timestamp})
}

func (e *ScrollEvent) UnmarshalJSON(data []byte) error {
	if err := decodeTuple(data, &e.ScrollX, &e.ScrollY, &e.Timestamp); err != nil {
		return fmt.Errorf("change: scroll event: %w", err)
	}
	return nil
}

// Load milestone names.
const (
	LoadDOMContentLoaded       = "DOMContentLoaded"
	LoadComplete               = "load"
	LoadLargestContentfulPaint = "LargestContentfulPaint"
)

// LoadEvent is [name, url, timestamp].
type LoadEvent struct {
	Name      string
	URL       string
	Timestamp int64
	FrameID   int
}

func (e LoadEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{e.Name, e.URL, e.Timestamp})
}

func (e *LoadEvent) UnmarshalJSON(data []byte) error {
	if err := decodeTuple(data, &e.Name, &e.URL, &e.Timestamp); err != nil {
		return fmt.Errorf("change: load event: %w", err)
	}
	return nil
}

// UploadBatch holds the recorder's five buffers. On the wire it is
// [domChanges[], mouseEvents[], focusEvents[], scrollEvents[], loadEvents[]].
type UploadBatch struct {
	DomChanges   []ChangeRecord
	MouseEvents  []MouseEvent
	FocusEvents  []FocusEvent
	ScrollEvents []ScrollEvent
	LoadEvents   []LoadEvent
}

// Len returns the total number of records in the batch.
func (b UploadBatch) Len() int {
	return len(b.DomChanges) + len(b.MouseEvents) + len(b.FocusEvents) + len(b.ScrollEvents) + len(b.LoadEvents)
}

func (b UploadBatch) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{
		nonNil(b.DomChanges), nonNil(b.MouseEvents), nonNil(b.FocusEvents),
		nonNil(b.ScrollEvents), nonNil(b.LoadEvents),
	})
}

func (b *UploadBatch) UnmarshalJSON(data []byte) error {
	if err := decodeTuple(data, &b.DomChanges, &b.MouseEvents, &b.FocusEvents, &b.ScrollEvents, &b.LoadEvents); err != nil {
		return fmt.Errorf("change: upload batch: %w", err)
	}
	return nil
}

// nonNil makes empty buffers encode as [] instead of null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// Upload is the envelope a recorder hands to its transport. One upload never
// spans two command ids.
type Upload struct {
	TabID                int         `json:"tabId"`
	FrameID              int         `json:"frameId"`
	DocumentNavigationID int         `json:"documentNavigationId"`
	CommandID            int         `json:"commandId"`
	Records              UploadBatch `json:"records"`
}

// MarshalUpload serialises an Upload to JSON.
func MarshalUpload(u *Upload) ([]byte, error) {
	return json.Marshal(u)
}

// UnmarshalUpload deserialises an Upload from JSON.
func UnmarshalUpload(data []byte) (*Upload, error) {
	var u Upload
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, err
	}
	return &u, nil
}
