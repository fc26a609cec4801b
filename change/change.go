// Package change defines the recorded DOM change log exchanged between the
// recorder, the change store and the replayer. These types are the public
// contract: anything that produces or consumes a recording imports this
// package.
package change

import (
	"encoding/json"
	"fmt"
)

// Action is the kind of a recorded DOM change.
type Action int

const (
	NewDocument Action = iota // document (re)created for a frame
	Location                  // in-document URL change (history API, hash)
	Added                     // node inserted
	Removed                   // node removed from its parent
	Text                      // textContent replaced
	Attribute                 // one or more attributes changed
	Property                  // watched property or stylesheet rules changed
)

var actionNames = [...]string{"newDocument", "location", "added", "removed", "text", "attribute", "property"}

func (a Action) String() string {
	if a < 0 || int(a) >= len(actionNames) {
		return fmt.Sprintf("action(%d)", int(a))
	}
	return actionNames[a]
}

// Valid reports whether a is one of the known actions.
func (a Action) Valid() bool { return a >= NewDocument && a <= Property }

// DOM node types carried in NodeRecord.NodeType.
const (
	ElementNode    = 1
	TextNode       = 3
	CommentNode    = 8
	DocumentNode   = 9
	DoctypeNode    = 10
	ShadowRootNode = 40 // synthetic, shadow roots have no DOM node type of their own
)

// Namespace URIs used by recorded elements and attributes.
const (
	HTMLNamespace   = "http://www.w3.org/1999/xhtml"
	SVGNamespace    = "http://www.w3.org/2000/svg"
	MathMLNamespace = "http://www.w3.org/1998/Math/MathML"
	XLinkNamespace  = "http://www.w3.org/1999/xlink"
	XMLNamespace    = "http://www.w3.org/XML/1998/namespace"
	XMLNSNamespace  = "http://www.w3.org/2000/xmlns/"
)

// SheetRulesProperty is the pseudo-property carrying a <style> element's CSS
// rule text.
const SheetRulesProperty = "sheet.cssRules"

// WatchedProperties are element properties that change without firing
// mutation notifications.
var WatchedProperties = []string{"value", "selected", "selectedIndex", "checked"}

// NodeRecord is a node snapshot, or a bare back-reference ({id} plus position)
// when the node was already known. IDs start at 1; zero means absent.
type NodeRecord struct {
	ID                  int                `json:"id"`
	NodeType            int                `json:"nodeType,omitempty"`
	TagName             string             `json:"tagName,omitempty"`
	TextContent         string             `json:"textContent,omitempty"`
	Attributes          map[string]*string `json:"attributes,omitempty"` // nil value = removed
	AttributeNamespaces map[string]string  `json:"attributeNamespaces,omitempty"`
	Properties          map[string]any     `json:"properties,omitempty"`
	NamespaceURI        string             `json:"namespaceUri,omitempty"`
	ParentNodeID        int                `json:"parentNodeId,omitempty"`
	PreviousSiblingID   int                `json:"previousSiblingId,omitempty"`
	Error               string             `json:"error,omitempty"`
}

// ChangeRecord is one entry of the change log. On the wire it is the tuple
// [action, nodeData, timestampMs, eventIndex].
type ChangeRecord struct {
	Action     Action
	Node       NodeRecord
	Timestamp  int64 // epoch milliseconds
	EventIndex int
}

func (c ChangeRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{int(c.Action), c.Node, c.Timestamp, c.EventIndex})
}

func (c *ChangeRecord) UnmarshalJSON(data []byte) error {
	var action int
	if err := decodeTuple(data, &action, &c.Node, &c.Timestamp, &c.EventIndex); err != nil {
		return fmt.Errorf("change: record: %w", err)
	}
	c.Action = Action(action)
	if !c.Action.Valid() {
		return fmt.Errorf("change: record: unknown action %d", action)
	}
	return nil
}

// Str returns a pointer to s, for building attribute maps.
func Str(s string) *string { return &s }

// decodeTuple unmarshals a JSON array positionally into dst. Missing trailing
// elements leave their destinations untouched.
func decodeTuple(data []byte, dst ...any) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) > len(dst) {
		return fmt.Errorf("tuple has %d elements, want at most %d", len(raw), len(dst))
	}
	for i, r := range raw {
		if err := json.Unmarshal(r, dst[i]); err != nil {
			return fmt.Errorf("element %d: %w", i, err)
		}
	}
	return nil
}
