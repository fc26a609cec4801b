package replay

// Op kinds of the journal executed in the destination page.
const (
	OpReset    = "reset"    // frame back to a blank document
	OpBind     = "bind"     // id -> existing document, doctype, html, head or body
	OpCreate   = "create"   // new detached node (or attached shadow root)
	OpInsert   = "insert"   // place id under parent
	OpRemove   = "remove"   // detach id
	OpEmpty    = "empty"    // drop children (and attributes with StripAttrs)
	OpAttrs    = "attrs"    // set or remove attributes
	OpProps    = "props"    // set properties, sheet.cssRules included
	OpText     = "text"     // replace text content
	OpLocation = "location" // history.replaceState
	OpNavigate = "navigate" // new main document
	OpScroll   = "scroll"
	OpOverlay  = "overlay" // highlight boxes
	OpMouse    = "mouse"
	OpStatus   = "status"
)

// Insert positions besides a sibling id.
const (
	InsertFirst = 0
	InsertLast  = -1
)

// Op is one primitive DOM operation. The Replayer performs it on its own
// document and journals it so the page executor can perform it too.
type Op struct {
	Op    string `json:"op"`
	Frame string `json:"frame,omitempty"`
	ID    int    `json:"id,omitempty"`

	Target   string  `json:"target,omitempty"`
	NodeType int     `json:"nodeType,omitempty"`
	Tag      string  `json:"tag,omitempty"`
	NS       string  `json:"ns,omitempty"`
	Text     *string `json:"text,omitempty"`

	Parent int `json:"parent,omitempty"`
	// Prev is the sibling id to insert after, InsertFirst or InsertLast.
	Prev int `json:"prev,omitempty"`

	KeepRoots  bool `json:"keepRoots,omitempty"`
	StripAttrs bool `json:"stripAttrs,omitempty"`

	Attrs  map[string]*string `json:"attrs,omitempty"`
	AttrNS map[string]string  `json:"attrNs,omitempty"`
	Props  map[string]any     `json:"props,omitempty"`

	URL string `json:"url,omitempty"`

	X       float64  `json:"x,omitempty"`
	Y       float64  `json:"y,omitempty"`
	Buttons []string `json:"buttons,omitempty"`

	Boxes        []Box `json:"boxes,omitempty"`
	OverflowUp   bool  `json:"overflowUp,omitempty"`
	OverflowDown bool  `json:"overflowDown,omitempty"`
}
