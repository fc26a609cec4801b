package dom

import (
	"fmt"

	"github.com/aymerick/douceur/parser"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Inspector reads state that is not part of the serialised tree: element
// properties and parsed stylesheet rules. A live browser page installs its
// own; in-memory documents answer from their own state.
type Inspector interface {
	Property(n *html.Node, name string) (any, bool)
	SheetRules(n *html.Node) ([]string, error)
}

// SetInspector replaces the default inspector. nil restores it.
func (d *Document) SetInspector(in Inspector) { d.inspector = in }

// Property returns the current value of property name on n and whether the
// element has that property at all.
func (d *Document) Property(n *html.Node, name string) (any, bool) {
	if d.inspector != nil {
		return d.inspector.Property(n, name)
	}
	return d.localProperty(n, name)
}

// SheetRules returns the CSS rule text of a <style> element.
func (d *Document) SheetRules(n *html.Node) ([]string, error) {
	if d.inspector != nil {
		return d.inspector.SheetRules(n)
	}
	return d.localSheetRules(n)
}

// SetProperty stores a property value, as a script assigning el.value would.
// No mutation record is queued.
func (d *Document) SetProperty(n *html.Node, name string, v any) {
	m := d.props[n]
	if m == nil {
		m = make(map[string]any)
		d.props[n] = m
	}
	m[name] = v
}

// SetSheetRules replaces a stylesheet's rules in place, as CSSOM insertRule
// or deleteRule would. No mutation record is queued.
func (d *Document) SetSheetRules(n *html.Node, rules []string) {
	d.sheets[n] = append([]string(nil), rules...)
}

func (d *Document) localProperty(n *html.Node, name string) (any, bool) {
	if n.Type != html.ElementNode || !hasProperty(n, name) {
		return nil, false
	}
	if v, ok := d.props[n][name]; ok {
		return v, true
	}
	switch name {
	case "value":
		switch n.DataAtom {
		case atom.Textarea:
			return TextContent(n), true
		case atom.Option:
			if v, ok := GetAttr(n, "", "value"); ok {
				return v, true
			}
			return TextContent(n), true
		case atom.Select:
			opts := options(n)
			idx := d.selectedIndex(n, opts)
			if idx < 0 {
				return "", true
			}
			v, _ := d.localProperty(opts[idx], "value")
			return v, true
		}
		v, _ := GetAttr(n, "", "value")
		return v, true
	case "checked":
		_, ok := GetAttr(n, "", "checked")
		return ok, true
	case "selected":
		_, ok := GetAttr(n, "", "selected")
		return ok, true
	case "selectedIndex":
		return d.selectedIndex(n, options(n)), true
	}
	return nil, false
}

func hasProperty(n *html.Node, name string) bool {
	switch name {
	case "value":
		switch n.DataAtom {
		case atom.Input, atom.Textarea, atom.Select, atom.Option, atom.Button:
			return true
		}
	case "checked":
		return n.DataAtom == atom.Input
	case "selected":
		return n.DataAtom == atom.Option
	case "selectedIndex":
		return n.DataAtom == atom.Select
	}
	return false
}

func (d *Document) selectedIndex(sel *html.Node, opts []*html.Node) int {
	for i, o := range opts {
		if v, ok := d.props[o]["selected"]; ok {
			if b, _ := v.(bool); b {
				return i
			}
			continue
		}
		if _, ok := GetAttr(o, "", "selected"); ok {
			return i
		}
	}
	if len(opts) > 0 {
		return 0
	}
	return -1
}

func options(sel *html.Node) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode {
				continue
			}
			if c.DataAtom == atom.Option {
				out = append(out, c)
			} else if c.DataAtom == atom.Optgroup {
				walk(c)
			}
		}
	}
	walk(sel)
	return out
}

func (d *Document) localSheetRules(n *html.Node) ([]string, error) {
	if n.Type != html.ElementNode || n.DataAtom != atom.Style {
		return nil, nil
	}
	if rules, ok := d.sheets[n]; ok {
		return rules, nil
	}
	return ParseRules(TextContent(n))
}

// ParseRules splits CSS source into one string per top-level rule.
func ParseRules(css string) ([]string, error) {
	sheet, err := parser.Parse(css)
	if err != nil {
		return nil, fmt.Errorf("dom: parse css: %w", err)
	}
	out := make([]string, 0, len(sheet.Rules))
	for _, r := range sheet.Rules {
		out = append(out, r.String())
	}
	return out, nil
}
