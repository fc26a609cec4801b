package dom

import (
	"strings"
	"testing"
)

func mustParse(t *testing.T, src string) *Document {
	t.Helper()
	d, err := Parse("https://example.test/", src)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func TestRecordsOnlyWhileObserving(t *testing.T) {
	d := New("about:blank")
	d.AppendChild(d.Body(), Element("p"))
	if d.Pending() != 0 {
		t.Fatalf("records queued before Observe: %d", d.Pending())
	}

	d.Observe()
	div := Element("div")
	d.AppendChild(d.Body(), div)
	recs := d.TakeRecords()
	if len(recs) != 1 {
		t.Fatalf("got %d records, want 1", len(recs))
	}
	if recs[0].Type != ChildList || recs[0].AddedNodes[0] != div {
		t.Errorf("unexpected record %+v", recs[0])
	}
	if recs[0].PreviousSibling == nil || recs[0].PreviousSibling.Data != "p" {
		t.Errorf("PreviousSibling: got %v, want <p>", recs[0].PreviousSibling)
	}
}

func TestDetachedSubtreeNotObserved(t *testing.T) {
	d := New("about:blank")
	d.Observe()
	detached := Element("section")
	d.AppendChild(detached, Element("span"))
	d.SetAttr(detached, "", "class", "x")
	if d.Pending() != 0 {
		t.Errorf("detached mutations queued: %d", d.Pending())
	}
}

func TestMoveQueuesRemoveThenAdd(t *testing.T) {
	d := mustParse(t, `<div id="a"><span id="s"></span></div><div id="b"></div>`)
	d.Observe()
	s := FindByID(d.Root(), "s")
	b := FindByID(d.Root(), "b")

	d.AppendChild(b, s)
	recs := d.TakeRecords()
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2", len(recs))
	}
	if len(recs[0].RemovedNodes) != 1 || len(recs[1].AddedNodes) != 1 {
		t.Errorf("want remove then add, got %+v", recs)
	}
}

func TestInsertInPlace(t *testing.T) {
	d := New("about:blank")
	a, b := Element("a"), Element("b")
	d.AppendChild(d.Body(), a)
	d.AppendChild(d.Body(), b)

	d.Prepend(d.Body(), a)
	d.InsertAfter(d.Body(), b, a)
	d.InsertBefore(d.Body(), b, b)

	var tags []string
	for c := d.Body().FirstChild; c != nil && len(tags) < 4; c = c.NextSibling {
		tags = append(tags, c.Data)
	}
	if got := strings.Join(tags, ","); got != "a,b" {
		t.Errorf("children: got %q, want %q", got, "a,b")
	}
	if d.Body().LastChild != b || b.PrevSibling != a {
		t.Errorf("sibling links broken: last=%v prev=%v", d.Body().LastChild, b.PrevSibling)
	}
}

func TestSetTextContentOnElement(t *testing.T) {
	d := mustParse(t, `<p id="p">a<b>b</b></p>`)
	d.Observe()
	p := FindByID(d.Root(), "p")

	d.SetTextContent(p, "hello")
	recs := d.TakeRecords()
	if len(recs) != 1 {
		t.Fatalf("got %d records, want 1", len(recs))
	}
	if len(recs[0].RemovedNodes) != 2 || len(recs[0].AddedNodes) != 1 {
		t.Errorf("removed=%d added=%d", len(recs[0].RemovedNodes), len(recs[0].AddedNodes))
	}
	if got := TextContent(p); got != "hello" {
		t.Errorf("TextContent: got %q", got)
	}
}

func TestUnchangedAttributeQueuesNothing(t *testing.T) {
	d := mustParse(t, `<p id="p" class="a"></p>`)
	d.Observe()
	p := FindByID(d.Root(), "p")
	d.SetAttr(p, "", "class", "a")
	if d.Pending() != 0 {
		t.Errorf("got %d records", d.Pending())
	}
	d.RemoveAttr(p, "", "class")
	if d.Pending() != 1 {
		t.Errorf("removal: got %d records, want 1", d.Pending())
	}
}

func TestProperties(t *testing.T) {
	d := mustParse(t, `<select id="s"><option>a</option><option value="bv" selected>b</option></select>
		<input id="i" value="init"><input id="c" type="checkbox" checked><div id="d"></div>`)
	sel := FindByID(d.Root(), "s")
	in := FindByID(d.Root(), "i")

	if v, _ := d.Property(sel, "selectedIndex"); v != 1 {
		t.Errorf("selectedIndex: got %v, want 1", v)
	}
	if v, _ := d.Property(sel, "value"); v != "bv" {
		t.Errorf("select value: got %v, want bv", v)
	}
	if v, _ := d.Property(FindByID(d.Root(), "c"), "checked"); v != true {
		t.Errorf("checked: got %v", v)
	}
	if _, ok := d.Property(FindByID(d.Root(), "d"), "value"); ok {
		t.Error("div should not expose value")
	}

	d.SetProperty(in, "value", "typed")
	if v, _ := d.Property(in, "value"); v != "typed" {
		t.Errorf("value after typing: got %v", v)
	}
}

func TestSheetRules(t *testing.T) {
	d := mustParse(t, `<style id="st">body { color: red } p { margin: 0 }</style>`)
	st := FindByID(d.Root(), "st")

	rules, err := d.SheetRules(st)
	if err != nil {
		t.Fatal(err)
	}
	if len(rules) != 2 || !strings.HasPrefix(rules[0], "body") {
		t.Errorf("rules: got %q", rules)
	}

	d.SetSheetRules(st, []string{"p { margin: 1px; }"})
	rules, _ = d.SheetRules(st)
	if len(rules) != 1 {
		t.Errorf("after CSSOM edit: got %q", rules)
	}
}

func TestShadowRootConnected(t *testing.T) {
	d := mustParse(t, `<div id="host"></div>`)
	d.Observe()
	host := FindByID(d.Root(), "host")
	sr := d.AttachShadow(host)

	d.AppendChild(sr, Element("slot"))
	if d.Pending() != 1 {
		t.Errorf("shadow mutation not observed: %d", d.Pending())
	}
	if d.Host(sr) != host || !d.IsShadowRoot(sr) {
		t.Error("host lookup broken")
	}
}
