package copus

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var htmlStripPolicy = bluemonday.StrictPolicy()

// FlattenHTML turns pasted HTML into plain text. Paragraph, list item and
// line break tags become newlines; everything else is stripped.
func FlattenHTML(raw string) string {
	res := raw
	for _, tag := range []string{"<p>", "<li>", "<br>", "<br/>", "<br />"} {
		res = strings.ReplaceAll(res, tag, "\n")
	}
	res = htmlStripPolicy.Sanitize(res)
	res = html.UnescapeString(res)
	return strings.Trim(res, "\n")
}

// RenderHTML writes the document as HTML. Blocks and runs carry their
// stable ids in data-id; spans become <mark> elements with data-ids,
// data-source and data-branch.
func (d *Document) RenderHTML(w io.Writer) error {
	for _, c := range d.nodes[d.root].children {
		if err := html.Render(w, d.htmlNode(c)); err != nil {
			return fmt.Errorf("rendering html: %w", err)
		}
	}
	return nil
}

// RenderRangeHTML renders only the text covered by sel, grouped by the
// blocks it touches.
func (d *Document) RenderRangeHTML(sel RangeSelection) (string, error) {
	start, end, _, err := d.normalize(sel)
	if err != nil {
		return "", err
	}
	gs, _ := d.globalOffset(start)
	ge, _ := d.globalOffset(end)

	var buf bytes.Buffer
	var block *html.Node
	var blockKey NodeKey
	flush := func() error {
		if block == nil {
			return nil
		}
		return html.Render(&buf, block)
	}

	total := 0
	for _, run := range d.textRunsUnder(d.root) {
		size := run.TextSize()
		from, to := max(gs-total, 0), min(ge-total, size)
		total += size
		if from >= to {
			continue
		}
		b := d.nearestBlock(run.key)
		if block == nil || b.key != blockKey {
			if err := flush(); err != nil {
				return "", fmt.Errorf("rendering html: %w", err)
			}
			block = d.element(b)
			blockKey = b.key
		}
		piece := d.runElement(run, runeSlice(run.text, from, to))
		if parent := d.nodes[run.parent]; parent.kind == KindMark {
			m := d.element(parent)
			m.AppendChild(piece)
			piece = m
		}
		block.AppendChild(piece)
	}
	if err := flush(); err != nil {
		return "", fmt.Errorf("rendering html: %w", err)
	}
	return buf.String(), nil
}

// htmlNode builds the subtree for key.
func (d *Document) htmlNode(key NodeKey) *html.Node {
	n := d.nodes[key]
	if n.kind == KindText {
		return d.runElement(n, n.text)
	}
	el := d.element(n)
	for _, c := range n.children {
		el.AppendChild(d.htmlNode(c))
	}
	return el
}

func (d *Document) element(n *Node) *html.Node {
	var a atom.Atom
	var attrs []html.Attribute
	switch n.kind {
	case KindParagraph:
		a = atom.P
	case KindHeading:
		a = atom.Lookup([]byte(n.tag))
		if a == 0 || !strings.HasPrefix(n.tag, "h") {
			a = atom.H1
		}
	case KindQuote:
		a = atom.Blockquote
	case KindCode:
		a = atom.Pre
		if n.tag != "" {
			attrs = append(attrs, html.Attribute{Key: "data-language", Val: n.tag})
		}
	case KindList:
		a = atom.Ul
		if n.tag == "number" {
			a = atom.Ol
		}
	case KindListItem:
		a = atom.Li
	case KindMark:
		a = atom.Mark
		attrs = append(attrs,
			html.Attribute{Key: "data-ids", Val: strings.Join(n.ids, ",")},
			html.Attribute{Key: "data-source", Val: strconv.Itoa(n.sourceCount)},
			html.Attribute{Key: "data-branch", Val: strconv.Itoa(n.branchCount)},
		)
	default:
		a = atom.Div
	}
	if n.id != "" {
		attrs = append([]html.Attribute{{Key: "data-id", Val: string(n.id)}}, attrs...)
	}
	return &html.Node{Type: html.ElementNode, DataAtom: a, Data: a.String(), Attr: attrs}
}

var formatAtoms = []struct {
	format TextFormat
	atom   atom.Atom
}{
	{FormatBold, atom.Strong},
	{FormatItalic, atom.Em},
	{FormatStrikethrough, atom.S},
	{FormatUnderline, atom.U},
	{FormatCode, atom.Code},
	{FormatSubscript, atom.Sub},
	{FormatSuperscript, atom.Sup},
}

func (d *Document) runElement(run *Node, text string) *html.Node {
	span := &html.Node{
		Type:     html.ElementNode,
		DataAtom: atom.Span,
		Data:     "span",
		Attr:     []html.Attribute{{Key: "data-id", Val: string(run.id)}},
	}
	inner := span
	for _, f := range formatAtoms {
		if run.format&f.format == 0 {
			continue
		}
		el := &html.Node{Type: html.ElementNode, DataAtom: f.atom, Data: f.atom.String()}
		inner.AppendChild(el)
		inner = el
	}
	inner.AppendChild(&html.Node{Type: html.TextNode, Data: text})
	return span
}
