package render

import (
	"bytes"
	"fmt"
	"regexp"

	mathml "github.com/wyatt915/goldmark-treeblood"
	"github.com/wyatt915/treeblood"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/util"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var markdown = goldmark.New(
	goldmark.WithExtensions(
		extension.GFM,
		mathExtension{},
	),
)

// mathExtension registers treeblood's display-math block parser and
// MathML renderer. The companion inline parser computes a non-positive
// advance whenever a $$ region follows other text on its line, which
// spins goldmark's inline loop forever on untrusted input, so it is
// never registered; normalizeMath rewrites inline regions into the
// block form instead.
type mathExtension struct{}

func (mathExtension) Extend(m goldmark.Markdown) {
	m.Parser().AddOptions(
		parser.WithBlockParsers(
			util.Prioritized(mathml.NewTexBlockRegionParser(), 90),
		),
	)
	m.Renderer().AddOptions(
		renderer.WithNodeRenderers(
			util.Prioritized(mathml.NewMathRenderer(treeblood.NewDocument(nil, false)), 100),
		),
	)
}

var inlineDisplayMath = regexp.MustCompile(`\$\$(.+?)\$\$`)

// normalizeMath rewrites single-line $$...$$ regions into the form the
// block parser consumes: the TeX on the opening line, the closing
// delimiter alone on the next. Fenced code passes through untouched.
func normalizeMath(doc []byte) []byte {
	var out bytes.Buffer
	inFence := false
	for _, line := range bytes.SplitAfter(doc, []byte("\n")) {
		trimmed := bytes.TrimLeft(line, " \t")
		if bytes.HasPrefix(trimmed, []byte("```")) || bytes.HasPrefix(trimmed, []byte("~~~")) {
			inFence = !inFence
		}
		if inFence || !inlineDisplayMath.Match(line) {
			out.Write(line)
			continue
		}
		out.Write(inlineDisplayMath.ReplaceAll(line, []byte("\n$$$$${1}\n$$$$\n")))
	}
	return out.Bytes()
}

// markdownToHTML renders Markdown input as a standalone HTML page for
// the rasterizer.
func markdownToHTML(doc []byte) ([]byte, error) {
	var body bytes.Buffer
	if err := markdown.Convert(normalizeMath(doc), &body); err != nil {
		return nil, fmt.Errorf("convert markdown: %w", err)
	}
	var page bytes.Buffer
	page.WriteString("<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\"></head><body>\n")
	page.Write(body.Bytes())
	page.WriteString("</body></html>\n")
	return page.Bytes(), nil
}

// activeTags are elements removed from HTML input before
// rasterization. The rasterizer never executes scripts, but stripping
// them keeps MuPDF's HTML handler away from attacker-chosen subtrees
// it has no reason to see.
var activeTags = map[atom.Atom]bool{
	atom.Script: true,
	atom.Iframe: true,
	atom.Object: true,
	atom.Embed:  true,
	atom.Applet: true,
}

// stripActiveContent parses untrusted HTML, removes active-content
// elements, event-handler attributes, and javascript: URLs, and
// re-serializes the document.
func stripActiveContent(doc []byte) ([]byte, error) {
	root, err := html.Parse(bytes.NewReader(doc))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	strip(root)
	var out bytes.Buffer
	if err := html.Render(&out, root); err != nil {
		return nil, fmt.Errorf("render html: %w", err)
	}
	return out.Bytes(), nil
}

func strip(n *html.Node) {
	var next *html.Node
	for c := n.FirstChild; c != nil; c = next {
		next = c.NextSibling
		if c.Type == html.ElementNode && activeTags[c.DataAtom] {
			n.RemoveChild(c)
			continue
		}
		strip(c)
	}
	if n.Type != html.ElementNode {
		return
	}
	kept := n.Attr[:0]
	for _, a := range n.Attr {
		if len(a.Key) > 2 && a.Key[:2] == "on" {
			continue
		}
		if (a.Key == "href" || a.Key == "src") && hasJavascriptScheme(a.Val) {
			continue
		}
		kept = append(kept, a)
	}
	n.Attr = kept
}

func hasJavascriptScheme(val string) bool {
	const scheme = "javascript:"
	if len(val) < len(scheme) {
		return false
	}
	for i := 0; i < len(scheme); i++ {
		c := val[i]
		if 'A' <= c && c <= 'Z' {
			c += 'a' - 'A'
		}
		if c != scheme[i] {
			return false
		}
	}
	return true
}
