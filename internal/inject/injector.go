// Package inject appends user scripts to the <head> of HTML documents.
package inject

import (
	"bytes"
	"fmt"
	"regexp"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/Rorqualx/pagehook/internal/types"
	"github.com/Rorqualx/pagehook/internal/userscript"
)

// closingScript matches "</script" in any case. It is the only sequence
// that can terminate a script element's raw text early.
var closingScript = regexp.MustCompile(`(?i)</script`)

// Injector rewrites HTML documents. It holds no state and is safe for
// concurrent use.
type Injector struct{}

// New creates an Injector.
func New() *Injector {
	return &Injector{}
}

// Inject parses doc, appends one <script type="text/javascript"> element per
// script as the last children of <head> in the given order, and renders the
// result as UTF-8. Malformed markup is repaired by the parser rather than
// rejected. With no scripts the input is returned unchanged.
func (i *Injector) Inject(doc []byte, scripts []userscript.Script) ([]byte, error) {
	if len(scripts) == 0 {
		return doc, nil
	}

	parsed, err := goquery.NewDocumentFromReader(bytes.NewReader(doc))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrHTMLParse, err)
	}

	head := parsed.Find("head").First()
	if head.Length() == 0 {
		return nil, types.ErrNoHead
	}

	nodes := make([]*html.Node, 0, len(scripts))
	for _, s := range scripts {
		nodes = append(nodes, scriptNode(s.Source()))
	}
	head.AppendNodes(nodes...)

	var buf bytes.Buffer
	buf.Grow(len(doc) + 64*len(scripts))
	for _, root := range parsed.Nodes {
		if err := html.Render(&buf, root); err != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrHTMLRender, err)
		}
	}
	return buf.Bytes(), nil
}

func scriptNode(source string) *html.Node {
	script := &html.Node{
		Type:     html.ElementNode,
		DataAtom: atom.Script,
		Data:     "script",
		Attr:     []html.Attribute{{Key: "type", Val: "text/javascript"}},
	}
	script.AppendChild(&html.Node{
		Type: html.TextNode,
		Data: closingScript.ReplaceAllStringFunc(source, func(m string) string {
			return "<\\/" + m[2:]
		}),
	})
	return script
}
