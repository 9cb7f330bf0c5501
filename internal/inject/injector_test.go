package inject

import (
	"bytes"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"

	"github.com/Rorqualx/pagehook/internal/userscript"
)

func parse(t *testing.T, doc []byte) *goquery.Document {
	t.Helper()
	d, err := goquery.NewDocumentFromReader(bytes.NewReader(doc))
	if err != nil {
		t.Fatalf("Failed to parse output: %v", err)
	}
	return d
}

func TestInjectOrderAndBodyPreserved(t *testing.T) {
	input := []byte(`<!DOCTYPE html><html><head><title>T</title></head><body><p id="c">Hello <b>world</b></p></body></html>`)
	scripts := []userscript.Script{
		userscript.New("var a = 1;", userscript.DocumentStart, false),
		userscript.New("var b = 2;", userscript.DocumentEnd, false),
		userscript.New("var c = 3;", userscript.DocumentStart, true),
	}

	out, err := New().Inject(input, scripts)
	if err != nil {
		t.Fatalf("Inject() error = %v", err)
	}

	doc := parse(t, out)
	found := doc.Find("head > script")
	if found.Length() != 3 {
		t.Fatalf("Expected 3 scripts in head, got %d", found.Length())
	}

	found.Each(func(i int, s *goquery.Selection) {
		if s.Text() != scripts[i].Source() {
			t.Errorf("script[%d] = %q, want %q", i, s.Text(), scripts[i].Source())
		}
		if typ, _ := s.Attr("type"); typ != "text/javascript" {
			t.Errorf("script[%d] type = %q", i, typ)
		}
	})

	// Scripts are the last children of head.
	if doc.Find("head").Children().Last().Text() != "var c = 3;" {
		t.Error("Expected last script to be the last child of head")
	}

	original := parse(t, input)
	if got, want := doc.Find("body").Text(), original.Find("body").Text(); got != want {
		t.Errorf("Body text changed: %q != %q", got, want)
	}
	if !strings.HasPrefix(string(out), "<!DOCTYPE html>") {
		t.Errorf("Doctype not preserved: %q", string(out)[:20])
	}
}

func TestInjectSerializedForm(t *testing.T) {
	out, err := New().Inject([]byte("<html><head></head><body>x</body></html>"),
		[]userscript.Script{userscript.New("console.log(1)", userscript.DocumentStart, false)})
	if err != nil {
		t.Fatalf("Inject() error = %v", err)
	}

	want := `<head><script type="text/javascript">console.log(1)</script></head>`
	if !strings.Contains(string(out), want) {
		t.Errorf("Output %q does not contain %q", out, want)
	}
}

func TestInjectMalformedMarkup(t *testing.T) {
	out, err := New().Inject([]byte("<p>unclosed <div>tags"),
		[]userscript.Script{userscript.New("ok()", userscript.DocumentStart, false)})
	if err != nil {
		t.Fatalf("Inject() error = %v", err)
	}

	doc := parse(t, out)
	if doc.Find("head > script").Text() != "ok()" {
		t.Errorf("Script missing from repaired document: %s", out)
	}
	if !strings.Contains(doc.Find("body").Text(), "unclosed tags") {
		t.Errorf("Body content lost: %s", out)
	}
}

func TestInjectEscapesClosingTag(t *testing.T) {
	src := `document.write("</SCRIPT>");`
	out, err := New().Inject([]byte("<html><head></head><body></body></html>"),
		[]userscript.Script{userscript.New(src, userscript.DocumentStart, false)})
	if err != nil {
		t.Fatalf("Inject() error = %v", err)
	}

	if !strings.Contains(string(out), `document.write("<\/SCRIPT>");</script>`) {
		t.Errorf("Closing tag not neutralised: %s", out)
	}
	if parse(t, out).Find("head > script").Length() != 1 {
		t.Error("Expected exactly one script element")
	}
}

func TestInjectNoScriptsReturnsInput(t *testing.T) {
	input := []byte("<p>not touched")
	out, err := New().Inject(input, nil)
	if err != nil {
		t.Fatalf("Inject() error = %v", err)
	}
	if !bytes.Equal(out, input) {
		t.Errorf("Expected input unchanged, got %q", out)
	}
}
