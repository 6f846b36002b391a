package codec

import (
	"reflect"
	"testing"

	"github.com/nimbusnotes/nimbus/backend/internal/workspace"
)

func TestEncodeClassifiesHeadingAndParagraph(t *testing.T) {
	blocks := Encode("<h1>Goals</h1><p>Ship v1</p>")
	expected := []Block{
		{Kind: KindHeading1, Text: "Goals"},
		{Kind: KindParagraph, Text: "Ship v1"},
	}
	if !reflect.DeepEqual(blocks, expected) {
		t.Fatalf("unexpected blocks: %#v", blocks)
	}
}

func TestEncodeClassifiesAllSupportedKinds(t *testing.T) {
	body := "<h1>One</h1><h2>Two</h2><h3>Three</h3>" +
		"<ul><li>alpha</li><li>beta</li></ul>" +
		"<ol><li>first</li></ol>" +
		"<blockquote>wise words</blockquote>" +
		"<pre><code>x = 1</code></pre>" +
		"<p>closing</p>"
	blocks := Encode(body)
	expectedKinds := []Kind{
		KindHeading1, KindHeading2, KindHeading3,
		KindBulletedItem, KindBulletedItem,
		KindNumberedItem,
		KindQuote,
		KindCode,
		KindParagraph,
	}
	if len(blocks) != len(expectedKinds) {
		t.Fatalf("expected %d blocks, got %d: %#v", len(expectedKinds), len(blocks), blocks)
	}
	for i, kind := range expectedKinds {
		if blocks[i].Kind != kind {
			t.Fatalf("block %d: expected kind %s, got %s", i, kind, blocks[i].Kind)
		}
	}
}

func TestEncodeStripsInlineMarkup(t *testing.T) {
	blocks := Encode("<p><b>Bold</b> move</p>")
	if len(blocks) != 1 {
		t.Fatalf("expected one block, got %#v", blocks)
	}
	if blocks[0].Text != "Bold move" {
		t.Fatalf("expected inline markup stripped, got %q", blocks[0].Text)
	}
}

func TestEncodeRecursesIntoContainers(t *testing.T) {
	blocks := Encode("<div><p>first</p><p>second</p></div>")
	if len(blocks) != 2 {
		t.Fatalf("expected two blocks, got %#v", blocks)
	}
	if blocks[0].Text != "first" || blocks[1].Text != "second" {
		t.Fatalf("unexpected texts: %#v", blocks)
	}
}

func TestEncodeDegradesUnknownFragmentsToParagraphs(t *testing.T) {
	blocks := Encode("<span>floating</span>loose text<custom>odd</custom>")
	if len(blocks) != 3 {
		t.Fatalf("expected three blocks, got %#v", blocks)
	}
	for i, block := range blocks {
		if block.Kind != KindParagraph {
			t.Fatalf("block %d: expected paragraph degradation, got %s", i, block.Kind)
		}
	}
}

func TestEncodeDropsEmptyBlocks(t *testing.T) {
	blocks := Encode("<p></p><p>   </p><p>kept</p><br><hr>")
	if len(blocks) != 1 {
		t.Fatalf("expected one block, got %#v", blocks)
	}
	if blocks[0].Text != "kept" {
		t.Fatalf("unexpected text: %q", blocks[0].Text)
	}
}

func TestEncodeOfEmptyBodyIsEmpty(t *testing.T) {
	if blocks := Encode(""); len(blocks) != 0 {
		t.Fatalf("expected no blocks, got %#v", blocks)
	}
	if blocks := Encode("   \n  "); len(blocks) != 0 {
		t.Fatalf("expected no blocks for whitespace body, got %#v", blocks)
	}
}

func TestEncodeSurvivesMalformedMarkup(t *testing.T) {
	blocks := Encode("<h1>open heading<p>unclosed<ul><li>item")
	if len(blocks) == 0 {
		t.Fatalf("expected best-effort blocks for malformed input")
	}
	for _, block := range blocks {
		if block.Text == "" {
			t.Fatalf("expected non-empty block text, got %#v", blocks)
		}
	}
}

func TestEncodeIsDeterministic(t *testing.T) {
	body := "<h2>Title</h2><ul><li>a</li><li>b</li></ul><p>tail</p>"
	first := Encode(body)
	second := Encode(body)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("expected stable encoding: %#v vs %#v", first, second)
	}
}

func TestDecodeGroupsConsecutiveListItems(t *testing.T) {
	rendered := Decode([]workspace.Block{
		workspace.NewTextBlock(workspace.BlockTypeBulletedItem, "a"),
		workspace.NewTextBlock(workspace.BlockTypeBulletedItem, "b"),
		workspace.NewTextBlock(workspace.BlockTypeNumberedItem, "c"),
	})
	expected := "<ul><li>a</li><li>b</li></ul>\n<ol><li>c</li></ol>"
	if rendered != expected {
		t.Fatalf("unexpected rendering: %q", rendered)
	}
}

func TestDecodeSkipsEmptyBlocks(t *testing.T) {
	rendered := Decode([]workspace.Block{
		workspace.NewTextBlock(workspace.BlockTypeParagraph, "   "),
		workspace.NewTextBlock(workspace.BlockTypeParagraph, "real"),
	})
	if rendered != "<p>real</p>" {
		t.Fatalf("unexpected rendering: %q", rendered)
	}
}

func TestDecodeEscapesText(t *testing.T) {
	rendered := Decode([]workspace.Block{
		workspace.NewTextBlock(workspace.BlockTypeParagraph, "a < b & c"),
	})
	if rendered != "<p>a &lt; b &amp; c</p>" {
		t.Fatalf("unexpected rendering: %q", rendered)
	}
	blocks := Encode(rendered)
	if len(blocks) != 1 || blocks[0].Text != "a < b & c" {
		t.Fatalf("expected escape round trip, got %#v", blocks)
	}
}

func TestDecodeDegradesUnknownTypeWithParagraphBody(t *testing.T) {
	odd := workspace.Block{
		Type: "callout",
		Paragraph: &workspace.RichTextBody{
			RichText: []workspace.RichText{{PlainText: "side note"}},
		},
	}
	rendered := Decode([]workspace.Block{odd})
	if rendered != "<p>side note</p>" {
		t.Fatalf("unexpected rendering: %q", rendered)
	}
}

func TestRoundTripPreservesTextAndKinds(t *testing.T) {
	inputs := []string{
		"<h1>Goals</h1><p>Ship v1</p>",
		"<h2>Agenda</h2><ul><li>one</li><li>two</li></ul><p>done</p>",
		"<blockquote>saying</blockquote><pre><code>f(x)</code></pre>",
		"<p><i>styled</i> text</p><ol><li>step</li></ol>",
		"plain leading text<p>then a paragraph</p>",
	}
	for _, input := range inputs {
		original := Encode(input)
		roundTripped := Encode(Decode(Remote(original)))
		if len(original) != len(roundTripped) {
			t.Fatalf("input %q: block count changed: %#v vs %#v", input, original, roundTripped)
		}
		for i := range original {
			if original[i].Kind != roundTripped[i].Kind {
				t.Fatalf("input %q: block %d kind changed: %s vs %s", input, i, original[i].Kind, roundTripped[i].Kind)
			}
			if original[i].Text != roundTripped[i].Text {
				t.Fatalf("input %q: block %d text changed: %q vs %q", input, i, original[i].Text, roundTripped[i].Text)
			}
		}
		if StripMarkup(input) != StripMarkup(Decode(Remote(original))) {
			t.Fatalf("input %q: stripped text diverged", input)
		}
	}
}

func TestStripMarkupJoinsBlockTexts(t *testing.T) {
	stripped := StripMarkup("<h1>Goals</h1><p>Ship v1</p>")
	if stripped != "Goals\nShip v1" {
		t.Fatalf("unexpected stripped text: %q", stripped)
	}
}
