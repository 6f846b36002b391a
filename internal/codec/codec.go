// Package codec transcodes between local rich-text note bodies and the
// remote workspace block representation. It is pure and performs no I/O.
//
// The mapping is intentionally lossy: inline formatting, nesting and
// non-text blocks are flattened to plain text, but block ordering, coarse
// block kind and text content survive a round trip.
package codec

import (
	"strings"

	"golang.org/x/net/html"

	"github.com/nimbusnotes/nimbus/backend/internal/workspace"
)

// Kind is the coarse structural classification of a content block.
type Kind string

const (
	KindHeading1     Kind = Kind(workspace.BlockTypeHeading1)
	KindHeading2     Kind = Kind(workspace.BlockTypeHeading2)
	KindHeading3     Kind = Kind(workspace.BlockTypeHeading3)
	KindParagraph    Kind = Kind(workspace.BlockTypeParagraph)
	KindBulletedItem Kind = Kind(workspace.BlockTypeBulletedItem)
	KindNumberedItem Kind = Kind(workspace.BlockTypeNumberedItem)
	KindQuote        Kind = Kind(workspace.BlockTypeQuote)
	KindCode         Kind = Kind(workspace.BlockTypeCode)
)

// Block is the codec's canonical intermediate representation: a structural
// kind plus a plain-text payload with all markup stripped.
type Block struct {
	Kind Kind
	Text string
}

// Encode parses the rich-text body into a tree and flattens it to an ordered
// list of canonical blocks. It never fails: malformed or unrecognized markup
// degrades to paragraph blocks.
func Encode(body string) []Block {
	root, err := html.Parse(strings.NewReader(body))
	if err != nil {
		// html.Parse recovers from malformed input on its own; this
		// branch is only reachable on reader failure, which cannot
		// happen with a strings.Reader.
		trimmed := strings.TrimSpace(body)
		if trimmed == "" {
			return nil
		}
		return []Block{{Kind: KindParagraph, Text: trimmed}}
	}

	bodyNode := findElement(root, "body")
	if bodyNode == nil {
		return nil
	}

	var blocks []Block
	collectBlocks(bodyNode, &blocks)
	return blocks
}

// Remote converts canonical blocks to their remote wire representation.
func Remote(blocks []Block) []workspace.Block {
	remote := make([]workspace.Block, 0, len(blocks))
	for _, block := range blocks {
		remote = append(remote, workspace.NewTextBlock(string(block.Kind), block.Text))
	}
	return remote
}

// Decode renders remote blocks back into minimal rich-text markup, in block
// order. Unknown block types degrade to paragraphs; blocks with no text are
// skipped. Consecutive list items of the same kind are grouped under a
// single list element.
func Decode(blocks []workspace.Block) string {
	var segments []string
	for i := 0; i < len(blocks); {
		block := blocks[i]
		text := strings.TrimSpace(block.PlainText())
		if text == "" {
			i++
			continue
		}
		switch block.Type {
		case workspace.BlockTypeBulletedItem, workspace.BlockTypeNumberedItem:
			listTag := "ul"
			if block.Type == workspace.BlockTypeNumberedItem {
				listTag = "ol"
			}
			var items []string
			for i < len(blocks) && blocks[i].Type == block.Type {
				itemText := strings.TrimSpace(blocks[i].PlainText())
				if itemText != "" {
					items = append(items, "<li>"+html.EscapeString(itemText)+"</li>")
				}
				i++
			}
			segments = append(segments, "<"+listTag+">"+strings.Join(items, "")+"</"+listTag+">")
			continue
		case workspace.BlockTypeHeading1:
			segments = append(segments, "<h1>"+html.EscapeString(text)+"</h1>")
		case workspace.BlockTypeHeading2:
			segments = append(segments, "<h2>"+html.EscapeString(text)+"</h2>")
		case workspace.BlockTypeHeading3:
			segments = append(segments, "<h3>"+html.EscapeString(text)+"</h3>")
		case workspace.BlockTypeQuote:
			segments = append(segments, "<blockquote>"+html.EscapeString(text)+"</blockquote>")
		case workspace.BlockTypeCode:
			segments = append(segments, "<pre><code>"+html.EscapeString(text)+"</code></pre>")
		default:
			segments = append(segments, "<p>"+html.EscapeString(text)+"</p>")
		}
		i++
	}
	return strings.Join(segments, "\n")
}

// StripMarkup reduces a rich-text body to its plain text: the block texts in
// document order, joined by newlines.
func StripMarkup(body string) string {
	blocks := Encode(body)
	texts := make([]string, 0, len(blocks))
	for _, block := range blocks {
		texts = append(texts, block.Text)
	}
	return strings.Join(texts, "\n")
}

var blockLevelTags = map[string]bool{
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"p": true, "div": true, "section": true, "article": true,
	"ul": true, "ol": true, "li": true, "blockquote": true, "pre": true,
}

func collectBlocks(parent *html.Node, out *[]Block) {
	for child := parent.FirstChild; child != nil; child = child.NextSibling {
		switch child.Type {
		case html.TextNode:
			appendBlock(out, KindParagraph, child.Data)
		case html.ElementNode:
			classifyElement(child, out)
		}
	}
}

func classifyElement(node *html.Node, out *[]Block) {
	switch node.Data {
	case "h1":
		appendBlock(out, KindHeading1, textContent(node))
	case "h2":
		appendBlock(out, KindHeading2, textContent(node))
	case "h3":
		appendBlock(out, KindHeading3, textContent(node))
	case "h4", "h5", "h6":
		// deeper heading levels are not representable remotely
		appendBlock(out, KindHeading3, textContent(node))
	case "ul":
		collectListItems(node, KindBulletedItem, out)
	case "ol":
		collectListItems(node, KindNumberedItem, out)
	case "li":
		// stray list item outside a list element
		appendBlock(out, KindBulletedItem, textContent(node))
	case "blockquote":
		appendBlock(out, KindQuote, textContent(node))
	case "pre", "code":
		appendBlock(out, KindCode, textContent(node))
	case "p":
		appendBlock(out, KindParagraph, textContent(node))
	case "div", "section", "article", "main", "body":
		if hasBlockLevelChild(node) {
			collectBlocks(node, out)
			return
		}
		appendBlock(out, KindParagraph, textContent(node))
	case "br", "hr", "script", "style":
		// no text payload
	default:
		appendBlock(out, KindParagraph, textContent(node))
	}
}

func collectListItems(list *html.Node, kind Kind, out *[]Block) {
	for child := list.FirstChild; child != nil; child = child.NextSibling {
		if child.Type != html.ElementNode {
			continue
		}
		if child.Data == "li" {
			appendBlock(out, kind, textContent(child))
			continue
		}
		// nested list without an item wrapper
		if child.Data == "ul" {
			collectListItems(child, KindBulletedItem, out)
		}
		if child.Data == "ol" {
			collectListItems(child, KindNumberedItem, out)
		}
	}
}

func appendBlock(out *[]Block, kind Kind, text string) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return
	}
	*out = append(*out, Block{Kind: kind, Text: trimmed})
}

func textContent(node *html.Node) string {
	var builder strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			builder.WriteString(n.Data)
			return
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(node)
	return builder.String()
}

func hasBlockLevelChild(node *html.Node) bool {
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		if child.Type == html.ElementNode && blockLevelTags[child.Data] {
			return true
		}
	}
	return false
}

func findElement(root *html.Node, tag string) *html.Node {
	if root.Type == html.ElementNode && root.Data == tag {
		return root
	}
	for child := root.FirstChild; child != nil; child = child.NextSibling {
		if found := findElement(child, tag); found != nil {
			return found
		}
	}
	return nil
}
