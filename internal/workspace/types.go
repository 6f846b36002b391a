package workspace

import "time"

// Block types understood by the sync engine. The remote schema defines many
// more; anything outside this set is carried through with its text only.
const (
	BlockTypeHeading1     = "heading_1"
	BlockTypeHeading2     = "heading_2"
	BlockTypeHeading3     = "heading_3"
	BlockTypeParagraph    = "paragraph"
	BlockTypeBulletedItem = "bulleted_list_item"
	BlockTypeNumberedItem = "numbered_list_item"
	BlockTypeQuote        = "quote"
	BlockTypeCode         = "code"
)

// RichText is a single rich-text span inside a block body.
type RichText struct {
	PlainText string       `json:"plain_text,omitempty"`
	Text      *TextContent `json:"text,omitempty"`
}

// TextContent carries the writable side of a rich-text span.
type TextContent struct {
	Content string `json:"content"`
}

// RichTextBody is the shared payload shape of every text-bearing block type.
type RichTextBody struct {
	RichText []RichText `json:"rich_text"`
}

// Block is the remote system's atomic content unit. Exactly one of the typed
// bodies is populated, selected by Type.
type Block struct {
	ID           string        `json:"id,omitempty"`
	Type         string        `json:"type"`
	Heading1     *RichTextBody `json:"heading_1,omitempty"`
	Heading2     *RichTextBody `json:"heading_2,omitempty"`
	Heading3     *RichTextBody `json:"heading_3,omitempty"`
	Paragraph    *RichTextBody `json:"paragraph,omitempty"`
	BulletedItem *RichTextBody `json:"bulleted_list_item,omitempty"`
	NumberedItem *RichTextBody `json:"numbered_list_item,omitempty"`
	Quote        *RichTextBody `json:"quote,omitempty"`
	Code         *RichTextBody `json:"code,omitempty"`
}

// NewTextBlock builds a block of the given type carrying a single plain-text span.
func NewTextBlock(blockType, text string) Block {
	body := &RichTextBody{
		RichText: []RichText{{
			PlainText: text,
			Text:      &TextContent{Content: text},
		}},
	}
	block := Block{Type: blockType}
	switch blockType {
	case BlockTypeHeading1:
		block.Heading1 = body
	case BlockTypeHeading2:
		block.Heading2 = body
	case BlockTypeHeading3:
		block.Heading3 = body
	case BlockTypeBulletedItem:
		block.BulletedItem = body
	case BlockTypeNumberedItem:
		block.NumberedItem = body
	case BlockTypeQuote:
		block.Quote = body
	case BlockTypeCode:
		block.Code = body
	default:
		block.Type = BlockTypeParagraph
		block.Paragraph = body
	}
	return block
}

// PlainText concatenates the plain text of the populated block body.
func (b Block) PlainText() string {
	body := b.body()
	if body == nil {
		return ""
	}
	var text string
	for _, span := range body.RichText {
		if span.PlainText != "" {
			text += span.PlainText
			continue
		}
		if span.Text != nil {
			text += span.Text.Content
		}
	}
	return text
}

func (b Block) body() *RichTextBody {
	switch b.Type {
	case BlockTypeHeading1:
		return b.Heading1
	case BlockTypeHeading2:
		return b.Heading2
	case BlockTypeHeading3:
		return b.Heading3
	case BlockTypeParagraph:
		return b.Paragraph
	case BlockTypeBulletedItem:
		return b.BulletedItem
	case BlockTypeNumberedItem:
		return b.NumberedItem
	case BlockTypeQuote:
		return b.Quote
	case BlockTypeCode:
		return b.Code
	default:
		return b.Paragraph
	}
}

// DocumentProps is the writable property set of a remote document.
type DocumentProps struct {
	Title string
	Tags  []string
}

// Document is a remote record with properties and an ordered block list.
type Document struct {
	ID          string
	ContainerID string
	Title       string
	Tags        []string
	UpdatedAt   time.Time
}
