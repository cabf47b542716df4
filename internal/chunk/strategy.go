package chunk

import "strings"

// Strategy selects how a document is split into chunks.
type Strategy int

const (
	// FixedSize slides a fixed window with overlap; the default for plain
	// text and anything unrecognized.
	FixedSize Strategy = iota

	// Paragraph packs whole paragraphs up to the target size; better for
	// prose formats with meaningful blank-line structure.
	Paragraph

	// Layout is paragraph packing that also respects form-feed page breaks
	// and records page numbers; for text extracted from paginated formats.
	Layout
)

func (s Strategy) String() string {
	switch s {
	case FixedSize:
		return "fixed"
	case Paragraph:
		return "paragraph"
	case Layout:
		return "layout"
	default:
		return "unknown"
	}
}

// StrategyForMIME maps a document MIME type to its chunking strategy.
// Pure dispatch; unknown types fall back to FixedSize.
func StrategyForMIME(mimeType string) Strategy {
	// Strip parameters ("text/html; charset=utf-8") and normalize.
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))

	switch mimeType {
	case "text/markdown", "text/html", "application/xhtml+xml":
		return Paragraph
	case "application/pdf":
		return Layout
	default:
		return FixedSize
	}
}
