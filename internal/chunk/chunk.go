// Package chunk splits extracted document text into bounded, overlapping
// segments for embedding and retrieval.
//
// Every chunk records its exact byte offsets into the source text. Retrieval
// citations point back through these offsets, so all strategies guarantee
// total coverage: the union of chunk spans tiles the whole input and
// text[Start:End] always equals the chunk's Text. Chunks are never trimmed or
// dropped, even when small.
package chunk

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// ErrConfig indicates invalid chunking parameters. It is surfaced at
// ingestion time and never silently defaulted.
var ErrConfig = errors.New("invalid chunking configuration")

// Defaults for Options. Values are byte counts.
const (
	DefaultSize    = 1000
	DefaultOverlap = 200
	DefaultMinSize = 100
)

// Chunk is a contiguous span of a source document's text.
type Chunk struct {
	// Index is the position order within the document.
	Index int

	// Text is the chunk content; always equal to source[Start:End].
	Text string

	// Start and End are byte offsets into the source text, End exclusive.
	Start int
	End   int

	// Page is a 1-based page locator assigned by the Layout strategy.
	// Zero when the strategy carries no page information.
	Page int
}

// Options configures chunking. The zero value selects the package defaults
// (1000/200/100); any explicitly sized Options is used as-is and validated.
type Options struct {
	// Size is the target chunk size in bytes.
	Size int

	// Overlap is the number of bytes shared between consecutive fixed-size
	// chunks. Must be smaller than Size.
	Overlap int

	// MinSize bounds the word-boundary backtrack: a chunk is never shortened
	// below Start+MinSize when searching for a space to break on.
	MinSize int
}

func (o Options) withDefaults() Options {
	if o == (Options{}) {
		return Options{Size: DefaultSize, Overlap: DefaultOverlap, MinSize: DefaultMinSize}
	}
	return o
}

func (o Options) validate() error {
	if o.Size < 1 {
		return fmt.Errorf("%w: size must be positive, got %d", ErrConfig, o.Size)
	}
	if o.Overlap < 0 || o.Overlap >= o.Size {
		return fmt.Errorf("%w: overlap must be in [0, size), got overlap=%d size=%d", ErrConfig, o.Overlap, o.Size)
	}
	if o.MinSize < 0 || o.MinSize > o.Size {
		return fmt.Errorf("%w: min size must be in [0, size], got %d", ErrConfig, o.MinSize)
	}
	return nil
}

// span is a half-open byte range with an optional page locator.
type span struct {
	start, end int
	page       int
}

// Split chunks text with the given strategy. Empty input yields no chunks;
// text shorter than Options.Size yields exactly one chunk spanning the whole
// text. Returns ErrConfig for invalid options.
func Split(text string, s Strategy, o Options) ([]Chunk, error) {
	o = o.withDefaults()
	if err := o.validate(); err != nil {
		return nil, err
	}
	if len(text) == 0 {
		return nil, nil
	}

	var spans []span
	switch s {
	case FixedSize:
		for _, fs := range fixedSpans(text, o) {
			spans = append(spans, span{start: fs[0], end: fs[1]})
		}
	case Paragraph:
		for _, ps := range paragraphSpans(text, o) {
			spans = append(spans, span{start: ps[0], end: ps[1]})
		}
	case Layout:
		spans = layoutSpans(text, o)
	default:
		return nil, fmt.Errorf("%w: unknown strategy %v", ErrConfig, s)
	}

	chunks := make([]Chunk, len(spans))
	for i, sp := range spans {
		chunks[i] = Chunk{
			Index: i,
			Text:  text[sp.start:sp.end],
			Start: sp.start,
			End:   sp.end,
			Page:  sp.page,
		}
	}
	return chunks, nil
}

// fixedSpans slides a window of o.Size over text, stepping back by o.Overlap.
// Window ends back up to the last space in the window when one exists beyond
// MinSize, so words are not cut mid-way. Spaceless text (CJK and friends) has
// no such break point; cuts there back up to the nearest rune boundary so no
// chunk carries invalid UTF-8.
func fixedSpans(text string, o Options) [][2]int {
	var spans [][2]int
	n := len(text)

	start := 0
	for start < n {
		end := start + o.Size
		if end >= n {
			end = n
		} else if sp := strings.LastIndexByte(text[start:end], ' '); sp > o.MinSize {
			end = start + sp
		} else {
			for end > start && !utf8.RuneStart(text[end]) {
				end--
			}
			if end == start {
				// Window smaller than one rune; accept the raw cut rather
				// than stall.
				end = start + o.Size
			}
		}

		spans = append(spans, [2]int{start, end})
		if end == n {
			break
		}

		next := end - o.Overlap
		// The overlap step may land inside a rune; widen the overlap to the
		// rune start.
		for next > start && !utf8.RuneStart(text[next]) {
			next--
		}
		if next <= start {
			// Overlap would stall the window; give up the overlap for this
			// step rather than loop forever.
			next = end
		}
		start = next
	}
	return spans
}

// paragraphSpans packs whole paragraphs into spans of at most o.Size bytes.
// Paragraph separators stay inside the spans so the spans tile the input
// exactly. A single paragraph larger than o.Size falls back to fixed-size
// sub-chunking with offsets rebased into the original text.
func paragraphSpans(text string, o Options) [][2]int {
	segs := paragraphSegments(text)

	var out [][2]int
	curStart, curEnd := -1, -1
	flush := func() {
		if curStart >= 0 {
			out = append(out, [2]int{curStart, curEnd})
			curStart, curEnd = -1, -1
		}
	}

	for _, sg := range segs {
		if sg[1]-sg[0] > o.Size {
			flush()
			for _, fs := range fixedSpans(text[sg[0]:sg[1]], o) {
				out = append(out, [2]int{sg[0] + fs[0], sg[0] + fs[1]})
			}
			continue
		}

		switch {
		case curStart < 0:
			curStart, curEnd = sg[0], sg[1]
		case sg[1]-curStart <= o.Size:
			curEnd = sg[1]
		default:
			flush()
			curStart, curEnd = sg[0], sg[1]
		}
	}
	flush()
	return out
}

// paragraphSegments tiles text into half-open segments cut after each blank
// line (a maximal newline run containing "\n\n"). Segments cover the whole
// input including the separators themselves.
func paragraphSegments(text string) [][2]int {
	n := len(text)
	var cuts []int

	i := 0
	for i < n {
		j := strings.Index(text[i:], "\n\n")
		if j < 0 {
			break
		}
		k := i + j
		for k < n && text[k] == '\n' {
			k++
		}
		if k < n {
			cuts = append(cuts, k)
		}
		i = k
	}

	segs := make([][2]int, 0, len(cuts)+1)
	prev := 0
	for _, c := range cuts {
		segs = append(segs, [2]int{prev, c})
		prev = c
	}
	segs = append(segs, [2]int{prev, n})
	return segs
}

// layoutSpans is paragraph packing that additionally respects form-feed page
// breaks, tagging each span with its 1-based page number. Extractors emit \f
// between pages of paginated formats (PDF and friends).
func layoutSpans(text string, o Options) []span {
	n := len(text)
	var out []span

	page := 1
	pstart := 0
	for pstart < n {
		pend := strings.IndexByte(text[pstart:], '\f')
		if pend < 0 {
			pend = n
		} else {
			// Keep the form feed inside the page span so spans tile the input.
			pend = pstart + pend + 1
		}

		for _, ps := range paragraphSpans(text[pstart:pend], o) {
			out = append(out, span{start: pstart + ps[0], end: pstart + ps[1], page: page})
		}

		pstart = pend
		page++
	}
	return out
}
