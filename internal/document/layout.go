package document

import (
	"strings"
	"unicode"

	runewidth "github.com/mattn/go-runewidth"
	"github.com/muesli/reflow/wordwrap"
)

// Layout produces fixed-metric monospace pages from paragraph blocks. The
// geometry is synthetic, but it is stable across loads, which is all margin
// filtering and highlight regions require.
type Layout struct {
	PageWidth  float64
	PageHeight float64
	SideInset  float64
	TopInset   float64
	CellWidth  float64
	LineHeight float64
}

// DefaultLayout returns US Letter pages with 12pt monospace metrics.
func DefaultLayout() Layout {
	return Layout{
		PageWidth:  612,
		PageHeight: 792,
		SideInset:  72,
		TopInset:   56,
		CellWidth:  7.2,
		LineHeight: 14.4,
	}
}

// Columns returns the number of character cells that fit on one line.
func (l Layout) Columns() int {
	return int((l.PageWidth - 2*l.SideInset) / l.CellWidth)
}

// LinesPerPage returns the number of text lines that fit on one page.
func (l Layout) LinesPerPage() int {
	return int((l.PageHeight - 2*l.TopInset) / l.LineHeight)
}

// Paginate word-wraps the blocks and distributes the resulting lines over
// pages, computing word geometry and page text as it goes. Blocks are
// separated by one blank line.
func (l Layout) Paginate(blocks []string) []Page {
	cols := l.Columns()
	perPage := l.LinesPerPage()
	if cols < 1 || perPage < 1 {
		return nil
	}

	var lines []string
	for i, block := range blocks {
		if i > 0 {
			lines = append(lines, "")
		}
		wrapped := wordwrap.String(block, cols)
		lines = append(lines, strings.Split(wrapped, "\n")...)
	}

	var pages []Page
	for start := 0; start < len(lines); start += perPage {
		end := min(start+perPage, len(lines))
		pages = append(pages, l.buildPage(len(pages), lines[start:end]))
	}
	return pages
}

// buildPage computes word boxes and byte offsets for one page worth of
// wrapped lines.
func (l Layout) buildPage(index int, lines []string) Page {
	page := Page{
		Index:  index,
		Width:  l.PageWidth,
		Height: l.PageHeight,
	}

	var text strings.Builder
	for row, line := range lines {
		if row > 0 {
			text.WriteByte('\n')
		}
		lineStart := text.Len()
		text.WriteString(line)

		y := l.TopInset + float64(row)*l.LineHeight
		for _, sp := range fieldSpans(line) {
			word := line[sp.start:sp.end]
			cell := float64(runewidth.StringWidth(line[:sp.start]))
			page.Words = append(page.Words, Word{
				Text: word,
				Box: Rect{
					X: l.SideInset + cell*l.CellWidth,
					Y: y,
					W: float64(runewidth.StringWidth(word)) * l.CellWidth,
					H: l.LineHeight,
				},
				Offset: lineStart + sp.start,
			})
		}
	}
	page.Text = text.String()
	return page
}

type span struct {
	start int
	end   int
}

// fieldSpans returns the byte ranges of the whitespace-separated fields of
// line.
func fieldSpans(line string) []span {
	var spans []span
	start := -1
	for i, r := range line {
		if unicode.IsSpace(r) {
			if start >= 0 {
				spans = append(spans, span{start, i})
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		spans = append(spans, span{start, len(line)})
	}
	return spans
}
