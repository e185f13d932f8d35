// Package document loads reader files and lays them out into fixed-geometry
// pages of positioned words, the unit the segmenter and the highlighter
// work from.
package document

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Rect is an axis-aligned box in page coordinates, in points, with the
// origin at the top-left corner of the page.
type Rect struct {
	X float64
	Y float64
	W float64
	H float64
}

// Union returns the smallest rectangle covering both r and o. A zero-size
// rectangle acts as the identity.
func (r Rect) Union(o Rect) Rect {
	if r.W == 0 && r.H == 0 {
		return o
	}
	if o.W == 0 && o.H == 0 {
		return r
	}
	x0 := math.Min(r.X, o.X)
	y0 := math.Min(r.Y, o.Y)
	x1 := math.Max(r.X+r.W, o.X+o.W)
	y1 := math.Max(r.Y+r.H, o.Y+o.H)
	return Rect{X: x0, Y: y0, W: x1 - x0, H: y1 - y0}
}

// Word is one laid-out word: its text, its bounding box on the page, and the
// byte offset of its first character within the page text.
type Word struct {
	Text   string
	Box    Rect
	Offset int
}

// Page holds the positioned words of one page plus the plain text they were
// laid out into. Text is the layout lines joined with "\n", so a given word
// sequence always produces the same text.
type Page struct {
	Index  int
	Width  float64
	Height float64
	Words  []Word
	Text   string
}

// Document is a loaded, paginated document.
type Document struct {
	ID     string // assigned by the store when the book is opened
	Path   string
	Title  string
	Source string
	Pages  []Page
}

// PageCount returns the number of pages.
func (d *Document) PageCount() int { return len(d.Pages) }

// Page returns the page at index i, or an empty page when i is out of range.
func (d *Document) Page(i int) Page {
	if i < 0 || i >= len(d.Pages) {
		return Page{}
	}
	return d.Pages[i]
}

var markdownExtensions = map[string]bool{
	".md":       true,
	".mdown":    true,
	".mkdn":     true,
	".mkd":      true,
	".markdown": true,
}

// IsMarkdown reports whether path has a markdown file extension.
func IsMarkdown(path string) bool {
	return markdownExtensions[strings.ToLower(filepath.Ext(path))]
}

// Load reads the file at path and lays it out into pages using the default
// layout. Markdown is reduced to speakable text first; everything else is
// treated as plain text.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read document: %w", err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("unable to resolve document path: %w", err)
	}

	source := string(data)
	var blocks []string
	if IsMarkdown(abs) {
		blocks = SpeakableBlocks(source)
	} else {
		blocks = plainBlocks(source)
	}

	return &Document{
		Path:   abs,
		Title:  strings.TrimSuffix(filepath.Base(abs), filepath.Ext(abs)),
		Source: source,
		Pages:  DefaultLayout().Paginate(blocks),
	}, nil
}

var blankLineRegex = regexp.MustCompile(`\n[ \t]*\n`)

// plainBlocks splits plain text into paragraph blocks on blank lines. Line
// breaks inside a paragraph become single spaces.
func plainBlocks(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")

	var blocks []string
	for _, chunk := range blankLineRegex.Split(text, -1) {
		lines := strings.Split(chunk, "\n")
		for i, line := range lines {
			lines[i] = strings.TrimSpace(line)
		}
		block := strings.TrimSpace(strings.Join(lines, " "))
		if block != "" {
			blocks = append(blocks, block)
		}
	}
	return blocks
}
