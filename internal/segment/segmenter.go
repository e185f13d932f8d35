// Package segment splits page words into the ordered sentences that drive
// synthesis, playback and highlighting.
package segment

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/dgnsrekt/readaloud/internal/document"
)

// Margins excludes the running header and footer zones from narration,
// measured in points from the top and bottom page edges.
type Margins struct {
	HeaderPt float64
	FooterPt float64
}

// DefaultMargins covers typical running-header and page-number bands.
func DefaultMargins() Margins {
	return Margins{HeaderPt: 50, FooterPt: 60}
}

// Sentence is the atomic unit of synthesis and highlighting. ByteStart and
// ByteEnd locate the sentence within the page text; Region covers its words
// on the page.
type Sentence struct {
	BookID     string
	PageIndex  int
	Index      int
	Text       string
	Region     document.Rect
	ByteStart  int
	ByteEnd    int
	StartsPage bool
}

// Segmenter splits pages into sentences. It holds only immutable tables, so
// a single instance is safe for concurrent use.
type Segmenter struct {
	abbreviations map[string]bool
}

// New returns a ready Segmenter.
func New() *Segmenter {
	return &Segmenter{abbreviations: makeAbbreviationMap()}
}

// Segment turns one page into its ordered sentence sequence under the given
// margins. It never fails: pages with no readable words yield nil, and the
// same input always yields the same sequence.
func (s *Segmenter) Segment(bookID string, page document.Page, m Margins) []Sentence {
	words := filterMargins(page, m)
	if len(words) == 0 {
		return nil
	}

	var (
		sentences []Sentence
		current   []document.Word
	)
	flush := func() {
		if len(current) == 0 {
			return
		}
		sentences = append(sentences, buildSentence(bookID, page, current, len(sentences)))
		current = nil
	}

	for i, w := range words {
		current = append(current, w)
		if s.endsSentence(w.Text, nextText(words, i)) {
			flush()
		}
	}
	// Trailing words without terminal punctuation form the final sentence.
	flush()

	if len(sentences) > 0 {
		sentences[0].StartsPage = true
	}
	return sentences
}

// filterMargins drops words whose boxes cross into the header or footer
// zones.
func filterMargins(page document.Page, m Margins) []document.Word {
	if m.HeaderPt <= 0 && m.FooterPt <= 0 {
		return page.Words
	}
	kept := make([]document.Word, 0, len(page.Words))
	for _, w := range page.Words {
		if m.HeaderPt > 0 && w.Box.Y < m.HeaderPt {
			continue
		}
		if m.FooterPt > 0 && w.Box.Y+w.Box.H > page.Height-m.FooterPt {
			continue
		}
		kept = append(kept, w)
	}
	return kept
}

// buildSentence assembles the text, bounding region and byte range for one
// run of words.
func buildSentence(bookID string, page document.Page, words []document.Word, index int) Sentence {
	var (
		text   strings.Builder
		region document.Rect
	)
	for i, w := range words {
		if i > 0 {
			text.WriteByte(' ')
		}
		text.WriteString(w.Text)
		region = region.Union(w.Box)
	}

	first := words[0]
	last := words[len(words)-1]
	return Sentence{
		BookID:    bookID,
		PageIndex: page.Index,
		Index:     index,
		Text:      text.String(),
		Region:    region,
		ByteStart: first.Offset,
		ByteEnd:   last.Offset + len(last.Text),
	}
}

const closingRunes = `"')]}»”’`

// endsSentence reports whether word terminates a sentence given the word
// that follows it. Exclamation and question marks always end one; a period
// is checked against abbreviations, initials, multi-dot forms, ellipses and
// the shape of the next word.
func (s *Segmenter) endsSentence(word, next string) bool {
	core := strings.TrimRight(word, closingRunes)
	if core == "" {
		return false
	}

	last := core[len(core)-1]
	switch last {
	case '!', '?':
		return true
	case '.':
	default:
		return false
	}

	if strings.HasSuffix(core, "...") {
		return false
	}

	lower := strings.ToLower(core)
	if s.abbreviations[lower] || s.abbreviations[strings.TrimSuffix(lower, ".")] {
		return false
	}
	// Multi-dot forms like "U.S." or "Ph.D." read as abbreviations.
	if strings.Count(core, ".") > 1 {
		return false
	}
	if isInitial(core) {
		return false
	}
	if next != "" && !startsNewSentence(next) {
		return false
	}
	return true
}

// isInitial reports whether core is a single capital letter plus period.
func isInitial(core string) bool {
	if utf8.RuneCountInString(core) != 2 {
		return false
	}
	first, _ := utf8.DecodeRuneInString(core)
	return unicode.IsUpper(first)
}

const openingRunes = `"'([{«“‘`

// startsNewSentence reports whether the next word looks like a sentence
// opener: an uppercase letter or a digit, after any quotes or brackets.
func startsNewSentence(next string) bool {
	trimmed := strings.TrimLeft(next, openingRunes)
	if trimmed == "" {
		return true
	}
	r, _ := utf8.DecodeRuneInString(trimmed)
	return unicode.IsUpper(r) || unicode.IsDigit(r)
}

func nextText(words []document.Word, i int) string {
	if i+1 < len(words) {
		return words[i+1].Text
	}
	return ""
}

// makeAbbreviationMap lists common abbreviations that do not end sentences.
func makeAbbreviationMap() map[string]bool {
	abbrevs := []string{
		"mr", "mrs", "ms", "dr", "prof", "sr", "jr",
		"ph.d", "m.d", "b.a", "m.a", "b.s",
		"llc", "inc", "ltd", "co", "corp",
		"i.e", "e.g", "etc", "vs", "cf", "al", "ca",
		"jan", "feb", "mar", "apr", "jun", "jul", "aug", "sep", "sept", "oct", "nov", "dec",
		"mon", "tue", "wed", "thu", "fri", "sat", "sun",
		"st", "rd", "ave", "blvd", "ln", "ct",
		"u.s", "u.k", "u.n", "e.u", "n.y", "l.a",
		"vol", "pp", "fig", "approx",
		"ft", "lbs", "oz", "kg", "km", "cm", "mm", "mi", "yd",
		"hr", "hrs", "min", "mins", "sec", "secs",
	}

	m := make(map[string]bool, len(abbrevs))
	for _, a := range abbrevs {
		m[a] = true
	}
	return m
}
