package document

import (
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	gmtext "github.com/yuin/goldmark/text"
)

// SpeakableBlocks reduces markdown source to the text a voice should read.
// Headings, paragraphs, list items and block quotes survive as separate
// blocks; code blocks, thematic breaks, raw HTML and bare URLs are dropped.
func SpeakableBlocks(source string) []string {
	src := []byte(source)
	root := goldmark.New().Parser().Parse(gmtext.NewReader(src))

	var blocks []string
	add := func(text string) {
		text = cleanForSpeech(text)
		if text != "" {
			blocks = append(blocks, text)
		}
	}

	_ = ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch n.(type) {
		case *ast.Heading, *ast.Paragraph, *ast.ListItem, *ast.Blockquote:
			add(nodeText(n, src))
			return ast.WalkSkipChildren, nil
		case *ast.FencedCodeBlock, *ast.CodeBlock, *ast.HTMLBlock, *ast.ThematicBreak:
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	return blocks
}

// nodeText extracts the plain text under a node. Inline markup is flattened,
// link and image text is kept, autolinked URLs are not.
func nodeText(node ast.Node, source []byte) string {
	var b strings.Builder
	collectText(node, source, &b)
	return b.String()
}

func collectText(node ast.Node, source []byte, b *strings.Builder) {
	for child := node.FirstChild(); child != nil; child = child.NextSibling() {
		switch c := child.(type) {
		case *ast.Text:
			b.Write(c.Segment.Value(source))
			if c.SoftLineBreak() || c.HardLineBreak() {
				b.WriteByte(' ')
			}
		case *ast.AutoLink:
			// bare URLs are noise when read aloud
		case *ast.RawHTML:
		default:
			collectText(c, source, b)
		}
	}
}

var (
	urlParenRegex   = regexp.MustCompile(`\(\s*https?://[^)]*\)`)
	bareURLRegex    = regexp.MustCompile(`https?://\S+`)
	whitespaceRegex = regexp.MustCompile(`\s+`)
)

// cleanForSpeech scrubs markup leftovers that read badly out loud and
// collapses runs of whitespace.
func cleanForSpeech(text string) string {
	text = urlParenRegex.ReplaceAllString(text, "")
	text = bareURLRegex.ReplaceAllString(text, "")
	text = whitespaceRegex.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}
