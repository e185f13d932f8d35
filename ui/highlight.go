package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	highlightStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("226")).
			Foreground(lipgloss.Color("0")).
			Bold(true)

	indicatorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("226")).
			Bold(true)
)

// HighlightRange renders text with the byte range [start, end) emphasized.
// Styling is applied line by line so escape sequences never straddle a
// newline, which would break viewport clipping.
func HighlightRange(text string, start, end int) string {
	before, lines, after, ok := splitRange(text, start, end)
	if !ok {
		return text
	}

	var b strings.Builder
	b.WriteString(before)
	for i, line := range lines {
		if i > 0 {
			b.WriteByte('\n')
		}
		if line != "" {
			b.WriteString(highlightStyle.Render(line))
		}
	}
	b.WriteString(after)
	return b.String()
}

// splitRange cuts text around [start, end) and splits the covered span into
// its lines. It reports false when the range selects nothing.
func splitRange(text string, start, end int) (before string, lines []string, after string, ok bool) {
	if start < 0 {
		start = 0
	}
	if end > len(text) {
		end = len(text)
	}
	if start >= len(text) || end <= start {
		return "", nil, "", false
	}
	return text[:start], strings.Split(text[start:end], "\n"), text[end:], true
}

// speakingIndicator is the stand-in highlight for the rendered-markdown
// view, where byte offsets no longer line up with the styled output.
func speakingIndicator(page, sentence int) string {
	return indicatorStyle.Render(fmt.Sprintf("🔊 reading page %d, sentence %d", page+1, sentence+1))
}
