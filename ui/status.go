package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/dgnsrekt/readaloud/internal/playback"
	"github.com/dgnsrekt/readaloud/internal/segment"
)

// stateGlyph returns the icon for a playback state.
func stateGlyph(st playback.State) string {
	switch st {
	case playback.StatePlaying:
		return "▶"
	case playback.StatePaused:
		return "⏸"
	case playback.StateSeeking:
		return "⟳"
	default:
		return "■"
	}
}

func stateColor(st playback.State) lipgloss.Color {
	switch st {
	case playback.StatePlaying:
		return lipgloss.Color("#00FF00")
	case playback.StatePaused:
		return lipgloss.Color("#FFFF00")
	case playback.StateSeeking:
		return lipgloss.Color("#00AAFF")
	default:
		return lipgloss.Color("#888888")
	}
}

// statusNote assembles the left-hand block of the status bar.
func statusNote(title string, st playback.State, cur playback.Cursor, voice string, memoBytes int64, m segment.Margins) string {
	glyph := lipgloss.NewStyle().Foreground(stateColor(st)).Render(stateGlyph(st))

	state := fmt.Sprintf("%s %s", glyph, st)
	if st == playback.StatePlaying || st == playback.StatePaused {
		state = fmt.Sprintf("%s %s %d:%d", glyph, st, cur.Page+1, cur.Sentence+1)
	}

	parts := []string{title, state}
	if voice != "" {
		parts = append(parts, voiceLabel(voice))
	}
	if memoBytes > 0 {
		parts = append(parts, humanize.IBytes(uint64(memoBytes)))
	}
	parts = append(parts, marginLabel(m))

	return strings.Join(parts, " · ")
}

// voiceLabel trims a service voice name down to its distinctive part:
// "en-US-AndrewMultilingualNeural" reads as "Andrew (en-US)".
func voiceLabel(voice string) string {
	parts := strings.SplitN(voice, "-", 3)
	if len(parts) != 3 {
		return voice
	}
	name := strings.TrimSuffix(parts[2], "Neural")
	name = strings.TrimSuffix(name, "Multilingual")
	if name == "" {
		return voice
	}
	return fmt.Sprintf("%s (%s-%s)", name, parts[0], parts[1])
}

func marginLabel(m segment.Margins) string {
	return fmt.Sprintf("margins %.0f/%.0f", m.HeaderPt, m.FooterPt)
}
