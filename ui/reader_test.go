package ui

import (
	"strings"
	"testing"

	"github.com/charmbracelet/bubbles/viewport"
)

func TestHelpViewListsKeys(t *testing.T) {
	m := readerModel{common: &commonModel{}}

	help := m.helpView()
	for _, want := range []string{"play/pause", "next sentence", "next voice", "header margin", "reload document", "quit"} {
		if !strings.Contains(help, want) {
			t.Errorf("Expected help to mention %q", want)
		}
	}
}

func TestEnsureVisible(t *testing.T) {
	m := readerModel{viewport: viewport.New(80, 10)}
	m.viewport.SetContent(strings.Repeat("line\n", 40))

	m.ensureVisible(25)
	if m.viewport.YOffset != 16 {
		t.Errorf("Expected offset 16 after scrolling down to line 25, got %d", m.viewport.YOffset)
	}

	m.ensureVisible(20)
	if m.viewport.YOffset != 16 {
		t.Errorf("Expected a visible line to leave the offset alone, got %d", m.viewport.YOffset)
	}

	m.ensureVisible(5)
	if m.viewport.YOffset != 5 {
		t.Errorf("Expected offset 5 after scrolling up to line 5, got %d", m.viewport.YOffset)
	}
}

func TestClampMargin(t *testing.T) {
	tests := []struct {
		in       float64
		expected float64
	}{
		{-10, 0},
		{0, 0},
		{120, 120},
		{500, maxMarginPt},
	}

	for _, test := range tests {
		if got := clampMargin(test.in); got != test.expected {
			t.Errorf("Expected clampMargin(%v) = %v, got %v", test.in, test.expected, got)
		}
	}
}

func TestByteRangeActive(t *testing.T) {
	if (byteRange{}).active() {
		t.Error("Expected the zero range to be inactive")
	}
	if (byteRange{start: 5, end: 5}).active() {
		t.Error("Expected an empty range to be inactive")
	}
	if !(byteRange{start: 3, end: 9}).active() {
		t.Error("Expected a non-empty range to be active")
	}
}
