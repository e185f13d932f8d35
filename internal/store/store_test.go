package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/dgnsrekt/readaloud/internal/segment"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{Path: filepath.Join(t.TempDir(), "readaloud.db")})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenBookCreatesWithDefaults(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	book, err := s.OpenBook(ctx, "/tmp/story.md", "story", 12)
	if err != nil {
		t.Fatalf("OpenBook failed: %v", err)
	}

	if book.ID == "" {
		t.Error("Expected a generated book id")
	}
	if book.Margins != segment.DefaultMargins() {
		t.Errorf("Expected default margins, got %+v", book.Margins)
	}
	if book.Voice != "" {
		t.Errorf("Expected no voice on a new book, got %q", book.Voice)
	}
	if book.LastPage != 0 || book.LastSentence != 0 {
		t.Errorf("Expected a new book to start at the top, got (%d,%d)", book.LastPage, book.LastSentence)
	}
	if book.TotalPages != 12 {
		t.Errorf("Expected 12 pages, got %d", book.TotalPages)
	}
}

func TestOpenBookKeepsIdentityAcrossOpens(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first, err := s.OpenBook(ctx, "/tmp/story.md", "story", 12)
	if err != nil {
		t.Fatalf("OpenBook failed: %v", err)
	}
	second, err := s.OpenBook(ctx, "/tmp/story.md", "story (edited)", 14)
	if err != nil {
		t.Fatalf("Second OpenBook failed: %v", err)
	}

	if first.ID != second.ID {
		t.Errorf("Expected a stable id, got %q then %q", first.ID, second.ID)
	}
	if second.Title != "story (edited)" {
		t.Errorf("Expected the title refreshed, got %q", second.Title)
	}
	if second.TotalPages != 14 {
		t.Errorf("Expected the page count refreshed, got %d", second.TotalPages)
	}
}

func TestSaveProgressRoundtrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	book, err := s.OpenBook(ctx, "/tmp/story.md", "story", 12)
	if err != nil {
		t.Fatalf("OpenBook failed: %v", err)
	}
	if err := s.SaveProgress(ctx, book.ID, 4, 7); err != nil {
		t.Fatalf("SaveProgress failed: %v", err)
	}

	again, err := s.OpenBook(ctx, "/tmp/story.md", "story", 12)
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	if again.LastPage != 4 || again.LastSentence != 7 {
		t.Errorf("Expected position (4,7), got (%d,%d)", again.LastPage, again.LastSentence)
	}
}

func TestOpenBookClampsShrunkenDocument(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	book, err := s.OpenBook(ctx, "/tmp/story.md", "story", 12)
	if err != nil {
		t.Fatalf("OpenBook failed: %v", err)
	}
	if err := s.SaveProgress(ctx, book.ID, 10, 3); err != nil {
		t.Fatalf("SaveProgress failed: %v", err)
	}

	shrunk, err := s.OpenBook(ctx, "/tmp/story.md", "story", 3)
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	if shrunk.LastPage != 2 || shrunk.LastSentence != 0 {
		t.Errorf("Expected the position clamped to (2,0), got (%d,%d)", shrunk.LastPage, shrunk.LastSentence)
	}
}

func TestSaveMarginsAndVoiceRoundtrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	book, err := s.OpenBook(ctx, "/tmp/story.md", "story", 12)
	if err != nil {
		t.Fatalf("OpenBook failed: %v", err)
	}

	m := segment.Margins{HeaderPt: 72, FooterPt: 90}
	if err := s.SaveMargins(ctx, book.ID, m); err != nil {
		t.Fatalf("SaveMargins failed: %v", err)
	}
	if err := s.SaveVoice(ctx, book.ID, "en-GB-SoniaNeural"); err != nil {
		t.Fatalf("SaveVoice failed: %v", err)
	}

	again, err := s.OpenBook(ctx, "/tmp/story.md", "story", 12)
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	if again.Margins != m {
		t.Errorf("Expected margins %+v, got %+v", m, again.Margins)
	}
	if again.Voice != "en-GB-SoniaNeural" {
		t.Errorf("Expected the voice remembered, got %q", again.Voice)
	}
}

func TestSaveProgressUnknownBook(t *testing.T) {
	s := openTestStore(t)

	if err := s.SaveProgress(context.Background(), "no-such-book", 1, 1); err == nil {
		t.Error("Expected an error for an unknown book")
	}
}

func TestSettings(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	got, err := s.Setting(ctx, "voice")
	if err != nil {
		t.Fatalf("Setting failed: %v", err)
	}
	if got != "" {
		t.Errorf("Expected an unset setting to be empty, got %q", got)
	}

	if err := s.SetSetting(ctx, "voice", "en-US-AriaNeural"); err != nil {
		t.Fatalf("SetSetting failed: %v", err)
	}
	if err := s.SetSetting(ctx, "voice", "en-US-GuyNeural"); err != nil {
		t.Fatalf("SetSetting overwrite failed: %v", err)
	}

	got, err = s.Setting(ctx, "voice")
	if err != nil {
		t.Fatalf("Setting failed: %v", err)
	}
	if got != "en-US-GuyNeural" {
		t.Errorf("Expected the last value, got %q", got)
	}
}

func TestRecorderWritesThrough(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	book, err := s.OpenBook(ctx, "/tmp/story.md", "story", 12)
	if err != nil {
		t.Fatalf("OpenBook failed: %v", err)
	}

	rec := NewRecorder(s)
	rec.SaveProgress(book.ID, 2, 5)
	rec.SaveVoice(book.ID, "en-AU-NatashaNeural")

	again, err := s.OpenBook(ctx, "/tmp/story.md", "story", 12)
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	if again.LastPage != 2 || again.LastSentence != 5 {
		t.Errorf("Expected position (2,5), got (%d,%d)", again.LastPage, again.LastSentence)
	}
	if again.Voice != "en-AU-NatashaNeural" {
		t.Errorf("Expected the voice recorded, got %q", again.Voice)
	}
}
