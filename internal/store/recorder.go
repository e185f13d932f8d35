package store

import (
	"context"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/readaloud/internal/segment"
)

const saveTimeout = 2 * time.Second

// Recorder adapts the store to fire-and-forget persistence calls from the
// playback controller. Failures are logged, never surfaced; losing a
// position update must not disturb playback.
type Recorder struct {
	store *Store
}

// NewRecorder wraps s.
func NewRecorder(s *Store) *Recorder {
	return &Recorder{store: s}
}

// SaveProgress records the cursor for a book.
func (r *Recorder) SaveProgress(bookID string, page, sentence int) {
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	if err := r.store.SaveProgress(ctx, bookID, page, sentence); err != nil {
		log.Warn("saving progress failed", "book", bookID, "err", err)
	}
}

// SaveMargins records the margin choice for a book.
func (r *Recorder) SaveMargins(bookID string, m segment.Margins) {
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	if err := r.store.SaveMargins(ctx, bookID, m); err != nil {
		log.Warn("saving margins failed", "book", bookID, "err", err)
	}
}

// SaveVoice records the voice choice for a book.
func (r *Recorder) SaveVoice(bookID, voice string) {
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	if err := r.store.SaveVoice(ctx, bookID, voice); err != nil {
		log.Warn("saving voice failed", "book", bookID, "err", err)
	}
}
