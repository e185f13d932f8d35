package playback

import "github.com/dgnsrekt/readaloud/internal/document"

// Cursor addresses one sentence of the open document. It is owned by the
// control goroutine; everyone else sees it through events or Position.
type Cursor struct {
	Page     int
	Sentence int
}

// Event is implemented by every notification the controller emits.
type Event interface {
	playbackEvent()
}

// StateChangedEvent reports a state transition.
type StateChangedEvent struct {
	State State
}

// HighlightEvent reports the sentence about to be voiced. It is emitted
// just before audio starts so the highlight never lags the voice. The byte
// range indexes into the page text.
type HighlightEvent struct {
	Page      int
	Sentence  int
	Region    document.Rect
	ByteStart int
	ByteEnd   int
}

// ClipSkippedEvent reports a sentence whose synthesis failed and was
// skipped over without interrupting playback.
type ClipSkippedEvent struct {
	Page     int
	Sentence int
}

// ErrorEvent reports a failure worth showing the user, such as an invalid
// voice. Playback continues where it can.
type ErrorEvent struct {
	Err error
}

// ProgressEvent reports a cursor move.
type ProgressEvent struct {
	Page      int
	Sentence  int
	PageCount int
}

func (StateChangedEvent) playbackEvent() {}
func (HighlightEvent) playbackEvent()    {}
func (ClipSkippedEvent) playbackEvent()  {}
func (ErrorEvent) playbackEvent()        {}
func (ProgressEvent) playbackEvent()     {}
