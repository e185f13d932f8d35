package playback

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dgnsrekt/readaloud/internal/audio"
	"github.com/dgnsrekt/readaloud/internal/cache"
	"github.com/dgnsrekt/readaloud/internal/document"
	"github.com/dgnsrekt/readaloud/internal/prefetch"
	"github.com/dgnsrekt/readaloud/internal/segment"
	"github.com/dgnsrekt/readaloud/internal/synth"
)

// scriptClient fakes synthesis: the audio bytes are the sentence text, so
// tests can tell exactly which sentence reached the player.
type scriptClient struct {
	mu    sync.Mutex
	calls []scriptCall
	errs  map[string][]error
	hold  chan struct{}
}

type scriptCall struct {
	text  string
	voice string
}

func newScriptClient() *scriptClient {
	return &scriptClient{errs: make(map[string][]error)}
}

func (s *scriptClient) Synthesize(ctx context.Context, text, voice string) (synth.Result, error) {
	s.mu.Lock()
	s.calls = append(s.calls, scriptCall{text: text, voice: voice})
	var err error
	if q := s.errs[text]; len(q) > 0 {
		err, s.errs[text] = q[0], q[1:]
	}
	hold := s.hold
	s.mu.Unlock()

	if hold != nil {
		select {
		case <-ctx.Done():
			return synth.Result{}, ctx.Err()
		case <-hold:
		}
	}
	if ctx.Err() != nil {
		return synth.Result{}, ctx.Err()
	}
	if err != nil {
		return synth.Result{}, err
	}
	return synth.Result{
		Audio:    []byte(text),
		Duration: time.Duration(len(text)) * time.Millisecond,
	}, nil
}

func (s *scriptClient) Voices(context.Context) ([]synth.Voice, error) {
	return nil, nil
}

func (s *scriptClient) failWith(text string, errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs[text] = append(s.errs[text], errs...)
}

func (s *scriptClient) countFor(text string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.text == text {
			n++
		}
	}
	return n
}

func (s *scriptClient) voicesFor(text string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var voices []string
	for _, c := range s.calls {
		if c.text == text {
			voices = append(voices, c.voice)
		}
	}
	return voices
}

// fakeStore records persistence calls.
type fakeStore struct {
	mu       sync.Mutex
	progress []Cursor
	margins  []segment.Margins
	voices   []string
}

func (f *fakeStore) SaveProgress(bookID string, page, sentence int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.progress = append(f.progress, Cursor{Page: page, Sentence: sentence})
}

func (f *fakeStore) SaveMargins(bookID string, m segment.Margins) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.margins = append(f.margins, m)
}

func (f *fakeStore) SaveVoice(bookID, voice string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.voices = append(f.voices, voice)
}

func (f *fakeStore) savedProgress() []Cursor {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Cursor, len(f.progress))
	copy(out, f.progress)
	return out
}

func (f *fakeStore) savedMargins() []segment.Margins {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]segment.Margins, len(f.margins))
	copy(out, f.margins)
	return out
}

func (f *fakeStore) savedVoices() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.voices))
	copy(out, f.voices)
	return out
}

// eventLog drains the controller's event channel so no event is dropped.
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func collectEvents(t *testing.T, ctrl *Controller) *eventLog {
	t.Helper()
	el := &eventLog{}
	stop := make(chan struct{})
	t.Cleanup(func() { close(stop) })
	go func() {
		for {
			select {
			case <-stop:
				return
			case e := <-ctrl.Events():
				el.mu.Lock()
				el.events = append(el.events, e)
				el.mu.Unlock()
			}
		}
	}()
	return el
}

func (el *eventLog) highlights() []HighlightEvent {
	el.mu.Lock()
	defer el.mu.Unlock()
	var out []HighlightEvent
	for _, e := range el.events {
		if h, ok := e.(HighlightEvent); ok {
			out = append(out, h)
		}
	}
	return out
}

func (el *eventLog) skips() []ClipSkippedEvent {
	el.mu.Lock()
	defer el.mu.Unlock()
	var out []ClipSkippedEvent
	for _, e := range el.events {
		if s, ok := e.(ClipSkippedEvent); ok {
			out = append(out, s)
		}
	}
	return out
}

func (el *eventLog) errs() []ErrorEvent {
	el.mu.Lock()
	defer el.mu.Unlock()
	var out []ErrorEvent
	for _, e := range el.events {
		if ee, ok := e.(ErrorEvent); ok {
			out = append(out, ee)
		}
	}
	return out
}

type rig struct {
	client *scriptClient
	store  *cache.Cache
	pre    *prefetch.Prefetcher
	player *audio.MockPlayer
	rec    *fakeStore
	ctrl   *Controller
	events *eventLog
}

func newRig(t *testing.T, doc *document.Document) *rig {
	t.Helper()
	client := newScriptClient()
	store := cache.New()
	pre := prefetch.New(client, store, prefetch.Config{
		Workers:        2,
		RetryDelay:     time.Millisecond,
		RateLimitDelay: time.Millisecond,
	})
	player := audio.NewMockPlayer()
	rec := &fakeStore{}

	ctrl, err := New(doc, Options{
		Cache:      store,
		Prefetcher: pre,
		Player:     player,
		Persister:  rec,
		Voice:      "test-voice",
		Config:     Config{Lookahead: 3},
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() {
		ctrl.Close()
		pre.Close()
	})

	return &rig{
		client: client,
		store:  store,
		pre:    pre,
		player: player,
		rec:    rec,
		ctrl:   ctrl,
		events: collectEvents(t, ctrl),
	}
}

func textDoc(text string) *document.Document {
	return &document.Document{
		ID:    "book",
		Title: "test",
		Pages: document.DefaultLayout().Paginate([]string{text}),
	}
}

type row struct {
	y    float64
	text string
}

// makePage lays out one hand-positioned page: one row per line, word boxes
// at the given y.
func makePage(index int, rows []row) document.Page {
	var words []document.Word
	lines := make([]string, len(rows))
	offset := 0
	for i, r := range rows {
		lines[i] = r.text
		col := 0
		for _, w := range strings.Split(r.text, " ") {
			if w != "" {
				words = append(words, document.Word{
					Text:   w,
					Box:    document.Rect{X: 72 + float64(col)*7.2, Y: r.y, W: float64(len(w)) * 7.2, H: 10},
					Offset: offset + col,
				})
			}
			col += len(w) + 1
		}
		offset += len(r.text) + 1
	}
	return document.Page{Index: index, Width: 612, Height: 792, Words: words, Text: strings.Join(lines, "\n")}
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatalf("Timed out waiting for %s", what)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func playedTexts(p *audio.MockPlayer) []string {
	var out []string
	for _, b := range p.Played() {
		out = append(out, string(b))
	}
	return out
}

func TestPlaysSentencesInOrder(t *testing.T) {
	r := newRig(t, textDoc("Hello world. This is a test."))

	r.ctrl.Play(0)
	waitUntil(t, "both sentences to play", func() bool {
		return len(r.player.Played()) == 2 && r.ctrl.State() == StateIdle
	})

	expected := []string{"Hello world.", "This is a test."}
	got := playedTexts(r.player)
	for i := range expected {
		if got[i] != expected[i] {
			t.Errorf("Expected clip %d to be %q, got %q", i, expected[i], got[i])
		}
	}

	gens := r.player.PlayedGens()
	if gens[0] >= gens[1] {
		t.Errorf("Expected increasing generations, got %v", gens)
	}

	highlights := r.events.highlights()
	if len(highlights) != 2 {
		t.Fatalf("Expected 2 highlights, got %d", len(highlights))
	}
	if highlights[0].Sentence != 0 || highlights[1].Sentence != 1 {
		t.Errorf("Expected highlights for sentences 0 and 1, got %+v", highlights)
	}
	if highlights[1].ByteStart != 13 || highlights[1].ByteEnd != 28 {
		t.Errorf("Expected byte range [13,28) for second sentence, got [%d,%d)",
			highlights[1].ByteStart, highlights[1].ByteEnd)
	}
}

func TestPlayThenImmediateNextSkipsFirstSentence(t *testing.T) {
	r := newRig(t, textDoc("Hello world. This is a test."))
	r.client.hold = make(chan struct{})

	r.ctrl.Play(0)
	r.ctrl.Next()
	waitUntil(t, "cursor to land on sentence 1", func() bool {
		_, s := r.ctrl.Position()
		return s == 1
	})
	close(r.client.hold)

	waitUntil(t, "playback of the second sentence", func() bool {
		return len(r.player.Played()) >= 1
	})

	got := playedTexts(r.player)
	if got[0] != "This is a test." {
		t.Errorf("Expected the second sentence first, got %q", got[0])
	}
	for _, h := range r.events.highlights() {
		if h.Sentence == 0 {
			t.Error("Sentence 0 must never be highlighted after an immediate next")
		}
	}
}

func TestRapidSeeksLandOnLastRequest(t *testing.T) {
	r := newRig(t, textDoc("Alpha one. Bravo two. Charlie three. Delta four. Echo five. Foxtrot six."))
	r.client.hold = make(chan struct{})

	r.ctrl.Play(0)
	r.ctrl.Next()
	r.ctrl.Next()
	r.ctrl.Next()
	r.ctrl.Prev()
	r.ctrl.Next()

	waitUntil(t, "cursor to settle on sentence 3", func() bool {
		_, s := r.ctrl.Position()
		return s == 3
	})
	if got := len(r.player.Played()); got != 0 {
		t.Errorf("Expected no audio during the storm, got %d clips", got)
	}

	close(r.client.hold)
	waitUntil(t, "remaining sentences to play", func() bool {
		return r.ctrl.State() == StateIdle && len(r.player.Played()) == 3
	})

	expected := []string{"Delta four.", "Echo five.", "Foxtrot six."}
	got := playedTexts(r.player)
	for i := range expected {
		if got[i] != expected[i] {
			t.Errorf("Expected clip %d to be %q, got %q", i, expected[i], got[i])
		}
	}
}

func TestDoubleFailureSkipsSilently(t *testing.T) {
	r := newRig(t, textDoc("Alpha one. Bravo two. Charlie three."))
	r.client.failWith("Bravo two.",
		&synth.Error{Kind: synth.KindNetwork, Err: errors.New("reset")},
		&synth.Error{Kind: synth.KindNetwork, Err: errors.New("reset again")},
	)

	r.ctrl.Play(0)
	waitUntil(t, "playback to finish around the failure", func() bool {
		return r.ctrl.State() == StateIdle && len(r.player.Played()) == 2
	})

	got := playedTexts(r.player)
	if got[0] != "Alpha one." || got[1] != "Charlie three." {
		t.Errorf("Expected the failed sentence skipped, got %v", got)
	}
	skips := r.events.skips()
	if len(skips) != 1 || skips[0].Sentence != 1 {
		t.Errorf("Expected one skip event for sentence 1, got %+v", skips)
	}
	if errs := r.events.errs(); len(errs) != 0 {
		t.Errorf("Expected network failures to stay silent, got %+v", errs)
	}
	if got := r.client.countFor("Bravo two."); got != 2 {
		t.Errorf("Expected exactly one retry, got %d calls", got)
	}
}

func TestInvalidVoiceSurfacesError(t *testing.T) {
	doc := textDoc("Alpha one. Bravo two. Charlie three.")
	r := newRig(t, doc)
	for _, text := range []string{"Alpha one.", "Bravo two.", "Charlie three."} {
		r.client.failWith(text, &synth.Error{Kind: synth.KindInvalidVoice, Voice: "test-voice"})
	}

	r.ctrl.Play(0)
	waitUntil(t, "all sentences to be skipped", func() bool {
		return len(r.events.skips()) == 3 && r.ctrl.State() == StateIdle
	})

	if got := len(r.player.Played()); got != 0 {
		t.Errorf("Expected nothing voiced, got %d clips", got)
	}
	waitUntil(t, "an error event for the invalid voice", func() bool {
		return len(r.events.errs()) > 0
	})
	if errs := r.events.errs(); synth.KindOf(errs[0].Err) != synth.KindInvalidVoice {
		t.Errorf("Expected an invalid-voice error, got %v", errs[0].Err)
	}
}

func TestPauseResume(t *testing.T) {
	r := newRig(t, textDoc("Alpha one. Bravo two. Charlie three."))
	r.player.SetPlayDelay(150 * time.Millisecond)

	r.ctrl.Play(0)
	waitUntil(t, "first clip to start", func() bool {
		return len(r.player.Played()) == 1
	})

	r.ctrl.Pause()
	waitUntil(t, "paused state", func() bool {
		return r.ctrl.State() == StatePaused
	})

	// Nothing should complete while paused.
	time.Sleep(250 * time.Millisecond)
	if got := len(r.player.Played()); got != 1 {
		t.Errorf("Expected no progress while paused, got %d clips", got)
	}
	if r.ctrl.State() != StatePaused {
		t.Errorf("Expected to stay paused, got %v", r.ctrl.State())
	}

	r.ctrl.Resume()
	waitUntil(t, "playback to finish", func() bool {
		return r.ctrl.State() == StateIdle && len(r.player.Played()) == 3
	})

	expected := []string{"Alpha one.", "Bravo two.", "Charlie three."}
	got := playedTexts(r.player)
	for i := range expected {
		if got[i] != expected[i] {
			t.Errorf("Expected clip %d to be %q, got %q", i, expected[i], got[i])
		}
	}
	if r.player.PauseCount() == 0 {
		t.Error("Expected the player to be paused")
	}
}

func TestMarginChangeRestartsPageWithNewSegmentation(t *testing.T) {
	doc := &document.Document{
		ID: "book",
		Pages: []document.Page{makePage(0, []row{
			{y: 20, text: "CHAPTER ONE"},
			{y: 400, text: "Alpha one. Beta two."},
		})},
	}

	client := newScriptClient()
	store := cache.New()
	pre := prefetch.New(client, store, prefetch.Config{Workers: 2, RetryDelay: time.Millisecond, RateLimitDelay: time.Millisecond})
	player := audio.NewMockPlayer()
	player.SetPlayDelay(150 * time.Millisecond)
	rec := &fakeStore{}

	ctrl, err := New(doc, Options{
		Cache:      store,
		Prefetcher: pre,
		Player:     player,
		Persister:  rec,
		Voice:      "test-voice",
		Margins:    segment.Margins{HeaderPt: 50},
		Config:     Config{Lookahead: 3},
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() {
		ctrl.Close()
		pre.Close()
	})

	ctrl.Play(0)
	waitUntil(t, "first clip to start", func() bool {
		return len(player.Played()) == 1
	})
	if got := playedTexts(player)[0]; got != "Alpha one." {
		t.Fatalf("Expected the header to be filtered, got %q", got)
	}

	// Dropping the header margin pulls CHAPTER ONE into the first
	// sentence, so every old clip is keyed by stale indices.
	ctrl.SetMargins(segment.Margins{})
	waitUntil(t, "playback to finish under the new margins", func() bool {
		return ctrl.State() == StateIdle
	})

	expected := []string{"Alpha one.", "CHAPTER ONE Alpha one.", "Beta two."}
	got := playedTexts(player)
	if len(got) != len(expected) {
		t.Fatalf("Expected %d clips, got %v", len(expected), got)
	}
	for i := range expected {
		if got[i] != expected[i] {
			t.Errorf("Expected clip %d to be %q, got %q", i, expected[i], got[i])
		}
	}

	margins := rec.savedMargins()
	if len(margins) != 1 || margins[0] != (segment.Margins{}) {
		t.Errorf("Expected the new margins persisted, got %+v", margins)
	}
}

func TestVoiceChangeResynthesizesWindow(t *testing.T) {
	r := newRig(t, textDoc("Alpha one. Bravo two."))
	r.player.SetPlayDelay(150 * time.Millisecond)

	r.ctrl.Play(0)
	waitUntil(t, "first clip to start", func() bool {
		return len(r.player.Played()) == 1
	})

	r.ctrl.SetVoice("other-voice")
	waitUntil(t, "playback to finish under the new voice", func() bool {
		return r.ctrl.State() == StateIdle
	})

	if got := r.client.voicesFor("Alpha one."); len(got) != 2 || got[1] != "other-voice" {
		t.Errorf("Expected resynthesis with the new voice, got %v", got)
	}
	if voices := r.rec.savedVoices(); len(voices) != 1 || voices[0] != "other-voice" {
		t.Errorf("Expected the voice persisted, got %v", voices)
	}
}

func TestStopClearsCursorAndCache(t *testing.T) {
	r := newRig(t, textDoc("Alpha one. Bravo two. Charlie three."))
	r.player.SetPlayDelay(150 * time.Millisecond)

	r.ctrl.Play(0)
	waitUntil(t, "first clip to start", func() bool {
		return len(r.player.Played()) == 1
	})

	r.ctrl.Stop()
	waitUntil(t, "idle state", func() bool {
		return r.ctrl.State() == StateIdle
	})

	if got := r.store.Len(); got != 0 {
		t.Errorf("Expected the cache emptied on stop, got %d entries", got)
	}
	progress := r.rec.savedProgress()
	if len(progress) == 0 || progress[len(progress)-1] != (Cursor{Page: 0, Sentence: 0}) {
		t.Errorf("Expected progress persisted at the stop position, got %+v", progress)
	}

	// Playing again starts from the top and resynthesizes.
	r.ctrl.Play(0)
	waitUntil(t, "replay of the first sentence", func() bool {
		return len(r.player.Played()) >= 2
	})
	if got := playedTexts(r.player)[1]; got != "Alpha one." {
		t.Errorf("Expected playback to restart at the first sentence, got %q", got)
	}
	if got := r.client.countFor("Alpha one."); got < 2 {
		t.Errorf("Expected resynthesis after stop, got %d calls", got)
	}
}

func TestSeekFromIdleSettlesPaused(t *testing.T) {
	r := newRig(t, textDoc("Alpha one. Bravo two. Charlie three."))

	r.ctrl.Seek(0, 1)
	waitUntil(t, "paused at the target", func() bool {
		p, s := r.ctrl.Position()
		return r.ctrl.State() == StatePaused && p == 0 && s == 1
	})
	if got := len(r.player.Played()); got != 0 {
		t.Errorf("Expected no audio before resume, got %d clips", got)
	}

	// The window warms up while paused.
	key := cache.Key{BookID: "book", Page: 0, Sentence: 1, Voice: "test-voice"}
	waitUntil(t, "target clip to become ready", func() bool {
		clip, ok := r.store.Get(key)
		return ok && clip.State == cache.StateReady
	})

	r.ctrl.Resume()
	waitUntil(t, "playback from the seek target", func() bool {
		return len(r.player.Played()) >= 1
	})
	if got := playedTexts(r.player)[0]; got != "Bravo two." {
		t.Errorf("Expected playback to start at the seek target, got %q", got)
	}
}

func TestSeekInstallsExactWindow(t *testing.T) {
	r := newRig(t, textDoc("Alpha one. Bravo two. Charlie three. Delta four. Echo five. Foxtrot six."))

	r.ctrl.Seek(0, 3)
	waitUntil(t, "window to fill", func() bool {
		for s := 3; s < 6; s++ {
			clip, ok := r.store.Get(cache.Key{BookID: "book", Page: 0, Sentence: s, Voice: "test-voice"})
			if !ok || clip.State != cache.StateReady {
				return false
			}
		}
		return true
	})

	if got := r.store.Len(); got != 3 {
		t.Errorf("Expected exactly the 3 window clips cached, got %d", got)
	}
	if _, ok := r.store.Get(cache.Key{BookID: "book", Page: 0, Sentence: 0, Voice: "test-voice"}); ok {
		t.Error("Expected clips behind the window to be absent")
	}
}

func TestSkipsEmptyPages(t *testing.T) {
	doc := &document.Document{
		ID: "book",
		Pages: []document.Page{
			makePage(0, []row{{y: 400, text: "Alpha one."}}),
			makePage(1, nil),
			makePage(2, []row{{y: 400, text: "Beta two."}}),
		},
	}
	r := newRig(t, doc)

	r.ctrl.Play(0)
	waitUntil(t, "both sentences to play", func() bool {
		return r.ctrl.State() == StateIdle && len(r.player.Played()) == 2
	})

	got := playedTexts(r.player)
	if got[0] != "Alpha one." || got[1] != "Beta two." {
		t.Errorf("Expected the empty page skipped, got %v", got)
	}

	progress := r.rec.savedProgress()
	found := false
	for _, p := range progress {
		if p.Page == 2 {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected progress saved on the page change, got %+v", progress)
	}
}

func TestReloadPreservesBookIdentity(t *testing.T) {
	doc := &document.Document{
		ID: "book",
		Pages: []document.Page{
			makePage(0, []row{{y: 400, text: "Alpha one."}}),
			makePage(1, []row{{y: 400, text: "Beta two."}}),
		},
	}
	r := newRig(t, doc)

	r.ctrl.Seek(1, 0)
	waitUntil(t, "paused on page 1", func() bool {
		p, _ := r.ctrl.Position()
		return r.ctrl.State() == StatePaused && p == 1
	})

	// The file shrank to one page; the cursor clamps onto it.
	r.ctrl.Reload(&document.Document{
		Pages: []document.Page{makePage(0, []row{{y: 400, text: "Gamma three."}})},
	})
	waitUntil(t, "cursor clamped to the new document", func() bool {
		p, s := r.ctrl.Position()
		return p == 0 && s == 0
	})

	key := cache.Key{BookID: "book", Page: 0, Sentence: 0, Voice: "test-voice"}
	waitUntil(t, "new content prefetched under the old book id", func() bool {
		clip, ok := r.store.Get(key)
		return ok && clip.State == cache.StateReady
	})

	r.ctrl.Resume()
	waitUntil(t, "new content to play", func() bool {
		return len(r.player.Played()) >= 1
	})
	if got := playedTexts(r.player)[0]; got != "Gamma three." {
		t.Errorf("Expected the reloaded content, got %q", got)
	}
}

func TestPlayOnEmptyDocumentStaysIdle(t *testing.T) {
	r := newRig(t, &document.Document{ID: "book"})

	r.ctrl.Play(0)
	r.ctrl.Seek(3, 2)
	time.Sleep(50 * time.Millisecond)

	if got := r.ctrl.State(); got != StateIdle {
		t.Errorf("Expected idle on an empty document, got %v", got)
	}
	if got := len(r.player.Played()); got != 0 {
		t.Errorf("Expected no audio, got %d clips", got)
	}
}

func TestStepIgnoredAtBoundaries(t *testing.T) {
	r := newRig(t, textDoc("Hello world. This is a test."))

	r.ctrl.Seek(0, 0)
	waitUntil(t, "paused at the start", func() bool {
		return r.ctrl.State() == StatePaused
	})

	r.ctrl.Prev()
	time.Sleep(30 * time.Millisecond)
	if p, s := r.ctrl.Position(); p != 0 || s != 0 {
		t.Errorf("Expected prev ignored at the start, got (%d,%d)", p, s)
	}

	r.ctrl.Seek(0, 1)
	waitUntil(t, "paused at the last sentence", func() bool {
		_, s := r.ctrl.Position()
		return s == 1
	})

	r.ctrl.Next()
	time.Sleep(30 * time.Millisecond)
	if p, s := r.ctrl.Position(); p != 0 || s != 1 {
		t.Errorf("Expected next ignored at the end, got (%d,%d)", p, s)
	}
}
