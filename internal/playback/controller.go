// Package playback drives sentence-by-sentence audio through the clip
// cache. A single control goroutine owns the cursor and the state machine;
// commands, completions, cache updates and synthesis failures all arrive
// over channels, so no state is ever touched from two goroutines.
package playback

import (
	"errors"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/readaloud/internal/audio"
	"github.com/dgnsrekt/readaloud/internal/cache"
	"github.com/dgnsrekt/readaloud/internal/document"
	"github.com/dgnsrekt/readaloud/internal/prefetch"
	"github.com/dgnsrekt/readaloud/internal/segment"
	"github.com/dgnsrekt/readaloud/internal/synth"
)

// Persister receives progress and preference changes. Implementations are
// fire-and-forget; a nil Persister disables persistence.
type Persister interface {
	SaveProgress(bookID string, page, sentence int)
	SaveMargins(bookID string, m segment.Margins)
	SaveVoice(bookID, voice string)
}

// Config tunes the controller.
type Config struct {
	// Lookahead is how many sentences from the cursor onward are kept
	// synthesized.
	Lookahead int
	// EventBuffer is the event channel capacity. Events beyond it are
	// dropped.
	EventBuffer int
}

// DefaultConfig returns a five sentence lookahead.
func DefaultConfig() Config {
	return Config{
		Lookahead:   5,
		EventBuffer: 16,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Lookahead < 1 {
		c.Lookahead = def.Lookahead
	}
	if c.EventBuffer < 1 {
		c.EventBuffer = def.EventBuffer
	}
	return c
}

// Options wires the controller's collaborators.
type Options struct {
	Segmenter  *segment.Segmenter
	Cache      *cache.Cache
	Prefetcher *prefetch.Prefetcher
	Player     audio.Player
	Persister  Persister
	Voice      string
	Margins    segment.Margins
	Config     Config
}

type cmdKind int

const (
	cmdPlay cmdKind = iota
	cmdPause
	cmdResume
	cmdNext
	cmdPrev
	cmdSeek
	cmdStop
	cmdSetMargins
	cmdSetVoice
	cmdReload
)

type command struct {
	kind     cmdKind
	page     int
	sentence int
	margins  segment.Margins
	voice    string
	doc      *document.Document
}

// Controller owns the playback cursor and state. All mutation happens on
// the control goroutine started by New; the exported methods only post
// commands and never block on playback work.
type Controller struct {
	doc       *document.Document
	segmenter *segment.Segmenter
	cache     *cache.Cache
	prefetch  *prefetch.Prefetcher
	player    audio.Player
	persist   Persister
	cfg       Config

	cmds   chan command
	events chan Event
	quit   chan struct{}
	done   chan struct{}

	closeOnce sync.Once

	snapMu    sync.RWMutex
	snapState State
	snapCur   Cursor

	// Control goroutine state. Never touched from outside run.
	machine   *Machine
	cursor    Cursor
	voice     string
	margins   segment.Margins
	gen       uint64
	speaking  bool
	pausedMid bool
	sentences map[int][]segment.Sentence
}

// New starts the control goroutine for doc. The caller remains the owner
// of the cache, prefetcher and player passed in opts and closes them after
// Close returns.
func New(doc *document.Document, opts Options) (*Controller, error) {
	if doc == nil {
		return nil, errors.New("playback: document is required")
	}
	if opts.Cache == nil || opts.Prefetcher == nil || opts.Player == nil {
		return nil, errors.New("playback: cache, prefetcher and player are required")
	}
	if opts.Segmenter == nil {
		opts.Segmenter = segment.New()
	}

	cfg := opts.Config.withDefaults()
	c := &Controller{
		doc:       doc,
		segmenter: opts.Segmenter,
		cache:     opts.Cache,
		prefetch:  opts.Prefetcher,
		player:    opts.Player,
		persist:   opts.Persister,
		cfg:       cfg,
		cmds:      make(chan command, 16),
		events:    make(chan Event, cfg.EventBuffer),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
		machine:   NewMachine(),
		voice:     opts.Voice,
		margins:   opts.Margins,
		sentences: make(map[int][]segment.Sentence),
	}

	go c.run()
	return c, nil
}

// Play starts playback at the first sentence at or after the given page.
// Ignored unless idle.
func (c *Controller) Play(page int) {
	c.send(command{kind: cmdPlay, page: page})
}

// Pause suspends playback in place. The current clip resumes from where it
// stopped.
func (c *Controller) Pause() {
	c.send(command{kind: cmdPause})
}

// Resume continues paused playback.
func (c *Controller) Resume() {
	c.send(command{kind: cmdResume})
}

// Next moves to the next sentence. At the end of the document it does
// nothing.
func (c *Controller) Next() {
	c.send(command{kind: cmdNext})
}

// Prev moves to the previous sentence. At the start of the document it
// does nothing.
func (c *Controller) Prev() {
	c.send(command{kind: cmdPrev})
}

// Seek moves the cursor to the given sentence, clamping both coordinates
// to the document. Playback resumes only if it was running before the
// seek; from idle the controller settles paused at the target.
func (c *Controller) Seek(page, sentence int) {
	c.send(command{kind: cmdSeek, page: page, sentence: sentence})
}

// Stop halts playback, cancels all synthesis for the book and clears the
// cursor.
func (c *Controller) Stop() {
	c.send(command{kind: cmdStop})
}

// SetMargins changes the header/footer exclusion zones. Every sentence and
// clip of the book is invalidated; playback restarts at the top of the
// current page.
func (c *Controller) SetMargins(m segment.Margins) {
	c.send(command{kind: cmdSetMargins, margins: m})
}

// SetVoice switches the synthesis voice. Cached clips for the old voice
// are dropped and the window is resynthesized.
func (c *Controller) SetVoice(voice string) {
	c.send(command{kind: cmdSetVoice, voice: voice})
}

// Reload replaces the document after it changed on disk. The book identity
// is preserved; the cursor is clamped to the new layout.
func (c *Controller) Reload(doc *document.Document) {
	c.send(command{kind: cmdReload, doc: doc})
}

// Events returns the controller's event stream. The channel is never
// closed; consumers stop reading when they are done.
func (c *Controller) Events() <-chan Event {
	return c.events
}

// State returns the current playback state.
func (c *Controller) State() State {
	c.snapMu.RLock()
	defer c.snapMu.RUnlock()
	return c.snapState
}

// Position returns the cursor. Meaningful only outside StateIdle.
func (c *Controller) Position() (page, sentence int) {
	c.snapMu.RLock()
	defer c.snapMu.RUnlock()
	return c.snapCur.Page, c.snapCur.Sentence
}

// Close stops the control goroutine and the audio output. Progress is
// persisted if playback was active.
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		close(c.quit)
		<-c.done
		c.player.Stop()
		if c.machine.Current() != StateIdle {
			c.persistProgress()
		}
	})
}

func (c *Controller) send(cmd command) {
	select {
	case c.cmds <- cmd:
	case <-c.quit:
	}
}

func (c *Controller) run() {
	defer close(c.done)

	updates := c.cache.Subscribe()
	failures := c.prefetch.Failures()
	completions := c.player.Done()

	for {
		select {
		case <-c.quit:
			return
		case cmd := <-c.cmds:
			c.handle(cmd)
		case comp := <-completions:
			c.completed(comp)
		case <-updates:
			c.pump()
		case f := <-failures:
			c.failed(f)
		}
	}
}

func (c *Controller) handle(cmd command) {
	switch cmd.kind {
	case cmdPlay:
		c.play(cmd.page)
	case cmdPause:
		c.pause()
	case cmdResume:
		c.resume()
	case cmdNext:
		c.step(1)
	case cmdPrev:
		c.step(-1)
	case cmdSeek:
		c.seekTo(Cursor{Page: cmd.page, Sentence: cmd.sentence})
	case cmdStop:
		c.stop()
	case cmdSetMargins:
		c.setMargins(cmd.margins)
	case cmdSetVoice:
		c.setVoice(cmd.voice)
	case cmdReload:
		c.reload(cmd.doc)
	}
}

func (c *Controller) play(page int) {
	if c.machine.Current() != StateIdle {
		log.Debug("play ignored", "state", c.machine.Current())
		return
	}
	target, ok := c.clampCursor(Cursor{Page: page})
	if !ok {
		log.Debug("nothing speakable in document", "page", page)
		return
	}
	c.setState(StatePlaying)
	c.moveTo(target)
	c.pump()
}

func (c *Controller) pause() {
	if !c.setState(StatePaused) {
		return
	}
	if c.speaking {
		c.player.Pause()
		c.pausedMid = true
	}
}

func (c *Controller) resume() {
	if c.machine.Current() != StatePaused {
		log.Debug("resume ignored", "state", c.machine.Current())
		return
	}
	c.setState(StatePlaying)
	if c.pausedMid {
		c.pausedMid = false
		c.player.Resume()
		return
	}
	c.pump()
}

func (c *Controller) step(delta int) {
	if c.machine.Current() == StateIdle {
		return
	}
	target, ok := c.neighbor(c.cursor, delta)
	if !ok {
		return
	}
	c.seekTo(target)
}

func (c *Controller) seekTo(target Cursor) {
	resume := c.machine.Current() == StatePlaying
	if !c.setState(StateSeeking) {
		return
	}
	c.stopOutput()
	c.settle(target, resume)
}

// settle clamps the target, installs it as the cursor and leaves the
// machine in Playing or Paused. Output must already be stopped.
func (c *Controller) settle(target Cursor, resume bool) {
	clamped, ok := c.clampCursor(target)
	if !ok {
		c.setState(StateIdle)
		return
	}
	c.moveTo(clamped)
	if resume {
		c.setState(StatePlaying)
		c.pump()
	} else {
		c.setState(StatePaused)
	}
}

func (c *Controller) stop() {
	if c.machine.Current() == StateIdle {
		return
	}
	c.stopOutput()
	c.prefetch.CancelAll()
	c.cache.InvalidateBook(c.doc.ID)
	c.persistProgress()
	c.cursor = Cursor{}
	c.setState(StateIdle)
}

func (c *Controller) setMargins(m segment.Margins) {
	if m == c.margins {
		return
	}
	resume := c.machine.Current() == StatePlaying
	active := c.machine.Current() != StateIdle

	if active {
		c.setState(StateSeeking)
		c.stopOutput()
	}

	c.margins = m
	c.sentences = make(map[int][]segment.Sentence)
	c.prefetch.CancelAll()
	c.cache.InvalidateBook(c.doc.ID)
	if c.persist != nil {
		c.persist.SaveMargins(c.doc.ID, m)
	}

	if active {
		// Sentence indices shifted, so restart at the top of the page.
		c.settle(Cursor{Page: c.cursor.Page}, resume)
	}
}

func (c *Controller) setVoice(voice string) {
	if voice == "" || voice == c.voice {
		return
	}
	resume := c.machine.Current() == StatePlaying
	active := c.machine.Current() != StateIdle

	if active {
		c.setState(StateSeeking)
		c.stopOutput()
	}

	c.voice = voice
	c.prefetch.CancelAll()
	c.cache.InvalidateBook(c.doc.ID)
	if c.persist != nil {
		c.persist.SaveVoice(c.doc.ID, voice)
	}

	if active {
		c.settle(c.cursor, resume)
	}
}

func (c *Controller) reload(doc *document.Document) {
	if doc == nil {
		return
	}
	resume := c.machine.Current() == StatePlaying
	active := c.machine.Current() != StateIdle

	if active {
		c.setState(StateSeeking)
		c.stopOutput()
	}

	doc.ID = c.doc.ID
	c.doc = doc
	c.sentences = make(map[int][]segment.Sentence)
	c.prefetch.CancelAll()
	c.cache.InvalidateBook(c.doc.ID)
	log.Debug("document reloaded", "path", doc.Path, "pages", doc.PageCount())

	if active {
		c.settle(Cursor{Page: c.cursor.Page}, resume)
	}
}

// pump starts the cursor clip if playback is waiting for one. Failed clips
// are skipped in order until a playable or pending clip is found.
func (c *Controller) pump() {
	for c.machine.Current() == StatePlaying && !c.speaking {
		key := c.key(c.cursor)
		clip, ok := c.cache.Get(key)
		if !ok {
			c.refill()
			if clip, ok = c.cache.Get(key); !ok {
				return
			}
		}

		switch clip.State {
		case cache.StateReady:
			c.speak(clip)
			return
		case cache.StateFailed:
			log.Debug("skipping failed clip", "page", c.cursor.Page, "sentence", c.cursor.Sentence)
			c.emit(ClipSkippedEvent{Page: c.cursor.Page, Sentence: c.cursor.Sentence})
			if !c.advance() {
				return
			}
		default:
			// Pending; the cache update wakes us.
			return
		}
	}
}

func (c *Controller) speak(clip cache.Clip) {
	s, ok := c.sentenceAt(c.cursor)
	if !ok {
		return
	}
	c.gen++
	c.emit(HighlightEvent{
		Page:      c.cursor.Page,
		Sentence:  c.cursor.Sentence,
		Region:    s.Region,
		ByteStart: s.ByteStart,
		ByteEnd:   s.ByteEnd,
	})
	if err := c.player.Play(clip.Audio, c.gen); err != nil {
		log.Warn("audio output failed", "err", err)
		c.emit(ErrorEvent{Err: err})
		c.setState(StatePaused)
		return
	}
	c.speaking = true
}

func (c *Controller) completed(comp audio.Completion) {
	if !c.speaking || comp.Gen != c.gen {
		return
	}
	c.speaking = false
	c.pausedMid = false

	switch c.machine.Current() {
	case StatePlaying:
		if c.advance() {
			c.pump()
		}
	case StatePaused:
		// The clip drained in the same instant as the pause. Advance so
		// resume does not replay it.
		c.advance()
	}
}

// advance moves the cursor past the current sentence. It reports false at
// the end of the document, after settling idle.
func (c *Controller) advance() bool {
	next, ok := c.neighbor(c.cursor, 1)
	if !ok {
		c.persistProgress()
		c.setState(StateIdle)
		return false
	}
	c.moveTo(next)
	return true
}

// moveTo installs the cursor and reconciles the prefetch window around it.
func (c *Controller) moveTo(next Cursor) {
	pageChanged := next.Page != c.cursor.Page
	c.cursor = next
	c.updateSnapshot()
	if pageChanged {
		c.persistProgress()
	}
	c.refill()
	c.emit(ProgressEvent{Page: next.Page, Sentence: next.Sentence, PageCount: c.doc.PageCount()})
}

// refill installs the window [cursor, cursor+N) in the cache and the
// prefetcher. The clip just behind the cursor is kept only when it is
// ready; a pending one would have its flight cancelled below and could
// never become ready.
func (c *Controller) refill() {
	window := c.window()

	keep := make([]cache.Key, 0, len(window)+1)
	if prev, ok := c.neighbor(c.cursor, -1); ok {
		prevKey := c.key(prev)
		if clip, ok := c.cache.Get(prevKey); ok && clip.State == cache.StateReady {
			keep = append(keep, prevKey)
		}
	}
	for _, r := range window {
		keep = append(keep, r.Key)
	}

	evicted := c.cache.Advance(keep)
	c.prefetch.Cancel(evicted)
	c.prefetch.Refill(window)
}

func (c *Controller) window() []prefetch.Request {
	reqs := make([]prefetch.Request, 0, c.cfg.Lookahead)
	cur, ok := c.cursor, true
	for ok && len(reqs) < c.cfg.Lookahead {
		if s, found := c.sentenceAt(cur); found {
			reqs = append(reqs, prefetch.Request{Key: c.key(cur), Text: s.Text})
		}
		cur, ok = c.neighbor(cur, 1)
	}
	return reqs
}

func (c *Controller) failed(f prefetch.Failure) {
	if synth.KindOf(f.Err) == synth.KindInvalidVoice {
		c.emit(ErrorEvent{Err: f.Err})
	}
}

// neighbor returns the sentence one step from cur in document order,
// skipping pages with nothing speakable. ok is false at the document
// boundary.
func (c *Controller) neighbor(cur Cursor, delta int) (Cursor, bool) {
	if delta > 0 {
		if cur.Sentence+1 < len(c.sentencesFor(cur.Page)) {
			return Cursor{Page: cur.Page, Sentence: cur.Sentence + 1}, true
		}
		for p := cur.Page + 1; p < c.doc.PageCount(); p++ {
			if len(c.sentencesFor(p)) > 0 {
				return Cursor{Page: p}, true
			}
		}
		return Cursor{}, false
	}
	if cur.Sentence > 0 {
		return Cursor{Page: cur.Page, Sentence: cur.Sentence - 1}, true
	}
	for p := cur.Page - 1; p >= 0; p-- {
		if n := len(c.sentencesFor(p)); n > 0 {
			return Cursor{Page: p, Sentence: n - 1}, true
		}
	}
	return Cursor{}, false
}

// clampCursor snaps target onto a speakable sentence, preferring the same
// page, then forward, then backward. ok is false when the whole document
// has nothing speakable.
func (c *Controller) clampCursor(target Cursor) (Cursor, bool) {
	last := c.doc.PageCount() - 1
	if last < 0 {
		return Cursor{}, false
	}
	if target.Page < 0 {
		target.Page = 0
	}
	if target.Page > last {
		target.Page = last
	}
	if target.Sentence < 0 {
		target.Sentence = 0
	}

	if n := len(c.sentencesFor(target.Page)); n > 0 {
		if target.Sentence >= n {
			target.Sentence = n - 1
		}
		return target, true
	}
	for p := target.Page + 1; p <= last; p++ {
		if len(c.sentencesFor(p)) > 0 {
			return Cursor{Page: p}, true
		}
	}
	for p := target.Page - 1; p >= 0; p-- {
		if n := len(c.sentencesFor(p)); n > 0 {
			return Cursor{Page: p, Sentence: n - 1}, true
		}
	}
	return Cursor{}, false
}

func (c *Controller) sentencesFor(page int) []segment.Sentence {
	if s, ok := c.sentences[page]; ok {
		return s
	}
	s := c.segmenter.Segment(c.doc.ID, c.doc.Page(page), c.margins)
	c.sentences[page] = s
	return s
}

func (c *Controller) sentenceAt(cur Cursor) (segment.Sentence, bool) {
	ss := c.sentencesFor(cur.Page)
	if cur.Sentence < 0 || cur.Sentence >= len(ss) {
		return segment.Sentence{}, false
	}
	return ss[cur.Sentence], true
}

func (c *Controller) key(cur Cursor) cache.Key {
	return cache.Key{
		BookID:   c.doc.ID,
		Page:     cur.Page,
		Sentence: cur.Sentence,
		Voice:    c.voice,
	}
}

func (c *Controller) stopOutput() {
	c.player.Stop()
	c.speaking = false
	c.pausedMid = false
}

func (c *Controller) setState(to State) bool {
	if !c.machine.Transition(to) {
		log.Debug("illegal transition", "from", c.machine.Current(), "to", to)
		return false
	}
	c.updateSnapshot()
	c.emit(StateChangedEvent{State: to})
	return true
}

func (c *Controller) updateSnapshot() {
	c.snapMu.Lock()
	c.snapState = c.machine.Current()
	c.snapCur = c.cursor
	c.snapMu.Unlock()
}

func (c *Controller) persistProgress() {
	if c.persist == nil {
		return
	}
	c.persist.SaveProgress(c.doc.ID, c.cursor.Page, c.cursor.Sentence)
}

func (c *Controller) emit(e Event) {
	select {
	case c.events <- e:
	default:
		log.Debug("event dropped", "event", e)
	}
}
