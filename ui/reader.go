package ui

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
	runewidth "github.com/mattn/go-runewidth"
	"github.com/muesli/reflow/ansi"
	"github.com/muesli/reflow/truncate"

	"github.com/dgnsrekt/readaloud/internal/document"
	"github.com/dgnsrekt/readaloud/internal/playback"
	"github.com/dgnsrekt/readaloud/internal/segment"
	"github.com/dgnsrekt/readaloud/internal/store"
	"github.com/dgnsrekt/readaloud/internal/synth"
)

const (
	statusBarHeight = 1
	marginStepPt    = 10
	maxMarginPt     = 240
)

var (
	readerHelpHeight int

	mintGreen = lipgloss.AdaptiveColor{Light: "#89F0CB", Dark: "#89F0CB"}
	darkGreen = lipgloss.AdaptiveColor{Light: "#1C8760", Dark: "#1C8760"}

	statusBarNoteFg = lipgloss.AdaptiveColor{Light: "#656565", Dark: "#7D7D7D"}
	statusBarBg     = lipgloss.AdaptiveColor{Light: "#E6E6E6", Dark: "#242424"}

	statusBarPageStyle = lipgloss.NewStyle().
				Foreground(lipgloss.AdaptiveColor{Light: "#949494", Dark: "#5A5A5A"}).
				Background(statusBarBg).
				Render

	statusBarNoteStyle = lipgloss.NewStyle().
				Foreground(statusBarNoteFg).
				Background(statusBarBg).
				Render

	statusBarHelpStyle = lipgloss.NewStyle().
				Foreground(statusBarNoteFg).
				Background(lipgloss.AdaptiveColor{Light: "#DCDCDC", Dark: "#323232"}).
				Render

	statusBarMessageStyle = lipgloss.NewStyle().
				Foreground(mintGreen).
				Background(darkGreen).
				Render

	statusBarErrorStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#F1F1F1")).
				Background(lipgloss.Color("#9F2B68")).
				Render

	statusBarMessagePageStyle = lipgloss.NewStyle().
					Foreground(mintGreen).
					Background(darkGreen).
					Render

	statusBarMessageHelpStyle = lipgloss.NewStyle().
					Foreground(lipgloss.Color("#B6FFE4")).
					Background(green).
					Render

	helpViewStyle = lipgloss.NewStyle().
			Foreground(statusBarNoteFg).
			Background(lipgloss.AdaptiveColor{Light: "#f2f2f2", Dark: "#1B1B1B"}).
			Render
)

type readerState int

const (
	readerStateBrowse readerState = iota
	readerStateStatusMessage
)

// byteRange marks the highlighted span of the page text. The zero value
// means nothing is highlighted.
type byteRange struct {
	start, end int
}

func (r byteRange) active() bool { return r.end > r.start }

type readerStatusMessage struct {
	message string
	isError bool
}

type readerModel struct {
	common   *commonModel
	viewport viewport.Model
	state    readerState
	showHelp bool

	statusMessage      readerStatusMessage
	statusMessageTimer *time.Timer

	doc    *document.Document
	ctrl   *playback.Controller
	memo   *synth.Memo
	book   *store.Book
	voices []synth.Voice

	// Mirror of the engine state, updated from controller events.
	playState playback.State
	cursor    playback.Cursor
	region    byteRange

	// Page on display. Follows the cursor while playing; the arrow keys
	// move it by seeking.
	page int

	voice   string
	margins segment.Margins

	// Rendered-markdown view. The body is cached per page because glamour
	// is too slow to re-run on every sentence change.
	useGlamour  bool
	glamourBody string

	watcher *fsnotify.Watcher
}

func newReaderModel(common *commonModel, sess Session) readerModel {
	vp := viewport.New(0, 0)
	vp.YPosition = 0

	m := readerModel{
		common:    common,
		state:     readerStateBrowse,
		viewport:  vp,
		doc:       sess.Document,
		ctrl:      sess.Controller,
		memo:      sess.Memo,
		book:      sess.Book,
		voices:    sess.Voices,
		playState: sess.Controller.State(),
		voice:     common.cfg.Voice,
		margins: segment.Margins{
			HeaderPt: common.cfg.HeaderMargin,
			FooterPt: common.cfg.FooterMargin,
		},
	}

	m.page = sess.Book.LastPage
	m.cursor = playback.Cursor{Page: sess.Book.LastPage, Sentence: sess.Book.LastSentence}
	m.initWatcher()
	m.setContent()
	return m
}

func (m *readerModel) init() tea.Cmd {
	return tea.Batch(waitForEvent(m.ctrl.Events()), m.watchFile)
}

func (m *readerModel) setSize(w, h int) {
	m.viewport.Width = w
	m.viewport.Height = h - statusBarHeight

	if m.showHelp {
		if readerHelpHeight == 0 {
			readerHelpHeight = strings.Count(m.helpView(), "\n")
		}
		m.viewport.Height -= (statusBarHeight + readerHelpHeight)
	}
}

// setContent rebuilds the viewport content for the current page, region and
// view mode.
func (m *readerModel) setContent() {
	if m.useGlamour {
		var b strings.Builder
		if m.region.active() {
			b.WriteString(speakingIndicator(m.cursor.Page, m.cursor.Sentence))
			b.WriteString("\n\n")
		}
		b.WriteString(m.glamourBody)
		m.viewport.SetContent(b.String())
		return
	}

	text := m.doc.Page(m.page).Text
	if m.region.active() {
		text = HighlightRange(text, m.region.start, m.region.end)
	}
	m.viewport.SetContent(text)
}

func (m *readerModel) toggleHelp() {
	m.showHelp = !m.showHelp
	m.setSize(m.common.width, m.common.height)
	if m.viewport.PastBottom() {
		m.viewport.GotoBottom()
	}
}

// Show a message in the status bar for a few seconds. The returned command
// must be sent back through the reader update function.
func (m *readerModel) showStatusMessage(msg readerStatusMessage) tea.Cmd {
	m.state = readerStateStatusMessage
	m.statusMessage = msg
	if m.statusMessageTimer != nil {
		m.statusMessageTimer.Stop()
	}
	m.statusMessageTimer = time.NewTimer(statusMessageTimeout)

	return waitForStatusMessageTimeout(m.statusMessageTimer)
}

func (m readerModel) update(msg tea.Msg) (readerModel, tea.Cmd) {
	var (
		cmd  tea.Cmd
		cmds []tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case " ":
			switch m.playState {
			case playback.StatePlaying:
				m.ctrl.Pause()
			case playback.StatePaused:
				m.ctrl.Resume()
			case playback.StateIdle:
				m.ctrl.Play(m.page)
			}
			return m, nil

		case "n":
			m.ctrl.Next()
			return m, nil

		case "p":
			m.ctrl.Prev()
			return m, nil

		case "right":
			if m.page+1 < m.doc.PageCount() {
				m.ctrl.Seek(m.page+1, 0)
			}
			return m, nil

		case "left":
			if m.page > 0 {
				m.ctrl.Seek(m.page-1, 0)
			}
			return m, nil

		case "s":
			m.ctrl.Stop()
			return m, nil

		case "v":
			return m, m.cycleVoice()

		case "m":
			if !m.common.cfg.GlamourEnabled {
				return m, nil
			}
			m.useGlamour = !m.useGlamour
			m.setContent()
			if m.useGlamour && m.glamourBody == "" {
				return m, renderGlamour(m)
			}
			return m, nil

		case "[":
			return m, m.bumpMargins(-marginStepPt, 0)
		case "]":
			return m, m.bumpMargins(marginStepPt, 0)
		case "{":
			return m, m.bumpMargins(0, -marginStepPt)
		case "}":
			return m, m.bumpMargins(0, marginStepPt)

		case "r":
			return m, loadDocument(m.common.cfg.Path)

		case "home", "g":
			m.viewport.GotoTop()
			return m, nil

		case "end", "G":
			m.viewport.GotoBottom()
			return m, nil

		case "?":
			m.toggleHelp()
			return m, nil
		}

	case engineEventMsg:
		cmds = append(cmds, m.handleEvent(msg.event)...)
		// Keep listening.
		cmds = append(cmds, waitForEvent(m.ctrl.Events()))

	case engineClosedMsg:
		return m, nil

	case reloadMsg:
		return m, tea.Batch(loadDocument(m.common.cfg.Path), m.watchFile)

	case reloadedMsg:
		if msg.err != nil {
			log.Error("reload failed", "file", m.common.cfg.Path, "error", msg.err)
			return m, m.showStatusMessage(readerStatusMessage{"reload failed: " + msg.err.Error(), true})
		}
		m.doc = msg.doc
		m.ctrl.Reload(msg.doc)
		if m.page >= m.doc.PageCount() {
			m.page = max(0, m.doc.PageCount()-1)
		}
		m.region = byteRange{}
		m.glamourBody = ""
		m.setContent()
		cmds = append(cmds, m.showStatusMessage(readerStatusMessage{"document reloaded", false}))
		if m.useGlamour {
			cmds = append(cmds, renderGlamour(m))
		}

	case glamourRenderedMsg:
		if msg.page == m.page && m.useGlamour {
			m.glamourBody = msg.body
			m.setContent()
		}

	case tea.WindowSizeMsg:
		if m.useGlamour {
			cmds = append(cmds, renderGlamour(m))
		}

	case statusMessageTimeoutMsg:
		m.state = readerStateBrowse
	}

	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

// handleEvent folds one controller event into the model.
func (m *readerModel) handleEvent(e playback.Event) []tea.Cmd {
	var cmds []tea.Cmd

	switch e := e.(type) {
	case playback.StateChangedEvent:
		m.playState = e.State
		if e.State == playback.StateIdle {
			m.region = byteRange{}
			m.setContent()
		}

	case playback.HighlightEvent:
		m.cursor = playback.Cursor{Page: e.Page, Sentence: e.Sentence}
		if e.Page != m.page {
			m.page = e.Page
			m.glamourBody = ""
			if m.useGlamour {
				cmds = append(cmds, renderGlamour(*m))
			}
		}
		m.region = byteRange{start: e.ByteStart, end: e.ByteEnd}
		m.setContent()
		if !m.useGlamour {
			m.ensureVisible(lineAt(m.doc.Page(m.page).Text, e.ByteStart))
		}

	case playback.ProgressEvent:
		m.cursor = playback.Cursor{Page: e.Page, Sentence: e.Sentence}
		if e.Page != m.page {
			m.page = e.Page
			m.region = byteRange{}
			m.glamourBody = ""
			m.setContent()
			m.viewport.GotoTop()
			if m.useGlamour {
				cmds = append(cmds, renderGlamour(*m))
			}
		}

	case playback.ClipSkippedEvent:
		cmds = append(cmds, m.showStatusMessage(readerStatusMessage{
			fmt.Sprintf("skipped sentence %d on page %d", e.Sentence+1, e.Page+1), false,
		}))

	case playback.ErrorEvent:
		log.Error("playback error", "error", e.Err)
		cmds = append(cmds, m.showStatusMessage(readerStatusMessage{e.Err.Error(), true}))
	}

	return cmds
}

// cycleVoice switches to the next voice of the catalog and tells the engine
// to resynthesize with it.
func (m *readerModel) cycleVoice() tea.Cmd {
	if len(m.voices) == 0 {
		return m.showStatusMessage(readerStatusMessage{"voice catalog unavailable", true})
	}

	next := 0
	for i, v := range m.voices {
		if v.ShortName == m.voice {
			next = (i + 1) % len(m.voices)
			break
		}
	}
	m.voice = m.voices[next].ShortName
	m.ctrl.SetVoice(m.voice)
	return m.showStatusMessage(readerStatusMessage{"voice: " + voiceLabel(m.voice), false})
}

// bumpMargins nudges the header or footer margin and hands the result to
// the engine, which re-segments the current page.
func (m *readerModel) bumpMargins(headerDelta, footerDelta float64) tea.Cmd {
	next := m.margins
	next.HeaderPt = clampMargin(next.HeaderPt + headerDelta)
	next.FooterPt = clampMargin(next.FooterPt + footerDelta)
	if next == m.margins {
		return nil
	}
	m.margins = next
	m.region = byteRange{}
	m.setContent()
	m.ctrl.SetMargins(next)
	return m.showStatusMessage(readerStatusMessage{marginLabel(next), false})
}

func clampMargin(pt float64) float64 {
	if pt < 0 {
		return 0
	}
	if pt > maxMarginPt {
		return maxMarginPt
	}
	return pt
}

// ensureVisible scrolls the viewport so the given content line is on screen.
func (m *readerModel) ensureVisible(line int) {
	if m.viewport.Height <= 0 {
		return
	}
	top := m.viewport.YOffset
	bottom := top + m.viewport.Height - 1
	switch {
	case line < top:
		m.viewport.SetYOffset(line)
	case line > bottom:
		m.viewport.SetYOffset(line - m.viewport.Height + 1)
	}
}

// lineAt returns the content line index holding the given byte offset.
func lineAt(text string, offset int) int {
	if offset < 0 {
		return 0
	}
	if offset > len(text) {
		offset = len(text)
	}
	return strings.Count(text[:offset], "\n")
}

func (m readerModel) View() string {
	var b strings.Builder
	fmt.Fprint(&b, m.viewport.View()+"\n")

	// Footer
	m.statusBarView(&b)

	if m.showHelp {
		fmt.Fprint(&b, "\n"+m.helpView())
	}

	return b.String()
}

func (m readerModel) statusBarView(b *strings.Builder) {
	showStatusMessage := m.state == readerStateStatusMessage

	logo := logoView()

	// Page indicator
	pageIndicator := fmt.Sprintf(" %d/%d ", m.page+1, m.doc.PageCount())
	if showStatusMessage {
		pageIndicator = statusBarMessagePageStyle(pageIndicator)
	} else {
		pageIndicator = statusBarPageStyle(pageIndicator)
	}

	// "Help" note
	var helpNote string
	if showStatusMessage {
		helpNote = statusBarMessageHelpStyle(" ? Help ")
	} else {
		helpNote = statusBarHelpStyle(" ? Help ")
	}

	// Speech status, or a transient message
	var note string
	if showStatusMessage {
		note = m.statusMessage.message
	} else {
		note = statusNote(m.noteTitle(), m.playState, m.cursor, m.voice, memoBytes(m.memo), m.margins)
	}
	note = truncate.StringWithTail(" "+note+" ", uint(max(0, //nolint:gosec
		m.common.width-
			ansi.PrintableRuneWidth(logo)-
			ansi.PrintableRuneWidth(pageIndicator)-
			ansi.PrintableRuneWidth(helpNote),
	)), ellipsis)
	switch {
	case showStatusMessage && m.statusMessage.isError:
		note = statusBarErrorStyle(note)
	case showStatusMessage:
		note = statusBarMessageStyle(note)
	default:
		note = statusBarNoteStyle(note)
	}

	// Empty space
	padding := max(0,
		m.common.width-
			ansi.PrintableRuneWidth(logo)-
			ansi.PrintableRuneWidth(note)-
			ansi.PrintableRuneWidth(pageIndicator)-
			ansi.PrintableRuneWidth(helpNote),
	)
	emptySpace := strings.Repeat(" ", padding)
	switch {
	case showStatusMessage && m.statusMessage.isError:
		emptySpace = statusBarErrorStyle(emptySpace)
	case showStatusMessage:
		emptySpace = statusBarMessageStyle(emptySpace)
	default:
		emptySpace = statusBarNoteStyle(emptySpace)
	}

	fmt.Fprintf(b, "%s%s%s%s%s",
		logo,
		note,
		emptySpace,
		pageIndicator,
		helpNote,
	)
}

func (m readerModel) noteTitle() string {
	if m.book != nil && m.book.Title != "" {
		return m.book.Title
	}
	return filepath.Base(m.common.cfg.Path)
}

func (m readerModel) helpView() (s string) {
	col1 := []string{
		"v        next voice",
		"m        toggle rendered view",
		"[/]      header margin -/+",
		"{/}      footer margin -/+",
		"r        reload document",
		"?        close help",
		"q        quit",
	}

	s += "\n"
	s += "space    play/pause           " + col1[0] + "\n"
	s += "n        next sentence        " + col1[1] + "\n"
	s += "p        previous sentence    " + col1[2] + "\n"
	s += "←/→      previous/next page   " + col1[3] + "\n"
	s += "s        stop                 " + col1[4] + "\n"
	s += "u/d      ½ page up/down       " + col1[5] + "\n"
	s += "g/G      go to top/bottom     " + col1[6]

	s = indent(s, 2)

	// Fill up empty cells with spaces for background coloring
	if m.common.width > 0 {
		lines := strings.Split(s, "\n")
		for i := 0; i < len(lines); i++ {
			l := runewidth.StringWidth(lines[i])
			n := max(m.common.width-l, 0)
			lines[i] += strings.Repeat(" ", n)
		}

		s = strings.Join(lines, "\n")
	}

	return helpViewStyle(s)
}

func memoBytes(m *synth.Memo) int64 {
	if m == nil {
		return 0
	}
	return m.Size()
}

// COMMANDS

func renderGlamour(m readerModel) tea.Cmd {
	page := m.page
	text := m.doc.Page(page).Text
	style := m.common.cfg.GlamourStyle

	width := m.viewport.Width
	if mw := int(m.common.cfg.GlamourMaxWidth); mw > 0 && mw < width { //nolint:gosec
		width = mw
	}

	return func() tea.Msg {
		body, err := glamourRender(text, style, width)
		if err != nil {
			log.Error("error rendering with Glamour", "error", err)
			return errMsg{err}
		}
		return glamourRenderedMsg{page: page, body: body}
	}
}

func glamourRender(text, style string, width int) (string, error) {
	r, err := glamour.NewTermRenderer(
		glamour.WithStylePath(style),
		glamour.WithWordWrap(width),
		glamour.WithPreservedNewLines(),
	)
	if err != nil {
		return "", fmt.Errorf("error creating glamour renderer: %w", err)
	}

	out, err := r.Render(text)
	if err != nil {
		return "", fmt.Errorf("error rendering markdown: %w", err)
	}
	return out, nil
}

func (m *readerModel) initWatcher() {
	var err error
	m.watcher, err = fsnotify.NewWatcher()
	if err != nil {
		log.Error("error creating fsnotify watcher", "error", err)
	}
}

func (m *readerModel) watchFile() tea.Msg {
	if m.watcher == nil {
		return nil
	}
	dir := filepath.Dir(m.common.cfg.Path)

	if err := m.watcher.Add(dir); err != nil {
		log.Error("error adding dir to fsnotify watcher", "error", err)
		return nil
	}

	log.Info("fsnotify watching dir", "dir", dir)

	for {
		select {
		case event, ok := <-m.watcher.Events:
			if !ok || event.Name != m.common.cfg.Path {
				continue
			}

			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			log.Debug("fsnotify event", "file", event.Name, "event", event.Op)
			return reloadMsg{}
		case err, ok := <-m.watcher.Errors:
			if !ok {
				continue
			}
			log.Debug("fsnotify error", "dir", dir, "error", err)
		}
	}
}
