// Package ui provides the terminal reader for the readaloud application.
package ui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour/styles"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	te "github.com/muesli/termenv"

	"github.com/dgnsrekt/readaloud/internal/document"
	"github.com/dgnsrekt/readaloud/internal/playback"
	"github.com/dgnsrekt/readaloud/internal/store"
	"github.com/dgnsrekt/readaloud/internal/synth"
)

const (
	statusMessageTimeout = time.Second * 3 // how long to show status messages like "voice: Sonia"
	ellipsis             = "…"
)

var (
	config Config

	green   = lipgloss.Color("#04B575")
	fuchsia = lipgloss.Color("#EE6FF8")

	logoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#ECFD65")).
			Background(fuchsia).
			Bold(true)

	errorTitleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#230A0A")).
			Background(lipgloss.Color("#FF5555")).
			Padding(0, 1)

	subtleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#9B9B9B", Dark: "#5C5C5C"})
)

func logoView() string {
	return logoStyle.Render(" ReadAloud ")
}

// Session bundles the running engine pieces the reader drives. The caller
// owns every field and closes the controller and memo after the program
// returns.
type Session struct {
	Document   *document.Document
	Controller *playback.Controller
	Memo       *synth.Memo
	Voices     []synth.Voice
	Book       *store.Book
}

// NewProgram returns a new Tea program.
func NewProgram(cfg Config, sess Session) *tea.Program {
	log.Debug(
		"starting reader",
		"doc", cfg.Path,
		"voice", cfg.Voice,
		"glamour", cfg.GlamourEnabled,
	)

	config = cfg
	opts := []tea.ProgramOption{tea.WithAltScreen()}
	if cfg.EnableMouse {
		opts = append(opts, tea.WithMouseCellMotion())
	}
	m := newModel(cfg, sess)
	return tea.NewProgram(m, opts...)
}

type errMsg struct{ err error }

func (e errMsg) Error() string { return e.err.Error() }

// Common stuff we'll need to access in all models.
type commonModel struct {
	cfg    Config
	width  int
	height int
}

type model struct {
	common   *commonModel
	reader   readerModel
	fatalErr error
}

func newModel(cfg Config, sess Session) tea.Model {
	if cfg.GlamourStyle == "" || cfg.GlamourStyle == styles.AutoStyle {
		if te.HasDarkBackground() {
			cfg.GlamourStyle = styles.DarkStyle
		} else {
			cfg.GlamourStyle = styles.LightStyle
		}
	}

	common := commonModel{
		cfg: cfg,
	}

	return model{
		common: &common,
		reader: newReaderModel(&common, sess),
	}
}

func (m model) Init() tea.Cmd {
	return m.reader.init()
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	// If there's been an error, any key exits
	if m.fatalErr != nil {
		if _, ok := msg.(tea.KeyMsg); ok {
			return m, tea.Quit
		}
	}

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		// Progress is persisted by the engine when the controller shuts
		// down, so quitting here is safe at any point.
		case "q", "ctrl+c":
			return m, tea.Quit

		case "ctrl+z":
			return m, tea.Suspend
		}

	case tea.WindowSizeMsg:
		m.common.width = msg.Width
		m.common.height = msg.Height
		m.reader.setSize(msg.Width, msg.Height)

	case errMsg:
		log.Error("fatal reader error", "error", msg.err)
		m.fatalErr = msg.err
		return m, nil
	}

	newReader, cmd := m.reader.update(msg)
	m.reader = newReader
	return m, cmd
}

func (m model) View() string {
	if m.fatalErr != nil {
		return errorView(m.fatalErr, true)
	}
	return m.reader.View()
}

func errorView(err error, fatal bool) string {
	exitMsg := "press any key to "
	if fatal {
		exitMsg += "exit"
	} else {
		exitMsg += "return"
	}
	s := fmt.Sprintf("%s\n\n%v\n\n%s",
		errorTitleStyle.Render("ERROR"),
		err,
		subtleStyle.Render(exitMsg),
	)
	return "\n" + indent(s, 3)
}

func waitForStatusMessageTimeout(t *time.Timer) tea.Cmd {
	return func() tea.Msg {
		<-t.C
		return statusMessageTimeoutMsg{}
	}
}

// Lightweight version of reflow's indent function.
func indent(s string, n int) string {
	if n <= 0 || s == "" {
		return s
	}
	l := strings.Split(s, "\n")
	b := strings.Builder{}
	i := strings.Repeat(" ", n)
	for _, v := range l {
		fmt.Fprintf(&b, "%s%s\n", i, v)
	}
	return b.String()
}
