package ui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/dgnsrekt/readaloud/internal/document"
	"github.com/dgnsrekt/readaloud/internal/playback"
)

// engineEventMsg wraps one event from the playback controller.
type engineEventMsg struct {
	event playback.Event
}

// engineClosedMsg is sent when the controller's event channel closes.
type engineClosedMsg struct{}

// reloadMsg asks for the document to be reloaded from disk.
type reloadMsg struct{}

// reloadedMsg carries a freshly loaded document, or the load error.
type reloadedMsg struct {
	doc *document.Document
	err error
}

// glamourRenderedMsg carries the rendered body for one page. The page index
// lets the reader drop output that raced a page change.
type glamourRenderedMsg struct {
	page int
	body string
}

type statusMessageTimeoutMsg struct{}

// waitForEvent blocks on the controller's event channel. The reader re-arms
// it after every message so events keep flowing into the program.
func waitForEvent(events <-chan playback.Event) tea.Cmd {
	return func() tea.Msg {
		e, ok := <-events
		if !ok {
			return engineClosedMsg{}
		}
		return engineEventMsg{event: e}
	}
}

func loadDocument(path string) tea.Cmd {
	return func() tea.Msg {
		doc, err := document.Load(path)
		return reloadedMsg{doc: doc, err: err}
	}
}
