package main

import (
	"fmt"
	"io"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"
)

// setupLog routes logging to the file named by READALOUD_LOGFILE, or
// discards it. Logging to the terminal would scribble over the TUI.
func setupLog() (func() error, error) {
	if logFile := os.Getenv("READALOUD_LOGFILE"); logFile != "" {
		f, err := tea.LogToFile(logFile, "readaloud")
		if err != nil {
			return nil, fmt.Errorf("error setting up log: %w", err)
		}
		log.SetOutput(f)
		log.SetLevel(log.DebugLevel)
		return f.Close, nil
	}
	log.SetOutput(io.Discard)
	return func() error { return nil }, nil
}
