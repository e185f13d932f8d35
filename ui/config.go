package ui

// Config contains TUI-specific configuration.
type Config struct {
	GlamourMaxWidth uint
	GlamourStyle    string `env:"GLAMOUR_STYLE"`
	EnableMouse     bool

	// Path of the document being read
	Path string

	// Speech settings the reader starts with. The v and bracket keys
	// change them at runtime; the engine persists the changes per book.
	Voice        string
	HeaderMargin float64
	FooterMargin float64

	// For debugging the UI
	GlamourEnabled bool `env:"READALOUD_ENABLE_GLAMOUR" envDefault:"true"`
}
