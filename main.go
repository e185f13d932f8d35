// Package main provides the entry point for the readaloud CLI application.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/charmbracelet/glamour/styles"
	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/readaloud/internal/audio"
	"github.com/dgnsrekt/readaloud/internal/cache"
	"github.com/dgnsrekt/readaloud/internal/document"
	"github.com/dgnsrekt/readaloud/internal/playback"
	"github.com/dgnsrekt/readaloud/internal/prefetch"
	"github.com/dgnsrekt/readaloud/internal/segment"
	"github.com/dgnsrekt/readaloud/internal/store"
	"github.com/dgnsrekt/readaloud/internal/synth"
	"github.com/dgnsrekt/readaloud/ui"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"
	"golang.org/x/time/rate"
)

var (
	// Version as provided by goreleaser.
	Version = ""
	// CommitSHA as provided by goreleaser.
	CommitSHA = ""

	configFile   string
	style        string
	width        uint
	mouse        bool
	voice        string
	lookahead    int
	workers      int
	headerMargin float64
	footerMargin float64
	dbPath       string
	cacheDir     string
	requestRate  float64

	rootCmd = &cobra.Command{
		Use:   "readaloud FILE",
		Short: "Read documents aloud, sentence by sentence",
		Long: paragraph(
			fmt.Sprintf("\nRead markdown and plain text aloud in your terminal, %s.", keyword("sentence by sentence")),
		),
		SilenceErrors: false,
		SilenceUsage:  true,
		Args:          cobra.ExactArgs(1),
		ValidArgsFunction: func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
			return nil, cobra.ShellCompDirectiveDefault
		},
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return validateOptions(cmd)
		},
		RunE: execute,
	}
)

// validateStyle checks if the style is a default style, if not, checks that
// the custom style exists.
func validateStyle(style string) error {
	if style != "auto" && styles.DefaultStyles[style] == nil {
		style = expandPath(style)
		if _, err := os.Stat(style); errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("specified style does not exist: %s", style)
		} else if err != nil {
			return fmt.Errorf("unable to stat file: %w", err)
		}
	}
	return nil
}

func validateOptions(cmd *cobra.Command) error {
	// grab config values from Viper
	width = viper.GetUint("width")
	mouse = viper.GetBool("mouse")
	voice = viper.GetString("voice")
	lookahead = viper.GetInt("lookahead")
	workers = viper.GetInt("workers")
	headerMargin = viper.GetFloat64("margins.header")
	footerMargin = viper.GetFloat64("margins.footer")
	dbPath = expandPath(viper.GetString("db"))
	cacheDir = expandPath(viper.GetString("cache_dir"))
	requestRate = viper.GetFloat64("rate_limit")

	if err := validateSpeechOptions(); err != nil {
		return err
	}

	// validate the glamour style
	style = viper.GetString("style")
	if err := validateStyle(style); err != nil {
		return err
	}

	isTerminal := term.IsTerminal(int(os.Stdout.Fd()))
	if !isTerminal && !cmd.Flags().Changed("style") {
		style = "notty"
	}

	// Detect terminal width
	if !cmd.Flags().Changed("width") { //nolint:nestif
		if isTerminal && width == 0 {
			w, _, err := term.GetSize(int(os.Stdout.Fd()))
			if err == nil {
				width = uint(w) //nolint:gosec
			}

			if width > 120 {
				width = 120
			}
		}
		if width == 0 {
			width = 80
		}
	}
	return nil
}

// validateSpeechOptions keeps the synthesis knobs inside the ranges the
// engine can actually honor.
func validateSpeechOptions() error {
	if lookahead < 1 || lookahead > 64 {
		return fmt.Errorf("lookahead must be between 1 and 64 sentences, got %d", lookahead)
	}
	if workers < 1 || workers > 8 {
		return fmt.Errorf("workers must be between 1 and 8, got %d", workers)
	}
	if requestRate <= 0 || requestRate > 10 {
		return fmt.Errorf("rate-limit must be between 0 and 10 requests per second, got %.2f", requestRate)
	}
	if headerMargin < 0 || headerMargin > 240 {
		return fmt.Errorf("header-margin must be between 0 and 240 points, got %.0f", headerMargin)
	}
	if footerMargin < 0 || footerMargin > 240 {
		return fmt.Errorf("footer-margin must be between 0 and 240 points, got %.0f", footerMargin)
	}
	return nil
}

func execute(cmd *cobra.Command, args []string) error {
	path, err := filepath.Abs(expandPath(args[0]))
	if err != nil {
		return fmt.Errorf("unable to get absolute path: %w", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("unable to open file: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory, not a document", args[0])
	}
	return runReader(cmd, path)
}

// runReader assembles the engine around the document and hands the whole
// thing to the TUI. Everything constructed here is closed here, after the
// program returns; the controller goes down first so it can persist the
// final position.
func runReader(cmd *cobra.Command, path string) error {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return errors.New("readaloud needs an interactive terminal")
	}

	// Read environment to get debugging stuff
	cfg, err := env.ParseAs[ui.Config]()
	if err != nil {
		return fmt.Errorf("error parsing config: %v", err)
	}

	// use style set in env, or the resolved one if unset
	if err := validateStyle(cfg.GlamourStyle); err != nil {
		cfg.GlamourStyle = style
	}

	cfg.Path = path
	cfg.GlamourMaxWidth = width
	cfg.EnableMouse = mouse

	doc, err := document.Load(path)
	if err != nil {
		return fmt.Errorf("unable to load document: %w", err)
	}

	st, err := store.Open(store.Config{Path: dbPath})
	if err != nil {
		return fmt.Errorf("unable to open progress store: %w", err)
	}
	defer st.Close() //nolint:errcheck

	ctx := context.Background()
	book, err := st.OpenBook(ctx, path, doc.Title, doc.PageCount())
	if err != nil {
		return fmt.Errorf("unable to open book: %w", err)
	}
	doc.ID = book.ID

	margins := book.Margins
	if cmd.Flags().Changed("header-margin") {
		margins.HeaderPt = headerMargin
	}
	if cmd.Flags().Changed("footer-margin") {
		margins.FooterPt = footerMargin
	}

	// Per-book voice wins over the global setting, which wins over the
	// config default. An explicit flag beats them all.
	activeVoice := book.Voice
	if activeVoice == "" {
		activeVoice, _ = st.Setting(ctx, "voice")
	}
	if activeVoice == "" {
		activeVoice = voice
	}
	if cmd.Flags().Changed("voice") {
		activeVoice = voice
	}
	if activeVoice == "" {
		activeVoice = synth.DefaultVoice
	}

	edge := synth.NewEdgeClient(synth.EdgeConfig{RequestRate: rate.Limit(requestRate)})

	var client synth.Client = edge
	var memo *synth.Memo
	if m, err := synth.NewMemo(edge, cacheDir, synth.DefaultMemoCapacity); err != nil {
		log.Warn("clip cache disabled", "error", err)
	} else {
		memo = m
		client = m
		defer memo.Close() //nolint:errcheck
	}

	// "sonia" is easier to type than "en-GB-SoniaNeural"; resolve whatever
	// the user gave against the catalog when we can reach it.
	catalog := fetchVoices(ctx, client)
	if len(catalog) > 0 {
		if v, err := synth.Resolve(catalog, activeVoice); err == nil {
			activeVoice = v.ShortName
		} else {
			log.Warn("voice not in the catalog", "voice", activeVoice)
		}
	}

	player, err := audio.NewOtoPlayer(audio.DefaultConfig())
	if err != nil {
		return fmt.Errorf("unable to open audio device: %w", err)
	}
	defer player.Close() //nolint:errcheck

	clips := cache.New()
	pre := prefetch.New(client, clips, prefetch.Config{Workers: workers})
	defer pre.Close()

	ctrl, err := playback.New(doc, playback.Options{
		Cache:      clips,
		Prefetcher: pre,
		Player:     player,
		Persister:  store.NewRecorder(st),
		Voice:      activeVoice,
		Margins:    margins,
		Config:     playback.Config{Lookahead: lookahead},
	})
	if err != nil {
		return fmt.Errorf("unable to start playback engine: %w", err)
	}
	defer ctrl.Close() //nolint:errcheck

	// Drop the cursor where the book was left off.
	if book.LastPage > 0 || book.LastSentence > 0 {
		ctrl.Seek(book.LastPage, book.LastSentence)
	}

	cfg.Voice = activeVoice
	cfg.HeaderMargin = margins.HeaderPt
	cfg.FooterMargin = margins.FooterPt

	// Run Bubble Tea program
	if _, err := ui.NewProgram(cfg, ui.Session{
		Document:   doc,
		Controller: ctrl,
		Memo:       memo,
		Voices:     trimToLanguage(catalog, activeVoice),
		Book:       book,
	}).Run(); err != nil {
		return fmt.Errorf("unable to run tui program: %w", err)
	}
	return nil
}

// fetchVoices grabs the voice catalog. A reader without the catalog still
// works, it just cannot cycle or resolve voices.
func fetchVoices(ctx context.Context, client synth.Client) []synth.Voice {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	voices, err := client.Voices(ctx)
	if err != nil {
		log.Warn("voice catalog unavailable", "error", err)
		return nil
	}
	return voices
}

// trimToLanguage keeps the voices sharing the active voice's language so
// cycling through the list stays manageable.
func trimToLanguage(voices []synth.Voice, active string) []synth.Voice {
	if lang, _, ok := strings.Cut(active, "-"); ok {
		if trimmed := synth.FilterLocale(voices, lang); len(trimmed) > 0 {
			voices = trimmed
		}
	}
	synth.SortByLocale(voices)
	return voices
}

func main() {
	closer, err := setupLog()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	if err := rootCmd.Execute(); err != nil {
		_ = closer()
		os.Exit(1)
	}
	_ = closer()
}

func init() {
	tryLoadConfigFromDefaultPlaces()
	if len(CommitSHA) >= 7 {
		vt := rootCmd.VersionTemplate()
		rootCmd.SetVersionTemplate(vt[:len(vt)-1] + " (" + CommitSHA[0:7] + ")\n")
	}
	if Version == "" {
		Version = "unknown (built from source)"
	}
	rootCmd.Version = Version
	rootCmd.InitDefaultCompletionCmd()

	defaultDB, defaultClips := defaultStoragePaths()
	defaultMargins := segment.DefaultMargins()

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", fmt.Sprintf("config file (default %s)", viper.GetViper().ConfigFileUsed()))
	rootCmd.Flags().StringVarP(&style, "style", "s", styles.AutoStyle, "style name or JSON path")
	rootCmd.Flags().UintVarP(&width, "width", "w", 0, "word-wrap at width (set to 0 to disable)")
	rootCmd.Flags().BoolVarP(&mouse, "mouse", "m", false, "enable mouse wheel")
	_ = rootCmd.Flags().MarkHidden("mouse")
	rootCmd.Flags().StringVar(&voice, "voice", "", "voice to read with (see readaloud voices)")
	rootCmd.Flags().IntVar(&lookahead, "lookahead", playback.DefaultConfig().Lookahead, "sentences synthesized ahead of the cursor")
	rootCmd.Flags().IntVar(&workers, "workers", prefetch.DefaultConfig().Workers, "concurrent synthesis requests")
	rootCmd.Flags().Float64Var(&headerMargin, "header-margin", defaultMargins.HeaderPt, "page header cut in points")
	rootCmd.Flags().Float64Var(&footerMargin, "footer-margin", defaultMargins.FooterPt, "page footer cut in points")
	rootCmd.Flags().StringVar(&dbPath, "db", defaultDB, "reading progress database")
	rootCmd.Flags().StringVar(&cacheDir, "cache-dir", defaultClips, "synthesized clip cache directory")
	rootCmd.Flags().Float64Var(&requestRate, "rate-limit", 2, "synthesis requests per second")

	// Config bindings
	_ = viper.BindPFlag("style", rootCmd.Flags().Lookup("style"))
	_ = viper.BindPFlag("width", rootCmd.Flags().Lookup("width"))
	_ = viper.BindPFlag("mouse", rootCmd.Flags().Lookup("mouse"))
	_ = viper.BindPFlag("voice", rootCmd.Flags().Lookup("voice"))
	_ = viper.BindPFlag("lookahead", rootCmd.Flags().Lookup("lookahead"))
	_ = viper.BindPFlag("workers", rootCmd.Flags().Lookup("workers"))
	_ = viper.BindPFlag("margins.header", rootCmd.Flags().Lookup("header-margin"))
	_ = viper.BindPFlag("margins.footer", rootCmd.Flags().Lookup("footer-margin"))
	_ = viper.BindPFlag("db", rootCmd.Flags().Lookup("db"))
	_ = viper.BindPFlag("cache_dir", rootCmd.Flags().Lookup("cache-dir"))
	_ = viper.BindPFlag("rate_limit", rootCmd.Flags().Lookup("rate-limit"))

	viper.SetDefault("style", styles.AutoStyle)
	viper.SetDefault("width", 0)
	viper.SetDefault("voice", "")
	viper.SetDefault("lookahead", playback.DefaultConfig().Lookahead)
	viper.SetDefault("workers", prefetch.DefaultConfig().Workers)
	viper.SetDefault("margins.header", defaultMargins.HeaderPt)
	viper.SetDefault("margins.footer", defaultMargins.FooterPt)
	viper.SetDefault("db", defaultDB)
	viper.SetDefault("cache_dir", defaultClips)
	viper.SetDefault("rate_limit", 2)

	rootCmd.AddCommand(configCmd, manCmd, voicesCmd)
}

// defaultStoragePaths resolves the platform locations for the progress
// database and the clip cache, falling back to the working directory.
func defaultStoragePaths() (db, clips string) {
	db = "readaloud.db"
	clips = "clips"
	scope := gap.NewScope(gap.User, "readaloud")
	if p, err := scope.DataPath("readaloud.db"); err == nil {
		db = p
	}
	if p, err := scope.CacheDir(); err == nil {
		clips = filepath.Join(p, "clips")
	}
	return db, clips
}

func tryLoadConfigFromDefaultPlaces() {
	scope := gap.NewScope(gap.User, "readaloud")
	dirs, err := scope.ConfigDirs()
	if err != nil {
		fmt.Println("Could not load find configuration directory.")
		os.Exit(1)
	}

	if c := os.Getenv("XDG_CONFIG_HOME"); c != "" {
		dirs = append([]string{filepath.Join(c, "readaloud")}, dirs...)
	}

	if c := os.Getenv("READALOUD_CONFIG_HOME"); c != "" {
		dirs = append([]string{c}, dirs...)
	}

	for _, v := range dirs {
		viper.AddConfigPath(v)
	}

	viper.SetConfigName("readaloud")
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("readaloud")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Warn("Could not parse configuration file", "err", err)
		}
	}

	if used := viper.ConfigFileUsed(); used != "" {
		log.Debug("Using configuration file", "path", viper.ConfigFileUsed())
		return
	}

	if viper.ConfigFileUsed() == "" {
		configFile = filepath.Join(dirs[0], "readaloud.yml")
	}
	if err := ensureConfigFile(); err != nil {
		log.Error("Could not create default configuration", "error", err)
	}
}
