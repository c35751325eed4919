// Package main is the entry point for the regexlight command.
//
// regexlight evaluates a rule configuration over files and prints the
// decorated ranges of each file as JSON. With -watch it keeps running and
// prints again whenever the configuration or a file changes.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/dshills/regexlight/internal/app"
	"github.com/dshills/regexlight/internal/config/watcher"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// options holds the parsed command line.
type options struct {
	ConfigPath string
	Language   string
	LogLevel   string
	Watch      bool
	Pretty     bool
	Positions  bool
	Files      []string
}

func main() {
	os.Exit(run())
}

func run() int {
	opts, code, ok := parseFlags(os.Args[1:])
	if !ok {
		return code
	}

	logger := app.NewLogger(app.DefaultLoggerConfig())
	logger.SetLevel(app.ParseLogLevel(opts.LogLevel))

	out := newPrinter(os.Stdout, opts.Pretty, term.IsTerminal(int(os.Stdout.Fd())), opts.Positions)
	c := &cli{opts: opts, out: out, logger: logger}

	svc := app.New(app.Options{Logger: logger, OnUpdate: c.onUpdate})
	defer svc.Shutdown()
	c.svc = svc

	if _, _, err := svc.LoadFile(opts.ConfigPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	// A -log-level flag wins over the file's setting.
	if opts.LogLevel != "" {
		logger.SetLevel(app.ParseLogLevel(opts.LogLevel))
	}

	failed := c.openAll()
	if !opts.Watch {
		if failed {
			return 1
		}
		return 0
	}

	if err := c.watch(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func parseFlags(args []string) (options, int, bool) {
	var opts options
	var showVersion bool
	var showHelp bool

	fs := flag.NewFlagSet("regexlight", flag.ContinueOnError)
	fs.StringVar(&opts.ConfigPath, "config", "", "Path to rule configuration (.toml, .yaml, .json)")
	fs.StringVar(&opts.ConfigPath, "c", "", "Path to rule configuration (shorthand)")
	fs.StringVar(&opts.Language, "lang", "", "Language identifier (default: file extension)")
	fs.StringVar(&opts.Language, "l", "", "Language identifier (shorthand)")
	fs.StringVar(&opts.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	fs.BoolVar(&opts.Watch, "watch", false, "Re-evaluate when the configuration or a file changes")
	fs.BoolVar(&opts.Watch, "W", false, "Watch (shorthand)")
	fs.BoolVar(&opts.Pretty, "pretty", false, "Indent JSON output")
	fs.BoolVar(&opts.Positions, "positions", false, "Add line and column to each range")
	fs.BoolVar(&showVersion, "version", false, "Show version information")
	fs.BoolVar(&showVersion, "v", false, "Show version information (shorthand)")
	fs.BoolVar(&showHelp, "help", false, "Show help message")
	fs.BoolVar(&showHelp, "h", false, "Show help message (shorthand)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "regexlight - highlight pattern groups in text\n\n")
		fmt.Fprintf(os.Stderr, "Usage: regexlight -config FILE [options] files...\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  regexlight -c rules.yaml main.go          Print ranges for main.go\n")
		fmt.Fprintf(os.Stderr, "  regexlight -c rules.toml -lang c a.h      Evaluate a.h as C\n")
		fmt.Fprintf(os.Stderr, "  regexlight -c rules.json -watch *.md      Re-print on every change\n")
	}

	if err := fs.Parse(args); err != nil {
		return opts, 2, false
	}

	if showHelp {
		fs.Usage()
		return opts, 0, false
	}

	if showVersion {
		fmt.Printf("regexlight %s\n", version)
		fmt.Printf("Commit: %s\n", commit)
		fmt.Printf("Built: %s\n", date)
		return opts, 0, false
	}

	switch opts.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		fmt.Fprintf(os.Stderr, "Error: invalid log level %q (must be debug, info, warn, or error)\n", opts.LogLevel)
		return opts, 2, false
	}

	if opts.ConfigPath == "" {
		fmt.Fprintf(os.Stderr, "Error: -config is required\n")
		fs.Usage()
		return opts, 2, false
	}

	opts.Files = fs.Args()
	return opts, 0, true
}

// languageOf derives a language identifier from a file extension.
func languageOf(path string) string {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	if ext == "" {
		return "plaintext"
	}
	return strings.ToLower(ext)
}

// cli holds the state of one run.
type cli struct {
	opts   options
	svc    *app.Service
	out    *printer
	logger *app.Logger

	// Open documents by key, and keys by absolute path.
	paths map[app.Key]string
	keys  map[string]app.Key
}

// openAll opens and prints every file. It reports whether any failed.
func (c *cli) openAll() bool {
	c.paths = make(map[app.Key]string)
	c.keys = make(map[string]app.Key)

	failed := false
	for _, path := range c.opts.Files {
		abs, err := filepath.Abs(path)
		if err != nil {
			abs = path
		}
		data, err := os.ReadFile(abs)
		if err != nil {
			c.out.printError(path, err)
			failed = true
			continue
		}

		lang := c.opts.Language
		if lang == "" {
			lang = languageOf(path)
		}
		key := c.svc.Open(abs, lang, string(data))
		c.paths[key] = abs
		c.keys[abs] = key

		snap, err := c.svc.Snapshot(context.Background(), key)
		if err != nil {
			c.out.printError(path, err)
			failed = true
			continue
		}
		c.print(key, snap)
	}
	return failed
}

func (c *cli) print(key app.Key, snap app.Snapshot) {
	c.out.printRanges(c.paths[key], snap.Text, snap.Slots, snap.Ranges)
}

func (c *cli) onUpdate(key app.Key, snap app.Snapshot) {
	if _, ok := c.paths[key]; !ok {
		return
	}
	c.print(key, snap)
}

// watch re-evaluates on changes until interrupted.
func (c *cli) watch() error {
	w, err := watcher.New(
		watcher.WithDebounce(c.svc.Settings().Debounce),
		watcher.WithErrorHandler(func(err error) {
			c.logger.WithComponent("watcher").Warn("%v", err)
		}),
	)
	if err != nil {
		return err
	}
	defer func() { _ = w.Stop() }()

	configPath, err := filepath.Abs(c.opts.ConfigPath)
	if err != nil {
		return err
	}
	if err := w.Watch(configPath); err != nil {
		return err
	}
	for path := range c.keys {
		if err := w.Watch(path); err != nil {
			return err
		}
	}

	w.OnChange(func(e watcher.Event) {
		if e.Path == configPath {
			c.reload(configPath)
			return
		}
		c.refresh(e)
	})
	w.Start()
	c.logger.Info("watching %d files", len(w.WatchedFiles()))

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	<-signals
	return nil
}

func (c *cli) reload(path string) {
	log := c.logger.WithComponent("watcher").WithField("file", path)
	_, skipped, err := c.svc.LoadFile(path)
	if err != nil {
		log.Error("reload failed, keeping the previous rules: %v", err)
		return
	}
	log.Info("reloaded (%d elements skipped)", len(skipped))
}

func (c *cli) refresh(e watcher.Event) {
	key, ok := c.keys[e.Path]
	if !ok || e.Op == watcher.OpRemove || e.Op == watcher.OpRename {
		return
	}
	data, err := os.ReadFile(e.Path)
	if err != nil {
		c.logger.WithComponent("watcher").Warn("read %s: %v", e.Path, err)
		return
	}
	if err := c.svc.Update(key, string(data)); err != nil {
		c.logger.Warn("%v", err)
		return
	}
	if err := c.svc.Schedule(key); err != nil {
		c.logger.Warn("%v", err)
	}
}
