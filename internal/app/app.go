// Package app ties rule loading, evaluation, caching and scheduling into the
// service that editors and the command line drive.
//
// A Service owns the loaded rule tree, the registry of open documents, the
// per-document result cache and the debounced recomputation schedule. One
// lock serializes search passes with tree swaps, so a pass always sees a
// single configuration from start to finish.
package app

import (
	"context"
	"errors"
	"os"
	"sync"

	"github.com/dshills/regexlight/internal/cache"
	"github.com/dshills/regexlight/internal/config/loader"
	"github.com/dshills/regexlight/internal/match"
	"github.com/dshills/regexlight/internal/rules"
	"github.com/dshills/regexlight/internal/schedule"
)

// UpdateFunc receives a document's snapshot after a scheduled
// recomputation.
type UpdateFunc func(key Key, snap Snapshot)

// Snapshot is a document's ranges together with the text and the slot table
// they were computed from. A later reload does not change a snapshot.
type Snapshot struct {
	Ranges map[int][]match.Range
	Slots  []rules.Slot
	Text   string
}

// Options configures a Service. Zero values select defaults.
type Options struct {
	// Logger receives load errors and guard reports. Defaults to a
	// logger on stderr.
	Logger *Logger

	// Metrics records evaluation activity. Defaults to a fresh tracker.
	Metrics *Metrics

	// Settings are the initial tunables. A zero value selects
	// DefaultSettings.
	Settings *Settings

	// OnUpdate is called after every scheduled recomputation.
	OnUpdate UpdateFunc

	// FS is the file system LoadFile reads from. Defaults to the OS.
	FS loader.FileSystem

	// IgnoreEnv disables environment overrides in LoadFile.
	IgnoreEnv bool
}

// Service evaluates rule trees over open documents.
// It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	logger  *Logger
	metrics *Metrics
	engine  *match.Engine
	cache   *cache.Cache
	sched   *schedule.Scheduler

	tree       *rules.Tree
	generation uint64
	docs       documents
	settings   Settings
	onUpdate   UpdateFunc
	fs         loader.FileSystem
	ignoreEnv  bool
	closed     bool
}

// New creates a service with an empty rule tree.
func New(opts Options) *Service {
	s := &Service{
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		docs:      make(documents),
		settings:  DefaultSettings(),
		onUpdate:  opts.OnUpdate,
		fs:        opts.FS,
		ignoreEnv: opts.IgnoreEnv,
	}
	if opts.Settings != nil {
		s.settings = *opts.Settings
	}
	if s.logger == nil {
		s.logger = NewLogger(DefaultLoggerConfig())
		s.logger.SetLevel(s.settings.LogLevel)
	}
	if s.metrics == nil {
		s.metrics = NewMetrics()
	}
	if s.fs == nil {
		s.fs = loader.DefaultFS()
	}

	reports := s.logger.WithComponent("match")
	s.engine = match.NewEngine(match.WithReportHandler(func(r match.Report) {
		s.metrics.RecordReport(r.Kind)
		reports.Warn("%s", r)
	}))
	s.cache = cache.New(s.settings.CacheSize)
	s.sched = schedule.New(s.settings.Debounce)
	return s
}

// Logger returns the service's logger.
func (s *Service) Logger() *Logger {
	return s.logger
}

// Metrics returns the service's metrics tracker.
func (s *Service) Metrics() *Metrics {
	return s.metrics
}

// Settings returns the current tunables.
func (s *Service) Settings() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// Tree returns the current rule tree. It is nil until a configuration is
// loaded.
func (s *Service) Tree() *rules.Tree {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree
}

// Generation counts configuration loads. Cached ranges carry the generation
// they were computed with.
func (s *Service) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// CacheStats returns the result cache counters.
func (s *Service) CacheStats() cache.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Stats()
}

// LoadConfiguration builds a rule tree from sets and makes it current.
// Malformed elements are skipped and returned as errors; the rest of the
// configuration loads. Every cached result is dropped and open documents
// are scheduled for recomputation.
func (s *Service) LoadConfiguration(sets []rules.RuleSetConfig) (*rules.Tree, []error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, []error{ErrShutdown}
	}
	opts := []rules.Option{
		rules.WithMatchLimit(s.settings.MatchLimit),
		rules.WithPredicateTimeout(s.settings.PredicateTimeout),
	}
	s.mu.Unlock()

	tree, errs := rules.Load(sets, opts...)
	log := s.logger.WithComponent("rules")
	for _, err := range errs {
		log.Warn("skipped: %v", err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		tree.Close()
		return nil, []error{ErrShutdown}
	}
	old := s.tree
	s.tree = tree
	s.generation++
	s.cache.Clear()
	gen := s.generation
	keys := s.docs.keys()
	enabled := s.settings.Enabled
	s.mu.Unlock()

	// Passes hold the lock, so none can still be using the old tree.
	old.Close()

	s.metrics.RecordReload()
	log.Info("loaded %d rule sets, %d decorations (generation %d)", len(tree.Sets), len(tree.Slots), gen)

	if enabled {
		for _, k := range keys {
			s.trigger(k)
		}
	}
	return tree, errs
}

// LoadFile reads a TOML, YAML or JSON configuration, applies its settings
// and loads its rule sets. Environment variables prefixed with
// loader.EnvPrefix override the file's settings unless disabled.
//
// The returned slice holds the elements that were skipped. An error is
// returned when the file cannot be read or its settings are invalid, in
// which case the current configuration is kept.
func (s *Service) LoadFile(path string) (*rules.Tree, []error, error) {
	cfg, err := loader.NewFileLoaderWithFS(s.fs, path).Load()
	if err != nil {
		return nil, nil, NewOperationError("load", path, err)
	}
	if cfg == nil {
		return nil, nil, NewOperationError("load", path, os.ErrNotExist)
	}

	if !s.ignoreEnv {
		env, err := loader.NewEnvLoader(loader.EnvPrefix).Load()
		if err != nil {
			return nil, nil, NewOperationError("load", path, err).WithContext("environment")
		}
		cfg = loader.DeepMerge(cfg, env)
	}
	cfg = loader.DeepMerge(DefaultConfig(), cfg)

	settings, err := ParseSettings(cfg)
	if err != nil {
		return nil, nil, NewOperationError("load", path, err).WithContext("settings")
	}
	s.applySettings(settings)

	sets, decodeErr := rules.Decode(cfg)
	var skipped []error
	if decodeErr != nil {
		log := s.logger.WithComponent("rules").WithField("file", path)
		for _, err := range splitErrors(decodeErr) {
			log.Warn("skipped: %v", err)
			skipped = append(skipped, err)
		}
	}

	tree, errs := s.LoadConfiguration(sets)
	if tree == nil {
		return nil, nil, NewOperationError("load", path, ErrShutdown)
	}
	return tree, append(skipped, errs...), nil
}

// splitErrors undoes errors.Join.
func splitErrors(err error) []error {
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		return j.Unwrap()
	}
	return []error{err}
}

// applySettings makes settings current. A changed cache size replaces the
// cache; the entries it held are recomputed on demand.
func (s *Service) applySettings(settings Settings) {
	s.logger.SetLevel(settings.LogLevel)
	s.sched.SetDelay(settings.Debounce)

	s.mu.Lock()
	if settings.CacheSize != s.settings.CacheSize {
		s.cache = cache.New(settings.CacheSize)
	}
	enabled := settings.Enabled
	settings.Enabled = s.settings.Enabled
	s.settings = settings
	s.mu.Unlock()

	s.SetEnabled(enabled)
}

// ComputeRanges evaluates the current tree over text for a document with
// the given language and file name. It does not consult or fill the cache.
func (s *Service) ComputeRanges(ctx context.Context, text, languageID, fileName string) (map[int][]match.Range, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrShutdown
	}
	res, err := s.compute(ctx, text, languageID, fileName)
	if err != nil {
		return nil, err
	}
	return res.Ranges, nil
}

// compute runs one pass. Must be called with lock held.
func (s *Service) compute(ctx context.Context, text, languageID, fileName string) (*match.Result, error) {
	timer := StartTimer()
	res, err := s.engine.Compute(ctx, s.tree, text, languageID, fileName)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordPass(timer.Elapsed())
	return res, nil
}

// Open registers a document and returns its key.
func (s *Service) Open(fileName, languageID, text string) Key {
	key := NewKey()
	s.mu.Lock()
	s.docs[key] = newDocument(key, fileName, languageID, text)
	s.mu.Unlock()
	return key
}

// Close forgets a document, its cached ranges and any pending
// recomputation.
func (s *Service) Close(key Key) error {
	s.mu.Lock()
	_, ok := s.docs[key]
	delete(s.docs, key)
	s.cache.Invalidate(string(key))
	s.mu.Unlock()

	if !ok {
		return NewOperationError("close", string(key), ErrDocumentNotFound)
	}
	s.sched.Cancel(string(key))
	return nil
}

// Documents returns the keys of the open documents, sorted.
func (s *Service) Documents() []Key {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.docs.keys()
}

// Update replaces a document's text. Its cached ranges are dropped.
func (s *Service) Update(key Key, text string) error {
	s.mu.Lock()
	doc, ok := s.docs[key]
	if ok {
		doc.setText(text)
		doc.version.Add(1)
		s.cache.Invalidate(string(key))
	}
	s.mu.Unlock()

	if !ok {
		return NewOperationError("update", string(key), ErrDocumentNotFound)
	}
	return nil
}

// Ranges returns the ranges of a document, from the cache when they were
// computed from the current text and tree, and otherwise by evaluating the
// document and caching the result. While evaluation is disabled it returns
// nil.
func (s *Service) Ranges(ctx context.Context, key Key) (map[int][]match.Range, error) {
	snap, _, err := s.snapshot(ctx, key)
	return snap.Ranges, err
}

// Snapshot is Ranges with the text and slot table the ranges belong to,
// taken in one step so that a concurrent reload cannot separate them.
func (s *Service) Snapshot(ctx context.Context, key Key) (Snapshot, error) {
	snap, _, err := s.snapshot(ctx, key)
	return snap, err
}

// snapshot reports whether the ranges came from an evaluation rather than
// being suppressed by a disabled service.
func (s *Service) snapshot(ctx context.Context, key Key) (Snapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Snapshot{}, false, ErrShutdown
	}
	doc, ok := s.docs[key]
	if !ok {
		return Snapshot{}, false, NewOperationError("ranges", string(key), ErrDocumentNotFound)
	}
	snap := Snapshot{Text: doc.text}
	if s.tree != nil {
		snap.Slots = s.tree.Slots
	}
	if !s.settings.Enabled {
		return snap, false, nil
	}

	if e, ok := s.cache.Get(string(key)); ok && e.Fingerprint == doc.fingerprint && e.Generation == s.generation {
		snap.Ranges = e.Ranges
		return snap, true, nil
	}

	res, err := s.compute(ctx, doc.text, doc.LanguageID, doc.FileName)
	if err != nil {
		return Snapshot{}, false, NewOperationError("ranges", string(key), err)
	}
	s.cache.Put(string(key), cache.Entry{
		Ranges:      res.Ranges,
		Fingerprint: doc.fingerprint,
		Generation:  s.generation,
	})
	snap.Ranges = res.Ranges
	return snap, true, nil
}

// Schedule recomputes a document's ranges once it has gone a quiet period
// without further calls, then passes them to the OnUpdate callback.
func (s *Service) Schedule(key Key) error {
	s.mu.Lock()
	_, ok := s.docs[key]
	closed := s.closed
	enabled := s.settings.Enabled
	s.mu.Unlock()

	switch {
	case closed:
		return ErrShutdown
	case !ok:
		return NewOperationError("schedule", string(key), ErrDocumentNotFound)
	case !enabled:
		return ErrDisabled
	}
	s.trigger(key)
	return nil
}

// Flush runs a pending scheduled recomputation immediately. It reports
// whether one was pending.
func (s *Service) Flush(key Key) bool {
	return s.sched.Flush(string(key))
}

// Pending reports whether a recomputation is scheduled for key.
func (s *Service) Pending(key Key) bool {
	return s.sched.Pending(string(key))
}

func (s *Service) trigger(key Key) {
	s.sched.Trigger(string(key), func() { s.runScheduled(key) })
}

func (s *Service) runScheduled(key Key) {
	s.metrics.RecordScheduledRun()

	snap, ok, err := s.snapshot(context.Background(), key)
	if err != nil {
		if !errors.Is(err, ErrDocumentNotFound) && !errors.Is(err, ErrShutdown) {
			s.logger.WithComponent("schedule").WithField("document", key).Error("recompute: %v", err)
		}
		return
	}
	if !ok {
		return
	}
	s.notify(key, snap)
}

func (s *Service) notify(key Key, snap Snapshot) {
	if s.onUpdate == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			err := &RecoveredPanicError{Value: r}
			s.logger.WithComponent("schedule").WithField("document", key).Error("update callback: %v", err)
		}
	}()
	s.onUpdate(key, snap)
}

// Invalidate drops a document's cached ranges so the next read recomputes
// them.
func (s *Service) Invalidate(key Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Invalidate(string(key))
}

// SetEnabled turns evaluation on or off. Turning it off drops every cached
// result and pending recomputation; turning it back on recomputes on
// demand.
func (s *Service) SetEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.settings.Enabled == enabled {
		return
	}
	s.settings.Enabled = enabled
	if !enabled {
		s.cache.Clear()
		s.sched.CancelAll()
	}
	s.logger.Debug("evaluation enabled=%v", enabled)
}

// Enabled reports whether evaluation is on.
func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings.Enabled
}

// Shutdown cancels pending work and releases the rule tree. Later calls
// return ErrShutdown.
func (s *Service) Shutdown() {
	s.sched.Stop()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	tree := s.tree
	s.tree = nil
	s.docs = make(documents)
	s.cache.Clear()
	s.mu.Unlock()

	tree.Close()
}
