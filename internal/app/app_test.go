package app

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dshills/regexlight/internal/match"
	"github.com/dshills/regexlight/internal/rules"
)

func newService(t *testing.T, opts Options) *Service {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = NewLogger(LoggerConfig{Output: io.Discard})
	}
	if opts.Settings == nil {
		s := DefaultSettings()
		s.Debounce = 20 * time.Millisecond
		opts.Settings = &s
	}
	opts.IgnoreEnv = true
	svc := New(opts)
	t.Cleanup(svc.Shutdown)
	return svc
}

func todoRules(pat string) []rules.RuleSetConfig {
	return []rules.RuleSetConfig{{
		Rules: []rules.RuleConfig{{
			Pattern:     []string{pat},
			Decorations: []rules.DecorationConfig{{Style: map[string]any{"color": "yellow"}}},
		}},
	}}
}

func spans(ranges map[int][]match.Range) map[int][][2]int {
	out := make(map[int][][2]int, len(ranges))
	for slot, rs := range ranges {
		for _, r := range rs {
			out[slot] = append(out[slot], [2]int{r.Start, r.End})
		}
	}
	return out
}

func mustLoadConfig(t *testing.T, svc *Service, sets []rules.RuleSetConfig) {
	t.Helper()
	if _, errs := svc.LoadConfiguration(sets); len(errs) != 0 {
		t.Fatalf("LoadConfiguration() errors = %v", errs)
	}
}

func TestService_ComputeRanges(t *testing.T) {
	svc := newService(t, Options{})
	mustLoadConfig(t, svc, todoRules("TODO"))

	got, err := svc.ComputeRanges(context.Background(), "x TODO y TODO", "go", "main.go")
	if err != nil {
		t.Fatalf("ComputeRanges() error = %v", err)
	}
	want := map[int][][2]int{0: {{2, 6}, {9, 13}}}
	if !reflect.DeepEqual(spans(got), want) {
		t.Errorf("ComputeRanges() = %v, want %v", spans(got), want)
	}
	if svc.CacheStats().Len != 0 {
		t.Errorf("ComputeRanges() filled the cache")
	}
}

func TestService_ComputeRangesWithoutConfiguration(t *testing.T) {
	svc := newService(t, Options{})

	got, err := svc.ComputeRanges(context.Background(), "TODO", "go", "main.go")
	if err != nil {
		t.Fatalf("ComputeRanges() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("ComputeRanges() = %v, want none", got)
	}
}

func TestService_RangesCachedUntilUpdate(t *testing.T) {
	svc := newService(t, Options{})
	mustLoadConfig(t, svc, todoRules("TODO"))
	ctx := context.Background()

	key := svc.Open("main.go", "go", "TODO")
	for i := 0; i < 2; i++ {
		got, err := svc.Ranges(ctx, key)
		if err != nil {
			t.Fatalf("Ranges() error = %v", err)
		}
		if want := map[int][][2]int{0: {{0, 4}}}; !reflect.DeepEqual(spans(got), want) {
			t.Fatalf("Ranges() = %v, want %v", spans(got), want)
		}
	}
	if stats := svc.CacheStats(); stats.Hits != 1 || stats.Misses != 1 {
		t.Errorf("cache hits/misses = %d/%d, want 1/1", stats.Hits, stats.Misses)
	}
	if n := svc.Metrics().Snapshot().PassCount; n != 1 {
		t.Errorf("passes = %d, want 1", n)
	}

	if err := svc.Update(key, "-- TODO"); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	got, err := svc.Ranges(ctx, key)
	if err != nil {
		t.Fatalf("Ranges() error = %v", err)
	}
	if want := map[int][][2]int{0: {{3, 7}}}; !reflect.DeepEqual(spans(got), want) {
		t.Errorf("Ranges() after Update = %v, want %v", spans(got), want)
	}
	if n := svc.Metrics().Snapshot().PassCount; n != 2 {
		t.Errorf("passes = %d, want 2", n)
	}
}

func TestService_Invalidate(t *testing.T) {
	svc := newService(t, Options{})
	mustLoadConfig(t, svc, todoRules("TODO"))
	ctx := context.Background()

	key := svc.Open("", "text", "TODO")
	if _, err := svc.Ranges(ctx, key); err != nil {
		t.Fatal(err)
	}
	svc.Invalidate(key)
	if svc.CacheStats().Len != 0 {
		t.Error("Invalidate() left the entry cached")
	}
	if _, err := svc.Ranges(ctx, key); err != nil {
		t.Fatal(err)
	}
	if n := svc.Metrics().Snapshot().PassCount; n != 2 {
		t.Errorf("passes = %d, want 2", n)
	}
}

func TestService_ReloadInvalidates(t *testing.T) {
	svc := newService(t, Options{})
	mustLoadConfig(t, svc, todoRules("TODO"))
	ctx := context.Background()

	key := svc.Open("main.go", "go", "TODO FIXME")
	if _, err := svc.Ranges(ctx, key); err != nil {
		t.Fatal(err)
	}

	mustLoadConfig(t, svc, todoRules("FIXME"))
	if svc.Generation() != 2 {
		t.Errorf("Generation() = %d, want 2", svc.Generation())
	}
	if svc.CacheStats().Len != 0 {
		t.Error("reload left entries cached")
	}

	got, err := svc.Ranges(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if want := map[int][][2]int{0: {{5, 10}}}; !reflect.DeepEqual(spans(got), want) {
		t.Errorf("Ranges() after reload = %v, want %v", spans(got), want)
	}
}

func TestService_LoadConfigurationSkipsBadRules(t *testing.T) {
	svc := newService(t, Options{})
	sets := []rules.RuleSetConfig{
		todoRules("TODO")[0],
		todoRules("(unclosed")[0],
	}

	tree, errs := svc.LoadConfiguration(sets)
	if len(errs) != 1 {
		t.Fatalf("errors = %v, want 1", errs)
	}
	var ruleErr *rules.RuleError
	if !errors.As(errs[0], &ruleErr) {
		t.Errorf("error %v is not a *rules.RuleError", errs[0])
	}
	if svc.Tree() != tree {
		t.Error("Tree() is not the loaded tree")
	}

	got, err := svc.ComputeRanges(context.Background(), "TODO", "go", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(got[0]) != 1 {
		t.Errorf("ranges = %v, want the good rule to load", got)
	}
}

func TestService_SetEnabled(t *testing.T) {
	svc := newService(t, Options{})
	mustLoadConfig(t, svc, todoRules("TODO"))
	ctx := context.Background()

	key := svc.Open("main.go", "go", "TODO")
	if _, err := svc.Ranges(ctx, key); err != nil {
		t.Fatal(err)
	}

	svc.SetEnabled(false)
	if svc.Enabled() {
		t.Error("Enabled() = true after SetEnabled(false)")
	}
	if svc.CacheStats().Len != 0 {
		t.Error("disabling left entries cached")
	}
	got, err := svc.Ranges(ctx, key)
	if err != nil || got != nil {
		t.Errorf("Ranges() while disabled = %v, %v, want nil, nil", got, err)
	}
	if err := svc.Schedule(key); !errors.Is(err, ErrDisabled) {
		t.Errorf("Schedule() while disabled error = %v, want %v", err, ErrDisabled)
	}

	svc.SetEnabled(true)
	got, err = svc.Ranges(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if len(got[0]) != 1 {
		t.Errorf("Ranges() after re-enable = %v, want one range", got)
	}
}

func TestService_DocumentNotFound(t *testing.T) {
	svc := newService(t, Options{})
	ctx := context.Background()
	missing := NewKey()

	if err := svc.Update(missing, "x"); !errors.Is(err, ErrDocumentNotFound) {
		t.Errorf("Update() error = %v, want %v", err, ErrDocumentNotFound)
	}
	if _, err := svc.Ranges(ctx, missing); !errors.Is(err, ErrDocumentNotFound) {
		t.Errorf("Ranges() error = %v, want %v", err, ErrDocumentNotFound)
	}
	if err := svc.Schedule(missing); !errors.Is(err, ErrDocumentNotFound) {
		t.Errorf("Schedule() error = %v, want %v", err, ErrDocumentNotFound)
	}
	if err := svc.Close(missing); !errors.Is(err, ErrDocumentNotFound) {
		t.Errorf("Close() error = %v, want %v", err, ErrDocumentNotFound)
	}
}

func TestService_OpenClose(t *testing.T) {
	svc := newService(t, Options{})

	a := svc.Open("a.go", "go", "")
	b := svc.Open("b.go", "go", "")
	if a == b {
		t.Fatal("Open() returned the same key twice")
	}
	if got := svc.Documents(); len(got) != 2 {
		t.Errorf("Documents() = %v, want 2 keys", got)
	}

	if err := svc.Close(a); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if got := svc.Documents(); len(got) != 1 || got[0] != b {
		t.Errorf("Documents() = %v, want [%s]", got, b)
	}
}

// updates collects OnUpdate calls.
type updates struct {
	mu    sync.Mutex
	calls []map[int][]match.Range
	ch    chan struct{}
}

func newUpdates() *updates {
	return &updates{ch: make(chan struct{}, 16)}
}

func (u *updates) fn(_ Key, snap Snapshot) {
	u.mu.Lock()
	u.calls = append(u.calls, snap.Ranges)
	u.mu.Unlock()
	u.ch <- struct{}{}
}

func (u *updates) wait(t *testing.T) {
	t.Helper()
	select {
	case <-u.ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for update")
	}
}

func (u *updates) count() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.calls)
}

func TestService_ScheduleCoalesces(t *testing.T) {
	u := newUpdates()
	svc := newService(t, Options{OnUpdate: u.fn})
	mustLoadConfig(t, svc, todoRules("TODO"))

	key := svc.Open("main.go", "go", "TODO")
	for i := 0; i < 5; i++ {
		if err := svc.Update(key, strings.Repeat("TODO ", i+1)); err != nil {
			t.Fatal(err)
		}
		if err := svc.Schedule(key); err != nil {
			t.Fatalf("Schedule() error = %v", err)
		}
	}
	u.wait(t)
	time.Sleep(60 * time.Millisecond)

	if n := u.count(); n != 1 {
		t.Fatalf("updates = %d, want 1", n)
	}
	if got := len(u.calls[0][0]); got != 5 {
		t.Errorf("ranges in update = %d, want 5", got)
	}
	if n := svc.Metrics().Snapshot().ScheduledRuns; n != 1 {
		t.Errorf("ScheduledRuns = %d, want 1", n)
	}
}

func TestService_Flush(t *testing.T) {
	u := newUpdates()
	settings := DefaultSettings()
	settings.Debounce = time.Hour
	svc := newService(t, Options{OnUpdate: u.fn, Settings: &settings})
	mustLoadConfig(t, svc, todoRules("TODO"))

	key := svc.Open("main.go", "go", "TODO")
	if err := svc.Schedule(key); err != nil {
		t.Fatal(err)
	}
	if !svc.Pending(key) {
		t.Fatal("Pending() = false after Schedule")
	}
	if !svc.Flush(key) {
		t.Fatal("Flush() = false, want true")
	}
	if u.count() != 1 {
		t.Errorf("updates = %d, want 1", u.count())
	}
	if svc.Flush(key) {
		t.Error("second Flush() = true, want false")
	}
}

func TestService_ReloadSchedulesOpenDocuments(t *testing.T) {
	u := newUpdates()
	svc := newService(t, Options{OnUpdate: u.fn})

	svc.Open("main.go", "go", "TODO")
	mustLoadConfig(t, svc, todoRules("TODO"))
	u.wait(t)

	if got := len(u.calls[0][0]); got != 1 {
		t.Errorf("ranges in update = %d, want 1", got)
	}
}

func TestService_CloseCancelsSchedule(t *testing.T) {
	u := newUpdates()
	settings := DefaultSettings()
	settings.Debounce = time.Hour
	svc := newService(t, Options{OnUpdate: u.fn, Settings: &settings})
	mustLoadConfig(t, svc, todoRules("TODO"))

	key := svc.Open("main.go", "go", "TODO")
	if err := svc.Schedule(key); err != nil {
		t.Fatal(err)
	}
	if err := svc.Close(key); err != nil {
		t.Fatal(err)
	}
	if svc.Pending(key) {
		t.Error("Pending() = true after Close")
	}
}

func TestService_UpdateCallbackPanicRecovered(t *testing.T) {
	var buf bytes.Buffer
	settings := DefaultSettings()
	settings.Debounce = time.Hour
	svc := newService(t, Options{
		Logger:   NewLogger(LoggerConfig{Output: &buf}),
		Settings: &settings,
		OnUpdate: func(Key, Snapshot) { panic("boom") },
	})
	mustLoadConfig(t, svc, todoRules("TODO"))

	key := svc.Open("main.go", "go", "TODO")
	if err := svc.Schedule(key); err != nil {
		t.Fatal(err)
	}
	svc.Flush(key)

	if !strings.Contains(buf.String(), "panic: boom") {
		t.Errorf("expected the panic to be logged, got: %s", buf.String())
	}
}

func TestService_ReportsCounted(t *testing.T) {
	var buf bytes.Buffer
	svc := newService(t, Options{Logger: NewLogger(LoggerConfig{Output: &buf})})
	sets := todoRules("a")
	sets[0].Rules[0].MatchLimit = 2
	mustLoadConfig(t, svc, sets)

	got, err := svc.ComputeRanges(context.Background(), "aaaa", "go", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(got[0]) != 2 {
		t.Errorf("ranges = %d, want 2", len(got[0]))
	}
	if n := svc.Metrics().Snapshot().LimitReports; n != 1 {
		t.Errorf("LimitReports = %d, want 1", n)
	}
	if !strings.Contains(buf.String(), "component=match") {
		t.Errorf("expected the report to be logged, got: %s", buf.String())
	}
}

func TestService_Snapshot(t *testing.T) {
	svc := newService(t, Options{})
	mustLoadConfig(t, svc, todoRules("TODO"))
	ctx := context.Background()
	key := svc.Open("main.go", "go", "a TODO")

	snap, err := svc.Snapshot(ctx, key)
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}

	sets := todoRules("a")
	sets[0].Rules[0].Decorations = append(sets[0].Rules[0].Decorations,
		rules.DecorationConfig{Style: map[string]any{"color": "red"}})
	mustLoadConfig(t, svc, sets)
	if err := svc.Update(key, "b"); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	// The earlier snapshot still describes the earlier tree and text.
	if snap.Text != "a TODO" {
		t.Errorf("Text = %q, want %q", snap.Text, "a TODO")
	}
	if len(snap.Slots) != 1 {
		t.Errorf("len(Slots) = %d, want 1", len(snap.Slots))
	}
	if want := map[int][][2]int{0: {{2, 6}}}; !reflect.DeepEqual(spans(snap.Ranges), want) {
		t.Errorf("Ranges = %v, want %v", spans(snap.Ranges), want)
	}

	snap, err = svc.Snapshot(ctx, key)
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if snap.Text != "b" || len(snap.Slots) != 2 || len(snap.Ranges) != 0 {
		t.Errorf("Snapshot() = %+v, want text %q with 2 slots and no ranges", snap, "b")
	}
}

// Replaced trees release their patterns; the collector must not release
// them a second time.
func TestService_ReloadThenCollect(t *testing.T) {
	svc := newService(t, Options{})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		mustLoadConfig(t, svc, todoRules(`(TO)(DO)|FIX(ME)?`))
		runtime.GC()
		runtime.GC()
	}

	got, err := svc.ComputeRanges(ctx, "TODO FIXME", "go", "main.go")
	if err != nil {
		t.Fatalf("ComputeRanges() error = %v", err)
	}
	if want := map[int][][2]int{0: {{0, 4}, {5, 10}}}; !reflect.DeepEqual(spans(got), want) {
		t.Errorf("ComputeRanges() = %v, want %v", spans(got), want)
	}

	svc.Shutdown()
	runtime.GC()
	runtime.GC()
}

func TestService_Shutdown(t *testing.T) {
	svc := newService(t, Options{})
	mustLoadConfig(t, svc, todoRules("TODO"))
	key := svc.Open("main.go", "go", "TODO")

	svc.Shutdown()
	svc.Shutdown()

	if svc.Tree() != nil {
		t.Error("Tree() != nil after Shutdown")
	}
	if _, err := svc.Ranges(context.Background(), key); !errors.Is(err, ErrShutdown) {
		t.Errorf("Ranges() error = %v, want %v", err, ErrShutdown)
	}
	if _, err := svc.ComputeRanges(context.Background(), "", "", ""); !errors.Is(err, ErrShutdown) {
		t.Errorf("ComputeRanges() error = %v, want %v", err, ErrShutdown)
	}
	if _, errs := svc.LoadConfiguration(nil); len(errs) != 1 || !errors.Is(errs[0], ErrShutdown) {
		t.Errorf("LoadConfiguration() errors = %v, want [%v]", errs, ErrShutdown)
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestService_LoadFile(t *testing.T) {
	path := writeFile(t, "rules.yaml", `
debounce: 50ms
cacheSize: 4
matchLimit: 10
ruleSets:
  - languageIds: [go]
    rules:
      - pattern: TODO
        decorations:
          - style: {color: yellow}
      - pattern: 42
`)
	svc := newService(t, Options{})

	tree, skipped, err := svc.LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if len(skipped) != 1 || !errors.Is(skipped[0], rules.ErrBadConfig) {
		t.Errorf("skipped = %v, want one %v", skipped, rules.ErrBadConfig)
	}
	if len(tree.Sets) != 1 || len(tree.Sets[0].Nodes) != 1 {
		t.Fatalf("tree has %d sets, want 1 with 1 rule", len(tree.Sets))
	}
	if tree.Sets[0].Nodes[0].Limit != 10 {
		t.Errorf("rule limit = %d, want 10", tree.Sets[0].Nodes[0].Limit)
	}

	settings := svc.Settings()
	if settings.Debounce != 50*time.Millisecond {
		t.Errorf("Debounce = %v, want 50ms", settings.Debounce)
	}
	if settings.CacheSize != 4 || svc.CacheStats().Capacity != 4 {
		t.Errorf("CacheSize = %d, capacity %d, want 4", settings.CacheSize, svc.CacheStats().Capacity)
	}

	got, err := svc.ComputeRanges(context.Background(), "TODO", "Go", "main.go")
	if err != nil {
		t.Fatal(err)
	}
	if len(got[0]) != 1 {
		t.Errorf("ranges = %v, want one", got)
	}
}

func TestService_LoadFileEnvOverride(t *testing.T) {
	t.Setenv("REGEXLIGHT_CACHE_SIZE", "3")
	t.Setenv("REGEXLIGHT_DEBOUNCE", "250ms")
	path := writeFile(t, "rules.toml", `
cacheSize = 9

[[ruleSets]]
[[ruleSets.rules]]
pattern = "TODO"
`)
	svc := New(Options{Logger: NewLogger(LoggerConfig{Output: io.Discard})})
	t.Cleanup(svc.Shutdown)

	if _, _, err := svc.LoadFile(path); err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	settings := svc.Settings()
	if settings.CacheSize != 3 {
		t.Errorf("CacheSize = %d, want 3", settings.CacheSize)
	}
	if settings.Debounce != 250*time.Millisecond {
		t.Errorf("Debounce = %v, want 250ms", settings.Debounce)
	}
}

func TestService_LoadFileErrors(t *testing.T) {
	tests := []struct {
		name    string
		path    func(t *testing.T) string
		wantErr error
	}{
		{
			name:    "missing",
			path:    func(t *testing.T) string { return filepath.Join(t.TempDir(), "none.yaml") },
			wantErr: os.ErrNotExist,
		},
		{
			name: "bad settings",
			path: func(t *testing.T) string {
				return writeFile(t, "rules.json", `{"debounce": "soon", "ruleSets": []}`)
			},
		},
		{
			name: "bad syntax",
			path: func(t *testing.T) string {
				return writeFile(t, "rules.yaml", "ruleSets: [\n")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newService(t, Options{})
			mustLoadConfig(t, svc, todoRules("TODO"))
			before := svc.Tree()

			_, _, err := svc.LoadFile(tt.path(t))
			if err == nil {
				t.Fatal("LoadFile() error = nil, want error")
			}
			var opErr *OperationError
			if !errors.As(err, &opErr) || opErr.Op != "load" {
				t.Errorf("error = %v, want a load *OperationError", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
			if svc.Tree() != before {
				t.Error("a failed LoadFile replaced the tree")
			}
		})
	}
}
