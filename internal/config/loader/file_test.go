package loader

import (
	"errors"
	"io/fs"
	"strings"
	"testing"
	"time"
)

// MemFS is an in-memory file system for testing.
type MemFS struct {
	files map[string][]byte
}

func NewMemFS() *MemFS {
	return &MemFS{files: make(map[string][]byte)}
}

func (m *MemFS) AddFile(path string, content string) {
	m.files[path] = []byte(content)
}

func (m *MemFS) Open(name string) (fs.File, error) {
	return nil, fs.ErrNotExist
}

func (m *MemFS) ReadFile(path string) ([]byte, error) {
	data, ok := m.files[path]
	if !ok {
		return nil, fs.ErrNotExist
	}
	return data, nil
}

func (m *MemFS) Stat(path string) (fs.FileInfo, error) {
	if _, ok := m.files[path]; ok {
		return &memFileInfo{name: path}, nil
	}
	return nil, fs.ErrNotExist
}

type memFileInfo struct {
	name string
}

func (f *memFileInfo) Name() string       { return f.name }
func (f *memFileInfo) Size() int64        { return 0 }
func (f *memFileInfo) Mode() fs.FileMode  { return 0644 }
func (f *memFileInfo) ModTime() time.Time { return time.Now() }
func (f *memFileInfo) IsDir() bool        { return false }
func (f *memFileInfo) Sys() any           { return nil }

const tomlRules = `
cacheSize = 16

[[ruleSets]]
languageIds = ["go"]

[[ruleSets.rules]]
pattern = '(TODO):(.*)'
matchLimit = 100

[[ruleSets.rules.decorations]]
ref = 1
style = { color = "yellow" }
`

const yamlRules = `
cacheSize: 16
ruleSets:
  - languageIds: [go]
    rules:
      - pattern: '(TODO):(.*)'
        matchLimit: 100
        decorations:
          - ref: 1
            style: {color: yellow}
`

const jsonRules = `{
  "cacheSize": 16,
  "ruleSets": [{
    "languageIds": ["go"],
    "rules": [{
      "pattern": "(TODO):(.*)",
      "matchLimit": 100,
      "decorations": [{"ref": 1, "style": {"color": "yellow"}}]
    }]
  }]
}`

func TestFileLoader_LoadFormats(t *testing.T) {
	tests := []struct {
		path      string
		content   string
		wantCache any
		wantLimit any
	}{
		{"/rules.toml", tomlRules, int64(16), int64(100)},
		{"/rules.yaml", yamlRules, 16, 100},
		{"/rules.yml", yamlRules, 16, 100},
		{"/rules.json", jsonRules, float64(16), float64(100)},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			memfs := NewMemFS()
			memfs.AddFile(tt.path, tt.content)

			config, err := NewFileLoaderWithFS(memfs, tt.path).Load()
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if config["cacheSize"] != tt.wantCache {
				t.Errorf("cacheSize = %v (%T), want %v", config["cacheSize"], config["cacheSize"], tt.wantCache)
			}

			sets, ok := config["ruleSets"].([]any)
			if !ok || len(sets) != 1 {
				t.Fatalf("ruleSets = %#v, want one table", config["ruleSets"])
			}
			set, ok := sets[0].(map[string]any)
			if !ok {
				t.Fatalf("ruleSets[0] = %T, want map[string]any", sets[0])
			}
			rules, ok := set["rules"].([]any)
			if !ok || len(rules) != 1 {
				t.Fatalf("rules = %#v, want one table", set["rules"])
			}
			rule, ok := rules[0].(map[string]any)
			if !ok {
				t.Fatalf("rules[0] = %T, want map[string]any", rules[0])
			}
			if rule["pattern"] != "(TODO):(.*)" {
				t.Errorf("pattern = %v, want '(TODO):(.*)'", rule["pattern"])
			}
			if rule["matchLimit"] != tt.wantLimit {
				t.Errorf("matchLimit = %v (%T), want %v", rule["matchLimit"], rule["matchLimit"], tt.wantLimit)
			}
		})
	}
}

func TestFileLoader_LoadNonExistent(t *testing.T) {
	memfs := NewMemFS()
	loader := NewFileLoaderWithFS(memfs, "/nonexistent.toml")

	config, err := loader.Load()
	if err != nil {
		t.Fatalf("expected no error for non-existent file, got: %v", err)
	}
	if config != nil {
		t.Error("expected nil config for non-existent file")
	}
}

func TestFileLoader_UnknownFormat(t *testing.T) {
	memfs := NewMemFS()
	memfs.AddFile("/rules.ini", "a=1")

	_, err := NewFileLoaderWithFS(memfs, "/rules.ini").Load()
	if !errors.Is(err, ErrUnknownFormat) {
		t.Errorf("err = %v, want %v", err, ErrUnknownFormat)
	}
}

func TestFileLoader_LoadInvalid(t *testing.T) {
	tests := []struct {
		path     string
		content  string
		wantLine int
	}{
		{"/invalid.toml", "a = 1\n[editor\ntabSize = 4\n", 2},
		{"/invalid.yaml", "a: 1\nb: [1, 2\nc: 3\n", 0},
		{"/list.yaml", "- a\n- b\n", 1},
		{"/invalid.json", `{"a": 1,}`, 0},
		{"/list.json", `[1, 2]`, 0},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			memfs := NewMemFS()
			memfs.AddFile(tt.path, tt.content)

			_, err := NewFileLoaderWithFS(memfs, tt.path).LoadFrom(tt.path)
			if err == nil {
				t.Fatal("expected parse error")
			}
			var parseErr *ParseError
			if !errors.As(err, &parseErr) {
				t.Fatalf("expected *ParseError, got %T", err)
			}
			if parseErr.Path != tt.path {
				t.Errorf("Path = %q, want %q", parseErr.Path, tt.path)
			}
			if tt.wantLine > 0 && parseErr.Line != tt.wantLine {
				t.Errorf("Line = %d, want %d", parseErr.Line, tt.wantLine)
			}
		})
	}
}

func TestFileLoader_EmptyFile(t *testing.T) {
	for _, path := range []string{"/empty.toml", "/empty.yaml"} {
		memfs := NewMemFS()
		memfs.AddFile(path, "")

		config, err := NewFileLoaderWithFS(memfs, path).Load()
		if err != nil {
			t.Fatalf("%s: Load failed: %v", path, err)
		}
		if config == nil || len(config) != 0 {
			t.Errorf("%s: config = %v, want empty map", path, config)
		}
	}
}

func TestFileLoader_LoadFromReader(t *testing.T) {
	loader := NewFileLoader("").WithFormat(FormatYAML)

	config, err := loader.LoadFromReader(strings.NewReader("debounce: 250ms\ncacheSize: 4\n"))
	if err != nil {
		t.Fatalf("LoadFromReader failed: %v", err)
	}
	if config["debounce"] != "250ms" {
		t.Errorf("debounce = %v, want '250ms'", config["debounce"])
	}
	if config["cacheSize"] != 4 {
		t.Errorf("cacheSize = %v, want 4", config["cacheSize"])
	}

	if _, err := NewFileLoader("").LoadFromReader(strings.NewReader("{}")); !errors.Is(err, ErrUnknownFormat) {
		t.Errorf("err without format = %v, want %v", err, ErrUnknownFormat)
	}
}

func TestFileLoader_LoadWithIncludes(t *testing.T) {
	memfs := NewMemFS()
	memfs.AddFile("/conf/main.yaml", `
"@include": [base.toml, extra.json]
cacheSize: 8
`)
	memfs.AddFile("/conf/base.toml", `
cacheSize = 32
debounce = "200ms"
`)
	memfs.AddFile("/conf/extra.json", `{"logLevel": "debug", "debounce": "50ms"}`)

	config, err := NewFileLoaderWithFS(memfs, "/conf/main.yaml").Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	// The including file wins over every include, and earlier includes win
	// over later ones.
	want := map[string]any{
		"cacheSize": 8,
		"debounce":  "200ms",
		"logLevel":  "debug",
	}
	if !mapsEqual(config, want) {
		t.Errorf("config = %v, want %v", config, want)
	}
}

func TestFileLoader_LoadWithIncludes_DepthExceeded(t *testing.T) {
	memfs := NewMemFS()
	memfs.AddFile("/a.toml", `"@include" = ["b.toml"]`)
	memfs.AddFile("/b.toml", `"@include" = ["c.toml"]`)
	memfs.AddFile("/c.toml", `"@include" = ["d.toml"]`)
	memfs.AddFile("/d.toml", `value = 1`)

	loader := NewFileLoaderWithFS(memfs, "/a.toml")

	_, err := loader.LoadWithIncludes("/a.toml", 2)
	if !errors.Is(err, ErrIncludeDepth) {
		t.Fatalf("err = %v, want %v", err, ErrIncludeDepth)
	}

	config, err := loader.LoadWithIncludes("/a.toml", 5)
	if err != nil {
		t.Fatalf("expected success with depth 5, got: %v", err)
	}
	if config["value"] != int64(1) {
		t.Errorf("value = %v, want 1", config["value"])
	}
}

func TestFormatOf(t *testing.T) {
	tests := []struct {
		path string
		want Format
	}{
		{"a.toml", FormatTOML},
		{"A.TOML", FormatTOML},
		{"a.yaml", FormatYAML},
		{"dir.d/a.yml", FormatYAML},
		{"a.json", FormatJSON},
	}
	for _, tt := range tests {
		got, err := FormatOf(tt.path)
		if err != nil || got != tt.want {
			t.Errorf("FormatOf(%q) = %v, %v, want %v", tt.path, got, err, tt.want)
		}
	}
	if _, err := FormatOf("rules"); err == nil {
		t.Error("FormatOf(rules) error = nil, want error")
	}
}

func TestDeepMerge(t *testing.T) {
	tests := []struct {
		name     string
		dst      map[string]any
		src      map[string]any
		expected map[string]any
	}{
		{
			name:     "nil dst",
			dst:      nil,
			src:      map[string]any{"a": 1},
			expected: map[string]any{"a": 1},
		},
		{
			name:     "nil src",
			dst:      map[string]any{"a": 1},
			src:      nil,
			expected: map[string]any{"a": 1},
		},
		{
			name:     "src overrides dst",
			dst:      map[string]any{"a": 1, "b": 2},
			src:      map[string]any{"a": 3},
			expected: map[string]any{"a": 3, "b": 2},
		},
		{
			name: "nested merge",
			dst: map[string]any{
				"log": map[string]any{"level": "info"},
			},
			src: map[string]any{
				"log": map[string]any{"file": "x.log"},
			},
			expected: map[string]any{
				"log": map[string]any{"level": "info", "file": "x.log"},
			},
		},
		{
			name:     "lists are replaced",
			dst:      map[string]any{"ruleSets": []any{"a", "b"}},
			src:      map[string]any{"ruleSets": []any{"c"}},
			expected: map[string]any{"ruleSets": []any{"c"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := DeepMerge(tt.dst, tt.src)
			if !mapsEqual(result, tt.expected) {
				t.Errorf("DeepMerge() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestClone(t *testing.T) {
	original := map[string]any{
		"string": "value",
		"nested": map[string]any{
			"deep": "data",
		},
		"array": []any{map[string]any{"pattern": "a"}, "b"},
	}

	cloned := Clone(original)

	original["string"] = "changed"
	original["nested"].(map[string]any)["deep"] = "modified"
	original["array"].([]any)[0].(map[string]any)["pattern"] = "x"

	if cloned["string"] != "value" {
		t.Error("clone was affected by original modification")
	}
	if cloned["nested"].(map[string]any)["deep"] != "data" {
		t.Error("nested clone was affected by original modification")
	}
	if cloned["array"].([]any)[0].(map[string]any)["pattern"] != "a" {
		t.Error("array clone was affected by original modification")
	}
	if Clone(nil) != nil {
		t.Error("Clone(nil) should return nil")
	}
}

// mapsEqual compares two maps for equality (simple version for tests).
func mapsEqual(a, b map[string]any) bool {
	if len(a) != len(b) {
		return false
	}
	for k, va := range a {
		vb, ok := b[k]
		if !ok || !valuesEqual(va, vb) {
			return false
		}
	}
	return true
}

func valuesEqual(a, b any) bool {
	switch ta := a.(type) {
	case map[string]any:
		tb, ok := b.(map[string]any)
		return ok && mapsEqual(ta, tb)
	case []any:
		tb, ok := b.([]any)
		if !ok || len(ta) != len(tb) {
			return false
		}
		for i := range ta {
			if !valuesEqual(ta[i], tb[i]) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}
