package app

import (
	"testing"
	"time"
)

func TestParseSettings(t *testing.T) {
	tests := []struct {
		name string
		cfg  map[string]any
		want func(*Settings)
	}{
		{"empty", map[string]any{}, func(*Settings) {}},
		{"defaults", DefaultConfig(), func(*Settings) {}},
		{"duration string", map[string]any{"debounce": "250ms"}, func(s *Settings) { s.Debounce = 250 * time.Millisecond }},
		{"duration value", map[string]any{"predicateTimeout": time.Second}, func(s *Settings) { s.PredicateTimeout = time.Second }},
		{"milliseconds int64", map[string]any{"debounce": int64(40)}, func(s *Settings) { s.Debounce = 40 * time.Millisecond }},
		{"milliseconds float", map[string]any{"debounce": float64(15)}, func(s *Settings) { s.Debounce = 15 * time.Millisecond }},
		{"cache size", map[string]any{"cacheSize": 4}, func(s *Settings) { s.CacheSize = 4 }},
		{"match limit string", map[string]any{"matchLimit": "10"}, func(s *Settings) { s.MatchLimit = 10 }},
		{"log level", map[string]any{"logLevel": "DEBUG"}, func(s *Settings) { s.LogLevel = LogLevelDebug }},
		{"disabled", map[string]any{"enabled": false}, func(s *Settings) { s.Enabled = false }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSettings(tt.cfg)
			if err != nil {
				t.Fatalf("ParseSettings() error = %v", err)
			}
			want := DefaultSettings()
			tt.want(&want)
			if got != want {
				t.Errorf("ParseSettings() = %+v, want %+v", got, want)
			}
		})
	}
}

func TestParseSettingsErrors(t *testing.T) {
	tests := []map[string]any{
		{"enabled": "yes"},
		{"logLevel": 3},
		{"debounce": "soon"},
		{"debounce": true},
		{"cacheSize": 0},
		{"cacheSize": -2},
		{"cacheSize": 1.5},
		{"matchLimit": "many"},
		{"matchLimit": []any{1}},
	}

	for _, cfg := range tests {
		if _, err := ParseSettings(cfg); err == nil {
			t.Errorf("ParseSettings(%v) error = nil, want error", cfg)
		}
	}
}
