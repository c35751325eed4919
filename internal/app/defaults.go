package app

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/dshills/regexlight/internal/cache"
	"github.com/dshills/regexlight/internal/rules"
	"github.com/dshills/regexlight/internal/schedule"
	"github.com/dshills/regexlight/internal/script"
)

// DefaultConfig returns the top-level settings applied when a configuration
// file leaves them out.
func DefaultConfig() map[string]any {
	return map[string]any{
		"enabled":          true,
		"logLevel":         "info",
		"debounce":         schedule.DefaultDelay.String(),
		"cacheSize":        cache.DefaultCapacity,
		"matchLimit":       rules.DefaultMatchLimit,
		"predicateTimeout": script.DefaultTimeout.String(),
	}
}

// Settings are the service tunables read from a configuration file.
type Settings struct {
	Enabled          bool
	LogLevel         LogLevel
	Debounce         time.Duration
	CacheSize        int
	MatchLimit       int
	PredicateTimeout time.Duration
}

// DefaultSettings returns the settings of DefaultConfig.
func DefaultSettings() Settings {
	return Settings{
		Enabled:          true,
		LogLevel:         LogLevelInfo,
		Debounce:         schedule.DefaultDelay,
		CacheSize:        cache.DefaultCapacity,
		MatchLimit:       rules.DefaultMatchLimit,
		PredicateTimeout: script.DefaultTimeout,
	}
}

// ParseSettings reads the top-level settings of cfg. Missing keys keep
// their defaults; a key of the wrong type is an error.
func ParseSettings(cfg map[string]any) (Settings, error) {
	s := DefaultSettings()
	var err error

	if v, ok := cfg["enabled"]; ok {
		b, ok := v.(bool)
		if !ok {
			return s, fmt.Errorf("enabled: want bool, got %T", v)
		}
		s.Enabled = b
	}
	if v, ok := cfg["logLevel"]; ok {
		name, ok := v.(string)
		if !ok {
			return s, fmt.Errorf("logLevel: want string, got %T", v)
		}
		s.LogLevel = ParseLogLevel(name)
	}
	if v, ok := cfg["debounce"]; ok {
		if s.Debounce, err = durationValue(v); err != nil {
			return s, fmt.Errorf("debounce: %w", err)
		}
	}
	if v, ok := cfg["predicateTimeout"]; ok {
		if s.PredicateTimeout, err = durationValue(v); err != nil {
			return s, fmt.Errorf("predicateTimeout: %w", err)
		}
	}
	if v, ok := cfg["cacheSize"]; ok {
		if s.CacheSize, err = positiveInt(v); err != nil {
			return s, fmt.Errorf("cacheSize: %w", err)
		}
	}
	if v, ok := cfg["matchLimit"]; ok {
		if s.MatchLimit, err = positiveInt(v); err != nil {
			return s, fmt.Errorf("matchLimit: %w", err)
		}
	}
	return s, nil
}

// durationValue accepts a Go duration string or a number of milliseconds.
func durationValue(v any) (time.Duration, error) {
	switch d := v.(type) {
	case time.Duration:
		return d, nil
	case string:
		return time.ParseDuration(d)
	}
	n, err := positiveInt(v)
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Millisecond, nil
}

func positiveInt(v any) (int, error) {
	var n int
	switch x := v.(type) {
	case int:
		n = x
	case int64:
		n = int(x)
	case uint64:
		if x > math.MaxInt32 {
			return 0, fmt.Errorf("%d out of range", x)
		}
		n = int(x)
	case float64:
		if x != math.Trunc(x) {
			return 0, fmt.Errorf("%v is not an integer", x)
		}
		n = int(x)
	case string:
		i, err := strconv.Atoi(x)
		if err != nil {
			return 0, err
		}
		n = i
	default:
		return 0, fmt.Errorf("want number, got %T", v)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%d is not positive", n)
	}
	return n, nil
}
