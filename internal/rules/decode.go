package rules

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Decode converts a configuration map, as produced by the config loaders,
// into rule set configuration. It reads the "ruleSets" key, and also the
// flat "regexs" list of the older single-pattern format.
//
// Elements of the wrong shape are skipped. Each is reported as a *RuleError;
// the returned error joins them and the returned slice holds everything
// that decoded.
func Decode(cfg map[string]any) ([]RuleSetConfig, error) {
	d := &decoder{}
	var sets []RuleSetConfig

	if raw, ok := cfg["ruleSets"]; ok {
		for i, item := range d.list("ruleSets", raw) {
			path := fmt.Sprintf("ruleSets[%d]", i)
			m, ok := d.table(path, item)
			if !ok {
				continue
			}
			sets = append(sets, d.ruleSet(path, m))
		}
	}
	if raw, ok := cfg["regexs"]; ok {
		for i, item := range d.list("regexs", raw) {
			path := fmt.Sprintf("regexs[%d]", i)
			m, ok := d.table(path, item)
			if !ok {
				continue
			}
			if rs, ok := d.legacy(path, m); ok {
				sets = append(sets, rs)
			}
		}
	}
	return sets, errors.Join(d.errs...)
}

type decoder struct {
	errs []error
}

func (d *decoder) fail(path, format string, args ...any) {
	d.errs = append(d.errs, NewRuleError(path, fmt.Errorf("%w: "+format, append([]any{ErrBadConfig}, args...)...)))
}

func (d *decoder) list(path string, v any) []any {
	switch t := v.(type) {
	case []any:
		return t
	case []map[string]any:
		out := make([]any, len(t))
		for i, m := range t {
			out[i] = m
		}
		return out
	case nil:
		return nil
	}
	d.fail(path, "expected a list, got %T", v)
	return nil
}

func (d *decoder) table(path string, v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		d.fail(path, "expected a table, got %T", v)
	}
	return m, ok
}

func (d *decoder) str(path string, v any) string {
	s, ok := v.(string)
	if !ok {
		d.fail(path, "expected a string, got %T", v)
	}
	return s
}

// stringList accepts a string or a list of strings.
func (d *decoder) stringList(path string, v any) []string {
	switch t := v.(type) {
	case string:
		return []string{t}
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for i, item := range t {
			s, ok := item.(string)
			if !ok {
				d.fail(fmt.Sprintf("%s[%d]", path, i), "expected a string, got %T", item)
				continue
			}
			out = append(out, s)
		}
		return out
	}
	d.fail(path, "expected a string or list of strings, got %T", v)
	return nil
}

func (d *decoder) integer(path string, v any) int {
	n, ok := toInt(v)
	if !ok {
		d.fail(path, "expected an integer, got %v", v)
	}
	return n
}

// ref accepts an integer index or a group name.
func (d *decoder) ref(path string, v any) (GroupRef, bool) {
	if s, ok := v.(string); ok {
		if s == "" {
			d.fail(path, "empty group name")
			return GroupRef{}, false
		}
		return NameRef(s), true
	}
	n, ok := toInt(v)
	if !ok || n < 0 {
		d.fail(path, "expected a group index or name, got %v", v)
		return GroupRef{}, false
	}
	return IndexRef(n), true
}

func (d *decoder) ruleSet(path string, m map[string]any) RuleSetConfig {
	var rs RuleSetConfig
	for key, v := range m {
		kp := path + "." + key
		switch key {
		case "name":
			rs.Name = d.str(kp, v)
		case "languageIds", "languages":
			rs.LanguageIDs = d.stringList(kp, v)
		case "languageRegex":
			rs.LanguageRegex = d.str(kp, v)
		case "filenameRegex":
			rs.FilenameRegex = d.str(kp, v)
		case "when":
			rs.When = d.str(kp, v)
		case "rules":
			rs.Rules = d.rules(kp, v)
		default:
			d.fail(kp, "unknown key")
		}
	}
	return rs
}

func (d *decoder) rules(path string, v any) []RuleConfig {
	var out []RuleConfig
	for i, item := range d.list(path, v) {
		ip := fmt.Sprintf("%s[%d]", path, i)
		m, ok := d.table(ip, item)
		if !ok {
			continue
		}
		if rc, ok := d.rule(ip, m); ok {
			out = append(out, rc)
		}
	}
	return out
}

// rule decodes one rule. A rule with a malformed field is dropped whole.
func (d *decoder) rule(path string, m map[string]any) (RuleConfig, bool) {
	before := len(d.errs)
	var rc RuleConfig
	for key, v := range m {
		kp := path + "." + key
		switch key {
		case "pattern", "regex":
			rc.Pattern = d.stringList(kp, v)
		case "flags", "regexFlag":
			rc.Flags = d.str(kp, v)
		case "matchLimit", "regexLimit":
			rc.MatchLimit = d.integer(kp, v)
		case "ref", "index":
			rc.Ref, _ = d.ref(kp, v)
		case "decorations":
			for i, item := range d.list(kp, v) {
				dp := fmt.Sprintf("%s[%d]", kp, i)
				dm, ok := d.table(dp, item)
				if !ok {
					continue
				}
				rc.Decorations = append(rc.Decorations, d.decoration(dp, dm))
			}
		case "rules":
			rc.Rules = d.rules(kp, v)
		default:
			d.fail(kp, "unknown key")
		}
	}
	return rc, len(d.errs) == before
}

// decoration decodes one decoration. Without a "style" table, every key
// other than the reference and hover text is a style key.
func (d *decoder) decoration(path string, m map[string]any) DecorationConfig {
	var dc DecorationConfig
	var loose map[string]any
	for key, v := range m {
		kp := path + "." + key
		switch key {
		case "ref", "index":
			if refs, ok := v.([]any); ok {
				for i, item := range refs {
					if r, ok := d.ref(fmt.Sprintf("%s[%d]", kp, i), item); ok {
						dc.Refs = append(dc.Refs, r)
					}
				}
				continue
			}
			if r, ok := d.ref(kp, v); ok {
				dc.Refs = append(dc.Refs, r)
			}
		case "hoverText", "hoverMessage":
			dc.HoverText = d.str(kp, v)
		case "style":
			dc.Style, _ = d.table(kp, v)
		default:
			if loose == nil {
				loose = make(map[string]any)
			}
			loose[key] = v
		}
	}
	switch {
	case dc.Style == nil:
		dc.Style = loose
	case loose != nil:
		for key := range loose {
			d.fail(path+"."+key, "unknown key beside style")
		}
	}
	return dc
}

// legacy decodes one entry of the older format, where each entry is a single
// pattern with an optional enclosing block pattern:
//
//	{language: "c|cpp", block: "...", regex: "...", decorations: [...]}
//
// The block becomes the rule and the pattern a nested rule searching the
// whole block match.
func (d *decoder) legacy(path string, m map[string]any) (RuleSetConfig, bool) {
	before := len(d.errs)
	var rs RuleSetConfig
	inner := map[string]any{}
	var block RuleConfig
	hasBlock := false
	for key, v := range m {
		kp := path + "." + key
		switch key {
		case "language":
			rs.LanguageIDs = []string{d.str(kp, v)}
		case "block":
			block.Pattern = d.stringList(kp, v)
			hasBlock = true
		case "blockFlag":
			block.Flags = d.str(kp, v)
		case "blockLimit":
			block.MatchLimit = d.integer(kp, v)
		default:
			inner[key] = v
		}
	}
	rc, ok := d.rule(path, inner)
	if !ok || len(d.errs) != before {
		return RuleSetConfig{}, false
	}
	if hasBlock {
		block.Rules = []RuleConfig{rc}
		rc = block
	}
	rs.Rules = []RuleConfig{rc}
	return rs, true
}

// toInt converts the numeric types produced by the TOML, YAML and JSON
// decoders.
func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case int32:
		return int(n), true
	case uint64:
		if n > math.MaxInt32 {
			return 0, false
		}
		return int(n), true
	case float64:
		if n != math.Trunc(n) || math.Abs(n) > math.MaxInt32 {
			return 0, false
		}
		return int(n), true
	case string:
		if i, err := strconv.Atoi(strings.TrimSpace(n)); err == nil {
			return i, true
		}
	}
	return 0, false
}
