package rules

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dshills/regexlight/internal/pattern"
	"github.com/dshills/regexlight/internal/script"
	"github.com/dshills/regexlight/internal/style"
)

// DefaultMatchLimit caps the matches of a rule that sets no limit.
const DefaultMatchLimit = 50000

// Option configures Load.
type Option func(*loader)

// WithMatchLimit sets the limit for rules that do not declare one.
func WithMatchLimit(n int) Option {
	return func(l *loader) {
		if n > 0 {
			l.limit = n
		}
	}
}

// WithPredicateTimeout bounds each evaluation of a rule set's Lua predicate.
func WithPredicateTimeout(d time.Duration) Option {
	return func(l *loader) {
		l.timeout = d
	}
}

type loader struct {
	limit   int
	timeout time.Duration
	tree    *Tree
	errs    []error
}

// Load builds a Tree from configuration. Every malformed element is reported
// as a *RuleError and skipped: a bad rule drops the rule with its nested
// rules, a bad predicate drops its rule set, and everything else loads.
//
// Decoration slots are numbered in load order, depth-first with parents
// before children, so rules declared later or nested deeper paint over
// earlier ones.
func Load(sets []RuleSetConfig, opts ...Option) (*Tree, []error) {
	l := &loader{
		limit:   DefaultMatchLimit,
		timeout: script.DefaultTimeout,
		tree:    &Tree{},
	}
	for _, opt := range opts {
		opt(l)
	}

	for i, sc := range sets {
		rs, err := l.ruleSet(fmt.Sprintf("ruleSets[%d]", i), sc)
		if err != nil {
			l.errs = append(l.errs, err)
			continue
		}
		l.tree.Sets = append(l.tree.Sets, rs)
	}
	return l.tree, l.errs
}

func (l *loader) ruleSet(path string, sc RuleSetConfig) (*RuleSet, error) {
	rs := &RuleSet{Name: sc.Name, Path: path}
	fail := func(field string, err error) (*RuleSet, error) {
		rs.close()
		return nil, NewRuleError(path+"."+field, fmt.Errorf("%w: %w", ErrBadPredicate, err))
	}

	rs.anyLanguage = len(sc.LanguageIDs) == 0
	rs.languages = make(map[string]bool, len(sc.LanguageIDs))
	for _, entry := range sc.LanguageIDs {
		// "go|c" lists several languages in one entry.
		for _, id := range strings.Split(entry, "|") {
			if id = strings.TrimSpace(id); id == "*" {
				rs.anyLanguage = true
			} else if id != "" {
				rs.languages[foldLanguage(id)] = true
			}
		}
	}

	var err error
	if sc.LanguageRegex != "" {
		if rs.language, err = pattern.Compile(sc.LanguageRegex, "i"); err != nil {
			return fail("languageRegex", err)
		}
	}
	if sc.FilenameRegex != "" {
		if rs.filename, err = pattern.Compile(sc.FilenameRegex, ""); err != nil {
			return fail("filenameRegex", err)
		}
	}
	if sc.When != "" {
		if rs.when, err = script.Compile(sc.When, script.WithTimeout(l.timeout)); err != nil {
			return fail("when", err)
		}
	}

	for i, rc := range sc.Rules {
		n, err := l.node(fmt.Sprintf("%s.rules[%d]", path, i), rc, nil)
		if err != nil {
			l.errs = append(l.errs, err)
			continue
		}
		rs.Nodes = append(rs.Nodes, n)
	}
	return rs, nil
}

// node compiles rc and, recursively, its nested rules. parent is the
// enclosing rule's pattern, or nil at the top level.
func (l *loader) node(path string, rc RuleConfig, parent *pattern.Compiled) (*Node, error) {
	src := rc.Source()
	if src == "" {
		return nil, NewRuleError(path+".pattern", ErrEmptyPattern)
	}
	c, err := pattern.Compile(src, rc.Flags)
	if err != nil {
		return nil, NewRuleError(path+".pattern", err)
	}

	n := &Node{
		Pattern:  c,
		ScopeRef: rc.Ref,
		Limit:    l.limit,
		Path:     path,
	}
	if rc.MatchLimit > 0 {
		n.Limit = rc.MatchLimit
	}
	if parent != nil {
		if n.Scope, err = resolve(parent, rc.Ref); err != nil {
			c.Close()
			return nil, NewRuleError(path+".ref", err)
		}
	}

	type decoration struct {
		slot   Slot
		groups []int
		refs   []GroupRef
	}
	decorations := make([]decoration, 0, len(rc.Decorations))
	for i, dc := range rc.Decorations {
		dpath := fmt.Sprintf("%s.decorations[%d]", path, i)
		h, err := style.Parse(dc.Style)
		if err != nil {
			c.Close()
			return nil, NewRuleError(dpath+".style", fmt.Errorf("%w: %w", ErrBadDecoration, err))
		}
		d := decoration{
			slot: Slot{Style: h, Hover: dc.HoverText, Path: dpath},
			refs: dc.Refs,
		}
		if len(d.refs) == 0 {
			d.refs = []GroupRef{{}}
		}
		for _, ref := range d.refs {
			g, err := resolve(c, ref)
			if err != nil {
				c.Close()
				return nil, NewRuleError(dpath+".ref", err)
			}
			d.groups = append(d.groups, g)
		}
		decorations = append(decorations, d)
	}

	// The rule is valid: claim its ordinal and slots before its children.
	n.Ordinal = l.tree.nodes
	l.tree.nodes++
	for _, d := range decorations {
		slot := len(l.tree.Slots)
		l.tree.Slots = append(l.tree.Slots, d.slot)
		for i, g := range d.groups {
			n.Bindings = append(n.Bindings, Binding{
				Ref:   d.refs[i],
				Group: g,
				Slot:  slot,
				Hover: d.slot.Hover,
			})
		}
	}
	sort.SliceStable(n.Bindings, func(i, j int) bool {
		a, b := n.Bindings[i], n.Bindings[j]
		if a.Slot != b.Slot {
			return a.Slot < b.Slot
		}
		return a.Group < b.Group
	})

	for i, child := range rc.Rules {
		cn, err := l.node(fmt.Sprintf("%s.rules[%d]", path, i), child, c)
		if err != nil {
			l.errs = append(l.errs, err)
			continue
		}
		n.Children = append(n.Children, cn)
	}
	return n, nil
}

// resolve maps an author's group reference to a hidden group of c.
func resolve(c *pattern.Compiled, ref GroupRef) (int, error) {
	if ref.IsName() {
		h, ok := c.ResolveName(ref.Name)
		if !ok {
			return 0, fmt.Errorf("%w: no group named %q in %q", ErrUnknownGroup, ref.Name, c.Source)
		}
		return h, nil
	}
	h, ok := c.ResolveIndex(ref.Index)
	if !ok {
		return 0, fmt.Errorf("%w: group %d of %q, which has %d", ErrUnknownGroup, ref.Index, c.Source, c.NumVirtual())
	}
	return h, nil
}
