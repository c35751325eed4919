// Package pattern compiles user-authored patterns into an equivalent native
// pattern in which every sub-expression is addressable.
//
// Every run of plain text and every parenthesized construct of the source is
// wrapped in a hidden capturing group, numbered in source order. The author's
// own group numbers and names (virtual groups) are mapped onto hidden groups,
// and each hidden group records the sibling groups whose matched lengths add
// up to its offset. Given only the start of a match and the text captured by
// each hidden group, Locate recovers the absolute span of any group.
//
// The native engine is PCRE2, so lookbehind, lookahead and backreferences
// behave as they do in Perl-compatible engines.
package pattern

import (
	"fmt"
	"strings"

	"go.elara.ws/pcre"
)

// DefaultFlags are applied when a rule specifies no flags.
const DefaultFlags = "gm"

// Compiled is an immutable compiled pattern. It is safe to share across
// documents once built.
type Compiled struct {
	// Source is the pattern as written by the author.
	Source string
	// Flags are the flags the pattern was compiled with.
	Flags string
	// Native is the rewritten pattern handed to the native engine.
	Native string
	// IndexMap maps virtual group numbers to hidden group numbers.
	// IndexMap[0] is always 0, the whole match.
	IndexMap []int
	// NameMap maps group names to hidden group numbers.
	NameMap map[string]int
	// DependencyMap lists, for each hidden group, the hidden groups whose
	// lengths are summed to find the group's start within its frame.
	DependencyMap map[int][]int
	// Frames holds the groups that are not based at the match start.
	Frames map[int]Frame
	// Groups is the number of hidden groups.
	Groups int

	re *nativeRegexp
}

// Compile rewrites src and compiles it with the native engine.
func Compile(src, flags string) (*Compiled, error) {
	if flags == "" {
		flags = DefaultFlags
	}
	opts, err := parseFlags(flags)
	if err != nil {
		return nil, &CompileError{Pattern: src, Offset: -1, Detail: err.Error(), Err: ErrBadFlag}
	}

	if i := strings.IndexFunc(src, isPlaceholder); i >= 0 {
		return nil, &CompileError{Pattern: src, Offset: i, Detail: fmt.Sprintf("%U", []rune(src[i:])[0]), Err: ErrReservedCharacter}
	}

	normalized := normalize(src)
	b := newBuilder(normalized)
	text, n, err := b.rewrite()
	if err != nil {
		return nil, toCompileError(src, normalized, err)
	}
	native := denormalize(text)

	re, err := compileNative(native, opts)
	if err != nil {
		return nil, &CompileError{Pattern: src, Offset: -1, Detail: err.Error(), Err: ErrNative}
	}

	return &Compiled{
		Source:        src,
		Flags:         flags,
		Native:        native,
		IndexMap:      b.indexMap,
		NameMap:       b.nameMap,
		DependencyMap: b.deps,
		Frames:        b.frames,
		Groups:        n.hidden,
		re:            re,
	}, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(src, flags string) *Compiled {
	c, err := Compile(src, flags)
	if err != nil {
		panic(fmt.Sprintf("pattern: Compile(%q): %v", src, err))
	}
	return c
}

// Close releases the native engine's resources. It is safe to call more
// than once.
func (c *Compiled) Close() {
	if c.re != nil {
		c.re.Close()
	}
}

// String returns the source pattern.
func (c *Compiled) String() string {
	return c.Source
}

// NumVirtual returns the number of groups the author declared.
func (c *Compiled) NumVirtual() int {
	return len(c.IndexMap) - 1
}

// ResolveIndex maps a virtual group number to its hidden group.
func (c *Compiled) ResolveIndex(virtual int) (int, bool) {
	if virtual < 0 || virtual >= len(c.IndexMap) {
		return 0, false
	}
	return c.IndexMap[virtual], true
}

// ResolveName maps a group name to its hidden group.
func (c *Compiled) ResolveName(name string) (int, bool) {
	h, ok := c.NameMap[name]
	return h, ok
}

// MatchString reports whether s contains a match, empty matches included.
// A match the engine gives up on counts as no match.
func (c *Compiled) MatchString(s string) bool {
	loc, err := c.re.first(s)
	return err == nil && loc != nil
}

// Submatch mirrors an exec-style match result: where the match starts in the
// searched text and what each hidden group captured.
type Submatch struct {
	// Index is the byte offset of the match in the searched text.
	Index int
	// Groups holds the captured text of each hidden group.
	Groups []string
	// Set reports whether each hidden group holds a capture.
	Set []bool
	// Starts holds the native start offset of each hidden group, or -1.
	// Inside a repeated construct a group may still hold the capture of an
	// earlier iteration; Locate uses Starts to tell such captures apart.
	Starts []int
}

// Len returns the length of the whole match.
func (m Submatch) Len() int {
	return len(m.Groups[0])
}

// Exec calls fn with successive non-overlapping matches in text until fn
// returns false or the matches run out. Empty matches are delivered; the
// next attempt after one must be non-empty at the same position or start a
// character later. Each attempt is requested only when the previous one was
// accepted, so stopping early also stops the scan.
func (c *Compiled) Exec(text string, fn func(Submatch) bool) error {
	return c.re.each(text, func(loc []int) bool {
		return fn(c.submatch(text, loc))
	})
}

// FindAll returns up to limit matches in text, all of them when limit is not
// positive.
func (c *Compiled) FindAll(text string, limit int) ([]Submatch, error) {
	var out []Submatch
	err := c.Exec(text, func(m Submatch) bool {
		out = append(out, m)
		return limit <= 0 || len(out) < limit
	})
	return out, err
}

func (c *Compiled) submatch(text string, loc []int) Submatch {
	m := Submatch{
		Index:  loc[0],
		Groups: make([]string, c.Groups+1),
		Set:    make([]bool, c.Groups+1),
		Starts: make([]int, c.Groups+1),
	}
	for g := 0; g <= c.Groups; g++ {
		m.Starts[g] = -1
		if 2*g+1 >= len(loc) {
			continue
		}
		if start, end := loc[2*g], loc[2*g+1]; start >= 0 && start <= end {
			m.Set[g] = true
			m.Groups[g] = text[start:end]
			m.Starts[g] = start
		}
	}
	return m
}

// Locate returns the span of hidden group h in the searched text. The span is
// computed from m.Index and the lengths listed in the group's dependencies.
// ok is false when the group did not participate in the match, including a
// group whose capture was left over from an earlier iteration of a repeat.
func (c *Compiled) Locate(m Submatch, h int) (start, end int, ok bool) {
	if h < 0 || h >= len(m.Set) || !m.Set[h] {
		return 0, 0, false
	}
	start = c.start(m, h)
	if m.Starts != nil && m.Starts[h] != start {
		return 0, 0, false
	}
	return start, start + len(m.Groups[h]), true
}

func (c *Compiled) start(m Submatch, h int) int {
	base := m.Index
	f, framed := c.Frames[h]
	if framed && f.Group != 0 {
		base = c.start(m, f.Group)
		if f.FromEnd {
			base += len(m.Groups[f.Group])
		}
	}
	for _, d := range c.DependencyMap[h] {
		base += len(m.Groups[d])
	}
	if framed && f.Behind {
		base -= len(m.Groups[h])
	}
	return base
}

// parseFlags converts flag letters into native options. 'g' is implied by
// global iteration and patterns are always compiled for UTF-8, so 'u', 'y'
// and 'd' are accepted and have no effect.
func parseFlags(flags string) (pcre.CompileOption, error) {
	var opts pcre.CompileOption
	for _, f := range flags {
		switch f {
		case 'g', 'u', 'y', 'd':
		case 'i':
			opts |= pcre.Caseless
		case 'm':
			opts |= pcre.Multiline
		case 's':
			opts |= pcre.DotAll
		default:
			return 0, fmt.Errorf("flag %q", f)
		}
	}
	return opts, nil
}
