package pattern

import (
	"errors"
	"strings"
)

// Frame locates the base a hidden group's dependency sum is added to, for the
// groups whose base is not the start of the match.
type Frame struct {
	// Group is the hidden group whose start is the base; 0 means the match start.
	Group int
	// FromEnd moves the base to the end of Group.
	FromEnd bool
	// Behind means the group ends at the computed position instead of starting there.
	Behind bool
}

// builder accumulates the maps for a single compilation. Group counters are
// passed through the rewrite functions rather than stored here.
type builder struct {
	src      string
	indexMap []int
	nameMap  map[string]int
	deps     map[int][]int
	frames   map[int]Frame
	refs     []backref
}

// counters tracks the next hidden and virtual group numbers.
type counters struct {
	hidden  int
	virtual int
}

// scope is the placement context inherited by a sequence: the frame its
// groups are based on and the dependency prefix accumulated by its ancestors.
type scope struct {
	frame int
	deps  []int
}

type groupKind int

const (
	kindCapture groupKind = iota
	kindNamed
	kindGroup // non-capturing, atomic or inline-modifier group
	kindAhead
	kindBehind
	kindNegative // negative lookahead or lookbehind
)

type opener struct {
	kind groupKind
	head string
	name string
}

func newBuilder(src string) *builder {
	return &builder{
		src:      src,
		indexMap: []int{0},
		nameMap:  make(map[string]int),
		deps:     map[int][]int{0: {}},
		frames:   make(map[int]Frame),
	}
}

// alternation rewrites src[lo:hi], which may contain top-level '|'.
func (b *builder) alternation(lo, hi int, sc scope, n counters) (string, counters, error) {
	branches, err := splitAlternatives(b.src, lo, hi)
	if err != nil {
		return "", n, err
	}
	parts := make([]string, len(branches))
	for i, br := range branches {
		parts[i], n, err = b.sequence(br.lo, br.hi, sc, n)
		if err != nil {
			return "", n, err
		}
	}
	return strings.Join(parts, "|"), n, nil
}

// sequence rewrites one alternative: runs of plain text are wrapped in a
// hidden group and every parenthesized construct is made addressable.
func (b *builder) sequence(lo, hi int, sc scope, n counters) (string, counters, error) {
	s := b.src
	var out, run strings.Builder
	var sib []int

	flush := func() {
		if run.Len() == 0 {
			return
		}
		n.hidden++
		h := n.hidden
		b.place(h, sc, sib, false)
		sib = append(sib, h)
		out.WriteByte('(')
		out.WriteString(run.String())
		out.WriteByte(')')
		run.Reset()
	}

	for i := lo; i < hi; {
		switch s[i] {
		case '\\':
			ref, next, ok, err := parseBackref(s, i, n.virtual)
			if err != nil {
				return "", n, err
			}
			if ok {
				run.WriteString(marker(len(b.refs)))
				b.refs = append(b.refs, ref)
				i = next
				continue
			}
			next, err = scanEscape(s, i)
			if err != nil {
				return "", n, err
			}
			run.WriteString(s[i:next])
			i = next
		case '[':
			end, err := scanClass(s, i+1)
			if err != nil {
				return "", n, err
			}
			run.WriteString(s[i : end+1])
			i = end + 1
		case '{':
			end, err := scanBrace(s, i+1)
			if err != nil {
				return "", n, err
			}
			if end < 0 {
				run.WriteByte('{')
				i++
				continue
			}
			run.WriteString(s[i : end+1])
			i = end + 1
		case ')':
			return "", n, errAt(ErrUnmatchedParen, i)
		case '(':
			end, err := scanGroup(s, i+1)
			if err != nil {
				return "", n, err
			}
			g := s[i : end+1]
			switch {
			case strings.HasPrefix(g, "(?#"):
				i = end + 1
				continue
			case strings.HasPrefix(g, "(?P="):
				run.WriteString(marker(len(b.refs)))
				b.refs = append(b.refs, backref{pos: i, name: g[4 : len(g)-1]})
				i = end + 1
				continue
			case isInlineFlags(g):
				// Flags apply to the rest of the enclosing group, so they
				// must not be trapped inside a run wrapper.
				flush()
				out.WriteString(g)
				i = end + 1
				continue
			}
			qEnd, err := scanQuantifier(s, end+1)
			if err != nil {
				return "", n, err
			}
			flush()
			var text string
			var consumed []int
			text, consumed, n, err = b.construct(i, end, s[end+1:qEnd], sc, sib, n)
			if err != nil {
				return "", n, err
			}
			out.WriteString(text)
			sib = append(sib, consumed...)
			i = qEnd
		default:
			run.WriteByte(s[i])
			i++
		}
	}
	flush()
	return out.String(), n, nil
}

// construct rewrites the group src[lo:end+1] followed by quantifier q. It
// returns the rewritten text and the hidden groups that consume text in the
// enclosing sequence.
func (b *builder) construct(lo, end int, q string, sc scope, sib []int, n counters) (string, []int, counters, error) {
	op, err := parseOpener(b.src[lo:end+1], lo)
	if err != nil {
		return "", nil, n, err
	}
	bodyLo := lo + len(op.head)
	var body string

	switch op.kind {
	case kindCapture, kindNamed, kindGroup:
		n.hidden++
		w := n.hidden
		b.place(w, sc, sib, false)
		target := w
		inner := scope{frame: sc.frame, deps: b.deps[w]}
		if q != "" {
			// The wrapper spans every repetition; target holds the last one,
			// which ends where the wrapper ends.
			n.hidden++
			target = n.hidden
			b.deps[target] = []int{}
			b.frames[target] = Frame{Group: w, FromEnd: true, Behind: true}
			inner = scope{frame: target}
		}
		if op.kind != kindGroup {
			n.virtual++
			b.indexMap = append(b.indexMap, target)
			if op.name != "" {
				if _, dup := b.nameMap[op.name]; dup {
					return "", nil, n, errAtf(ErrDuplicateName, lo, "%q", op.name)
				}
				b.nameMap[op.name] = target
			}
		}
		body, n, err = b.alternation(bodyLo, end, inner, n)
		if err != nil {
			return "", nil, n, err
		}
		var text string
		switch {
		case op.kind != kindGroup && q == "":
			text = op.head + body + ")"
		case op.kind != kindGroup:
			text = "(" + op.head + body + ")" + q + ")"
		case q == "":
			text = "(" + op.head + body + "))"
		default:
			text = "(" + op.head + "(" + body + "))" + q + ")"
		}
		return text, []int{w}, n, nil

	case kindAhead:
		n.hidden++
		h := n.hidden
		b.place(h, sc, sib, false)
		body, n, err = b.alternation(bodyLo, end, scope{frame: sc.frame, deps: b.deps[h]}, n)
		if err != nil {
			return "", nil, n, err
		}
		return quantify("(?=("+body+"))", q), nil, n, nil

	case kindNegative:
		n.hidden++
		h := n.hidden
		b.place(h, sc, sib, false)
		body, n, err = b.alternation(bodyLo, end, scope{frame: sc.frame, deps: b.deps[h]}, n)
		if err != nil {
			return "", nil, n, err
		}
		return quantify("("+op.head+body+"))", q), nil, n, nil

	case kindBehind:
		// Each top-level branch gets its own group so that every branch
		// of the assertion stays fixed-length for the native engine.
		branches, err := splitAlternatives(b.src, bodyLo, end)
		if err != nil {
			return "", nil, n, err
		}
		parts := make([]string, len(branches))
		for i, br := range branches {
			n.hidden++
			h := n.hidden
			b.place(h, sc, sib, true)
			body, n, err = b.sequence(br.lo, br.hi, scope{frame: h}, n)
			if err != nil {
				return "", nil, n, err
			}
			parts[i] = "(" + body + ")"
		}
		return quantify("(?<="+strings.Join(parts, "|")+")", q), nil, n, nil
	}
	return "", nil, n, errAt(ErrUnsupported, lo)
}

// place records the dependency list and frame of hidden group h.
func (b *builder) place(h int, sc scope, sib []int, behind bool) {
	deps := make([]int, 0, len(sc.deps)+len(sib))
	deps = append(deps, sc.deps...)
	deps = append(deps, sib...)
	b.deps[h] = deps
	if sc.frame != 0 || behind {
		b.frames[h] = Frame{Group: sc.frame, Behind: behind}
	}
}

func quantify(text, q string) string {
	if q == "" {
		return text
	}
	return "(?:" + text + ")" + q
}

// parseOpener classifies the group g, which starts at offset pos.
func parseOpener(g string, pos int) (opener, error) {
	if len(g) < 2 {
		return opener{}, errAt(ErrUnterminatedGroup, pos)
	}
	if g[1] == '*' {
		return opener{}, errAtf(ErrUnsupported, pos, "verb %s", g)
	}
	if g[1] != '?' {
		return opener{kind: kindCapture, head: "("}, nil
	}
	rest := g[2:]
	switch {
	case strings.HasPrefix(rest, ":"), strings.HasPrefix(rest, ">"):
		return opener{kind: kindGroup, head: g[:3]}, nil
	case strings.HasPrefix(rest, "="):
		return opener{kind: kindAhead, head: "(?="}, nil
	case strings.HasPrefix(rest, "!"):
		return opener{kind: kindNegative, head: "(?!"}, nil
	case strings.HasPrefix(rest, "<="):
		return opener{kind: kindBehind, head: "(?<="}, nil
	case strings.HasPrefix(rest, "<!"):
		return opener{kind: kindNegative, head: "(?<!"}, nil
	case strings.HasPrefix(rest, "<"):
		return namedOpener(g, 3, '>', pos)
	case strings.HasPrefix(rest, "P<"):
		return namedOpener(g, 4, '>', pos)
	case strings.HasPrefix(rest, "'"):
		return namedOpener(g, 3, '\'', pos)
	}
	if head, ok := modifierHead(g); ok {
		return opener{kind: kindGroup, head: head}, nil
	}
	return opener{}, errAtf(ErrUnsupported, pos, "group %s", g)
}

func namedOpener(g string, nameAt int, closer byte, pos int) (opener, error) {
	end := strings.IndexByte(g[nameAt:], closer)
	if end <= 0 {
		return opener{}, errAtf(ErrUnsupported, pos, "group name in %s", g)
	}
	name := g[nameAt : nameAt+end]
	if !validName(name) {
		return opener{}, errAtf(ErrUnsupported, pos, "group name %q", name)
	}
	return opener{kind: kindNamed, head: g[:nameAt+end+1], name: name}, nil
}

func validName(name string) bool {
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c == '_', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9' && i > 0:
		default:
			return false
		}
	}
	return name != ""
}

const flagLetters = "imnsxJU^-"

// isInlineFlags reports whether g is a bare option setting such as (?i) or (?-s).
func isInlineFlags(g string) bool {
	if len(g) < 4 || !strings.HasPrefix(g, "(?") {
		return false
	}
	for _, c := range g[2 : len(g)-1] {
		if !strings.ContainsRune(flagLetters, c) {
			return false
		}
	}
	return true
}

// modifierHead returns "(?flags:" for a scoped option group.
func modifierHead(g string) (string, bool) {
	colon := strings.IndexByte(g, ':')
	if colon < 3 {
		return "", false
	}
	for _, c := range g[2:colon] {
		if !strings.ContainsRune(flagLetters, c) {
			return "", false
		}
	}
	return g[:colon+1], true
}

// rewrite runs the whole rewrite over the normalized source and returns the
// rewritten text, still normalized, and the final counters.
func (b *builder) rewrite() (string, counters, error) {
	text, n, err := b.alternation(0, len(b.src), scope{}, counters{})
	if err != nil {
		return "", n, err
	}
	text, err = resolveRefs(text, b.refs, b.indexMap, b.nameMap)
	if err != nil {
		return "", n, err
	}
	return text, n, nil
}

// toCompileError converts a scanning error into a CompileError for src.
func toCompileError(src, normalized string, err error) *CompileError {
	var se *scanError
	if errors.As(err, &se) {
		return &CompileError{
			Pattern: src,
			Offset:  sourceOffset(normalized, se.pos),
			Detail:  se.detail,
			Err:     se.err,
		}
	}
	return &CompileError{Pattern: src, Offset: -1, Err: err}
}
