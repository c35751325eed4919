package pattern

import (
	"strconv"
	"strings"
)

// Markers delimit a pending backreference in the rewritten text until every
// group has a hidden number.
const (
	refOpen  = '\uE001'
	refClose = '\uE002'
)

// backref is a reference found in the source, waiting for resolution.
type backref struct {
	pos    int    // offset in the normalized pattern
	num    int    // virtual group number; 0 when referenced by name
	name   string // group name for named references
	digits string // source digits of a bare \N, which may be an octal escape
}

// parseBackref reports whether the escape at s[i] is a backreference.
// virtual is the number of capturing groups opened before position i, used
// for relative references. It returns the reference and the index past it.
func parseBackref(s string, i int, virtual int) (backref, int, bool, error) {
	if i+1 >= len(s) {
		return backref{}, 0, false, nil
	}
	switch c := s[i+1]; {
	case c >= '1' && c <= '9':
		j := i + 1
		for j < len(s) && s[j] >= '0' && s[j] <= '9' {
			j++
		}
		n, _ := strconv.Atoi(s[i+1 : j])
		return backref{pos: i, num: n, digits: s[i+1 : j]}, j, true, nil
	case c == 'g':
		if i+2 >= len(s) {
			return backref{}, 0, false, nil
		}
		var body string
		var end int
		switch s[i+2] {
		case '{':
			closeAt := strings.IndexByte(s[i+3:], '}')
			if closeAt < 0 {
				return backref{}, 0, false, errAt(ErrUnterminatedBrace, i+2)
			}
			body, end = s[i+3:i+3+closeAt], i+3+closeAt+1
		case '<', '\'':
			return backref{}, 0, false, errAtf(ErrUnsupported, i, "subroutine call %s", s[i:i+3])
		default:
			j := i + 2
			if s[j] == '-' || s[j] == '+' {
				j++
			}
			for j < len(s) && s[j] >= '0' && s[j] <= '9' {
				j++
			}
			body, end = s[i+2:j], j
		}
		ref, err := numericOrNamed(body, i, virtual)
		if err != nil {
			return backref{}, 0, false, err
		}
		return ref, end, true, nil
	case c == 'k':
		if i+2 >= len(s) {
			return backref{}, 0, false, nil
		}
		var closer byte
		switch s[i+2] {
		case '<':
			closer = '>'
		case '\'':
			closer = '\''
		case '{':
			closer = '}'
		default:
			return backref{}, 0, false, nil
		}
		closeAt := strings.IndexByte(s[i+3:], closer)
		if closeAt < 0 {
			return backref{}, 0, false, errAt(ErrUnterminatedBrace, i+2)
		}
		return backref{pos: i, name: s[i+3 : i+3+closeAt]}, i + 3 + closeAt + 1, true, nil
	}
	return backref{}, 0, false, nil
}

// numericOrNamed interprets the body of a \g reference.
func numericOrNamed(body string, pos, virtual int) (backref, error) {
	if body == "" {
		return backref{}, errAt(ErrBadReference, pos)
	}
	n, err := strconv.Atoi(body)
	if err != nil {
		return backref{pos: pos, name: body}, nil
	}
	switch {
	case body[0] == '-':
		n = virtual + n + 1
	case body[0] == '+':
		n = virtual + n
	}
	if n <= 0 {
		return backref{}, errAtf(ErrBadReference, pos, "group %s", body)
	}
	return backref{pos: pos, num: n}, nil
}

// marker returns the placeholder for the i-th pending reference.
func marker(i int) string {
	return string(refOpen) + strconv.Itoa(i) + string(refClose)
}

// resolveRefs replaces reference markers with references to hidden groups.
func resolveRefs(s string, refs []backref, indexMap []int, nameMap map[string]int) (string, error) {
	if len(refs) == 0 {
		return s, nil
	}
	var b strings.Builder
	b.Grow(len(s))
	for {
		open := strings.IndexRune(s, refOpen)
		if open < 0 {
			b.WriteString(s)
			return b.String(), nil
		}
		b.WriteString(s[:open])
		rest := s[open+len(string(refOpen)):]
		closeAt := strings.IndexRune(rest, refClose)
		idx, _ := strconv.Atoi(rest[:closeAt])
		s = rest[closeAt+len(string(refClose)):]

		ref := refs[idx]
		virtualCount := len(indexMap) - 1
		switch {
		case ref.name != "":
			h, ok := nameMap[ref.name]
			if !ok {
				return "", errAtf(ErrBadReference, ref.pos, "name %q", ref.name)
			}
			writeRef(&b, h)
		case ref.num <= virtualCount:
			writeRef(&b, indexMap[ref.num])
		case ref.digits != "" && ref.num >= 10:
			// Not a group number: the digits are an octal escape.
			b.WriteString(`\` + ref.digits)
		default:
			return "", errAtf(ErrBadReference, ref.pos, "group %d", ref.num)
		}
	}
}

func writeRef(b *strings.Builder, hidden int) {
	b.WriteString(`\g{`)
	b.WriteString(strconv.Itoa(hidden))
	b.WriteString(`}`)
}
