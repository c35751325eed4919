package pattern

import (
	"strings"
	"unicode/utf8"
)

// escapedBackslash replaces every `\\` in the source before scanning so that a
// backslash preceding a delimiter is never mistaken for an escape.
const escapedBackslash = "\uE000"

// isPlaceholder reports whether r is one of the private runes the compiler
// uses as markers. Patterns may not contain them literally.
func isPlaceholder(r rune) bool {
	return r >= '\uE000' && r <= '\uE002'
}

// normalize swaps escaped backslashes for the placeholder.
func normalize(src string) string {
	return strings.ReplaceAll(src, `\\`, escapedBackslash)
}

// denormalize restores escaped backslashes.
func denormalize(s string) string {
	return strings.ReplaceAll(s, escapedBackslash, `\\`)
}

// sourceOffset maps an offset in the normalized text back to the author's text.
func sourceOffset(normalized string, pos int) int {
	if pos < 0 {
		return pos
	}
	if pos > len(normalized) {
		pos = len(normalized)
	}
	n := strings.Count(normalized[:pos], escapedBackslash)
	return pos - n*(len(escapedBackslash)-2)
}

// scanEscape returns the index just past the escape sequence starting at s[i] == '\'.
func scanEscape(s string, i int) (int, error) {
	if i+1 >= len(s) {
		return 0, errAt(ErrTrailingBackslash, i)
	}
	switch c := s[i+1]; c {
	case 'Q':
		end := strings.Index(s[i+2:], `\E`)
		if end < 0 {
			return len(s), nil
		}
		return i + 2 + end + 2, nil
	case 'c':
		if i+2 < len(s) {
			return i + 3, nil
		}
		return len(s), nil
	case 'x', 'o', 'p', 'P', 'N', 'g', 'k':
		if i+2 >= len(s) {
			return i + 2, nil
		}
		var closer byte
		switch s[i+2] {
		case '{':
			closer = '}'
		case '<':
			if c == 'k' || c == 'g' {
				closer = '>'
			}
		case '\'':
			if c == 'k' || c == 'g' {
				closer = '\''
			}
		}
		if closer == 0 {
			return i + 2, nil
		}
		end := strings.IndexByte(s[i+3:], closer)
		if end < 0 {
			return 0, errAt(ErrUnterminatedBrace, i+2)
		}
		return i + 3 + end + 1, nil
	}
	_, size := utf8.DecodeRuneInString(s[i+1:])
	return i + 1 + size, nil
}

// scanClass returns the index of the ']' closing the class whose body starts
// at s[i] (just past the '[').
func scanClass(s string, i int) (int, error) {
	j := i
	if j < len(s) && s[j] == '^' {
		j++
	}
	// A ']' in first position is literal.
	if j < len(s) && s[j] == ']' {
		j++
	}
	for j < len(s) {
		switch s[j] {
		case '\\':
			next, err := scanEscape(s, j)
			if err != nil {
				return 0, err
			}
			j = next
			continue
		case '[':
			// POSIX classes: [:alpha:], [.x.], [=x=]
			if j+1 < len(s) && strings.IndexByte(":.=", s[j+1]) >= 0 {
				if end := strings.Index(s[j+2:], string(s[j+1])+"]"); end >= 0 {
					j += 2 + end + 2
					continue
				}
			}
		case ']':
			return j, nil
		}
		j++
	}
	return 0, errAt(ErrUnterminatedClass, i-1)
}

// scanBrace returns the index of the '}' closing a counted quantifier whose
// body starts at s[i]. It returns -1 when the brace is not a quantifier, in
// which case the '{' is an ordinary character.
func scanBrace(s string, i int) (int, error) {
	digits := 0
	for j := i; j < len(s); j++ {
		switch c := s[j]; {
		case c == '}':
			if digits == 0 {
				return -1, nil
			}
			return j, nil
		case c >= '0' && c <= '9':
			digits++
		case c == ',' || c == ' ':
		default:
			return -1, nil
		}
	}
	if digits == 0 {
		return -1, nil
	}
	return 0, errAt(ErrUnterminatedBrace, i-1)
}

// scanQuantifier returns the index just past any quantifier starting at s[i],
// including a lazy '?' or possessive '+' suffix. It returns i if there is none.
func scanQuantifier(s string, i int) (int, error) {
	if i >= len(s) {
		return i, nil
	}
	var j int
	switch s[i] {
	case '*', '+', '?':
		j = i + 1
	case '{':
		end, err := scanBrace(s, i+1)
		if err != nil {
			return 0, err
		}
		if end < 0 {
			return i, nil
		}
		j = end + 1
	default:
		return i, nil
	}
	if j < len(s) && (s[j] == '?' || s[j] == '+') {
		j++
	}
	return j, nil
}

// scanGroup returns the index of the ')' closing the group whose body starts
// at s[i] (just past the '('). Nested groups and classes are skipped.
func scanGroup(s string, i int) (int, error) {
	j := i
	if strings.HasPrefix(s[j:], "?#") {
		end := strings.IndexByte(s[j:], ')')
		if end < 0 {
			return 0, errAt(ErrUnterminatedGroup, i-1)
		}
		return j + end, nil
	}
	for j < len(s) {
		switch s[j] {
		case '\\':
			next, err := scanEscape(s, j)
			if err != nil {
				return 0, err
			}
			j = next
		case '[':
			end, err := scanClass(s, j+1)
			if err != nil {
				return 0, err
			}
			j = end + 1
		case '(':
			end, err := scanGroup(s, j+1)
			if err != nil {
				return 0, err
			}
			j = end + 1
		case ')':
			return j, nil
		default:
			j++
		}
	}
	return 0, errAt(ErrUnterminatedGroup, i-1)
}

// span is a half-open byte range of the normalized pattern.
type span struct {
	lo, hi int
}

// splitAlternatives splits s[lo:hi] on '|' characters that are not nested
// inside a class or group.
func splitAlternatives(s string, lo, hi int) ([]span, error) {
	var out []span
	start := lo
	for j := lo; j < hi; {
		switch s[j] {
		case '\\':
			next, err := scanEscape(s, j)
			if err != nil {
				return nil, err
			}
			j = next
		case '[':
			end, err := scanClass(s, j+1)
			if err != nil {
				return nil, err
			}
			j = end + 1
		case '(':
			end, err := scanGroup(s, j+1)
			if err != nil {
				return nil, err
			}
			j = end + 1
		case ')':
			return nil, errAt(ErrUnmatchedParen, j)
		case '|':
			out = append(out, span{start, j})
			j++
			start = j
		default:
			j++
		}
	}
	return append(out, span{start, hi}), nil
}
