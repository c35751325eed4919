package pattern

import (
	"errors"
	"fmt"
)

// Errors returned by pattern compilation.
var (
	// ErrUnterminatedGroup indicates a '(' without its closing ')'.
	ErrUnterminatedGroup = errors.New("unterminated group")

	// ErrUnterminatedClass indicates a '[' without its closing ']'.
	ErrUnterminatedClass = errors.New("unterminated character class")

	// ErrUnterminatedBrace indicates a '{' quantifier or escape argument without '}'.
	ErrUnterminatedBrace = errors.New("unterminated brace")

	// ErrTrailingBackslash indicates the pattern ends with a lone '\'.
	ErrTrailingBackslash = errors.New("trailing backslash")

	// ErrUnmatchedParen indicates a ')' with no opening '('.
	ErrUnmatchedParen = errors.New("unmatched ')'")

	// ErrUnsupported indicates a construct the compiler cannot make addressable.
	ErrUnsupported = errors.New("unsupported construct")

	// ErrBadReference indicates a backreference to a group that does not exist.
	ErrBadReference = errors.New("reference to non-existent group")

	// ErrDuplicateName indicates two groups declare the same name.
	ErrDuplicateName = errors.New("duplicate group name")

	// ErrBadFlag indicates an unknown pattern flag.
	ErrBadFlag = errors.New("unknown flag")

	// ErrReservedCharacter indicates a literal U+E000, U+E001 or U+E002,
	// which the compiler reserves for its own markers. Write them as
	// \x{E000} and so on instead.
	ErrReservedCharacter = errors.New("reserved character")

	// ErrNative indicates the rewritten pattern was rejected by the native engine.
	ErrNative = errors.New("rejected by pattern engine")
)

// CompileError describes a pattern that failed to compile.
type CompileError struct {
	// Pattern is the source pattern as written by the author.
	Pattern string
	// Offset is the byte offset in Pattern where the problem was found, or -1.
	Offset int
	// Detail carries extra text, such as the native engine's message.
	Detail string
	// Err is one of the sentinel errors above.
	Err error
}

// Error implements the error interface.
func (e *CompileError) Error() string {
	msg := e.Err.Error()
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Offset >= 0 {
		return fmt.Sprintf("compile %q at offset %d: %s", e.Pattern, e.Offset, msg)
	}
	return fmt.Sprintf("compile %q: %s", e.Pattern, msg)
}

// Unwrap returns the underlying sentinel error.
func (e *CompileError) Unwrap() error {
	return e.Err
}

// scanError is a position-tagged error raised while scanning the normalized
// pattern; Compile converts it into a CompileError.
type scanError struct {
	pos    int
	err    error
	detail string
}

func (e *scanError) Error() string {
	return fmt.Sprintf("offset %d: %v", e.pos, e.err)
}

func (e *scanError) Unwrap() error {
	return e.err
}

func errAt(err error, pos int) error {
	return &scanError{pos: pos, err: err}
}

func errAtf(err error, pos int, format string, args ...any) error {
	return &scanError{pos: pos, err: err, detail: fmt.Sprintf(format, args...)}
}
