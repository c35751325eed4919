package pattern

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"unicode/utf8"
	"unsafe"

	"go.elara.ws/pcre"
	"go.elara.ws/pcre/lib"
	"modernc.org/libc"
	"modernc.org/libc/sys/types"
)

// Errors returned while matching.
var (
	// ErrClosed indicates a match on a pattern whose native resources were
	// released.
	ErrClosed = errors.New("pattern closed")

	// ErrMatch indicates the native engine gave up on a match attempt, for
	// instance on reaching its backtracking limit.
	ErrMatch = errors.New("match failed")
)

// StepLimit bounds the backtracking work of a single match attempt.
const StepLimit = 1_000_000

// baseOptions are set on every native pattern. Offsets stay byte offsets;
// characters are never split and invalid UTF-8 in the subject is tolerated.
const baseOptions = pcre.UTF | pcre.MatchInvalidUTF

const (
	unset = ^lib.Tsize_t(0)

	retryEmpty = uint32(lib.DPCRE2_NOTEMPTY_ATSTART | lib.DPCRE2_ANCHORED)
)

// compileFailure mirrors the error code and offset filled in by the native
// compiler.
type compileFailure struct {
	code   int32
	offset lib.Tsize_t
}

// nativeRegexp drives the PCRE2 library one match attempt at a time, so
// empty matches are seen and iteration can stop at any point. Close may be
// called any number of times.
type nativeRegexp struct {
	mu   sync.Mutex
	tls  *libc.TLS
	code uintptr
	md   uintptr
	mctx uintptr
}

// nativeError is a compile error reported by the native engine.
type nativeError struct {
	offset int
	msg    string
}

func (e *nativeError) Error() string {
	return fmt.Sprintf("offset %d: %s", e.offset, e.msg)
}

func compileNative(expr string, opts pcre.CompileOption) (*nativeRegexp, error) {
	tls := libc.NewTLS()

	cExpr, err := libc.CString(expr)
	if err != nil {
		tls.Close()
		return nil, err
	}
	var f compileFailure
	cErr := libc.Xmalloc(tls, types.Size_t(unsafe.Sizeof(f)))
	if cErr == 0 {
		libc.Xfree(tls, cExpr)
		tls.Close()
		return nil, errors.New("out of memory")
	}

	code := lib.Xpcre2_compile_8(tls, cExpr, lib.Tsize_t(len(expr)), uint32(opts|baseOptions),
		cErr+unsafe.Offsetof(f.code), cErr+unsafe.Offsetof(f.offset), 0)
	if code == 0 {
		f = *(*compileFailure)(unsafe.Pointer(cErr))
		msg := errorMessage(tls, f.code)
		libc.Xfree(tls, cErr)
		libc.Xfree(tls, cExpr)
		tls.Close()
		return nil, &nativeError{offset: int(f.offset), msg: msg}
	}
	libc.Xfree(tls, cErr)
	libc.Xfree(tls, cExpr)

	r := &nativeRegexp{
		tls:  tls,
		code: code,
		md:   lib.Xpcre2_match_data_create_from_pattern_8(tls, code, 0),
		mctx: lib.Xpcre2_match_context_create_8(tls, 0),
	}
	lib.Xpcre2_set_match_limit_8(tls, r.mctx, StepLimit)
	runtime.SetFinalizer(r, (*nativeRegexp).Close)
	return r, nil
}

func errorMessage(tls *libc.TLS, code int32) string {
	const size = 256
	buf := libc.Xmalloc(tls, size)
	if buf == 0 {
		return fmt.Sprintf("error %d", code)
	}
	defer libc.Xfree(tls, buf)
	if lib.Xpcre2_get_error_message_8(tls, code, buf, size) < 0 {
		return fmt.Sprintf("error %d", code)
	}
	return libc.GoString(buf)
}

// Close releases the native resources.
func (r *nativeRegexp) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.code == 0 {
		return
	}
	lib.Xpcre2_match_data_free_8(r.tls, r.md)
	lib.Xpcre2_match_context_free_8(r.tls, r.mctx)
	lib.Xpcre2_code_free_8(r.tls, r.code)
	r.code, r.md, r.mctx = 0, 0, 0
	r.tls.Close()
	runtime.SetFinalizer(r, nil)
}

// subject holds the searched text as a NUL-terminated byte slice. The slice
// is heap allocated and stays reachable for the whole iteration.
type subject struct {
	buf  []byte
	text string
}

func newSubject(text string) *subject {
	buf := make([]byte, len(text)+1)
	copy(buf, text)
	return &subject{buf: buf, text: text}
}

// match runs one attempt starting at offset and returns the group offsets,
// -1 for unset groups. loc is nil when nothing matched.
func (r *nativeRegexp) match(s *subject, offset int, options uint32) ([]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.code == 0 {
		return nil, ErrClosed
	}
	ptr := uintptr(unsafe.Pointer(&s.buf[0]))
	rc := lib.Xpcre2_match_8(r.tls, r.code, ptr, lib.Tsize_t(len(s.text)), lib.Tsize_t(offset), options, r.md, r.mctx)
	runtime.KeepAlive(s)
	if rc == lib.DPCRE2_ERROR_NOMATCH {
		return nil, nil
	}
	if rc < 0 {
		return nil, fmt.Errorf("%w: %s", ErrMatch, errorMessage(r.tls, rc))
	}

	pairs := int(lib.Xpcre2_get_ovector_count_8(r.tls, r.md))
	ovec := unsafe.Slice((*lib.Tsize_t)(unsafe.Pointer(lib.Xpcre2_get_ovector_pointer_8(r.tls, r.md))), 2*pairs)
	loc := make([]int, 2*pairs)
	for i, v := range ovec {
		if v == unset {
			loc[i] = -1
		} else {
			loc[i] = int(v)
		}
	}
	return loc, nil
}

// each calls fn with successive non-overlapping matches in text until fn
// returns false. After an empty match the next attempt at the same position
// must be non-empty; failing that the search moves on by one character.
func (r *nativeRegexp) each(text string, fn func(loc []int) bool) error {
	s := newSubject(text)
	offset, options := 0, uint32(0)
	for offset <= len(text) {
		loc, err := r.match(s, offset, options)
		if err != nil {
			return err
		}
		if loc == nil {
			if options == 0 || offset >= len(text) {
				return nil
			}
			_, size := utf8.DecodeRuneInString(text[offset:])
			offset, options = offset+size, 0
			continue
		}
		if !fn(loc) {
			return nil
		}
		offset, options = loc[1], 0
		if loc[0] == loc[1] {
			options = retryEmpty
		}
	}
	return nil
}

// first returns the leftmost match in text, or nil.
func (r *nativeRegexp) first(text string) ([]int, error) {
	var out []int
	err := r.each(text, func(loc []int) bool {
		out = loc
		return false
	})
	return out, err
}
