// Package script evaluates sandboxed Lua predicates.
//
// A predicate is a single Lua expression such as
//
//	language ~= "markdown" and not filename:find("_test")
//
// evaluated with the globals language and filename bound to the document
// being searched. The state is stripped of file, OS and module loading
// functions before any expression runs.
package script

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/tidwall/match"
	lua "github.com/yuin/gopher-lua"
)

// DefaultTimeout bounds a single evaluation.
const DefaultTimeout = 50 * time.Millisecond

var (
	// ErrCompile is returned for an expression Lua cannot parse.
	ErrCompile = errors.New("predicate does not compile")

	// ErrEval is returned when evaluation raises an error or times out.
	ErrEval = errors.New("predicate evaluation failed")

	// ErrClosed is returned when evaluating a closed predicate.
	ErrClosed = errors.New("predicate closed")
)

// Env is the document a predicate is evaluated against.
type Env struct {
	Language string
	FileName string
}

// Predicate is a compiled Lua boolean expression. Lua states are not safe for
// concurrent use, so evaluations are serialized.
type Predicate struct {
	mu      sync.Mutex
	L       *lua.LState
	fn      *lua.LFunction
	source  string
	timeout time.Duration
	closed  bool
}

// Option configures a Predicate.
type Option func(*Predicate)

// WithTimeout sets the evaluation time limit.
func WithTimeout(d time.Duration) Option {
	return func(p *Predicate) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// Compile parses expr into a Predicate.
func Compile(expr string, opts ...Option) (*Predicate, error) {
	p := &Predicate{
		source:  expr,
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}

	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	openSafeLibraries(L)
	sandbox(L)
	L.SetGlobal("glob", L.NewFunction(luaGlob))

	fn, err := L.LoadString("return (" + expr + "\n)")
	if err != nil {
		L.Close()
		return nil, fmt.Errorf("%w: %q: %v", ErrCompile, expr, err)
	}
	p.L = L
	p.fn = fn
	return p, nil
}

// String returns the source expression.
func (p *Predicate) String() string {
	return p.source
}

// Eval evaluates the predicate for env. Lua truthiness applies: only nil and
// false are false.
func (p *Predicate) Eval(ctx context.Context, env Env) (result bool, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return false, ErrClosed
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	p.L.SetContext(ctx)
	defer p.L.RemoveContext()

	defer func() {
		if r := recover(); r != nil {
			result, err = false, fmt.Errorf("%w: %q: lua panic: %v", ErrEval, p.source, r)
		}
	}()

	p.L.SetGlobal("language", lua.LString(env.Language))
	p.L.SetGlobal("filename", lua.LString(env.FileName))

	top := p.L.GetTop()
	p.L.Push(p.fn)
	if err := p.L.PCall(0, 1, nil); err != nil {
		p.L.SetTop(top)
		return false, fmt.Errorf("%w: %q: %v", ErrEval, p.source, err)
	}
	v := p.L.Get(-1)
	p.L.SetTop(top)
	return lua.LVAsBool(v), nil
}

// Close releases the Lua state.
func (p *Predicate) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	p.L.Close()
}

// luaGlob implements glob(pattern), matching the base name of filename
// against a pattern of * and ? wildcards.
func luaGlob(L *lua.LState) int {
	pattern := L.CheckString(1)
	name := filepath.Base(lua.LVAsString(L.GetGlobal("filename")))
	L.Push(lua.LBool(match.Match(name, pattern)))
	return 1
}

func openSafeLibraries(L *lua.LState) {
	lua.OpenBase(L)
	lua.OpenString(L)
	lua.OpenTable(L)
	lua.OpenMath(L)
}

// sandbox removes globals that reach outside the state.
func sandbox(L *lua.LState) {
	for _, name := range []string{
		"dofile",
		"loadfile",
		"load",
		"loadstring",
		"require",
		"module",
		"collectgarbage",
		"print",
	} {
		L.SetGlobal(name, lua.LNil)
	}
}
