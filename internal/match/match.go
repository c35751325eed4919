// Package match runs a loaded rule tree over document text and collects the
// decorated ranges.
//
// Each node's pattern is iterated globally over its text. Every match emits
// one range per binding whose group took part with non-empty text, then runs
// the node's children over the text captured by their scoping group. All
// nested work for one match completes before the next match is examined.
package match

import (
	"fmt"

	"github.com/dshills/regexlight/internal/pattern"
	"github.com/dshills/regexlight/internal/rules"
)

// Range is a decorated span of the document, in byte offsets.
type Range struct {
	Start int
	End   int
	// Slot is the decoration that painted the range.
	Slot  int
	Hover string
}

// Len returns the length of the range.
func (r Range) Len() int {
	return r.End - r.Start
}

// ReportKind classifies a non-fatal event raised during evaluation.
type ReportKind int

const (
	// LimitExceeded means a node stopped because it reached its match limit.
	LimitExceeded ReportKind = iota + 1
	// EmptyMatch means a node stopped on a zero-length match.
	EmptyMatch
	// PredicateFailed means a rule set's applicability predicate raised an
	// error. The rule set was skipped.
	PredicateFailed
	// MatchFailed means the pattern engine gave up on a node, usually on
	// reaching its backtracking limit.
	MatchFailed
)

func (k ReportKind) String() string {
	switch k {
	case LimitExceeded:
		return "limit exceeded"
	case EmptyMatch:
		return "empty match"
	case PredicateFailed:
		return "predicate failed"
	case MatchFailed:
		return "match failed"
	default:
		return fmt.Sprintf("ReportKind(%d)", int(k))
	}
}

// Report describes where evaluation of a node or rule set was cut short.
type Report struct {
	Kind ReportKind
	// Path locates the rule or rule set in the configuration.
	Path string
	// Offset is the document offset of the match that triggered the report,
	// or -1.
	Offset int
	Err    error
}

func (r Report) String() string {
	s := fmt.Sprintf("%s: %s", r.Path, r.Kind)
	if r.Offset >= 0 {
		s += fmt.Sprintf(" at offset %d", r.Offset)
	}
	if r.Err != nil {
		s += ": " + r.Err.Error()
	}
	return s
}

// Result holds the ranges of one evaluation, grouped by decoration slot.
// Ranges of a slot are in match order, which is not always document order.
type Result struct {
	Ranges  map[int][]Range
	Reports []Report
}

// Len returns the number of ranges across all slots.
func (r *Result) Len() int {
	if r == nil {
		return 0
	}
	n := 0
	for _, rs := range r.Ranges {
		n += len(rs)
	}
	return n
}

// state is the per-invocation bookkeeping. Counters are indexed by node
// ordinal and start at zero for every top-level invocation.
type state struct {
	counts   []int
	reported []uint8
	result   *Result
	onReport func(Report)
}

func newState(nodes int, onReport func(Report)) *state {
	return &state{
		counts:   make([]int, nodes),
		reported: make([]uint8, nodes),
		result:   &Result{Ranges: make(map[int][]Range)},
		onReport: onReport,
	}
}

// Search evaluates n and its descendants over text, which starts at document
// offset base. Counters are local to the call.
func Search(n *rules.Node, text string, base int) *Result {
	nodes := 0
	n.Walk(func(c *rules.Node) {
		if c.Ordinal >= nodes {
			nodes = c.Ordinal + 1
		}
	})
	s := newState(nodes, nil)
	s.search(n, text, base)
	return s.result
}

func (s *state) search(n *rules.Node, text string, base int) {
	c := n.Pattern
	err := c.Exec(text, func(m pattern.Submatch) bool {
		s.counts[n.Ordinal]++
		if s.counts[n.Ordinal] > n.Limit {
			s.report(n, LimitExceeded, base+m.Index, nil)
			return false
		}
		if m.Len() == 0 {
			s.report(n, EmptyMatch, base+m.Index, nil)
			return false
		}

		for _, b := range n.Bindings {
			start, end, ok := c.Locate(m, b.Group)
			if !ok || start == end {
				continue
			}
			s.result.Ranges[b.Slot] = append(s.result.Ranges[b.Slot], Range{
				Start: base + start,
				End:   base + end,
				Slot:  b.Slot,
				Hover: b.Hover,
			})
		}

		for _, child := range n.Children {
			start, end, ok := c.Locate(m, child.Scope)
			if !ok || start == end {
				continue
			}
			s.search(child, text[start:end], base+start)
		}
		return true
	})
	if err != nil {
		s.report(n, MatchFailed, -1, err)
	}
}

// report records each kind at most once per node and invocation.
func (s *state) report(n *rules.Node, kind ReportKind, offset int, err error) {
	bit := uint8(1) << kind
	if s.reported[n.Ordinal]&bit != 0 {
		return
	}
	s.reported[n.Ordinal] |= bit
	r := Report{Kind: kind, Path: n.Path, Offset: offset, Err: err}
	s.result.Reports = append(s.result.Reports, r)
	if s.onReport != nil {
		s.onReport(r)
	}
}
