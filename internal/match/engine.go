package match

import (
	"context"

	"github.com/dshills/regexlight/internal/rules"
)

// Engine evaluates rule trees over documents.
type Engine struct {
	onReport func(Report)
}

// Option configures an Engine.
type Option func(*Engine)

// WithReportHandler sets a function called for every report as it is raised.
func WithReportHandler(fn func(Report)) Option {
	return func(e *Engine) {
		e.onReport = fn
	}
}

// NewEngine creates an engine.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Compute runs every rule set of tree that applies to the document over
// text. Rule sets are gated on languageID and fileName once each before any
// of their rules run.
//
// The context bounds applicability predicates and is checked between rule
// sets; a pass already searching a rule set runs to completion. The only
// error returned is the context's.
func (e *Engine) Compute(ctx context.Context, tree *rules.Tree, text, languageID, fileName string) (*Result, error) {
	s := newState(tree.NumNodes(), e.onReport)
	if tree == nil {
		return s.result, nil
	}

	for _, rs := range tree.Sets {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		ok, err := rs.Check(ctx, languageID, fileName)
		if err != nil {
			r := Report{Kind: PredicateFailed, Path: rs.Path + ".when", Offset: -1, Err: err}
			s.result.Reports = append(s.result.Reports, r)
			if s.onReport != nil {
				s.onReport(r)
			}
			continue
		}
		if !ok {
			continue
		}
		for _, n := range rs.Nodes {
			s.search(n, text, 0)
		}
	}
	return s.result, nil
}
