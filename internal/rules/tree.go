package rules

import (
	"context"
	"strings"

	"golang.org/x/text/cases"

	"github.com/dshills/regexlight/internal/pattern"
	"github.com/dshills/regexlight/internal/script"
	"github.com/dshills/regexlight/internal/style"
)

// Binding ties a hidden group of a node's pattern to a decoration slot.
type Binding struct {
	// Ref is the group as the author referenced it.
	Ref GroupRef
	// Group is the hidden group Ref resolves to.
	Group int
	// Slot identifies the decoration. Higher slots paint over lower ones.
	Slot  int
	Hover string
}

// Slot describes one decoration of the loaded tree.
type Slot struct {
	Style style.Handle
	Hover string
	// Path is where the decoration was declared.
	Path string
}

// Node is a compiled rule. Nodes are immutable once loaded.
type Node struct {
	Pattern *pattern.Compiled
	// Bindings are ordered by slot, then by hidden group.
	Bindings []Binding
	Children []*Node
	// ScopeRef is the parent group this node searches within, as written.
	ScopeRef GroupRef
	// Scope is the hidden group of the parent's pattern ScopeRef resolves to.
	Scope int
	// Limit caps the matches counted for this node per evaluation.
	Limit int
	// Ordinal indexes per-evaluation state. Ordinals are unique within a
	// tree and assigned depth-first.
	Ordinal int
	// Path is where the rule was declared.
	Path string
}

// Walk calls fn for n and its descendants, parents first.
func (n *Node) Walk(fn func(*Node)) {
	fn(n)
	for _, c := range n.Children {
		c.Walk(fn)
	}
}

// RuleSet is an ordered list of nodes with an applicability predicate.
type RuleSet struct {
	Name  string
	Nodes []*Node
	Path  string

	anyLanguage bool
	languages   map[string]bool
	language    *pattern.Compiled
	filename    *pattern.Compiled
	when        *script.Predicate
}

// Check reports whether the rule set applies to a document. An error is
// returned only when the Lua predicate fails, in which case the rule set
// does not apply.
func (rs *RuleSet) Check(ctx context.Context, languageID, fileName string) (bool, error) {
	if !rs.anyLanguage && !rs.languages[foldLanguage(languageID)] {
		return false, nil
	}
	if rs.language != nil && !rs.language.MatchString(languageID) {
		return false, nil
	}
	if rs.filename != nil && !rs.filename.MatchString(fileName) {
		return false, nil
	}
	if rs.when == nil {
		return true, nil
	}
	return rs.when.Eval(ctx, script.Env{Language: languageID, FileName: fileName})
}

// Applies is Check without the error.
func (rs *RuleSet) Applies(languageID, fileName string) bool {
	ok, _ := rs.Check(context.Background(), languageID, fileName)
	return ok
}

func (rs *RuleSet) close() {
	for _, n := range rs.Nodes {
		n.Walk(func(n *Node) { n.Pattern.Close() })
	}
	if rs.language != nil {
		rs.language.Close()
	}
	if rs.filename != nil {
		rs.filename.Close()
	}
	if rs.when != nil {
		rs.when.Close()
	}
}

// Tree is a loaded configuration.
type Tree struct {
	Sets  []*RuleSet
	Slots []Slot

	nodes int
}

// NumNodes returns the number of nodes in the tree. Node ordinals are less
// than this.
func (t *Tree) NumNodes() int {
	if t == nil {
		return 0
	}
	return t.nodes
}

// Close releases the native resources held by the tree's patterns and
// predicates. The tree must not be used afterwards.
func (t *Tree) Close() {
	if t == nil {
		return
	}
	for _, rs := range t.Sets {
		rs.close()
	}
}

// foldLanguage normalizes a language identifier for comparison.
func foldLanguage(id string) string {
	return cases.Fold().String(strings.TrimSpace(id))
}
