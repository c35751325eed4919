package rules

import (
	"strconv"
	"strings"
)

// GroupRef names a group of a pattern the way its author wrote it: by
// ordinal or by name. The zero value refers to the whole match.
type GroupRef struct {
	Index int
	Name  string
}

// IndexRef returns a reference to virtual group i.
func IndexRef(i int) GroupRef {
	return GroupRef{Index: i}
}

// NameRef returns a reference to the named group.
func NameRef(name string) GroupRef {
	return GroupRef{Name: name}
}

// IsName reports whether the reference is by name.
func (r GroupRef) IsName() bool {
	return r.Name != ""
}

func (r GroupRef) String() string {
	if r.IsName() {
		return strconv.Quote(r.Name)
	}
	return strconv.Itoa(r.Index)
}

// DecorationConfig binds a style to one or more groups of a rule's pattern.
type DecorationConfig struct {
	// Refs are the groups painted with this decoration. Empty means the
	// whole match.
	Refs []GroupRef
	// Style is the free-form style table.
	Style map[string]any
	// HoverText is attached to every range the decoration emits.
	HoverText string
}

// RuleConfig is one pattern with its decorations and nested rules.
type RuleConfig struct {
	// Pattern holds the pattern text. Multiple parts are joined with no
	// separator.
	Pattern []string
	// Flags default to "gm".
	Flags string
	// MatchLimit caps the matches of this rule per evaluation. Zero means
	// the default.
	MatchLimit int
	// Ref is the group of the parent rule whose text this rule searches.
	// Ignored on top-level rules.
	Ref         GroupRef
	Decorations []DecorationConfig
	Rules       []RuleConfig
}

// Source returns the joined pattern text.
func (c RuleConfig) Source() string {
	return strings.Join(c.Pattern, "")
}

// RuleSetConfig is an ordered list of rules plus the documents they apply to.
type RuleSetConfig struct {
	Name string
	// LanguageIDs is an allow-list of language identifiers, compared
	// without regard to case. "*" allows every language.
	LanguageIDs []string
	// LanguageRegex must match the language identifier when set.
	LanguageRegex string
	// FilenameRegex must match the file name when set.
	FilenameRegex string
	// When is a Lua expression over the globals language and filename.
	When  string
	Rules []RuleConfig
}
