package rules

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyPattern is returned for a rule with no pattern text.
	ErrEmptyPattern = errors.New("empty pattern")

	// ErrUnknownGroup is returned for a reference to a group the pattern
	// does not declare.
	ErrUnknownGroup = errors.New("unknown group")

	// ErrBadDecoration is returned for a decoration whose style cannot be parsed.
	ErrBadDecoration = errors.New("bad decoration")

	// ErrBadPredicate is returned for a rule set whose applicability
	// predicate cannot be compiled.
	ErrBadPredicate = errors.New("bad applicability predicate")

	// ErrBadConfig is returned for configuration of the wrong shape.
	ErrBadConfig = errors.New("bad rule configuration")
)

// RuleError locates a failure in the configuration.
type RuleError struct {
	// Path is the location of the failing element, such as
	// "ruleSets[0].rules[2].decorations[1]".
	Path string
	Err  error
}

// NewRuleError creates a RuleError.
func NewRuleError(path string, err error) *RuleError {
	return &RuleError{Path: path, Err: err}
}

func (e *RuleError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e *RuleError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
