package privacy

import (
	"errors"
	"regexp"
)

// Rule is a single compiled PII detection pattern
type Rule struct {
	Pattern *regexp.Regexp
}

// Matches reports whether the rule matches anywhere in text
func (r Rule) Matches(text string) bool {
	return r.Pattern.MatchString(text)
}

// String returns the rule's source pattern
func (r Rule) String() string {
	return r.Pattern.String()
}

var (
	// ErrInvalidPattern is returned when a pattern cannot be added to a PatternSet
	ErrInvalidPattern = errors.New("invalid pattern")

	// ErrEmptyPattern is returned for an empty pattern; it also matches ErrInvalidPattern
	ErrEmptyPattern = &emptyPatternError{}
)

type emptyPatternError struct{}

func (e *emptyPatternError) Error() string { return "invalid pattern: pattern is empty" }

func (e *emptyPatternError) Is(target error) bool { return target == ErrInvalidPattern }
