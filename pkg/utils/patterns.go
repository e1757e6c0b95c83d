// Package utils holds small helpers shared by the command layer
package utils

import (
	"fmt"
	"regexp"
	"strings"

	ferrors "github.com/compose-farm/compose-farm/pkg/errors"
)

// PatternMatcher matches unit names against shell-style globs
type PatternMatcher struct {
	patterns []string
	regexes  []*regexp.Regexp
}

// NewPatternMatcher compiles patterns; '*' and '?' never match across '/'
func NewPatternMatcher(patterns []string) (*PatternMatcher, error) {
	pm := &PatternMatcher{patterns: patterns}
	for _, pattern := range patterns {
		regex, err := globToRegex(pattern)
		if err != nil {
			return nil, ferrors.NewValidationError(fmt.Sprintf("invalid pattern '%s'", pattern), err)
		}
		pm.regexes = append(pm.regexes, regex)
	}
	return pm, nil
}

// Match reports whether name matches any pattern
func (pm *PatternMatcher) Match(name string) bool {
	for _, regex := range pm.regexes {
		if regex.MatchString(name) {
			return true
		}
	}
	return false
}

// Filter returns the names that match, keeping their order
func (pm *PatternMatcher) Filter(names []string) []string {
	var matching []string
	for _, name := range names {
		if pm.Match(name) {
			matching = append(matching, name)
		}
	}
	return matching
}

func globToRegex(pattern string) (*regexp.Regexp, error) {
	var regex strings.Builder
	regex.WriteString("^")

	for i := 0; i < len(pattern); i++ {
		switch ch := pattern[i]; ch {
		case '*':
			regex.WriteString("[^/]*")
		case '?':
			regex.WriteString("[^/]")
		case '[':
			end := strings.IndexByte(pattern[i:], ']')
			if end < 0 {
				return nil, fmt.Errorf("unclosed '[' at offset %d", i)
			}
			class := pattern[i+1 : i+end]
			if strings.HasPrefix(class, "!") {
				class = "^" + class[1:]
			}
			regex.WriteString("[" + class + "]")
			i += end
		default:
			regex.WriteString(regexp.QuoteMeta(string(ch)))
		}
	}

	regex.WriteString("$")
	return regexp.Compile(regex.String())
}

// IsGlobPattern checks if a string contains glob wildcards
func IsGlobPattern(pattern string) bool {
	return strings.ContainsAny(pattern, "*?[")
}

// ExpandUnitPatterns replaces each glob in args with the known names it matches.
// Plain names pass through untouched so unknown units are reported by whoever
// runs them. A glob that matches nothing is an error.
func ExpandUnitPatterns(args, known []string) ([]string, error) {
	seen := make(map[string]bool, len(args))
	var units []string
	add := func(name string) {
		if !seen[name] {
			seen[name] = true
			units = append(units, name)
		}
	}

	for _, arg := range args {
		if !IsGlobPattern(arg) {
			add(arg)
			continue
		}
		pm, err := NewPatternMatcher([]string{arg})
		if err != nil {
			return nil, err
		}
		matching := pm.Filter(known)
		if len(matching) == 0 {
			return nil, ferrors.NewNotFoundError(fmt.Sprintf("no units match '%s'", arg), nil)
		}
		for _, name := range matching {
			add(name)
		}
	}
	return units, nil
}
