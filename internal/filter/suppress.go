// Package filter drops posts that should never be relayed, such as
// giveaway winner announcements.
package filter

import (
	"fmt"
	"regexp"
)

// Rules is a set of pattern groups. A text is suppressed when every pattern
// of at least one group matches it.
type Rules struct {
	groups [][]*regexp.Regexp
}

// Compile compiles pattern groups into Rules. Empty groups are ignored so
// that they never suppress everything.
func Compile(groups [][]string) (*Rules, error) {
	r := &Rules{groups: make([][]*regexp.Regexp, 0, len(groups))}
	for i, g := range groups {
		if len(g) == 0 {
			continue
		}
		compiled := make([]*regexp.Regexp, 0, len(g))
		for _, p := range g {
			re, err := regexp.Compile(p)
			if err != nil {
				return nil, fmt.Errorf("compile suppress group %d pattern %q: %w", i, p, err)
			}
			compiled = append(compiled, re)
		}
		r.groups = append(r.groups, compiled)
	}
	return r, nil
}

// Len returns the number of active groups.
func (r *Rules) Len() int {
	if r == nil {
		return 0
	}
	return len(r.groups)
}

// Suppressed reports whether text matches any group. A nil Rules suppresses
// nothing.
func (r *Rules) Suppressed(text string) bool {
	if r == nil {
		return false
	}
	for _, g := range r.groups {
		if allMatch(g, text) {
			return true
		}
	}
	return false
}

func allMatch(patterns []*regexp.Regexp, text string) bool {
	for _, re := range patterns {
		if !re.MatchString(text) {
			return false
		}
	}
	return true
}
