// Package scope decides which source units of an analyzed project take part
// in ingestion. Rules use gitignore pattern syntax.
package scope

import (
	"fmt"
	"path/filepath"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"

	"github.com/alfredjeanlab/archgraph/internal/model"
)

// Rule is one include or exclude pattern. Exactly one field is set.
type Rule struct {
	Include string `toml:"include,omitempty" json:"include,omitempty"`
	Exclude string `toml:"exclude,omitempty" json:"exclude,omitempty"`
}

type compiled struct {
	include bool
	pattern string
	matcher *ignore.GitIgnore
}

// Filter evaluates an ordered rule list. The last rule matching a unit
// decides; when at least one include rule exists, units no rule matches
// are excluded.
type Filter struct {
	rules      []compiled
	hasInclude bool
}

// New compiles rules in order.
func New(rules []Rule) (*Filter, error) {
	f := &Filter{}
	for i, r := range rules {
		inc, exc := strings.TrimSpace(r.Include), strings.TrimSpace(r.Exclude)
		var c compiled
		switch {
		case inc != "" && exc != "":
			return nil, fmt.Errorf("scope rule %d: set include or exclude, not both", i+1)
		case inc != "":
			c = compiled{include: true, pattern: inc}
			f.hasInclude = true
		case exc != "":
			c = compiled{pattern: exc}
		default:
			return nil, fmt.Errorf("scope rule %d: empty pattern", i+1)
		}
		if strings.HasPrefix(c.pattern, "!") {
			return nil, fmt.Errorf("scope rule %d: negated pattern %q; use include/exclude instead", i+1, c.pattern)
		}
		c.matcher = ignore.CompileIgnoreLines(c.pattern)
		f.rules = append(f.rules, c)
	}
	return f, nil
}

// Empty reports whether the filter has no rules and so allows everything.
func (f *Filter) Empty() bool { return f == nil || len(f.rules) == 0 }

// Allows reports whether a source unit is in scope. Facts without a unit
// cannot be scoped and are always allowed.
func (f *Filter) Allows(unit string) bool {
	if f.Empty() || unit == "" {
		return true
	}
	path := filepath.ToSlash(strings.TrimPrefix(unit, "./"))
	allowed := !f.hasInclude
	for _, r := range f.rules {
		if r.matcher.MatchesPath(path) {
			allowed = r.include
		}
	}
	return allowed
}

// Apply returns the facts whose unit is in scope and how many were dropped.
func (f *Filter) Apply(facts []*model.Fact) ([]*model.Fact, int) {
	if f.Empty() {
		return facts, 0
	}
	kept := make([]*model.Fact, 0, len(facts))
	decided := make(map[string]bool)
	for _, fact := range facts {
		ok, seen := decided[fact.Unit]
		if !seen {
			ok = f.Allows(fact.Unit)
			decided[fact.Unit] = ok
		}
		if ok {
			kept = append(kept, fact)
		}
	}
	return kept, len(facts) - len(kept)
}
