package logparser

import (
	"fmt"
	"regexp"
)

// ScopeAll matches a ParseRule against every scope block regardless of tag.
const ScopeAll = "ALL"

// Rule is a parse rule: a scope filter plus a regex with at least one
// capturing group, of which only the first is extracted. Rules are
// compiled once at configuration load time and never mutated afterwards.
type Rule struct {
	Name    string
	Scope   string
	pattern *regexp.Regexp
}

// CompileRule compiles pattern and validates it captures at least one
// group, returning a configuration error otherwise. Extra groups are
// allowed — only the first is ever extracted — so a pattern like
// "(kill: (.*))" loads and matches on its outer group. This is the only
// place malformed regexes are ever detected; LogParser.Parse assumes
// every Rule it is given already passed through here.
func CompileRule(name, scope, pattern string) (Rule, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return Rule{}, fmt.Errorf("parse rule %q: invalid pattern: %w", name, err)
	}
	if re.NumSubexp() < 1 {
		return Rule{}, fmt.Errorf("parse rule %q: pattern must have at least one capturing group, has %d", name, re.NumSubexp())
	}
	return Rule{Name: name, Scope: scope, pattern: re}, nil
}

// matches reports whether the rule applies to a block tagged scope, and if
// so returns the first capture group of the first match found in body.
func (r Rule) matches(scope, body string) (string, bool) {
	if r.Scope != ScopeAll && r.Scope != scope {
		return "", false
	}
	m := r.pattern.FindStringSubmatch(body)
	if m == nil {
		return "", false
	}
	return m[1], true
}
