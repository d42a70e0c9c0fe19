// Package rule parses declarative routing rules mapping request kinds to
// worker queues, one rule per line:
//
//	kind -> queue [ask|auto|deny]
//
// The kind '*' acts as a wildcard fallback; the optional mode overrides the
// runtime policy for that kind.
package rule

import (
	"bytes"
	"fmt"

	"github.com/viant/nexus/policy"
	"github.com/viant/parsly"
)

// Wildcard matches any kind without a dedicated rule.
const Wildcard = "*"

// Rule routes one request kind to a worker queue.
type Rule struct {
	Kind  string
	Queue string
	Mode  string // policy.ModeAsk|ModeAuto|ModeDeny; empty defers to policy
}

// Set holds an ordered rule list; exact kind matches win over the wildcard.
type Set struct {
	rules []*Rule
}

// Rules returns the parsed rules in declaration order
func (s *Set) Rules() []*Rule {
	if s == nil {
		return nil
	}
	return s.rules
}

// Match returns the rule for a kind, preferring an exact match over the
// wildcard, or nil when the kind has no route
func (s *Set) Match(kind string) *Rule {
	if s == nil {
		return nil
	}
	var wildcard *Rule
	for _, rule := range s.rules {
		if rule.Kind == kind {
			return rule
		}
		if rule.Kind == Wildcard && wildcard == nil {
			wildcard = rule
		}
	}
	return wildcard
}

// Parse parses routing rules; blank lines and '#' comments are skipped
func Parse(input []byte) (*Set, error) {
	var rules []*Rule
	for i, line := range bytes.Split(input, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		parsed, err := ParseRule(line)
		if err != nil {
			return nil, fmt.Errorf("rule line %d: %w", i+1, err)
		}
		rules = append(rules, parsed)
	}
	return &Set{rules: rules}, nil
}

// ParseRule parses a single rule line
func ParseRule(input []byte) (*Rule, error) {
	cursor := parsly.NewCursor("", input, 0)
	rule := &Rule{}

	// Match the request kind
	matched := cursor.MatchAfterOptional(whitespaceToken, nameToken)
	if matched.Code != nameToken.Code {
		return nil, cursor.NewError(nameToken)
	}
	rule.Kind = matched.Text(cursor)

	// Match the arrow separator
	matched = cursor.MatchAfterOptional(whitespaceToken, arrowToken)
	if matched.Code != arrowToken.Code {
		return nil, cursor.NewError(arrowToken)
	}

	// Match the target queue
	matched = cursor.MatchAfterOptional(whitespaceToken, nameToken)
	if matched.Code != nameToken.Code {
		return nil, cursor.NewError(nameToken)
	}
	rule.Queue = matched.Text(cursor)

	// Match the optional mode
	matched = cursor.MatchAfterOptional(whitespaceToken, nameToken)
	if matched.Code == nameToken.Code {
		mode := matched.Text(cursor)
		switch mode {
		case policy.ModeAsk, policy.ModeAuto, policy.ModeDeny:
			rule.Mode = mode
		default:
			return nil, fmt.Errorf("unknown mode %q", mode)
		}
	}

	cursor.MatchOne(whitespaceToken)
	if cursor.HasMore() {
		return nil, fmt.Errorf("unexpected trailing content in rule %q", input)
	}
	return rule, nil
}
