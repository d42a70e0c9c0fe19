package rule

import (
	"github.com/viant/parsly"
	"github.com/viant/parsly/matcher"
)

// Token codes
const (
	whitespaceCode = iota
	arrowCode
	nameCode
)

// Token definitions
var (
	whitespaceToken = parsly.NewToken(whitespaceCode, "Whitespace", matcher.NewWhiteSpace())
	arrowToken      = parsly.NewToken(arrowCode, "->", matcher.NewFragment("->"))
	nameToken       = parsly.NewToken(nameCode, "Name", newNameMatcher())
)

func newNameMatcher() parsly.Matcher {
	return &nameMatcher{}
}

// nameMatcher matches kind and queue names: letters, digits, '_', '-', '.'
// and the '*' wildcard
type nameMatcher struct{}

func (m *nameMatcher) Match(cursor *parsly.Cursor) int {
	input := cursor.Input
	pos := cursor.Pos
	size := cursor.InputSize

	if pos >= size {
		return 0
	}

	matched := 0
	for i := pos; i < size; i++ {
		if isNameChar(input[i]) {
			matched++
			continue
		}
		break
	}
	return matched
}

func isNameChar(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z':
		return true
	case c >= 'A' && c <= 'Z':
		return true
	case c >= '0' && c <= '9':
		return true
	case c == '_' || c == '-' || c == '.' || c == '*':
		return true
	}
	return false
}
