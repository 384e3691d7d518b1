// policy/glob.go
package policy

import (
	"regexp"
	"strings"
)

// Glob matches Matrix-style identifiers (@user:server, #room:server, or a
// bare server name) against a pattern where '*' matches any run of
// characters and '?' matches exactly one. Everything else is literal and
// matching is case-sensitive and anchored to the whole candidate.
//
// An empty pattern matches nothing, not even the empty string.
type Glob struct {
	pattern string
	re      *regexp.Regexp
}

func NewGlob(pattern string) *Glob {
	if pattern == "" {
		return &Glob{}
	}

	var b strings.Builder
	b.WriteString(`(?s)\A`)
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteString(`.*`)
		case '?':
			b.WriteString(`.`)
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString(`\z`)

	// Every literal is quoted, so the translated expression always compiles.
	return &Glob{pattern: pattern, re: regexp.MustCompile(b.String())}
}

func (g *Glob) Match(candidate string) bool {
	if g.re == nil {
		return false
	}
	return g.re.MatchString(candidate)
}

func (g *Glob) String() string { return g.pattern }
