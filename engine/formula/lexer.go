// Package formula implements the item formula language: a tokenizer, a
// left-to-right recursive-descent parser and an AST evaluated over tagged
// decimals.
package formula

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// tokenPattern matches, in order: signed decimal literals, parentheses,
// the operator characters, bare identifiers (Latin or Cyrillic) and quoted
// identifiers. Identifiers may carry a leading '&'.
var tokenPattern = regexp.MustCompile(
	`[+-]?([0-9]*[.])?[0-9]+` +
		`|\(|\)|,|\?|\+|-|\*|/` +
		`|&?[A-Za-z_]+` +
		`|&?[ЁёА-я_]+` +
		`|&?"[A-Za-z _]+"` +
		`|&?"[ЁёА-я _]+"`)

// Tokenize upper-cases src and splits it into tokens. Characters that match
// no token are skipped.
func Tokenize(src string) []string {
	return tokenPattern.FindAllString(cases.Upper(language.Und).String(src), -1)
}

// aggregates are the function-like identifiers.
var aggregates = map[string]bool{
	"MIN":   true,
	"MAX":   true,
	"SUM":   true,
	"COUNT": true,
	"PROD":  true,
	"SUMTO": true,
}

// identName strips the '&' marker and surrounding quotes from an identifier
// token.
func identName(tok string) (name string, all bool) {
	if strings.HasPrefix(tok, "&") {
		all = true
		tok = tok[1:]
	}
	return strings.Trim(tok, `"`), all
}
