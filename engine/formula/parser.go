package formula

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nathoo/lorekeep/engine/decimal"
)

// ErrUnexpectedEnd is returned when a function name is not followed by an
// operand.
var ErrUnexpectedEnd = errors.New("unexpected end of formula")

// ParseError wraps a structural failure with the formula text.
type ParseError struct {
	Formula string
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("formula %q: %v", e.Formula, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Formula is a parsed formula, reusable across lookups.
type Formula struct {
	src  string
	root Node
}

// Source returns the original formula text.
func (f *Formula) Source() string { return f.src }

// Eval evaluates the formula. Missing identifiers surface as NaN values;
// the error is reserved for failures such as mismatched unit tags.
func (f *Formula) Eval(lookup Lookup) (decimal.Decimal, error) {
	if lookup == nil {
		lookup = func(string) []decimal.Decimal { return nil }
	}
	return f.root.Eval(lookup)
}

// Parse builds the formula tree. Blank input, or input with no recognisable
// token, parses to a formula that evaluates to None.
//
// Operators are prefix markers: each one sets how the next operand combines
// with the value so far, and after every operand the combination resets to
// implicit multiplication. ',' collects operands into a value list, '?'
// turns a NaN so far into zero, and MIN MAX SUM COUNT PROD SUMTO apply to
// the operand that follows them.
func Parse(src string) (*Formula, error) {
	p := &parser{toks: Tokenize(src)}
	if len(p.toks) == 0 {
		return &Formula{src: src, root: noneNode{}}, nil
	}
	root, err := p.parse()
	if err != nil {
		return nil, &ParseError{Formula: src, Err: err}
	}
	return &Formula{src: src, root: root}, nil
}

// Eval parses and evaluates src in one step.
func Eval(src string, lookup Lookup) (decimal.Decimal, error) {
	f, err := Parse(src)
	if err != nil {
		return decimal.NaN, err
	}
	return f.Eval(lookup)
}

type combinator func(a, b Node) Node

type parser struct {
	toks []string
	i    int
}

func (p *parser) parse() (Node, error) {
	var result Node = noneNode{}
	action := combinator(times)

	for p.i < len(p.toks) {
		tok := p.toks[p.i]
		p.i++

		switch {
		case tok == ")":
			return closeNode(result), nil
		case tok == "+":
			action = plus
		case tok == "-":
			action = minus
		case tok == "*":
			action = times
		case tok == "/":
			action = div
		case tok == ",":
			action = and
		case tok == "?":
			result = orZero(result)
		case aggregates[tok]:
			arg, err := p.operand()
			if err != nil {
				return nil, err
			}
			result = action(result, aggregate(tok, arg))
		case tok == "(":
			inner, err := p.parse()
			if err != nil {
				return nil, err
			}
			result = action(result, inner)
		case strings.HasPrefix(tok, "&"):
			// A collection replaces the value so far.
			result = collection(tok)
		default:
			result = action(result, leaf(tok))
		}

		switch tok {
		case "+", "-", "*", "/", ",":
		default:
			action = times
		}
	}
	return closeNode(result), nil
}

// operand reads the argument of a function: a parenthesised group or a
// single literal or identifier.
func (p *parser) operand() (Node, error) {
	if p.i >= len(p.toks) {
		return nil, ErrUnexpectedEnd
	}
	tok := p.toks[p.i]
	p.i++
	switch {
	case tok == "(":
		return p.parse()
	case strings.HasPrefix(tok, "&"):
		return collection(tok), nil
	case isOperator(tok) || aggregates[tok]:
		return nil, fmt.Errorf("%w: %q after function", ErrUnsupported, tok)
	}
	return leaf(tok), nil
}

// leaf turns a literal or identifier token into a node.
func leaf(tok string) Node {
	if d, ok := decimal.Parse(tok); ok {
		return constNode{value: d}
	}
	name, _ := identName(tok)
	return varNode{name: name}
}

// collection turns an '&' token into a lazy value list. The lookup receives
// the name with its '&' marker.
func collection(tok string) Node {
	name, _ := identName(tok)
	return varNode{name: "&" + name}
}

func isOperator(tok string) bool {
	switch tok {
	case ")", "+", "-", "*", "/", ",", "?":
		return true
	}
	return false
}
