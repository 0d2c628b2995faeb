package formula

import (
	"errors"

	"github.com/nathoo/lorekeep/engine/decimal"
)

// Lookup maps an identifier to its values. For '&' identifiers the name is
// passed with the leading '&'. An empty result evaluates to NaN.
type Lookup func(name string) []decimal.Decimal

// ErrUnsupported is returned for operator placements the language rejects,
// such as a leading '/'.
var ErrUnsupported = errors.New("unsupported operation")

// Node is an evaluable formula AST node.
type Node interface {
	Eval(lookup Lookup) (decimal.Decimal, error)
}

// lister is implemented by nodes that hold a value collection for the
// aggregate functions.
type lister interface {
	Node
	items(lookup Lookup) []Node
}

type constNode struct {
	value decimal.Decimal
}

func (n constNode) Eval(Lookup) (decimal.Decimal, error) { return n.value, nil }

// varNode is a lazy variable: the lookup runs at evaluation time.
type varNode struct {
	name string
}

func (n varNode) Eval(lookup Lookup) (decimal.Decimal, error) {
	values := lookup(n.name)
	if len(values) == 0 {
		return decimal.NaN, nil
	}
	return values[0], nil
}

func (n varNode) items(lookup Lookup) []Node {
	values := lookup(n.name)
	out := make([]Node, len(values))
	for i, v := range values {
		out[i] = constNode{value: v}
	}
	return out
}

type negNode struct {
	inner Node
}

func (n negNode) Eval(lookup Lookup) (decimal.Decimal, error) {
	v, err := n.inner.Eval(lookup)
	if err != nil {
		return decimal.NaN, err
	}
	return v.Neg(), nil
}

// sumNode adds its terms. An open sum keeps absorbing operators into its last
// term, which is what gives '*' and '/' precedence over '+'. A parenthesised
// sum is closed and behaves as a single operand.
type sumNode struct {
	terms  []Node
	closed bool
}

func (n *sumNode) Eval(lookup Lookup) (decimal.Decimal, error) {
	acc := decimal.None("")
	for _, t := range n.terms {
		v, err := t.Eval(lookup)
		if err != nil {
			return decimal.NaN, err
		}
		acc = acc.Add(v)
	}
	return acc, nil
}

func (n *sumNode) withLast(last Node) *sumNode {
	terms := append(append([]Node(nil), n.terms[:len(n.terms)-1]...), last)
	return &sumNode{terms: terms}
}

type timesNode struct {
	factors []Node
}

func (n *timesNode) Eval(lookup Lookup) (decimal.Decimal, error) {
	acc := decimal.None("")
	for _, f := range n.factors {
		v, err := f.Eval(lookup)
		if err != nil {
			return decimal.NaN, err
		}
		acc = acc.Mul(v)
	}
	return acc, nil
}

func (n *timesNode) withLast(last Node) *timesNode {
	factors := append(append([]Node(nil), n.factors[:len(n.factors)-1]...), last)
	return &timesNode{factors: factors}
}

type divNode struct {
	left, right Node
}

func (n divNode) Eval(lookup Lookup) (decimal.Decimal, error) {
	l, err := n.left.Eval(lookup)
	if err != nil {
		return decimal.NaN, err
	}
	r, err := n.right.Eval(lookup)
	if err != nil {
		return decimal.NaN, err
	}
	return l.Div(r), nil
}

// noneNode is the empty starting value of every (sub)expression.
type noneNode struct{}

func (noneNode) Eval(Lookup) (decimal.Decimal, error) { return decimal.None(""), nil }

type listNode struct {
	elems []Node
}

func (n listNode) Eval(Lookup) (decimal.Decimal, error) {
	return decimal.NaN, errors.New("value list used as a scalar")
}

func (n listNode) items(Lookup) []Node { return n.elems }

// orZeroNode replaces a NaN result with zero.
type orZeroNode struct {
	inner Node
}

func (n orZeroNode) Eval(lookup Lookup) (decimal.Decimal, error) {
	v, err := n.inner.Eval(lookup)
	if err != nil {
		return decimal.NaN, err
	}
	if v.IsNaN() {
		return decimal.Zero, nil
	}
	return v, nil
}

// aggNode collapses a value list to a scalar.
type aggNode struct {
	fn  string
	src lister
}

func (n aggNode) Eval(lookup Lookup) (decimal.Decimal, error) {
	elems := n.src.items(lookup)
	if n.fn == "COUNT" {
		return decimal.FromInt(int64(len(elems)), ""), nil
	}
	values := make([]decimal.Decimal, 0, len(elems))
	for _, e := range elems {
		v, err := e.Eval(lookup)
		if err != nil {
			return decimal.NaN, err
		}
		values = append(values, v)
	}
	switch n.fn {
	case "MIN":
		return decimal.Min(values)
	case "MAX":
		return decimal.Max(values)
	case "SUM":
		return decimal.Sum(values), nil
	case "PROD":
		return decimal.Prod(values), nil
	case "SUMTO":
		return decimal.SumTo(values)
	}
	return decimal.NaN, ErrUnsupported
}

type errNode struct {
	err error
}

func (n errNode) Eval(Lookup) (decimal.Decimal, error) { return decimal.NaN, n.err }

// The combinators below build the tree. Each one mirrors how the left
// operand absorbs the right one.

func closeNode(n Node) Node {
	if s, ok := n.(*sumNode); ok && !s.closed {
		return &sumNode{terms: s.terms, closed: true}
	}
	return n
}

func neg(n Node) Node {
	if _, ok := n.(noneNode); ok {
		return n
	}
	return negNode{inner: n}
}

func plus(a, b Node) Node {
	switch n := a.(type) {
	case *sumNode:
		if !n.closed {
			return &sumNode{terms: append(append([]Node(nil), n.terms...), b)}
		}
	case noneNode:
		if _, ok := b.(noneNode); ok {
			return a
		}
		return plus(b, a)
	}
	return &sumNode{terms: []Node{a, b}}
}

func minus(a, b Node) Node {
	if _, ok := a.(noneNode); ok {
		return plus(neg(b), a)
	}
	return plus(a, neg(b))
}

func times(a, b Node) Node {
	switch n := a.(type) {
	case *sumNode:
		if !n.closed {
			return n.withLast(times(n.terms[len(n.terms)-1], b))
		}
	case *timesNode:
		return &timesNode{factors: append(append([]Node(nil), n.factors...), b)}
	case noneNode:
		return b
	}
	return &timesNode{factors: []Node{a, b}}
}

func div(a, b Node) Node {
	switch n := a.(type) {
	case *sumNode:
		if !n.closed {
			return n.withLast(div(n.terms[len(n.terms)-1], b))
		}
	case noneNode:
		return errNode{err: ErrUnsupported}
	}
	return divNode{left: a, right: b}
}

func and(a, b Node) Node {
	if l, ok := a.(listNode); ok {
		return listNode{elems: append(append([]Node(nil), l.elems...), b)}
	}
	return listNode{elems: []Node{a, b}}
}

func orZero(n Node) Node {
	switch v := n.(type) {
	case *sumNode:
		if !v.closed {
			return v.withLast(orZero(v.terms[len(v.terms)-1]))
		}
	case *timesNode:
		return v.withLast(orZero(v.factors[len(v.factors)-1]))
	case divNode:
		return divNode{left: v.left, right: orZero(v.right)}
	}
	return orZeroNode{inner: n}
}

func aggregate(fn string, n Node) Node {
	if l, ok := n.(lister); ok {
		return aggNode{fn: fn, src: l}
	}
	if fn == "COUNT" {
		return constNode{value: decimal.One}
	}
	return n
}
