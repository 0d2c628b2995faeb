// Package decimal implements tagged decimals: a magnitude paired with a free
// text unit tag, plus the None ("no value") and NaN ("failed") sentinels used
// by attribute values and formula results.
package decimal

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// Kind distinguishes ordinary numbers from the two sentinels.
type Kind uint8

const (
	KindNumber Kind = iota
	KindNone
	KindNaN
)

// Decimal is an immutable tagged decimal.
type Decimal struct {
	kind  Kind
	value decimal.Decimal
	tag   string
}

var (
	// Zero is an untagged 0.
	Zero = Decimal{value: decimal.Zero}
	// One is an untagged 1.
	One = Decimal{value: decimal.NewFromInt(1)}
	// NaN marks a failed computation. It absorbs every operator.
	NaN = Decimal{kind: KindNaN}

	two = decimal.NewFromInt(2)
)

// ErrEmpty is returned by reductions that need at least one value.
var ErrEmpty = errors.New("empty value list")

// UnitMismatchError reports a comparison between two different non-blank tags.
type UnitMismatchError struct {
	Left, Right string
}

func (e *UnitMismatchError) Error() string {
	return fmt.Sprintf("cannot compare %q and %q", e.Left, e.Right)
}

// New returns a number with the given tag.
func New(v decimal.Decimal, tag string) Decimal {
	return Decimal{value: v, tag: strings.TrimSpace(tag)}
}

// FromInt returns an integer number with the given tag.
func FromInt(n int64, tag string) Decimal {
	return New(decimal.NewFromInt(n), tag)
}

// FromFloat returns a number with the given tag.
func FromFloat(f float64, tag string) Decimal {
	return New(decimal.NewFromFloat(f), tag)
}

// None returns the "no value" sentinel carrying tag.
func None(tag string) Decimal {
	return Decimal{kind: KindNone, value: decimal.Zero, tag: strings.TrimSpace(tag)}
}

// Kind reports whether d is a number, None or NaN.
func (d Decimal) Kind() Kind { return d.kind }

// IsNaN reports whether d is the NaN sentinel.
func (d Decimal) IsNaN() bool { return d.kind == KindNaN }

// IsNone reports whether d is the None sentinel.
func (d Decimal) IsNone() bool { return d.kind == KindNone }

// Tag returns the unit tag; blank means untagged.
func (d Decimal) Tag() string { return d.tag }

// Value returns the magnitude. None has magnitude zero.
func (d Decimal) Value() decimal.Decimal { return d.value }

// Float64 returns the magnitude as a float64, for display only.
func (d Decimal) Float64() float64 {
	f, _ := d.value.Float64()
	return f
}

// combineTag keeps the left tag unless it is blank.
func (d Decimal) combineTag(r Decimal) string {
	if d.tag != "" {
		return d.tag
	}
	return r.tag
}

// Neg negates d. None and NaN are unchanged.
func (d Decimal) Neg() Decimal {
	if d.kind != KindNumber {
		return d
	}
	return Decimal{value: d.value.Neg(), tag: d.tag}
}

// Add returns d + r. None is the additive identity.
func (d Decimal) Add(r Decimal) Decimal {
	switch {
	case d.kind == KindNaN || r.kind == KindNaN:
		return NaN
	case d.kind == KindNone && r.kind == KindNone:
		return None(d.combineTag(r))
	}
	return Decimal{value: d.value.Add(r.value), tag: d.combineTag(r)}
}

// Sub returns d - r, treating None as zero.
func (d Decimal) Sub(r Decimal) Decimal {
	switch {
	case d.kind == KindNaN || r.kind == KindNaN:
		return NaN
	case d.kind == KindNone && r.kind == KindNone:
		return None(d.combineTag(r))
	}
	return Decimal{value: d.value.Sub(r.value), tag: d.combineTag(r)}
}

// Mul returns d * r. Multiplying by None passes the other magnitude through.
func (d Decimal) Mul(r Decimal) Decimal {
	switch {
	case d.kind == KindNaN || r.kind == KindNaN:
		return NaN
	case d.kind == KindNone && r.kind == KindNone:
		return None(d.combineTag(r))
	case d.kind == KindNone:
		return Decimal{value: r.value, tag: d.combineTag(r)}
	case r.kind == KindNone:
		return Decimal{value: d.value, tag: d.combineTag(r)}
	}
	return Decimal{value: d.value.Mul(r.value), tag: d.combineTag(r)}
}

// Div returns d / r. None divided by x is 1/x. Division by a zero magnitude
// (including a None divisor) yields NaN.
func (d Decimal) Div(r Decimal) Decimal {
	if d.kind == KindNaN || r.kind == KindNaN || r.value.IsZero() {
		return NaN
	}
	if d.kind == KindNone {
		return Decimal{value: decimal.NewFromInt(1).Div(r.value), tag: d.combineTag(r)}
	}
	return Decimal{value: d.value.Div(r.value), tag: d.combineTag(r)}
}

// Equal reports whether two decimals have the same kind, tag and magnitude.
func (d Decimal) Equal(r Decimal) bool {
	if d.kind != r.kind || d.tag != r.tag {
		return false
	}
	return d.kind == KindNaN || d.value.Equal(r.value)
}

// Compare orders two decimals by magnitude. Tags must match unless one side
// is blank. NaN sorts before everything; this is a display convention for
// the sorted reductions, not a total order.
func Compare(a, b Decimal) (int, error) {
	switch {
	case a.kind == KindNaN:
		return -1, nil
	case b.kind == KindNaN:
		return 1, nil
	}
	if a.tag != b.tag && a.tag != "" && b.tag != "" {
		return 0, &UnitMismatchError{Left: a.tag, Right: b.tag}
	}
	return a.value.Cmp(b.value), nil
}

// String renders "<magnitude>[ <tag>]".
func (d Decimal) String() string {
	switch d.kind {
	case KindNaN:
		return "NaN"
	case KindNone:
		if d.tag == "" {
			return "none"
		}
		return "none " + d.tag
	}
	if d.tag == "" {
		return d.value.String()
	}
	return d.value.String() + " " + d.tag
}

// Parse reads a scalar literal "<number>[ <tag>]". The literals true and
// false read as 1 and 0.
func Parse(s string) (Decimal, bool) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return Decimal{}, false
	}
	tag := strings.Join(fields[1:], " ")
	switch strings.ToLower(fields[0]) {
	case "true":
		return FromInt(1, tag), true
	case "false":
		return FromInt(0, tag), true
	}
	v, err := decimal.NewFromString(fields[0])
	if err != nil {
		return Decimal{}, false
	}
	return New(v, tag), true
}

// Sum folds values with Add starting from None.
func Sum(values []Decimal) Decimal {
	acc := None("")
	for _, v := range values {
		acc = acc.Add(v)
	}
	return acc
}

// Prod folds values with Mul starting from None.
func Prod(values []Decimal) Decimal {
	acc := None("")
	for _, v := range values {
		acc = acc.Mul(v)
	}
	return acc
}

// Min returns the smallest value.
func Min(values []Decimal) (Decimal, error) {
	sorted, err := Sorted(values)
	if err != nil {
		return NaN, err
	}
	if len(sorted) == 0 {
		return NaN, ErrEmpty
	}
	return sorted[0], nil
}

// Max returns the largest value.
func Max(values []Decimal) (Decimal, error) {
	sorted, err := Sorted(values)
	if err != nil {
		return NaN, err
	}
	if len(sorted) == 0 {
		return NaN, ErrEmpty
	}
	return sorted[len(sorted)-1], nil
}

// SumTo is the weighted running sum: values are sorted ascending and folded
// left to right from None with acc = acc/2 + next.
func SumTo(values []Decimal) (Decimal, error) {
	sorted, err := Sorted(values)
	if err != nil {
		return NaN, err
	}
	acc := None("")
	half := New(two, "")
	for _, v := range sorted {
		acc = acc.Div(half).Add(v)
	}
	return acc, nil
}

// Sorted returns an ascending copy of values. NaNs come first in their
// original order; the rest are ordered with Compare.
func Sorted(values []Decimal) ([]Decimal, error) {
	out := make([]Decimal, 0, len(values))
	var rest []Decimal
	for _, v := range values {
		if v.IsNaN() {
			out = append(out, v)
		} else {
			rest = append(rest, v)
		}
	}
	var cmpErr error
	sort.SliceStable(rest, func(i, j int) bool {
		c, err := Compare(rest[i], rest[j])
		if err != nil && cmpErr == nil {
			cmpErr = err
		}
		return c < 0
	})
	if cmpErr != nil {
		return nil, cmpErr
	}
	return append(out, rest...), nil
}
