package decimal

import (
	"errors"
	"testing"
)

func mustParse(t *testing.T, s string) Decimal {
	t.Helper()
	d, ok := Parse(s)
	if !ok {
		t.Fatalf("Parse(%q) failed", s)
	}
	return d
}

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"1", "1", true},
		{"2 GOLD", "2 GOLD", true},
		{"  -3.5   ae  ", "-3.5 ae", true},
		{"true", "1", true},
		{"FALSE xp", "0 xp", true},
		{"", "", false},
		{"abc", "", false},
	}
	for _, tt := range tests {
		got, ok := Parse(tt.in)
		if ok != tt.ok {
			t.Errorf("Parse(%q) ok = %v, want %v", tt.in, ok, tt.ok)
			continue
		}
		if ok && got.String() != tt.want {
			t.Errorf("Parse(%q) = %q, want %q", tt.in, got.String(), tt.want)
		}
	}
}

func TestAdd_NoneIsIdentity(t *testing.T) {
	x := FromInt(4, "GOLD")
	if got := None("").Add(x); !got.Equal(x) {
		t.Errorf("None + x = %v, want %v", got, x)
	}
	if got := x.Add(None("")); !got.Equal(x) {
		t.Errorf("x + None = %v, want %v", got, x)
	}
}

func TestMul_NonePassesThrough(t *testing.T) {
	x := FromInt(7, "")
	if got := None("").Mul(x); !got.Equal(x) {
		t.Errorf("None * x = %v, want %v", got, x)
	}
	if got := x.Mul(None("")); !got.Equal(x) {
		t.Errorf("x * None = %v, want %v", got, x)
	}
	if got := None("").Mul(None("")); !got.IsNone() {
		t.Errorf("None * None = %v, want None", got)
	}
}

func TestTagCombination(t *testing.T) {
	gold := FromInt(2, "GOLD")
	three := FromInt(3, "")
	if got := gold.Mul(three); !got.Equal(FromInt(6, "GOLD")) {
		t.Errorf("2 GOLD * 3 = %v, want 6 GOLD", got)
	}
	if got := three.Mul(gold); got.Tag() != "GOLD" {
		t.Errorf("blank left tag should take right tag, got %q", got.Tag())
	}
	if got := gold.Add(FromInt(1, "XP")); got.Tag() != "GOLD" {
		t.Errorf("left tag should win, got %q", got.Tag())
	}
}

func TestNaN_Absorbs(t *testing.T) {
	x := FromInt(1, "")
	ops := map[string]Decimal{
		"add": NaN.Add(x),
		"sub": x.Sub(NaN),
		"mul": NaN.Mul(None("")),
		"div": x.Div(NaN),
		"neg": NaN.Neg(),
	}
	for name, got := range ops {
		if !got.IsNaN() {
			t.Errorf("%s with NaN = %v, want NaN", name, got)
		}
	}
}

func TestDiv(t *testing.T) {
	if got := FromInt(1, "").Div(Zero); !got.IsNaN() {
		t.Errorf("1/0 = %v, want NaN", got)
	}
	if got := FromInt(1, "").Div(None("")); !got.IsNaN() {
		t.Errorf("1/None = %v, want NaN", got)
	}
	if got := None("").Div(FromInt(4, "")); !got.Equal(mustParse(t, "0.25")) {
		t.Errorf("None/4 = %v, want 0.25", got)
	}
}

func TestCompare(t *testing.T) {
	c, err := Compare(FromInt(1, "A"), FromInt(2, "A"))
	if err != nil || c >= 0 {
		t.Errorf("Compare(1 A, 2 A) = %d, %v", c, err)
	}
	c, err = Compare(FromInt(5, ""), FromInt(2, "A"))
	if err != nil || c <= 0 {
		t.Errorf("Compare(5, 2 A) = %d, %v", c, err)
	}
	_, err = Compare(FromInt(1, "A"), FromInt(1, "B"))
	var mismatch *UnitMismatchError
	if !errors.As(err, &mismatch) {
		t.Errorf("expected UnitMismatchError, got %v", err)
	}
	if c, _ := Compare(NaN, FromInt(-100, "")); c != -1 {
		t.Errorf("NaN should sort first, got %d", c)
	}
	if c, _ := Compare(FromInt(-100, ""), NaN); c != 1 {
		t.Errorf("x vs NaN should be 1, got %d", c)
	}
}

func TestSumTo(t *testing.T) {
	values := []Decimal{FromInt(8, ""), FromInt(2, ""), FromInt(4, "")}
	got, err := SumTo(values)
	if err != nil {
		t.Fatalf("SumTo: %v", err)
	}
	// ((None/2 + 2)/2 + 4)/2 + 8 with None/2 = 1/2.
	want := mustParse(t, "10.625")
	if !got.Equal(want) {
		t.Errorf("SumTo = %v, want %v", got, want)
	}

	empty, err := SumTo(nil)
	if err != nil || !empty.IsNone() {
		t.Errorf("SumTo(nil) = %v, %v; want None", empty, err)
	}
}

func TestReductions(t *testing.T) {
	values := []Decimal{FromInt(3, ""), FromInt(1, ""), FromInt(2, "")}
	if got := Sum(values); !got.Equal(FromInt(6, "")) {
		t.Errorf("Sum = %v, want 6", got)
	}
	if got := Prod(values); !got.Equal(FromInt(6, "")) {
		t.Errorf("Prod = %v, want 6", got)
	}
	if got, _ := Min(values); !got.Equal(FromInt(1, "")) {
		t.Errorf("Min = %v, want 1", got)
	}
	if got, _ := Max(values); !got.Equal(FromInt(3, "")) {
		t.Errorf("Max = %v, want 3", got)
	}
	if _, err := Min(nil); !errors.Is(err, ErrEmpty) {
		t.Errorf("Min(nil) err = %v, want ErrEmpty", err)
	}
	if got := Sum(nil); !got.IsNone() {
		t.Errorf("Sum(nil) = %v, want None", got)
	}
}

func TestSorted_NaNFirst(t *testing.T) {
	got, err := Sorted([]Decimal{FromInt(2, ""), NaN, FromInt(1, "")})
	if err != nil {
		t.Fatalf("Sorted: %v", err)
	}
	if !got[0].IsNaN() || !got[1].Equal(FromInt(1, "")) || !got[2].Equal(FromInt(2, "")) {
		t.Errorf("Sorted = %v", got)
	}
}
