package resolve

import (
	"testing"

	"github.com/nathoo/lorekeep/engine/state"
	"github.com/nathoo/lorekeep/types"
)

func TestMerge_DoesNotModifyInputs(t *testing.T) {
	g := diamond(2)
	r := New(g, nil)
	b, err := r.Resolve(2)
	if err != nil {
		t.Fatal(err)
	}
	c, err := r.Resolve(3)
	if err != nil {
		t.Fatal(err)
	}
	before := len(c.Attribute("x").Inherited)

	// B declares no own metadata but sees x through A; merging C replaces
	// nothing because B holds its own x.
	out := Merge(b, c)
	if out == b {
		t.Fatal("Merge returned its input")
	}
	if got := primitives(out.Values("x")); len(got) != 1 || got[0] != "1" {
		t.Errorf("merged x = %v, want [1]", got)
	}
	if len(c.Attribute("x").Inherited) != before {
		t.Error("Merge modified other")
	}
}

func TestMerge_FillsMissingAttribute(t *testing.T) {
	g := diamond(2)
	r := New(g, nil)
	a, _ := r.Resolve(1)
	c, _ := r.Resolve(3)

	// A has no values for x; merging C gives it C's value as inherited.
	out := Merge(a, c)
	attr := out.Attribute("x")
	if attr == nil || len(attr.Own) != 0 || len(attr.Inherited) != 1 {
		t.Fatalf("x = %+v, want one inherited value", attr)
	}
	if a.Attribute("x") != nil {
		t.Error("Merge modified acc")
	}
}

func TestShadows(t *testing.T) {
	g := state.NewGraph(
		&types.Item{ID: 1, Name: "Sword"},
		&types.Item{ID: 2, Name: "Sword"},
		&types.Item{ID: 3, Name: "Bow", Groups: []string{"ranged"}},
		&types.Item{ID: 4, Name: "Sling", Groups: []string{"ranged"}},
		&types.Item{ID: 5},
		&types.Item{ID: 6},
		&types.Item{ID: 7, Name: "SWORD"},
		&types.Item{ID: 8, Name: "Javelin", Groups: []string{"Ranged"}},
	)
	r := New(g, nil)
	ref := func(id int64) *Value { return &Value{RefID: id, r: r} }
	p := "1"

	tests := []struct {
		name string
		a, b *Value
		want bool
	}{
		{"same name", ref(1), ref(2), true},
		{"shared group", ref(3), ref(4), true},
		{"name without case", ref(1), ref(7), true},
		{"group without case", ref(3), ref(8), true},
		{"different", ref(1), ref(3), false},
		{"blank names", ref(5), ref(6), false},
		{"primitive", &Value{Primitive: &p}, ref(1), false},
	}
	for _, tt := range tests {
		if got := Shadows(tt.a, tt.b); got != tt.want {
			t.Errorf("%s: Shadows = %v, want %v", tt.name, got, tt.want)
		}
	}
}
