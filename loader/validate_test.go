package loader

import (
	"errors"
	"strings"
	"testing"
)

const header = `
Setting { key = "core" }
Item "thing" { type = true, meta = { Meta("weight", Decimal, { single = true }) } }
`

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{
			name: "no setting",
			src:  `Item "a" {}`,
			want: "no Setting{} definition found",
		},
		{
			name: "item before setting",
			src:  `Item "a" {} ` + header,
			want: `item "a" is declared before any Setting`,
		},
		{
			name: "duplicate setting",
			src:  header + `Setting { key = "core" }`,
			want: `duplicate setting key "core"`,
		},
		{
			name: "unknown dependency",
			src:  header + `Setting { key = "world", depends = "elsewhere" }`,
			want: `setting "world" depends on undefined setting "elsewhere"`,
		},
		{
			name: "duplicate item",
			src:  header + `Item "thing" {}`,
			want: `duplicate item key "thing"`,
		},
		{
			name: "undefined extends",
			src:  header + `Item "a" { extends = "ghost" }`,
			want: `item "a" extends undefined item "ghost"`,
		},
		{
			name: "undefined allowed",
			src:  header + `Item "a" { allowed = { "ghost" } }`,
			want: `item "a" allows undefined item "ghost"`,
		},
		{
			name: "undefined meta type",
			src:  header + `Item "a" { meta = { Meta("owner", "ghost") } }`,
			want: `item "a" attribute "owner" has undefined type "ghost"`,
		},
		{
			name: "duplicate meta",
			src:  header + `Item "a" { meta = { Meta("x"), Meta("x", Int) } }`,
			want: `item "a" declares attribute "x" twice`,
		},
		{
			name: "undeclared attribute",
			src:  header + `Item "a" { values = { colour = "red" } }`,
			want: `item "a" sets undeclared attribute "colour"`,
		},
		{
			name: "too many values on single",
			src:  header + `Item "a" { extends = "thing", values = { weight = { 1, 2 } } }`,
			want: `item "a" sets 2 values on single attribute "weight"`,
		},
		{
			name: "undefined reference",
			src:  header + `Item "a" { meta = { Meta("part", "thing") }, values = { part = Ref "ghost" } }`,
			want: `item "a" attribute "part" references undefined item "ghost"`,
		},
		{
			name: "extends cycle",
			src:  header + `Item "a" { extends = "b" } Item "b" { extends = "a" }`,
			want: "extends cycle: a -> b -> a",
		},
		{
			name: "nested extends its root",
			src: header + `Item "a" {
				meta = { Meta("part", "a", { create = true }) },
				values = { part = Nested "a" {} },
			}`,
			want: "extends cycle: a -> a.part[1] -> a",
		},
		{
			name: "nested extends a descendant of its root",
			src: header + `
			Item "b" { extends = "a" }
			Item "a" {
				meta = { Meta("part", "thing", { create = true }) },
				values = { part = Nested "b" {} },
			}`,
			want: "extends cycle: a -> a.part[1] -> b",
		},
		{
			name: "nested undeclared attribute",
			src: header + `Item "a" {
				meta = { Meta("part", "thing", { create = true }) },
				values = { part = Nested "thing" { values = { colour = "red" } } },
			}`,
			want: `item "a.part[1]" sets undeclared attribute "colour"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadString(tt.src)
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("err = %v, want *ValidationError", err)
			}
			for _, e := range ve.Errors {
				if e == tt.want {
					return
				}
			}
			t.Errorf("errors = %q, want one of them to be %q", ve.Errors, tt.want)
		})
	}
}

func TestValidate_NestedMayExtendAncestorOfRoot(t *testing.T) {
	src := header + `Item "a" {
		extends = "thing",
		meta = { Meta("part", "thing", { create = true }) },
		values = { part = Nested "thing" { values = { weight = 1 } } },
	}`
	if _, err := LoadString(src); err != nil {
		t.Fatalf("LoadString failed: %v", err)
	}
}

func TestValidate_InheritedMetaIsDeclared(t *testing.T) {
	src := header + `
	Item "mid" { extends = "thing" }
	Item "leaf" { extends = "mid", values = { weight = 2 } }`
	if _, err := LoadString(src); err != nil {
		t.Fatalf("LoadString failed: %v", err)
	}
}

func TestWarnings_BadFormula(t *testing.T) {
	b, err := LoadString(header + `Item "a" { formula = "2 * SUM" }`)
	if err != nil {
		t.Fatalf("a bad formula should not fail loading: %v", err)
	}
	w := Warnings(b)
	if len(w) != 1 || !strings.HasPrefix(w[0], `item "a" formula:`) {
		t.Errorf("warnings = %q", w)
	}
}

func TestValidationError_Message(t *testing.T) {
	ve := &ValidationError{Errors: []string{"one", "two"}}
	want := "validation failed with 2 error(s):\n  one\n  two"
	if ve.Error() != want {
		t.Errorf("Error() = %q, want %q", ve.Error(), want)
	}
}
