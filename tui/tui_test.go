package tui

import (
	"context"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nathoo/lorekeep/cli"
	"github.com/nathoo/lorekeep/engine"
	"github.com/nathoo/lorekeep/storage/memory"
	"github.com/nathoo/lorekeep/types"
)

func TestClassifyLine(t *testing.T) {
	tests := []struct {
		line string
		want lineKind
	}{
		{"Sword #2", kindHeading},
		{"Weapon #3/1", kindHeading},
		{"Created Axe #4.", kindText},
		{"  extends: Weapon #1", kindField},
		{"  damage:", kindField},
		{"  rate: 10", kindRate},
		{"    1. 5", kindText},
		{"    ^ 3.5", kindInherited},
		{"    1. 5  (from #2/-1 damage[0])", kindTrace},
		{"  Weapon #1", kindText},
		{"Error: no item selected, use select <item>", kindError},
		{"18", kindText},
		{"", kindText},
	}
	for _, tt := range tests {
		got := classifyLine(tt.line)
		if got != tt.want {
			t.Errorf("classifyLine(%q) = %v, want %v", tt.line, got, tt.want)
		}
	}
}

func TestWrap(t *testing.T) {
	tests := []struct {
		text  string
		width int
		want  string
	}{
		{"short", 80, "short"},
		{"hello world", 5, "hello\nworld"},
		{"The great hall stretches before you with its vaulted ceiling.", 30,
			"The great hall stretches\nbefore you with its vaulted\nceiling."},
		{"", 80, ""},
		{"a b c d e", 3, "a b\nc d\ne"},
		{"  description: a long blade of old steel", 20,
			"  description: a\n  long blade of old\n  steel"},
	}
	for _, tt := range tests {
		got := wrap(tt.text, tt.width)
		if got != tt.want {
			t.Errorf("wrap(%q, %d) =\n  %q\nwant:\n  %q", tt.text, tt.width, got, tt.want)
		}
	}
}

func TestHistory_PushAndPrev(t *testing.T) {
	h := NewHistory(5)
	h.Push("show Sword")
	h.Push("select Knight")
	h.Push("rate")

	for _, want := range []string{"rate", "select Knight", "show Sword", "show Sword"} {
		prev, ok := h.Prev("")
		if !ok || prev != want {
			t.Errorf("Prev = %q (ok=%v), want %q", prev, ok, want)
		}
	}
}

func TestHistory_PrefixRecall(t *testing.T) {
	h := NewHistory(10)
	h.Push("show Sword")
	h.Push("rate Sword")
	h.Push("show Knight")
	h.Push("rate")

	prev, ok := h.Prev("show")
	if !ok || prev != "show Knight" {
		t.Errorf("Prev = %q (ok=%v), want 'show Knight'", prev, ok)
	}
	prev, _ = h.Prev("ignored while recalling")
	if prev != "show Sword" {
		t.Errorf("Prev = %q, want 'show Sword'", prev)
	}
	next, ok := h.Next()
	if !ok || next != "show Knight" {
		t.Errorf("Next = %q (ok=%v), want 'show Knight'", next, ok)
	}
	next, ok = h.Next()
	if ok || next != "show" {
		t.Errorf("Next past newest = %q (ok=%v), want typed prefix and false", next, ok)
	}

	if _, ok := h.Prev("delete"); ok {
		t.Error("expected no match for an unused prefix")
	}
}

func TestHistory_Empty(t *testing.T) {
	h := NewHistory(5)
	if _, ok := h.Prev(""); ok {
		t.Error("expected false on empty history")
	}
	if _, ok := h.Next(); ok {
		t.Error("expected false on empty history")
	}
}

func TestHistory_MaxSize(t *testing.T) {
	h := NewHistory(2)
	h.Push("a")
	h.Push("b")
	h.Push("c") // "a" evicted

	for _, want := range []string{"c", "b", "b"} {
		if prev, _ := h.Prev(""); prev != want {
			t.Errorf("Prev = %q, want %q", prev, want)
		}
	}
}

func TestHistory_NoDuplicates(t *testing.T) {
	h := NewHistory(5)
	h.Push("rate")
	h.Push("rate") // skipped
	h.Push("rate") // skipped

	if len(h.entries) != 1 {
		t.Errorf("expected 1 entry, got %d", len(h.entries))
	}
}

func str(s string) *string { return &s }

func testModel(t *testing.T) Model {
	t.Helper()
	ctx := context.Background()
	eng := engine.New(memory.New(), engine.Options{})
	if _, err := eng.AddSetting(ctx, &types.Setting{Name: "core"}); err != nil {
		t.Fatalf("AddSetting failed: %v", err)
	}
	weapon, err := eng.Add(ctx, &types.Item{
		Name:      "Weapon",
		SettingID: 1,
		IsType:    true,
		Metadata:  []types.Metadata{{AttributeName: "damage", TypeID: types.TypeInt, IsSingle: true}},
		Formula:   "damage * 2",
	})
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if _, err := eng.Add(ctx, &types.Item{
		Name:       "Sword",
		SettingID:  1,
		Extends:    []types.Ref{{ID: weapon.ID()}},
		Attributes: []types.Attribute{{Name: "damage", Values: []types.Value{{Primitive: str("5")}}}},
	}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	s := cli.NewSession(eng)
	s.Setting = 1
	m := New(ctx, s)
	updated, _ := m.Update(tea.WindowSizeMsg{Width: 80, Height: 24})
	return updated.(Model)
}

func submit(m Model, line string) (Model, tea.Cmd) {
	m.input.SetValue(line)
	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	return updated.(Model), cmd
}

func transcript(m Model) string {
	var lines []string
	for _, rl := range m.rawLines {
		lines = append(lines, rl.text)
	}
	return strings.Join(lines, "\n")
}

func TestModel_ExecUpdatesTranscriptAndStatus(t *testing.T) {
	m := testModel(t)
	if m.status.setting != "core" || m.status.item != "no item" {
		t.Errorf("initial status = %+v", m.status)
	}

	m, _ = submit(m, "select Sword")
	out := transcript(m)
	if !strings.Contains(out, "> select Sword") || !strings.Contains(out, "  rate: 10") {
		t.Errorf("transcript missing command output:\n%s", out)
	}
	if m.status.item != "Sword #2" || m.status.rate != "10" {
		t.Errorf("status = %+v, want Sword #2 rated 10", m.status)
	}
	if bar := m.renderStatusBar(); !strings.Contains(bar, "core | Sword #2") || !strings.Contains(bar, "rate: 10") {
		t.Errorf("status bar = %q", bar)
	}
	if m.input.Value() != "" {
		t.Error("input should be cleared after enter")
	}
}

func TestModel_MetaOutputIsSystem(t *testing.T) {
	m := testModel(t)
	m, _ = submit(m, "/trace")

	var found bool
	for _, rl := range m.rawLines {
		if rl.text == "Trace output enabled." {
			found = rl.isSystem
		}
	}
	if !found {
		t.Error("expected trace confirmation as a system line")
	}
	if !strings.Contains(m.renderStatusBar(), "trace") {
		t.Error("expected trace marker in status bar")
	}
}

func TestModel_Quit(t *testing.T) {
	m := testModel(t)
	m, cmd := submit(m, "/quit")
	if !m.quitting || cmd == nil {
		t.Error("expected /quit to end the program")
	}
	if m.View() != "" {
		t.Error("expected empty view after quitting")
	}
}

func TestModel_HistoryKeys(t *testing.T) {
	m := testModel(t)
	m, _ = submit(m, "rate Sword")
	m, _ = submit(m, "types")

	updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyUp})
	m = updated.(Model)
	if m.input.Value() != "types" {
		t.Errorf("input = %q, want 'types'", m.input.Value())
	}
	updated, _ = m.Update(tea.KeyMsg{Type: tea.KeyUp})
	m = updated.(Model)
	if m.input.Value() != "rate Sword" {
		t.Errorf("input = %q, want 'rate Sword'", m.input.Value())
	}
	updated, _ = m.Update(tea.KeyMsg{Type: tea.KeyDown})
	m = updated.(Model)
	if m.input.Value() != "types" {
		t.Errorf("input = %q, want 'types'", m.input.Value())
	}
}

func TestModel_InitialOutput(t *testing.T) {
	m := testModel(t)
	msg := m.initialOutput()()
	updated, _ := m.Update(msg)
	out := transcript(updated.(Model))
	if !strings.Contains(out, "Setting: core #1") {
		t.Errorf("expected setting banner:\n%s", out)
	}
}
