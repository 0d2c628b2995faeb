package tui

import "strings"

// History holds submitted console lines, oldest first, for Up/Down recall.
// When recall starts with text already typed, only lines starting with that
// text are visited.
type History struct {
	entries []string
	max     int
	cursor  int    // -1 = not navigating, 0..len-1 = position in entries
	prefix  string // typed text when navigation started
}

// NewHistory creates a history keeping at most max lines.
func NewHistory(max int) *History {
	return &History{
		entries: make([]string, 0, max),
		max:     max,
		cursor:  -1,
	}
}

// Push records a line. Consecutive duplicates are skipped.
func (h *History) Push(line string) {
	if len(h.entries) > 0 && h.entries[len(h.entries)-1] == line {
		return
	}
	h.entries = append(h.entries, line)
	if len(h.entries) > h.max {
		h.entries = h.entries[1:]
	}
}

// Prev returns the next older line matching the prefix typed when recall
// began. At the oldest match it stays put.
func (h *History) Prev(typed string) (string, bool) {
	if h.cursor == -1 {
		h.prefix = typed
		h.cursor = len(h.entries)
	}
	for i := h.cursor - 1; i >= 0; i-- {
		if strings.HasPrefix(h.entries[i], h.prefix) {
			h.cursor = i
			return h.entries[i], true
		}
	}
	if h.cursor < len(h.entries) {
		return h.entries[h.cursor], true
	}
	h.cursor = -1
	return "", false
}

// Next returns the next newer matching line. Past the newest it ends recall
// and returns the typed prefix with false.
func (h *History) Next() (string, bool) {
	if h.cursor == -1 {
		return "", false
	}
	for i := h.cursor + 1; i < len(h.entries); i++ {
		if strings.HasPrefix(h.entries[i], h.prefix) {
			h.cursor = i
			return h.entries[i], true
		}
	}
	prefix := h.prefix
	h.ResetCursor()
	return prefix, false
}

// ResetCursor ends recall.
func (h *History) ResetCursor() {
	h.cursor = -1
	h.prefix = ""
}
