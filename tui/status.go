package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/nathoo/lorekeep/types"
)

// statusInfo is what the status bar shows, refreshed after each command.
type statusInfo struct {
	setting string
	item    string
	rate    string
}

// loadStatus reads the current selection from the session.
func (m Model) loadStatus(ctx context.Context) statusInfo {
	s := m.session
	info := statusInfo{setting: "no setting", item: "no item"}
	if s.Setting != 0 {
		info.setting = fmt.Sprintf("setting #%d", s.Setting)
		if st, err := s.Engine.Store().LoadSetting(ctx, s.Setting); err == nil {
			info.setting = st.Name
		}
	}
	if s.Item == 0 {
		return info
	}
	v, err := s.Engine.GetNested(ctx, s.Item, s.Nested)
	if err != nil {
		info.item = fmt.Sprintf("#%d (missing)", s.Item)
		return info
	}
	info.item = fmt.Sprintf("%s #%d", v.CombinedName(), s.Item)
	if s.Nested != types.RootNestedID {
		info.item += fmt.Sprintf("/%d", s.Nested)
	}
	if rate, err := s.Engine.RateTextNested(ctx, s.Item, s.Nested); err == nil {
		info.rate = rate
	}
	return info
}

// renderStatusBar produces a full-width inverted status line showing the
// setting, the selected item and its rate.
func (m Model) renderStatusBar() string {
	left := fmt.Sprintf(" %s | %s", m.status.setting, m.status.item)
	right := ""
	if m.status.rate != "" {
		right = fmt.Sprintf("rate: %s ", m.status.rate)
	}
	if m.session.Trace {
		right = "trace | " + right
	}

	// Drop the rate when it does not fit.
	if lipgloss.Width(left)+lipgloss.Width(right)+2 > m.width {
		right = ""
	}
	gap := m.width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 0 {
		gap = 0
	}

	bar := left + strings.Repeat(" ", gap) + right
	return styleStatusBar.Width(m.width).Render(bar)
}
