package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/pders01/crossread/internal/orchestrator"
)

// renderHeader returns a styled header with an optional muted subtitle,
// both truncated to width.
func renderHeader(title, subtitle string, width int) string {
	title = truncateEnd(title, width-2)
	subtitle = truncateEnd(subtitle, width-2)
	rows := []string{HeaderStyle.Render(title)}
	if subtitle != "" {
		rows = append(rows, renderMuted(subtitle))
	}
	return lipgloss.JoinVertical(lipgloss.Top, rows...)
}

func renderMuted(text string) string {
	return lipgloss.NewStyle().Foreground(MutedColor).Render(text)
}

func renderHelp(text string) string {
	return HelpStyle.Render(text)
}

// renderChips draws one chip per provider: a spinner frame while pending,
// then a check with the result count or a cross with the error.
func renderChips(states []orchestrator.ProviderState, frame string) string {
	if len(states) == 0 {
		return ""
	}
	chips := make([]string, 0, len(states))
	for _, s := range states {
		chips = append(chips, renderChip(s, frame))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, chips...)
}

func renderChip(s orchestrator.ProviderState, frame string) string {
	switch s.Status {
	case orchestrator.StatusSuccess:
		return ChipStyle.Foreground(SuccessColor).Render(fmt.Sprintf("✓ %s %d", s.Name, s.Results))
	case orchestrator.StatusFailed:
		return ChipStyle.Foreground(ErrorColor).Render("✗ " + s.Name)
	default:
		if frame == "" {
			frame = "…"
		}
		return ChipStyle.Foreground(PendingColor).Render(strings.TrimSpace(frame) + " " + s.Name)
	}
}

// truncateEnd shortens s to at most limit runes, ending in an ellipsis when
// cut.
func truncateEnd(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	if limit == 1 {
		return "…"
	}
	return string(r[:limit-1]) + "…"
}

// truncateMiddle keeps both ends of s, which is what matters for ids and
// URLs.
func truncateMiddle(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	r := []rune(s)
	n := len(r)
	if n <= limit {
		return s
	}
	if limit == 1 {
		return "…"
	}
	keep := limit - 1
	left := keep / 2
	right := keep - left
	if left == 0 {
		return "…" + string(r[n-right:])
	}
	return string(r[:left]) + "…" + string(r[n-right:])
}
