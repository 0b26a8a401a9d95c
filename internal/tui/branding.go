package tui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/pders01/crossread/internal/config"
)

const AppName = "crossread"

var LogoLines = []string{
	" ▄▄▄▄  ▄▄▄▄   ▄▄▄   ▄▄▄▄  ▄▄▄▄ ",
	"██▀   ██  █ ██ ██ ██▄▄  ██▄▄  ",
	"██    ██▀▀▄ ██ ██    ██    ██ ",
	" ▀▀▀▀ ▀▀  ▀  ▀▀▀  ▀▀▀▀  ▀▀▀▀  ",
	"            r e a d           ",
}

const CompactLogo = `crossread ›`

var BannerColors = []lipgloss.Color{
	lipgloss.Color("#FF6B6B"),
	lipgloss.Color("#FFA86B"),
	lipgloss.Color("#95E1D3"),
	lipgloss.Color("#4ECDC4"),
	lipgloss.Color("#FF6B6B"),
}

var (
	PrimaryColor   = lipgloss.Color("#FF6B6B")
	SecondaryColor = lipgloss.Color("#4ECDC4")
	AccentColor    = lipgloss.Color("#95E1D3")

	BackgroundColor = lipgloss.Color("#1A1A2E")
	SurfaceColor    = lipgloss.Color("#16213E")
	TextColor       = lipgloss.Color("#EAEAEA")
	MutedColor      = lipgloss.Color("#94A3B8")

	// Status colors
	PendingColor = lipgloss.Color("#FFE66D")
	ErrorColor   = lipgloss.Color("#EF4444")
	SuccessColor = lipgloss.Color("#10B981")
)

var (
	LogoStyle          lipgloss.Style
	TitleStyle         lipgloss.Style
	HeaderStyle        lipgloss.Style
	HelpStyle          lipgloss.Style
	HighlightStyle     lipgloss.Style
	StatusInfoStyle    lipgloss.Style
	StatusSuccessStyle lipgloss.Style
	StatusWarnStyle    lipgloss.Style
	StatusErrorStyle   lipgloss.Style
	ChipStyle          lipgloss.Style
)

func init() {
	buildStyles()
}

func buildStyles() {
	LogoStyle = lipgloss.NewStyle().
		Foreground(PrimaryColor).
		Bold(true)

	TitleStyle = lipgloss.NewStyle().
		Foreground(TextColor).
		Background(SurfaceColor).
		Bold(true).
		Padding(0, 2)

	HeaderStyle = lipgloss.NewStyle().
		Foreground(SecondaryColor).
		Bold(true)

	HelpStyle = lipgloss.NewStyle().
		Foreground(MutedColor).
		Italic(true)

	HighlightStyle = lipgloss.NewStyle().
		Foreground(PendingColor).
		Bold(true)

	StatusInfoStyle = lipgloss.NewStyle().
		Foreground(MutedColor)

	StatusSuccessStyle = lipgloss.NewStyle().
		Foreground(SuccessColor)

	StatusWarnStyle = lipgloss.NewStyle().
		Foreground(PendingColor)

	StatusErrorStyle = lipgloss.NewStyle().
		Foreground(ErrorColor).
		Bold(true)

	ChipStyle = lipgloss.NewStyle().
		Padding(0, 1)
}

// ApplyColors overrides the palette with the [ui.colors] config section.
// Empty values keep the built-in color.
func ApplyColors(c config.UIColors) {
	set := func(dst *lipgloss.Color, v string) {
		if v != "" {
			*dst = lipgloss.Color(v)
		}
	}
	set(&PrimaryColor, c.Primary)
	set(&SecondaryColor, c.Secondary)
	set(&AccentColor, c.Accent)
	set(&MutedColor, c.Muted)
	set(&ErrorColor, c.Error)
	set(&SuccessColor, c.Success)
	buildStyles()
}

func GetCompactBanner(message string) string {
	var coloredLines []string
	for _, line := range LogoLines {
		coloredLines = append(coloredLines, LogoStyle.Render(line))
	}

	logo := lipgloss.JoinVertical(lipgloss.Center, coloredLines...)

	return lipgloss.JoinVertical(
		lipgloss.Center,
		logo,
		"",
		HelpStyle.Render(message),
	)
}

// Banner renders the startup banner with an optional version tag.
func Banner(version string) string {
	lines := make([]string, len(LogoLines)+1)
	copy(lines, LogoLines)

	tagline := "    Manga Source Resolver"
	if version != "" && version != "dev" {
		if version[0] != 'v' && version[0] != 'V' {
			version = "v" + version
		}
		tagline = fmt.Sprintf("%s %s", tagline, version)
	}
	lines = append(lines, tagline)

	var coloredLines []string
	for i, line := range lines {
		if line == "" {
			coloredLines = append(coloredLines, line)
			continue
		}
		style := lipgloss.NewStyle().
			Foreground(BannerColors[i%len(BannerColors)]).
			Bold(i < len(LogoLines))
		coloredLines = append(coloredLines, style.Render(line))
	}

	borderStyle := lipgloss.NewStyle().
		Border(lipgloss.DoubleBorder()).
		BorderForeground(SecondaryColor).
		Padding(1, 3).
		MarginTop(1)

	banner := borderStyle.Render(lipgloss.JoinVertical(lipgloss.Center, coloredLines...))
	separator := lipgloss.NewStyle().
		Foreground(AccentColor).
		Render("◆ ◇ ◆ ◇ ◆")

	center := lipgloss.NewStyle().Width(70).Align(lipgloss.Center)
	return lipgloss.JoinVertical(lipgloss.Top, center.Render(banner), center.MarginBottom(1).Render(separator))
}

func ShowBanner(version string) {
	fmt.Println(Banner(version))
}
