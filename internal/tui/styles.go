package tui

import "github.com/charmbracelet/lipgloss"

var (
	ColorBlue   = lipgloss.Color("39")
	ColorNavy   = lipgloss.Color("17")
	ColorWhite  = lipgloss.Color("255")
	ColorGray   = lipgloss.Color("245")
	ColorGreen  = lipgloss.Color("42")
	ColorOrange = lipgloss.Color("208")
	ColorRed    = lipgloss.Color("196")
)

var (
	sectionStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorGray).
			Padding(0, 1)

	activeSectionStyle = sectionStyle.
				BorderForeground(ColorBlue)

	chartTitleStyle = lipgloss.NewStyle().
			Foreground(ColorBlue).
			Bold(true)

	helpStyle = lipgloss.NewStyle().
			Foreground(ColorGray)

	headerStyle = lipgloss.NewStyle().
			Background(ColorNavy).
			Foreground(ColorWhite).
			Padding(0, 1)

	selectedRowStyle = lipgloss.NewStyle().
				Background(ColorBlue).
				Foreground(ColorWhite)

	errorStyle = lipgloss.NewStyle().Foreground(ColorRed)
)

// countryPalette colors successive bars of the country chart.
var countryPalette = []lipgloss.Color{"39", "42", "208", "170", "220", "81", "203", "141", "114", "245"}

func levelStyle(level string) lipgloss.Style {
	switch level {
	case "success":
		return lipgloss.NewStyle().Foreground(ColorGreen)
	case "warning":
		return lipgloss.NewStyle().Foreground(ColorOrange)
	case "error":
		return errorStyle
	default:
		return lipgloss.NewStyle().Foreground(ColorWhite)
	}
}

func stateStyle(running bool, hasURL bool) lipgloss.Style {
	switch {
	case running && hasURL:
		return lipgloss.NewStyle().Background(ColorNavy).Foreground(ColorGreen)
	case running:
		return lipgloss.NewStyle().Background(ColorNavy).Foreground(ColorOrange)
	default:
		return lipgloss.NewStyle().Background(ColorNavy).Foreground(ColorGray)
	}
}
