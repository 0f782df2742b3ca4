package tui

import (
	"fmt"
	"strings"

	"github.com/tinytelemetry/tunnelscope/internal/model"

	"github.com/NimbleMarkets/ntcharts/barchart"
	"github.com/charmbracelet/lipgloss"
)

// CountryChart displays the top visitor countries as a bar chart with a
// ranked legend.
type CountryChart struct {
	data []model.CountryCount
}

// SetData replaces the chart contents.
func (c *CountryChart) SetData(top []model.CountryCount) {
	c.data = append([]model.CountryCount(nil), top...)
}

func (c *CountryChart) Render(width, height int, active bool) string {
	style := sectionStyle.Width(width - 2).Height(height - 2)
	if active {
		style = activeSectionStyle.Width(width - 2).Height(height - 2)
	}

	title := chartTitleStyle.Render("Top Countries")
	var content string
	if len(c.data) > 0 {
		content = c.renderContent(width-4, height-3)
	} else {
		content = helpStyle.Render("No visitors yet")
	}
	return style.Render(lipgloss.JoinVertical(lipgloss.Left, title, content))
}

func (c *CountryChart) renderContent(width, height int) string {
	if height < 2 {
		height = 2
	}
	legendWidth := 22
	chartWidth := width - legendWidth - 2
	if chartWidth < 10 {
		chartWidth = 10
	}

	maxBars := min(len(c.data), height, max(chartWidth/3, 1))

	bc := barchart.New(chartWidth, height,
		barchart.WithBarGap(1),
		barchart.WithBarWidth(2),
		barchart.WithNoAxis(),
	)

	var legendLines []string
	for i := 0; i < maxBars; i++ {
		entry := c.data[i]
		color := countryPalette[i%len(countryPalette)]
		barStyle := lipgloss.NewStyle().Foreground(color).Background(color)
		bc.Push(barchart.BarData{
			Label: "",
			Values: []barchart.BarValue{
				{Name: entry.Country, Value: float64(entry.Count), Style: barStyle},
			},
		})

		label := fmt.Sprintf("%-14s %5d", truncate(entry.Country, 14), entry.Count)
		legendLines = append(legendLines, lipgloss.NewStyle().Foreground(color).Render(label))
	}
	bc.Draw()

	chartLines := strings.Split(bc.View(), "\n")
	for len(chartLines) < height {
		chartLines = append(chartLines, "")
	}
	for len(legendLines) < height {
		legendLines = append(legendLines, "")
	}

	combined := make([]string, 0, height)
	for i := 0; i < height; i++ {
		line := chartLines[i]
		if n := chartWidth - lipgloss.Width(line); n > 0 {
			line += strings.Repeat(" ", n)
		}
		combined = append(combined, line+"  "+legendLines[i])
	}
	return strings.Join(combined, "\n")
}
