package tui

import (
	"fmt"
	"strings"

	"github.com/tinytelemetry/tunnelscope/internal/model"

	"github.com/charmbracelet/lipgloss"
)

func (m *DashboardModel) View(width, height int) string {
	if width == 0 || height == 0 {
		return "Loading..."
	}

	topH, logsH := m.layoutHeights()
	chartW := width * 2 / 5
	if width < 100 {
		chartW = 0
	}

	var top string
	if chartW > 0 {
		top = lipgloss.JoinHorizontal(lipgloss.Top,
			m.renderVisitors(width-chartW, topH),
			m.chart.Render(chartW, topH, false),
		)
	} else {
		top = m.renderVisitors(width, topH)
	}

	parts := []string{m.renderHeader(width), top, m.renderLog(width, logsH)}
	if m.filterActive {
		parts = append(parts, m.countryInput.View())
	}
	parts = append(parts, m.help.View(m.keys))
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (m *DashboardModel) renderHeader(width int) string {
	st := m.status
	state := string(st.State)
	if state == "" {
		state = string(model.StateIdle)
	}
	left := fmt.Sprintf("tunnelscope • %s", state)
	if st.Provider != "" {
		left += " • " + string(st.Provider)
	}
	if st.URL != "" {
		left += " • " + st.URL
	}

	right := fmt.Sprintf("visitors %d • %s", m.total, m.filterSummary())
	if m.paused {
		right = "PAUSED • " + right
	}
	if m.lastError != "" {
		right = "error: " + truncate(m.lastError, 40) + " • " + right
	}

	gap := width - lipgloss.Width(left) - lipgloss.Width(right) - 2
	if gap < 1 {
		gap = 1
	}
	line := left + strings.Repeat(" ", gap) + right
	return stateStyle(st.Running, st.URL != "").Inherit(headerStyle).Width(width).Render(truncate(line, width-2))
}

func (m *DashboardModel) renderVisitors(width, height int) string {
	style := activeSectionStyle.Width(width - 2).Height(height - 2)
	inner := width - 4
	rows := height - 4

	title := chartTitleStyle.Render(fmt.Sprintf("Visitors (%d shown)", len(m.visitors)))
	if len(m.visitors) == 0 || rows < 1 {
		return style.Render(lipgloss.JoinVertical(lipgloss.Left, title, helpStyle.Render("No visitors match the current filter")))
	}

	const timeW, ipW, countryW, cityW = 8, 15, 16, 14
	restW := max(inner-timeW-ipW-countryW-cityW-4, 6)
	header := helpStyle.Render(strings.Join([]string{
		pad("Time", timeW), pad("IP", ipW), pad("Country", countryW), pad("City", cityW), pad("ISP", restW),
	}, " "))

	start := 0
	if m.cursor >= rows {
		start = m.cursor - rows + 1
	}
	end := min(start+rows, len(m.visitors))

	lines := []string{title, header}
	for i := start; i < end; i++ {
		v := m.visitors[i]
		line := strings.Join([]string{
			pad(v.Timestamp.Local().Format("15:04:05"), timeW),
			pad(v.IP, ipW),
			pad(v.Country, countryW),
			pad(v.City, cityW),
			pad(v.ISP, restW),
		}, " ")
		if i == m.cursor {
			line = selectedRowStyle.Render(line)
		}
		lines = append(lines, line)
	}
	return style.Render(strings.Join(lines, "\n"))
}

func (m *DashboardModel) renderLog(width, height int) string {
	style := sectionStyle.Width(width - 2).Height(max(height-2, 1))
	title := chartTitleStyle.Render("Activity")
	return style.Render(lipgloss.JoinVertical(lipgloss.Left, title, m.eventLog.View()))
}
