package tui

import (
	"fmt"
	"strings"

	"github.com/tinytelemetry/tunnelscope/internal/model"
)

// formatEvent renders one activity line. URLReady is shown in the header
// instead and yields "".
func formatEvent(e model.Event) string {
	switch ev := e.(type) {
	case model.LogMessage:
		stamp := "--:--:--"
		if !ev.Time.IsZero() {
			stamp = ev.Time.Local().Format("15:04:05")
		}
		return levelStyle(string(ev.Level)).Render(fmt.Sprintf("[%s] %s", stamp, ev.Text))
	case model.VisitorDetected:
		r := ev.Record
		return levelStyle("success").Render(fmt.Sprintf("[%s] Visitor %s from %s", r.Timestamp.Local().Format("15:04:05"), r.IP, location(r)))
	case model.ConnectionError:
		return errorStyle.Render("Connection error: " + ev.Message)
	}
	return ""
}

func renderEvents(events []model.Event) string {
	lines := make([]string, 0, len(events))
	for _, e := range events {
		if line := formatEvent(e); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

// location joins city and country, skipping unknown parts.
func location(r model.VisitorRecord) string {
	var parts []string
	if r.City != "" && r.City != model.UnknownValue {
		parts = append(parts, r.City)
	}
	if r.Country != "" && r.Country != model.UnknownValue {
		parts = append(parts, r.Country)
	}
	if len(parts) == 0 {
		return model.UnknownValue
	}
	return strings.Join(parts, ", ")
}

// truncate shortens s to width runes, marking the cut with "…".
func truncate(s string, width int) string {
	if width <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= width {
		return s
	}
	if width == 1 {
		return "…"
	}
	return string(r[:width-1]) + "…"
}

func pad(s string, width int) string {
	s = truncate(s, width)
	if n := width - len([]rune(s)); n > 0 {
		return s + strings.Repeat(" ", n)
	}
	return s
}
