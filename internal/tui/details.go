package tui

import (
	"fmt"
	"strings"

	"github.com/tinytelemetry/tunnelscope/internal/identity"
	"github.com/tinytelemetry/tunnelscope/internal/model"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const DetailsPageID = "details"

// DetailsPage shows one visitor with its synthetic fingerprint and lookup
// links.
type DetailsPage struct {
	keys    KeyMap
	visitor model.VisitorRecord
	fp      model.Fingerprint
}

// NewDetailsPage creates the visitor details page.
func NewDetailsPage() *DetailsPage {
	return &DetailsPage{keys: DefaultKeyMap()}
}

func (p *DetailsPage) ID() string    { return DetailsPageID }
func (p *DetailsPage) Init() tea.Cmd { return nil }

// SetParams receives the visitor selected on the dashboard.
func (p *DetailsPage) SetParams(params any) {
	if v, ok := params.(model.VisitorRecord); ok {
		p.visitor = v
		p.fp = identity.Fingerprint(v.IP)
	}
}

func (p *DetailsPage) Update(msg tea.Msg) (tea.Cmd, *PageNav) {
	km, ok := msg.(tea.KeyMsg)
	if !ok {
		return nil, nil
	}
	switch {
	case key.Matches(km, p.keys.ForceQuit):
		return tea.Quit, nil
	case key.Matches(km, p.keys.Escape), key.Matches(km, p.keys.Quit), key.Matches(km, p.keys.Enter):
		return nil, navigate(DashboardPageID, nil)
	}
	return nil, nil
}

func (p *DetailsPage) View(width, height int) string {
	v := p.visitor
	section := func(title string, rows [][2]string) string {
		lines := []string{chartTitleStyle.Render(title)}
		for _, r := range rows {
			lines = append(lines, fmt.Sprintf("%-16s %s", r[0]+":", r[1]))
		}
		return strings.Join(lines, "\n")
	}

	network := section("Network", [][2]string{
		{"IP", v.IP},
		{"ISP", v.ISP},
		{"AS", v.AS},
		{"Seen", v.Timestamp.Local().Format("2006-01-02 15:04:05")},
	})
	geo := section("Location", [][2]string{
		{"Country", fmt.Sprintf("%s (%s)", v.Country, v.CountryCode)},
		{"Region", v.Region},
		{"City", v.City},
		{"Zip", v.Zip},
		{"Coordinates", fmt.Sprintf("%.4f, %.4f", v.Lat, v.Lon)},
		{"Timezone", v.Timezone},
	})
	client := section("Client", [][2]string{
		{"User agent", v.UserAgent},
		{"Platform", v.Platform},
		{"Browser", v.Browser},
		{"Referrer", v.Referrer},
	})
	fp := section("Fingerprint", [][2]string{
		{"Resolution", p.fp.Resolution},
		{"Color depth", p.fp.ColorDepth},
		{"Language", p.fp.Language},
		{"TZ offset", p.fp.TimezoneOffset},
		{"Plugins", p.fp.Plugins},
		{"Cookies", p.fp.Cookies},
		{"Do not track", p.fp.DNT},
		{"Canvas hash", p.fp.CanvasHash},
		{"WebGL hash", p.fp.WebGLHash},
	})
	links := section("Lookup", [][2]string{
		{"Whois", "https://whois.domaintools.com/" + v.IP},
		{"Abuse report", "https://www.abuseipdb.com/check/" + v.IP},
	})

	body := strings.Join([]string{network, geo, client, fp, links}, "\n\n")
	box := activeSectionStyle.Width(max(min(width-2, 90), 20)).Render(body)
	return lipgloss.JoinVertical(lipgloss.Left, box, helpStyle.Render("esc: back • ctrl+c: quit"))
}
