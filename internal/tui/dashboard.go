package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/tinytelemetry/tunnelscope/internal/model"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
)

const (
	DashboardPageID = "dashboard"

	visitorLimit    = 500
	topCountryLimit = 10
	minInterval     = 500 * time.Millisecond
	maxInterval     = 30 * time.Second
)

// Backend is what the dashboard reads from and controls.
type Backend interface {
	model.VisitorQuerier
	TunnelStatus() (model.TunnelStatus, error)
	StartTunnel(provider model.Provider, timeoutSeconds int) (model.TunnelStatus, error)
	StopTunnel() (model.TunnelStatus, error)
	RecentEvents(n int) ([]model.Event, error)
}

// TickMsg triggers a periodic refresh. Ticks from an older generation are
// dropped so leaving and re-entering the page never doubles the refresh rate.
type TickMsg struct {
	gen int
}

type refreshMsg struct {
	status    model.TunnelStatus
	visitors  []model.VisitorRecord
	total     int64
	countries []string
	top       []model.CountryCount
	events    []model.Event
	lastError string
}

type tunnelMsg struct {
	status model.TunnelStatus
	err    error
}

// DashboardModel is the main page: tunnel status, visitors, top countries
// and the activity log.
type DashboardModel struct {
	backend   Backend
	keys      KeyMap
	help      help.Model
	interval  time.Duration
	logBuffer int

	width  int
	height int

	status    model.TunnelStatus
	visitors  []model.VisitorRecord
	total     int64
	countries []string
	chart     CountryChart
	eventLog  viewport.Model
	lastError string

	countryInput  textinput.Model
	filterActive  bool
	countryFilter string
	dateFilter    model.DateFilter

	cursor   int
	paused   bool
	inFlight bool
	tickGen  int
}

// NewDashboardModel creates the dashboard page.
func NewDashboardModel(backend Backend, interval time.Duration, logBuffer int) *DashboardModel {
	if interval <= 0 {
		interval = model.DefaultUpdateInterval
	}
	if logBuffer <= 0 {
		logBuffer = model.DefaultLogBuffer
	}

	ti := textinput.New()
	ti.Prompt = "Country: "
	ti.Placeholder = "empty for all"
	ti.CharLimit = 64

	return &DashboardModel{
		backend:      backend,
		keys:         DefaultKeyMap(),
		help:         help.New(),
		interval:     interval,
		logBuffer:    logBuffer,
		eventLog:     viewport.New(80, 8),
		countryInput: ti,
		dateFilter:   model.DateAll,
	}
}

func (m *DashboardModel) ID() string { return DashboardPageID }

func (m *DashboardModel) Init() tea.Cmd {
	m.tickGen++
	return tea.Batch(m.refreshCmd(), m.tickCmd())
}

func (m *DashboardModel) tickCmd() tea.Cmd {
	gen := m.tickGen
	return tea.Tick(m.interval, func(time.Time) tea.Msg {
		return TickMsg{gen: gen}
	})
}

func (m *DashboardModel) filter() model.VisitorFilter {
	return model.VisitorFilter{
		Date:    m.dateFilter,
		Country: m.countryFilter,
		Limit:   visitorLimit,
	}
}

// refreshCmd loads everything the dashboard shows off the UI goroutine.
func (m *DashboardModel) refreshCmd() tea.Cmd {
	backend := m.backend
	if backend == nil {
		return func() tea.Msg { return refreshMsg{} }
	}
	filter := m.filter()
	logBuffer := m.logBuffer

	return func() tea.Msg {
		msg := refreshMsg{}
		collectErr := func(err error) {
			if err != nil && msg.lastError == "" {
				msg.lastError = err.Error()
			}
		}

		var err error
		msg.status, err = backend.TunnelStatus()
		collectErr(err)
		msg.visitors, err = backend.RecentVisitors(filter)
		collectErr(err)
		msg.total, err = backend.TotalVisitors()
		collectErr(err)
		msg.countries, err = backend.ListCountries()
		collectErr(err)
		msg.top, err = backend.TopCountries(topCountryLimit)
		collectErr(err)
		msg.events, err = backend.RecentEvents(logBuffer)
		collectErr(err)
		return msg
	}
}

func (m *DashboardModel) tunnelCmd(fn func() (model.TunnelStatus, error)) tea.Cmd {
	if m.backend == nil {
		return nil
	}
	return func() tea.Msg {
		st, err := fn()
		return tunnelMsg{status: st, err: err}
	}
}

func (m *DashboardModel) Update(msg tea.Msg) (tea.Cmd, *PageNav) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
		return nil, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.MouseMsg:
		var cmd tea.Cmd
		m.eventLog, cmd = m.eventLog.Update(msg)
		return cmd, nil

	case TickMsg:
		if msg.gen != m.tickGen {
			return nil, nil
		}
		if m.paused || m.inFlight {
			return m.tickCmd(), nil
		}
		m.inFlight = true
		return tea.Batch(m.refreshCmd(), m.tickCmd()), nil

	case refreshMsg:
		m.inFlight = false
		m.applyRefresh(msg)
		return nil, nil

	case tunnelMsg:
		if msg.err != nil {
			m.lastError = msg.err.Error()
		} else {
			m.lastError = ""
			m.status = msg.status
		}
		return m.refreshCmd(), nil
	}
	return nil, nil
}

func (m *DashboardModel) applyRefresh(msg refreshMsg) {
	m.lastError = msg.lastError
	m.status = msg.status
	m.visitors = msg.visitors
	m.total = msg.total
	m.countries = msg.countries
	m.chart.SetData(msg.top)
	if m.cursor >= len(m.visitors) {
		m.cursor = max(len(m.visitors)-1, 0)
	}

	follow := m.eventLog.AtBottom() || m.eventLog.TotalLineCount() == 0
	m.eventLog.SetContent(renderEvents(msg.events))
	if follow {
		m.eventLog.GotoBottom()
	}
}

func (m *DashboardModel) handleKey(msg tea.KeyMsg) (tea.Cmd, *PageNav) {
	if key.Matches(msg, m.keys.ForceQuit) {
		return tea.Quit, nil
	}
	if m.filterActive {
		return m.handleFilterKey(msg), nil
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		return tea.Quit, nil

	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
		m.resize()

	case key.Matches(msg, m.keys.Escape):
		if m.countryFilter != "" || m.dateFilter != model.DateAll {
			m.countryFilter = ""
			m.dateFilter = model.DateAll
			m.cursor = 0
			return m.refreshCmd(), nil
		}

	case key.Matches(msg, m.keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}
	case key.Matches(msg, m.keys.Down):
		if m.cursor < len(m.visitors)-1 {
			m.cursor++
		}
	case key.Matches(msg, m.keys.Home):
		m.cursor = 0
	case key.Matches(msg, m.keys.End):
		m.cursor = max(len(m.visitors)-1, 0)

	case key.Matches(msg, m.keys.PageUp):
		m.eventLog.HalfPageUp()
	case key.Matches(msg, m.keys.PageDown):
		m.eventLog.HalfPageDown()

	case key.Matches(msg, m.keys.Enter):
		if m.cursor < len(m.visitors) {
			return nil, navigate(DetailsPageID, m.visitors[m.cursor])
		}

	case key.Matches(msg, m.keys.StartServeo):
		return m.tunnelCmd(func() (model.TunnelStatus, error) {
			return m.backend.StartTunnel(model.ProviderServeo, 0)
		}), nil
	case key.Matches(msg, m.keys.StartLocalhostRun):
		return m.tunnelCmd(func() (model.TunnelStatus, error) {
			return m.backend.StartTunnel(model.ProviderLocalhostRun, 0)
		}), nil
	case key.Matches(msg, m.keys.StopTunnel):
		return m.tunnelCmd(func() (model.TunnelStatus, error) {
			return m.backend.StopTunnel()
		}), nil

	case key.Matches(msg, m.keys.CountryFilter):
		m.filterActive = true
		m.countryInput.SetValue(m.countryFilter)
		m.countryInput.CursorEnd()
		return m.countryInput.Focus(), nil

	case key.Matches(msg, m.keys.DateFilter):
		if m.dateFilter == model.DateToday {
			m.dateFilter = model.DateAll
		} else {
			m.dateFilter = model.DateToday
		}
		m.cursor = 0
		return m.refreshCmd(), nil

	case key.Matches(msg, m.keys.Pause):
		m.paused = !m.paused

	case key.Matches(msg, m.keys.IntervalUp):
		m.interval = max(m.interval/2, minInterval)
	case key.Matches(msg, m.keys.IntervalDown):
		m.interval = min(m.interval*2, maxInterval)
	}
	return nil, nil
}

func (m *DashboardModel) handleFilterKey(msg tea.KeyMsg) tea.Cmd {
	switch msg.Type {
	case tea.KeyEnter:
		m.countryFilter = strings.TrimSpace(m.countryInput.Value())
		if strings.EqualFold(m.countryFilter, "all") {
			m.countryFilter = ""
		}
		m.filterActive = false
		m.countryInput.Blur()
		m.cursor = 0
		return m.refreshCmd()
	case tea.KeyEsc:
		m.filterActive = false
		m.countryInput.Blur()
		return nil
	}
	var cmd tea.Cmd
	m.countryInput, cmd = m.countryInput.Update(msg)
	return cmd
}

// layoutHeights splits the body between the visitor area and the log.
func (m *DashboardModel) layoutHeights() (top, logs int) {
	footer := lineCount(m.help.View(m.keys))
	body := m.height - 1 - footer
	if m.filterActive {
		body--
	}
	if body < 8 {
		return 4, 4
	}
	top = body * 55 / 100
	return top, body - top
}

func (m *DashboardModel) resize() {
	m.help.Width = m.width
	_, logs := m.layoutHeights()
	m.eventLog.Width = max(m.width-4, 10)
	m.eventLog.Height = max(logs-3, 1)
}

func lineCount(s string) int {
	if s == "" {
		return 0
	}
	return strings.Count(s, "\n") + 1
}

// Status line fragments.

func (m *DashboardModel) filterSummary() string {
	country := "all countries"
	if m.countryFilter != "" {
		country = m.countryFilter
	}
	return fmt.Sprintf("%s • %s", m.dateFilter, country)
}
