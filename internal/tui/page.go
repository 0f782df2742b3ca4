package tui

import tea "github.com/charmbracelet/bubbletea"

// Page represents a top-level screen in the TUI (dashboard, visitor details).
type Page interface {
	ID() string
	Init() tea.Cmd
	Update(msg tea.Msg) (tea.Cmd, *PageNav)
	View(width, height int) string
}

// PageNav is returned from Update to request a page switch.
type PageNav struct {
	PageID string
	Params any
}

// paramPage is implemented by pages that take navigation parameters.
type paramPage interface {
	SetParams(params any)
}

func navigate(pageID string, params any) *PageNav {
	return &PageNav{PageID: pageID, Params: params}
}
