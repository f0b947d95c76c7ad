// Copyright 2026 The Usher Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/usherwm/usher/logind"
)

// sessionData is the slice of sessionSource the model reads. Narrowed
// to an interface so model tests run on a canned source.
type sessionData interface {
	Rows() []logind.SessionStatus
	Updates() <-chan struct{}
	Err() error
}

// refreshMsg signals that the source has new rows to render.
type refreshMsg struct{}

// sourceClosedMsg signals that the source died (bus connection lost).
type sourceClosedMsg struct{}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1)

	countStyle = lipgloss.NewStyle().
			Faint(true).
			Padding(0, 1)

	helpStyle = lipgloss.NewStyle().
			Faint(true).
			Padding(0, 1)

	activeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10"))
)

type model struct {
	source sessionData
	table  table.Model
	height int

	// err records why the program is exiting, surfaced by the main
	// function after the program loop returns.
	err error
}

func newModel(source sessionData) model {
	columns := []table.Column{
		{Title: "SESSION", Width: 8},
		{Title: "USER", Width: 14},
		{Title: "SEAT", Width: 8},
		{Title: "TTY", Width: 6},
		{Title: "STATE", Width: 8},
		{Title: "ACTIVE", Width: 6},
	}
	sessionTable := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		Bold(true).
		BorderStyle(lipgloss.NormalBorder()).
		BorderBottom(true)
	styles.Selected = styles.Selected.
		Bold(true).
		Reverse(true)
	sessionTable.SetStyles(styles)

	m := model{source: source, table: sessionTable}
	m.reload()
	return m
}

// Init implements tea.Model.
func (m model) Init() tea.Cmd {
	return listenForUpdate(m.source.Updates())
}

// listenForUpdate blocks until the source reports a change, then
// delivers it through the bubbletea message loop.
func listenForUpdate(updates <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		if _, ok := <-updates; !ok {
			return sourceClosedMsg{}
		}
		return refreshMsg{}
	}
}

// Update implements tea.Model.
func (m model) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch message := message.(type) {
	case tea.KeyMsg:
		switch message.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.height = message.Height
		m.table.SetWidth(message.Width)
		// Title, header border, and help line take four rows.
		if height := message.Height - 4; height > 0 {
			m.table.SetHeight(height)
		}
		return m, nil

	case refreshMsg:
		m.reload()
		return m, listenForUpdate(m.source.Updates())

	case sourceClosedMsg:
		m.err = m.source.Err()
		return m, tea.Quit
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(message)
	return m, cmd
}

// View implements tea.Model.
func (m model) View() string {
	rows := m.table.Rows()
	header := lipgloss.JoinHorizontal(lipgloss.Center,
		titleStyle.Render("usher-monitor"),
		countStyle.Render(fmt.Sprintf("%d sessions", len(rows))),
	)
	help := helpStyle.Render("↑/↓ select · q quit")
	return lipgloss.JoinVertical(lipgloss.Left, header, m.table.View(), help)
}

// reload rebuilds the table rows from the source.
func (m *model) reload() {
	statuses := m.source.Rows()
	rows := make([]table.Row, len(statuses))
	for i, status := range statuses {
		tty := status.TTY
		if tty == "" {
			tty = vtLabel(status.VT)
		}
		rows[i] = table.Row{
			status.ID,
			status.User,
			status.Seat,
			tty,
			status.State,
			activeMark(status.Active),
		}
	}
	m.table.SetRows(rows)
	if cursor := m.table.Cursor(); cursor >= len(rows) && len(rows) > 0 {
		m.table.SetCursor(len(rows) - 1)
	}
}

func activeMark(active bool) string {
	if active {
		return activeStyle.Render("yes")
	}
	return "no"
}

// vtLabel is used in place of an empty TTY for sessions that carry
// only a VT number.
func vtLabel(vt uint32) string {
	if vt == 0 {
		return ""
	}
	return "tty" + strconv.Itoa(int(vt))
}
