// Copyright (c) 2026 Stew Joel
// Kevoctl - Kevo Plus smart lock manager
// This source code is licensed under the MIT license found in the LICENSE file.

package tui

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/stewjoel/home-assistant-kevo-master/internal/coordinator"
	"github.com/stewjoel/home-assistant-kevo-master/internal/i18n"
	"github.com/stewjoel/home-assistant-kevo-master/internal/kevo"
	"github.com/stewjoel/home-assistant-kevo-master/internal/model"
)

// commandTimeout bounds how long a keypress-issued command may take,
// including the wait for the bolt to settle.
const commandTimeout = 45 * time.Second

// lockUpdateMsg carries a changed lock snapshot from the coordinator.
type lockUpdateMsg struct {
	lock model.Lock
}

// commandResultMsg reports the outcome of a lock/unlock keypress.
type commandResultMsg struct {
	lockID  string
	name    string
	command string
	err     error
}

// clearStatusMsg expires the transient status line.
type clearStatusMsg struct {
	seq int
}

// watchModel is the live lock dashboard.
type watchModel struct {
	co      *coordinator.Coordinator
	updates <-chan lockUpdateMsg

	table    table.Model
	spin     spinner.Model
	locks    []model.Lock      // sorted by name, mirrors the table rows
	inflight map[string]string // lock id -> command currently executing

	status    string
	statusErr bool
	statusSeq int

	width  int
	height int
}

func newWatchModel(co *coordinator.Coordinator, updates <-chan lockUpdateMsg) watchModel {
	columns := []table.Column{
		{Title: i18n.T("watch.header.name"), Width: 24},
		{Title: i18n.T("watch.header.state"), Width: 14},
		{Title: i18n.T("watch.header.battery"), Width: 9},
		{Title: i18n.T("watch.header.seen"), Width: 17},
		{Title: "ID", Width: 36},
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(12), // Placeholder height
	)
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(colorSubtle).
		BorderBottom(true).
		Bold(true)
	s.Selected = s.Selected.
		Foreground(colorWhite).
		Background(colorHighlight).
		Bold(false)
	t.SetStyles(s)

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(colorSpecial)

	m := watchModel{
		co:       co,
		updates:  updates,
		table:    t,
		spin:     sp,
		locks:    co.Snapshot(),
		inflight: make(map[string]string),
	}
	sort.Slice(m.locks, func(i, j int) bool { return m.locks[i].Name < m.locks[j].Name })
	m.rebuildTableRows()
	return m
}

// rebuildTableRows renders the current lock slice into table rows. The row
// order always matches m.locks so the cursor index maps back to a lock.
func (m *watchModel) rebuildTableRows() {
	rows := make([]table.Row, 0, len(m.locks))
	for _, l := range m.locks {
		state := m.describeState(l)
		battery := fmt.Sprintf("%3.0f%%", l.BatteryLevel)
		if l.BatteryLevel > 0 && l.BatteryLevel < 25 {
			battery = specialStyle.Render(battery)
		}
		seen := "-"
		if !l.LastSeen.IsZero() {
			seen = l.LastSeen.Local().Format("01-02 15:04:05")
		}
		rows = append(rows, table.Row{l.Name, state, battery, seen, l.LockID})
	}
	m.table.SetRows(rows)
}

func (m *watchModel) describeState(l model.Lock) string {
	if cmd, ok := m.inflight[l.LockID]; ok {
		verb := i18n.T("watch.state_locking")
		if cmd == kevo.CommandUnlock {
			verb = i18n.T("watch.state_unlocking")
		}
		return m.spin.View() + verb
	}
	switch {
	case l.Jammed:
		return specialStyle.Render(i18n.T("watch.state_jammed"))
	case l.Locked:
		return successStyle.Render(i18n.T("watch.state_locked"))
	case l.BoltState == "":
		return helpStyle.Render("-")
	default:
		return i18n.T("watch.state_unlocked")
	}
}

// selectedLock returns the lock under the cursor, if any.
func (m *watchModel) selectedLock() (model.Lock, bool) {
	idx := m.table.Cursor()
	if idx < 0 || idx >= len(m.locks) {
		return model.Lock{}, false
	}
	return m.locks[idx], true
}

// mergeLock folds a changed snapshot into the sorted lock slice.
func (m *watchModel) mergeLock(l model.Lock) {
	for i := range m.locks {
		if m.locks[i].LockID == l.LockID {
			m.locks[i] = l
			return
		}
	}
	m.locks = append(m.locks, l)
	sort.Slice(m.locks, func(i, j int) bool { return m.locks[i].Name < m.locks[j].Name })
}

// waitForUpdate blocks on the coordinator's update channel as a tea command.
func waitForUpdate(ch <-chan lockUpdateMsg) tea.Cmd {
	return func() tea.Msg {
		return <-ch
	}
}

// sendCommand issues a lock/unlock in the background and waits for the
// bolt to settle before reporting back.
func sendCommand(co *coordinator.Coordinator, l model.Lock, command string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		err := co.SendCommand(ctx, l.LockID, command)
		if err == nil {
			err = co.WaitSettled(ctx, l.LockID)
		}
		return commandResultMsg{lockID: l.LockID, name: l.Name, command: command, err: err}
	}
}

func (m watchModel) setStatus(text string, isErr bool) (watchModel, tea.Cmd) {
	m.status = text
	m.statusErr = isErr
	m.statusSeq++
	seq := m.statusSeq
	return m, tea.Tick(5*time.Second, func(time.Time) tea.Msg {
		return clearStatusMsg{seq: seq}
	})
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, waitForUpdate(m.updates))
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		// title(3) + status/help(3)
		m.table.SetHeight(msg.Height - 8)
		m.table.SetWidth(msg.Width - 4)
		return m, nil

	case lockUpdateMsg:
		m.mergeLock(msg.lock)
		m.rebuildTableRows()
		return m, waitForUpdate(m.updates)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		if len(m.inflight) > 0 {
			m.rebuildTableRows()
		}
		return m, cmd

	case commandResultMsg:
		delete(m.inflight, msg.lockID)
		m.rebuildTableRows()
		if msg.err != nil {
			next, cmd := m.setStatus(i18n.T("watch.command_failed", msg.name, msg.err), true)
			return next, cmd
		}
		next, cmd := m.setStatus(i18n.T("watch.command_done", msg.name, msg.command), false)
		return next, cmd

	case clearStatusMsg:
		if msg.seq == m.statusSeq {
			m.status = ""
		}
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "l":
			return m.issueCommand(kevo.CommandLock)
		case "u":
			return m.issueCommand(kevo.CommandUnlock)
		case "c":
			if l, ok := m.selectedLock(); ok {
				if err := clipboard.WriteAll(l.LockID); err != nil {
					next, cmd := m.setStatus(i18n.T("watch.copy_failed", err), true)
					return next, cmd
				}
				next, cmd := m.setStatus(i18n.T("watch.copied", l.LockID), false)
				return next, cmd
			}
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

// issueCommand starts a lock/unlock for the selected lock, ignoring the
// keypress while a command for that lock is still in flight.
func (m watchModel) issueCommand(command string) (tea.Model, tea.Cmd) {
	l, ok := m.selectedLock()
	if !ok {
		return m, nil
	}
	if _, busy := m.inflight[l.LockID]; busy {
		return m, nil
	}
	m.inflight[l.LockID] = command
	m.rebuildTableRows()
	return m, sendCommand(m.co, l, command)
}

func (m watchModel) View() string {
	title := mainTitleStyle.Render(i18n.T("watch.title"))

	body := m.table.View()
	if len(m.locks) == 0 {
		body = helpStyle.Render(i18n.T("watch.no_locks"))
	}

	status := " "
	if m.status != "" {
		if m.statusErr {
			status = errorStyle.Render(m.status)
		} else {
			status = statusMessageStyle.Render(m.status)
		}
	}

	help := helpStyle.Render(i18n.T("watch.help"))

	return docStyle.Render(title + "\n" + body + "\n\n" + status + "\n" + help)
}
