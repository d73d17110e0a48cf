/*
 *
 * Copyright 2025 gRPC authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

package main

import (
	"flag"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/changqingss/Mbedtls-KCP-sub000/internal/ringbuf"
)

type tickMsg time.Time

type watchModel struct {
	in       *ringbuf.Inspector
	interval time.Duration
	table    table.Model
	snap     *ringbuf.Snapshot
}

func newWatchModel(in *ringbuf.Inspector, interval time.Duration) watchModel {
	cols := make([]table.Column, len(slotColumns))
	for i, c := range slotColumns {
		w := max(len(c), 6)
		if c == "name" {
			w = ringbuf.NameSize / 2
		}
		cols[i] = table.Column{Title: c, Width: w}
	}
	t := table.New(table.WithColumns(cols), table.WithFocused(true), table.WithHeight(ringbuf.MaxReaders+1))
	s := table.DefaultStyles()
	s.Header = s.Header.BorderStyle(lipgloss.NormalBorder()).BorderBottom(true).Bold(true)
	s.Selected = s.Selected.Foreground(lipgloss.Color("229")).Background(lipgloss.Color("57"))
	t.SetStyles(s)

	m := watchModel{in: in, interval: interval, table: t}
	m.refresh()
	return m
}

func (m *watchModel) refresh() {
	m.snap = m.in.Snapshot()
	rows := slotRows(m.snap)
	tr := make([]table.Row, len(rows))
	for i, r := range rows {
		tr[i] = r
	}
	m.table.SetRows(tr)
}

func (m watchModel) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m watchModel) Init() tea.Cmd {
	return m.tick()
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		m.refresh()
		return m, m.tick()
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.table.SetHeight(max(msg.Height-20, 3))
	}
	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

// selected is the counter detail of the highlighted row.
func (m watchModel) selected() string {
	row := m.table.SelectedRow()
	if row == nil {
		return ""
	}
	var info *ringbuf.SlotInfo
	if m.snap.Writer != nil && row[0] == "W" {
		info = m.snap.Writer
	}
	for i := range m.snap.Readers {
		if fmt.Sprint(m.snap.Readers[i].Slot) == row[0] {
			info = &m.snap.Readers[i]
		}
	}
	if info == nil {
		return ""
	}
	c := info.Counters
	return lipgloss.NewStyle().Faint(true).Render(fmt.Sprintf(
		"%s: installs %d  discards %d  seeks %d  blockings %d  commits without request %d  requests without commit %d",
		info.Name, c.Installs, c.Discards, c.Seeks, c.Blockings, c.CommitsWithoutRequest, c.RequestsWithoutCommit))
}

func (m watchModel) View() string {
	help := lipgloss.NewStyle().Faint(true).Render("↑/↓ select • q quit")
	return lipgloss.JoinVertical(lipgloss.Left,
		renderHeader(m.snap),
		m.table.View(),
		m.selected(),
		help,
	)
}

func runWatch(a *app, args []string) error {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	interval := fs.Duration("interval", 500*time.Millisecond, "refresh interval")
	rest, err := subcommand(fs, args, 1)
	if err != nil {
		return err
	}
	if *interval <= 0 {
		return fmt.Errorf("watch: interval must be positive")
	}
	in, err := a.inspect(rest[0])
	if err != nil {
		return err
	}
	defer in.Close()

	_, err = tea.NewProgram(newWatchModel(in, *interval), tea.WithAltScreen()).Run()
	return err
}
