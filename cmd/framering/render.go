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
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/sahilm/fuzzy"

	"github.com/changqingss/Mbedtls-KCP-sub000/internal/ringbuf"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	labelStyle   = lipgloss.NewStyle().Faint(true).Width(16)
	sectionStyle = lipgloss.NewStyle().Bold(true).MarginTop(1)
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	matchStyle   = lipgloss.NewStyle().Bold(true).Underline(true)
	boxStyle     = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

var slotColumns = []string{"slot", "name", "pid", "role", "state", "index", "offset", "readable", "requests", "commits", "relocs", "bytes"}

func formatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func slotRow(s ringbuf.SlotInfo) []string {
	slot := "W"
	if s.Slot >= 0 {
		slot = fmt.Sprint(s.Slot)
	}
	state := s.State.String()
	if s.WaitKey {
		state += "+key"
	}
	if s.Moved {
		state += "+moved"
	}
	readable := "-"
	if s.Slot >= 0 {
		readable = formatBytes(uint64(s.Readable))
	}
	return []string{
		slot,
		s.Name,
		fmt.Sprint(s.PID),
		s.Capability.String(),
		state,
		fmt.Sprint(s.Index),
		fmt.Sprint(s.Offset),
		readable,
		fmt.Sprint(s.Counters.Requests),
		fmt.Sprint(s.Counters.Commits),
		fmt.Sprint(s.Counters.Relocations),
		formatBytes(s.Counters.Bytes),
	}
}

// slotRows lists the writer first, then the readers in slot order.
func slotRows(snap *ringbuf.Snapshot) [][]string {
	var rows [][]string
	if snap.Writer != nil {
		rows = append(rows, slotRow(*snap.Writer))
	}
	for _, r := range snap.Readers {
		rows = append(rows, slotRow(r))
	}
	return rows
}

func field(label string, value any) string {
	return labelStyle.Render(label) + fmt.Sprint(value) + "\n"
}

func renderHeader(snap *ringbuf.Snapshot) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(snap.Name) + "\n")
	b.WriteString(field("instance", snap.InstanceID))
	b.WriteString(field("version", snap.Version))
	b.WriteString(field("data size", formatBytes(uint64(snap.DataSize))))
	b.WriteString(field("alignment", fmt.Sprintf("%d bytes for %v frames", snap.AlignBytes, snap.AlignKind)))
	b.WriteString(field("persistent", snap.Persistent))
	b.WriteString(field("video", snap.Video))
	b.WriteString(field("frames", fmt.Sprintf("%d committed, %d in window", snap.FrameCount, len(snap.Frames))))
	b.WriteString(field("writer at", fmt.Sprintf("index %d offset %d", snap.WriterIndex, snap.WriterOff)))
	b.WriteString(field("commit seq", snap.CommitSeq))
	holes := fmt.Sprintf("%d live, %d created, %d expired", len(snap.Holes), snap.HolesCreated, snap.HolesExpired)
	b.WriteString(field("black holes", holes))
	recoveries := fmt.Sprint(snap.LockRecoveries)
	if snap.LockRecoveries > 0 {
		recoveries = warnStyle.Render(recoveries)
	}
	b.WriteString(field("lock recoveries", recoveries))
	return boxStyle.Render(strings.TrimRight(b.String(), "\n"))
}

func renderTable(header []string, rows [][]string) string {
	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i, c := range row {
			widths[i] = max(widths[i], lipgloss.Width(c))
		}
	}
	line := func(cells []string, style lipgloss.Style) string {
		parts := make([]string, len(cells))
		for i, c := range cells {
			parts[i] = style.Width(widths[i]).Render(c)
		}
		return strings.Join(parts, "  ")
	}
	var b strings.Builder
	b.WriteString(line(header, lipgloss.NewStyle().Bold(true)) + "\n")
	for _, row := range rows {
		b.WriteString(line(row, lipgloss.NewStyle()) + "\n")
	}
	return b.String()
}

// renderSnapshot is the inspect output.
func renderSnapshot(snap *ringbuf.Snapshot, withFrames bool) string {
	var b strings.Builder
	b.WriteString(renderHeader(snap) + "\n")

	b.WriteString(sectionStyle.Render("participants") + "\n")
	if rows := slotRows(snap); len(rows) > 0 {
		b.WriteString(renderTable(slotColumns, rows))
	} else {
		b.WriteString("none\n")
	}

	if len(snap.Holes) > 0 {
		b.WriteString(sectionStyle.Render("black holes") + "\n")
		rows := make([][]string, len(snap.Holes))
		for i, h := range snap.Holes {
			rows[i] = []string{h.Owner, fmt.Sprint(h.Start), fmt.Sprint(h.End), fmt.Sprint(h.Created)}
		}
		b.WriteString(renderTable([]string{"owner", "start", "end", "created ms"}, rows))
	}

	if withFrames && len(snap.Frames) > 0 {
		b.WriteString(sectionStyle.Render("frames") + "\n")
		rows := make([][]string, len(snap.Frames))
		for i, f := range snap.Frames {
			rows[i] = []string{fmt.Sprint(f.Index), f.Kind.String(), fmt.Sprint(f.Offset), fmt.Sprint(f.Length), fmt.Sprint(f.Timestamp)}
		}
		b.WriteString(renderTable([]string{"index", "kind", "offset", "length", "timestamp"}, rows))
	}
	return b.String()
}

type readerSource []ringbuf.SlotInfo

func (s readerSource) String(i int) string { return s[i].Name }
func (s readerSource) Len() int            { return len(s) }

// matchReaders returns the readers whose name fuzzy matches pattern, best
// match first. An empty pattern matches every reader in slot order.
func matchReaders(pattern string, readers []ringbuf.SlotInfo) fuzzy.Matches {
	if pattern == "" {
		all := make(fuzzy.Matches, len(readers))
		for i, r := range readers {
			all[i] = fuzzy.Match{Str: r.Name, Index: i}
		}
		return all
	}
	return fuzzy.FindFrom(pattern, readerSource(readers))
}

// highlight marks the matched characters of a fuzzy match.
func highlight(m fuzzy.Match) string {
	if len(m.MatchedIndexes) == 0 {
		return m.Str
	}
	matched := make(map[int]bool, len(m.MatchedIndexes))
	for _, i := range m.MatchedIndexes {
		matched[i] = true
	}
	var b strings.Builder
	for i, r := range m.Str {
		if matched[i] {
			b.WriteString(matchStyle.Render(string(r)))
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}
