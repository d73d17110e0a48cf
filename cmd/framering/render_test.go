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
	"strings"
	"testing"

	"github.com/changqingss/Mbedtls-KCP-sub000/internal/ringbuf"
)

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		n    uint64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{4 << 20, "4.0 MiB"},
		{3 << 30, "3.0 GiB"},
	}
	for _, tt := range tests {
		if got := formatBytes(tt.n); got != tt.want {
			t.Errorf("formatBytes(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}

func testSnapshot() *ringbuf.Snapshot {
	return &ringbuf.Snapshot{
		Name:     "cam_0_0",
		DataSize: 1 << 20,
		Video:    true,
		Writer:   &ringbuf.SlotInfo{Slot: -1, Name: "encoder", Capability: ringbuf.Writer},
		Readers: []ringbuf.SlotInfo{
			{Slot: 0, Name: "viewer", Capability: ringbuf.Reader, WaitKey: true},
			{Slot: 3, Name: "recorder", Capability: ringbuf.Dumper, Moved: true},
		},
		Holes:  []ringbuf.HoleInfo{{Owner: "recorder", Start: 512, End: 4096}},
		Frames: []ringbuf.FrameInfo{{Index: 7, Kind: ringbuf.FrameKey, Length: 900}},
	}
}

func TestSlotRows(t *testing.T) {
	rows := slotRows(testSnapshot())
	if len(rows) != 3 {
		t.Fatalf("slotRows returned %d rows, want 3", len(rows))
	}
	for i, want := range [][2]string{{"W", "encoder"}, {"0", "viewer"}, {"3", "recorder"}} {
		if rows[i][0] != want[0] || rows[i][1] != want[1] {
			t.Errorf("row %d = %v, want slot %s name %s", i, rows[i][:2], want[0], want[1])
		}
		if len(rows[i]) != len(slotColumns) {
			t.Errorf("row %d has %d cells, want %d", i, len(rows[i]), len(slotColumns))
		}
	}
	if got := rows[1][4]; got != "free+key" {
		t.Errorf("viewer state = %q, want %q", got, "free+key")
	}
	if got := rows[2][4]; got != "free+moved" {
		t.Errorf("recorder state = %q, want %q", got, "free+moved")
	}
}

func TestRenderSnapshot(t *testing.T) {
	out := renderSnapshot(testSnapshot(), true)
	for _, want := range []string{"cam_0_0", "encoder", "viewer", "recorder", "black holes", "frames", "1.0 MiB"} {
		if !strings.Contains(out, want) {
			t.Errorf("renderSnapshot output lacks %q:\n%s", want, out)
		}
	}
	if strings.Contains(renderSnapshot(testSnapshot(), false), "timestamp") {
		t.Error("renderSnapshot(withFrames=false) listed frames")
	}
}

func TestMatchReaders(t *testing.T) {
	readers := testSnapshot().Readers
	if got := matchReaders("", readers); len(got) != 2 {
		t.Errorf("matchReaders(\"\") returned %d matches, want 2", len(got))
	}
	got := matchReaders("rcd", readers)
	if len(got) != 1 || readers[got[0].Index].Name != "recorder" {
		t.Fatalf("matchReaders(rcd) = %v, want recorder", got)
	}
	if h := highlight(got[0]); !strings.Contains(h, "e") {
		t.Errorf("highlight dropped characters: %q", h)
	}
	if got := matchReaders("zzz", readers); len(got) != 0 {
		t.Errorf("matchReaders(zzz) = %v, want none", got)
	}
}
