//go:build linux

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
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/changqingss/Mbedtls-KCP-sub000/internal/media"
	"github.com/changqingss/Mbedtls-KCP-sub000/internal/ringbuf"
)

func TestProbeCapacity(t *testing.T) {
	rep, err := probeCapacity(t.TempDir(), 65536, nil)
	if err != nil {
		t.Fatalf("probeCapacity failed: %v", err)
	}
	if rep.DataSize != 65536 {
		t.Errorf("DataSize = %d, want 65536", rep.DataSize)
	}
	last := len(rep.Single) - 1
	for i, s := range rep.Single[:last] {
		if s.Err != nil {
			t.Errorf("single write %d of %d bytes failed: %v", i, s.Size, s.Err)
		}
	}
	if !errors.Is(rep.Single[last].Err, ringbuf.ErrInvalidParam) {
		t.Errorf("write of the whole data area = %v, want ErrInvalidParam", rep.Single[last].Err)
	}
	if rep.Blocked == nil {
		t.Fatal("writer never blocked behind the stalled reader")
	}
	if len(rep.Blocked.Blockers) != 1 || rep.Blocked.Blockers[0].Name != probeReader {
		t.Errorf("blockers = %v, want [%s]", rep.Blocked.Blockers, probeReader)
	}
	if rep.FilledFrames == 0 || rep.FilledBytes >= rep.DataSize {
		t.Errorf("filled %d frames, %d bytes; want some but less than %d", rep.FilledFrames, rep.FilledBytes, rep.DataSize)
	}
}

func writeMediaStore(t *testing.T, dir string) string {
	t.Helper()
	store := media.StoreName("cam", 0, media.MediaVideo)
	w, err := media.OpenWriter(ringbuf.Config{Participant: "encoder", Store: store, Capacity: 1 << 20, Dir: dir, Persistent: true})
	if err != nil {
		t.Fatalf("OpenWriter failed: %v", err)
	}
	t.Cleanup(func() { w.Close() })
	s := &syntheticStream{gop: 2, keySize: 400, start: time.Now()}
	for i := 0; i < 3; i++ {
		h, payload := s.frame(time.Now())
		if err := w.WriteVideo(h, payload); err != nil {
			t.Fatalf("WriteVideo failed: %v", err)
		}
	}
	return store
}

func decodeRecords(t *testing.T, r io.Reader) []dumpRecord {
	t.Helper()
	dec := msgpack.NewDecoder(r)
	var recs []dumpRecord
	for {
		var rec dumpRecord
		err := dec.Decode(&rec)
		if errors.Is(err, io.EOF) {
			return recs
		}
		if err != nil {
			t.Fatalf("Decode failed: %v", err)
		}
		recs = append(recs, rec)
	}
}

func TestDumpFrames(t *testing.T) {
	dir := t.TempDir()
	store := writeMediaStore(t, dir)
	h, err := ringbuf.Open(ringbuf.Config{Participant: "dump", Store: store, Capacity: 1 << 20, Capability: ringbuf.Dumper, Dir: dir})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer h.Close()

	var buf bytes.Buffer
	n, err := dumpFrames(context.Background(), h, msgpack.NewEncoder(&buf), dumpOptions{kind: ringbuf.FrameAny})
	if err != nil {
		t.Fatalf("dumpFrames failed: %v", err)
	}
	if n != 3 {
		t.Fatalf("dumpFrames wrote %d records, want 3", n)
	}
	recs := decodeRecords(t, &buf)
	wantKinds := []string{"key", "nonkey", "key"}
	wantSizes := []int{400, 100, 400}
	for i, rec := range recs {
		if rec.Kind != wantKinds[i] || len(rec.Data) != wantSizes[i] {
			t.Errorf("record %d: kind %s, %d bytes; want %s, %d bytes", i, rec.Kind, len(rec.Data), wantKinds[i], wantSizes[i])
		}
		if rec.Media == nil || rec.Media.FrameIndex != uint64(i) || rec.Media.Type != "video" {
			t.Errorf("record %d: media %+v, want video frame %d", i, rec.Media, i)
		}
	}
}

func TestDumpFramesLimitAndRawFrames(t *testing.T) {
	dir := t.TempDir()
	w, err := ringbuf.Open(ringbuf.Config{Participant: "w", Store: "raw", Capacity: 1 << 16, Capability: ringbuf.Writer, Dir: dir})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer w.Close()
	for i := 0; i < 4; i++ {
		if err := w.WriteLog([]byte("log line")); err != nil {
			t.Fatalf("WriteLog failed: %v", err)
		}
	}
	h, err := ringbuf.Open(ringbuf.Config{Participant: "dump", Store: "raw", Capacity: 1 << 16, Capability: ringbuf.Dumper, Dir: dir})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer h.Close()

	var buf bytes.Buffer
	n, err := dumpFrames(context.Background(), h, msgpack.NewEncoder(&buf), dumpOptions{kind: ringbuf.FrameAny, limit: 2})
	if err != nil || n != 2 {
		t.Fatalf("dumpFrames = %d, %v; want 2, nil", n, err)
	}
	for i, rec := range decodeRecords(t, &buf) {
		if rec.Media != nil || string(rec.Data) != "log line" || rec.Kind != "log" {
			t.Errorf("record %d = %+v, want raw log frame", i, rec)
		}
	}
}

func TestDumpFramesFollowStopsOnCancel(t *testing.T) {
	dir := t.TempDir()
	store := writeMediaStore(t, dir)
	h, err := ringbuf.Open(ringbuf.Config{Participant: "dump", Store: store, Capacity: 1 << 20, Capability: ringbuf.Dumper, Dir: dir})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer h.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	n, err := dumpFrames(ctx, h, msgpack.NewEncoder(io.Discard), dumpOptions{kind: ringbuf.FrameAny, follow: true})
	if err != nil || n != 3 {
		t.Errorf("dumpFrames(follow) = %d, %v; want 3, nil", n, err)
	}
}

func TestWatchModel(t *testing.T) {
	dir := t.TempDir()
	store := writeMediaStore(t, dir)
	in, err := ringbuf.Inspect(store, dir, nil)
	if err != nil {
		t.Fatalf("Inspect failed: %v", err)
	}
	defer in.Close()

	m := newWatchModel(in, time.Second)
	if got := len(m.table.Rows()); got != 1 {
		t.Errorf("table has %d rows, want 1 (the writer)", got)
	}
	r, err := ringbuf.Open(ringbuf.Config{Participant: "viewer", Store: store, Capacity: 1 << 20, Capability: ringbuf.Reader, Dir: dir})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer r.Close()

	next, cmd := m.Update(tickMsg(time.Now()))
	if cmd == nil {
		t.Error("tick did not schedule the next refresh")
	}
	m = next.(watchModel)
	if got := len(m.table.Rows()); got != 2 {
		t.Errorf("table has %d rows after refresh, want 2", got)
	}
	if view := m.View(); !strings.Contains(view, store) || !strings.Contains(view, "viewer") {
		t.Errorf("View lacks store or reader name:\n%s", view)
	}

	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil {
		t.Fatal("q returned no command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q did not quit")
	}
}
