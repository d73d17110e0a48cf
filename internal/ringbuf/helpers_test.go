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

package ringbuf

import (
	"bytes"
	"errors"
	"testing"
)

// testStore is a store in a per-test directory that participants attach to.
type testStore struct {
	t        *testing.T
	dir      string
	name     string
	capacity int
}

// createTestStore returns a store location unique to the test. Handles
// opened through it are closed by t.Cleanup().
func createTestStore(t *testing.T, capacity int) *testStore {
	t.Helper()
	return &testStore{t: t, dir: t.TempDir(), name: "test", capacity: capacity}
}

func (ts *testStore) config(participant string, c Capability) Config {
	return Config{
		Participant: participant,
		Store:       ts.name,
		Capacity:    ts.capacity,
		Capability:  c,
		Dir:         ts.dir,
	}
}

func (ts *testStore) open(participant string, c Capability) *Handle {
	ts.t.Helper()
	return ts.openConfig(ts.config(participant, c))
}

func (ts *testStore) openConfig(cfg Config) *Handle {
	ts.t.Helper()
	h, err := Open(cfg)
	if err != nil {
		ts.t.Fatalf("Open(%s, %v) failed: %v", cfg.Participant, cfg.Capability, err)
	}
	ts.t.Cleanup(func() { h.Close() })
	return h
}

// pattern returns n bytes derived from seed.
func pattern(seed, n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(seed*7 + i)
	}
	return b
}

func mustWrite(t *testing.T, w *Handle, p []byte, kind FrameKind, ts int64) {
	t.Helper()
	if err := w.WriteFrame(p, kind, ts); err != nil {
		t.Fatalf("WriteFrame(%d bytes, %v) failed: %v", len(p), kind, err)
	}
}

func mustRead(t *testing.T, r *Handle, kind FrameKind, want []byte) Frame {
	t.Helper()
	f, err := r.AcquireNextFrame(kind)
	if err != nil {
		t.Fatalf("AcquireNextFrame(%v) failed: %v", kind, err)
	}
	if !bytes.Equal(f.Data, want) {
		t.Fatalf("frame %d data mismatch: got %d bytes, want %d", f.Index, len(f.Data), len(want))
	}
	if err := r.CommitRead(); err != nil {
		t.Fatalf("CommitRead failed: %v", err)
	}
	return f
}

func readerInfo(t *testing.T, h *Handle, name string) SlotInfo {
	t.Helper()
	snap, err := h.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	for _, r := range snap.Readers {
		if r.Name == name {
			return r
		}
	}
	t.Fatalf("reader %q not in snapshot", name)
	return SlotInfo{}
}

func asBlocked(t *testing.T, err error) *BlockedError {
	t.Helper()
	var be *BlockedError
	if !errors.As(err, &be) {
		t.Fatalf("expected *BlockedError, got %v", err)
	}
	return be
}
