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

func TestAcquireWriteSpaceInvalidParams(t *testing.T) {
	ts := createTestStore(t, 4096)
	w := ts.open("writer", Writer)

	tests := []struct {
		name string
		size int
		kind FrameKind
	}{
		{"zero size", 0, FrameKey},
		{"negative size", -1, FrameKey},
		{"whole buffer", w.BufferSize(), FrameKey},
		{"any kind", 10, FrameAny},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := w.AcquireWriteSpace(tt.size, tt.kind, WriteHard); !errors.Is(err, ErrInvalidParam) {
				t.Errorf("AcquireWriteSpace(%d, %v) = %v, want ErrInvalidParam", tt.size, tt.kind, err)
			}
		})
	}
}

// Scenario: one writer, one reader, a single key frame.
func TestSingleFrameRoundTrip(t *testing.T) {
	ts := createTestStore(t, 64<<10)
	w := ts.open("writer", Writer)
	r := ts.open("reader", Reader)

	buf, err := w.AcquireWriteSpace(100, FrameKey, WriteHard)
	if err != nil {
		t.Fatalf("AcquireWriteSpace failed: %v", err)
	}
	if len(buf) != 100 {
		t.Fatalf("reserved %d bytes, want 100", len(buf))
	}
	copy(buf, pattern(9, 100))
	n, err := w.CommitWrite(CommitAll, 1000)
	if err != nil || n != 100 {
		t.Fatalf("CommitWrite = %d, %v; want 100, nil", n, err)
	}

	f, err := r.AcquireNextFrame(FrameAny)
	if err != nil {
		t.Fatalf("AcquireNextFrame failed: %v", err)
	}
	if f.Length != 100 || f.Kind != FrameKey || f.Timestamp != 1000 {
		t.Errorf("frame = %+v, want length 100, key, timestamp 1000", f.FrameInfo)
	}
	if !bytes.Equal(f.Data, pattern(9, 100)) {
		t.Error("frame data mismatch")
	}
	if err := r.CommitRead(); err != nil {
		t.Fatalf("CommitRead failed: %v", err)
	}
	if n, err := r.ReadableSize(); err != nil || n != 0 {
		t.Errorf("ReadableSize = %d, %v; want 0, nil", n, err)
	}
	if _, err := r.AcquireNextFrame(FrameAny); !errors.Is(err, ErrNoIndex) {
		t.Errorf("AcquireNextFrame on a drained store = %v, want ErrNoIndex", err)
	}
}

func TestPartialAndDiscardedCommit(t *testing.T) {
	ts := createTestStore(t, 64<<10)
	w := ts.open("writer", Writer)
	r := ts.open("reader", Reader)

	buf, err := w.AcquireWriteSpace(100, FrameKey, WriteHard)
	if err != nil {
		t.Fatalf("AcquireWriteSpace failed: %v", err)
	}
	copy(buf, pattern(3, 100))
	if _, err := w.CommitWrite(101, 0); !errors.Is(err, ErrInvalidParam) {
		t.Errorf("over-long commit = %v, want ErrInvalidParam", err)
	}
	if n, err := w.CommitWrite(40, 7); err != nil || n != 40 {
		t.Fatalf("partial CommitWrite = %d, %v; want 40, nil", n, err)
	}

	if _, err := w.AcquireWriteSpace(50, FrameNonKey, WriteHard); err != nil {
		t.Fatalf("AcquireWriteSpace failed: %v", err)
	}
	if n, err := w.CommitWrite(0, 0); err != nil || n != 0 {
		t.Fatalf("discarding CommitWrite = %d, %v; want 0, nil", n, err)
	}

	mustRead(t, r, FrameAny, pattern(3, 40))
	if _, err := r.AcquireNextFrame(FrameAny); !errors.Is(err, ErrNoIndex) {
		t.Errorf("discarded reservation became a frame: %v", err)
	}

	snap, _ := w.Snapshot()
	if snap.Writer.Counters.Discards != 1 || snap.Writer.Counters.Commits != 2 {
		t.Errorf("writer counters = %+v, want 1 discard and 2 commits", snap.Writer.Counters)
	}
}

func TestKeyFramesAreAligned(t *testing.T) {
	ts := createTestStore(t, 64<<10)
	w := ts.open("writer", Writer)

	mustWrite(t, w, pattern(1, 100), FrameNonKey, 0)
	mustWrite(t, w, pattern(2, 100), FrameKey, 0)
	mustWrite(t, w, pattern(3, 100), FrameNonKey, 0)

	snap, _ := w.Snapshot()
	if len(snap.Frames) != 3 {
		t.Fatalf("frames = %d, want 3", len(snap.Frames))
	}
	if off := snap.Frames[1].Offset; off != DefaultAlignment {
		t.Errorf("key frame offset = %d, want %d", off, DefaultAlignment)
	}
	if off := snap.Frames[2].Offset; off != DefaultAlignment+100 {
		t.Errorf("non-key frame offset = %d, want %d", off, DefaultAlignment+100)
	}
	if snap.ContiBytes != 100 {
		t.Errorf("contiBytes = %d, want 100 after the padded key frame", snap.ContiBytes)
	}
	if w.hdr.frames[1].continuous != 0 || w.hdr.frames[2].continuous != 1 {
		t.Errorf("continuity = %d, %d; want 0, 1", w.hdr.frames[1].continuous, w.hdr.frames[2].continuous)
	}
}

// Scenario: a reader holds a frame and never commits it.
func TestHoldingReaderBlocksWriter(t *testing.T) {
	ts := createTestStore(t, 64<<10)
	w := ts.open("writer", Writer)
	r := ts.open("reader", Reader)
	size := w.BufferSize()

	mustWrite(t, w, pattern(0, 1000), FrameKey, 0)
	held, err := r.AcquireNextFrame(FrameAny)
	if err != nil {
		t.Fatalf("AcquireNextFrame failed: %v", err)
	}

	written := 1000
	var blockErr error
	for i := 1; i < 200; i++ {
		buf, err := w.AcquireWriteSpace(1000, FrameKey, WriteHard)
		if err != nil {
			blockErr = err
			break
		}
		copy(buf, pattern(i, 1000))
		if _, err := w.CommitWrite(CommitAll, int64(i)); err != nil {
			t.Fatalf("CommitWrite failed: %v", err)
		}
		written += 1000
	}
	if blockErr == nil {
		t.Fatal("writer was never blocked by the holding reader")
	}
	if written < size/2 {
		t.Errorf("blocked after %d bytes of a %d byte store", written, size)
	}
	be := asBlocked(t, blockErr)
	if !errors.Is(blockErr, ErrNoSpace) {
		t.Errorf("blocked error = %v, want ErrNoSpace", blockErr)
	}
	if len(be.Blockers) != 1 || be.Blockers[0].Name != "reader" {
		t.Fatalf("blockers = %v, want [reader]", be.Blockers)
	}

	if err := w.RelocateBlockers(be.Blockers); err != nil {
		t.Fatalf("RelocateBlockers failed: %v", err)
	}
	snap, _ := w.Snapshot()
	if len(snap.Holes) != 1 || snap.Holes[0].Owner != "reader" {
		t.Fatalf("holes = %+v, want one owned by reader", snap.Holes)
	}
	info := readerInfo(t, w, "reader")
	if info.State != StateBlocked || !info.Moved {
		t.Errorf("reader state = %v moved=%v, want blocked and moved", info.State, info.Moved)
	}
	if info.Counters.Relocations != 1 {
		t.Errorf("relocations = %d, want 1", info.Counters.Relocations)
	}

	// The writer can continue, and hops over the held frame.
	mustWrite(t, w, pattern(500, 1000), FrameKey, 500)
	if !bytes.Equal(held.Data, pattern(0, 1000)) {
		t.Fatal("held frame was overwritten")
	}

	// Committing after a relocation keeps the new position.
	if err := r.CommitRead(); err != nil {
		t.Fatalf("CommitRead failed: %v", err)
	}
	if snap, _ := w.Snapshot(); len(snap.Holes) != 0 {
		t.Errorf("holes after commit = %+v, want none", snap.Holes)
	}
	f, err := r.AcquireNextFrame(FrameAny)
	if err != nil {
		t.Fatalf("AcquireNextFrame after relocation failed: %v", err)
	}
	if f.Index != info.Index {
		t.Errorf("read index %d after relocation, want %d", f.Index, info.Index)
	}
}

func TestRelocateModeMovesBlockers(t *testing.T) {
	ts := createTestStore(t, 64<<10)
	w := ts.open("writer", Writer)
	r := ts.open("reader", Reader)
	size := w.BufferSize()

	mustWrite(t, w, pattern(0, 1000), FrameKey, 0)
	held, err := r.AcquireNextFrame(FrameAny)
	if err != nil {
		t.Fatalf("AcquireNextFrame failed: %v", err)
	}

	// Write more than a full lap of the data area.
	for i := 1; i*1000 < size+10000; i++ {
		buf, err := w.AcquireWriteSpace(1000, FrameKey, WriteRelocate)
		if err != nil {
			t.Fatalf("frame %d: AcquireWriteSpace failed: %v", i, err)
		}
		copy(buf, pattern(i, 1000))
		if _, err := w.CommitWrite(CommitAll, int64(i)); err != nil {
			t.Fatalf("CommitWrite failed: %v", err)
		}
	}

	info := readerInfo(t, w, "reader")
	if info.Counters.Relocations == 0 || info.State != StateBlocked {
		t.Errorf("reader = %+v, want relocated and blocked", info)
	}
	if !bytes.Equal(held.Data, pattern(0, 1000)) {
		t.Fatal("held frame was overwritten")
	}
}

func TestIndexRingBlocksWriter(t *testing.T) {
	ts := createTestStore(t, 64<<10)
	w := ts.open("writer", Writer)
	ts.open("reader", Reader)

	for i := 0; i < MaxFrames-1; i++ {
		mustWrite(t, w, pattern(i, 8), FrameNonKey, int64(i))
	}
	_, err := w.AcquireWriteSpace(8, FrameNonKey, WriteHard)
	be := asBlocked(t, err)
	if !errors.Is(err, ErrNoIndex) {
		t.Errorf("error = %v, want ErrNoIndex", err)
	}
	if len(be.Blockers) != 1 || be.Blockers[0].Name != "reader" {
		t.Errorf("blockers = %v, want [reader]", be.Blockers)
	}

	if _, err := w.AcquireWriteSpace(8, FrameNonKey, WriteRelocate); err != nil {
		t.Fatalf("relocating AcquireWriteSpace failed: %v", err)
	}
	if _, err := w.CommitWrite(CommitAll, 0); err != nil {
		t.Fatalf("CommitWrite failed: %v", err)
	}
	info := readerInfo(t, w, "reader")
	if !info.WaitKey {
		t.Error("reader relocated without a key frame should wait for one")
	}
}

func TestResetReaders(t *testing.T) {
	ts := createTestStore(t, 64<<10)
	w := ts.open("writer", Writer)
	r := ts.open("reader", Reader)
	for i := 0; i < 3; i++ {
		mustWrite(t, w, pattern(i, 200), FrameKey, int64(i))
	}
	if _, err := r.AcquireNextFrame(FrameAny); err != nil {
		t.Fatalf("AcquireNextFrame failed: %v", err)
	}

	if err := w.ResetReaders(); err != nil {
		t.Fatalf("ResetReaders failed: %v", err)
	}
	snap, _ := w.Snapshot()
	if snap.FrameCount != 0 || snap.DataWritten || snap.WriterIndex != 0 || snap.WriterOff != 0 {
		t.Errorf("writer after reset = count %d written %v at %d/%d", snap.FrameCount, snap.DataWritten, snap.WriterIndex, snap.WriterOff)
	}
	if len(snap.Holes) != 1 || snap.Holes[0].Owner != "reader" {
		t.Errorf("holes = %+v, want one owned by the holding reader", snap.Holes)
	}
	info := readerInfo(t, w, "reader")
	if info.Index != 0 || !info.WaitKey || info.State != StateBlocked || !info.Moved {
		t.Errorf("reader after reset = %+v", info)
	}
	if _, err := r.AcquireNextFrame(FrameAny); !errors.Is(err, ErrNoIndex) {
		t.Errorf("AcquireNextFrame after reset = %v, want ErrNoIndex", err)
	}

	mustWrite(t, w, pattern(7, 10), FrameKey, 7)
	mustRead(t, r, FrameAny, pattern(7, 10))
}

func TestWritableSize(t *testing.T) {
	ts := createTestStore(t, 64<<10)
	w := ts.open("writer", Writer)
	r := ts.open("reader", Reader)
	size := w.BufferSize()

	if n, _ := w.WritableSize(); n != size-1 {
		t.Errorf("WritableSize on an empty store = %d, want %d", n, size-1)
	}
	mustWrite(t, w, pattern(1, 1000), FrameKey, 0)
	if n, _ := w.WritableSize(); n != size-1000-1 {
		t.Errorf("WritableSize = %d, want %d", n, size-1000-1)
	}
	if n, _ := r.ReadableSize(); n != 1000 {
		t.Errorf("ReadableSize = %d, want 1000", n)
	}
}

func TestWriteLogEndsVideoMode(t *testing.T) {
	ts := createTestStore(t, 64<<10)
	w := ts.open("writer", Writer)
	r := ts.open("reader", Reader)

	// On a video store a fresh reader skips everything up to a key frame.
	mustWrite(t, w, pattern(1, 10), FrameNonKey, 0)
	if _, err := r.AcquireNextFrame(FrameAny); !errors.Is(err, ErrNoIndex) {
		t.Fatalf("non-key frame delivered before any key frame: %v", err)
	}

	if err := w.WriteLog([]byte("log line")); err != nil {
		t.Fatalf("WriteLog failed: %v", err)
	}
	if snap, _ := w.Snapshot(); snap.Video {
		t.Fatal("store still in video mode after a log frame")
	}
	f := mustRead(t, r, FrameAny, pattern(1, 10))
	if f.Kind != FrameNonKey {
		t.Errorf("kind = %v, want non-key", f.Kind)
	}
	f = mustRead(t, r, FrameAny, []byte("log line"))
	if f.Kind != FrameLog {
		t.Errorf("kind = %v, want log", f.Kind)
	}
}
