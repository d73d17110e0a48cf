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
	"fmt"
	"sync/atomic"
)

// FrameInfo describes a frame index entry.
type FrameInfo struct {
	Index     uint32
	Offset    uint32
	Length    uint32
	Kind      FrameKind
	Timestamp int64
}

// Frame is a held frame. Data aliases the shared data area and is valid
// until CommitRead or a reposition; it is writable only for Decrypter
// handles.
type Frame struct {
	FrameInfo
	Data []byte
}

// SpanFrame locates one frame inside a Span.
type SpanFrame struct {
	Offset    uint32 // relative to Span.Data
	Length    uint32
	Kind      FrameKind
	Timestamp int64
}

// Span is a held run of contiguous frames.
type Span struct {
	Data   []byte
	Frames []SpanFrame
}

// beginRequestLocked does the bookkeeping shared by every read request. A
// new request gives up whatever the previous one held.
func (h *Handle) beginRequestLocked() {
	r := h.slot
	h.deleteHolesOwnedLocked(h.cfg.Participant)
	r.requests++
	if h.lastReadBytes > 0 {
		r.requestsWithoutCommit++
	}
	r.requestTime = nowMillis()
	h.seenSeq = atomic.LoadUint32(&h.hdr.commitSeq)
}

// wantKindLocked narrows kind to key frames while the reader must
// resynchronize on a video store.
func (h *Handle) wantKindLocked(kind FrameKind) FrameKind {
	if h.slot.waitKey() && h.hdr.video() {
		return FrameKey
	}
	return kind
}

// AcquireNextFrame holds the next frame of the given kind at or after the
// cursor. Frames skipped on the way are dropped. ErrNoIndex means there is
// nothing new yet.
func (h *Handle) AcquireNextFrame(kind FrameKind) (Frame, error) {
	if err := h.checkReader(); err != nil {
		return Frame{}, err
	}
	if kind > FrameAny {
		return Frame{}, fmt.Errorf("frame kind %v: %w", kind, ErrInvalidParam)
	}
	g := h.lock()
	defer g.unlock()

	h.beginRequestLocked()
	r := h.slot
	idx, ok := h.findNextLocked(r.index, h.wantKindLocked(kind))
	if !ok {
		return Frame{}, ErrNoIndex
	}
	e := h.hdr.frames[idx]
	if h.bufferLen(e.offset, h.hdr.writer.offset) < e.length {
		return Frame{}, fmt.Errorf("frame %d not fully readable: %w", idx, ErrNoIndex)
	}

	r.moveTo(idx, e.offset, false)
	r.state = uint32(StateHolding)
	r.setFlag(slotMoved, false)
	h.lastReadBytes = e.length
	return Frame{FrameInfo: frameInfo(idx, &e), Data: h.view(e.offset, e.length)}, nil
}

// PeekNextFrame moves the cursor to the next frame of the given kind and
// describes it without holding it.
func (h *Handle) PeekNextFrame(kind FrameKind) (FrameInfo, error) {
	if err := h.checkReader(); err != nil {
		return FrameInfo{}, err
	}
	if kind > FrameAny {
		return FrameInfo{}, fmt.Errorf("frame kind %v: %w", kind, ErrInvalidParam)
	}
	g := h.lock()
	defer g.unlock()

	r := h.slot
	h.seenSeq = atomic.LoadUint32(&h.hdr.commitSeq)
	idx, ok := h.findNextLocked(r.index, h.wantKindLocked(kind))
	if !ok {
		return FrameInfo{}, ErrNoIndex
	}
	e := h.hdr.frames[idx]
	if r.slotState() == StateFree {
		r.moveTo(idx, e.offset, false)
	}
	return frameInfo(idx, &e), nil
}

// AcquireContinuous holds up to maxFrames frames that sit back to back in
// the data area, starting at the cursor. The run ends before the next frame
// that was preceded by padding or a black-hole jump. A run that is still
// growing is only returned once it reaches maxFrames.
func (h *Handle) AcquireContinuous(maxFrames int) (Span, error) {
	if err := h.checkReader(); err != nil {
		return Span{}, err
	}
	if maxFrames <= 0 || maxFrames >= MaxFrames {
		return Span{}, fmt.Errorf("max frames %d: %w", maxFrames, ErrInvalidParam)
	}
	g := h.lock()
	defer g.unlock()

	h.beginRequestLocked()
	r := h.slot
	first, ok := h.findNextLocked(r.index, h.wantKindLocked(FrameAny))
	if !ok {
		return Span{}, ErrNoIndex
	}
	var count uint32
	if next, ok := h.findRunStartLocked(advanceIndex(first, 1)); ok {
		count = indexDistance(first, next)
	} else {
		count = indexDistance(first, h.hdr.writer.index)
		if count < uint32(maxFrames) {
			return Span{}, ErrNoIndex
		}
	}
	count = min(count, uint32(maxFrames))
	last := advanceIndex(first, count-1)

	start := h.hdr.frames[first].offset
	end := &h.hdr.frames[last]
	total := h.bufferLen(start, end.offset) + end.length
	if h.bufferLen(start, h.hdr.writer.offset) < total {
		return Span{}, fmt.Errorf("run at %d not fully readable: %w", first, ErrNoIndex)
	}

	span := Span{Data: h.view(start, total), Frames: make([]SpanFrame, 0, count)}
	for i, idx := uint32(0), first; i < count; i, idx = i+1, advanceIndex(idx, 1) {
		e := &h.hdr.frames[idx]
		span.Frames = append(span.Frames, SpanFrame{
			Offset:    h.bufferLen(start, e.offset),
			Length:    e.length,
			Kind:      FrameKind(e.kind),
			Timestamp: e.timestamp,
		})
	}

	r.moveTo(first, start, false)
	r.refEnd = last
	r.state = uint32(StateHolding)
	r.setFlag(slotMoved, false)
	h.lastReadBytes = total
	return span, nil
}

// CommitRead releases the held frame or run. Unless the writer relocated
// the reader in the meantime, the cursor moves past it.
func (h *Handle) CommitRead() error {
	if err := h.checkReader(); err != nil {
		return err
	}
	g := h.lock()
	defer g.unlock()

	r := h.slot
	r.commits++
	if h.lastReadBytes == 0 {
		r.commitsWithoutRequest++
		return fmt.Errorf("commit without request: %w", ErrPermission)
	}
	r.bytes += uint64(h.lastReadBytes)
	h.deleteHolesOwnedLocked(h.cfg.Participant)
	if !r.moved() {
		r.moveTo(advanceIndex(r.refEnd, 1), h.advanceOffset(r.offset, h.lastReadBytes), false)
	}
	h.releaseHoldLocked()
	return nil
}

func (h *Handle) releaseHoldLocked() {
	h.slot.state = uint32(StateFree)
	h.slot.setFlag(slotMoved, false)
	h.lastReadBytes = 0
}

// DiscardAll drops everything unread and waits for the next key frame.
func (h *Handle) DiscardAll() error {
	if err := h.checkReader(); err != nil {
		return err
	}
	g := h.lock()
	defer g.unlock()

	w := &h.hdr.writer
	h.deleteHolesOwnedLocked(h.cfg.Participant)
	h.slot.moveTo(w.index, w.offset, true)
	h.slot.discards++
	h.releaseHoldLocked()
	return nil
}

// SeekToOldest moves the cursor to the oldest frame still in the store.
func (h *Handle) SeekToOldest() error {
	if err := h.checkReader(); err != nil {
		return err
	}
	g := h.lock()
	defer g.unlock()

	oldest := h.oldestValidLocked()
	h.seekLocked(oldest, true)
	return nil
}

// SeekToNewestKeyFrame moves the cursor to the newest key frame.
func (h *Handle) SeekToNewestKeyFrame() error {
	if err := h.checkReader(); err != nil {
		return err
	}
	g := h.lock()
	defer g.unlock()

	k, ok := h.latestKeyLocked()
	if !ok {
		return ErrNoIndex
	}
	h.seekLocked(k, false)
	return nil
}

// SeekToTimestamp moves the cursor to the newest key frame stamped at or
// before t, or to the oldest frame if none is, and returns the timestamp of
// the chosen frame.
func (h *Handle) SeekToTimestamp(t int64) (int64, error) {
	if err := h.checkReader(); err != nil {
		return 0, err
	}
	g := h.lock()
	defer g.unlock()

	idx, ok := h.timestampLocked(t)
	if !ok {
		return 0, ErrNoIndex
	}
	h.seekLocked(idx, true)
	return h.hdr.frames[idx].timestamp, nil
}

func (h *Handle) seekLocked(idx uint32, waitKey bool) {
	h.deleteHolesOwnedLocked(h.cfg.Participant)
	h.slot.moveTo(idx, h.entryOffset(idx), waitKey)
	h.slot.seeks++
	h.releaseHoldLocked()
}

// ReadableSize is the number of committed bytes between the cursor and the
// writer.
func (h *Handle) ReadableSize() (int, error) {
	if err := h.checkReader(); err != nil {
		return 0, err
	}
	g := h.lock()
	defer g.unlock()
	return int(h.bufferLen(h.slot.offset, h.hdr.writer.offset)), nil
}

func frameInfo(idx uint32, e *frameEntry) FrameInfo {
	return FrameInfo{
		Index:     idx,
		Offset:    e.offset,
		Length:    e.length,
		Kind:      FrameKind(e.kind),
		Timestamp: e.timestamp,
	}
}
