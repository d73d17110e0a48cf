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
	"math"
	"sync/atomic"
)

// CommitAll commits the whole outstanding reservation.
const CommitAll = -1

// AcquireWriteSpace reserves size bytes for a frame of the given kind and
// returns the region to fill. The region stays reserved until CommitWrite.
//
// Frames of the store's alignment kind are aligned to its alignment unit, as
// is every frame once a fifth of the data area has been written without
// padding. Black holes are hopped over. When readers leave too little room,
// WriteHard returns a *BlockedError naming them, while WriteRelocate moves
// them forward and retries.
func (h *Handle) AcquireWriteSpace(size int, kind FrameKind, mode WriteMode) ([]byte, error) {
	if err := h.checkWriter(); err != nil {
		return nil, err
	}
	if size <= 0 || uint64(size) >= uint64(h.size) {
		return nil, fmt.Errorf("reservation of %d bytes in a %d byte store: %w", size, h.size, ErrInvalidParam)
	}
	if kind >= FrameAny {
		return nil, fmt.Errorf("frame kind %v: %w", kind, ErrInvalidParam)
	}

	g := h.lock()
	w := h.slot
	w.requests++
	if h.lastWriteBytes > 0 {
		w.requestsWithoutCommit++
	}
	if kind == FrameLog || kind == FrameDiscovery {
		h.hdr.setFlag(headerVideo, false)
	}
	w.requestTime = nowMillis()
	g.unlock()

	for attempt := 0; attempt < MaxRetries; attempt++ {
		buf, err := h.tryReserve(uint32(size), kind, mode)
		if err == nil {
			return buf, nil
		}
		if mode == WriteHard || !isBlocked(err) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("gave up after %d relocations: %w", MaxRetries, ErrNoSpace)
}

// tryReserve is one locked reservation attempt. In WriteRelocate mode the
// blockers it finds are relocated before it returns their error.
func (h *Handle) tryReserve(size uint32, kind FrameKind, mode WriteMode) ([]byte, error) {
	g := h.lock()
	defer g.unlock()

	h.expireHolesLocked()
	if blockers := h.indexBlockersLocked(); len(blockers) > 0 {
		if mode == WriteHard {
			h.slot.blockings++
			return nil, &BlockedError{Reason: ErrNoIndex, Blockers: blockers}
		}
		h.relocateLocked(blockers)
	}

	var align uint32
	if uint32(kind) == h.hdr.alignKind || h.hdr.contiBytes >= uint64(h.size)/forceAlignDivisor {
		align = h.hdr.alignBytes
	}
	buf, blockers, err := h.reserveLocked(size, align)
	if err == nil {
		h.lastKind = kind
		return buf, nil
	}
	h.slot.blockings++
	if len(blockers) == 0 {
		return nil, err
	}
	if mode == WriteRelocate {
		h.relocateLocked(blockers)
	}
	return nil, &BlockedError{Reason: ErrNoSpace, Blockers: blockers}
}

func isBlocked(err error) bool {
	_, ok := err.(*BlockedError)
	return ok
}

// reserveLocked finds room for size bytes plus up to align bytes of padding
// and publishes the reserved extent in the writer slot.
func (h *Handle) reserveLocked(size, align uint32) ([]byte, []Blocker, error) {
	w := h.slot
	writeOff := w.offset

	var ws [MaxReaders]uint32
	minWritable := h.size
	var blockers []Blocker
	for i := range h.hdr.readers {
		r := &h.hdr.readers[i]
		if !r.inUse() {
			continue
		}
		ws[i] = h.writable(r.offset, writeOff)
		minWritable = min(minWritable, ws[i])
		if ws[i] <= size {
			blockers = append(blockers, Blocker{Slot: i, Name: r.nameString()})
		}
	}
	if size >= minWritable {
		return nil, blockers, fmt.Errorf("%d bytes requested, %d writable: %w", size, minWritable, ErrNoSpace)
	}

	// Padding and hole hops count against the same room, so a reader that
	// only blocks once they are added is a blocker too.
	_, skip, ok := h.blackholeJumpLocked(writeOff, size, align)
	need := uint64(skip) + uint64(align) + uint64(size)
	if !ok || need >= uint64(minWritable) {
		for i := range h.hdr.readers {
			r := &h.hdr.readers[i]
			if r.inUse() && (!ok || need >= uint64(ws[i])) {
				blockers = append(blockers, Blocker{Slot: i, Name: r.nameString()})
			}
		}
		return nil, blockers, fmt.Errorf("%d bytes requested behind %d bytes of padding and black holes: %w", size, need-uint64(size), ErrNoSpace)
	}
	if skip > 0 {
		w.offset = h.advanceOffset(w.offset, skip)
		writeOff = w.offset
		h.jumpedHole = true
	}

	start := writeOff
	if align > 0 {
		start = uint32(alignUp(uint64(writeOff), uint64(align)) % uint64(h.size))
	}
	h.lastAlign = h.bufferLen(writeOff, start)
	h.lastWriteBytes = size
	w.reserved = h.lastAlign + size
	return h.view(start, size), nil, nil
}

// CommitWrite publishes size bytes of the outstanding reservation as a
// frame stamped with timestamp and returns the committed length. CommitAll
// commits the whole reservation; 0 discards it.
func (h *Handle) CommitWrite(size int, timestamp int64) (int, error) {
	if err := h.checkWriter(); err != nil {
		return 0, err
	}
	if h.lastWriteBytes == 0 {
		return 0, fmt.Errorf("commit without reservation: %w", ErrPermission)
	}
	n := uint32(size)
	switch {
	case size == CommitAll:
		n = h.lastWriteBytes
	case size < 0 || uint32(size) > h.lastWriteBytes:
		return 0, fmt.Errorf("commit of %d bytes exceeds reservation of %d: %w", size, h.lastWriteBytes, ErrInvalidParam)
	}

	g := h.lock()
	w := h.slot
	w.commits++
	if n == 0 {
		w.discards++
		h.clearReservation()
		g.unlock()
		return 0, nil
	}

	continuous := uint8(1)
	if h.hdr.dataWritten == 0 || h.jumpedHole || h.lastAlign > 0 {
		continuous = 0
	}
	h.addEntryLocked(frameEntry{
		offset:      h.advanceOffset(w.offset, h.lastAlign),
		length:      n,
		kind:        uint8(h.lastKind),
		continuous:  continuous,
		requestTime: uint32(w.requestTime / 1000),
		timestamp:   timestamp,
	})
	w.offset = h.advanceOffset(w.offset, n+h.lastAlign)
	w.bytes += uint64(n)
	h.hdr.dataWritten = 1
	h.hdr.contiBytes += uint64(n)
	if h.lastAlign > 0 {
		h.hdr.contiBytes = 0
	}
	h.clearReservation()
	atomic.AddUint32(&h.hdr.commitSeq, 1)
	g.unlock()

	if _, err := futexWake(&h.hdr.commitSeq, math.MaxInt32); err != nil {
		h.log.Debug().Err(err).Msg("commit wake failed")
	}
	return int(n), nil
}

// clearReservation drops the outstanding reservation. The lock must be
// held because the extent is published in the writer slot.
func (h *Handle) clearReservation() {
	h.slot.reserved = 0
	h.lastWriteBytes = 0
	h.lastAlign = 0
	h.jumpedHole = false
}

// WriteFrame copies p into the store as one frame.
func (h *Handle) WriteFrame(p []byte, kind FrameKind, timestamp int64) error {
	buf, err := h.AcquireWriteSpace(len(p), kind, h.cfg.WriteMode)
	if err != nil {
		return err
	}
	copy(buf, p)
	_, err = h.CommitWrite(len(p), timestamp)
	return err
}

// WriteLog appends auxiliary bytes that are not part of the media stream.
// Log data ends key frame resynchronization for the store's readers.
func (h *Handle) WriteLog(p []byte) error {
	return h.WriteFrame(p, FrameLog, 0)
}

// RelocateBlockers forcibly moves the given readers to the newest key frame,
// or to the writer's position when there is none. Frames a reader still
// holds become a black hole owned by it.
func (h *Handle) RelocateBlockers(blockers []Blocker) error {
	if err := h.checkWriter(); err != nil {
		return err
	}
	g := h.lock()
	defer g.unlock()
	h.relocateLocked(blockers)
	return nil
}

func (s *store) relocateLocked(blockers []Blocker) {
	w := &s.hdr.writer
	for _, b := range blockers {
		if b.Slot < 0 || b.Slot >= MaxReaders {
			continue
		}
		r := &s.hdr.readers[b.Slot]
		if !r.inUse() || r.nameString() != b.Name {
			continue
		}

		index, offset, waitKey := w.index, w.offset, true
		if k, ok := s.newerKeyLocked(r.index); ok {
			index, offset, waitKey = k, s.hdr.frames[k].offset, false
		}
		switch r.slotState() {
		case StateBlocked:
			r.setFlag(slotMoved, true)
		case StateHolding:
			s.protectHeldLocked(r)
			r.setFlag(slotMoved, true)
			r.state = uint32(StateBlocked)
		}
		s.log.Debug().
			Str("reader", b.Name).
			Uint32("from", r.index).
			Uint32("to", index).
			Stringer("state", r.slotState()).
			Msg("relocated blocker")
		r.moveTo(index, offset, waitKey)
		r.relocations++
	}
}

// ResetReaders moves every reader back to the start of an emptied index and
// rewinds the writer.
func (h *Handle) ResetReaders() error {
	if err := h.checkWriter(); err != nil {
		return err
	}
	g := h.lock()
	defer g.unlock()
	h.resetReadersLocked()
	h.clearReservation()
	return nil
}

// WritableSize is the largest reservation that would currently succeed
// without relocating anyone, ignoring alignment and black holes.
func (h *Handle) WritableSize() (int, error) {
	if err := h.checkWriter(); err != nil {
		return 0, err
	}
	g := h.lock()
	defer g.unlock()
	minWritable := h.size
	for i := range h.hdr.readers {
		r := &h.hdr.readers[i]
		if r.inUse() {
			minWritable = min(minWritable, h.writable(r.offset, h.slot.offset))
		}
	}
	return int(minWritable) - 1, nil
}
